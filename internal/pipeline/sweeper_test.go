package pipeline_test

import (
	"context"
	"tabular-backend/internal/database"
	"tabular-backend/internal/messaging"
	"tabular-backend/pkg/api"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepOverdueRuns(t *testing.T) {
	cfg := testConfig()
	cfg.PreprocessRunTimeout = -time.Minute
	env := newTestEnv(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dataset := env.createDataset(t)

	overdue, err := env.pipeline.StartPreprocess(ctx, dataset.Id, api.PreprocessParams{})
	require.NoError(t, err)

	events, err := env.bus.Subscribe(ctx, dataset.Id)
	require.NoError(t, err)

	count, err := env.pipeline.SweepOverdueRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	run, err := env.pipeline.GetPreprocessRun(ctx, overdue.Id)
	require.NoError(t, err)
	assert.Equal(t, database.RunFailed, run.Status)
	assert.JSONEq(t, `{"error":"timed out waiting for worker callback"}`, string(run.Summary))

	event := nextEvent(t, events)
	assert.Equal(t, messaging.PreprocessRunStatus, event.Type)
	assert.Equal(t, database.RunFailed, event.Status)

	count, err = env.pipeline.SweepOverdueRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.SweepInterval = 10 * time.Millisecond
	cfg.PreprocessRunTimeout = -time.Minute
	env := newTestEnv(t, cfg)
	dataset := env.createDataset(t)

	run, err := env.pipeline.StartPreprocess(context.Background(), dataset.Id, api.PreprocessParams{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		env.pipeline.RunSweeper(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		stored, err := env.pipeline.GetPreprocessRun(context.Background(), run.Id)
		return err == nil && stored.Status == database.RunFailed
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
