package integrationtests

import (
	"context"
	"database/sql"
	"sync"
	"tabular-backend/internal/database"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestPostgresStore(t *testing.T) {
	skipShort(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	store := createStore(t, ctx)

	dataset := database.Dataset{StorageId: uuid.NewString(), Filename: "sales.csv", ContentType: "text/csv", SizeBytes: 64}
	require.NoError(t, store.Insert(ctx, &dataset))

	t.Run("jsonb round trip", func(t *testing.T) {
		profile := database.Profile{DatasetId: dataset.Id, Report: datatypes.JSON(`{"n_rows": 3, "columns": {"age": {"mean": 37.3}}}`)}
		require.NoError(t, store.Insert(ctx, &profile))

		loaded, err := database.Get[database.Profile](ctx, store, profile.Id)
		require.NoError(t, err)
		assert.JSONEq(t, `{"n_rows":3,"columns":{"age":{"mean":37.3}}}`, string(loaded.Report))
	})

	t.Run("string configs are stored as json strings", func(t *testing.T) {
		profile, err := database.LatestByDataset[database.Profile](ctx, store, dataset.Id)
		require.NoError(t, err)
		require.NotNil(t, profile)

		runCfg := database.RunConfig{DatasetId: dataset.Id, ProfileId: profile.Id, Cfg: datatypes.JSON(`"not json at all"`)}
		require.NoError(t, store.Insert(ctx, &runCfg))

		latest, err := database.LatestByDataset[database.RunConfig](ctx, store, dataset.Id)
		require.NoError(t, err)
		assert.JSONEq(t, `"not json at all"`, string(latest.Cfg))
	})

	t.Run("concurrent transitions apply once", func(t *testing.T) {
		run := database.PreprocessRun{DatasetId: dataset.Id, Status: database.RunPending, Params: datatypes.JSON(`{}`)}
		require.NoError(t, store.Insert(ctx, &run))

		var wg sync.WaitGroup
		var mu sync.Mutex
		applied := 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := database.TransitionPreprocessRun(ctx, store, run.Id, database.RunCompleted, map[string]any{
					"processed_storage_id": sql.NullString{String: "processed", Valid: true},
				})
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					applied++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, applied)
		latest, err := database.LatestCompletedPreprocessRun(ctx, store, dataset.Id)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, run.Id, latest.Id)
	})

	t.Run("overdue runs fail", func(t *testing.T) {
		now := store.Now()
		overdue := database.PreprocessRun{DatasetId: dataset.Id, Status: database.RunRunning, Params: datatypes.JSON(`{}`), Deadline: sql.NullTime{Time: now.Add(-time.Minute), Valid: true}}
		require.NoError(t, store.Insert(ctx, &overdue))

		failed, err := database.FailOverdueRuns(ctx, store, store.Now(), datatypes.JSON(`{"error":"timed out"}`))
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, overdue.Id, failed[0].Id)
		assert.Equal(t, database.RunFailed, failed[0].Status)
	})
}
