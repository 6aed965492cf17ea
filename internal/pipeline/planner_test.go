package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"tabular-backend/internal/database"
	"tabular-backend/internal/pipeline"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRunCfgIsIdempotent(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	dataset := env.createDataset(t)
	profile := env.createProfile(t, dataset.Id)
	env.llm.reply = validPlan
	env.llm.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	results := make([]database.RunConfig, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			runCfg, err := env.pipeline.GenerateRunCfg(ctx, dataset.Id)
			assert.NoError(t, err)
			results[i] = runCfg
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, env.llm.Calls())
	for _, res := range results {
		assert.Equal(t, results[0].Id, res.Id)
	}

	runCfgs, err := database.ListByDataset[database.RunConfig](ctx, env.store, dataset.Id)
	require.NoError(t, err)
	require.Len(t, runCfgs, 1)
	assert.Equal(t, profile.Id, runCfgs[0].ProfileId)
	assert.False(t, runCfgs[0].SummaryId.Valid)

	plan, err := pipeline.DecodePlan(runCfgs[0].Cfg)
	require.NoError(t, err)
	assert.Equal(t, "churned", plan.Target)
	assert.Equal(t, pipeline.ScoringBalancedAccuracy, plan.Scoring)
	require.Len(t, plan.Models, 2)
	assert.NotNil(t, plan.Models[1].Params)

	again, err := env.pipeline.GenerateRunCfg(ctx, dataset.Id)
	require.NoError(t, err)
	assert.Equal(t, results[0].Id, again.Id)
	assert.Equal(t, 1, env.llm.Calls())
}

func TestGenerateRunCfgWithoutProfile(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	dataset := env.createDataset(t)

	_, err := env.pipeline.GenerateRunCfg(ctx, dataset.Id)
	assert.ErrorIs(t, err, pipeline.ErrNoProfile)
	assert.EqualError(t, err, "no profile found")
	assert.Equal(t, 0, env.llm.Calls())

	runCfg, err := env.pipeline.LatestRunCfg(ctx, dataset.Id)
	require.NoError(t, err)
	assert.Nil(t, runCfg)
}

func TestGenerateRunCfgKeepsUnparseableReply(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{name: "prose", reply: "Use a random forest with 100 trees."},
		{name: "truncated", reply: `{"target":"churned","task_type":"classification","models":[`},
		{name: "array", reply: `[{"name":"LogisticRegression"}]`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, testConfig())
			dataset := env.createDataset(t)
			env.createProfile(t, dataset.Id)
			env.llm.reply = tc.reply

			runCfg, err := env.pipeline.GenerateRunCfg(context.Background(), dataset.Id)
			require.NoError(t, err)

			var stored string
			require.NoError(t, json.Unmarshal(runCfg.Cfg, &stored))
			assert.Equal(t, tc.reply, stored)

			_, err = pipeline.DecodePlan(runCfg.Cfg)
			assert.ErrorIs(t, err, pipeline.ErrUnstructuredConfig)
		})
	}
}

func TestGenerateRunCfgKeepsParsedPlanWithProblems(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		scoring string
		model   string
	}{
		{
			name:    "unknown estimator",
			reply:   `{"target":"churned","task_type":"classification","models":[{"name":"XGBoost"}]}`,
			scoring: pipeline.ScoringBalancedAccuracy,
			model:   "XGBoost",
		},
		{
			name:    "scoring mismatch",
			reply:   `{"target":"churned","task_type":"classification","models":[{"name":"LogisticRegression"}],"scoring":"accuracy"}`,
			scoring: "accuracy",
			model:   "LogisticRegression",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, testConfig())
			ctx := context.Background()
			dataset := env.createDataset(t)
			env.createProfile(t, dataset.Id)
			env.llm.reply = tc.reply

			runCfg, err := env.pipeline.GenerateRunCfg(ctx, dataset.Id)
			require.NoError(t, err)

			plan, err := pipeline.DecodePlan(runCfg.Cfg)
			require.NoError(t, err)
			assert.Equal(t, "churned", plan.Target)
			assert.Equal(t, tc.scoring, plan.Scoring)
			require.Len(t, plan.Models, 1)
			assert.Equal(t, tc.model, plan.Models[0].Name)
			assert.Equal(t, 5, plan.CV.Folds)
			assert.Equal(t, 42, plan.CV.RandomState)

			// The stored plan is structured, so training can be dispatched.
			env.completeRun(t, dataset.Id)
			env.workers.trainReply = json.RawMessage(`{"ok":true}`)
			dispatch, err := env.pipeline.StartTraining(ctx, dataset.Id)
			require.NoError(t, err)
			assert.Equal(t, runCfg.Id, dispatch.RunCfgId)
			assert.Equal(t, 1, env.llm.Calls())
		})
	}
}

func TestGenerateRunCfgAcceptsFencedJSON(t *testing.T) {
	env := newTestEnv(t, testConfig())
	dataset := env.createDataset(t)
	env.createProfile(t, dataset.Id)
	env.llm.reply = "```json\n" + validPlan + "\n```"

	runCfg, err := env.pipeline.GenerateRunCfg(context.Background(), dataset.Id)
	require.NoError(t, err)

	_, err = pipeline.DecodePlan(runCfg.Cfg)
	assert.NoError(t, err)
}

func TestGenerateRunCfgUsesLatestSummary(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	dataset := env.createDataset(t)
	profile := env.createProfile(t, dataset.Id)

	older := database.ProfileSummary{DatasetId: dataset.Id, ProfileId: profile.Id, Summary: "older summary"}
	newer := database.ProfileSummary{DatasetId: dataset.Id, ProfileId: profile.Id, Summary: "target is imbalanced"}
	require.NoError(t, env.store.Insert(ctx, &older))
	require.NoError(t, env.store.Insert(ctx, &newer))

	env.llm.reply = validPlan
	runCfg, err := env.pipeline.GenerateRunCfg(ctx, dataset.Id)
	require.NoError(t, err)

	assert.Equal(t, newer.Id, runCfg.SummaryId.UUID)
	require.Len(t, env.llm.prompts, 1)
	assert.Contains(t, env.llm.prompts[0], "target is imbalanced")
	assert.NotContains(t, env.llm.prompts[0], "older summary")
}

func TestSummarizeProfile(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	dataset := env.createDataset(t)

	_, err := env.pipeline.SummarizeProfile(ctx, dataset.Id)
	assert.ErrorIs(t, err, pipeline.ErrNoProfile)

	env.createProfile(t, dataset.Id)
	latest := env.createProfile(t, dataset.Id)
	env.llm.reply = `[{"title":"Target","detail":"churned is imbalanced"}]`

	summary, err := env.pipeline.SummarizeProfile(ctx, dataset.Id)
	require.NoError(t, err)
	assert.Equal(t, latest.Id, summary.ProfileId)
	assert.Equal(t, env.llm.reply, summary.Summary)
	assert.Contains(t, env.llm.prompts[0], "JSON profile:\n")

	stored, err := env.pipeline.LatestProfileSummary(ctx, dataset.Id)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, summary.Id, stored.Id)
}

func TestPlannerWithoutLLM(t *testing.T) {
	store := createStore(t)
	p := pipeline.New(testConfig(), pipeline.Deps{Store: store})

	dataset := database.Dataset{StorageId: "obj", Filename: "sales.csv"}
	require.NoError(t, store.Insert(context.Background(), &dataset))
	profile := database.Profile{DatasetId: dataset.Id, Report: []byte(`{}`)}
	require.NoError(t, store.Insert(context.Background(), &profile))

	_, err := p.SummarizeProfile(context.Background(), dataset.Id)
	assert.ErrorIs(t, err, pipeline.ErrLLMUnavailable)
}

func TestLLMFailureIsReported(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	dataset := env.createDataset(t)
	env.createProfile(t, dataset.Id)
	env.llm.err = errors.New("status 429: rate limited")

	_, err := env.pipeline.SummarizeProfile(ctx, dataset.Id)
	assert.ErrorIs(t, err, pipeline.ErrLLMFailed)
	assert.ErrorContains(t, err, "rate limited")

	_, err = env.pipeline.GenerateRunCfg(ctx, dataset.Id)
	assert.ErrorIs(t, err, pipeline.ErrLLMFailed)

	runCfgs, err := database.ListByDataset[database.RunConfig](ctx, env.store, dataset.Id)
	require.NoError(t, err)
	assert.Empty(t, runCfgs)
	summaries, err := database.ListByDataset[database.ProfileSummary](ctx, env.store, dataset.Id)
	require.NoError(t, err)
	assert.Empty(t, summaries)
}
