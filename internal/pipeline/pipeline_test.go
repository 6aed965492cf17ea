package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"tabular-backend/internal/auth"
	"tabular-backend/internal/cache"
	"tabular-backend/internal/compute"
	"tabular-backend/internal/config"
	"tabular-backend/internal/database"
	"tabular-backend/internal/llm"
	"tabular-backend/internal/messaging"
	"tabular-backend/internal/pipeline"
	"tabular-backend/internal/storage"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testSecret = "webhook-secret"

type fakeWorkers struct {
	mu          sync.Mutex
	preprocess  []compute.PreprocessJob
	training    []compute.TrainingJob
	predictions []compute.PredictRequest
	endpoints   []string

	err          error
	trainReply   json.RawMessage
	predictReply json.RawMessage
}

func (w *fakeWorkers) SubmitPreprocess(ctx context.Context, endpoint string, job compute.PreprocessJob) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.preprocess = append(w.preprocess, job)
	w.endpoints = append(w.endpoints, endpoint)
	return w.err
}

func (w *fakeWorkers) SubmitTraining(ctx context.Context, endpoint string, job compute.TrainingJob) (json.RawMessage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.training = append(w.training, job)
	w.endpoints = append(w.endpoints, endpoint)
	return w.trainReply, w.err
}

func (w *fakeWorkers) Predict(ctx context.Context, endpoint string, req compute.PredictRequest) (json.RawMessage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.predictions = append(w.predictions, req)
	w.endpoints = append(w.endpoints, endpoint)
	return w.predictReply, w.err
}

type fakeLLM struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	reply   string
	err     error
	delay   time.Duration
}

func (f *fakeLLM) Generate(ctx context.Context, systemPrompt, prompt string, opts ...llm.GenerateOption) (string, error) {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeLLM) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// selfLocator resolves download urls the way the gateway routes do, without
// going over http.
type selfLocator struct {
	pipeline  *pipeline.Pipeline
	authority *auth.Authority
}

func (l *selfLocator) translate(err error) error {
	if errors.Is(err, pipeline.ErrNoProcessedData) || errors.Is(err, pipeline.ErrModelNotFound) || errors.Is(err, storage.ErrObjectNotFound) {
		return compute.ErrNotFound
	}
	return err
}

func (l *selfLocator) ProcessedDownloadURL(ctx context.Context, credential string, datasetId uuid.UUID) (string, error) {
	grant, err := l.authority.Verify(credential)
	if err != nil {
		return "", err
	}
	url, err := l.pipeline.GatewayProcessedDownloadURL(ctx, grant, datasetId)
	return url, l.translate(err)
}

func (l *selfLocator) ModelDownloadURL(ctx context.Context, credential string, modelId uuid.UUID) (string, error) {
	grant, err := l.authority.Verify(credential)
	if err != nil {
		return "", err
	}
	url, err := l.pipeline.GatewayModelDownloadURL(ctx, grant, modelId)
	return url, l.translate(err)
}

type testEnv struct {
	pipeline  *pipeline.Pipeline
	store     *database.Store
	storage   *storage.LocalProvider
	authority *auth.Authority
	workers   *fakeWorkers
	llm       *fakeLLM
	bus       *messaging.InMemoryBus
	cache     *cache.MemoryCache
}

func testConfig() config.Config {
	return config.Config{
		PublicBaseURL:        "http://api.test",
		WebhookSecret:        testSecret,
		CallbackTokenTTL:     time.Hour,
		PreprocessWorkerURL:  "http://preprocess.test/run",
		TrainWorkerURL:       "http://train.test/train",
		PredictWorkerURL:     "http://predict.test/predict",
		WorkerTimeout:        5 * time.Second,
		PreprocessRunTimeout: time.Hour,
		SweepInterval:        time.Minute,
		DownloadURLTTL:       15 * time.Minute,
	}
}

func createStore(t *testing.T) *database.Store {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.GetMigrator(db).Migrate())
	return database.NewStore(db)
}

func newTestEnv(t *testing.T, cfg config.Config) *testEnv {
	store := createStore(t)
	authority := auth.NewAuthority(cfg.WebhookSecret, cfg.CallbackTokenTTL, cfg.AcceptStaticSecret)

	provider, err := storage.NewLocalProvider(t.TempDir(), cfg.CallbackURL(pipeline.CallbackPrefix), authority, cfg.DownloadURLTTL)
	require.NoError(t, err)

	env := &testEnv{
		store:     store,
		storage:   provider,
		authority: authority,
		workers:   &fakeWorkers{},
		llm:       &fakeLLM{},
		bus:       messaging.NewInMemoryBus(),
		cache:     cache.NewMemoryCache(),
	}
	t.Cleanup(env.bus.Close)

	locator := &selfLocator{authority: authority}
	env.pipeline = pipeline.New(cfg, pipeline.Deps{
		Store:     store,
		Storage:   provider,
		Workers:   env.workers,
		Locator:   locator,
		LLM:       env.llm,
		Authority: authority,
		Events:    env.bus,
		Cache:     env.cache,
	})
	locator.pipeline = env.pipeline

	return env
}

func (env *testEnv) putObject(t *testing.T, contents string) string {
	storageId := uuid.NewString()
	require.NoError(t, env.storage.PutObject(context.Background(), storageId, strings.NewReader(contents)))
	return storageId
}

func (env *testEnv) createDataset(t *testing.T) database.Dataset {
	dataset := database.Dataset{
		StorageId:   env.putObject(t, "age,churned\n34,1\n"),
		Filename:    "sales.csv",
		ContentType: "text/csv",
		SizeBytes:   17,
	}
	require.NoError(t, env.store.Insert(context.Background(), &dataset))
	return dataset
}

func (env *testEnv) createProfile(t *testing.T, datasetId uuid.UUID) database.Profile {
	profile := database.Profile{DatasetId: datasetId, Report: datatypes.JSON(`{"n_rows":100,"n_cols":2,"target":"churned"}`)}
	require.NoError(t, env.store.Insert(context.Background(), &profile))
	return profile
}

func (env *testEnv) wildcard() auth.Grant {
	return auth.Grant{Wildcard: true}
}

const validPlan = `{
	"target": "churned",
	"task_type": "classification",
	"preprocessing": {"scaler": "StandardScaler"},
	"models": [{"name": "LogisticRegression", "params": {"C": 1.0}}, {"name": "RandomForestClassifier"}],
	"cv": {"cv_folds": 5, "shuffle": true, "random_state": 42},
	"scoring": "balanced_accuracy"
}`
