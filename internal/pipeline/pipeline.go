package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"tabular-backend/internal/auth"
	"tabular-backend/internal/cache"
	"tabular-backend/internal/compute"
	"tabular-backend/internal/config"
	"tabular-backend/internal/core/utils"
	"tabular-backend/internal/database"
	"tabular-backend/internal/llm"
	"tabular-backend/internal/messaging"
	"tabular-backend/internal/storage"
	"time"

	"github.com/google/uuid"
)

// CallbackPrefix is where the gateway routes are mounted, relative to
// PUBLIC_BASE_URL.
const CallbackPrefix = "/api/v1/webhooks"

type Workers interface {
	SubmitPreprocess(ctx context.Context, endpoint string, job compute.PreprocessJob) error
	SubmitTraining(ctx context.Context, endpoint string, job compute.TrainingJob) (json.RawMessage, error)
	Predict(ctx context.Context, endpoint string, req compute.PredictRequest) (json.RawMessage, error)
}

// Locator resolves download URLs through the gateway routes.
type Locator interface {
	ProcessedDownloadURL(ctx context.Context, credential string, datasetId uuid.UUID) (string, error)
	ModelDownloadURL(ctx context.Context, credential string, modelId uuid.UUID) (string, error)
}

type Deps struct {
	Store     *database.Store
	Storage   storage.Provider
	Workers   Workers
	Locator   Locator
	LLM       llm.LLM
	Authority *auth.Authority

	// Optional.
	Events messaging.Publisher
	Cache  cache.Cache
}

type Pipeline struct {
	cfg       config.Config
	store     *database.Store
	storage   storage.Provider
	workers   Workers
	locator   Locator
	llm       llm.LLM
	authority *auth.Authority
	events    messaging.Publisher
	cache     cache.Cache

	planLocks *utils.MutexMap[uuid.UUID]
}

func New(cfg config.Config, deps Deps) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     deps.Store,
		storage:   deps.Storage,
		workers:   deps.Workers,
		locator:   deps.Locator,
		llm:       deps.LLM,
		authority: deps.Authority,
		events:    deps.Events,
		cache:     deps.Cache,
		planLocks: utils.NewMutexMap[uuid.UUID](),
	}
}

func (p *Pipeline) Config() config.Config {
	return p.cfg
}

// publish is best effort. A lost event only delays a subscriber until its
// next poll.
func (p *Pipeline) publish(ctx context.Context, eventType string, datasetId, recordId uuid.UUID, status string) {
	if p.events == nil {
		return
	}
	event := messaging.Event{
		Type:      eventType,
		DatasetId: datasetId,
		RecordId:  recordId,
		Status:    status,
		Time:      time.Now().UTC(),
	}
	if err := p.events.Publish(ctx, event); err != nil {
		slog.Warn("error publishing pipeline event", "type", eventType, "dataset_id", datasetId, "record_id", recordId, "error", err)
	}
}

func (p *Pipeline) callbackURL(route string) string {
	return p.cfg.CallbackURL(CallbackPrefix + route)
}

// signedDownloadURL caches URLs for half their lifetime so a cached URL is
// never handed out close to expiry.
func (p *Pipeline) signedDownloadURL(ctx context.Context, storageId string) (string, error) {
	key := cache.DownloadURLKey(storageId)

	if p.cache != nil {
		cached, found, err := p.cache.Get(ctx, key)
		if err != nil {
			slog.Warn("error reading download url cache", "storage_id", storageId, "error", err)
		} else if found {
			return string(cached), nil
		}
	}

	url, err := p.storage.DownloadURL(ctx, storageId)
	if err != nil {
		return "", err
	}

	if p.cache != nil && p.cfg.DownloadURLTTL > 0 {
		if err := p.cache.Set(ctx, key, []byte(url), p.cfg.DownloadURLTTL/2); err != nil {
			slog.Warn("error caching download url", "storage_id", storageId, "error", err)
		}
	}

	return url, nil
}

func getDataset(ctx context.Context, store *database.Store, datasetId uuid.UUID) (database.Dataset, error) {
	dataset, err := database.Get[database.Dataset](ctx, store, datasetId)
	if errors.Is(err, database.ErrNotFound) {
		return dataset, fmt.Errorf("%w: %s", ErrDatasetNotFound, datasetId)
	}
	return dataset, err
}

func getModel(ctx context.Context, store *database.Store, modelId uuid.UUID) (database.TrainedModel, error) {
	model, err := database.Get[database.TrainedModel](ctx, store, modelId)
	if errors.Is(err, database.ErrNotFound) {
		return model, fmt.Errorf("%w: %s", ErrModelNotFound, modelId)
	}
	return model, err
}

func getRun(ctx context.Context, store *database.Store, runId uuid.UUID) (database.PreprocessRun, error) {
	run, err := database.Get[database.PreprocessRun](ctx, store, runId)
	if errors.Is(err, database.ErrNotFound) {
		return run, fmt.Errorf("%w: %s", ErrRunNotFound, runId)
	}
	return run, err
}
