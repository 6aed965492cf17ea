package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"tabular-backend/internal/database"
	"tabular-backend/internal/messaging"
	"tabular-backend/internal/storage"
	"tabular-backend/pkg/api"

	"github.com/google/uuid"
)

const (
	defaultRunListLimit = 20
	maxRunListLimit     = 100
)

func (p *Pipeline) DatasetUploadURL(ctx context.Context) (storage.UploadTarget, error) {
	return p.storage.UploadURL(ctx)
}

// SaveDataset records an uploaded file. The object must already be in
// storage.
func (p *Pipeline) SaveDataset(ctx context.Context, req api.SaveDatasetRequest) (database.Dataset, error) {
	if strings.TrimSpace(req.StorageId) == "" || strings.TrimSpace(req.Filename) == "" {
		return database.Dataset{}, fmt.Errorf("%w: storageId and filename are required", ErrInvalidParams)
	}
	if req.SizeBytes < 0 {
		return database.Dataset{}, fmt.Errorf("%w: sizeBytes must not be negative", ErrInvalidParams)
	}

	if _, err := p.storage.DownloadURL(ctx, req.StorageId); err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return database.Dataset{}, fmt.Errorf("%w: no uploaded object %s", ErrInvalidParams, req.StorageId)
		}
		return database.Dataset{}, err
	}

	dataset := database.Dataset{
		StorageId:   req.StorageId,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
	}
	if err := p.store.Insert(ctx, &dataset); err != nil {
		return database.Dataset{}, err
	}

	slog.Info("saved dataset", "dataset_id", dataset.Id, "filename", dataset.Filename)
	p.publish(ctx, messaging.DatasetSaved, dataset.Id, dataset.Id, "")
	return dataset, nil
}

func (p *Pipeline) ListDatasets(ctx context.Context) ([]database.Dataset, error) {
	return database.ListDatasets(ctx, p.store)
}

func (p *Pipeline) GetDataset(ctx context.Context, datasetId uuid.UUID) (database.Dataset, error) {
	return getDataset(ctx, p.store, datasetId)
}

func (p *Pipeline) DatasetDownloadURL(ctx context.Context, datasetId uuid.UUID) (string, error) {
	dataset, err := getDataset(ctx, p.store, datasetId)
	if err != nil {
		return "", err
	}
	return p.signedDownloadURL(ctx, dataset.StorageId)
}

// ProcessedDownloadURL points at the output of the latest completed run.
func (p *Pipeline) ProcessedDownloadURL(ctx context.Context, datasetId uuid.UUID) (string, error) {
	if _, err := getDataset(ctx, p.store, datasetId); err != nil {
		return "", err
	}

	run, err := database.LatestCompletedPreprocessRun(ctx, p.store, datasetId)
	if err != nil {
		return "", err
	}
	if run == nil || !run.ProcessedStorageId.Valid {
		return "", fmt.Errorf("%w for dataset %s", ErrNoProcessedData, datasetId)
	}
	return p.signedDownloadURL(ctx, run.ProcessedStorageId.String)
}

// ListPreprocessRuns returns the newest runs first.
func (p *Pipeline) ListPreprocessRuns(ctx context.Context, datasetId uuid.UUID, limit int) ([]database.PreprocessRun, error) {
	if _, err := getDataset(ctx, p.store, datasetId); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultRunListLimit
	}
	limit = min(limit, maxRunListLimit)

	runs, err := database.ListByDataset[database.PreprocessRun](ctx, p.store, datasetId)
	if err != nil {
		return nil, err
	}
	slices.Reverse(runs)
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func latestForDataset[T any](ctx context.Context, p *Pipeline, datasetId uuid.UUID) (*T, error) {
	if _, err := getDataset(ctx, p.store, datasetId); err != nil {
		return nil, err
	}
	return database.LatestByDataset[T](ctx, p.store, datasetId)
}

// The Latest* readers return nil when the dataset has no such record yet.

func (p *Pipeline) LatestPreprocessRun(ctx context.Context, datasetId uuid.UUID) (*database.PreprocessRun, error) {
	return latestForDataset[database.PreprocessRun](ctx, p, datasetId)
}

func (p *Pipeline) LatestProfile(ctx context.Context, datasetId uuid.UUID) (*database.Profile, error) {
	return latestForDataset[database.Profile](ctx, p, datasetId)
}

func (p *Pipeline) LatestProfileSummary(ctx context.Context, datasetId uuid.UUID) (*database.ProfileSummary, error) {
	return latestForDataset[database.ProfileSummary](ctx, p, datasetId)
}

func (p *Pipeline) LatestRunCfg(ctx context.Context, datasetId uuid.UUID) (*database.RunConfig, error) {
	return latestForDataset[database.RunConfig](ctx, p, datasetId)
}

func (p *Pipeline) GetPreprocessRun(ctx context.Context, runId uuid.UUID) (database.PreprocessRun, error) {
	return getRun(ctx, p.store, runId)
}

func (p *Pipeline) RunDownloadURL(ctx context.Context, runId uuid.UUID) (string, error) {
	run, err := getRun(ctx, p.store, runId)
	if err != nil {
		return "", err
	}
	if run.Status != database.RunCompleted || !run.ProcessedStorageId.Valid {
		return "", fmt.Errorf("%w: run %s is %s", ErrNoProcessedData, runId, run.Status)
	}
	return p.signedDownloadURL(ctx, run.ProcessedStorageId.String)
}

func (p *Pipeline) ListModels(ctx context.Context, datasetId uuid.UUID) ([]database.TrainedModel, error) {
	if _, err := getDataset(ctx, p.store, datasetId); err != nil {
		return nil, err
	}
	return database.ListByDataset[database.TrainedModel](ctx, p.store, datasetId)
}

func (p *Pipeline) ModelDownloadURL(ctx context.Context, modelId uuid.UUID) (string, error) {
	model, err := getModel(ctx, p.store, modelId)
	if err != nil {
		return "", err
	}
	return p.signedDownloadURL(ctx, model.StorageId)
}
