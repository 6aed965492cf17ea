package pipeline

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"tabular-backend/internal/auth"
	"tabular-backend/internal/database"
	"tabular-backend/internal/messaging"
	"tabular-backend/internal/storage"
	"tabular-backend/pkg/api"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}

func (p *Pipeline) authorizedRun(ctx context.Context, grant auth.Grant, runId uuid.UUID) (database.PreprocessRun, error) {
	run, err := getRun(ctx, p.store, runId)
	if err != nil {
		return run, err
	}
	if !grant.AllowsRun(run.DatasetId, run.Id) {
		return run, fmt.Errorf("%w: run %s", auth.ErrOutOfScope, runId)
	}
	return run, nil
}

func authorizeDataset(grant auth.Grant, datasetId uuid.UUID) error {
	if !grant.AllowsDataset(datasetId) {
		return fmt.Errorf("%w: dataset %s", auth.ErrOutOfScope, datasetId)
	}
	return nil
}

func (p *Pipeline) transitionRun(ctx context.Context, grant auth.Grant, runId uuid.UUID, status string, fields map[string]any) (database.PreprocessRun, bool, error) {
	if _, err := p.authorizedRun(ctx, grant, runId); err != nil {
		return database.PreprocessRun{}, false, err
	}

	run, applied, err := database.TransitionPreprocessRun(ctx, p.store, runId, status, fields)
	if err != nil {
		return run, false, err
	}
	if applied {
		slog.Info("preprocess run status changed", "run_id", runId, "status", status)
		p.publish(ctx, messaging.PreprocessRunStatus, run.DatasetId, run.Id, run.Status)
	}
	return run, applied, nil
}

func (p *Pipeline) MarkRunning(ctx context.Context, grant auth.Grant, runId uuid.UUID) (database.PreprocessRun, bool, error) {
	return p.transitionRun(ctx, grant, runId, database.RunRunning, nil)
}

func (p *Pipeline) CompleteRun(ctx context.Context, grant auth.Grant, req api.CompleteRunRequest) (database.PreprocessRun, bool, error) {
	if strings.TrimSpace(req.ProcessedStorageId) == "" || strings.TrimSpace(req.ProcessedFilename) == "" {
		return database.PreprocessRun{}, false, fmt.Errorf("%w: processedStorageId and processedFilename are required", ErrInvalidPayload)
	}
	if !isJSONObject(req.Summary) {
		return database.PreprocessRun{}, false, fmt.Errorf("%w: summary must be a json object", ErrInvalidPayload)
	}

	return p.transitionRun(ctx, grant, req.RunId, database.RunCompleted, map[string]any{
		"processed_storage_id": sql.NullString{String: req.ProcessedStorageId, Valid: true},
		"processed_filename":   sql.NullString{String: req.ProcessedFilename, Valid: true},
		"summary":              datatypes.JSON(bytes.TrimSpace(req.Summary)),
	})
}

func (p *Pipeline) FailRun(ctx context.Context, grant auth.Grant, req api.FailRunRequest) (database.PreprocessRun, bool, error) {
	message := strings.TrimSpace(req.Error)
	if message == "" {
		message = "worker reported failure"
	}
	return p.transitionRun(ctx, grant, req.RunId, database.RunFailed, map[string]any{
		"summary": errorSummary(message),
	})
}

// SaveProfile stores a profile report. The run link is advisory and dropped
// if it points at a run of another dataset.
func (p *Pipeline) SaveProfile(ctx context.Context, grant auth.Grant, req api.SaveProfileRequest) (database.Profile, error) {
	if err := authorizeDataset(grant, req.DatasetId); err != nil {
		return database.Profile{}, err
	}
	if !isJSONObject(req.Report) {
		return database.Profile{}, fmt.Errorf("%w: report must be a json object", ErrInvalidPayload)
	}
	if _, err := getDataset(ctx, p.store, req.DatasetId); err != nil {
		return database.Profile{}, err
	}

	profile := database.Profile{DatasetId: req.DatasetId, Report: datatypes.JSON(bytes.TrimSpace(req.Report))}

	if req.RunId != nil {
		run, err := getRun(ctx, p.store, *req.RunId)
		switch {
		case err != nil:
			slog.Warn("dropping run link from profile", "dataset_id", req.DatasetId, "run_id", *req.RunId, "error", err)
		case run.DatasetId != req.DatasetId:
			slog.Warn("dropping run link from profile, run belongs to another dataset", "dataset_id", req.DatasetId, "run_id", run.Id, "run_dataset_id", run.DatasetId)
		default:
			profile.RunId = uuid.NullUUID{UUID: run.Id, Valid: true}
		}
	}

	if err := p.store.Insert(ctx, &profile); err != nil {
		return database.Profile{}, err
	}

	p.publish(ctx, messaging.ProfileSaved, profile.DatasetId, profile.Id, "")
	return profile, nil
}

func (p *Pipeline) SaveModel(ctx context.Context, grant auth.Grant, req api.SaveModelRequest) (database.TrainedModel, error) {
	if err := authorizeDataset(grant, req.DatasetId); err != nil {
		return database.TrainedModel{}, err
	}
	if strings.TrimSpace(req.ModelName) == "" || strings.TrimSpace(req.StorageId) == "" {
		return database.TrainedModel{}, fmt.Errorf("%w: modelName and storageId are required", ErrInvalidPayload)
	}

	var metrics map[string]float64
	if !isJSONObject(req.Metrics) || json.Unmarshal(req.Metrics, &metrics) != nil {
		return database.TrainedModel{}, fmt.Errorf("%w: metrics must be an object of numbers", ErrInvalidPayload)
	}

	if _, err := getDataset(ctx, p.store, req.DatasetId); err != nil {
		return database.TrainedModel{}, err
	}

	model := database.TrainedModel{
		DatasetId: req.DatasetId,
		ModelName: req.ModelName,
		StorageId: req.StorageId,
	}

	if req.RunCfgId != nil {
		runCfg, err := database.Get[database.RunConfig](ctx, p.store, *req.RunCfgId)
		if err != nil || runCfg.DatasetId != req.DatasetId {
			return database.TrainedModel{}, fmt.Errorf("%w: run config %s does not belong to dataset %s", ErrInvalidPayload, *req.RunCfgId, req.DatasetId)
		}
		model.RunCfgId = uuid.NullUUID{UUID: runCfg.Id, Valid: true}
	}

	encoded, err := json.Marshal(metrics)
	if err != nil {
		return database.TrainedModel{}, fmt.Errorf("error encoding metrics: %w", err)
	}
	model.Metrics = datatypes.JSON(encoded)

	if err := p.store.Insert(ctx, &model); err != nil {
		return database.TrainedModel{}, err
	}

	slog.Info("saved trained model", "dataset_id", model.DatasetId, "model_id", model.Id, "model_name", model.ModelName)
	p.publish(ctx, messaging.ModelSaved, model.DatasetId, model.Id, "")
	return model, nil
}

// UploadURL is open to any valid credential; the object is only linked to a
// dataset by a later callback.
func (p *Pipeline) UploadURL(ctx context.Context) (storage.UploadTarget, error) {
	return p.storage.UploadURL(ctx)
}

func (p *Pipeline) GatewayDatasetDownloadURL(ctx context.Context, grant auth.Grant, datasetId uuid.UUID) (string, error) {
	if err := authorizeDataset(grant, datasetId); err != nil {
		return "", err
	}
	return p.DatasetDownloadURL(ctx, datasetId)
}

func (p *Pipeline) GatewayProcessedDownloadURL(ctx context.Context, grant auth.Grant, datasetId uuid.UUID) (string, error) {
	if err := authorizeDataset(grant, datasetId); err != nil {
		return "", err
	}
	return p.ProcessedDownloadURL(ctx, datasetId)
}

func (p *Pipeline) GatewayLatestRunCfg(ctx context.Context, grant auth.Grant, datasetId uuid.UUID) (database.RunConfig, error) {
	if err := authorizeDataset(grant, datasetId); err != nil {
		return database.RunConfig{}, err
	}
	runCfg, err := database.LatestByDataset[database.RunConfig](ctx, p.store, datasetId)
	if err != nil {
		return database.RunConfig{}, err
	}
	if runCfg == nil {
		return database.RunConfig{}, fmt.Errorf("%w for dataset %s", ErrRunCfgNotFound, datasetId)
	}
	return *runCfg, nil
}

func (p *Pipeline) GatewayModelDownloadURL(ctx context.Context, grant auth.Grant, modelId uuid.UUID) (string, error) {
	model, err := getModel(ctx, p.store, modelId)
	if err != nil {
		return "", err
	}
	if err := authorizeDataset(grant, model.DatasetId); err != nil {
		return "", err
	}
	return p.signedDownloadURL(ctx, model.StorageId)
}
