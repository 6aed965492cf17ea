package pipeline

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"tabular-backend/internal/compute"
	"tabular-backend/internal/database"
	"tabular-backend/internal/messaging"
	"tabular-backend/pkg/api"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

func errorSummary(message string) datatypes.JSON {
	data, _ := json.Marshal(map[string]string{"error": message})
	return datatypes.JSON(data)
}

func (p *Pipeline) preprocessCallbacks() compute.Callbacks {
	return compute.Callbacks{
		Running:     p.callbackURL("/preprocess/running"),
		Complete:    p.callbackURL("/preprocess/complete"),
		Fail:        p.callbackURL("/preprocess/fail"),
		SaveProfile: p.callbackURL("/profile/save"),
		UploadURL:   p.callbackURL("/storage/upload-url"),
		DownloadURL: p.callbackURL("/dataset/download-url"),
	}
}

// StartPreprocess records a pending run and hands it to the preprocess worker.
// If the worker rejects the job the run is failed before returning. When the
// worker cannot be reached or does not answer in time the run stays open.
func (p *Pipeline) StartPreprocess(ctx context.Context, datasetId uuid.UUID, params api.PreprocessParams) (database.PreprocessRun, error) {
	if err := p.cfg.RequirePreprocess(); err != nil {
		return database.PreprocessRun{}, err
	}

	params, err := normalizeParams(params)
	if err != nil {
		return database.PreprocessRun{}, err
	}

	if _, err := getDataset(ctx, p.store, datasetId); err != nil {
		return database.PreprocessRun{}, err
	}

	encodedParams, err := json.Marshal(params)
	if err != nil {
		return database.PreprocessRun{}, fmt.Errorf("error encoding preprocess params: %w", err)
	}

	now := p.store.Now()
	run := database.PreprocessRun{
		Id:        uuid.New(),
		DatasetId: datasetId,
		Status:    database.RunPending,
		Params:    datatypes.JSON(encodedParams),
		Deadline:  sql.NullTime{Time: now.Add(p.cfg.PreprocessRunTimeout), Valid: true},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.store.Insert(ctx, &run); err != nil {
		slog.Error("error creating preprocess run", "dataset_id", datasetId, "error", err)
		return database.PreprocessRun{}, err
	}
	p.publish(ctx, messaging.PreprocessRunStatus, datasetId, run.Id, run.Status)

	token, _, err := p.authority.IssueRunToken(datasetId, run.Id)
	if err != nil {
		return run, p.failDispatch(ctx, run, err)
	}

	job := compute.PreprocessJob{
		RunId:     run.Id,
		DatasetId: datasetId,
		Params:    params,
		Callbacks: p.preprocessCallbacks(),
		Secret:    token,
	}

	if err := p.workers.SubmitPreprocess(ctx, p.cfg.PreprocessWorkerURL, job); err != nil {
		var upstream *compute.UpstreamError
		if errors.As(err, &upstream) && !upstream.Rejected() {
			// The worker may still be running the job and report back later; the
			// sweeper fails the run if its deadline passes first.
			slog.Warn("no response from preprocess worker, leaving run open", "dataset_id", datasetId, "run_id", run.Id, "deadline", run.Deadline.Time, "error", err)
			return run, nil
		}
		return run, p.failDispatch(ctx, run, err)
	}

	slog.Info("submitted preprocess job", "dataset_id", datasetId, "run_id", run.Id)
	return run, nil
}

func (p *Pipeline) failDispatch(ctx context.Context, run database.PreprocessRun, cause error) error {
	slog.Error("preprocess dispatch failed", "run_id", run.Id, "error", cause)

	// The request context may already be cancelled; the failure still has to land.
	failed, applied, err := database.TransitionPreprocessRun(context.WithoutCancel(ctx), p.store, run.Id, database.RunFailed, map[string]any{
		"summary": errorSummary(cause.Error()),
	})
	if err != nil {
		slog.Error("error failing preprocess run after dispatch error", "run_id", run.Id, "error", err)
	} else if applied {
		p.publish(ctx, messaging.PreprocessRunStatus, failed.DatasetId, failed.Id, failed.Status)
	}
	return cause
}

type TrainingDispatch struct {
	DatasetId uuid.UUID
	RunCfgId  uuid.UUID
	Worker    json.RawMessage
}

// StartTraining sends the latest run configuration and the processed data URL
// to the train worker and returns the worker's reply.
func (p *Pipeline) StartTraining(ctx context.Context, datasetId uuid.UUID) (TrainingDispatch, error) {
	if err := p.cfg.RequireTraining(); err != nil {
		return TrainingDispatch{}, err
	}

	if _, err := getDataset(ctx, p.store, datasetId); err != nil {
		return TrainingDispatch{}, err
	}

	runCfg, err := database.LatestByDataset[database.RunConfig](ctx, p.store, datasetId)
	if err != nil {
		return TrainingDispatch{}, err
	}
	if runCfg == nil {
		return TrainingDispatch{}, ErrNoRunConfig
	}

	if _, err := DecodePlan(runCfg.Cfg); err != nil {
		return TrainingDispatch{}, err
	}

	token, _, err := p.authority.IssueDatasetToken(datasetId)
	if err != nil {
		return TrainingDispatch{}, err
	}

	csvURL, err := p.locator.ProcessedDownloadURL(ctx, token, datasetId)
	if err != nil {
		if errors.Is(err, compute.ErrNotFound) {
			return TrainingDispatch{}, fmt.Errorf("%w for dataset %s", ErrNoProcessedData, datasetId)
		}
		return TrainingDispatch{}, err
	}

	job := compute.TrainingJob{
		DatasetId: datasetId,
		RunCfgId:  runCfg.Id,
		CsvURL:    csvURL,
		Cfg:       json.RawMessage(runCfg.Cfg),
		Secret:    token,
		Callbacks: compute.TrainingCallbacks{
			UploadURL: p.callbackURL("/storage/upload-url"),
			SaveModel: p.callbackURL("/models/save"),
		},
	}

	res, err := p.workers.SubmitTraining(ctx, p.cfg.TrainWorkerURL, job)
	if err != nil {
		return TrainingDispatch{}, err
	}

	slog.Info("training finished on worker", "dataset_id", datasetId, "run_cfg_id", runCfg.Id)
	return TrainingDispatch{DatasetId: datasetId, RunCfgId: runCfg.Id, Worker: res}, nil
}

// batchRows accepts either a single JSON object or an array of rows.
func batchRows(input json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(input)
	switch {
	case len(trimmed) > 0 && trimmed[0] == '{':
		if !json.Valid(trimmed) {
			return nil, fmt.Errorf("%w: input is not valid json", ErrInvalidParams)
		}
		return []json.RawMessage{json.RawMessage(trimmed)}, nil
	case len(trimmed) > 0 && trimmed[0] == '[':
		var rows []json.RawMessage
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, fmt.Errorf("%w: input is not valid json", ErrInvalidParams)
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("%w: input must be an object or an array of objects", ErrInvalidParams)
	}
}

// Predict runs a stored model on the given rows. Nothing is persisted and the
// worker's response is returned as is.
func (p *Pipeline) Predict(ctx context.Context, modelId uuid.UUID, input json.RawMessage) (json.RawMessage, error) {
	if err := p.cfg.RequirePrediction(); err != nil {
		return nil, err
	}

	rows, err := batchRows(input)
	if err != nil {
		return nil, err
	}

	model, err := getModel(ctx, p.store, modelId)
	if err != nil {
		return nil, err
	}

	token, _, err := p.authority.IssueDatasetToken(model.DatasetId)
	if err != nil {
		return nil, err
	}

	modelURL, err := p.locator.ModelDownloadURL(ctx, token, modelId)
	if err != nil {
		if errors.Is(err, compute.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, modelId)
		}
		return nil, err
	}

	return p.workers.Predict(ctx, p.cfg.PredictWorkerURL, compute.PredictRequest{ModelURL: modelURL, X: rows})
}
