package api

import (
	"encoding/json"
	"log/slog"
	"tabular-backend/internal/database"
	"tabular-backend/pkg/api"

	"github.com/google/uuid"
)

func nullableUUID(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	return &id.UUID
}

func convertDataset(d database.Dataset) api.Dataset {
	return api.Dataset{
		Id:          d.Id,
		StorageId:   d.StorageId,
		Filename:    d.Filename,
		ContentType: d.ContentType,
		SizeBytes:   d.SizeBytes,
		UploadedAt:  d.UploadedAt,
	}
}

func convertDatasets(ds []database.Dataset) []api.Dataset {
	datasets := make([]api.Dataset, 0, len(ds))
	for _, d := range ds {
		datasets = append(datasets, convertDataset(d))
	}
	return datasets
}

func convertRun(r database.PreprocessRun) api.PreprocessRun {
	run := api.PreprocessRun{
		Id:        r.Id,
		DatasetId: r.DatasetId,
		Status:    r.Status,
		Params:    json.RawMessage(r.Params),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.ProcessedStorageId.Valid {
		run.ProcessedStorageId = &r.ProcessedStorageId.String
	}
	if r.ProcessedFilename.Valid {
		run.ProcessedFilename = &r.ProcessedFilename.String
	}
	if len(r.Summary) > 0 {
		run.Summary = json.RawMessage(r.Summary)
	}
	if r.Deadline.Valid {
		run.Deadline = &r.Deadline.Time
	}
	return run
}

func convertRuns(rs []database.PreprocessRun) []api.PreprocessRun {
	runs := make([]api.PreprocessRun, 0, len(rs))
	for _, r := range rs {
		runs = append(runs, convertRun(r))
	}
	return runs
}

func convertProfile(p database.Profile) api.Profile {
	return api.Profile{
		Id:        p.Id,
		DatasetId: p.DatasetId,
		RunId:     nullableUUID(p.RunId),
		Report:    json.RawMessage(p.Report),
		CreatedAt: p.CreatedAt,
	}
}

func convertSummary(s database.ProfileSummary) api.ProfileSummary {
	return api.ProfileSummary{
		Id:        s.Id,
		DatasetId: s.DatasetId,
		ProfileId: s.ProfileId,
		Summary:   s.Summary,
		CreatedAt: s.CreatedAt,
	}
}

func convertRunConfig(c database.RunConfig) api.RunConfig {
	return api.RunConfig{
		Id:        c.Id,
		DatasetId: c.DatasetId,
		ProfileId: c.ProfileId,
		SummaryId: nullableUUID(c.SummaryId),
		Cfg:       json.RawMessage(c.Cfg),
		CreatedAt: c.CreatedAt,
	}
}

func convertModel(m database.TrainedModel) api.TrainedModel {
	var metrics map[string]float64
	if err := json.Unmarshal(m.Metrics, &metrics); err != nil {
		slog.Error("error parsing stored model metrics", "model_id", m.Id, "error", err)
	}
	return api.TrainedModel{
		Id:        m.Id,
		DatasetId: m.DatasetId,
		RunCfgId:  nullableUUID(m.RunCfgId),
		ModelName: m.ModelName,
		StorageId: m.StorageId,
		Metrics:   metrics,
		CreatedAt: m.CreatedAt,
	}
}

func convertModels(ms []database.TrainedModel) []api.TrainedModel {
	models := make([]api.TrainedModel, 0, len(ms))
	for _, m := range ms {
		models = append(models, convertModel(m))
	}
	return models
}
