package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type UploadURLResponse struct {
	URL       string `json:"url"`
	Method    string `json:"method"`
	StorageId string `json:"storageId"`
}

type DownloadURLResponse struct {
	URL string `json:"url"`
}

type SaveDatasetRequest struct {
	StorageId   string `json:"storageId"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
}

type Dataset struct {
	Id          uuid.UUID `json:"id"`
	StorageId   string    `json:"storageId"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// PreprocessParams are sent to the preprocess worker as given here, after
// defaults are applied.
type PreprocessParams struct {
	Target   *string `json:"target"`
	IdColumn *string `json:"idColumn"`
	TaskType string  `json:"taskType"`
	Missing  string  `json:"missing"`
	TestSize float64 `json:"testSize"`
}

type StartPreprocessResponse struct {
	RunId uuid.UUID `json:"runId"`
}

type PreprocessRun struct {
	Id                 uuid.UUID       `json:"id"`
	DatasetId          uuid.UUID       `json:"datasetId"`
	Status             string          `json:"status"`
	Params             json.RawMessage `json:"params"`
	ProcessedStorageId *string         `json:"processedStorageId,omitempty"`
	ProcessedFilename  *string         `json:"processedFilename,omitempty"`
	Summary            json.RawMessage `json:"summary,omitempty"`
	Deadline           *time.Time      `json:"deadline,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

type ListPreprocessRunsParams struct {
	Limit int `schema:"limit"`
}

type Profile struct {
	Id        uuid.UUID       `json:"id"`
	DatasetId uuid.UUID       `json:"datasetId"`
	RunId     *uuid.UUID      `json:"runId,omitempty"`
	Report    json.RawMessage `json:"report"`
	CreatedAt time.Time       `json:"createdAt"`
}

type ProfileSummary struct {
	Id        uuid.UUID `json:"id"`
	DatasetId uuid.UUID `json:"datasetId"`
	ProfileId uuid.UUID `json:"profileId"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"createdAt"`
}

type SummarizeProfileResponse struct {
	SummaryId uuid.UUID `json:"summaryId"`
	Summary   string    `json:"summary"`
}

type RunConfig struct {
	Id        uuid.UUID       `json:"id"`
	DatasetId uuid.UUID       `json:"datasetId"`
	ProfileId uuid.UUID       `json:"profileId"`
	SummaryId *uuid.UUID      `json:"summaryId,omitempty"`
	Cfg       json.RawMessage `json:"cfg"`
	CreatedAt time.Time       `json:"createdAt"`
}

type GenerateRunConfigResponse struct {
	RunCfgId uuid.UUID       `json:"runCfgId"`
	Cfg      json.RawMessage `json:"cfg"`
}

type TrainResponse struct {
	DatasetId uuid.UUID       `json:"datasetId"`
	RunCfgId  uuid.UUID       `json:"runCfgId"`
	Worker    json.RawMessage `json:"worker"`
}

type TrainedModel struct {
	Id        uuid.UUID          `json:"id"`
	DatasetId uuid.UUID          `json:"datasetId"`
	RunCfgId  *uuid.UUID         `json:"runCfgId,omitempty"`
	ModelName string             `json:"modelName"`
	StorageId string             `json:"storageId"`
	Metrics   map[string]float64 `json:"metrics"`
	CreatedAt time.Time          `json:"createdAt"`
}

// Callback payloads sent by workers.

type RunCallbackRequest struct {
	RunId uuid.UUID `json:"runId"`
}

type CompleteRunRequest struct {
	RunId              uuid.UUID       `json:"runId"`
	ProcessedStorageId string          `json:"processedStorageId"`
	ProcessedFilename  string          `json:"processedFilename"`
	Summary            json.RawMessage `json:"summary"`
}

type FailRunRequest struct {
	RunId uuid.UUID `json:"runId"`
	Error string    `json:"error"`
}

type SaveProfileRequest struct {
	DatasetId uuid.UUID       `json:"datasetId"`
	Report    json.RawMessage `json:"report"`
	RunId     *uuid.UUID      `json:"runId,omitempty"`
}

type DatasetCallbackRequest struct {
	DatasetId uuid.UUID `json:"datasetId"`
}

type SaveModelRequest struct {
	DatasetId uuid.UUID       `json:"datasetId"`
	RunCfgId  *uuid.UUID      `json:"runCfgId,omitempty"`
	ModelName string          `json:"modelName"`
	StorageId string          `json:"storageId"`
	Metrics   json.RawMessage `json:"metrics"`
}

type ModelCallbackRequest struct {
	ModelId uuid.UUID `json:"modelId"`
}

type AckResponse struct {
	Ok      bool       `json:"ok"`
	Applied *bool      `json:"applied,omitempty"`
	Id      *uuid.UUID `json:"id,omitempty"`
}

type StoredObjectResponse struct {
	StorageId string `json:"storageId"`
}
