package compute

import (
	"encoding/json"
	"tabular-backend/pkg/api"

	"github.com/google/uuid"
)

// Callbacks are the absolute gateway URLs a preprocess worker reports to.
type Callbacks struct {
	Running     string `json:"running"`
	Complete    string `json:"complete"`
	Fail        string `json:"fail"`
	SaveProfile string `json:"saveProfile"`
	UploadURL   string `json:"uploadUrl"`
	DownloadURL string `json:"downloadUrl"`
}

type TrainingCallbacks struct {
	UploadURL string `json:"uploadUrl"`
	SaveModel string `json:"saveModel"`
}

type PreprocessJob struct {
	RunId     uuid.UUID            `json:"runId"`
	DatasetId uuid.UUID            `json:"datasetId"`
	Params    api.PreprocessParams `json:"params"`
	Callbacks Callbacks            `json:"callbacks"`
	Secret    string               `json:"secret"`
}

type TrainingJob struct {
	DatasetId uuid.UUID         `json:"datasetId"`
	RunCfgId  uuid.UUID         `json:"runCfgId"`
	CsvURL    string            `json:"csvUrl"`
	Cfg       json.RawMessage   `json:"cfg"`
	Secret    string            `json:"secret"`
	Callbacks TrainingCallbacks `json:"callbacks"`
}

type PredictRequest struct {
	ModelURL string            `json:"modelUrl"`
	X        []json.RawMessage `json:"X"`
}
