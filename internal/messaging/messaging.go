package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	EventsExchange  = "pipeline_events"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5

	subscriberBuffer = 32
)

const (
	DatasetSaved        = "dataset.saved"
	PreprocessRunStatus = "preprocess_run.status"
	ProfileSaved        = "profile.saved"
	ProfileSummarySaved = "profile_summary.saved"
	RunConfigSaved      = "run_config.saved"
	ModelSaved          = "model.saved"
)

// Event notifies subscribers that a record for a dataset was written. It
// carries ids only; readers fetch the record itself from the store.
type Event struct {
	Type      string    `json:"type"`
	DatasetId uuid.UUID `json:"datasetId"`
	RecordId  uuid.UUID `json:"recordId"`
	Status    string    `json:"status,omitempty"`
	Time      time.Time `json:"time"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error

	Close()
}

type Subscriber interface {
	// Subscribe delivers events for one dataset until ctx is done, then closes
	// the channel. Slow subscribers may miss events.
	Subscribe(ctx context.Context, datasetId uuid.UUID) (<-chan Event, error)
}

type Bus interface {
	Publisher
	Subscriber
}
