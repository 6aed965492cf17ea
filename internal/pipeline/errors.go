package pipeline

import "errors"

var (
	ErrDatasetNotFound = errors.New("dataset not found")
	ErrRunNotFound     = errors.New("preprocess run not found")
	ErrModelNotFound   = errors.New("model not found")
	ErrRunCfgNotFound  = errors.New("run configuration not found")

	ErrNoProfile       = errors.New("no profile found")
	ErrNoRunConfig     = errors.New("no configuration found")
	ErrNoProcessedData = errors.New("no processed data found")

	ErrInvalidParams      = errors.New("invalid parameters")
	ErrInvalidPayload     = errors.New("invalid callback payload")
	ErrUnstructuredConfig = errors.New("run configuration is not a structured training plan")

	ErrLLMUnavailable = errors.New("llm is not configured")
	ErrLLMFailed      = errors.New("llm request failed")
)
