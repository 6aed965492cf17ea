package api

import (
	"errors"
	"net/http"
	"tabular-backend/internal/auth"
	"tabular-backend/internal/compute"
	"tabular-backend/internal/config"
	"tabular-backend/internal/database"
	"tabular-backend/internal/pipeline"
	"tabular-backend/internal/storage"
)

var statusForError = []struct {
	code int
	errs []error
}{
	{http.StatusInternalServerError, []error{config.ErrMissingConfig, pipeline.ErrLLMUnavailable}},
	{http.StatusUnauthorized, []error{auth.ErrInvalidCredential}},
	{http.StatusForbidden, []error{auth.ErrOutOfScope}},
	{http.StatusNotFound, []error{
		pipeline.ErrDatasetNotFound,
		pipeline.ErrRunNotFound,
		pipeline.ErrModelNotFound,
		pipeline.ErrRunCfgNotFound,
		storage.ErrObjectNotFound,
		database.ErrNotFound,
	}},
	{http.StatusConflict, []error{
		pipeline.ErrNoProfile,
		pipeline.ErrNoRunConfig,
		pipeline.ErrNoProcessedData,
		database.ErrInvalidTransition,
	}},
	{http.StatusBadRequest, []error{pipeline.ErrInvalidParams}},
	{http.StatusUnprocessableEntity, []error{pipeline.ErrUnstructuredConfig, pipeline.ErrInvalidPayload}},
}

// toCodedError attaches an http status to errors coming out of the pipeline.
// Errors that already carry a code are returned unchanged.
func toCodedError(err error) error {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return err
	}

	var upstream *compute.UpstreamError
	if errors.As(err, &upstream) || errors.Is(err, pipeline.ErrLLMFailed) {
		return CodedError(http.StatusBadGateway, err)
	}

	for _, mapping := range statusForError {
		for _, target := range mapping.errs {
			if errors.Is(err, target) {
				return CodedError(mapping.code, err)
			}
		}
	}

	return err
}
