package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"tabular-backend/internal/auth"
	"tabular-backend/internal/compute"
	"tabular-backend/internal/pipeline"
	"tabular-backend/internal/storage"
	"tabular-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type grantKey struct{}

// CallbackService serves the routes workers call back into. Every route needs
// a credential in the x-webhook-secret header, except the local object routes
// which carry a signed token in the query string.
type CallbackService struct {
	pipeline  *pipeline.Pipeline
	authority *auth.Authority

	// Set only when objects are kept on local disk.
	objects storage.Provider
}

func NewCallbackService(p *pipeline.Pipeline, authority *auth.Authority, objects storage.Provider) *CallbackService {
	return &CallbackService{pipeline: p, authority: authority, objects: objects}
}

func (s *CallbackService) AddRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(s.requireCredential)

		r.Post("/preprocess/running", RestHandler(s.MarkRunning))
		r.Post("/preprocess/complete", RestHandler(s.CompleteRun))
		r.Post("/preprocess/fail", RestHandler(s.FailRun))

		r.Post("/profile/save", RestHandler(s.SaveProfile))
		r.Post("/storage/upload-url", RestHandler(s.UploadURL))

		r.Post("/dataset/download-url", RestHandler(s.DatasetDownloadURL))
		r.Post("/dataset/processed-download-url", RestHandler(s.ProcessedDownloadURL))
		r.Post("/run_cfg/latest", RestHandler(s.LatestRunCfg))

		r.Post("/models/save", RestHandler(s.SaveModel))
		r.Post("/models/download-url", RestHandler(s.ModelDownloadURL))
	})

	if s.objects != nil {
		r.Put("/storage/objects/{key}", RestHandler(s.PutObject))
		r.Post("/storage/objects/{key}", RestHandler(s.PutObject))
		r.Get("/storage/objects/{key}", s.GetObject)
	}
}

func (s *CallbackService) requireCredential(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		grant, err := s.authority.Verify(r.Header.Get(compute.CredentialHeader))
		if err != nil {
			slog.Warn("rejected callback", "path", r.URL.Path, "error", err)
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), grantKey{}, grant)))
	})
}

func grantFrom(r *http.Request) auth.Grant {
	grant, _ := r.Context().Value(grantKey{}).(auth.Grant)
	return grant
}

func runAck(applied bool) api.AckResponse {
	return api.AckResponse{Ok: true, Applied: &applied}
}

func recordAck(id uuid.UUID) api.AckResponse {
	return api.AckResponse{Ok: true, Id: &id}
}

func (s *CallbackService) MarkRunning(r *http.Request) (any, error) {
	req, err := ParseRequest[api.RunCallbackRequest](r)
	if err != nil {
		return nil, err
	}

	_, applied, err := s.pipeline.MarkRunning(r.Context(), grantFrom(r), req.RunId)
	if err != nil {
		return nil, err
	}
	return runAck(applied), nil
}

func (s *CallbackService) CompleteRun(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CompleteRunRequest](r)
	if err != nil {
		return nil, err
	}

	_, applied, err := s.pipeline.CompleteRun(r.Context(), grantFrom(r), req)
	if err != nil {
		return nil, err
	}
	return runAck(applied), nil
}

func (s *CallbackService) FailRun(r *http.Request) (any, error) {
	req, err := ParseRequest[api.FailRunRequest](r)
	if err != nil {
		return nil, err
	}

	_, applied, err := s.pipeline.FailRun(r.Context(), grantFrom(r), req)
	if err != nil {
		return nil, err
	}
	return runAck(applied), nil
}

func (s *CallbackService) SaveProfile(r *http.Request) (any, error) {
	req, err := ParseRequest[api.SaveProfileRequest](r)
	if err != nil {
		return nil, err
	}

	profile, err := s.pipeline.SaveProfile(r.Context(), grantFrom(r), req)
	if err != nil {
		return nil, err
	}
	return recordAck(profile.Id), nil
}

func (s *CallbackService) UploadURL(r *http.Request) (any, error) {
	target, err := s.pipeline.UploadURL(r.Context())
	if err != nil {
		return nil, err
	}
	return api.UploadURLResponse{URL: target.URL, Method: target.Method, StorageId: target.StorageId}, nil
}

func (s *CallbackService) DatasetDownloadURL(r *http.Request) (any, error) {
	req, err := ParseRequest[api.DatasetCallbackRequest](r)
	if err != nil {
		return nil, err
	}

	url, err := s.pipeline.GatewayDatasetDownloadURL(r.Context(), grantFrom(r), req.DatasetId)
	if err != nil {
		return nil, err
	}
	return api.DownloadURLResponse{URL: url}, nil
}

func (s *CallbackService) ProcessedDownloadURL(r *http.Request) (any, error) {
	req, err := ParseRequest[api.DatasetCallbackRequest](r)
	if err != nil {
		return nil, err
	}

	url, err := s.pipeline.GatewayProcessedDownloadURL(r.Context(), grantFrom(r), req.DatasetId)
	if err != nil {
		// Workers treat a missing processed file as not found, not as a conflict.
		if errors.Is(err, pipeline.ErrNoProcessedData) {
			return nil, CodedError(http.StatusNotFound, err)
		}
		return nil, err
	}
	return api.DownloadURLResponse{URL: url}, nil
}

func (s *CallbackService) LatestRunCfg(r *http.Request) (any, error) {
	req, err := ParseRequest[api.DatasetCallbackRequest](r)
	if err != nil {
		return nil, err
	}

	runCfg, err := s.pipeline.GatewayLatestRunCfg(r.Context(), grantFrom(r), req.DatasetId)
	if err != nil {
		return nil, err
	}
	return convertRunConfig(runCfg), nil
}

func (s *CallbackService) SaveModel(r *http.Request) (any, error) {
	req, err := ParseRequest[api.SaveModelRequest](r)
	if err != nil {
		return nil, err
	}

	model, err := s.pipeline.SaveModel(r.Context(), grantFrom(r), req)
	if err != nil {
		return nil, err
	}
	return recordAck(model.Id), nil
}

func (s *CallbackService) ModelDownloadURL(r *http.Request) (any, error) {
	req, err := ParseRequest[api.ModelCallbackRequest](r)
	if err != nil {
		return nil, err
	}

	url, err := s.pipeline.GatewayModelDownloadURL(r.Context(), grantFrom(r), req.ModelId)
	if err != nil {
		return nil, err
	}
	return api.DownloadURLResponse{URL: url}, nil
}

func objectKey(r *http.Request) (string, error) {
	key := chi.URLParam(r, "key")
	if !storage.ValidStorageId(key) {
		return "", CodedErrorf(http.StatusBadRequest, "invalid object key %q", key)
	}
	return key, nil
}

// PutObject accepts both PUT and POST with the same upload token, since some
// workers post model artifacts to the upload url.
func (s *CallbackService) PutObject(r *http.Request) (any, error) {
	key, err := objectKey(r)
	if err != nil {
		return nil, err
	}

	if err := s.authority.VerifyObject(r.URL.Query().Get("token"), key, http.MethodPut); err != nil {
		return nil, err
	}

	if err := s.objects.PutObject(r.Context(), key, r.Body); err != nil {
		slog.Error("error storing object", "storage_id", key, "error", err)
		return nil, err
	}

	slog.Info("stored object", "storage_id", key)
	return api.StoredObjectResponse{StorageId: key}, nil
}

func (s *CallbackService) GetObject(w http.ResponseWriter, r *http.Request) {
	key, err := objectKey(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.authority.VerifyObject(r.URL.Query().Get("token"), key, http.MethodGet); err != nil {
		writeError(w, err)
		return
	}

	object, err := s.objects.GetObject(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	defer object.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, object); err != nil {
		slog.Error("error streaming object", "storage_id", key, "error", err)
	}
}
