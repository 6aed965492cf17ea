package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"tabular-backend/internal/messaging"
	"tabular-backend/internal/pipeline"
	"tabular-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxPredictBody bounds the rows accepted by a single predict call.
const maxPredictBody = 32 << 20

type BackendService struct {
	pipeline *pipeline.Pipeline
	events   messaging.Subscriber
}

func NewBackendService(p *pipeline.Pipeline, events messaging.Subscriber) *BackendService {
	return &BackendService{pipeline: p, events: events}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))

	r.Route("/datasets", func(r chi.Router) {
		r.Post("/", RestHandler(s.SaveDataset))
		r.Get("/", RestHandler(s.ListDatasets))
		r.Post("/upload-url", RestHandler(s.DatasetUploadURL))

		r.Route("/{dataset_id}", func(r chi.Router) {
			r.Get("/", RestHandler(s.GetDataset))
			r.Get("/download-url", RestHandler(s.DatasetDownloadURL))

			r.Post("/preprocess", RestHandler(s.StartPreprocess))
			r.Get("/preprocess-runs", RestHandler(s.ListPreprocessRuns))
			r.Get("/preprocess-runs/latest", RestHandler(s.LatestPreprocessRun))

			r.Get("/profile", RestHandler(s.LatestProfile))
			r.Post("/profile/summary", RestHandler(s.SummarizeProfile))
			r.Get("/profile/summary", RestHandler(s.LatestProfileSummary))

			r.Post("/run-config", RestHandler(s.GenerateRunConfig))
			r.Get("/run-config", RestHandler(s.LatestRunConfig))

			r.Post("/train", RestHandler(s.StartTraining))
			r.Get("/models", RestHandler(s.ListModels))

			r.Get("/events", RestStreamHandler(s.StreamEvents))
		})
	})

	r.Route("/preprocess-runs/{run_id}", func(r chi.Router) {
		r.Get("/", RestHandler(s.GetPreprocessRun))
		r.Get("/download-url", RestHandler(s.RunDownloadURL))
	})

	r.Route("/models/{model_id}", func(r chi.Router) {
		r.Get("/download-url", RestHandler(s.ModelDownloadURL))
		r.With(middleware.RequestSize(maxPredictBody)).Post("/predict", RestHandler(s.Predict))
	})
}

func (s *BackendService) DatasetUploadURL(r *http.Request) (any, error) {
	target, err := s.pipeline.DatasetUploadURL(r.Context())
	if err != nil {
		return nil, err
	}
	return api.UploadURLResponse{URL: target.URL, Method: target.Method, StorageId: target.StorageId}, nil
}

func (s *BackendService) SaveDataset(r *http.Request) (any, error) {
	req, err := ParseRequest[api.SaveDatasetRequest](r)
	if err != nil {
		return nil, err
	}

	dataset, err := s.pipeline.SaveDataset(r.Context(), req)
	if err != nil {
		return nil, err
	}
	return convertDataset(dataset), nil
}

func (s *BackendService) ListDatasets(r *http.Request) (any, error) {
	datasets, err := s.pipeline.ListDatasets(r.Context())
	if err != nil {
		return nil, err
	}
	return convertDatasets(datasets), nil
}

func (s *BackendService) GetDataset(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	dataset, err := s.pipeline.GetDataset(r.Context(), datasetId)
	if err != nil {
		return nil, err
	}
	return convertDataset(dataset), nil
}

func (s *BackendService) DatasetDownloadURL(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	url, err := s.pipeline.DatasetDownloadURL(r.Context(), datasetId)
	if err != nil {
		return nil, err
	}
	return api.DownloadURLResponse{URL: url}, nil
}

func (s *BackendService) StartPreprocess(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	params, err := ParseOptionalRequest[api.PreprocessParams](r)
	if err != nil {
		return nil, err
	}

	run, err := s.pipeline.StartPreprocess(r.Context(), datasetId, params)
	if err != nil {
		return nil, err
	}
	return api.StartPreprocessResponse{RunId: run.Id}, nil
}

func (s *BackendService) ListPreprocessRuns(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	params, err := ParseRequestQueryParams[api.ListPreprocessRunsParams](r)
	if err != nil {
		return nil, err
	}

	runs, err := s.pipeline.ListPreprocessRuns(r.Context(), datasetId, params.Limit)
	if err != nil {
		return nil, err
	}
	return convertRuns(runs), nil
}

func (s *BackendService) LatestPreprocessRun(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	run, err := s.pipeline.LatestPreprocessRun(r.Context(), datasetId)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, CodedErrorf(http.StatusNotFound, "no preprocess run found for dataset %s", datasetId)
	}
	return convertRun(*run), nil
}

func (s *BackendService) GetPreprocessRun(r *http.Request) (any, error) {
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return nil, err
	}

	run, err := s.pipeline.GetPreprocessRun(r.Context(), runId)
	if err != nil {
		return nil, err
	}
	return convertRun(run), nil
}

func (s *BackendService) RunDownloadURL(r *http.Request) (any, error) {
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return nil, err
	}

	url, err := s.pipeline.RunDownloadURL(r.Context(), runId)
	if err != nil {
		return nil, err
	}
	return api.DownloadURLResponse{URL: url}, nil
}

func (s *BackendService) LatestProfile(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	profile, err := s.pipeline.LatestProfile(r.Context(), datasetId)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, CodedErrorf(http.StatusNotFound, "no profile found for dataset %s", datasetId)
	}
	return convertProfile(*profile), nil
}

func (s *BackendService) SummarizeProfile(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	summary, err := s.pipeline.SummarizeProfile(r.Context(), datasetId)
	if err != nil {
		return nil, err
	}
	return api.SummarizeProfileResponse{SummaryId: summary.Id, Summary: summary.Summary}, nil
}

func (s *BackendService) LatestProfileSummary(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	summary, err := s.pipeline.LatestProfileSummary(r.Context(), datasetId)
	if err != nil {
		return nil, err
	}
	if summary == nil {
		return nil, CodedErrorf(http.StatusNotFound, "no profile summary found for dataset %s", datasetId)
	}
	return convertSummary(*summary), nil
}

func (s *BackendService) GenerateRunConfig(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	runCfg, err := s.pipeline.GenerateRunCfg(r.Context(), datasetId)
	if err != nil {
		return nil, err
	}
	return api.GenerateRunConfigResponse{RunCfgId: runCfg.Id, Cfg: json.RawMessage(runCfg.Cfg)}, nil
}

func (s *BackendService) LatestRunConfig(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	runCfg, err := s.pipeline.LatestRunCfg(r.Context(), datasetId)
	if err != nil {
		return nil, err
	}
	if runCfg == nil {
		return nil, CodedErrorf(http.StatusNotFound, "no run config found for dataset %s", datasetId)
	}
	return convertRunConfig(*runCfg), nil
}

func (s *BackendService) StartTraining(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	dispatch, err := s.pipeline.StartTraining(r.Context(), datasetId)
	if err != nil {
		return nil, err
	}
	return api.TrainResponse{DatasetId: dispatch.DatasetId, RunCfgId: dispatch.RunCfgId, Worker: dispatch.Worker}, nil
}

func (s *BackendService) ListModels(r *http.Request) (any, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	models, err := s.pipeline.ListModels(r.Context(), datasetId)
	if err != nil {
		return nil, err
	}
	return convertModels(models), nil
}

func (s *BackendService) ModelDownloadURL(r *http.Request) (any, error) {
	modelId, err := URLParamUUID(r, "model_id")
	if err != nil {
		return nil, err
	}

	url, err := s.pipeline.ModelDownloadURL(r.Context(), modelId)
	if err != nil {
		return nil, err
	}
	return api.DownloadURLResponse{URL: url}, nil
}

// Predict forwards the body untouched so the worker sees the caller's row
// layout. Both a single row object and a list of rows are accepted.
func (s *BackendService) Predict(r *http.Request) (any, error) {
	modelId, err := URLParamUUID(r, "model_id")
	if err != nil {
		return nil, err
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, CodedErrorf(http.StatusRequestEntityTooLarge, "request body exceeds %d bytes", tooLarge.Limit)
		}
		slog.Error("error reading predict body", "model_id", modelId, "error", err)
		return nil, CodedErrorf(http.StatusBadRequest, "unable to read request body")
	}

	result, err := s.pipeline.Predict(r.Context(), modelId, json.RawMessage(body))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *BackendService) StreamEvents(r *http.Request) (StreamResponse, error) {
	datasetId, err := URLParamUUID(r, "dataset_id")
	if err != nil {
		return nil, err
	}

	if s.events == nil {
		return nil, CodedErrorf(http.StatusServiceUnavailable, "event streaming is not enabled")
	}

	if _, err := s.pipeline.GetDataset(r.Context(), datasetId); err != nil {
		return nil, err
	}

	events, err := s.events.Subscribe(r.Context(), datasetId)
	if err != nil {
		slog.Error("error subscribing to pipeline events", "dataset_id", datasetId, "error", err)
		return nil, errors.New("unable to subscribe to pipeline events")
	}

	return func(yield func(any, error) bool) {
		for event := range events {
			if !yield(event, nil) {
				return
			}
		}
	}, nil
}
