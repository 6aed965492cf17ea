package cmd

import (
	"flag"
	"log"
	"log/slog"
	"tabular-backend/internal/api"
	"tabular-backend/internal/auth"
	"tabular-backend/internal/config"
	"tabular-backend/internal/llm"
	"tabular-backend/internal/messaging"
	"tabular-backend/internal/pipeline"
	"tabular-backend/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

func LoadPipelineConfig() config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("error parsing pipeline config: %v", err)
	}

	if err := cfg.RequireCallbacks(); err != nil {
		slog.Warn("callbacks are disabled until configured", "error", err)
	}
	for stage, check := range map[string]func() error{
		"preprocess": cfg.RequirePreprocess,
		"train":      cfg.RequireTraining,
		"predict":    cfg.RequirePrediction,
	} {
		if err := check(); err != nil {
			slog.Warn("pipeline stage is not configured", "stage", stage, "error", err)
		}
	}

	return cfg
}

// CreateLLM returns nil when no api key is set. The planner routes then fail
// with a configuration error instead of the server refusing to start.
func CreateLLM(cfg config.LLMConfig) llm.LLM {
	if cfg.APIKey == "" {
		slog.Warn("LLM_API_KEY not set, profile summaries and run configs are disabled")
		return nil
	}

	model, err := llm.New(cfg)
	if err != nil {
		log.Fatalf("error creating llm client: %v", err)
	}
	slog.Info("llm client configured", "provider", cfg.Provider, "model", cfg.Model)
	return model
}

// AddPipelineRoutes mounts the client api and the worker callbacks. objects is
// only set when the storage provider serves its own urls.
func AddPipelineRoutes(r chi.Router, p *pipeline.Pipeline, authority *auth.Authority, events messaging.Subscriber, objects storage.Provider) {
	r.Route("/api/v1", func(r chi.Router) {
		api.NewBackendService(p, events).AddRoutes(r)
		r.Route("/webhooks", func(r chi.Router) {
			api.NewCallbackService(p, authority, objects).AddRoutes(r)
		})
	})
}
