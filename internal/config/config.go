package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

var ErrMissingConfig = errors.New("missing required configuration")

type LLMConfig struct {
	Provider    string        `env:"PROVIDER" envDefault:"openai"`
	APIKey      string        `env:"API_KEY"`
	BaseURL     string        `env:"BASE_URL"`
	Model       string        `env:"MODEL" envDefault:"gpt-4o-mini"`
	Temperature float64       `env:"TEMPERATURE" envDefault:"0.2"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"60s"`
}

// Config is the pipeline configuration. It is built once at startup and handed to
// the pipeline and callback routes; nothing below cmd reads the environment.
type Config struct {
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`

	WebhookSecret       string        `env:"WEBHOOK_SECRET"`
	AcceptStaticSecret  bool          `env:"WEBHOOK_ACCEPT_STATIC_SECRET" envDefault:"false"`
	CallbackTokenTTL    time.Duration `env:"CALLBACK_TOKEN_TTL" envDefault:"6h"`
	PreprocessWorkerURL string        `env:"PREPROCESS_WORKER_URL"`
	TrainWorkerURL      string        `env:"TRAIN_WORKER_URL"`
	PredictWorkerURL    string        `env:"PREDICT_WORKER_URL"`
	WorkerTimeout       time.Duration `env:"WORKER_TIMEOUT" envDefault:"60s"`

	PreprocessRunTimeout time.Duration `env:"PREPROCESS_RUN_TIMEOUT" envDefault:"1h"`
	SweepInterval        time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	DownloadURLTTL       time.Duration `env:"DOWNLOAD_URL_TTL" envDefault:"15m"`

	LLM LLMConfig `envPrefix:"LLM_"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing pipeline config: %w", err)
	}
	return cfg, nil
}

func LoadFrom(environment map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environment}); err != nil {
		return Config{}, fmt.Errorf("error parsing pipeline config: %w", err)
	}
	return cfg, nil
}

func (c Config) callbackVars() map[string]string {
	return map[string]string{
		"WEBHOOK_SECRET":  c.WebhookSecret,
		"PUBLIC_BASE_URL": c.PublicBaseURL,
	}
}

func (c Config) RequirePreprocess() error {
	vars := c.callbackVars()
	vars["PREPROCESS_WORKER_URL"] = c.PreprocessWorkerURL
	return require(vars)
}

func (c Config) RequireTraining() error {
	vars := c.callbackVars()
	vars["TRAIN_WORKER_URL"] = c.TrainWorkerURL
	return require(vars)
}

func (c Config) RequirePrediction() error {
	vars := c.callbackVars()
	vars["PREDICT_WORKER_URL"] = c.PredictWorkerURL
	return require(vars)
}

func (c Config) RequireLLM() error {
	return require(map[string]string{"LLM_API_KEY": c.LLM.APIKey})
}

func (c Config) RequireCallbacks() error {
	return require(map[string]string{"WEBHOOK_SECRET": c.WebhookSecret})
}

// CallbackURL joins a gateway route onto the public base URL.
func (c Config) CallbackURL(route string) string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/" + strings.TrimLeft(route, "/")
}

func require(vars map[string]string) error {
	var missing []string
	for name, value := range vars {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
}
