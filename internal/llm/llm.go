package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tabular-backend/internal/config"
)

var ErrEmptyResponse = errors.New("llm returned no choices")

type generateOptions struct {
	jsonOutput bool
}

type GenerateOption func(*generateOptions)

// WithJSONOutput asks the provider to constrain the reply to a JSON object.
func WithJSONOutput() GenerateOption {
	return func(o *generateOptions) {
		o.jsonOutput = true
	}
}

func buildOptions(opts []GenerateOption) generateOptions {
	var o generateOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type LLM interface {
	Generate(ctx context.Context, systemPrompt, prompt string, opts ...GenerateOption) (string, error)
}

func New(cfg config.LLMConfig) (LLM, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return NewOpenAI(cfg), nil
	case "langchain":
		return NewLangChain(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
