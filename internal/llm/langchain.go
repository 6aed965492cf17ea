package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tabular-backend/internal/config"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChain generates through langchaingo's OpenAI-compatible client, which is
// useful for self-hosted endpoints that speak the same API.
type LangChain struct {
	client  *openai.LLM
	temp    float64
	timeout time.Duration
}

func NewLangChain(cfg config.LLMConfig) (*LangChain, error) {
	opts := []openai.Option{openai.WithToken(cfg.APIKey), openai.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create langchain openai client: %w", err)
	}

	return &LangChain{client: client, temp: cfg.Temperature, timeout: cfg.Timeout}, nil
}

func (l *LangChain) Generate(ctx context.Context, systemPrompt, prompt string, opts ...GenerateOption) (string, error) {
	options := buildOptions(opts)

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	var messages []llms.MessageContent
	if systemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	callOpts := []llms.CallOption{llms.WithTemperature(l.temp)}
	if options.jsonOutput {
		callOpts = append(callOpts, llms.WithJSONMode())
	}

	resp, err := l.client.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		slog.Error("langchain generation failed", "error", err)
		return "", fmt.Errorf("langchain generation failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	return resp.Choices[0].Content, nil
}
