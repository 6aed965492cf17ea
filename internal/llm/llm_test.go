package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"tabular-backend/internal/config"
	"tabular-backend/internal/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatRequest struct {
	Model          string `json:"model"`
	Messages       []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"messages"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type fakeChatServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []chatRequest
}

func newFakeChatServer(t *testing.T, reply string) *fakeChatServer {
	fake := &fakeChatServer{}
	fake.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		fake.mu.Lock()
		fake.requests = append(fake.requests, req)
		fake.mu.Unlock()

		content, _ := json.Marshal(reply)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "` + req.Model + `",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": ` + string(content) + `}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`)) // nolint:errcheck
	}))
	t.Cleanup(fake.Close)
	return fake
}

func testConfig(provider, baseURL string) config.LLMConfig {
	return config.LLMConfig{
		Provider:    provider,
		APIKey:      "sk-test",
		BaseURL:     baseURL + "/v1",
		Model:       "gpt-4o-mini",
		Temperature: 0.2,
		Timeout:     10 * time.Second,
	}
}

func TestProviders(t *testing.T) {
	for _, provider := range []string{"openai", "langchain"} {
		t.Run(provider, func(t *testing.T) {
			server := newFakeChatServer(t, `{"target":"churned"}`)

			model, err := llm.New(testConfig(provider, server.URL))
			require.NoError(t, err)

			reply, err := model.Generate(context.Background(), "you are a planner", "plan this", llm.WithJSONOutput())
			require.NoError(t, err)
			assert.Equal(t, `{"target":"churned"}`, reply)

			reply, err = model.Generate(context.Background(), "", "summarize")
			require.NoError(t, err)
			assert.Equal(t, `{"target":"churned"}`, reply)

			require.Len(t, server.requests, 2)

			first := server.requests[0]
			assert.Equal(t, "gpt-4o-mini", first.Model)
			require.Len(t, first.Messages, 2)
			assert.Equal(t, "system", first.Messages[0].Role)
			assert.Equal(t, "user", first.Messages[1].Role)
			require.NotNil(t, first.ResponseFormat)
			assert.Equal(t, "json_object", first.ResponseFormat.Type)

			second := server.requests[1]
			require.Len(t, second.Messages, 1)
			assert.Nil(t, second.ResponseFormat)
		})
	}
}

func TestUnknownProvider(t *testing.T) {
	_, err := llm.New(config.LLMConfig{Provider: "bard"})
	assert.Error(t, err)
}
