package claude_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe/internal/config"
	"docpipe/internal/llm"
	"docpipe/internal/llm/claude"
	"docpipe/internal/port"
)

func newTestClient(serverURL string) *claude.Client {
	cfg := &config.LLMProviderConfig{
		Provider:    "claude",
		APIKey:      "test-api-key",
		TimeoutSecs: 30,
	}
	return claude.NewClientWithEndpoint(cfg, serverURL)
}

func TestClaudeClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-api-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var reqBody map[string]interface{}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&reqBody)) {
			return
		}
		assert.Equal(t, "claude-sonnet-4-20250514", reqBody["model"])
		assert.Equal(t, "be terse", reqBody["system"])
		messages := reqBody["messages"].([]interface{})
		assert.Len(t, messages, 1)
		assert.Equal(t, "extract it", messages[0].(map[string]interface{})["content"])

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]interface{}{{"type": "text", "text": `{"ok":true}`}},
		})
	}))
	defer server.Close()

	out, err := newTestClient(server.URL).Complete(context.Background(), port.LLMRequest{System: "be terse", Prompt: "extract it"})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out.Text)
	assert.Equal(t, "claude-sonnet-4-20250514", out.Model)
}

func TestClaudeClient_Complete_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), port.LLMRequest{Prompt: "x"})
	require.Error(t, err)
	var rl *llm.RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, "claude", rl.Provider)
	assert.Equal(t, 7.0, rl.RetryAfter.Seconds())
}

func TestClaudeClient_Complete_Truncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"content":     []map[string]interface{}{{"type": "text", "text": `{"a":`}},
			"stop_reason": "max_tokens",
		})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), port.LLMRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_tokens")
}
