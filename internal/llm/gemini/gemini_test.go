package gemini_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe/internal/config"
	"docpipe/internal/llm/gemini"
	"docpipe/internal/port"
)

func TestGeminiClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "g-key", r.Header.Get("x-goog-api-key"))

		var reqBody map[string]interface{}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&reqBody)) {
			return
		}
		assert.Contains(t, reqBody, "systemInstruction")

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{
				{"content": map[string]interface{}{"parts": []map[string]interface{}{{"text": `{"x":"y"}`}}}},
			},
		})
	}))
	defer server.Close()

	c := gemini.NewClientWithEndpoint(&config.LLMProviderConfig{Provider: "gemini", APIKey: "g-key"}, server.URL)
	out, err := c.Complete(context.Background(), port.LLMRequest{System: "s", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, `{"x":"y"}`, out.Text)
	assert.Equal(t, "gemini-2.0-flash", out.Model)
}

func TestGeminiClient_Complete_NoCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	c := gemini.NewClientWithEndpoint(&config.LLMProviderConfig{Provider: "gemini"}, server.URL)
	_, err := c.Complete(context.Background(), port.LLMRequest{Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no candidates")
}
