package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe/internal/config"
	"docpipe/internal/llm"
	"docpipe/internal/logger"
	"docpipe/internal/port"
)

type stubClient struct {
	calls int
	text  string
	err   error
}

func (s *stubClient) Complete(_ context.Context, _ port.LLMRequest) (*port.LLMResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &port.LLMResponse{Text: s.text, Model: "stub"}, nil
}

func TestFallback_UsesSecondaryOnFailure(t *testing.T) {
	primary := &stubClient{err: errors.New("boom")}
	secondary := &stubClient{text: "ok"}
	f := llm.NewFallback([]port.LLMClient{primary, secondary}, []string{"a", "b"}, logger.Nop())

	out, err := f.Complete(context.Background(), port.LLMRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Text)
	assert.Equal(t, 1, primary.calls)
}

func TestFallback_OpensCircuitAfterRateLimit(t *testing.T) {
	primary := &stubClient{err: llm.NewRateLimitError("a", errors.New("429"), 60)}
	secondary := &stubClient{text: "ok"}
	f := llm.NewFallback([]port.LLMClient{primary, secondary}, []string{"a", "b"}, logger.Nop())

	_, err := f.Complete(context.Background(), port.LLMRequest{Prompt: "p"})
	require.NoError(t, err)
	_, err = f.Complete(context.Background(), port.LLMRequest{Prompt: "p"})
	require.NoError(t, err)

	assert.Equal(t, 1, primary.calls, "rate-limited provider is skipped while its circuit is open")
	assert.Equal(t, 2, secondary.calls)
}

func TestFallback_AllRateLimited(t *testing.T) {
	a := &stubClient{err: llm.NewRateLimitError("a", errors.New("429"), 5)}
	b := &stubClient{err: llm.NewRateLimitError("b", errors.New("429"), 9)}
	f := llm.NewFallback([]port.LLMClient{a, b}, []string{"a", "b"}, logger.Nop())

	_, err := f.Complete(context.Background(), port.LLMRequest{Prompt: "p"})
	var rl *llm.RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, "all", rl.Provider)
}

func TestFallback_AllFailed(t *testing.T) {
	f := llm.NewFallback([]port.LLMClient{&stubClient{err: errors.New("x")}}, []string{"a"}, logger.Nop())
	_, err := f.Complete(context.Background(), port.LLMRequest{Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all providers failed")
}

func TestRegistry_Chain(t *testing.T) {
	reg := llm.NewRegistry()
	reg.Register("stub", func(cfg *config.LLMProviderConfig) (port.LLMClient, error) {
		return &stubClient{text: cfg.DefaultModel}, nil
	})

	single, err := reg.Chain([]*config.LLMProviderConfig{{Provider: "stub", DefaultModel: "m1"}}, logger.Nop())
	require.NoError(t, err)
	_, isFallback := single.(*llm.Fallback)
	assert.False(t, isFallback)

	chain, err := reg.Chain([]*config.LLMProviderConfig{{Provider: "stub"}, {Provider: "stub"}}, logger.Nop())
	require.NoError(t, err)
	_, isFallback = chain.(*llm.Fallback)
	assert.True(t, isFallback)

	none, err := reg.Chain(nil, logger.Nop())
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = reg.Chain([]*config.LLMProviderConfig{{Provider: "nope"}}, logger.Nop())
	assert.Error(t, err)
}

func TestParseRetryAfterHeader(t *testing.T) {
	assert.Equal(t, 0, llm.ParseRetryAfterHeader(""))
	assert.Equal(t, 0, llm.ParseRetryAfterHeader("soon"))
	assert.Equal(t, 30, llm.ParseRetryAfterHeader("30"))
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Name string `json:"name"`
	}
	require.NoError(t, llm.DecodeJSON("```json\n{\"name\":\"acme\"}\n```", &v))
	assert.Equal(t, "acme", v.Name)

	require.NoError(t, llm.DecodeJSON("Sure! {\"name\":\"b\"} hope that helps", &v))
	assert.Equal(t, "b", v.Name)

	assert.Error(t, llm.DecodeJSON("no json here", &v))
}
