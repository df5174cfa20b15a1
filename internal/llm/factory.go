// Package llm holds the provider-neutral plumbing for LLM calls: a provider
// registry, a rate-limit aware fallback chain and JSON output helpers.
package llm

import (
	"fmt"
	"sync"

	"docpipe/internal/config"
	"docpipe/internal/logger"
	"docpipe/internal/port"
)

// ProviderFactory creates an LLMClient from a provider config.
type ProviderFactory func(cfg *config.LLMProviderConfig) (port.LLMClient, error)

// Registry maps provider names to factories.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]ProviderFactory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: map[string]ProviderFactory{}}
}

// Register adds a provider factory by name.
func (r *Registry) Register(name string, factory ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = factory
}

// New creates a client for one provider config.
func (r *Registry) New(cfg *config.LLMProviderConfig) (port.LLMClient, error) {
	r.mu.RLock()
	factory, ok := r.providers[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
	return factory(cfg)
}

// Chain builds the client for an ordered provider list. A single provider is
// returned as is; several are wrapped in a Fallback. An empty list yields nil.
func (r *Registry) Chain(cfgs []*config.LLMProviderConfig, log *logger.Logger) (port.LLMClient, error) {
	if len(cfgs) == 0 {
		return nil, nil
	}
	clients := make([]port.LLMClient, 0, len(cfgs))
	names := make([]string, 0, len(cfgs))
	for _, cfg := range cfgs {
		c, err := r.New(cfg)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
		names = append(names, cfg.Provider)
	}
	if len(clients) == 1 {
		return clients[0], nil
	}
	return NewFallback(clients, names, log), nil
}
