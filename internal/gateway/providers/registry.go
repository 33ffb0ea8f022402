package providers

import (
	"fmt"

	"github.com/modelrelay/gateway/internal/shared/config"
	"github.com/modelrelay/gateway/internal/shared/models"
)

// Registry holds one adapter per configured backend, selected by the model
// descriptor's provider field.
type Registry struct {
	providers map[models.Provider]Provider
}

// NewRegistry builds a registry from the API keys present in the config.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{providers: make(map[models.Provider]Provider)}

	if cfg.OpenAIAPIKey != "" {
		r.Register(NewOpenAIProvider(cfg.OpenAIAPIKey))
	}
	if cfg.AnthropicAPIKey != "" {
		r.Register(NewAnthropicProvider(cfg.AnthropicAPIKey))
	}
	if cfg.GeminiAPIKey != "" {
		r.Register(NewGeminiProvider(cfg.GeminiAPIKey))
	}
	if cfg.CohereAPIKey != "" {
		r.Register(NewCohereProvider(cfg.CohereAPIKey))
	}

	return r
}

// Register adds an adapter, replacing any previous one for the same backend.
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Get returns the adapter for a backend. A missing adapter means the model
// is in the catalog but its provider key is not configured; that is a
// server-side condition, not a client error.
func (r *Registry) Get(provider models.Provider) (Provider, error) {
	p, ok := r.providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured (check API key)", provider)
	}
	return p, nil
}

// Configured lists the backends with a registered adapter.
func (r *Registry) Configured() []models.Provider {
	out := make([]models.Provider, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	return out
}
