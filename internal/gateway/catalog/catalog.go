// Package catalog holds the static table of models the gateway can serve.
package catalog

import (
	"github.com/modelrelay/gateway/internal/gateway/gwerr"
	"github.com/modelrelay/gateway/internal/shared/models"
)

// Catalog resolves public model ids to descriptors. The table is built once
// and never mutated afterwards.
type Catalog struct {
	byID  map[string]*models.ModelDescriptor
	order []string
}

// New builds a catalog from the given descriptors.
func New(descriptors []models.ModelDescriptor) *Catalog {
	c := &Catalog{byID: make(map[string]*models.ModelDescriptor, len(descriptors))}
	for i := range descriptors {
		d := descriptors[i]
		c.byID[d.ID] = &d
		c.order = append(c.order, d.ID)
	}
	return c
}

// Default returns the catalog of known models.
func Default() *Catalog {
	return New(defaultDescriptors)
}

// Resolve returns the descriptor for a public model id. Unknown and inactive
// models are client errors raised before any provider is contacted.
func (c *Catalog) Resolve(modelID string) (*models.ModelDescriptor, error) {
	d, ok := c.byID[modelID]
	if !ok {
		return nil, gwerr.New(gwerr.CodeUnknownModel, "unknown model %q", modelID)
	}
	if !d.Active {
		return nil, gwerr.New(gwerr.CodeInactiveModel, "model %q is no longer available", modelID)
	}
	return d, nil
}

// IsActive reports whether a model id is known and active.
func (c *Catalog) IsActive(modelID string) bool {
	d, ok := c.byID[modelID]
	return ok && d.Active
}

// Models returns all active descriptors in registration order.
func (c *Catalog) Models() []models.ModelDescriptor {
	out := make([]models.ModelDescriptor, 0, len(c.order))
	for _, id := range c.order {
		if d := c.byID[id]; d.Active {
			out = append(out, *d)
		}
	}
	return out
}

var defaultDescriptors = []models.ModelDescriptor{
	{
		ID: "gpt-4o", Provider: models.ProviderOpenAI, WireID: "gpt-4o",
		InputCreditsPer1K: 5, OutputCreditsPer1K: 15,
		ContextWindow: 128000, MaxOutputTokens: 16384,
		SupportsStreaming: true, SupportsVision: true, SupportsToolCalling: true,
		Active: true,
	},
	{
		ID: "gpt-4o-mini", Provider: models.ProviderOpenAI, WireID: "gpt-4o-mini",
		InputCreditsPer1K: 1, OutputCreditsPer1K: 2,
		ContextWindow: 128000, MaxOutputTokens: 16384,
		SupportsStreaming: true, SupportsVision: true, SupportsToolCalling: true,
		Active: true,
	},
	{
		ID: "gpt-3.5-turbo", Provider: models.ProviderOpenAI, WireID: "gpt-3.5-turbo",
		InputCreditsPer1K: 1, OutputCreditsPer1K: 2,
		ContextWindow: 16385, MaxOutputTokens: 4096,
		SupportsStreaming: true,
		Active:            false, // retired upstream
	},
	{
		ID: "claude-sonnet-4-5", Provider: models.ProviderAnthropic, WireID: "claude-sonnet-4-5-20250929",
		InputCreditsPer1K: 6, OutputCreditsPer1K: 30,
		ContextWindow: 200000, MaxOutputTokens: 64000,
		SupportsStreaming: true, SupportsVision: true, SupportsToolCalling: true,
		Active: true,
	},
	{
		ID: "claude-haiku-4-5", Provider: models.ProviderAnthropic, WireID: "claude-haiku-4-5-20251001",
		InputCreditsPer1K: 2, OutputCreditsPer1K: 10,
		ContextWindow: 200000, MaxOutputTokens: 64000,
		SupportsStreaming: true, SupportsVision: true, SupportsToolCalling: true,
		Active: true,
	},
	{
		ID: "gemini-2.5-pro", Provider: models.ProviderGoogle, WireID: "gemini-2.5-pro",
		InputCreditsPer1K: 3, OutputCreditsPer1K: 20,
		ContextWindow: 1048576, MaxOutputTokens: 65536,
		SupportsStreaming: true, SupportsVision: true, SupportsToolCalling: true,
		Active: true,
	},
	{
		ID: "gemini-2.5-flash", Provider: models.ProviderGoogle, WireID: "gemini-2.5-flash",
		InputCreditsPer1K: 1, OutputCreditsPer1K: 5,
		ContextWindow: 1048576, MaxOutputTokens: 65536,
		SupportsStreaming: true, SupportsVision: true, SupportsToolCalling: true,
		Active: true,
	},
	{
		ID: "command-r-plus", Provider: models.ProviderCohere, WireID: "command-r-plus-08-2024",
		InputCreditsPer1K: 5, OutputCreditsPer1K: 20,
		ContextWindow: 128000, MaxOutputTokens: 4096,
		SupportsStreaming: true,
		Active:            true,
	},
	{
		ID: "command-r", Provider: models.ProviderCohere, WireID: "command-r-08-2024",
		InputCreditsPer1K: 1, OutputCreditsPer1K: 3,
		ContextWindow: 128000, MaxOutputTokens: 4096,
		SupportsStreaming: true,
		Active:            true,
	},
}
