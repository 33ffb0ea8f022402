// Package cache implements the content-addressed response cache. Only
// non-streaming responses are cached; the contract is "same request, same
// cached answer", so nondeterministic sampling parameters are part of the
// key rather than excluded from it.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/modelrelay/gateway/internal/gateway/providers"
)

// Cache looks up and stores canonical responses.
type Cache interface {
	// Lookup returns the cached response for a request, or false on a miss.
	// Storage failures degrade to a miss.
	Lookup(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, bool)

	// Store caches a response under the request's key for ttl. Storage
	// failures are logged and swallowed.
	Store(ctx context.Context, req providers.ChatRequest, resp *providers.ChatResponse, ttl time.Duration)
}

// keyMaterial is the subset of request fields that affect a deterministic
// completion. Field order is fixed so the serialized form is stable.
type keyMaterial struct {
	Model            string      `json:"model"`
	Messages         interface{} `json:"messages"`
	Temperature      *float32    `json:"temperature"`
	TopP             *float32    `json:"top_p"`
	MaxTokens        *int        `json:"max_tokens"`
	Stop             []string    `json:"stop"`
	FrequencyPenalty *float32    `json:"frequency_penalty"`
	PresencePenalty  *float32    `json:"presence_penalty"`
	Tools            interface{} `json:"tools"`
}

// Key returns the content-addressed cache key for a request.
func Key(req providers.ChatRequest) string {
	material, _ := json.Marshal(keyMaterial{
		Model:            req.Model,
		Messages:         req.Messages,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		MaxTokens:        req.MaxTokens,
		Stop:             req.Stop,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		Tools:            req.Tools,
	})
	hash := sha256.Sum256(material)
	return "cache:chat:" + hex.EncodeToString(hash[:])
}
