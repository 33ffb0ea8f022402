package providers

import (
	"context"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/modelrelay/gateway/internal/shared/models"
)

// ChatRequest is the gateway's canonical chat completion request. It is
// immutable once dispatched to an adapter; transforms produce copies.
type ChatRequest struct {
	Model            string                         `json:"model"`
	Messages         []openai.ChatCompletionMessage `json:"messages"`
	Temperature      *float32                       `json:"temperature,omitempty"`
	TopP             *float32                       `json:"top_p,omitempty"`
	MaxTokens        *int                           `json:"max_tokens,omitempty"`
	Stop             []string                       `json:"stop,omitempty"`
	FrequencyPenalty *float32                       `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float32                       `json:"presence_penalty,omitempty"`
	Tools            []openai.Tool                  `json:"tools,omitempty"`
	Stream           bool                           `json:"stream,omitempty"`
	NoCache          bool                           `json:"no_cache,omitempty"`
	CacheTTLSeconds  int                            `json:"cache_ttl_seconds,omitempty"`
}

// Clone returns a copy whose messages, stop and tool slices are independent
// of the original.
func (r ChatRequest) Clone() ChatRequest {
	out := r
	out.Messages = append([]openai.ChatCompletionMessage(nil), r.Messages...)
	out.Stop = append([]string(nil), r.Stop...)
	out.Tools = append([]openai.Tool(nil), r.Tools...)
	return out
}

// ChatResponse is the gateway's canonical chat completion response.
type ChatResponse struct {
	ID      string                        `json:"id"`
	Object  string                        `json:"object"`
	Created int64                         `json:"created"`
	Model   string                        `json:"model"`
	Choices []openai.ChatCompletionChoice `json:"choices"`
	Usage   openai.Usage                  `json:"usage"`

	// Gateway metadata.
	CreditsCharged int64           `json:"credits_charged"`
	CacheHit       bool            `json:"cache_hit"`
	LatencyMs      int             `json:"latency_ms"`
	Provider       models.Provider `json:"provider,omitempty"`
	ContextWindow  int             `json:"context_window,omitempty"`
}

// StreamReader yields canonical stream chunks from a provider's native
// event stream. Close must be safe to call on every exit path.
type StreamReader interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// Provider is the interface all backend adapters implement.
type Provider interface {
	// Name returns the provider enum this adapter serves.
	Name() models.Provider

	// Complete performs a non-streaming completion.
	Complete(ctx context.Context, d *models.ModelDescriptor, req ChatRequest) (*ChatResponse, error)

	// Stream opens a streaming completion. The caller owns the reader and
	// must close it.
	Stream(ctx context.Context, d *models.ModelDescriptor, req ChatRequest) (StreamReader, error)
}

// effectiveMaxTokens clamps the requested max tokens to the model's ceiling.
// Zero means the request did not ask for a limit.
func effectiveMaxTokens(req ChatRequest, d *models.ModelDescriptor) int {
	if req.MaxTokens == nil || *req.MaxTokens <= 0 {
		return 0
	}
	if d.MaxOutputTokens > 0 && *req.MaxTokens > d.MaxOutputTokens {
		return d.MaxOutputTokens
	}
	return *req.MaxTokens
}

// flattenForText projects a message onto plain text for providers (or
// descriptors) without multimodal support: image parts are dropped, text
// parts joined with newlines.
func flattenForText(msg openai.ChatCompletionMessage) openai.ChatCompletionMessage {
	if len(msg.MultiContent) == 0 {
		return msg
	}
	var parts []string
	for _, p := range msg.MultiContent {
		if p.Type == openai.ChatMessagePartTypeText && p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	msg.Content = strings.Join(parts, "\n")
	msg.MultiContent = nil
	return msg
}

// messageText returns the plain text of a message, flattening multipart
// content when present.
func messageText(msg openai.ChatCompletionMessage) string {
	return flattenForText(msg).Content
}
