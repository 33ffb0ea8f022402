package providers

import (
	"context"
	"errors"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/modelrelay/gateway/internal/gateway/gwerr"
	"github.com/modelrelay/gateway/internal/shared/models"
)

// OpenAIProvider handles OpenAI API requests through the official-style SDK.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{client: openai.NewClient(apiKey)}
}

// Name returns the provider enum this adapter serves.
func (p *OpenAIProvider) Name() models.Provider {
	return models.ProviderOpenAI
}

// Complete makes a chat completion request to OpenAI
func (p *OpenAIProvider) Complete(ctx context.Context, d *models.ModelDescriptor, req ChatRequest) (*ChatResponse, error) {
	startTime := time.Now()

	resp, err := p.client.CreateChatCompletion(ctx, p.convertRequest(d, req, false))
	if err != nil {
		return nil, openAIError(err)
	}

	return &ChatResponse{
		ID:        resp.ID,
		Object:    resp.Object,
		Created:   resp.Created,
		Model:     d.ID,
		Choices:   resp.Choices,
		Usage:     resp.Usage,
		Provider:  models.ProviderOpenAI,
		LatencyMs: int(time.Since(startTime).Milliseconds()),
	}, nil
}

// Stream creates a streaming chat completion request
func (p *OpenAIProvider) Stream(ctx context.Context, d *models.ModelDescriptor, req ChatRequest) (StreamReader, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, p.convertRequest(d, req, true))
	if err != nil {
		return nil, openAIError(err)
	}
	return &openAIStreamReader{stream: stream, model: d.ID}, nil
}

// convertRequest maps the canonical request onto the OpenAI wire schema.
func (p *OpenAIProvider) convertRequest(d *models.ModelDescriptor, req ChatRequest, stream bool) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:  d.WireID,
		Stream: stream,
	}

	for _, msg := range req.Messages {
		if !d.SupportsVision {
			msg = flattenForText(msg)
		}
		out.Messages = append(out.Messages, msg)
	}

	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		out.TopP = *req.TopP
	}
	if mt := effectiveMaxTokens(req, d); mt > 0 {
		out.MaxTokens = mt
	}
	if len(req.Stop) > 0 {
		out.Stop = req.Stop
	}
	if req.FrequencyPenalty != nil {
		out.FrequencyPenalty = *req.FrequencyPenalty
	}
	if req.PresencePenalty != nil {
		out.PresencePenalty = *req.PresencePenalty
	}
	if d.SupportsToolCalling && len(req.Tools) > 0 {
		out.Tools = req.Tools
	}
	if stream {
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}

	return out
}

// openAIError categorizes SDK errors, keeping the upstream status code.
func openAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return gwerr.Provider(apiErr.HTTPStatusCode, "openai: %s", apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return gwerr.Provider(reqErr.HTTPStatusCode, "openai: request failed")
	}
	return gwerr.Wrap(gwerr.CodeProviderError, err, "openai: call failed")
}

// openAIStreamReader adapts the SDK stream, rewriting the wire model id back
// to the public one.
type openAIStreamReader struct {
	stream *openai.ChatCompletionStream
	model  string
}

func (r *openAIStreamReader) Recv() (openai.ChatCompletionStreamResponse, error) {
	chunk, err := r.stream.Recv()
	if err != nil {
		return chunk, err
	}
	chunk.Model = r.model
	return chunk, nil
}

func (r *openAIStreamReader) Close() error {
	r.stream.Close()
	return nil
}
