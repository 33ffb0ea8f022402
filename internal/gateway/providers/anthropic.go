package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/modelrelay/gateway/internal/gateway/gwerr"
	"github.com/modelrelay/gateway/internal/shared/models"
)

const anthropicMessagesURL = "https://api.anthropic.com/v1/messages"

// AnthropicProvider handles Anthropic Claude API requests
type AnthropicProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// anthropicRequest represents a request to Anthropic's Messages API
type anthropicRequest struct {
	Model         string             `json:"model"`
	Messages      []anthropicMessage `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	System        string             `json:"system,omitempty"`
	Temperature   *float32           `json:"temperature,omitempty"`
	TopP          *float32           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Tools         []anthropicTool    `json:"tools,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string               `json:"role"`
	Content []anthropicContblock `json:"content"`
}

// anthropicContblock is one content block: text, image, or tool_use.
type anthropicContblock struct {
	Type   string                 `json:"type"`
	Text   string                 `json:"text,omitempty"`
	Source *anthropicImageSource  `json:"source,omitempty"`
	ID     string                 `json:"id,omitempty"`
	Name   string                 `json:"name,omitempty"`
	Input  map[string]interface{} `json:"input,omitempty"`
}

// anthropicImageSource embeds images inline as base64 or by external URL.
type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type anthropicTool struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema interface{} `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string               `json:"id"`
	Type       string               `json:"type"`
	Role       string               `json:"role"`
	Content    []anthropicContblock `json:"content"`
	Model      string               `json:"model"`
	StopReason string               `json:"stop_reason"`
	Usage      anthropicUsage       `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		apiKey:  apiKey,
		baseURL: anthropicMessagesURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Name returns the provider enum this adapter serves.
func (p *AnthropicProvider) Name() models.Provider {
	return models.ProviderAnthropic
}

// Complete makes a chat completion request to Anthropic
func (p *AnthropicProvider) Complete(ctx context.Context, d *models.ModelDescriptor, req ChatRequest) (*ChatResponse, error) {
	startTime := time.Now()

	httpResp, err := p.send(ctx, p.convertRequest(d, req, false))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, _ := io.ReadAll(httpResp.Body)
	if httpResp.StatusCode != http.StatusOK {
		return nil, anthropicError(httpResp.StatusCode, respBody)
	}

	var anthropicResp anthropicResponse
	if err := json.Unmarshal(respBody, &anthropicResp); err != nil {
		return nil, gwerr.Wrap(gwerr.CodeProviderError, err, "anthropic: malformed response body")
	}

	return p.convertResponse(d, anthropicResp, int(time.Since(startTime).Milliseconds())), nil
}

// Stream makes a streaming request
func (p *AnthropicProvider) Stream(ctx context.Context, d *models.ModelDescriptor, req ChatRequest) (StreamReader, error) {
	httpResp, err := p.send(ctx, p.convertRequest(d, req, true))
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, anthropicError(httpResp.StatusCode, respBody)
	}

	return &anthropicStreamReader{
		reader: bufio.NewReader(httpResp.Body),
		resp:   httpResp,
		model:  d.ID,
	}, nil
}

func (p *AnthropicProvider) send(ctx context.Context, body anthropicRequest) (*http.Response, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.CodeProviderError, err, "anthropic: encode request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, gwerr.Wrap(gwerr.CodeProviderError, err, "anthropic: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.CodeProviderError, err, "anthropic: call failed")
	}
	return httpResp, nil
}

// convertRequest performs the structural conversion to Anthropic's system
// prompt + turn list shape, with images embedded as content blocks.
func (p *AnthropicProvider) convertRequest(d *models.ModelDescriptor, req ChatRequest, stream bool) anthropicRequest {
	out := anthropicRequest{
		Model:         d.WireID,
		MaxTokens:     d.MaxOutputTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.Stop,
		Stream:        stream,
	}
	if mt := effectiveMaxTokens(req, d); mt > 0 {
		out.MaxTokens = mt
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 4096
	}

	var system []string
	for _, msg := range req.Messages {
		if msg.Role == openai.ChatMessageRoleSystem {
			system = append(system, messageText(msg))
			continue
		}
		out.Messages = append(out.Messages, anthropicMessage{
			Role:    msg.Role,
			Content: p.convertContent(d, msg),
		})
	}
	out.System = strings.Join(system, "\n\n")

	if d.SupportsToolCalling {
		for _, tool := range req.Tools {
			if tool.Function == nil {
				continue
			}
			out.Tools = append(out.Tools, anthropicTool{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				InputSchema: tool.Function.Parameters,
			})
		}
	}

	return out
}

func (p *AnthropicProvider) convertContent(d *models.ModelDescriptor, msg openai.ChatCompletionMessage) []anthropicContblock {
	if len(msg.MultiContent) == 0 || !d.SupportsVision {
		return []anthropicContblock{{Type: "text", Text: messageText(msg)}}
	}

	var blocks []anthropicContblock
	for _, part := range msg.MultiContent {
		switch part.Type {
		case openai.ChatMessagePartTypeText:
			blocks = append(blocks, anthropicContblock{Type: "text", Text: part.Text})
		case openai.ChatMessagePartTypeImageURL:
			if part.ImageURL == nil {
				continue
			}
			src := &anthropicImageSource{}
			if mediaType, data, ok := parseDataURL(part.ImageURL.URL); ok {
				src.Type = "base64"
				src.MediaType = mediaType
				src.Data = data
			} else {
				src.Type = "url"
				src.URL = part.ImageURL.URL
			}
			blocks = append(blocks, anthropicContblock{Type: "image", Source: src})
		}
	}
	return blocks
}

// convertResponse maps Anthropic content blocks back onto the canonical
// choice, including tool_use blocks.
func (p *AnthropicProvider) convertResponse(d *models.ModelDescriptor, resp anthropicResponse, latencyMs int) *ChatResponse {
	var content strings.Builder
	var toolCalls []openai.ToolCall
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "tool_use":
			args, _ := json.Marshal(block.Input)
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   block.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      block.Name,
					Arguments: string(args),
				},
			})
		}
	}

	return &ChatResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   d.ID,
		Choices: []openai.ChatCompletionChoice{
			{
				Index: 0,
				Message: openai.ChatCompletionMessage{
					Role:      openai.ChatMessageRoleAssistant,
					Content:   content.String(),
					ToolCalls: toolCalls,
				},
				FinishReason: anthropicFinishReason(resp.StopReason),
			},
		},
		Usage: openai.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		Provider:  models.ProviderAnthropic,
		LatencyMs: latencyMs,
	}
}

func anthropicFinishReason(stopReason string) openai.FinishReason {
	switch stopReason {
	case "max_tokens":
		return openai.FinishReasonLength
	case "tool_use":
		return openai.FinishReasonToolCalls
	default:
		return openai.FinishReasonStop
	}
}

// anthropicError extracts the upstream message on a non-2xx response.
func anthropicError(status int, body []byte) error {
	var parsed anthropicErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return gwerr.Provider(status, "anthropic: %s", parsed.Error.Message)
	}
	return gwerr.Provider(status, "anthropic: status %d", status)
}

// anthropicStreamReader translates the SSE event stream into canonical
// chunks: content_block_delta carries text, message_delta carries usage and
// the stop reason, message_stop ends the stream.
type anthropicStreamReader struct {
	reader       *bufio.Reader
	resp         *http.Response
	model        string
	inputTokens  int
	outputTokens int
}

func (r *anthropicStreamReader) Recv() (openai.ChatCompletionStreamResponse, error) {
	for {
		line, err := r.reader.ReadString('\n')
		if err != nil {
			return openai.ChatCompletionStreamResponse{}, err
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "event:") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		dataStr := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var event map[string]interface{}
		if err := json.Unmarshal([]byte(dataStr), &event); err != nil {
			continue
		}

		chunk := openai.ChatCompletionStreamResponse{
			Object: "chat.completion.chunk",
			Model:  r.model,
		}

		eventType, _ := event["type"].(string)
		switch eventType {
		case "message_start":
			if msg, ok := event["message"].(map[string]interface{}); ok {
				if usage, ok := msg["usage"].(map[string]interface{}); ok {
					if v, ok := usage["input_tokens"].(float64); ok {
						r.inputTokens = int(v)
					}
				}
			}
			chunk.Choices = []openai.ChatCompletionStreamChoice{
				{Index: 0, Delta: openai.ChatCompletionStreamChoiceDelta{Role: openai.ChatMessageRoleAssistant}},
			}
			return chunk, nil

		case "content_block_delta":
			delta, _ := event["delta"].(map[string]interface{})
			text, _ := delta["text"].(string)
			if text == "" {
				continue
			}
			chunk.Choices = []openai.ChatCompletionStreamChoice{
				{Index: 0, Delta: openai.ChatCompletionStreamChoiceDelta{Content: text}},
			}
			return chunk, nil

		case "message_delta":
			if usage, ok := event["usage"].(map[string]interface{}); ok {
				if v, ok := usage["output_tokens"].(float64); ok {
					r.outputTokens = int(v)
				}
			}
			finish := openai.FinishReasonStop
			if delta, ok := event["delta"].(map[string]interface{}); ok {
				if sr, ok := delta["stop_reason"].(string); ok && sr != "" {
					finish = anthropicFinishReason(sr)
				}
			}
			chunk.Choices = []openai.ChatCompletionStreamChoice{
				{Index: 0, FinishReason: finish},
			}
			chunk.Usage = &openai.Usage{
				PromptTokens:     r.inputTokens,
				CompletionTokens: r.outputTokens,
				TotalTokens:      r.inputTokens + r.outputTokens,
			}
			return chunk, nil

		case "message_stop":
			return openai.ChatCompletionStreamResponse{}, io.EOF
		}
	}
}

func (r *anthropicStreamReader) Close() error {
	if r.resp != nil && r.resp.Body != nil {
		return r.resp.Body.Close()
	}
	return nil
}
