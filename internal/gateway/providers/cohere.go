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

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/modelrelay/gateway/internal/gateway/gwerr"
	"github.com/modelrelay/gateway/internal/shared/models"
)

const cohereChatURL = "https://api.cohere.com/v1/chat"

// CohereProvider handles Cohere chat API requests. Cohere's wire format is
// the odd one out twice over: the conversation is a single message plus a
// separate chat_history, and streaming is newline-delimited JSON rather
// than server-sent events.
type CohereProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type cohereRequest struct {
	Model            string              `json:"model"`
	Message          string              `json:"message"`
	ChatHistory      []cohereChatMessage `json:"chat_history,omitempty"`
	Preamble         string              `json:"preamble,omitempty"`
	Temperature      *float32            `json:"temperature,omitempty"`
	P                *float32            `json:"p,omitempty"`
	MaxTokens        int                 `json:"max_tokens,omitempty"`
	StopSequences    []string            `json:"stop_sequences,omitempty"`
	FrequencyPenalty *float32            `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float32            `json:"presence_penalty,omitempty"`
	Stream           bool                `json:"stream,omitempty"`
}

type cohereChatMessage struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

type cohereResponse struct {
	ResponseID   string     `json:"response_id"`
	Text         string     `json:"text"`
	GenerationID string     `json:"generation_id"`
	FinishReason string     `json:"finish_reason"`
	Meta         cohereMeta `json:"meta"`
}

type cohereMeta struct {
	BilledUnits cohereBilledUnits `json:"billed_units"`
}

type cohereBilledUnits struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// cohereStreamEvent is one NDJSON frame of a streamed chat.
type cohereStreamEvent struct {
	EventType    string          `json:"event_type"`
	Text         string          `json:"text,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Response     *cohereResponse `json:"response,omitempty"`
}

type cohereErrorResponse struct {
	Message string `json:"message"`
}

// NewCohereProvider creates a new Cohere provider
func NewCohereProvider(apiKey string) *CohereProvider {
	return &CohereProvider{
		apiKey:  apiKey,
		baseURL: cohereChatURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Name returns the provider enum this adapter serves.
func (p *CohereProvider) Name() models.Provider {
	return models.ProviderCohere
}

// Complete makes a chat completion request to Cohere
func (p *CohereProvider) Complete(ctx context.Context, d *models.ModelDescriptor, req ChatRequest) (*ChatResponse, error) {
	startTime := time.Now()

	httpResp, err := p.send(ctx, p.convertRequest(d, req, false))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, _ := io.ReadAll(httpResp.Body)
	if httpResp.StatusCode != http.StatusOK {
		return nil, cohereError(httpResp.StatusCode, body)
	}

	var cohereResp cohereResponse
	if err := json.Unmarshal(body, &cohereResp); err != nil {
		return nil, gwerr.Wrap(gwerr.CodeProviderError, err, "cohere: malformed response body")
	}

	return p.convertResponse(d, cohereResp, int(time.Since(startTime).Milliseconds())), nil
}

// Stream makes a streaming request
func (p *CohereProvider) Stream(ctx context.Context, d *models.ModelDescriptor, req ChatRequest) (StreamReader, error) {
	httpResp, err := p.send(ctx, p.convertRequest(d, req, true))
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		body, _ := io.ReadAll(httpResp.Body)
		return nil, cohereError(httpResp.StatusCode, body)
	}

	return &cohereStreamReader{
		scanner: bufio.NewScanner(httpResp.Body),
		resp:    httpResp,
		model:   d.ID,
	}, nil
}

func (p *CohereProvider) send(ctx context.Context, body cohereRequest) (*http.Response, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.CodeProviderError, err, "cohere: encode request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, gwerr.Wrap(gwerr.CodeProviderError, err, "cohere: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.CodeProviderError, err, "cohere: call failed")
	}
	return httpResp, nil
}

// convertRequest maps the canonical message list onto Cohere's
// message + chat_history + preamble shape. Cohere is text-only here, so
// multipart content is always flattened.
func (p *CohereProvider) convertRequest(d *models.ModelDescriptor, req ChatRequest, stream bool) cohereRequest {
	out := cohereRequest{
		Model:            d.WireID,
		Temperature:      req.Temperature,
		P:                req.TopP,
		StopSequences:    req.Stop,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		Stream:           stream,
	}
	if mt := effectiveMaxTokens(req, d); mt > 0 {
		out.MaxTokens = mt
	}

	var preamble []string
	var turns []cohereChatMessage
	for _, msg := range req.Messages {
		text := messageText(msg)
		switch msg.Role {
		case openai.ChatMessageRoleSystem:
			preamble = append(preamble, text)
		case openai.ChatMessageRoleAssistant:
			turns = append(turns, cohereChatMessage{Role: "CHATBOT", Message: text})
		default:
			turns = append(turns, cohereChatMessage{Role: "USER", Message: text})
		}
	}
	out.Preamble = strings.Join(preamble, "\n\n")

	// The final user turn becomes the message; everything before it is
	// history.
	if n := len(turns); n > 0 {
		out.Message = turns[n-1].Message
		out.ChatHistory = turns[:n-1]
	}

	return out
}

func (p *CohereProvider) convertResponse(d *models.ModelDescriptor, resp cohereResponse, latencyMs int) *ChatResponse {
	id := resp.ResponseID
	if id == "" {
		id = "cohere-" + uuid.NewString()
	}

	promptTokens := resp.Meta.BilledUnits.InputTokens
	completionTokens := resp.Meta.BilledUnits.OutputTokens

	return &ChatResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   d.ID,
		Choices: []openai.ChatCompletionChoice{
			{
				Index: 0,
				Message: openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleAssistant,
					Content: resp.Text,
				},
				FinishReason: cohereFinishReason(resp.FinishReason),
			},
		},
		Usage: openai.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
		Provider:  models.ProviderCohere,
		LatencyMs: latencyMs,
	}
}

func cohereFinishReason(reason string) openai.FinishReason {
	switch reason {
	case "MAX_TOKENS":
		return openai.FinishReasonLength
	default:
		return openai.FinishReasonStop
	}
}

// cohereError extracts the upstream message on a non-2xx response.
func cohereError(status int, body []byte) error {
	var parsed cohereErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return gwerr.Provider(status, "cohere: %s", parsed.Message)
	}
	return gwerr.Provider(status, "cohere: status %d", status)
}

// cohereStreamReader translates the NDJSON event stream into canonical
// chunks: text-generation frames carry deltas, stream-end carries the final
// usage and finish reason.
type cohereStreamReader struct {
	scanner *bufio.Scanner
	resp    *http.Response
	model   string
	done    bool
}

func (r *cohereStreamReader) Recv() (openai.ChatCompletionStreamResponse, error) {
	if r.done {
		return openai.ChatCompletionStreamResponse{}, io.EOF
	}

	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}

		var event cohereStreamEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}

		chunk := openai.ChatCompletionStreamResponse{
			Object: "chat.completion.chunk",
			Model:  r.model,
		}

		switch event.EventType {
		case "stream-start":
			chunk.Choices = []openai.ChatCompletionStreamChoice{
				{Index: 0, Delta: openai.ChatCompletionStreamChoiceDelta{Role: openai.ChatMessageRoleAssistant}},
			}
			return chunk, nil

		case "text-generation":
			if event.Text == "" {
				continue
			}
			chunk.Choices = []openai.ChatCompletionStreamChoice{
				{Index: 0, Delta: openai.ChatCompletionStreamChoiceDelta{Content: event.Text}},
			}
			return chunk, nil

		case "stream-end":
			r.done = true
			chunk.Choices = []openai.ChatCompletionStreamChoice{
				{Index: 0, FinishReason: cohereFinishReason(event.FinishReason)},
			}
			if event.Response != nil {
				in := event.Response.Meta.BilledUnits.InputTokens
				out := event.Response.Meta.BilledUnits.OutputTokens
				chunk.Usage = &openai.Usage{
					PromptTokens:     in,
					CompletionTokens: out,
					TotalTokens:      in + out,
				}
			}
			return chunk, nil
		}
	}

	if err := r.scanner.Err(); err != nil {
		return openai.ChatCompletionStreamResponse{}, err
	}
	return openai.ChatCompletionStreamResponse{}, io.EOF
}

func (r *cohereStreamReader) Close() error {
	if r.resp != nil && r.resp.Body != nil {
		return r.resp.Body.Close()
	}
	return nil
}
