package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"

	"github.com/modelrelay/gateway/internal/gateway/gwerr"
	"github.com/modelrelay/gateway/internal/shared/models"
)

var claudeDescriptor = &models.ModelDescriptor{
	ID: "claude-haiku-4-5", Provider: models.ProviderAnthropic, WireID: "claude-haiku-4-5-20251001",
	MaxOutputTokens: 64000,
	SupportsStreaming: true, SupportsVision: true, SupportsToolCalling: true,
	Active: true,
}

func newAnthropicTestProvider(t *testing.T, handler http.HandlerFunc) *AnthropicProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p := NewAnthropicProvider("test-key")
	p.baseURL = srv.URL
	return p
}

func TestAnthropicComplete(t *testing.T) {
	var captured anthropicRequest
	p := newAnthropicTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got == "" {
			t.Error("anthropic-version header missing")
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &captured)

		json.NewEncoder(w).Encode(anthropicResponse{
			ID:         "msg_01",
			Role:       "assistant",
			Content:    []anthropicContblock{{Type: "text", Text: "Hei fra Claude"}},
			StopReason: "end_turn",
			Usage:      anthropicUsage{InputTokens: 12, OutputTokens: 5},
		})
	})

	resp, err := p.Complete(context.Background(), claudeDescriptor, ChatRequest{
		Model: "claude-haiku-4-5",
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "Answer in Norwegian."},
			{Role: openai.ChatMessageRoleUser, Content: "Say hi"},
		},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	// Wire conversion: system prompt pulled out, wire model id used.
	if captured.Model != "claude-haiku-4-5-20251001" {
		t.Errorf("wire model = %q", captured.Model)
	}
	if captured.System != "Answer in Norwegian." {
		t.Errorf("system = %q", captured.System)
	}
	if len(captured.Messages) != 1 || captured.Messages[0].Role != "user" {
		t.Fatalf("wire messages = %+v", captured.Messages)
	}
	if captured.MaxTokens <= 0 {
		t.Error("max_tokens not set")
	}

	// Canonical response: public model id, usage, finish reason.
	if resp.Model != "claude-haiku-4-5" {
		t.Errorf("response model = %q, want public id", resp.Model)
	}
	if resp.Choices[0].Message.Content != "Hei fra Claude" {
		t.Errorf("content = %q", resp.Choices[0].Message.Content)
	}
	if resp.Choices[0].FinishReason != openai.FinishReasonStop {
		t.Errorf("finish reason = %q", resp.Choices[0].FinishReason)
	}
	if resp.Usage.TotalTokens != 17 {
		t.Errorf("total tokens = %d, want 17", resp.Usage.TotalTokens)
	}
}

func TestAnthropicCompleteToolUse(t *testing.T) {
	p := newAnthropicTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(anthropicResponse{
			ID:   "msg_02",
			Role: "assistant",
			Content: []anthropicContblock{
				{Type: "tool_use", ID: "toolu_01", Name: "get_weather", Input: map[string]interface{}{"city": "Oslo"}},
			},
			StopReason: "tool_use",
			Usage:      anthropicUsage{InputTokens: 20, OutputTokens: 8},
		})
	})

	resp, err := p.Complete(context.Background(), claudeDescriptor, ChatRequest{
		Model:    "claude-haiku-4-5",
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "weather?"}},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if resp.Choices[0].FinishReason != openai.FinishReasonToolCalls {
		t.Errorf("finish reason = %q, want tool_calls", resp.Choices[0].FinishReason)
	}
	calls := resp.Choices[0].Message.ToolCalls
	if len(calls) != 1 || calls[0].Function.Name != "get_weather" {
		t.Fatalf("tool calls = %+v", calls)
	}
	var args map[string]string
	if err := json.Unmarshal([]byte(calls[0].Function.Arguments), &args); err != nil || args["city"] != "Oslo" {
		t.Fatalf("arguments = %q", calls[0].Function.Arguments)
	}
}

func TestAnthropicImageConversion(t *testing.T) {
	var captured anthropicRequest
	p := newAnthropicTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &captured)
		json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContblock{{Type: "text", Text: "a cat"}},
			Usage:   anthropicUsage{InputTokens: 1, OutputTokens: 1},
		})
	})

	_, err := p.Complete(context.Background(), claudeDescriptor, ChatRequest{
		Model: "claude-haiku-4-5",
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "what is this"},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: "data:image/png;base64,aGVsbG8="}},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	blocks := captured.Messages[0].Content
	if len(blocks) != 2 {
		t.Fatalf("content blocks = %d, want 2", len(blocks))
	}
	img := blocks[1]
	if img.Type != "image" || img.Source == nil {
		t.Fatalf("second block = %+v, want image", img)
	}
	if img.Source.Type != "base64" || img.Source.MediaType != "image/png" || img.Source.Data != "aGVsbG8=" {
		t.Fatalf("image source = %+v", img.Source)
	}
}

func TestAnthropicErrorMapping(t *testing.T) {
	p := newAnthropicTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"type": "rate_limit_error", "message": "overloaded"}}`))
	})

	_, err := p.Complete(context.Background(), claudeDescriptor, ChatRequest{
		Model:    "claude-haiku-4-5",
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "hi"}},
	})
	if !gwerr.Is(err, gwerr.CodeProviderError) {
		t.Fatalf("error = %v, want provider_error", err)
	}
	var ge *gwerr.Error
	if !errors.As(err, &ge) || ge.UpstreamStatus != http.StatusTooManyRequests {
		t.Fatalf("upstream status not carried: %v", err)
	}
}

func TestAnthropicStream(t *testing.T) {
	const sse = `event: message_start
data: {"type": "message_start", "message": {"usage": {"input_tokens": 9}}}

event: content_block_delta
data: {"type": "content_block_delta", "delta": {"type": "text_delta", "text": "Hel"}}

event: content_block_delta
data: {"type": "content_block_delta", "delta": {"type": "text_delta", "text": "lo"}}

event: message_delta
data: {"type": "message_delta", "delta": {"stop_reason": "end_turn"}, "usage": {"output_tokens": 2}}

event: message_stop
data: {"type": "message_stop"}

`
	p := newAnthropicTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(sse))
	})

	stream, err := p.Stream(context.Background(), claudeDescriptor, ChatRequest{
		Model:    "claude-haiku-4-5",
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "hi"}},
		Stream:   true,
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer stream.Close()

	var text string
	var usage *openai.Usage
	sawRole := false
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Role == openai.ChatMessageRoleAssistant {
				sawRole = true
			}
			text += choice.Delta.Content
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}

	if !sawRole {
		t.Error("no role delta from message_start")
	}
	if text != "Hello" {
		t.Errorf("streamed text = %q, want Hello", text)
	}
	if usage == nil || usage.PromptTokens != 9 || usage.CompletionTokens != 2 {
		t.Fatalf("usage = %+v, want 9/2", usage)
	}
}
