package cache

import (
	"context"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/modelrelay/gateway/internal/gateway/providers"
)

func testRequest() providers.ChatRequest {
	temp := float32(0.7)
	return providers.ChatRequest{
		Model:       "gpt-4o-mini",
		Temperature: &temp,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "hello"},
		},
	}
}

func testResponse() *providers.ChatResponse {
	return &providers.ChatResponse{
		ID:     "chatcmpl-abc",
		Object: "chat.completion",
		Model:  "gpt-4o-mini",
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "hi"}},
		},
		Usage: openai.Usage{PromptTokens: 5, CompletionTokens: 1, TotalTokens: 6},
	}
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	req := testRequest()

	if _, ok := c.Lookup(ctx, req); ok {
		t.Fatal("lookup on empty cache hit")
	}

	c.Store(ctx, req, testResponse(), time.Minute)

	got, ok := c.Lookup(ctx, req)
	if !ok {
		t.Fatal("lookup after store missed")
	}
	if got.ID != "chatcmpl-abc" || got.Choices[0].Message.Content != "hi" {
		t.Fatalf("cached response mangled: %+v", got)
	}
	if got.Usage.TotalTokens != 6 {
		t.Fatalf("cached usage = %d, want 6", got.Usage.TotalTokens)
	}
}

func TestLookupReturnsIndependentCopies(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	req := testRequest()
	c.Store(ctx, req, testResponse(), time.Minute)

	first, _ := c.Lookup(ctx, req)
	first.Choices[0].Message.Content = "mutated"

	second, _ := c.Lookup(ctx, req)
	if second.Choices[0].Message.Content != "hi" {
		t.Fatal("mutating a returned response leaked into the cache")
	}
}

func TestKeyDependsOnSamplingParameters(t *testing.T) {
	base := testRequest()

	hotter := base.Clone()
	temp := float32(0.9)
	hotter.Temperature = &temp

	if Key(base) == Key(hotter) {
		t.Fatal("different temperatures produced the same cache key")
	}
}

func TestKeyDependsOnMessages(t *testing.T) {
	base := testRequest()

	other := base.Clone()
	other.Messages[0].Content = "goodbye"

	if Key(base) == Key(other) {
		t.Fatal("different messages produced the same cache key")
	}
}

func TestKeyIgnoresDeliveryFields(t *testing.T) {
	base := testRequest()

	streamed := base.Clone()
	streamed.Stream = true
	streamed.NoCache = true
	streamed.CacheTTLSeconds = 120

	if Key(base) != Key(streamed) {
		t.Fatal("delivery fields changed the cache key")
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	now := time.Now()
	c := NewMemoryCache()
	c.now = func() time.Time { return now }
	ctx := context.Background()
	req := testRequest()

	c.Store(ctx, req, testResponse(), time.Minute)

	if _, ok := c.Lookup(ctx, req); !ok {
		t.Fatal("lookup inside TTL missed")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Lookup(ctx, req); ok {
		t.Fatal("lookup after TTL hit")
	}
}
