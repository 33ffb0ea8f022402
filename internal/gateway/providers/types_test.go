package providers

import (
	"testing"

	"github.com/sashabaranov/go-openai"

	"github.com/modelrelay/gateway/internal/shared/models"
)

func TestEffectiveMaxTokens(t *testing.T) {
	d := &models.ModelDescriptor{MaxOutputTokens: 4096}

	if got := effectiveMaxTokens(ChatRequest{}, d); got != 0 {
		t.Errorf("no request limit: got %d, want 0", got)
	}

	small := 100
	if got := effectiveMaxTokens(ChatRequest{MaxTokens: &small}, d); got != 100 {
		t.Errorf("within ceiling: got %d, want 100", got)
	}

	big := 100000
	if got := effectiveMaxTokens(ChatRequest{MaxTokens: &big}, d); got != 4096 {
		t.Errorf("above ceiling: got %d, want clamp to 4096", got)
	}
}

func TestFlattenForText(t *testing.T) {
	msg := openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: "What is this?"},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: "https://example.com/cat.png"}},
			{Type: openai.ChatMessagePartTypeText, Text: "Be specific."},
		},
	}

	flat := flattenForText(msg)
	if flat.Content != "What is this?\nBe specific." {
		t.Fatalf("flattened content = %q", flat.Content)
	}
	if flat.MultiContent != nil {
		t.Fatal("multipart content survived flattening")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	req := ChatRequest{
		Model: "gpt-4o",
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "original"},
		},
		Stop: []string{"END"},
	}

	clone := req.Clone()
	clone.Messages[0].Content = "changed"
	clone.Stop[0] = "STOP"

	if req.Messages[0].Content != "original" || req.Stop[0] != "END" {
		t.Fatal("mutating the clone leaked into the original")
	}
}

func TestParseDataURL(t *testing.T) {
	mediaType, data, ok := parseDataURL("data:image/png;base64,aGVsbG8=")
	if !ok {
		t.Fatal("well-formed data URL rejected")
	}
	if mediaType != "image/png" || data != "aGVsbG8=" {
		t.Fatalf("parsed %q / %q", mediaType, data)
	}

	if _, _, ok := parseDataURL("https://example.com/cat.png"); ok {
		t.Fatal("https URL accepted as data URL")
	}
}
