package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/modelrelay/gateway/internal/gateway/gwerr"
	"github.com/modelrelay/gateway/internal/shared/models"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider handles Google Gemini API requests
type GeminiProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// geminiRequest represents a request to Gemini's API
type geminiRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	Tools             []geminiToolset         `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

// geminiPart is one content part: text, inline image data, an external file
// reference, or a function call.
type geminiPart struct {
	Text         string              `json:"text,omitempty"`
	InlineData   *geminiInlineData   `json:"inlineData,omitempty"`
	FileData     *geminiFileData     `json:"fileData,omitempty"`
	FunctionCall *geminiFunctionCall `json:"functionCall,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type geminiFunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

type geminiToolset struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiFunctionDeclaration struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  interface{} `json:"parameters,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature      *float32 `json:"temperature,omitempty"`
	TopP             *float32 `json:"topP,omitempty"`
	MaxOutputTokens  *int     `json:"maxOutputTokens,omitempty"`
	StopSequences    []string `json:"stopSequences,omitempty"`
	FrequencyPenalty *float32 `json:"frequencyPenalty,omitempty"`
	PresencePenalty  *float32 `json:"presencePenalty,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata geminiUsage       `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
	Index        int           `json:"index"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(apiKey string) *GeminiProvider {
	return &GeminiProvider{
		apiKey:  apiKey,
		baseURL: geminiBaseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Name returns the provider enum this adapter serves.
func (p *GeminiProvider) Name() models.Provider {
	return models.ProviderGoogle
}

// Complete makes a chat completion request to Gemini
func (p *GeminiProvider) Complete(ctx context.Context, d *models.ModelDescriptor, req ChatRequest) (*ChatResponse, error) {
	startTime := time.Now()

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, d.WireID, p.apiKey)
	httpResp, err := p.send(ctx, url, p.convertRequest(d, req))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, _ := io.ReadAll(httpResp.Body)
	if httpResp.StatusCode != http.StatusOK {
		return nil, geminiError(httpResp.StatusCode, body)
	}

	var geminiResp geminiResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return nil, gwerr.Wrap(gwerr.CodeProviderError, err, "gemini: malformed response body")
	}

	return p.convertResponse(d, geminiResp, int(time.Since(startTime).Milliseconds())), nil
}

// Stream makes a streaming request
func (p *GeminiProvider) Stream(ctx context.Context, d *models.ModelDescriptor, req ChatRequest) (StreamReader, error) {
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?key=%s&alt=sse", p.baseURL, d.WireID, p.apiKey)
	httpResp, err := p.send(ctx, url, p.convertRequest(d, req))
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		body, _ := io.ReadAll(httpResp.Body)
		return nil, geminiError(httpResp.StatusCode, body)
	}

	return &geminiStreamReader{
		reader: bufio.NewReader(httpResp.Body),
		resp:   httpResp,
		model:  d.ID,
	}, nil
}

func (p *GeminiProvider) send(ctx context.Context, url string, body geminiRequest) (*http.Response, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.CodeProviderError, err, "gemini: encode request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, gwerr.Wrap(gwerr.CodeProviderError, err, "gemini: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.CodeProviderError, err, "gemini: call failed")
	}
	return httpResp, nil
}

// convertRequest performs the structural conversion to Gemini's
// systemInstruction + contents/parts shape.
func (p *GeminiProvider) convertRequest(d *models.ModelDescriptor, req ChatRequest) geminiRequest {
	out := geminiRequest{}

	var system []string
	for _, msg := range req.Messages {
		if msg.Role == openai.ChatMessageRoleSystem {
			system = append(system, messageText(msg))
			continue
		}
		role := "user"
		if msg.Role == openai.ChatMessageRoleAssistant {
			role = "model"
		}
		out.Contents = append(out.Contents, geminiContent{
			Role:  role,
			Parts: p.convertParts(d, msg),
		})
	}
	if len(system) > 0 {
		out.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: strings.Join(system, "\n\n")}},
		}
	}

	if d.SupportsToolCalling && len(req.Tools) > 0 {
		var decls []geminiFunctionDeclaration
		for _, tool := range req.Tools {
			if tool.Function == nil {
				continue
			}
			decls = append(decls, geminiFunctionDeclaration{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  tool.Function.Parameters,
			})
		}
		if len(decls) > 0 {
			out.Tools = []geminiToolset{{FunctionDeclarations: decls}}
		}
	}

	cfg := &geminiGenerationConfig{
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		StopSequences:    req.Stop,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
	}
	if mt := effectiveMaxTokens(req, d); mt > 0 {
		cfg.MaxOutputTokens = &mt
	}
	out.GenerationConfig = cfg

	return out
}

func (p *GeminiProvider) convertParts(d *models.ModelDescriptor, msg openai.ChatCompletionMessage) []geminiPart {
	if len(msg.MultiContent) == 0 || !d.SupportsVision {
		return []geminiPart{{Text: messageText(msg)}}
	}

	var parts []geminiPart
	for _, part := range msg.MultiContent {
		switch part.Type {
		case openai.ChatMessagePartTypeText:
			parts = append(parts, geminiPart{Text: part.Text})
		case openai.ChatMessagePartTypeImageURL:
			if part.ImageURL == nil {
				continue
			}
			if mimeType, data, ok := parseDataURL(part.ImageURL.URL); ok {
				parts = append(parts, geminiPart{InlineData: &geminiInlineData{MimeType: mimeType, Data: data}})
			} else {
				parts = append(parts, geminiPart{FileData: &geminiFileData{FileURI: part.ImageURL.URL}})
			}
		}
	}
	return parts
}

// convertResponse maps Gemini candidates back onto the canonical choice,
// including functionCall parts.
func (p *GeminiProvider) convertResponse(d *models.ModelDescriptor, resp geminiResponse, latencyMs int) *ChatResponse {
	var content strings.Builder
	var toolCalls []openai.ToolCall
	finish := openai.FinishReasonStop

	if len(resp.Candidates) > 0 {
		candidate := resp.Candidates[0]
		finish = geminiFinishReason(candidate.FinishReason)
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				content.WriteString(part.Text)
			}
			if part.FunctionCall != nil {
				args, _ := json.Marshal(part.FunctionCall.Args)
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   "call_" + uuid.NewString(),
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      part.FunctionCall.Name,
						Arguments: string(args),
					},
				})
			}
		}
	}
	if len(toolCalls) > 0 {
		finish = openai.FinishReasonToolCalls
	}

	return &ChatResponse{
		ID:      "gemini-" + uuid.NewString(),
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
				FinishReason: finish,
			},
		},
		Usage: openai.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		},
		Provider:  models.ProviderGoogle,
		LatencyMs: latencyMs,
	}
}

func geminiFinishReason(reason string) openai.FinishReason {
	switch reason {
	case "MAX_TOKENS":
		return openai.FinishReasonLength
	case "SAFETY", "RECITATION":
		return openai.FinishReasonContentFilter
	default:
		return openai.FinishReasonStop
	}
}

// geminiError extracts the upstream message on a non-2xx response.
func geminiError(status int, body []byte) error {
	var parsed geminiErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return gwerr.Provider(status, "gemini: %s", parsed.Error.Message)
	}
	return gwerr.Provider(status, "gemini: status %d", status)
}

// geminiStreamReader translates the SSE frame stream into canonical chunks.
type geminiStreamReader struct {
	reader  *bufio.Reader
	resp    *http.Response
	model   string
	started bool
}

func (r *geminiStreamReader) Recv() (openai.ChatCompletionStreamResponse, error) {
	for {
		line, err := r.reader.ReadString('\n')
		if err != nil {
			return openai.ChatCompletionStreamResponse{}, err
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}

		dataStr := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var geminiResp geminiResponse
		if err := json.Unmarshal([]byte(dataStr), &geminiResp); err != nil {
			continue
		}

		return r.convertChunk(geminiResp), nil
	}
}

func (r *geminiStreamReader) Close() error {
	if r.resp != nil && r.resp.Body != nil {
		return r.resp.Body.Close()
	}
	return nil
}

// convertChunk converts one Gemini frame to a canonical chunk.
func (r *geminiStreamReader) convertChunk(resp geminiResponse) openai.ChatCompletionStreamResponse {
	chunk := openai.ChatCompletionStreamResponse{
		ID:      fmt.Sprintf("gemini-stream-%d", time.Now().UnixNano()),
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   r.model,
	}

	if len(resp.Candidates) > 0 {
		candidate := resp.Candidates[0]
		var content strings.Builder
		for _, part := range candidate.Content.Parts {
			content.WriteString(part.Text)
		}

		choice := openai.ChatCompletionStreamChoice{Index: candidate.Index}
		if !r.started {
			choice.Delta.Role = openai.ChatMessageRoleAssistant
			r.started = true
		}
		choice.Delta.Content = content.String()
		if candidate.FinishReason != "" {
			choice.FinishReason = geminiFinishReason(candidate.FinishReason)
		}
		chunk.Choices = []openai.ChatCompletionStreamChoice{choice}
	}

	if resp.UsageMetadata.TotalTokenCount > 0 {
		chunk.Usage = &openai.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}

	return chunk
}
