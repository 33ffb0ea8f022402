// Package emulator lets models without native function calling participate
// in tool-calling workflows. It injects a prompt instructing the model to
// answer with one delimiter-wrapped JSON object when invoking a tool, then
// parses that block back out of the completion text. The parse is
// best-effort text protocol: on any failure the response passes through as
// ordinary assistant text.
package emulator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"
	"github.com/sashabaranov/go-openai"

	"github.com/modelrelay/gateway/internal/gateway/providers"
	"github.com/modelrelay/gateway/internal/shared/models"
)

const (
	openDelimiter  = "<<tool_call>>"
	closeDelimiter = "<</tool_call>>"
)

// Active reports whether emulation applies: the request declares tools and
// the model has no native tool calling.
func Active(req providers.ChatRequest, d *models.ModelDescriptor) bool {
	return len(req.Tools) > 0 && !d.SupportsToolCalling
}

// Prepare returns a transformed copy of the request: the tool definitions
// are rewritten into a system instruction, the native tool fields are
// stripped, and streaming is downgraded. Free-form emulation is unreliable
// under token-by-token delivery, so the downgrade is deliberate.
func Prepare(req providers.ChatRequest) providers.ChatRequest {
	out := req.Clone()

	instruction := buildInstruction(out.Tools)
	merged := false
	for i, msg := range out.Messages {
		if msg.Role == openai.ChatMessageRoleSystem {
			msg.Content = msg.Content + "\n\n" + instruction
			out.Messages[i] = msg
			merged = true
			break
		}
	}
	if !merged {
		out.Messages = append([]openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: instruction},
		}, out.Messages...)
	}

	out.Tools = nil
	out.Stream = false
	return out
}

// buildInstruction describes each tool and the reply protocol.
func buildInstruction(tools []openai.Tool) string {
	var b strings.Builder
	b.WriteString("You have access to the following tools:\n\n")

	for _, tool := range tools {
		if tool.Function == nil {
			continue
		}
		fmt.Fprintf(&b, "- %s", tool.Function.Name)
		if tool.Function.Description != "" {
			fmt.Fprintf(&b, ": %s", tool.Function.Description)
		}
		b.WriteString("\n")
		if tool.Function.Parameters != nil {
			if schema, err := json.Marshal(tool.Function.Parameters); err == nil {
				fmt.Fprintf(&b, "  Parameters (JSON Schema): %s\n", schema)
			}
		}
	}

	fmt.Fprintf(&b, `
To call a tool, reply with exactly one block of this form and nothing else:

%s{"tool": "<tool name>", "arguments": {<arguments matching the schema>}}%s

If no tool is needed, reply with ordinary text and do not use the delimiters.`,
		openDelimiter, closeDelimiter)

	return b.String()
}

// toolInvocation is the JSON object the model is instructed to emit.
type toolInvocation struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

// Extract scans the completion text for the delimiter block and converts it
// into a canonical tool call: text content blanked, finish reason
// tool_calls. A response without a well-formed block is returned unchanged;
// emulation degrades gracefully rather than raising an error.
func Extract(resp *providers.ChatResponse) *providers.ChatResponse {
	if resp == nil || len(resp.Choices) == 0 {
		return resp
	}

	choice := resp.Choices[0]
	invocation, ok := parseBlock(choice.Message.Content)
	if !ok {
		return resp
	}

	args := string(invocation.Arguments)
	if args == "" {
		args = "{}"
	}

	choice.Message.Content = ""
	choice.Message.ToolCalls = []openai.ToolCall{
		{
			ID:   "call_" + uuid.NewString(),
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      invocation.Tool,
				Arguments: args,
			},
		},
	}
	choice.FinishReason = openai.FinishReasonToolCalls
	resp.Choices[0] = choice
	return resp
}

// parseBlock finds the delimiter pair and decodes the JSON between them,
// repairing near-JSON (single quotes, unquoted keys, trailing commas)
// before giving up.
func parseBlock(content string) (toolInvocation, bool) {
	var invocation toolInvocation

	start := strings.Index(content, openDelimiter)
	if start < 0 {
		return invocation, false
	}
	rest := content[start+len(openDelimiter):]
	end := strings.Index(rest, closeDelimiter)
	if end < 0 {
		return invocation, false
	}

	block := strings.TrimSpace(rest[:end])
	if block == "" {
		return invocation, false
	}

	if err := json.Unmarshal([]byte(block), &invocation); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(block)
		if repairErr != nil {
			return toolInvocation{}, false
		}
		if err := json.Unmarshal([]byte(repaired), &invocation); err != nil {
			return toolInvocation{}, false
		}
	}

	if invocation.Tool == "" {
		return toolInvocation{}, false
	}
	return invocation, true
}
