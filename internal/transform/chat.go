package transform

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/plexusgw/plexus/internal/unified"
)

// chatMessage mirrors the teacher's OpenAICompatMessage wire shape (OpenAI
// Chat Completions dialect), generalized to the canonical model instead of
// the old framework's flat llm.Message.
type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatRequest struct {
	Model       string          `json:"model"`
	Messages    []chatMessage   `json:"messages"`
	Tools       []chatTool      `json:"tools,omitempty"`
	ToolChoice  any             `json:"tool_choice,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	TopP        float64         `json:"top_p,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Seed        *int64          `json:"seed,omitempty"`
	ResponseFmt json.RawMessage `json:"response_format,omitempty"`
	User        string          `json:"user,omitempty"`
}

type chatChoice struct {
	Index        int          `json:"index"`
	FinishReason string       `json:"finish_reason"`
	Message      chatMessage  `json:"message"`
	Delta        *chatMessage `json:"delta,omitempty"`
}

type chatUsage struct {
	PromptTokens            int `json:"prompt_tokens"`
	CompletionTokens        int `json:"completion_tokens"`
	TotalTokens             int `json:"total_tokens"`
	CompletionTokensDetails *struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"completion_tokens_details,omitempty"`
	PromptTokensDetails *struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details,omitempty"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage,omitempty"`
}

// ChatTransformer implements the OpenAI Chat Completions dialect (spec
// §4.4), grounded on the teacher's OpenAICompat provider wire types.
type ChatTransformer struct{}

func NewChatTransformer() *ChatTransformer { return &ChatTransformer{} }

func (t *ChatTransformer) DefaultEndpoint(req *unified.UnifiedRequest) string {
	return "/v1/chat/completions"
}

func (t *ChatTransformer) ParseRequest(rawBody []byte) (*unified.UnifiedRequest, []unified.TransformWarning, error) {
	var wire chatRequest
	if err := json.Unmarshal(rawBody, &wire); err != nil {
		return nil, nil, fmt.Errorf("transform/chat: parse request: %w", err)
	}

	var warnings []unified.TransformWarning
	out := &unified.UnifiedRequest{
		Model:           wire.Model,
		Stream:          wire.Stream,
		Stop:            wire.Stop,
		Seed:            wire.Seed,
		User:            wire.User,
		IncomingAPIType: string(APIChat),
		OriginalBody:    append(json.RawMessage(nil), rawBody...),
	}
	if wire.MaxTokens > 0 {
		out.MaxOutputTokens = &wire.MaxTokens
	}
	if wire.Temperature != 0 {
		out.Temperature = &wire.Temperature
	}
	if wire.TopP != 0 {
		out.TopP = &wire.TopP
	}
	if len(wire.ResponseFmt) > 0 {
		var rf unified.ResponseFormat
		if err := json.Unmarshal(wire.ResponseFmt, &rf); err == nil {
			out.ResponseFormat = &rf
		}
	}

	for _, m := range wire.Messages {
		role := unified.Role(m.Role)
		if role == unified.RoleDeveloper {
			role = unified.RoleSystem
			warnings = append(warnings, unified.TransformWarning{
				Code: "developer_role_mapped", Message: "developer role mapped to system",
			})
		}
		msg := unified.Message{Role: role, Name: m.Name}
		if role == unified.RoleTool {
			part := toolResultFromText(m.Content)
			part.ToolResultForID = m.ToolCallID
			msg.Parts = append(msg.Parts, part)
			out.Messages = append(out.Messages, msg)
			continue
		}
		if m.Content != "" {
			msg.Parts = append(msg.Parts, unified.ContentPart{Kind: unified.PartText, Text: m.Content})
		}
		for _, tc := range m.ToolCalls {
			argsJSON, raw, warn := parseToolArgsJSON(chatArgsText(tc.Function.Arguments))
			warnings = addWarning(warnings, warn)
			msg.Parts = append(msg.Parts, unified.ContentPart{
				Kind: unified.PartToolCall, ToolCallID: tc.ID, ToolName: tc.Function.Name,
				ToolArgsJSON: argsJSON, ToolArgsRaw: raw,
			})
		}
		out.Messages = append(out.Messages, msg)
	}

	for _, tl := range wire.Tools {
		out.Tools = append(out.Tools, unified.ToolDefinition{
			Name: tl.Function.Name, Description: "", Parameters: tl.Function.Arguments,
		})
	}
	if tc, ok := wire.ToolChoice.(string); ok {
		choice := unified.ParseToolChoice(tc)
		out.ToolChoice = &choice
	}

	return out, warnings, nil
}

func (t *ChatTransformer) TransformRequest(req *unified.UnifiedRequest) ([]byte, error) {
	wire := chatRequest{Model: req.Model, Stream: req.Stream, Stop: req.Stop, Seed: req.Seed, User: req.User}
	if req.MaxOutputTokens != nil {
		wire.MaxTokens = *req.MaxOutputTokens
	}
	if req.Temperature != nil {
		wire.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		wire.TopP = *req.TopP
	}
	if req.ResponseFormat != nil {
		if b, err := json.Marshal(req.ResponseFormat); err == nil {
			wire.ResponseFmt = b
		}
	}
	if req.ToolChoice != nil {
		switch req.ToolChoice.Mode {
		case unified.ToolChoiceAuto, unified.ToolChoiceNone, unified.ToolChoiceRequired:
			wire.ToolChoice = string(req.ToolChoice.Mode)
		default:
			wire.ToolChoice = map[string]any{"type": "function", "function": map[string]string{"name": req.ToolChoice.Tool}}
		}
	}

	for _, m := range req.Messages {
		cm := chatMessage{Role: string(m.Role), Name: m.Name}
		if m.Role == unified.RoleTool {
			for _, p := range m.Parts {
				if p.Kind == unified.PartToolResult {
					cm.ToolCallID = p.ToolResultForID
					cm.Content = toolResultText(p)
				}
			}
			wire.Messages = append(wire.Messages, cm)
			continue
		}
		var text strings.Builder
		for _, p := range m.Parts {
			switch p.Kind {
			case unified.PartText:
				text.WriteString(p.Text)
			case unified.PartToolCall:
				argStr, _ := json.Marshal(marshalToolArgsString(p))
				cm.ToolCalls = append(cm.ToolCalls, chatToolCall{
					ID: p.ToolCallID, Type: "function",
					Function: chatFunction{Name: p.ToolName, Arguments: argStr},
				})
			}
		}
		cm.Content = text.String()
		wire.Messages = append(wire.Messages, cm)
	}

	for _, tl := range req.Tools {
		wire.Tools = append(wire.Tools, chatTool{Type: "function", Function: chatFunction{Name: tl.Name, Arguments: tl.Parameters}})
	}

	return json.Marshal(wire)
}

func (t *ChatTransformer) TransformResponse(providerPayload []byte) (*unified.UnifiedResponse, error) {
	var wire chatResponse
	if err := json.Unmarshal(providerPayload, &wire); err != nil {
		return nil, fmt.Errorf("transform/chat: parse response: %w", err)
	}
	out := &unified.UnifiedResponse{ID: wire.ID, Model: wire.Model, RawResponseSnapshot: providerPayload}
	if wire.Usage != nil {
		out.Usage = unified.Usage{
			InputTokens: wire.Usage.PromptTokens, OutputTokens: wire.Usage.CompletionTokens,
			TotalTokens: wire.Usage.TotalTokens,
		}
		if wire.Usage.CompletionTokensDetails != nil {
			out.Usage.ReasoningTokens = wire.Usage.CompletionTokensDetails.ReasoningTokens
		}
		if wire.Usage.PromptTokensDetails != nil {
			out.Usage.CachedTokens = wire.Usage.PromptTokensDetails.CachedTokens
		}
	}
	if len(wire.Choices) > 0 {
		c := wire.Choices[0]
		out.FinishReason = mapChatFinishReason(c.FinishReason)
		if c.Message.Content != "" {
			out.Parts = append(out.Parts, unified.ContentPart{Kind: unified.PartText, Text: c.Message.Content})
		}
		for _, tc := range c.Message.ToolCalls {
			argsJSON, raw, _ := parseToolArgsJSON(chatArgsText(tc.Function.Arguments))
			out.Parts = append(out.Parts, unified.ContentPart{
				Kind: unified.PartToolCall, ToolCallID: tc.ID, ToolName: tc.Function.Name,
				ToolArgsJSON: argsJSON, ToolArgsRaw: raw,
			})
		}
	}
	return out, nil
}

// chatFinishReasons is the closed finish-reason table for the chat dialect
// (spec §4.4).
var chatFinishReasons = map[string]unified.FinishReason{
	"stop":           unified.FinishStop,
	"length":         unified.FinishLength,
	"tool_calls":     unified.FinishToolCalls,
	"content_filter": unified.FinishContentFilter,
}

// chatArgsText returns the text of an OpenAI function.arguments field, which
// the wire carries as a JSON string; a non-string value is returned as-is.
func chatArgsText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func mapChatFinishReason(s string) unified.FinishReason {
	if r, ok := chatFinishReasons[s]; ok {
		return r
	}
	return unified.FinishError
}

func reverseChatFinishReason(r unified.FinishReason) string {
	switch r {
	case unified.FinishStop:
		return "stop"
	case unified.FinishLength:
		return "length"
	case unified.FinishToolCalls:
		return "tool_calls"
	case unified.FinishContentFilter:
		return "content_filter"
	default:
		return "stop"
	}
}

// TransformStream relays an OpenAI-dialect SSE stream and feeds acc for
// final-snapshot reconstruction (spec §4.4). Frames are written in the
// provider's framing; clientAPIType is not used to re-encode them.
func (t *ChatTransformer) TransformStream(upstream []byte, clientAPIType, providerAPIType APIType, acc *StreamAccumulator) ([]byte, error) {
	var out bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(upstream))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			out.WriteString(line)
			out.WriteByte('\n')
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			out.WriteString("data: [DONE]\n\n")
			continue
		}
		var chunk chatResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			out.WriteString(line)
			out.WriteByte('\n')
			continue
		}
		acc.SetIdentity(chunk.ID, chunk.Model)
		if chunk.Usage != nil {
			acc.SetUsage(unified.Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens, TotalTokens: chunk.Usage.TotalTokens})
		}
		for _, c := range chunk.Choices {
			if c.FinishReason != "" {
				acc.SetFinishReason(mapChatFinishReason(c.FinishReason))
			}
			if c.Delta == nil {
				continue
			}
			if c.Delta.Content != "" {
				acc.AppendText(c.Index, c.Delta.Content)
			}
			for i, tc := range c.Delta.ToolCalls {
				idx := c.Index*1000 + i
				if tc.ID != "" || tc.Function.Name != "" {
					acc.StartToolCall(idx, tc.ID, tc.Function.Name)
				}
				if len(tc.Function.Arguments) > 0 {
					acc.AppendToolArgs(idx, chatArgsText(tc.Function.Arguments))
				}
			}
		}

		// The frame is written back unchanged, in the provider's OpenAI
		// framing, whatever the client dialect (the dispatcher picks the
		// transformer by target, not source).
		out.WriteString("data: ")
		out.Write([]byte(payload))
		out.WriteString("\n\n")
	}
	return out.Bytes(), scanner.Err()
}
