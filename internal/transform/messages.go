package transform

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/plexusgw/plexus/internal/unified"
)

// The claude* wire types mirror the teacher's ClaudeProvider shapes
// (providers/anthropic/provider.go), generalized onto the canonical model.
type claudeMessage struct {
	Role    string          `json:"role"`
	Content []claudeContent `json:"content"`
}

type claudeContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	// Thinking blocks (reasoning parts): a plaintext "thinking" block
	// carries Thinking+Signature; a redacted one carries only Data.
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
	Data      string `json:"data,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type claudeTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	Messages    []claudeMessage `json:"messages"`
	System      string          `json:"system,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature,omitempty"`
	TopP        float64         `json:"top_p,omitempty"`
	StopSeq     []string        `json:"stop_sequences,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Tools       []claudeTool    `json:"tools,omitempty"`
	ToolChoice  any             `json:"tool_choice,omitempty"`
	Metadata    *claudeMetadata `json:"metadata,omitempty"`
}

type claudeMetadata struct {
	UserID string `json:"user_id,omitempty"`
}

type claudeUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}

type claudeResponse struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Role         string          `json:"role"`
	Content      []claudeContent `json:"content"`
	Model        string          `json:"model"`
	StopReason   string          `json:"stop_reason"`
	StopSequence string          `json:"stop_sequence,omitempty"`
	Usage        *claudeUsage    `json:"usage,omitempty"`
}

type claudeStreamEvent struct {
	Type         string          `json:"type"`
	Index        int             `json:"index"`
	Delta        *claudeDelta    `json:"delta,omitempty"`
	ContentBlock *claudeContent  `json:"content_block,omitempty"`
	Message      *claudeResponse `json:"message,omitempty"`
	Usage        *claudeUsage    `json:"usage,omitempty"`
}

type claudeDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// MessagesTransformer implements the Anthropic Messages dialect (spec
// §4.4), grounded on the teacher's ClaudeProvider wire types.
type MessagesTransformer struct{}

func NewMessagesTransformer() *MessagesTransformer { return &MessagesTransformer{} }

func (t *MessagesTransformer) DefaultEndpoint(req *unified.UnifiedRequest) string {
	return "/v1/messages"
}

func (t *MessagesTransformer) ParseRequest(rawBody []byte) (*unified.UnifiedRequest, []unified.TransformWarning, error) {
	var wire claudeRequest
	if err := json.Unmarshal(rawBody, &wire); err != nil {
		return nil, nil, fmt.Errorf("transform/messages: parse request: %w", err)
	}

	var warnings []unified.TransformWarning
	out := &unified.UnifiedRequest{
		Model: wire.Model, Stream: wire.Stream, Stop: wire.StopSeq,
		IncomingAPIType: string(APIMessages), OriginalBody: append(json.RawMessage(nil), rawBody...),
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
	if wire.Metadata != nil {
		out.User = wire.Metadata.UserID
	}
	if wire.System != "" {
		out.Messages = append(out.Messages, unified.Message{
			Role: unified.RoleSystem, Parts: []unified.ContentPart{{Kind: unified.PartText, Text: wire.System}},
		})
	}

	for _, m := range wire.Messages {
		msg := unified.Message{Role: unified.Role(m.Role)}
		for _, c := range m.Content {
			switch c.Type {
			case "text":
				msg.Parts = append(msg.Parts, unified.ContentPart{Kind: unified.PartText, Text: c.Text})
			case "tool_use":
				// Anthropic's "input" is already a JSON object, unlike the
				// string-encoded arguments other dialects use.
				argsJSON := c.Input
				if len(argsJSON) == 0 {
					argsJSON = json.RawMessage("{}")
				}
				msg.Parts = append(msg.Parts, unified.ContentPart{
					Kind: unified.PartToolCall, ToolCallID: c.ID, ToolName: c.Name, ToolArgsJSON: argsJSON,
				})
			case "tool_result":
				part := toolResultFromText(c.Content)
				part.ToolResultForID = c.ToolUseID
				part.IsError = c.IsError
				msg.Parts = append(msg.Parts, part)
			case "thinking":
				msg.Parts = append(msg.Parts, unified.ContentPart{
					Kind: unified.PartReasoning, ReasoningText: c.Thinking, ReasoningSignature: c.Signature,
				})
			case "redacted_thinking":
				msg.Parts = append(msg.Parts, unified.ContentPart{Kind: unified.PartReasoning, ReasoningEncrypted: c.Data})
			default:
				warnings = append(warnings, unified.TransformWarning{
					Code: "unsupported_content_block", Message: "unrecognized messages content block type: " + c.Type,
				})
			}
		}
		out.Messages = append(out.Messages, msg)
	}

	for _, tl := range wire.Tools {
		out.Tools = append(out.Tools, unified.ToolDefinition{Name: tl.Name, Description: tl.Description, Parameters: tl.InputSchema})
	}

	return out, warnings, nil
}

func (t *MessagesTransformer) TransformRequest(req *unified.UnifiedRequest) ([]byte, error) {
	wire := claudeRequest{Model: req.Model, Stream: req.Stream, StopSeq: req.Stop, MaxTokens: 4096}
	if req.MaxOutputTokens != nil {
		wire.MaxTokens = *req.MaxOutputTokens
	}
	if req.Temperature != nil {
		wire.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		wire.TopP = *req.TopP
	}
	if req.User != "" {
		wire.Metadata = &claudeMetadata{UserID: req.User}
	}

	for _, m := range req.Messages {
		if m.Role == unified.RoleSystem || m.Role == unified.RoleDeveloper {
			wire.System += m.Text()
			continue
		}
		cm := claudeMessage{Role: string(m.Role)}
		if m.Role == unified.RoleTool {
			cm.Role = "user"
		}
		for _, p := range m.Parts {
			switch p.Kind {
			case unified.PartText:
				cm.Content = append(cm.Content, claudeContent{Type: "text", Text: p.Text})
			case unified.PartToolCall:
				cm.Content = append(cm.Content, claudeContent{Type: "tool_use", ID: p.ToolCallID, Name: p.ToolName, Input: p.ToolArgsJSON})
			case unified.PartToolResult:
				cm.Content = append(cm.Content, claudeContent{
					Type: "tool_result", ToolUseID: p.ToolResultForID, Content: toolResultText(p), IsError: p.IsError,
				})
			case unified.PartReasoning:
				if p.ReasoningEncrypted != "" {
					cm.Content = append(cm.Content, claudeContent{Type: "redacted_thinking", Data: p.ReasoningEncrypted})
				} else {
					sig := p.ReasoningSignature
					if sig == "" {
						// Anthropic requires a signature on plaintext thinking
						// blocks; absent one, fall back to the redacted form
						// (spec §4.4's reasoning mapping rule).
						cm.Content = append(cm.Content, claudeContent{
							Type: "redacted_thinking",
							Data: base64.StdEncoding.EncodeToString([]byte(p.ReasoningText)),
						})
						continue
					}
					cm.Content = append(cm.Content, claudeContent{Type: "thinking", Thinking: p.ReasoningText, Signature: sig})
				}
			}
		}
		if len(cm.Content) > 0 {
			wire.Messages = append(wire.Messages, cm)
		}
	}

	for _, tl := range req.Tools {
		wire.Tools = append(wire.Tools, claudeTool{Name: tl.Name, Description: tl.Description, InputSchema: tl.Parameters})
	}
	if req.ToolChoice != nil {
		switch req.ToolChoice.Mode {
		case unified.ToolChoiceAuto:
			wire.ToolChoice = map[string]string{"type": "auto"}
		case unified.ToolChoiceRequired:
			wire.ToolChoice = map[string]string{"type": "any"}
		case unified.ToolChoiceNone:
			// Anthropic has no explicit "none"; omitting tools entirely is
			// the caller's responsibility upstream of this transformer.
		default:
			wire.ToolChoice = map[string]string{"type": "tool", "name": req.ToolChoice.Tool}
		}
	}

	return json.Marshal(wire)
}

func (t *MessagesTransformer) TransformResponse(providerPayload []byte) (*unified.UnifiedResponse, error) {
	var wire claudeResponse
	if err := json.Unmarshal(providerPayload, &wire); err != nil {
		return nil, fmt.Errorf("transform/messages: parse response: %w", err)
	}
	out := &unified.UnifiedResponse{
		ID: wire.ID, Model: wire.Model, FinishReason: mapClaudeStopReason(wire.StopReason),
		RawResponseSnapshot: providerPayload,
	}
	if wire.Usage != nil {
		out.Usage = unified.Usage{
			InputTokens: wire.Usage.InputTokens, OutputTokens: wire.Usage.OutputTokens,
			CachedTokens: wire.Usage.CacheReadInputTokens,
			TotalTokens:  wire.Usage.InputTokens + wire.Usage.OutputTokens,
		}
	}
	for _, c := range wire.Content {
		switch c.Type {
		case "text":
			out.Parts = append(out.Parts, unified.ContentPart{Kind: unified.PartText, Text: c.Text})
		case "tool_use":
			out.Parts = append(out.Parts, unified.ContentPart{Kind: unified.PartToolCall, ToolCallID: c.ID, ToolName: c.Name, ToolArgsJSON: c.Input})
		case "thinking":
			out.Parts = append(out.Parts, unified.ContentPart{Kind: unified.PartReasoning, ReasoningText: c.Thinking, ReasoningSignature: c.Signature})
		case "redacted_thinking":
			out.Parts = append(out.Parts, unified.ContentPart{Kind: unified.PartReasoning, ReasoningEncrypted: c.Data})
		}
	}
	return out, nil
}

// claudeStopReasons is the closed finish-reason table for the messages
// dialect (spec §4.4).
var claudeStopReasons = map[string]unified.FinishReason{
	"end_turn":      unified.FinishStop,
	"stop_sequence": unified.FinishStop,
	"max_tokens":    unified.FinishLength,
	"tool_use":      unified.FinishToolCalls,
}

func mapClaudeStopReason(s string) unified.FinishReason {
	if r, ok := claudeStopReasons[s]; ok {
		return r
	}
	return unified.FinishError
}

func reverseClaudeStopReason(r unified.FinishReason) string {
	switch r {
	case unified.FinishStop:
		return "end_turn"
	case unified.FinishLength:
		return "max_tokens"
	case unified.FinishToolCalls:
		return "tool_use"
	case unified.FinishContentFilter:
		return "end_turn"
	default:
		return "end_turn"
	}
}

// TransformStream relays an Anthropic Messages SSE stream
// (message_start/content_block_start/_delta/_stop/message_delta/
// message_stop), feeding acc for final-snapshot reconstruction.
func (t *MessagesTransformer) TransformStream(upstream []byte, clientAPIType, providerAPIType APIType, acc *StreamAccumulator) ([]byte, error) {
	var out bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(upstream))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			out.WriteString(line)
			out.WriteByte('\n')
			continue
		case !strings.HasPrefix(line, "data:"):
			out.WriteString(line)
			out.WriteByte('\n')
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var ev claudeStreamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err == nil {
			switch event {
			case "message_start":
				if ev.Message != nil {
					acc.SetIdentity(ev.Message.ID, ev.Message.Model)
				}
			case "content_block_start":
				if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
					acc.StartToolCall(ev.Index, ev.ContentBlock.ID, ev.ContentBlock.Name)
				}
			case "content_block_delta":
				if ev.Delta != nil {
					switch ev.Delta.Type {
					case "text_delta":
						acc.AppendText(ev.Index, ev.Delta.Text)
					case "input_json_delta":
						acc.AppendToolArgs(ev.Index, ev.Delta.PartialJSON)
					}
				}
			case "message_delta":
				if ev.Delta != nil && ev.Delta.StopReason != "" {
					acc.SetFinishReason(mapClaudeStopReason(ev.Delta.StopReason))
				}
				if ev.Usage != nil {
					acc.SetUsage(unified.Usage{InputTokens: ev.Usage.InputTokens, OutputTokens: ev.Usage.OutputTokens})
				}
			}
		}

		out.WriteString("data: ")
		out.WriteString(payload)
		out.WriteString("\n\n")
		event = ""
	}
	return out.Bytes(), scanner.Err()
}
