package transform

import (
	"encoding/json"
	"fmt"

	"github.com/plexusgw/plexus/internal/unified"
)

// The openAIResponses* wire types mirror the teacher's OpenAIProvider
// Responses-API shapes (llm/providers/openai/provider.go).
type openAIResponsesInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponsesTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type openAIResponsesRequest struct {
	Model              string                 `json:"model"`
	Input              []openAIResponsesInput `json:"input"`
	MaxOutputTokens    int                    `json:"max_output_tokens,omitempty"`
	Temperature        float64                `json:"temperature,omitempty"`
	TopP               float64                `json:"top_p,omitempty"`
	Tools              []openAIResponsesTool  `json:"tools,omitempty"`
	ToolChoice         any                    `json:"tool_choice,omitempty"`
	PreviousResponseID string                 `json:"previous_response_id,omitempty"`
	Store              bool                   `json:"store,omitempty"`
}

type openAIContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type openAIResponsesOutput struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Status  string          `json:"status"`
	Role    string          `json:"role"`
	Content []openAIContent `json:"content"`
}

type openAIResponsesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type openAIResponsesResponse struct {
	ID     string                   `json:"id"`
	Status string                   `json:"status"`
	Model  string                   `json:"model"`
	Output []openAIResponsesOutput  `json:"output"`
	Usage  *openAIResponsesUsage    `json:"usage,omitempty"`
}

// ResponsesTransformer implements the OpenAI Responses API dialect (spec
// §4.4), grounded on the teacher's OpenAIProvider Responses-API path.
type ResponsesTransformer struct{}

func NewResponsesTransformer() *ResponsesTransformer { return &ResponsesTransformer{} }

func (t *ResponsesTransformer) DefaultEndpoint(req *unified.UnifiedRequest) string {
	return "/v1/responses"
}

func (t *ResponsesTransformer) ParseRequest(rawBody []byte) (*unified.UnifiedRequest, []unified.TransformWarning, error) {
	var wire openAIResponsesRequest
	if err := json.Unmarshal(rawBody, &wire); err != nil {
		return nil, nil, fmt.Errorf("transform/responses: parse request: %w", err)
	}
	out := &unified.UnifiedRequest{
		Model: wire.Model, IncomingAPIType: string(APIResponses), OriginalBody: append(json.RawMessage(nil), rawBody...),
	}
	if wire.MaxOutputTokens > 0 {
		out.MaxOutputTokens = &wire.MaxOutputTokens
	}
	if wire.Temperature != 0 {
		out.Temperature = &wire.Temperature
	}
	if wire.TopP != 0 {
		out.TopP = &wire.TopP
	}
	if wire.PreviousResponseID != "" {
		if out.Metadata == nil {
			out.Metadata = map[string]string{}
		}
		out.Metadata["previous_response_id"] = wire.PreviousResponseID
	}
	for _, in := range wire.Input {
		role := unified.Role(in.Role)
		if role == unified.RoleDeveloper {
			role = unified.RoleSystem
		}
		out.Messages = append(out.Messages, unified.Message{
			Role: role, Parts: []unified.ContentPart{{Kind: unified.PartText, Text: in.Content}},
		})
	}
	for _, tl := range wire.Tools {
		out.Tools = append(out.Tools, unified.ToolDefinition{Name: tl.Function.Name, Parameters: tl.Function.Arguments})
	}
	return out, nil, nil
}

func (t *ResponsesTransformer) TransformRequest(req *unified.UnifiedRequest) ([]byte, error) {
	wire := openAIResponsesRequest{Model: req.Model, Store: true}
	if req.MaxOutputTokens != nil {
		wire.MaxOutputTokens = *req.MaxOutputTokens
	}
	if req.Temperature != nil {
		wire.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		wire.TopP = *req.TopP
	}
	if req.Metadata != nil {
		wire.PreviousResponseID = req.Metadata["previous_response_id"]
	}
	for _, m := range req.Messages {
		wire.Input = append(wire.Input, openAIResponsesInput{Role: string(m.Role), Content: m.Text()})
	}
	for _, tl := range req.Tools {
		wire.Tools = append(wire.Tools, openAIResponsesTool{Type: "function", Function: chatFunction{Name: tl.Name, Arguments: tl.Parameters}})
	}
	return json.Marshal(wire)
}

func (t *ResponsesTransformer) TransformResponse(providerPayload []byte) (*unified.UnifiedResponse, error) {
	var wire openAIResponsesResponse
	if err := json.Unmarshal(providerPayload, &wire); err != nil {
		return nil, fmt.Errorf("transform/responses: parse response: %w", err)
	}
	out := &unified.UnifiedResponse{ID: wire.ID, Model: wire.Model, RawResponseSnapshot: providerPayload}
	if wire.Usage != nil {
		out.Usage = unified.Usage{InputTokens: wire.Usage.InputTokens, OutputTokens: wire.Usage.OutputTokens, TotalTokens: wire.Usage.TotalTokens}
	}
	out.FinishReason = unified.FinishStop
	for _, o := range wire.Output {
		if o.Type != "message" {
			continue
		}
		for _, c := range o.Content {
			switch c.Type {
			case "output_text", "text":
				out.Parts = append(out.Parts, unified.ContentPart{Kind: unified.PartText, Text: c.Text})
			case "tool_call", "function_call":
				out.FinishReason = unified.FinishToolCalls
				out.Parts = append(out.Parts, unified.ContentPart{Kind: unified.PartToolCall, ToolCallID: c.ID, ToolName: c.Name, ToolArgsJSON: c.Arguments})
			}
		}
	}
	if wire.Status == "incomplete" {
		out.FinishReason = unified.FinishLength
	}
	return out, nil
}
