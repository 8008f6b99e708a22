package transform

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/plexusgw/plexus/internal/unified"
)

// The gemini* wire types mirror the teacher's GeminiProvider shapes
// (llm/providers/gemini/provider.go), generalized onto the canonical model.
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	InlineData       *geminiInlineData       `json:"inlineData,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations,omitempty"`
}

type geminiFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     float64  `json:"temperature,omitempty"`
	TopP            float64  `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
	Index        int           `json:"index"`
}

type geminiUsageMetadata struct {
	PromptTokenCount        int `json:"promptTokenCount"`
	CandidatesTokenCount    int `json:"candidatesTokenCount"`
	TotalTokenCount         int `json:"totalTokenCount"`
	CachedContentTokenCount int `json:"cachedContentTokenCount,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string               `json:"modelVersion,omitempty"`
	ResponseID    string               `json:"responseId,omitempty"`
}

// GeminiTransformer implements the Google Gemini generateContent dialect
// (spec §4.4), grounded on the teacher's GeminiProvider wire types.
type GeminiTransformer struct{}

func NewGeminiTransformer() *GeminiTransformer { return &GeminiTransformer{} }

func (t *GeminiTransformer) DefaultEndpoint(req *unified.UnifiedRequest) string {
	action := "generateContent"
	if req != nil && req.Stream {
		action = "streamGenerateContent"
	}
	model := "unknown"
	if req != nil && req.Model != "" {
		model = req.Model
	}
	return fmt.Sprintf("/v1beta/models/%s:%s", model, action)
}

func (t *GeminiTransformer) ParseRequest(rawBody []byte) (*unified.UnifiedRequest, []unified.TransformWarning, error) {
	var wire geminiRequest
	if err := json.Unmarshal(rawBody, &wire); err != nil {
		return nil, nil, fmt.Errorf("transform/gemini: parse request: %w", err)
	}
	var warnings []unified.TransformWarning
	out := &unified.UnifiedRequest{IncomingAPIType: string(APIGemini), OriginalBody: append(json.RawMessage(nil), rawBody...)}
	if wire.GenerationConfig != nil {
		gc := wire.GenerationConfig
		if gc.Temperature != 0 {
			out.Temperature = &gc.Temperature
		}
		if gc.TopP != 0 {
			out.TopP = &gc.TopP
		}
		if gc.MaxOutputTokens != 0 {
			out.MaxOutputTokens = &gc.MaxOutputTokens
		}
		out.Stop = gc.StopSequences
	}
	if wire.SystemInstruction != nil {
		out.Messages = append(out.Messages, unified.Message{
			Role: unified.RoleSystem, Parts: []unified.ContentPart{{Kind: unified.PartText, Text: geminiPartsText(wire.SystemInstruction.Parts)}},
		})
	}

	for _, c := range wire.Contents {
		role := unified.RoleUser
		if c.Role == "model" {
			role = unified.RoleAssistant
		}
		msg := unified.Message{Role: role}
		for _, p := range c.Parts {
			switch {
			case p.Text != "":
				msg.Parts = append(msg.Parts, unified.ContentPart{Kind: unified.PartText, Text: p.Text})
			case p.FunctionCall != nil:
				argsJSON, _ := json.Marshal(p.FunctionCall.Args)
				msg.Parts = append(msg.Parts, unified.ContentPart{Kind: unified.PartToolCall, ToolName: p.FunctionCall.Name, ToolArgsJSON: argsJSON})
			case p.FunctionResponse != nil:
				resultJSON, _ := json.Marshal(p.FunctionResponse.Response)
				msg.Parts = append(msg.Parts, unified.ContentPart{Kind: unified.PartToolResult, ToolResultForID: p.FunctionResponse.Name, ResultJSON: resultJSON})
			case p.InlineData != nil:
				msg.Parts = append(msg.Parts, unified.ContentPart{Kind: unified.PartFile, MimeType: p.InlineData.MimeType, Data: p.InlineData.Data})
			}
		}
		if len(msg.Parts) > 0 {
			out.Messages = append(out.Messages, msg)
		}
	}

	for _, tl := range wire.Tools {
		for _, fd := range tl.FunctionDeclarations {
			params, _ := json.Marshal(fd.Parameters)
			out.Tools = append(out.Tools, unified.ToolDefinition{Name: fd.Name, Description: fd.Description, Parameters: params})
		}
	}
	return out, warnings, nil
}

func (t *GeminiTransformer) TransformRequest(req *unified.UnifiedRequest) ([]byte, error) {
	wire := geminiRequest{}
	genCfg := &geminiGenerationConfig{}
	hasGenCfg := false
	if req.Temperature != nil {
		genCfg.Temperature = *req.Temperature
		hasGenCfg = true
	}
	if req.TopP != nil {
		genCfg.TopP = *req.TopP
		hasGenCfg = true
	}
	if req.MaxOutputTokens != nil {
		genCfg.MaxOutputTokens = *req.MaxOutputTokens
		hasGenCfg = true
	}
	if len(req.Stop) > 0 {
		genCfg.StopSequences = req.Stop
		hasGenCfg = true
	}
	if hasGenCfg {
		wire.GenerationConfig = genCfg
	}

	for _, m := range req.Messages {
		if m.Role == unified.RoleSystem || m.Role == unified.RoleDeveloper {
			wire.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: m.Text()}}}
			continue
		}
		role := string(m.Role)
		if role == "assistant" {
			role = "model"
		}
		content := geminiContent{Role: role}
		for _, p := range m.Parts {
			switch p.Kind {
			case unified.PartText:
				content.Parts = append(content.Parts, geminiPart{Text: p.Text})
			case unified.PartToolCall:
				var args map[string]any
				_ = json.Unmarshal(p.ToolArgsJSON, &args)
				content.Parts = append(content.Parts, geminiPart{FunctionCall: &geminiFunctionCall{Name: p.ToolName, Args: args}})
			case unified.PartToolResult:
				response := map[string]any{}
				if len(p.ResultJSON) > 0 {
					if err := json.Unmarshal(p.ResultJSON, &response); err != nil {
						response = map[string]any{"result": string(p.ResultJSON)}
					}
				} else {
					response = map[string]any{"result": p.ResultText}
				}
				content.Parts = append(content.Parts, geminiPart{FunctionResponse: &geminiFunctionResponse{Name: p.ToolResultForID, Response: response}})
			case unified.PartFile, unified.PartImage:
				content.Parts = append(content.Parts, geminiPart{InlineData: &geminiInlineData{MimeType: p.MimeType, Data: p.Data}})
			}
		}
		if len(content.Parts) > 0 {
			wire.Contents = append(wire.Contents, content)
		}
	}

	for _, tl := range req.Tools {
		var params map[string]any
		_ = json.Unmarshal(tl.Parameters, &params)
		wire.Tools = append(wire.Tools, geminiTool{FunctionDeclarations: []geminiFunctionDeclaration{{Name: tl.Name, Description: tl.Description, Parameters: params}}})
	}

	return json.Marshal(wire)
}

func (t *GeminiTransformer) TransformResponse(providerPayload []byte) (*unified.UnifiedResponse, error) {
	var wire geminiResponse
	if err := json.Unmarshal(providerPayload, &wire); err != nil {
		return nil, fmt.Errorf("transform/gemini: parse response: %w", err)
	}
	out := &unified.UnifiedResponse{ID: wire.ResponseID, Model: wire.ModelVersion, RawResponseSnapshot: providerPayload}
	if wire.UsageMetadata != nil {
		out.Usage = unified.Usage{
			InputTokens: wire.UsageMetadata.PromptTokenCount, OutputTokens: wire.UsageMetadata.CandidatesTokenCount,
			TotalTokens: wire.UsageMetadata.TotalTokenCount, CachedTokens: wire.UsageMetadata.CachedContentTokenCount,
		}
	}
	if len(wire.Candidates) > 0 {
		cand := wire.Candidates[0]
		out.FinishReason = mapGeminiFinishReason(cand.FinishReason)
		for _, p := range cand.Content.Parts {
			switch {
			case p.Text != "":
				out.Parts = append(out.Parts, unified.ContentPart{Kind: unified.PartText, Text: p.Text})
			case p.FunctionCall != nil:
				argsJSON, _ := json.Marshal(p.FunctionCall.Args)
				out.Parts = append(out.Parts, unified.ContentPart{Kind: unified.PartToolCall, ToolName: p.FunctionCall.Name, ToolArgsJSON: argsJSON})
			}
		}
	}
	return out, nil
}

// geminiFinishReasons is the closed finish-reason table for the gemini
// dialect (spec §4.4).
var geminiFinishReasons = map[string]unified.FinishReason{
	"STOP":        unified.FinishStop,
	"MAX_TOKENS":  unified.FinishLength,
	"SAFETY":      unified.FinishContentFilter,
	"RECITATION":  unified.FinishContentFilter,
	"OTHER":       unified.FinishError,
}

func mapGeminiFinishReason(s string) unified.FinishReason {
	if s == "" {
		return unified.FinishStop
	}
	if r, ok := geminiFinishReasons[s]; ok {
		return r
	}
	return unified.FinishError
}

func geminiPartsText(parts []geminiPart) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// TransformStream relays a Gemini streamGenerateContent stream. Unlike
// chat/messages, Gemini's stream is a JSON array of geminiResponse chunks
// (or, when proxied as SSE, one per data: line), not an SSE event taxonomy;
// each chunk is itself a complete geminiResponse with incremental parts.
func (t *GeminiTransformer) TransformStream(upstream []byte, clientAPIType, providerAPIType APIType, acc *StreamAccumulator) ([]byte, error) {
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
		var chunk geminiResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err == nil {
			acc.SetIdentity(chunk.ResponseID, chunk.ModelVersion)
			if chunk.UsageMetadata != nil {
				acc.SetUsage(unified.Usage{
					InputTokens: chunk.UsageMetadata.PromptTokenCount, OutputTokens: chunk.UsageMetadata.CandidatesTokenCount,
					TotalTokens: chunk.UsageMetadata.TotalTokenCount,
				})
			}
			for _, cand := range chunk.Candidates {
				if cand.FinishReason != "" {
					acc.SetFinishReason(mapGeminiFinishReason(cand.FinishReason))
				}
				for i, p := range cand.Content.Parts {
					if p.Text != "" {
						acc.AppendText(cand.Index*1000+i, p.Text)
					}
				}
			}
		}
		out.WriteString("data: ")
		out.WriteString(payload)
		out.WriteString("\n\n")
	}
	return out.Bytes(), scanner.Err()
}
