package transform

import (
	"encoding/json"
	"fmt"

	"github.com/plexusgw/plexus/internal/unified"
)

// embeddingsRequest/embeddingsResponse mirror OpenAI's /v1/embeddings wire
// shape. The teacher repo has no embeddings provider to ground this on
// directly; it follows the same struct-tag and naming conventions as
// chatRequest/chatResponse for consistency with the rest of this package
// (see DESIGN.md).
type embeddingsRequest struct {
	Model          string `json:"model"`
	Input          any    `json:"input"`
	EncodingFormat string `json:"encoding_format,omitempty"`
	User           string `json:"user,omitempty"`
}

type embeddingsDatum struct {
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
	Object    string    `json:"object"`
}

type embeddingsResponse struct {
	Model string             `json:"model"`
	Data  []embeddingsDatum  `json:"data"`
	Usage *chatUsage         `json:"usage,omitempty"`
}

// EmbeddingsTransformer implements the OpenAI embeddings dialect (spec
// §4.4). It has no streaming variant and no assistant-role response content;
// parsed "messages" hold the embedding inputs as user-role text parts so the
// rest of the pipeline (cost estimation, logging) can treat it uniformly.
type EmbeddingsTransformer struct{}

func NewEmbeddingsTransformer() *EmbeddingsTransformer { return &EmbeddingsTransformer{} }

func (t *EmbeddingsTransformer) DefaultEndpoint(req *unified.UnifiedRequest) string {
	return "/v1/embeddings"
}

func (t *EmbeddingsTransformer) ParseRequest(rawBody []byte) (*unified.UnifiedRequest, []unified.TransformWarning, error) {
	var wire embeddingsRequest
	if err := json.Unmarshal(rawBody, &wire); err != nil {
		return nil, nil, fmt.Errorf("transform/embeddings: parse request: %w", err)
	}
	out := &unified.UnifiedRequest{
		Model: wire.Model, User: wire.User, IncomingAPIType: string(APIEmbeddings),
		OriginalBody: append(json.RawMessage(nil), rawBody...),
	}
	for _, text := range embeddingsInputTexts(wire.Input) {
		out.Messages = append(out.Messages, unified.Message{
			Role: unified.RoleUser, Parts: []unified.ContentPart{{Kind: unified.PartText, Text: text}},
		})
	}
	return out, nil, nil
}

func embeddingsInputTexts(input any) []string {
	switch v := input.(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func (t *EmbeddingsTransformer) TransformRequest(req *unified.UnifiedRequest) ([]byte, error) {
	wire := embeddingsRequest{Model: req.Model, User: req.User}
	if len(req.Messages) == 1 {
		wire.Input = req.Messages[0].Text()
	} else {
		texts := make([]string, len(req.Messages))
		for i, m := range req.Messages {
			texts[i] = m.Text()
		}
		wire.Input = texts
	}
	return json.Marshal(wire)
}

func (t *EmbeddingsTransformer) TransformResponse(providerPayload []byte) (*unified.UnifiedResponse, error) {
	var wire embeddingsResponse
	if err := json.Unmarshal(providerPayload, &wire); err != nil {
		return nil, fmt.Errorf("transform/embeddings: parse response: %w", err)
	}
	out := &unified.UnifiedResponse{Model: wire.Model, FinishReason: unified.FinishStop, RawResponseSnapshot: providerPayload}
	if wire.Usage != nil {
		out.Usage = unified.Usage{InputTokens: wire.Usage.PromptTokens, TotalTokens: wire.Usage.TotalTokens}
	}
	for _, d := range wire.Data {
		vecJSON, _ := json.Marshal(d.Embedding)
		out.Parts = append(out.Parts, unified.ContentPart{Kind: unified.PartToolResult, ResultJSON: vecJSON})
	}
	return out, nil
}
