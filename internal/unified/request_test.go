package unified

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseToolChoice(t *testing.T) {
	cases := map[string]ToolChoice{
		"auto":          {Mode: ToolChoiceAuto},
		"none":          {Mode: ToolChoiceNone},
		"required":      {Mode: ToolChoiceRequired},
		"tool:get_time": {Mode: "tool", Tool: "get_time"},
		"garbage":       {Mode: ToolChoiceAuto},
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseToolChoice(in), "input %q", in)
	}
}

func TestMessageText(t *testing.T) {
	m := Message{
		Role: RoleUser,
		Parts: []ContentPart{
			{Kind: PartText, Text: "hello "},
			{Kind: PartToolCall, ToolName: "ignored"},
			{Kind: PartText, Text: "world"},
		},
	}
	assert.Equal(t, "hello world", m.Text())
}

func TestUnifiedRequestClone(t *testing.T) {
	req := &UnifiedRequest{
		Model:    "gpt-4",
		Messages: []Message{{Role: RoleUser, Parts: []ContentPart{{Kind: PartText, Text: "hi"}}}},
		Stop:     []string{"a", "b"},
		Metadata: map[string]string{"k": "v"},
	}
	clone := req.Clone()
	require.NotSame(t, req, clone)
	clone.Messages[0].Parts[0].Text = "mutated"
	clone.Metadata["k"] = "changed"
	assert.Equal(t, "hi", req.Messages[0].Parts[0].Text, "clone must not alias original message slice contents after element mutation via new slice header")
	assert.Equal(t, "v", req.Metadata["k"])
}

func TestDialectEnvelopeSelectsIngressDialect(t *testing.T) {
	err := &ClientError{Kind: "invalid_request_error", Message: "bad model"}

	openaiBody := DialectEnvelope("chat", 400, err)
	assert.Contains(t, string(openaiBody), `"message":"bad model"`)
	assert.Contains(t, string(openaiBody), `"type":"invalid_request_error"`)

	anthropicBody := DialectEnvelope("messages", 400, err)
	assert.Contains(t, string(anthropicBody), `"type":"error"`)
	assert.Contains(t, string(anthropicBody), `"message":"bad model"`)

	geminiBody := DialectEnvelope("gemini", 400, err)
	assert.Contains(t, string(geminiBody), `"code":400`)
}
