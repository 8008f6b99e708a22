package transform

import (
	"encoding/json"
	"testing"

	"github.com/plexusgw/plexus/internal/unified"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiParseRequestMapsModelRoleToAssistant(t *testing.T) {
	tr := NewGeminiTransformer()
	body := []byte(`{"contents":[
		{"role":"user","parts":[{"text":"hi"}]},
		{"role":"model","parts":[{"text":"hello"}]}
	]}`)
	req, _, err := tr.ParseRequest(body)
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, unified.RoleUser, req.Messages[0].Role)
	assert.Equal(t, unified.RoleAssistant, req.Messages[1].Role)
}

func TestGeminiParseRequestSystemInstruction(t *testing.T) {
	tr := NewGeminiTransformer()
	body := []byte(`{"systemInstruction":{"parts":[{"text":"be terse"}]},"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`)
	req, _, err := tr.ParseRequest(body)
	require.NoError(t, err)
	assert.Equal(t, unified.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "be terse", req.Messages[0].Text())
}

func TestGeminiTransformRequestAssistantBecomesModel(t *testing.T) {
	tr := NewGeminiTransformer()
	req := &unified.UnifiedRequest{
		Messages: []unified.Message{
			{Role: unified.RoleAssistant, Parts: []unified.ContentPart{{Kind: unified.PartText, Text: "hello"}}},
		},
	}
	out, err := tr.TransformRequest(req)
	require.NoError(t, err)
	var wire geminiRequest
	require.NoError(t, json.Unmarshal(out, &wire))
	require.Len(t, wire.Contents, 1)
	assert.Equal(t, "model", wire.Contents[0].Role)
}

func TestGeminiTransformResponseFinishReasonMapping(t *testing.T) {
	tr := NewGeminiTransformer()
	payload := []byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"hi"}]},"finishReason":"SAFETY"}],
		"usageMetadata":{"promptTokenCount":1,"candidatesTokenCount":2,"totalTokenCount":3}}`)
	resp, err := tr.TransformResponse(payload)
	require.NoError(t, err)
	assert.Equal(t, unified.FinishContentFilter, resp.FinishReason)
	assert.Equal(t, 3, resp.Usage.TotalTokens)
}

func TestGeminiTransformStreamAccumulatesText(t *testing.T) {
	tr := NewGeminiTransformer()
	upstream := []byte(
		"data: {\"responseId\":\"r1\",\"modelVersion\":\"gemini-2.0\",\"candidates\":[{\"index\":0,\"content\":{\"role\":\"model\",\"parts\":[{\"text\":\"Hi\"}]}}]}\n\n" +
			"data: {\"candidates\":[{\"index\":0,\"finishReason\":\"STOP\",\"content\":{\"parts\":[]}}],\"usageMetadata\":{\"promptTokenCount\":1,\"candidatesTokenCount\":1,\"totalTokenCount\":2}}\n\n")
	acc := NewStreamAccumulator()
	_, err := tr.TransformStream(upstream, APIGemini, APIGemini, acc)
	require.NoError(t, err)
	snap := acc.Snapshot()
	assert.Equal(t, unified.FinishStop, snap.FinishReason)
	require.Len(t, snap.Parts, 1)
	assert.Equal(t, "Hi", snap.Parts[0].Text)
}
