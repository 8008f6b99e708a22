package transform

import (
	"encoding/json"
	"testing"

	"github.com/plexusgw/plexus/internal/unified"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessagesParseRequestExtractsSystem(t *testing.T) {
	tr := NewMessagesTransformer()
	body := []byte(`{"model":"claude-3-5-sonnet","system":"be terse","max_tokens":100,
		"messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}]}`)
	req, _, err := tr.ParseRequest(body)
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, unified.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "be terse", req.Messages[0].Text())
	assert.Equal(t, unified.RoleUser, req.Messages[1].Role)
}

func TestMessagesParseRequestToolUseAndResult(t *testing.T) {
	tr := NewMessagesTransformer()
	body := []byte(`{"model":"claude-3-5-sonnet","max_tokens":100,"messages":[
		{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"get_weather","input":{"city":"nyc"}}]},
		{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","content":"{\"temp\":70}"}]}
	]}`)
	req, _, err := tr.ParseRequest(body)
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)
	call := req.Messages[0].Parts[0]
	assert.Equal(t, unified.PartToolCall, call.Kind)
	assert.JSONEq(t, `{"city":"nyc"}`, string(call.ToolArgsJSON))

	result := req.Messages[1].Parts[0]
	assert.Equal(t, unified.PartToolResult, result.Kind)
	assert.Equal(t, "t1", result.ToolResultForID)
	assert.JSONEq(t, `{"temp":70}`, string(result.ResultJSON))
}

func TestMessagesTransformRequestMovesSystemOut(t *testing.T) {
	tr := NewMessagesTransformer()
	req := &unified.UnifiedRequest{
		Model: "claude-3-5-sonnet",
		Messages: []unified.Message{
			{Role: unified.RoleSystem, Parts: []unified.ContentPart{{Kind: unified.PartText, Text: "be terse"}}},
			{Role: unified.RoleUser, Parts: []unified.ContentPart{{Kind: unified.PartText, Text: "hi"}}},
		},
	}
	out, err := tr.TransformRequest(req)
	require.NoError(t, err)

	var wire claudeRequest
	require.NoError(t, json.Unmarshal(out, &wire))
	assert.Equal(t, "be terse", wire.System)
	require.Len(t, wire.Messages, 1)
	assert.Equal(t, "user", wire.Messages[0].Role)
}

func TestMessagesTransformRequestReasoningWithoutSignatureIsRedacted(t *testing.T) {
	tr := NewMessagesTransformer()
	req := &unified.UnifiedRequest{
		Model: "claude-3-5-sonnet",
		Messages: []unified.Message{
			{Role: unified.RoleAssistant, Parts: []unified.ContentPart{{Kind: unified.PartReasoning, ReasoningText: "thinking..."}}},
		},
	}
	out, err := tr.TransformRequest(req)
	require.NoError(t, err)
	var wire claudeRequest
	require.NoError(t, json.Unmarshal(out, &wire))
	require.Len(t, wire.Messages[0].Content, 1)
	assert.Equal(t, "redacted_thinking", wire.Messages[0].Content[0].Type)
	assert.NotEmpty(t, wire.Messages[0].Content[0].Data)
}

func TestMessagesTransformResponseStopReasonMapping(t *testing.T) {
	tr := NewMessagesTransformer()
	payload := []byte(`{"id":"msg1","model":"claude-3-5-sonnet","stop_reason":"tool_use",
		"content":[{"type":"tool_use","id":"t1","name":"get_weather","input":{"city":"nyc"}}],
		"usage":{"input_tokens":10,"output_tokens":5}}`)
	resp, err := tr.TransformResponse(payload)
	require.NoError(t, err)
	assert.Equal(t, unified.FinishToolCalls, resp.FinishReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestMessagesTransformStreamAccumulatesText(t *testing.T) {
	tr := NewMessagesTransformer()
	upstream := []byte(
		"event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"id\":\"msg1\",\"model\":\"claude-3-5-sonnet\"}}\n\n" +
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Hi\"}}\n\n" +
			"event: message_delta\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"input_tokens\":1,\"output_tokens\":2}}\n\n")
	acc := NewStreamAccumulator()
	_, err := tr.TransformStream(upstream, APIMessages, APIMessages, acc)
	require.NoError(t, err)

	snap := acc.Snapshot()
	assert.Equal(t, "msg1", snap.ID)
	assert.Equal(t, unified.FinishStop, snap.FinishReason)
	require.Len(t, snap.Parts, 1)
	assert.Equal(t, "Hi", snap.Parts[0].Text)
}
