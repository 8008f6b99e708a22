package transform

import (
	"testing"

	"github.com/plexusgw/plexus/internal/unified"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponsesParseRequest(t *testing.T) {
	tr := NewResponsesTransformer()
	body := []byte(`{"model":"gpt-5.2","input":[{"role":"user","content":"hi"}],"previous_response_id":"resp_abc"}`)
	req, _, err := tr.ParseRequest(body)
	require.NoError(t, err)
	assert.Equal(t, "gpt-5.2", req.Model)
	assert.Equal(t, "hi", req.Messages[0].Text())
	assert.Equal(t, "resp_abc", req.Metadata["previous_response_id"])
}

func TestResponsesTransformResponseToolCallSetsFinishReason(t *testing.T) {
	tr := NewResponsesTransformer()
	payload := []byte(`{"id":"r1","model":"gpt-5.2","status":"completed","output":[
		{"type":"message","role":"assistant","content":[{"type":"tool_call","id":"t1","name":"f","arguments":{}}]}
	]}`)
	resp, err := tr.TransformResponse(payload)
	require.NoError(t, err)
	assert.Equal(t, unified.FinishToolCalls, resp.FinishReason)
}

func TestResponsesTransformResponseIncompleteMapsLength(t *testing.T) {
	tr := NewResponsesTransformer()
	payload := []byte(`{"id":"r1","model":"gpt-5.2","status":"incomplete","output":[]}`)
	resp, err := tr.TransformResponse(payload)
	require.NoError(t, err)
	assert.Equal(t, unified.FinishLength, resp.FinishReason)
}
