package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPassThroughPayloadOverridesModelAndMergesExtra(t *testing.T) {
	original := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`)
	out, err := BuildPassThroughPayload(original, "gpt-4o-2024-11-20", map[string]any{"stream_options": map[string]any{"include_usage": true}})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"gpt-4o-2024-11-20"`)
	assert.Contains(t, string(out), "stream_options")
}

func TestBuildPassThroughPayloadEmptyBody(t *testing.T) {
	out, err := BuildPassThroughPayload(nil, "gpt-4o", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"model":"gpt-4o"}`, string(out))
}

func TestMergeExtraBodyOverlaysKeys(t *testing.T) {
	out, err := MergeExtraBody([]byte(`{"model":"gpt-4o","stream":true}`), map[string]any{"user": "u1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"model":"gpt-4o","stream":true,"user":"u1"}`, string(out))
}

func TestMergeExtraBodyNoopWhenEmpty(t *testing.T) {
	payload := []byte(`{"model":"gpt-4o"}`)
	out, err := MergeExtraBody(payload, nil)
	require.NoError(t, err)
	assert.Equal(t, string(payload), string(out))
}
