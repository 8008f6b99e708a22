package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingsParseRequestStringInput(t *testing.T) {
	tr := NewEmbeddingsTransformer()
	body := []byte(`{"model":"text-embedding-3-small","input":"hello world"}`)
	req, _, err := tr.ParseRequest(body)
	require.NoError(t, err)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "hello world", req.Messages[0].Text())
}

func TestEmbeddingsParseRequestArrayInput(t *testing.T) {
	tr := NewEmbeddingsTransformer()
	body := []byte(`{"model":"text-embedding-3-small","input":["a","b"]}`)
	req, _, err := tr.ParseRequest(body)
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)
}

func TestEmbeddingsTransformResponseUsage(t *testing.T) {
	tr := NewEmbeddingsTransformer()
	payload := []byte(`{"model":"text-embedding-3-small","data":[{"index":0,"embedding":[0.1,0.2],"object":"embedding"}],
		"usage":{"prompt_tokens":3,"total_tokens":3}}`)
	resp, err := tr.TransformResponse(payload)
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Usage.TotalTokens)
	require.Len(t, resp.Parts, 1)
}
