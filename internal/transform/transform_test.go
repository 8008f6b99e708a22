package transform

import (
	"testing"

	"github.com/plexusgw/plexus/internal/unified"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryHasEveryDialect(t *testing.T) {
	r := NewDefaultRegistry()
	for _, apiType := range []APIType{
		APIChat, APIMessages, APIGemini, APIResponses, APIEmbeddings,
		APIImages, APISpeech, APITranscriptions, APIOAuth,
	} {
		tr, err := r.Get(apiType)
		require.NoError(t, err)
		assert.NotNil(t, tr)
	}
}

func TestRegistryGetUnknownErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get(APIImages)
	assert.Error(t, err)
}

func TestParseToolArgsJSONValid(t *testing.T) {
	raw, wasRaw, warn := parseToolArgsJSON(`{"city":"nyc"}`)
	assert.False(t, wasRaw)
	assert.Nil(t, warn)
	assert.JSONEq(t, `{"city":"nyc"}`, string(raw))
}

func TestParseToolArgsJSONInvalidWrapsRaw(t *testing.T) {
	raw, wasRaw, warn := parseToolArgsJSON(`not json`)
	assert.True(t, wasRaw)
	require.NotNil(t, warn)
	assert.Equal(t, "tool_args_unparsable", warn.Code)
	assert.JSONEq(t, `{"_raw":"not json"}`, string(raw))
}

func TestMarshalToolArgsStringRoundTripsRaw(t *testing.T) {
	raw, wasRaw, _ := parseToolArgsJSON(`not json`)
	out := marshalToolArgsString(unified.ContentPart{ToolArgsJSON: raw, ToolArgsRaw: wasRaw})
	assert.Equal(t, "not json", out)
}
