package dispatcher

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/plexusgw/plexus/internal/config"
	"github.com/plexusgw/plexus/internal/cooldown"
	"github.com/plexusgw/plexus/internal/router"
	"github.com/plexusgw/plexus/internal/transform"
	"github.com/plexusgw/plexus/internal/unified"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDoer lets tests script a sequence of responses/errors without hitting
// the network, one per call to Do.
type fakeDoer struct {
	calls     []*http.Request
	responses []fakeResponse
	i         int
}

type fakeResponse struct {
	status int
	body   string
	err    error
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.calls = append(f.calls, req)
	r := f.responses[f.i]
	f.i++
	if r.err != nil {
		return nil, r.err
	}
	return &http.Response{
		StatusCode: r.status,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewBufferString(r.body)),
	}, nil
}

func testCooldown(t *testing.T) *cooldown.Manager {
	t.Helper()
	m, err := cooldown.New()
	require.NoError(t, err)
	return m
}

func openAICandidate() router.RouteResult {
	return router.RouteResult{
		Provider: "openai",
		Model:    "gpt-4o",
		ProviderConfig: &config.ProviderConfig{
			APIBaseURL: config.BaseURL{Single: "https://api.openai.com"},
			APIKey:     "sk-test-0123456789",
		},
		ModelConfig: &config.ModelConfig{},
	}
}

func chatRequest() *unified.UnifiedRequest {
	return &unified.UnifiedRequest{
		Model:           "smart",
		Messages:        []unified.Message{{Role: unified.RoleUser, Parts: []unified.ContentPart{{Kind: unified.PartText, Text: "hi"}}}},
		IncomingAPIType: "chat",
	}
}

func TestDispatchUnarySuccess(t *testing.T) {
	doer := &fakeDoer{responses: []fakeResponse{
		{status: 200, body: `{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"hello"}}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`},
	}}
	d := New(transform.NewDefaultRegistry(), testCooldown(t), nil, nil, nil, doer, nil)

	out, err := d.Dispatch(context.Background(), chatRequest(), []router.RouteResult{openAICandidate()}, config.FailoverConfig{})
	require.NoError(t, err)
	require.NotNil(t, out.Response)
	assert.Equal(t, "openai", out.Response.Plexus.Provider)
	assert.Equal(t, "gpt-4o", out.Response.Plexus.Model)
	assert.False(t, out.Passthrough)

	require.Len(t, doer.calls, 1)
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", doer.calls[0].URL.String())
	assert.Equal(t, "Bearer sk-test-0123456789", doer.calls[0].Header.Get("Authorization"))
}

type fakeLLMRecorder struct {
	calls []string
}

func (f *fakeLLMRecorder) RecordLLMRequest(provider, model, status string, duration time.Duration, inputTokens, outputTokens int, costUSD float64) {
	f.calls = append(f.calls, provider+":"+model+":"+status)
}

func TestDispatchRecordsLLMMetricOnSuccessAndFailure(t *testing.T) {
	doer := &fakeDoer{responses: []fakeResponse{
		{status: 500, body: "boom"},
		{status: 200, body: `{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"hello"}}]}`},
	}}
	rec := &fakeLLMRecorder{}
	d := New(transform.NewDefaultRegistry(), testCooldown(t), nil, nil, rec, doer, nil)

	_, err := d.Dispatch(context.Background(), chatRequest(), []router.RouteResult{openAICandidate()}, config.FailoverConfig{})
	require.Error(t, err)
	assert.Equal(t, []string{"openai:gpt-4o:error"}, rec.calls)

	_, err = d.Dispatch(context.Background(), chatRequest(), []router.RouteResult{openAICandidate()}, config.FailoverConfig{})
	require.NoError(t, err)
	assert.Equal(t, []string{"openai:gpt-4o:error", "openai:gpt-4o:success"}, rec.calls)
}

func TestDispatchFailsOverOn429ThenSucceeds(t *testing.T) {
	doer := &fakeDoer{responses: []fakeResponse{
		{status: 429, body: `{"error":"rate limited"}`},
		{status: 200, body: `{"id":"chatcmpl-2","model":"claude","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"hi"}}]}`},
	}}
	cd := testCooldown(t)
	d := New(transform.NewDefaultRegistry(), cd, nil, nil, nil, doer, nil)

	candidates := []router.RouteResult{
		openAICandidate(),
		{
			Provider: "anthropic",
			Model:    "claude",
			ProviderConfig: &config.ProviderConfig{
				APIBaseURL:       config.BaseURL{Single: "https://api.anthropic.com"},
				APIKey:           "sk-ant-0123456789",
				ForceTransformer: "chat",
			},
		},
	}

	out, err := d.Dispatch(context.Background(), chatRequest(), candidates, config.FailoverConfig{})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", out.Response.Plexus.Provider)
	require.Len(t, out.Attempts, 2)
	assert.Equal(t, 429, out.Attempts[0].StatusCode)
	assert.True(t, cd.IsHealthy("openai", "gpt-4o") == false)
}

func TestDispatchExhaustedReturnsAllAttempts(t *testing.T) {
	doer := &fakeDoer{responses: []fakeResponse{
		{status: 500, body: "boom"},
	}}
	d := New(transform.NewDefaultRegistry(), testCooldown(t), nil, nil, nil, doer, nil)

	_, err := d.Dispatch(context.Background(), chatRequest(), []router.RouteResult{openAICandidate()}, config.FailoverConfig{})
	require.Error(t, err)
	var exhausted *unified.ExhaustionError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Attempts, 1)
	assert.Equal(t, 500, exhausted.Attempts[0].StatusCode)
}

func TestDispatchNonRetryableStatusStopsImmediately(t *testing.T) {
	doer := &fakeDoer{responses: []fakeResponse{
		{status: 400, body: `{"error":"bad request"}`},
	}}
	d := New(transform.NewDefaultRegistry(), testCooldown(t), nil, nil, nil, doer, nil)

	candidates := []router.RouteResult{openAICandidate(), openAICandidate()}
	_, err := d.Dispatch(context.Background(), chatRequest(), candidates, config.FailoverConfig{})
	require.Error(t, err)
	var upstream *unified.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, 400, upstream.Status)
	assert.False(t, upstream.Retryable)
	assert.Len(t, doer.calls, 1)
}

func TestBuildHeadersAnthropicAuth(t *testing.T) {
	h := buildHeaders(transform.APIMessages, "sk-ant-key", false, nil, nil)
	assert.Equal(t, "sk-ant-key", h.Get("x-api-key"))
	assert.Equal(t, anthropicVersion, h.Get("anthropic-version"))
	assert.Empty(t, h.Get("Authorization"))
}

func TestBuildHeadersMetadataOverridesProviderHeaders(t *testing.T) {
	h := buildHeaders(transform.APIChat, "sk-key", false,
		map[string]string{"X-Org": "provider-org"},
		map[string]string{"X-Org": "request-org"})
	assert.Equal(t, "request-org", h.Get("X-Org"))
}

func TestSanitizeHeadersMasksSecrets(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer sk-1234567890abcdef")
	h.Set("X-Org", "plain")
	out := sanitizeHeaders(h)
	assert.Equal(t, "Bearer sk-1...cdef", out["Authorization"])
	assert.Equal(t, "plain", out["X-Org"])
}

func TestSelectTargetAPITypePrefersForceTransformer(t *testing.T) {
	cand := router.RouteResult{ProviderConfig: &config.ProviderConfig{ForceTransformer: "messages"}}
	got, reason := selectTargetAPIType(cand, "chat")
	assert.Equal(t, transform.APIMessages, got)
	assert.Equal(t, reasonForceTransformer, reason)
}

func TestSelectTargetAPITypeFallsBackToFirstAvailable(t *testing.T) {
	cand := router.RouteResult{ProviderConfig: &config.ProviderConfig{
		APIBaseURL: config.BaseURL{ByType: map[string]string{"messages": "https://api.anthropic.com"}},
	}}
	got, reason := selectTargetAPIType(cand, "chat")
	assert.Equal(t, transform.APIMessages, got)
	assert.Equal(t, reasonFirstAvailable, reason)
}
