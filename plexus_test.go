package plexus

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexusgw/plexus/internal/config"
	"github.com/plexusgw/plexus/internal/unified"
	"github.com/plexusgw/plexus/internal/usage"
)

// fakeDoer scripts one HTTP response per call, matching
// internal/dispatcher's test fake.
type fakeDoer struct {
	status int
	body   string
	calls  int
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.calls++
	return &http.Response{
		StatusCode: f.status,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewBufferString(f.body)),
	}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Providers: map[string]*config.ProviderConfig{
			"openai": {
				APIBaseURL: config.BaseURL{Single: "https://api.openai.com"},
				APIKey:     "sk-test-0123456789",
				Models: map[string]*config.ModelConfig{
					"gpt-4o": {Pricing: config.Pricing{InputPer1M: 5, OutputPer1M: 15}},
				},
			},
		},
		Models: map[string]*config.ModelAlias{
			"smart": {
				Targets: []config.Target{{Provider: "openai", Model: "gpt-4o"}},
			},
		},
	}
}

func newTestApp(t *testing.T, doer *fakeDoer) *Application {
	t.Helper()
	app, err := New(Options{Config: testConfig(), HTTPClient: doer})
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return app
}

func chatRequest() *unified.UnifiedRequest {
	return &unified.UnifiedRequest{
		Model:           "smart",
		Messages:        []unified.Message{{Role: unified.RoleUser, Parts: []unified.ContentPart{{Kind: unified.PartText, Text: "hi"}}}},
		IncomingAPIType: "chat",
	}
}

func TestHandleRequestSuccessLogsUsageAndCost(t *testing.T) {
	doer := &fakeDoer{status: 200, body: `{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"hello"}}],"usage":{"prompt_tokens":10,"completion_tokens":20,"total_tokens":30}}`}
	app := newTestApp(t, doer)

	reqCtx := unified.NewRequestContext("req-1", "1.2.3.4", "key-a", "chat")
	result, err := app.HandleRequest(context.Background(), chatRequest(), reqCtx)
	require.NoError(t, err)
	require.NotNil(t, result.Outcome.Response)
	assert.Equal(t, "openai", reqCtx.ActualProvider)
	assert.Equal(t, "gpt-4o", reqCtx.ActualModel)
	assert.Greater(t, result.Cost.TotalUSD, 0.0)
	assert.Equal(t, 1, doer.calls)
}

func TestHandleRequestEstimatesUsageWhenProviderOmitsIt(t *testing.T) {
	doer := &fakeDoer{status: 200, body: `{"id":"chatcmpl-2","model":"gpt-4o","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"a fairly long hello there, friend"}}]}`}
	app := newTestApp(t, doer)

	reqCtx := unified.NewRequestContext("req-4", "1.2.3.4", "key-a", "chat")
	result, err := app.HandleRequest(context.Background(), chatRequest(), reqCtx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Outcome.Response.Usage.InputTokens, "provider response carried no usage block")
	assert.Greater(t, result.Cost.TotalUSD, 0.0, "tiktoken estimate should still produce a non-zero cost")
}

func TestHandleRequestUnknownAliasLogsError(t *testing.T) {
	app := newTestApp(t, &fakeDoer{status: 200})

	req := chatRequest()
	req.Model = "does-not-exist"
	reqCtx := unified.NewRequestContext("req-2", "", "", "chat")

	_, err := app.HandleRequest(context.Background(), req, reqCtx)
	require.Error(t, err)

	var errRows []usage.ErrorRow
	require.NoError(t, app.db.Where("request_id = ?", "req-2").Find(&errRows).Error)
	assert.Len(t, errRows, 1)
}

func TestHandleRequestUpstreamFailureExhaustsAndLogsError(t *testing.T) {
	app := newTestApp(t, &fakeDoer{status: 500, body: "boom"})

	reqCtx := unified.NewRequestContext("req-3", "", "", "chat")
	_, err := app.HandleRequest(context.Background(), chatRequest(), reqCtx)
	require.Error(t, err)
	var exhausted *unified.ExhaustionError
	assert.ErrorAs(t, err, &exhausted)

	var errRows []usage.ErrorRow
	require.NoError(t, app.db.Where("request_id = ?", "req-3").Find(&errRows).Error)
	require.Len(t, errRows, 1)
	assert.Equal(t, "exhaustion_error", errRows[0].Kind)
}

func TestNewDefaultsToInMemoryStoresWithoutConfigPath(t *testing.T) {
	app, err := New(Options{})
	require.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.Router)
	assert.NotNil(t, app.Dispatcher)
	assert.NotNil(t, app.Usage)
	assert.NotNil(t, app.Cooldown)
}
