// Package dispatcher implements spec §4.6: per request, transform the
// payload for a chosen target, invoke the upstream over HTTP, failover
// across candidates on retryable errors while marking cooldowns, and hand
// back either a completed UnifiedResponse or a live streaming envelope.
package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/plexusgw/plexus/internal/config"
	"github.com/plexusgw/plexus/internal/cooldown"
	"github.com/plexusgw/plexus/internal/ctxkeys"
	"github.com/plexusgw/plexus/internal/metrics"
	"github.com/plexusgw/plexus/internal/ratelimit"
	"github.com/plexusgw/plexus/internal/router"
	"github.com/plexusgw/plexus/internal/transform"
	"github.com/plexusgw/plexus/internal/unified"
	"go.uber.org/zap"
)

// requestIDField returns a zap field tagging the log line with the request
// ID ctxkeys.WithRequestID attached to ctx, or a no-op field if none was set
// (ctx comes from an external caller in tests/direct use).
func requestIDField(ctx context.Context) zap.Field {
	if id, ok := ctxkeys.RequestID(ctx); ok {
		return zap.String("request_id", id)
	}
	return zap.Skip()
}

// HTTPDoer is the minimal surface the dispatcher needs from an HTTP client,
// so tests can substitute a stub instead of hitting the network — mirrors
// the teacher's pattern of injecting *http.Client through a narrow field.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// attempt is this package's bookkeeping record for one candidate try,
// carrying diagnostic fields beyond unified.AttemptRecord (retryability,
// latency, sanitized headers) used for logging and test assertions. It
// converts to a unified.AttemptRecord for the routingContext on an
// ExhaustionError, per spec §4.6 step 5/§7.
type attempt struct {
	Provider      string
	Model         string
	TargetAPIType string
	URL           string
	StatusCode    int
	Err           string
	Retryable     bool
	LatencyMs     float64
	Headers       map[string]string
}

func (a attempt) record() unified.AttemptRecord {
	return unified.AttemptRecord{
		Provider: a.Provider, Model: a.Model, TargetAPIType: a.TargetAPIType, URL: a.URL,
		StatusCode: a.StatusCode, ProviderBody: a.Err, Err: a.Err,
	}
}

// Outcome is a successful dispatch result, unary or streaming.
type Outcome struct {
	Response      *unified.UnifiedResponse
	Provider      string
	Model         string
	TargetAPIType string
	URL           string
	Attempts      []unified.AttemptRecord
	Passthrough   bool

	// Streaming-only fields, nil/zero for a unary Outcome.
	StreamDone   <-chan struct{}
	FirstByteAt  time.Time
	streamResult *streamOutcome
}

// StreamSnapshot returns the reconstructed UnifiedResponse once the
// streamed response has fully drained (StreamDone closed); it returns nil
// if called before then or if the stream ended in an error.
func (o *Outcome) StreamSnapshot() *unified.UnifiedResponse {
	if o.streamResult == nil {
		return nil
	}
	return o.streamResult.snapshot
}

// StreamError returns the terminal error the relay pump observed, if any,
// valid only after StreamDone closes.
func (o *Outcome) StreamError() error {
	if o.streamResult == nil {
		return nil
	}
	return o.streamResult.err
}

// LLMMetricsRecorder is the narrow slice of internal/metrics.Collector the
// dispatcher needs, so this package stays testable without a hard
// dependency on the Prometheus-backed implementation.
type LLMMetricsRecorder interface {
	RecordLLMRequest(provider, model, status string, duration time.Duration, inputTokens, outputTokens int, costUSD float64)
}

// Dispatcher is spec §4.6's orchestrator.
type Dispatcher struct {
	registry   *transform.Registry
	cooldown   *cooldown.Manager
	rateLimits *ratelimit.Registry
	window     *metrics.Window
	collector  LLMMetricsRecorder
	client     HTTPDoer
	logger     *zap.Logger
}

// New builds a Dispatcher. client defaults to http.DefaultClient when nil;
// rateLimits defaults to an empty registry (falling back to
// ratelimit.DefaultParser); window may be nil (metrics recording is then
// skipped); collector may be nil (Prometheus export is then skipped) —
// pass an *internal/metrics.Collector here to feed spec §4.7's live export.
func New(registry *transform.Registry, cd *cooldown.Manager, rateLimits *ratelimit.Registry, window *metrics.Window, collector LLMMetricsRecorder, client HTTPDoer, logger *zap.Logger) *Dispatcher {
	if client == nil {
		client = http.DefaultClient
	}
	if rateLimits == nil {
		rateLimits = ratelimit.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{registry: registry, cooldown: cd, rateLimits: rateLimits, window: window, collector: collector, client: client, logger: logger}
}

// Dispatch implements spec §4.6's per-request loop and §7's error taxonomy:
// a non-retryable failure (upstream 400/413/422, or an internal error like
// a missing transformer) is surfaced immediately without trying further
// candidates ("fetch is called exactly once"); a retryable failure moves on
// to the next candidate, and running out of candidates surfaces
// *unified.ExhaustionError with every attempt's routingContext.
func (d *Dispatcher) Dispatch(ctx context.Context, req *unified.UnifiedRequest, candidates []router.RouteResult, failover config.FailoverConfig) (*Outcome, error) {
	if len(candidates) == 0 {
		return nil, &unified.InternalError{Reason: "no routing candidates"}
	}

	maxAttempts := failover.MaxAttempts
	if maxAttempts <= 0 || maxAttempts > len(candidates) {
		maxAttempts = len(candidates)
	}

	var records []unified.AttemptRecord
	for i := 0; i < maxAttempts; i++ {
		cand := candidates[i]
		outcome, a, retryable, err := d.tryOne(ctx, req, cand, failover)
		if a.Provider != "" {
			records = append(records, a.record())
		}
		if err == nil {
			outcome.Attempts = records
			return outcome, nil
		}
		if !retryable {
			return nil, err
		}
		if i == maxAttempts-1 {
			return nil, &unified.ExhaustionError{Attempts: records}
		}
		d.logger.Warn("dispatcher: candidate failed, trying next",
			zap.String("provider", cand.Provider), zap.String("model", cand.Model), zap.Error(err), requestIDField(ctx))
	}
	return nil, &unified.ExhaustionError{Attempts: records}
}

// tryOne attempts exactly one candidate. retryable reports whether the
// dispatcher should move on to the next candidate on failure; err is nil
// only on success. err is always one of unified's taxonomy types
// (*unified.UpstreamError or *unified.InternalError).
func (d *Dispatcher) tryOne(ctx context.Context, req *unified.UnifiedRequest, cand router.RouteResult, failover config.FailoverConfig) (*Outcome, attempt, bool, error) {
	targetAPIType, reason := selectTargetAPIType(cand, req.IncomingAPIType)

	baseURL, fellBack, ok := cand.ProviderConfig.APIBaseURL.Resolve(string(targetAPIType))
	if !ok {
		err := &unified.InternalError{Reason: fmt.Sprintf("provider %q has no api_base_url resolvable for %q", cand.Provider, targetAPIType)}
		return nil, attempt{Provider: cand.Provider, Model: cand.Model, TargetAPIType: string(targetAPIType), Err: err.Error()}, false, err
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if fellBack {
		d.logger.Debug("dispatcher: api_base_url fell back to default/first entry",
			zap.String("provider", cand.Provider), zap.String("target_api_type", string(targetAPIType)))
	}
	if reason == reasonFirstAvailable {
		d.logger.Debug("dispatcher: target api type had no match, using first available",
			zap.String("provider", cand.Provider), zap.String("incoming_api_type", req.IncomingAPIType))
	}

	transformer, terr := d.registry.Get(targetAPIType)
	if terr != nil {
		err := &unified.InternalError{Reason: terr.Error()}
		return nil, attempt{Provider: cand.Provider, Model: cand.Model, TargetAPIType: string(targetAPIType), Err: err.Error()}, false, err
	}

	payload, passthrough, berr := d.buildPayload(req, cand, targetAPIType, transformer)
	if berr != nil {
		err := &unified.InternalError{Reason: "build payload: " + berr.Error()}
		return nil, attempt{Provider: cand.Provider, Model: cand.Model, TargetAPIType: string(targetAPIType), Err: err.Error()}, false, err
	}

	url := baseURL + transformer.DefaultEndpoint(req)
	headers := buildHeaders(targetAPIType, cand.ProviderConfig.APIKey, req.Stream, cand.ProviderConfig.Headers, req.Metadata)

	timeout := time.Duration(cand.ProviderConfig.EffectiveTimeoutSeconds()) * time.Second
	attemptCtx := ctx
	var cancel context.CancelFunc
	if !req.Stream {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	httpReq, rerr := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(payload))
	if rerr != nil {
		err := &unified.InternalError{Reason: rerr.Error()}
		return nil, attempt{Provider: cand.Provider, Model: cand.Model, TargetAPIType: string(targetAPIType), URL: url, Err: err.Error()}, false, err
	}
	applyHeaders(httpReq, headers)

	start := time.Now()
	resp, derr := d.client.Do(httpReq)
	latencyMs := float64(time.Since(start).Milliseconds())
	if derr != nil {
		retryable := isRetryableNetworkError(derr, failover)
		err := &unified.UpstreamError{Status: 0, Body: derr.Error(), Retryable: retryable}
		a := attempt{Provider: cand.Provider, Model: cand.Model, TargetAPIType: string(targetAPIType), URL: url, Err: derr.Error(), Retryable: retryable, LatencyMs: latencyMs, Headers: sanitizeHeaders(headers)}
		if retryable {
			d.cooldown.MarkFailure(cand.Provider, cand.Model, 0, "network_error")
		}
		d.recordMetric(cand, false, latencyMs, 0)
		d.recordLLM(cand, "error", latencyMs, 0, 0)
		return nil, a, retryable, err
	}

	if resp.StatusCode >= 400 {
		return d.handleErrorResponse(resp, cand, targetAPIType, url, failover, latencyMs, headers)
	}

	d.cooldown.MarkSuccess(cand.Provider, cand.Model)

	if req.Stream {
		return d.finishStreaming(resp, cand, transform.APIType(req.IncomingAPIType), targetAPIType, url, passthrough)
	}
	return d.finishUnary(resp, cand, targetAPIType, url, passthrough, transformer, latencyMs)
}

type selectReason int

const (
	reasonForceTransformer selectReason = iota
	reasonAccessViaMatch
	reasonAccessViaFirst
	reasonProviderTypeMatch
	reasonFirstAvailable
)

// selectTargetAPIType implements spec §4.6 step 1.
func selectTargetAPIType(cand router.RouteResult, incomingAPIType string) (transform.APIType, selectReason) {
	if cand.ProviderConfig.ForceTransformer != "" {
		return transform.APIType(cand.ProviderConfig.ForceTransformer), reasonForceTransformer
	}
	if cand.ModelConfig != nil && len(cand.ModelConfig.AccessVia) > 0 {
		if containsString(cand.ModelConfig.AccessVia, incomingAPIType) {
			return transform.APIType(incomingAPIType), reasonAccessViaMatch
		}
		return transform.APIType(cand.ModelConfig.AccessVia[0]), reasonAccessViaFirst
	}
	providerTypes := cand.ProviderConfig.APITypes()
	if len(providerTypes) == 0 {
		// A bare-string api_base_url answers for every api-type.
		if incomingAPIType != "" {
			return transform.APIType(incomingAPIType), reasonProviderTypeMatch
		}
		return transform.APIChat, reasonFirstAvailable
	}
	if containsString(providerTypes, incomingAPIType) {
		return transform.APIType(incomingAPIType), reasonProviderTypeMatch
	}
	return transform.APIType(providerTypes[0]), reasonFirstAvailable
}

// buildPayload implements spec §4.6 step 3: the pass-through fast path when
// eligible, else transformRequest followed by an extraBody merge (spec
// §4.4's pass-through contract applies the same merge either way).
func (d *Dispatcher) buildPayload(req *unified.UnifiedRequest, cand router.RouteResult, targetAPIType transform.APIType, t transform.Transformer) ([]byte, bool, error) {
	passthrough := req.IncomingAPIType == string(targetAPIType) &&
		cand.ProviderConfig.ForceTransformer == "" &&
		len(req.OriginalBody) > 0

	if passthrough {
		payload, err := transform.BuildPassThroughPayload(req.OriginalBody, cand.Model, cand.ProviderConfig.ExtraBody)
		return payload, true, err
	}

	forked := req.Clone()
	forked.Model = cand.Model
	payload, err := t.TransformRequest(forked)
	if err != nil {
		return nil, false, err
	}
	payload, err = transform.MergeExtraBody(payload, cand.ProviderConfig.ExtraBody)
	return payload, false, err
}

// handleErrorResponse implements spec §4.6 step 5 and §7's retryable/
// non-retryable upstream split: read the body, determine retryability and
// cooldown-worthiness, mark cooldown when warranted, and return a
// *unified.UpstreamError the caller surfaces immediately (non-retryable) or
// uses to decide failover (retryable).
func (d *Dispatcher) handleErrorResponse(resp *http.Response, cand router.RouteResult, targetAPIType transform.APIType, url string, failover config.FailoverConfig, latencyMs float64, reqHeaders http.Header) (*Outcome, attempt, bool, error) {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	retryable := isRetryableStatus(resp.StatusCode, failover)
	if isCooldownWorthyStatus(resp.StatusCode) {
		var dur time.Duration
		if resp.StatusCode == http.StatusTooManyRequests {
			if d2, ok := d.rateLimits.Resolve(cand.Provider, resp.Header.Get("Retry-After"), body); ok {
				dur = d2
			}
		}
		d.cooldown.MarkFailure(cand.Provider, cand.Model, dur, "http_"+strconv.Itoa(resp.StatusCode))
	}
	d.recordMetric(cand, false, latencyMs, 0)
	d.recordLLM(cand, "error", latencyMs, 0, 0)

	err := &unified.UpstreamError{Status: resp.StatusCode, Body: truncate(string(body), 2000), Retryable: retryable}
	a := attempt{
		Provider: cand.Provider, Model: cand.Model, TargetAPIType: string(targetAPIType), URL: url,
		StatusCode: resp.StatusCode, Err: string(body), Retryable: retryable, LatencyMs: latencyMs,
		Headers: sanitizeHeaders(reqHeaders),
	}
	return nil, a, retryable, err
}

func (d *Dispatcher) finishUnary(resp *http.Response, cand router.RouteResult, targetAPIType transform.APIType, url string, passthrough bool, t transform.Transformer, latencyMs float64) (*Outcome, attempt, bool, error) {
	defer resp.Body.Close()
	body, rerr := io.ReadAll(resp.Body)
	if rerr != nil {
		err := &unified.InternalError{Reason: "read response body: " + rerr.Error()}
		return nil, attempt{Provider: cand.Provider, Model: cand.Model, TargetAPIType: string(targetAPIType), URL: url, Err: err.Error(), LatencyMs: latencyMs}, false, err
	}

	unifiedResp, terr := t.TransformResponse(body)
	if terr != nil {
		err := &unified.InternalError{Reason: "transform response: " + terr.Error()}
		return nil, attempt{Provider: cand.Provider, Model: cand.Model, TargetAPIType: string(targetAPIType), URL: url, Err: err.Error(), LatencyMs: latencyMs}, false, err
	}
	unifiedResp.BypassTransformation = passthrough
	unifiedResp.RawResponseSnapshot = body
	attachPlexusMeta(unifiedResp, cand, targetAPIType)

	d.recordMetric(cand, true, latencyMs, 0)
	d.recordLLM(cand, "success", latencyMs, unifiedResp.Usage.InputTokens, unifiedResp.Usage.OutputTokens)

	return &Outcome{
		Response: unifiedResp, Provider: cand.Provider, Model: cand.Model,
		TargetAPIType: string(targetAPIType), URL: url, Passthrough: passthrough,
	}, attempt{Provider: cand.Provider, Model: cand.Model, TargetAPIType: string(targetAPIType), URL: url, StatusCode: resp.StatusCode, LatencyMs: latencyMs}, false, nil
}

func (d *Dispatcher) finishStreaming(resp *http.Response, cand router.RouteResult, clientAPIType, targetAPIType transform.APIType, url string, passthrough bool) (*Outcome, attempt, bool, error) {
	streamTransformer, _ := d.registry.Get(targetAPIType)
	var st transform.StreamTransformer
	if sst, ok := streamTransformer.(transform.StreamTransformer); ok {
		st = sst
	}

	if clientAPIType == "" {
		clientAPIType = targetAPIType
	}

	pr, firstByte, result, doneCh := relayStream(resp.Body, st, clientAPIType, targetAPIType, passthrough, d.logger)

	if ferr := <-firstByte; ferr != nil {
		d.cooldown.MarkFailure(cand.Provider, cand.Model, 0, "stream_error_before_first_byte")
		err := &unified.UpstreamError{Status: resp.StatusCode, Body: ferr.Error(), Retryable: true}
		a := attempt{Provider: cand.Provider, Model: cand.Model, TargetAPIType: string(targetAPIType), URL: url, Err: ferr.Error(), Retryable: true}
		return nil, a, true, err
	}

	outcome := &Outcome{
		Response: &unified.UnifiedResponse{
			Model:                cand.Model,
			Stream:               pr,
			BypassTransformation: passthrough,
		},
		Provider: cand.Provider, Model: cand.Model, TargetAPIType: string(targetAPIType), URL: url,
		Passthrough: passthrough, StreamDone: doneCh, FirstByteAt: result.firstByteAt, streamResult: result,
	}
	attachPlexusMeta(outcome.Response, cand, targetAPIType)

	return outcome, attempt{Provider: cand.Provider, Model: cand.Model, TargetAPIType: string(targetAPIType), URL: url, StatusCode: resp.StatusCode}, false, nil
}

func (d *Dispatcher) recordMetric(cand router.RouteResult, success bool, latencyMs float64, costPer1M float64) {
	if d.window == nil {
		return
	}
	d.window.Record(cand.Provider, cand.Model, metrics.RequestRecord{
		At: time.Now(), Success: success, LatencyMs: latencyMs, CostPer1M: costPer1M,
	})
}

// recordLLM feeds spec §4.7's Prometheus export for one egress attempt;
// costUSD is 0 here since cost is computed downstream from the resolved
// target's pricing (plexus.Application.HandleRequest), after this attempt
// has already finished.
func (d *Dispatcher) recordLLM(cand router.RouteResult, status string, latencyMs float64, inputTokens, outputTokens int) {
	if d.collector == nil {
		return
	}
	d.collector.RecordLLMRequest(cand.Provider, cand.Model, status, time.Duration(latencyMs*float64(time.Millisecond)), inputTokens, outputTokens, 0)
}

func attachPlexusMeta(resp *unified.UnifiedResponse, cand router.RouteResult, targetAPIType transform.APIType) {
	meta := unified.PlexusMeta{
		Provider:         cand.Provider,
		Model:            cand.Model,
		CanonicalModel:   cand.Model,
		APIType:          string(targetAPIType),
		ProviderDiscount: cand.ProviderConfig.EffectiveDiscount(),
	}
	if cand.ModelConfig != nil {
		p := cand.ModelConfig.Pricing
		meta.Pricing = unified.Pricing{
			InputPer1M: p.InputPer1M, OutputPer1M: p.OutputPer1M,
			CachedPer1M: p.CachedPer1M, ReasoningPer1M: p.ReasoningPer1M,
		}
	}
	resp.Plexus = meta
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
