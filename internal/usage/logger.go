package usage

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/plexusgw/plexus/internal/cost"
	"github.com/plexusgw/plexus/internal/eventbus"
	"github.com/plexusgw/plexus/internal/unified"
)

// EventPublisher is the minimal slice of internal/eventbus.Bus the logger
// needs, matching internal/cooldown.EventPublisher's narrow-interface seam.
type EventPublisher interface {
	Publish(topic string, data any)
}

// ResponseInfo is the completed-response half of spec §4.8's
// "(RequestContext, ResponseInfo)" logger input: whatever the dispatcher
// learned about the call beyond what RequestContext already tracks.
// Cost is computed by the caller (plexus.Application's HandleRequest and
// FinalizeStreamingUsage, which hold the resolved candidate's
// config.ModelConfig/config.ProviderConfig needed for
// internal/cost.Calculator.Calculate) and passed through already-resolved,
// so this package stays one layer below internal/config the same way
// internal/unified does.
type ResponseInfo struct {
	Usage cost.Usage
	Cost  cost.Result

	// EstimatedUsage marks that Usage was reconstructed via
	// internal/cost.Estimator's tiktoken fallback because the provider's
	// response carried no usage block (SPEC_FULL §4.8).
	EstimatedUsage bool

	AttemptCount int

	// Err is the terminal error LogError records; LogUsage ignores it. The
	// caller picks which of the two to call.
	Err        error
	Kind       string
	StatusCode int
}

// Logger implements spec §4.8: computes TTFT/throughput/cost fields and
// writes UsageLogEntry/ErrorLogEntry rows through Store, publishing
// "usage.completed"/"usage.error" on the event bus. Grounded on
// internal/cooldown.Manager's constructor-injection shape (Store +
// EventPublisher + *zap.Logger, all optional via functional Options).
type Logger struct {
	store  Store
	bus    EventPublisher
	logger *zap.Logger
}

// Option configures a Logger.
type Option func(*Logger)

// WithEventBus wires a publisher for "usage.completed"/"usage.error".
func WithEventBus(b EventPublisher) Option {
	return func(l *Logger) { l.bus = b }
}

// WithLogger overrides the zap logger (defaults to a no-op logger).
func WithLogger(z *zap.Logger) Option {
	return func(l *Logger) { l.logger = z }
}

// New builds a Logger over store. Cost is supplied by the caller per
// request via ResponseInfo.Cost (see ResponseInfo's doc comment) rather
// than computed here, so New takes no internal/cost.Calculator.
func New(store Store, opts ...Option) *Logger {
	l := &Logger{store: store, logger: zap.NewNop()}
	for _, o := range opts {
		o(l)
	}
	return l
}

// PendingUsage writes spec §4.8's "pending=true entry at stream start
// (tokens=0)" and returns the row ID the caller must pass to FinalizeUsage
// once the stream completes.
func (l *Logger) PendingUsage(ctx *unified.RequestContext) string {
	id := uuid.NewString()
	row := UsageRow{
		ID:            id,
		RequestID:     ctx.ID,
		Pending:       true,
		ClientAPIType: ctx.ClientAPIType,
		Provider:      ctx.ActualProvider,
		Model:         ctx.ActualModel,
		AliasUsed:     ctx.AliasUsed,
		APIKeyName:    ctx.APIKeyName,
		ClientIP:      ctx.ClientIP,
		Streaming:     true,
		Passthrough:   ctx.Passthrough,
		CreatedAt:     time.Now(),
	}
	if err := l.store.UpsertUsage(row); err != nil {
		l.logger.Error("usage: failed to write pending row", zap.Error(err), zap.String("id", id))
	}
	return id
}

// LogUsage implements the finalize step for both the unary case (id ==
// "" writes a brand new row) and the streaming case (id from a prior
// PendingUsage call overwrites that row in place). The finalize step is
// idempotent: calling it twice with the same id simply re-upserts the same
// values, matching DESIGN.md's documented "update-by-id" model.
func (l *Logger) LogUsage(ctx *unified.RequestContext, info ResponseInfo, id string) UsageRow {
	if id == "" {
		id = uuid.NewString()
	}

	result := info.Cost

	providerTTFT := ctx.ProviderTTFT()
	clientTTFT := ctx.ClientTTFT()
	var overheadMs int64
	if overhead, ok := ctx.TransformationOverhead(); ok {
		overheadMs = overhead.Milliseconds()
	}

	latency := time.Since(ctx.StartTime)
	row := UsageRow{
		ID:                       id,
		RequestID:                ctx.ID,
		Pending:                  false,
		ClientAPIType:            ctx.ClientAPIType,
		Provider:                 ctx.ActualProvider,
		Model:                    ctx.ActualModel,
		AliasUsed:                ctx.AliasUsed,
		APIKeyName:               ctx.APIKeyName,
		ClientIP:                 ctx.ClientIP,
		Streaming:                ctx.Streaming,
		Passthrough:              ctx.Passthrough,
		InputTokens:              info.Usage.InputTokens,
		OutputTokens:             info.Usage.OutputTokens,
		CachedTokens:             info.Usage.CachedTokens,
		ReasoningTokens:          info.Usage.ReasoningTokens,
		EstimatedUsage:           info.EstimatedUsage,
		CostUSD:                  result.TotalUSD,
		CostSource:               string(result.Source),
		LatencyMs:                latency.Milliseconds(),
		ProviderTTFTMs:           providerTTFT.Milliseconds(),
		ClientTTFTMs:             clientTTFT.Milliseconds(),
		TransformationOverheadMs: overheadMs,
		ProviderTokensPerSecond:  tokensPerSecond(info.Usage.OutputTokens, providerTTFT, latency),
		ClientTokensPerSecond:    tokensPerSecond(info.Usage.OutputTokens, clientTTFT, latency),
		FinalizedAt:              time.Now(),
	}

	if err := l.store.UpsertUsage(row); err != nil {
		l.logger.Error("usage: failed to finalize usage row", zap.Error(err), zap.String("id", id))
	}
	if l.bus != nil {
		l.bus.Publish(eventbus.TopicUsageCompleted, row)
	}
	return row
}

// LogError implements spec §4.8/§7's ErrorLogEntry path: written once a
// request fails terminally (non-retryable upstream error, exhaustion, or an
// internal error), never updated afterward.
func (l *Logger) LogError(ctx *unified.RequestContext, info ResponseInfo) ErrorRow {
	row := ErrorRow{
		ID:            uuid.NewString(),
		RequestID:     ctx.ID,
		ClientAPIType: ctx.ClientAPIType,
		AliasUsed:     ctx.AliasUsed,
		APIKeyName:    ctx.APIKeyName,
		Kind:          info.Kind,
		StatusCode:    info.StatusCode,
		AttemptCount:  info.AttemptCount,
		CreatedAt:     time.Now(),
	}
	if info.Err != nil {
		row.Message = info.Err.Error()
	}
	if err := l.store.InsertError(row); err != nil {
		l.logger.Error("usage: failed to write error row", zap.Error(err), zap.String("id", row.ID))
	}
	if l.bus != nil {
		l.bus.Publish(eventbus.TopicUsageError, row)
	}
	return row
}

// tokensPerSecond divides outputTokens by the elapsed duration from ttft to
// total latency (spec §4.8's providerTokensPerSecond/clientTokensPerSecond:
// throughput measured over the generation phase, not the whole request).
func tokensPerSecond(outputTokens int, ttft, latency time.Duration) float64 {
	if outputTokens <= 0 {
		return 0
	}
	generation := latency - ttft
	if generation <= 0 {
		return 0
	}
	return float64(outputTokens) / generation.Seconds()
}
