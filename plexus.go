// Package plexus wires spec §2's leaf components into the single
// constructor-injected Application object SPEC_FULL's design notes call
// for (§9: "re-architect as explicitly injected services owned by a
// top-level application object"). Grounded on
// _examples/other_examples/*nulpointcorp-llm-gateway*gateway.go's
// Gateway struct: every dependency is a field set once at construction,
// nothing is a package-level singleton, and nil-safe optional dependencies
// (event bus, metrics window, persistence) are accepted rather than
// required.
//
// HandleRequest is the data-plane entry point spec §2's "Data flow"
// section describes: resolve candidates, dispatch with failover, compute
// cost, and log usage. Parsing the client's wire payload into a
// unified.UnifiedRequest and rendering the final response back into the
// client's dialect are the caller's job (an HTTP handler is an external
// collaborator per spec §1) — HandleRequest starts from an already-parsed
// UnifiedRequest and returns the dispatcher's Outcome plus whatever
// unified.DialectEnvelope needs on failure.
package plexus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/plexusgw/plexus/internal/classifier"
	"github.com/plexusgw/plexus/internal/config"
	"github.com/plexusgw/plexus/internal/cooldown"
	"github.com/plexusgw/plexus/internal/cost"
	"github.com/plexusgw/plexus/internal/ctxkeys"
	"github.com/plexusgw/plexus/internal/dispatcher"
	"github.com/plexusgw/plexus/internal/eventbus"
	"github.com/plexusgw/plexus/internal/metrics"
	"github.com/plexusgw/plexus/internal/ratelimit"
	"github.com/plexusgw/plexus/internal/router"
	"github.com/plexusgw/plexus/internal/selector"
	"github.com/plexusgw/plexus/internal/transform"
	"github.com/plexusgw/plexus/internal/unified"
	"github.com/plexusgw/plexus/internal/usage"
)

// Application owns every service spec §2 names and the glue between them.
// Construct one with New (or Build, for full control over each field) and
// keep it alive for the process lifetime; a config hot reload only swaps
// the *config.Config pointer inside ConfigManager, every other field stays
// put for the run's duration (spec §5).
type Application struct {
	Config     *config.Manager
	Cooldown   *cooldown.Manager
	Metrics    *metrics.Window
	Collector  *metrics.Collector
	Cost       *cost.Calculator
	Estimator  *cost.Estimator
	Selectors  *selector.Registry
	Classifier classifier.Classifier
	Transforms *transform.Registry
	RateLimits *ratelimit.Registry
	Events     *eventbus.Bus
	Router     *router.Router
	Dispatcher *dispatcher.Dispatcher
	Usage      *usage.Logger

	logger *zap.Logger
	db     *gorm.DB
}

// Options configures New's default wiring. Zero value is a usable,
// fully in-memory configuration (sqlite :memory:, no persisted
// config file, heuristic classifier) — convenient for tests and for
// internal/dispatcher-less smoke checks.
type Options struct {
	ConfigPath string // empty: programmatically-built empty Config
	// Config, when set, is used as-is instead of loading ConfigPath —
	// lets tests and embedders build providers/models programmatically.
	Config     *config.Config
	DSN        string // empty: "file::memory:?cache=shared"
	Logger     *zap.Logger
	HTTPClient dispatcher.HTTPDoer // nil: http.DefaultClient
	Classifier classifier.Classifier // nil: classifier.NewHeuristicClassifier()
}

// New builds a fully-wired Application per DESIGN.md's module layout: a
// config snapshot, a cooldown manager backed by gorm/sqlite, a rolling
// metrics window plus its Prometheus collector, a cost calculator with a
// tiktoken-go estimator fallback, the selector/classifier/router/transform/
// ratelimit/eventbus leaves, and the dispatcher and usage logger that tie
// them together.
func New(opts Options) (*Application, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := opts.Config
	if cfg == nil {
		loader := config.NewLoader()
		if opts.ConfigPath != "" {
			loader = loader.WithConfigPath(opts.ConfigPath)
		}
		loaded, err := loader.Load()
		if err != nil {
			return nil, fmt.Errorf("plexus: load config: %w", err)
		}
		cfg = loaded
	}

	dsn := opts.DSN
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("plexus: open persistence: %w", err)
	}

	cooldownStore, err := cooldown.NewGormStore(db)
	if err != nil {
		return nil, fmt.Errorf("plexus: migrate cooldown store: %w", err)
	}
	usageStore, err := usage.NewGormStore(db)
	if err != nil {
		return nil, fmt.Errorf("plexus: migrate usage store: %w", err)
	}

	bus := eventbus.New(eventbus.DefaultSubscriberDepth, logger)

	configMgr := config.NewManager(cfg, opts.ConfigPath, logger)

	window := metrics.NewWindow(metricsWindowDuration(cfg))
	collector := metrics.NewCollector(metricsNamespace(cfg), logger)

	cd, err := cooldown.New(
		cooldown.WithStore(cooldownStore),
		cooldown.WithLimits(func() cooldown.Limits {
			c := configMgr.Snapshot().Cooldown
			return cooldown.Limits{
				Initial: time.Duration(c.EffectiveInitialMinutes() * float64(time.Minute)),
				Max:     time.Duration(c.EffectiveMaxMinutes() * float64(time.Minute)),
			}
		}),
		cooldown.WithDisableCooldownLookup(func(provider string) bool {
			p, ok := configMgr.Snapshot().Provider(provider)
			return ok && p.DisableCooldown
		}),
		cooldown.WithLogger(logger),
		cooldown.WithEventBus(bus),
		cooldown.WithMetrics(collector),
	)
	if err != nil {
		return nil, fmt.Errorf("plexus: build cooldown manager: %w", err)
	}

	calc := cost.NewCalculator()
	estimator, err := cost.NewEstimator()
	if err != nil {
		return nil, fmt.Errorf("plexus: build token estimator: %w", err)
	}

	selectors := selector.NewRegistry(logger)

	cls := opts.Classifier
	if cls == nil {
		cls = classifier.NewHeuristicClassifier()
	}

	transforms := transform.NewDefaultRegistry()
	rateLimits := ratelimit.NewRegistry()

	r := router.New(configMgr.Snapshot, cd, selectors, window, cls, logger)

	client := opts.HTTPClient
	d := dispatcher.New(transforms, cd, rateLimits, window, collector, client, logger)

	usageLogger := usage.New(usageStore, usage.WithEventBus(bus), usage.WithLogger(logger))

	configMgr.OnReload(func(_, newCfg *config.Config) {
		bus.Publish(eventbus.TopicConfigReloaded, newCfg)
	})

	return &Application{
		Config:     configMgr,
		Cooldown:   cd,
		Metrics:    window,
		Collector:  collector,
		Cost:       calc,
		Estimator:  estimator,
		Selectors:  selectors,
		Classifier: cls,
		Transforms: transforms,
		RateLimits: rateLimits,
		Events:     bus,
		Router:     r,
		Dispatcher: d,
		Usage:      usageLogger,
		logger:     logger,
		db:         db,
	}, nil
}

func metricsWindowDuration(cfg *config.Config) time.Duration {
	minutes := cfg.Metrics.WindowMinutes
	if minutes <= 0 {
		minutes = 15
	}
	return time.Duration(minutes) * time.Minute
}

func metricsNamespace(cfg *config.Config) string {
	if cfg.Metrics.Namespace != "" {
		return cfg.Metrics.Namespace
	}
	return "plexus"
}

// Result bundles a completed HandleRequest call's dispatcher outcome with
// its computed cost, for the caller (an HTTP handler, a test) to render or
// assert on.
type Result struct {
	Outcome *dispatcher.Outcome
	Cost    cost.Result
	// PendingUsageID is the id of the pending usage row written for a
	// streaming request, to pass to FinalizeStreamingUsage; empty for unary.
	PendingUsageID string
}

// HandleRequest implements spec §2's data-flow: resolve candidates for
// req.Model, dispatch with failover, compute cost from the resolved
// target's pricing/discount, and log usage (or a terminal error) through
// the usage logger. reqCtx is mutated in place exactly as spec §3's
// RequestContext lifecycle describes ("mutated by router/dispatcher,
// consumed by usage logger").
func (a *Application) HandleRequest(ctx context.Context, req *unified.UnifiedRequest, reqCtx *unified.RequestContext) (*Result, error) {
	ctx = ctxkeys.WithRequestID(ctx, reqCtx.ID)
	cfg := a.Config.Snapshot()

	candidates, err := a.Router.ResolveCandidates(req.Model, req.IncomingAPIType, req)
	if err != nil {
		a.Usage.LogError(reqCtx, usage.ResponseInfo{Err: err, Kind: "invalid_request_error"})
		return nil, err
	}
	if len(candidates) > 0 {
		reqCtx.AliasUsed = req.Model
		reqCtx.ActualProvider = candidates[0].Provider
		reqCtx.ActualModel = candidates[0].Model
	}

	var pendingID string
	if req.Stream {
		reqCtx.Streaming = true
		pendingID = a.Usage.PendingUsage(reqCtx)
	}

	outcome, err := a.Dispatcher.Dispatch(ctx, req, candidates, cfg.Failover)
	if err != nil {
		kind, status := classifyDispatchError(err)
		a.Usage.LogError(reqCtx, usage.ResponseInfo{
			Err: err, Kind: kind, StatusCode: status, AttemptCount: len(candidates),
		})
		return nil, err
	}

	reqCtx.ActualProvider = outcome.Provider
	reqCtx.ActualModel = outcome.Model
	reqCtx.TargetAPIType = outcome.TargetAPIType
	reqCtx.Passthrough = outcome.Passthrough

	var cand *router.RouteResult
	for i := range candidates {
		if candidates[i].Provider == outcome.Provider && candidates[i].Model == outcome.Model {
			cand = &candidates[i]
			break
		}
	}

	result := cost.Result{}
	var u cost.Usage
	var estimated bool
	if cand != nil && outcome.Response != nil {
		u, estimated = a.usageWithFallback(outcome.Response.Usage, req, outcome.Response)
		result = a.Cost.Calculate(cand.Provider, cand.Model, cand.ModelConfig, cand.ProviderConfig, u)
	}

	if req.Stream {
		// Finalization happens once the stream drains; the caller (the
		// ingress handler, out of scope here) is expected to call
		// FinalizeStreamingUsage with Result.PendingUsageID after
		// <-outcome.StreamDone. Leaving the pending row as-is here matches
		// spec §4.8's two-step model.
		return &Result{Outcome: outcome, Cost: result, PendingUsageID: pendingID}, nil
	}

	a.Usage.LogUsage(reqCtx, usage.ResponseInfo{
		Usage:          u,
		EstimatedUsage: estimated,
		Cost:           result,
		AttemptCount:   len(candidates),
	}, "")

	return &Result{Outcome: outcome, Cost: result}, nil
}

// usageWithFallback implements SPEC_FULL §4.8's token-estimation fallback:
// when a provider's response carried no usage block, reconstruct
// input/output token counts from the rendered prompt and completion text via
// internal/cost.Estimator's tiktoken encoding rather than logging a $0 cost.
func (a *Application) usageWithFallback(respUsage unified.Usage, req *unified.UnifiedRequest, resp *unified.UnifiedResponse) (cost.Usage, bool) {
	u := cost.Usage{
		InputTokens:     respUsage.InputTokens,
		OutputTokens:    respUsage.OutputTokens,
		CachedTokens:    respUsage.CachedTokens,
		ReasoningTokens: respUsage.ReasoningTokens,
	}
	if u.InputTokens > 0 || u.OutputTokens > 0 {
		return u, false
	}
	estimated := a.Estimator.EstimateUsage(u, promptText(req), completionText(resp))
	return estimated, estimated.InputTokens > 0 || estimated.OutputTokens > 0
}

// promptText renders a request's messages to plain text for token
// estimation, the same text a provider would have tokenized as input.
func promptText(req *unified.UnifiedRequest) string {
	var sb strings.Builder
	for _, m := range req.Messages {
		sb.WriteString(m.Text())
	}
	return sb.String()
}

// completionText renders a response's text parts for token estimation.
func completionText(resp *unified.UnifiedResponse) string {
	var sb strings.Builder
	for _, p := range resp.Parts {
		if p.Kind == unified.PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// FinalizeStreamingUsage implements the second half of the pending->finalize
// two-step for a streaming request: call this once outcome.StreamDone has
// closed, after which outcome.StreamSnapshot() holds the reconstructed
// usage. pendingID is Result.PendingUsageID from the HandleRequest call
// that started the stream.
// req is the original request, needed only for the tiktoken fallback when
// the reconstructed stream snapshot carries no usage block.
func (a *Application) FinalizeStreamingUsage(reqCtx *unified.RequestContext, req *unified.UnifiedRequest, outcome *dispatcher.Outcome, cand router.RouteResult, pendingID string) usage.UsageRow {
	snapshot := outcome.StreamSnapshot()
	var u cost.Usage
	var result cost.Result
	var estimated bool
	if snapshot != nil {
		u, estimated = a.usageWithFallback(snapshot.Usage, req, snapshot)
		result = a.Cost.Calculate(cand.Provider, cand.Model, cand.ModelConfig, cand.ProviderConfig, u)
	}
	return a.Usage.LogUsage(reqCtx, usage.ResponseInfo{Usage: u, EstimatedUsage: estimated, Cost: result}, pendingID)
}

// classifyDispatchError maps a dispatcher/unified taxonomy error to the
// usage logger's Kind/StatusCode fields, per spec §7.
func classifyDispatchError(err error) (kind string, status int) {
	switch e := err.(type) {
	case *unified.UpstreamError:
		return "upstream_error", e.Status
	case *unified.ExhaustionError:
		return "exhaustion_error", 0
	case *unified.InternalError:
		return "internal_error", 0
	default:
		return "internal_error", 0
	}
}

// Close releases the persistence connection. Safe to call once at process
// shutdown.
func (a *Application) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
