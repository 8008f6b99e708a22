// Package router implements spec §4.3's routing: alias resolution, target
// filtering (disabled providers/targets, cooldown, API-type compatibility),
// and ordering via internal/selector.
package router

import (
	"errors"
	"fmt"

	"github.com/plexusgw/plexus/internal/classifier"
	"github.com/plexusgw/plexus/internal/config"
	"github.com/plexusgw/plexus/internal/cooldown"
	"github.com/plexusgw/plexus/internal/metrics"
	"github.com/plexusgw/plexus/internal/selector"
	"github.com/plexusgw/plexus/internal/unified"
	"go.uber.org/zap"
)

// Named router errors, per spec §4.3: "errors with AliasNotFound, AllDisabled,
// AllOnCooldown, NoCompatibleTarget."
var (
	ErrAliasNotFound     = errors.New("router: alias not found")
	ErrAllDisabled       = errors.New("router: all targets disabled")
	ErrAllOnCooldown     = errors.New("router: all targets on cooldown")
	ErrNoCompatibleTarget = errors.New("router: no target compatible with requested api type")
)

// RouteResult is one resolved, orderable candidate.
type RouteResult struct {
	Provider       string
	Model          string
	ProviderConfig *config.ProviderConfig
	ModelConfig    *config.ModelConfig // nil if the model has no declared config
	Direct         bool                // true for direct/<provider>/<model> routing
}

func (r RouteResult) CooldownKey() (provider, model string) { return r.Provider, r.Model }

// Router resolves a client-facing model name into ordered candidates.
type Router struct {
	snapshot   func() *config.Config
	cooldown   *cooldown.Manager
	selectors  *selector.Registry
	window     *metrics.Window
	classifier classifier.Classifier
	logger     *zap.Logger
}

// New builds a Router. snapshot is called on every resolve so config hot
// reloads take effect immediately, per spec §5's atomic-pointer-swap
// contract; window may be nil (selector strategies needing it fall back to
// random).
func New(snapshot func() *config.Config, cd *cooldown.Manager, sel *selector.Registry, window *metrics.Window, cls classifier.Classifier, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cls == nil {
		cls = classifier.NewHeuristicClassifier()
	}
	return &Router{snapshot: snapshot, cooldown: cd, selectors: sel, window: window, classifier: cls, logger: logger}
}

// ResolveCandidates implements spec §4.3's resolveCandidates.
func (r *Router) ResolveCandidates(modelName, incomingAPIType string, req *unified.UnifiedRequest) ([]RouteResult, error) {
	cfg := r.snapshot()

	if provider, model, ok := config.DirectTarget(modelName); ok {
		return r.resolveDirect(cfg, provider, model)
	}

	if modelName == "auto" && cfg.Auto.Enabled {
		resolvedAlias, err := r.resolveAuto(cfg, req)
		if err != nil {
			return nil, err
		}
		modelName = resolvedAlias
	}

	alias, ok := cfg.ResolveAliasName(modelName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAliasNotFound, modelName)
	}

	targets := make([]selector.EnrichedTarget, 0, len(alias.Targets))
	results := make(map[string]RouteResult, len(alias.Targets))

	anyEnabled := false
	for _, t := range alias.Targets {
		if !t.IsEnabled() {
			continue
		}
		anyEnabled = true
		pc, ok := cfg.Provider(t.Provider)
		if !ok || !pc.IsEnabled() {
			continue
		}
		mc, _ := pc.ModelConfigFor(t.Model)
		rr := RouteResult{Provider: t.Provider, Model: t.Model, ProviderConfig: pc, ModelConfig: mc}
		results[key(t.Provider, t.Model)] = rr
		targets = append(targets, selector.EnrichedTarget{Provider: t.Provider, Model: t.Model, Weight: t.EffectiveWeight()})
	}
	if !anyEnabled || len(targets) == 0 {
		return nil, fmt.Errorf("%w: alias %q", ErrAllDisabled, modelName)
	}

	if r.cooldown != nil {
		healthy := cooldown.FilterHealthy(r.cooldown, targets)
		if len(healthy) == 0 {
			return nil, fmt.Errorf("%w: alias %q", ErrAllOnCooldown, modelName)
		}
		targets = healthy
	}

	if alias.Priority == "api_match" && incomingAPIType != "" {
		narrowed := narrowByAPIType(cfg, targets, incomingAPIType)
		if len(narrowed) > 0 {
			targets = narrowed
		} else {
			r.logger.Warn("api_match narrowing yielded zero targets, keeping original set",
				zap.String("alias", modelName), zap.String("incoming_api_type", incomingAPIType))
		}
	}

	strategyName := selector.Strategy(alias.Selector)
	if strategyName == "" {
		strategyName = selector.StrategyRandom
	}
	sel := r.selectors.Get(strategyName)
	ordered := selector.OrderAll(sel, targets, r.window)

	out := make([]RouteResult, 0, len(ordered))
	for _, t := range ordered {
		out = append(out, results[key(t.Provider, t.Model)])
	}
	return out, nil
}

// Resolve is spec §4.3's thin wrapper returning the first candidate.
func (r *Router) Resolve(modelName, incomingAPIType string, req *unified.UnifiedRequest) (RouteResult, error) {
	candidates, err := r.ResolveCandidates(modelName, incomingAPIType, req)
	if err != nil {
		return RouteResult{}, err
	}
	return candidates[0], nil
}

func (r *Router) resolveDirect(cfg *config.Config, provider, model string) ([]RouteResult, error) {
	pc, ok := cfg.Provider(provider)
	if !ok || !pc.IsEnabled() {
		return nil, fmt.Errorf("%w: direct target provider %q", ErrAllDisabled, provider)
	}
	mc, _ := pc.ModelConfigFor(model)
	return []RouteResult{{Provider: provider, Model: model, ProviderConfig: pc, ModelConfig: mc, Direct: true}}, nil
}

// resolveAuto implements spec §4.3's auto-alias resolution: classify, apply
// the agentic boost, map to a fixed alias name, recurse.
func (r *Router) resolveAuto(cfg *config.Config, req *unified.UnifiedRequest) (string, error) {
	var in classifier.Input
	if req != nil {
		in.Messages = req.Messages
		in.Tools = req.Tools
		in.ResponseFormat = req.ResponseFormat
	}
	result := r.classifier.Classify(in)

	tier := result.Tier
	if result.AgenticScore > cfg.Auto.AgenticBoostThreshold {
		tier = tier.Promote()
	}

	aliasName, ok := cfg.Auto.TierModels[tierModelsKey(tier)]
	if !ok || aliasName == "" {
		return "", fmt.Errorf("%w: auto tier %q has no configured alias", ErrAliasNotFound, tier)
	}
	return aliasName, nil
}

func tierModelsKey(t classifier.Tier) string {
	switch t {
	case classifier.TierHeartbeat:
		return "heartbeat"
	case classifier.TierSimple:
		return "simple"
	case classifier.TierMedium:
		return "medium"
	case classifier.TierComplex:
		return "complex"
	case classifier.TierReasoning:
		return "reasoning"
	default:
		return "simple"
	}
}

// narrowByAPIType keeps only targets whose provider supports apiType, via
// access_via on the model if declared, else the provider's inferred api
// types from its api_base_url keys (spec §4.3's api_match priority).
func narrowByAPIType(cfg *config.Config, targets []selector.EnrichedTarget, apiType string) []selector.EnrichedTarget {
	out := make([]selector.EnrichedTarget, 0, len(targets))
	for _, t := range targets {
		pc, ok := cfg.Provider(t.Provider)
		if !ok {
			continue
		}
		mc, hasModel := pc.ModelConfigFor(t.Model)
		if hasModel && len(mc.AccessVia) > 0 {
			if contains(mc.AccessVia, apiType) {
				out = append(out, t)
			}
			continue
		}
		if pc.APIBaseURL.Single != "" {
			// A bare string base URL answers for every api-type.
			out = append(out, t)
			continue
		}
		if contains(pc.APITypes(), apiType) {
			out = append(out, t)
		}
	}
	return out
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func key(provider, model string) string { return provider + ":" + model }
