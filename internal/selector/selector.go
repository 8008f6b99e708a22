// Package selector implements spec §4.5's selector strategies: given an
// ordered list of candidate targets, pick one. The router repeatedly calls
// Select with removal to build its full failover ordering (spec §4.3).
package selector

import (
	"math/rand"

	"github.com/plexusgw/plexus/internal/metrics"
	"go.uber.org/zap"
)

// Strategy names spec §4.5 recognizes; an unknown name falls back to Random
// with a logged warning (handled by Registry.Get).
type Strategy string

const (
	StrategyRandom      Strategy = "random"
	StrategyInOrder      Strategy = "in_order"
	StrategyCost         Strategy = "cost"
	StrategyLatency      Strategy = "latency"
	StrategyPerformance  Strategy = "performance"
)

// EnrichedTarget is the minimal shape a Selector needs: identity plus an
// optional static weight (spec §4.5's random strategy) for selection, and a
// lookup key into the metrics window for the data-driven strategies.
type EnrichedTarget struct {
	Provider string
	Model    string
	Weight   int // EffectiveWeight; 1 if unset
}

// CooldownKey lets cooldown.FilterHealthy filter EnrichedTargets directly.
func (t EnrichedTarget) CooldownKey() (provider, model string) { return t.Provider, t.Model }

// Selector picks one target out of candidates. previousAttempts holds
// targets already tried this request (in_order's "first not yet attempted"
// rule); metricsWindow supplies per-target Aggregate for cost/latency/
// performance, and may be nil (forces random fallback).
type Selector func(candidates []EnrichedTarget, previousAttempts []EnrichedTarget, metricsWindow *metrics.Window) EnrichedTarget

// Registry resolves a Strategy name to a Selector, defaulting unknown names
// to Random with a logged warning (spec §4.5).
type Registry struct {
	logger *zap.Logger
	rng    *rand.Rand
}

// NewRegistry builds a Registry using the package-level math/rand source.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{logger: logger}
}

// NewRegistryWithRand builds a Registry drawing from rng instead of the
// package-level source, so weighted-random tests can assert on a fixed seed.
func NewRegistryWithRand(logger *zap.Logger, rng *rand.Rand) *Registry {
	r := NewRegistry(logger)
	r.rng = rng
	return r
}

// Get resolves strategy to a Selector function.
func (r *Registry) Get(strategy Strategy) Selector {
	switch strategy {
	case StrategyRandom:
		return r.random
	case StrategyInOrder:
		return r.inOrder
	case StrategyCost:
		return r.byAggregate(func(a metrics.Aggregate) float64 { return a.AvgCostPer1M }, false)
	case StrategyLatency:
		return r.byAggregate(func(a metrics.Aggregate) float64 { return a.AvgLatencyMs }, false)
	case StrategyPerformance:
		return r.byPerformance
	default:
		r.logger.Warn("unknown selector strategy, falling back to random", zap.String("strategy", string(strategy)))
		return r.random
	}
}

func (r *Registry) randFloat() float64 {
	if r.rng != nil {
		return r.rng.Float64()
	}
	return rand.Float64()
}

// random is spec §4.5's weighted-random selector: uniform when every
// candidate's weight is 1 (the common case), otherwise a cumulative-weight
// lookup against a draw in [0, totalWeight).
func (r *Registry) random(candidates []EnrichedTarget, _ []EnrichedTarget, _ *metrics.Window) EnrichedTarget {
	total := 0
	for _, c := range candidates {
		w := c.Weight
		if w <= 0 {
			w = 1
		}
		total += w
	}
	draw := r.randFloat() * float64(total)
	cum := 0.0
	for _, c := range candidates {
		w := c.Weight
		if w <= 0 {
			w = 1
		}
		cum += float64(w)
		if draw < cum {
			return c
		}
	}
	return candidates[len(candidates)-1]
}

// inOrder returns the first candidate not already in previousAttempts; if
// every candidate has been attempted, returns the first.
func (r *Registry) inOrder(candidates []EnrichedTarget, previousAttempts []EnrichedTarget, _ *metrics.Window) EnrichedTarget {
	attempted := make(map[string]bool, len(previousAttempts))
	for _, a := range previousAttempts {
		attempted[key(a)] = true
	}
	for _, c := range candidates {
		if !attempted[key(c)] {
			return c
		}
	}
	return candidates[0]
}

func key(t EnrichedTarget) string { return t.Provider + ":" + t.Model }

// byAggregate builds a selector that picks the candidate with the lowest
// aggregate value (the bool parameter is ignored), falling back to random when metricsWindow is nil
// or no candidate has live data, and breaking ties by input order.
func (r *Registry) byAggregate(metric func(metrics.Aggregate) float64, _ bool) Selector {
	return func(candidates []EnrichedTarget, previousAttempts []EnrichedTarget, w *metrics.Window) EnrichedTarget {
		if w == nil {
			return r.random(candidates, previousAttempts, w)
		}
		bestIdx := -1
		bestVal := 0.0
		for i, c := range candidates {
			agg, ok := w.Aggregate(c.Provider, c.Model)
			if !ok {
				continue
			}
			v := metric(agg)
			if bestIdx == -1 || v < bestVal {
				bestIdx = i
				bestVal = v
			}
		}
		if bestIdx == -1 {
			return r.random(candidates, previousAttempts, w)
		}
		return candidates[bestIdx]
	}
}

// byPerformance is spec §4.5's performance strategy: highest
// throughput/(latency*costPer1M), or 1/(latency*cost) when throughput is
// zero (avoids always picking a target with no throughput data as "best").
func (r *Registry) byPerformance(candidates []EnrichedTarget, previousAttempts []EnrichedTarget, w *metrics.Window) EnrichedTarget {
	if w == nil {
		return r.random(candidates, previousAttempts, w)
	}
	bestIdx := -1
	bestScore := 0.0
	for i, c := range candidates {
		agg, ok := w.Aggregate(c.Provider, c.Model)
		if !ok || agg.AvgLatencyMs <= 0 || agg.AvgCostPer1M <= 0 {
			continue
		}
		denom := agg.AvgLatencyMs * agg.AvgCostPer1M
		var score float64
		if agg.AvgThroughputTPS > 0 {
			score = agg.AvgThroughputTPS / denom
		} else {
			score = 1 / denom
		}
		if bestIdx == -1 || score > bestScore {
			bestIdx = i
			bestScore = score
		}
	}
	if bestIdx == -1 {
		return r.random(candidates, previousAttempts, w)
	}
	return candidates[bestIdx]
}

// OrderAll builds the router's full failover ordering by repeatedly calling
// sel with the remaining candidates and removing the chosen one, so the
// selector's preferred ordering is preserved across the entire list (spec
// §4.3: "the router constructs the full ordered candidate list by repeated
// selection with removal").
func OrderAll(sel Selector, candidates []EnrichedTarget, w *metrics.Window) []EnrichedTarget {
	remaining := append([]EnrichedTarget(nil), candidates...)
	ordered := make([]EnrichedTarget, 0, len(candidates))
	for len(remaining) > 0 {
		chosen := sel(remaining, ordered, w)
		ordered = append(ordered, chosen)
		for i, c := range remaining {
			if key(c) == key(chosen) {
				remaining = append(remaining[:i], remaining[i+1:]...)
				break
			}
		}
	}
	return ordered
}
