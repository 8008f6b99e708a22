package selector

import (
	"math/rand"
	"testing"
	"time"

	"github.com/plexusgw/plexus/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidates() []EnrichedTarget {
	return []EnrichedTarget{
		{Provider: "a", Model: "m", Weight: 1},
		{Provider: "b", Model: "m", Weight: 1},
		{Provider: "c", Model: "m", Weight: 1},
	}
}

func TestUnknownStrategyFallsBackToRandom(t *testing.T) {
	reg := NewRegistry(nil)
	sel := reg.Get("nonexistent")
	chosen := sel(candidates(), nil, nil)
	assert.Contains(t, []string{"a", "b", "c"}, chosen.Provider)
}

func TestInOrderSkipsAttempted(t *testing.T) {
	reg := NewRegistry(nil)
	sel := reg.Get(StrategyInOrder)
	cs := candidates()
	chosen := sel(cs, []EnrichedTarget{{Provider: "a", Model: "m"}}, nil)
	assert.Equal(t, "b", chosen.Provider)
}

func TestInOrderAllAttemptedReturnsFirst(t *testing.T) {
	reg := NewRegistry(nil)
	sel := reg.Get(StrategyInOrder)
	cs := candidates()
	chosen := sel(cs, cs, nil)
	assert.Equal(t, "a", chosen.Provider)
}

func TestWeightedRandomRespectsWeights(t *testing.T) {
	reg := NewRegistryWithRand(nil, rand.New(rand.NewSource(1)))
	cs := []EnrichedTarget{
		{Provider: "heavy", Model: "m", Weight: 99},
		{Provider: "light", Model: "m", Weight: 1},
	}
	counts := map[string]int{}
	for i := 0; i < 500; i++ {
		chosen := reg.random(cs, nil, nil)
		counts[chosen.Provider]++
	}
	assert.Greater(t, counts["heavy"], counts["light"], "weight=99 target should dominate weight=1 target")
}

func TestCostSelectorPicksLowestAndFallsBackWithoutMetrics(t *testing.T) {
	reg := NewRegistry(nil)
	sel := reg.Get(StrategyCost)

	// No window at all: falls back to random (any candidate is acceptable).
	chosen := sel(candidates(), nil, nil)
	assert.Contains(t, []string{"a", "b", "c"}, chosen.Provider)

	w := metrics.NewWindow(time.Minute)
	now := time.Now()
	w.Record("a", "m", metrics.RequestRecord{At: now, Success: true, LatencyMs: 100, CostPer1M: 5.0})
	w.Record("b", "m", metrics.RequestRecord{At: now, Success: true, LatencyMs: 100, CostPer1M: 1.0})
	w.Record("c", "m", metrics.RequestRecord{At: now, Success: true, LatencyMs: 100, CostPer1M: 9.0})

	chosen = sel(candidates(), nil, w)
	assert.Equal(t, "b", chosen.Provider)
}

func TestLatencySelectorPicksLowest(t *testing.T) {
	reg := NewRegistry(nil)
	sel := reg.Get(StrategyLatency)

	w := metrics.NewWindow(time.Minute)
	now := time.Now()
	w.Record("a", "m", metrics.RequestRecord{At: now, Success: true, LatencyMs: 300})
	w.Record("b", "m", metrics.RequestRecord{At: now, Success: true, LatencyMs: 50})
	w.Record("c", "m", metrics.RequestRecord{At: now, Success: true, LatencyMs: 200})

	chosen := sel(candidates(), nil, w)
	assert.Equal(t, "b", chosen.Provider)
}

func TestPerformanceSelectorUsesThroughputOverCostLatency(t *testing.T) {
	reg := NewRegistry(nil)
	sel := reg.Get(StrategyPerformance)

	w := metrics.NewWindow(time.Minute)
	now := time.Now()
	// a: great throughput, cheap, fast -> best score.
	w.Record("a", "m", metrics.RequestRecord{At: now, Success: true, LatencyMs: 100, CostPer1M: 1.0, ThroughputTPS: 100})
	// b: no throughput data, still cheap/fast -> uses 1/(latency*cost).
	w.Record("b", "m", metrics.RequestRecord{At: now, Success: true, LatencyMs: 100, CostPer1M: 1.0})
	// c: slow and expensive.
	w.Record("c", "m", metrics.RequestRecord{At: now, Success: true, LatencyMs: 1000, CostPer1M: 10.0})

	chosen := sel(candidates(), nil, w)
	assert.Equal(t, "a", chosen.Provider)
}

func TestOrderAllProducesFullPermutationWithoutRepeats(t *testing.T) {
	reg := NewRegistry(nil)
	sel := reg.Get(StrategyInOrder)
	ordered := OrderAll(sel, candidates(), nil)
	require.Len(t, ordered, 3)
	seen := map[string]bool{}
	for _, o := range ordered {
		assert.False(t, seen[o.Provider], "duplicate in ordering")
		seen[o.Provider] = true
	}
}
