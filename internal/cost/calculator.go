// Package cost implements spec §4.8's cost calculator: the fallback chain
// {model-specific -> tiered-by-input-tokens -> pricing registry -> fixed
// estimate}, a per-provider discount multiplier, and a labelled source for
// usage-log transparency.
package cost

import (
	"fmt"
	"sync"

	"github.com/plexusgw/plexus/internal/config"
)

// Source labels which rung of the fallback chain produced a Result,
// surfaced on the usage log entry so a dashboard can flag estimates.
type Source string

const (
	SourceModelPricing   Source = "model_pricing"   // model's own flat Pricing
	SourceTieredPricing  Source = "tiered_pricing"  // model's own tiered Pricing
	SourceRegistry       Source = "registry"        // calculator-wide default-price table
	SourceFixedEstimate  Source = "fixed_estimate"  // no pricing anywhere: flat per-token guess
)

// Result is the computed cost of one request.
type Result struct {
	TotalUSD     float64
	InputUSD     float64
	OutputUSD    float64
	CachedUSD    float64
	ReasoningUSD float64
	Source       Source
	Discount     float64
}

// Usage is the token breakdown a single completed request produced.
type Usage struct {
	InputTokens     int
	OutputTokens    int
	CachedTokens    int
	ReasoningTokens int
}

// registryPrice is one row of the calculator's provider:model default table,
// used only when neither the request's ModelConfig nor its ProviderConfig
// carry pricing (e.g. a model reached via direct/ routing with no models
// block in config).
type registryPrice struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Calculator computes request cost through spec §4.8's fallback chain.
// Grounded on the teacher's CostCalculator: a provider:model-keyed price map
// guarded by a mutex, seeded with a fixed default table, adapted here to
// layer in config-driven per-model pricing ahead of the static defaults and
// to apply a provider discount multiplier the teacher's version lacked.
type Calculator struct {
	mu     sync.RWMutex
	prices map[string]registryPrice

	// FixedEstimateUSDPer1K is the last-resort flat per-1K-token price used
	// when no pricing data exists anywhere for a model (spec §4.8's "fixed
	// estimate" rung).
	FixedEstimateUSDPer1K float64
}

// NewCalculator builds a Calculator seeded with a small set of well-known
// default prices (USD per 1M tokens), mirroring the teacher's
// loadDefaultPrices seed table but expressed per-1M to match spec §3's
// Pricing.inputPer1M convention.
func NewCalculator() *Calculator {
	c := &Calculator{
		prices:                make(map[string]registryPrice),
		FixedEstimateUSDPer1K: 0.01,
	}
	c.loadDefaults()
	return c
}

func (c *Calculator) loadDefaults() {
	defaults := map[string]registryPrice{
		"openai:gpt-4o":                {InputPer1M: 5.0, OutputPer1M: 15.0},
		"openai:gpt-4o-mini":           {InputPer1M: 0.15, OutputPer1M: 0.6},
		"openai:gpt-4-turbo":           {InputPer1M: 10.0, OutputPer1M: 30.0},
		"openai:gpt-3.5-turbo":         {InputPer1M: 0.5, OutputPer1M: 1.5},
		"anthropic:claude-3-5-sonnet":  {InputPer1M: 3.0, OutputPer1M: 15.0},
		"anthropic:claude-3-opus":      {InputPer1M: 15.0, OutputPer1M: 75.0},
		"anthropic:claude-3-haiku":     {InputPer1M: 0.25, OutputPer1M: 1.25},
		"gemini:gemini-1.5-pro":        {InputPer1M: 1.25, OutputPer1M: 5.0},
		"gemini:gemini-1.5-flash":      {InputPer1M: 0.075, OutputPer1M: 0.3},
	}
	for k, v := range defaults {
		c.prices[k] = v
	}
}

// SetPrice installs/overwrites a registry-level default for provider:model.
func (c *Calculator) SetPrice(provider, model string, inputPer1M, outputPer1M float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[registryKey(provider, model)] = registryPrice{InputPer1M: inputPer1M, OutputPer1M: outputPer1M}
}

func registryKey(provider, model string) string { return fmt.Sprintf("%s:%s", provider, model) }

func (c *Calculator) registryPrice(provider, model string) (registryPrice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[registryKey(provider, model)]
	return p, ok
}

// Calculate implements spec §4.8's fallback chain and discount multiplier.
// modelCfg may be nil (direct routing with no models block); providerCfg
// supplies the discount (defaults to 1.0 via EffectiveDiscount).
func (c *Calculator) Calculate(provider, model string, modelCfg *config.ModelConfig, providerCfg *config.ProviderConfig, usage Usage) Result {
	discount := 1.0
	if providerCfg != nil {
		discount = providerCfg.EffectiveDiscount()
	}

	if modelCfg != nil {
		if modelCfg.Pricing.Tiered() {
			if tier, ok := modelCfg.Pricing.ForInputTokens(usage.InputTokens); ok {
				return applyDiscount(costFromPer1M(tier.InputPer1M, tier.OutputPer1M, tier.CachedPer1M, 0, usage), SourceTieredPricing, discount)
			}
		} else if modelCfg.Pricing.InputPer1M > 0 || modelCfg.Pricing.OutputPer1M > 0 {
			p := modelCfg.Pricing
			return applyDiscount(costFromPer1M(p.InputPer1M, p.OutputPer1M, p.CachedPer1M, p.ReasoningPer1M, usage), SourceModelPricing, discount)
		}
	}

	if rp, ok := c.registryPrice(provider, model); ok {
		return applyDiscount(costFromPer1M(rp.InputPer1M, rp.OutputPer1M, 0, 0, usage), SourceRegistry, discount)
	}

	totalTokens := usage.InputTokens + usage.OutputTokens + usage.CachedTokens + usage.ReasoningTokens
	fixed := float64(totalTokens) / 1000 * c.FixedEstimateUSDPer1K
	return applyDiscount(Result{TotalUSD: fixed}, SourceFixedEstimate, discount)
}

func costFromPer1M(inputPer1M, outputPer1M, cachedPer1M, reasoningPer1M float64, u Usage) Result {
	const million = 1_000_000
	r := Result{
		InputUSD:     float64(u.InputTokens) / million * inputPer1M,
		OutputUSD:    float64(u.OutputTokens) / million * outputPer1M,
		CachedUSD:    float64(u.CachedTokens) / million * cachedPer1M,
		ReasoningUSD: float64(u.ReasoningTokens) / million * reasoningPer1M,
	}
	r.TotalUSD = r.InputUSD + r.OutputUSD + r.CachedUSD + r.ReasoningUSD
	return r
}

func applyDiscount(r Result, source Source, discount float64) Result {
	r.Source = source
	r.Discount = discount
	r.TotalUSD *= discount
	r.InputUSD *= discount
	r.OutputUSD *= discount
	r.CachedUSD *= discount
	r.ReasoningUSD *= discount
	return r
}
