// Package config defines the immutable configuration snapshot for plexus and
// the machinery (YAML loading, file watching, atomic swap) that produces it.
//
// Everything downstream of Load holds a *Config value and never mutates it;
// a hot reload produces a brand new *Config and the Manager swaps the
// pointer atomically so in-flight requests keep using the snapshot they
// started with.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config is the full, immutable configuration snapshot.
type Config struct {
	Providers map[string]*ProviderConfig `yaml:"providers"`
	Models    map[string]*ModelAlias     `yaml:"models"`
	Cooldown  CooldownConfig             `yaml:"cooldown"`
	Failover  FailoverConfig             `yaml:"failover"`
	Auto      AutoConfig                 `yaml:"auto"`
	APIKeys   []APIKeyConfig             `yaml:"apiKeys"`

	// Ambient sections. Not named by spec §6's YAML shape but carried
	// regardless, per SPEC_FULL's ambient-stack rule.
	Log        LogConfig        `yaml:"log"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// LogConfig configures internal/logging.
type LogConfig struct {
	Level       string   `yaml:"level"`
	Format      string   `yaml:"format"`
	OutputPaths []string `yaml:"output_paths"`
}

// PersistenceConfig points at the gorm/sqlite-backed cooldown & usage store.
type PersistenceConfig struct {
	Driver string `yaml:"driver"` // only "sqlite" is wired; see DESIGN.md
	DSN    string `yaml:"dsn"`
}

// MetricsConfig configures the rolling-window collector and its Prometheus export.
type MetricsConfig struct {
	Namespace     string `yaml:"namespace"`
	WindowMinutes int    `yaml:"window_minutes"`
}

// BaseURL models spec §3's ProviderConfig.api_base_url, which the YAML
// source renders as either a bare string or a map keyed by api-type (plus
// an optional "default" key).
type BaseURL struct {
	Single string
	ByType map[string]string
}

// UnmarshalYAML accepts either a scalar string or a mapping.
func (b *BaseURL) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		return value.Decode(&b.Single)
	case yaml.MappingNode:
		return value.Decode(&b.ByType)
	default:
		return fmt.Errorf("api_base_url: unsupported YAML node kind %v", value.Kind)
	}
}

// Resolve picks a concrete base URL for apiType, following §4.6 step 2:
// string form used as-is; map form chooses by api-type key, then
// "default", then any remaining entry (Go map order, so which one is not
// fixed); the fallback is reported via the usedFallback bool.
func (b BaseURL) Resolve(apiType string) (url string, usedFallback bool, ok bool) {
	if b.Single != "" {
		return b.Single, false, true
	}
	if b.ByType == nil {
		return "", false, false
	}
	if u, found := b.ByType[apiType]; found {
		return u, false, true
	}
	if u, found := b.ByType["default"]; found {
		return u, true, true
	}
	for _, u := range b.ByType {
		return u, true, true
	}
	return "", false, false
}

// PricingTier is one row of a tiered-by-input-tokens price table.
type PricingTier struct {
	MaxInputTokens int     `yaml:"maxInputTokens"`
	InputPer1M     float64 `yaml:"inputPer1M"`
	OutputPer1M    float64 `yaml:"outputPer1M"`
	CachedPer1M    float64 `yaml:"cachedPer1M"`
}

// Pricing models spec §3's ModelConfig.pricing union: either a flat rate or
// a list of tiers keyed by maximum input token count.
type Pricing struct {
	InputPer1M     float64
	OutputPer1M    float64
	CachedPer1M    float64
	ReasoningPer1M float64
	Tiers          []PricingTier
}

type pricingFlat struct {
	InputPer1M     float64 `yaml:"inputPer1M"`
	OutputPer1M    float64 `yaml:"outputPer1M"`
	CachedPer1M    float64 `yaml:"cachedPer1M"`
	ReasoningPer1M float64 `yaml:"reasoningPer1M"`
}

type pricingTiered struct {
	Tiers []PricingTier `yaml:"tiers"`
}

// UnmarshalYAML distinguishes the tiered shape (a "tiers" key) from the flat one.
func (p *Pricing) UnmarshalYAML(value *yaml.Node) error {
	var tiered pricingTiered
	if err := value.Decode(&tiered); err == nil && len(tiered.Tiers) > 0 {
		p.Tiers = tiered.Tiers
		return nil
	}
	var flat pricingFlat
	if err := value.Decode(&flat); err != nil {
		return err
	}
	p.InputPer1M = flat.InputPer1M
	p.OutputPer1M = flat.OutputPer1M
	p.CachedPer1M = flat.CachedPer1M
	p.ReasoningPer1M = flat.ReasoningPer1M
	return nil
}

// Tiered reports whether this is a tiered price table.
func (p Pricing) Tiered() bool { return len(p.Tiers) > 0 }

// ForInputTokens picks the tier applying to a request with the given input
// token count: the first tier whose MaxInputTokens is >= tokens, else the
// last (unbounded) tier.
func (p Pricing) ForInputTokens(tokens int) (PricingTier, bool) {
	if !p.Tiered() {
		return PricingTier{}, false
	}
	for _, t := range p.Tiers {
		if t.MaxInputTokens <= 0 || tokens <= t.MaxInputTokens {
			return t, true
		}
	}
	return p.Tiers[len(p.Tiers)-1], true
}

// ModelConfig is spec §3's ModelConfig.
type ModelConfig struct {
	Type      string   `yaml:"type"`
	AccessVia []string `yaml:"access_via"`
	Pricing   Pricing  `yaml:"pricing"`
}

// ProviderConfig is spec §3's ProviderConfig.
type ProviderConfig struct {
	Name             string                  `yaml:"-"`
	Enabled          *bool                   `yaml:"enabled"`
	APIBaseURL       BaseURL                 `yaml:"api_base_url"`
	APIKey           string                  `yaml:"api_key"`
	Headers          map[string]string       `yaml:"headers"`
	ExtraBody        map[string]any          `yaml:"extraBody"`
	DisableCooldown  bool                    `yaml:"disable_cooldown"`
	Discount         float64                 `yaml:"discount"`
	ForceTransformer string                  `yaml:"force_transformer"`
	TimeoutSeconds   int                     `yaml:"timeout_seconds"`
	Models           map[string]*ModelConfig `yaml:"models"`
}

// IsEnabled defaults to true when unset, per spec §3.
func (p *ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// EffectiveTimeoutSeconds defaults to 120s per SPEC_FULL §3's ProviderConfig.timeoutSeconds addition.
func (p *ProviderConfig) EffectiveTimeoutSeconds() int {
	if p.TimeoutSeconds > 0 {
		return p.TimeoutSeconds
	}
	return 120
}

// EffectiveDiscount defaults to 1.0 per spec §3.
func (p *ProviderConfig) EffectiveDiscount() float64 {
	if p.Discount == 0 {
		return 1.0
	}
	return p.Discount
}

// APITypes returns the set of api-types this provider's base URL declares,
// used by §4.3's api_match narrowing when a model doesn't list access_via.
func (p *ProviderConfig) APITypes() []string {
	if p.APIBaseURL.Single != "" {
		return nil // a bare string answers for every api-type
	}
	types := make([]string, 0, len(p.APIBaseURL.ByType))
	for k := range p.APIBaseURL.ByType {
		if k == "default" {
			continue
		}
		types = append(types, k)
	}
	return types
}

// Target is one entry of a ModelAlias's targets list.
type Target struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Enabled  *bool  `yaml:"enabled"`
	Weight   *int   `yaml:"weight"`
}

// IsEnabled defaults to true when unset.
func (t Target) IsEnabled() bool { return t.Enabled == nil || *t.Enabled }

// EffectiveWeight defaults to 1 when unset, per §4.5's random selector.
func (t Target) EffectiveWeight() int {
	if t.Weight == nil {
		return 1
	}
	return *t.Weight
}

// ModelAlias is spec §3's ModelAlias.
type ModelAlias struct {
	Name              string   `yaml:"-"`
	Selector          string   `yaml:"selector"`
	Priority          string   `yaml:"priority"`
	AdditionalAliases []string `yaml:"additional_aliases"`
	Targets           []Target `yaml:"targets"`
	Type              string   `yaml:"type"`
}

// CooldownConfig carries the defaults named in spec §4.1 (2 min / 5 h).
type CooldownConfig struct {
	InitialMinutes float64 `yaml:"initialMinutes"`
	MaxMinutes     float64 `yaml:"maxMinutes"`
}

// EffectiveInitialMinutes applies the spec default of 2 minutes.
func (c CooldownConfig) EffectiveInitialMinutes() float64 {
	if c.InitialMinutes > 0 {
		return c.InitialMinutes
	}
	return 2
}

// EffectiveMaxMinutes applies the spec default of 300 minutes (5 hours).
func (c CooldownConfig) EffectiveMaxMinutes() float64 {
	if c.MaxMinutes > 0 {
		return c.MaxMinutes
	}
	return 300
}

// FailoverConfig is spec §6's failover block.
type FailoverConfig struct {
	Enabled              bool     `yaml:"enabled"`
	RetryableStatusCodes []int    `yaml:"retryableStatusCodes"`
	RetryableErrors      []string `yaml:"retryableErrors"`
	MaxAttempts          int      `yaml:"maxAttempts"`
}

var defaultRetryableStatusCodes = []int{429, 500, 502, 503, 504}
var defaultRetryableErrors = []string{"ECONNREFUSED", "ETIMEDOUT", "ENOTFOUND"}

// EffectiveRetryableStatusCodes applies the §4.6 default set.
func (f FailoverConfig) EffectiveRetryableStatusCodes() []int {
	if len(f.RetryableStatusCodes) > 0 {
		return f.RetryableStatusCodes
	}
	return defaultRetryableStatusCodes
}

// EffectiveRetryableErrors applies the §4.6 default set.
func (f FailoverConfig) EffectiveRetryableErrors() []string {
	if len(f.RetryableErrors) > 0 {
		return f.RetryableErrors
	}
	return defaultRetryableErrors
}

// AutoConfig is spec §4.3's "auto" alias block.
type AutoConfig struct {
	Enabled               bool              `yaml:"enabled"`
	TierModels            map[string]string `yaml:"tier_models"`
	AgenticBoostThreshold float64           `yaml:"agentic_boost_threshold"`
}

// APIKeyConfig is one entry of spec §6's apiKeys list.
type APIKeyConfig struct {
	Name    string `yaml:"name"`
	Secret  string `yaml:"secret"`
	Enabled bool   `yaml:"enabled"`
}
