package config

import "strings"

// ResolveAliasName looks up a ModelAlias by its canonical key or by any of
// its additional_aliases, per spec §3's "additional_aliases must be
// disjoint from canonical alias keys" invariant (enforced at Validate time,
// so a single map lookup plus one fallback scan is sufficient here).
func (c *Config) ResolveAliasName(name string) (*ModelAlias, bool) {
	if a, ok := c.Models[name]; ok {
		return a, true
	}
	for _, a := range c.Models {
		for _, add := range a.AdditionalAliases {
			if add == name {
				return a, true
			}
		}
	}
	return nil, false
}

// DirectTarget parses a "direct/<provider>/<model>" name per spec §4.3.
func DirectTarget(name string) (provider, model string, ok bool) {
	const prefix = "direct/"
	if !strings.HasPrefix(name, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(name, prefix)
	idx := strings.Index(rest, "/")
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

// Provider looks up a provider by name.
func (c *Config) Provider(name string) (*ProviderConfig, bool) {
	p, ok := c.Providers[name]
	return p, ok
}

// ModelConfigFor looks up a model's config under a provider, if declared.
func (p *ProviderConfig) ModelConfigFor(model string) (*ModelConfig, bool) {
	if p.Models == nil {
		return nil, false
	}
	m, ok := p.Models[model]
	return m, ok
}
