package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader loads a Config from YAML, following the same builder shape the
// teacher's config.Loader uses.
type Loader struct {
	configPath string
	validators []func(*Config) error
}

// NewLoader creates a Loader with no path set; Load then returns an empty
// default Config (useful in tests that build providers/models programmatically).
func NewLoader() *Loader {
	return &Loader{}
}

// WithConfigPath sets the YAML file to read.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithValidator registers an additional validation pass run after load.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load reads and parses the configured YAML file, fills in names (the YAML
// map keys become Provider.Name / ModelAlias.Name), and validates the
// invariants from spec §3. Defaults are not filled in here; the Effective*
// accessors apply them at read time.
func (l *Loader) Load() (*Config, error) {
	cfg := &Config{
		Providers: map[string]*ProviderConfig{},
		Models:    map[string]*ModelAlias{},
	}

	if l.configPath != "" {
		data, err := os.ReadFile(l.configPath)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	for name, p := range cfg.Providers {
		p.Name = name
	}
	for name, a := range cfg.Models {
		a.Name = name
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// Validate checks the invariants spec §3 names for ProviderConfig and
// ModelAlias: exactly one api_base_url form resolves, targets is non-empty,
// and alias keys (canonical + additional) are globally unique.
func Validate(cfg *Config) error {
	var errs []string

	seenAliasKeys := map[string]string{} // alias key -> owning canonical alias

	for name, p := range cfg.Providers {
		if p.APIBaseURL.Single == "" && len(p.APIBaseURL.ByType) == 0 {
			errs = append(errs, fmt.Sprintf("provider %q: api_base_url must be set", name))
		}
	}

	for name, a := range cfg.Models {
		if len(a.Targets) == 0 {
			errs = append(errs, fmt.Sprintf("alias %q: targets must be non-empty", name))
		}
		if owner, dup := seenAliasKeys[name]; dup {
			errs = append(errs, fmt.Sprintf("alias key %q duplicated by %q and %q", name, owner, name))
		} else {
			seenAliasKeys[name] = name
		}
		for _, add := range a.AdditionalAliases {
			if owner, dup := seenAliasKeys[add]; dup {
				errs = append(errs, fmt.Sprintf("additional_alias %q of %q collides with %q", add, name, owner))
			} else {
				seenAliasKeys[add] = name
			}
		}
		for _, t := range a.Targets {
			if _, ok := cfg.Providers[t.Provider]; !ok {
				errs = append(errs, fmt.Sprintf("alias %q: target references unknown provider %q", name, t.Provider))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

// MustLoad loads a config and panics on error.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
