// Package ratelimit parses provider rate-limit responses into a cooldown
// duration (spec §4.2). A registry keyed by provider type lets a provider
// opt into a parser tuned to its own error body shape; providers with no
// registered parser fall back to the built-in "reset after Nx" parser.
package ratelimit

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Parser extracts a cooldown duration from an upstream's raw error payload.
// ok is false when the payload carries no recognizable retry-after signal,
// in which case the caller (the dispatcher) falls back to the
// exponential-backoff default.
type Parser func(body []byte) (d time.Duration, ok bool)

// Registry maps provider type (e.g. "openai", "anthropic", "gemini") to a
// Parser. Unregistered provider types use DefaultParser.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry builds an empty registry; register providers with Register.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// Register installs a parser for a provider type, overwriting any existing one.
func (r *Registry) Register(providerType string, p Parser) {
	r.parsers[providerType] = p
}

// ParserFor returns the registered parser for providerType, or DefaultParser
// if none was registered.
func (r *Registry) ParserFor(providerType string) Parser {
	if p, ok := r.parsers[providerType]; ok {
		return p
	}
	return DefaultParser
}

// Parse is a convenience wrapper equivalent to ParserFor(providerType)(body).
func (r *Registry) Parse(providerType string, body []byte) (time.Duration, bool) {
	return r.ParserFor(providerType)(body)
}

// unit groups the spelling variants spec §4.2 lists for each time unit, in
// the precedence order parsing must try them: seconds, then minutes, then
// hours.
type unit struct {
	scale   time.Duration
	pattern *regexp.Regexp
}

var units = []unit{
	{time.Second, regexp.MustCompile(`(?i)reset\s+after\s+(\d+(?:\.\d+)?)\s*(?:s|sec|seconds?)\b`)},
	{time.Minute, regexp.MustCompile(`(?i)reset\s+after\s+(\d+(?:\.\d+)?)\s*(?:m|mins?|minutes?)\b`)},
	{time.Hour, regexp.MustCompile(`(?i)reset\s+after\s+(\d+(?:\.\d+)?)\s*(?:h|hrs?|hours?)\b`)},
}

// DefaultParser recognizes "reset after Nx" forms where x is one of
// {s|sec|second(s), m|min(s)|minute(s), h|hr(s)|hour(s)}, case-insensitive,
// with optional whitespace before the unit. The first unit that matches, in
// seconds-minutes-hours order, wins (spec §4.2).
func DefaultParser(body []byte) (time.Duration, bool) {
	text := string(body)
	for _, u := range units {
		m := u.pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		n, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		return time.Duration(n * float64(u.scale)), true
	}
	return 0, false
}

// RetryAfterSeconds parses an HTTP Retry-After header value, which per RFC
// 9110 is either an integer number of seconds or an HTTP-date. Only the
// numeric-seconds form is handled (a fractional value such as "1.5" is
// accepted too); an HTTP-date Retry-After is rare from LLM
// providers and is treated as absent here rather than pulled in a date
// parser for a near-never path.
func RetryAfterSeconds(headerValue string) (time.Duration, bool) {
	headerValue = strings.TrimSpace(headerValue)
	if headerValue == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(headerValue, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return time.Duration(n * float64(time.Second)), true
}

// Resolve implements spec §9's precedence for determining a cooldown
// duration on a rate-limited response: the HTTP Retry-After header wins if
// present and valid, then the registry's body parser, then absent (the
// caller applies the exponential-backoff default).
func (r *Registry) Resolve(providerType, retryAfterHeader string, body []byte) (time.Duration, bool) {
	if d, ok := RetryAfterSeconds(retryAfterHeader); ok {
		return d, true
	}
	return r.Parse(providerType, body)
}
