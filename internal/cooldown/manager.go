package cooldown

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/plexusgw/plexus/internal/eventbus"
	"go.uber.org/zap"
)

// entry is the in-memory authority for one (provider, model) key. The
// in-memory map is authoritative during a run; Store is best-effort
// durability (spec §4.1: "a persistence failure is logged and the
// in-memory state still stands").
type entry struct {
	expiry              time.Time
	consecutiveFailures int
	lastErrorType       string
}

// Entry is the read-only view returned by Snapshot.
type Entry struct {
	Provider            string
	Model               string
	ExpiryUnixMs        int64
	ConsecutiveFailures int
	TimeRemainingMs      int64
	LastErrorType       string
}

// Limits holds the exponential-backoff parameters (spec §4.1 defaults: 2
// minutes initial, 5 hours max).
type Limits struct {
	Initial time.Duration
	Max     time.Duration
}

// DisableCooldownLookup reports whether the named provider has
// disable_cooldown=true in the *current* config snapshot; the manager
// consults this at check time (not at mark time) so runtime config changes
// take effect on the next check, per spec §4.1.
type DisableCooldownLookup func(provider string) bool

// EventPublisher is the minimal slice of internal/eventbus.Bus the manager
// needs, so this package stays importable without a hard eventbus
// dependency in tests.
type EventPublisher interface {
	Publish(topic string, data any)
}

// CooldownGauge is the minimal slice of internal/metrics.Collector the
// manager needs to reflect a mark/clear/expiry transition into the
// Prometheus gauge (spec §4.7's llm_cooldown_active).
type CooldownGauge interface {
	SetCooldownActive(provider, model string, active bool)
}

// Manager is spec §4.1's cooldown manager.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry // key: "provider:model"

	store   Store
	limits  func() Limits
	disable DisableCooldownLookup
	logger  *zap.Logger
	bus     EventPublisher
	gauge   CooldownGauge
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore attaches a persistence backend. Without one, the manager is
// purely in-memory (used in tests).
func WithStore(s Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithLimits supplies a dynamic limits lookup, so a config hot reload's new
// initialMinutes/maxMinutes take effect immediately.
func WithLimits(f func() Limits) Option {
	return func(m *Manager) { m.limits = f }
}

// WithDisableCooldownLookup wires the provider-level disable_cooldown check.
func WithDisableCooldownLookup(f DisableCooldownLookup) Option {
	return func(m *Manager) { m.disable = f }
}

// WithLogger attaches a logger; defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithEventBus wires a publisher for the "cooldown.marked"/"cooldown.cleared"
// topics (SPEC_FULL [EXPANSION 4.9]); without one, the manager just doesn't
// publish.
func WithEventBus(b EventPublisher) Option {
	return func(m *Manager) { m.bus = b }
}

// WithMetrics wires the Prometheus cooldown gauge; without one, mark/clear/
// expiry transitions are tracked in memory only.
func WithMetrics(g CooldownGauge) Option {
	return func(m *Manager) { m.gauge = g }
}

// New constructs a Manager and, if a Store was supplied, loads persisted
// entries, purging anything already expired (spec §4.1: "on restart,
// expired rows are purged before load").
func New(opts ...Option) (*Manager, error) {
	m := &Manager{
		entries: make(map[string]*entry),
		limits:  func() Limits { return Limits{Initial: 2 * time.Minute, Max: 300 * time.Minute} },
		disable: func(string) bool { return false },
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(m)
	}

	if m.store != nil {
		rows, err := m.store.LoadAll()
		if err != nil {
			return nil, fmt.Errorf("cooldown: load persisted state: %w", err)
		}
		now := time.Now()
		for _, r := range rows {
			expiry := time.UnixMilli(r.ExpiryUnixMs)
			if !expiry.After(now) {
				_ = m.store.Delete(r.Provider, r.Model) // best-effort purge
				continue
			}
			m.entries[key(r.Provider, r.Model)] = &entry{
				expiry:              expiry,
				consecutiveFailures: r.ConsecutiveFailures,
				lastErrorType:       r.LastErrorType,
			}
		}
	}
	return m, nil
}

func key(provider, model string) string { return provider + ":" + model }

// backoffDuration computes min(maxMs, initialMs * 2^(n-1)), spec §4.1/§8.
func backoffDuration(n int, limits Limits) time.Duration {
	if n < 1 {
		n = 1
	}
	mult := math.Pow(2, float64(n-1))
	d := time.Duration(float64(limits.Initial) * mult)
	if d > limits.Max || d <= 0 {
		return limits.Max
	}
	return d
}

// MarkFailure is spec §4.1's markFailure. explicitDuration, if >0, overrides the
// computed exponential-backoff duration (used when a rate-limit parser or
// HTTP Retry-After header supplied an explicit value, per §4.2/§9).
func (m *Manager) MarkFailure(provider, model string, explicitDuration time.Duration, errorType string) {
	m.mu.Lock()
	k := key(provider, model)
	e, ok := m.entries[k]
	if !ok {
		e = &entry{}
		m.entries[k] = e
	}
	e.consecutiveFailures++
	var dur time.Duration
	if explicitDuration > 0 {
		dur = explicitDuration
	} else {
		dur = backoffDuration(e.consecutiveFailures, m.limits())
	}
	e.expiry = time.Now().Add(dur)
	e.lastErrorType = errorType
	snapshot := *e
	m.mu.Unlock()

	m.logger.Warn("target marked for cooldown",
		zap.String("provider", provider), zap.String("model", model),
		zap.Int("consecutive_failures", snapshot.consecutiveFailures),
		zap.Duration("duration", dur), zap.String("error_type", errorType))

	if m.store != nil {
		if err := m.store.Upsert(Row{
			Provider:            provider,
			Model:               model,
			ExpiryUnixMs:        snapshot.expiry.UnixMilli(),
			ConsecutiveFailures: snapshot.consecutiveFailures,
			LastErrorType:       errorType,
		}); err != nil {
			m.logger.Error("cooldown: failed to persist failure", zap.Error(err),
				zap.String("provider", provider), zap.String("model", model))
		}
	}

	if m.bus != nil {
		m.bus.Publish(eventbus.TopicCooldownMarked, map[string]any{
			"provider": provider, "model": model, "duration_ms": dur.Milliseconds(), "error_type": errorType,
		})
	}
	if m.gauge != nil {
		m.gauge.SetCooldownActive(provider, model, true)
	}
}

// MarkSuccess is spec §4.1's markSuccess: removes the entry entirely,
// idempotent if absent.
func (m *Manager) MarkSuccess(provider, model string) {
	m.mu.Lock()
	k := key(provider, model)
	_, existed := m.entries[k]
	delete(m.entries, k)
	m.mu.Unlock()

	if !existed {
		return
	}
	if m.store != nil {
		if err := m.store.Delete(provider, model); err != nil {
			m.logger.Error("cooldown: failed to clear persisted entry", zap.Error(err),
				zap.String("provider", provider), zap.String("model", model))
		}
	}
	if m.bus != nil {
		m.bus.Publish(eventbus.TopicCooldownCleared, map[string]any{"provider": provider, "model": model})
	}
	if m.gauge != nil {
		m.gauge.SetCooldownActive(provider, model, false)
	}
}

// IsHealthy is spec §4.1's isHealthy: true iff no entry or now > expiry. On
// lazy expiry the entry is removed from memory and store.
func (m *Manager) IsHealthy(provider, model string) bool {
	m.mu.Lock()
	k := key(provider, model)
	e, ok := m.entries[k]
	if !ok {
		m.mu.Unlock()
		return true
	}
	if time.Now().After(e.expiry) {
		delete(m.entries, k)
		m.mu.Unlock()
		if m.store != nil {
			if err := m.store.Delete(provider, model); err != nil {
				m.logger.Error("cooldown: failed to purge expired entry", zap.Error(err))
			}
		}
		if m.gauge != nil {
			m.gauge.SetCooldownActive(provider, model, false)
		}
		return true
	}
	m.mu.Unlock()
	return false
}

// Healthy is the composed check used by filterHealthy: an entry on
// cooldown still passes if its provider has disable_cooldown=true.
func (m *Manager) Healthy(provider, model string) bool {
	if m.disable(provider) {
		return true
	}
	return m.IsHealthy(provider, model)
}

// Target is the minimal shape filterHealthy needs from a candidate.
type Target interface {
	CooldownKey() (provider, model string)
}

// FilterHealthy is spec §4.1/§8's filterHealthy: preserves order, is a
// subsequence of the input.
func FilterHealthy[T Target](m *Manager, targets []T) []T {
	out := make([]T, 0, len(targets))
	for _, t := range targets {
		p, mo := t.CooldownKey()
		if m.Healthy(p, mo) {
			out = append(out, t)
		}
	}
	return out
}

// Clear is spec §4.1's scoped deletion. Empty string means "any".
func (m *Manager) Clear(provider, model string) {
	m.mu.Lock()
	var toDelete []string
	for k, e := range m.entries {
		_ = e
		p, mo := splitKey(k)
		if (provider == "" || p == provider) && (model == "" || mo == model) {
			toDelete = append(toDelete, k)
		}
	}
	for _, k := range toDelete {
		delete(m.entries, k)
	}
	m.mu.Unlock()

	if m.store == nil {
		return
	}
	for _, k := range toDelete {
		p, mo := splitKey(k)
		if err := m.store.Delete(p, mo); err != nil {
			m.logger.Error("cooldown: failed to clear persisted entry", zap.Error(err))
		}
	}
}

func splitKey(k string) (provider, model string) {
	for i := 0; i < len(k); i++ {
		if k[i] == ':' {
			return k[:i], k[i+1:]
		}
	}
	return k, ""
}

// Snapshot is spec §4.1's snapshot(): list live entries with timeRemainingMs.
func (m *Manager) Snapshot() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := make([]Entry, 0, len(m.entries))
	for k, e := range m.entries {
		p, mo := splitKey(k)
		out = append(out, Entry{
			Provider:            p,
			Model:               mo,
			ExpiryUnixMs:        e.expiry.UnixMilli(),
			ConsecutiveFailures: e.consecutiveFailures,
			TimeRemainingMs:      e.expiry.Sub(now).Milliseconds(),
			LastErrorType:       e.lastErrorType,
		})
	}
	return out
}
