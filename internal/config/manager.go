package config

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ReloadCallback is invoked after a successful hot reload, with both the
// superseded and the new snapshot.
type ReloadCallback func(oldConfig, newConfig *Config)

// Manager owns the current *Config snapshot and swaps it atomically on
// reload, per spec §5 ("Writes (hot reload) atomically swap the pointer;
// in-flight requests keep using their captured snapshot"). Starting and
// stopping the file-watch goroutine is a convenience this repo provides;
// the triggering of reload itself (e.g. an operator signal, an admin API)
// is an external collaborator per spec §1 — ReloadFromFile is exported so
// any such trigger can call it directly without a running watcher.
type Manager struct {
	snapshot atomic.Pointer[Config]

	configPath string
	logger     *zap.Logger

	callbacks []ReloadCallback

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc

	// reloadGroup collapses concurrent ReloadFromFile callers (an operator
	// signal racing the debounced file watcher, say) into a single actual
	// load.
	reloadGroup singleflight.Group
}

// NewManager wraps an already-loaded Config. configPath is retained so
// ReloadFromFile and Watch know where to read from; it may be empty for
// programmatically constructed configs (common in tests), in which case
// Watch is a no-op.
func NewManager(initial *Config, configPath string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{configPath: configPath, logger: logger}
	m.snapshot.Store(initial)
	return m
}

// Snapshot returns the current immutable configuration. Callers must
// capture this once per request/operation and keep using that pointer for
// the operation's duration rather than calling Snapshot repeatedly.
func (m *Manager) Snapshot() *Config {
	return m.snapshot.Load()
}

// OnReload registers a callback fired after every successful hot reload.
func (m *Manager) OnReload(cb ReloadCallback) {
	m.callbacks = append(m.callbacks, cb)
}

// ReloadFromFile reloads configPath, validates the result, and atomically
// swaps the snapshot. The old snapshot remains valid for any request still
// holding it — nothing mutates it in place.
func (m *Manager) ReloadFromFile() error {
	if m.configPath == "" {
		return fmt.Errorf("config: no config path set, nothing to reload from")
	}
	_, err, _ := m.reloadGroup.Do(m.configPath, func() (any, error) {
		newCfg, err := NewLoader().WithConfigPath(m.configPath).Load()
		if err != nil {
			return nil, fmt.Errorf("config: reload failed: %w", err)
		}
		old := m.snapshot.Swap(newCfg)
		m.logger.Info("config reloaded",
			zap.String("path", m.configPath),
			zap.Int("providers", len(newCfg.Providers)),
			zap.Int("aliases", len(newCfg.Models)),
		)
		for _, cb := range m.callbacks {
			cb(old, newCfg)
		}
		return nil, nil
	})
	return err
}

// Watch starts an fsnotify watch on configPath and reloads on write events,
// debounced to absorb editors that emit multiple events per save. It
// returns immediately if configPath is empty. Stop by cancelling ctx or by
// calling Close.
func (m *Manager) Watch(ctx context.Context) error {
	if m.configPath == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	if err := w.Add(m.configPath); err != nil {
		w.Close()
		return fmt.Errorf("config: watch %s: %w", m.configPath, err)
	}
	m.watcher = w

	watchCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	go m.watchLoop(watchCtx, w)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, w *fsnotify.Watcher) {
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
		w.Close()
	}()

	pending := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(300*time.Millisecond, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
		case <-pending:
			if err := m.ReloadFromFile(); err != nil {
				m.logger.Error("config hot reload failed", zap.Error(err))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			m.logger.Error("config watcher error", zap.Error(err))
		}
	}
}

// Close stops the watch goroutine, if running.
func (m *Manager) Close() error {
	if m.cancel != nil {
		m.cancel()
	}
	return nil
}
