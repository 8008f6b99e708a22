package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestManagerSnapshotReturnsInitial(t *testing.T) {
	cfg := &Config{Providers: map[string]*ProviderConfig{}, Models: map[string]*ModelAlias{}}
	m := NewManager(cfg, "", nil)
	assert.Same(t, cfg, m.Snapshot())
}

func TestReloadFromFileSwapsSnapshotAndFiresCallback(t *testing.T) {
	path := writeConfigFile(t, `
providers:
  openai:
    api_base_url: https://api.openai.com
models:
  smart:
    targets:
      - provider: openai
        model: gpt-4o
`)
	initial, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	m := NewManager(initial, path, nil)

	var gotOld, gotNew *Config
	m.OnReload(func(old, new *Config) { gotOld, gotNew = old, new })

	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  openai:
    api_base_url: https://api.openai.com
  anthropic:
    api_base_url: https://api.anthropic.com
models:
  smart:
    targets:
      - provider: openai
        model: gpt-4o
`), 0o644))

	require.NoError(t, m.ReloadFromFile())
	assert.Same(t, initial, gotOld)
	assert.Len(t, gotNew.Providers, 2)
	assert.Len(t, m.Snapshot().Providers, 2)
}

func TestReloadFromFileWithoutPathErrors(t *testing.T) {
	m := NewManager(&Config{}, "", nil)
	assert.Error(t, m.ReloadFromFile())
}

func TestReloadFromFileConcurrentCallersCollapseIntoOneReload(t *testing.T) {
	path := writeConfigFile(t, `
providers:
  openai:
    api_base_url: https://api.openai.com
models:
  smart:
    targets:
      - provider: openai
        model: gpt-4o
`)
	initial, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	m := NewManager(initial, path, nil)

	var calls int
	var mu sync.Mutex
	m.OnReload(func(_, _ *Config) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.ReloadFromFile())
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, calls, 1, "at least one reload must run")
	assert.Less(t, calls, 10, "concurrent reloads must collapse via singleflight, not run ten times")
}
