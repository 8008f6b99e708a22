package cooldown

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func TestGormStoreUpsertThenLoadAll(t *testing.T) {
	store, err := NewGormStore(openTestDB(t))
	require.NoError(t, err)

	require.NoError(t, store.Upsert(Row{Provider: "openai", Model: "gpt-4", ExpiryUnixMs: 1000, ConsecutiveFailures: 1}))
	require.NoError(t, store.Upsert(Row{Provider: "anthropic", Model: "claude", ExpiryUnixMs: 2000, ConsecutiveFailures: 2}))

	rows, err := store.LoadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestGormStoreUpsertOverwritesSameKey(t *testing.T) {
	store, err := NewGormStore(openTestDB(t))
	require.NoError(t, err)

	require.NoError(t, store.Upsert(Row{Provider: "openai", Model: "gpt-4", ExpiryUnixMs: 1000, ConsecutiveFailures: 1}))
	require.NoError(t, store.Upsert(Row{Provider: "openai", Model: "gpt-4", ExpiryUnixMs: 5000, ConsecutiveFailures: 3}))

	rows, err := store.LoadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 5000, rows[0].ExpiryUnixMs)
	assert.Equal(t, 3, rows[0].ConsecutiveFailures)
}

func TestGormStoreDelete(t *testing.T) {
	store, err := NewGormStore(openTestDB(t))
	require.NoError(t, err)

	require.NoError(t, store.Upsert(Row{Provider: "openai", Model: "gpt-4", ExpiryUnixMs: 1000}))
	require.NoError(t, store.Delete("openai", "gpt-4"))

	rows, err := store.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestManagerPersistsThroughGormStore(t *testing.T) {
	store, err := NewGormStore(openTestDB(t))
	require.NoError(t, err)

	m, err := New(WithStore(store))
	require.NoError(t, err)

	m.MarkFailure("openai", "gpt-4", 0, "rate_limit")

	rows, err := store.LoadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "openai", rows[0].Provider)

	m.MarkSuccess("openai", "gpt-4")
	rows, err = store.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, rows, "MarkSuccess must delete the persisted row too")
}

func TestNewLoadsPersistedEntriesAndPurgesExpired(t *testing.T) {
	db := openTestDB(t)
	store, err := NewGormStore(db)
	require.NoError(t, err)

	require.NoError(t, store.Upsert(Row{Provider: "p", Model: "live", ExpiryUnixMs: time.Now().UnixMilli() + 60_000, ConsecutiveFailures: 1}))
	require.NoError(t, store.Upsert(Row{Provider: "p", Model: "expired", ExpiryUnixMs: time.Now().UnixMilli() - 60_000, ConsecutiveFailures: 1}))

	m, err := New(WithStore(store))
	require.NoError(t, err)

	assert.False(t, m.IsHealthy("p", "live"))
	assert.True(t, m.IsHealthy("p", "expired"), "expired rows are purged before load")

	rows, err := store.LoadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 1, "expired row must be deleted from the store too, not just skipped in memory")
}
