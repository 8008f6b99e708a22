package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/plexusgw/plexus/internal/unified"
)

func openTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func TestGormStoreUpsertUsageCreatesThenFinalizesInPlace(t *testing.T) {
	store, err := NewGormStore(openTestDB(t))
	require.NoError(t, err)

	require.NoError(t, store.UpsertUsage(UsageRow{ID: "row-1", RequestID: "req-1", Pending: true}))
	require.NoError(t, store.UpsertUsage(UsageRow{ID: "row-1", RequestID: "req-1", Pending: false, InputTokens: 5, OutputTokens: 10}))

	var rows []UsageRow
	require.NoError(t, store.db.Find(&rows).Error)
	require.Len(t, rows, 1, "finalize must overwrite the pending row, not insert a second")
	assert.False(t, rows[0].Pending)
	assert.Equal(t, 5, rows[0].InputTokens)
}

func TestGormStoreInsertErrorAppendsRows(t *testing.T) {
	store, err := NewGormStore(openTestDB(t))
	require.NoError(t, err)

	require.NoError(t, store.InsertError(ErrorRow{ID: "e1", RequestID: "req-1", Kind: "exhaustion_error"}))
	require.NoError(t, store.InsertError(ErrorRow{ID: "e2", RequestID: "req-2", Kind: "upstream_error"}))

	var rows []ErrorRow
	require.NoError(t, store.db.Find(&rows).Error)
	assert.Len(t, rows, 2)
}

func TestLoggerPersistsThroughGormStore(t *testing.T) {
	store, err := NewGormStore(openTestDB(t))
	require.NoError(t, err)

	l := New(store)
	ctx := unified.NewRequestContext("req-1", "", "", "chat")
	id := l.PendingUsage(ctx)
	l.LogUsage(ctx, ResponseInfo{}, id)

	var rows []UsageRow
	require.NoError(t, store.db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Pending)
}
