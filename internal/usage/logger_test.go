package usage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexusgw/plexus/internal/cost"
	"github.com/plexusgw/plexus/internal/unified"
)

type fakeStore struct {
	usageRows map[string]UsageRow
	errRows   []ErrorRow
	failNext  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{usageRows: make(map[string]UsageRow)}
}

func (s *fakeStore) UpsertUsage(row UsageRow) error {
	if s.failNext {
		s.failNext = false
		return errors.New("boom")
	}
	s.usageRows[row.ID] = row
	return nil
}

func (s *fakeStore) InsertError(row ErrorRow) error {
	s.errRows = append(s.errRows, row)
	return nil
}

type fakeBus struct {
	published []string
}

func (b *fakeBus) Publish(topic string, data any) { b.published = append(b.published, topic) }

func TestPendingUsageThenLogUsageFinalizesSameRow(t *testing.T) {
	store := newFakeStore()
	l := New(store)

	ctx := unified.NewRequestContext("req-1", "1.2.3.4", "key", "chat")
	ctx.ActualProvider = "openai"
	ctx.ActualModel = "gpt-4o"
	ctx.Streaming = true

	id := l.PendingUsage(ctx)
	require.Contains(t, store.usageRows, id)
	assert.True(t, store.usageRows[id].Pending)

	ctx.ProviderFirstTokenTime = ctx.StartTime.Add(50 * time.Millisecond)
	ctx.ClientFirstTokenTime = ctx.StartTime.Add(60 * time.Millisecond)

	row := l.LogUsage(ctx, ResponseInfo{
		Usage: cost.Usage{InputTokens: 10, OutputTokens: 20},
		Cost:  cost.Result{TotalUSD: 0.01, Source: cost.SourceModelPricing},
	}, id)

	require.Len(t, store.usageRows, 1, "finalize must overwrite the pending row in place, not add a second one")
	final := store.usageRows[id]
	assert.Equal(t, id, row.ID)
	assert.False(t, final.Pending)
	assert.Equal(t, 10, final.InputTokens)
	assert.Equal(t, 20, final.OutputTokens)
	assert.InDelta(t, 0.01, final.CostUSD, 1e-9)
	assert.Equal(t, string(cost.SourceModelPricing), final.CostSource)
	assert.EqualValues(t, 50, final.ProviderTTFTMs)
	assert.EqualValues(t, 60, final.ClientTTFTMs)
	assert.EqualValues(t, 10, final.TransformationOverheadMs)
}

func TestLogUsageFinalizeIsIdempotent(t *testing.T) {
	store := newFakeStore()
	l := New(store)
	ctx := unified.NewRequestContext("req-2", "", "", "chat")

	first := l.LogUsage(ctx, ResponseInfo{Usage: cost.Usage{InputTokens: 1, OutputTokens: 2}}, "fixed-id")
	second := l.LogUsage(ctx, ResponseInfo{Usage: cost.Usage{InputTokens: 1, OutputTokens: 2}}, "fixed-id")

	assert.Equal(t, first.ID, second.ID)
	require.Len(t, store.usageRows, 1)
}

func TestLogUsageWithoutIDGeneratesOne(t *testing.T) {
	store := newFakeStore()
	l := New(store)
	ctx := unified.NewRequestContext("req-3", "", "", "chat")

	row := l.LogUsage(ctx, ResponseInfo{}, "")
	assert.NotEmpty(t, row.ID)
}

func TestLogUsagePublishesOnEventBus(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{}
	l := New(store, WithEventBus(bus))
	ctx := unified.NewRequestContext("req-4", "", "", "chat")

	l.LogUsage(ctx, ResponseInfo{}, "")
	assert.Contains(t, bus.published, "usage.completed")
}

func TestLogErrorWritesErrorRowAndPublishes(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{}
	l := New(store, WithEventBus(bus))
	ctx := unified.NewRequestContext("req-5", "", "key", "messages")
	ctx.AliasUsed = "complex"

	row := l.LogError(ctx, ResponseInfo{
		Err:          errors.New("all candidates failed"),
		Kind:         "exhaustion_error",
		StatusCode:   502,
		AttemptCount: 3,
	})

	require.Len(t, store.errRows, 1)
	assert.Equal(t, "req-5", row.RequestID)
	assert.Equal(t, "complex", row.AliasUsed)
	assert.Equal(t, "exhaustion_error", row.Kind)
	assert.Equal(t, 3, row.AttemptCount)
	assert.Contains(t, bus.published, "usage.error")
}

func TestLogUsagePersistenceFailureDoesNotPanic(t *testing.T) {
	store := newFakeStore()
	store.failNext = true
	l := New(store)
	ctx := unified.NewRequestContext("req-6", "", "", "chat")

	assert.NotPanics(t, func() {
		l.LogUsage(ctx, ResponseInfo{}, "")
	})
}

func TestTokensPerSecondZeroOutputIsZero(t *testing.T) {
	assert.Equal(t, 0.0, tokensPerSecond(0, 10*time.Millisecond, 100*time.Millisecond))
}

func TestTokensPerSecondComputesOverGenerationPhase(t *testing.T) {
	tps := tokensPerSecond(100, 0, 1*time.Second)
	assert.InDelta(t, 100, tps, 0.001)
}
