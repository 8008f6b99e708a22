package cooldown

import (
	"testing"
	"time"

	"github.com/plexusgw/plexus/internal/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkFailurePublishesCooldownMarked(t *testing.T) {
	bus := eventbus.New(4, nil)
	ch, unsub := bus.Subscribe(eventbus.TopicCooldownMarked)
	defer unsub()

	m, err := New(WithEventBus(bus))
	require.NoError(t, err)
	m.MarkFailure("openai", "gpt-4o", 0, "rate_limit")

	select {
	case ev := <-ch:
		assert.Equal(t, eventbus.TopicCooldownMarked, ev.Topic)
	case <-time.After(time.Second):
		t.Fatal("expected cooldown.marked event")
	}
}

func TestMarkSuccessPublishesCooldownCleared(t *testing.T) {
	bus := eventbus.New(4, nil)
	ch, unsub := bus.Subscribe(eventbus.TopicCooldownCleared)
	defer unsub()

	m, err := New(WithEventBus(bus))
	require.NoError(t, err)
	m.MarkFailure("openai", "gpt-4o", 0, "rate_limit")
	m.MarkSuccess("openai", "gpt-4o")

	select {
	case ev := <-ch:
		assert.Equal(t, eventbus.TopicCooldownCleared, ev.Topic)
	case <-time.After(time.Second):
		t.Fatal("expected cooldown.cleared event")
	}
}
