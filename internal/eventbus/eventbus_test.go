package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New(4, nil)
	ch, unsubscribe := b.Subscribe(TopicUsageCompleted)
	defer unsubscribe()

	b.Publish(TopicUsageCompleted, map[string]string{"request_id": "r1"})

	select {
	case ev := <-ch:
		assert.Equal(t, TopicUsageCompleted, ev.Topic)
	case <-time.After(time.Second):
		t.Fatal("expected event delivery")
	}
}

func TestPublishFanOutToMultipleSubscribers(t *testing.T) {
	b := New(4, nil)
	ch1, unsub1 := b.Subscribe(TopicCooldownMarked)
	ch2, unsub2 := b.Subscribe(TopicCooldownMarked)
	defer unsub1()
	defer unsub2()

	b.Publish(TopicCooldownMarked, "payload")

	require.Eventually(t, func() bool { return len(ch1) == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(ch2) == 1 }, time.Second, time.Millisecond)
}

func TestPublishDropsOnFullSubscriberWithoutBlockingOthers(t *testing.T) {
	b := New(1, nil)
	slow, unsubSlow := b.Subscribe(TopicUsageError)
	fast, unsubFast := b.Subscribe(TopicUsageError)
	defer unsubSlow()
	defer unsubFast()

	b.Publish(TopicUsageError, "first") // fills both depth-1 channels
	<-fast                              // fast drains between publishes; slow does not
	b.Publish(TopicUsageError, "second")

	assert.Equal(t, int64(1), b.Dropped(TopicUsageError), "slow's full channel drops the second frame")
	assert.Len(t, slow, 1, "slow still holds only the first frame")
	assert.Len(t, fast, 1, "fast received the second frame after draining the first")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(4, nil)
	ch, unsubscribe := b.Subscribe(TopicConfigReloaded)
	unsubscribe()

	b.Publish(TopicConfigReloaded, nil)
	assert.Len(t, ch, 0)
	assert.Equal(t, 0, b.SubscriberCount(TopicConfigReloaded))
}

func TestSubscriberCountTracksActiveSubscribers(t *testing.T) {
	b := New(4, nil)
	assert.Equal(t, 0, b.SubscriberCount(TopicUsageCompleted))
	_, unsub := b.Subscribe(TopicUsageCompleted)
	assert.Equal(t, 1, b.SubscriberCount(TopicUsageCompleted))
	unsub()
	assert.Equal(t, 0, b.SubscriberCount(TopicUsageCompleted))
}
