// Package eventbus implements the topic-based event bus named in spec §2's
// component table and detailed in SPEC_FULL [EXPANSION 4.9]: bounded
// per-subscriber channels, non-blocking publish, drop-with-warning on a full
// subscriber.
package eventbus

import (
	"sync"

	"go.uber.org/zap"
)

// Topics this repo emits, per SPEC_FULL [EXPANSION 4.9].
const (
	TopicUsageCompleted = "usage.completed"
	TopicUsageError     = "usage.error"
	TopicCooldownMarked = "cooldown.marked"
	TopicCooldownCleared = "cooldown.cleared"
	TopicConfigReloaded = "config.reloaded"
)

// DefaultSubscriberDepth is the default bounded channel depth per subscriber.
const DefaultSubscriberDepth = 64

// Event is the opaque envelope carried on every topic.
type Event struct {
	Topic string
	Data  any
}

type subscriber struct {
	ch chan Event
}

// Bus is a process-local topic-based pub/sub, grounded on the teacher's
// StreamMultiplexer.broadcast non-blocking per-consumer select/default
// pattern (llm/streaming/backpressure.go), generalized from a single token
// stream to arbitrary named topics with multiple independent subscribers.
type Bus struct {
	mu            sync.RWMutex
	subscribers   map[string][]*subscriber
	depth         int
	logger        *zap.Logger
	droppedByTopic map[string]int64
}

// New builds a Bus. depth <= 0 uses DefaultSubscriberDepth.
func New(depth int, logger *zap.Logger) *Bus {
	if depth <= 0 {
		depth = DefaultSubscriberDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subscribers:    make(map[string][]*subscriber),
		depth:          depth,
		logger:         logger,
		droppedByTopic: make(map[string]int64),
	}
}

// Subscribe returns a bounded receive channel for topic and an unsubscribe
// function. The caller must keep draining the channel; a slow subscriber
// causes Publish to drop frames for it rather than block every other
// subscriber or the publisher.
func (b *Bus) Subscribe(topic string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, b.depth)}

	b.mu.Lock()
	b.subscribers[topic] = append(b.subscribers[topic], sub)
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[topic]
		for i, s := range subs {
			if s == sub {
				b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return sub.ch, unsubscribe
}

// Publish is non-blocking: per spec §5, a subscriber that cannot keep up has
// that one frame dropped and logged, while every other subscriber still
// receives it.
func (b *Bus) Publish(topic string, data any) {
	b.mu.RLock()
	subs := b.subscribers[topic]
	b.mu.RUnlock()

	event := Event{Topic: topic, Data: data}
	for _, sub := range subs {
		select {
		case sub.ch <- event:
		default:
			b.mu.Lock()
			b.droppedByTopic[topic]++
			b.mu.Unlock()
			b.logger.Warn("eventbus: subscriber channel full, dropping frame", zap.String("topic", topic))
		}
	}
}

// Dropped returns the number of frames dropped for topic since startup, for
// diagnostics/metrics.
func (b *Bus) Dropped(topic string) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.droppedByTopic[topic]
}

// SubscriberCount reports how many active subscribers a topic has, mainly
// for tests.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}
