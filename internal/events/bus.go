package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/athena-provd/athena-provd/internal/metrics"
)

const (
	defaultBusBuffer        = 10000
	defaultSubscriberBuffer = 1000
)

// Bus fans events out to subscribers without ever blocking a publisher.
// The inbound channel is buffered; when it fills, events are dropped and
// counted rather than stalling the daemon.
type Bus struct {
	ch     chan Event
	done   chan struct{}
	logger *slog.Logger
	drops  atomic.Uint64

	mu          sync.RWMutex
	subscribers []chan Event

	stopOnce sync.Once
}

// NewBus creates a new event bus with the given buffer size.
func NewBus(bufferSize int, logger *slog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = defaultBusBuffer
	}
	return &Bus{
		ch:     make(chan Event, bufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Start runs the fan-out loop until Stop. Call in a goroutine.
func (b *Bus) Start() {
	for {
		select {
		case evt := <-b.ch:
			b.deliver(evt)
		case <-b.done:
			return
		}
	}
}

// Stop shuts down the event bus. Safe to call more than once.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
}

// Publish enqueues an event. Non-blocking: a full buffer drops the event.
// Missing IDs and timestamps are stamped here so every consumer sees the
// same identity for a given event.
func (b *Bus) Publish(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	metrics.EventsPublished.WithLabelValues(string(evt.Type)).Inc()

	select {
	case b.ch <- evt:
	default:
		total := b.drops.Add(1)
		metrics.EventBufferDrops.Inc()
		b.logger.Warn("event bus buffer full, dropping event",
			"event_type", string(evt.Type),
			"total_drops", total)
	}
}

// Subscribe returns a channel receiving every event published after the
// call. The caller must drain it; a subscriber that falls behind loses
// events rather than slowing the bus.
func (b *Bus) Subscribe(bufferSize int) chan Event {
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberBuffer
	}
	ch := make(chan Event, bufferSize)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if sub == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// Drops returns the total number of events dropped at the publish side.
func (b *Bus) Drops() uint64 {
	return b.drops.Load()
}

func (b *Bus) deliver(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		select {
		case sub <- evt:
		default:
			b.logger.Warn("subscriber event buffer full, dropping event",
				"event_type", string(evt.Type))
		}
	}
}
