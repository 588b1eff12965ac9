// Package stream provides fan-out distribution of published state to subscribers.
package stream

import (
	"sync"
	"time"
)

// HubConfig holds configuration for a Hub.
type HubConfig struct {
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SubscriberBufferSize: 16,
	}
}

// Hub distributes values to multiple subscribers via channels.
// Each subscriber receives the latest value immediately on subscribing.
type Hub[T any] struct {
	config      HubConfig
	mu          sync.RWMutex
	subscribers []*Subscriber[T]
	last        *T
	closed      bool

	// Metrics
	published uint64
	dropped   uint64
}

// Subscriber represents a channel subscriber with metadata.
type Subscriber[T any] struct {
	ID           string
	Channel      chan T
	DroppedCount int
	CreatedAt    time.Time
}

// NewHub creates a new hub with default configuration.
func NewHub[T any]() *Hub[T] {
	return NewHubWithConfig[T](DefaultHubConfig())
}

// NewHubWithConfig creates a new hub with custom configuration.
func NewHubWithConfig[T any](config HubConfig) *Hub[T] {
	if config.SubscriberBufferSize <= 0 {
		config.SubscriberBufferSize = 1
	}
	return &Hub[T]{config: config}
}

// Subscribe adds a subscriber and returns its channel.
func (h *Hub[T]) Subscribe() <-chan T {
	return h.SubscribeWithID("")
}

// SubscribeWithID adds a subscriber with a specific ID.
// A closed hub returns an already closed channel.
func (h *Hub[T]) SubscribeWithID(id string) <-chan T {
	ch := make(chan T, h.config.SubscriberBufferSize)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(ch)
		return ch
	}
	if h.last != nil {
		ch <- *h.last
	}
	h.subscribers = append(h.subscribers, &Subscriber[T]{
		ID:        id,
		Channel:   ch,
		CreatedAt: time.Now(),
	})
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (h *Hub[T]) Unsubscribe(ch <-chan T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, sub := range h.subscribers {
		if sub.Channel == ch {
			close(sub.Channel)
			h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
			return
		}
	}
}

// Publish records v as the latest value and broadcasts it.
// Sends are non-blocking: a full subscriber has its oldest queued value replaced.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.last = &v
	h.published++

	for _, sub := range h.subscribers {
		select {
		case sub.Channel <- v:
			continue
		default:
		}
		// Slow consumer: drop the stale value so the newest one is never lost.
		select {
		case <-sub.Channel:
			sub.DroppedCount++
			h.dropped++
		default:
		}
		select {
		case sub.Channel <- v:
		default:
			sub.DroppedCount++
			h.dropped++
		}
	}
}

// Latest returns the most recently published value.
func (h *Hub[T]) Latest() (T, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.last == nil {
		var zero T
		return zero, false
	}
	return *h.last, true
}

// Close closes every subscriber channel. Later publishes are ignored.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for _, sub := range h.subscribers {
		close(sub.Channel)
	}
	h.subscribers = nil
}

// SubscriberCount returns the number of subscribers.
func (h *Hub[T]) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// GetMetrics returns hub metrics.
func (h *Hub[T]) GetMetrics() HubMetrics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return HubMetrics{
		Published:   h.published,
		Dropped:     h.dropped,
		Subscribers: len(h.subscribers),
	}
}

// HubMetrics contains hub counters.
type HubMetrics struct {
	Published   uint64
	Dropped     uint64
	Subscribers int
}
