package sync

import (
	"log/slog"
	gosync "sync"
)

// subscriberBuffer is the channel depth given to each subscriber. Slow
// consumers drop events rather than blocking the producer.
const subscriberBuffer = 64

// Hub is a broadcast channel fan-out: every published event is delivered
// to every live subscriber. Publish never blocks; a subscriber whose
// buffer is full misses the event (producers carry no back-pressure).
// Safe for concurrent use.
type Hub[T any] struct {
	mu     gosync.Mutex
	subs   map[int]chan T
	nextID int
	closed bool
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub[T any](logger *slog.Logger) *Hub[T] {
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub[T]{
		subs:   make(map[int]chan T),
		logger: logger,
	}
}

// Subscribe registers a new listener and returns its channel plus a
// cancel function. The channel is closed by cancel or by Close.
func (h *Hub[T]) Subscribe() (<-chan T, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++

	ch := make(chan T, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}

	return ch, cancel
}

// Publish delivers ev to all subscribers without blocking.
func (h *Hub[T]) Publish(ev T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Debug("event dropped: subscriber buffer full",
				slog.Int("subscriber", id))
		}
	}
}

// Len returns the number of live subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subs)
}

// Close closes all subscriber channels. Publishing after Close is a no-op.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.closed = true

	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
