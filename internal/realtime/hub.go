// Package realtime holds the subscriber registry for order change events.
// Transport (websockets, SSE) is wired elsewhere; the hub only owns the set
// of subscribers and the non-blocking fan-out.
package realtime

import (
	"sync"

	"github.com/techturf/marketplace/internal/notify"
)

type Hub struct {
	mu     sync.Mutex
	subs   map[chan notify.Event]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan notify.Event]struct{})}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe func. The channel is buffered; a slow consumer loses events
// rather than blocking a state transition.
func (h *Hub) Subscribe() (<-chan notify.Event, func()) {
	ch := make(chan notify.Event, 16)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Broadcast delivers the event to every subscriber without blocking.
func (h *Hub) Broadcast(ev notify.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default: // drop for slow consumers
		}
	}
}

// Close tears down the registry; subsequent Subscribe calls get a closed
// channel and Broadcast becomes a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
