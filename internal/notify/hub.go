// Package notify fans trade lifecycle events out to in-process subscribers
// (the state synchronizer, the status API's SSE stream).
package notify

import (
	"sync"

	"solpaper/internal/domain"
)

// Hub is a simple pub/sub broker for domain events.
type Hub struct {
	mu        sync.Mutex
	nextSubID int
	subs      map[int]chan domain.Event
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan domain.Event)}
}

// Subscribe returns a channel that receives events. bufSize controls the
// channel buffer; slow consumers will have events dropped.
func (h *Hub) Subscribe(bufSize int) (int, <-chan domain.Event) {
	ch := make(chan domain.Event, bufSize)
	h.mu.Lock()
	id := h.nextSubID
	h.nextSubID++
	h.subs[id] = ch
	h.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
	h.mu.Unlock()
}

// Publish sends an event to all subscribers non-blocking (drop on full).
func (h *Hub) Publish(e domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
			// Slow consumer — drop event.
		}
	}
}
