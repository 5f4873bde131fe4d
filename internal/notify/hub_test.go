package notify

import (
	"testing"

	"solpaper/internal/domain"
)

func TestHubPublishSubscribe(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe(4)
	defer h.Unsubscribe(id)

	h.Publish(domain.Event{Type: domain.EventPositionOpened, UserID: "alice"})

	select {
	case e := <-ch:
		if e.Type != domain.EventPositionOpened || e.UserID != "alice" {
			t.Errorf("received %+v, want opened event for alice", e)
		}
	default:
		t.Fatal("subscriber did not receive published event")
	}
}

func TestHubDropsWhenFull(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe(1)
	defer h.Unsubscribe(id)

	h.Publish(domain.Event{Type: domain.EventPositionOpened, UserID: "a"})
	h.Publish(domain.Event{Type: domain.EventPositionClosed, UserID: "b"}) // dropped

	e := <-ch
	if e.UserID != "a" {
		t.Errorf("first event = %+v, want user a", e)
	}
	select {
	case e := <-ch:
		t.Errorf("expected second event dropped, got %+v", e)
	default:
	}
}

func TestHubUnsubscribeCloses(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe(1)
	h.Unsubscribe(id)

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	h.Publish(domain.Event{Type: domain.EventPositionClosed})
	// Double unsubscribe is a no-op.
	h.Unsubscribe(id)
}
