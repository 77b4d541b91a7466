package notify

import (
	"testing"
	"time"
)

func event(owner string) Event {
	return Event{Op: OpInsert, RecordID: "rec-1", Owner: owner, At: time.Now()}
}

func TestPublishFiltersByOwner(t *testing.T) {
	h := NewHub()

	var mine, theirs int
	subMine, err := h.Subscribe("user-1", func(Event) { mine++ })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer subMine.Close()
	subTheirs, err := h.Subscribe("user-2", func(Event) { theirs++ })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer subTheirs.Close()

	h.Publish(event("user-1"))
	h.Publish(event("user-1"))
	h.Publish(event("user-2"))

	if mine != 2 {
		t.Errorf("user-1 handler ran %d times, want 2", mine)
	}
	if theirs != 1 {
		t.Errorf("user-2 handler ran %d times, want 1", theirs)
	}
}

func TestSubscribeRequiresOwner(t *testing.T) {
	h := NewHub()
	if _, err := h.Subscribe("", func(Event) {}); err != ErrNoOwner {
		t.Fatalf("got %v, want ErrNoOwner", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	h := NewHub()
	sub, err := h.Subscribe("user-1", func(Event) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if h.SubscriberCount() != 1 {
		t.Fatalf("count = %d, want 1", h.SubscriberCount())
	}

	sub.Close()
	sub.Close() // second close must not panic or double-remove
	if h.SubscriberCount() != 0 {
		t.Fatalf("count = %d, want 0", h.SubscriberCount())
	}
}

func TestClosedSubscriptionReceivesNothing(t *testing.T) {
	h := NewHub()
	calls := 0
	sub, _ := h.Subscribe("user-1", func(Event) { calls++ })
	sub.Close()

	h.Publish(event("user-1"))
	if calls != 0 {
		t.Fatalf("handler ran after close")
	}
}

func TestHubClose(t *testing.T) {
	h := NewHub()
	sub, _ := h.Subscribe("user-1", func(Event) {})
	h.Close()

	if _, err := h.Subscribe("user-1", func(Event) {}); err != ErrHubClosed {
		t.Fatalf("got %v, want ErrHubClosed", err)
	}
	sub.Close() // must stay safe after hub close
}
