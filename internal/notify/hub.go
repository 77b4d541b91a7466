// Package notify fans record-change events out to owner-scoped
// subscribers. The hub is transport-agnostic: the AMQP consumer feeds it in
// clustered deployments, the expense service feeds it directly otherwise.
package notify

import (
	"errors"
	"sync"
	"time"
)

// Op identifies the kind of dataset change an event describes.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Event describes one insert/update/delete on the expense dataset.
type Event struct {
	Op       Op
	RecordID string
	Owner    string
	At       time.Time
}

// Handler receives matching events. Handlers must not block; anything slow
// belongs in a goroutine started by the handler itself.
type Handler func(Event)

var (
	ErrHubClosed = errors.New("hub closed")
	ErrNoOwner   = errors.New("subscription requires an owner")
)

// Hub dispatches events to subscriptions filtered by owner equality.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// Subscription is a handle on one owner-scoped channel. Close is
// idempotent and releases the hub slot.
type Subscription struct {
	hub     *Hub
	id      uint64
	owner   string
	handler Handler
	once    sync.Once
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a handler for every event whose owner matches. The
// filter is owner-only on purpose: narrower view filters are reapplied
// client-side by refetching.
func (h *Hub) Subscribe(owner string, fn Handler) (*Subscription, error) {
	if owner == "" {
		return nil, ErrNoOwner
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}

	h.nextID++
	sub := &Subscription{hub: h, id: h.nextID, owner: owner, handler: fn}
	h.subs[sub.id] = sub
	return sub, nil
}

// Publish delivers the event to every subscription whose owner matches.
// Delivery happens outside the hub lock so handlers may subscribe or close
// without deadlocking.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	matched := make([]Handler, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.owner == ev.Owner {
			matched = append(matched, sub.handler)
		}
	}
	h.mu.Unlock()

	for _, fn := range matched {
		fn(ev)
	}
}

// SubscriberCount reports the number of open subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close tears down the hub. Existing subscriptions are dropped; their
// Close calls stay safe no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.subs = make(map[uint64]*Subscription)
}

// Owner reports the owner the subscription is scoped to.
func (s *Subscription) Owner() string {
	return s.owner
}

// Close removes the subscription from the hub. Safe to call more than
// once; only the first call has an effect.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()
	})
}
