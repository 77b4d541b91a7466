package http

import (
	"context"
	"sync"

	"outlay/internal/core"
	"outlay/internal/view"
)

// ownerView pairs a live view with its change broadcast: every applied
// refresh signals all watchers so open event streams can tell clients to
// re-render.
type ownerView struct {
	view *view.View

	mu       sync.Mutex
	watchers map[uint64]chan struct{}
	nextID   uint64
}

func (ov *ownerView) notify() {
	ov.mu.Lock()
	defer ov.mu.Unlock()
	for _, ch := range ov.watchers {
		select {
		case ch <- struct{}{}:
		default:
			// Watcher already has a pending signal; one is enough.
		}
	}
}

func (ov *ownerView) watch() (<-chan struct{}, func()) {
	ov.mu.Lock()
	defer ov.mu.Unlock()
	ov.nextID++
	id := ov.nextID
	ch := make(chan struct{}, 1)
	ov.watchers[id] = ch
	return ch, func() {
		ov.mu.Lock()
		defer ov.mu.Unlock()
		delete(ov.watchers, id)
	}
}

// Registry keeps one live view per signed-in user. Views are created
// lazily on first use, kept subscribed while the user has sessions, and
// torn down on sign-out.
type Registry struct {
	querier view.Querier
	sub     view.Subscriber

	mu    sync.Mutex
	views map[string]*ownerView
}

func NewRegistry(querier view.Querier, sub view.Subscriber) *Registry {
	return &Registry{
		querier: querier,
		sub:     sub,
		views:   make(map[string]*ownerView),
	}
}

// Acquire returns the user's live view, creating and populating it on
// first use.
func (reg *Registry) Acquire(ctx context.Context, owner string) (*view.View, error) {
	ov, err := reg.acquire(ctx, owner)
	if ov == nil {
		return nil, err
	}
	return ov.view, err
}

func (reg *Registry) acquire(ctx context.Context, owner string) (*ownerView, error) {
	reg.mu.Lock()
	if ov, ok := reg.views[owner]; ok {
		reg.mu.Unlock()
		return ov, nil
	}
	reg.mu.Unlock()

	v, err := view.New(reg.querier, core.Filter{Owner: owner})
	if err != nil {
		return nil, err
	}

	ov := &ownerView{view: v, watchers: make(map[uint64]chan struct{})}
	v.SetOnApply(func(int) { ov.notify() })

	if err := v.StartSync(reg.sub); err != nil {
		v.Close()
		return nil, err
	}

	reg.mu.Lock()
	if existing, ok := reg.views[owner]; ok {
		// Lost the race; keep the winner.
		reg.mu.Unlock()
		v.Close()
		return existing, nil
	}
	reg.views[owner] = ov
	reg.mu.Unlock()

	if err := v.Refresh(ctx); err != nil {
		// The view stays registered: it is empty but live, and the next
		// change event or page load retries the fetch.
		return ov, err
	}
	return ov, nil
}

// SetFilter applies a new filter to the user's view and refetches.
func (reg *Registry) SetFilter(ctx context.Context, f core.Filter) error {
	v, err := reg.Acquire(ctx, f.Owner)
	if err != nil {
		return err
	}
	if err := v.SetFilter(f); err != nil {
		return err
	}
	return v.Refresh(ctx)
}

// Watch returns a channel signaled whenever the user's view applies a new
// snapshot, plus a cancel func the caller must invoke when done. A
// sign-out racing this call may forget the view before the watcher is
// registered; the watcher then never fires and the stream ends with the
// client's connection.
func (reg *Registry) Watch(ctx context.Context, owner string) (<-chan struct{}, func(), error) {
	ov, err := reg.acquire(ctx, owner)
	if err != nil {
		return nil, nil, err
	}

	ch, cancel := ov.watch()
	return ch, cancel, nil
}

// Release closes and forgets the user's view. Called when their last
// session ends.
func (reg *Registry) Release(owner string) {
	reg.mu.Lock()
	ov, ok := reg.views[owner]
	delete(reg.views, owner)
	reg.mu.Unlock()

	if ok {
		ov.view.Close()
	}
}

// Len reports how many users currently hold a live view.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.views)
}

// CloseAll tears down every view, for shutdown.
func (reg *Registry) CloseAll() {
	reg.mu.Lock()
	views := reg.views
	reg.views = make(map[string]*ownerView)
	reg.mu.Unlock()

	for _, ov := range views {
		ov.view.Close()
	}
}
