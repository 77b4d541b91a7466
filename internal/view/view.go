// Package view maintains a locally cached, date-filtered window onto one
// user's expense records and keeps it consistent with the remote dataset.
//
// A View owns its cache exclusively. Every fetch replaces the cache as a
// whole; nothing patches it incrementally. Concurrent fetches are resolved
// by issue order: the cache reflects the most-recently-issued fetch whose
// result has arrived, and completions of older fetches are discarded.
package view

import (
	"context"
	"fmt"
	"sync"

	"outlay/internal/core"
	"outlay/internal/notify"
)

// View is a per-mount cached window onto the expense dataset.
type View struct {
	querier Querier

	mu      sync.Mutex
	filter  core.Filter
	records []core.ExpenseRecord
	issued  uint64 // sequence handed to the most recently issued fetch
	applied uint64 // sequence of the fetch currently in the cache
	onApply func(count int)

	// live sync state, managed in sync.go
	state      SyncState
	sub        *notify.Subscription
	syncCancel context.CancelFunc
}

// New creates an empty view for the given filter. The filter's owner is
// mandatory and fixed for the view's lifetime.
func New(querier Querier, f core.Filter) (*View, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("view filter: %w", err)
	}
	return &View{querier: querier, filter: f}, nil
}

// Owner reports the user identifier the view is scoped to.
func (v *View) Owner() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.filter.Owner
}

// Filter returns the view's current filter.
func (v *View) Filter() core.Filter {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.filter
}

// SetOnApply registers a callback invoked after each successful cache
// replacement with the new record count. Used to push refresh hints to
// connected clients.
func (v *View) SetOnApply(fn func(count int)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onApply = fn
}

// Refresh fetches the records matching the current filter and replaces the
// cache with the result.
//
// On error the previous cache is left untouched and the error is returned
// for the caller to surface; the view stays usable. A completion that has
// been superseded by a later-issued fetch is dropped silently and reported
// as success.
func (v *View) Refresh(ctx context.Context) error {
	v.mu.Lock()
	v.issued++
	seq := v.issued
	f := v.filter
	v.mu.Unlock()

	records, err := v.querier.QueryExpenses(ctx, f)
	if err != nil {
		return fmt.Errorf("fetch expenses: %w", err)
	}

	v.mu.Lock()
	if seq < v.applied {
		// A later-issued fetch already landed; this result is stale.
		v.mu.Unlock()
		return nil
	}
	v.applied = seq
	v.records = records
	fn := v.onApply
	n := len(records)
	v.mu.Unlock()

	if fn != nil {
		fn(n)
	}
	return nil
}

// SetFilter narrows or widens the view without touching its subscription:
// the channel is owner-scoped, so only the cache needs resetting. The cache
// is cleared and any fetch still in flight for the old filter is
// invalidated; the caller refreshes afterwards.
func (v *View) SetFilter(f core.Filter) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("view filter: %w", err)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if f.Owner != v.filter.Owner {
		return fmt.Errorf("view is scoped to %q: %w", v.filter.Owner, ErrOwnerMismatch)
	}
	v.filter = f
	v.records = nil
	// Barrier sequence: completions issued before this point must not
	// repopulate the cache with old-filter rows.
	v.issued++
	v.applied = v.issued
	return nil
}

// Snapshot returns a copy of the cached records. The copy is safe to hold
// across later refreshes.
func (v *View) Snapshot() []core.ExpenseRecord {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]core.ExpenseRecord, len(v.records))
	copy(out, v.records)
	return out
}

// Len reports the number of cached records.
func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.records)
}

// Close tears down the live subscription, if any, and drops the cache.
func (v *View) Close() {
	v.StopSync()
	v.mu.Lock()
	v.records = nil
	v.mu.Unlock()
}
