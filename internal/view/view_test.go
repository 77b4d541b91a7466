package view

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"outlay/internal/core"
)

func record(id string, day int) core.ExpenseRecord {
	return core.ExpenseRecord{
		ID:       id,
		Owner:    "user-1",
		Category: core.CategoryFood,
		Date:     core.NewDate(2024, 1, day),
		Amount:   decimal.NewFromInt(10),
		Currency: "USD",
	}
}

// staticQuerier returns a fixed result, or a fixed error.
type staticQuerier struct {
	mu      sync.Mutex
	records []core.ExpenseRecord
	err     error
	calls   int
}

func (q *staticQuerier) QueryExpenses(_ context.Context, f core.Filter) ([]core.ExpenseRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	if q.err != nil {
		return nil, q.err
	}
	out := make([]core.ExpenseRecord, 0, len(q.records))
	for _, r := range q.records {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (q *staticQuerier) callCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

// gatedQuerier blocks each call until its gate is released, so tests can
// control completion order independently of issue order.
type fetchResult struct {
	records []core.ExpenseRecord
	err     error
}

type gatedQuerier struct {
	mu    sync.Mutex
	next  int
	gates []chan fetchResult
}

func newGatedQuerier(n int) *gatedQuerier {
	q := &gatedQuerier{}
	for i := 0; i < n; i++ {
		q.gates = append(q.gates, make(chan fetchResult, 1))
	}
	return q
}

func (q *gatedQuerier) QueryExpenses(context.Context, core.Filter) ([]core.ExpenseRecord, error) {
	q.mu.Lock()
	gate := q.gates[q.next]
	q.next++
	q.mu.Unlock()
	r := <-gate
	return r.records, r.err
}

func (q *gatedQuerier) started() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.next
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func TestRefreshPopulatesCache(t *testing.T) {
	q := &staticQuerier{records: []core.ExpenseRecord{record("a", 10), record("b", 5)}}
	v, err := New(q, core.Filter{Owner: "user-1"})
	if err != nil {
		t.Fatalf("new view: %v", err)
	}
	if err := v.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if v.Len() != 2 {
		t.Fatalf("cache has %d records, want 2", v.Len())
	}
}

func TestNewRequiresOwner(t *testing.T) {
	if _, err := New(&staticQuerier{}, core.Filter{}); err == nil {
		t.Fatalf("expected error for empty owner")
	}
}

func TestRefreshErrorKeepsPreviousCache(t *testing.T) {
	q := &staticQuerier{records: []core.ExpenseRecord{record("a", 10)}}
	v, _ := New(q, core.Filter{Owner: "user-1"})
	if err := v.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	q.mu.Lock()
	q.err = errors.New("connection reset")
	q.mu.Unlock()

	if err := v.Refresh(context.Background()); err == nil {
		t.Fatalf("expected fetch error")
	}
	if v.Len() != 1 {
		t.Fatalf("failed fetch cleared the cache: len=%d", v.Len())
	}
	if got := v.Snapshot()[0].ID; got != "a" {
		t.Fatalf("cache content changed: %q", got)
	}
}

func TestLastIssuedFetchWins(t *testing.T) {
	q := newGatedQuerier(2)
	v, _ := New(q, core.Filter{Owner: "user-1"})

	var wg sync.WaitGroup
	wg.Add(2)

	// Fetch A issued first.
	go func() {
		defer wg.Done()
		_ = v.Refresh(context.Background())
	}()
	waitFor(t, func() bool { return q.started() == 1 })

	// Fetch B issued second.
	go func() {
		defer wg.Done()
		_ = v.Refresh(context.Background())
	}()
	waitFor(t, func() bool { return q.started() == 2 })

	// B completes first and lands in the cache.
	q.gates[1] <- fetchResult{records: []core.ExpenseRecord{record("b", 5)}}
	waitFor(t, func() bool { return v.Len() == 1 })

	// A completes afterwards; its result is stale and must be discarded.
	q.gates[0] <- fetchResult{records: []core.ExpenseRecord{record("a", 10), record("a2", 11)}}
	wg.Wait()

	snap := v.Snapshot()
	if len(snap) != 1 || snap[0].ID != "b" {
		t.Fatalf("cache shows %v, want the later-issued fetch's result", snap)
	}
}

func TestSetFilterClearsCacheAndInvalidatesInFlight(t *testing.T) {
	q := newGatedQuerier(1)
	v, _ := New(q, core.Filter{Owner: "user-1"})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = v.Refresh(context.Background())
	}()
	waitFor(t, func() bool { return q.started() == 1 })

	if err := v.SetFilter(core.Filter{Owner: "user-1", PaidOnly: true}); err != nil {
		t.Fatalf("set filter: %v", err)
	}

	// The old-filter fetch completes after the filter change; it must not
	// repopulate the cache.
	q.gates[0] <- fetchResult{records: []core.ExpenseRecord{record("stale", 1)}}
	wg.Wait()

	if v.Len() != 0 {
		t.Fatalf("stale fetch repopulated cache after filter change")
	}
}

func TestSetFilterRejectsOwnerChange(t *testing.T) {
	v, _ := New(&staticQuerier{}, core.Filter{Owner: "user-1"})
	err := v.SetFilter(core.Filter{Owner: "user-2"})
	if !errors.Is(err, ErrOwnerMismatch) {
		t.Fatalf("got %v, want ErrOwnerMismatch", err)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	q := &staticQuerier{records: []core.ExpenseRecord{record("a", 10)}}
	v, _ := New(q, core.Filter{Owner: "user-1"})
	_ = v.Refresh(context.Background())

	snap := v.Snapshot()
	snap[0].ID = "mutated"
	if v.Snapshot()[0].ID != "a" {
		t.Fatalf("snapshot mutation leaked into the cache")
	}
}
