package view

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	applog "outlay/internal/log"
	"outlay/internal/notify"
)

// SyncState is the live-sync lifecycle of a view.
type SyncState int32

const (
	SyncUnsubscribed SyncState = iota
	SyncSubscribing
	SyncSubscribed
)

func (s SyncState) String() string {
	switch s {
	case SyncSubscribing:
		return "subscribing"
	case SyncSubscribed:
		return "subscribed"
	default:
		return "unsubscribed"
	}
}

var (
	ErrAlreadySubscribed = errors.New("view already has a live subscription")
	ErrOwnerMismatch     = errors.New("filter owner differs from view owner")
)

// refreshTimeout bounds each notification-triggered refetch.
const refreshTimeout = 10 * time.Second

// StartSync opens one owner-scoped change subscription for the view. Every
// insert/update/delete event for the owner triggers a full refetch with the
// view's current filter; events for other owners are ignored. Rapid events
// may overlap in flight, the cache resolves them by issue order.
//
// A failed subscribe leaves the view unsubscribed but otherwise functional;
// the caller decides whether to retry or run in manual-refresh mode.
func (v *View) StartSync(sub Subscriber) error {
	v.mu.Lock()
	if v.state != SyncUnsubscribed {
		v.mu.Unlock()
		return ErrAlreadySubscribed
	}
	v.state = SyncSubscribing
	owner := v.filter.Owner
	v.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	handle, err := sub.Subscribe(owner, v.changeHandler(ctx, owner))
	if err != nil {
		cancel()
		v.mu.Lock()
		v.state = SyncUnsubscribed
		v.mu.Unlock()
		return fmt.Errorf("open change subscription: %w", err)
	}

	v.mu.Lock()
	v.sub = handle
	v.syncCancel = cancel
	v.state = SyncSubscribed
	v.mu.Unlock()
	return nil
}

// changeHandler builds the notification callback. The refetch runs on its
// own goroutine so the dispatching transport is never blocked on query IO.
func (v *View) changeHandler(ctx context.Context, owner string) notify.Handler {
	return func(ev notify.Event) {
		if ev.Owner != owner {
			return
		}
		go func() {
			rctx, cancel := context.WithTimeout(ctx, refreshTimeout)
			defer cancel()
			if err := v.Refresh(rctx); err != nil && ctx.Err() == nil {
				slog.ErrorContext(rctx, "Live refresh failed",
					applog.FieldComponent, applog.ComponentView,
					applog.FieldOperation, applog.OpRefresh,
					applog.FieldOwner, owner,
					applog.FieldRecordID, ev.RecordID,
					applog.FieldError, err)
			}
		}()
	}
}

// StopSync closes the subscription if one is open. It runs on every exit
// path, including sign-out, and is safe to call repeatedly.
func (v *View) StopSync() {
	v.mu.Lock()
	handle := v.sub
	cancel := v.syncCancel
	v.sub = nil
	v.syncCancel = nil
	v.state = SyncUnsubscribed
	v.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if handle != nil {
		handle.Close()
	}
}

// SyncState reports the current live-sync state.
func (v *View) SyncState() SyncState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}
