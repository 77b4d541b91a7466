package view

import (
	"context"

	"outlay/internal/core"
	"outlay/internal/notify"
)

// Ports for the collaborators a live view depends on.
type (
	// Querier runs an owner-scoped, optionally date-bounded fetch against
	// the remote dataset. Results are ordered date-descending with a
	// stable tie-break within one fetch.
	Querier interface {
		QueryExpenses(ctx context.Context, f core.Filter) ([]core.ExpenseRecord, error)
	}

	// Subscriber opens an owner-scoped change-notification channel.
	Subscriber interface {
		Subscribe(owner string, fn notify.Handler) (*notify.Subscription, error)
	}
)
