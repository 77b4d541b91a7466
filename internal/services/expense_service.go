// Package services holds the write-side orchestration: persist a change,
// then broadcast it so every live view refetches.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"

	"outlay/internal/amqp"
	"outlay/internal/core"
	applog "outlay/internal/log"
	"outlay/internal/notify"
	"outlay/internal/objstore"
)

// ChangePublisher is what the service needs from the AMQP layer.
type ChangePublisher interface {
	PublishRecordChange(ctx context.Context, msg *amqp.RecordChangeMessage) error
	Close() error
}

// Repository is the persistence surface the service drives.
type Repository interface {
	CreateExpense(ctx context.Context, e core.ExpenseRecord) (core.ExpenseRecord, error)
	GetExpense(ctx context.Context, id, owner string) (core.ExpenseRecord, error)
	UpdateClaim(ctx context.Context, id, owner string, paid bool, claimNote string) error
	DeleteExpense(ctx context.Context, id, owner string) error
}

// ExpenseService persists expense mutations and fans the resulting change
// events out to subscribers. With an AMQP publisher configured, events go
// through the broker and come back via the consumer loop, so every process
// (this one included) sees them. Without one, events go straight to the
// in-process hub and the app still works single-node.
type ExpenseService struct {
	repo      Repository
	publisher ChangePublisher
	hub       *notify.Hub
	store     objstore.Store
}

func NewExpenseService(repo Repository, hub *notify.Hub, publisher ChangePublisher, store objstore.Store) *ExpenseService {
	return &ExpenseService{
		repo:      repo,
		publisher: publisher,
		hub:       hub,
		store:     store,
	}
}

// CreateExpense stores a new expense, uploading the receipt first when one
// is attached.
func (s *ExpenseService) CreateExpense(ctx context.Context, e core.ExpenseRecord, receipt []byte, receiptName string) (core.ExpenseRecord, error) {
	if len(receipt) > 0 {
		ref, err := s.uploadReceipt(ctx, e.Owner, receiptName, receipt)
		if err != nil {
			return core.ExpenseRecord{}, fmt.Errorf("upload receipt: %w", err)
		}
		e.ReceiptRef = ref
	}

	created, err := s.repo.CreateExpense(ctx, e)
	if err != nil {
		return core.ExpenseRecord{}, err
	}

	s.publishChange(ctx, notify.OpInsert, created.ID, created.Owner)
	return created, nil
}

// UpdateClaim sets the paid flag and claim note on an expense.
func (s *ExpenseService) UpdateClaim(ctx context.Context, id, owner string, paid bool, claimNote string) error {
	if err := s.repo.UpdateClaim(ctx, id, owner, paid, claimNote); err != nil {
		return err
	}

	s.publishChange(ctx, notify.OpUpdate, id, owner)
	return nil
}

// DeleteExpense removes an expense.
func (s *ExpenseService) DeleteExpense(ctx context.Context, id, owner string) error {
	if err := s.repo.DeleteExpense(ctx, id, owner); err != nil {
		return err
	}

	s.publishChange(ctx, notify.OpDelete, id, owner)
	return nil
}

// GetExpense fetches one expense scoped to its owner.
func (s *ExpenseService) GetExpense(ctx context.Context, id, owner string) (core.ExpenseRecord, error) {
	return s.repo.GetExpense(ctx, id, owner)
}

func (s *ExpenseService) uploadReceipt(ctx context.Context, owner, name string, data []byte) (string, error) {
	if s.store == nil {
		return "", fmt.Errorf("no receipt storage configured")
	}

	ext := path.Ext(name)
	objPath := fmt.Sprintf("%s/%s%s", owner, uuid.NewString(), ext)
	if err := s.store.Upload(ctx, objPath, data); err != nil {
		return "", err
	}
	return objPath, nil
}

// publishChange is best effort. A missed notification costs one stale
// render until the next change; the write itself already committed.
func (s *ExpenseService) publishChange(ctx context.Context, op notify.Op, id, owner string) {
	if s.publisher != nil {
		msg := amqp.NewRecordChangeMessage(op, id, owner)
		if err := s.publisher.PublishRecordChange(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "Failed to publish record change",
				applog.FieldComponent, applog.ComponentExpense,
				applog.FieldError, err,
				applog.FieldOperation, string(op),
				applog.FieldRecordID, id)
			// Fall through: local subscribers can still be told directly.
			s.hub.Publish(notify.Event{Op: op, RecordID: id, Owner: owner, At: time.Now()})
		}
		return
	}

	s.hub.Publish(notify.Event{Op: op, RecordID: id, Owner: owner, At: time.Now()})
}

func (s *ExpenseService) Close() error {
	if s.publisher != nil {
		return s.publisher.Close()
	}
	return nil
}
