package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"outlay/internal/amqp"
	"outlay/internal/core"
	"outlay/internal/notify"
)

type fakeRepo struct {
	created []core.ExpenseRecord
	err     error
}

func (r *fakeRepo) CreateExpense(_ context.Context, e core.ExpenseRecord) (core.ExpenseRecord, error) {
	if r.err != nil {
		return core.ExpenseRecord{}, r.err
	}
	e.ID = "generated-id"
	r.created = append(r.created, e)
	return e, nil
}

func (r *fakeRepo) GetExpense(_ context.Context, id, owner string) (core.ExpenseRecord, error) {
	return core.ExpenseRecord{ID: id, Owner: owner}, r.err
}

func (r *fakeRepo) UpdateClaim(_ context.Context, _, _ string, _ bool, _ string) error {
	return r.err
}

func (r *fakeRepo) DeleteExpense(_ context.Context, _, _ string) error {
	return r.err
}

type fakePublisher struct {
	published []*amqp.RecordChangeMessage
	err       error
	closed    bool
}

func (p *fakePublisher) PublishRecordChange(_ context.Context, msg *amqp.RecordChangeMessage) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, msg)
	return nil
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

type fakeObjStore struct {
	uploads map[string][]byte
	err     error
}

func (s *fakeObjStore) Upload(_ context.Context, path string, data []byte) error {
	if s.err != nil {
		return s.err
	}
	if s.uploads == nil {
		s.uploads = make(map[string][]byte)
	}
	s.uploads[path] = data
	return nil
}

func (s *fakeObjStore) SignedURL(_ context.Context, path string, _ time.Duration) (string, error) {
	return "/signed/" + path, nil
}

func (s *fakeObjStore) PublicURL(path string) string { return "/public/" + path }

func validExpense() core.ExpenseRecord {
	return core.ExpenseRecord{
		Owner:       "user-1",
		Category:    core.CategoryFood,
		Date:        mustDate("2026-08-15"),
		Amount:      decimal.NewFromInt(42),
		Currency:    "USD",
		Description: "lunch",
	}
}

func mustDate(s string) core.Date {
	d, err := core.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func collectEvents(t *testing.T, hub *notify.Hub, owner string) *[]notify.Event {
	t.Helper()
	var events []notify.Event
	sub, err := hub.Subscribe(owner, func(ev notify.Event) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(sub.Close)
	return &events
}

func TestCreateExpensePublishesToHubWithoutBroker(t *testing.T) {
	hub := notify.NewHub()
	defer hub.Close()
	events := collectEvents(t, hub, "user-1")

	svc := NewExpenseService(&fakeRepo{}, hub, nil, nil)

	created, err := svc.CreateExpense(context.Background(), validExpense(), nil, "")
	if err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}
	if created.ID != "generated-id" {
		t.Fatalf("created.ID = %q", created.ID)
	}

	if len(*events) != 1 || (*events)[0].Op != notify.OpInsert {
		t.Fatalf("hub events = %+v, want one insert", *events)
	}
}

func TestCreateExpenseUploadsReceipt(t *testing.T) {
	hub := notify.NewHub()
	defer hub.Close()
	store := &fakeObjStore{}

	svc := NewExpenseService(&fakeRepo{}, hub, nil, store)

	created, err := svc.CreateExpense(context.Background(), validExpense(), []byte("pdf"), "receipt.pdf")
	if err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}

	if created.ReceiptRef == "" {
		t.Fatal("receipt ref not set")
	}
	if !strings.HasPrefix(created.ReceiptRef, "user-1/") || !strings.HasSuffix(created.ReceiptRef, ".pdf") {
		t.Fatalf("receipt ref = %q", created.ReceiptRef)
	}
	if _, ok := store.uploads[created.ReceiptRef]; !ok {
		t.Fatalf("nothing uploaded at %q", created.ReceiptRef)
	}
}

func TestCreateExpenseFailsWhenUploadFails(t *testing.T) {
	hub := notify.NewHub()
	defer hub.Close()
	events := collectEvents(t, hub, "user-1")

	store := &fakeObjStore{err: errors.New("bucket gone")}
	svc := NewExpenseService(&fakeRepo{}, hub, nil, store)

	if _, err := svc.CreateExpense(context.Background(), validExpense(), []byte("pdf"), "r.pdf"); err == nil {
		t.Fatal("expected upload error")
	}
	if len(*events) != 0 {
		t.Fatalf("no event expected on failure, got %+v", *events)
	}
}

func TestMutationsGoThroughBrokerWhenConfigured(t *testing.T) {
	hub := notify.NewHub()
	defer hub.Close()
	events := collectEvents(t, hub, "user-1")

	pub := &fakePublisher{}
	svc := NewExpenseService(&fakeRepo{}, hub, pub, nil)

	if _, err := svc.CreateExpense(context.Background(), validExpense(), nil, ""); err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}
	if err := svc.UpdateClaim(context.Background(), "id-1", "user-1", true, "claimed"); err != nil {
		t.Fatalf("UpdateClaim: %v", err)
	}
	if err := svc.DeleteExpense(context.Background(), "id-1", "user-1"); err != nil {
		t.Fatalf("DeleteExpense: %v", err)
	}

	if len(pub.published) != 3 {
		t.Fatalf("published %d messages, want 3", len(pub.published))
	}
	if pub.published[1].Op != "update" || pub.published[2].Op != "delete" {
		t.Fatalf("ops = %s, %s", pub.published[1].Op, pub.published[2].Op)
	}
	// With a broker, local delivery happens via the consumer loop, not
	// directly.
	if len(*events) != 0 {
		t.Fatalf("hub got direct events despite broker: %+v", *events)
	}
}

func TestBrokerFailureFallsBackToHub(t *testing.T) {
	hub := notify.NewHub()
	defer hub.Close()
	events := collectEvents(t, hub, "user-1")

	pub := &fakePublisher{err: errors.New("connection closed")}
	svc := NewExpenseService(&fakeRepo{}, hub, pub, nil)

	if _, err := svc.CreateExpense(context.Background(), validExpense(), nil, ""); err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}

	if len(*events) != 1 {
		t.Fatalf("hub events = %+v, want one fallback event", *events)
	}
}

func TestRepositoryErrorSuppressesEvent(t *testing.T) {
	hub := notify.NewHub()
	defer hub.Close()
	events := collectEvents(t, hub, "user-1")

	svc := NewExpenseService(&fakeRepo{err: errors.New("disk full")}, hub, nil, nil)

	if _, err := svc.CreateExpense(context.Background(), validExpense(), nil, ""); err == nil {
		t.Fatal("expected repository error")
	}
	if err := svc.UpdateClaim(context.Background(), "id", "user-1", true, ""); err == nil {
		t.Fatal("expected repository error")
	}
	if len(*events) != 0 {
		t.Fatalf("no events expected, got %+v", *events)
	}
}

func TestCloseClosesPublisher(t *testing.T) {
	pub := &fakePublisher{}
	svc := NewExpenseService(&fakeRepo{}, notify.NewHub(), pub, nil)

	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !pub.closed {
		t.Fatal("publisher not closed")
	}
}
