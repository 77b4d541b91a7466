package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"outlay/internal/core"
	applog "outlay/internal/log"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when an id/owner pair matches no row.
var ErrNotFound = errors.New("expense not found")

// SQLiteRepository implements the dataset capability on a local SQLite
// file: owner-scoped filtered queries, inserts, claim updates and deletes.
type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, queries: New(db)}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// QueryExpenses implements view.Querier. Rows come back ordered
// date-descending with a stable same-date tie-break.
func (r *SQLiteRepository) QueryExpenses(ctx context.Context, f core.Filter) ([]core.ExpenseRecord, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	rows, err := r.queries.ListExpenses(ctx, ListExpensesParams{
		Owner:    f.Owner,
		DateFrom: f.From.String(),
		DateTo:   f.To.String(),
		PaidOnly: f.PaidOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}

	out := make([]core.ExpenseRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := toRecord(row)
		if err != nil {
			return nil, fmt.Errorf("decode expense %s: %w", row.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// CreateExpense assigns the id and creation timestamp and persists the
// record, returning it as stored.
func (r *SQLiteRepository) CreateExpense(ctx context.Context, e core.ExpenseRecord) (core.ExpenseRecord, error) {
	if err := e.Validate(); err != nil {
		return core.ExpenseRecord{}, err
	}

	row, err := r.queries.CreateExpense(ctx, CreateExpenseParams{
		ID:          uuid.NewString(),
		Owner:       e.Owner,
		Category:    e.Category,
		ExpenseDate: e.Date.String(),
		Amount:      e.Amount.String(),
		Currency:    core.NormalizeCurrency(e.Currency),
		Description: e.Description,
		ClaimNote:   e.ClaimNote,
		Paid:        e.Paid,
		ReceiptRef:  e.ReceiptRef,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return core.ExpenseRecord{}, fmt.Errorf("create expense: %w", err)
	}

	rec, err := toRecord(row)
	if err != nil {
		return core.ExpenseRecord{}, fmt.Errorf("decode created expense: %w", err)
	}

	slog.InfoContext(ctx, "Expense saved",
		applog.FieldComponent, applog.ComponentStorage,
		applog.FieldOperation, applog.OpCreate,
		applog.FieldRecordID, rec.ID,
		applog.FieldOwner, rec.Owner,
		applog.FieldCategory, rec.Category,
		applog.FieldAmount, rec.Amount.String(),
		applog.FieldCurrency, rec.Currency)

	return rec, nil
}

// UpdateClaim sets the paid flag and claim note on an owned record.
func (r *SQLiteRepository) UpdateClaim(ctx context.Context, id, owner string, paid bool, claimNote string) error {
	affected, err := r.queries.UpdateClaim(ctx, UpdateClaimParams{
		ID: id, Owner: owner, Paid: paid, ClaimNote: claimNote,
	})
	if err != nil {
		return fmt.Errorf("update claim: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpense removes an owned record.
func (r *SQLiteRepository) DeleteExpense(ctx context.Context, id, owner string) error {
	affected, err := r.queries.DeleteExpense(ctx, id, owner)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetExpense fetches a single owned record.
func (r *SQLiteRepository) GetExpense(ctx context.Context, id, owner string) (core.ExpenseRecord, error) {
	row, err := r.queries.GetExpense(ctx, id, owner)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ExpenseRecord{}, ErrNotFound
	}
	if err != nil {
		return core.ExpenseRecord{}, fmt.Errorf("get expense: %w", err)
	}
	return toRecord(row)
}

func toRecord(row Expense) (core.ExpenseRecord, error) {
	date, err := core.ParseDate(row.ExpenseDate)
	if err != nil {
		return core.ExpenseRecord{}, fmt.Errorf("expense_date %q: %w", row.ExpenseDate, err)
	}
	amount, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return core.ExpenseRecord{}, fmt.Errorf("amount %q: %w", row.Amount, err)
	}
	createdAt, err := parseTimestamp(row.CreatedAt)
	if err != nil {
		return core.ExpenseRecord{}, fmt.Errorf("created_at %q: %w", row.CreatedAt, err)
	}

	return core.ExpenseRecord{
		ID:          row.ID,
		Owner:       row.Owner,
		Category:    row.Category,
		Date:        date,
		Amount:      amount,
		Currency:    row.Currency,
		Description: row.Description,
		ClaimNote:   row.ClaimNote,
		Paid:        row.Paid,
		ReceiptRef:  row.ReceiptRef,
		CreatedAt:   createdAt,
	}, nil
}

// parseTimestamp accepts both our RFC3339 writes and the column's
// CURRENT_TIMESTAMP default format.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", s)
}
