package storage

import (
	"context"
	"database/sql"
	"strings"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds the hand-written SQL for the expenses table.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Expense mirrors one row of the expenses table.
type Expense struct {
	ID          string
	Owner       string
	Category    string
	ExpenseDate string
	Amount      string
	Currency    string
	Description string
	ClaimNote   string
	Paid        bool
	ReceiptRef  string
	CreatedAt   string
}

type CreateExpenseParams struct {
	ID          string
	Owner       string
	Category    string
	ExpenseDate string
	Amount      string
	Currency    string
	Description string
	ClaimNote   string
	Paid        bool
	ReceiptRef  string
	CreatedAt   string
}

const expenseColumns = `id, owner, category, expense_date, amount, currency,
	description, claim_note, paid, receipt_ref, created_at`

func scanExpense(row interface{ Scan(...any) error }) (Expense, error) {
	var e Expense
	err := row.Scan(&e.ID, &e.Owner, &e.Category, &e.ExpenseDate, &e.Amount,
		&e.Currency, &e.Description, &e.ClaimNote, &e.Paid, &e.ReceiptRef, &e.CreatedAt)
	return e, err
}

// CreateExpense inserts a row and returns it with the server-assigned
// created_at.
func (q *Queries) CreateExpense(ctx context.Context, p CreateExpenseParams) (Expense, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO expenses (id, owner, category, expense_date, amount, currency,
			description, claim_note, paid, receipt_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING `+expenseColumns,
		p.ID, p.Owner, p.Category, p.ExpenseDate, p.Amount, p.Currency,
		p.Description, p.ClaimNote, p.Paid, p.ReceiptRef, p.CreatedAt)
	return scanExpense(row)
}

// ListExpensesParams scopes a filtered list. Owner is mandatory; empty
// bounds are unbounded.
type ListExpensesParams struct {
	Owner    string
	DateFrom string
	DateTo   string
	PaidOnly bool
}

// ListExpenses returns matching rows ordered date-descending. The
// created_at/id tail keeps same-date ordering stable within one query.
func (q *Queries) ListExpenses(ctx context.Context, p ListExpensesParams) ([]Expense, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + expenseColumns + ` FROM expenses WHERE owner = ?`)
	args := []any{p.Owner}

	if p.PaidOnly {
		b.WriteString(` AND paid = 1`)
	}
	if p.DateFrom != "" {
		b.WriteString(` AND expense_date >= ?`)
		args = append(args, p.DateFrom)
	}
	if p.DateTo != "" {
		b.WriteString(` AND expense_date <= ?`)
		args = append(args, p.DateTo)
	}
	b.WriteString(` ORDER BY expense_date DESC, created_at DESC, id DESC`)

	rows, err := q.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetExpense fetches one row by id, scoped to its owner.
func (q *Queries) GetExpense(ctx context.Context, id, owner string) (Expense, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE id = ? AND owner = ?`, id, owner)
	return scanExpense(row)
}

type UpdateClaimParams struct {
	ID        string
	Owner     string
	Paid      bool
	ClaimNote string
}

// UpdateClaim sets the paid flag and claim note on an owned row.
func (q *Queries) UpdateClaim(ctx context.Context, p UpdateClaimParams) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE expenses SET paid = ?, claim_note = ? WHERE id = ? AND owner = ?`,
		p.Paid, p.ClaimNote, p.ID, p.Owner)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpense removes an owned row.
func (q *Queries) DeleteExpense(ctx context.Context, id, owner string) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM expenses WHERE id = ? AND owner = ?`, id, owner)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
