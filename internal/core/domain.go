package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Recommended expense categories. The column is free-form, these are only
// what the entry form offers.
const (
	CategoryFood          = "food"
	CategoryTransport     = "transportation"
	CategoryAccommodation = "accommodation"
	CategoryEntertainment = "entertainment"
	CategoryBusiness      = "business"
	CategoryOther         = "other"
)

// Categories lists the recommended categories in form order.
func Categories() []string {
	return []string{
		CategoryFood,
		CategoryTransport,
		CategoryAccommodation,
		CategoryEntertainment,
		CategoryBusiness,
		CategoryOther,
	}
}

type (
	// Date is a calendar date with no time component, kept at UTC midnight.
	Date struct {
		time.Time
	}

	// ExpenseRecord is one expense row as persisted in the dataset.
	// ID, Owner and CreatedAt are assigned at creation and never mutated.
	ExpenseRecord struct {
		ID          string
		Owner       string
		Category    string
		Date        Date
		Amount      decimal.Decimal
		Currency    string
		Description string
		ClaimNote   string
		Paid        bool
		ReceiptRef  string
		CreatedAt   time.Time
	}

	// Filter scopes a dataset query. Owner is mandatory; zero From/To mean
	// unbounded, both bounds are inclusive and compared against Date only.
	Filter struct {
		Owner    string
		From     Date
		To       Date
		PaidOnly bool
	}
)

var (
	ErrEmptyOwner       = errors.New("empty owner")
	ErrEmptyCategory    = errors.New("empty category")
	ErrInvalidDate      = errors.New("invalid date")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidCurrency  = errors.New("invalid currency code")
	ErrDescriptionLimit = errors.New("description too long (max 200 characters)")
)

// NewDate creates a Date from year, month, day.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t.UTC()}, nil
}

// String renders the date as YYYY-MM-DD.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format("2006-01-02")
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// NormalizeCurrency uppercases and trims a currency code. Codes outside the
// known rate table are still accepted, they just convert at rate 1.0.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks the creation invariants. Persisted records are trusted
// and not re-validated on read.
func (e ExpenseRecord) Validate() error {
	if strings.TrimSpace(e.Owner) == "" {
		return ErrEmptyOwner
	}
	if strings.TrimSpace(e.Category) == "" {
		return ErrEmptyCategory
	}
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if e.Amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if len(NormalizeCurrency(e.Currency)) != 3 {
		return ErrInvalidCurrency
	}
	if len(e.Description) > 200 {
		return ErrDescriptionLimit
	}
	return nil
}

func (f Filter) Validate() error {
	if strings.TrimSpace(f.Owner) == "" {
		return ErrEmptyOwner
	}
	return nil
}

// Matches reports whether a record falls inside the filter scope.
// Used by in-memory datasets; the SQL backend applies the same predicate
// in its WHERE clause.
func (f Filter) Matches(e ExpenseRecord) bool {
	if e.Owner != f.Owner {
		return false
	}
	if f.PaidOnly && !e.Paid {
		return false
	}
	if !f.From.IsZero() && e.Date.Before(f.From.Time) {
		return false
	}
	if !f.To.IsZero() && e.Date.After(f.To.Time) {
		return false
	}
	return true
}
