package report

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"outlay/internal/core"
	"outlay/internal/fx"
)

func rec(category, amount, currency string, day int) core.ExpenseRecord {
	return core.ExpenseRecord{
		Owner:    "user-1",
		Category: category,
		Date:     core.NewDate(2024, 1, day),
		Amount:   decimal.RequireFromString(amount),
		Currency: currency,
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, fx.NewConverter(nil))
	if !s.Total.IsZero() {
		t.Fatalf("total = %s, want 0", s.Total)
	}
	if len(s.Breakdown) != 0 {
		t.Fatalf("breakdown has %d entries, want 0", len(s.Breakdown))
	}
}

func TestSummarizeWorkedExample(t *testing.T) {
	// 50 USD + 20 EUR = 50 + 21.8 = 71.8 normalized
	records := []core.ExpenseRecord{
		rec("food", "50", "USD", 10),
		rec("food", "20", "EUR", 5),
	}
	s := Summarize(records, fx.NewConverter(nil))

	if want := decimal.RequireFromString("71.8"); !s.Total.Equal(want) {
		t.Fatalf("total = %s, want %s", s.Total, want)
	}
	if len(s.Breakdown) != 1 {
		t.Fatalf("breakdown has %d entries, want 1", len(s.Breakdown))
	}
	entry := s.Breakdown[0]
	if entry.Category != "Food" {
		t.Errorf("category = %q, want Food", entry.Category)
	}
	if !entry.Sum.Equal(decimal.RequireFromString("71.8")) {
		t.Errorf("sum = %s, want 71.8", entry.Sum)
	}
	if math.Abs(entry.Percentage-100) > 1e-9 {
		t.Errorf("percentage = %f, want 100", entry.Percentage)
	}
}

func TestSummarizeSortedAndConsistent(t *testing.T) {
	records := []core.ExpenseRecord{
		rec("food", "10", "USD", 1),
		rec("transportation", "80", "USD", 2),
		rec("business", "30", "USD", 3),
		rec("food", "25", "USD", 4),
		rec("other", "5.50", "EUR", 5),
	}
	s := Summarize(records, fx.NewConverter(nil))

	// Category sums must add up to the grand total exactly.
	sum := decimal.Zero
	for _, e := range s.Breakdown {
		sum = sum.Add(e.Sum)
	}
	if !sum.Equal(s.Total) {
		t.Fatalf("breakdown sums to %s, total is %s", sum, s.Total)
	}

	// Descending by sum.
	for i := 1; i < len(s.Breakdown); i++ {
		if s.Breakdown[i].Sum.GreaterThan(s.Breakdown[i-1].Sum) {
			t.Fatalf("breakdown not sorted: %s before %s",
				s.Breakdown[i-1].Sum, s.Breakdown[i].Sum)
		}
	}

	// Percentages add up to ~100.
	var pct float64
	for _, e := range s.Breakdown {
		pct += e.Percentage
	}
	if math.Abs(pct-100) > 1e-6 {
		t.Fatalf("percentages sum to %f", pct)
	}
}

func TestSummarizeTieKeepsFirstEncountered(t *testing.T) {
	records := []core.ExpenseRecord{
		rec("business", "10", "USD", 1),
		rec("accommodation", "10", "USD", 2),
	}
	s := Summarize(records, fx.NewConverter(nil))
	if len(s.Breakdown) != 2 {
		t.Fatalf("breakdown has %d entries, want 2", len(s.Breakdown))
	}
	if s.Breakdown[0].Category != "Business" || s.Breakdown[1].Category != "Accommodation" {
		t.Fatalf("tie order changed: %q, %q", s.Breakdown[0].Category, s.Breakdown[1].Category)
	}
}

func TestSummarizeZeroTotalGuard(t *testing.T) {
	// The core does not re-validate persisted records, so a zero-amount row
	// must not cause a division by zero.
	records := []core.ExpenseRecord{rec("food", "0", "USD", 1)}
	s := Summarize(records, fx.NewConverter(nil))
	if !s.Total.IsZero() {
		t.Fatalf("total = %s, want 0", s.Total)
	}
	if got := s.Breakdown[0].Percentage; got != 0 {
		t.Fatalf("percentage = %f, want 0", got)
	}
}

func TestDisplayCategory(t *testing.T) {
	cases := map[string]string{
		"food":    "Food",
		"Food":    "Food",
		"":        "",
		"éclair":  "Éclair",
		"two big": "Two big",
	}
	for in, want := range cases {
		if got := DisplayCategory(in); got != want {
			t.Errorf("DisplayCategory(%q) = %q, want %q", in, got, want)
		}
	}
}
