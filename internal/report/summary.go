// Package report derives aggregate figures from a snapshot of expense
// records. Everything here recomputes from scratch; there is no incremental
// accumulation, so results are always consistent with the snapshot they
// were computed from.
package report

import (
	"sort"
	"unicode"

	"github.com/shopspring/decimal"

	"outlay/internal/core"
	"outlay/internal/fx"
)

type (
	// BreakdownEntry is one category's share of the normalized total.
	BreakdownEntry struct {
		Category   string
		Sum        decimal.Decimal
		Percentage float64
	}

	// Summary is the normalized grand total plus the per-category
	// breakdown, sorted descending by sum.
	Summary struct {
		Total     decimal.Decimal
		Breakdown []BreakdownEntry
	}
)

// DisplayCategory capitalizes the first letter of a category label and
// leaves the rest unchanged.
func DisplayCategory(category string) string {
	runes := []rune(category)
	if len(runes) == 0 {
		return category
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// Summarize normalizes every record's amount through the converter and
// groups sums by display category. An empty input yields a zero total and
// an empty breakdown. Ties in the sort keep first-encountered order.
func Summarize(records []core.ExpenseRecord, conv *fx.Converter) Summary {
	summary := Summary{Total: decimal.Zero}

	index := make(map[string]int)
	for _, rec := range records {
		normalized := conv.Normalize(rec.Amount, rec.Currency)
		summary.Total = summary.Total.Add(normalized)

		label := DisplayCategory(rec.Category)
		i, seen := index[label]
		if !seen {
			i = len(summary.Breakdown)
			index[label] = i
			summary.Breakdown = append(summary.Breakdown, BreakdownEntry{Category: label, Sum: decimal.Zero})
		}
		summary.Breakdown[i].Sum = summary.Breakdown[i].Sum.Add(normalized)
	}

	if summary.Total.Sign() != 0 {
		hundred := decimal.NewFromInt(100)
		for i := range summary.Breakdown {
			summary.Breakdown[i].Percentage =
				summary.Breakdown[i].Sum.Div(summary.Total).Mul(hundred).InexactFloat64()
		}
	}

	sort.SliceStable(summary.Breakdown, func(i, j int) bool {
		return summary.Breakdown[i].Sum.GreaterThan(summary.Breakdown[j].Sum)
	})

	return summary
}
