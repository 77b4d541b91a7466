// Package fx converts expense amounts into a single reference currency
// using a fixed rate table injected at construction.
package fx

import (
	"github.com/shopspring/decimal"

	"outlay/internal/core"
)

// RateTable maps a currency code to its rate against the reference currency.
type RateTable map[string]decimal.Decimal

// DefaultRates returns the built-in USD-referenced table. The table is a
// static approximation with no refresh mechanism; deployments that need
// different figures inject their own table via configuration.
func DefaultRates() RateTable {
	return RateTable{
		"USD": decimal.NewFromInt(1),
		"EUR": decimal.RequireFromString("1.09"),
		"GBP": decimal.RequireFromString("1.27"),
		"CAD": decimal.RequireFromString("0.74"),
		"AUD": decimal.RequireFromString("0.66"),
		"JPY": decimal.RequireFromString("0.0067"),
	}
}

// Converter normalizes amounts to the reference currency. It is immutable
// after construction and safe for concurrent use.
type Converter struct {
	rates RateTable
}

// NewConverter builds a converter from the given table. The table is copied
// so later mutation by the caller has no effect. A nil table means the
// defaults.
func NewConverter(rates RateTable) *Converter {
	if rates == nil {
		rates = DefaultRates()
	}
	copied := make(RateTable, len(rates))
	for code, rate := range rates {
		copied[core.NormalizeCurrency(code)] = rate
	}
	return &Converter{rates: copied}
}

// NewConverterWithOverrides builds a converter from the default table with
// the given entries laid on top, so configuration can adjust or add single
// rates without restating the whole table.
func NewConverterWithOverrides(overrides RateTable) *Converter {
	rates := DefaultRates()
	for code, rate := range overrides {
		rates[core.NormalizeCurrency(code)] = rate
	}
	return NewConverter(rates)
}

// Normalize converts amount from the given currency to the reference
// currency. Unknown codes convert at rate 1.0, silently; that fallback is
// an accepted approximation, not an error.
func (c *Converter) Normalize(amount decimal.Decimal, currency string) decimal.Decimal {
	rate, ok := c.rates[core.NormalizeCurrency(currency)]
	if !ok {
		return amount
	}
	return amount.Mul(rate)
}

// Rate reports the table entry for a code, and whether it is present.
func (c *Converter) Rate(currency string) (decimal.Decimal, bool) {
	rate, ok := c.rates[core.NormalizeCurrency(currency)]
	return rate, ok
}
