package fx

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestNormalize(t *testing.T) {
	c := NewConverter(nil)

	cases := []struct {
		amount   string
		currency string
		want     string
	}{
		{"100", "USD", "100"},
		{"100", "EUR", "109"},
		{"100", "GBP", "127"},
		{"100", "JPY", "0.67"},
		{"100", "XXX", "100"}, // unknown code, rate 1.0
		{"100", "eur", "109"}, // case-insensitive lookup
		{"0", "EUR", "0"},
	}
	for _, tc := range cases {
		got := c.Normalize(decimal.RequireFromString(tc.amount), tc.currency)
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Errorf("Normalize(%s, %s) = %s, want %s", tc.amount, tc.currency, got, tc.want)
		}
	}
}

func TestNewConverterCopiesTable(t *testing.T) {
	table := RateTable{"EUR": decimal.NewFromInt(2)}
	c := NewConverter(table)
	table["EUR"] = decimal.NewFromInt(5)

	got := c.Normalize(decimal.NewFromInt(10), "EUR")
	if !got.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("converter observed caller mutation: got %s", got)
	}
}

func TestNewConverterWithOverrides(t *testing.T) {
	c := NewConverterWithOverrides(RateTable{"eur": decimal.RequireFromString("1.20"), "CHF": decimal.RequireFromString("1.10")})

	got := c.Normalize(decimal.NewFromInt(100), "EUR")
	if !got.Equal(decimal.NewFromInt(120)) {
		t.Errorf("override not applied: got %s", got)
	}
	if _, ok := c.Rate("GBP"); !ok {
		t.Error("default GBP rate lost under overrides")
	}
	if _, ok := c.Rate("CHF"); !ok {
		t.Error("added CHF rate missing")
	}
}

func TestRate(t *testing.T) {
	c := NewConverter(nil)
	if _, ok := c.Rate("EUR"); !ok {
		t.Fatalf("expected EUR in default table")
	}
	if _, ok := c.Rate("XXX"); ok {
		t.Fatalf("did not expect XXX in default table")
	}
}
