package http

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"outlay/internal/core"
)

// parseFilterParams reads from/to/paid query or form values into a filter
// for the given owner. Invalid dates are an error so a typo does not
// silently widen the window.
func parseFilterParams(r *http.Request, owner string) (core.Filter, error) {
	f := core.Filter{Owner: owner}

	if v := strings.TrimSpace(r.FormValue("from")); v != "" {
		d, err := core.ParseDate(v)
		if err != nil {
			return core.Filter{}, fmt.Errorf("invalid 'from' date %q", v)
		}
		f.From = d
	}
	if v := strings.TrimSpace(r.FormValue("to")); v != "" {
		d, err := core.ParseDate(v)
		if err != nil {
			return core.Filter{}, fmt.Errorf("invalid 'to' date %q", v)
		}
		f.To = d
	}
	f.PaidOnly = r.FormValue("paid") == "on" || r.FormValue("paid") == "true"

	return f, nil
}

// formatAmount renders an amount with its currency code, e.g. "42.50 EUR".
func formatAmount(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(2) + " " + core.NormalizeCurrency(currency)
}

// formatUSD renders a normalized amount as dollars, e.g. "$46.33".
func formatUSD(amount decimal.Decimal) string {
	if amount.Sign() < 0 {
		return "-$" + amount.Neg().StringFixed(2)
	}
	return "$" + amount.StringFixed(2)
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// generateRequestID creates a unique request ID for tracing.
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}
