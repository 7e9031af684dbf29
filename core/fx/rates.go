// Package fx provides the currency conversion rate table used to
// normalize source costs to USD.
package fx

import (
	"strings"

	"github.com/shopspring/decimal"

	"cloudcost-etl/internal/errors"
)

// Table maps upper-case currency codes to their rate-to-USD
type Table map[string]decimal.Decimal

// Default returns the static rate table. In production these would
// come from a forex feed; the pipeline only requires that a single
// run sees one consistent table.
func Default() Table {
	return Table{
		"USD": decimal.NewFromInt(1),
		"EUR": decimal.RequireFromString("1.08"),
		"GBP": decimal.RequireFromString("1.27"),
		"JPY": decimal.RequireFromString("0.0067"),
	}
}

// Lookup resolves a currency code to its rate-to-USD. Codes are
// case-insensitive; a missing or empty code defaults to USD because
// the source omits the currency on USD line items. A present but
// unknown code is not resolvable: silently assuming a 1.0 rate would
// publish wrong numbers.
func (t Table) Lookup(code string) (decimal.Decimal, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		normalized = "USD"
	}
	rate, ok := t[normalized]
	return rate, ok
}

// WithOverrides returns a copy of the table with config-supplied
// rates merged on top. Override values are decimal strings.
func (t Table) WithOverrides(overrides map[string]string) (Table, error) {
	merged := make(Table, len(t)+len(overrides))
	for code, rate := range t {
		merged[code] = rate
	}
	for code, raw := range overrides {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, errors.Wrapf(errors.TypeConfig, err, "invalid fx rate for %s: %q", code, raw)
		}
		merged[strings.ToUpper(strings.TrimSpace(code))] = rate
	}
	return merged, nil
}
