package domain

import "github.com/shopspring/decimal"

// centsToDecimal converts an integer cent amount to a decimal.Decimal money
// value, matching the two-decimal-place formatting the wire protocol uses
// everywhere (e.g. "1000000.00").
func centsToDecimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// FormatMoney renders a decimal money value with exactly two decimal places,
// the format every response/notification frame in spec §6 uses.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}
