// Package money provides cent rounding for monetary values.
//
// All monetary results the simulator exposes are rounded half away from zero
// to two decimals. Intermediate sums are carried at full float64 precision;
// rounding happens only when a value is stored into an account or position
// field or emitted on a trade record.
package money

import "github.com/shopspring/decimal"

// RoundCent rounds v half away from zero to two decimal places.
func RoundCent(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// Mul multiplies price by a share count exactly and returns the cent-rounded
// notional. Avoids float64 drift on large volumes (decimal multiplication is
// exact for the inputs the exchange validates).
func Mul(price float64, volume int64) float64 {
	f, _ := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(volume)).Round(2).Float64()
	return f
}
