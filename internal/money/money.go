// Package money centralizes decimal arithmetic helpers so that no
// subsystem reaches for float64 when comparing or aggregating currency
// amounts.
package money

import "github.com/shopspring/decimal"

// Round applies standard half-up rounding to 2 decimal places, the
// convention used for every amount that crosses a reconciliation or
// invariant boundary.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// WithinTolerance reports whether the absolute difference between a and b
// is no greater than tolerance.
func WithinTolerance(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}

// WithinFractionalTolerance reports whether a and b differ by no more
// than the given fraction of the larger magnitude, used for matching
// amount tolerance expressed as a percentage.
func WithinFractionalTolerance(a, b decimal.Decimal, fraction float64) bool {
	diff := a.Sub(b).Abs()
	base := decimal.Max(a.Abs(), b.Abs())
	if base.IsZero() {
		return diff.IsZero()
	}
	allowed := base.Mul(decimal.NewFromFloat(fraction))
	return diff.LessThanOrEqual(allowed)
}

// Sum totals a slice of decimals, returning zero for an empty slice.
func Sum(ds []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, d := range ds {
		total = total.Add(d)
	}
	return total
}
