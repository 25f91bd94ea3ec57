package math

import "github.com/shopspring/decimal"

// Zero is the additive identity, exported so callers don't allocate.
var Zero = decimal.Zero

// Sum adds every value. An empty input sums to zero.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// FloorZero clamps negative results to zero.
func FloorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Positive reports d > 0.
func Positive(d decimal.Decimal) bool {
	return d.Sign() > 0
}

// MustParse parses a literal amount and panics on malformed input.
// Only for constants and tests.
func MustParse(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
