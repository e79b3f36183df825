// Package money implements the marketplace money policy: decimal amounts
// with two-place precision and an exact platform-fee split.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Split is the division of an order total between the platform and the
// publisher. PlatformFee + PublisherAmount always equals Total exactly.
type Split struct {
	Total           decimal.Decimal
	PlatformFee     decimal.Decimal
	PublisherAmount decimal.Decimal
}

// SplitFee computes the platform fee for a total at the given rate. The fee
// is rounded half-away-from-zero to 2 places; the publisher amount is the
// remainder, so the two parts sum exactly to the total.
func SplitFee(total, feeRate decimal.Decimal) (Split, error) {
	if total.IsNegative() {
		return Split{}, fmt.Errorf("money: total %s is negative", total)
	}
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Split{}, fmt.Errorf("money: fee rate %s outside [0,1)", feeRate)
	}

	fee := total.Mul(feeRate).Round(2)
	return Split{
		Total:           total,
		PlatformFee:     fee,
		PublisherAmount: total.Sub(fee),
	}, nil
}

// ParseAmount parses a non-negative decimal amount with at most 2 fractional
// places.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("money: parse %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("money: amount %q is negative", s)
	}
	if d.Exponent() < -2 {
		return decimal.Zero, fmt.Errorf("money: amount %q has more than 2 decimal places", s)
	}
	return d, nil
}
