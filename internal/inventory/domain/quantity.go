package domain

import "github.com/shopspring/decimal"

// QuantityPlaces is the number of fractional digits a quantity may carry.
const QuantityPlaces = 2

// CheckQuantity validates a strictly positive quantity with at most two decimals.
func CheckQuantity(q decimal.Decimal) error {
	if !q.IsPositive() {
		return InvalidQuantity("must be greater than zero")
	}
	if !hasValidScale(q) {
		return InvalidQuantity("at most two decimal places allowed")
	}
	return nil
}

// CheckNonNegative is CheckQuantity allowing zero.
func CheckNonNegative(q decimal.Decimal) error {
	if q.IsNegative() {
		return InvalidQuantity("must not be negative")
	}
	if !hasValidScale(q) {
		return InvalidQuantity("at most two decimal places allowed")
	}
	return nil
}

// IsWhole reports whether q has no fractional part.
func IsWhole(q decimal.Decimal) bool {
	return q.Equal(q.Truncate(0))
}

func hasValidScale(q decimal.Decimal) bool {
	return q.Equal(q.Truncate(QuantityPlaces))
}

// Sum adds up quantities.
func Sum(qs ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, q := range qs {
		total = total.Add(q)
	}
	return total
}
