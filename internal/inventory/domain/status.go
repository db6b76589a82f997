package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockStatus classifies on-hand stock against the branch threshold.
type StockStatus string

const (
	StockInStock    StockStatus = "in_stock"
	StockLow        StockStatus = "low_stock"
	StockOutOfStock StockStatus = "out_of_stock"
)

// StockStatusFor returns out_of_stock at or below zero, low_stock at or below
// the threshold, in_stock otherwise.
func StockStatusFor(onHand, threshold decimal.Decimal) StockStatus {
	switch {
	case !onHand.IsPositive():
		return StockOutOfStock
	case onHand.LessThanOrEqual(threshold):
		return StockLow
	default:
		return StockInStock
	}
}

// ExpiryStatus classifies a batch expiration date.
type ExpiryStatus string

const (
	ExpiryNone         ExpiryStatus = ""
	ExpiryOK           ExpiryStatus = "ok"
	ExpiryExpiringSoon ExpiryStatus = "expiring_soon"
	ExpiryExpired      ExpiryStatus = "expired"
)

// ExpiryStatusFor compares an expiration date with now and the item's warning window.
func ExpiryStatusFor(expiration *time.Time, warnDays int, now time.Time) ExpiryStatus {
	if expiration == nil {
		return ExpiryNone
	}
	today := truncateDay(now)
	exp := truncateDay(*expiration)
	switch {
	case exp.Before(today):
		return ExpiryExpired
	case !exp.After(today.AddDate(0, 0, warnDays)):
		return ExpiryExpiringSoon
	default:
		return ExpiryOK
	}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysUntil returns whole days from now's date to the expiration date.
func DaysUntil(expiration time.Time, now time.Time) int {
	return int(truncateDay(expiration).Sub(truncateDay(now)).Hours() / 24)
}
