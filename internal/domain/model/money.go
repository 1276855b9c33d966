package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical calendar representation used in storage and APIs.
const DateLayout = "2006-01-02"

// MinorUnit is one cent, the default currency tolerance.
var MinorUnit = decimal.New(1, -2)

// WithinTolerance reports whether |a-b| <= tol.
func WithinTolerance(a, b, tol decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tol)
}

// SumAmounts adds up decimals.
func SumAmounts(amounts ...decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, a := range amounts {
		sum = sum.Add(a)
	}
	return sum
}

// CalendarDate truncates t to midnight UTC of its calendar day.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the absolute number of calendar days between a and b.
func DaysBetween(a, b time.Time) int {
	diff := CalendarDate(a).Sub(CalendarDate(b)).Hours() / 24
	if diff < 0 {
		diff = -diff
	}
	return int(diff + 0.5)
}

// StatusForBalance derives the open/partially settled/settled status from a
// recomputed balance. Void charters keep their status.
func StatusForBalance(current TransactionStatus, due, balance decimal.Decimal) TransactionStatus {
	switch {
	case current == StatusVoid:
		return StatusVoid
	case !balance.IsPositive():
		return StatusSettled
	case balance.LessThan(due):
		return StatusPartiallySettled
	default:
		return StatusOpen
	}
}
