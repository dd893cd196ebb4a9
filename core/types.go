/*
types.go - Identifiers, money helpers and the clock

PURPOSE:
  Typed identifiers keep hotel, room type, company and booking ids from
  being mixed up at call sites. Money is shopspring/decimal throughout;
  floats never touch an amount.

SEE ALSO:
  - inventory.go, season.go, rateplan.go, company.go, credit.go, booking.go:
    Persisted entities
  - store.go: Persistence contract
*/
package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	HotelID       string
	RoomTypeID    string
	RoomID        string
	RatePlanID    string
	SeasonID      string
	OverrideID    string
	CompanyID     string
	BookingID     string
	TransactionID string
	RequestID     string
)

// NewID returns "<prefix>-<uuid>".
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// =============================================================================
// MONEY
// =============================================================================

// Zero is the zero amount.
var Zero = decimal.Zero

// Hundred converts between percentages and fractions.
var Hundred = decimal.NewFromInt(100)

// Pct turns a percentage (20 = 20%) into a fraction (0.2).
func Pct(p decimal.Decimal) decimal.Decimal { return p.Div(Hundred) }

// RoundRate rounds a nightly rate to whole currency units, half away from zero.
func RoundRate(d decimal.Decimal) decimal.Decimal { return d.Round(0) }

// ClampDecimal limits d to [lo, hi].
func ClampDecimal(d, lo, hi decimal.Decimal) decimal.Decimal {
	if d.LessThan(lo) {
		return lo
	}
	if d.GreaterThan(hi) {
		return hi
	}
	return d
}

// =============================================================================
// CLOCK
// =============================================================================

// Clock is injected wherever "now" matters (lead time, due dates, overdue scans).
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant.
type FixedClock struct{ At time.Time }

func (c FixedClock) Now() time.Time { return c.At }
