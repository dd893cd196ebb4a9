/*
date.go - Day-granular dates for stays, seasons and ledgers

PURPOSE:
  Every date in the booking core is a calendar day in UTC. A Date carries
  no time-of-day: constructing one from a time.Time truncates to the UTC
  day, so two Dates for the same day are always == and can be used as map
  keys.

NIGHTS:
  A stay [checkIn, checkOut) occupies the nights checkIn … checkOut-1.
  The checkout date is never a night of the stay.

    NightsBetween(2025-01-10, 2025-01-12) = [2025-01-10, 2025-01-11]

SEE ALSO:
  - period.go: Ranges and weekday masks
  - holiday.go: Rule-based holiday detection
*/
package calendar

import (
	"encoding/json"
	"fmt"
	"time"
)

// Layout is the wire format of a Date.
const Layout = "2006-01-02"

// =============================================================================
// DATE
// =============================================================================

// Date is a calendar day in UTC.
type Date struct {
	t time.Time
}

// NewDate builds a date from its components. Out-of-range values are
// normalised the way time.Date does (Jan 32 becomes Feb 1).
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// FromTime truncates t to its UTC day.
func FromTime(t time.Time) Date {
	if t.IsZero() {
		return Date{}
	}
	u := t.UTC()
	return NewDate(u.Year(), u.Month(), u.Day())
}

// Today returns the current UTC day.
func Today() Date { return FromTime(time.Now()) }

// Parse reads a "2006-01-02" date. RFC3339 timestamps are accepted and truncated.
func Parse(s string) (Date, error) {
	if t, err := time.Parse(Layout, s); err == nil {
		return FromTime(t), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return FromTime(t), nil
}

// MustParse is Parse for literals in tests and fixtures.
func MustParse(s string) Date {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Date) Before(o Date) bool        { return d.t.Before(o.t) }
func (d Date) After(o Date) bool         { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool         { return d.t.Equal(o.t) }
func (d Date) BeforeOrEqual(o Date) bool { return !d.t.After(o.t) }
func (d Date) AfterOrEqual(o Date) bool  { return !d.t.Before(o.t) }

// Compare returns -1, 0 or +1.
func (d Date) Compare(o Date) int { return d.t.Compare(o.t) }

// Arithmetic
func (d Date) AddDays(n int) Date   { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) AddMonths(n int) Date { return Date{t: d.t.AddDate(0, n, 0)} }
func (d Date) AddYears(n int) Date  { return Date{t: d.t.AddDate(n, 0, 0)} }

// Properties
func (d Date) Year() int             { return d.t.Year() }
func (d Date) Month() time.Month     { return d.t.Month() }
func (d Date) Day() int              { return d.t.Day() }
func (d Date) Weekday() time.Weekday { return d.t.Weekday() }
func (d Date) IsZero() bool          { return d.t.IsZero() }
func (d Date) IsWeekend() bool       { wd := d.Weekday(); return wd == time.Saturday || wd == time.Sunday }

// Time returns midnight UTC of the day.
func (d Date) Time() time.Time { return d.t }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(Layout)
}

// MarshalText implements encoding.TextMarshaler (JSON, TOML and map keys).
func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON writes null for the zero date.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a date string or null.
func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	return d.UnmarshalText([]byte(s))
}

// =============================================================================
// STAY ARITHMETIC
// =============================================================================

// NightsBetween returns the nights of a stay in order, excluding checkOut.
// It returns nil when checkOut is not after checkIn.
func NightsBetween(checkIn, checkOut Date) []Date {
	n := DaysBetween(checkIn, checkOut)
	if n <= 0 {
		return nil
	}
	nights := make([]Date, 0, n)
	for i := 0; i < n; i++ {
		nights = append(nights, checkIn.AddDays(i))
	}
	return nights
}

// DaysBetween is the signed number of days from one date to another.
func DaysBetween(from, to Date) int {
	return int(to.t.Sub(from.t).Hours() / 24)
}

// DayOfWeek returns the weekday of d.
func DayOfWeek(d Date) time.Weekday { return d.Weekday() }

// IsWeekend reports whether d is a Saturday or Sunday.
func IsWeekend(d Date) bool { return d.IsWeekend() }

// IsInRange reports whether d lies in [start, end], both ends inclusive.
func IsInRange(d, start, end Date) bool {
	return d.AfterOrEqual(start) && d.BeforeOrEqual(end)
}

// Min returns the earlier of two dates.
func Min(a, b Date) Date {
	if a.Before(b) {
		return a
	}
	return b
}

// Max returns the later of two dates.
func Max(a, b Date) Date {
	if a.After(b) {
		return a
	}
	return b
}

// StartOfMonth and EndOfMonth bound a calendar month.
func StartOfMonth(year int, month time.Month) Date { return NewDate(year, month, 1) }

func EndOfMonth(year int, month time.Month) Date {
	return NewDate(year, month+1, 1).AddDays(-1)
}
