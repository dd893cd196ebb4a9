package calendar

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// RANGE - Inclusive date range used by seasons, validity windows and reports
// =============================================================================

// Range is [Start, End] with both ends inclusive.
//
// Seasons, special periods and plan validity are expressed as inclusive
// ranges. Stays are not: use NightsBetween for [checkIn, checkOut).
type Range struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

// NewRange builds a range; it does not validate ordering.
func NewRange(start, end Date) Range { return Range{Start: start, End: end} }

// Validate requires End on or after Start; a one-day range is valid.
func (r Range) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("range requires both start and end")
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("range end %s is before start %s", r.End, r.Start)
	}
	return nil
}

// Contains reports whether d lies in the range.
func (r Range) Contains(d Date) bool { return IsInRange(d, r.Start, r.End) }

// Covers reports whether every day of other lies in the range.
func (r Range) Covers(other Range) bool {
	return r.Contains(other.Start) && r.Contains(other.End)
}

// Overlaps reports whether the ranges share at least one day.
func (r Range) Overlaps(other Range) bool {
	return !r.End.Before(other.Start) && !other.End.Before(r.Start)
}

// Len is the number of days in the range.
func (r Range) Len() int { return DaysBetween(r.Start, r.End) + 1 }

// Days returns every day in the range.
func (r Range) Days() []Date {
	var days []Date
	for d := r.Start; d.BeforeOrEqual(r.End); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}

func (r Range) String() string {
	return "[" + r.Start.String() + ", " + r.End.String() + "]"
}

// =============================================================================
// WEEKDAY MASK
// =============================================================================

// WeekdayMask is a set of weekdays, bit i set for time.Weekday(i).
// The empty mask allows every day.
type WeekdayMask uint8

// AllDays has every weekday set.
const AllDays WeekdayMask = 0x7F

// NewWeekdayMask builds a mask from weekdays.
func NewWeekdayMask(days ...time.Weekday) WeekdayMask {
	var m WeekdayMask
	for _, d := range days {
		m |= 1 << uint(d)
	}
	return m
}

// Includes reports whether wd is allowed.
func (m WeekdayMask) Includes(wd time.Weekday) bool {
	if m == 0 {
		return true
	}
	return m&(1<<uint(wd)) != 0
}

// IncludesAll reports whether every date falls on an allowed weekday.
func (m WeekdayMask) IncludesAll(dates []Date) bool {
	for _, d := range dates {
		if !m.Includes(d.Weekday()) {
			return false
		}
	}
	return true
}

// Weekdays lists the allowed days in order.
func (m WeekdayMask) Weekdays() []time.Weekday {
	var out []time.Weekday
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if m == 0 || m.Includes(wd) {
			out = append(out, wd)
		}
	}
	return out
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// MarshalJSON writes the mask as short day names.
func (m WeekdayMask) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, 7)
	for _, wd := range m.Weekdays() {
		names = append(names, strings.ToLower(wd.String()[:3]))
	}
	return json.Marshal(names)
}

// UnmarshalJSON accepts day names ("mon", "Monday") or weekday numbers.
func (m *WeekdayMask) UnmarshalJSON(b []byte) error {
	var raw []any
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("weekday mask must be a list: %w", err)
	}
	var mask WeekdayMask
	for _, v := range raw {
		switch x := v.(type) {
		case string:
			key := strings.ToLower(x)
			if len(key) > 3 {
				key = key[:3]
			}
			wd, ok := weekdayNames[key]
			if !ok {
				return fmt.Errorf("unknown weekday %q", x)
			}
			mask |= 1 << uint(wd)
		case float64:
			if x < 0 || x > 6 {
				return fmt.Errorf("weekday %v out of range", x)
			}
			mask |= 1 << uint(x)
		default:
			return fmt.Errorf("unsupported weekday value %v", v)
		}
	}
	*m = mask
	return nil
}
