package calendar

import "time"

// =============================================================================
// HOLIDAY RULES - Rule-based detection, not a per-year list
// =============================================================================

// HolidayRule marks a recurring month/day window as holiday. A window whose
// end precedes its start wraps the year boundary (Dec 15 - Jan 7).
type HolidayRule struct {
	Name      string
	FromMonth time.Month
	FromDay   int
	ToMonth   time.Month
	ToDay     int
}

// Matches reports whether d falls inside the rule's window in any year.
func (r HolidayRule) Matches(d Date) bool {
	md := monthDay(d.Month(), d.Day())
	from := monthDay(r.FromMonth, r.FromDay)
	to := monthDay(r.ToMonth, r.ToDay)
	if from <= to {
		return md >= from && md <= to
	}
	return md >= from || md <= to
}

func monthDay(m time.Month, day int) int { return int(m)*100 + day }

// DefaultHolidayRules are the peak-demand holiday windows used for pricing
// and reporting.
var DefaultHolidayRules = []HolidayRule{
	{Name: "Year-end holidays", FromMonth: time.December, FromDay: 15, ToMonth: time.January, ToDay: 7},
	{Name: "Summer holidays", FromMonth: time.July, FromDay: 1, ToMonth: time.July, ToDay: 31},
	{Name: "Spring break", FromMonth: time.March, FromDay: 15, ToMonth: time.March, ToDay: 31},
}

// HolidayCalendar answers holiday lookups from a rule set.
type HolidayCalendar struct {
	rules []HolidayRule
}

// NewHolidayCalendar uses the given rules, or the defaults when none are given.
func NewHolidayCalendar(rules ...HolidayRule) *HolidayCalendar {
	if len(rules) == 0 {
		rules = DefaultHolidayRules
	}
	return &HolidayCalendar{rules: rules}
}

// IsHoliday reports whether any rule matches d.
func (c *HolidayCalendar) IsHoliday(d Date) bool {
	_, ok := c.Holiday(d)
	return ok
}

// Holiday returns the first matching rule.
func (c *HolidayCalendar) Holiday(d Date) (HolidayRule, bool) {
	for _, r := range c.rules {
		if r.Matches(d) {
			return r, true
		}
	}
	return HolidayRule{}, false
}

var defaultCalendar = NewHolidayCalendar()

// IsHoliday checks d against DefaultHolidayRules.
func IsHoliday(d Date) bool { return defaultCalendar.IsHoliday(d) }
