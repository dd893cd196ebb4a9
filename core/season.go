package core

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/hotel-core/calendar"
)

// =============================================================================
// SEASONS AND SPECIAL PERIODS
// =============================================================================

type SeasonType string

const (
	SeasonPeak     SeasonType = "peak"
	SeasonHigh     SeasonType = "high"
	SeasonShoulder SeasonType = "shoulder"
	SeasonLow      SeasonType = "low"
	SeasonOff      SeasonType = "off"
	SeasonCustom   SeasonType = "custom"
)

var seasonTypes = []SeasonType{SeasonPeak, SeasonHigh, SeasonShoulder, SeasonLow, SeasonOff, SeasonCustom}

type AdjustmentType string

const (
	AdjustPercentage AdjustmentType = "percentage"
	AdjustFixed      AdjustmentType = "fixed"
	AdjustAbsolute   AdjustmentType = "absolute"
)

// AllRoomTypes in RateAdjustment.RoomType matches every room type.
const AllRoomTypes = "all"

// RateAdjustment changes the nightly rate of one room type (or all).
// Percentage values are whole percents: 20 means +20%.
type RateAdjustment struct {
	RoomType string          `json:"roomType"`
	Type     AdjustmentType  `json:"adjustmentType"`
	Value    decimal.Decimal `json:"value"`
}

// StayRestrictions constrain stays that arrive inside the period.
type StayRestrictions struct {
	MinLength         int                  `json:"minLength,omitempty"`
	MaxLength         int                  `json:"maxLength,omitempty"`
	ArrivalDays       calendar.WeekdayMask `json:"arrivalDays,omitempty"`
	ClosedToArrival   []calendar.Date      `json:"closedToArrival,omitempty"`
	ClosedToDeparture []calendar.Date      `json:"closedToDeparture,omitempty"`
}

// BookingWindow bounds how far ahead of arrival a booking may be made.
// MaxAdvanceDays of 0 means unbounded.
type BookingWindow struct {
	MinAdvanceDays int `json:"minAdvanceDays,omitempty"`
	MaxAdvanceDays int `json:"maxAdvanceDays,omitempty"`
}

// RecurringPattern repeats a period yearly until an optional end date.
type RecurringPattern struct {
	Frequency string        `json:"frequency"`
	Until     calendar.Date `json:"until,omitempty"`
}

// DatedRule is the shape shared by seasons and special periods.
type DatedRule struct {
	ID                  SeasonID          `json:"id"`
	HotelID             HotelID           `json:"hotelId"`
	Name                string            `json:"name"`
	Description         string            `json:"description,omitempty"`
	StartDate           calendar.Date     `json:"startDate"`
	EndDate             calendar.Date     `json:"endDate"`
	RateAdjustments     []RateAdjustment  `json:"rateAdjustments"`
	Restrictions        StayRestrictions  `json:"restrictions"`
	BookingWindow       BookingWindow     `json:"bookingWindow"`
	Priority            int               `json:"priority"`
	ApplicableRatePlans []RatePlanID      `json:"applicableRatePlans"`
	IsActive            bool              `json:"isActive"`
	Recurring           *RecurringPattern `json:"recurringPattern,omitempty"`
	CreatedAt           time.Time         `json:"createdAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
}

// Range returns the period's base range.
func (r DatedRule) Range() calendar.Range { return calendar.NewRange(r.StartDate, r.EndDate) }

// Covers reports whether d falls in the period, honouring yearly recurrence.
func (r DatedRule) Covers(d calendar.Date) bool {
	if r.Range().Contains(d) {
		return true
	}
	if r.Recurring == nil || r.Recurring.Frequency != "yearly" || d.Before(r.StartDate) {
		return false
	}
	if !r.Recurring.Until.IsZero() && d.After(r.Recurring.Until) {
		return false
	}
	// A range may wrap the year end, so try the occurrence starting this
	// year and the one that started last year.
	k := d.Year() - r.StartDate.Year()
	for _, years := range []int{k, k - 1} {
		if years <= 0 {
			continue
		}
		shifted := calendar.NewRange(r.StartDate.AddYears(years), r.EndDate.AddYears(years))
		if shifted.Contains(d) {
			return true
		}
	}
	return false
}

// AppliesToPlan: an empty list matches every plan. An empty plan (the
// standard rate) only matches rules without a list.
func (r DatedRule) AppliesToPlan(plan RatePlanID) bool {
	return len(r.ApplicableRatePlans) == 0 || slices.Contains(r.ApplicableRatePlans, plan)
}

// AdjustmentFor prefers an adjustment naming the room type over one for "all".
func (r DatedRule) AdjustmentFor(rt RoomTypeID) (RateAdjustment, bool) {
	var fallback *RateAdjustment
	for i := range r.RateAdjustments {
		a := r.RateAdjustments[i]
		if a.RoomType == string(rt) {
			return a, true
		}
		if a.RoomType == AllRoomTypes || a.RoomType == "" {
			fallback = &r.RateAdjustments[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return RateAdjustment{}, false
}

func (r DatedRule) validate(kind string) error {
	if r.ID == "" || r.HotelID == "" || r.Name == "" {
		return Validationf("%s requires id, hotelId and name", kind)
	}
	if err := r.Range().Validate(); err != nil {
		return Validationf("%s %s: %v", kind, r.ID, err)
	}
	if r.Priority < 0 {
		return Validationf("%s %s: priority must be >= 0", kind, r.ID)
	}
	for _, a := range r.RateAdjustments {
		switch a.Type {
		case AdjustPercentage, AdjustFixed:
		case AdjustAbsolute:
			if a.Value.IsNegative() {
				return Validationf("%s %s: absolute rate must be >= 0", kind, r.ID)
			}
		default:
			return Validationf("%s %s: unknown adjustment type %q", kind, r.ID, a.Type)
		}
	}
	if r.Restrictions.MaxLength > 0 && r.Restrictions.MinLength > r.Restrictions.MaxLength {
		return Validationf("%s %s: minLength exceeds maxLength", kind, r.ID)
	}
	if r.Recurring != nil && r.Recurring.Frequency != "yearly" {
		return Validationf("%s %s: only yearly recurrence is supported", kind, r.ID)
	}
	return nil
}

// Season is a named pricing period.
type Season struct {
	DatedRule
	Type SeasonType `json:"type"`
}

// DefaultSeasonPriority applies when a season is created without a priority.
const DefaultSeasonPriority = 1

func (s Season) Validate() error {
	if err := s.validate("season"); err != nil {
		return err
	}
	if !slices.Contains(seasonTypes, s.Type) {
		return Validationf("season %s: unknown type %q", s.ID, s.Type)
	}
	return nil
}

// BookingRestriction forbids parts of a stay touching a special period.
type BookingRestriction string

const (
	RestrictNone              BookingRestriction = "none"
	RestrictClosedToArrival   BookingRestriction = "closed_to_arrival"
	RestrictClosedToDeparture BookingRestriction = "closed_to_departure"
	RestrictClosedToBoth      BookingRestriction = "closed_to_both"
	RestrictBlocked           BookingRestriction = "blocked"
)

type OverrideType string

const (
	OverrideAdjustment OverrideType = "adjustment"
	OverrideBlock      OverrideType = "block"
)

// SpecialPeriod is an event or holiday window layered over seasons.
type SpecialPeriod struct {
	DatedRule
	Type               string             `json:"type,omitempty"`
	BookingRestriction BookingRestriction `json:"bookingRestriction"`
	OverrideType       OverrideType       `json:"overrideType"`
}

// DefaultSpecialPeriodPriority is above DefaultSeasonPriority.
const DefaultSpecialPeriodPriority = 10

// ForbidsInventory reports whether the period suppresses availability entirely.
func (p SpecialPeriod) ForbidsInventory() bool {
	return p.BookingRestriction == RestrictBlocked || p.OverrideType == OverrideBlock
}

func (p SpecialPeriod) Validate() error {
	if err := p.validate("special period"); err != nil {
		return err
	}
	switch p.BookingRestriction {
	case "", RestrictNone, RestrictClosedToArrival, RestrictClosedToDeparture, RestrictClosedToBoth, RestrictBlocked:
	default:
		return Validationf("special period %s: unknown booking restriction %q", p.ID, p.BookingRestriction)
	}
	switch p.OverrideType {
	case "", OverrideAdjustment, OverrideBlock:
	default:
		return Validationf("special period %s: unknown override type %q", p.ID, p.OverrideType)
	}
	return nil
}
