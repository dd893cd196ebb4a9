package core

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/hotel-core/calendar"
)

// =============================================================================
// RATE PLANS
// =============================================================================

type PlanType string

const (
	PlanBAR       PlanType = "BAR"
	PlanCorporate PlanType = "corporate"
	PlanPackage   PlanType = "package"
	PlanPromo     PlanType = "promo"
)

var planTypes = []PlanType{PlanBAR, PlanCorporate, PlanPackage, PlanPromo}

// BaseRate is a plan's starting nightly rate for one room type.
type BaseRate struct {
	RoomTypeID RoomTypeID      `json:"roomTypeId"`
	Rate       decimal.Decimal `json:"rate"`
}

type CancellationPolicy struct {
	Type                  string          `json:"type"`
	FreeCancellationHours int             `json:"freeCancellationHours,omitempty"`
	PenaltyPercentage     decimal.Decimal `json:"penaltyPercentage"`
}

// PlanStayRestrictions: MaxNights of 0 means unbounded.
type PlanStayRestrictions struct {
	MinNights int `json:"minNights,omitempty"`
	MaxNights int `json:"maxNights,omitempty"`
}

// PlanBookingWindow: MaxAdvanceDays of 0 means unbounded.
type PlanBookingWindow struct {
	MinAdvanceHours int `json:"minAdvanceHours,omitempty"`
	MaxAdvanceDays  int `json:"maxAdvanceDays,omitempty"`
}

// EarlyBird applies when the booking is made at least DaysInAdvance before arrival.
type EarlyBird struct {
	DaysInAdvance int             `json:"daysInAdvance"`
	Percentage    decimal.Decimal `json:"percentage"`
}

// LastMinute applies when arrival is at most HoursBeforeArrival away.
type LastMinute struct {
	HoursBeforeArrival int             `json:"hoursBeforeArrival"`
	Percentage         decimal.Decimal `json:"percentage"`
}

// LOSDiscount applies to stays of at least MinNights.
type LOSDiscount struct {
	MinNights  int             `json:"minNights"`
	Percentage decimal.Decimal `json:"percentage"`
}

type Discounts struct {
	EarlyBird    *EarlyBird    `json:"earlyBird,omitempty"`
	LastMinute   *LastMinute   `json:"lastMinute,omitempty"`
	LengthOfStay []LOSDiscount `json:"lengthOfStay,omitempty"`
}

type PromoRestrictions struct {
	RequirePromoCode bool   `json:"requirePromoCode"`
	PromoCode        string `json:"promoCode,omitempty"`
}

// OccupancyTier applies Adjustment (whole percent) at or above MinOccupancy percent.
type OccupancyTier struct {
	MinOccupancy decimal.Decimal `json:"minOccupancy"`
	Adjustment   decimal.Decimal `json:"adjustment"`
}

// LeadTimeTier applies Adjustment (whole percent) when arrival is at most MaxLeadDays away.
type LeadTimeTier struct {
	MaxLeadDays int             `json:"maxLeadDays"`
	Adjustment  decimal.Decimal `json:"adjustment"`
}

type DynamicPricing struct {
	Enabled        bool            `json:"enabled"`
	OccupancyTiers []OccupancyTier `json:"occupancyTiers,omitempty"`
	LeadTimeTiers  []LeadTimeTier  `json:"leadTimeTiers,omitempty"`
}

// PlanConstraints: MaxDailyChange (whole percent) caps |dynamic adjustment|; 0 = no cap.
type PlanConstraints struct {
	MaxDailyChange decimal.Decimal `json:"maxDailyChange"`
}

type RatePlan struct {
	ID                 RatePlanID           `json:"id"`
	HotelID            HotelID              `json:"hotelId"`
	Name               string               `json:"name"`
	Code               string               `json:"code"`
	Type               PlanType             `json:"type"`
	BaseRates          []BaseRate           `json:"baseRates"`
	MealPlan           string               `json:"mealPlan"`
	CancellationPolicy CancellationPolicy   `json:"cancellationPolicy"`
	Validity           calendar.Range       `json:"validity"`
	ApplicableDays     calendar.WeekdayMask `json:"applicableDays"`
	StayRestrictions   PlanStayRestrictions `json:"stayRestrictions"`
	BookingWindow      PlanBookingWindow    `json:"bookingWindow"`
	Discounts          Discounts            `json:"discounts"`
	Restrictions       PromoRestrictions    `json:"restrictions"`
	DynamicPricing     DynamicPricing       `json:"dynamicPricing"`
	Constraints        PlanConstraints      `json:"constraints"`
	Priority           int                  `json:"priority"`

	// ApprovalThreshold sends corporate debits above it to pending.
	ApprovalThreshold *decimal.Decimal `json:"approvalThreshold,omitempty"`

	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BaseRateFor returns the plan's base rate for a room type.
func (p RatePlan) BaseRateFor(rt RoomTypeID) (decimal.Decimal, bool) {
	for _, br := range p.BaseRates {
		if br.RoomTypeID == rt {
			return br.Rate, true
		}
	}
	return decimal.Zero, false
}

// RequiresApproval reports whether a debit of amount must wait for approval.
func (p RatePlan) RequiresApproval(amount decimal.Decimal) bool {
	return p.ApprovalThreshold != nil && amount.GreaterThan(*p.ApprovalThreshold)
}

func (p RatePlan) Validate() error {
	switch {
	case p.ID == "" || p.HotelID == "" || p.Name == "":
		return Validationf("rate plan requires id, hotelId and name")
	case !slices.Contains(planTypes, p.Type):
		return Validationf("rate plan %s: unknown type %q", p.ID, p.Type)
	case len(p.BaseRates) == 0:
		return Validationf("rate plan %s: at least one base rate is required", p.ID)
	case p.StayRestrictions.MaxNights > 0 && p.StayRestrictions.MinNights > p.StayRestrictions.MaxNights:
		return Validationf("rate plan %s: minNights exceeds maxNights", p.ID)
	case p.Restrictions.RequirePromoCode && p.Restrictions.PromoCode == "":
		return Validationf("rate plan %s: promo code required but not set", p.ID)
	}
	if !p.Validity.Start.IsZero() || !p.Validity.End.IsZero() {
		if p.Validity.End.Before(p.Validity.Start) {
			return Validationf("rate plan %s: validity ends before it starts", p.ID)
		}
	}
	for _, br := range p.BaseRates {
		if br.Rate.IsNegative() {
			return Validationf("rate plan %s: negative base rate for %s", p.ID, br.RoomTypeID)
		}
	}
	return nil
}

// RateOverride pins the nightly rate for a date. An empty RatePlanID
// applies to every plan.
type RateOverride struct {
	ID         OverrideID      `json:"id"`
	HotelID    HotelID         `json:"hotelId"`
	Date       calendar.Date   `json:"date"`
	RoomTypeID RoomTypeID      `json:"roomTypeId"`
	RatePlanID RatePlanID      `json:"ratePlanId,omitempty"`
	Rate       decimal.Decimal `json:"rate"`
	Reason     string          `json:"reason"`
	ApprovedBy string          `json:"approvedBy"`
	IsActive   bool            `json:"isActive"`
	CreatedAt  time.Time       `json:"createdAt"`
}

func (o RateOverride) Validate() error {
	switch {
	case o.HotelID == "" || o.RoomTypeID == "" || o.Date.IsZero():
		return Validationf("rate override requires hotelId, roomTypeId and date")
	case o.Rate.IsNegative():
		return Validationf("rate override rate must be >= 0")
	case o.Reason == "":
		return Validationf("rate override requires a reason")
	}
	return nil
}
