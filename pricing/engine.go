/*
engine.go - Layered nightly rate composition

PURPOSE:
  Turns a rate plan into a per-night price for a stay. Each night is
  priced independently and deterministically from the plan, the season
  registry, the live occupancy of the ledger and the stored overrides.

ALGORITHM (per plan, per night):
  1. base      plan.baseRates[roomType]
               the winning season or special period: fixed adds,
               absolute replaces
  2. seasonal  percentage of the winner when it is a season  (1 + s)
  3. special   percentage of the winner when it is a special
               period                                        (1 + sp)
               Only one of 1-3 adjusts a night; see season.Registry
  4. dynamic   occupancy tier + lead-time tier, clamped
               by constraints.maxDailyChange             (1 + d)
  5. LOS       longest qualifying minNights band         (1 - los)
  6. window    earlyBird if leadDays >= threshold,
               else lastMinute if leadHours <= threshold (1 - w)
  7. override  an active RateOverride supersedes all of the above;
               one naming the plan beats a plan-agnostic one
  8. round     half away from zero to whole currency units

  All percentages are whole percents (20 = 20%).

ELIGIBILITY:
  A plan qualifies when it is active, has a base rate for the room type,
  its validity covers every night, applicableDays includes every night's
  weekday, minNights <= nights <= maxNights, minAdvanceHours <= leadHours,
  leadDays <= maxAdvanceDays and the promo code matches when required.

SEE ALSO:
  - quote.go: BestRate, AllRates, fallback
  - cached.go: TTL cache in front of quotes
*/
package pricing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/hotel-core/calendar"
	"github.com/warp/hotel-core/core"
	"github.com/warp/hotel-core/inventory"
	"github.com/warp/hotel-core/season"
)

// Adjuster selects the adjustment that prices a night.
type Adjuster interface {
	Adjustment(ctx context.Context, hotel core.HotelID, date calendar.Date, rt core.RoomTypeID, plan core.RatePlanID) (season.Selected, error)
}

// OccupancySource reports live occupancy for dynamic pricing.
type OccupancySource interface {
	RoomTypeOccupancy(ctx context.Context, hotel core.HotelID, rt core.RoomTypeID, start, end calendar.Date) (inventory.OccupancyReport, error)
}

type Engine struct {
	Store     core.Store
	Seasons   Adjuster
	Occupancy OccupancySource
	Clock     core.Clock
	Log       zerolog.Logger

	// BaseRateFallback prices a stay at roomType.basePrice × nights when no
	// plan qualifies.
	BaseRateFallback bool

	onChange []ChangeFunc
}

// ChangeFunc observes plan and override writes. An empty room type means
// every room type of the hotel.
type ChangeFunc func(hotel core.HotelID, rt core.RoomTypeID)

func NewEngine(store core.Store, seasons Adjuster, occupancy OccupancySource) *Engine {
	return &Engine{
		Store:            store,
		Seasons:          seasons,
		Occupancy:        occupancy,
		Clock:            core.SystemClock{},
		Log:              zerolog.Nop(),
		BaseRateFallback: true,
	}
}

func (e *Engine) OnChange(fn ChangeFunc) { e.onChange = append(e.onChange, fn) }

func (e *Engine) notify(hotel core.HotelID, rt core.RoomTypeID) {
	for _, fn := range e.onChange {
		fn(hotel, rt)
	}
}

// =============================================================================
// REQUEST / RESULT
// =============================================================================

type QuoteRequest struct {
	HotelID    core.HotelID
	RoomTypeID core.RoomTypeID
	CheckIn    calendar.Date
	CheckOut   calendar.Date
	Guests     int
	Rooms      int
	PromoCode  string

	// PlanID restricts quoting to one plan.
	PlanID core.RatePlanID

	// BookedAt defaults to the engine clock.
	BookedAt time.Time
}

func (r QuoteRequest) validate() error {
	switch {
	case r.HotelID == "" || r.RoomTypeID == "":
		return core.Validationf("hotelId and roomType are required")
	case !r.CheckOut.After(r.CheckIn):
		return core.Validationf("checkOut %s must be after checkIn %s", r.CheckOut, r.CheckIn)
	case r.Guests < 0 || r.Rooms < 0:
		return core.Validationf("guests and rooms must be >= 0")
	}
	return nil
}

// NightlyRate explains one night of a quote. Percentages are whole percents.
type NightlyRate struct {
	Date        calendar.Date   `json:"date"`
	Base        decimal.Decimal `json:"base"`
	SeasonalPct decimal.Decimal `json:"seasonalPct"`
	SpecialPct  decimal.Decimal `json:"specialPct"`
	DynamicPct  decimal.Decimal `json:"dynamicPct"`
	LOSPct      decimal.Decimal `json:"losPct"`
	WindowPct   decimal.Decimal `json:"windowPct"`
	Season      string          `json:"season,omitempty"`
	Special     string          `json:"special,omitempty"`
	Override    core.OverrideID `json:"overrideId,omitempty"`
	Rate        decimal.Decimal `json:"rate"`
}

// Adjustments sums up what shaped a quote.
type Adjustments struct {
	Seasons     []string        `json:"seasons,omitempty"`
	Specials    []string        `json:"specialPeriods,omitempty"`
	LOSPct      decimal.Decimal `json:"lengthOfStayPct"`
	WindowPct   decimal.Decimal `json:"windowPct"`
	WindowType  string          `json:"windowType,omitempty"`
	Overrides   int             `json:"overrides"`
	DynamicUsed bool            `json:"dynamicPricing"`
}

// Quote is the price of one room for the stay under one plan.
type Quote struct {
	PlanID             core.RatePlanID         `json:"planId,omitempty"`
	PlanName           string                  `json:"planName"`
	PlanType           core.PlanType           `json:"planType,omitempty"`
	Priority           int                     `json:"priority"`
	NightlyRates       []NightlyRate           `json:"nightlyRates"`
	AverageNightly     decimal.Decimal         `json:"nightlyRate"`
	TotalAmount        decimal.Decimal         `json:"totalAmount"`
	Adjustments        Adjustments             `json:"adjustments"`
	MealPlan           string                  `json:"mealPlan,omitempty"`
	CancellationPolicy core.CancellationPolicy `json:"cancellationPolicy"`
	ApprovalThreshold  *decimal.Decimal        `json:"approvalThreshold,omitempty"`
	Fallback           bool                    `json:"fallback,omitempty"`
}

// RequiresApproval reports whether a corporate debit of amount must wait.
func (q Quote) RequiresApproval(amount decimal.Decimal) bool {
	return q.ApprovalThreshold != nil && amount.GreaterThan(*q.ApprovalThreshold)
}

// =============================================================================
// LEAD TIME
// =============================================================================

type leadTime struct {
	days  int
	hours int
}

func leadFor(bookedAt time.Time, checkIn calendar.Date) leadTime {
	return leadTime{
		days:  calendar.DaysBetween(calendar.FromTime(bookedAt), checkIn),
		hours: int(checkIn.Time().Sub(bookedAt.UTC()).Hours()),
	}
}

// =============================================================================
// ELIGIBILITY
// =============================================================================

// Eligible returns "" when the plan qualifies for a stay booked at
// bookedAt, else the reason.
func Eligible(plan core.RatePlan, req QuoteRequest, bookedAt time.Time) string {
	lead := leadFor(bookedAt, req.CheckIn)
	nights := calendar.NightsBetween(req.CheckIn, req.CheckOut)
	n := len(nights)
	if n == 0 {
		return "empty stay"
	}
	if !plan.IsActive {
		return "plan inactive"
	}
	if _, ok := plan.BaseRateFor(req.RoomTypeID); !ok {
		return "no base rate for room type"
	}
	if !plan.Validity.Start.IsZero() && nights[0].Before(plan.Validity.Start) {
		return "stay starts before plan validity"
	}
	if !plan.Validity.End.IsZero() && nights[n-1].After(plan.Validity.End) {
		return "stay ends after plan validity"
	}
	if plan.ApplicableDays != 0 && !plan.ApplicableDays.IncludesAll(nights) {
		return "plan not applicable on every night"
	}
	sr := plan.StayRestrictions
	if sr.MinNights > 0 && n < sr.MinNights {
		return fmt.Sprintf("minimum %d nights", sr.MinNights)
	}
	if sr.MaxNights > 0 && n > sr.MaxNights {
		return fmt.Sprintf("maximum %d nights", sr.MaxNights)
	}
	bw := plan.BookingWindow
	if bw.MinAdvanceHours > 0 && lead.hours < bw.MinAdvanceHours {
		return fmt.Sprintf("must be booked %d hours ahead", bw.MinAdvanceHours)
	}
	if bw.MaxAdvanceDays > 0 && lead.days > bw.MaxAdvanceDays {
		return fmt.Sprintf("cannot be booked more than %d days ahead", bw.MaxAdvanceDays)
	}
	if plan.Restrictions.RequirePromoCode && !strings.EqualFold(plan.Restrictions.PromoCode, req.PromoCode) {
		return "promo code required"
	}
	return ""
}

// =============================================================================
// COMPOSITION
// =============================================================================

func factor(pct decimal.Decimal) decimal.Decimal { return decimal.NewFromInt(1).Add(core.Pct(pct)) }

// Compose prices every night of the stay under plan. The plan must be
// eligible; Compose does not re-check.
func (e *Engine) Compose(ctx context.Context, plan core.RatePlan, req QuoteRequest) (Quote, error) {
	base, ok := plan.BaseRateFor(req.RoomTypeID)
	if !ok {
		return Quote{}, core.Errorf(core.KindNoRatePlanApplicable, "plan %s has no rate for %s", plan.ID, req.RoomTypeID)
	}
	bookedAt := req.BookedAt
	if bookedAt.IsZero() {
		bookedAt = e.Clock.Now()
	}
	lead := leadFor(bookedAt, req.CheckIn)
	nights := calendar.NightsBetween(req.CheckIn, req.CheckOut)

	overrides, err := e.overridesFor(ctx, plan, req, nights)
	if err != nil {
		return Quote{}, err
	}
	losPct := lengthOfStayPct(plan.Discounts.LengthOfStay, len(nights))
	windowPct, windowType := windowDiscount(plan.Discounts, lead)

	q := Quote{
		PlanID:             plan.ID,
		PlanName:           plan.Name,
		PlanType:           plan.Type,
		Priority:           plan.Priority,
		NightlyRates:       make([]NightlyRate, 0, len(nights)),
		TotalAmount:        decimal.Zero,
		MealPlan:           plan.MealPlan,
		CancellationPolicy: plan.CancellationPolicy,
		ApprovalThreshold:  plan.ApprovalThreshold,
		Adjustments: Adjustments{
			LOSPct:      losPct,
			WindowPct:   windowPct,
			WindowType:  windowType,
			DynamicUsed: plan.DynamicPricing.Enabled,
		},
	}
	for _, d := range nights {
		nr, err := e.night(ctx, plan, req, d, base, lead)
		if err != nil {
			return Quote{}, err
		}
		nr.LOSPct, nr.WindowPct = losPct, windowPct
		rate := nr.Base.
			Mul(factor(nr.SeasonalPct)).
			Mul(factor(nr.SpecialPct)).
			Mul(factor(nr.DynamicPct)).
			Mul(factor(losPct.Neg())).
			Mul(factor(windowPct.Neg()))
		if o, ok := overrides[d]; ok {
			rate = o.Rate
			nr.Override = o.ID
			q.Adjustments.Overrides++
		}
		if rate.IsNegative() {
			rate = decimal.Zero
		}
		nr.Rate = core.RoundRate(rate)
		q.TotalAmount = q.TotalAmount.Add(nr.Rate)
		q.NightlyRates = append(q.NightlyRates, nr)
		q.Adjustments.Seasons = appendName(q.Adjustments.Seasons, nr.Season)
		q.Adjustments.Specials = appendName(q.Adjustments.Specials, nr.Special)
	}
	q.AverageNightly = q.TotalAmount.Div(decimal.NewFromInt(int64(len(nights)))).Round(2)
	return q, nil
}

// night resolves steps 1 to 4 for one date.
func (e *Engine) night(ctx context.Context, plan core.RatePlan, req QuoteRequest, d calendar.Date, base decimal.Decimal, lead leadTime) (NightlyRate, error) {
	nr := NightlyRate{Date: d, Base: base, SeasonalPct: decimal.Zero, SpecialPct: decimal.Zero, DynamicPct: decimal.Zero}
	if e.Seasons != nil {
		sel, err := e.Seasons.Adjustment(ctx, req.HotelID, d, req.RoomTypeID, plan.ID)
		if err != nil {
			return NightlyRate{}, fmt.Errorf("resolving seasons for %s: %w", d, err)
		}
		if a := sel.Applied; a != nil {
			pct := &nr.SeasonalPct
			if sel.FromSpecial {
				nr.Special, pct = sel.Winner, &nr.SpecialPct
			} else {
				nr.Season = sel.Winner
			}
			switch a.Type {
			case core.AdjustPercentage:
				*pct = a.Value
			case core.AdjustFixed:
				nr.Base = nr.Base.Add(a.Value)
			case core.AdjustAbsolute:
				nr.Base = a.Value
			}
		}
	}
	if plan.DynamicPricing.Enabled {
		pct, err := e.dynamicPct(ctx, plan, req, d, lead)
		if err != nil {
			return NightlyRate{}, err
		}
		nr.DynamicPct = pct
	}
	return nr, nil
}

// dynamicPct picks the highest occupancy tier reached and the tightest
// lead-time tier, then clamps their sum by maxDailyChange.
func (e *Engine) dynamicPct(ctx context.Context, plan core.RatePlan, req QuoteRequest, d calendar.Date, lead leadTime) (decimal.Decimal, error) {
	dp := plan.DynamicPricing
	pct := decimal.Zero
	if len(dp.OccupancyTiers) > 0 && e.Occupancy != nil {
		occ, err := e.Occupancy.RoomTypeOccupancy(ctx, req.HotelID, req.RoomTypeID, d, d.AddDays(1))
		if err != nil {
			return decimal.Zero, fmt.Errorf("loading occupancy for %s: %w", d, err)
		}
		var best *core.OccupancyTier
		for i := range dp.OccupancyTiers {
			t := &dp.OccupancyTiers[i]
			if occ.OccupancyRate.GreaterThanOrEqual(t.MinOccupancy) && (best == nil || t.MinOccupancy.GreaterThan(best.MinOccupancy)) {
				best = t
			}
		}
		if best != nil {
			pct = pct.Add(best.Adjustment)
		}
	}
	var tight *core.LeadTimeTier
	for i := range dp.LeadTimeTiers {
		t := &dp.LeadTimeTiers[i]
		if lead.days <= t.MaxLeadDays && (tight == nil || t.MaxLeadDays < tight.MaxLeadDays) {
			tight = t
		}
	}
	if tight != nil {
		pct = pct.Add(tight.Adjustment)
	}
	if limit := plan.Constraints.MaxDailyChange; limit.IsPositive() {
		pct = core.ClampDecimal(pct, limit.Neg(), limit)
	}
	return pct, nil
}

func lengthOfStayPct(bands []core.LOSDiscount, nights int) decimal.Decimal {
	best, pct := 0, decimal.Zero
	for _, b := range bands {
		if nights >= b.MinNights && b.MinNights > best {
			best, pct = b.MinNights, b.Percentage
		}
	}
	return pct
}

func windowDiscount(d core.Discounts, lead leadTime) (decimal.Decimal, string) {
	if eb := d.EarlyBird; eb != nil && lead.days >= eb.DaysInAdvance {
		return eb.Percentage, "earlyBird"
	}
	if lm := d.LastMinute; lm != nil && lead.hours <= lm.HoursBeforeArrival {
		return lm.Percentage, "lastMinute"
	}
	return decimal.Zero, ""
}

// overridesFor returns the active override per night. One naming the plan
// beats a plan-agnostic one.
func (e *Engine) overridesFor(ctx context.Context, plan core.RatePlan, req QuoteRequest, nights []calendar.Date) (map[calendar.Date]core.RateOverride, error) {
	list, err := e.Store.RatePlans().ListOverrides(ctx, req.HotelID, req.RoomTypeID, nights[0], nights[len(nights)-1])
	if err != nil {
		return nil, fmt.Errorf("loading overrides: %w", err)
	}
	out := make(map[calendar.Date]core.RateOverride)
	for _, o := range list {
		if !o.IsActive {
			continue
		}
		switch o.RatePlanID {
		case plan.ID:
			out[o.Date] = o
		case "":
			if prev, ok := out[o.Date]; !ok || prev.RatePlanID == "" {
				out[o.Date] = o
			}
		}
	}
	return out, nil
}

func appendName(names []string, name string) []string {
	if name == "" {
		return names
	}
	for _, n := range names {
		if n == name {
			return names
		}
	}
	return append(names, name)
}
