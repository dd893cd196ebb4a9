package pricing

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/hotel-core/calendar"
	"github.com/warp/hotel-core/core"
)

// StandardRateName labels the fallback quote.
const StandardRateName = "Standard Rate"

// =============================================================================
// PLANS AND OVERRIDES
// =============================================================================

// SavePlan creates or replaces a rate plan. A new plan without an id gets
// one, and every new plan starts active.
func (e *Engine) SavePlan(ctx context.Context, p core.RatePlan) (core.RatePlan, error) {
	now := e.Clock.Now()
	created := p.ID == ""
	if created {
		p.ID = core.RatePlanID(core.NewID("plan"))
	} else if existing, err := e.Store.RatePlans().GetPlan(ctx, p.ID); err == nil {
		p.CreatedAt = existing.CreatedAt
	} else if !core.IsNotFound(err) {
		return core.RatePlan{}, fmt.Errorf("loading plan: %w", err)
	} else {
		created = true
	}
	if created {
		p.IsActive = true
		p.CreatedAt = now
	}
	if err := p.Validate(); err != nil {
		return core.RatePlan{}, err
	}
	p.UpdatedAt = now
	if err := e.Store.RatePlans().SavePlan(ctx, p); err != nil {
		return core.RatePlan{}, fmt.Errorf("saving plan: %w", err)
	}
	e.Log.Info().Str("hotel", string(p.HotelID)).Str("plan", string(p.ID)).Msg("rate plan saved")
	e.notify(p.HotelID, "")
	return p, nil
}

func (e *Engine) GetPlan(ctx context.Context, id core.RatePlanID) (core.RatePlan, error) {
	return e.Store.RatePlans().GetPlan(ctx, id)
}

func (e *Engine) ListPlans(ctx context.Context, hotel core.HotelID) ([]core.RatePlan, error) {
	return e.Store.RatePlans().ListPlans(ctx, hotel)
}

// SaveOverride pins a nightly rate. The plan, when named, must exist.
func (e *Engine) SaveOverride(ctx context.Context, o core.RateOverride) (core.RateOverride, error) {
	if err := o.Validate(); err != nil {
		return core.RateOverride{}, err
	}
	if o.RatePlanID != "" {
		if _, err := e.Store.RatePlans().GetPlan(ctx, o.RatePlanID); err != nil {
			return core.RateOverride{}, err
		}
	}
	if o.ID == "" {
		o.ID = core.OverrideID(core.NewID("override"))
		o.IsActive = true
		o.CreatedAt = e.Clock.Now()
	}
	if err := e.Store.RatePlans().SaveOverride(ctx, o); err != nil {
		return core.RateOverride{}, fmt.Errorf("saving override: %w", err)
	}
	e.Log.Info().
		Str("hotel", string(o.HotelID)).
		Str("roomType", string(o.RoomTypeID)).
		Stringer("date", o.Date).
		Str("rate", o.Rate.String()).
		Str("approvedBy", o.ApprovedBy).
		Msg("rate override saved")
	e.notify(o.HotelID, o.RoomTypeID)
	return o, nil
}

func (e *Engine) ListOverrides(ctx context.Context, hotel core.HotelID, rt core.RoomTypeID, from, to calendar.Date) ([]core.RateOverride, error) {
	return e.Store.RatePlans().ListOverrides(ctx, hotel, rt, from, to)
}

// =============================================================================
// QUOTING
// =============================================================================

// Rejection explains why a plan did not qualify.
type Rejection struct {
	PlanID   core.RatePlanID `json:"planId"`
	PlanName string          `json:"planName"`
	Reason   string          `json:"reason"`
}

// RateList is every qualifying plan, cheapest first, plus the rejections.
type RateList struct {
	Quotes   []Quote     `json:"rates"`
	Rejected []Rejection `json:"rejected,omitempty"`
}

// AllRates prices the stay under every qualifying plan.
func (e *Engine) AllRates(ctx context.Context, req QuoteRequest) (RateList, error) {
	if err := req.validate(); err != nil {
		return RateList{}, err
	}
	if req.BookedAt.IsZero() {
		req.BookedAt = e.Clock.Now()
	}
	rt, err := e.Store.Rooms().GetRoomType(ctx, req.HotelID, req.RoomTypeID)
	if err != nil {
		return RateList{}, err
	}
	rooms := max(req.Rooms, 1)
	if req.Guests > rt.MaxOccupancy*rooms {
		return RateList{}, core.Validationf("%d guests exceed the occupancy of %d %s room(s)", req.Guests, rooms, rt.Name).
			With("maxOccupancy", rt.MaxOccupancy)
	}

	plans, err := e.candidates(ctx, req)
	if err != nil {
		return RateList{}, err
	}
	out := RateList{Quotes: []Quote{}}
	for _, p := range plans {
		if reason := Eligible(p, req, req.BookedAt); reason != "" {
			out.Rejected = append(out.Rejected, Rejection{PlanID: p.ID, PlanName: p.Name, Reason: reason})
			continue
		}
		q, err := e.Compose(ctx, p, req)
		if err != nil {
			return RateList{}, err
		}
		out.Quotes = append(out.Quotes, q)
	}
	sort.SliceStable(out.Quotes, func(i, j int) bool { return better(out.Quotes[i], out.Quotes[j]) })
	return out, nil
}

// BestRate returns the cheapest qualifying plan. Ties go to the higher
// priority, then the lower plan id. Without a qualifying plan the stay is
// priced at the room type's base price when the fallback is enabled.
func (e *Engine) BestRate(ctx context.Context, req QuoteRequest) (Quote, error) {
	all, err := e.AllRates(ctx, req)
	if err != nil {
		return Quote{}, err
	}
	if len(all.Quotes) > 0 {
		return all.Quotes[0], nil
	}
	if !e.BaseRateFallback {
		return Quote{}, core.Errorf(core.KindNoRatePlanApplicable, "no rate plan applies to %s %s..%s", req.RoomTypeID, req.CheckIn, req.CheckOut).
			With("rejected", all.Rejected)
	}
	rt, err := e.Store.Rooms().GetRoomType(ctx, req.HotelID, req.RoomTypeID)
	if err != nil {
		return Quote{}, err
	}
	e.Log.Debug().Str("hotel", string(req.HotelID)).Str("roomType", string(req.RoomTypeID)).Int("rejected", len(all.Rejected)).Msg("no plan qualified, using standard rate")
	return standardRate(rt, req), nil
}

func better(a, b Quote) bool {
	if !a.TotalAmount.Equal(b.TotalAmount) {
		return a.TotalAmount.LessThan(b.TotalAmount)
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.PlanID < b.PlanID
}

func (e *Engine) candidates(ctx context.Context, req QuoteRequest) ([]core.RatePlan, error) {
	if req.PlanID != "" {
		p, err := e.Store.RatePlans().GetPlan(ctx, req.PlanID)
		if err != nil {
			return nil, err
		}
		if p.HotelID != req.HotelID {
			return nil, core.NotFoundf("plan %s not found for hotel %s", req.PlanID, req.HotelID)
		}
		return []core.RatePlan{p}, nil
	}
	plans, err := e.Store.RatePlans().ListPlans(ctx, req.HotelID)
	if err != nil {
		return nil, fmt.Errorf("listing plans: %w", err)
	}
	return plans, nil
}

func standardRate(rt core.RoomType, req QuoteRequest) Quote {
	nights := calendar.NightsBetween(req.CheckIn, req.CheckOut)
	rate := core.RoundRate(rt.BasePrice)
	q := Quote{
		PlanName:       StandardRateName,
		NightlyRates:   make([]NightlyRate, 0, len(nights)),
		AverageNightly: rate,
		TotalAmount:    rate.Mul(decimal.NewFromInt(int64(len(nights)))),
		Fallback:       true,
		Adjustments:    Adjustments{LOSPct: decimal.Zero, WindowPct: decimal.Zero},
	}
	for _, d := range nights {
		q.NightlyRates = append(q.NightlyRates, NightlyRate{
			Date: d, Base: rate, Rate: rate,
			SeasonalPct: decimal.Zero, SpecialPct: decimal.Zero, DynamicPct: decimal.Zero,
			LOSPct: decimal.Zero, WindowPct: decimal.Zero,
		})
	}
	return q
}
