/*
registry.go - Seasons and special periods with priority resolution

PURPOSE:
  Named date ranges that adjust nightly rates and restrict stays. Seasons
  carry the everyday pricing calendar; special periods (events, holidays)
  sit on top with a higher default priority and may close arrival,
  departure or the whole range.

RESOLUTION:
  For a (date, roomType, plan) the applicable entities are the active ones
  whose range (or yearly recurrence) covers the date, whose plan list is
  empty or names the plan, and which carry an adjustment for the room type
  or for "all". They are ordered:

    1. priority descending
    2. shorter range first (more specific)
    3. startDate descending (most recent first)

  The top season and the top special period are compared by the same
  order, and only the winner adjusts the night. On a full tie the special
  period wins.

RESTRICTIONS (CheckStay):
  closed_to_arrival    check-in inside the range
  closed_to_departure  check-out inside the range
  closed_to_both       either of the above
  blocked / block      any night inside the range
  season rules         min/max length, arrival weekdays, closed dates,
                       booking window, taken from the top season
                       covering check-in

SEE ALSO:
  - core/season.go: Entity types
  - pricing/engine.go: Applies the selected adjustments
*/
package season

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/hotel-core/calendar"
	"github.com/warp/hotel-core/core"
)

// ChangeFunc observes saved seasons and special periods.
type ChangeFunc func(hotel core.HotelID)

type Registry struct {
	Store core.Store
	Clock core.Clock
	Log   zerolog.Logger

	onChange []ChangeFunc
}

func NewRegistry(store core.Store) *Registry {
	return &Registry{Store: store, Clock: core.SystemClock{}, Log: zerolog.Nop()}
}

func (r *Registry) OnChange(fn ChangeFunc) { r.onChange = append(r.onChange, fn) }

func (r *Registry) notify(hotel core.HotelID) {
	for _, fn := range r.onChange {
		fn(hotel)
	}
}

// =============================================================================
// CRUD
// =============================================================================

// SaveSeason creates or replaces a season. A new season without an id gets
// one; a zero priority gets the default.
func (r *Registry) SaveSeason(ctx context.Context, s core.Season) (core.Season, error) {
	if s.ID == "" {
		s.ID = core.SeasonID(core.NewID("season"))
		s.IsActive = true
	}
	if s.Priority == 0 {
		s.Priority = core.DefaultSeasonPriority
	}
	if err := s.Validate(); err != nil {
		return core.Season{}, err
	}
	now := r.Clock.Now()
	existing, err := r.Store.Seasons().GetSeason(ctx, s.ID)
	switch {
	case err == nil:
		s.CreatedAt = existing.CreatedAt
	case core.IsNotFound(err):
		s.CreatedAt = now
	default:
		return core.Season{}, fmt.Errorf("loading season: %w", err)
	}
	s.UpdatedAt = now
	if err := r.Store.Seasons().SaveSeason(ctx, s); err != nil {
		return core.Season{}, fmt.Errorf("saving season: %w", err)
	}
	r.notify(s.HotelID)
	return s, nil
}

func (r *Registry) GetSeason(ctx context.Context, id core.SeasonID) (core.Season, error) {
	return r.Store.Seasons().GetSeason(ctx, id)
}

func (r *Registry) ListSeasons(ctx context.Context, hotel core.HotelID) ([]core.Season, error) {
	return r.Store.Seasons().ListSeasons(ctx, hotel)
}

// DeleteSeason deactivates the season; history is kept.
func (r *Registry) DeleteSeason(ctx context.Context, id core.SeasonID) error {
	s, err := r.Store.Seasons().GetSeason(ctx, id)
	if err != nil {
		return err
	}
	s.IsActive = false
	s.UpdatedAt = r.Clock.Now()
	if err := r.Store.Seasons().SaveSeason(ctx, s); err != nil {
		return fmt.Errorf("deactivating season: %w", err)
	}
	r.notify(s.HotelID)
	return nil
}

func (r *Registry) SaveSpecialPeriod(ctx context.Context, p core.SpecialPeriod) (core.SpecialPeriod, error) {
	if p.ID == "" {
		p.ID = core.SeasonID(core.NewID("special"))
		p.IsActive = true
	}
	if p.Priority == 0 {
		p.Priority = core.DefaultSpecialPeriodPriority
	}
	if p.BookingRestriction == "" {
		p.BookingRestriction = core.RestrictNone
	}
	if p.OverrideType == "" {
		p.OverrideType = core.OverrideAdjustment
	}
	if err := p.Validate(); err != nil {
		return core.SpecialPeriod{}, err
	}
	now := r.Clock.Now()
	existing, err := r.Store.Seasons().GetSpecialPeriod(ctx, p.ID)
	switch {
	case err == nil:
		p.CreatedAt = existing.CreatedAt
	case core.IsNotFound(err):
		p.CreatedAt = now
	default:
		return core.SpecialPeriod{}, fmt.Errorf("loading special period: %w", err)
	}
	p.UpdatedAt = now
	if err := r.Store.Seasons().SaveSpecialPeriod(ctx, p); err != nil {
		return core.SpecialPeriod{}, fmt.Errorf("saving special period: %w", err)
	}
	r.notify(p.HotelID)
	return p, nil
}

func (r *Registry) GetSpecialPeriod(ctx context.Context, id core.SeasonID) (core.SpecialPeriod, error) {
	return r.Store.Seasons().GetSpecialPeriod(ctx, id)
}

func (r *Registry) ListSpecialPeriods(ctx context.Context, hotel core.HotelID) ([]core.SpecialPeriod, error) {
	return r.Store.Seasons().ListSpecialPeriods(ctx, hotel)
}

func (r *Registry) DeleteSpecialPeriod(ctx context.Context, id core.SeasonID) error {
	p, err := r.Store.Seasons().GetSpecialPeriod(ctx, id)
	if err != nil {
		return err
	}
	p.IsActive = false
	p.UpdatedAt = r.Clock.Now()
	if err := r.Store.Seasons().SaveSpecialPeriod(ctx, p); err != nil {
		return fmt.Errorf("deactivating special period: %w", err)
	}
	r.notify(p.HotelID)
	return nil
}

// =============================================================================
// RESOLUTION
// =============================================================================

// byPrecedence orders rules: priority desc, shorter range, startDate desc.
func byPrecedence(a, b core.DatedRule) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if la, lb := a.Range().Len(), b.Range().Len(); la != lb {
		return la < lb
	}
	return a.StartDate.After(b.StartDate)
}

func applies(rule core.DatedRule, date calendar.Date, rt core.RoomTypeID, plan core.RatePlanID) bool {
	if !rule.IsActive || !rule.Covers(date) || !rule.AppliesToPlan(plan) {
		return false
	}
	_, ok := rule.AdjustmentFor(rt)
	return ok
}

// SeasonsAt returns the seasons carrying an adjustment for the date,
// highest precedence first.
func (r *Registry) SeasonsAt(ctx context.Context, hotel core.HotelID, date calendar.Date, rt core.RoomTypeID, plan core.RatePlanID) ([]core.Season, error) {
	all, err := r.Store.Seasons().ListSeasons(ctx, hotel)
	if err != nil {
		return nil, fmt.Errorf("listing seasons: %w", err)
	}
	out := make([]core.Season, 0, len(all))
	for _, s := range all {
		if applies(s.DatedRule, date, rt, plan) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return byPrecedence(out[i].DatedRule, out[j].DatedRule) })
	return out, nil
}

// SpecialPeriodsAt is SeasonsAt for special periods.
func (r *Registry) SpecialPeriodsAt(ctx context.Context, hotel core.HotelID, date calendar.Date, rt core.RoomTypeID, plan core.RatePlanID) ([]core.SpecialPeriod, error) {
	all, err := r.Store.Seasons().ListSpecialPeriods(ctx, hotel)
	if err != nil {
		return nil, fmt.Errorf("listing special periods: %w", err)
	}
	out := make([]core.SpecialPeriod, 0, len(all))
	for _, p := range all {
		if applies(p.DatedRule, date, rt, plan) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return byPrecedence(out[i].DatedRule, out[j].DatedRule) })
	return out, nil
}

// Selected resolves the adjustments covering one night. Seasonal and
// Special are the top entity of each kind; Applied is the one that prices
// the night.
type Selected struct {
	Seasonal    *core.RateAdjustment `json:"seasonal,omitempty"`
	SeasonName  string               `json:"seasonName,omitempty"`
	Special     *core.RateAdjustment `json:"special,omitempty"`
	SpecialName string               `json:"specialName,omitempty"`

	// Winner names the highest-precedence rule across both kinds.
	Winner      string               `json:"winner,omitempty"`
	Applied     *core.RateAdjustment `json:"applied,omitempty"`
	FromSpecial bool                 `json:"fromSpecial,omitempty"`
}

// Adjustment picks the top season, the top special period and the winner
// between them for the night.
func (r *Registry) Adjustment(ctx context.Context, hotel core.HotelID, date calendar.Date, rt core.RoomTypeID, plan core.RatePlanID) (Selected, error) {
	var sel Selected
	seasons, err := r.SeasonsAt(ctx, hotel, date, rt, plan)
	if err != nil {
		return Selected{}, err
	}
	if len(seasons) > 0 {
		adj, _ := seasons[0].AdjustmentFor(rt)
		sel.Seasonal, sel.SeasonName = &adj, seasons[0].Name
	}
	specials, err := r.SpecialPeriodsAt(ctx, hotel, date, rt, plan)
	if err != nil {
		return Selected{}, err
	}
	if len(specials) > 0 {
		adj, _ := specials[0].AdjustmentFor(rt)
		sel.Special, sel.SpecialName = &adj, specials[0].Name
	}
	special := len(specials) > 0 &&
		(len(seasons) == 0 || !byPrecedence(seasons[0].DatedRule, specials[0].DatedRule))
	switch {
	case special:
		sel.Winner, sel.Applied, sel.FromSpecial = sel.SpecialName, sel.Special, true
	case len(seasons) > 0:
		sel.Winner, sel.Applied = sel.SeasonName, sel.Seasonal
	}
	return sel, nil
}

// =============================================================================
// RESTRICTIONS
// =============================================================================

// StayRequest describes a prospective stay for CheckStay.
type StayRequest struct {
	HotelID    core.HotelID
	RoomTypeID core.RoomTypeID
	PlanID     core.RatePlanID
	CheckIn    calendar.Date
	CheckOut   calendar.Date
	BookedAt   time.Time
}

func restricted(period, format string, args ...any) *core.Error {
	return core.Errorf(core.KindSeasonalRestriction, "%s: %s", period, fmt.Sprintf(format, args...)).
		With("period", period)
}

// CheckStay fails with SeasonalRestriction naming the first period that
// forbids the stay.
func (r *Registry) CheckStay(ctx context.Context, req StayRequest) error {
	if !req.CheckOut.After(req.CheckIn) {
		return core.Validationf("checkOut %s must be after checkIn %s", req.CheckOut, req.CheckIn)
	}
	nights := calendar.NightsBetween(req.CheckIn, req.CheckOut)

	specials, err := r.Store.Seasons().ListSpecialPeriods(ctx, req.HotelID)
	if err != nil {
		return fmt.Errorf("listing special periods: %w", err)
	}
	sort.SliceStable(specials, func(i, j int) bool { return byPrecedence(specials[i].DatedRule, specials[j].DatedRule) })
	for _, p := range specials {
		if !p.IsActive || !p.AppliesToPlan(req.PlanID) {
			continue
		}
		if p.ForbidsInventory() {
			for _, n := range nights {
				if p.Covers(n) {
					return restricted(p.Name, "closed for stays on %s", n).With("date", n)
				}
			}
		}
		switch p.BookingRestriction {
		case core.RestrictClosedToArrival:
			if p.Covers(req.CheckIn) {
				return restricted(p.Name, "closed to arrival on %s", req.CheckIn).With("date", req.CheckIn)
			}
		case core.RestrictClosedToDeparture:
			if p.Covers(req.CheckOut) {
				return restricted(p.Name, "closed to departure on %s", req.CheckOut).With("date", req.CheckOut)
			}
		case core.RestrictClosedToBoth:
			if p.Covers(req.CheckIn) {
				return restricted(p.Name, "closed to arrival on %s", req.CheckIn).With("date", req.CheckIn)
			}
			if p.Covers(req.CheckOut) {
				return restricted(p.Name, "closed to departure on %s", req.CheckOut).With("date", req.CheckOut)
			}
		}
		if err := checkRules(p.Name, p.DatedRule, req, len(nights)); err != nil {
			return err
		}
	}

	seasons, err := r.Store.Seasons().ListSeasons(ctx, req.HotelID)
	if err != nil {
		return fmt.Errorf("listing seasons: %w", err)
	}
	var top *core.Season
	for i := range seasons {
		s := &seasons[i]
		if !s.IsActive || !s.Covers(req.CheckIn) || !s.AppliesToPlan(req.PlanID) {
			continue
		}
		if top == nil || byPrecedence(s.DatedRule, top.DatedRule) {
			top = s
		}
	}
	if top != nil {
		return checkRules(top.Name, top.DatedRule, req, len(nights))
	}
	return nil
}

// checkRules applies a rule's stay restrictions and booking window to a
// stay arriving inside it.
func checkRules(name string, rule core.DatedRule, req StayRequest, nights int) error {
	if !rule.Covers(req.CheckIn) {
		return nil
	}
	rs := rule.Restrictions
	if rs.MinLength > 0 && nights < rs.MinLength {
		return restricted(name, "minimum stay is %d nights", rs.MinLength).With("minLength", rs.MinLength)
	}
	if rs.MaxLength > 0 && nights > rs.MaxLength {
		return restricted(name, "maximum stay is %d nights", rs.MaxLength).With("maxLength", rs.MaxLength)
	}
	if rs.ArrivalDays != 0 && !rs.ArrivalDays.Includes(req.CheckIn.Weekday()) {
		return restricted(name, "arrival not allowed on %s", req.CheckIn.Weekday()).With("date", req.CheckIn)
	}
	for _, d := range rs.ClosedToArrival {
		if d.Equal(req.CheckIn) {
			return restricted(name, "closed to arrival on %s", d).With("date", d)
		}
	}
	for _, d := range rs.ClosedToDeparture {
		if d.Equal(req.CheckOut) {
			return restricted(name, "closed to departure on %s", d).With("date", d)
		}
	}
	if !req.BookedAt.IsZero() {
		lead := calendar.DaysBetween(calendar.FromTime(req.BookedAt), req.CheckIn)
		bw := rule.BookingWindow
		if bw.MinAdvanceDays > 0 && lead < bw.MinAdvanceDays {
			return restricted(name, "must be booked at least %d days ahead", bw.MinAdvanceDays)
		}
		if bw.MaxAdvanceDays > 0 && lead > bw.MaxAdvanceDays {
			return restricted(name, "cannot be booked more than %d days ahead", bw.MaxAdvanceDays)
		}
	}
	return nil
}

// BlackoutOn reports whether an active special period forbids inventory on
// the date. It satisfies inventory.BlackoutSource.
func (r *Registry) BlackoutOn(ctx context.Context, hotel core.HotelID, _ core.RoomTypeID, date calendar.Date) (string, bool, error) {
	specials, err := r.Store.Seasons().ListSpecialPeriods(ctx, hotel)
	if err != nil {
		return "", false, fmt.Errorf("listing special periods: %w", err)
	}
	sort.SliceStable(specials, func(i, j int) bool { return byPrecedence(specials[i].DatedRule, specials[j].DatedRule) })
	for _, p := range specials {
		if p.IsActive && p.ForbidsInventory() && p.Covers(date) {
			return p.Name, true, nil
		}
	}
	return "", false, nil
}
