/*
scenarios.go - Demo data loaders for development and demonstrations

PURPOSE:

	Seeds the caller's hotel with realistic data so the booking, pricing and
	corporate credit flows can be exercised end to end from a fresh store.

AVAILABLE SCENARIOS:

	city-hotel:         Double and suite room types, rooms, 90 days of
	                    inventory, a BAR plan, a promo plan, a peak season
	corporate-account:  city-hotel plus two corporate accounts, one close
	                    to its limit
	festival-blackout:  city-hotel plus a blocked festival weekend

HOW SCENARIOS WORK:
 1. Room types and rooms are upserted with fixed, hotel-prefixed ids
 2. Inventory is opened from today (opening again resizes, never duplicates)
 3. Plans, seasons and special periods are saved with fixed ids
 4. Companies are created only when absent. GST numbers are unique per
    store, so corporate-account can seed one hotel only

Loading a scenario twice leaves the same data behind.

USAGE VIA API:

	POST /v1/scenarios/load   (dev only, admin)
	{"scenarioId": "corporate-account"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, hotel, actor)
 3. Add it to the loaders map

SEE ALSO:
  - server.go: scenario routes are only mounted when app.env is dev
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/hotel-core/calendar"
	"github.com/warp/hotel-core/core"
	"github.com/warp/hotel-core/corporate"
	"github.com/warp/hotel-core/inventory"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "city-hotel",
		Name:        "City Hotel",
		Description: "Doubles and suites with 90 days of inventory, BAR and promo plans, a peak season",
	},
	{
		ID:          "corporate-account",
		Name:        "Corporate Accounts",
		Description: "City hotel plus a healthy corporate account and one near its credit limit",
	},
	{
		ID:          "festival-blackout",
		Name:        "Festival Blackout",
		Description: "City hotel plus a festival weekend closed to bookings",
	},
}

const (
	demoDouble = core.RoomTypeID("DBL")
	demoSuite  = core.RoomTypeID("STE")
)

type scenarioLoader func(h *Handler, ctx context.Context, hotel core.HotelID, actor string) error

// scoped prefixes demo ids with the hotel so two hotels can load the same
// scenario side by side.
func scoped(hotel core.HotelID, id string) string { return string(hotel) + "-" + id }

var loaders = map[string]scenarioLoader{
	"city-hotel":        (*Handler).loadCityHotelScenario,
	"corporate-account": (*Handler).loadCorporateScenario,
	"festival-blackout": (*Handler).loadFestivalScenario,
}

// ListScenarios returns available scenarios.
// GET /v1/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario seeds the caller's hotel.
// POST /v1/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	load, ok := loaders[req.ScenarioID]
	if !ok {
		h.writeError(w, r, core.NotFoundf("unknown scenario %q", req.ScenarioID))
		return
	}
	id := identityFrom(r.Context())
	if err := load(h, r.Context(), id.HotelID, id.ActorID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.Log.Info().Str("scenario", req.ScenarioID).Str("hotel", string(id.HotelID)).Msg("scenario loaded")
	writeJSON(w, http.StatusCreated, map[string]string{"status": "loaded", "scenarioId": req.ScenarioID})
}

// =============================================================================
// LOADERS
// =============================================================================

func (h *Handler) loadCityHotelScenario(ctx context.Context, hotel core.HotelID, actor string) error {
	today := calendar.FromTime(h.Clock.Now())

	roomTypes := []core.RoomType{
		{ID: demoDouble, HotelID: hotel, Name: "Deluxe Double", Code: "DBL", BasePrice: decimal.NewFromInt(3500), MaxOccupancy: 2, LegacyCategory: core.CategoryDouble},
		{ID: demoSuite, HotelID: hotel, Name: "Executive Suite", Code: "STE", BasePrice: decimal.NewFromInt(9000), MaxOccupancy: 3, LegacyCategory: core.CategorySuite},
	}
	for _, rt := range roomTypes {
		if _, err := h.Inventory.SaveRoomType(ctx, rt); err != nil {
			return fmt.Errorf("room type %s: %w", rt.ID, err)
		}
	}

	rooms := map[core.RoomTypeID][]string{
		demoDouble: {"101", "102", "103", "104", "105", "106", "107", "108", "109", "110"},
		demoSuite:  {"201", "202", "203"},
	}
	for rt, numbers := range rooms {
		for _, n := range numbers {
			room := core.Room{ID: core.RoomID(scoped(hotel, "R"+n)), HotelID: hotel, RoomTypeID: rt, Number: n, IsActive: true}
			if _, err := h.Inventory.SaveRoom(ctx, room); err != nil {
				return fmt.Errorf("room %s: %w", n, err)
			}
		}
		if _, err := h.Inventory.OpenInventory(ctx, inventory.OpenRequest{
			HotelID:    hotel,
			RoomTypeID: rt,
			Start:      today,
			End:        today.AddDays(89),
			TotalRooms: len(numbers),
		}); err != nil {
			return fmt.Errorf("opening %s: %w", rt, err)
		}
	}

	plans := []core.RatePlan{
		{
			ID: core.RatePlanID(scoped(hotel, "BAR")), HotelID: hotel, Name: "Best Available Rate", Code: "BAR", Type: core.PlanBAR,
			BaseRates: []core.BaseRate{
				{RoomTypeID: demoDouble, Rate: decimal.NewFromInt(4000)},
				{RoomTypeID: demoSuite, Rate: decimal.NewFromInt(9500)},
			},
			MealPlan: "room_only",
			Priority: 1,
			IsActive: true,
		},
		{
			ID: core.RatePlanID(scoped(hotel, "MONSOON")), HotelID: hotel, Name: "Monsoon Saver", Code: "MONSOON", Type: core.PlanPromo,
			BaseRates: []core.BaseRate{
				{RoomTypeID: demoDouble, Rate: decimal.NewFromInt(3400)},
			},
			MealPlan:         "breakfast",
			StayRestrictions: core.PlanStayRestrictions{MinNights: 2},
			Restrictions:     core.PromoRestrictions{RequirePromoCode: true, PromoCode: "MONSOON15"},
			Priority:         2,
			IsActive:         true,
		},
	}
	for _, p := range plans {
		if _, err := h.Rates.SavePlan(ctx, p); err != nil {
			return fmt.Errorf("plan %s: %w", p.ID, err)
		}
	}

	peakStart := today.AddDays(30)
	peak := core.Season{
		DatedRule: core.DatedRule{
			ID: core.SeasonID(scoped(hotel, "PEAK")), HotelID: hotel, Name: "Wedding Season",
			StartDate: peakStart, EndDate: peakStart.AddDays(20),
			RateAdjustments: []core.RateAdjustment{
				{RoomType: core.AllRoomTypes, Type: core.AdjustPercentage, Value: decimal.NewFromInt(20)},
			},
			Priority: 5,
			IsActive: true,
		},
		Type: core.SeasonPeak,
	}
	if _, err := h.Seasons.SaveSeason(ctx, peak); err != nil {
		return fmt.Errorf("season: %w", err)
	}
	return nil
}

func (h *Handler) loadCorporateScenario(ctx context.Context, hotel core.HotelID, actor string) error {
	if err := h.loadCityHotelScenario(ctx, hotel, actor); err != nil {
		return err
	}
	companies := []core.Company{
		{
			ID: core.CompanyID(scoped(hotel, "ACME")), HotelID: hotel, Name: "Acme Travels Pvt Ltd",
			Email: "travel@acme.example", GSTNumber: "27AAPFU0939F1ZV",
			CreditLimit: decimal.NewFromInt(50000), PaymentTerms: 30, BillingCycle: core.BillingMonthly,
			HRContacts: []core.HRContact{{Name: "Priya Nair", Email: "priya@acme.example", IsPrimary: true}},
		},
		{
			ID: core.CompanyID(scoped(hotel, "GLOBEX")), HotelID: hotel, Name: "Globex Consulting",
			Email: "admin@globex.example", GSTNumber: "29AAGCG1234M1Z5",
			CreditLimit: decimal.NewFromInt(12000), PaymentTerms: 15, BillingCycle: core.BillingWeekly,
		},
	}
	for _, c := range companies {
		if _, err := h.Companies.Get(ctx, c.ID); err == nil {
			continue
		} else if !core.IsNotFound(err) {
			return err
		}
		if _, err := h.Companies.Create(ctx, c); err != nil {
			return fmt.Errorf("company %s: %w", c.Name, err)
		}
	}

	// Globex is left close to its limit.
	globex := companies[1].ID
	existing, err := h.Credit.List(ctx, core.CreditFilter{CompanyID: globex, BookingID: "DEMO-GLOBEX-1"})
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		if _, err := h.Credit.Post(ctx, corporate.PostRequest{
			HotelID:     hotel,
			CompanyID:   globex,
			BookingID:   "DEMO-GLOBEX-1",
			Type:        core.TxDebit,
			Amount:      decimal.NewFromInt(10500),
			Description: "Offsite block, 3 doubles x 1 night",
			CreatedBy:   actor,
		}); err != nil {
			return fmt.Errorf("seeding globex debit: %w", err)
		}
	}
	return nil
}

func (h *Handler) loadFestivalScenario(ctx context.Context, hotel core.HotelID, actor string) error {
	if err := h.loadCityHotelScenario(ctx, hotel, actor); err != nil {
		return err
	}
	start := calendar.FromTime(h.Clock.Now()).AddDays(14)
	festival := core.SpecialPeriod{
		DatedRule: core.DatedRule{
			ID: core.SeasonID(scoped(hotel, "FESTIVAL")), HotelID: hotel, Name: "Music Festival",
			StartDate: start, EndDate: start.AddDays(2),
			Priority: core.DefaultSpecialPeriodPriority,
			IsActive: true,
		},
		Type:               "event",
		BookingRestriction: core.RestrictBlocked,
		OverrideType:       core.OverrideBlock,
	}
	if _, err := h.Seasons.SaveSpecialPeriod(ctx, festival); err != nil {
		return fmt.Errorf("special period: %w", err)
	}
	return nil
}
