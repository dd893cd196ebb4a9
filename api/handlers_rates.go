package api

import (
	"net/http"

	"github.com/warp/hotel-core/core"
	"github.com/warp/hotel-core/pricing"
)

// =============================================================================
// QUOTES
// =============================================================================

// BestRate returns the cheapest eligible plan for the stay.
// POST /v1/rates/best
func (h *Handler) BestRate(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	q, err := h.quoteRequest(r, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	quote, err := h.Quotes.BestRate(r.Context(), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// AllRates lists every applicable plan with its total, plus the plans that
// were rejected and why.
// GET /v1/rates/all?roomType&checkIn&checkOut[&guests&rooms&promoCode]
func (h *Handler) AllRates(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	checkIn, err := queryDate(r, "checkIn")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	checkOut, err := queryDate(r, "checkOut")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	guests, err := queryInt(r, "guests", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rooms, err := queryInt(r, "rooms", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req := QuoteRequest{
		HotelID:    query.Get("hotelId"),
		RoomTypeID: query.Get("roomType"),
		CheckIn:    checkIn,
		CheckOut:   checkOut,
		Guests:     guests,
		Rooms:      rooms,
		PromoCode:  query.Get("promoCode"),
	}
	if err := h.check(&req); err != nil {
		h.writeError(w, r, err)
		return
	}
	q, err := h.quoteRequest(r, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.Quotes.AllRates(r.Context(), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) quoteRequest(r *http.Request, req QuoteRequest) (pricing.QuoteRequest, error) {
	hotel, err := h.hotel(r, req.HotelID)
	if err != nil {
		return pricing.QuoteRequest{}, err
	}
	return pricing.QuoteRequest{
		HotelID:    hotel,
		RoomTypeID: core.RoomTypeID(req.RoomTypeID),
		CheckIn:    req.CheckIn,
		CheckOut:   req.CheckOut,
		Guests:     req.Guests,
		Rooms:      req.Rooms,
		PromoCode:  req.PromoCode,
		PlanID:     core.RatePlanID(req.PlanID),
		BookedAt:   h.Clock.Now(),
	}, nil
}

// =============================================================================
// PLANS AND OVERRIDES
// =============================================================================

// GET /v1/rates/plans
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	hotel, err := h.hotel(r, r.URL.Query().Get("hotelId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	plans, err := h.Rates.ListPlans(r.Context(), hotel)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

// SavePlan creates a rate plan, or replaces it when the body carries an id.
// POST /v1/rates/plans
func (h *Handler) SavePlan(w http.ResponseWriter, r *http.Request) {
	var p core.RatePlan
	if err := h.decode(r, &p); err != nil {
		h.writeError(w, r, err)
		return
	}
	hotel, err := h.hotel(r, string(p.HotelID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p.HotelID = hotel
	if p.ID != "" {
		if existing, err := h.Rates.GetPlan(r.Context(), p.ID); err == nil {
			if err := h.owns(r, existing.HotelID); err != nil {
				h.writeError(w, r, err)
				return
			}
		}
	}
	saved, err := h.Rates.SavePlan(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// GET /v1/rates/overrides?roomTypeId&start&end
func (h *Handler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	hotel, start, end, err := h.rangeQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	overrides, err := h.Rates.ListOverrides(r.Context(), hotel, core.RoomTypeID(r.URL.Query().Get("roomTypeId")), start, end)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overrides)
}

// SaveOverride pins the nightly rate of one date. The caller is recorded
// as approver unless the body names one.
// POST /v1/rates/overrides
func (h *Handler) SaveOverride(w http.ResponseWriter, r *http.Request) {
	var o core.RateOverride
	if err := h.decode(r, &o); err != nil {
		h.writeError(w, r, err)
		return
	}
	hotel, err := h.hotel(r, string(o.HotelID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	o.HotelID = hotel
	if o.ApprovedBy == "" {
		o.ApprovedBy = identityFrom(r.Context()).ActorID
	}
	saved, err := h.Rates.SaveOverride(r.Context(), o)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}
