package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/hotel-core/calendar"
	"github.com/warp/hotel-core/core"
	"github.com/warp/hotel-core/inventory"
)

// =============================================================================
// AVAILABILITY
// =============================================================================

// CheckAvailability answers whether qty rooms are free for the stay.
// GET /v1/availability?hotelId&roomTypeId&checkIn&checkOut&qty
func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	hotel, err := h.hotel(r, r.URL.Query().Get("hotelId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
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
	qty, err := queryInt(r, "qty", 1)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.Inventory.Check(r.Context(), inventory.CheckRequest{
		HotelID:    hotel,
		RoomTypeID: core.RoomTypeID(r.URL.Query().Get("roomTypeId")),
		CheckIn:    checkIn,
		CheckOut:   checkOut,
		Qty:        qty,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// OpenInventory creates or resizes rows for a date range.
// POST /v1/availability/open
func (h *Handler) OpenInventory(w http.ResponseWriter, r *http.Request) {
	var req OpenInventoryRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	hotel, err := h.hotel(r, req.HotelID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.Inventory.OpenInventory(r.Context(), inventory.OpenRequest{
		HotelID:     hotel,
		RoomTypeID:  core.RoomTypeID(req.RoomTypeID),
		Start:       req.Start,
		End:         req.End,
		TotalRooms:  req.TotalRooms,
		BaseRate:    req.BaseRate,
		SellingRate: req.SellingRate,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// BlockRooms takes rooms out of sale.
// POST /v1/availability/block
func (h *Handler) BlockRooms(w http.ResponseWriter, r *http.Request) {
	h.blockOrUnblock(w, r, h.Inventory.Block)
}

// UnblockRooms returns blocked rooms to sale.
// POST /v1/availability/unblock
func (h *Handler) UnblockRooms(w http.ResponseWriter, r *http.Request) {
	h.blockOrUnblock(w, r, h.Inventory.Unblock)
}

func (h *Handler) blockOrUnblock(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, req inventory.BlockRequest) (inventory.BlockResult, error)) {
	var req BlockRoomsRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	hotel, err := h.hotel(r, req.HotelID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rooms := make([]core.RoomID, len(req.RoomIDs))
	for i, id := range req.RoomIDs {
		rooms[i] = core.RoomID(id)
	}

	res, err := op(r.Context(), inventory.BlockRequest{
		HotelID: hotel,
		RoomIDs: rooms,
		Start:   req.Start,
		End:     req.End,
		Reason:  req.Reason,
		Actor:   identityFrom(r.Context()).ActorID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// rangeQuery reads hotelId, start and end. Both dates are required.
func (h *Handler) rangeQuery(r *http.Request) (core.HotelID, calendar.Date, calendar.Date, error) {
	hotel, err := h.hotel(r, r.URL.Query().Get("hotelId"))
	if err != nil {
		return "", calendar.Date{}, calendar.Date{}, err
	}
	start, err := queryDate(r, "start")
	if err != nil {
		return "", calendar.Date{}, calendar.Date{}, err
	}
	end, err := queryDate(r, "end")
	if err != nil {
		return "", calendar.Date{}, calendar.Date{}, err
	}
	if start.IsZero() || end.IsZero() {
		return "", calendar.Date{}, calendar.Date{}, core.Validationf("start and end are required")
	}
	return hotel, start, end, nil
}

// Occupancy reports daily occupancy, optionally for one room type.
// GET /v1/availability/occupancy?start&end[&roomTypeId]
func (h *Handler) Occupancy(w http.ResponseWriter, r *http.Request) {
	hotel, start, end, err := h.rangeQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var report inventory.OccupancyReport
	if rt := r.URL.Query().Get("roomTypeId"); rt != "" {
		report, err = h.Inventory.RoomTypeOccupancy(r.Context(), hotel, core.RoomTypeID(rt), start, end)
	} else {
		report, err = h.Inventory.Occupancy(r.Context(), hotel, start, end)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// InventorySummary reports ADR, RevPAR and room nights per room type.
// GET /v1/availability/summary?start&end
func (h *Handler) InventorySummary(w http.ResponseWriter, r *http.Request) {
	hotel, start, end, err := h.rangeQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	summary, err := h.Inventory.Summary(r.Context(), hotel, start, end)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// DetectOverbooking lists rows whose counters disagree.
// GET /v1/availability/overbooking[?date&roomTypeId]
func (h *Handler) DetectOverbooking(w http.ResponseWriter, r *http.Request) {
	hotel, err := h.hotel(r, r.URL.Query().Get("hotelId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	date, err := queryDate(r, "date")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	findings, err := h.Inventory.DetectOverbooking(r.Context(), hotel, date, core.RoomTypeID(r.URL.Query().Get("roomTypeId")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, findings)
}

// =============================================================================
// ROOM REGISTRY
// =============================================================================

// GET /v1/room-types
func (h *Handler) ListRoomTypes(w http.ResponseWriter, r *http.Request) {
	hotel, err := h.hotel(r, r.URL.Query().Get("hotelId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	types, err := h.Inventory.ListRoomTypes(r.Context(), hotel)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types)
}

// POST /v1/room-types
func (h *Handler) SaveRoomType(w http.ResponseWriter, r *http.Request) {
	var req RoomTypeRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	hotel, err := h.hotel(r, req.HotelID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rt, err := h.Inventory.SaveRoomType(r.Context(), core.RoomType{
		ID:             core.RoomTypeID(req.ID),
		HotelID:        hotel,
		Name:           req.Name,
		Code:           req.Code,
		BasePrice:      req.BasePrice,
		MaxOccupancy:   req.MaxOccupancy,
		LegacyCategory: core.LegacyCategory(req.LegacyCategory),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rt)
}

// GET /v1/rooms[?roomTypeId]
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	hotel, err := h.hotel(r, r.URL.Query().Get("hotelId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rooms, err := h.Inventory.ListRooms(r.Context(), hotel, core.RoomTypeID(r.URL.Query().Get("roomTypeId")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

// POST /v1/rooms
func (h *Handler) SaveRoom(w http.ResponseWriter, r *http.Request) {
	var req RoomRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	hotel, err := h.hotel(r, req.HotelID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	room, err := h.Inventory.SaveRoom(r.Context(), core.Room{
		ID:         core.RoomID(req.ID),
		HotelID:    hotel,
		RoomTypeID: core.RoomTypeID(req.RoomTypeID),
		Number:     req.Number,
		IsActive:   true,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

// =============================================================================
// SEASONS AND SPECIAL PERIODS
// =============================================================================

// GET /v1/seasons
func (h *Handler) ListSeasons(w http.ResponseWriter, r *http.Request) {
	hotel, err := h.hotel(r, r.URL.Query().Get("hotelId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	seasons, err := h.Seasons.ListSeasons(r.Context(), hotel)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, seasons)
}

// SaveSeason creates a season, or replaces it when the body carries an id.
// POST /v1/seasons
func (h *Handler) SaveSeason(w http.ResponseWriter, r *http.Request) {
	var s core.Season
	if err := h.decode(r, &s); err != nil {
		h.writeError(w, r, err)
		return
	}
	hotel, err := h.hotel(r, string(s.HotelID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	s.HotelID = hotel
	if s.ID != "" {
		if existing, err := h.Seasons.GetSeason(r.Context(), s.ID); err == nil {
			if err := h.owns(r, existing.HotelID); err != nil {
				h.writeError(w, r, err)
				return
			}
		}
	}
	saved, err := h.Seasons.SaveSeason(r.Context(), s)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// DELETE /v1/seasons/{id}
func (h *Handler) DeleteSeason(w http.ResponseWriter, r *http.Request) {
	id := core.SeasonID(chi.URLParam(r, "id"))
	s, err := h.Seasons.GetSeason(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.owns(r, s.HotelID); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Seasons.DeleteSeason(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /v1/special-periods
func (h *Handler) ListSpecialPeriods(w http.ResponseWriter, r *http.Request) {
	hotel, err := h.hotel(r, r.URL.Query().Get("hotelId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	periods, err := h.Seasons.ListSpecialPeriods(r.Context(), hotel)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, periods)
}

// POST /v1/special-periods
func (h *Handler) SaveSpecialPeriod(w http.ResponseWriter, r *http.Request) {
	var p core.SpecialPeriod
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
		if existing, err := h.Seasons.GetSpecialPeriod(r.Context(), p.ID); err == nil {
			if err := h.owns(r, existing.HotelID); err != nil {
				h.writeError(w, r, err)
				return
			}
		}
	}
	saved, err := h.Seasons.SaveSpecialPeriod(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// DELETE /v1/special-periods/{id}
func (h *Handler) DeleteSpecialPeriod(w http.ResponseWriter, r *http.Request) {
	id := core.SeasonID(chi.URLParam(r, "id"))
	p, err := h.Seasons.GetSpecialPeriod(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.owns(r, p.HotelID); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Seasons.DeleteSpecialPeriod(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
