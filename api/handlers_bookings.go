package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/hotel-core/booking"
	"github.com/warp/hotel-core/core"
)

// CreateBooking reserves, prices and (for corporate bookings) debits credit
// in one unit of work. Any failure leaves both ledgers untouched.
// POST /v1/bookings
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	hotel, err := h.hotel(r, req.HotelID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	source := req.Source
	if source == "" {
		source = "direct"
		if req.CompanyID != "" {
			source = "corporate"
		}
	}

	res, err := h.Bookings.Book(r.Context(), booking.Request{
		BookingID:  core.BookingID(req.BookingID),
		HotelID:    hotel,
		RoomTypeID: core.RoomTypeID(req.RoomTypeID),
		CheckIn:    req.CheckIn,
		CheckOut:   req.CheckOut,
		Rooms:      req.Rooms,
		Guests:     req.Guests,
		CompanyID:  core.CompanyID(req.CompanyID),
		Source:     source,
		Actor:      identityFrom(r.Context()).ActorID,
		PromoCode:  req.PromoCode,
		PlanID:     core.RatePlanID(req.PlanID),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// loadBooking fetches the booking named in the path and checks its hotel.
func (h *Handler) loadBooking(r *http.Request) (core.BookingRef, error) {
	ref, err := h.Bookings.Get(r.Context(), core.BookingID(chi.URLParam(r, "id")))
	if err != nil {
		return core.BookingRef{}, err
	}
	return ref, h.owns(r, ref.HotelID)
}

// GET /v1/bookings/{id}
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	ref, err := h.loadBooking(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

// CancelBooking releases the rooms and refunds corporate credit.
// POST /v1/bookings/{id}/cancel
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	ref, err := h.loadBooking(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req CancelBookingRequest
	if r.ContentLength != 0 {
		if err := h.decode(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	res, err := h.Bookings.Cancel(r.Context(), booking.CancelRequest{
		BookingID:    ref.ID,
		Actor:        identityFrom(r.Context()).ActorID,
		Reason:       req.Reason,
		RefundAmount: req.RefundAmount,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ModifyBooking moves the booking to new dates, room type or room count,
// re-pricing it and posting the credit difference.
// POST /v1/bookings/{id}/modify
func (h *Handler) ModifyBooking(w http.ResponseWriter, r *http.Request) {
	ref, err := h.loadBooking(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req ModifyBookingRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.Bookings.Modify(r.Context(), booking.ModifyRequest{
		BookingID:  ref.ID,
		RoomTypeID: core.RoomTypeID(req.RoomTypeID),
		CheckIn:    req.CheckIn,
		CheckOut:   req.CheckOut,
		Rooms:      req.Rooms,
		Guests:     req.Guests,
		PromoCode:  req.PromoCode,
		Actor:      identityFrom(r.Context()).ActorID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PATCH /v1/bookings/{id}/status
func (h *Handler) UpdateBookingStatus(w http.ResponseWriter, r *http.Request) {
	ref, err := h.loadBooking(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req BookingStatusRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	updated, err := h.Bookings.UpdateStatus(r.Context(), ref.ID, core.BookingStatus(req.Status), identityFrom(r.Context()).ActorID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
