package core

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/hotel-core/calendar"
)

// =============================================================================
// BOOKING REFERENCE - What the core knows about an externally owned booking
// =============================================================================

type BookingStatus string

const (
	BookingPending    BookingStatus = "pending"
	BookingConfirmed  BookingStatus = "confirmed"
	BookingCheckedIn  BookingStatus = "checked_in"
	BookingCheckedOut BookingStatus = "checked_out"
	BookingCancelled  BookingStatus = "cancelled"
	BookingNoShow     BookingStatus = "no_show"
)

// OpenBookingStatuses block company deactivation.
var OpenBookingStatuses = []BookingStatus{BookingConfirmed, BookingCheckedIn}

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:   {BookingConfirmed, BookingCancelled},
	BookingConfirmed: {BookingCheckedIn, BookingCancelled, BookingNoShow},
	BookingCheckedIn: {BookingCheckedOut},
}

// CanMoveBooking reports whether the owning subsystem may report from → to.
func CanMoveBooking(from, to BookingStatus) bool {
	return slices.Contains(bookingTransitions[from], to)
}

// BookingRef is the coordinator's weak reference to a booking. It never
// owns the booking's lifetime; it keeps what cancellation and modification
// need to reverse the ledgers.
type BookingRef struct {
	ID                  BookingID       `json:"id"`
	HotelID             HotelID         `json:"hotelId"`
	RoomTypeID          RoomTypeID      `json:"roomTypeId"`
	CheckIn             calendar.Date   `json:"checkIn"`
	CheckOut            calendar.Date   `json:"checkOut"`
	Rooms               int             `json:"rooms"`
	Guests              int             `json:"guests"`
	CompanyID           CompanyID       `json:"companyId,omitempty"`
	Source              string          `json:"source"`
	Status              BookingStatus   `json:"status"`
	PlanID              RatePlanID      `json:"planId,omitempty"`
	PlanName            string          `json:"planName"`
	TotalAmount         decimal.Decimal `json:"totalAmount"`
	CreditTransactionID TransactionID   `json:"creditTransactionId,omitempty"`
	CreatedBy           string          `json:"createdBy"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}
