package core

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/hotel-core/calendar"
)

// =============================================================================
// ROOM TYPES AND ROOMS
// =============================================================================

// LegacyCategory is the coarse category older integrations still send.
type LegacyCategory string

const (
	CategorySingle       LegacyCategory = "single"
	CategoryDouble       LegacyCategory = "double"
	CategorySuite        LegacyCategory = "suite"
	CategoryDeluxe       LegacyCategory = "deluxe"
	CategoryPresidential LegacyCategory = "presidential"
	CategoryFamily       LegacyCategory = "family"
	CategoryAccessible   LegacyCategory = "accessible"
)

var legacyCategories = []LegacyCategory{
	CategorySingle, CategoryDouble, CategorySuite, CategoryDeluxe,
	CategoryPresidential, CategoryFamily, CategoryAccessible,
}

// RoomType identity is immutable; BasePrice is the fallback nightly rate.
type RoomType struct {
	ID             RoomTypeID      `json:"id"`
	HotelID        HotelID         `json:"hotelId"`
	Name           string          `json:"name"`
	Code           string          `json:"code"`
	BasePrice      decimal.Decimal `json:"basePrice"`
	MaxOccupancy   int             `json:"maxOccupancy"`
	LegacyCategory LegacyCategory  `json:"legacyCategory,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

func (rt RoomType) Validate() error {
	switch {
	case rt.ID == "" || rt.HotelID == "":
		return Validationf("room type requires id and hotelId")
	case rt.Name == "":
		return Validationf("room type %s requires a name", rt.ID)
	case rt.BasePrice.IsNegative():
		return Validationf("room type %s basePrice must be >= 0", rt.ID)
	case rt.MaxOccupancy < 1:
		return Validationf("room type %s maxOccupancy must be >= 1", rt.ID)
	}
	if rt.LegacyCategory != "" && !slices.Contains(legacyCategories, rt.LegacyCategory) {
		return Validationf("unknown legacy category %q", rt.LegacyCategory)
	}
	return nil
}

// Room is a physical room; blocks target rooms, not counts.
type Room struct {
	ID         RoomID     `json:"id"`
	HotelID    HotelID    `json:"hotelId"`
	RoomTypeID RoomTypeID `json:"roomTypeId"`
	Number     string     `json:"number"`
	IsActive   bool       `json:"isActive"`
}

// =============================================================================
// AVAILABILITY ROW - One row per (hotel, roomType, date)
// =============================================================================

// Reservation is one booking's claim on a row.
type Reservation struct {
	BookingID     BookingID `json:"bookingId"`
	RoomsReserved int       `json:"roomsReserved"`
	Source        string    `json:"source"`
	ReservedAt    time.Time `json:"reservedAt"`
}

// Block reasons. Any other non-empty string is accepted as a custom reason.
const (
	BlockMaintenance = "maintenance"
	BlockOutOfOrder  = "out_of_order"
)

// RoomBlock takes one specific room out of sale for the row's date.
type RoomBlock struct {
	RoomID    RoomID    `json:"roomId"`
	Reason    string    `json:"reason"`
	Actor     string    `json:"actor"`
	BlockedAt time.Time `json:"blockedAt"`
}

// AvailabilityRow is the inventory ledger entry for one night.
//
// Invariants:
//
//	AvailableRooms = TotalRooms - SoldRooms - BlockedRooms
//	SoldRooms      = Σ Reservations.RoomsReserved
//	BlockedRooms   = len(Blocks)
type AvailabilityRow struct {
	ID             string          `json:"id"`
	HotelID        HotelID         `json:"hotelId"`
	RoomTypeID     RoomTypeID      `json:"roomTypeId"`
	Date           calendar.Date   `json:"date"`
	TotalRooms     int             `json:"totalRooms"`
	SoldRooms      int             `json:"soldRooms"`
	BlockedRooms   int             `json:"blockedRooms"`
	AvailableRooms int             `json:"availableRooms"`
	BaseRate       decimal.Decimal `json:"baseRate"`
	SellingRate    decimal.Decimal `json:"sellingRate"`
	Reservations   []Reservation   `json:"reservations"`
	Blocks         []RoomBlock     `json:"blocks"`
	Version        int64           `json:"version"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Clone deep-copies the nested slices.
func (r AvailabilityRow) Clone() AvailabilityRow {
	r.Reservations = slices.Clone(r.Reservations)
	r.Blocks = slices.Clone(r.Blocks)
	return r
}

// ReservedSum is Σ Reservations.RoomsReserved.
func (r AvailabilityRow) ReservedSum() int {
	sum := 0
	for _, res := range r.Reservations {
		sum += res.RoomsReserved
	}
	return sum
}

// ReservationFor finds the reservation held by a booking.
func (r AvailabilityRow) ReservationFor(id BookingID) (Reservation, bool) {
	for _, res := range r.Reservations {
		if res.BookingID == id {
			return res, true
		}
	}
	return Reservation{}, false
}

// IsBlocked reports whether a room is blocked on this row.
func (r AvailabilityRow) IsBlocked(room RoomID) bool {
	for _, b := range r.Blocks {
		if b.RoomID == room {
			return true
		}
	}
	return false
}

// Recount derives the counters from reservations and blocks.
func (r *AvailabilityRow) Recount() {
	r.SoldRooms = r.ReservedSum()
	r.BlockedRooms = len(r.Blocks)
	r.AvailableRooms = r.TotalRooms - r.SoldRooms - r.BlockedRooms
}

// CheckInvariants returns the first violated ledger invariant.
func (r AvailabilityRow) CheckInvariants() error {
	if r.TotalRooms < 0 || r.SoldRooms < 0 || r.BlockedRooms < 0 {
		return fmt.Errorf("negative counter on %s: total=%d sold=%d blocked=%d",
			r.Date, r.TotalRooms, r.SoldRooms, r.BlockedRooms)
	}
	if r.AvailableRooms != r.TotalRooms-r.SoldRooms-r.BlockedRooms {
		return fmt.Errorf("availableRooms %d != total %d - sold %d - blocked %d on %s",
			r.AvailableRooms, r.TotalRooms, r.SoldRooms, r.BlockedRooms, r.Date)
	}
	if sum := r.ReservedSum(); r.SoldRooms != sum {
		return fmt.Errorf("soldRooms %d != reserved %d on %s", r.SoldRooms, sum, r.Date)
	}
	if r.AvailableRooms < 0 {
		return fmt.Errorf("overbooked on %s: availableRooms=%d", r.Date, r.AvailableRooms)
	}
	return nil
}
