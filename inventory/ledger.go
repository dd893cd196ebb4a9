/*
ledger.go - Availability ledger over per-night inventory rows

PURPOSE:
  Owns the AvailabilityRow collection: one row per (hotel, roomType, date)
  counting total, sold and blocked rooms. Every mutation goes through this
  package so the counters and the reservation list never drift apart.

CRITICAL INVARIANTS:
  1. availableRooms = totalRooms - soldRooms - blockedRooms, all >= 0
  2. soldRooms = Σ reservations.roomsReserved
  3. A reservation never drives availableRooms below zero
  4. Reserve is all-or-nothing across the nights of a stay

CONCURRENCY:
  Rows carry a version. Reserve, Release, Block and Unblock run inside
  Store.WithTx and are rerun by core.Retry when a version check is lost.
  The *In variants take a transaction-scoped Store so the booking
  coordinator can combine them with a credit debit in one unit of work.

NIGHTS:
  A stay [checkIn, checkOut) touches the rows of calendar.NightsBetween;
  the checkout date is never reserved.

SEE ALSO:
  - reserve.go: Check, Reserve, Release
  - block.go: Room blocks
  - report.go: Occupancy, summary, overbooking detection
*/
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/hotel-core/calendar"
	"github.com/warp/hotel-core/core"
	"github.com/warp/hotel-core/observability"
)

// ChangeFunc observes committed row changes; used to invalidate rate caches.
type ChangeFunc func(hotel core.HotelID, roomType core.RoomTypeID, dates []calendar.Date)

// BlackoutSource reports dates on which a special period forbids inventory.
type BlackoutSource interface {
	BlackoutOn(ctx context.Context, hotel core.HotelID, roomType core.RoomTypeID, date calendar.Date) (name string, blocked bool, err error)
}

type Ledger struct {
	Store    core.TxStore
	Clock    core.Clock
	Retry    core.RetryPolicy
	Log      zerolog.Logger
	Blackout BlackoutSource

	onChange []ChangeFunc
}

func NewLedger(store core.TxStore) *Ledger {
	return &Ledger{
		Store: store,
		Clock: core.SystemClock{},
		Retry: core.DefaultRetryPolicy,
		Log:   zerolog.Nop(),
	}
}

// OnChange registers fn to run after every committed row change.
func (l *Ledger) OnChange(fn ChangeFunc) {
	l.onChange = append(l.onChange, fn)
}

// Notify runs the change hooks. Callers composing *In operations into their
// own unit of work call it after commit.
func (l *Ledger) Notify(hotel core.HotelID, roomType core.RoomTypeID, dates []calendar.Date) {
	for _, fn := range l.onChange {
		fn(hotel, roomType, dates)
	}
}

// inTx runs fn in a retried unit of work.
func (l *Ledger) inTx(ctx context.Context, op string, fn func(s core.Store) error) error {
	policy := l.Retry
	policy.OnRetry = func(attempt int, err error) {
		observability.ObserveRetry("inventory")
		l.Log.Debug().Str("op", op).Int("attempt", attempt).Err(err).Msg("retrying after version conflict")
	}
	return core.Retry(ctx, policy, func(ctx context.Context) error {
		return l.Store.WithTx(ctx, fn)
	})
}

// =============================================================================
// ROOM TYPES AND ROOMS
// =============================================================================

func (l *Ledger) SaveRoomType(ctx context.Context, rt core.RoomType) (core.RoomType, error) {
	if err := rt.Validate(); err != nil {
		return core.RoomType{}, err
	}
	now := l.Clock.Now()
	existing, err := l.Store.Rooms().GetRoomType(ctx, rt.HotelID, rt.ID)
	switch {
	case err == nil:
		if existing.Code != "" && rt.Code != existing.Code {
			return core.RoomType{}, core.Validationf("room type %s code is immutable", rt.ID)
		}
		rt.CreatedAt = existing.CreatedAt
	case core.IsNotFound(err):
		rt.CreatedAt = now
	default:
		return core.RoomType{}, fmt.Errorf("loading room type: %w", err)
	}
	rt.UpdatedAt = now
	if err := l.Store.Rooms().SaveRoomType(ctx, rt); err != nil {
		return core.RoomType{}, fmt.Errorf("saving room type: %w", err)
	}
	return rt, nil
}

func (l *Ledger) GetRoomType(ctx context.Context, hotel core.HotelID, id core.RoomTypeID) (core.RoomType, error) {
	return l.Store.Rooms().GetRoomType(ctx, hotel, id)
}

func (l *Ledger) ListRoomTypes(ctx context.Context, hotel core.HotelID) ([]core.RoomType, error) {
	return l.Store.Rooms().ListRoomTypes(ctx, hotel)
}

// SaveRoom registers a physical room under an existing room type.
func (l *Ledger) SaveRoom(ctx context.Context, room core.Room) (core.Room, error) {
	if room.ID == "" || room.HotelID == "" || room.RoomTypeID == "" {
		return core.Room{}, core.Validationf("room requires id, hotelId and roomTypeId")
	}
	if _, err := l.Store.Rooms().GetRoomType(ctx, room.HotelID, room.RoomTypeID); err != nil {
		return core.Room{}, err
	}
	if err := l.Store.Rooms().SaveRoom(ctx, room); err != nil {
		return core.Room{}, fmt.Errorf("saving room: %w", err)
	}
	return room, nil
}

func (l *Ledger) ListRooms(ctx context.Context, hotel core.HotelID, roomType core.RoomTypeID) ([]core.Room, error) {
	return l.Store.Rooms().ListRooms(ctx, hotel, roomType)
}

// =============================================================================
// OPENING INVENTORY
// =============================================================================

// OpenRequest creates or resizes rows for every date in [Start, End].
// Zero rates default to the room type's base price.
type OpenRequest struct {
	HotelID     core.HotelID
	RoomTypeID  core.RoomTypeID
	Start       calendar.Date
	End         calendar.Date
	TotalRooms  int
	BaseRate    decimal.Decimal
	SellingRate decimal.Decimal
}

type OpenResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// OpenInventory is the only way rows come into existence. Resizing an
// existing row keeps its reservations and blocks and refuses a total that
// would leave the row overbooked.
func (l *Ledger) OpenInventory(ctx context.Context, req OpenRequest) (OpenResult, error) {
	if req.TotalRooms < 0 {
		return OpenResult{}, core.Validationf("totalRooms must be >= 0")
	}
	if req.End.Before(req.Start) || req.Start.IsZero() {
		return OpenResult{}, core.Validationf("invalid inventory range %s..%s", req.Start, req.End)
	}
	rt, err := l.Store.Rooms().GetRoomType(ctx, req.HotelID, req.RoomTypeID)
	if err != nil {
		return OpenResult{}, err
	}
	base := req.BaseRate
	if base.IsZero() {
		base = rt.BasePrice
	}
	selling := req.SellingRate
	if selling.IsZero() {
		selling = base
	}
	if base.IsNegative() || selling.IsNegative() {
		return OpenResult{}, core.Validationf("rates must be >= 0")
	}

	dates := calendar.NewRange(req.Start, req.End).Days()
	var res OpenResult
	err = l.inTx(ctx, "open", func(s core.Store) error {
		res = OpenResult{}
		now := l.Clock.Now()
		for _, d := range dates {
			row, err := s.Availability().GetRow(ctx, req.HotelID, req.RoomTypeID, d)
			if core.IsNotFound(err) {
				row = core.AvailabilityRow{
					ID:          core.NewID("avl"),
					HotelID:     req.HotelID,
					RoomTypeID:  req.RoomTypeID,
					Date:        d,
					TotalRooms:  req.TotalRooms,
					BaseRate:    base,
					SellingRate: selling,
					UpdatedAt:   now,
				}
				row.Recount()
				if err := s.Availability().InsertRow(ctx, row); err != nil {
					if errors.Is(err, core.ErrDuplicate) {
						return core.ErrConcurrentModification
					}
					return fmt.Errorf("inserting row %s: %w", d, err)
				}
				res.Created++
				continue
			}
			if err != nil {
				return fmt.Errorf("loading row %s: %w", d, err)
			}
			row.TotalRooms = req.TotalRooms
			row.BaseRate = base
			row.SellingRate = selling
			row.UpdatedAt = now
			row.Recount()
			if row.AvailableRooms < 0 {
				return core.Validationf("totalRooms %d is below sold+blocked on %s", req.TotalRooms, d).
					With("date", d).With("sold", row.SoldRooms).With("blocked", row.BlockedRooms)
			}
			if err := s.Availability().UpdateRow(ctx, row); err != nil {
				return err
			}
			res.Updated++
		}
		return nil
	})
	if err != nil {
		return OpenResult{}, err
	}
	l.Notify(req.HotelID, req.RoomTypeID, dates)
	return res, nil
}

// Rows returns the stored rows for a room type over [from, to].
func (l *Ledger) Rows(ctx context.Context, hotel core.HotelID, roomType core.RoomTypeID, from, to calendar.Date) ([]core.AvailabilityRow, error) {
	return l.Store.Availability().ListRows(ctx, core.RowFilter{HotelID: hotel, RoomTypeID: roomType, From: from, To: to})
}
