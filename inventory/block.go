package inventory

import (
	"context"
	"fmt"
	"slices"

	"github.com/warp/hotel-core/calendar"
	"github.com/warp/hotel-core/core"
)

// =============================================================================
// ROOM BLOCKS - Blackouts on specific rooms
// =============================================================================

// BlockRequest takes RoomIDs out of sale for the nights [Start, End).
type BlockRequest struct {
	HotelID core.HotelID
	RoomIDs []core.RoomID
	Start   calendar.Date
	End     calendar.Date
	Reason  string
	Actor   string
}

type BlockResult struct {
	// RoomNights counts (room, date) pairs whose state changed.
	RoomNights int             `json:"roomNights"`
	Dates      []calendar.Date `json:"dates"`
}

func (r BlockRequest) validate() error {
	switch {
	case r.HotelID == "":
		return core.Validationf("hotelId is required")
	case len(r.RoomIDs) == 0:
		return core.Validationf("at least one room is required")
	case !r.End.After(r.Start):
		return core.Validationf("end %s must be after start %s", r.End, r.Start)
	}
	return nil
}

// Block is idempotent per room: a room already blocked on a date is left
// as is. A date whose row has no free room for a new block fails the whole
// request with InsufficientInventory.
func (l *Ledger) Block(ctx context.Context, req BlockRequest) (BlockResult, error) {
	if err := req.validate(); err != nil {
		return BlockResult{}, err
	}
	if req.Reason == "" {
		req.Reason = core.BlockMaintenance
	}
	groups, err := l.roomsByType(ctx, req.HotelID, req.RoomIDs)
	if err != nil {
		return BlockResult{}, err
	}
	nights := calendar.NightsBetween(req.Start, req.End)

	var res BlockResult
	err = l.inTx(ctx, "block", func(s core.Store) error {
		res = BlockResult{Dates: nights}
		now := l.Clock.Now()
		for rt, rooms := range groups {
			for _, d := range nights {
				row, err := s.Availability().GetRow(ctx, req.HotelID, rt, d)
				if core.IsNotFound(err) {
					return core.Errorf(core.KindNoInventoryDefined, "no availability data for %s on %s", rt, d).
						With("dates", []calendar.Date{d}).With("roomTypeId", rt)
				}
				if err != nil {
					return fmt.Errorf("loading row %s: %w", d, err)
				}
				changed := false
				for _, room := range rooms {
					if row.IsBlocked(room) {
						continue
					}
					if row.AvailableRooms < 1 {
						return core.Errorf(core.KindInsufficientInventory, "no free %s room to block on %s", rt, d).
							With("dates", []calendar.Date{d}).With("roomId", room)
					}
					row.Blocks = append(row.Blocks, core.RoomBlock{
						RoomID: room, Reason: req.Reason, Actor: req.Actor, BlockedAt: now,
					})
					row.Recount()
					changed = true
					res.RoomNights++
				}
				if !changed {
					continue
				}
				row.UpdatedAt = now
				if err := s.Availability().UpdateRow(ctx, row); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return BlockResult{}, err
	}
	for rt := range groups {
		l.Notify(req.HotelID, rt, nights)
	}
	l.Log.Info().Str("hotel", string(req.HotelID)).Str("reason", req.Reason).Str("actor", req.Actor).
		Int("room_nights", res.RoomNights).Msg("rooms blocked")
	return res, nil
}

// Unblock reverses Block. Rooms without a block and missing rows are skipped.
func (l *Ledger) Unblock(ctx context.Context, req BlockRequest) (BlockResult, error) {
	if err := req.validate(); err != nil {
		return BlockResult{}, err
	}
	groups, err := l.roomsByType(ctx, req.HotelID, req.RoomIDs)
	if err != nil {
		return BlockResult{}, err
	}
	nights := calendar.NightsBetween(req.Start, req.End)

	var res BlockResult
	err = l.inTx(ctx, "unblock", func(s core.Store) error {
		res = BlockResult{Dates: nights}
		now := l.Clock.Now()
		for rt, rooms := range groups {
			for _, d := range nights {
				row, err := s.Availability().GetRow(ctx, req.HotelID, rt, d)
				if core.IsNotFound(err) {
					continue
				}
				if err != nil {
					return fmt.Errorf("loading row %s: %w", d, err)
				}
				before := len(row.Blocks)
				row.Blocks = slices.DeleteFunc(row.Blocks, func(b core.RoomBlock) bool {
					return slices.Contains(rooms, b.RoomID)
				})
				if len(row.Blocks) == before {
					continue
				}
				if len(row.Blocks) == 0 {
					row.Blocks = nil
				}
				res.RoomNights += before - len(row.Blocks)
				row.Recount()
				row.UpdatedAt = now
				if err := s.Availability().UpdateRow(ctx, row); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return BlockResult{}, err
	}
	for rt := range groups {
		l.Notify(req.HotelID, rt, nights)
	}
	return res, nil
}

func (l *Ledger) roomsByType(ctx context.Context, hotel core.HotelID, ids []core.RoomID) (map[core.RoomTypeID][]core.RoomID, error) {
	groups := make(map[core.RoomTypeID][]core.RoomID)
	for _, id := range ids {
		room, err := l.Store.Rooms().GetRoom(ctx, id)
		if err != nil {
			return nil, err
		}
		if room.HotelID != hotel {
			return nil, core.Validationf("room %s does not belong to hotel %s", id, hotel)
		}
		if !slices.Contains(groups[room.RoomTypeID], id) {
			groups[room.RoomTypeID] = append(groups[room.RoomTypeID], id)
		}
	}
	return groups, nil
}
