package inventory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hotel-core/calendar"
	"github.com/warp/hotel-core/core"
	"github.com/warp/hotel-core/inventory"
	"github.com/warp/hotel-core/store/memory"
)

const (
	hotel = core.HotelID("H1")
	dbl   = core.RoomTypeID("RT-DBL")
)

var (
	jan10 = calendar.MustParse("2025-01-10")
	jan11 = calendar.MustParse("2025-01-11")
	jan12 = calendar.MustParse("2025-01-12")
)

// newLedger opens RT-DBL for 2025-01-10..2025-01-11 with the given capacity.
func newLedger(t *testing.T, total int) (*inventory.Ledger, *memory.Store) {
	t.Helper()
	store := memory.New()
	l := inventory.NewLedger(store)
	l.Clock = core.FixedClock{At: time.Date(2024, 11, 26, 9, 0, 0, 0, time.UTC)}
	l.Retry = core.RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond}
	ctx := context.Background()

	_, err := l.SaveRoomType(ctx, core.RoomType{
		ID: dbl, HotelID: hotel, Name: "Double", Code: "DBL",
		BasePrice: decimal.NewFromInt(1000), MaxOccupancy: 2,
	})
	require.NoError(t, err)
	_, err = l.OpenInventory(ctx, inventory.OpenRequest{
		HotelID: hotel, RoomTypeID: dbl, Start: jan10, End: jan11, TotalRooms: total,
	})
	require.NoError(t, err)
	return l, store
}

func reserveReq(booking core.BookingID, qty int) inventory.ReserveRequest {
	return inventory.ReserveRequest{
		HotelID: hotel, RoomTypeID: dbl, CheckIn: jan10, CheckOut: jan12,
		Qty: qty, BookingID: booking, Source: "direct",
	}
}

func requireRowsConsistent(t *testing.T, l *inventory.Ledger) {
	t.Helper()
	rows, err := l.Rows(context.Background(), hotel, dbl, jan10, jan11)
	require.NoError(t, err)
	for _, row := range rows {
		require.NoError(t, row.CheckInvariants())
	}
}

// =============================================================================
// CHECK
// =============================================================================

func TestCheck_BasicAvailability(t *testing.T) {
	// GIVEN: Two rooms on both nights
	l, _ := newLedger(t, 2)

	// WHEN: Checking one room
	res, err := l.Check(context.Background(), inventory.CheckRequest{
		HotelID: hotel, RoomTypeID: dbl, CheckIn: jan10, CheckOut: jan12, Qty: 1,
	})

	// THEN: Both nights are available at the base rate
	require.NoError(t, err)
	assert.True(t, res.Available)
	assert.Equal(t, 2, res.RoomsAvailable)
	assert.Equal(t, 2, res.Nights)
	assert.Len(t, res.DailyBreakdown, 2)
	assert.True(t, res.TotalAmount.Equal(decimal.NewFromInt(2000)))
	assert.True(t, res.AverageRate.Equal(decimal.NewFromInt(1000)))
}

func TestCheck_MissingRowIsNoData(t *testing.T) {
	l, _ := newLedger(t, 2)

	res, err := l.Check(context.Background(), inventory.CheckRequest{
		HotelID: hotel, RoomTypeID: dbl, CheckIn: jan11, CheckOut: jan12.AddDays(1), Qty: 1,
	})

	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.Equal(t, inventory.ReasonNoData, res.Reason)
	assert.Equal(t, 0, res.RoomsAvailable)
}

func TestCheck_LegacyNegativeNightBoundsRoomsAvailable(t *testing.T) {
	// GIVEN: The first night was overbooked by legacy data, the second has rooms
	l, store := newLedger(t, 2)
	ctx := context.Background()
	row, err := store.Availability().GetRow(ctx, hotel, dbl, jan10)
	require.NoError(t, err)
	row.SoldRooms = 3
	row.AvailableRooms = -1
	require.NoError(t, store.Availability().UpdateRow(ctx, row))

	// WHEN
	res, err := l.Check(ctx, inventory.CheckRequest{
		HotelID: hotel, RoomTypeID: dbl, CheckIn: jan10, CheckOut: jan12, Qty: 1,
	})

	// THEN: The overbooked night caps the stay at zero rooms
	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.Equal(t, 0, res.RoomsAvailable)
	assert.Equal(t, -1, res.DailyBreakdown[0].AvailableRooms)
	assert.Equal(t, 2, res.DailyBreakdown[1].AvailableRooms)
}

func TestCheck_RejectsBadStay(t *testing.T) {
	l, _ := newLedger(t, 2)

	_, err := l.Check(context.Background(), inventory.CheckRequest{
		HotelID: hotel, RoomTypeID: dbl, CheckIn: jan11, CheckOut: jan11, Qty: 1,
	})
	assert.ErrorIs(t, err, core.ErrValidation)
}

type blackoutStub struct{ on calendar.Date }

func (b blackoutStub) BlackoutOn(_ context.Context, _ core.HotelID, _ core.RoomTypeID, d calendar.Date) (string, bool, error) {
	return "Gala", d == b.on, nil
}

func TestCheck_BlackoutSuppressesAvailability(t *testing.T) {
	l, _ := newLedger(t, 2)
	l.Blackout = blackoutStub{on: jan11}

	res, err := l.Check(context.Background(), inventory.CheckRequest{
		HotelID: hotel, RoomTypeID: dbl, CheckIn: jan10, CheckOut: jan12, Qty: 1,
	})

	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.Equal(t, "blocked by Gala", res.Reason)
}

// =============================================================================
// RESERVE / RELEASE
// =============================================================================

func TestReserve_UpdatesCountersOnEveryNight(t *testing.T) {
	l, _ := newLedger(t, 2)
	ctx := context.Background()

	res, err := l.Reserve(ctx, reserveReq("B1", 1))
	require.NoError(t, err)
	assert.Equal(t, []calendar.Date{jan10, jan11}, res.Nights)

	rows, err := l.Rows(ctx, hotel, dbl, jan10, jan11)
	require.NoError(t, err)
	for _, row := range rows {
		assert.Equal(t, 1, row.SoldRooms)
		assert.Equal(t, 1, row.AvailableRooms)
		require.Len(t, row.Reservations, 1)
		assert.Equal(t, core.BookingID("B1"), row.Reservations[0].BookingID)
	}
	requireRowsConsistent(t, l)
}

func TestReserve_AllOrNothing(t *testing.T) {
	// GIVEN: The second night is already full
	l, _ := newLedger(t, 1)
	ctx := context.Background()
	_, err := l.Reserve(ctx, inventory.ReserveRequest{
		HotelID: hotel, RoomTypeID: dbl, CheckIn: jan11, CheckOut: jan12, Qty: 1, BookingID: "B0",
	})
	require.NoError(t, err)

	// WHEN: Reserving both nights
	_, err = l.Reserve(ctx, reserveReq("B1", 1))

	// THEN: Nothing changes on the first night
	assert.ErrorIs(t, err, core.ErrInsufficientInventory)
	assert.Equal(t, []calendar.Date{jan11}, core.DetailsOf(err)["dates"])
	row, err := l.Store.Availability().GetRow(ctx, hotel, dbl, jan10)
	require.NoError(t, err)
	assert.Equal(t, 0, row.SoldRooms)
	assert.Empty(t, row.Reservations)
}

func TestReserve_MissingRowsAreNoInventoryDefined(t *testing.T) {
	l, _ := newLedger(t, 2)

	req := reserveReq("B1", 1)
	req.CheckOut = jan12.AddDays(1)
	_, err := l.Reserve(context.Background(), req)

	assert.ErrorIs(t, err, core.ErrNoInventoryDefined)
	assert.Equal(t, []calendar.Date{jan12}, core.DetailsOf(err)["dates"])
}

func TestReserve_DuplicateBookingIsValidation(t *testing.T) {
	l, _ := newLedger(t, 3)
	ctx := context.Background()
	_, err := l.Reserve(ctx, reserveReq("B1", 1))
	require.NoError(t, err)

	_, err = l.Reserve(ctx, reserveReq("B1", 1))
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestReserveRelease_RoundTrip(t *testing.T) {
	// GIVEN: A snapshot of the rows
	l, _ := newLedger(t, 2)
	ctx := context.Background()
	before, err := l.Rows(ctx, hotel, dbl, jan10, jan11)
	require.NoError(t, err)

	// WHEN: Reserving then releasing
	_, err = l.Reserve(ctx, reserveReq("B1", 2))
	require.NoError(t, err)
	rel, err := l.Release(ctx, inventory.ReleaseRequest{HotelID: hotel, RoomTypeID: dbl, CheckIn: jan10, CheckOut: jan12, BookingID: "B1"})
	require.NoError(t, err)

	// THEN: The ledger state equals the snapshot apart from audit fields
	assert.Equal(t, 2, rel.ReleasedRooms)
	after, err := l.Rows(ctx, hotel, dbl, jan10, jan11)
	require.NoError(t, err)
	for i := range before {
		b, a := before[i], after[i]
		b.Version, a.Version = 0, 0
		b.UpdatedAt, a.UpdatedAt = time.Time{}, time.Time{}
		assert.Equal(t, b, a)
	}
}

func TestRelease_Idempotent(t *testing.T) {
	l, _ := newLedger(t, 2)
	ctx := context.Background()
	_, err := l.Reserve(ctx, reserveReq("B1", 1))
	require.NoError(t, err)
	_, err = l.Reserve(ctx, reserveReq("B2", 1))
	require.NoError(t, err)

	req := inventory.ReleaseRequest{HotelID: hotel, BookingID: "B1"}
	first, err := l.Release(ctx, req)
	require.NoError(t, err)
	afterOnce, err := l.Rows(ctx, hotel, dbl, jan10, jan11)
	require.NoError(t, err)

	second, err := l.Release(ctx, req)
	require.NoError(t, err)
	afterTwice, err := l.Rows(ctx, hotel, dbl, jan10, jan11)
	require.NoError(t, err)

	assert.Equal(t, 1, first.ReleasedRooms)
	assert.Equal(t, 0, second.ReleasedRooms)
	assert.Equal(t, afterOnce, afterTwice)
	for _, row := range afterTwice {
		assert.Equal(t, 1, row.SoldRooms)
	}
}

func TestRelease_UnknownBookingIsNoop(t *testing.T) {
	l, _ := newLedger(t, 2)

	res, err := l.Release(context.Background(), inventory.ReleaseRequest{
		HotelID: hotel, RoomTypeID: dbl, CheckIn: jan10, CheckOut: jan12, BookingID: "nope",
	})

	require.NoError(t, err)
	assert.Equal(t, 0, res.ReleasedRooms)
	assert.Empty(t, res.Nights)
}

func TestReserve_ConcurrentLastRoom(t *testing.T) {
	// GIVEN: One room left
	l, _ := newLedger(t, 1)
	ctx := context.Background()

	// WHEN: Two callers race for it
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []core.BookingID{"B1", "B2"} {
		wg.Add(1)
		go func(i int, id core.BookingID) {
			defer wg.Done()
			_, errs[i] = l.Reserve(ctx, reserveReq(id, 1))
		}(i, id)
	}
	wg.Wait()

	// THEN: Exactly one wins
	ok, lost := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case core.KindOf(err) == core.KindInsufficientInventory:
			lost++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, lost)
	row, err := l.Store.Availability().GetRow(ctx, hotel, dbl, jan10)
	require.NoError(t, err)
	assert.Equal(t, 1, row.SoldRooms)
	requireRowsConsistent(t, l)
}

func TestReserve_NotifiesChangeHooks(t *testing.T) {
	l, _ := newLedger(t, 2)
	var seen []calendar.Date
	l.OnChange(func(h core.HotelID, rt core.RoomTypeID, dates []calendar.Date) {
		seen = append(seen, dates...)
	})

	_, err := l.Reserve(context.Background(), reserveReq("B1", 1))

	require.NoError(t, err)
	assert.Equal(t, []calendar.Date{jan10, jan11}, seen)
}

// =============================================================================
// OPEN INVENTORY
// =============================================================================

func TestOpenInventory_ResizeKeepsReservations(t *testing.T) {
	l, _ := newLedger(t, 2)
	ctx := context.Background()
	_, err := l.Reserve(ctx, reserveReq("B1", 2))
	require.NoError(t, err)

	// Growing is fine and keeps the reservation
	res, err := l.OpenInventory(ctx, inventory.OpenRequest{HotelID: hotel, RoomTypeID: dbl, Start: jan10, End: jan11, TotalRooms: 5})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)
	row, err := l.Store.Availability().GetRow(ctx, hotel, dbl, jan10)
	require.NoError(t, err)
	assert.Equal(t, 3, row.AvailableRooms)
	assert.Equal(t, 2, row.SoldRooms)

	// Shrinking below sold is refused
	_, err = l.OpenInventory(ctx, inventory.OpenRequest{HotelID: hotel, RoomTypeID: dbl, Start: jan10, End: jan11, TotalRooms: 1})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestOpenInventory_UnknownRoomType(t *testing.T) {
	l, _ := newLedger(t, 2)

	_, err := l.OpenInventory(context.Background(), inventory.OpenRequest{HotelID: hotel, RoomTypeID: "RT-X", Start: jan10, End: jan11, TotalRooms: 1})
	assert.True(t, core.IsNotFound(err))
}

// =============================================================================
// BLOCKS
// =============================================================================

func seedRooms(t *testing.T, l *inventory.Ledger, ids ...core.RoomID) {
	t.Helper()
	for _, id := range ids {
		_, err := l.SaveRoom(context.Background(), core.Room{ID: id, HotelID: hotel, RoomTypeID: dbl, Number: string(id), IsActive: true})
		require.NoError(t, err)
	}
}

func TestBlock_ComposesIntoBlockedRooms(t *testing.T) {
	l, _ := newLedger(t, 3)
	seedRooms(t, l, "101", "102")
	ctx := context.Background()

	res, err := l.Block(ctx, inventory.BlockRequest{
		HotelID: hotel, RoomIDs: []core.RoomID{"101", "102"}, Start: jan10, End: jan12,
		Reason: core.BlockOutOfOrder, Actor: "admin-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.RoomNights)

	row, err := l.Store.Availability().GetRow(ctx, hotel, dbl, jan11)
	require.NoError(t, err)
	assert.Equal(t, 2, row.BlockedRooms)
	assert.Equal(t, 1, row.AvailableRooms)
	assert.Equal(t, core.BlockOutOfOrder, row.Blocks[0].Reason)

	// Blocking again is a no-op
	res, err = l.Block(ctx, inventory.BlockRequest{HotelID: hotel, RoomIDs: []core.RoomID{"101"}, Start: jan10, End: jan12})
	require.NoError(t, err)
	assert.Equal(t, 0, res.RoomNights)
	requireRowsConsistent(t, l)
}

func TestBlock_SoldOutNightKeepsAvailabilityNonNegative(t *testing.T) {
	// GIVEN: The only room is sold on both nights
	l, _ := newLedger(t, 1)
	seedRooms(t, l, "101")
	ctx := context.Background()
	_, err := l.Reserve(ctx, reserveReq("B1", 1))
	require.NoError(t, err)

	// WHEN: Blocking it for maintenance
	_, err = l.Block(ctx, inventory.BlockRequest{HotelID: hotel, RoomIDs: []core.RoomID{"101"}, Start: jan10, End: jan12})

	// THEN: The block is refused rather than driving availability below zero
	assert.ErrorIs(t, err, core.ErrInsufficientInventory)
	row, err := l.Store.Availability().GetRow(ctx, hotel, dbl, jan10)
	require.NoError(t, err)
	assert.Equal(t, 0, row.BlockedRooms)
	assert.Equal(t, 0, row.AvailableRooms)
	requireRowsConsistent(t, l)
}

func TestUnblock_ReversesBlock(t *testing.T) {
	l, _ := newLedger(t, 2)
	seedRooms(t, l, "101")
	ctx := context.Background()
	req := inventory.BlockRequest{HotelID: hotel, RoomIDs: []core.RoomID{"101"}, Start: jan10, End: jan12, Reason: "renovation"}
	_, err := l.Block(ctx, req)
	require.NoError(t, err)

	res, err := l.Unblock(ctx, req)

	require.NoError(t, err)
	assert.Equal(t, 2, res.RoomNights)
	row, err := l.Store.Availability().GetRow(ctx, hotel, dbl, jan10)
	require.NoError(t, err)
	assert.Equal(t, 0, row.BlockedRooms)
	assert.Equal(t, 2, row.AvailableRooms)
}

// =============================================================================
// REPORTS
// =============================================================================

func TestOccupancyAndSummary(t *testing.T) {
	l, _ := newLedger(t, 4)
	ctx := context.Background()
	_, err := l.Reserve(ctx, reserveReq("B1", 1))
	require.NoError(t, err)

	occ, err := l.Occupancy(ctx, hotel, jan10, jan12)
	require.NoError(t, err)
	assert.Equal(t, 8, occ.TotalRoomNights)
	assert.Equal(t, 2, occ.SoldRoomNights)
	assert.True(t, occ.OccupancyRate.Equal(decimal.NewFromInt(25)))
	require.Len(t, occ.Daily, 2)

	sum, err := l.Summary(ctx, hotel, jan10, jan12)
	require.NoError(t, err)
	require.Len(t, sum.RoomTypes, 1)
	assert.True(t, sum.Totals.Revenue.Equal(decimal.NewFromInt(2000)))
	assert.True(t, sum.Totals.ADR.Equal(decimal.NewFromInt(1000)))
	assert.True(t, sum.Totals.RevPAR.Equal(decimal.NewFromInt(250)))
}

func TestDetectOverbooking_ReportsWithoutRepair(t *testing.T) {
	// GIVEN: A row corrupted by a manual edit
	l, store := newLedger(t, 1)
	ctx := context.Background()
	row, err := store.Availability().GetRow(ctx, hotel, dbl, jan10)
	require.NoError(t, err)
	row.SoldRooms = 2
	row.AvailableRooms = -1
	require.NoError(t, store.Availability().UpdateRow(ctx, row))

	// WHEN: Scanning the date
	findings, err := l.DetectOverbooking(ctx, hotel, jan10, dbl)

	// THEN: The row is reported and left untouched
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, -1, findings[0].AvailableRooms)
	stored, err := store.Availability().GetRow(ctx, hotel, dbl, jan10)
	require.NoError(t, err)
	assert.Equal(t, -1, stored.AvailableRooms)

	clean, err := l.DetectOverbooking(ctx, hotel, jan11, "")
	require.NoError(t, err)
	assert.Empty(t, clean)
}
