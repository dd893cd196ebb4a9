package sqlstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/hotel-core/calendar"
	"github.com/warp/hotel-core/core"
	"github.com/warp/hotel-core/corporate"
	"github.com/warp/hotel-core/inventory"
	"github.com/warp/hotel-core/store/sqlstore"
)

const (
	hotel = core.HotelID("H1")
	dbl   = core.RoomTypeID("RT-DBL")
)

var (
	jan10 = calendar.MustParse("2025-01-10")
	jan11 = calendar.MustParse("2025-01-11")
	jan12 = calendar.MustParse("2025-01-12")
	now   = time.Date(2024, 11, 26, 9, 0, 0, 0, time.UTC)
)

func newStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.Open(context.Background(), sqlstore.Config{Driver: sqlstore.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func row(date calendar.Date, total int) core.AvailabilityRow {
	return core.AvailabilityRow{
		ID: "avl-" + date.String(), HotelID: hotel, RoomTypeID: dbl, Date: date,
		TotalRooms: total, AvailableRooms: total,
		BaseRate: decimal.NewFromInt(800), SellingRate: decimal.NewFromInt(800),
	}
}

// =============================================================================
// REPOSITORIES
// =============================================================================

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	_, err := sqlstore.Open(context.Background(), sqlstore.Config{Driver: "mysql", DSN: "x"})
	assert.Error(t, err)
}

func TestRooms_RoundTripAndOrder(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// GIVEN: two room types saved out of order, one saved twice
	require.NoError(t, s.Rooms().SaveRoomType(ctx, core.RoomType{ID: "RT-SGL", HotelID: hotel, Name: "Single", BasePrice: decimal.NewFromInt(500)}))
	require.NoError(t, s.Rooms().SaveRoomType(ctx, core.RoomType{ID: dbl, HotelID: hotel, Name: "Dbl", BasePrice: decimal.NewFromInt(800)}))
	require.NoError(t, s.Rooms().SaveRoomType(ctx, core.RoomType{ID: dbl, HotelID: hotel, Name: "Double", BasePrice: decimal.NewFromInt(900)}))
	require.NoError(t, s.Rooms().SaveRoom(ctx, core.Room{ID: "101", HotelID: hotel, RoomTypeID: dbl, Number: "101", IsActive: true}))
	require.NoError(t, s.Rooms().SaveRoom(ctx, core.Room{ID: "201", HotelID: hotel, RoomTypeID: "RT-SGL", Number: "201", IsActive: true}))

	// WHEN / THEN
	types, err := s.Rooms().ListRoomTypes(ctx, hotel)
	require.NoError(t, err)
	require.Len(t, types, 2)
	assert.Equal(t, dbl, types[0].ID)
	assert.Equal(t, "Double", types[0].Name, "second save overwrites")
	assert.True(t, types[0].BasePrice.Equal(decimal.NewFromInt(900)))

	rooms, err := s.Rooms().ListRooms(ctx, hotel, dbl)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, core.RoomID("101"), rooms[0].ID)

	all, err := s.Rooms().ListRooms(ctx, hotel, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = s.Rooms().GetRoomType(ctx, "H2", dbl)
	assert.True(t, core.IsNotFound(err))
}

func TestAvailability_VersionedUpdates(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// GIVEN: one inserted row
	require.NoError(t, s.Availability().InsertRow(ctx, row(jan10, 10)))
	assert.ErrorIs(t, s.Availability().InsertRow(ctx, row(jan10, 10)), core.ErrDuplicate)

	stored, err := s.Availability().GetRow(ctx, hotel, dbl, jan10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)

	// WHEN: the row is updated from version 1 and again from the stale copy
	stored.Reservations = []core.Reservation{{BookingID: "b-1", RoomsReserved: 2, Source: "direct", ReservedAt: now}}
	stored.Recount()
	require.NoError(t, s.Availability().UpdateRow(ctx, stored))
	err = s.Availability().UpdateRow(ctx, stored)

	// THEN: the stale write loses
	assert.ErrorIs(t, err, core.ErrConcurrentModification)
	assert.True(t, core.IsRetryable(err))

	current, err := s.Availability().GetRow(ctx, hotel, dbl, jan10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), current.Version)
	assert.Equal(t, 2, current.SoldRooms)
	assert.Equal(t, 8, current.AvailableRooms)

	missing := row(jan12, 1)
	missing.Version = 1
	assert.True(t, core.IsNotFound(s.Availability().UpdateRow(ctx, missing)))
}

func TestAvailability_ListAndRowsByBooking(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for _, d := range []calendar.Date{jan12, jan10, jan11} {
		r := row(d, 5)
		if d != jan12 {
			r.Reservations = []core.Reservation{{BookingID: "b-7", RoomsReserved: 1, ReservedAt: now}}
			r.Recount()
		}
		require.NoError(t, s.Availability().InsertRow(ctx, r))
	}

	rows, err := s.Availability().ListRows(ctx, core.RowFilter{HotelID: hotel, From: jan10, To: jan11})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, jan10, rows[0].Date)
	assert.Equal(t, jan11, rows[1].Date)

	held, err := s.Availability().RowsByBooking(ctx, hotel, "b-7")
	require.NoError(t, err)
	require.Len(t, held, 2)
	assert.Equal(t, jan10, held[0].Date)

	// WHEN: the reservation is dropped from one night
	first := held[0]
	first.Reservations = nil
	first.Recount()
	require.NoError(t, s.Availability().UpdateRow(ctx, first))

	// THEN: the booking index follows
	held, err = s.Availability().RowsByBooking(ctx, hotel, "b-7")
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, jan11, held[0].Date)
}

func TestCompanies_UniqueGSTAndVersion(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	c := core.Company{
		ID: "co-1", HotelID: hotel, Name: "Acme", GSTNumber: "27AAPFU0939F1ZV",
		CreditLimit: decimal.NewFromInt(10000), AvailableCredit: decimal.NewFromInt(10000),
		PaymentTerms: 30, BillingCycle: core.BillingMonthly, IsActive: true,
	}
	require.NoError(t, s.Companies().InsertCompany(ctx, c))

	dup := c
	dup.ID = "co-2"
	assert.ErrorIs(t, s.Companies().InsertCompany(ctx, dup), core.ErrDuplicate)

	found, err := s.Companies().FindCompanyByGST(ctx, "27aapfu0939f1zv")
	require.NoError(t, err)
	assert.Equal(t, core.CompanyID("co-1"), found.ID)
	assert.Equal(t, int64(1), found.Version)

	// WHEN: two writers update from the same version
	a, b := found, found
	a.AvailableCredit = decimal.NewFromInt(9000)
	b.AvailableCredit = decimal.NewFromInt(8000)
	require.NoError(t, s.Companies().UpdateCompany(ctx, a))
	err = s.Companies().UpdateCompany(ctx, b)

	// THEN: the second one is told to retry
	assert.ErrorIs(t, err, core.ErrConcurrentModification)
	got, err := s.Companies().GetCompany(ctx, "co-1")
	require.NoError(t, err)
	assert.True(t, got.AvailableCredit.Equal(decimal.NewFromInt(9000)))
	assert.Equal(t, int64(2), got.Version)

	others, err := s.Companies().ListCompanies(ctx, "H2")
	require.NoError(t, err)
	assert.Empty(t, others)
	all, err := s.Companies().ListCompanies(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCredit_JournalRules(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := core.CreditTransaction{
		HotelID: hotel, CompanyID: "co-1", Type: core.TxDebit,
		Amount: decimal.NewFromInt(1000), Balance: decimal.NewFromInt(9000),
		Description: "stay", CreatedBy: "staff", CreatedAt: now, UpdatedAt: now,
	}

	processed := base
	processed.ID, processed.Status, processed.ChainSeq = "tx-1", core.StatusProcessed, 1
	processed.TransactionDate = now.Add(time.Hour)
	processed.DueDate = calendar.MustParse("2024-12-01")
	processed.IntegrityHash = corporate.Hash(processed)

	pending := base
	pending.ID, pending.Status = "tx-2", core.StatusPending
	pending.TransactionDate = now

	require.NoError(t, s.Credit().InsertTransaction(ctx, processed))
	require.NoError(t, s.Credit().InsertTransaction(ctx, pending))
	assert.ErrorIs(t, s.Credit().InsertTransaction(ctx, pending), core.ErrDuplicate)

	// Terminal records are frozen except for the linkage field.
	processed.Description = "rewritten"
	assert.ErrorIs(t, s.Credit().UpdateTransaction(ctx, processed), core.ErrStateTransition)
	require.NoError(t, s.Credit().LinkTransaction(ctx, "tx-1", "tx-9"))

	stored, err := s.Credit().GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "stay", stored.Description)
	assert.Equal(t, core.TransactionID("tx-9"), stored.LinkedTransactionID)
	assert.Equal(t, corporate.Hash(stored), stored.IntegrityHash, "hash survives the round trip")

	pending.Status = core.StatusCancelled
	require.NoError(t, s.Credit().UpdateTransaction(ctx, pending))

	// Ordering is by transaction date.
	all, err := s.Credit().ListTransactions(ctx, core.CreditFilter{CompanyID: "co-1"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, core.TransactionID("tx-2"), all[0].ID)
	assert.Equal(t, core.StatusCancelled, all[0].Status)

	due, err := s.Credit().ListTransactions(ctx, core.CreditFilter{
		HotelID: hotel, Statuses: []core.TransactionStatus{core.StatusProcessed}, DueBefore: calendar.MustParse("2025-01-05"),
	})
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, core.TransactionID("tx-1"), due[0].ID)

	window, err := s.Credit().ListTransactions(ctx, core.CreditFilter{From: now, To: now.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, core.TransactionID("tx-2"), window[0].ID)

	head, ok, err := s.Credit().ChainHead(ctx, "co-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, core.TransactionID("tx-1"), head.ID)

	_, ok, err = s.Credit().ChainHead(ctx, "co-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLimitRequestsAndBookings(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i, status := range []core.LimitRequestStatus{core.LimitPending, core.LimitApproved} {
		require.NoError(t, s.LimitRequests().SaveLimitRequest(ctx, core.CreditLimitRequest{
			ID: core.RequestID("lr-" + string(status)), HotelID: hotel, CompanyID: "co-1",
			CurrentLimit: decimal.NewFromInt(1000), RequestedLimit: decimal.NewFromInt(2000),
			Status: status, CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}
	pending, err := s.LimitRequests().ListLimitRequests(ctx, hotel, "", core.LimitPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, core.RequestID("lr-pending"), pending[0].ID)

	require.NoError(t, s.Bookings().SaveBooking(ctx, core.BookingRef{ID: "b-1", HotelID: hotel, CompanyID: "co-1", Status: core.BookingConfirmed}))
	require.NoError(t, s.Bookings().SaveBooking(ctx, core.BookingRef{ID: "b-2", HotelID: hotel, CompanyID: "co-1", Status: core.BookingCancelled}))
	open, err := s.Bookings().ListBookingsByCompany(ctx, "co-1", core.OpenBookingStatuses...)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, core.BookingID("b-1"), open[0].ID)
}

// =============================================================================
// UNITS OF WORK
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx core.Store) error {
		require.NoError(t, tx.Availability().InsertRow(ctx, row(jan10, 3)))
		require.NoError(t, tx.Bookings().SaveBooking(ctx, core.BookingRef{ID: "b-1", HotelID: hotel}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.Availability().GetRow(ctx, hotel, dbl, jan10)
	assert.True(t, core.IsNotFound(err))
	_, err = s.Bookings().GetBooking(ctx, "b-1")
	assert.True(t, core.IsNotFound(err))

	require.NoError(t, s.WithTx(ctx, func(tx core.Store) error {
		return tx.Availability().InsertRow(ctx, row(jan10, 3))
	}))
	_, err = s.Availability().GetRow(ctx, hotel, dbl, jan10)
	assert.NoError(t, err)
}

func TestLedgers_RunOnSQLite(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	clock := core.FixedClock{At: now}

	// GIVEN: inventory for two nights and a corporate account
	inv := inventory.NewLedger(s)
	inv.Clock = clock
	_, err := inv.SaveRoomType(ctx, core.RoomType{ID: dbl, HotelID: hotel, Name: "Double", Code: "DBL", BasePrice: decimal.NewFromInt(800), MaxOccupancy: 2})
	require.NoError(t, err)
	_, err = inv.OpenInventory(ctx, inventory.OpenRequest{HotelID: hotel, RoomTypeID: dbl, Start: jan10, End: jan11, TotalRooms: 2})
	require.NoError(t, err)

	registry := corporate.NewRegistry(s)
	registry.Clock = clock
	credit := corporate.NewCreditLedger(s)
	credit.Clock = clock
	co, err := registry.Create(ctx, core.Company{HotelID: hotel, Name: "Acme", GSTNumber: "27AAPFU0939F1ZV", CreditLimit: decimal.NewFromInt(5000), PaymentTerms: 30})
	require.NoError(t, err)

	// WHEN: a stay is reserved and charged, then released by booking id
	_, err = inv.Reserve(ctx, inventory.ReserveRequest{HotelID: hotel, RoomTypeID: dbl, CheckIn: jan10, CheckOut: jan12, Qty: 2, BookingID: "b-1", Source: "corporate"})
	require.NoError(t, err)
	_, err = inv.Reserve(ctx, inventory.ReserveRequest{HotelID: hotel, RoomTypeID: dbl, CheckIn: jan10, CheckOut: jan11, Qty: 1, BookingID: "b-2", Source: "direct"})
	assert.ErrorIs(t, err, core.ErrInsufficientInventory)

	tx, err := credit.Post(ctx, corporate.PostRequest{CompanyID: co.ID, BookingID: "b-1", Type: core.TxDebit, Amount: decimal.NewFromInt(1600), Description: "stay", CreatedBy: "staff"})
	require.NoError(t, err)

	released, err := inv.Release(ctx, inventory.ReleaseRequest{HotelID: hotel, BookingID: "b-1"})
	require.NoError(t, err)

	// THEN
	assert.Equal(t, 2, released.ReleasedRooms)
	assert.Len(t, released.Nights, 2)
	rows, err := inv.Rows(ctx, hotel, dbl, jan10, jan11)
	require.NoError(t, err)
	for _, r := range rows {
		assert.Equal(t, 2, r.AvailableRooms)
		assert.Equal(t, int64(3), r.Version)
	}

	got, err := registry.Get(ctx, co.ID)
	require.NoError(t, err)
	assert.True(t, got.AvailableCredit.Equal(decimal.NewFromInt(3400)))

	v, err := credit.Verify(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.True(t, v.LinkValid)
}
