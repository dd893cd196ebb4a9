/*
store.go - Persistence contract for the booking core

PURPOSE:
  Defines the interface between the ledgers and the database. One Store
  exposes a repository per collection; a TxStore adds WithTx so a single
  unit of work can touch availability rows, companies and credit
  transactions together.

KEY INTERFACES:
  Store:   Repository accessors
  TxStore: Store + WithTx (atomic multi-collection writes)

OPTIMISTIC CONCURRENCY:
  AvailabilityRow and Company carry a Version. UpdateRow/UpdateCompany
  write only when the stored version equals the version of the value
  passed in, and bump it by one. A mismatch returns
  ErrConcurrentModification, which Retry turns into another attempt.

APPEND-ONLY JOURNAL:
  Credit transactions are inserted once. UpdateTransaction refuses to
  modify a stored record that is already terminal, except for the
  LinkedTransactionID field via LinkTransaction.

ATOMIC UNITS:
  WithTx executes fn with a transaction-scoped Store. If fn returns an
  error every write made through that Store is rolled back. Code inside
  fn must only use the Store it was given.

IMPLEMENTATIONS:
  - store/memory: In-memory, snapshot + rollback (tests, demos)
  - store/sqlstore: SQLite (default) or PostgreSQL via database/sql

SEE ALSO:
  - retry.go: Retry loop around units of work
*/
package core

import (
	"context"
	"time"

	"github.com/warp/hotel-core/calendar"
)

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	Rooms() RoomRepository
	Availability() AvailabilityRepository
	Seasons() SeasonRepository
	RatePlans() RatePlanRepository
	Companies() CompanyRepository
	Credit() CreditRepository
	LimitRequests() LimitRequestRepository
	Bookings() BookingRepository
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// REPOSITORIES
// =============================================================================

type RoomRepository interface {
	SaveRoomType(ctx context.Context, rt RoomType) error
	GetRoomType(ctx context.Context, hotel HotelID, id RoomTypeID) (RoomType, error)
	ListRoomTypes(ctx context.Context, hotel HotelID) ([]RoomType, error)

	SaveRoom(ctx context.Context, room Room) error
	GetRoom(ctx context.Context, id RoomID) (Room, error)
	ListRooms(ctx context.Context, hotel HotelID, roomType RoomTypeID) ([]Room, error)
}

// RowFilter selects rows with From <= date <= To. An empty RoomTypeID
// selects every room type of the hotel.
type RowFilter struct {
	HotelID    HotelID
	RoomTypeID RoomTypeID
	From       calendar.Date
	To         calendar.Date
}

type AvailabilityRepository interface {
	// InsertRow fails with ErrDuplicate when the (hotel, roomType, date) key exists.
	InsertRow(ctx context.Context, row AvailabilityRow) error

	// UpdateRow writes row if the stored version equals row.Version.
	UpdateRow(ctx context.Context, row AvailabilityRow) error

	GetRow(ctx context.Context, hotel HotelID, roomType RoomTypeID, date calendar.Date) (AvailabilityRow, error)

	// ListRows returns rows ordered by room type then date.
	ListRows(ctx context.Context, filter RowFilter) ([]AvailabilityRow, error)

	// RowsByBooking returns every row holding a reservation for booking.
	RowsByBooking(ctx context.Context, hotel HotelID, booking BookingID) ([]AvailabilityRow, error)
}

type SeasonRepository interface {
	SaveSeason(ctx context.Context, s Season) error
	GetSeason(ctx context.Context, id SeasonID) (Season, error)
	ListSeasons(ctx context.Context, hotel HotelID) ([]Season, error)

	SaveSpecialPeriod(ctx context.Context, p SpecialPeriod) error
	GetSpecialPeriod(ctx context.Context, id SeasonID) (SpecialPeriod, error)
	ListSpecialPeriods(ctx context.Context, hotel HotelID) ([]SpecialPeriod, error)
}

type RatePlanRepository interface {
	SavePlan(ctx context.Context, p RatePlan) error
	GetPlan(ctx context.Context, id RatePlanID) (RatePlan, error)
	ListPlans(ctx context.Context, hotel HotelID) ([]RatePlan, error)

	SaveOverride(ctx context.Context, o RateOverride) error
	// ListOverrides returns active and inactive overrides with From <= date <= To.
	ListOverrides(ctx context.Context, hotel HotelID, roomType RoomTypeID, from, to calendar.Date) ([]RateOverride, error)
}

type CompanyRepository interface {
	// InsertCompany fails with ErrDuplicate on a GST number already registered.
	InsertCompany(ctx context.Context, c Company) error

	// UpdateCompany writes c if the stored version equals c.Version.
	UpdateCompany(ctx context.Context, c Company) error

	GetCompany(ctx context.Context, id CompanyID) (Company, error)
	FindCompanyByGST(ctx context.Context, gst string) (Company, error)

	// ListCompanies returns a hotel's companies; an empty hotel lists all.
	ListCompanies(ctx context.Context, hotel HotelID) ([]Company, error)
}

// CreditFilter selects journal entries. Zero fields do not filter.
// From is inclusive and To exclusive on TransactionDate.
type CreditFilter struct {
	HotelID   HotelID
	CompanyID CompanyID
	BookingID BookingID
	Statuses  []TransactionStatus
	Types     []TransactionType
	From      time.Time
	To        time.Time
	DueBefore calendar.Date
}

type CreditRepository interface {
	InsertTransaction(ctx context.Context, t CreditTransaction) error

	// UpdateTransaction replaces a non-terminal stored record. A terminal
	// stored record yields StateTransitionError.
	UpdateTransaction(ctx context.Context, t CreditTransaction) error

	// LinkTransaction sets the append-only linkage field on any record.
	LinkTransaction(ctx context.Context, id, linked TransactionID) error

	GetTransaction(ctx context.Context, id TransactionID) (CreditTransaction, error)

	// ListTransactions orders by TransactionDate, then ChainSeq, then ID.
	ListTransactions(ctx context.Context, filter CreditFilter) ([]CreditTransaction, error)

	// ChainHead returns the processed transaction with the highest ChainSeq
	// for the company; ok is false for an empty chain.
	ChainHead(ctx context.Context, company CompanyID) (t CreditTransaction, ok bool, err error)
}

type LimitRequestRepository interface {
	SaveLimitRequest(ctx context.Context, r CreditLimitRequest) error
	GetLimitRequest(ctx context.Context, id RequestID) (CreditLimitRequest, error)
	ListLimitRequests(ctx context.Context, hotel HotelID, company CompanyID, status LimitRequestStatus) ([]CreditLimitRequest, error)
}

type BookingRepository interface {
	SaveBooking(ctx context.Context, b BookingRef) error
	GetBooking(ctx context.Context, id BookingID) (BookingRef, error)
	ListBookingsByCompany(ctx context.Context, company CompanyID, statuses ...BookingStatus) ([]BookingRef, error)
}
