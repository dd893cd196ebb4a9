package inventory

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/hotel-core/calendar"
	"github.com/warp/hotel-core/core"
)

// ReasonNoData is reported by Check when a night has no row.
const ReasonNoData = "no availability data"

// =============================================================================
// CHECK
// =============================================================================

type CheckRequest struct {
	HotelID    core.HotelID
	RoomTypeID core.RoomTypeID
	CheckIn    calendar.Date
	CheckOut   calendar.Date
	Qty        int
}

func (r CheckRequest) validate() error {
	if r.HotelID == "" || r.RoomTypeID == "" {
		return core.Validationf("hotelId and roomTypeId are required")
	}
	if !r.CheckOut.After(r.CheckIn) {
		return core.Validationf("checkOut %s must be after checkIn %s", r.CheckOut, r.CheckIn)
	}
	if r.Qty < 1 {
		return core.Validationf("qty must be >= 1")
	}
	return nil
}

type DayAvailability struct {
	Date           calendar.Date   `json:"date"`
	AvailableRooms int             `json:"availableRooms"`
	Rate           decimal.Decimal `json:"rate"`
}

type CheckResult struct {
	Available      bool              `json:"available"`
	RoomsAvailable int               `json:"roomsAvailable"`
	Nights         int               `json:"nights"`
	DailyBreakdown []DayAvailability `json:"dailyBreakdown"`
	AverageRate    decimal.Decimal   `json:"averageRate"`
	TotalAmount    decimal.Decimal   `json:"totalAmount"`
	Reason         string            `json:"reason,omitempty"`
}

// Check reports whether qty rooms are free on every night of the stay.
// It never mutates.
func (l *Ledger) Check(ctx context.Context, req CheckRequest) (CheckResult, error) {
	if err := req.validate(); err != nil {
		return CheckResult{}, err
	}
	nights := calendar.NightsBetween(req.CheckIn, req.CheckOut)
	rows, err := l.Rows(ctx, req.HotelID, req.RoomTypeID, nights[0], nights[len(nights)-1])
	if err != nil {
		return CheckResult{}, fmt.Errorf("loading rows: %w", err)
	}
	byDate := make(map[calendar.Date]core.AvailabilityRow, len(rows))
	for _, row := range rows {
		byDate[row.Date] = row
	}

	res := CheckResult{
		Available:      true,
		Nights:         len(nights),
		DailyBreakdown: make([]DayAvailability, 0, len(nights)),
		AverageRate:    decimal.Zero,
		TotalAmount:    decimal.Zero,
	}
	qty := decimal.NewFromInt(int64(req.Qty))
	sum := decimal.Zero
	minAvail, seen, missing := 0, false, false
	for _, d := range nights {
		row, ok := byDate[d]
		if !ok {
			res.Available = false
			missing = true
			res.DailyBreakdown = append(res.DailyBreakdown, DayAvailability{Date: d, Rate: decimal.Zero})
			continue
		}
		avail := row.AvailableRooms
		if l.Blackout != nil {
			name, blocked, err := l.Blackout.BlackoutOn(ctx, req.HotelID, req.RoomTypeID, d)
			if err != nil {
				return CheckResult{}, err
			}
			if blocked {
				avail = 0
				if res.Reason == "" {
					res.Reason = "blocked by " + name
				}
			}
		}
		if !seen || avail < minAvail {
			minAvail, seen = avail, true
		}
		if avail < req.Qty {
			res.Available = false
		}
		sum = sum.Add(row.SellingRate)
		res.TotalAmount = res.TotalAmount.Add(row.SellingRate.Mul(qty))
		res.DailyBreakdown = append(res.DailyBreakdown, DayAvailability{Date: d, AvailableRooms: avail, Rate: row.SellingRate})
	}
	if !missing && minAvail > 0 {
		res.RoomsAvailable = minAvail
	}
	if missing {
		res.Reason = ReasonNoData
	} else if !res.Available && res.Reason == "" {
		res.Reason = fmt.Sprintf("only %d room(s) available", res.RoomsAvailable)
	}
	res.AverageRate = sum.Div(decimal.NewFromInt(int64(len(nights)))).Round(2)
	return res, nil
}

// =============================================================================
// RESERVE
// =============================================================================

type ReserveRequest struct {
	HotelID    core.HotelID
	RoomTypeID core.RoomTypeID
	CheckIn    calendar.Date
	CheckOut   calendar.Date
	Qty        int
	BookingID  core.BookingID
	Source     string
}

type ReserveResult struct {
	BookingID     core.BookingID  `json:"bookingId"`
	Nights        []calendar.Date `json:"nights"`
	RoomsReserved int             `json:"roomsReserved"`
}

// Reserve claims qty rooms on every night of the stay in its own unit of work.
func (l *Ledger) Reserve(ctx context.Context, req ReserveRequest) (ReserveResult, error) {
	var res ReserveResult
	err := l.inTx(ctx, "reserve", func(s core.Store) error {
		var err error
		res, err = l.ReserveIn(ctx, s, req)
		return err
	})
	if err != nil {
		return ReserveResult{}, err
	}
	l.Notify(req.HotelID, req.RoomTypeID, res.Nights)
	return res, nil
}

// ReserveIn claims the rooms through a transaction-scoped store. Every
// night is checked before any row is written.
func (l *Ledger) ReserveIn(ctx context.Context, s core.Store, req ReserveRequest) (ReserveResult, error) {
	if err := (CheckRequest{req.HotelID, req.RoomTypeID, req.CheckIn, req.CheckOut, req.Qty}).validate(); err != nil {
		return ReserveResult{}, err
	}
	if req.BookingID == "" {
		return ReserveResult{}, core.Validationf("bookingId is required")
	}
	nights := calendar.NightsBetween(req.CheckIn, req.CheckOut)

	rows := make([]core.AvailabilityRow, 0, len(nights))
	var missing, short []calendar.Date
	for _, d := range nights {
		row, err := s.Availability().GetRow(ctx, req.HotelID, req.RoomTypeID, d)
		if core.IsNotFound(err) {
			missing = append(missing, d)
			continue
		}
		if err != nil {
			return ReserveResult{}, fmt.Errorf("loading row %s: %w", d, err)
		}
		if _, dup := row.ReservationFor(req.BookingID); dup {
			return ReserveResult{}, core.Validationf("booking %s already holds rooms on %s", req.BookingID, d).
				With("date", d)
		}
		if row.AvailableRooms < req.Qty {
			short = append(short, d)
		}
		rows = append(rows, row)
	}
	if len(missing) > 0 {
		return ReserveResult{}, core.Errorf(core.KindNoInventoryDefined, "no availability data for %d night(s)", len(missing)).
			With("dates", missing)
	}
	if len(short) > 0 {
		return ReserveResult{}, core.Errorf(core.KindInsufficientInventory, "fewer than %d room(s) available on %d night(s)", req.Qty, len(short)).
			With("dates", short).With("requested", req.Qty)
	}

	now := l.Clock.Now()
	for _, row := range rows {
		row.Reservations = append(row.Reservations, core.Reservation{
			BookingID:     req.BookingID,
			RoomsReserved: req.Qty,
			Source:        req.Source,
			ReservedAt:    now,
		})
		row.Recount()
		row.UpdatedAt = now
		if err := row.CheckInvariants(); err != nil {
			return ReserveResult{}, core.Wrap(core.KindInternal, err, "reserve would break row invariants")
		}
		if err := s.Availability().UpdateRow(ctx, row); err != nil {
			return ReserveResult{}, err
		}
	}
	return ReserveResult{BookingID: req.BookingID, Nights: nights, RoomsReserved: req.Qty}, nil
}

// =============================================================================
// RELEASE
// =============================================================================

// ReleaseRequest with zero dates releases every row holding the booking.
type ReleaseRequest struct {
	HotelID    core.HotelID
	RoomTypeID core.RoomTypeID
	CheckIn    calendar.Date
	CheckOut   calendar.Date
	BookingID  core.BookingID
}

type ReleaseResult struct {
	BookingID     core.BookingID  `json:"bookingId"`
	ReleasedRooms int             `json:"releasedRooms"`
	Nights        []calendar.Date `json:"nights"`
}

// Release removes a booking's reservations. Releasing an unknown booking is
// a no-op with ReleasedRooms=0.
func (l *Ledger) Release(ctx context.Context, req ReleaseRequest) (ReleaseResult, error) {
	var res ReleaseResult
	err := l.inTx(ctx, "release", func(s core.Store) error {
		var err error
		res, err = l.ReleaseIn(ctx, s, req)
		return err
	})
	if err != nil {
		return ReleaseResult{}, err
	}
	if len(res.Nights) > 0 {
		l.Notify(req.HotelID, req.RoomTypeID, res.Nights)
	}
	return res, nil
}

func (l *Ledger) ReleaseIn(ctx context.Context, s core.Store, req ReleaseRequest) (ReleaseResult, error) {
	if req.HotelID == "" || req.BookingID == "" {
		return ReleaseResult{}, core.Validationf("hotelId and bookingId are required")
	}
	rows, err := l.rowsFor(ctx, s, req)
	if err != nil {
		return ReleaseResult{}, err
	}

	res := ReleaseResult{BookingID: req.BookingID}
	now := l.Clock.Now()
	for _, row := range rows {
		held, ok := row.ReservationFor(req.BookingID)
		if !ok {
			continue
		}
		kept := row.Reservations[:0]
		for _, r := range row.Reservations {
			if r.BookingID != req.BookingID {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			kept = nil
		}
		row.Reservations = kept
		row.Recount()
		row.UpdatedAt = now
		if err := s.Availability().UpdateRow(ctx, row); err != nil {
			return ReleaseResult{}, err
		}
		if held.RoomsReserved > res.ReleasedRooms {
			res.ReleasedRooms = held.RoomsReserved
		}
		res.Nights = append(res.Nights, row.Date)
	}
	return res, nil
}

func (l *Ledger) rowsFor(ctx context.Context, s core.Store, req ReleaseRequest) ([]core.AvailabilityRow, error) {
	if req.CheckIn.IsZero() || req.CheckOut.IsZero() {
		rows, err := s.Availability().RowsByBooking(ctx, req.HotelID, req.BookingID)
		if err != nil {
			return nil, fmt.Errorf("finding rows for booking %s: %w", req.BookingID, err)
		}
		return rows, nil
	}
	if req.RoomTypeID == "" {
		return nil, core.Validationf("roomTypeId is required when dates are given")
	}
	var rows []core.AvailabilityRow
	for _, d := range calendar.NightsBetween(req.CheckIn, req.CheckOut) {
		row, err := s.Availability().GetRow(ctx, req.HotelID, req.RoomTypeID, d)
		if core.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading row %s: %w", d, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
