/*
coordinator.go - Atomic booking across availability, rates and credit

PURPOSE:
  A booking touches three ledgers: the availability rows of every night,
  the rate quote that fixes the price, and, for corporate guests, the
  company's credit journal. The coordinator is the single entry point that
  keeps them consistent.

PROTOCOL (Book):
  1. Validate dates: checkOut > checkIn, checkIn >= today
  2. Cheapest plan whose season restrictions (closed_to_*, blocked,
     stay rules) allow the stay; none -> SeasonalRestriction
  3. totalAmount = Σ nightlyRate × rooms
  4. In one unit of work:
       reserve every night              -> InsufficientInventory
       debit the company (if any)       -> InsufficientCredit / CompanyInactive
       save the booking reference
  5. Commit, then notify availability observers

  The debit is pending when the plan's approval threshold is exceeded and
  processed otherwise.

COMPENSATION:
  A failure or timeout after the reserve rolls the unit of work back and
  then issues a compensating release for the booking, logged with the
  originating error. Releasing a booking that holds nothing is a no-op, so
  the release is safe whether or not the rollback already undid the
  reserve.

CANCELLATION:
  Reverse order: release the rooms, withdraw pending debits, then post a
  refund (or a credit for a partial amount) for the outstanding processed
  debits. Original journal entries are never modified.

MODIFICATION:
  Release the old stay, reserve the new one and reprice. Debits still
  awaiting approval are withdrawn; the difference between the new total
  and what was processed is posted as a debit (pending when one was
  awaited) or a credit. The original entries stay for audit.

SEE ALSO:
  - inventory/reserve.go: ReserveIn, ReleaseIn
  - corporate/credit.go: PostIn, CancelIn
  - pricing/quote.go: BestRate
*/
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/hotel-core/calendar"
	"github.com/warp/hotel-core/core"
	"github.com/warp/hotel-core/corporate"
	"github.com/warp/hotel-core/inventory"
	"github.com/warp/hotel-core/observability"
	"github.com/warp/hotel-core/pricing"
	"github.com/warp/hotel-core/season"
)

// DefaultTimeout bounds one coordinator call.
const DefaultTimeout = 5 * time.Second

// Quoter prices a stay; satisfied by pricing.Engine and pricing.CachedQuoter.
type Quoter interface {
	BestRate(ctx context.Context, req pricing.QuoteRequest) (pricing.Quote, error)
	AllRates(ctx context.Context, req pricing.QuoteRequest) (pricing.RateList, error)
}

// Restrictions rejects stays that a season or special period forbids.
type Restrictions interface {
	CheckStay(ctx context.Context, req season.StayRequest) error
}

type Coordinator struct {
	Store        core.TxStore
	Inventory    *inventory.Ledger
	Credit       *corporate.CreditLedger
	Rates        Quoter
	Restrictions Restrictions
	Clock        core.Clock
	Retry        core.RetryPolicy
	Timeout      time.Duration
	Log          zerolog.Logger
}

func NewCoordinator(store core.TxStore, inv *inventory.Ledger, credit *corporate.CreditLedger, rates Quoter, restrictions Restrictions) *Coordinator {
	return &Coordinator{
		Store:        store,
		Inventory:    inv,
		Credit:       credit,
		Rates:        rates,
		Restrictions: restrictions,
		Clock:        core.SystemClock{},
		Retry:        core.DefaultRetryPolicy,
		Timeout:      DefaultTimeout,
		Log:          zerolog.Nop(),
	}
}

// inTx runs fn in a retried unit of work.
func (c *Coordinator) inTx(ctx context.Context, op string, fn func(s core.Store) error) error {
	policy := c.Retry
	policy.OnRetry = func(attempt int, err error) {
		observability.ObserveRetry("booking")
		c.Log.Debug().Str("op", op).Int("attempt", attempt).Err(err).Msg("retrying after version conflict")
	}
	return core.Retry(ctx, policy, func(ctx context.Context) error {
		return c.Store.WithTx(ctx, fn)
	})
}

// budget applies the coordinator timeout to ctx.
func (c *Coordinator) budget(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.Timeout)
}

// classify turns a spent time budget into a structured error.
func (c *Coordinator) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.Wrap(core.KindInternal, err, "booking exceeded its time budget").
			With("timeoutMs", c.Timeout.Milliseconds())
	}
	return err
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(core.KindOf(err))
}

// =============================================================================
// BOOK
// =============================================================================

type Request struct {
	BookingID  core.BookingID
	HotelID    core.HotelID
	RoomTypeID core.RoomTypeID
	CheckIn    calendar.Date
	CheckOut   calendar.Date
	Rooms      int
	Guests     int
	CompanyID  core.CompanyID
	Source     string
	Actor      string
	PromoCode  string
	PlanID     core.RatePlanID
}

type Result struct {
	BookingID           core.BookingID         `json:"bookingId"`
	Status              core.BookingStatus     `json:"status"`
	TotalAmount         decimal.Decimal        `json:"totalAmount"`
	Breakdown           []pricing.NightlyRate  `json:"breakdown"`
	PlanID              core.RatePlanID        `json:"planId,omitempty"`
	PlanName            string                 `json:"planName"`
	CreditTransactionID core.TransactionID     `json:"creditTransactionId,omitempty"`
	CreditStatus        core.TransactionStatus `json:"creditStatus,omitempty"`
}

func (c *Coordinator) validateStay(hotel core.HotelID, rt core.RoomTypeID, checkIn, checkOut calendar.Date, rooms int) error {
	today := calendar.FromTime(c.Clock.Now())
	switch {
	case hotel == "" || rt == "":
		return core.Validationf("hotelId and roomTypeId are required")
	case checkIn.IsZero() || checkOut.IsZero():
		return core.Validationf("checkIn and checkOut are required")
	case !checkOut.After(checkIn):
		return core.Validationf("checkOut %s must be after checkIn %s", checkOut, checkIn).With("field", "checkOut")
	case checkIn.Before(today):
		return core.Validationf("checkIn %s is in the past", checkIn).With("field", "checkIn")
	case rooms < 1:
		return core.Validationf("rooms must be >= 1").With("field", "roomsCount")
	}
	return nil
}

// price quotes the stay for all rooms under the cheapest plan whose
// seasonal restrictions allow it. When every qualifying plan is restricted
// the first restriction is returned.
func (c *Coordinator) price(ctx context.Context, req Request) (pricing.Quote, decimal.Decimal, error) {
	now := c.Clock.Now()
	qreq := pricing.QuoteRequest{
		HotelID: req.HotelID, RoomTypeID: req.RoomTypeID, CheckIn: req.CheckIn, CheckOut: req.CheckOut,
		Guests: req.Guests, Rooms: req.Rooms, PromoCode: req.PromoCode, PlanID: req.PlanID, BookedAt: now,
	}
	allowed := func(plan core.RatePlanID) error {
		return c.Restrictions.CheckStay(ctx, season.StayRequest{
			HotelID: req.HotelID, RoomTypeID: req.RoomTypeID, PlanID: plan,
			CheckIn: req.CheckIn, CheckOut: req.CheckOut, BookedAt: now,
		})
	}
	rooms := decimal.NewFromInt(int64(req.Rooms))

	all, err := c.Rates.AllRates(ctx, qreq)
	if err != nil {
		return pricing.Quote{}, decimal.Zero, err
	}
	var restricted error
	for _, q := range all.Quotes {
		err := allowed(q.PlanID)
		if err == nil {
			return q, q.TotalAmount.Mul(rooms), nil
		}
		if core.KindOf(err) != core.KindSeasonalRestriction {
			return pricing.Quote{}, decimal.Zero, err
		}
		if restricted == nil {
			restricted = err
		}
	}
	if restricted != nil {
		return pricing.Quote{}, decimal.Zero, restricted
	}

	// No plan qualified: the standard rate, if enabled, has no plan.
	if err := allowed(""); err != nil {
		return pricing.Quote{}, decimal.Zero, err
	}
	q, err := c.Rates.BestRate(ctx, qreq)
	if err != nil {
		return pricing.Quote{}, decimal.Zero, err
	}
	return q, q.TotalAmount.Mul(rooms), nil
}

// Book reserves, prices and debits a new booking atomically.
func (c *Coordinator) Book(ctx context.Context, req Request) (res Result, err error) {
	defer func() { observability.ObserveBooking("book", outcome(err)) }()

	if req.BookingID == "" {
		req.BookingID = core.BookingID(core.NewID("booking"))
	}
	if err := c.validateStay(req.HotelID, req.RoomTypeID, req.CheckIn, req.CheckOut, req.Rooms); err != nil {
		return Result{}, err
	}
	ctx, cancel := c.budget(ctx)
	defer cancel()

	q, total, err := c.price(ctx, req)
	if err != nil {
		return Result{}, c.classify(err)
	}

	var (
		reserved bool
		nights   []calendar.Date
		ref      core.BookingRef
		debit    core.CreditTransaction
	)
	err = c.inTx(ctx, "book", func(s core.Store) error {
		reserved = false

		// 1. Booking ids are single use
		if _, err := s.Bookings().GetBooking(ctx, req.BookingID); err == nil {
			return core.Validationf("booking %s already exists", req.BookingID).With("field", "bookingId")
		} else if !core.IsNotFound(err) {
			return fmt.Errorf("loading booking: %w", err)
		}

		// 2. Claim every night
		r, err := c.Inventory.ReserveIn(ctx, s, inventory.ReserveRequest{
			HotelID: req.HotelID, RoomTypeID: req.RoomTypeID, CheckIn: req.CheckIn, CheckOut: req.CheckOut,
			Qty: req.Rooms, BookingID: req.BookingID, Source: req.Source,
		})
		if err != nil {
			return err
		}
		reserved, nights = true, r.Nights

		// 3. Debit the company
		now := c.Clock.Now()
		ref = core.BookingRef{
			ID: req.BookingID, HotelID: req.HotelID, RoomTypeID: req.RoomTypeID,
			CheckIn: req.CheckIn, CheckOut: req.CheckOut, Rooms: req.Rooms, Guests: req.Guests,
			CompanyID: req.CompanyID, Source: req.Source, Status: core.BookingConfirmed,
			PlanID: q.PlanID, PlanName: q.PlanName, TotalAmount: total,
			CreatedBy: req.Actor, CreatedAt: now, UpdatedAt: now,
		}
		debit = core.CreditTransaction{}
		if req.CompanyID != "" && total.IsPositive() {
			status := core.StatusProcessed
			if q.RequiresApproval(total) {
				status = core.StatusPending
			}
			debit, err = c.Credit.PostIn(ctx, s, corporate.PostRequest{
				HotelID:     req.HotelID,
				CompanyID:   req.CompanyID,
				BookingID:   req.BookingID,
				Type:        core.TxDebit,
				Amount:      total,
				Description: fmt.Sprintf("%s %s..%s x%d", req.RoomTypeID, req.CheckIn, req.CheckOut, req.Rooms),
				Reference:   string(req.BookingID),
				Status:      status,
				CreatedBy:   req.Actor,
			})
			if err != nil {
				return err
			}
			ref.CreditTransactionID = debit.ID
			if debit.Status == core.StatusPending {
				ref.Status = core.BookingPending
			}
		}

		// 4. Keep the reference
		if err := s.Bookings().SaveBooking(ctx, ref); err != nil {
			return fmt.Errorf("saving booking: %w", err)
		}
		return nil
	})
	if err != nil {
		err = c.classify(err)
		if reserved {
			c.compensate(ctx, req, err)
		}
		return Result{}, err
	}

	c.Inventory.Notify(req.HotelID, req.RoomTypeID, nights)
	if debit.ID != "" {
		observability.ObserveCreditPosting(string(debit.Type), string(debit.Status))
	}
	c.Log.Info().
		Str("booking", string(ref.ID)).
		Str("hotel", string(ref.HotelID)).
		Str("roomType", string(ref.RoomTypeID)).
		Stringer("checkIn", ref.CheckIn).
		Stringer("checkOut", ref.CheckOut).
		Int("rooms", ref.Rooms).
		Str("total", total.StringFixed(2)).
		Str("company", string(ref.CompanyID)).
		Msg("booking confirmed")
	return Result{
		BookingID:           ref.ID,
		Status:              ref.Status,
		TotalAmount:         total,
		Breakdown:           q.NightlyRates,
		PlanID:              q.PlanID,
		PlanName:            q.PlanName,
		CreditTransactionID: debit.ID,
		CreditStatus:        debit.Status,
	}, nil
}

// compensate releases the booking's rooms after a failed unit of work. It
// runs on a context detached from the caller's deadline.
func (c *Coordinator) compensate(ctx context.Context, req Request, cause error) {
	observability.ObserveCompensation(string(core.KindOf(cause)))
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultTimeout)
	defer cancel()

	res, err := c.Inventory.Release(ctx, inventory.ReleaseRequest{
		HotelID: req.HotelID, RoomTypeID: req.RoomTypeID,
		CheckIn: req.CheckIn, CheckOut: req.CheckOut, BookingID: req.BookingID,
	})
	ev := c.Log.Warn()
	if err != nil {
		ev = c.Log.Error().AnErr("releaseError", err)
	}
	ev.Str("event", "compensation").
		Err(cause).
		Str("booking", string(req.BookingID)).
		Str("hotel", string(req.HotelID)).
		Str("roomType", string(req.RoomTypeID)).
		Stringer("checkIn", req.CheckIn).
		Stringer("checkOut", req.CheckOut).
		Int("releasedRooms", res.ReleasedRooms).
		Msg("compensating release after failed booking")
}

// =============================================================================
// QUERIES AND STATUS SYNC
// =============================================================================

func (c *Coordinator) Get(ctx context.Context, id core.BookingID) (core.BookingRef, error) {
	return c.Store.Bookings().GetBooking(ctx, id)
}

// UpdateStatus records a status reported by the booking's owner.
// Cancellation goes through Cancel so the ledgers are reversed.
func (c *Coordinator) UpdateStatus(ctx context.Context, id core.BookingID, to core.BookingStatus, actor string) (core.BookingRef, error) {
	if to == core.BookingCancelled {
		return core.BookingRef{}, core.Validationf("use cancel to cancel booking %s", id).With("field", "status")
	}
	var out core.BookingRef
	err := c.inTx(ctx, "update-status", func(s core.Store) error {
		ref, err := s.Bookings().GetBooking(ctx, id)
		if err != nil {
			return err
		}
		if !core.CanMoveBooking(ref.Status, to) {
			return core.Errorf(core.KindStateTransition, "booking %s cannot move from %s to %s", id, ref.Status, to).
				With("from", ref.Status).With("to", to)
		}
		ref.Status = to
		ref.UpdatedAt = c.Clock.Now()
		if err := s.Bookings().SaveBooking(ctx, ref); err != nil {
			return fmt.Errorf("saving booking: %w", err)
		}
		out = ref
		return nil
	})
	observability.ObserveBooking("status", outcome(err))
	if err != nil {
		return core.BookingRef{}, err
	}
	c.Log.Info().Str("booking", string(id)).Str("status", string(to)).Str("actor", actor).Msg("booking status updated")
	return out, nil
}
