package booking

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/hotel-core/calendar"
	"github.com/warp/hotel-core/core"
	"github.com/warp/hotel-core/corporate"
	"github.com/warp/hotel-core/inventory"
	"github.com/warp/hotel-core/observability"
	"github.com/warp/hotel-core/pricing"
)

// =============================================================================
// OUTSTANDING CREDIT
// =============================================================================

// exposure is what a booking currently owes its company.
type exposure struct {
	pending     []core.CreditTransaction
	outstanding decimal.Decimal
	lastDebit   core.TransactionID
}

// exposureOf sums processed debits minus processed credits and refunds
// linked to the booking.
func exposureOf(ctx context.Context, s core.Store, ref core.BookingRef) (exposure, error) {
	out := exposure{outstanding: decimal.Zero}
	if ref.CompanyID == "" {
		return out, nil
	}
	txs, err := s.Credit().ListTransactions(ctx, core.CreditFilter{CompanyID: ref.CompanyID, BookingID: ref.ID})
	if err != nil {
		return exposure{}, fmt.Errorf("listing booking transactions: %w", err)
	}
	for _, t := range txs {
		switch t.Status {
		case core.StatusPending, core.StatusApproved:
			out.pending = append(out.pending, t)
		case core.StatusProcessed:
			out.outstanding = out.outstanding.Sub(t.Effect())
			if t.Type == core.TxDebit {
				out.lastDebit = t.ID
			}
		}
	}
	if out.outstanding.IsNegative() {
		out.outstanding = decimal.Zero
	}
	return out, nil
}

// =============================================================================
// CANCEL
// =============================================================================

type CancelRequest struct {
	BookingID core.BookingID
	Actor     string
	Reason    string

	// RefundAmount limits the refund; nil refunds everything outstanding.
	// A partial amount is posted as a credit, a full one as a refund.
	RefundAmount *decimal.Decimal
}

type CancelResult struct {
	BookingID             core.BookingID       `json:"bookingId"`
	ReleasedRooms         int                  `json:"releasedRooms"`
	RefundTransactionID   core.TransactionID   `json:"refundTransactionId,omitempty"`
	RefundAmount          decimal.Decimal      `json:"refundAmount"`
	CancelledTransactions []core.TransactionID `json:"cancelledTransactions,omitempty"`
}

func (c *Coordinator) Cancel(ctx context.Context, req CancelRequest) (res CancelResult, err error) {
	defer func() { observability.ObserveBooking("cancel", outcome(err)) }()

	ctx, cancel := c.budget(ctx)
	defer cancel()

	var ref core.BookingRef
	var nights []calendar.Date
	err = c.inTx(ctx, "cancel", func(s core.Store) error {
		res = CancelResult{BookingID: req.BookingID, RefundAmount: decimal.Zero}

		var err error
		if ref, err = s.Bookings().GetBooking(ctx, req.BookingID); err != nil {
			return err
		}
		if !core.CanMoveBooking(ref.Status, core.BookingCancelled) {
			return core.Errorf(core.KindStateTransition, "booking %s is %s and cannot be cancelled", ref.ID, ref.Status).
				With("from", ref.Status)
		}

		// 1. Release the rooms
		rel, err := c.Inventory.ReleaseIn(ctx, s, inventory.ReleaseRequest{HotelID: ref.HotelID, BookingID: ref.ID})
		if err != nil {
			return err
		}
		res.ReleasedRooms, nights = rel.ReleasedRooms, rel.Nights

		// 2. Withdraw what was never processed
		exp, err := exposureOf(ctx, s, ref)
		if err != nil {
			return err
		}
		for _, t := range exp.pending {
			if _, err := c.Credit.CancelIn(ctx, s, t.ID, req.Actor, "booking cancelled"); err != nil {
				return err
			}
			res.CancelledTransactions = append(res.CancelledTransactions, t.ID)
		}

		// 3. Give back the outstanding debit
		amount := exp.outstanding
		txType := core.TxRefund
		if req.RefundAmount != nil {
			switch {
			case req.RefundAmount.IsNegative():
				return core.Validationf("refundAmount must be >= 0").With("field", "refundAmount")
			case req.RefundAmount.GreaterThan(exp.outstanding):
				return core.Validationf("refundAmount %s exceeds the outstanding %s", req.RefundAmount.StringFixed(2), exp.outstanding.StringFixed(2)).
					With("field", "refundAmount")
			case req.RefundAmount.LessThan(exp.outstanding):
				txType = core.TxCredit
			}
			amount = *req.RefundAmount
		}
		if amount.IsPositive() {
			refund, err := c.Credit.PostIn(ctx, s, corporate.PostRequest{
				HotelID:     ref.HotelID,
				CompanyID:   ref.CompanyID,
				BookingID:   ref.ID,
				Type:        txType,
				Amount:      amount,
				Description: "booking cancelled",
				Reference:   string(exp.lastDebit),
				CreatedBy:   req.Actor,
			})
			if err != nil {
				return err
			}
			if err := link(ctx, s, exp.lastDebit, refund.ID); err != nil {
				return err
			}
			res.RefundTransactionID, res.RefundAmount = refund.ID, amount
		}

		// 4. Close the reference
		ref.Status = core.BookingCancelled
		ref.UpdatedAt = c.Clock.Now()
		if err := s.Bookings().SaveBooking(ctx, ref); err != nil {
			return fmt.Errorf("saving booking: %w", err)
		}
		return nil
	})
	if err != nil {
		return CancelResult{}, c.classify(err)
	}
	if len(nights) > 0 {
		c.Inventory.Notify(ref.HotelID, ref.RoomTypeID, nights)
	}
	c.Log.Info().
		Str("booking", string(ref.ID)).
		Str("actor", req.Actor).
		Str("reason", req.Reason).
		Str("refund", res.RefundAmount.StringFixed(2)).
		Msg("booking cancelled")
	return res, nil
}

// link ties a correcting entry to the debit it reverses, both ways.
func link(ctx context.Context, s core.Store, debit, correction core.TransactionID) error {
	if debit == "" {
		return nil
	}
	if err := s.Credit().LinkTransaction(ctx, correction, debit); err != nil {
		return fmt.Errorf("linking %s: %w", correction, err)
	}
	if err := s.Credit().LinkTransaction(ctx, debit, correction); err != nil {
		return fmt.Errorf("linking %s: %w", debit, err)
	}
	return nil
}

// =============================================================================
// MODIFY
// =============================================================================

// ModifyRequest changes dates, room type or room count. Zero fields keep
// the booking's current value.
type ModifyRequest struct {
	BookingID  core.BookingID
	RoomTypeID core.RoomTypeID
	CheckIn    calendar.Date
	CheckOut   calendar.Date
	Rooms      int
	Guests     int
	PromoCode  string
	Actor      string
}

type ModifyResult struct {
	BookingID           core.BookingID        `json:"bookingId"`
	PreviousTotal       decimal.Decimal       `json:"previousTotal"`
	TotalAmount         decimal.Decimal       `json:"totalAmount"`
	Delta               decimal.Decimal       `json:"delta"`
	Breakdown           []pricing.NightlyRate `json:"breakdown"`
	Status              core.BookingStatus    `json:"status"`

	// CreditTransactionID is the entry posted for the change, if any.
	CreditTransactionID   core.TransactionID   `json:"creditTransactionId,omitempty"`
	CancelledTransactions []core.TransactionID `json:"cancelledTransactions,omitempty"`
}

func (c *Coordinator) Modify(ctx context.Context, req ModifyRequest) (res ModifyResult, err error) {
	defer func() { observability.ObserveBooking("modify", outcome(err)) }()

	ctx, cancel := c.budget(ctx)
	defer cancel()

	old, err := c.Get(ctx, req.BookingID)
	if err != nil {
		return ModifyResult{}, err
	}
	if old.Status != core.BookingPending && old.Status != core.BookingConfirmed {
		return ModifyResult{}, core.Errorf(core.KindStateTransition, "booking %s is %s and cannot be modified", old.ID, old.Status).
			With("from", old.Status)
	}
	next := Request{
		BookingID:  old.ID,
		HotelID:    old.HotelID,
		RoomTypeID: pick(req.RoomTypeID, old.RoomTypeID),
		CheckIn:    old.CheckIn,
		CheckOut:   old.CheckOut,
		Rooms:      old.Rooms,
		Guests:     old.Guests,
		CompanyID:  old.CompanyID,
		Source:     old.Source,
		Actor:      req.Actor,
		PromoCode:  req.PromoCode,
	}
	if !req.CheckIn.IsZero() {
		next.CheckIn = req.CheckIn
	}
	if !req.CheckOut.IsZero() {
		next.CheckOut = req.CheckOut
	}
	if req.Rooms > 0 {
		next.Rooms = req.Rooms
	}
	if req.Guests > 0 {
		next.Guests = req.Guests
	}
	if err := c.validateStay(next.HotelID, next.RoomTypeID, next.CheckIn, next.CheckOut, next.Rooms); err != nil {
		return ModifyResult{}, err
	}
	q, total, err := c.price(ctx, next)
	if err != nil {
		return ModifyResult{}, c.classify(err)
	}

	var released, reserved []calendar.Date
	err = c.inTx(ctx, "modify", func(s core.Store) error {
		ref, err := s.Bookings().GetBooking(ctx, old.ID)
		if err != nil {
			return err
		}
		if !ref.UpdatedAt.Equal(old.UpdatedAt) {
			return fmt.Errorf("booking %s changed while repricing: %w", ref.ID, core.ErrConcurrentModification)
		}
		res = ModifyResult{BookingID: ref.ID, PreviousTotal: ref.TotalAmount, TotalAmount: total, Breakdown: q.NightlyRates}

		// 1. Release the old stay, then claim the new one
		rel, err := c.Inventory.ReleaseIn(ctx, s, inventory.ReleaseRequest{HotelID: ref.HotelID, BookingID: ref.ID})
		if err != nil {
			return err
		}
		rsv, err := c.Inventory.ReserveIn(ctx, s, inventory.ReserveRequest{
			HotelID: next.HotelID, RoomTypeID: next.RoomTypeID, CheckIn: next.CheckIn, CheckOut: next.CheckOut,
			Qty: next.Rooms, BookingID: ref.ID, Source: ref.Source,
		})
		if err != nil {
			return err
		}
		released, reserved = rel.Nights, rsv.Nights

		// 2. Settle the company against what it has actually been charged.
		// Unprocessed debits are withdrawn and the remainder is reposted
		// pending, so an awaited approval is never turned into credit.
		res.Delta = total.Sub(ref.TotalAmount)
		if ref.CompanyID != "" {
			exp, err := exposureOf(ctx, s, ref)
			if err != nil {
				return err
			}
			awaiting := len(exp.pending) > 0
			for _, t := range exp.pending {
				if _, err := c.Credit.CancelIn(ctx, s, t.ID, req.Actor, "booking modified"); err != nil {
					return err
				}
				res.CancelledTransactions = append(res.CancelledTransactions, t.ID)
			}
			owed := total.Sub(exp.outstanding)
			pending := false
			if !owed.IsZero() {
				post := corporate.PostRequest{
					HotelID:     ref.HotelID,
					CompanyID:   ref.CompanyID,
					BookingID:   ref.ID,
					Type:        core.TxDebit,
					Amount:      owed,
					Description: fmt.Sprintf("booking modified %s..%s x%d", next.CheckIn, next.CheckOut, next.Rooms),
					Reference:   string(ref.CreditTransactionID),
					CreatedBy:   req.Actor,
				}
				switch {
				case owed.IsNegative():
					post.Type, post.Amount = core.TxCredit, owed.Neg()
				case awaiting || q.RequiresApproval(owed):
					post.Status, pending = core.StatusPending, true
				}
				t, err := c.Credit.PostIn(ctx, s, post)
				if err != nil {
					return err
				}
				if post.Type == core.TxCredit {
					if err := link(ctx, s, exp.lastDebit, t.ID); err != nil {
						return err
					}
				}
				if awaiting && pending {
					ref.CreditTransactionID = t.ID
				}
				res.CreditTransactionID = t.ID
			}
			if ref.Status == core.BookingPending && !pending {
				ref.Status = core.BookingConfirmed
			}
		}
		res.Status = ref.Status

		// 3. Rewrite the reference
		ref.RoomTypeID, ref.CheckIn, ref.CheckOut = next.RoomTypeID, next.CheckIn, next.CheckOut
		ref.Rooms, ref.Guests = next.Rooms, next.Guests
		ref.PlanID, ref.PlanName, ref.TotalAmount = q.PlanID, q.PlanName, total
		ref.UpdatedAt = c.Clock.Now()
		if err := s.Bookings().SaveBooking(ctx, ref); err != nil {
			return fmt.Errorf("saving booking: %w", err)
		}
		return nil
	})
	if err != nil {
		err = c.classify(err)
		c.Log.Warn().Str("event", "compensation").Err(err).Str("booking", string(old.ID)).
			Msg("modification rolled back; original stay kept")
		return ModifyResult{}, err
	}
	c.Inventory.Notify(old.HotelID, old.RoomTypeID, released)
	c.Inventory.Notify(next.HotelID, next.RoomTypeID, reserved)
	c.Log.Info().Str("booking", string(old.ID)).Str("delta", res.Delta.StringFixed(2)).Msg("booking modified")
	return res, nil
}

func pick[T comparable](v, fallback T) T {
	var zero T
	if v == zero {
		return fallback
	}
	return v
}
