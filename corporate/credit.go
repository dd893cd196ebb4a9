/*
credit.go - Append-only corporate credit journal

PURPOSE:
  Every change to a company's available credit is explained by one
  CreditTransaction. The journal entry and the company update are written
  in the same unit of work, so the balance on a processed entry is always
  the company's available credit right after it was applied.

STATE MACHINE:

	create ─▶ [pending] ──approve──▶ [approved] ──process──▶ [processed]
	              │
	              └──reject──▶ [rejected]
	          [pending|approved] ──cancel──▶ [cancelled]

  Pending entries do not move credit. Approval processes the entry in the
  same unit of work. Terminal entries are never edited; corrections are new
  adjustment entries.

POSTING:
  debit              available -= amount, requires available >= amount
  credit/refund      available += amount, capped at the limit
  payment            same as credit
  adjustment         direction increase/decrease, same rules as above

DUE DATES:
  A debit without a due date is due transactionDate + paymentTerms days.

SEE ALSO:
  - integrity.go: Hash chain, Verify, Audit
  - registry.go: Company document
*/
package corporate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/hotel-core/calendar"
	"github.com/warp/hotel-core/core"
	"github.com/warp/hotel-core/observability"
)

type CreditLedger struct {
	Store core.TxStore
	Clock core.Clock
	Retry core.RetryPolicy
	Log   zerolog.Logger
}

func NewCreditLedger(store core.TxStore) *CreditLedger {
	return &CreditLedger{
		Store: store,
		Clock: core.SystemClock{},
		Retry: core.DefaultRetryPolicy,
		Log:   zerolog.Nop(),
	}
}

// =============================================================================
// POST
// =============================================================================

// PostRequest creates a journal entry. Status is pending or processed;
// empty means processed.
type PostRequest struct {
	HotelID         core.HotelID
	CompanyID       core.CompanyID
	BookingID       core.BookingID
	Type            core.TransactionType
	Direction       core.AdjustmentDirection
	Amount          decimal.Decimal
	Description     string
	Reference       string
	TransactionDate time.Time
	DueDate         calendar.Date
	Status          core.TransactionStatus
	CreatedBy       string
}

func (l *CreditLedger) Post(ctx context.Context, req PostRequest) (core.CreditTransaction, error) {
	var out core.CreditTransaction
	err := inTx(ctx, l.Store, l.Retry, l.Log, "post", func(s core.Store) error {
		var err error
		out, err = l.PostIn(ctx, s, req)
		return err
	})
	if err != nil {
		l.Log.Debug().Err(err).Str("company", string(req.CompanyID)).Str("type", string(req.Type)).Msg("posting refused")
		return core.CreditTransaction{}, err
	}
	observability.ObserveCreditPosting(string(out.Type), string(out.Status))
	l.Log.Info().
		Str("company", string(out.CompanyID)).
		Str("transaction", string(out.ID)).
		Str("type", string(out.Type)).
		Str("amount", out.Amount.StringFixed(2)).
		Str("status", string(out.Status)).
		Msg("credit transaction posted")
	return out, nil
}

// PostIn posts within the caller's unit of work.
func (l *CreditLedger) PostIn(ctx context.Context, s core.Store, req PostRequest) (core.CreditTransaction, error) {
	if req.Status == "" {
		req.Status = core.StatusProcessed
	}
	if req.Status != core.StatusPending && req.Status != core.StatusProcessed {
		return core.CreditTransaction{}, core.Validationf("a new transaction is pending or processed, not %s", req.Status)
	}
	if !req.Amount.IsPositive() {
		return core.CreditTransaction{}, core.Validationf("amount must be > 0").With("field", "amount")
	}

	// 1. Company must exist at this hotel; debits need an active account
	c, err := s.Companies().GetCompany(ctx, req.CompanyID)
	if err != nil {
		return core.CreditTransaction{}, err
	}
	if req.HotelID == "" {
		req.HotelID = c.HotelID
	}
	if c.HotelID != req.HotelID {
		return core.CreditTransaction{}, core.NotFoundf("company %s not found at hotel %s", req.CompanyID, req.HotelID)
	}
	if !c.IsActive && (req.Type == core.TxDebit || req.Direction == core.AdjustDecrease) {
		return core.CreditTransaction{}, core.Errorf(core.KindCompanyInactive, "company %s is inactive", c.ID)
	}

	// 2. Build the entry
	now := l.Clock.Now()
	t := core.CreditTransaction{
		ID:              core.TransactionID(core.NewID("txn")),
		HotelID:         req.HotelID,
		CompanyID:       req.CompanyID,
		BookingID:       req.BookingID,
		Type:            req.Type,
		Direction:       req.Direction,
		Amount:          req.Amount,
		Balance:         c.AvailableCredit,
		Description:     req.Description,
		Reference:       req.Reference,
		TransactionDate: req.TransactionDate,
		DueDate:         req.DueDate,
		Status:          core.StatusPending,
		CreatedBy:       req.CreatedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if t.TransactionDate.IsZero() {
		t.TransactionDate = now
	}
	t.TransactionDate = t.TransactionDate.UTC().Truncate(time.Microsecond)
	if t.Type == core.TxDebit && t.DueDate.IsZero() {
		t.DueDate = calendar.FromTime(t.TransactionDate).AddDays(c.PaymentTerms)
	}
	if err := t.Validate(); err != nil {
		return core.CreditTransaction{}, err
	}

	// 3. Pending entries wait for approval without moving credit
	if req.Status == core.StatusPending {
		if err := s.Credit().InsertTransaction(ctx, t); err != nil {
			return core.CreditTransaction{}, fmt.Errorf("inserting transaction: %w", err)
		}
		return t, nil
	}

	// 4. Apply to the company and chain
	t.Status = core.StatusProcessed
	if err := l.process(ctx, s, c, &t); err != nil {
		return core.CreditTransaction{}, err
	}
	if err := s.Credit().InsertTransaction(ctx, t); err != nil {
		return core.CreditTransaction{}, fmt.Errorf("inserting transaction: %w", err)
	}
	return t, nil
}

// process applies t to the company under its version, snapshots the
// balance and links t into the company's hash chain.
func (l *CreditLedger) process(ctx context.Context, s core.Store, c core.Company, t *core.CreditTransaction) error {
	c, err := applyDelta(c, t.Effect())
	if err != nil {
		return err
	}
	c.UpdatedAt = l.Clock.Now()
	if _, err := saveCompany(ctx, s, c); err != nil {
		return err
	}
	t.Balance = c.AvailableCredit

	head, ok, err := s.Credit().ChainHead(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("loading chain head: %w", err)
	}
	t.ChainSeq, t.PrevHash = 1, ""
	if ok {
		t.ChainSeq, t.PrevHash = head.ChainSeq+1, head.IntegrityHash
	}
	t.IntegrityHash = Hash(*t)
	return nil
}

// =============================================================================
// APPROVAL WORKFLOW
// =============================================================================

// Approve moves a pending entry through approved to processed.
func (l *CreditLedger) Approve(ctx context.Context, id core.TransactionID, actor, notes string) (core.CreditTransaction, error) {
	return l.resolve(ctx, "approve", id, func(s core.Store, t *core.CreditTransaction) error {
		if t.Status != core.StatusPending {
			return core.Errorf(core.KindStateTransition, "transaction %s is %s, only pending transactions can be approved", t.ID, t.Status).
				With("from", t.Status).With("to", core.StatusApproved)
		}
		if err := t.Transition(core.StatusApproved); err != nil {
			return err
		}
		t.ApprovalDetails = &core.ApprovalDetails{Approver: actor, At: l.Clock.Now(), Notes: notes}
		c, err := s.Companies().GetCompany(ctx, t.CompanyID)
		if err != nil {
			return err
		}
		if !c.IsActive && t.Effect().IsNegative() {
			return core.Errorf(core.KindCompanyInactive, "company %s is inactive", c.ID)
		}
		if err := t.Transition(core.StatusProcessed); err != nil {
			return err
		}
		return l.process(ctx, s, c, t)
	})
}

func (l *CreditLedger) Reject(ctx context.Context, id core.TransactionID, actor, reason string) (core.CreditTransaction, error) {
	return l.resolve(ctx, "reject", id, func(_ core.Store, t *core.CreditTransaction) error {
		if err := t.Transition(core.StatusRejected); err != nil {
			return err
		}
		t.ApprovalDetails = &core.ApprovalDetails{Approver: actor, At: l.Clock.Now(), Notes: reason}
		return nil
	})
}

// Cancel withdraws an entry that has not been processed.
func (l *CreditLedger) Cancel(ctx context.Context, id core.TransactionID, actor, reason string) (core.CreditTransaction, error) {
	return l.resolve(ctx, "cancel", id, l.cancel(actor, reason))
}

// CancelIn withdraws an entry within the caller's unit of work.
func (l *CreditLedger) CancelIn(ctx context.Context, s core.Store, id core.TransactionID, actor, reason string) (core.CreditTransaction, error) {
	return l.resolveIn(ctx, s, id, l.cancel(actor, reason))
}

func (l *CreditLedger) cancel(actor, reason string) func(core.Store, *core.CreditTransaction) error {
	return func(_ core.Store, t *core.CreditTransaction) error {
		if err := t.Transition(core.StatusCancelled); err != nil {
			return err
		}
		t.ApprovalDetails = &core.ApprovalDetails{Approver: actor, At: l.Clock.Now(), Notes: reason}
		return nil
	}
}

func (l *CreditLedger) resolve(ctx context.Context, op string, id core.TransactionID, fn func(s core.Store, t *core.CreditTransaction) error) (core.CreditTransaction, error) {
	var out core.CreditTransaction
	err := inTx(ctx, l.Store, l.Retry, l.Log, op, func(s core.Store) error {
		var err error
		out, err = l.resolveIn(ctx, s, id, fn)
		return err
	})
	if err != nil {
		return core.CreditTransaction{}, err
	}
	observability.ObserveCreditPosting(string(out.Type), string(out.Status))
	l.Log.Info().Str("transaction", string(id)).Str("op", op).Str("status", string(out.Status)).Msg("credit transaction resolved")
	return out, nil
}

func (l *CreditLedger) resolveIn(ctx context.Context, s core.Store, id core.TransactionID, fn func(s core.Store, t *core.CreditTransaction) error) (core.CreditTransaction, error) {
	t, err := s.Credit().GetTransaction(ctx, id)
	if err != nil {
		return core.CreditTransaction{}, err
	}
	if err := fn(s, &t); err != nil {
		return core.CreditTransaction{}, err
	}
	t.UpdatedAt = l.Clock.Now()
	if err := s.Credit().UpdateTransaction(ctx, t); err != nil {
		return core.CreditTransaction{}, err
	}
	return t, nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (l *CreditLedger) Get(ctx context.Context, id core.TransactionID) (core.CreditTransaction, error) {
	return l.Store.Credit().GetTransaction(ctx, id)
}

func (l *CreditLedger) List(ctx context.Context, filter core.CreditFilter) ([]core.CreditTransaction, error) {
	return l.Store.Credit().ListTransactions(ctx, filter)
}

type Summary struct {
	CompanyID        core.CompanyID  `json:"companyId"`
	TotalDebits      decimal.Decimal `json:"totalDebits"`
	TotalCredits     decimal.Decimal `json:"totalCredits"`
	NetBalance       decimal.Decimal `json:"netBalance"`
	TransactionCount int             `json:"transactionCount"`
	CreditLimit      decimal.Decimal `json:"creditLimit"`
	AvailableCredit  decimal.Decimal `json:"availableCredit"`
}

// Summary totals the processed entries of a company. Debits include
// decreasing adjustments; credits include payments, refunds and increasing
// adjustments. NetBalance is credits minus debits.
func (l *CreditLedger) Summary(ctx context.Context, company core.CompanyID) (Summary, error) {
	c, err := l.Store.Companies().GetCompany(ctx, company)
	if err != nil {
		return Summary{}, err
	}
	txs, err := l.List(ctx, core.CreditFilter{CompanyID: company, Statuses: []core.TransactionStatus{core.StatusProcessed}})
	if err != nil {
		return Summary{}, fmt.Errorf("listing transactions: %w", err)
	}
	out := Summary{
		CompanyID: company, TotalDebits: decimal.Zero, TotalCredits: decimal.Zero,
		CreditLimit: c.CreditLimit, AvailableCredit: c.AvailableCredit,
	}
	for _, t := range txs {
		if e := t.Effect(); e.IsNegative() {
			out.TotalDebits = out.TotalDebits.Add(t.Amount)
		} else {
			out.TotalCredits = out.TotalCredits.Add(t.Amount)
		}
		out.TransactionCount++
	}
	out.NetBalance = out.TotalCredits.Sub(out.TotalDebits)
	return out, nil
}

type OverdueEntry struct {
	core.CreditTransaction
	DaysOverdue int `json:"daysOverdue"`
}

// Overdue returns processed debits of the hotel whose due date is before
// today - daysOverdue, oldest due date first.
func (l *CreditLedger) Overdue(ctx context.Context, hotel core.HotelID, daysOverdue int) ([]OverdueEntry, error) {
	if daysOverdue < 0 {
		return nil, core.Validationf("daysOverdue must be >= 0")
	}
	today := calendar.FromTime(l.Clock.Now())
	cutoff := today.AddDays(-daysOverdue)
	txs, err := l.List(ctx, core.CreditFilter{
		HotelID:   hotel,
		Types:     []core.TransactionType{core.TxDebit},
		Statuses:  []core.TransactionStatus{core.StatusProcessed},
		DueBefore: cutoff,
	})
	if err != nil {
		return nil, fmt.Errorf("listing overdue debits: %w", err)
	}
	out := []OverdueEntry{}
	for _, t := range txs {
		if t.IsOverdue(cutoff) {
			out = append(out, OverdueEntry{CreditTransaction: t, DaysOverdue: calendar.DaysBetween(t.DueDate, today)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

type MonthlyLine struct {
	CompanyID    core.CompanyID  `json:"companyId"`
	CompanyName  string          `json:"companyName"`
	Month        string          `json:"month"`
	Debits       decimal.Decimal `json:"debits"`
	Credits      decimal.Decimal `json:"credits"`
	Net          decimal.Decimal `json:"net"`
	Transactions int             `json:"transactionCount"`
}

// MonthlyReport groups the hotel's processed entries of one month by company.
func (l *CreditLedger) MonthlyReport(ctx context.Context, hotel core.HotelID, year int, month time.Month) ([]MonthlyLine, error) {
	if month < time.January || month > time.December {
		return nil, core.Validationf("month must be within 1..12")
	}
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	txs, err := l.List(ctx, core.CreditFilter{
		HotelID:  hotel,
		Statuses: []core.TransactionStatus{core.StatusProcessed},
		From:     from,
		To:       from.AddDate(0, 1, 0),
	})
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	label := from.Format("2006-01")
	byCompany := make(map[core.CompanyID]*MonthlyLine)
	for _, t := range txs {
		line, ok := byCompany[t.CompanyID]
		if !ok {
			line = &MonthlyLine{CompanyID: t.CompanyID, Month: label, Debits: decimal.Zero, Credits: decimal.Zero}
			if c, err := l.Store.Companies().GetCompany(ctx, t.CompanyID); err == nil {
				line.CompanyName = c.Name
			}
			byCompany[t.CompanyID] = line
		}
		if t.Effect().IsNegative() {
			line.Debits = line.Debits.Add(t.Amount)
		} else {
			line.Credits = line.Credits.Add(t.Amount)
		}
		line.Transactions++
	}
	out := make([]MonthlyLine, 0, len(byCompany))
	for _, line := range byCompany {
		line.Net = line.Credits.Sub(line.Debits)
		out = append(out, *line)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompanyID < out[j].CompanyID })
	return out, nil
}
