package corporate_test

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
	"github.com/warp/hotel-core/corporate"
	"github.com/warp/hotel-core/store/memory"
)

const hotel = core.HotelID("H1")

var now = time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC)

type env struct {
	store    *memory.Store
	registry *corporate.Registry
	ledger   *corporate.CreditLedger
	monitor  *corporate.Monitor
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newEnv(t *testing.T) env {
	t.Helper()
	store := memory.New()
	clock := core.FixedClock{At: now}
	r := corporate.NewRegistry(store)
	r.Clock = clock
	l := corporate.NewCreditLedger(store)
	l.Clock = clock
	m := corporate.NewMonitor(r, l)
	m.Clock = clock
	return env{store: store, registry: r, ledger: l, monitor: m}
}

func (e env) company(t *testing.T, gst string, limit int64) core.Company {
	t.Helper()
	c, err := e.registry.Create(context.Background(), core.Company{
		HotelID: hotel, Name: "Acme " + gst, GSTNumber: gst, CreditLimit: d(limit), PaymentTerms: 30,
	})
	require.NoError(t, err)
	return c
}

func (e env) debit(c core.Company, amount int64) (core.CreditTransaction, error) {
	return e.ledger.Post(context.Background(), corporate.PostRequest{
		CompanyID: c.ID, Type: core.TxDebit, Amount: d(amount), Description: "stay", CreatedBy: "staff-1",
	})
}

func (e env) available(t *testing.T, id core.CompanyID) decimal.Decimal {
	t.Helper()
	c, err := e.registry.Get(context.Background(), id)
	require.NoError(t, err)
	require.True(t, c.AvailableCredit.GreaterThanOrEqual(decimal.Zero) && c.AvailableCredit.LessThanOrEqual(c.CreditLimit))
	return c.AvailableCredit
}

// =============================================================================
// REGISTRY
// =============================================================================

func TestCreate_NormalizesAndValidates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	c, err := e.registry.Create(ctx, core.Company{
		HotelID: hotel, Name: "Acme", GSTNumber: "27aapfu0939f1zv", CreditLimit: d(10000), PaymentTerms: 45,
		HRContacts: []core.HRContact{
			{Name: "A", Email: "a@acme.test", IsPrimary: true},
			{Name: "B", Email: "b@acme.test", IsPrimary: true},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "27AAPFU0939F1ZV", c.GSTNumber)
	assert.True(t, c.AvailableCredit.Equal(d(10000)))
	assert.True(t, c.HRContacts[0].IsPrimary)
	assert.False(t, c.HRContacts[1].IsPrimary)
	assert.Equal(t, core.BillingMonthly, c.BillingCycle)

	_, err = e.registry.Create(ctx, core.Company{HotelID: "H2", Name: "Copy", GSTNumber: "27AAPFU0939F1ZV", CreditLimit: d(1)})
	assert.ErrorIs(t, err, core.ErrValidation, "GST numbers are unique across hotels")

	tests := []struct {
		name string
		c    core.Company
	}{
		{"bad gst", core.Company{HotelID: hotel, Name: "X", GSTNumber: "27AAPFU0939F1XV", CreditLimit: d(1)}},
		{"bad terms", core.Company{HotelID: hotel, Name: "X", GSTNumber: "29ABCDE1234F1Z5", CreditLimit: d(1), PaymentTerms: 20}},
		{"negative limit", core.Company{HotelID: hotel, Name: "X", GSTNumber: "29ABCDE1234F1Z5", CreditLimit: d(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.registry.Create(ctx, tt.c)
			assert.ErrorIs(t, err, core.ErrValidation)
		})
	}
}

func TestUpdate_LimitChangeKeepsUsedCredit(t *testing.T) {
	e := newEnv(t)
	c := e.company(t, "27AAPFU0939F1ZV", 10000)
	_, err := e.debit(c, 4000)
	require.NoError(t, err)
	ctx := context.Background()

	raised := d(15000)
	c, err = e.registry.Update(ctx, c.ID, corporate.Patch{CreditLimit: &raised})
	require.NoError(t, err)
	assert.True(t, c.AvailableCredit.Equal(d(11000)))

	cut := d(3000)
	c, err = e.registry.Update(ctx, c.ID, corporate.Patch{CreditLimit: &cut})
	require.NoError(t, err)
	assert.True(t, c.AvailableCredit.Equal(decimal.Zero), "clamped into [0, limit]")
}

func TestDeactivate_RefusedWithOpenDependencies(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.company(t, "27AAPFU0939F1ZV", 10000)

	// GIVEN a pending debit
	pending, err := e.ledger.Post(ctx, corporate.PostRequest{
		CompanyID: c.ID, Type: core.TxDebit, Amount: d(500), Status: core.StatusPending,
	})
	require.NoError(t, err)

	_, err = e.registry.Deactivate(ctx, c.ID)
	assert.ErrorIs(t, err, core.ErrCompanyInactive)

	// GIVEN the debit is cancelled but a booking is still confirmed
	_, err = e.ledger.Cancel(ctx, pending.ID, "mgr", "duplicate")
	require.NoError(t, err)
	require.NoError(t, e.store.Bookings().SaveBooking(ctx, core.BookingRef{ID: "B1", HotelID: hotel, CompanyID: c.ID, Status: core.BookingConfirmed}))

	_, err = e.registry.ToggleActive(ctx, c.ID)
	assert.ErrorIs(t, err, core.ErrCompanyInactive)

	// WHEN the booking checks out
	require.NoError(t, e.store.Bookings().SaveBooking(ctx, core.BookingRef{ID: "B1", HotelID: hotel, CompanyID: c.ID, Status: core.BookingCheckedOut}))
	c, err = e.registry.ToggleActive(ctx, c.ID)

	// THEN
	require.NoError(t, err)
	assert.False(t, c.IsActive)

	_, err = e.debit(c, 1)
	assert.ErrorIs(t, err, core.ErrCompanyInactive)
}

func TestFindLowCreditAndHasAvailableCredit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	low := e.company(t, "27AAPFU0939F1ZV", 5000)
	e.company(t, "29ABCDE1234F1Z5", 50000)

	found, err := e.registry.FindLowCredit(ctx, hotel, d(10000))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, low.ID, found[0].ID)

	ok, err := e.registry.HasAvailableCredit(ctx, low.ID, d(5000))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = e.registry.HasAvailableCredit(ctx, low.ID, d(5001))
	require.NoError(t, err)
	assert.False(t, ok)
}

// =============================================================================
// POSTING
// =============================================================================

func TestPost_DebitSnapshotsBalanceAndDueDate(t *testing.T) {
	// GIVEN limit 10000, terms 30
	e := newEnv(t)
	c := e.company(t, "27AAPFU0939F1ZV", 10000)

	// WHEN
	tx, err := e.debit(c, 2160)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, core.StatusProcessed, tx.Status)
	assert.True(t, tx.Balance.Equal(d(7840)))
	assert.Equal(t, calendar.FromTime(now).AddDays(30), tx.DueDate)
	assert.True(t, e.available(t, c.ID).Equal(d(7840)))
	assert.Equal(t, int64(1), tx.ChainSeq)
	assert.Empty(t, tx.PrevHash)
	assert.Equal(t, corporate.Hash(tx), tx.IntegrityHash)
}

func TestPost_DebitBoundary(t *testing.T) {
	e := newEnv(t)
	c := e.company(t, "27AAPFU0939F1ZV", 1000)

	// a debit of available + 1 fails without any state change
	_, err := e.debit(c, 1001)
	assert.ErrorIs(t, err, core.ErrInsufficientCredit)
	assert.True(t, e.available(t, c.ID).Equal(d(1000)))
	txs, err := e.ledger.List(context.Background(), core.CreditFilter{CompanyID: c.ID})
	require.NoError(t, err)
	assert.Empty(t, txs)

	// a debit equal to available succeeds and leaves zero
	_, err = e.debit(c, 1000)
	require.NoError(t, err)
	assert.True(t, e.available(t, c.ID).IsZero())
}

func TestPost_DebitThenCreditRestores(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.company(t, "27AAPFU0939F1ZV", 10000)
	_, err := e.debit(c, 3000)
	require.NoError(t, err)

	_, err = e.ledger.Post(ctx, corporate.PostRequest{CompanyID: c.ID, Type: core.TxCredit, Amount: d(3000)})
	require.NoError(t, err)
	assert.True(t, e.available(t, c.ID).Equal(d(10000)))

	// credits are capped at the limit
	over, err := e.ledger.Post(ctx, corporate.PostRequest{CompanyID: c.ID, Type: core.TxPayment, Amount: d(500)})
	require.NoError(t, err)
	assert.True(t, over.Balance.Equal(d(10000)))
}

func TestPost_BalancesFollowJournalOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.company(t, "27AAPFU0939F1ZV", 10000)
	for _, req := range []corporate.PostRequest{
		{CompanyID: c.ID, Type: core.TxDebit, Amount: d(2500)},
		{CompanyID: c.ID, Type: core.TxAdjustment, Direction: core.AdjustDecrease, Amount: d(500)},
		{CompanyID: c.ID, Type: core.TxRefund, Amount: d(1000)},
		{CompanyID: c.ID, Type: core.TxDebit, Amount: d(4000)},
	} {
		_, err := e.ledger.Post(ctx, req)
		require.NoError(t, err)
	}

	txs, err := e.ledger.List(ctx, core.CreditFilter{CompanyID: c.ID})
	require.NoError(t, err)
	balance := d(10000)
	for _, tx := range txs {
		balance = balance.Add(tx.Effect())
		assert.True(t, balance.Equal(tx.Balance), "seq %d: want %s got %s", tx.ChainSeq, balance, tx.Balance)
	}
	assert.True(t, e.available(t, c.ID).Equal(balance))
}

func TestPost_ConcurrentDebitsSerialize(t *testing.T) {
	e := newEnv(t)
	c := e.company(t, "27AAPFU0939F1ZV", 1000)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.debit(c, 600)
		}()
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, core.ErrInsufficientCredit)
			failures++
		}
	}
	assert.Equal(t, 1, failures)
	assert.True(t, e.available(t, c.ID).Equal(d(400)))
}

// =============================================================================
// STATE MACHINE
// =============================================================================

func TestApprove_ProcessesPendingDebit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.company(t, "27AAPFU0939F1ZV", 10000)

	pending, err := e.ledger.Post(ctx, corporate.PostRequest{CompanyID: c.ID, Type: core.TxDebit, Amount: d(6000), Status: core.StatusPending})
	require.NoError(t, err)
	assert.True(t, e.available(t, c.ID).Equal(d(10000)), "pending does not move credit")

	approved, err := e.ledger.Approve(ctx, pending.ID, "mgr-1", "ok")
	require.NoError(t, err)
	assert.Equal(t, core.StatusProcessed, approved.Status)
	assert.Equal(t, "mgr-1", approved.ApprovalDetails.Approver)
	assert.True(t, approved.Balance.Equal(d(4000)))
	assert.NotEmpty(t, approved.IntegrityHash)
	assert.True(t, e.available(t, c.ID).Equal(d(4000)))
}

func TestStateMachine_RejectsInvalidTransitions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.company(t, "27AAPFU0939F1ZV", 10000)
	pending, err := e.ledger.Post(ctx, corporate.PostRequest{CompanyID: c.ID, Type: core.TxDebit, Amount: d(100), Status: core.StatusPending})
	require.NoError(t, err)

	rejected, err := e.ledger.Reject(ctx, pending.ID, "mgr-1", "not ours")
	require.NoError(t, err)
	assert.Equal(t, core.StatusRejected, rejected.Status)

	_, err = e.ledger.Approve(ctx, pending.ID, "mgr-1", "")
	assert.ErrorIs(t, err, core.ErrStateTransition)
	_, err = e.ledger.Cancel(ctx, pending.ID, "mgr-1", "")
	assert.ErrorIs(t, err, core.ErrStateTransition)

	processed, err := e.debit(c, 100)
	require.NoError(t, err)
	_, err = e.ledger.Cancel(ctx, processed.ID, "mgr-1", "")
	assert.ErrorIs(t, err, core.ErrStateTransition)
}

func TestApprove_InsufficientCreditLeavesPending(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.company(t, "27AAPFU0939F1ZV", 1000)
	pending, err := e.ledger.Post(ctx, corporate.PostRequest{CompanyID: c.ID, Type: core.TxDebit, Amount: d(800), Status: core.StatusPending})
	require.NoError(t, err)
	_, err = e.debit(c, 500)
	require.NoError(t, err)

	_, err = e.ledger.Approve(ctx, pending.ID, "mgr-1", "")

	assert.ErrorIs(t, err, core.ErrInsufficientCredit)
	got, err := e.ledger.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, got.Status)
}

// =============================================================================
// INTEGRITY
// =============================================================================

func TestVerifyAndAudit_DetectTampering(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.company(t, "27AAPFU0939F1ZV", 10000)
	first, err := e.debit(c, 1000)
	require.NoError(t, err)
	second, err := e.debit(c, 2000)
	require.NoError(t, err)
	assert.Equal(t, first.IntegrityHash, second.PrevHash)

	v, err := e.ledger.Verify(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, v.Valid)

	// GIVEN a forged entry appended behind the ledger's back
	forged := second
	forged.ID = "txn-forged"
	forged.ChainSeq = 3
	forged.PrevHash = second.IntegrityHash
	forged.Amount = d(1)
	forged.IntegrityHash = first.IntegrityHash
	require.NoError(t, e.store.Credit().InsertTransaction(ctx, forged))

	// WHEN
	v, err = e.ledger.Verify(ctx, forged.ID)

	// THEN
	assert.ErrorIs(t, err, core.ErrIntegrityViolation)
	assert.False(t, v.Valid)
	assert.Equal(t, "hash mismatch", v.Problem)

	rep, err := e.monitor.RunDailyAudit(ctx, hotel)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Verified)
	assert.Equal(t, 1, rep.Invalid)
	require.Len(t, rep.Details, 1)
	assert.Equal(t, core.TransactionID("txn-forged"), rep.Details[0].TransactionID)

	// the forged record was reported, not repaired
	got, err := e.ledger.Get(ctx, forged.ID)
	require.NoError(t, err)
	assert.Equal(t, first.IntegrityHash, got.IntegrityHash)
}

func TestVerify_OnlyProcessed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.company(t, "27AAPFU0939F1ZV", 10000)
	pending, err := e.ledger.Post(ctx, corporate.PostRequest{CompanyID: c.ID, Type: core.TxDebit, Amount: d(1), Status: core.StatusPending})
	require.NoError(t, err)

	_, err = e.ledger.Verify(ctx, pending.ID)

	assert.ErrorIs(t, err, core.ErrValidation)
}

// =============================================================================
// REPORTS
// =============================================================================

func TestOverdue_DaysThreshold(t *testing.T) {
	// GIVEN a processed debit due five days ago
	e := newEnv(t)
	ctx := context.Background()
	c := e.company(t, "27AAPFU0939F1ZV", 10000)
	today := calendar.FromTime(now)
	_, err := e.ledger.Post(ctx, corporate.PostRequest{
		CompanyID: c.ID, Type: core.TxDebit, Amount: d(700), DueDate: today.AddDays(-5),
	})
	require.NoError(t, err)
	_, err = e.debit(c, 300)
	require.NoError(t, err)

	// WHEN / THEN
	due, err := e.ledger.Overdue(ctx, hotel, 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 5, due[0].DaysOverdue)

	due, err = e.ledger.Overdue(ctx, hotel, 7)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestSummaryAndMonthlyReport(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.company(t, "27AAPFU0939F1ZV", 10000)
	other := e.company(t, "29ABCDE1234F1Z5", 5000)
	_, err := e.debit(c, 3000)
	require.NoError(t, err)
	_, err = e.ledger.Post(ctx, corporate.PostRequest{CompanyID: c.ID, Type: core.TxPayment, Amount: d(1000)})
	require.NoError(t, err)
	_, err = e.ledger.Post(ctx, corporate.PostRequest{
		CompanyID: c.ID, Type: core.TxDebit, Amount: d(9), TransactionDate: now.AddDate(0, -1, 0),
	})
	require.NoError(t, err)
	_, err = e.debit(other, 250)
	require.NoError(t, err)
	_, err = e.ledger.Post(ctx, corporate.PostRequest{CompanyID: c.ID, Type: core.TxDebit, Amount: d(50), Status: core.StatusPending})
	require.NoError(t, err)

	sum, err := e.ledger.Summary(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, sum.TotalDebits.Equal(d(3009)))
	assert.True(t, sum.TotalCredits.Equal(d(1000)))
	assert.True(t, sum.NetBalance.Equal(d(-2009)))
	assert.Equal(t, 3, sum.TransactionCount)

	lines, err := e.ledger.MonthlyReport(ctx, hotel, 2025, time.January)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	byCompany := map[core.CompanyID]corporate.MonthlyLine{lines[0].CompanyID: lines[0], lines[1].CompanyID: lines[1]}
	assert.True(t, byCompany[c.ID].Debits.Equal(d(3000)))
	assert.True(t, byCompany[c.ID].Credits.Equal(d(1000)))
	assert.Equal(t, "2025-01", byCompany[c.ID].Month)
	assert.True(t, byCompany[other.ID].Debits.Equal(d(250)))

	_, err = e.ledger.MonthlyReport(ctx, hotel, 2025, 13)
	assert.ErrorIs(t, err, core.ErrValidation)
}

// =============================================================================
// MONITOR
// =============================================================================

func TestMonitor_Flags(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	near := e.company(t, "27AAPFU0939F1ZV", 20000)
	_, err := e.ledger.Post(ctx, corporate.PostRequest{
		CompanyID: near.ID, Type: core.TxDebit, Amount: d(17000), DueDate: calendar.FromTime(now).AddDays(-1),
	})
	require.NoError(t, err)
	idle := e.company(t, "29ABCDE1234F1Z5", 50000)
	_, err = e.registry.Deactivate(ctx, idle.ID)
	require.NoError(t, err)

	statuses, err := e.monitor.Monitor(ctx, hotel)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	byID := map[core.CompanyID]corporate.CompanyStatus{statuses[0].CompanyID: statuses[0], statuses[1].CompanyID: statuses[1]}

	s := byID[near.ID]
	assert.True(t, s.Utilization.Equal(d(85)))
	assert.True(t, s.NearLimit)
	assert.True(t, s.LowCredit)
	assert.True(t, s.OverdueAmount.Equal(d(17000)))
	assert.Equal(t, 1, s.OverdueCount)
	assert.False(t, s.Inactive)

	s = byID[idle.ID]
	assert.True(t, s.Inactive)
	assert.False(t, s.NearLimit)
	assert.False(t, s.LowCredit)
}

func TestValidateBookingCredit_IsPure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.company(t, "27AAPFU0939F1ZV", 1000)

	check, err := e.monitor.ValidateBookingCredit(ctx, c.ID, d(1500))
	require.NoError(t, err)
	assert.False(t, check.Valid)
	assert.True(t, check.Shortfall.Equal(d(500)))

	check, err = e.monitor.ValidateBookingCredit(ctx, c.ID, d(1000))
	require.NoError(t, err)
	assert.True(t, check.Valid)
	assert.True(t, e.available(t, c.ID).Equal(d(1000)))
}

func TestLimitRequestWorkflow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.company(t, "27AAPFU0939F1ZV", 10000)
	_, err := e.debit(c, 4000)
	require.NoError(t, err)

	_, err = e.monitor.RequestLimitIncrease(ctx, corporate.LimitIncrease{CompanyID: c.ID, RequestedLimit: d(9000), Justification: "x"})
	assert.ErrorIs(t, err, core.ErrValidation)

	req, err := e.monitor.RequestLimitIncrease(ctx, corporate.LimitIncrease{
		CompanyID: c.ID, RequestedLimit: d(15000), Justification: "conference season", RequestedBy: "hr",
	})
	require.NoError(t, err)
	assert.Equal(t, core.LimitPending, req.Status)

	done, err := e.monitor.ProcessLimitRequest(ctx, corporate.LimitDecision{RequestID: req.ID, Approve: true, Processor: "gm"})
	require.NoError(t, err)
	assert.Equal(t, core.LimitApproved, done.Status)

	got, err := e.registry.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.CreditLimit.Equal(d(15000)))
	assert.True(t, got.AvailableCredit.Equal(d(11000)))

	adjustments, err := e.ledger.List(ctx, core.CreditFilter{CompanyID: c.ID, Types: []core.TransactionType{core.TxAdjustment}})
	require.NoError(t, err)
	require.Len(t, adjustments, 1)
	assert.True(t, adjustments[0].Amount.Equal(d(5000)))
	assert.True(t, adjustments[0].Balance.Equal(d(11000)))

	_, err = e.monitor.ProcessLimitRequest(ctx, corporate.LimitDecision{RequestID: req.ID, Approve: false, Processor: "gm"})
	assert.ErrorIs(t, err, core.ErrStateTransition)

	list, err := e.monitor.ListLimitRequests(ctx, hotel, c.ID, core.LimitApproved)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
