package core_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/hotel-core/calendar"
	"github.com/warp/hotel-core/core"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

func TestKindOf_StructuredAndSentinel(t *testing.T) {
	structured := core.Errorf(core.KindInsufficientCredit, "need %d", 10).With("shortfall", 10)
	wrapped := fmt.Errorf("posting: %w", structured)

	assert.Equal(t, core.KindInsufficientCredit, core.KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, core.ErrInsufficientCredit))
	assert.Equal(t, 10, core.DetailsOf(wrapped)["shortfall"])

	assert.Equal(t, core.KindNotFound, core.KindOf(fmt.Errorf("x: %w", core.ErrNotFound)))
	assert.Equal(t, core.KindConcurrencyConflict, core.KindOf(core.ErrConcurrentModification))
	assert.Equal(t, core.KindInternal, core.KindOf(errors.New("disk on fire")))
	assert.Equal(t, core.Kind(""), core.KindOf(nil))
}

func TestError_UnwrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := core.Wrap(core.KindInternal, cause, "saving row")

	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, core.ErrInternal))
	assert.Contains(t, err.Error(), "boom")
}

func TestIsClientError(t *testing.T) {
	assert.True(t, core.IsClientError(core.Validationf("bad")))
	assert.True(t, core.IsClientError(core.Errorf(core.KindSeasonalRestriction, "closed")))
	assert.False(t, core.IsClientError(core.Errorf(core.KindIntegrityViolation, "hash")))
	assert.False(t, core.IsClientError(errors.New("unknown")))
}

// =============================================================================
// RETRY
// =============================================================================

func TestRetry_SucceedsAfterConflicts(t *testing.T) {
	// GIVEN: A unit of work that loses two version checks
	calls := 0
	var retried []int
	policy := core.RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond,
		OnRetry: func(attempt int, _ error) { retried = append(retried, attempt) }}

	// WHEN: Retrying
	err := core.Retry(context.Background(), policy, func(context.Context) error {
		calls++
		if calls < 3 {
			return core.ErrConcurrentModification
		}
		return nil
	})

	// THEN: Third attempt wins
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestRetry_BudgetExhaustedIsConflict(t *testing.T) {
	calls := 0
	err := core.Retry(context.Background(), core.RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond},
		func(context.Context) error {
			calls++
			return core.ErrConcurrentModification
		})

	assert.Equal(t, 3, calls)
	assert.Equal(t, core.KindConcurrencyConflict, core.KindOf(err))
	assert.False(t, core.IsRetryable(err), "exhausted conflicts must not trigger outer retries")
}

func TestRetry_NonRetryableReturnsImmediately(t *testing.T) {
	calls := 0
	err := core.Retry(context.Background(), core.DefaultRetryPolicy, func(context.Context) error {
		calls++
		return core.Errorf(core.KindInsufficientInventory, "sold out")
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, core.ErrInsufficientInventory)
}

func TestRetry_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := core.Retry(ctx, core.RetryPolicy{MaxRetries: 5, Backoff: time.Second}, func(context.Context) error {
		return core.ErrConcurrentModification
	})
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// ENTITIES
// =============================================================================

func TestCreditTransaction_StateMachine(t *testing.T) {
	tx := core.CreditTransaction{ID: "tx-1", Status: core.StatusPending}

	require.NoError(t, tx.Transition(core.StatusApproved))
	require.NoError(t, tx.Transition(core.StatusProcessed))
	assert.True(t, tx.IsTerminal())

	err := tx.Transition(core.StatusCancelled)
	assert.Equal(t, core.KindStateTransition, core.KindOf(err))

	assert.False(t, core.CanTransition(core.StatusPending, core.StatusProcessed))
	assert.True(t, core.CanTransition(core.StatusApproved, core.StatusCancelled))
	assert.False(t, core.CanTransition(core.StatusRejected, core.StatusApproved))
}

func TestCreditTransaction_Effect(t *testing.T) {
	amt := decimal.NewFromInt(500)
	assert.True(t, core.CreditTransaction{Type: core.TxDebit, Amount: amt}.Effect().Equal(amt.Neg()))
	assert.True(t, core.CreditTransaction{Type: core.TxRefund, Amount: amt}.Effect().Equal(amt))
	assert.True(t, core.CreditTransaction{Type: core.TxAdjustment, Direction: core.AdjustDecrease, Amount: amt}.Effect().Equal(amt.Neg()))
	assert.True(t, core.CreditTransaction{Type: core.TxAdjustment, Direction: core.AdjustIncrease, Amount: amt}.Effect().Equal(amt))
}

func TestNormalizeContacts(t *testing.T) {
	// GIVEN: No primary contact
	out := core.NormalizeContacts([]core.HRContact{{Name: "a"}, {Name: "b"}})
	assert.True(t, out[0].IsPrimary)
	assert.False(t, out[1].IsPrimary)

	// GIVEN: Several primaries, only the first remains
	out = core.NormalizeContacts([]core.HRContact{{Name: "a"}, {Name: "b", IsPrimary: true}, {Name: "c", IsPrimary: true}})
	assert.False(t, out[0].IsPrimary)
	assert.True(t, out[1].IsPrimary)
	assert.False(t, out[2].IsPrimary)
}

func TestCompany_Validate_GSTIN(t *testing.T) {
	c := core.Company{
		ID: "c1", HotelID: "h1", Name: "Acme", GSTNumber: "27AAPFU0939F1ZV",
		CreditLimit: decimal.NewFromInt(100), AvailableCredit: decimal.NewFromInt(100),
		PaymentTerms: 30, BillingCycle: core.BillingMonthly,
	}
	require.NoError(t, c.Validate())

	c.GSTNumber = "27AAPFU0939F1XV"
	assert.ErrorIs(t, c.Validate(), core.ErrValidation)

	c.GSTNumber = "27AAPFU0939F1ZV"
	c.PaymentTerms = 20
	assert.ErrorIs(t, c.Validate(), core.ErrValidation)
}

func TestAvailabilityRow_Invariants(t *testing.T) {
	row := core.AvailabilityRow{TotalRooms: 3, Reservations: []core.Reservation{{BookingID: "b1", RoomsReserved: 2}}}
	row.Recount()
	require.NoError(t, row.CheckInvariants())
	assert.Equal(t, 1, row.AvailableRooms)

	row.SoldRooms = 1
	assert.Error(t, row.CheckInvariants())
}

func TestDatedRule_YearlyRecurrenceWrapsYearEnd(t *testing.T) {
	rule := core.DatedRule{
		StartDate: calendar.MustParse("2024-12-20"),
		EndDate:   calendar.MustParse("2025-01-05"),
		Recurring: &core.RecurringPattern{Frequency: "yearly"},
	}
	assert.True(t, rule.Covers(calendar.MustParse("2025-12-25")))
	assert.True(t, rule.Covers(calendar.MustParse("2026-01-03")))
	assert.False(t, rule.Covers(calendar.MustParse("2025-06-01")))
	assert.False(t, rule.Covers(calendar.MustParse("2024-12-19")))

	rule.Recurring.Until = calendar.MustParse("2025-12-31")
	assert.False(t, rule.Covers(calendar.MustParse("2026-01-03")))
}

func TestDatedRule_AppliesToPlan(t *testing.T) {
	open := core.DatedRule{}
	scoped := core.DatedRule{ApplicableRatePlans: []core.RatePlanID{"BAR"}}

	assert.True(t, open.AppliesToPlan("BAR"))
	assert.True(t, open.AppliesToPlan(""))
	assert.True(t, scoped.AppliesToPlan("BAR"))
	assert.False(t, scoped.AppliesToPlan("RACK"))
	assert.False(t, scoped.AppliesToPlan(""), "the standard rate is not any listed plan")
}

func TestSpecialPeriod_SingleDayIsValid(t *testing.T) {
	day := calendar.MustParse("2025-01-11")
	p := core.SpecialPeriod{
		DatedRule: core.DatedRule{ID: "SP1", HotelID: "H1", Name: "Gala", StartDate: day, EndDate: day},
	}

	require.NoError(t, p.Validate())
	assert.True(t, p.Covers(day))

	p.EndDate = day.AddDays(-1)
	assert.ErrorIs(t, p.Validate(), core.ErrValidation)
}
