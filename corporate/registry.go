/*
registry.go - Corporate accounts and their credit lines

PURPOSE:
  Companies book on credit at one hotel. The registry owns the company
  document; the credit ledger (credit.go) is the only other writer, and
  only of AvailableCredit, inside the same unit of work as the journal
  entry that explains the change.

INVARIANTS (checked on every save):
  1. 0 <= availableCredit <= creditLimit
  2. gstNumber matches the GSTIN format and is unique across hotels
  3. exactly one primary HR contact when contacts exist

LIMIT CHANGES:
  Changing creditLimit keeps the used credit (limit - available) and
  clamps the new available credit into [0, newLimit].

DEACTIVATION:
  Refused with CompanyInactive while the company has a booking in
  confirmed or checked_in, or a pending credit transaction.

SEE ALSO:
  - credit.go: Journal and posting
  - monitor.go: Utilization, limit requests, audits
*/
package corporate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/hotel-core/core"
	"github.com/warp/hotel-core/observability"
)

// inTx runs fn in a unit of work, rerun on lost version checks.
func inTx(ctx context.Context, store core.TxStore, policy core.RetryPolicy, log zerolog.Logger, op string, fn func(s core.Store) error) error {
	policy.OnRetry = func(attempt int, err error) {
		observability.ObserveRetry("corporate")
		log.Debug().Str("op", op).Int("attempt", attempt).Err(err).Msg("retrying after version conflict")
	}
	return core.Retry(ctx, policy, func(ctx context.Context) error {
		return store.WithTx(ctx, fn)
	})
}

// DefaultPaymentTerms applies when a company is created without terms.
const DefaultPaymentTerms = 30

type Registry struct {
	Store core.TxStore
	Clock core.Clock
	Retry core.RetryPolicy
	Log   zerolog.Logger
}

func NewRegistry(store core.TxStore) *Registry {
	return &Registry{
		Store: store,
		Clock: core.SystemClock{},
		Retry: core.DefaultRetryPolicy,
		Log:   zerolog.Nop(),
	}
}

// =============================================================================
// CREATE / READ
// =============================================================================

// Create registers a company with its full limit available.
func (r *Registry) Create(ctx context.Context, c core.Company) (core.Company, error) {
	if c.ID == "" {
		c.ID = core.CompanyID(core.NewID("company"))
	}
	c.GSTNumber = strings.ToUpper(strings.TrimSpace(c.GSTNumber))
	c.AvailableCredit = c.CreditLimit
	c.HRContacts = core.NormalizeContacts(c.HRContacts)
	if c.BillingCycle == "" {
		c.BillingCycle = core.BillingMonthly
	}
	if c.PaymentTerms == 0 {
		c.PaymentTerms = DefaultPaymentTerms
	}
	c.IsActive = true
	if err := c.Validate(); err != nil {
		return core.Company{}, err
	}
	now := r.Clock.Now()
	c.CreatedAt, c.UpdatedAt = now, now

	err := r.Store.Companies().InsertCompany(ctx, c)
	if errors.Is(err, core.ErrDuplicate) {
		return core.Company{}, core.Validationf("GST number %s is already registered", c.GSTNumber).With("field", "gstNumber")
	}
	if err != nil {
		return core.Company{}, fmt.Errorf("inserting company: %w", err)
	}
	c.Version = 1
	r.Log.Info().Str("hotel", string(c.HotelID)).Str("company", string(c.ID)).Str("limit", c.CreditLimit.String()).Msg("company created")
	return c, nil
}

func (r *Registry) Get(ctx context.Context, id core.CompanyID) (core.Company, error) {
	return r.Store.Companies().GetCompany(ctx, id)
}

// List returns a hotel's companies; activeOnly drops deactivated ones.
func (r *Registry) List(ctx context.Context, hotel core.HotelID, activeOnly bool) ([]core.Company, error) {
	all, err := r.Store.Companies().ListCompanies(ctx, hotel)
	if err != nil {
		return nil, fmt.Errorf("listing companies: %w", err)
	}
	if !activeOnly {
		return all, nil
	}
	out := make([]core.Company, 0, len(all))
	for _, c := range all {
		if c.IsActive {
			out = append(out, c)
		}
	}
	return out, nil
}

// =============================================================================
// UPDATE
// =============================================================================

// Patch carries the mutable fields; nil leaves a field unchanged.
type Patch struct {
	Name            *string
	Email           *string
	Phone           *string
	Address         *string
	GSTNumber       *string
	CreditLimit     *decimal.Decimal
	PaymentTerms    *int
	BillingCycle    *core.BillingCycle
	ContractDetails *core.ContractDetails
	HRContacts      []core.HRContact
}

func (p Patch) apply(c core.Company) core.Company {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&c.Name, p.Name)
	set(&c.Email, p.Email)
	set(&c.Phone, p.Phone)
	set(&c.Address, p.Address)
	if p.GSTNumber != nil {
		c.GSTNumber = strings.ToUpper(strings.TrimSpace(*p.GSTNumber))
	}
	if p.CreditLimit != nil {
		used := c.UsedCredit()
		c.CreditLimit = *p.CreditLimit
		c.AvailableCredit = core.ClampDecimal(c.CreditLimit.Sub(used), decimal.Zero, c.CreditLimit)
	}
	if p.PaymentTerms != nil {
		c.PaymentTerms = *p.PaymentTerms
	}
	if p.BillingCycle != nil {
		c.BillingCycle = *p.BillingCycle
	}
	if p.ContractDetails != nil {
		c.ContractDetails = *p.ContractDetails
	}
	if p.HRContacts != nil {
		c.HRContacts = core.NormalizeContacts(p.HRContacts)
	}
	return c
}

func (r *Registry) Update(ctx context.Context, id core.CompanyID, patch Patch) (core.Company, error) {
	var out core.Company
	err := inTx(ctx, r.Store, r.Retry, r.Log, "update", func(s core.Store) error {
		c, err := s.Companies().GetCompany(ctx, id)
		if err != nil {
			return err
		}
		c = patch.apply(c)
		if err := c.Validate(); err != nil {
			return err
		}
		c.UpdatedAt = r.Clock.Now()
		out, err = saveCompany(ctx, s, c)
		return err
	})
	if err != nil {
		return core.Company{}, err
	}
	r.Log.Info().Str("company", string(id)).Msg("company updated")
	return out, nil
}

// saveCompany writes c under its version and returns it with the new one.
func saveCompany(ctx context.Context, s core.Store, c core.Company) (core.Company, error) {
	err := s.Companies().UpdateCompany(ctx, c)
	switch {
	case errors.Is(err, core.ErrDuplicate):
		return core.Company{}, core.Validationf("GST number %s is already registered", c.GSTNumber).With("field", "gstNumber")
	case err != nil:
		return core.Company{}, err
	}
	c.Version++
	return c, nil
}

// =============================================================================
// ACTIVATION
// =============================================================================

// ToggleActive flips IsActive; deactivation goes through the open
// dependency check.
func (r *Registry) ToggleActive(ctx context.Context, id core.CompanyID) (core.Company, error) {
	c, err := r.Get(ctx, id)
	if err != nil {
		return core.Company{}, err
	}
	return r.setActive(ctx, id, !c.IsActive)
}

// Deactivate is the soft delete.
func (r *Registry) Deactivate(ctx context.Context, id core.CompanyID) (core.Company, error) {
	return r.setActive(ctx, id, false)
}

func (r *Registry) setActive(ctx context.Context, id core.CompanyID, active bool) (core.Company, error) {
	var out core.Company
	err := inTx(ctx, r.Store, r.Retry, r.Log, "set-active", func(s core.Store) error {
		c, err := s.Companies().GetCompany(ctx, id)
		if err != nil {
			return err
		}
		if c.IsActive == active {
			out = c
			return nil
		}
		if !active {
			if err := checkDeactivation(ctx, s, c); err != nil {
				return err
			}
		}
		c.IsActive = active
		c.UpdatedAt = r.Clock.Now()
		out, err = saveCompany(ctx, s, c)
		return err
	})
	if err != nil {
		return core.Company{}, err
	}
	r.Log.Info().Str("company", string(id)).Bool("active", active).Msg("company activation changed")
	return out, nil
}

func checkDeactivation(ctx context.Context, s core.Store, c core.Company) error {
	open, err := s.Bookings().ListBookingsByCompany(ctx, c.ID, core.OpenBookingStatuses...)
	if err != nil {
		return fmt.Errorf("listing open bookings: %w", err)
	}
	if len(open) > 0 {
		return core.Errorf(core.KindCompanyInactive, "company %s has %d open bookings", c.ID, len(open)).
			With("openBookings", len(open))
	}
	pending, err := s.Credit().ListTransactions(ctx, core.CreditFilter{
		CompanyID: c.ID, Statuses: []core.TransactionStatus{core.StatusPending},
	})
	if err != nil {
		return fmt.Errorf("listing pending transactions: %w", err)
	}
	if len(pending) > 0 {
		return core.Errorf(core.KindCompanyInactive, "company %s has %d pending credit transactions", c.ID, len(pending)).
			With("pendingTransactions", len(pending))
	}
	return nil
}

// =============================================================================
// CREDIT
// =============================================================================

// applyDelta moves available credit by delta. A result below zero is
// InsufficientCredit; a result above the limit is capped.
func applyDelta(c core.Company, delta decimal.Decimal) (core.Company, error) {
	next := c.AvailableCredit.Add(delta)
	if next.IsNegative() {
		return core.Company{}, core.Errorf(core.KindInsufficientCredit,
			"company %s has %s available, %s required", c.ID, c.AvailableCredit.StringFixed(2), delta.Neg().StringFixed(2)).
			With("availableCredit", c.AvailableCredit).With("requested", delta.Neg())
	}
	if next.GreaterThan(c.CreditLimit) {
		next = c.CreditLimit
	}
	c.AvailableCredit = next
	return c, nil
}

// UpdateAvailableCredit moves available credit outside the journal. Used
// by operators correcting a balance; postings go through CreditLedger.
func (r *Registry) UpdateAvailableCredit(ctx context.Context, id core.CompanyID, delta decimal.Decimal) (core.Company, error) {
	var out core.Company
	err := inTx(ctx, r.Store, r.Retry, r.Log, "update-credit", func(s core.Store) error {
		c, err := s.Companies().GetCompany(ctx, id)
		if err != nil {
			return err
		}
		if c, err = applyDelta(c, delta); err != nil {
			return err
		}
		c.UpdatedAt = r.Clock.Now()
		out, err = saveCompany(ctx, s, c)
		return err
	})
	if err != nil {
		return core.Company{}, err
	}
	r.Log.Warn().Str("company", string(id)).Str("delta", delta.String()).Str("available", out.AvailableCredit.String()).
		Msg("available credit changed outside the journal")
	return out, nil
}

func (r *Registry) HasAvailableCredit(ctx context.Context, id core.CompanyID, amount decimal.Decimal) (bool, error) {
	c, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return c.IsActive && c.HasAvailableCredit(amount), nil
}

// FindLowCredit returns active companies with less than threshold available.
func (r *Registry) FindLowCredit(ctx context.Context, hotel core.HotelID, threshold decimal.Decimal) ([]core.Company, error) {
	active, err := r.List(ctx, hotel, true)
	if err != nil {
		return nil, err
	}
	out := []core.Company{}
	for _, c := range active {
		if c.AvailableCredit.LessThan(threshold) {
			out = append(out, c)
		}
	}
	return out, nil
}
