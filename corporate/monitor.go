package corporate

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/warp/hotel-core/calendar"
	"github.com/warp/hotel-core/core"
)

// =============================================================================
// MONITOR - Utilization, limit requests and audits
// =============================================================================

type Monitor struct {
	Companies *Registry
	Ledger    *CreditLedger
	Clock     core.Clock
	Log       zerolog.Logger

	// LowCreditThreshold flags companies with less available credit.
	LowCreditThreshold decimal.Decimal
	// NearLimitUtilization is a fraction: 0.8 flags companies at >= 80%.
	NearLimitUtilization decimal.Decimal
	// Concurrency bounds the companies evaluated at once.
	Concurrency int
}

func NewMonitor(companies *Registry, ledger *CreditLedger) *Monitor {
	return &Monitor{
		Companies:            companies,
		Ledger:               ledger,
		Clock:                core.SystemClock{},
		Log:                  zerolog.Nop(),
		LowCreditThreshold:   decimal.NewFromInt(10000),
		NearLimitUtilization: decimal.NewFromFloat(0.8),
		Concurrency:          8,
	}
}

type CompanyStatus struct {
	CompanyID       core.CompanyID  `json:"companyId"`
	Name            string          `json:"name"`
	CreditLimit     decimal.Decimal `json:"creditLimit"`
	AvailableCredit decimal.Decimal `json:"availableCredit"`
	Utilization     decimal.Decimal `json:"utilizationPct"`
	OverdueAmount   decimal.Decimal `json:"overdueAmount"`
	OverdueCount    int             `json:"overdueCount"`
	NearLimit       bool            `json:"nearLimit"`
	LowCredit       bool            `json:"lowCredit"`
	Inactive        bool            `json:"inactive"`
}

// Monitor reports every company of the hotel. Overdue totals are loaded
// concurrently, one company per goroutine.
func (m *Monitor) Monitor(ctx context.Context, hotel core.HotelID) ([]CompanyStatus, error) {
	companies, err := m.Companies.List(ctx, hotel, false)
	if err != nil {
		return nil, err
	}
	nearPct := m.NearLimitUtilization.Mul(core.Hundred)
	out := make([]CompanyStatus, len(companies))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(m.Concurrency, 1))
	for i, c := range companies {
		g.Go(func() error {
			overdue, count, err := m.overdueFor(gctx, c)
			if err != nil {
				return fmt.Errorf("company %s: %w", c.ID, err)
			}
			util := c.Utilization()
			out[i] = CompanyStatus{
				CompanyID:       c.ID,
				Name:            c.Name,
				CreditLimit:     c.CreditLimit,
				AvailableCredit: c.AvailableCredit,
				Utilization:     util,
				OverdueAmount:   overdue,
				OverdueCount:    count,
				NearLimit:       util.GreaterThanOrEqual(nearPct),
				LowCredit:       c.AvailableCredit.LessThan(m.LowCreditThreshold),
				Inactive:        !c.IsActive,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Monitor) overdueFor(ctx context.Context, c core.Company) (decimal.Decimal, int, error) {
	today := calendar.FromTime(m.Clock.Now())
	txs, err := m.Ledger.List(ctx, core.CreditFilter{
		CompanyID: c.ID,
		Types:     []core.TransactionType{core.TxDebit},
		Statuses:  []core.TransactionStatus{core.StatusProcessed},
		DueBefore: today,
	})
	if err != nil {
		return decimal.Zero, 0, err
	}
	total, n := decimal.Zero, 0
	for _, t := range txs {
		if t.IsOverdue(today) {
			total = total.Add(t.Amount)
			n++
		}
	}
	return total, n, nil
}

// =============================================================================
// PRE-BOOKING CHECK
// =============================================================================

type CreditCheck struct {
	Valid           bool            `json:"valid"`
	CompanyID       core.CompanyID  `json:"companyId"`
	AvailableCredit decimal.Decimal `json:"availableCredit"`
	Requested       decimal.Decimal `json:"requested"`
	Shortfall       decimal.Decimal `json:"shortfall"`
	Message         string          `json:"message"`
}

// ValidateBookingCredit answers whether a debit of amount would pass now.
// It never writes.
func (m *Monitor) ValidateBookingCredit(ctx context.Context, company core.CompanyID, amount decimal.Decimal) (CreditCheck, error) {
	if amount.IsNegative() {
		return CreditCheck{}, core.Validationf("amount must be >= 0")
	}
	c, err := m.Companies.Get(ctx, company)
	if err != nil {
		return CreditCheck{}, err
	}
	out := CreditCheck{CompanyID: c.ID, AvailableCredit: c.AvailableCredit, Requested: amount, Shortfall: decimal.Zero}
	switch {
	case !c.IsActive:
		out.Message = fmt.Sprintf("%s is inactive and cannot book on credit", c.Name)
	case !c.HasAvailableCredit(amount):
		out.Shortfall = amount.Sub(c.AvailableCredit)
		out.Message = fmt.Sprintf("insufficient credit: %s available, %s required", c.AvailableCredit.StringFixed(2), amount.StringFixed(2))
	default:
		out.Valid = true
		out.Message = "credit available"
	}
	return out, nil
}

// =============================================================================
// LIMIT REQUESTS
// =============================================================================

type LimitIncrease struct {
	CompanyID      core.CompanyID
	RequestedLimit decimal.Decimal
	Justification  string
	RequestedBy    string
}

func (m *Monitor) RequestLimitIncrease(ctx context.Context, req LimitIncrease) (core.CreditLimitRequest, error) {
	c, err := m.Companies.Get(ctx, req.CompanyID)
	if err != nil {
		return core.CreditLimitRequest{}, err
	}
	if !req.RequestedLimit.GreaterThan(c.CreditLimit) {
		return core.CreditLimitRequest{}, core.Validationf("requested limit %s must exceed the current limit %s",
			req.RequestedLimit.StringFixed(2), c.CreditLimit.StringFixed(2)).With("field", "requestedLimit")
	}
	if req.Justification == "" {
		return core.CreditLimitRequest{}, core.Validationf("justification is required").With("field", "justification")
	}
	r := core.CreditLimitRequest{
		ID:             core.RequestID(core.NewID("limit")),
		HotelID:        c.HotelID,
		CompanyID:      c.ID,
		CurrentLimit:   c.CreditLimit,
		RequestedLimit: req.RequestedLimit,
		Justification:  req.Justification,
		Status:         core.LimitPending,
		RequestedBy:    req.RequestedBy,
		CreatedAt:      m.Clock.Now(),
	}
	if err := m.Companies.Store.LimitRequests().SaveLimitRequest(ctx, r); err != nil {
		return core.CreditLimitRequest{}, fmt.Errorf("saving limit request: %w", err)
	}
	m.Log.Info().Str("company", string(c.ID)).Str("requested", r.RequestedLimit.String()).Msg("credit limit increase requested")
	return r, nil
}

type LimitDecision struct {
	RequestID core.RequestID
	Approve   bool
	Processor string
	Comments  string
}

// ProcessLimitRequest resolves a pending request. Approval raises the limit
// and the available credit by the same delta and journals the raise as a
// processed increasing adjustment.
func (m *Monitor) ProcessLimitRequest(ctx context.Context, d LimitDecision) (core.CreditLimitRequest, error) {
	var out core.CreditLimitRequest
	err := inTx(ctx, m.Companies.Store, m.Companies.Retry, m.Log, "process-limit", func(s core.Store) error {
		r, err := s.LimitRequests().GetLimitRequest(ctx, d.RequestID)
		if err != nil {
			return err
		}
		if r.Status != core.LimitPending {
			return core.Errorf(core.KindStateTransition, "limit request %s is already %s", r.ID, r.Status).
				With("from", r.Status)
		}
		now := m.Clock.Now()
		r.Processor, r.Comments, r.ProcessedAt = d.Processor, d.Comments, &now
		r.Status = core.LimitRejected
		if d.Approve {
			r.Status = core.LimitApproved
			if err := m.raiseLimit(ctx, s, r); err != nil {
				return err
			}
		}
		if err := s.LimitRequests().SaveLimitRequest(ctx, r); err != nil {
			return fmt.Errorf("saving limit request: %w", err)
		}
		out = r
		return nil
	})
	if err != nil {
		return core.CreditLimitRequest{}, err
	}
	m.Log.Info().Str("request", string(out.ID)).Str("status", string(out.Status)).Str("processor", out.Processor).Msg("credit limit request processed")
	return out, nil
}

func (m *Monitor) raiseLimit(ctx context.Context, s core.Store, r core.CreditLimitRequest) error {
	c, err := s.Companies().GetCompany(ctx, r.CompanyID)
	if err != nil {
		return err
	}
	delta := r.RequestedLimit.Sub(c.CreditLimit)
	if !delta.IsPositive() {
		return core.Validationf("requested limit %s no longer exceeds the current limit %s",
			r.RequestedLimit.StringFixed(2), c.CreditLimit.StringFixed(2))
	}
	c.CreditLimit = r.RequestedLimit
	c.UpdatedAt = m.Clock.Now()
	if _, err := saveCompany(ctx, s, c); err != nil {
		return err
	}
	_, err = m.Ledger.PostIn(ctx, s, PostRequest{
		HotelID:     c.HotelID,
		CompanyID:   c.ID,
		Type:        core.TxAdjustment,
		Direction:   core.AdjustIncrease,
		Amount:      delta,
		Description: "credit limit increase",
		Reference:   string(r.ID),
		CreatedBy:   r.Processor,
	})
	return err
}

func (m *Monitor) ListLimitRequests(ctx context.Context, hotel core.HotelID, company core.CompanyID, status core.LimitRequestStatus) ([]core.CreditLimitRequest, error) {
	return m.Companies.Store.LimitRequests().ListLimitRequests(ctx, hotel, company, status)
}

// RunDailyAudit verifies the hash chains of every company of the hotel.
func (m *Monitor) RunDailyAudit(ctx context.Context, hotel core.HotelID) (AuditReport, error) {
	return m.Ledger.Audit(ctx, hotel)
}
