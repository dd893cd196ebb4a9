package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/hotel-core/core"
	"github.com/warp/hotel-core/corporate"
)

// =============================================================================
// COMPANIES
// =============================================================================

// GET /v1/corporate/companies[?active=true]
func (h *Handler) ListCompanies(w http.ResponseWriter, r *http.Request) {
	hotel, err := h.hotel(r, r.URL.Query().Get("hotelId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	companies, err := h.Companies.List(r.Context(), hotel, queryBool(r, "active"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, companies)
}

// CreateCompany opens a corporate account with its full limit available.
// POST /v1/corporate/companies
func (h *Handler) CreateCompany(w http.ResponseWriter, r *http.Request) {
	var req CreateCompanyRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	hotel, err := h.hotel(r, req.HotelID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.Companies.Create(r.Context(), core.Company{
		ID:              core.CompanyID(req.ID),
		HotelID:         hotel,
		Name:            req.Name,
		Email:           req.Email,
		Phone:           req.Phone,
		Address:         req.Address,
		GSTNumber:       req.GSTNumber,
		CreditLimit:     req.CreditLimit,
		PaymentTerms:    req.PaymentTerms,
		BillingCycle:    core.BillingCycle(req.BillingCycle),
		ContractDetails: req.ContractDetails,
		HRContacts:      req.HRContacts,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) loadCompany(r *http.Request, param string) (core.Company, error) {
	c, err := h.Companies.Get(r.Context(), core.CompanyID(chi.URLParam(r, param)))
	if err != nil {
		return core.Company{}, err
	}
	return c, h.owns(r, c.HotelID)
}

// GET /v1/corporate/companies/{id}
func (h *Handler) GetCompany(w http.ResponseWriter, r *http.Request) {
	c, err := h.loadCompany(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// UpdateCompany applies a partial update. A limit change moves available
// credit by the same delta.
// PATCH /v1/corporate/companies/{id}
func (h *Handler) UpdateCompany(w http.ResponseWriter, r *http.Request) {
	c, err := h.loadCompany(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req UpdateCompanyRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	patch := corporate.Patch{
		Name:            req.Name,
		Email:           req.Email,
		Phone:           req.Phone,
		Address:         req.Address,
		GSTNumber:       req.GSTNumber,
		CreditLimit:     req.CreditLimit,
		PaymentTerms:    req.PaymentTerms,
		ContractDetails: req.ContractDetails,
		HRContacts:      req.HRContacts,
	}
	if req.BillingCycle != nil {
		bc := core.BillingCycle(*req.BillingCycle)
		patch.BillingCycle = &bc
	}
	updated, err := h.Companies.Update(r.Context(), c.ID, patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeactivateCompany soft-deletes the account. Open bookings block it.
// DELETE /v1/corporate/companies/{id}
func (h *Handler) DeactivateCompany(w http.ResponseWriter, r *http.Request) {
	c, err := h.loadCompany(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.Companies.Deactivate(r.Context(), c.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PATCH /v1/corporate/companies/{id}/toggle-status
func (h *Handler) ToggleCompanyStatus(w http.ResponseWriter, r *http.Request) {
	c, err := h.loadCompany(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	updated, err := h.Companies.ToggleActive(r.Context(), c.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// =============================================================================
// CREDIT JOURNAL
// =============================================================================

// GET /v1/corporate/credit/transactions[?companyId&bookingId&status&type&from&to]
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	hotel, err := h.hotel(r, query.Get("hotelId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	from, err := queryDate(r, "from")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	to, err := queryDate(r, "to")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	filter := core.CreditFilter{
		HotelID:   hotel,
		CompanyID: core.CompanyID(query.Get("companyId")),
		BookingID: core.BookingID(query.Get("bookingId")),
	}
	if s := query.Get("status"); s != "" {
		filter.Statuses = []core.TransactionStatus{core.TransactionStatus(s)}
	}
	if t := query.Get("type"); t != "" {
		filter.Types = []core.TransactionType{core.TransactionType(t)}
	}
	if !from.IsZero() {
		filter.From = from.Time()
	}
	if !to.IsZero() {
		filter.To = to.AddDays(1).Time()
	}
	txs, err := h.Credit.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// PostTransaction journals a debit, credit, adjustment, refund or payment.
// Pending entries wait for approval; processed ones move available credit.
// POST /v1/corporate/credit/transactions
func (h *Handler) PostTransaction(w http.ResponseWriter, r *http.Request) {
	var req PostTransactionRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	hotel, err := h.hotel(r, req.HotelID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var txDate time.Time
	if req.TransactionDate != nil {
		txDate = req.TransactionDate.Time()
	}
	t, err := h.Credit.Post(r.Context(), corporate.PostRequest{
		HotelID:         hotel,
		CompanyID:       core.CompanyID(req.CompanyID),
		BookingID:       core.BookingID(req.BookingID),
		Type:            core.TransactionType(req.Type),
		Direction:       core.AdjustmentDirection(req.Direction),
		Amount:          req.Amount,
		Description:     req.Description,
		Reference:       req.Reference,
		TransactionDate: txDate,
		DueDate:         req.DueDate,
		Status:          core.TransactionStatus(req.Status),
		CreatedBy:       identityFrom(r.Context()).ActorID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

type transactionAction func(r *http.Request, id core.TransactionID, actor string, body TransactionActionRequest) (core.CreditTransaction, error)

// transitionTransaction loads the transaction, checks its hotel and runs act.
func (h *Handler) transitionTransaction(w http.ResponseWriter, r *http.Request, act transactionAction) {
	t, err := h.Credit.Get(r.Context(), core.TransactionID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.owns(r, t.HotelID); err != nil {
		h.writeError(w, r, err)
		return
	}
	var body TransactionActionRequest
	if r.ContentLength != 0 {
		if err := h.decode(r, &body); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	out, err := act(r, t.ID, identityFrom(r.Context()).ActorID, body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// PATCH /v1/corporate/credit/transactions/{id}/approve
func (h *Handler) ApproveTransaction(w http.ResponseWriter, r *http.Request) {
	h.transitionTransaction(w, r, func(r *http.Request, id core.TransactionID, actor string, b TransactionActionRequest) (core.CreditTransaction, error) {
		return h.Credit.Approve(r.Context(), id, actor, b.Notes)
	})
}

// PATCH /v1/corporate/credit/transactions/{id}/reject
func (h *Handler) RejectTransaction(w http.ResponseWriter, r *http.Request) {
	h.transitionTransaction(w, r, func(r *http.Request, id core.TransactionID, actor string, b TransactionActionRequest) (core.CreditTransaction, error) {
		return h.Credit.Reject(r.Context(), id, actor, b.Reason)
	})
}

// PATCH /v1/corporate/credit/transactions/{id}/cancel
func (h *Handler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	h.transitionTransaction(w, r, func(r *http.Request, id core.TransactionID, actor string, b TransactionActionRequest) (core.CreditTransaction, error) {
		return h.Credit.Cancel(r.Context(), id, actor, b.Reason)
	})
}

// =============================================================================
// REPORTS
// =============================================================================

// GET /v1/corporate/credit/summary/{companyId}
func (h *Handler) CreditSummary(w http.ResponseWriter, r *http.Request) {
	c, err := h.loadCompany(r, "companyId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	summary, err := h.Credit.Summary(r.Context(), c.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GET /v1/corporate/credit/overdue[?daysOverdue]
func (h *Handler) OverdueTransactions(w http.ResponseWriter, r *http.Request) {
	hotel, err := h.hotel(r, r.URL.Query().Get("hotelId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	days, err := queryInt(r, "daysOverdue", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	entries, err := h.Credit.Overdue(r.Context(), hotel, days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// MonthlyReport defaults to the current month.
// GET /v1/corporate/credit/monthly-report?year&month
func (h *Handler) MonthlyReport(w http.ResponseWriter, r *http.Request) {
	hotel, err := h.hotel(r, r.URL.Query().Get("hotelId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	now := h.Clock.Now()
	year, err := queryInt(r, "year", now.Year())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	month, err := queryInt(r, "month", int(now.Month()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	lines, err := h.Credit.MonthlyReport(r.Context(), hotel, year, time.Month(month))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

// MonitorCredit reports utilization, overdue totals and flags per company.
// GET /v1/corporate/credit/monitor
func (h *Handler) MonitorCredit(w http.ResponseWriter, r *http.Request) {
	hotel, err := h.hotel(r, r.URL.Query().Get("hotelId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	statuses, err := h.Monitor.Monitor(r.Context(), hotel)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

// LowCreditCompanies defaults the threshold to the monitor's.
// GET /v1/corporate/credit/low-credit[?threshold]
func (h *Handler) LowCreditCompanies(w http.ResponseWriter, r *http.Request) {
	hotel, err := h.hotel(r, r.URL.Query().Get("hotelId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	threshold := h.Monitor.LowCreditThreshold
	if v := r.URL.Query().Get("threshold"); v != "" {
		if threshold, err = decimal.NewFromString(v); err != nil {
			h.writeError(w, r, core.Validationf("threshold must be a number").With("field", "threshold"))
			return
		}
	}
	companies, err := h.Companies.FindLowCredit(r.Context(), hotel, threshold)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, companies)
}

// =============================================================================
// BOOKING CREDIT
// =============================================================================

// ValidateCredit answers whether a debit would pass. It never writes.
// POST /v1/corporate/credit/validate
func (h *Handler) ValidateCredit(w http.ResponseWriter, r *http.Request) {
	var req ValidateCreditRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.Companies.Get(r.Context(), core.CompanyID(req.CompanyID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.owns(r, c.HotelID); err != nil {
		h.writeError(w, r, err)
		return
	}
	check, err := h.Monitor.ValidateBookingCredit(r.Context(), c.ID, req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

// ProcessBookingCredit debits a company for a booking priced elsewhere.
// POST /v1/corporate/credit/process-booking
func (h *Handler) ProcessBookingCredit(w http.ResponseWriter, r *http.Request) {
	var req ProcessBookingRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.Companies.Get(r.Context(), core.CompanyID(req.CompanyID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.owns(r, c.HotelID); err != nil {
		h.writeError(w, r, err)
		return
	}
	desc := req.Description
	if desc == "" {
		desc = "Booking " + req.BookingID
	}
	t, err := h.Credit.Post(r.Context(), corporate.PostRequest{
		HotelID:     c.HotelID,
		CompanyID:   c.ID,
		BookingID:   core.BookingID(req.BookingID),
		Type:        core.TxDebit,
		Amount:      req.Amount,
		Description: desc,
		DueDate:     req.DueDate,
		CreatedBy:   identityFrom(r.Context()).ActorID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// =============================================================================
// LIMIT REQUESTS
// =============================================================================

// GET /v1/corporate/credit/limit-requests[?companyId&status]
func (h *Handler) ListLimitRequests(w http.ResponseWriter, r *http.Request) {
	hotel, err := h.hotel(r, r.URL.Query().Get("hotelId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	reqs, err := h.Monitor.ListLimitRequests(r.Context(), hotel,
		core.CompanyID(r.URL.Query().Get("companyId")),
		core.LimitRequestStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

// POST /v1/corporate/credit/request-limit-increase
func (h *Handler) RequestLimitIncrease(w http.ResponseWriter, r *http.Request) {
	var req LimitIncreaseRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.Companies.Get(r.Context(), core.CompanyID(req.CompanyID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.owns(r, c.HotelID); err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.Monitor.RequestLimitIncrease(r.Context(), corporate.LimitIncrease{
		CompanyID:      c.ID,
		RequestedLimit: req.RequestedLimit,
		Justification:  req.Justification,
		RequestedBy:    identityFrom(r.Context()).ActorID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// POST /v1/corporate/credit/process-limit-request
func (h *Handler) ProcessLimitRequest(w http.ResponseWriter, r *http.Request) {
	var req ProcessLimitRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.Monitor.ProcessLimitRequest(r.Context(), corporate.LimitDecision{
		RequestID: core.RequestID(req.RequestID),
		Approve:   req.Action == "approve",
		Processor: identityFrom(r.Context()).ActorID,
		Comments:  req.Comments,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// SECURITY
// =============================================================================

// VerifyTransaction recomputes one transaction's hash and chain link.
// GET /v1/corporate/security/verify-transaction/{id}
func (h *Handler) VerifyTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := h.Credit.Get(r.Context(), core.TransactionID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.owns(r, t.HotelID); err != nil {
		h.writeError(w, r, err)
		return
	}
	v, err := h.Credit.Verify(r.Context(), t.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// DailyAudit verifies every hash chain of the hotel now.
// POST /v1/corporate/security/daily-audit
func (h *Handler) DailyAudit(w http.ResponseWriter, r *http.Request) {
	hotel, err := h.hotel(r, r.URL.Query().Get("hotelId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	report, err := h.Monitor.RunDailyAudit(r.Context(), hotel)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
