package core

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/hotel-core/calendar"
)

// =============================================================================
// CREDIT TRANSACTIONS - Append-only corporate journal
// =============================================================================

type TransactionType string

const (
	TxDebit      TransactionType = "debit"
	TxCredit     TransactionType = "credit"
	TxAdjustment TransactionType = "adjustment"
	TxRefund     TransactionType = "refund"
	TxPayment    TransactionType = "payment"
)

var transactionTypes = []TransactionType{TxDebit, TxCredit, TxAdjustment, TxRefund, TxPayment}

// ValidTransactionType reports whether t is a known variant.
func ValidTransactionType(t TransactionType) bool { return slices.Contains(transactionTypes, t) }

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusApproved  TransactionStatus = "approved"
	StatusRejected  TransactionStatus = "rejected"
	StatusProcessed TransactionStatus = "processed"
	StatusCancelled TransactionStatus = "cancelled"
)

// AdjustmentDirection carries the sign of an adjustment; amounts are never negative.
type AdjustmentDirection string

const (
	AdjustIncrease AdjustmentDirection = "increase"
	AdjustDecrease AdjustmentDirection = "decrease"
)

// ApprovalDetails records who resolved a pending transaction and why.
type ApprovalDetails struct {
	Approver string    `json:"approver"`
	At       time.Time `json:"at"`
	Notes    string    `json:"notes,omitempty"`
}

// CreditTransaction is one journal entry. Once terminal (processed,
// rejected, cancelled) only LinkedTransactionID may change.
type CreditTransaction struct {
	ID              TransactionID       `json:"id"`
	HotelID         HotelID             `json:"hotelId"`
	CompanyID       CompanyID           `json:"companyId"`
	BookingID       BookingID           `json:"bookingId,omitempty"`
	Type            TransactionType     `json:"transactionType"`
	Direction       AdjustmentDirection `json:"direction,omitempty"`
	Amount          decimal.Decimal     `json:"amount"`
	Balance         decimal.Decimal     `json:"balance"`
	Description     string              `json:"description"`
	Reference       string              `json:"reference,omitempty"`
	TransactionDate time.Time           `json:"transactionDate"`
	DueDate         calendar.Date       `json:"dueDate,omitempty"`
	Status          TransactionStatus   `json:"status"`
	ApprovalDetails *ApprovalDetails    `json:"approvalDetails,omitempty"`
	CreatedBy       string              `json:"createdBy"`

	// Integrity chain over the company's processed transactions.
	IntegrityHash string `json:"integrityHash,omitempty"`
	PrevHash      string `json:"prevHash,omitempty"`
	ChainSeq      int64  `json:"chainSeq,omitempty"`

	LinkedTransactionID TransactionID `json:"linkedTransactionId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Effect is the signed change to the company's available credit.
func (t CreditTransaction) Effect() decimal.Decimal {
	switch t.Type {
	case TxDebit:
		return t.Amount.Neg()
	case TxAdjustment:
		if t.Direction == AdjustDecrease {
			return t.Amount.Neg()
		}
		return t.Amount
	default:
		return t.Amount
	}
}

// IsTerminal reports whether the record is frozen.
func (t CreditTransaction) IsTerminal() bool {
	switch t.Status {
	case StatusProcessed, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// IsOverdue reports whether a processed debit's due date is before cutoff.
func (t CreditTransaction) IsOverdue(cutoff calendar.Date) bool {
	return t.Type == TxDebit && t.Status == StatusProcessed &&
		!t.DueDate.IsZero() && t.DueDate.Before(cutoff)
}

//	[pending] ──approve──▶ [approved] ──post──▶ [processed]
//	    └──reject──▶ [rejected]
//	[pending|approved] ──cancel──▶ [cancelled]
var transitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:  {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved: {StatusProcessed, StatusCancelled},
}

// CanTransition reports whether the journal state machine allows from → to.
func CanTransition(from, to TransactionStatus) bool {
	return slices.Contains(transitions[from], to)
}

// Transition moves the transaction to a new status or fails with StateTransitionError.
func (t *CreditTransaction) Transition(to TransactionStatus) error {
	if !CanTransition(t.Status, to) {
		return Errorf(KindStateTransition, "transaction %s cannot move from %s to %s", t.ID, t.Status, to).
			With("from", t.Status).With("to", to)
	}
	t.Status = to
	return nil
}

func (t CreditTransaction) Validate() error {
	switch {
	case t.HotelID == "" || t.CompanyID == "":
		return Validationf("transaction requires hotelId and companyId")
	case !ValidTransactionType(t.Type):
		return Validationf("unknown transaction type %q", t.Type)
	case t.Amount.IsNegative():
		return Validationf("amount must be >= 0; the sign is carried by the type")
	case t.Type == TxAdjustment && t.Direction != AdjustIncrease && t.Direction != AdjustDecrease:
		return Validationf("adjustment requires direction increase or decrease")
	}
	return nil
}

// =============================================================================
// CREDIT LIMIT REQUESTS
// =============================================================================

type LimitRequestStatus string

const (
	LimitPending  LimitRequestStatus = "pending"
	LimitApproved LimitRequestStatus = "approved"
	LimitRejected LimitRequestStatus = "rejected"
)

type CreditLimitRequest struct {
	ID             RequestID          `json:"id"`
	HotelID        HotelID            `json:"hotelId"`
	CompanyID      CompanyID          `json:"companyId"`
	CurrentLimit   decimal.Decimal    `json:"currentLimit"`
	RequestedLimit decimal.Decimal    `json:"requestedLimit"`
	Justification  string             `json:"justification"`
	Status         LimitRequestStatus `json:"status"`
	RequestedBy    string             `json:"requestedBy"`
	Processor      string             `json:"processor,omitempty"`
	Comments       string             `json:"comments,omitempty"`
	ProcessedAt    *time.Time         `json:"processedAt,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
}
