package core

import (
	"regexp"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/hotel-core/calendar"
)

// =============================================================================
// CORPORATE COMPANY
// =============================================================================

// GSTINPattern is the Indian GSTIN format.
var GSTINPattern = regexp.MustCompile(`^[0-9]{2}[A-Z]{5}[0-9]{4}[A-Z]{1}[1-9A-Z]{1}Z[0-9A-Z]{1}$`)

// PaymentTerms are the allowed credit periods in days.
var PaymentTerms = []int{15, 30, 45, 60, 90}

type BillingCycle string

const (
	BillingImmediate BillingCycle = "immediate"
	BillingWeekly    BillingCycle = "weekly"
	BillingMonthly   BillingCycle = "monthly"
	BillingQuarterly BillingCycle = "quarterly"
)

var billingCycles = []BillingCycle{BillingImmediate, BillingWeekly, BillingMonthly, BillingQuarterly}

type HRContact struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone,omitempty"`
	Designation string `json:"designation,omitempty"`
	IsPrimary   bool   `json:"isPrimary"`
}

type ContractDetails struct {
	DiscountPercentage decimal.Decimal `json:"discountPercentage"`
	ContractStart      calendar.Date   `json:"contractStart,omitempty"`
	ContractEnd        calendar.Date   `json:"contractEnd,omitempty"`
	SpecialTerms       string          `json:"specialTerms,omitempty"`
}

// Company is a corporate account with a credit line at one hotel.
type Company struct {
	ID              CompanyID       `json:"id"`
	HotelID         HotelID         `json:"hotelId"`
	Name            string          `json:"name"`
	Email           string          `json:"email,omitempty"`
	Phone           string          `json:"phone,omitempty"`
	Address         string          `json:"address,omitempty"`
	GSTNumber       string          `json:"gstNumber"`
	CreditLimit     decimal.Decimal `json:"creditLimit"`
	AvailableCredit decimal.Decimal `json:"availableCredit"`
	PaymentTerms    int             `json:"paymentTerms"`
	BillingCycle    BillingCycle    `json:"billingCycle"`
	ContractDetails ContractDetails `json:"contractDetails"`
	HRContacts      []HRContact     `json:"hrContacts"`
	IsActive        bool            `json:"isActive"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// UsedCredit is CreditLimit - AvailableCredit.
func (c Company) UsedCredit() decimal.Decimal { return c.CreditLimit.Sub(c.AvailableCredit) }

// Utilization is the used share of the limit in percent; 0 when there is no limit.
func (c Company) Utilization() decimal.Decimal {
	if !c.CreditLimit.IsPositive() {
		return decimal.Zero
	}
	return c.UsedCredit().Div(c.CreditLimit).Mul(Hundred).Round(2)
}

// HasAvailableCredit reports whether amount can be debited now.
func (c Company) HasAvailableCredit(amount decimal.Decimal) bool {
	return c.AvailableCredit.GreaterThanOrEqual(amount)
}

// PrimaryContact returns the primary HR contact, if any.
func (c Company) PrimaryContact() (HRContact, bool) {
	for _, hc := range c.HRContacts {
		if hc.IsPrimary {
			return hc, true
		}
	}
	return HRContact{}, false
}

// NormalizeContacts leaves exactly one primary contact: the first marked
// one, or the first contact when none is marked.
func NormalizeContacts(contacts []HRContact) []HRContact {
	out := slices.Clone(contacts)
	seen := false
	for i := range out {
		if out[i].IsPrimary {
			if seen {
				out[i].IsPrimary = false
			}
			seen = true
		}
	}
	if !seen && len(out) > 0 {
		out[0].IsPrimary = true
	}
	return out
}

// Validate checks the invariants enforced on every save.
func (c Company) Validate() error {
	switch {
	case c.ID == "" || c.HotelID == "":
		return Validationf("company requires id and hotelId")
	case c.Name == "":
		return Validationf("company name is required")
	case !GSTINPattern.MatchString(c.GSTNumber):
		return Validationf("invalid GST number %q", c.GSTNumber).With("field", "gstNumber")
	case c.CreditLimit.IsNegative():
		return Validationf("creditLimit must be >= 0").With("field", "creditLimit")
	case c.AvailableCredit.IsNegative() || c.AvailableCredit.GreaterThan(c.CreditLimit):
		return Validationf("availableCredit %s outside [0, %s]", c.AvailableCredit, c.CreditLimit).
			With("field", "availableCredit")
	case !slices.Contains(PaymentTerms, c.PaymentTerms):
		return Validationf("paymentTerms must be one of %v", PaymentTerms).With("field", "paymentTerms")
	case !slices.Contains(billingCycles, c.BillingCycle):
		return Validationf("unknown billing cycle %q", c.BillingCycle).With("field", "billingCycle")
	}
	d := c.ContractDetails.DiscountPercentage
	if d.IsNegative() || d.GreaterThan(Hundred) {
		return Validationf("discountPercentage must be within [0, 100]").With("field", "contractDetails.discountPercentage")
	}
	primaries := 0
	for _, hc := range c.HRContacts {
		if hc.IsPrimary {
			primaries++
		}
	}
	if len(c.HRContacts) > 0 && primaries != 1 {
		return Validationf("exactly one primary HR contact is required, found %d", primaries)
	}
	return nil
}
