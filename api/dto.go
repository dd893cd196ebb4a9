/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON request bodies of the /v1 surface. Responses reuse the
  service result types, which carry their own JSON tags.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Response wrappers the services do not already provide

TYPES:
  Inventory:
    OpenInventoryRequest, BlockRoomsRequest, RoomTypeRequest, RoomRequest

  Rates:
    QuoteRequest (seasons, special periods, plans and overrides decode
    straight into their core types)

  Bookings:
    CreateBookingRequest, CancelBookingRequest, ModifyBookingRequest,
    BookingStatusRequest

  Corporate:
    CreateCompanyRequest, UpdateCompanyRequest, PostTransactionRequest,
    TransactionActionRequest, ValidateCreditRequest, ProcessBookingRequest,
    LimitIncreaseRequest, ProcessLimitRequest

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Shape rules (required, ranges, enums) are validator/v10 tags checked by
  Handler.decode. Business rules stay in the services. Decimal and date
  fields are checked by the services since validator cannot see into them.

SEE ALSO:
  - handlers.go: decode and check
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/warp/hotel-core/calendar"
	"github.com/warp/hotel-core/core"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// =============================================================================
// INVENTORY
// =============================================================================

type OpenInventoryRequest struct {
	HotelID     string          `json:"hotelId"`
	RoomTypeID  string          `json:"roomTypeId" validate:"required"`
	Start       calendar.Date   `json:"start"`
	End         calendar.Date   `json:"end"`
	TotalRooms  int             `json:"totalRooms" validate:"gte=0"`
	BaseRate    decimal.Decimal `json:"baseRate"`
	SellingRate decimal.Decimal `json:"sellingRate"`
}

// BlockRoomsRequest blocks or unblocks rooms for the nights [start, end).
type BlockRoomsRequest struct {
	HotelID string        `json:"hotelId"`
	RoomIDs []string      `json:"roomIds" validate:"required,min=1,dive,required"`
	Start   calendar.Date `json:"start"`
	End     calendar.Date `json:"end"`
	Reason  string        `json:"reason" validate:"omitempty,max=200"`
}

type RoomTypeRequest struct {
	ID             string          `json:"id" validate:"required,max=64"`
	HotelID        string          `json:"hotelId"`
	Name           string          `json:"name" validate:"required"`
	Code           string          `json:"code" validate:"required,max=16"`
	BasePrice      decimal.Decimal `json:"basePrice"`
	MaxOccupancy   int             `json:"maxOccupancy" validate:"gte=1"`
	LegacyCategory string          `json:"legacyCategory" validate:"omitempty,oneof=single double suite deluxe presidential family accessible"`
}

type RoomRequest struct {
	ID         string `json:"id" validate:"required,max=64"`
	HotelID    string `json:"hotelId"`
	RoomTypeID string `json:"roomTypeId" validate:"required"`
	Number     string `json:"number" validate:"required"`
}

// =============================================================================
// RATES
// =============================================================================

type QuoteRequest struct {
	HotelID    string        `json:"hotelId"`
	RoomTypeID string        `json:"roomType" validate:"required"`
	CheckIn    calendar.Date `json:"checkIn"`
	CheckOut   calendar.Date `json:"checkOut"`
	Guests     int           `json:"guests" validate:"gte=0"`
	Rooms      int           `json:"rooms" validate:"gte=0"`
	PromoCode  string        `json:"promoCode" validate:"omitempty,max=32"`
	PlanID     string        `json:"planId"`
}

// =============================================================================
// BOOKINGS
// =============================================================================

type CreateBookingRequest struct {
	BookingID  string        `json:"bookingId" validate:"omitempty,max=64"`
	HotelID    string        `json:"hotelId"`
	RoomTypeID string        `json:"roomTypeId" validate:"required"`
	CheckIn    calendar.Date `json:"checkIn"`
	CheckOut   calendar.Date `json:"checkOut"`
	Rooms      int           `json:"roomsCount" validate:"gte=1"`
	Guests     int           `json:"guests" validate:"gte=1"`
	CompanyID  string        `json:"corporateCompanyId"`
	Source     string        `json:"source" validate:"omitempty,max=32"`
	PromoCode  string        `json:"promoCode" validate:"omitempty,max=32"`
	PlanID     string        `json:"planId"`
}

type CancelBookingRequest struct {
	Reason       string           `json:"reason" validate:"omitempty,max=500"`
	RefundAmount *decimal.Decimal `json:"refundAmount"`
}

type ModifyBookingRequest struct {
	RoomTypeID string        `json:"roomTypeId"`
	CheckIn    calendar.Date `json:"checkIn"`
	CheckOut   calendar.Date `json:"checkOut"`
	Rooms      int           `json:"roomsCount" validate:"gte=0"`
	Guests     int           `json:"guests" validate:"gte=0"`
	PromoCode  string        `json:"promoCode" validate:"omitempty,max=32"`
}

type BookingStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed checked_in checked_out cancelled no_show"`
}

// =============================================================================
// CORPORATE
// =============================================================================

type CreateCompanyRequest struct {
	ID              string               `json:"id" validate:"omitempty,max=64"`
	HotelID         string               `json:"hotelId"`
	Name            string               `json:"name" validate:"required,max=200"`
	Email           string               `json:"email" validate:"required,email"`
	Phone           string               `json:"phone"`
	Address         string               `json:"address"`
	GSTNumber       string               `json:"gstNumber" validate:"required,len=15"`
	CreditLimit     decimal.Decimal      `json:"creditLimit"`
	PaymentTerms    int                  `json:"paymentTerms" validate:"omitempty,oneof=15 30 45 60 90"`
	BillingCycle    string               `json:"billingCycle" validate:"omitempty,oneof=immediate weekly monthly quarterly"`
	ContractDetails core.ContractDetails `json:"contractDetails"`
	HRContacts      []core.HRContact     `json:"hrContacts" validate:"dive"`
}

// UpdateCompanyRequest is a partial update; absent fields are untouched.
type UpdateCompanyRequest struct {
	Name            *string               `json:"name" validate:"omitempty,max=200"`
	Email           *string               `json:"email" validate:"omitempty,email"`
	Phone           *string               `json:"phone"`
	Address         *string               `json:"address"`
	GSTNumber       *string               `json:"gstNumber" validate:"omitempty,len=15"`
	CreditLimit     *decimal.Decimal      `json:"creditLimit"`
	PaymentTerms    *int                  `json:"paymentTerms" validate:"omitempty,oneof=15 30 45 60 90"`
	BillingCycle    *string               `json:"billingCycle" validate:"omitempty,oneof=immediate weekly monthly quarterly"`
	ContractDetails *core.ContractDetails `json:"contractDetails"`
	HRContacts      []core.HRContact      `json:"hrContacts"`
}

type PostTransactionRequest struct {
	HotelID         string          `json:"hotelId"`
	CompanyID       string          `json:"companyId" validate:"required"`
	BookingID       string          `json:"bookingId"`
	Type            string          `json:"transactionType" validate:"required,oneof=debit credit adjustment refund payment"`
	Direction       string          `json:"direction" validate:"omitempty,oneof=increase decrease"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description" validate:"omitempty,max=500"`
	Reference       string          `json:"referenceNumber" validate:"omitempty,max=64"`
	TransactionDate *calendar.Date  `json:"transactionDate"`
	DueDate         calendar.Date   `json:"dueDate"`
	Status          string          `json:"status" validate:"omitempty,oneof=pending processed"`
}

// TransactionActionRequest carries approval notes or a rejection/cancel reason.
type TransactionActionRequest struct {
	Notes  string `json:"notes" validate:"omitempty,max=500"`
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

type ValidateCreditRequest struct {
	CompanyID string          `json:"companyId" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
}

// ProcessBookingRequest debits a company for a booking settled outside
// the coordinator.
type ProcessBookingRequest struct {
	CompanyID   string          `json:"companyId" validate:"required"`
	BookingID   string          `json:"bookingId" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"omitempty,max=500"`
	DueDate     calendar.Date   `json:"dueDate"`
}

type LimitIncreaseRequest struct {
	CompanyID      string          `json:"companyId" validate:"required"`
	RequestedLimit decimal.Decimal `json:"requestedLimit"`
	Justification  string          `json:"justification" validate:"required,max=1000"`
}

type ProcessLimitRequest struct {
	RequestID string `json:"requestId" validate:"required"`
	Action    string `json:"action" validate:"required,oneof=approve reject"`
	Comments  string `json:"comments" validate:"omitempty,max=1000"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId" validate:"required"`
}
