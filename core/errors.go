/*
errors.go - Error taxonomy shared by every component of the booking core

PURPOSE:
  All error kinds in one place. Every error that leaves a component can be
  classified with KindOf, which the HTTP layer turns into a status code and
  a typed body {kind, message, details}.

TWO SHAPES:
  1. Sentinels - compare with errors.Is(err, core.ErrInsufficientCredit)
  2. *Error    - carries Kind, a message and structured details; unwraps
                 to the sentinel of its kind and to its cause

    return core.Errorf(core.KindInsufficientInventory, "only %d rooms left", n).
        With("dates", offending)

PROPAGATION:
  ValidationError, InsufficientInventory, InsufficientCredit,
  SeasonalRestriction, CompanyInactive and StateTransitionError are shown to
  users. ErrConcurrentModification is a single lost optimistic write; it is
  retried by Retry and only surfaces as ConcurrencyConflict once the budget
  is spent. IntegrityViolation is logged with full context and only shown
  to admins.

SEE ALSO:
  - retry.go: Optimistic concurrency retry loop
  - api/handlers.go: Kind to HTTP status mapping
*/
package core

import (
	"errors"
	"fmt"
)

// Kind discriminates errors on the wire.
type Kind string

const (
	KindValidation            Kind = "ValidationError"
	KindNoInventoryDefined    Kind = "NoInventoryDefined"
	KindInsufficientInventory Kind = "InsufficientInventory"
	KindSeasonalRestriction   Kind = "SeasonalRestriction"
	KindNoRatePlanApplicable  Kind = "NoRatePlanApplicable"
	KindInsufficientCredit    Kind = "InsufficientCredit"
	KindCompanyInactive       Kind = "CompanyInactive"
	KindStateTransition       Kind = "StateTransitionError"
	KindIntegrityViolation    Kind = "IntegrityViolation"
	KindConcurrencyConflict   Kind = "ConcurrencyConflict"
	KindNotFound              Kind = "NotFound"
	KindInternal              Kind = "InternalError"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation            = errors.New("validation error")
	ErrNoInventoryDefined    = errors.New("no availability data")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrSeasonalRestriction   = errors.New("booking restricted by season")
	ErrNoRatePlanApplicable  = errors.New("no rate plan applicable")
	ErrInsufficientCredit    = errors.New("insufficient credit")
	ErrCompanyInactive       = errors.New("company inactive")
	ErrStateTransition       = errors.New("state transition not allowed")
	ErrIntegrityViolation    = errors.New("integrity violation")
	ErrConcurrencyConflict   = errors.New("concurrency conflict")
	ErrNotFound              = errors.New("not found")
	ErrInternal              = errors.New("internal error")

	// ErrConcurrentModification is returned by stores when an optimistic
	// version check fails. It is retryable.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicate is returned by stores on a unique-key violation.
	ErrDuplicate = errors.New("duplicate key")
)

var sentinels = map[Kind]error{
	KindValidation:            ErrValidation,
	KindNoInventoryDefined:    ErrNoInventoryDefined,
	KindInsufficientInventory: ErrInsufficientInventory,
	KindSeasonalRestriction:   ErrSeasonalRestriction,
	KindNoRatePlanApplicable:  ErrNoRatePlanApplicable,
	KindInsufficientCredit:    ErrInsufficientCredit,
	KindCompanyInactive:       ErrCompanyInactive,
	KindStateTransition:       ErrStateTransition,
	KindIntegrityViolation:    ErrIntegrityViolation,
	KindConcurrencyConflict:   ErrConcurrencyConflict,
	KindNotFound:              ErrNotFound,
	KindInternal:              ErrInternal,
}

// =============================================================================
// STRUCTURED ERROR
// =============================================================================

// Error is a classified error with details for the response body.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies a cause under kind.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// With attaches a detail and returns the same error.
func (e *Error) With(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	errs := []error{sentinels[e.Kind]}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Validationf is shorthand for the most common kind.
func Validationf(format string, args ...any) *Error {
	return Errorf(KindValidation, format, args...)
}

// NotFoundf is shorthand for a missing entity.
func NotFoundf(format string, args ...any) *Error {
	return Errorf(KindNotFound, format, args...)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// classification order matters: a structured error wins over any sentinel
// it happens to wrap.
var kindOrder = []Kind{
	KindValidation, KindNoInventoryDefined, KindInsufficientInventory,
	KindSeasonalRestriction, KindNoRatePlanApplicable, KindInsufficientCredit,
	KindCompanyInactive, KindStateTransition, KindIntegrityViolation,
	KindConcurrencyConflict, KindNotFound, KindInternal,
}

// KindOf classifies err. Unclassified errors are InternalError.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrConcurrentModification) {
		return KindConcurrencyConflict
	}
	for _, k := range kindOrder {
		if errors.Is(err, sentinels[k]) {
			return k
		}
	}
	return KindInternal
}

// DetailsOf returns the details of a structured error, if any.
func DetailsOf(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is caused by the request itself.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNoInventoryDefined, KindInsufficientInventory,
		KindSeasonalRestriction, KindNoRatePlanApplicable, KindInsufficientCredit,
		KindCompanyInactive, KindStateTransition:
		return true
	}
	return false
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
