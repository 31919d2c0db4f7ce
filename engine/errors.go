/*
errors.go - Centralized error types for the engine

PURPOSE:
  The full error taxonomy in one place. Every failure carries a
  machine-readable kind (the sentinel) plus a human message; the structured
  variants carry enough context (current status, available balance, required
  minimum) for the caller to decide whether to retry.

ERROR CATEGORIES:
  1. Validation errors  - malformed or out-of-range input
  2. Ledger errors      - balance would go negative
  3. Workflow errors    - credit request state violations
  4. Lifecycle errors   - illegal coupon status transitions
  5. Redemption errors  - scan-time violations
  6. Access errors      - API-key gate violations
  7. Store errors       - transient failures, retryable

USAGE:
  if errors.Is(err, engine.ErrInsufficientCredit) { ... }

  var insufficient *engine.InsufficientCreditError
  if errors.As(err, &insufficient) {
      log.Printf("available: %v", insufficient.Available.Value)
  }

SEE ALSO:
  - ledger.go, issuer.go, redeem.go: Producers of these errors
  - api/handlers.go: HTTP status mapping
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed or out-of-range input.
	ErrValidation = errors.New("validation error")

	// ErrInsufficientCredit is returned when a debit would drive the
	// tenant's credit balance negative.
	ErrInsufficientCredit = errors.New("insufficient credit")

	// ErrInsufficientPoints is returned when a points spend exceeds the
	// customer's balance.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrBelowMinimum is returned when a credit request is under the
	// platform minimum.
	ErrBelowMinimum = errors.New("requested amount below minimum")

	// ErrDuplicatePendingRequest is returned when a tenant already has a
	// pending credit request.
	ErrDuplicatePendingRequest = errors.New("tenant already has a pending credit request")

	// ErrInvalidState is returned for illegal coupon status transitions.
	ErrInvalidState = errors.New("invalid coupon state")

	// ErrAlreadyPrinted is returned when printing a batch that is not
	// entirely in draft state.
	ErrAlreadyPrinted = errors.New("batch already printed")

	// ErrMustPrintFirst is returned when activating a batch that still
	// contains draft coupons.
	ErrMustPrintFirst = errors.New("batch must be printed before activation")

	// ErrCouponNotFound is returned when no coupon matches (tenant, code).
	ErrCouponNotFound = errors.New("coupon not found")

	// ErrCouponExpired is returned when a coupon's expiry date has passed.
	ErrCouponExpired = errors.New("coupon expired")

	// ErrCouponNotActive is returned when scanning a coupon that is not
	// in active status.
	ErrCouponNotActive = errors.New("coupon not active")

	// ErrAlreadyUsed is returned when a single-use coupon already has a
	// successful scan.
	ErrAlreadyUsed = errors.New("coupon already used")

	// ErrUsageLimitExceeded is returned when prior successful scans have
	// reached the coupon's usage limit.
	ErrUsageLimitExceeded = errors.New("coupon usage limit exceeded")

	// ErrAppMismatch is returned when a scan supplies an app context that
	// does not own the coupon.
	ErrAppMismatch = errors.New("coupon belongs to a different verification app")

	// ErrCrossAppAccess is returned when a gated caller references data
	// outside its resolved (tenant, app) pair.
	ErrCrossAppAccess = errors.New("cross-app access denied")

	// ErrUnauthorized is returned for unknown API keys.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the resolved app is inactive, or when
	// a principal's role does not permit the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned for missing credit requests, batches or tenants.
	ErrNotFound = errors.New("not found")

	// ErrRetryable marks transient store failures (lock timeout, connection
	// loss). The transaction was rolled back; the caller may retry.
	ErrRetryable = errors.New("transient store failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports which field failed and why.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InsufficientCreditError provides details about a credit shortage.
type InsufficientCreditError struct {
	TenantID  TenantID
	Available Amount
	Requested Amount
	Shortfall Amount
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient credit for tenant %s: available %v, requested %v, shortfall %v",
		e.TenantID, e.Available.Value, e.Requested.Value, e.Shortfall.Value)
}

func (e *InsufficientCreditError) Unwrap() error { return ErrInsufficientCredit }

// InsufficientPointsError provides details about a points shortage.
type InsufficientPointsError struct {
	TenantID   TenantID
	CustomerID CustomerID
	Available  Amount
	Requested  Amount
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points for customer %s: available %v, requested %v",
		e.CustomerID, e.Available.Value, e.Requested.Value)
}

func (e *InsufficientPointsError) Unwrap() error { return ErrInsufficientPoints }

// InvalidTransitionError reports an illegal coupon status change.
type InvalidTransitionError struct {
	CouponCode string
	Current    CouponStatus
	Attempted  CouponStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("coupon %s: cannot transition %s -> %s",
		e.CouponCode, e.Current, e.Attempted)
}

func (e *InvalidTransitionError) Unwrap() error {
	// Activating a coupon that was never printed gets its own kind so the
	// caller can direct the user to print first.
	if e.Current == StatusDraft && e.Attempted == StatusActive {
		return ErrMustPrintFirst
	}
	if e.Current == StatusPrinted && e.Attempted == StatusPrinted {
		return ErrAlreadyPrinted
	}
	return ErrInvalidState
}

// UsageLimitError reports how far over the limit a scan attempt was.
type UsageLimitError struct {
	CouponCode string
	Limit      int
	Used       int
}

func (e *UsageLimitError) Error() string {
	return fmt.Sprintf("coupon %s: usage limit %d reached (%d successful scans)",
		e.CouponCode, e.Limit, e.Used)
}

func (e *UsageLimitError) Unwrap() error {
	if e.Limit == 1 {
		return ErrAlreadyUsed
	}
	return ErrUsageLimitExceeded
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetryable)
}

// IsClientError returns true if the error is due to invalid client input or
// a business-rule violation, as opposed to a store failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientCredit) ||
		errors.Is(err, ErrInsufficientPoints) ||
		errors.Is(err, ErrBelowMinimum) ||
		errors.Is(err, ErrDuplicatePendingRequest) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrAlreadyPrinted) ||
		errors.Is(err, ErrMustPrintFirst) ||
		errors.Is(err, ErrCouponExpired) ||
		errors.Is(err, ErrCouponNotActive) ||
		errors.Is(err, ErrAlreadyUsed) ||
		errors.Is(err, ErrUsageLimitExceeded) ||
		errors.Is(err, ErrAppMismatch)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrCouponNotFound)
}
