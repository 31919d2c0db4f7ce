/*
coupon.go - Coupon and batch types with the status state machine

PURPOSE:
  Defines the coupon entity, its batch grouping, and the scan audit row.
  The status state machine lives here: Transition is the ONLY place allowed
  to change a coupon's status, so every legality check is centralized.

STATE MACHINE:
  draft --print--> printed --activate--> active --scan(success)--> used
                                         active --expire(time)---> expired
                                         active --deactivate-----> deactivated

  Transitions are monotonic along this graph; used, expired and deactivated
  are terminal. A coupon whose expiry date has passed is treated as expired
  for validation purposes even before the stored status is rewritten.

SEE ALSO:
  - lifecycle.go: Batch-level print/activate/deactivate operations
  - issuer.go: Creates coupons in draft status
  - redeem.go: Consumes active coupons
*/
package engine

import (
	"crypto/rand"
	"time"
)

// =============================================================================
// COUPON STATUS - Tagged states, mutated only through Transition
// =============================================================================

type CouponStatus string

const (
	StatusDraft       CouponStatus = "draft"
	StatusPrinted     CouponStatus = "printed"
	StatusActive      CouponStatus = "active"
	StatusUsed        CouponStatus = "used"
	StatusExpired     CouponStatus = "expired"
	StatusDeactivated CouponStatus = "deactivated"
)

// transitions is the directed edge set of the lifecycle graph.
var transitions = map[CouponStatus][]CouponStatus{
	StatusDraft:   {StatusPrinted},
	StatusPrinted: {StatusActive},
	StatusActive:  {StatusUsed, StatusExpired, StatusDeactivated},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to CouponStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status has no outgoing edges.
func IsTerminal(s CouponStatus) bool {
	return len(transitions[s]) == 0
}

// =============================================================================
// DISCOUNT TYPE
// =============================================================================

type DiscountType string

const (
	DiscountFixed      DiscountType = "fixed"
	DiscountPercentage DiscountType = "percentage"
)

// =============================================================================
// COUPON
// =============================================================================

type Coupon struct {
	ID                CouponID
	TenantID          TenantID
	BatchID           BatchID
	VerificationAppID AppID
	Code              string // unique per tenant
	DiscountValue     Amount
	DiscountType      DiscountType
	Status            CouponStatus
	UsageLimit        int // 0 = unlimited
	CouponPoints      Amount
	ExpiryDate        time.Time
	DeactivateReason  string
	CreatedAt         time.Time
}

// Transition moves the coupon to the next status, enforcing the lifecycle
// graph. This is the single mutation point for Status.
func (c *Coupon) Transition(to CouponStatus) error {
	if !CanTransition(c.Status, to) {
		return &InvalidTransitionError{CouponCode: c.Code, Current: c.Status, Attempted: to}
	}
	c.Status = to
	return nil
}

// IsExpiredAt reports whether the coupon should be treated as expired at
// the given instant, regardless of the stored status.
func (c *Coupon) IsExpiredAt(now time.Time) bool {
	return c.ExpiryDate.Before(now)
}

// =============================================================================
// COUPON BATCH - Grouping id shared by coupons created in one issuance call
// =============================================================================

type CouponBatch struct {
	ID            BatchID
	TenantID      TenantID
	Description   string
	DiscountValue Amount
	Quantity      int
	ExpiryDate    time.Time
	PrintedAt     *time.Time
	PrintNote     string
	CreatedAt     time.Time
}

// =============================================================================
// SCAN - One row per redemption attempt that passed validation
// =============================================================================

type ScanStatus string

const (
	ScanSuccess ScanStatus = "SUCCESS"
)

type Scan struct {
	ID                 ScanID
	CouponID           CouponID
	TenantID           TenantID
	CustomerIdentifier string
	Status             ScanStatus
	Location           string
	DeviceInfo         string
	ScannedAt          time.Time
}

// =============================================================================
// COUPON CODES
// =============================================================================

// codeAlphabet omits 0/O/1/I/L so printed codes survive transcription.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const codeLength = 10

// NewCouponCode generates a random printable coupon code. Uniqueness per
// tenant is enforced by the store's unique index; at 31^10 the collision
// probability is negligible.
func NewCouponCode() string {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return "CPN-" + string(buf)
}
