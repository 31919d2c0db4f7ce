/*
redeem.go - The scan/redemption transaction

PURPOSE:
  Validates a coupon against lifecycle, expiry, app ownership and usage
  limit, records the scan, and awards reward points - all within one store
  transaction. Any failure after the coupon is resolved rolls back the whole
  attempt: no partial scan record, no partial point award. The one exception
  is lazy expiry: the active -> expired status write commits on its own
  before the CouponExpired error is returned, so the next read sees the
  coupon expired.

CONCURRENCY:
  Two concurrent scans on the same code are serialized by the store's write
  transaction. Only one can observe "under limit" and commit; the other
  deterministically fails AlreadyUsed or UsageLimitExceeded.

USAGE LIMIT POLICY:
  usage_limit bounds the GLOBAL number of successful scans per coupon,
  regardless of customer identity (0 = unlimited). The customer identifier
  on the scan row is audit data, not a per-customer allowance.
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ScanContext carries the caller-side details of a redemption attempt.
type ScanContext struct {
	// VerificationAppID is the app context of the scan; when non-empty the
	// coupon must belong to this app.
	VerificationAppID AppID
	// Access is set on gated (API-key) calls. The resolved credential is
	// re-verified against the coupon before any scan state changes.
	Access     *AccessContext
	Location   string
	DeviceInfo string
}

// ScanResult summarizes a successful redemption.
type ScanResult struct {
	ScanID        ScanID
	Coupon        Coupon
	PointsAwarded Amount
	PointsBalance Amount
}

// =============================================================================
// REDEEMER
// =============================================================================

type Redeemer struct {
	Store TxStore
	Gate  *Gate
	Clock func() time.Time
}

func NewRedeemer(store TxStore) *Redeemer {
	return &Redeemer{Store: store, Gate: NewGate(store), Clock: time.Now}
}

// Scan redeems a coupon for a customer.
func (r *Redeemer) Scan(ctx context.Context, tenantID TenantID, code string, customer CustomerID, sc ScanContext) (*ScanResult, error) {
	now := r.now()
	var result ScanResult
	var lapsed *Coupon
	err := r.Store.WithTx(ctx, func(s Store) error {
		coupon, err := s.GetCouponByCode(ctx, tenantID, code)
		if err != nil {
			return err
		}
		if coupon == nil {
			return fmt.Errorf("%w: %s", ErrCouponNotFound, code)
		}

		if sc.Access != nil {
			if err := r.Gate.VerifyCouponAccess(*sc.Access, coupon); err != nil {
				return err
			}
		}
		if sc.VerificationAppID != "" && coupon.VerificationAppID != sc.VerificationAppID {
			return fmt.Errorf("%w: coupon %s", ErrAppMismatch, code)
		}

		if coupon.Status != StatusActive {
			switch coupon.Status {
			case StatusExpired:
				return fmt.Errorf("%w: %s", ErrCouponExpired, code)
			case StatusUsed:
				return fmt.Errorf("%w: %s", ErrAlreadyUsed, code)
			default:
				return fmt.Errorf("%w: %s is %s", ErrCouponNotActive, code, coupon.Status)
			}
		}

		if coupon.IsExpiredAt(now) {
			// Commit the status write by returning nil; the business error
			// surfaces after the tx so the rollback cannot swallow it.
			if err := expireCoupon(ctx, s, coupon); err != nil {
				return err
			}
			lapsed = coupon
			return nil
		}

		if coupon.UsageLimit > 0 {
			used, err := s.CountSuccessfulScans(ctx, coupon.ID)
			if err != nil {
				return err
			}
			if used >= coupon.UsageLimit {
				return &UsageLimitError{CouponCode: code, Limit: coupon.UsageLimit, Used: used}
			}

			// This scan is the one that reaches the limit.
			if used+1 == coupon.UsageLimit {
				if err := coupon.Transition(StatusUsed); err != nil {
					return err
				}
				if err := s.UpdateCoupon(ctx, *coupon); err != nil {
					return err
				}
			}
		}

		scan := Scan{
			ID:                 ScanID(uuid.NewString()),
			CouponID:           coupon.ID,
			TenantID:           tenantID,
			CustomerIdentifier: string(customer),
			Status:             ScanSuccess,
			Location:           sc.Location,
			DeviceInfo:         sc.DeviceInfo,
			ScannedAt:          now,
		}
		if err := s.InsertScan(ctx, scan); err != nil {
			return err
		}

		result = ScanResult{ScanID: scan.ID, Coupon: *coupon, PointsAwarded: NewPoints(0)}

		if coupon.CouponPoints.IsPositive() {
			balance, _, err := applyPointsDelta(ctx, s, now, tenantID, customer, coupon.CouponPoints, Reference{
				ID:          string(scan.ID),
				Type:        RefCouponScan,
				Description: fmt.Sprintf("coupon %s redeemed", code),
			})
			if err != nil {
				return err
			}
			result.PointsAwarded = coupon.CouponPoints
			result.PointsBalance = balance.Balance
		} else {
			balance, err := s.GetPointsBalance(ctx, tenantID, customer)
			if err != nil {
				return err
			}
			if balance != nil {
				result.PointsBalance = balance.Balance
			} else {
				result.PointsBalance = NewPoints(0)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if lapsed != nil {
		return nil, fmt.Errorf("%w: %s expired %s", ErrCouponExpired, code, lapsed.ExpiryDate.Format("2006-01-02"))
	}
	return &result, nil
}

func (r *Redeemer) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now()
}
