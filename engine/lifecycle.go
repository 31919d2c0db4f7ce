/*
lifecycle.go - Batch-level coupon lifecycle operations

PURPOSE:
  Print, activate and deactivate operations over the state machine defined
  in coupon.go. Print and activate are whole-batch and all-or-nothing: the
  batch is validated in full before the first status write, so a batch with
  one out-of-place coupon is left untouched.

LAZY EXPIRY:
  A coupon whose expiry date has passed is expired regardless of the stored
  status. Mutating operations that observe such a coupon persist the expired
  status and fail with CouponExpired.

SEE ALSO:
  - coupon.go: Transition function and the lifecycle graph
  - redeem.go: The scan path that moves active coupons to used
*/
package engine

import (
	"context"
	"fmt"
	"time"
)

type Lifecycle struct {
	Store    TxStore
	Notifier Notifier
	Clock    func() time.Time
}

func NewLifecycle(store TxStore, notifier Notifier) *Lifecycle {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Lifecycle{Store: store, Notifier: notifier, Clock: time.Now}
}

// PrintBatch transitions every coupon of the batch draft -> printed and
// stamps the batch with printed_at and the print note. Returns the number
// of coupons printed.
func (lc *Lifecycle) PrintBatch(ctx context.Context, tenantID TenantID, batchID BatchID, note string) (int, error) {
	now := lc.now()
	var printed int
	err := lc.Store.WithTx(ctx, func(s Store) error {
		batch, coupons, err := loadBatch(ctx, s, tenantID, batchID)
		if err != nil {
			return err
		}

		// Validate the whole batch before mutating anything.
		for _, c := range coupons {
			if c.Status != StatusDraft {
				return &InvalidTransitionError{CouponCode: c.Code, Current: c.Status, Attempted: StatusPrinted}
			}
		}

		for _, c := range coupons {
			if err := c.Transition(StatusPrinted); err != nil {
				return err
			}
			if err := s.UpdateCoupon(ctx, c); err != nil {
				return err
			}
		}

		batch.PrintedAt = &now
		batch.PrintNote = note
		if err := s.UpdateCouponBatch(ctx, *batch); err != nil {
			return err
		}
		printed = len(coupons)
		return nil
	})
	if err != nil {
		return 0, err
	}

	lc.Notifier.Notify(Event{
		Type:       EventBatchPrinted,
		TenantID:   tenantID,
		Subject:    fmt.Sprintf("Coupon batch %s printed (%d coupons)", batchID, printed),
		Detail:     map[string]string{"batch_id": string(batchID), "note": note},
		OccurredAt: now,
	})
	return printed, nil
}

// ActivateBatch transitions every coupon of the batch printed -> active.
func (lc *Lifecycle) ActivateBatch(ctx context.Context, tenantID TenantID, batchID BatchID) (int, error) {
	now := lc.now()
	var activated int
	err := lc.Store.WithTx(ctx, func(s Store) error {
		_, coupons, err := loadBatch(ctx, s, tenantID, batchID)
		if err != nil {
			return err
		}

		for _, c := range coupons {
			if c.Status != StatusPrinted {
				return &InvalidTransitionError{CouponCode: c.Code, Current: c.Status, Attempted: StatusActive}
			}
		}

		for _, c := range coupons {
			if err := c.Transition(StatusActive); err != nil {
				return err
			}
			if err := s.UpdateCoupon(ctx, c); err != nil {
				return err
			}
		}
		activated = len(coupons)
		return nil
	})
	if err != nil {
		return 0, err
	}

	lc.Notifier.Notify(Event{
		Type:       EventBatchActivated,
		TenantID:   tenantID,
		Subject:    fmt.Sprintf("Coupon batch %s activated (%d coupons)", batchID, activated),
		Detail:     map[string]string{"batch_id": string(batchID)},
		OccurredAt: now,
	})
	return activated, nil
}

// Deactivate retires a single active coupon. Terminal; the reason is kept
// for audit.
func (lc *Lifecycle) Deactivate(ctx context.Context, tenantID TenantID, code, reason string) (*Coupon, error) {
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Message: "is required"}
	}

	now := lc.now()
	var out Coupon
	var lapsed *Coupon
	err := lc.Store.WithTx(ctx, func(s Store) error {
		coupon, err := s.GetCouponByCode(ctx, tenantID, code)
		if err != nil {
			return err
		}
		if coupon == nil {
			return fmt.Errorf("%w: %s", ErrCouponNotFound, code)
		}

		if coupon.Status == StatusActive && coupon.IsExpiredAt(now) {
			// Commit the status write by returning nil; returning the
			// business error here would roll it back.
			if err := expireCoupon(ctx, s, coupon); err != nil {
				return err
			}
			lapsed = coupon
			return nil
		}

		if err := coupon.Transition(StatusDeactivated); err != nil {
			return err
		}
		coupon.DeactivateReason = reason
		if err := s.UpdateCoupon(ctx, *coupon); err != nil {
			return err
		}
		out = *coupon
		return nil
	})
	if err != nil {
		return nil, err
	}
	if lapsed != nil {
		return nil, fmt.Errorf("%w: %s expired %s", ErrCouponExpired, code, lapsed.ExpiryDate.Format("2006-01-02"))
	}
	return &out, nil
}

// CouponByCode resolves a coupon for the read surface, reporting expired
// status without rewriting the row.
func (lc *Lifecycle) CouponByCode(ctx context.Context, tenantID TenantID, code string) (*Coupon, error) {
	coupon, err := lc.Store.GetCouponByCode(ctx, tenantID, code)
	if err != nil {
		return nil, err
	}
	if coupon == nil {
		return nil, fmt.Errorf("%w: %s", ErrCouponNotFound, code)
	}
	if coupon.Status == StatusActive && coupon.IsExpiredAt(lc.now()) {
		coupon.Status = StatusExpired
	}
	return coupon, nil
}

func loadBatch(ctx context.Context, s Store, tenantID TenantID, batchID BatchID) (*CouponBatch, []Coupon, error) {
	batch, err := s.GetCouponBatch(ctx, tenantID, batchID)
	if err != nil {
		return nil, nil, err
	}
	if batch == nil {
		return nil, nil, fmt.Errorf("%w: batch %s", ErrNotFound, batchID)
	}
	coupons, err := s.ListCouponsByBatch(ctx, tenantID, batchID)
	if err != nil {
		return nil, nil, err
	}
	return batch, coupons, nil
}

// expireCoupon persists the lazy active -> expired transition.
func expireCoupon(ctx context.Context, s Store, coupon *Coupon) error {
	if err := coupon.Transition(StatusExpired); err != nil {
		return err
	}
	return s.UpdateCoupon(ctx, *coupon)
}

func (lc *Lifecycle) now() time.Time {
	if lc.Clock != nil {
		return lc.Clock()
	}
	return time.Now()
}
