/*
issuer.go - Coupon batch issuance against the credit ledger

PURPOSE:
  Minting coupons costs credits. CreateBatch computes the deterministic
  credit cost, debits the tenant's balance, and inserts the batch plus its
  coupons in draft status - all inside ONE store transaction. A debit never
  survives without its coupons and coupons never exist without their debit.

COST FUNCTION:
  cost = discountValue x quantity. Monotonic in both inputs, previewable
  via PreviewCost before committing to anything.

MULTI-BATCH:
  CreateMultiBatch validates every batch first, debits the SUM of all batch
  costs as a single ledger operation, and creates all coupons in the same
  outer transaction. Any invalid batch fails the whole call with no partial
  issuance and no partial debit.

SEE ALSO:
  - ledger.go: applyCreditDelta composed into the issuance transaction
  - lifecycle.go: Takes over once coupons exist
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BatchSpec describes one batch to issue.
type BatchSpec struct {
	Description   string
	DiscountValue Amount
	DiscountType  DiscountType
	Quantity      int
	UsageLimit    int
	CouponPoints  Amount
	ExpiryDate    time.Time
}

// IssueResult is what a successful issuance returns.
type IssueResult struct {
	Batches    []CouponBatch
	Coupons    []Coupon
	CreditCost Amount
	NewBalance Amount
}

// =============================================================================
// ISSUER
// =============================================================================

type Issuer struct {
	Store TxStore
	Clock func() time.Time
}

func NewIssuer(store TxStore) *Issuer {
	return &Issuer{Store: store, Clock: time.Now}
}

// PreviewCost returns the credit cost of a batch without touching anything.
func (i *Issuer) PreviewCost(spec BatchSpec) Amount {
	return batchCost(spec)
}

func batchCost(spec BatchSpec) Amount {
	cost := spec.DiscountValue.Mul(decimal.NewFromInt(int64(spec.Quantity)))
	return Amount{Value: cost.Value, Unit: UnitCredits}
}

// CreateBatch issues a single batch for the tenant.
func (i *Issuer) CreateBatch(ctx context.Context, tenantID TenantID, appID AppID, actor string, spec BatchSpec) (*IssueResult, error) {
	return i.CreateMultiBatch(ctx, tenantID, appID, actor, []BatchSpec{spec})
}

// CreateMultiBatch issues several batches, debiting the summed cost once.
// All-or-nothing over the whole set.
func (i *Issuer) CreateMultiBatch(ctx context.Context, tenantID TenantID, appID AppID, actor string, specs []BatchSpec) (*IssueResult, error) {
	if len(specs) == 0 {
		return nil, &ValidationError{Field: "batches", Message: "must not be empty"}
	}

	now := i.now()
	totalCost := NewCredits(0)
	for idx, spec := range specs {
		if err := validateBatchSpec(spec, now); err != nil {
			return nil, fmt.Errorf("batch %d: %w", idx, err)
		}
		totalCost = totalCost.Add(batchCost(spec))
	}

	result := &IssueResult{CreditCost: totalCost}
	err := i.Store.WithTx(ctx, func(s Store) error {
		balance, _, err := applyCreditDelta(ctx, s, now, tenantID, totalCost.Neg(), Reference{
			ID:          uuid.NewString(),
			Type:        RefCouponBatch,
			Description: fmt.Sprintf("issued %d coupon batch(es)", len(specs)),
			Actor:       actor,
		})
		if err != nil {
			return err
		}
		result.NewBalance = balance.Balance

		for _, spec := range specs {
			batch := CouponBatch{
				ID:            BatchID(uuid.NewString()),
				TenantID:      tenantID,
				Description:   spec.Description,
				DiscountValue: spec.DiscountValue,
				Quantity:      spec.Quantity,
				ExpiryDate:    spec.ExpiryDate,
				CreatedAt:     now,
			}
			if err := s.InsertCouponBatch(ctx, batch); err != nil {
				return err
			}

			coupons := make([]Coupon, spec.Quantity)
			for n := range coupons {
				coupons[n] = Coupon{
					ID:                CouponID(uuid.NewString()),
					TenantID:          tenantID,
					BatchID:           batch.ID,
					VerificationAppID: appID,
					Code:              NewCouponCode(),
					DiscountValue:     spec.DiscountValue,
					DiscountType:      spec.DiscountType,
					Status:            StatusDraft,
					UsageLimit:        spec.UsageLimit,
					CouponPoints:      spec.CouponPoints,
					ExpiryDate:        spec.ExpiryDate,
					CreatedAt:         now,
				}
			}
			if err := s.InsertCoupons(ctx, coupons); err != nil {
				return err
			}

			result.Batches = append(result.Batches, batch)
			result.Coupons = append(result.Coupons, coupons...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func validateBatchSpec(spec BatchSpec, now time.Time) error {
	if spec.Quantity <= 0 {
		return &ValidationError{Field: "quantity", Message: "must be positive"}
	}
	if !spec.DiscountValue.IsPositive() {
		return &ValidationError{Field: "discount_value", Message: "must be positive"}
	}
	if spec.DiscountType != DiscountFixed && spec.DiscountType != DiscountPercentage {
		return &ValidationError{Field: "discount_type", Message: "must be fixed or percentage"}
	}
	if !spec.ExpiryDate.After(now) {
		return &ValidationError{Field: "expiry_date", Message: "must be in the future"}
	}
	if spec.UsageLimit < 0 {
		return &ValidationError{Field: "usage_limit", Message: "must be zero (unlimited) or positive"}
	}
	if spec.CouponPoints.IsNegative() {
		return &ValidationError{Field: "coupon_points", Message: "must not be negative"}
	}
	return nil
}

func (i *Issuer) now() time.Time {
	if i.Clock != nil {
		return i.Clock()
	}
	return time.Now()
}
