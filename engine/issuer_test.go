package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loyalty-engine/engine"
)

func validSpec(quantity int, discount int64) engine.BatchSpec {
	return engine.BatchSpec{
		Description:   "spring promo",
		DiscountValue: engine.NewCredits(discount),
		DiscountType:  engine.DiscountFixed,
		Quantity:      quantity,
		UsageLimit:    1,
		CouponPoints:  engine.NewPoints(10),
		ExpiryDate:    time.Now().AddDate(0, 1, 0),
	}
}

// =============================================================================
// COST TESTS
// =============================================================================

func TestIssuer_PreviewCost(t *testing.T) {
	issuer := engine.NewIssuer(newTestStore(t))

	cost := issuer.PreviewCost(validSpec(6, 50))
	assert.True(t, cost.Equal(engine.NewCredits(300)), "50 x 6 = 300, got %v", cost.Value)
}

// =============================================================================
// ISSUANCE TESTS
// =============================================================================

func TestIssuer_CreateBatch_DebitsCreditsAndMintsDrafts(t *testing.T) {
	// GIVEN: A tenant with balance 500
	// WHEN: Issuing a batch of 6 coupons with discount value 50
	// THEN: 300 credits are debited and 6 draft coupons exist

	store := newTestStore(t)
	issuer := engine.NewIssuer(store)
	ledger := engine.NewCreditLedger(store)
	ctx := context.Background()
	tenant := engine.TenantID("tenant-1")

	seedCredits(t, ledger, tenant, 500)

	result, err := issuer.CreateBatch(ctx, tenant, "app-1", "user-1", validSpec(6, 50))
	require.NoError(t, err)

	assert.True(t, result.CreditCost.Equal(engine.NewCredits(300)))
	assert.True(t, result.NewBalance.Equal(engine.NewCredits(200)))
	require.Len(t, result.Batches, 1)
	require.Len(t, result.Coupons, 6)

	for _, c := range result.Coupons {
		assert.Equal(t, engine.StatusDraft, c.Status)
		assert.Equal(t, result.Batches[0].ID, c.BatchID)
		assert.Equal(t, engine.AppID("app-1"), c.VerificationAppID)
		assert.NotEmpty(t, c.Code)
	}

	// Codes are unique within the batch
	codes := map[string]bool{}
	for _, c := range result.Coupons {
		assert.False(t, codes[c.Code], "duplicate code %s", c.Code)
		codes[c.Code] = true
	}

	bal, err := ledger.Balance(ctx, tenant)
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(engine.NewCredits(200)))

	txs, err := ledger.Transactions(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, engine.TxDebit, txs[1].Type)
	assert.Equal(t, engine.RefCouponBatch, txs[1].ReferenceType)
}

func TestIssuer_InsufficientCredit_NoCouponsNoDebit(t *testing.T) {
	// GIVEN: A tenant with balance 100
	// WHEN: Issuing a batch costing 300
	// THEN: InsufficientCredit; no batch, no coupons, balance unchanged

	store := newTestStore(t)
	issuer := engine.NewIssuer(store)
	ledger := engine.NewCreditLedger(store)
	ctx := context.Background()
	tenant := engine.TenantID("tenant-1")

	seedCredits(t, ledger, tenant, 100)

	_, err := issuer.CreateBatch(ctx, tenant, "app-1", "user-1", validSpec(6, 50))
	assert.ErrorIs(t, err, engine.ErrInsufficientCredit)

	bal, err := ledger.Balance(ctx, tenant)
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(engine.NewCredits(100)))

	drafts, err := store.ListCouponsByStatus(ctx, tenant, engine.StatusDraft)
	require.NoError(t, err)
	assert.Empty(t, drafts, "failed issuance must not leave coupons behind")
}

// =============================================================================
// MULTI-BATCH TESTS
// =============================================================================

func TestIssuer_CreateMultiBatch_SingleSummedDebit(t *testing.T) {
	// GIVEN: A tenant with balance 1000
	// WHEN: Issuing two batches (cost 300 + 200) in one call
	// THEN: One debit of 500 and coupons for both batches

	store := newTestStore(t)
	issuer := engine.NewIssuer(store)
	ledger := engine.NewCreditLedger(store)
	ctx := context.Background()
	tenant := engine.TenantID("tenant-1")

	seedCredits(t, ledger, tenant, 1000)

	result, err := issuer.CreateMultiBatch(ctx, tenant, "app-1", "user-1", []engine.BatchSpec{
		validSpec(6, 50),
		validSpec(4, 50),
	})
	require.NoError(t, err)

	assert.True(t, result.CreditCost.Equal(engine.NewCredits(500)))
	assert.True(t, result.NewBalance.Equal(engine.NewCredits(500)))
	assert.Len(t, result.Batches, 2)
	assert.Len(t, result.Coupons, 10)

	txs, err := ledger.Transactions(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, txs, 2, "seed credit plus exactly one debit")
	assert.True(t, txs[1].Amount.Equal(engine.NewCredits(500)))
}

func TestIssuer_CreateMultiBatch_OneInvalidSpec_NothingIssued(t *testing.T) {
	// GIVEN: Two batch specs, the second with zero quantity
	// WHEN: Issuing them together
	// THEN: Validation error; no debit, no coupons at all

	store := newTestStore(t)
	issuer := engine.NewIssuer(store)
	ledger := engine.NewCreditLedger(store)
	ctx := context.Background()
	tenant := engine.TenantID("tenant-1")

	seedCredits(t, ledger, tenant, 1000)

	_, err := issuer.CreateMultiBatch(ctx, tenant, "app-1", "user-1", []engine.BatchSpec{
		validSpec(6, 50),
		validSpec(0, 50),
	})
	assert.ErrorIs(t, err, engine.ErrValidation)

	bal, err := ledger.Balance(ctx, tenant)
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(engine.NewCredits(1000)))

	drafts, err := store.ListCouponsByStatus(ctx, tenant, engine.StatusDraft)
	require.NoError(t, err)
	assert.Empty(t, drafts)
}

func TestIssuer_CreateMultiBatch_InsufficientForTotal_NothingIssued(t *testing.T) {
	// GIVEN: Balance 400, enough for either batch alone but not both
	// WHEN: Issuing batches costing 300 and 200 together
	// THEN: InsufficientCredit; neither batch exists

	store := newTestStore(t)
	issuer := engine.NewIssuer(store)
	ledger := engine.NewCreditLedger(store)
	ctx := context.Background()
	tenant := engine.TenantID("tenant-1")

	seedCredits(t, ledger, tenant, 400)

	_, err := issuer.CreateMultiBatch(ctx, tenant, "app-1", "user-1", []engine.BatchSpec{
		validSpec(6, 50),
		validSpec(4, 50),
	})
	assert.ErrorIs(t, err, engine.ErrInsufficientCredit)

	bal, err := ledger.Balance(ctx, tenant)
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(engine.NewCredits(400)))
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestIssuer_SpecValidation(t *testing.T) {
	issuer := engine.NewIssuer(newTestStore(t))
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*engine.BatchSpec)
	}{
		{"zero quantity", func(s *engine.BatchSpec) { s.Quantity = 0 }},
		{"negative quantity", func(s *engine.BatchSpec) { s.Quantity = -3 }},
		{"zero discount", func(s *engine.BatchSpec) { s.DiscountValue = engine.NewCredits(0) }},
		{"negative discount", func(s *engine.BatchSpec) { s.DiscountValue = engine.NewCredits(-5) }},
		{"unknown discount type", func(s *engine.BatchSpec) { s.DiscountType = "bogus" }},
		{"expiry in the past", func(s *engine.BatchSpec) { s.ExpiryDate = time.Now().AddDate(0, 0, -1) }},
		{"negative usage limit", func(s *engine.BatchSpec) { s.UsageLimit = -1 }},
		{"negative points", func(s *engine.BatchSpec) { s.CouponPoints = engine.NewPoints(-1) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := validSpec(6, 50)
			tc.mutate(&spec)
			_, err := issuer.CreateBatch(ctx, "tenant-1", "app-1", "user-1", spec)
			assert.ErrorIs(t, err, engine.ErrValidation)
		})
	}

	_, err := issuer.CreateMultiBatch(ctx, "tenant-1", "app-1", "user-1", nil)
	assert.ErrorIs(t, err, engine.ErrValidation, "empty batch list")
}
