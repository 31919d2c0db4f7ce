package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loyalty-engine/engine"
	"github.com/warp/loyalty-engine/store/sqlite"
)

// issueBatch seeds credits and issues one batch, returning the result.
func issueBatch(t *testing.T, store *sqlite.Store, tenant engine.TenantID, spec engine.BatchSpec) *engine.IssueResult {
	t.Helper()
	seedCredits(t, engine.NewCreditLedger(store), tenant, 10000)
	result, err := engine.NewIssuer(store).CreateBatch(context.Background(), tenant, "app-1", "user-1", spec)
	require.NoError(t, err)
	return result
}

// =============================================================================
// PRINT / ACTIVATE TESTS
// =============================================================================

func TestLifecycle_PrintThenActivate_WholeBatch(t *testing.T) {
	// GIVEN: A freshly issued batch of 6 draft coupons
	// WHEN: Printing then activating the batch
	// THEN: All 6 coupons end up active

	store := newTestStore(t)
	lc := engine.NewLifecycle(store, nil)
	ctx := context.Background()
	tenant := engine.TenantID("tenant-1")

	result := issueBatch(t, store, tenant, validSpec(6, 50))
	batchID := result.Batches[0].ID

	printed, err := lc.PrintBatch(ctx, tenant, batchID, "print shop run #1")
	require.NoError(t, err)
	assert.Equal(t, 6, printed)

	batch, err := store.GetCouponBatch(ctx, tenant, batchID)
	require.NoError(t, err)
	require.NotNil(t, batch.PrintedAt)
	assert.Equal(t, "print shop run #1", batch.PrintNote)

	activated, err := lc.ActivateBatch(ctx, tenant, batchID)
	require.NoError(t, err)
	assert.Equal(t, 6, activated)

	active, err := store.ListCouponsByStatus(ctx, tenant, engine.StatusActive)
	require.NoError(t, err)
	assert.Len(t, active, 6)
}

func TestLifecycle_ActivateWithoutPrint_Rejected(t *testing.T) {
	// GIVEN: A batch still in draft
	// WHEN: Activating it directly
	// THEN: MustPrintFirst, no coupon changes state

	store := newTestStore(t)
	lc := engine.NewLifecycle(store, nil)
	ctx := context.Background()
	tenant := engine.TenantID("tenant-1")

	result := issueBatch(t, store, tenant, validSpec(3, 50))

	_, err := lc.ActivateBatch(ctx, tenant, result.Batches[0].ID)
	assert.ErrorIs(t, err, engine.ErrMustPrintFirst)

	drafts, err := store.ListCouponsByStatus(ctx, tenant, engine.StatusDraft)
	require.NoError(t, err)
	assert.Len(t, drafts, 3, "all coupons should remain draft")
}

func TestLifecycle_PrintTwice_Rejected(t *testing.T) {
	store := newTestStore(t)
	lc := engine.NewLifecycle(store, nil)
	ctx := context.Background()
	tenant := engine.TenantID("tenant-1")

	result := issueBatch(t, store, tenant, validSpec(3, 50))
	batchID := result.Batches[0].ID

	_, err := lc.PrintBatch(ctx, tenant, batchID, "")
	require.NoError(t, err)

	_, err = lc.PrintBatch(ctx, tenant, batchID, "")
	assert.ErrorIs(t, err, engine.ErrAlreadyPrinted)
}

func TestLifecycle_UnknownBatch_NotFound(t *testing.T) {
	store := newTestStore(t)
	lc := engine.NewLifecycle(store, nil)

	_, err := lc.PrintBatch(context.Background(), "tenant-1", "no-such-batch", "")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

// =============================================================================
// DEACTIVATION TESTS
// =============================================================================

func TestLifecycle_Deactivate_ActiveCoupon(t *testing.T) {
	// GIVEN: An active coupon
	// WHEN: Deactivating it with a reason
	// THEN: It is deactivated with the reason recorded, terminally

	store := newTestStore(t)
	lc := engine.NewLifecycle(store, nil)
	ctx := context.Background()
	tenant := engine.TenantID("tenant-1")

	result := issueBatch(t, store, tenant, validSpec(1, 50))
	batchID := result.Batches[0].ID
	code := result.Coupons[0].Code

	_, err := lc.PrintBatch(ctx, tenant, batchID, "")
	require.NoError(t, err)
	_, err = lc.ActivateBatch(ctx, tenant, batchID)
	require.NoError(t, err)

	coupon, err := lc.Deactivate(ctx, tenant, code, "fraud report")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusDeactivated, coupon.Status)
	assert.Equal(t, "fraud report", coupon.DeactivateReason)

	// Terminal: cannot be scanned afterwards
	_, err = engine.NewRedeemer(store).Scan(ctx, tenant, code, "cust-1", engine.ScanContext{})
	assert.ErrorIs(t, err, engine.ErrCouponNotActive)
}

func TestLifecycle_Deactivate_RequiresReason(t *testing.T) {
	store := newTestStore(t)
	lc := engine.NewLifecycle(store, nil)

	_, err := lc.Deactivate(context.Background(), "tenant-1", "CPN-WHATEVER", "")
	assert.ErrorIs(t, err, engine.ErrValidation)
}

func TestLifecycle_Deactivate_DraftCoupon_Rejected(t *testing.T) {
	store := newTestStore(t)
	lc := engine.NewLifecycle(store, nil)
	ctx := context.Background()
	tenant := engine.TenantID("tenant-1")

	result := issueBatch(t, store, tenant, validSpec(1, 50))

	_, err := lc.Deactivate(ctx, tenant, result.Coupons[0].Code, "reason")
	assert.ErrorIs(t, err, engine.ErrInvalidState)
}

// =============================================================================
// LAZY EXPIRY TESTS
// =============================================================================

func TestLifecycle_CouponByCode_ReportsExpiredWithoutRewrite(t *testing.T) {
	// GIVEN: An active coupon whose expiry date has passed
	// WHEN: Reading it through the read surface
	// THEN: Reported expired, but the stored row still says active

	store := newTestStore(t)
	lc := engine.NewLifecycle(store, nil)
	ctx := context.Background()
	tenant := engine.TenantID("tenant-1")

	spec := validSpec(1, 50)
	spec.ExpiryDate = time.Now().Add(time.Hour)
	result := issueBatch(t, store, tenant, spec)
	batchID := result.Batches[0].ID
	code := result.Coupons[0].Code

	_, err := lc.PrintBatch(ctx, tenant, batchID, "")
	require.NoError(t, err)
	_, err = lc.ActivateBatch(ctx, tenant, batchID)
	require.NoError(t, err)

	lc.Clock = func() time.Time { return time.Now().Add(2 * time.Hour) }

	coupon, err := lc.CouponByCode(ctx, tenant, code)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusExpired, coupon.Status)

	stored, err := store.GetCouponByCode(ctx, tenant, code)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusActive, stored.Status, "read path must not rewrite the row")
}

func TestLifecycle_Deactivate_ExpiredCoupon_PersistsExpiry(t *testing.T) {
	// GIVEN: An active coupon past its expiry date
	// WHEN: Attempting to deactivate it
	// THEN: CouponExpired, and the expired status is persisted

	store := newTestStore(t)
	lc := engine.NewLifecycle(store, nil)
	ctx := context.Background()
	tenant := engine.TenantID("tenant-1")

	spec := validSpec(1, 50)
	spec.ExpiryDate = time.Now().Add(time.Hour)
	result := issueBatch(t, store, tenant, spec)
	batchID := result.Batches[0].ID
	code := result.Coupons[0].Code

	_, err := lc.PrintBatch(ctx, tenant, batchID, "")
	require.NoError(t, err)
	_, err = lc.ActivateBatch(ctx, tenant, batchID)
	require.NoError(t, err)

	lc.Clock = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err = lc.Deactivate(ctx, tenant, code, "too late")
	assert.ErrorIs(t, err, engine.ErrCouponExpired)

	stored, err := store.GetCouponByCode(ctx, tenant, code)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusExpired, stored.Status, "mutating path persists the expiry")
}

// =============================================================================
// TRANSITION GRAPH TESTS
// =============================================================================

func TestCoupon_TransitionGraph(t *testing.T) {
	assert.True(t, engine.CanTransition(engine.StatusDraft, engine.StatusPrinted))
	assert.True(t, engine.CanTransition(engine.StatusPrinted, engine.StatusActive))
	assert.True(t, engine.CanTransition(engine.StatusActive, engine.StatusUsed))
	assert.True(t, engine.CanTransition(engine.StatusActive, engine.StatusExpired))
	assert.True(t, engine.CanTransition(engine.StatusActive, engine.StatusDeactivated))

	assert.False(t, engine.CanTransition(engine.StatusDraft, engine.StatusActive), "print is mandatory")
	assert.False(t, engine.CanTransition(engine.StatusUsed, engine.StatusActive), "terminal")
	assert.False(t, engine.CanTransition(engine.StatusExpired, engine.StatusActive), "terminal")
	assert.False(t, engine.CanTransition(engine.StatusDeactivated, engine.StatusActive), "terminal")

	assert.True(t, engine.IsTerminal(engine.StatusUsed))
	assert.True(t, engine.IsTerminal(engine.StatusExpired))
	assert.True(t, engine.IsTerminal(engine.StatusDeactivated))
	assert.False(t, engine.IsTerminal(engine.StatusDraft))
}

func TestCoupon_DraftToActive_UnwrapsToMustPrintFirst(t *testing.T) {
	c := engine.Coupon{Code: "CPN-TEST", Status: engine.StatusDraft}
	err := c.Transition(engine.StatusActive)
	assert.ErrorIs(t, err, engine.ErrMustPrintFirst)

	var transition *engine.InvalidTransitionError
	require.ErrorAs(t, err, &transition)
	assert.Equal(t, engine.StatusDraft, transition.Current)
	assert.Equal(t, engine.StatusActive, transition.Attempted)
}
