/*
gate.go - External access gate

PURPOSE:
  Resolves an API key to the (verificationApp, tenant) pair it belongs to,
  so external mobile/e-commerce systems can invoke redemption and points
  operations without session auth. Every gated operation re-verifies that
  referenced coupons belong to the resolved pair; this is defense-in-depth,
  not an optional check.

SEE ALSO:
  - redeem.go: ScanContext carries the resolved app id into validation
  - api/middleware.go: HTTP extraction of the key
*/
package engine

import (
	"context"
	"fmt"
)

// VerificationApp is a registered external integration.
type VerificationApp struct {
	ID       AppID
	TenantID TenantID
	AppCode  string
	APIKey   string
	Active   bool
}

// AccessContext is the resolved identity of an API-key caller.
type AccessContext struct {
	VerificationAppID AppID
	TenantID          TenantID
	AppCode           string
}

// =============================================================================
// GATE
// =============================================================================

type Gate struct {
	Store Store
}

func NewGate(store Store) *Gate {
	return &Gate{Store: store}
}

// Resolve maps an API key to an access context. Unknown key -> Unauthorized,
// inactive app -> Forbidden.
func (g *Gate) Resolve(ctx context.Context, apiKey string) (*AccessContext, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing API key", ErrUnauthorized)
	}
	app, err := g.Store.GetVerificationAppByKey(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, fmt.Errorf("%w: unknown API key", ErrUnauthorized)
	}
	if !app.Active {
		return nil, fmt.Errorf("%w: app %s is inactive", ErrForbidden, app.AppCode)
	}
	return &AccessContext{
		VerificationAppID: app.ID,
		TenantID:          app.TenantID,
		AppCode:           app.AppCode,
	}, nil
}

// VerifyCouponAccess checks that a coupon belongs to the caller's resolved
// (tenant, app) pair.
func (g *Gate) VerifyCouponAccess(access AccessContext, coupon *Coupon) error {
	if coupon.TenantID != access.TenantID || coupon.VerificationAppID != access.VerificationAppID {
		return fmt.Errorf("%w: coupon %s", ErrCrossAppAccess, coupon.Code)
	}
	return nil
}
