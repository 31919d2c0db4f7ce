/*
Package engine provides the coupon and credit ledger engine.

PURPOSE:
  This package contains the domain types and services for a multi-tenant
  loyalty platform: tenants spend prepaid credits to mint coupon batches,
  customers redeem coupons for reward points, and every balance change is
  backed by an append-only transaction log.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a unit (credits or points)
  - CreditBalance / CreditTransaction: Per-tenant prepaid balance + ledger
  - PointsBalance / PointsTransaction: Per-customer reward balance + ledger
  - Principal: The authenticated caller (supplied by the auth collaborator)

DESIGN PRINCIPLES:
  1. Immutability: Ledger transactions are never modified once written
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Single writer: Balances mutate only through the ledger services
  4. Auditability: Every transaction captures balance before and after

SEE ALSO:
  - ledger.go: Balance mutation entry points
  - coupon.go: Coupon and batch types with the status state machine
  - store.go: Persistence interfaces
*/
package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitCredits Unit = "credits"
	UnitPoints  Unit = "points"
)

func NewCredits(value int64) Amount {
	return Amount{Value: decimal.NewFromInt(value), Unit: UnitCredits}
}

func NewPoints(value int64) Amount {
	return Amount{Value: decimal.NewFromInt(value), Unit: UnitPoints}
}

func NewAmountFromDecimal(value decimal.Decimal, unit Unit) Amount {
	return Amount{Value: value, Unit: unit}
}

// MustParseDecimal panics on a malformed value. It is reserved for amounts
// the engine itself persisted; a parse failure there means the stored ledger
// is corrupt and must not be silently read as zero.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("malformed decimal %q: %v", s, err))
	}
	return d
}

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Unit: a.Unit} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) Abs() Amount                  { return Amount{Value: a.Value.Abs(), Unit: a.Unit} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }
func (a Amount) Equal(b Amount) bool          { return a.Value.Equal(b.Value) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type CustomerID string
type TransactionID string
type RequestID string
type BatchID string
type CouponID string
type ScanID string
type AppID string

// =============================================================================
// PRINCIPAL - Authenticated caller, supplied by the auth collaborator
// =============================================================================

type Role string

const (
	// RoleTenant is a tenant-scoped actor. May request credits and manage
	// the tenant's own coupons; may never approve credit requests.
	RoleTenant Role = "tenant"

	// RoleOperator is the platform operator. Approves and rejects credit
	// requests; operates across tenants.
	RoleOperator Role = "operator"
)

// Principal identifies who is performing an operation. Credential
// verification happens upstream; the engine only enforces role gating.
type Principal struct {
	UserID   string
	TenantID TenantID
	Role     Role
}

// =============================================================================
// CREDIT BALANCE - One row per tenant, mutated only via the ledger
// =============================================================================

// CreditBalance is the tenant's prepaid credit aggregate.
// Invariant: Balance = TotalReceived - TotalSpent, and Balance never goes
// negative as an observable post-transaction state.
type CreditBalance struct {
	TenantID      TenantID
	Balance       Amount
	TotalReceived Amount
	TotalSpent    Amount
	LastUpdated   time.Time
}

// NewCreditBalance returns the zero balance for a tenant. The row is created
// lazily on the first credit event (upsert semantics).
func NewCreditBalance(tenantID TenantID) CreditBalance {
	zero := NewCredits(0)
	return CreditBalance{
		TenantID:      tenantID,
		Balance:       zero,
		TotalReceived: zero,
		TotalSpent:    zero,
	}
}

// =============================================================================
// CREDIT TRANSACTION - Append-only ledger entry
// =============================================================================

type TransactionType string

const (
	TxCredit TransactionType = "CREDIT"
	TxDebit  TransactionType = "DEBIT"
)

// ReferenceType links a transaction back to the operation that produced it.
type ReferenceType string

const (
	RefCreditRequest ReferenceType = "credit_request"
	RefCouponBatch   ReferenceType = "coupon_batch"
	RefCouponScan    ReferenceType = "coupon_scan"
	RefProductRedeem ReferenceType = "product_redemption"
	RefAdjustment    ReferenceType = "adjustment"
)

// CreditTransaction is immutable once written. Replaying all transactions
// for a tenant in order reconstructs the current CreditBalance.
type CreditTransaction struct {
	ID            TransactionID
	TenantID      TenantID
	Type          TransactionType
	Amount        Amount // always positive; Type carries the sign
	BalanceBefore Amount
	BalanceAfter  Amount
	ReferenceID   string
	ReferenceType ReferenceType
	Description   string
	CreatedBy     string
	CreatedAt     time.Time
}

// Reference describes the cause of a ledger mutation.
type Reference struct {
	ID          string
	Type        ReferenceType
	Description string
	Actor       string
}

// =============================================================================
// POINTS BALANCE - Per-tenant, per-customer reward balance
// =============================================================================

// PointsBalance mirrors CreditBalance for the customer-facing reward
// currency. Mutated only by the redemption engine and point-spend paths.
type PointsBalance struct {
	TenantID      TenantID
	CustomerID    CustomerID
	Balance       Amount
	TotalEarned   Amount
	TotalSpent    Amount
	LastUpdated   time.Time
}

func NewPointsBalance(tenantID TenantID, customerID CustomerID) PointsBalance {
	zero := NewPoints(0)
	return PointsBalance{
		TenantID:    tenantID,
		CustomerID:  customerID,
		Balance:     zero,
		TotalEarned: zero,
		TotalSpent:  zero,
	}
}

type PointsTransactionType string

const (
	PointsEarn  PointsTransactionType = "EARN"
	PointsSpend PointsTransactionType = "SPEND"
)

type PointsTransaction struct {
	ID            TransactionID
	TenantID      TenantID
	CustomerID    CustomerID
	Type          PointsTransactionType
	Amount        Amount
	BalanceBefore Amount
	BalanceAfter  Amount
	ReferenceID   string
	ReferenceType ReferenceType
	Description   string
	CreatedAt     time.Time
}
