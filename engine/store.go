/*
store.go - Persistence interfaces for the engine

PURPOSE:
  Defines the interface between the domain logic and the database.
  The engine never touches SQL; the store implementation carries the
  row-level locking that makes concurrent mutations safe.

TRANSACTION MODEL:
  Every mutating operation runs inside TxStore.WithTx. The implementation
  guarantees that the function sees a consistent snapshot and that writes
  are serialized against other writers, which is the row lock of the
  balance/coupon rows: the second concurrent debit observes the first
  debit's committed balance before deciding InsufficientCredit.

APPEND-ONLY CONTRACT:
  credit_transactions and points_transactions have Append* and List*
  operations only. No update, no delete. Corrections happen through new
  transactions of the opposite type.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite store (WAL, auto-migrated schema)

SEE ALSO:
  - ledger.go: Balance mutation built on these interfaces
  - store/sqlite/sqlite.go: Concrete implementation
*/
package engine

import "context"

// Store is the persistence surface of the engine. Balances upsert, ledgers
// append, coupons mutate only through the lifecycle transition function.
type Store interface {
	// --- Credit ledger ---

	// GetCreditBalance returns nil (no error) when the tenant has no
	// balance row yet.
	GetCreditBalance(ctx context.Context, tenantID TenantID) (*CreditBalance, error)
	UpsertCreditBalance(ctx context.Context, balance CreditBalance) error
	AppendCreditTransaction(ctx context.Context, tx CreditTransaction) error
	ListCreditTransactions(ctx context.Context, tenantID TenantID) ([]CreditTransaction, error)

	// --- Points ledger ---

	GetPointsBalance(ctx context.Context, tenantID TenantID, customerID CustomerID) (*PointsBalance, error)
	UpsertPointsBalance(ctx context.Context, balance PointsBalance) error
	AppendPointsTransaction(ctx context.Context, tx PointsTransaction) error
	ListPointsTransactions(ctx context.Context, tenantID TenantID, customerID CustomerID) ([]PointsTransaction, error)

	// --- Credit requests ---

	InsertCreditRequest(ctx context.Context, req CreditRequest) error
	GetCreditRequest(ctx context.Context, id RequestID) (*CreditRequest, error)
	UpdateCreditRequest(ctx context.Context, req CreditRequest) error
	HasPendingCreditRequest(ctx context.Context, tenantID TenantID) (bool, error)
	ListPendingCreditRequests(ctx context.Context) ([]CreditRequest, error)

	// --- Coupons ---

	InsertCouponBatch(ctx context.Context, batch CouponBatch) error
	GetCouponBatch(ctx context.Context, tenantID TenantID, id BatchID) (*CouponBatch, error)
	UpdateCouponBatch(ctx context.Context, batch CouponBatch) error
	InsertCoupons(ctx context.Context, coupons []Coupon) error
	GetCouponByCode(ctx context.Context, tenantID TenantID, code string) (*Coupon, error)
	UpdateCoupon(ctx context.Context, coupon Coupon) error
	ListCouponsByBatch(ctx context.Context, tenantID TenantID, batchID BatchID) ([]Coupon, error)
	ListCouponsByStatus(ctx context.Context, tenantID TenantID, status CouponStatus) ([]Coupon, error)

	// --- Scans ---

	InsertScan(ctx context.Context, scan Scan) error
	CountSuccessfulScans(ctx context.Context, couponID CouponID) (int, error)

	// --- Verification apps (external access gate) ---

	GetVerificationAppByKey(ctx context.Context, apiKey string) (*VerificationApp, error)
	SaveVerificationApp(ctx context.Context, app VerificationApp) error
}

// TxStore wraps Store with transaction support. WithTx executes fn within a
// store transaction: if fn returns an error the transaction is rolled back
// with no partial writes, otherwise it is committed. Writers are serialized,
// so a balance read inside fn is a read-for-update.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
