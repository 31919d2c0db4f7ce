/*
ledger.go - Credit and points ledgers

PURPOSE:
  The single mutation entry point for both balance aggregates. ApplyDelta
  runs inside one store transaction that reads the balance, rejects
  overdraft, upserts the balance row, and appends the transaction with
  balance_before/balance_after captured atomically. All-or-nothing: any
  failure after the read rolls back both writes.

CRITICAL INVARIANTS:
  1. Balance = TotalReceived - TotalSpent at all times
  2. Balance never observable negative after a committed transaction
  3. Replaying the transaction log reconstructs the balance
  4. No code path outside this file mutates a balance row

SEE ALSO:
  - store.go: Transaction semantics
  - issuer.go, redeem.go: Compose these deltas with their own writes
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// CREDIT LEDGER
// =============================================================================

// CreditLedger owns the per-tenant prepaid credit aggregate.
type CreditLedger struct {
	Store TxStore
	Clock func() time.Time
}

func NewCreditLedger(store TxStore) *CreditLedger {
	return &CreditLedger{Store: store, Clock: time.Now}
}

// ApplyDelta applies a signed credit amount to the tenant's balance within
// one store transaction and returns the new balance and the ledger entry id.
func (l *CreditLedger) ApplyDelta(ctx context.Context, tenantID TenantID, delta Amount, ref Reference) (*CreditBalance, TransactionID, error) {
	var (
		balance *CreditBalance
		txID    TransactionID
	)
	err := l.Store.WithTx(ctx, func(s Store) error {
		b, tx, err := applyCreditDelta(ctx, s, l.now(), tenantID, delta, ref)
		if err != nil {
			return err
		}
		balance, txID = b, tx.ID
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return balance, txID, nil
}

// Balance returns the tenant's current balance, zero-valued if the tenant
// has no credit events yet.
func (l *CreditLedger) Balance(ctx context.Context, tenantID TenantID) (*CreditBalance, error) {
	b, err := l.Store.GetCreditBalance(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		zero := NewCreditBalance(tenantID)
		return &zero, nil
	}
	return b, nil
}

// Transactions returns the tenant's ledger entries in chronological order.
func (l *CreditLedger) Transactions(ctx context.Context, tenantID TenantID) ([]CreditTransaction, error) {
	return l.Store.ListCreditTransactions(ctx, tenantID)
}

// Replay reconstructs the balance from the transaction log. Used by tests
// and reconciliation to verify the aggregate against its history.
func (l *CreditLedger) Replay(ctx context.Context, tenantID TenantID) (CreditBalance, error) {
	txs, err := l.Store.ListCreditTransactions(ctx, tenantID)
	if err != nil {
		return CreditBalance{}, err
	}
	replayed := NewCreditBalance(tenantID)
	for _, tx := range txs {
		switch tx.Type {
		case TxCredit:
			replayed.TotalReceived = replayed.TotalReceived.Add(tx.Amount)
		case TxDebit:
			replayed.TotalSpent = replayed.TotalSpent.Add(tx.Amount)
		}
		replayed.Balance = replayed.TotalReceived.Sub(replayed.TotalSpent)
		replayed.LastUpdated = tx.CreatedAt
	}
	return replayed, nil
}

func (l *CreditLedger) now() time.Time {
	if l.Clock != nil {
		return l.Clock()
	}
	return time.Now()
}

// applyCreditDelta is the transactional core shared with the batch issuer,
// which debits inside its own store transaction. The caller must already be
// inside WithTx; s is the transaction-scoped store.
func applyCreditDelta(ctx context.Context, s Store, now time.Time, tenantID TenantID, delta Amount, ref Reference) (*CreditBalance, *CreditTransaction, error) {
	if delta.IsZero() {
		return nil, nil, &ValidationError{Field: "amount", Message: "must be non-zero"}
	}

	current, err := s.GetCreditBalance(ctx, tenantID)
	if err != nil {
		return nil, nil, fmt.Errorf("read credit balance: %w", err)
	}
	if current == nil {
		b := NewCreditBalance(tenantID)
		current = &b
	}

	if delta.IsNegative() && delta.Abs().GreaterThan(current.Balance) {
		return nil, nil, &InsufficientCreditError{
			TenantID:  tenantID,
			Available: current.Balance,
			Requested: delta.Abs(),
			Shortfall: delta.Abs().Sub(current.Balance),
		}
	}

	before := current.Balance
	txType := TxCredit
	if delta.IsNegative() {
		txType = TxDebit
		current.TotalSpent = current.TotalSpent.Add(delta.Abs())
	} else {
		current.TotalReceived = current.TotalReceived.Add(delta)
	}
	current.Balance = current.TotalReceived.Sub(current.TotalSpent)
	current.LastUpdated = now

	if err := s.UpsertCreditBalance(ctx, *current); err != nil {
		return nil, nil, fmt.Errorf("upsert credit balance: %w", err)
	}

	tx := CreditTransaction{
		ID:            TransactionID(uuid.NewString()),
		TenantID:      tenantID,
		Type:          txType,
		Amount:        delta.Abs(),
		BalanceBefore: before,
		BalanceAfter:  current.Balance,
		ReferenceID:   ref.ID,
		ReferenceType: ref.Type,
		Description:   ref.Description,
		CreatedBy:     ref.Actor,
		CreatedAt:     now,
	}
	if err := s.AppendCreditTransaction(ctx, tx); err != nil {
		return nil, nil, fmt.Errorf("append credit transaction: %w", err)
	}

	return current, &tx, nil
}

// =============================================================================
// POINTS LEDGER
// =============================================================================

// PointsLedger owns the per-customer reward balance. Same audit contract as
// the credit ledger, parallel transaction log.
type PointsLedger struct {
	Store TxStore
	Clock func() time.Time
}

func NewPointsLedger(store TxStore) *PointsLedger {
	return &PointsLedger{Store: store, Clock: time.Now}
}

// ApplyDelta adds (or removes) points for a customer within one store
// transaction.
func (l *PointsLedger) ApplyDelta(ctx context.Context, tenantID TenantID, customerID CustomerID, delta Amount, ref Reference) (*PointsBalance, TransactionID, error) {
	var (
		balance *PointsBalance
		txID    TransactionID
	)
	err := l.Store.WithTx(ctx, func(s Store) error {
		b, tx, err := applyPointsDelta(ctx, s, l.now(), tenantID, customerID, delta, ref)
		if err != nil {
			return err
		}
		balance, txID = b, tx.ID
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return balance, txID, nil
}

// Spend debits points for a product redemption. Thin wrapper so callers
// never pass a raw negative delta.
func (l *PointsLedger) Spend(ctx context.Context, tenantID TenantID, customerID CustomerID, points Amount, ref Reference) (*PointsBalance, TransactionID, error) {
	if !points.IsPositive() {
		return nil, "", &ValidationError{Field: "points", Message: "must be positive"}
	}
	return l.ApplyDelta(ctx, tenantID, customerID, points.Neg(), ref)
}

// Balance returns the customer's current points balance, zero-valued if the
// customer has never earned points.
func (l *PointsLedger) Balance(ctx context.Context, tenantID TenantID, customerID CustomerID) (*PointsBalance, error) {
	b, err := l.Store.GetPointsBalance(ctx, tenantID, customerID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		zero := NewPointsBalance(tenantID, customerID)
		return &zero, nil
	}
	return b, nil
}

// Transactions returns the customer's points ledger in chronological order.
func (l *PointsLedger) Transactions(ctx context.Context, tenantID TenantID, customerID CustomerID) ([]PointsTransaction, error) {
	return l.Store.ListPointsTransactions(ctx, tenantID, customerID)
}

func (l *PointsLedger) now() time.Time {
	if l.Clock != nil {
		return l.Clock()
	}
	return time.Now()
}

// applyPointsDelta mirrors applyCreditDelta for the points aggregate. The
// redemption engine calls it inside the scan transaction so the point award
// commits or rolls back with the scan row.
func applyPointsDelta(ctx context.Context, s Store, now time.Time, tenantID TenantID, customerID CustomerID, delta Amount, ref Reference) (*PointsBalance, *PointsTransaction, error) {
	if delta.IsZero() {
		return nil, nil, &ValidationError{Field: "points", Message: "must be non-zero"}
	}

	current, err := s.GetPointsBalance(ctx, tenantID, customerID)
	if err != nil {
		return nil, nil, fmt.Errorf("read points balance: %w", err)
	}
	if current == nil {
		b := NewPointsBalance(tenantID, customerID)
		current = &b
	}

	if delta.IsNegative() && delta.Abs().GreaterThan(current.Balance) {
		return nil, nil, &InsufficientPointsError{
			TenantID:   tenantID,
			CustomerID: customerID,
			Available:  current.Balance,
			Requested:  delta.Abs(),
		}
	}

	before := current.Balance
	txType := PointsEarn
	if delta.IsNegative() {
		txType = PointsSpend
		current.TotalSpent = current.TotalSpent.Add(delta.Abs())
	} else {
		current.TotalEarned = current.TotalEarned.Add(delta)
	}
	current.Balance = current.TotalEarned.Sub(current.TotalSpent)
	current.LastUpdated = now

	if err := s.UpsertPointsBalance(ctx, *current); err != nil {
		return nil, nil, fmt.Errorf("upsert points balance: %w", err)
	}

	tx := PointsTransaction{
		ID:            TransactionID(uuid.NewString()),
		TenantID:      tenantID,
		CustomerID:    customerID,
		Type:          txType,
		Amount:        delta.Abs(),
		BalanceBefore: before,
		BalanceAfter:  current.Balance,
		ReferenceID:   ref.ID,
		ReferenceType: ref.Type,
		Description:   ref.Description,
		CreatedAt:     now,
	}
	if err := s.AppendPointsTransaction(ctx, tx); err != nil {
		return nil, nil, fmt.Errorf("append points transaction: %w", err)
	}

	return current, &tx, nil
}
