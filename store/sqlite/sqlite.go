/*
Package sqlite provides the SQLite-backed implementation of engine.TxStore.

PURPOSE:
  Implements every persistence interface of the engine using SQLite. In
  production the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

KEY TABLES:
  credit_balances:     One aggregate row per tenant
  credit_transactions: Immutable tenant credit ledger
  points_balances:     One aggregate row per (tenant, customer)
  points_transactions: Immutable customer points ledger
  credit_requests:     Approval workflow rows
  coupon_batches:      Issuance groupings
  coupons:             Coupon rows with UNIQUE(tenant_id, code)
  scans:               Redemption audit rows
  verification_apps:   API-key registry for the external gate

CONCURRENCY:
  Writers are serialized with a sync.Mutex around WithTx; combined with WAL
  mode this is the row-lock serialization point: the second concurrent debit
  sees the first debit's committed balance. Reads take an RLock and never
  block each other.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statement touches the two transaction tables.

MIGRATION:
  Schema is auto-migrated on New(). Use ":memory:" for tests.

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/ledger.go: The mutation entry points built on this store
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/loyalty-engine/engine"
)

// Store implements engine.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ engine.TxStore = (*Store)(nil)
	_ engine.Store   = (*txStore)(nil)
)

// New creates a new SQLite store. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps every statement of a WithTx on the same
	// SQLite transaction.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Tenant credit aggregate, upserted only through the ledger
	CREATE TABLE IF NOT EXISTS credit_balances (
		tenant_id TEXT PRIMARY KEY,
		balance TEXT NOT NULL,
		total_received TEXT NOT NULL,
		total_spent TEXT NOT NULL,
		last_updated TEXT NOT NULL
	);

	-- Append-only tenant credit ledger
	CREATE TABLE IF NOT EXISTS credit_transactions (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance_before TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		reference_id TEXT,
		reference_type TEXT,
		description TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_credit_tx_tenant
		ON credit_transactions(tenant_id, created_at);

	-- Customer points aggregate
	CREATE TABLE IF NOT EXISTS points_balances (
		tenant_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		balance TEXT NOT NULL,
		total_earned TEXT NOT NULL,
		total_spent TEXT NOT NULL,
		last_updated TEXT NOT NULL,
		PRIMARY KEY (tenant_id, customer_id)
	);

	-- Append-only customer points ledger
	CREATE TABLE IF NOT EXISTS points_transactions (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance_before TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		reference_id TEXT,
		reference_type TEXT,
		description TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_points_tx_customer
		ON points_transactions(tenant_id, customer_id, created_at);

	-- Credit request workflow
	CREATE TABLE IF NOT EXISTS credit_requests (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		requested_amount TEXT NOT NULL,
		justification TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		requested_at TEXT NOT NULL,
		processed_at TEXT,
		processed_by TEXT,
		rejection_reason TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_credit_requests_tenant
		ON credit_requests(tenant_id, status);

	-- CRITICAL: at most one pending request per tenant
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_pending_request
		ON credit_requests(tenant_id) WHERE status = 'pending';

	-- Coupon batches
	CREATE TABLE IF NOT EXISTS coupon_batches (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		description TEXT,
		discount_value TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		expiry_date TEXT NOT NULL,
		printed_at TEXT,
		print_note TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_batches_tenant
		ON coupon_batches(tenant_id);

	-- Coupons
	CREATE TABLE IF NOT EXISTS coupons (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		batch_id TEXT NOT NULL,
		verification_app_id TEXT,
		code TEXT NOT NULL,
		discount_value TEXT NOT NULL,
		discount_type TEXT NOT NULL,
		status TEXT NOT NULL,
		usage_limit INTEGER NOT NULL DEFAULT 1,
		coupon_points TEXT NOT NULL,
		expiry_date TEXT NOT NULL,
		deactivate_reason TEXT,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: coupon codes are unique per tenant
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_tenant_code
		ON coupons(tenant_id, code);
	CREATE INDEX IF NOT EXISTS idx_coupons_batch
		ON coupons(tenant_id, batch_id);
	CREATE INDEX IF NOT EXISTS idx_coupons_status
		ON coupons(tenant_id, status);

	-- Scan audit rows
	CREATE TABLE IF NOT EXISTS scans (
		id TEXT PRIMARY KEY,
		coupon_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		customer_identifier TEXT,
		scan_status TEXT NOT NULL,
		location TEXT,
		device_info TEXT,
		scanned_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_scans_coupon
		ON scans(coupon_id, scan_status);

	-- External access gate
	CREATE TABLE IF NOT EXISTS verification_apps (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		app_code TEXT NOT NULL,
		api_key TEXT NOT NULL UNIQUE,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so every query helper works
// inside and outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRANSACTIONAL STORE (engine.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. Writers are serialized
// here; this is the balance-row/coupon-row lock of the engine.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", engine.ErrRetryable, err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", engine.ErrRetryable, err)
	}
	return nil
}

// txStore exposes the same store surface bound to an open transaction.
type txStore struct {
	q dbtx
}

func (s *Store) reading() func() {
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) writing() func() {
	s.mu.Lock()
	return s.mu.Unlock
}

// =============================================================================
// CREDIT LEDGER
// =============================================================================

func (s *Store) GetCreditBalance(ctx context.Context, tenantID engine.TenantID) (*engine.CreditBalance, error) {
	defer s.reading()()
	return getCreditBalance(ctx, s.db, tenantID)
}

func (t *txStore) GetCreditBalance(ctx context.Context, tenantID engine.TenantID) (*engine.CreditBalance, error) {
	return getCreditBalance(ctx, t.q, tenantID)
}

func getCreditBalance(ctx context.Context, q dbtx, tenantID engine.TenantID) (*engine.CreditBalance, error) {
	var (
		b           engine.CreditBalance
		balance     string
		received    string
		spent       string
		lastUpdated string
	)
	err := q.QueryRowContext(ctx,
		`SELECT tenant_id, balance, total_received, total_spent, last_updated
		 FROM credit_balances WHERE tenant_id = ?`, tenantID,
	).Scan(&b.TenantID, &balance, &received, &spent, &lastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.Balance = creditAmount(balance)
	b.TotalReceived = creditAmount(received)
	b.TotalSpent = creditAmount(spent)
	b.LastUpdated = parseTime(lastUpdated)
	return &b, nil
}

func (s *Store) UpsertCreditBalance(ctx context.Context, b engine.CreditBalance) error {
	defer s.writing()()
	return upsertCreditBalance(ctx, s.db, b)
}

func (t *txStore) UpsertCreditBalance(ctx context.Context, b engine.CreditBalance) error {
	return upsertCreditBalance(ctx, t.q, b)
}

func upsertCreditBalance(ctx context.Context, q dbtx, b engine.CreditBalance) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO credit_balances (tenant_id, balance, total_received, total_spent, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			balance = excluded.balance,
			total_received = excluded.total_received,
			total_spent = excluded.total_spent,
			last_updated = excluded.last_updated`,
		b.TenantID, b.Balance.Value.String(), b.TotalReceived.Value.String(),
		b.TotalSpent.Value.String(), formatTime(b.LastUpdated),
	)
	return err
}

func (s *Store) AppendCreditTransaction(ctx context.Context, tx engine.CreditTransaction) error {
	defer s.writing()()
	return appendCreditTransaction(ctx, s.db, tx)
}

func (t *txStore) AppendCreditTransaction(ctx context.Context, tx engine.CreditTransaction) error {
	return appendCreditTransaction(ctx, t.q, tx)
}

func appendCreditTransaction(ctx context.Context, q dbtx, tx engine.CreditTransaction) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO credit_transactions
		(id, tenant_id, tx_type, amount, balance_before, balance_after,
		 reference_id, reference_type, description, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.TenantID, tx.Type, tx.Amount.Value.String(),
		tx.BalanceBefore.Value.String(), tx.BalanceAfter.Value.String(),
		tx.ReferenceID, tx.ReferenceType, tx.Description, tx.CreatedBy,
		formatTime(tx.CreatedAt),
	)
	return err
}

func (s *Store) ListCreditTransactions(ctx context.Context, tenantID engine.TenantID) ([]engine.CreditTransaction, error) {
	defer s.reading()()
	return listCreditTransactions(ctx, s.db, tenantID)
}

func (t *txStore) ListCreditTransactions(ctx context.Context, tenantID engine.TenantID) ([]engine.CreditTransaction, error) {
	return listCreditTransactions(ctx, t.q, tenantID)
}

func listCreditTransactions(ctx context.Context, q dbtx, tenantID engine.TenantID) ([]engine.CreditTransaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, tenant_id, tx_type, amount, balance_before, balance_after,
		       reference_id, reference_type, description, created_by, created_at
		FROM credit_transactions WHERE tenant_id = ?
		ORDER BY created_at, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit transactions: %w", err)
	}
	defer rows.Close()

	var txs []engine.CreditTransaction
	for rows.Next() {
		var (
			tx                     engine.CreditTransaction
			amount, before, after  string
			refID, refType         sql.NullString
			description, createdBy sql.NullString
			createdAt              string
		)
		if err := rows.Scan(&tx.ID, &tx.TenantID, &tx.Type, &amount, &before, &after,
			&refID, &refType, &description, &createdBy, &createdAt); err != nil {
			return nil, err
		}
		tx.Amount = creditAmount(amount)
		tx.BalanceBefore = creditAmount(before)
		tx.BalanceAfter = creditAmount(after)
		tx.ReferenceID = refID.String
		tx.ReferenceType = engine.ReferenceType(refType.String)
		tx.Description = description.String
		tx.CreatedBy = createdBy.String
		tx.CreatedAt = parseTime(createdAt)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// =============================================================================
// POINTS LEDGER
// =============================================================================

func (s *Store) GetPointsBalance(ctx context.Context, tenantID engine.TenantID, customerID engine.CustomerID) (*engine.PointsBalance, error) {
	defer s.reading()()
	return getPointsBalance(ctx, s.db, tenantID, customerID)
}

func (t *txStore) GetPointsBalance(ctx context.Context, tenantID engine.TenantID, customerID engine.CustomerID) (*engine.PointsBalance, error) {
	return getPointsBalance(ctx, t.q, tenantID, customerID)
}

func getPointsBalance(ctx context.Context, q dbtx, tenantID engine.TenantID, customerID engine.CustomerID) (*engine.PointsBalance, error) {
	var (
		b           engine.PointsBalance
		balance     string
		earned      string
		spent       string
		lastUpdated string
	)
	err := q.QueryRowContext(ctx,
		`SELECT tenant_id, customer_id, balance, total_earned, total_spent, last_updated
		 FROM points_balances WHERE tenant_id = ? AND customer_id = ?`,
		tenantID, customerID,
	).Scan(&b.TenantID, &b.CustomerID, &balance, &earned, &spent, &lastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.Balance = pointsAmount(balance)
	b.TotalEarned = pointsAmount(earned)
	b.TotalSpent = pointsAmount(spent)
	b.LastUpdated = parseTime(lastUpdated)
	return &b, nil
}

func (s *Store) UpsertPointsBalance(ctx context.Context, b engine.PointsBalance) error {
	defer s.writing()()
	return upsertPointsBalance(ctx, s.db, b)
}

func (t *txStore) UpsertPointsBalance(ctx context.Context, b engine.PointsBalance) error {
	return upsertPointsBalance(ctx, t.q, b)
}

func upsertPointsBalance(ctx context.Context, q dbtx, b engine.PointsBalance) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO points_balances (tenant_id, customer_id, balance, total_earned, total_spent, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, customer_id) DO UPDATE SET
			balance = excluded.balance,
			total_earned = excluded.total_earned,
			total_spent = excluded.total_spent,
			last_updated = excluded.last_updated`,
		b.TenantID, b.CustomerID, b.Balance.Value.String(), b.TotalEarned.Value.String(),
		b.TotalSpent.Value.String(), formatTime(b.LastUpdated),
	)
	return err
}

func (s *Store) AppendPointsTransaction(ctx context.Context, tx engine.PointsTransaction) error {
	defer s.writing()()
	return appendPointsTransaction(ctx, s.db, tx)
}

func (t *txStore) AppendPointsTransaction(ctx context.Context, tx engine.PointsTransaction) error {
	return appendPointsTransaction(ctx, t.q, tx)
}

func appendPointsTransaction(ctx context.Context, q dbtx, tx engine.PointsTransaction) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO points_transactions
		(id, tenant_id, customer_id, tx_type, amount, balance_before, balance_after,
		 reference_id, reference_type, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.TenantID, tx.CustomerID, tx.Type, tx.Amount.Value.String(),
		tx.BalanceBefore.Value.String(), tx.BalanceAfter.Value.String(),
		tx.ReferenceID, tx.ReferenceType, tx.Description, formatTime(tx.CreatedAt),
	)
	return err
}

func (s *Store) ListPointsTransactions(ctx context.Context, tenantID engine.TenantID, customerID engine.CustomerID) ([]engine.PointsTransaction, error) {
	defer s.reading()()
	return listPointsTransactions(ctx, s.db, tenantID, customerID)
}

func (t *txStore) ListPointsTransactions(ctx context.Context, tenantID engine.TenantID, customerID engine.CustomerID) ([]engine.PointsTransaction, error) {
	return listPointsTransactions(ctx, t.q, tenantID, customerID)
}

func listPointsTransactions(ctx context.Context, q dbtx, tenantID engine.TenantID, customerID engine.CustomerID) ([]engine.PointsTransaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, tenant_id, customer_id, tx_type, amount, balance_before, balance_after,
		       reference_id, reference_type, description, created_at
		FROM points_transactions WHERE tenant_id = ? AND customer_id = ?
		ORDER BY created_at, id`, tenantID, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query points transactions: %w", err)
	}
	defer rows.Close()

	var txs []engine.PointsTransaction
	for rows.Next() {
		var (
			tx                    engine.PointsTransaction
			amount, before, after string
			refID, refType        sql.NullString
			description           sql.NullString
			createdAt             string
		)
		if err := rows.Scan(&tx.ID, &tx.TenantID, &tx.CustomerID, &tx.Type, &amount,
			&before, &after, &refID, &refType, &description, &createdAt); err != nil {
			return nil, err
		}
		tx.Amount = pointsAmount(amount)
		tx.BalanceBefore = pointsAmount(before)
		tx.BalanceAfter = pointsAmount(after)
		tx.ReferenceID = refID.String
		tx.ReferenceType = engine.ReferenceType(refType.String)
		tx.Description = description.String
		tx.CreatedAt = parseTime(createdAt)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// =============================================================================
// CREDIT REQUESTS
// =============================================================================

func (s *Store) InsertCreditRequest(ctx context.Context, req engine.CreditRequest) error {
	defer s.writing()()
	return insertCreditRequest(ctx, s.db, req)
}

func (t *txStore) InsertCreditRequest(ctx context.Context, req engine.CreditRequest) error {
	return insertCreditRequest(ctx, t.q, req)
}

func insertCreditRequest(ctx context.Context, q dbtx, req engine.CreditRequest) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO credit_requests
		(id, tenant_id, requested_amount, justification, status, requested_at,
		 processed_at, processed_by, rejection_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.TenantID, req.RequestedAmount.Value.String(), req.Justification,
		req.Status, formatTime(req.RequestedAt),
		nullableTime(req.ProcessedAt), req.ProcessedBy, req.RejectionReason,
	)
	return err
}

func (s *Store) GetCreditRequest(ctx context.Context, id engine.RequestID) (*engine.CreditRequest, error) {
	defer s.reading()()
	return getCreditRequest(ctx, s.db, id)
}

func (t *txStore) GetCreditRequest(ctx context.Context, id engine.RequestID) (*engine.CreditRequest, error) {
	return getCreditRequest(ctx, t.q, id)
}

func getCreditRequest(ctx context.Context, q dbtx, id engine.RequestID) (*engine.CreditRequest, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, tenant_id, requested_amount, justification, status, requested_at,
		       processed_at, processed_by, rejection_reason
		FROM credit_requests WHERE id = ?`, id)
	req, err := scanCreditRequest(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

func scanCreditRequest(scan func(...any) error) (*engine.CreditRequest, error) {
	var (
		req                      engine.CreditRequest
		amount, requestedAt      string
		justification            sql.NullString
		processedAt, processedBy sql.NullString
		rejectionReason          sql.NullString
	)
	if err := scan(&req.ID, &req.TenantID, &amount, &justification, &req.Status,
		&requestedAt, &processedAt, &processedBy, &rejectionReason); err != nil {
		return nil, err
	}
	req.RequestedAmount = creditAmount(amount)
	req.Justification = justification.String
	req.RequestedAt = parseTime(requestedAt)
	if processedAt.Valid {
		t := parseTime(processedAt.String)
		req.ProcessedAt = &t
	}
	req.ProcessedBy = processedBy.String
	req.RejectionReason = rejectionReason.String
	return &req, nil
}

func (s *Store) UpdateCreditRequest(ctx context.Context, req engine.CreditRequest) error {
	defer s.writing()()
	return updateCreditRequest(ctx, s.db, req)
}

func (t *txStore) UpdateCreditRequest(ctx context.Context, req engine.CreditRequest) error {
	return updateCreditRequest(ctx, t.q, req)
}

func updateCreditRequest(ctx context.Context, q dbtx, req engine.CreditRequest) error {
	_, err := q.ExecContext(ctx, `
		UPDATE credit_requests
		SET status = ?, processed_at = ?, processed_by = ?, rejection_reason = ?
		WHERE id = ?`,
		req.Status, nullableTime(req.ProcessedAt), req.ProcessedBy, req.RejectionReason, req.ID,
	)
	return err
}

func (s *Store) HasPendingCreditRequest(ctx context.Context, tenantID engine.TenantID) (bool, error) {
	defer s.reading()()
	return hasPendingCreditRequest(ctx, s.db, tenantID)
}

func (t *txStore) HasPendingCreditRequest(ctx context.Context, tenantID engine.TenantID) (bool, error) {
	return hasPendingCreditRequest(ctx, t.q, tenantID)
}

func hasPendingCreditRequest(ctx context.Context, q dbtx, tenantID engine.TenantID) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM credit_requests WHERE tenant_id = ? AND status = 'pending'",
		tenantID,
	).Scan(&count)
	return count > 0, err
}

func (s *Store) ListPendingCreditRequests(ctx context.Context) ([]engine.CreditRequest, error) {
	defer s.reading()()
	return listPendingCreditRequests(ctx, s.db)
}

func (t *txStore) ListPendingCreditRequests(ctx context.Context) ([]engine.CreditRequest, error) {
	return listPendingCreditRequests(ctx, t.q)
}

func listPendingCreditRequests(ctx context.Context, q dbtx) ([]engine.CreditRequest, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, tenant_id, requested_amount, justification, status, requested_at,
		       processed_at, processed_by, rejection_reason
		FROM credit_requests WHERE status = 'pending'
		ORDER BY requested_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []engine.CreditRequest
	for rows.Next() {
		req, err := scanCreditRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *req)
	}
	return reqs, rows.Err()
}

// =============================================================================
// COUPON BATCHES
// =============================================================================

func (s *Store) InsertCouponBatch(ctx context.Context, batch engine.CouponBatch) error {
	defer s.writing()()
	return insertCouponBatch(ctx, s.db, batch)
}

func (t *txStore) InsertCouponBatch(ctx context.Context, batch engine.CouponBatch) error {
	return insertCouponBatch(ctx, t.q, batch)
}

func insertCouponBatch(ctx context.Context, q dbtx, batch engine.CouponBatch) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO coupon_batches
		(id, tenant_id, description, discount_value, quantity, expiry_date, printed_at, print_note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batch.ID, batch.TenantID, batch.Description, batch.DiscountValue.Value.String(),
		batch.Quantity, formatTime(batch.ExpiryDate), nullableTime(batch.PrintedAt),
		batch.PrintNote, formatTime(batch.CreatedAt),
	)
	return err
}

func (s *Store) GetCouponBatch(ctx context.Context, tenantID engine.TenantID, id engine.BatchID) (*engine.CouponBatch, error) {
	defer s.reading()()
	return getCouponBatch(ctx, s.db, tenantID, id)
}

func (t *txStore) GetCouponBatch(ctx context.Context, tenantID engine.TenantID, id engine.BatchID) (*engine.CouponBatch, error) {
	return getCouponBatch(ctx, t.q, tenantID, id)
}

func getCouponBatch(ctx context.Context, q dbtx, tenantID engine.TenantID, id engine.BatchID) (*engine.CouponBatch, error) {
	var (
		batch                engine.CouponBatch
		discount, expiry     string
		printedAt, printNote sql.NullString
		description          sql.NullString
		createdAt            string
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, tenant_id, description, discount_value, quantity, expiry_date,
		       printed_at, print_note, created_at
		FROM coupon_batches WHERE tenant_id = ? AND id = ?`, tenantID, id,
	).Scan(&batch.ID, &batch.TenantID, &description, &discount, &batch.Quantity,
		&expiry, &printedAt, &printNote, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	batch.Description = description.String
	batch.DiscountValue = creditAmount(discount)
	batch.ExpiryDate = parseTime(expiry)
	if printedAt.Valid {
		t := parseTime(printedAt.String)
		batch.PrintedAt = &t
	}
	batch.PrintNote = printNote.String
	batch.CreatedAt = parseTime(createdAt)
	return &batch, nil
}

func (s *Store) UpdateCouponBatch(ctx context.Context, batch engine.CouponBatch) error {
	defer s.writing()()
	return updateCouponBatch(ctx, s.db, batch)
}

func (t *txStore) UpdateCouponBatch(ctx context.Context, batch engine.CouponBatch) error {
	return updateCouponBatch(ctx, t.q, batch)
}

func updateCouponBatch(ctx context.Context, q dbtx, batch engine.CouponBatch) error {
	_, err := q.ExecContext(ctx, `
		UPDATE coupon_batches
		SET printed_at = ?, print_note = ?
		WHERE tenant_id = ? AND id = ?`,
		nullableTime(batch.PrintedAt), batch.PrintNote, batch.TenantID, batch.ID,
	)
	return err
}

// =============================================================================
// COUPONS
// =============================================================================

func (s *Store) InsertCoupons(ctx context.Context, coupons []engine.Coupon) error {
	defer s.writing()()
	return insertCoupons(ctx, s.db, coupons)
}

func (t *txStore) InsertCoupons(ctx context.Context, coupons []engine.Coupon) error {
	return insertCoupons(ctx, t.q, coupons)
}

func insertCoupons(ctx context.Context, q dbtx, coupons []engine.Coupon) error {
	for _, c := range coupons {
		_, err := q.ExecContext(ctx, `
			INSERT INTO coupons
			(id, tenant_id, batch_id, verification_app_id, code, discount_value,
			 discount_type, status, usage_limit, coupon_points, expiry_date,
			 deactivate_reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.TenantID, c.BatchID, c.VerificationAppID, c.Code,
			c.DiscountValue.Value.String(), c.DiscountType, c.Status, c.UsageLimit,
			c.CouponPoints.Value.String(), formatTime(c.ExpiryDate),
			c.DeactivateReason, formatTime(c.CreatedAt),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

const couponColumns = `id, tenant_id, batch_id, verification_app_id, code, discount_value,
	discount_type, status, usage_limit, coupon_points, expiry_date, deactivate_reason, created_at`

func (s *Store) GetCouponByCode(ctx context.Context, tenantID engine.TenantID, code string) (*engine.Coupon, error) {
	defer s.reading()()
	return getCouponByCode(ctx, s.db, tenantID, code)
}

func (t *txStore) GetCouponByCode(ctx context.Context, tenantID engine.TenantID, code string) (*engine.Coupon, error) {
	return getCouponByCode(ctx, t.q, tenantID, code)
}

func getCouponByCode(ctx context.Context, q dbtx, tenantID engine.TenantID, code string) (*engine.Coupon, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+couponColumns+" FROM coupons WHERE tenant_id = ? AND code = ?",
		tenantID, code)
	c, err := scanCoupon(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func scanCoupon(scan func(...any) error) (*engine.Coupon, error) {
	var (
		c                 engine.Coupon
		appID             sql.NullString
		discount, points  string
		expiry, createdAt string
		deactivateReason  sql.NullString
	)
	if err := scan(&c.ID, &c.TenantID, &c.BatchID, &appID, &c.Code, &discount,
		&c.DiscountType, &c.Status, &c.UsageLimit, &points, &expiry,
		&deactivateReason, &createdAt); err != nil {
		return nil, err
	}
	c.VerificationAppID = engine.AppID(appID.String)
	c.DiscountValue = creditAmount(discount)
	c.CouponPoints = pointsAmount(points)
	c.ExpiryDate = parseTime(expiry)
	c.DeactivateReason = deactivateReason.String
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

func (s *Store) UpdateCoupon(ctx context.Context, c engine.Coupon) error {
	defer s.writing()()
	return updateCoupon(ctx, s.db, c)
}

func (t *txStore) UpdateCoupon(ctx context.Context, c engine.Coupon) error {
	return updateCoupon(ctx, t.q, c)
}

func updateCoupon(ctx context.Context, q dbtx, c engine.Coupon) error {
	_, err := q.ExecContext(ctx, `
		UPDATE coupons SET status = ?, deactivate_reason = ? WHERE id = ?`,
		c.Status, c.DeactivateReason, c.ID,
	)
	return err
}

func (s *Store) ListCouponsByBatch(ctx context.Context, tenantID engine.TenantID, batchID engine.BatchID) ([]engine.Coupon, error) {
	defer s.reading()()
	return queryCoupons(ctx, s.db,
		"SELECT "+couponColumns+" FROM coupons WHERE tenant_id = ? AND batch_id = ? ORDER BY code",
		tenantID, batchID)
}

func (t *txStore) ListCouponsByBatch(ctx context.Context, tenantID engine.TenantID, batchID engine.BatchID) ([]engine.Coupon, error) {
	return queryCoupons(ctx, t.q,
		"SELECT "+couponColumns+" FROM coupons WHERE tenant_id = ? AND batch_id = ? ORDER BY code",
		tenantID, batchID)
}

func (s *Store) ListCouponsByStatus(ctx context.Context, tenantID engine.TenantID, status engine.CouponStatus) ([]engine.Coupon, error) {
	defer s.reading()()
	return queryCoupons(ctx, s.db,
		"SELECT "+couponColumns+" FROM coupons WHERE tenant_id = ? AND status = ? ORDER BY code",
		tenantID, status)
}

func (t *txStore) ListCouponsByStatus(ctx context.Context, tenantID engine.TenantID, status engine.CouponStatus) ([]engine.Coupon, error) {
	return queryCoupons(ctx, t.q,
		"SELECT "+couponColumns+" FROM coupons WHERE tenant_id = ? AND status = ? ORDER BY code",
		tenantID, status)
}

func queryCoupons(ctx context.Context, q dbtx, query string, args ...any) ([]engine.Coupon, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query coupons: %w", err)
	}
	defer rows.Close()

	var coupons []engine.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows.Scan)
		if err != nil {
			return nil, err
		}
		coupons = append(coupons, *c)
	}
	return coupons, rows.Err()
}

// =============================================================================
// SCANS
// =============================================================================

func (s *Store) InsertScan(ctx context.Context, scan engine.Scan) error {
	defer s.writing()()
	return insertScan(ctx, s.db, scan)
}

func (t *txStore) InsertScan(ctx context.Context, scan engine.Scan) error {
	return insertScan(ctx, t.q, scan)
}

func insertScan(ctx context.Context, q dbtx, scan engine.Scan) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO scans
		(id, coupon_id, tenant_id, customer_identifier, scan_status, location, device_info, scanned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		scan.ID, scan.CouponID, scan.TenantID, scan.CustomerIdentifier,
		scan.Status, scan.Location, scan.DeviceInfo, formatTime(scan.ScannedAt),
	)
	return err
}

func (s *Store) CountSuccessfulScans(ctx context.Context, couponID engine.CouponID) (int, error) {
	defer s.reading()()
	return countSuccessfulScans(ctx, s.db, couponID)
}

func (t *txStore) CountSuccessfulScans(ctx context.Context, couponID engine.CouponID) (int, error) {
	return countSuccessfulScans(ctx, t.q, couponID)
}

func countSuccessfulScans(ctx context.Context, q dbtx, couponID engine.CouponID) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM scans WHERE coupon_id = ? AND scan_status = 'SUCCESS'",
		couponID,
	).Scan(&count)
	return count, err
}

// =============================================================================
// VERIFICATION APPS
// =============================================================================

func (s *Store) GetVerificationAppByKey(ctx context.Context, apiKey string) (*engine.VerificationApp, error) {
	defer s.reading()()
	return getVerificationAppByKey(ctx, s.db, apiKey)
}

func (t *txStore) GetVerificationAppByKey(ctx context.Context, apiKey string) (*engine.VerificationApp, error) {
	return getVerificationAppByKey(ctx, t.q, apiKey)
}

func getVerificationAppByKey(ctx context.Context, q dbtx, apiKey string) (*engine.VerificationApp, error) {
	var app engine.VerificationApp
	err := q.QueryRowContext(ctx,
		"SELECT id, tenant_id, app_code, api_key, active FROM verification_apps WHERE api_key = ?",
		apiKey,
	).Scan(&app.ID, &app.TenantID, &app.AppCode, &app.APIKey, &app.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func (s *Store) SaveVerificationApp(ctx context.Context, app engine.VerificationApp) error {
	defer s.writing()()
	return saveVerificationApp(ctx, s.db, app)
}

func (t *txStore) SaveVerificationApp(ctx context.Context, app engine.VerificationApp) error {
	return saveVerificationApp(ctx, t.q, app)
}

func saveVerificationApp(ctx context.Context, q dbtx, app engine.VerificationApp) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO verification_apps (id, tenant_id, app_code, api_key, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			app_code = excluded.app_code,
			api_key = excluded.api_key,
			active = excluded.active`,
		app.ID, app.TenantID, app.AppCode, app.APIKey, app.Active,
	)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func creditAmount(s string) engine.Amount {
	return engine.NewAmountFromDecimal(engine.MustParseDecimal(s), engine.UnitCredits)
}

func pointsAmount(s string) engine.Amount {
	return engine.NewAmountFromDecimal(engine.MustParseDecimal(s), engine.UnitPoints)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
