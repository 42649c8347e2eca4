/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements the ledger (generic.Store), the payout engine's store
  (payout.Store), the notification sink and the bank/account books used
  by the service, all on one SQLite database.

APPEND-ONLY ENFORCEMENT:
  The transactions table is the ledger:
  - No UPDATE statements on transactions table
  - No DELETE statements on transactions table
  - Closing an account or deleting a bank keeps its ledger history

KEY TABLES:
  banks:         Bank records; config_json holds the locally set fields
  accounts:      Open accounts and their payout status (one row each)
  transactions:  Immutable ledger of all balance changes
  payout_runs:   One row per payout batch
  notifications: Per-owner payout events

INDEXES:
  - idx_transactions_account_date: Balance replay (hot path)
  - idx_transactions_idempotency: One payout per account per cycle
  - idx_accounts_bank: Account enumeration at fire time

CONCURRENCY:
  A single connection is used and writes are serialized by a mutex, so a
  WithTx block sees a consistent view of balances and statuses.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/bank.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - generic/store.go: Ledger interface
  - payout/store.go: Engine interface
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/bank-interest/bank"
	"github.com/warp/bank-interest/generic"
	"github.com/warp/bank-interest/payout"
	"github.com/warp/bank-interest/pkg/logger"
	"github.com/warp/bank-interest/pkg/logger/slogx"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// one connection: ":memory:" databases are per connection
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS banks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		config_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		bank_id TEXT NOT NULL REFERENCES banks(id) ON DELETE CASCADE,
		owner_id TEXT NOT NULL,
		multiplier_stage INTEGER NOT NULL,
		cycles_until_first_payout INTEGER NOT NULL,
		remaining_offline_payouts INTEGER NOT NULL,
		remaining_offline_before_reset INTEGER NOT NULL,
		opened_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_bank
		ON accounts(bank_id, id);

	CREATE INDEX IF NOT EXISTS idx_accounts_owner
		ON accounts(owner_id);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		bank_id TEXT NOT NULL,
		effective_at TEXT NOT NULL,
		delta TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		reason TEXT,
		idempotency_key TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account_date
		ON transactions(account_id, effective_at);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_idempotency
		ON transactions(idempotency_key) WHERE idempotency_key IS NOT NULL;

	CREATE TABLE IF NOT EXISTS payout_runs (
		id TEXT PRIMARY KEY,
		wake_time TEXT NOT NULL,
		trigger_kind TEXT NOT NULL,
		banks_json TEXT NOT NULL,
		status TEXT NOT NULL,
		paid INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		total_interest TEXT NOT NULL,
		total_fees TEXT NOT NULL,
		error TEXT,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payout_runs_started
		ON payout_runs(started_at);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		wake_time TEXT NOT NULL,
		accounts INTEGER NOT NULL,
		net TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_owner
		ON notifications(owner_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTION STORE (generic.Store interface)
// =============================================================================

// Append adds a transaction to the ledger.
func (s *Store) Append(ctx context.Context, tx generic.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return appendTx(ctx, s.db, tx)
}

func appendTx(ctx context.Context, q querier, tx generic.Transaction) error {
	query := `
		INSERT INTO transactions
		(id, account_id, bank_id, effective_at, delta, tx_type, reason, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		tx.ID,
		tx.AccountID,
		tx.BankID,
		formatTime(tx.EffectiveAt),
		tx.Delta.String(),
		tx.Type,
		nullString(tx.Reason),
		nullString(tx.IdempotencyKey),
		formatTime(tx.CreatedAt),
	)

	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateIdempotencyKey
		}
		return errors.Wrap(err, "failed to append transaction")
	}

	return nil
}

// Load returns all transactions for an account, chronologically.
func (s *Store) Load(ctx context.Context, accountID generic.AccountID) ([]generic.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, account_id, bank_id, effective_at, delta, tx_type, reason, idempotency_key, created_at
		FROM transactions
		WHERE account_id = ?
		ORDER BY effective_at ASC, created_at ASC
	`

	return queryTransactions(ctx, s.db, query, accountID)
}

func queryTransactions(ctx context.Context, q querier, query string, args ...any) ([]generic.Transaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query transactions")
	}
	defer rows.Close()

	var transactions []generic.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (generic.Transaction, error) {
	var (
		tx             generic.Transaction
		effectiveAt    string
		delta          string
		reason         sql.NullString
		idempotencyKey sql.NullString
		createdAt      string
	)

	err := rows.Scan(
		&tx.ID, &tx.AccountID, &tx.BankID, &effectiveAt, &delta,
		&tx.Type, &reason, &idempotencyKey, &createdAt,
	)
	if err != nil {
		return tx, errors.Wrap(err, "failed to scan transaction")
	}

	tx.EffectiveAt = parseTime(effectiveAt)
	tx.CreatedAt = parseTime(createdAt)
	tx.Delta = generic.MustParseDecimal(delta)
	tx.Reason = reason.String
	tx.IdempotencyKey = idempotencyKey.String

	return tx, nil
}

func balanceOf(ctx context.Context, q querier, accountID generic.AccountID) (decimal.Decimal, error) {
	rows, err := q.QueryContext(ctx, "SELECT delta FROM transactions WHERE account_id = ?", accountID)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "failed to query balance")
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var delta string
		if err := rows.Scan(&delta); err != nil {
			return decimal.Zero, errors.Wrap(err, "failed to scan delta")
		}
		total = total.Add(generic.MustParseDecimal(delta))
	}
	return total, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (payout.Store interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(payout.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Account(ctx context.Context, id generic.AccountID) (bank.Account, error) {
	return getAccount(ctx, ts.tx, id)
}

func (ts *txStore) Append(ctx context.Context, tx generic.Transaction) error {
	return appendTx(ctx, ts.tx, tx)
}

func (ts *txStore) SaveStatus(ctx context.Context, id generic.AccountID, status bank.AccountStatus) error {
	res, err := ts.tx.ExecContext(ctx, `
		UPDATE accounts SET
			multiplier_stage = ?,
			cycles_until_first_payout = ?,
			remaining_offline_payouts = ?,
			remaining_offline_before_reset = ?
		WHERE id = ?`,
		status.MultiplierStage,
		status.CyclesUntilFirstPayout,
		status.RemainingOfflinePayouts,
		status.RemainingOfflineBeforeReset,
		id,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save status of %s", id)
	}
	return requireRow(res, generic.ErrAccountNotFound, "account %s", id)
}

// =============================================================================
// BANK STORE
// =============================================================================

// SaveBank inserts or updates a bank record.
func (s *Store) SaveBank(ctx context.Context, rec bank.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO banks (id, name, config_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			config_json = excluded.config_json,
			updated_at = excluded.updated_at
	`, rec.ID, rec.Name, rec.ConfigJSON, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt))
	if err != nil {
		return errors.Wrapf(err, "failed to save bank %s", rec.ID)
	}
	return nil
}

func (s *Store) ListBanks(ctx context.Context) ([]bank.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, config_json, created_at, updated_at FROM banks ORDER BY id")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list banks")
	}
	defer rows.Close()

	var recs []bank.Record
	for rows.Next() {
		var rec bank.Record
		var createdAt, updatedAt string
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.ConfigJSON, &createdAt, &updatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan bank")
		}
		rec.CreatedAt = parseTime(createdAt)
		rec.UpdatedAt = parseTime(updatedAt)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// DeleteBank removes the bank; its accounts go with it (ON DELETE CASCADE).
// Ledger history is kept.
func (s *Store) DeleteBank(ctx context.Context, id generic.BankID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM banks WHERE id = ?", id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete bank %s", id)
	}
	return requireRow(res, generic.ErrBankNotFound, "bank %s", id)
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, a bank.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM banks WHERE id = ?", a.BankID).Scan(&exists); err != nil {
		return errors.Wrap(err, "failed to look up bank")
	}
	if exists == 0 {
		return errors.Wrapf(generic.ErrBankNotFound, "bank %s", a.BankID)
	}

	opened := a.OpenedAt
	if opened.IsZero() {
		opened = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, bank_id, owner_id, multiplier_stage, cycles_until_first_payout,
			remaining_offline_payouts, remaining_offline_before_reset, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.BankID, a.OwnerID,
		a.Status.MultiplierStage,
		a.Status.CyclesUntilFirstPayout,
		a.Status.RemainingOfflinePayouts,
		a.Status.RemainingOfflineBeforeReset,
		formatTime(opened),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.Wrapf(generic.ErrAccountExists, "account %s", a.ID)
		}
		return errors.Wrapf(err, "failed to create account %s", a.ID)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id generic.AccountID) (bank.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(ctx, s.db, id)
}

const accountColumns = `id, bank_id, owner_id, multiplier_stage, cycles_until_first_payout,
	remaining_offline_payouts, remaining_offline_before_reset, opened_at`

func getAccount(ctx context.Context, q querier, id generic.AccountID) (bank.Account, error) {
	row := q.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return bank.Account{}, errors.Wrapf(generic.ErrAccountNotFound, "account %s", id)
	}
	if err != nil {
		return bank.Account{}, err
	}
	a.Balance, err = balanceOf(ctx, q, id)
	return a, err
}

// Accounts lists a bank's open accounts ordered by ID.
func (s *Store) Accounts(ctx context.Context, bankID generic.BankID) ([]bank.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE bank_id = ? ORDER BY id", bankID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list accounts")
	}

	var accounts []bank.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		accounts = append(accounts, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// balances are read after the cursor is closed: there is one connection
	for i := range accounts {
		if accounts[i].Balance, err = balanceOf(ctx, s.db, accounts[i].ID); err != nil {
			return nil, err
		}
	}
	return accounts, nil
}

// CloseAccount destroys the account and its status. Ledger history is kept.
func (s *Store) CloseAccount(ctx context.Context, id generic.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		return errors.Wrapf(err, "failed to close account %s", id)
	}
	return requireRow(res, generic.ErrAccountNotFound, "account %s", id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (bank.Account, error) {
	var a bank.Account
	var openedAt string
	err := row.Scan(
		&a.ID, &a.BankID, &a.OwnerID,
		&a.Status.MultiplierStage,
		&a.Status.CyclesUntilFirstPayout,
		&a.Status.RemainingOfflinePayouts,
		&a.Status.RemainingOfflineBeforeReset,
		&openedAt,
	)
	if err != nil {
		return a, err
	}
	a.OpenedAt = parseTime(openedAt)
	return a, nil
}

// =============================================================================
// PAYOUT RUNS STORE
// =============================================================================

// SaveRun records a payout batch.
func (s *Store) SaveRun(ctx context.Context, r payout.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	banksJSON, err := json.Marshal(r.Banks)
	if err != nil {
		return errors.Wrap(err, "failed to encode run banks")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payout_runs (id, wake_time, trigger_kind, banks_json, status,
			paid, skipped, failed, total_interest, total_fees, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.WakeTime.String(), r.Trigger, string(banksJSON), r.Status,
		r.Paid, r.Skipped, r.Failed,
		r.TotalInterest.String(), r.TotalFees.String(), nullString(r.Error),
		formatTime(r.StartedAt), formatTime(r.FinishedAt),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save payout run %s", r.ID)
	}
	return nil
}

// Runs returns the most recent payout runs first. limit <= 0 means all.
func (s *Store) Runs(ctx context.Context, limit int) ([]payout.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, wake_time, trigger_kind, banks_json, status, paid, skipped, failed,
			total_interest, total_fees, error, started_at, finished_at
		FROM payout_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, sqlLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list payout runs")
	}
	defer rows.Close()

	var runs []payout.Run
	for rows.Next() {
		var (
			r                     payout.Run
			wake, banksJSON       string
			interest, fees        string
			runErr                sql.NullString
			startedAt, finishedAt string
		)
		if err := rows.Scan(
			&r.ID, &wake, &r.Trigger, &banksJSON, &r.Status, &r.Paid, &r.Skipped, &r.Failed,
			&interest, &fees, &runErr, &startedAt, &finishedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan payout run")
		}
		r.WakeTime, _ = generic.ParseWakeTime(wake)
		_ = json.Unmarshal([]byte(banksJSON), &r.Banks)
		r.TotalInterest = generic.MustParseDecimal(interest)
		r.TotalFees = generic.MustParseDecimal(fees)
		r.Error = runErr.String
		r.StartedAt = parseTime(startedAt)
		r.FinishedAt = parseTime(finishedAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// NOTIFICATIONS (payout.NotificationSink)
// =============================================================================

// Notify persists the event. Failures are logged, never returned.
func (s *Store) Notify(ctx context.Context, e payout.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, owner_id, run_id, wake_time, accounts, net, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OwnerID, e.RunID, e.WakeTime.String(), e.Accounts, e.Net.String(), formatTime(e.CreatedAt),
	)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to store notification", err, slogx.String("owner", string(e.OwnerID)))
	}
}

// Notifications returns an owner's events, newest first. limit <= 0 means all.
func (s *Store) Notifications(ctx context.Context, owner generic.OwnerID, limit int) ([]payout.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, run_id, wake_time, accounts, net, created_at
		FROM notifications
		WHERE owner_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, owner, sqlLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list notifications")
	}
	defer rows.Close()

	var events []payout.Event
	for rows.Next() {
		var e payout.Event
		var wake, net, createdAt string
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.RunID, &wake, &e.Accounts, &net, &createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan notification")
		}
		e.WakeTime, _ = generic.ParseWakeTime(wake)
		e.Net = generic.MustParseDecimal(net)
		e.CreatedAt = parseTime(createdAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// sqlLimit maps "no limit" to SQLite's LIMIT -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func requireRow(res sql.Result, notFound error, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if n == 0 {
		return errors.Wrapf(notFound, format, args...)
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
