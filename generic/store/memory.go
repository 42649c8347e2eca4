// Package store provides in-memory persistence for tests and development.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/warp/bank-interest/bank"
	"github.com/warp/bank-interest/generic"
	"github.com/warp/bank-interest/payout"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	transactions map[generic.AccountID][]generic.Transaction
	idempotency  map[string]bool
	banks        map[generic.BankID]bank.Record
	accounts     map[generic.AccountID]bank.Account // Balance unused, replayed on read
	runs         []payout.Run
	events       []payout.Event

	// injected failures, keyed by account
	failAppend map[generic.AccountID]error
}

func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[generic.AccountID][]generic.Transaction),
		idempotency:  make(map[string]bool),
		banks:        make(map[generic.BankID]bank.Record),
		accounts:     make(map[generic.AccountID]bank.Account),
		failAppend:   make(map[generic.AccountID]error),
	}
}

// FailAppend makes every ledger write for accountID fail with err until
// cleared with a nil err.
func (m *Memory) FailAppend(accountID generic.AccountID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failAppend, accountID)
		return
	}
	m.failAppend[accountID] = err
}

// =============================================================================
// LEDGER - generic.Store
// =============================================================================

// Append adds a single transaction. Append-only.
func (m *Memory) Append(_ context.Context, tx generic.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

func (m *Memory) appendLocked(tx generic.Transaction) error {
	if err, ok := m.failAppend[tx.AccountID]; ok {
		return err
	}
	if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
		return generic.ErrDuplicateIdempotencyKey
	}

	txs := m.transactions[tx.AccountID]

	// Binary search for insertion point, stable for equal EffectiveAt.
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].EffectiveAt.After(tx.EffectiveAt)
	})
	txs = append(txs, generic.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	m.transactions[tx.AccountID] = txs

	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) Load(_ context.Context, accountID generic.AccountID) ([]generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]generic.Transaction{}, m.transactions[accountID]...), nil
}

// =============================================================================
// BANKS
// =============================================================================

func (m *Memory) SaveBank(_ context.Context, rec bank.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.banks[rec.ID]; ok && rec.CreatedAt.IsZero() {
		rec.CreatedAt = old.CreatedAt
	}
	m.banks[rec.ID] = rec
	return nil
}

func (m *Memory) ListBanks(_ context.Context) ([]bank.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := lo.Values(m.banks)
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs, nil
}

// DeleteBank removes the bank and closes its accounts. Ledger history is kept.
func (m *Memory) DeleteBank(_ context.Context, id generic.BankID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.banks[id]; !ok {
		return errors.Wrapf(generic.ErrBankNotFound, "bank %s", id)
	}
	delete(m.banks, id)
	for accID, a := range m.accounts {
		if a.BankID == id {
			delete(m.accounts, accID)
		}
	}
	return nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) CreateAccount(_ context.Context, a bank.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.banks[a.BankID]; !ok {
		return errors.Wrapf(generic.ErrBankNotFound, "bank %s", a.BankID)
	}
	if _, ok := m.accounts[a.ID]; ok {
		return errors.Wrapf(generic.ErrAccountExists, "account %s", a.ID)
	}
	a.Balance = generic.Sum(m.transactions[a.ID])
	m.accounts[a.ID] = a
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id generic.AccountID) (bank.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accountLocked(id)
}

func (m *Memory) accountLocked(id generic.AccountID) (bank.Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return bank.Account{}, errors.Wrapf(generic.ErrAccountNotFound, "account %s", id)
	}
	out := a
	out.Balance = generic.Sum(m.transactions[id])
	return out, nil
}

// Accounts lists a bank's open accounts ordered by ID.
func (m *Memory) Accounts(_ context.Context, bankID generic.BankID) ([]bank.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []bank.Account
	for id, a := range m.accounts {
		if a.BankID != bankID {
			continue
		}
		acct, _ := m.accountLocked(id)
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CloseAccount destroys the account and its status. Ledger history is kept.
func (m *Memory) CloseAccount(_ context.Context, id generic.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; !ok {
		return errors.Wrapf(generic.ErrAccountNotFound, "account %s", id)
	}
	delete(m.accounts, id)
	return nil
}

func (m *Memory) saveStatusLocked(id generic.AccountID, status bank.AccountStatus) error {
	a, ok := m.accounts[id]
	if !ok {
		return errors.Wrapf(generic.ErrAccountNotFound, "account %s", id)
	}
	a.Status = status
	m.accounts[id] = a
	return nil
}

// =============================================================================
// RUNS & NOTIFICATIONS
// =============================================================================

func (m *Memory) SaveRun(_ context.Context, run payout.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run.Results = nil
	m.runs = append(m.runs, run)
	return nil
}

// Runs returns the most recent runs first.
func (m *Memory) Runs(_ context.Context, limit int) ([]payout.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.runs, limit), nil
}

// Notify stores the event. It implements payout.NotificationSink.
func (m *Memory) Notify(_ context.Context, e payout.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *Memory) Notifications(_ context.Context, owner generic.OwnerID, limit int) ([]payout.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owned := lo.Filter(m.events, func(e payout.Event, _ int) bool { return e.OwnerID == owner })
	return newestFirst(owned, limit), nil
}

func newestFirst[T any](items []T, limit int) []T {
	out := make([]T, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, items[i])
	}
	return out
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(payout.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	transactions map[generic.AccountID][]generic.Transaction
	idempotency  map[string]bool
	accounts     map[generic.AccountID]bank.Account
}

func (m *Memory) snapshot() memorySnapshot {
	txsCopy := make(map[generic.AccountID][]generic.Transaction, len(m.transactions))
	for k, v := range m.transactions {
		txsCopy[k] = append([]generic.Transaction{}, v...)
	}
	idempCopy := make(map[string]bool, len(m.idempotency))
	for k, v := range m.idempotency {
		idempCopy[k] = v
	}
	accCopy := make(map[generic.AccountID]bank.Account, len(m.accounts))
	for k, v := range m.accounts {
		accCopy[k] = v
	}
	return memorySnapshot{transactions: txsCopy, idempotency: idempCopy, accounts: accCopy}
}

func (m *Memory) restore(s memorySnapshot) {
	m.transactions = s.transactions
	m.idempotency = s.idempotency
	m.accounts = s.accounts
}

// txView runs with the parent's lock already held.
type txView struct {
	parent *Memory
}

func (tv *txView) Account(_ context.Context, id generic.AccountID) (bank.Account, error) {
	return tv.parent.accountLocked(id)
}

func (tv *txView) Append(_ context.Context, tx generic.Transaction) error {
	return tv.parent.appendLocked(tx)
}

func (tv *txView) SaveStatus(_ context.Context, id generic.AccountID, status bank.AccountStatus) error {
	return tv.parent.saveStatusLocked(id, status)
}
