/*
ledger.go - Append-only account ledger

PURPOSE:
  The Ledger is the source of truth for account balances. Deposits,
  withdrawals, interest and fees are all recorded here and a balance is
  always computed by replaying transactions.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. IDEMPOTENT: Same idempotency key = same transaction (no duplicates)
  3. One entry per account per paid cycle (interest and fee are netted)

SEE ALSO:
  - store.go: Low-level persistence interface
  - payout/engine.go: Writes interest entries through a Store transaction
*/
package generic

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger is the read side of the account ledger. Writes go through a store
// transaction together with the account status they change.
type Ledger interface {
	// Transactions returns all transactions for an account, chronologically.
	Transactions(ctx context.Context, accountID AccountID) ([]Transaction, error)
}

// Entry describes one balance change before it is stamped.
type Entry struct {
	AccountID      AccountID
	BankID         BankID
	Delta          decimal.Decimal
	Type           TransactionType
	Reason         string
	IdempotencyKey string
	EffectiveAt    time.Time
}

// Transaction builds the immutable ledger record for an entry.
func (e Entry) Transaction(now time.Time) Transaction {
	effective := e.EffectiveAt
	if effective.IsZero() {
		effective = now
	}
	return Transaction{
		ID:             TransactionID(uuid.NewString()),
		AccountID:      e.AccountID,
		BankID:         e.BankID,
		Delta:          RoundMoney(e.Delta),
		Type:           e.Type,
		Reason:         e.Reason,
		IdempotencyKey: e.IdempotencyKey,
		EffectiveAt:    effective,
		CreatedAt:      now,
	}
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{store: store}
}

func (l *DefaultLedger) Transactions(ctx context.Context, accountID AccountID) ([]Transaction, error) {
	txs, err := l.store.Load(ctx, accountID)
	if err != nil {
		return nil, errors.Wrapf(err, "load ledger for %s", accountID)
	}
	return txs, nil
}

// Sum adds up the deltas of a set of transactions. The memory store
// replays balances with it.
func Sum(txs []Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		total = total.Add(tx.Delta)
	}
	return total
}
