/*
store.go - Persistence interface for ledger transactions

PURPOSE:
  Defines the interface between the ledger and the database. The Store
  handles persistence while maintaining append-only semantics. Different
  implementations use SQLite or in-memory storage.

APPEND-ONLY CONTRACT:
  - Append(): Single transaction write
  - NO Update() or Delete() methods exist
  Multi-entry atomic writes go through payout.Store.WithTx.

IDEMPOTENCY:
  Every payout write carries an idempotency key derived from the account,
  the wake time and the date of the fire. If the key already exists the
  write is rejected with ErrDuplicateIdempotencyKey, so a repeated fire for
  the same cycle never pays twice.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Higher-level interface using Store
*/
package generic

import "context"

// Store handles persistence of transactions.
// IMPORTANT: Store is APPEND-ONLY. No Update, No Delete.
type Store interface {
	// Append persists a transaction. Returns ErrDuplicateIdempotencyKey if the key exists.
	Append(ctx context.Context, tx Transaction) error

	// Load returns all transactions for an account, ordered by EffectiveAt.
	Load(ctx context.Context, accountID AccountID) ([]Transaction, error)
}
