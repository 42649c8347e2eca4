/*
Package generic provides the core types shared by the bank interest engine.

PURPOSE:
  This package contains the bank-agnostic building blocks: identifiers,
  money helpers, ledger transactions and the persistence contracts that the
  bank, schedule and payout packages are written against.

KEY CONCEPTS IN THIS FILE (types.go):
  - BankID/AccountID/OwnerID: Type-safe identifiers
  - Money: decimal.Decimal with banker's rounding to cents
  - Transaction: An immutable ledger entry recording a balance change

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified, corrections are new entries
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Late rounding: products are rounded once, at the final computation
  4. Auditability: Every transaction has reason, reference, and idempotency key

USAGE:
  tx := generic.Transaction{
      AccountID: "acc-1",
      BankID:    "bank-1",
      Delta:     generic.MustParseDecimal("12.50"),
      Type:      generic.TxInterest,
  }

SEE ALSO:
  - waketime.go: Time-of-day scheduling keys
  - ledger.go: Balance replay from transactions
  - errors.go: Error taxonomy
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BankID string
type AccountID string
type OwnerID string
type TransactionID string

// =============================================================================
// MONEY
// =============================================================================

// MoneyPlaces is the number of fractional digits kept for currency amounts.
const MoneyPlaces = 2

// RoundMoney rounds half-to-even to cents. 1.005 becomes 1.00, 1.015 becomes 1.02.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(MoneyPlaces)
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// TRANSACTION - Atomic change to an account balance
// =============================================================================

type TransactionType string

const (
	TxDeposit    TransactionType = "deposit"    // Owner deposit
	TxWithdrawal TransactionType = "withdrawal" // Owner withdrawal
	TxInterest   TransactionType = "interest"   // Scheduled payout, net of fees
	TxFee        TransactionType = "fee"        // Net debit from a low-balance fee
	TxAdjustment TransactionType = "adjustment" // Manual admin correction
)

type Transaction struct {
	ID             TransactionID
	AccountID      AccountID
	BankID         BankID
	Delta          decimal.Decimal
	Type           TransactionType
	Reason         string
	IdempotencyKey string
	EffectiveAt    time.Time
	CreatedAt      time.Time
}
