package bank

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/bank-interest/generic"
)

// Account is a balance-holding entity belonging to exactly one bank.
// Balance is derived from the ledger at read time; Status is the payout
// state persisted alongside the account.
type Account struct {
	ID       generic.AccountID
	BankID   generic.BankID
	OwnerID  generic.OwnerID
	Balance  decimal.Decimal
	Status   AccountStatus
	OpenedAt time.Time
}

// Record is the stored form of a bank. ConfigJSON carries the bank's
// local field values (see factory.BankJSON).
type Record struct {
	ID         generic.BankID
	Name       string
	ConfigJSON string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
