package payout

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/bank-interest/bank"
	"github.com/warp/bank-interest/generic"
)

// Store is the persistence the engine needs.
type Store interface {
	// Accounts lists a bank's open accounts ordered by ID, with balances
	// replayed from the ledger.
	Accounts(ctx context.Context, bankID generic.BankID) ([]bank.Account, error)

	// WithTx runs fn atomically: either every write inside it lands or none.
	WithTx(ctx context.Context, fn func(Tx) error) error

	SaveRun(ctx context.Context, run Run) error
}

// Tx is the write surface available inside Store.WithTx.
type Tx interface {
	// Account reads an open account with its replayed balance. Returns
	// generic.ErrAccountNotFound once the account is closed.
	Account(ctx context.Context, id generic.AccountID) (bank.Account, error)

	// Append records a ledger transaction. Returns
	// generic.ErrDuplicateIdempotencyKey if the key was already used.
	Append(ctx context.Context, tx generic.Transaction) error

	SaveStatus(ctx context.Context, accountID generic.AccountID, status bank.AccountStatus) error
}

// RulesSource resolves a bank's current rules at fire time.
type RulesSource interface {
	Rules(bankID generic.BankID) (bank.Rules, bool)
}

// =============================================================================
// RUN RECORD
// =============================================================================

type Trigger string

const (
	TriggerTimer  Trigger = "timer"
	TriggerManual Trigger = "manual"
)

type RunStatus string

const (
	RunCompleted   RunStatus = "completed"
	RunPartial     RunStatus = "partial"     // at least one account failed
	RunInterrupted RunStatus = "interrupted" // context cancelled mid-batch
)

type Outcome string

const (
	OutcomePaid    Outcome = "paid"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// AccountResult is what one account went through in a run.
type AccountResult struct {
	AccountID generic.AccountID
	BankID    generic.BankID
	OwnerID   generic.OwnerID
	Online    bool
	Decision  bank.PayoutDecision
	Breakdown Breakdown
	Outcome   Outcome
	Reason    string
	Err       error
}

// Run is the record of one payout batch.
type Run struct {
	ID            string
	WakeTime      generic.WakeTime
	Trigger       Trigger
	Banks         []generic.BankID
	Status        RunStatus
	Paid          int
	Skipped       int
	Failed        int
	TotalInterest decimal.Decimal
	TotalFees     decimal.Decimal
	Error         string
	StartedAt     time.Time
	FinishedAt    time.Time

	// Results is not persisted.
	Results []AccountResult
}

type triggerKey struct{}

// WithTrigger marks the payouts run under ctx as started by t.
func WithTrigger(ctx context.Context, t Trigger) context.Context {
	return context.WithValue(ctx, triggerKey{}, t)
}

func triggerFrom(ctx context.Context) Trigger {
	if t, ok := ctx.Value(triggerKey{}).(Trigger); ok {
		return t
	}
	return TriggerTimer
}
