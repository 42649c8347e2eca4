/*
Package payout applies interest to accounts when a wake time fires.

PURPOSE:
  The Engine is the FireFunc behind every payout timer. For each due bank,
  in bank ID order, and each of its accounts, in account ID order, it:
    1. asks the PresenceOracle whether the owner is online
    2. advances the AccountStatus one cycle (on a copy)
    3. if the cycle pays, computes gross interest, low balance fee and net
    4. writes the ledger entry and the new status in ONE store transaction

ATOMICITY:
  Advancing the status without recording the ledger effect is forbidden.
  Both writes go through Store.WithTx; if the ledger write fails the status
  is not saved either, so the account simply retries on the next cycle.

IDEMPOTENCY:
  Timer payouts use the key payout:<account>:<wake>:<date>. A second fire
  for the same cycle hits ErrDuplicateIdempotencyKey and is skipped.

FAILURES:
  A failing account is recorded as a LedgerError in the run and never
  aborts the batch. Cancelling ctx stops the batch between two accounts.

SEE ALSO:
  - compute.go: Interest and fee arithmetic
  - bank/status.go: The per-cycle state machine
  - schedule/registry.go: Calls Fire
*/
package payout

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/warp/bank-interest/bank"
	"github.com/warp/bank-interest/generic"
	"github.com/warp/bank-interest/pkg/logger"
	"github.com/warp/bank-interest/pkg/logger/slogx"
)

type Engine struct {
	store    Store
	rules    RulesSource
	presence PresenceOracle
	sink     NotificationSink
	metrics  *Metrics
	now      func() time.Time
}

type Option func(*Engine)

func WithSink(s NotificationSink) Option { return func(e *Engine) { e.sink = s } }

func WithMetrics(m *Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithNow sets the time source used for ledger timestamps and keys.
func WithNow(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(store Store, rules RulesSource, presence PresenceOracle, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		rules:    rules,
		presence: presence,
		sink:     LogSink{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Fire has the schedule.FireFunc signature.
func (e *Engine) Fire(ctx context.Context, wake generic.WakeTime, banks []generic.BankID) {
	_ = e.RunPayout(ctx, wake, banks)
}

// RunPayout processes every account of the due banks and returns the run
// record. The record is also persisted and reflected in metrics.
func (e *Engine) RunPayout(ctx context.Context, wake generic.WakeTime, due []generic.BankID) Run {
	run := Run{
		ID:            uuid.NewString(),
		WakeTime:      wake,
		Trigger:       triggerFrom(ctx),
		Banks:         generic.SortBankIDs(lo.Uniq(due)),
		Status:        RunCompleted,
		TotalInterest: decimal.Zero,
		TotalFees:     decimal.Zero,
		StartedAt:     e.now(),
	}
	ctx = logger.WithContext(ctx,
		slogx.String("run", run.ID),
		slogx.Stringer("wake_time", wake),
		slogx.String("trigger", string(run.Trigger)),
	)

	var errs error
	for _, bankID := range run.Banks {
		if ctx.Err() != nil {
			run.Status = RunInterrupted
			break
		}
		if err := e.payBank(ctx, &run, bankID); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}

	if ctx.Err() != nil {
		run.Status = RunInterrupted
	} else if run.Failed > 0 || errs != nil {
		run.Status = RunPartial
	}
	if errs != nil {
		run.Error = errs.Error()
	}
	run.FinishedAt = e.now()

	e.notify(ctx, run)
	e.metrics.observe(&run)

	// The batch context may already be cancelled; the record still lands.
	if err := e.store.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		logger.ErrorContext(ctx, "Failed to save payout run", err)
	}

	logger.InfoContext(ctx, "Payout batch finished",
		slogx.String("status", string(run.Status)),
		slogx.Int("banks", len(run.Banks)),
		slogx.Int("paid", run.Paid),
		slogx.Int("skipped", run.Skipped),
		slogx.Int("failed", run.Failed),
		slogx.Stringer("interest", run.TotalInterest),
		slogx.Stringer("fees", run.TotalFees),
		slogx.Duration("took", run.FinishedAt.Sub(run.StartedAt)),
	)
	return run
}

func (e *Engine) payBank(ctx context.Context, run *Run, bankID generic.BankID) error {
	rules, ok := e.rules.Rules(bankID)
	if !ok {
		// deleted after the fire snapshot
		logger.WarnContext(ctx, "Due bank no longer exists", slogx.String("bank", string(bankID)))
		return nil
	}
	accounts, err := e.store.Accounts(ctx, bankID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to list accounts", err, slogx.String("bank", string(bankID)))
		return errors.Wrapf(err, "list accounts of %s", bankID)
	}

	for _, acct := range accounts {
		if ctx.Err() != nil {
			return nil
		}
		res := e.payAccount(ctx, run, acct, rules)
		run.Results = append(run.Results, res)

		switch res.Outcome {
		case OutcomePaid:
			run.Paid++
			// totals report rounded gross and fee; the ledger holds Net
			run.TotalInterest = run.TotalInterest.Add(res.Breakdown.Gross)
			run.TotalFees = run.TotalFees.Add(res.Breakdown.Fee)
		case OutcomeSkipped:
			run.Skipped++
		case OutcomeFailed:
			run.Failed++
			logger.ErrorContext(ctx, "Payout failed for account", res.Err,
				slogx.String("bank", string(bankID)), slogx.String("account", string(acct.ID)))
		}
	}
	return nil
}

func (e *Engine) payAccount(ctx context.Context, run *Run, acct bank.Account, rules bank.Rules) AccountResult {
	res := AccountResult{AccountID: acct.ID, BankID: acct.BankID, OwnerID: acct.OwnerID}
	var before bank.AccountStatus

	// The account is re-read inside the transaction so a concurrent
	// withdrawal is never overwritten by a stale status.
	err := e.store.WithTx(ctx, func(tx Tx) error {
		current, err := tx.Account(ctx, acct.ID)
		if err != nil {
			return err
		}
		res.OwnerID = current.OwnerID
		res.Online = e.presence.IsOnline(current.OwnerID)

		before = current.Status
		status := current.Status
		res.Decision = status.Advance(res.Online, rules)

		if res.Decision.Pay {
			res.Breakdown = Compute(current.Balance, rules, res.Decision.Multiplier)
			if !res.Breakdown.Net.IsZero() {
				entry := generic.Entry{
					AccountID:      current.ID,
					BankID:         current.BankID,
					Delta:          res.Breakdown.Net,
					Type:           res.Breakdown.TransactionType(),
					Reason:         reason(res.Breakdown),
					IdempotencyKey: e.idempotencyKey(run, current.ID),
					EffectiveAt:    run.StartedAt,
				}
				if err := tx.Append(ctx, entry.Transaction(e.now())); err != nil {
					return err
				}
			}
		}
		return tx.SaveStatus(ctx, current.ID, status)
	})

	switch {
	case errors.Is(err, generic.ErrDuplicateIdempotencyKey):
		res.Outcome, res.Reason = OutcomeSkipped, "already paid this cycle"
	case errors.Is(err, generic.ErrAccountNotFound):
		res.Outcome, res.Reason = OutcomeSkipped, "account closed"
	case err != nil:
		res.Outcome = OutcomeFailed
		res.Err = &generic.LedgerError{AccountID: acct.ID, Err: err}
	case !res.Decision.Pay:
		res.Outcome, res.Reason = OutcomeSkipped, skipReason(before, res.Online)
	default:
		res.Outcome = OutcomePaid
	}
	return res
}

func (e *Engine) idempotencyKey(run *Run, accountID generic.AccountID) string {
	if run.Trigger == TriggerManual {
		return fmt.Sprintf("payout:%s:manual:%s", accountID, run.ID)
	}
	return fmt.Sprintf("payout:%s:%s:%s", accountID, run.WakeTime, run.StartedAt.Format(time.DateOnly))
}

func reason(b Breakdown) string {
	if b.LowBalance {
		return fmt.Sprintf("interest x%d, low balance fee %s", b.Multiplier, b.Fee)
	}
	return fmt.Sprintf("interest x%d", b.Multiplier)
}

func skipReason(before bank.AccountStatus, online bool) string {
	switch {
	case before.CyclesUntilFirstPayout > 0:
		return "initial delay"
	case !online:
		return "offline payout budget exhausted"
	default:
		return "no payout"
	}
}

// notify sends one event per owner whose balance changed in this run.
func (e *Engine) notify(ctx context.Context, run Run) {
	paid := lo.Filter(run.Results, func(r AccountResult, _ int) bool {
		return r.Outcome == OutcomePaid && !r.Breakdown.Net.IsZero()
	})
	byOwner := lo.GroupBy(paid, func(r AccountResult) generic.OwnerID { return r.OwnerID })

	owners := lo.Keys(byOwner)
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
	for _, owner := range owners {
		results := byOwner[owner]
		e.sink.Notify(ctx, Event{
			ID:       uuid.NewString(),
			OwnerID:  owner,
			WakeTime: run.WakeTime,
			RunID:    run.ID,
			Accounts: len(results),
			Net: lo.Reduce(results, func(sum decimal.Decimal, r AccountResult, _ int) decimal.Decimal {
				return sum.Add(r.Breakdown.Net)
			}, decimal.Zero),
			CreatedAt: run.FinishedAt,
		})
	}
}
