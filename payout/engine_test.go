package payout_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bank-interest/bank"
	"github.com/warp/bank-interest/generic"
	"github.com/warp/bank-interest/generic/store"
	"github.com/warp/bank-interest/payout"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type rulesMap map[generic.BankID]bank.Rules

func (m rulesMap) Rules(id generic.BankID) (bank.Rules, bool) {
	r, ok := m[id]
	return r, ok
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	store    *store.Memory
	rules    rulesMap
	presence payout.StaticPresence
	now      time.Time
	engine   *payout.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		store:    store.NewMemory(),
		rules:    rulesMap{},
		presence: payout.StaticPresence{},
		now:      time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC),
	}
	f.engine = payout.NewEngine(f.store, f.rules, f.presence,
		payout.WithSink(f.store),
		payout.WithNow(func() time.Time { return f.now }),
	)
	return f
}

func (f *fixture) bank(id generic.BankID, r bank.Rules) {
	f.t.Helper()
	f.rules[id] = r
	require.NoError(f.t, f.store.SaveBank(f.ctx, bank.Record{ID: id, Name: string(id)}))
}

func (f *fixture) account(id generic.AccountID, bankID generic.BankID, owner generic.OwnerID, balance string) {
	f.t.Helper()
	require.NoError(f.t, f.store.CreateAccount(f.ctx, bank.Account{
		ID:      id,
		BankID:  bankID,
		OwnerID: owner,
		Status:  bank.NewAccountStatus(f.rules[bankID]),
	}))
	if balance == "0" {
		return
	}
	require.NoError(f.t, f.store.Append(f.ctx, generic.Entry{
		AccountID: id,
		BankID:    bankID,
		Delta:     decimal.RequireFromString(balance),
		Type:      generic.TxDeposit,
	}.Transaction(f.now.Add(-time.Hour))))
}

func (f *fixture) get(id generic.AccountID) bank.Account {
	f.t.Helper()
	a, err := f.store.GetAccount(f.ctx, id)
	require.NoError(f.t, err)
	return a
}

// nextDay moves the engine clock forward one cycle.
func (f *fixture) nextDay() { f.now = f.now.Add(24 * time.Hour) }

func (f *fixture) run(banks ...generic.BankID) payout.Run {
	return f.engine.RunPayout(f.ctx, generic.MustWakeTime(9, 0, 0), banks)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func rules(mod func(*bank.Rules)) bank.Rules {
	r := bank.BuiltinRules()
	if mod != nil {
		mod(&r)
	}
	return r
}

// =============================================================================
// TESTS
// =============================================================================

func TestRunPayout_DelayThenLadderScenario(t *testing.T) {
	// GIVEN: rate 5%, ladder [1,2], one cycle of initial delay, balance 100
	// WHEN: two online cycles run
	// THEN: the first pays nothing, the second pays 100 * 0.05 * 2 = 10.00
	f := newFixture(t)
	f.bank("b1", rules(func(r *bank.Rules) {
		r.InterestRate = dec("0.05")
		r.MultiplierLadder = []int{1, 2}
		r.InitialDelay = 1
	}))
	f.account("a1", "b1", "alice", "100")
	f.presence["alice"] = true

	run := f.run("b1")
	assert.Equal(t, 0, run.Paid)
	assert.Equal(t, 1, run.Skipped)
	assert.Equal(t, "initial delay", run.Results[0].Reason)
	assert.Equal(t, 0, f.get("a1").Status.CyclesUntilFirstPayout)
	assert.True(t, f.get("a1").Balance.Equal(dec("100")))

	f.nextDay()
	run = f.run("b1")
	require.Equal(t, 1, run.Paid)
	assert.Equal(t, 2, run.Results[0].Decision.Multiplier)
	assert.True(t, run.Results[0].Breakdown.Net.Equal(dec("10.00")))
	assert.Equal(t, 1, f.get("a1").Status.MultiplierStage)
	assert.True(t, f.get("a1").Balance.Equal(dec("110")), "got %s", f.get("a1").Balance)
	assert.Equal(t, payout.RunCompleted, run.Status)
}

func TestRunPayout_FailingAccountDoesNotAbortBatch(t *testing.T) {
	f := newFixture(t)
	f.bank("b1", rules(nil))
	for _, id := range []generic.AccountID{"a1", "a2", "a3"} {
		f.account(id, "b1", "owner", "100")
	}
	f.presence["owner"] = true
	f.store.FailAppend("a2", errors.New("disk full"))
	before := f.get("a2").Status

	run := f.run("b1")

	assert.Equal(t, 2, run.Paid)
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, payout.RunPartial, run.Status)

	failed := run.Results[1]
	assert.Equal(t, generic.AccountID("a2"), failed.AccountID)
	assert.True(t, errors.Is(failed.Err, generic.ErrLedger))
	var lerr *generic.LedgerError
	require.True(t, errors.As(failed.Err, &lerr))
	assert.Equal(t, generic.AccountID("a2"), lerr.AccountID)

	// No partial application: status rolled back with the ledger write.
	assert.Equal(t, before, f.get("a2").Status)
	assert.True(t, f.get("a2").Balance.Equal(dec("100")))
	assert.True(t, f.get("a3").Balance.Equal(dec("101")))

	// Retried on the next cycle.
	f.store.FailAppend("a2", nil)
	f.nextDay()
	run = f.run("b1")
	assert.Equal(t, 3, run.Paid)
	assert.True(t, f.get("a2").Balance.Equal(dec("101")))
}

func TestRunPayout_SecondFireSameCycleIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.bank("b1", rules(nil))
	f.account("a1", "b1", "alice", "100")
	f.presence["alice"] = true

	first := f.run("b1")
	second := f.run("b1")

	assert.Equal(t, 1, first.Paid)
	assert.Equal(t, 0, second.Paid)
	assert.Equal(t, "already paid this cycle", second.Results[0].Reason)
	assert.True(t, f.get("a1").Balance.Equal(dec("101")))
}

func TestRunPayout_ManualRunsAreNotDeduplicatedAgainstTimer(t *testing.T) {
	f := newFixture(t)
	f.bank("b1", rules(nil))
	f.account("a1", "b1", "alice", "100")
	f.presence["alice"] = true

	f.run("b1")
	manual := f.engine.RunPayout(payout.WithTrigger(f.ctx, payout.TriggerManual), generic.MustWakeTime(9, 0, 0), []generic.BankID{"b1"})

	assert.Equal(t, payout.TriggerManual, manual.Trigger)
	assert.Equal(t, 1, manual.Paid)
	assert.True(t, f.get("a1").Balance.Equal(dec("102.01")))
}

func TestRunPayout_NegativeNetIsDebited(t *testing.T) {
	// GIVEN: a balance under the minimum, no interest on low balance, fee 2
	// THEN: the account is debited 2.00 as a fee transaction
	f := newFixture(t)
	f.bank("b1", rules(func(r *bank.Rules) {
		r.MinimumBalance = dec("50")
		r.LowBalanceFee = dec("2")
	}))
	f.account("a1", "b1", "alice", "10")
	f.presence["alice"] = true

	run := f.run("b1")
	require.Equal(t, 1, run.Paid)
	assert.True(t, run.TotalFees.Equal(dec("2")))

	txs, err := f.store.Load(f.ctx, "a1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, generic.TxFee, txs[1].Type)
	assert.True(t, txs[1].Delta.Equal(dec("-2")))
	assert.True(t, f.get("a1").Balance.Equal(dec("8")))
}

func TestRunPayout_OfflineBudgetExhausted(t *testing.T) {
	f := newFixture(t)
	f.bank("b1", rules(func(r *bank.Rules) { r.AllowedOfflinePayouts = 0 }))
	f.account("a1", "b1", "alice", "100")

	for i := 0; i < 3; i++ {
		run := f.run("b1")
		assert.Equal(t, "offline payout budget exhausted", run.Results[0].Reason)
		f.nextDay()
	}
	assert.True(t, f.get("a1").Balance.Equal(dec("100")))
	assert.Equal(t, bank.NewAccountStatus(f.rules["b1"]), f.get("a1").Status)
}

func TestRunPayout_DeterministicOrder(t *testing.T) {
	f := newFixture(t)
	f.bank("b2", rules(nil))
	f.bank("b1", rules(nil))
	f.account("z", "b1", "o", "10")
	f.account("a", "b1", "o", "10")
	f.account("m", "b2", "o", "10")

	run := f.run("b2", "b1", "b2")

	assert.Equal(t, []generic.BankID{"b1", "b2"}, run.Banks)
	var order []generic.AccountID
	for _, r := range run.Results {
		order = append(order, r.AccountID)
	}
	assert.Equal(t, []generic.AccountID{"a", "z", "m"}, order)
}

func TestRunPayout_OneNotificationPerOwner(t *testing.T) {
	f := newFixture(t)
	f.bank("b1", rules(nil))
	f.bank("b2", rules(nil))
	f.account("a1", "b1", "alice", "100")
	f.account("a2", "b2", "alice", "200")
	f.account("a3", "b1", "bob", "300")
	f.account("a4", "b1", "carol", "0")
	f.presence["alice"], f.presence["bob"], f.presence["carol"] = true, true, true

	run := f.run("b1", "b2")

	alice, err := f.store.Notifications(f.ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, alice, 1)
	assert.True(t, alice[0].Net.Equal(dec("3")))
	assert.Equal(t, 2, alice[0].Accounts)
	assert.Equal(t, run.ID, alice[0].RunID)

	bob, err := f.store.Notifications(f.ctx, "bob", 0)
	require.NoError(t, err)
	require.Len(t, bob, 1)

	carol, err := f.store.Notifications(f.ctx, "carol", 0)
	require.NoError(t, err)
	assert.Empty(t, carol, "zero net payout changes nothing")
}

func TestRunPayout_CancelledContextStopsBatch(t *testing.T) {
	f := newFixture(t)
	f.bank("b1", rules(nil))
	f.account("a1", "b1", "alice", "100")
	f.presence["alice"] = true

	ctx, cancel := context.WithCancel(f.ctx)
	cancel()
	run := f.engine.RunPayout(ctx, generic.MustWakeTime(9, 0, 0), []generic.BankID{"b1"})

	assert.Equal(t, payout.RunInterrupted, run.Status)
	assert.Equal(t, 0, run.Paid)
	assert.True(t, f.get("a1").Balance.Equal(dec("100")))

	runs, err := f.store.Runs(f.ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, payout.RunInterrupted, runs[0].Status)
}

func TestRunPayout_DeletedBankIsIgnored(t *testing.T) {
	f := newFixture(t)
	run := f.run("gone")
	assert.Equal(t, payout.RunCompleted, run.Status)
	assert.Empty(t, run.Results)
}

func TestRunPayout_RecordsRun(t *testing.T) {
	f := newFixture(t)
	f.bank("b1", rules(nil))
	f.account("a1", "b1", "alice", "250")
	f.presence["alice"] = true

	f.run("b1")

	runs, err := f.store.Runs(f.ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, generic.MustWakeTime(9, 0, 0), runs[0].WakeTime)
	assert.Equal(t, payout.TriggerTimer, runs[0].Trigger)
	assert.True(t, runs[0].TotalInterest.Equal(dec("2.5")))
	assert.Nil(t, runs[0].Results)
}
