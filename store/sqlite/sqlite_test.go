package sqlite_test

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
	"github.com/warp/bank-interest/payout"
	"github.com/warp/bank-interest/store/sqlite"
)

var opened = time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *sqlite.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SaveBank(ctx, bank.Record{ID: "b1", Name: "Basic", ConfigJSON: `{"id":"b1"}`}))
	require.NoError(t, s.CreateAccount(ctx, bank.Account{
		ID:       "a1",
		BankID:   "b1",
		OwnerID:  "alice",
		Status:   bank.AccountStatus{MultiplierStage: 0, CyclesUntilFirstPayout: 2, RemainingOfflinePayouts: 3, RemainingOfflineBeforeReset: -1},
		OpenedAt: opened,
	}))
}

func deposit(id, account, amount string) generic.Transaction {
	return generic.Transaction{
		ID:          generic.TransactionID(id),
		AccountID:   generic.AccountID(account),
		BankID:      "b1",
		Delta:       decimal.RequireFromString(amount),
		Type:        generic.TxDeposit,
		EffectiveAt: opened,
		CreatedAt:   opened,
	}
}

func TestStore_AccountBalanceFromLedger(t *testing.T) {
	// GIVEN: an account with a deposit and a withdrawal
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, deposit("t1", "a1", "100.50")))
	w := deposit("t2", "a1", "-20.25")
	w.Type = generic.TxWithdrawal
	require.NoError(t, s.Append(ctx, w))

	// WHEN: the account is read back
	a, err := s.GetAccount(ctx, "a1")
	require.NoError(t, err)

	// THEN: balance is the ledger sum and status is intact
	assert.True(t, a.Balance.Equal(decimal.RequireFromString("80.25")), "got %s", a.Balance)
	assert.Equal(t, generic.OwnerID("alice"), a.OwnerID)
	assert.Equal(t, 2, a.Status.CyclesUntilFirstPayout)
	assert.Equal(t, -1, a.Status.RemainingOfflineBeforeReset)
	assert.True(t, a.OpenedAt.Equal(opened))

	txs, err := s.Load(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, generic.TxWithdrawal, txs[1].Type)
}

func TestStore_DuplicateIdempotencyKey(t *testing.T) {
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()

	tx := deposit("t1", "a1", "1.00")
	tx.IdempotencyKey = "payout:a1:09:00:00:2025-03-10"
	require.NoError(t, s.Append(ctx, tx))

	again := deposit("t2", "a1", "1.00")
	again.IdempotencyKey = tx.IdempotencyKey
	err := s.Append(ctx, again)
	assert.True(t, errors.Is(err, generic.ErrDuplicateIdempotencyKey), "%v", err)

	txs, err := s.Load(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestStore_WithTxRollsBack(t *testing.T) {
	// GIVEN: a transaction that writes then fails
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx payout.Tx) error {
		require.NoError(t, tx.Append(ctx, deposit("t1", "a1", "9")))
		require.NoError(t, tx.SaveStatus(ctx, "a1", bank.AccountStatus{MultiplierStage: 4}))
		return errors.New("boom")
	})
	require.Error(t, err)

	// THEN: neither the ledger nor the status changed
	a, err := s.GetAccount(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, a.Balance.IsZero())
	assert.Equal(t, 0, a.Status.MultiplierStage)
	assert.Equal(t, 2, a.Status.CyclesUntilFirstPayout)
}

func TestStore_WithTxCommits(t *testing.T) {
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, deposit("t0", "a1", "10")))

	err := s.WithTx(ctx, func(tx payout.Tx) error {
		a, err := tx.Account(ctx, "a1")
		if err != nil {
			return err
		}
		assert.True(t, a.Balance.Equal(decimal.NewFromInt(10)))
		a.Status.MultiplierStage = 1
		if err := tx.Append(ctx, deposit("t1", "a1", "0.10")); err != nil {
			return err
		}
		return tx.SaveStatus(ctx, a.ID, a.Status)
	})
	require.NoError(t, err)

	a, err := s.GetAccount(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(decimal.RequireFromString("10.10")))
	assert.Equal(t, 1, a.Status.MultiplierStage)
}

func TestStore_SaveStatusUnknownAccount(t *testing.T) {
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx payout.Tx) error {
		return tx.SaveStatus(ctx, "ghost", bank.AccountStatus{})
	})
	assert.True(t, errors.Is(err, generic.ErrAccountNotFound))
}

func TestStore_AccountLifecycle(t *testing.T) {
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()

	// duplicate ID
	err := s.CreateAccount(ctx, bank.Account{ID: "a1", BankID: "b1", OwnerID: "bob"})
	assert.True(t, errors.Is(err, generic.ErrAccountExists), "%v", err)

	// unknown bank
	err = s.CreateAccount(ctx, bank.Account{ID: "a9", BankID: "nope", OwnerID: "bob"})
	assert.True(t, errors.Is(err, generic.ErrBankNotFound), "%v", err)

	require.NoError(t, s.CreateAccount(ctx, bank.Account{ID: "a0", BankID: "b1", OwnerID: "bob"}))
	accounts, err := s.Accounts(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, generic.AccountID("a0"), accounts[0].ID)

	require.NoError(t, s.Append(ctx, deposit("t1", "a1", "50")))
	require.NoError(t, s.CloseAccount(ctx, "a1"))
	_, err = s.GetAccount(ctx, "a1")
	assert.True(t, errors.Is(err, generic.ErrAccountNotFound))

	// ledger history survives closing
	txs, err := s.Load(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	assert.True(t, errors.Is(s.CloseAccount(ctx, "a1"), generic.ErrAccountNotFound))
}

func TestStore_DeleteBankCascadesAccounts(t *testing.T) {
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.DeleteBank(ctx, "b1"))

	banks, err := s.ListBanks(ctx)
	require.NoError(t, err)
	assert.Empty(t, banks)

	_, err = s.GetAccount(ctx, "a1")
	assert.True(t, errors.Is(err, generic.ErrAccountNotFound))

	assert.True(t, errors.Is(s.DeleteBank(ctx, "b1"), generic.ErrBankNotFound))
}

func TestStore_SaveBankUpserts(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveBank(ctx, bank.Record{ID: "b2", Name: "Old", ConfigJSON: "{}"}))
	require.NoError(t, s.SaveBank(ctx, bank.Record{ID: "b1", Name: "First", ConfigJSON: "{}"}))
	require.NoError(t, s.SaveBank(ctx, bank.Record{ID: "b2", Name: "New", ConfigJSON: `{"interest_rate":"0.02"}`}))

	banks, err := s.ListBanks(ctx)
	require.NoError(t, err)
	require.Len(t, banks, 2)
	assert.Equal(t, generic.BankID("b1"), banks[0].ID)
	assert.Equal(t, "New", banks[1].Name)
	assert.Equal(t, `{"interest_rate":"0.02"}`, banks[1].ConfigJSON)
}

func TestStore_RunsNewestFirst(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	wake := generic.MustWakeTime(9, 0, 0)

	for i, id := range []string{"r1", "r2", "r3"} {
		start := opened.Add(time.Duration(i) * time.Hour)
		require.NoError(t, s.SaveRun(ctx, payout.Run{
			ID:            id,
			WakeTime:      wake,
			Trigger:       payout.TriggerTimer,
			Banks:         []generic.BankID{"b1", "b2"},
			Status:        payout.RunCompleted,
			Paid:          i,
			TotalInterest: decimal.RequireFromString("1.25"),
			TotalFees:     decimal.Zero,
			StartedAt:     start,
			FinishedAt:    start.Add(time.Second),
		}))
	}

	runs, err := s.Runs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r3", runs[0].ID)
	assert.Equal(t, wake, runs[0].WakeTime)
	assert.Equal(t, []generic.BankID{"b1", "b2"}, runs[0].Banks)
	assert.True(t, runs[0].TotalInterest.Equal(decimal.RequireFromString("1.25")))

	all, err := s.Runs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_Notifications(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	wake := generic.MustWakeTime(18, 30, 0)

	s.Notify(ctx, payout.Event{ID: "e1", OwnerID: "alice", RunID: "r1", WakeTime: wake, Accounts: 2, Net: decimal.RequireFromString("3.10"), CreatedAt: opened})
	s.Notify(ctx, payout.Event{ID: "e2", OwnerID: "bob", RunID: "r1", WakeTime: wake, Accounts: 1, Net: decimal.NewFromInt(1), CreatedAt: opened})
	s.Notify(ctx, payout.Event{ID: "e3", OwnerID: "alice", RunID: "r2", WakeTime: wake, Accounts: 1, Net: decimal.RequireFromString("-2.50"), CreatedAt: opened.Add(24 * time.Hour)})

	events, err := s.Notifications(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e3", events[0].ID)
	assert.True(t, events[0].Net.Equal(decimal.RequireFromString("-2.50")))
	assert.Equal(t, 2, events[1].Accounts)
	assert.Equal(t, wake, events[1].WakeTime)
}
