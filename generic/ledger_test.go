package generic_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bank-interest/generic"
	"github.com/warp/bank-interest/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestLedger() (*store.Memory, generic.Ledger) {
	m := store.NewMemory()
	return m, generic.NewLedger(m)
}

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// TESTS
// =============================================================================

func TestRoundMoney_HalfToEven(t *testing.T) {
	tests := map[string]string{
		"1.005":   "1.00",
		"1.015":   "1.02",
		"1.025":   "1.02",
		"-1.005":  "-1.00",
		"1.00501": "1.01",
		"2":       "2.00",
	}
	for in, want := range tests {
		assert.True(t, generic.RoundMoney(money(in)).Equal(money(want)), "%s -> %s", in, generic.RoundMoney(money(in)))
	}
}

func TestRoundMoney_InterestOnFractionalCents(t *testing.T) {
	// balance 100.005, rate 0.01, multiplier 1
	net := generic.RoundMoney(money("100.005").Mul(money("0.01")).Mul(decimal.NewFromInt(1)))
	assert.True(t, net.Equal(money("1.00")), "got %s", net)
}

func TestLedger_BalanceReplaysTransactions(t *testing.T) {
	ctx := context.Background()
	m, ledger := newTestLedger()
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

	for _, e := range []generic.Entry{
		{AccountID: "a1", Delta: money("100"), Type: generic.TxDeposit},
		{AccountID: "a1", Delta: money("-30.5"), Type: generic.TxWithdrawal},
		{AccountID: "a1", Delta: money("0.695"), Type: generic.TxInterest},
		{AccountID: "a2", Delta: money("999"), Type: generic.TxDeposit},
	} {
		require.NoError(t, m.Append(ctx, e.Transaction(now)))
	}

	txs, err := ledger.Transactions(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, txs, 3)

	// 0.695 is stored rounded to 0.70
	balance := generic.Sum(txs)
	assert.True(t, balance.Equal(money("70.20")), "got %s", balance)
}

func TestLedger_IdempotencyKeyRejectsSecondWrite(t *testing.T) {
	ctx := context.Background()
	m, ledger := newTestLedger()
	entry := generic.Entry{
		AccountID:      "a1",
		Delta:          money("1"),
		Type:           generic.TxInterest,
		IdempotencyKey: "payout:a1:09:00:00:2025-03-10",
	}
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, m.Append(ctx, entry.Transaction(now)))
	err := m.Append(ctx, entry.Transaction(now))
	assert.True(t, errors.Is(err, generic.ErrDuplicateIdempotencyKey))

	txs, err := ledger.Transactions(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, generic.Sum(txs).Equal(money("1")))
}

func TestEntry_TransactionDefaults(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	tx := generic.Entry{AccountID: "a1", Delta: money("1.125")}.Transaction(now)

	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, now, tx.EffectiveAt)
	assert.Equal(t, now, tx.CreatedAt)
	assert.True(t, tx.Delta.Equal(money("1.12")))
}

func TestErrors_Classification(t *testing.T) {
	perr := &generic.ParseError{Field: "interest-rate", Input: "abc", Reason: "not a number"}
	assert.True(t, generic.IsClientError(errors.Wrap(perr, "set")))
	assert.True(t, generic.IsNotFound(errors.Wrapf(generic.ErrBankNotFound, "bank %s", "b1")))
	assert.True(t, generic.IsConflict(generic.ErrAccountExists))
	assert.False(t, generic.IsClientError(&generic.LedgerError{AccountID: "a1", Err: errors.New("boom")}))
	assert.Contains(t, perr.Error(), "interest-rate")
}
