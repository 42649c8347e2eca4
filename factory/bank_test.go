package factory_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/bank-interest/bank"
	"github.com/warp/bank-interest/factory"
	"github.com/warp/bank-interest/generic"
)

func newFactory(t *testing.T) (*factory.BankFactory, *bank.Defaults) {
	t.Helper()
	d, err := bank.NewDefaults(nil)
	require.NoError(t, err)
	return factory.NewBankFactory(d), d
}

func TestParseBank_LocalFieldsOnly(t *testing.T) {
	f, _ := newFactory(t)

	cfg, bj, err := f.ParseBank(`{
		"id": "gold",
		"name": "Gold Savings",
		"payout_times": ["18:30", "09:00", "09:00:00"],
		"interest_rate": "0.05",
		"multiplier_ladder": [1, 2],
		"initial_delay": 1,
		"offline_payouts_before_reset": -1
	}`)
	require.NoError(t, err)

	assert.Equal(t, "Gold Savings", bj.Name)
	assert.Equal(t, generic.BankID("gold"), cfg.BankID())
	assert.Equal(t, []generic.WakeTime{
		generic.MustWakeTime(9, 0, 0),
		generic.MustWakeTime(18, 30, 0),
	}, cfg.PayoutTimes())

	rules := cfg.Rules()
	assert.True(t, rules.InterestRate.Equal(decimal.RequireFromString("0.05")))
	assert.Equal(t, []int{1, 2}, rules.MultiplierLadder)
	assert.Equal(t, 1, rules.InitialDelay)

	assert.True(t, cfg.Resolve(bank.FieldInitialDelay).IsLocal())
	assert.False(t, cfg.Resolve(bank.FieldMinimumBalance).IsLocal(), "absent fields inherit")
}

func TestParseBank_Rejects(t *testing.T) {
	f, _ := newFactory(t)
	tests := map[string]string{
		"malformed json":    `{"id": "b1",`,
		"missing id":        `{"name": "nameless"}`,
		"bad wake time":     `{"id": "b1", "payout_times": ["25:00"]}`,
		"negative rate":     `{"id": "b1", "interest_rate": "-0.01"}`,
		"negative delay":    `{"id": "b1", "initial_delay": -2}`,
		"negative rung":     `{"id": "b1", "multiplier_ladder": [1, -1]}`,
		"budget below -1":   `{"id": "b1", "allowed_offline_payouts": -5}`,
		"negative min bal.": `{"id": "b1", "minimum_balance": "-10"}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := f.ParseBank(doc)
			require.Error(t, err)
			assert.True(t, errors.Is(err, generic.ErrParse), "%v", err)
		})
	}
}

func TestToJSON_KeepsDormantValues(t *testing.T) {
	// GIVEN: a bank with a local rate whose override is then disabled
	// WHEN: the bank is serialized and read back
	// THEN: the dormant local value survives the round trip
	f, defaults := newFactory(t)
	cfg := bank.NewConfig("b1", defaults)
	_, _, err := cfg.Set(bank.FieldInterestRate, "0.09")
	require.NoError(t, err)
	_, _, err = cfg.Set(bank.FieldPayoutTimes, "09:00")
	require.NoError(t, err)
	defaults.SetOverridable(bank.FieldInterestRate, false)

	doc, err := f.Marshal("Basic", cfg)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "b1",
		"name": "Basic",
		"payout_times": ["09:00:00"],
		"interest_rate": "0.09"
	}`, doc)

	back, err := f.FromRecord(bank.Record{ID: "b1", ConfigJSON: doc})
	require.NoError(t, err)
	assert.False(t, back.Resolve(bank.FieldInterestRate).IsLocal())

	defaults.SetOverridable(bank.FieldInterestRate, true)
	assert.Equal(t, "0.09", back.Resolve(bank.FieldInterestRate).String())
}

func TestFromRecord_EmptyDocument(t *testing.T) {
	f, _ := newFactory(t)
	cfg, err := f.FromRecord(bank.Record{ID: "plain"})
	require.NoError(t, err)
	assert.Empty(t, cfg.LocalValues())
	assert.Empty(t, cfg.PayoutTimes())
}
