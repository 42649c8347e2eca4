package bank

import (
	"github.com/shopspring/decimal"
	"github.com/warp/bank-interest/generic"
)

// Unlimited is the sentinel for allowed-offline-payouts (no cap) and
// offline-payouts-before-reset (never reset).
const Unlimited = -1

// Rules is a fully resolved snapshot of a bank's interest configuration:
// every field already carries either the bank's local value or the global
// default. The payout engine and AccountStatus only ever see Rules.
type Rules struct {
	InterestRate                  decimal.Decimal
	MultiplierLadder              []int
	PayoutTimes                   []generic.WakeTime
	InitialDelay                  int
	CountDelayWhileOffline        bool
	AllowedOfflinePayouts         int
	OfflineMultiplierDecrement    int
	OfflinePayoutsBeforeReset     int
	WithdrawalMultiplierDecrement int
	MinimumBalance                decimal.Decimal
	LowBalanceFee                 decimal.Decimal
	PayInterestOnLowBalance       bool
}

// BuiltinRules are used for any field the operator leaves unconfigured.
func BuiltinRules() Rules {
	return Rules{
		InterestRate:              decimal.RequireFromString("0.01"),
		MultiplierLadder:          []int{1},
		PayoutTimes:               []generic.WakeTime{},
		OfflinePayoutsBeforeReset: Unlimited,
		MinimumBalance:            decimal.Zero,
		LowBalanceFee:             decimal.Zero,
	}
}

// Get returns the value of a field.
func (r Rules) Get(f Field) any {
	h, ok := handlers[f]
	if !ok {
		return nil
	}
	return h.get(&r)
}

func (r *Rules) set(f Field, v any) {
	if h, ok := handlers[f]; ok {
		h.put(r, v)
	}
}

// LastStage is the highest valid ladder index. An empty ladder behaves as [1].
func (r Rules) LastStage() int {
	if len(r.MultiplierLadder) == 0 {
		return 0
	}
	return len(r.MultiplierLadder) - 1
}

// ClampStage forces a stage index into [0, LastStage()].
func (r Rules) ClampStage(stage int) int {
	if stage < 0 {
		return 0
	}
	if last := r.LastStage(); stage > last {
		return last
	}
	return stage
}

// Multiplier looks up the ladder value for a stage, clamping out-of-range
// indexes so a shrunk ladder never faults.
func (r Rules) Multiplier(stage int) int {
	if len(r.MultiplierLadder) == 0 {
		return 1
	}
	return r.MultiplierLadder[r.ClampStage(stage)]
}
