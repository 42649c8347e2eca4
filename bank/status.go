package bank

import (
	"strconv"

	"github.com/warp/bank-interest/generic"
)

// =============================================================================
// ACCOUNT STATUS - Per-account payout state machine
// =============================================================================

// AccountStatus is the mutable payout state of one account. The states are
// implicit in the four counters; the machine never terminates.
//
// Only the payout engine (Advance) and administrative overrides (SetStage,
// SetDelay) mutate it; OnWithdrawal is driven by the account's withdrawals.
type AccountStatus struct {
	MultiplierStage             int
	CyclesUntilFirstPayout      int
	RemainingOfflinePayouts     int
	RemainingOfflineBeforeReset int
}

// PayoutDecision is the outcome of one cycle for one account.
type PayoutDecision struct {
	Pay        bool
	Multiplier int
}

// NewAccountStatus seeds a freshly opened account from its bank's rules.
func NewAccountStatus(r Rules) AccountStatus {
	return AccountStatus{
		MultiplierStage:             0,
		CyclesUntilFirstPayout:      max(r.InitialDelay, 0),
		RemainingOfflinePayouts:     r.AllowedOfflinePayouts,
		RemainingOfflineBeforeReset: r.OfflinePayoutsBeforeReset,
	}
}

// Advance moves the account through one payout cycle.
func (s *AccountStatus) Advance(online bool, r Rules) PayoutDecision {
	// Delay phase: no interest until the counter reaches zero.
	if s.CyclesUntilFirstPayout > 0 {
		if online || r.CountDelayWhileOffline {
			s.CyclesUntilFirstPayout--
		}
		return PayoutDecision{Pay: false, Multiplier: r.Multiplier(s.MultiplierStage)}
	}

	if online {
		s.MultiplierStage = r.ClampStage(s.MultiplierStage)
		if s.MultiplierStage < r.LastStage() {
			s.MultiplierStage++
		}
		s.RemainingOfflineBeforeReset = r.OfflinePayoutsBeforeReset
		s.RemainingOfflinePayouts = r.AllowedOfflinePayouts
		return PayoutDecision{Pay: true, Multiplier: r.Multiplier(s.MultiplierStage)}
	}

	if s.RemainingOfflinePayouts == 0 {
		return PayoutDecision{Pay: false, Multiplier: r.Multiplier(s.MultiplierStage)}
	}

	if s.RemainingOfflineBeforeReset == 0 {
		s.MultiplierStage = 0
		s.spendOfflinePayout()
		return PayoutDecision{Pay: true, Multiplier: r.Multiplier(s.MultiplierStage)}
	}

	if s.RemainingOfflineBeforeReset > 0 {
		s.RemainingOfflineBeforeReset--
	}
	s.MultiplierStage = r.ClampStage(s.MultiplierStage - r.OfflineMultiplierDecrement)
	s.spendOfflinePayout()
	return PayoutDecision{Pay: true, Multiplier: r.Multiplier(s.MultiplierStage)}
}

func (s *AccountStatus) spendOfflinePayout() {
	if s.RemainingOfflinePayouts > 0 {
		s.RemainingOfflinePayouts--
	}
}

// OnWithdrawal applies the bank's withdrawal penalty to the stage: a
// positive decrement steps down (floor 0), a negative one resets to 0.
func (s *AccountStatus) OnWithdrawal(r Rules) {
	switch d := r.WithdrawalMultiplierDecrement; {
	case d > 0:
		s.MultiplierStage = max(s.MultiplierStage-d, 0)
	case d < 0:
		s.MultiplierStage = 0
	}
}

// RealMultiplier is the ladder value the account currently earns.
func (s AccountStatus) RealMultiplier(r Rules) int {
	return r.Multiplier(s.MultiplierStage)
}

// SetStage is the administrative override for the multiplier stage.
func (s *AccountStatus) SetStage(stage int, r Rules) {
	s.MultiplierStage = r.ClampStage(stage)
}

// SetDelay is the administrative override for the delay counter. It is the
// only way the counter may increase.
func (s *AccountStatus) SetDelay(cycles int) error {
	if cycles < 0 {
		return &generic.ParseError{Field: "delay", Input: strconv.Itoa(cycles), Reason: "must be at least 0"}
	}
	s.CyclesUntilFirstPayout = cycles
	return nil
}
