package payout

import (
	"github.com/shopspring/decimal"
	"github.com/warp/bank-interest/bank"
	"github.com/warp/bank-interest/generic"
)

// Breakdown is the monetary outcome of one paid cycle for one account.
type Breakdown struct {
	Balance    decimal.Decimal
	Multiplier int
	LowBalance bool
	Gross      decimal.Decimal
	Fee        decimal.Decimal
	Net        decimal.Decimal
}

// Compute derives interest and fee for a balance. Intermediate products are
// kept at full precision; only the three results are rounded (half to even).
// Net is rounded from the unrounded gross and fee, so it may differ from
// Gross-Fee by a cent. Net is what the ledger records; Gross and Fee are
// reporting figures.
func Compute(balance decimal.Decimal, r bank.Rules, multiplier int) Breakdown {
	low := balance.LessThan(r.MinimumBalance)

	gross := decimal.Zero
	if !low || r.PayInterestOnLowBalance {
		gross = balance.Mul(r.InterestRate).Mul(decimal.NewFromInt(int64(multiplier)))
	}
	fee := decimal.Zero
	if low {
		fee = r.LowBalanceFee
	}

	return Breakdown{
		Balance:    balance,
		Multiplier: multiplier,
		LowBalance: low,
		Gross:      generic.RoundMoney(gross),
		Fee:        generic.RoundMoney(fee),
		Net:        generic.RoundMoney(gross.Sub(fee)),
	}
}

// TransactionType is the ledger type for a net payout: interest when the
// account gains, fee when it is debited.
func (b Breakdown) TransactionType() generic.TransactionType {
	if b.Net.IsNegative() {
		return generic.TxFee
	}
	return generic.TxInterest
}
