/*
Package factory converts between JSON bank definitions and bank.Config.

PURPOSE:
  Banks are stored and imported as JSON. Only the fields a bank sets
  locally appear in the document; an absent field inherits the global
  default. A stored value for a field whose override is currently disabled
  is kept as is and stays dormant until the override is re-enabled.

JSON SCHEMA:
  {
    "id": "gold",
    "name": "Gold Savings",
    "payout_times": ["09:00:00", "18:30:00"],
    "interest_rate": "0.05",
    "multiplier_ladder": [1, 2, 3],
    "initial_delay": 1,
    "count_delay_while_offline": false,
    "allowed_offline_payouts": 3,
    "offline_payouts_before_reset": -1,
    "offline_multiplier_decrement": 1,
    "withdrawal_multiplier_decrement": -1,
    "minimum_balance": "100",
    "low_balance_fee": "2.50",
    "pay_interest_on_low_balance": false
  }

USAGE:
  f := factory.NewBankFactory(defaults)
  cfg, bj, err := f.ParseBank(jsonString)
  ...
  doc, err := f.Marshal(name, cfg)

SEE ALSO:
  - bank/config.go: Config and the override resolution
  - store/sqlite/sqlite.go: Stores the document in banks.config_json
*/
package factory

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/warp/bank-interest/bank"
	"github.com/warp/bank-interest/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// BankJSON is the JSON representation of a bank. Pointer fields are nil
// when the bank inherits the field.
type BankJSON struct {
	ID                            string              `json:"id"`
	Name                          string              `json:"name,omitempty"`
	PayoutTimes                   *[]generic.WakeTime `json:"payout_times,omitempty"`
	InterestRate                  *decimal.Decimal    `json:"interest_rate,omitempty"`
	MultiplierLadder              *[]int              `json:"multiplier_ladder,omitempty"`
	InitialDelay                  *int                `json:"initial_delay,omitempty"`
	CountDelayWhileOffline        *bool               `json:"count_delay_while_offline,omitempty"`
	AllowedOfflinePayouts         *int                `json:"allowed_offline_payouts,omitempty"`
	OfflinePayoutsBeforeReset     *int                `json:"offline_payouts_before_reset,omitempty"`
	OfflineMultiplierDecrement    *int                `json:"offline_multiplier_decrement,omitempty"`
	WithdrawalMultiplierDecrement *int                `json:"withdrawal_multiplier_decrement,omitempty"`
	MinimumBalance                *decimal.Decimal    `json:"minimum_balance,omitempty"`
	LowBalanceFee                 *decimal.Decimal    `json:"low_balance_fee,omitempty"`
	PayInterestOnLowBalance       *bool               `json:"pay_interest_on_low_balance,omitempty"`
}

// locals lists the set fields of the document as typed values.
func (bj BankJSON) locals() map[bank.Field]any {
	out := make(map[bank.Field]any)
	if bj.PayoutTimes != nil {
		out[bank.FieldPayoutTimes] = generic.SortWakeTimes(lo.Uniq(*bj.PayoutTimes))
	}
	if bj.InterestRate != nil {
		out[bank.FieldInterestRate] = *bj.InterestRate
	}
	if bj.MultiplierLadder != nil {
		out[bank.FieldMultiplierLadder] = append([]int{}, *bj.MultiplierLadder...)
	}
	if bj.InitialDelay != nil {
		out[bank.FieldInitialDelay] = *bj.InitialDelay
	}
	if bj.CountDelayWhileOffline != nil {
		out[bank.FieldCountDelayWhileOffline] = *bj.CountDelayWhileOffline
	}
	if bj.AllowedOfflinePayouts != nil {
		out[bank.FieldAllowedOfflinePayouts] = *bj.AllowedOfflinePayouts
	}
	if bj.OfflinePayoutsBeforeReset != nil {
		out[bank.FieldOfflinePayoutsBeforeReset] = *bj.OfflinePayoutsBeforeReset
	}
	if bj.OfflineMultiplierDecrement != nil {
		out[bank.FieldOfflineMultiplierDecrement] = *bj.OfflineMultiplierDecrement
	}
	if bj.WithdrawalMultiplierDecrement != nil {
		out[bank.FieldWithdrawalMultiplierDecrement] = *bj.WithdrawalMultiplierDecrement
	}
	if bj.MinimumBalance != nil {
		out[bank.FieldMinimumBalance] = *bj.MinimumBalance
	}
	if bj.LowBalanceFee != nil {
		out[bank.FieldLowBalanceFee] = *bj.LowBalanceFee
	}
	if bj.PayInterestOnLowBalance != nil {
		out[bank.FieldPayInterestOnLowBalance] = *bj.PayInterestOnLowBalance
	}
	return out
}

// =============================================================================
// BANK FACTORY
// =============================================================================

// BankFactory converts JSON banks to bank.Config against a set of defaults.
type BankFactory struct {
	defaults bank.GlobalDefaults
}

func NewBankFactory(defaults bank.GlobalDefaults) *BankFactory {
	return &BankFactory{defaults: defaults}
}

// ParseBank parses a JSON document into a Config.
func (f *BankFactory) ParseBank(jsonStr string) (*bank.Config, BankJSON, error) {
	var bj BankJSON
	if err := json.Unmarshal([]byte(jsonStr), &bj); err != nil {
		return nil, BankJSON{}, &generic.ParseError{Field: "bank", Input: jsonStr, Reason: err.Error()}
	}
	cfg, err := f.FromJSON(bj)
	if err != nil {
		return nil, BankJSON{}, err
	}
	return cfg, bj, nil
}

// FromJSON builds a Config from the document. Every value is validated
// against its field's constraints.
func (f *BankFactory) FromJSON(bj BankJSON) (*bank.Config, error) {
	if bj.ID == "" {
		return nil, &generic.ParseError{Field: "id", Reason: "bank id is required"}
	}
	cfg := bank.NewConfig(generic.BankID(bj.ID), f.defaults)
	locals := bj.locals()
	for _, field := range bank.Fields {
		v, ok := locals[field]
		if !ok {
			continue
		}
		if err := bank.Check(field, v); err != nil {
			return nil, errors.Wrapf(err, "bank %s", bj.ID)
		}
		cfg.Restore(field, v)
	}
	return cfg, nil
}

// ToJSON lists every locally stored value of cfg, dormant ones included.
func (f *BankFactory) ToJSON(name string, cfg *bank.Config) BankJSON {
	bj := BankJSON{ID: string(cfg.BankID()), Name: name}
	for field, v := range cfg.LocalValues() {
		switch field {
		case bank.FieldPayoutTimes:
			times := v.([]generic.WakeTime)
			bj.PayoutTimes = &times
		case bank.FieldInterestRate:
			bj.InterestRate = decimalPtr(v)
		case bank.FieldMultiplierLadder:
			ladder := v.([]int)
			bj.MultiplierLadder = &ladder
		case bank.FieldInitialDelay:
			bj.InitialDelay = intPtr(v)
		case bank.FieldCountDelayWhileOffline:
			bj.CountDelayWhileOffline = boolPtr(v)
		case bank.FieldAllowedOfflinePayouts:
			bj.AllowedOfflinePayouts = intPtr(v)
		case bank.FieldOfflinePayoutsBeforeReset:
			bj.OfflinePayoutsBeforeReset = intPtr(v)
		case bank.FieldOfflineMultiplierDecrement:
			bj.OfflineMultiplierDecrement = intPtr(v)
		case bank.FieldWithdrawalMultiplierDecrement:
			bj.WithdrawalMultiplierDecrement = intPtr(v)
		case bank.FieldMinimumBalance:
			bj.MinimumBalance = decimalPtr(v)
		case bank.FieldLowBalanceFee:
			bj.LowBalanceFee = decimalPtr(v)
		case bank.FieldPayInterestOnLowBalance:
			bj.PayInterestOnLowBalance = boolPtr(v)
		}
	}
	return bj
}

// Marshal renders cfg as the stored JSON document.
func (f *BankFactory) Marshal(name string, cfg *bank.Config) (string, error) {
	b, err := json.Marshal(f.ToJSON(name, cfg))
	if err != nil {
		return "", errors.Wrapf(err, "marshal bank %s", cfg.BankID())
	}
	return string(b), nil
}

// FromRecord rebuilds a Config from its stored record.
func (f *BankFactory) FromRecord(rec bank.Record) (*bank.Config, error) {
	doc := rec.ConfigJSON
	if doc == "" {
		doc = "{}"
	}
	var bj BankJSON
	if err := json.Unmarshal([]byte(doc), &bj); err != nil {
		return nil, errors.Wrapf(err, "decode bank %s", rec.ID)
	}
	bj.ID = string(rec.ID)
	return f.FromJSON(bj)
}

// =============================================================================
// HELPERS
// =============================================================================

func intPtr(v any) *int {
	n := v.(int)
	return &n
}

func boolPtr(v any) *bool {
	b := v.(bool)
	return &b
}

func decimalPtr(v any) *decimal.Decimal {
	d := v.(decimal.Decimal)
	return &d
}
