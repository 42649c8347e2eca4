package service

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/bank-interest/bank"
	"github.com/warp/bank-interest/generic"
	"github.com/warp/bank-interest/payout"
	"github.com/warp/bank-interest/pkg/logger"
	"github.com/warp/bank-interest/pkg/logger/slogx"
)

// =============================================================================
// ACCOUNT LIFECYCLE
// =============================================================================

// OpenAccount opens an account at a bank. The payout status is seeded from
// the bank's resolved rules at this moment. An empty id gets a generated one.
func (s *Service) OpenAccount(ctx context.Context, id generic.AccountID, bankID generic.BankID, owner generic.OwnerID) (bank.Account, error) {
	if owner == "" {
		return bank.Account{}, &generic.ParseError{Field: "owner_id", Reason: "owner is required"}
	}
	rules, ok := s.Rules(bankID)
	if !ok {
		return bank.Account{}, errors.Wrapf(generic.ErrBankNotFound, "bank %s", bankID)
	}
	if id == "" {
		id = generic.AccountID(uuid.NewString())
	}

	a := bank.Account{
		ID:       id,
		BankID:   bankID,
		OwnerID:  owner,
		Balance:  decimal.Zero,
		Status:   bank.NewAccountStatus(rules),
		OpenedAt: s.clock.Now(),
	}
	if err := s.store.CreateAccount(ctx, a); err != nil {
		return bank.Account{}, err
	}
	logger.InfoContext(ctx, "Account opened",
		slogx.String("account", string(id)), slogx.String("bank", string(bankID)), slogx.String("owner", string(owner)))
	return a, nil
}

// CloseAccount destroys the account's payout status. Its ledger history is
// kept and a payout already in flight skips it.
func (s *Service) CloseAccount(ctx context.Context, id generic.AccountID) error {
	if err := s.store.CloseAccount(ctx, id); err != nil {
		return err
	}
	logger.InfoContext(ctx, "Account closed", slogx.String("account", string(id)))
	return nil
}

func (s *Service) GetAccount(ctx context.Context, id generic.AccountID) (bank.Account, error) {
	return s.store.GetAccount(ctx, id)
}

// Transactions returns the account's ledger, oldest first. History stays
// readable after the account is closed.
func (s *Service) Transactions(ctx context.Context, id generic.AccountID) ([]generic.Transaction, error) {
	return s.ledger.Transactions(ctx, id)
}

// =============================================================================
// MONEY MOVEMENT
// =============================================================================

// Movement is a deposit, withdrawal or adjustment request.
type Movement struct {
	AccountID      generic.AccountID
	Amount         decimal.Decimal
	Reason         string
	IdempotencyKey string
}

// Deposit credits a positive amount.
func (s *Service) Deposit(ctx context.Context, m Movement) (generic.Transaction, error) {
	amount := generic.RoundMoney(m.Amount)
	if !amount.IsPositive() {
		return generic.Transaction{}, errors.Wrapf(generic.ErrInvalidAmount, "deposit %s", m.Amount)
	}
	return s.move(ctx, m, amount, generic.TxDeposit, nil)
}

// Withdraw debits a positive amount not exceeding the balance and applies
// the bank's withdrawal penalty to the account's multiplier stage.
func (s *Service) Withdraw(ctx context.Context, m Movement) (generic.Transaction, error) {
	amount := generic.RoundMoney(m.Amount)
	if !amount.IsPositive() {
		return generic.Transaction{}, errors.Wrapf(generic.ErrInvalidAmount, "withdraw %s", m.Amount)
	}
	return s.move(ctx, m, amount.Neg(), generic.TxWithdrawal, func(a *bank.Account, rules bank.Rules) error {
		if a.Balance.LessThan(amount) {
			return errors.Wrapf(generic.ErrInsufficientFunds, "balance %s, requested %s", a.Balance.StringFixed(generic.MoneyPlaces), amount)
		}
		a.Status.OnWithdrawal(rules)
		return nil
	})
}

// Adjust records an administrative correction of either sign. It does not
// touch the payout status.
func (s *Service) Adjust(ctx context.Context, m Movement) (generic.Transaction, error) {
	amount := generic.RoundMoney(m.Amount)
	if amount.IsZero() {
		return generic.Transaction{}, errors.Wrapf(generic.ErrInvalidAmount, "adjust %s", m.Amount)
	}
	return s.move(ctx, m, amount, generic.TxAdjustment, nil)
}

// move writes one ledger entry and, when check is given, the status it
// produces, in one store transaction.
func (s *Service) move(ctx context.Context, m Movement, delta decimal.Decimal, typ generic.TransactionType, check func(*bank.Account, bank.Rules) error) (generic.Transaction, error) {
	// rules are read before the store transaction: the store lock is never
	// held while taking the bank map lock
	current, err := s.store.GetAccount(ctx, m.AccountID)
	if err != nil {
		return generic.Transaction{}, err
	}
	rules, ok := s.Rules(current.BankID)
	if !ok {
		return generic.Transaction{}, errors.Wrapf(generic.ErrBankNotFound, "bank %s", current.BankID)
	}

	var written generic.Transaction
	err = s.store.WithTx(ctx, func(tx payout.Tx) error {
		a, err := tx.Account(ctx, m.AccountID)
		if err != nil {
			return err
		}
		written = generic.Entry{
			AccountID:      a.ID,
			BankID:         a.BankID,
			Delta:          delta,
			Type:           typ,
			Reason:         m.Reason,
			IdempotencyKey: m.IdempotencyKey,
		}.Transaction(s.clock.Now())

		if check != nil {
			before := a.Status
			if err := check(&a, rules); err != nil {
				return err
			}
			if a.Status != before {
				if err := tx.SaveStatus(ctx, a.ID, a.Status); err != nil {
					return err
				}
			}
		}
		return tx.Append(ctx, written)
	})
	if err != nil {
		return generic.Transaction{}, err
	}

	logger.InfoContext(ctx, "Balance changed",
		slogx.String("account", string(m.AccountID)),
		slogx.String("type", string(typ)),
		slogx.String("delta", written.Delta.StringFixed(generic.MoneyPlaces)))
	return written, nil
}

// =============================================================================
// ADMINISTRATIVE OVERRIDES
// =============================================================================

// SetStage moves the account to a multiplier stage, clamped into the
// bank's ladder.
func (s *Service) SetStage(ctx context.Context, id generic.AccountID, stage int) (bank.Account, error) {
	return s.override(ctx, id, func(st *bank.AccountStatus, rules bank.Rules) error {
		st.SetStage(stage, rules)
		return nil
	})
}

// SetDelay sets the cycles left before the first payout. It is the only
// way the counter may increase.
func (s *Service) SetDelay(ctx context.Context, id generic.AccountID, cycles int) (bank.Account, error) {
	return s.override(ctx, id, func(st *bank.AccountStatus, _ bank.Rules) error {
		return st.SetDelay(cycles)
	})
}

func (s *Service) override(ctx context.Context, id generic.AccountID, apply func(*bank.AccountStatus, bank.Rules) error) (bank.Account, error) {
	current, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return bank.Account{}, err
	}
	rules, ok := s.Rules(current.BankID)
	if !ok {
		return bank.Account{}, errors.Wrapf(generic.ErrBankNotFound, "bank %s", current.BankID)
	}

	var updated bank.Account
	err = s.store.WithTx(ctx, func(tx payout.Tx) error {
		a, err := tx.Account(ctx, id)
		if err != nil {
			return err
		}
		if err := apply(&a.Status, rules); err != nil {
			return err
		}
		updated = a
		return tx.SaveStatus(ctx, id, a.Status)
	})
	if err != nil {
		return bank.Account{}, err
	}
	logger.InfoContext(ctx, "Account status overridden",
		slogx.String("account", string(id)),
		slogx.Int("stage", updated.Status.MultiplierStage),
		slogx.Int("delay", updated.Status.CyclesUntilFirstPayout))
	return updated, nil
}
