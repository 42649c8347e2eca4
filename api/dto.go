/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Banks:
    BankDTO, FieldDTO, SetFieldRequest (create uses factory.BankJSON)

  Accounts:
    AccountDTO, OpenAccountRequest, MovementRequest, StageRequest, DelayRequest

  Payouts:
    RunDTO, ScheduleEntryDTO, NotificationDTO

MONEY:
  Amounts are decimal strings with two fractional digits ("12.50"), never
  floats.

VALIDATION:
  Validation is done in the service, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/bank.go: BankJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/bank-interest/bank"
	"github.com/warp/bank-interest/generic"
	"github.com/warp/bank-interest/payout"
	"github.com/warp/bank-interest/schedule"
	"github.com/warp/bank-interest/service"
)

// =============================================================================
// BANKS
// =============================================================================

type BankDTO struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	PayoutTimes []string   `json:"payout_times"`
	Fields      []FieldDTO `json:"fields"`
	CreatedAt   string     `json:"created_at"`
}

// FieldDTO is one configurable field of a bank, or a global default.
type FieldDTO struct {
	Field       string `json:"field"`
	Value       string `json:"value"`
	Source      string `json:"source"`
	Overridable bool   `json:"overridable"`
	Stored      string `json:"stored,omitempty"`
}

// SetFieldRequest carries raw user input: "0.05", "+1%", "=-1", "" (reset).
type SetFieldRequest struct {
	Value string `json:"value"`
}

type SetFieldResponse struct {
	Field   string `json:"field"`
	Value   string `json:"value"`
	Applied bool   `json:"applied"`
}

// DefaultRequest updates a global default. Both parts are optional.
type DefaultRequest struct {
	Value       *string `json:"value,omitempty"`
	Overridable *bool   `json:"overridable,omitempty"`
}

// =============================================================================
// ACCOUNTS
// =============================================================================

type AccountDTO struct {
	ID                          string `json:"id"`
	BankID                      string `json:"bank_id"`
	OwnerID                     string `json:"owner_id"`
	Balance                     string `json:"balance"`
	MultiplierStage             int    `json:"multiplier_stage"`
	CyclesUntilFirstPayout      int    `json:"cycles_until_first_payout"`
	RemainingOfflinePayouts     int    `json:"remaining_offline_payouts"`
	RemainingOfflineBeforeReset int    `json:"remaining_offline_before_reset"`
	OpenedAt                    string `json:"opened_at"`
}

type OpenAccountRequest struct {
	ID      string `json:"id,omitempty"`
	BankID  string `json:"bank_id"`
	OwnerID string `json:"owner_id"`
}

type MovementRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Reason         string          `json:"reason,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type StageRequest struct {
	Stage int `json:"stage"`
}

type DelayRequest struct {
	Cycles int `json:"cycles"`
}

type TransactionDTO struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	BankID      string `json:"bank_id"`
	Delta       string `json:"delta"`
	Type        string `json:"type"`
	Reason      string `json:"reason,omitempty"`
	EffectiveAt string `json:"effective_at"`
}

// =============================================================================
// PAYOUTS
// =============================================================================

type RunDTO struct {
	ID            string   `json:"id"`
	WakeTime      string   `json:"wake_time"`
	Trigger       string   `json:"trigger"`
	Banks         []string `json:"banks"`
	Status        string   `json:"status"`
	Paid          int      `json:"paid"`
	Skipped       int      `json:"skipped"`
	Failed        int      `json:"failed"`
	TotalInterest string   `json:"total_interest"`
	TotalFees     string   `json:"total_fees"`
	Error         string   `json:"error,omitempty"`
	StartedAt     string   `json:"started_at"`
	FinishedAt    string   `json:"finished_at"`
}

type ScheduleEntryDTO struct {
	WakeTime string   `json:"wake_time"`
	Banks    []string `json:"banks"`
	Next     string   `json:"next"`
}

type NotificationDTO struct {
	ID        string `json:"id"`
	RunID     string `json:"run_id"`
	WakeTime  string `json:"wake_time"`
	Accounts  int    `json:"accounts"`
	Net       string `json:"net"`
	CreatedAt string `json:"created_at"`
}

type PresenceDTO struct {
	OwnerID  string `json:"owner_id"`
	Online   bool   `json:"online"`
	LastSeen string `json:"last_seen,omitempty"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func money(d decimal.Decimal) string { return d.StringFixed(generic.MoneyPlaces) }

func ids[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

func toFieldDTOs(infos []bank.FieldInfo) []FieldDTO {
	dtos := make([]FieldDTO, len(infos))
	for i, f := range infos {
		dtos[i] = FieldDTO{
			Field:       string(f.Field),
			Value:       f.Value,
			Source:      string(f.Source),
			Overridable: f.Overridable,
			Stored:      f.Stored,
		}
	}
	return dtos
}

func toBankDTO(v service.BankView) BankDTO {
	times := make([]string, len(v.PayoutTimes))
	for i, t := range v.PayoutTimes {
		times[i] = t.String()
	}
	return BankDTO{
		ID:          string(v.ID),
		Name:        v.Name,
		PayoutTimes: times,
		Fields:      toFieldDTOs(v.Fields),
		CreatedAt:   v.CreatedAt.Format(time.RFC3339),
	}
}

func toAccountDTO(a bank.Account) AccountDTO {
	return AccountDTO{
		ID:                          string(a.ID),
		BankID:                      string(a.BankID),
		OwnerID:                     string(a.OwnerID),
		Balance:                     money(a.Balance),
		MultiplierStage:             a.Status.MultiplierStage,
		CyclesUntilFirstPayout:      a.Status.CyclesUntilFirstPayout,
		RemainingOfflinePayouts:     a.Status.RemainingOfflinePayouts,
		RemainingOfflineBeforeReset: a.Status.RemainingOfflineBeforeReset,
		OpenedAt:                    a.OpenedAt.Format(time.RFC3339),
	}
}

func toTransactionDTO(tx generic.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:          string(tx.ID),
		AccountID:   string(tx.AccountID),
		BankID:      string(tx.BankID),
		Delta:       money(tx.Delta),
		Type:        string(tx.Type),
		Reason:      tx.Reason,
		EffectiveAt: tx.EffectiveAt.Format(time.RFC3339),
	}
}

func toTransactionDTOs(txs []generic.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toRunDTO(r payout.Run) RunDTO {
	return RunDTO{
		ID:            r.ID,
		WakeTime:      r.WakeTime.String(),
		Trigger:       string(r.Trigger),
		Banks:         ids(r.Banks),
		Status:        string(r.Status),
		Paid:          r.Paid,
		Skipped:       r.Skipped,
		Failed:        r.Failed,
		TotalInterest: money(r.TotalInterest),
		TotalFees:     money(r.TotalFees),
		Error:         r.Error,
		StartedAt:     r.StartedAt.Format(time.RFC3339),
		FinishedAt:    r.FinishedAt.Format(time.RFC3339),
	}
}

func toScheduleDTOs(entries []schedule.Entry) []ScheduleEntryDTO {
	dtos := make([]ScheduleEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = ScheduleEntryDTO{
			WakeTime: e.WakeTime.String(),
			Banks:    ids(e.Banks),
			Next:     e.Next.Format(time.RFC3339),
		}
	}
	return dtos
}

func toNotificationDTO(e payout.Event) NotificationDTO {
	return NotificationDTO{
		ID:        e.ID,
		RunID:     e.RunID,
		WakeTime:  e.WakeTime.String(),
		Accounts:  e.Accounts,
		Net:       money(e.Net),
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
	}
}
