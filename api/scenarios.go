/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the service with banks,
	accounts and balances that demonstrate specific payout behaviors.

AVAILABLE SCENARIOS:

	savings-ladder:  Delay then a growing multiplier for an online owner
	shared-times:    Two banks sharing one payout timer
	low-balance:     Minimum balance with a fee and no interest
	offline-budget:  Owner away, limited offline payouts with decrement

HOW SCENARIOS WORK:
 1. Create banks via the service (same validation as POST /api/banks)
 2. Open accounts
 3. Deposit opening balances
 4. Mark the scenario's online owners

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "shared-times"}

NOTE:

	Scenarios are additive: loading one whose banks already exist fails
	with 409. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Bank and account handlers
  - factory/bank.go: Bank JSON definitions
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/bank-interest/factory"
	"github.com/warp/bank-interest/generic"
	"github.com/warp/bank-interest/service"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenarioAccount struct {
	id      generic.AccountID
	bank    generic.BankID
	owner   generic.OwnerID
	balance string
}

type scenario struct {
	ScenarioDTO
	banks    []string // bank JSON documents
	accounts []scenarioAccount
	online   []generic.OwnerID
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "savings-ladder",
			Name:        "Savings Ladder",
			Description: "One cycle of delay, then the multiplier climbs while the owner stays online",
		},
		banks: []string{`{
			"id": "ladder",
			"name": "Ladder Savings",
			"payout_times": ["09:00"],
			"interest_rate": "0.02",
			"multiplier_ladder": [1, 2, 3],
			"initial_delay": 1
		}`},
		accounts: []scenarioAccount{
			{id: "ladder-alice", bank: "ladder", owner: "alice", balance: "1000"},
			{id: "ladder-bob", bank: "ladder", owner: "bob", balance: "250"},
		},
		online: []generic.OwnerID{"alice"},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "shared-times",
			Name:        "Shared Payout Times",
			Description: "Two banks pay at 18:30 through a single timer",
		},
		banks: []string{
			`{"id": "north", "name": "North Bank", "payout_times": ["18:30"]}`,
			`{"id": "south", "name": "South Bank", "payout_times": ["06:00", "18:30"], "interest_rate": "0.015"}`,
		},
		accounts: []scenarioAccount{
			{id: "north-carol", bank: "north", owner: "carol", balance: "400"},
			{id: "south-carol", bank: "south", owner: "carol", balance: "600"},
		},
		online: []generic.OwnerID{"carol"},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "low-balance",
			Name:        "Low Balance Fee",
			Description: "Accounts under the minimum balance pay a fee instead of earning interest",
		},
		banks: []string{`{
			"id": "basic",
			"name": "Basic Checking",
			"payout_times": ["12:00"],
			"interest_rate": "0.01",
			"minimum_balance": "100",
			"low_balance_fee": "2.50",
			"pay_interest_on_low_balance": false
		}`},
		accounts: []scenarioAccount{
			{id: "basic-dave", bank: "basic", owner: "dave", balance: "40"},
			{id: "basic-erin", bank: "basic", owner: "erin", balance: "150"},
		},
		online: []generic.OwnerID{"dave", "erin"},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "offline-budget",
			Name:        "Offline Budget",
			Description: "Two payouts while away, each one stage lower, then nothing until the owner returns",
		},
		banks: []string{`{
			"id": "travel",
			"name": "Travel Savings",
			"payout_times": ["08:00"],
			"multiplier_ladder": [1, 2, 4],
			"allowed_offline_payouts": 2,
			"offline_multiplier_decrement": 1
		}`},
		accounts: []scenarioAccount{
			{id: "travel-frank", bank: "travel", owner: "frank", balance: "500"},
		},
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LoadScenario loads a demo scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	sc, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario", nil)
		return
	}
	if err := loadScenario(r.Context(), h.Service, sc); err != nil {
		writeServiceError(w, r, "Failed to load scenario", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"scenario": sc.ScenarioDTO,
		"banks":    len(sc.banks),
		"accounts": len(sc.accounts),
	})
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

func loadScenario(ctx context.Context, svc *service.Service, sc scenario) error {
	for _, doc := range sc.banks {
		var bj factory.BankJSON
		if err := json.Unmarshal([]byte(doc), &bj); err != nil {
			return &generic.ParseError{Field: "bank", Input: doc, Reason: err.Error()}
		}
		if _, err := svc.CreateBank(ctx, bj); err != nil {
			return err
		}
	}

	for _, a := range sc.accounts {
		if _, err := svc.OpenAccount(ctx, a.id, a.bank, a.owner); err != nil {
			return err
		}
		if _, err := svc.Deposit(ctx, service.Movement{
			AccountID: a.id,
			Amount:    decimal.RequireFromString(a.balance),
			Reason:    "Opening balance",
		}); err != nil {
			return err
		}
	}

	for _, owner := range sc.online {
		svc.MarkOnline(owner)
	}
	return nil
}
