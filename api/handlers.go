/*
handlers.go - HTTP API handlers for the bank interest service

PURPOSE:
  Exposes bank configuration, accounts and payouts via REST API. Handles
  HTTP request/response and JSON serialization, and delegates to the
  service layer.

ENDPOINTS:
  Banks:
    GET    /api/banks                         List banks
    POST   /api/banks                         Create bank from JSON
    GET    /api/banks/{id}                    Bank details with resolved fields
    DELETE /api/banks/{id}                    Delete bank and its accounts
    GET    /api/banks/{id}/export             Stored JSON document
    GET    /api/banks/{id}/fields             Field info (value, source, overridable)
    PUT    /api/banks/{id}/fields/{field}     Set one field from raw input
    POST   /api/banks/{id}/payouts            Run a manual payout now

  Global defaults:
    GET    /api/defaults                      Default value and override policy per field
    PUT    /api/defaults/{field}              Change a default or its override policy

  Accounts:
    POST   /api/accounts                      Open account
    GET    /api/accounts/{id}                 Balance and payout status
    DELETE /api/accounts/{id}                 Close account
    GET    /api/accounts/{id}/transactions    Ledger history
    POST   /api/accounts/{id}/deposits        Deposit
    POST   /api/accounts/{id}/withdrawals     Withdraw
    POST   /api/accounts/{id}/adjustments     Admin correction
    PUT    /api/accounts/{id}/stage           Set multiplier stage
    PUT    /api/accounts/{id}/delay           Set cycles until first payout

  Owners:
    GET    /api/owners/online                 Owners currently online
    GET    /api/owners/{id}/presence          Presence of one owner
    PUT    /api/owners/{id}/presence          Heartbeat: mark online
    DELETE /api/owners/{id}/presence          Mark offline
    GET    /api/owners/{id}/notifications     Payout events, newest first

  Payouts:
    GET    /api/payouts/runs                  Payout run history
    GET    /api/payouts/schedule              Live timers and their banks
    GET    /api/payouts/schedule/verify       Registry consistency check

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Parse errors, invalid amounts, insufficient funds
  - 404: Bank or account not found
  - 409: Already exists, duplicate idempotency key
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/bank-interest/factory"
	"github.com/warp/bank-interest/generic"
	"github.com/warp/bank-interest/pkg/logger"
	"github.com/warp/bank-interest/service"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *service.Service
}

// NewHandler creates a new handler over the service.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{Service: svc}
}

// =============================================================================
// BANK HANDLERS
// =============================================================================

// ListBanks returns all banks.
func (h *Handler) ListBanks(w http.ResponseWriter, r *http.Request) {
	views := h.Service.ListBanks()
	dtos := make([]BankDTO, len(views))
	for i, v := range views {
		dtos[i] = toBankDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBank creates a bank from its JSON document.
// POST /api/banks
func (h *Handler) CreateBank(w http.ResponseWriter, r *http.Request) {
	var req factory.BankJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	view, err := h.Service.CreateBank(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, "Failed to create bank", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBankDTO(view))
}

func (h *Handler) GetBank(w http.ResponseWriter, r *http.Request) {
	view, err := h.Service.GetBank(bankID(r))
	if err != nil {
		writeServiceError(w, r, "Failed to get bank", err)
		return
	}
	writeJSON(w, http.StatusOK, toBankDTO(view))
}

func (h *Handler) DeleteBank(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteBank(r.Context(), bankID(r)); err != nil {
		writeServiceError(w, r, "Failed to delete bank", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ExportBank(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Service.Export(bankID(r))
	if err != nil {
		writeServiceError(w, r, "Failed to export bank", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) ListFields(w http.ResponseWriter, r *http.Request) {
	infos, err := h.Service.Describe(bankID(r))
	if err != nil {
		writeServiceError(w, r, "Failed to describe bank", err)
		return
	}
	writeJSON(w, http.StatusOK, toFieldDTOs(infos))
}

// SetField applies raw input to one field. A field the bank may not
// override answers 200 with applied=false.
// PUT /api/banks/{id}/fields/{field}
func (h *Handler) SetField(w http.ResponseWriter, r *http.Request) {
	var req SetFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Service.SetField(r.Context(), bankID(r), chi.URLParam(r, "field"), req.Value)
	if err != nil {
		writeServiceError(w, r, "Failed to set field", err)
		return
	}
	writeJSON(w, http.StatusOK, SetFieldResponse{Field: string(res.Field), Value: res.Value, Applied: res.Applied})
}

// RunPayout pays one bank now.
// POST /api/banks/{id}/payouts
func (h *Handler) RunPayout(w http.ResponseWriter, r *http.Request) {
	run, err := h.Service.RunNow(r.Context(), bankID(r))
	if err != nil {
		writeServiceError(w, r, "Failed to run payout", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(run))
}

// =============================================================================
// GLOBAL DEFAULTS
// =============================================================================

func (h *Handler) ListDefaults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toFieldDTOs(h.Service.Defaults()))
}

// UpdateDefault changes a global default and/or its override policy.
// The change lives in memory only: a restart reloads the interest section
// of the configuration.
// PUT /api/defaults/{field}
func (h *Handler) UpdateDefault(w http.ResponseWriter, r *http.Request) {
	var req DefaultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	field := chi.URLParam(r, "field")

	if req.Value != nil {
		if _, err := h.Service.SetDefault(r.Context(), field, *req.Value); err != nil {
			writeServiceError(w, r, "Failed to set default", err)
			return
		}
	}
	if req.Overridable != nil {
		if err := h.Service.SetOverridable(r.Context(), field, *req.Overridable); err != nil {
			writeServiceError(w, r, "Failed to set override policy", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, toFieldDTOs(h.Service.Defaults()))
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// OpenAccount opens an account at a bank.
// POST /api/accounts
func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req OpenAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	a, err := h.Service.OpenAccount(r.Context(),
		generic.AccountID(req.ID), generic.BankID(req.BankID), generic.OwnerID(req.OwnerID))
	if err != nil {
		writeServiceError(w, r, "Failed to open account", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(a))
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	a, err := h.Service.GetAccount(r.Context(), accountID(r))
	if err != nil {
		writeServiceError(w, r, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(a))
}

func (h *Handler) CloseAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.CloseAccount(r.Context(), accountID(r)); err != nil {
		writeServiceError(w, r, "Failed to close account", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetTransactions returns the account's ledger history.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Service.Transactions(r.Context(), accountID(r))
	if err != nil {
		writeServiceError(w, r, "Failed to get transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, "Failed to deposit", h.Service.Deposit)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, "Failed to withdraw", h.Service.Withdraw)
}

func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, "Failed to adjust balance", h.Service.Adjust)
}

func (h *Handler) movement(w http.ResponseWriter, r *http.Request, msg string, apply func(context.Context, service.Movement) (generic.Transaction, error)) {
	var req MovementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	tx, err := apply(r.Context(), service.Movement{
		AccountID:      accountID(r),
		Amount:         req.Amount,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeServiceError(w, r, msg, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// SetStage is the administrative override of the multiplier stage.
// PUT /api/accounts/{id}/stage
func (h *Handler) SetStage(w http.ResponseWriter, r *http.Request) {
	var req StageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	a, err := h.Service.SetStage(r.Context(), accountID(r), req.Stage)
	if err != nil {
		writeServiceError(w, r, "Failed to set stage", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(a))
}

// SetDelay is the administrative override of the first payout delay.
// PUT /api/accounts/{id}/delay
func (h *Handler) SetDelay(w http.ResponseWriter, r *http.Request) {
	var req DelayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	a, err := h.Service.SetDelay(r.Context(), accountID(r), req.Cycles)
	if err != nil {
		writeServiceError(w, r, "Failed to set delay", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(a))
}

// =============================================================================
// OWNER HANDLERS
// =============================================================================

func (h *Handler) ListOnline(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"owners": ids(h.Service.Online())})
}

func (h *Handler) GetPresence(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.presence(ownerID(r)))
}

// MarkOnline records a heartbeat for the owner.
// PUT /api/owners/{id}/presence
func (h *Handler) MarkOnline(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	h.Service.MarkOnline(owner)
	writeJSON(w, http.StatusOK, h.presence(owner))
}

func (h *Handler) MarkOffline(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	h.Service.MarkOffline(owner)
	writeJSON(w, http.StatusOK, h.presence(owner))
}

func (h *Handler) presence(owner generic.OwnerID) PresenceDTO {
	dto := PresenceDTO{OwnerID: string(owner), Online: h.Service.IsOnline(owner)}
	if seen, ok := h.Service.LastSeen(owner); ok {
		dto.LastSeen = seen.Format(time.RFC3339)
	}
	return dto
}

// ListNotifications returns the owner's payout events, newest first.
// GET /api/owners/{id}/notifications?limit=20
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	events, err := h.Service.Notifications(r.Context(), ownerID(r), limit)
	if err != nil {
		writeServiceError(w, r, "Failed to list notifications", err)
		return
	}
	dtos := make([]NotificationDTO, len(events))
	for i, e := range events {
		dtos[i] = toNotificationDTO(e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": dtos})
}

// =============================================================================
// PAYOUT HANDLERS
// =============================================================================

// ListRuns returns payout run history.
// GET /api/payouts/runs?limit=50
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	runs, err := h.Service.Runs(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, "Failed to list payout runs", err)
		return
	}
	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toScheduleDTOs(h.Service.Schedule()))
}

// VerifySchedule reports registry consistency.
// GET /api/payouts/schedule/verify
func (h *Handler) VerifySchedule(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.VerifySchedule(); err != nil {
		writeError(w, http.StatusInternalServerError, "Payout registry inconsistent", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps the error taxonomy to an HTTP status. Internal
// errors are logged; client errors are not.
func writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	switch {
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case generic.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	default:
		logger.ErrorContext(r.Context(), message, err)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 50, nil
	}
	return strconv.Atoi(raw)
}

func bankID(r *http.Request) generic.BankID       { return generic.BankID(chi.URLParam(r, "id")) }
func accountID(r *http.Request) generic.AccountID { return generic.AccountID(chi.URLParam(r, "id")) }
func ownerID(r *http.Request) generic.OwnerID     { return generic.OwnerID(chi.URLParam(r, "id")) }
