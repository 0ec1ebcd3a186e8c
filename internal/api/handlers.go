/**
 * @description
 * This file contains the HTTP handlers for the ledger-service's account and
 * transaction endpoints. Handlers are responsible for parsing incoming
 * requests, calling the appropriate methods on the application service, and
 * writing the HTTP response. The domain's typed errors map onto HTTP statuses
 * in one place (`writeServiceError`), so every endpoint reports declines and
 * conflicts the same way.
 *
 * @dependencies
 * - encoding/json, errors, log, net/http, strconv: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameter extraction.
 * - internal/app, internal/domain: For service logic and models.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rosstax/ledger-service/internal/app"
	"github.com/rosstax/ledger-service/internal/domain"
)

// LedgerHandlers holds the application service that handlers will use.
type LedgerHandlers struct {
	service *app.Service
}

// NewLedgerHandlers creates a new instance of LedgerHandlers.
func NewLedgerHandlers(service *app.Service) *LedgerHandlers {
	return &LedgerHandlers{service: service}
}

// OpenAccountHandler handles POST /accounts.
func (h *LedgerHandlers) OpenAccountHandler(w http.ResponseWriter, r *http.Request) {
	clientID, ok := GetAuthenticatedClientID(r.Context())
	if !ok {
		http.Error(w, "Could not get client ID from context", http.StatusInternalServerError)
		return
	}

	var req struct {
		AccountType domain.AccountType `json:"account_type"`
		AccountTier domain.AccountTier `json:"account_tier"`
		AccountName string             `json:"account_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	account, err := h.service.OpenAccount(r.Context(), app.OpenAccountParams{
		ClientID:    clientID,
		AccountType: req.AccountType,
		AccountTier: req.AccountTier,
		AccountName: req.AccountName,
	})
	if err != nil {
		h.writeServiceError(w, "open_account", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, account)
}

// GetAccountHandler handles GET /accounts/{accountID}.
func (h *LedgerHandlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.ownedAccount(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

// ListAccountsHandler handles GET /accounts.
func (h *LedgerHandlers) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	clientID, ok := GetAuthenticatedClientID(r.Context())
	if !ok {
		http.Error(w, "Could not get client ID from context", http.StatusInternalServerError)
		return
	}
	accounts, err := h.service.ListClientAccounts(r.Context(), clientID)
	if err != nil {
		h.writeServiceError(w, "list_accounts", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": accounts})
}

// FDICCoverageHandler handles GET /accounts/fdic-coverage.
func (h *LedgerHandlers) FDICCoverageHandler(w http.ResponseWriter, r *http.Request) {
	clientID, ok := GetAuthenticatedClientID(r.Context())
	if !ok {
		http.Error(w, "Could not get client ID from context", http.StatusInternalServerError)
		return
	}
	summary, err := h.service.FDICCoverage(r.Context(), clientID)
	if err != nil {
		h.writeServiceError(w, "fdic_coverage", err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// UpgradeTierHandler handles PUT /accounts/{accountID}/tier.
func (h *LedgerHandlers) UpgradeTierHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.ownedAccount(w, r)
	if !ok {
		return
	}

	var req struct {
		AccountTier domain.AccountTier `json:"account_tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	upgraded, err := h.service.UpgradeTier(r.Context(), account.ID, req.AccountTier)
	if err != nil {
		h.writeServiceError(w, "upgrade_tier", err)
		return
	}
	h.writeJSON(w, http.StatusOK, upgraded)
}

// PostTransactionHandler handles POST /accounts/{accountID}/transactions.
func (h *LedgerHandlers) PostTransactionHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.ownedAccount(w, r)
	if !ok {
		return
	}

	var req struct {
		Type        domain.TransactionType `json:"transaction_type"`
		Amount      int64                  `json:"amount"`
		Description string                 `json:"description"`
		Category    *string                `json:"category,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	txn, err := h.service.RecordTransaction(r.Context(), account.ID, domain.TransactionDraft{
		Type:        req.Type,
		Amount:      req.Amount,
		Description: req.Description,
		Category:    req.Category,
		Status:      domain.TransactionStatusPosted,
	})
	if err != nil {
		h.writeServiceError(w, "post_transaction", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, txn)
}

// TransactionHistoryHandler handles GET /accounts/{accountID}/transactions.
func (h *LedgerHandlers) TransactionHistoryHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.ownedAccount(w, r)
	if !ok {
		return
	}
	limit, offset := pagination(r)
	transactions, err := h.service.TransactionHistory(r.Context(), account.ID, limit, offset)
	if err != nil {
		h.writeServiceError(w, "transaction_history", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": transactions})
}

// ownedAccount loads the account named in the URL and verifies it belongs to
// the authenticated client. Ownership failures are reported as 404 so account
// ids are not probeable.
func (h *LedgerHandlers) ownedAccount(w http.ResponseWriter, r *http.Request) (*domain.Account, bool) {
	clientID, ok := GetAuthenticatedClientID(r.Context())
	if !ok {
		http.Error(w, "Could not get client ID from context", http.StatusInternalServerError)
		return nil, false
	}
	accountID := chi.URLParam(r, "accountID")
	account, err := h.service.GetAccount(r.Context(), accountID)
	if err != nil {
		h.writeServiceError(w, "load_account", err)
		return nil, false
	}
	if account.ClientID != clientID {
		h.writeError(w, http.StatusNotFound, "account not found")
		return nil, false
	}
	return account, true
}

func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

// writeServiceError maps the domain's typed errors onto HTTP statuses.
func (h *LedgerHandlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	var (
		validationErr *domain.ValidationError
		notFoundErr   *domain.NotFoundError
		fundsErr      *domain.InsufficientFundsError
		limitErr      *domain.LimitExceededError
		policyErr     *domain.PolicyDeclineError
		sodErr        *domain.SegregationOfDutiesError
		stateErr      *domain.StateConflictError
		rateErr       *domain.RateLimitedError
	)
	switch {
	case errors.As(err, &validationErr):
		h.writeError(w, http.StatusBadRequest, validationErr.Error())
	case errors.As(err, &notFoundErr):
		h.writeError(w, http.StatusNotFound, notFoundErr.Error())
	case errors.As(err, &fundsErr):
		h.writeError(w, http.StatusPaymentRequired, fundsErr.Error())
	case errors.As(err, &limitErr):
		h.writeError(w, http.StatusUnprocessableEntity, limitErr.Error())
	case errors.As(err, &policyErr):
		h.writeError(w, http.StatusUnprocessableEntity, policyErr.Error())
	case errors.As(err, &sodErr):
		h.writeError(w, http.StatusForbidden, sodErr.Error())
	case errors.As(err, &stateErr):
		h.writeError(w, http.StatusConflict, stateErr.Error())
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds))
		h.writeError(w, http.StatusTooManyRequests, rateErr.Error())
	default:
		log.Printf("level=error component=api endpoint=%s msg=\"unhandled service error\" err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *LedgerHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *LedgerHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
