/**
 * @description
 * HTTP handlers for the card endpoints. Client-facing routes cover issuance,
 * activation, freeze/unfreeze, cancellation, spending controls, and history.
 * The authorization endpoint is internal-only: it is called by the card
 * network integration, authenticated with the internal API key rather than a
 * client JWT, and always answers 200 with the approve/decline decision.
 *
 * @dependencies
 * - encoding/json, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameter extraction.
 * - internal/app, internal/domain: For service logic and models.
 */

package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rosstax/ledger-service/internal/app"
	"github.com/rosstax/ledger-service/internal/domain"
)

// IssueCardHandler handles POST /accounts/{accountID}/cards.
func (h *LedgerHandlers) IssueCardHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.ownedAccount(w, r)
	if !ok {
		return
	}

	var req struct {
		CardholderName string          `json:"cardholder_name"`
		CardType       domain.CardType `json:"card_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	card, err := h.service.IssueCard(r.Context(), app.IssueCardParams{
		AccountID:      account.ID,
		ClientID:       account.ClientID,
		CardholderName: req.CardholderName,
		CardType:       req.CardType,
	})
	if err != nil {
		h.writeServiceError(w, "issue_card", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, card)
}

// ListCardsHandler handles GET /accounts/{accountID}/cards.
func (h *LedgerHandlers) ListCardsHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.ownedAccount(w, r)
	if !ok {
		return
	}
	cards, err := h.service.ListAccountCards(r.Context(), account.ID)
	if err != nil {
		h.writeServiceError(w, "list_cards", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"cards": cards})
}

// ActivateCardHandler handles POST /cards/{cardID}/activate.
func (h *LedgerHandlers) ActivateCardHandler(w http.ResponseWriter, r *http.Request) {
	card, ok := h.ownedCard(w, r)
	if !ok {
		return
	}

	var req struct {
		CardLast4 string `json:"card_last4"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	activated, err := h.service.ActivateCard(r.Context(), card.ID, req.CardLast4)
	if err != nil {
		h.writeServiceError(w, "activate_card", err)
		return
	}
	h.writeJSON(w, http.StatusOK, activated)
}

// ToggleCardFreezeHandler handles POST /cards/{cardID}/freeze.
func (h *LedgerHandlers) ToggleCardFreezeHandler(w http.ResponseWriter, r *http.Request) {
	card, ok := h.ownedCard(w, r)
	if !ok {
		return
	}
	updated, err := h.service.ToggleCardFreeze(r.Context(), card.ID)
	if err != nil {
		h.writeServiceError(w, "toggle_card_freeze", err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// CancelCardHandler handles POST /cards/{cardID}/cancel.
func (h *LedgerHandlers) CancelCardHandler(w http.ResponseWriter, r *http.Request) {
	card, ok := h.ownedCard(w, r)
	if !ok {
		return
	}
	cancelled, err := h.service.CancelCard(r.Context(), card.ID)
	if err != nil {
		h.writeServiceError(w, "cancel_card", err)
		return
	}
	h.writeJSON(w, http.StatusOK, cancelled)
}

// UpdateCardControlsHandler handles PUT /cards/{cardID}/controls.
func (h *LedgerHandlers) UpdateCardControlsHandler(w http.ResponseWriter, r *http.Request) {
	card, ok := h.ownedCard(w, r)
	if !ok {
		return
	}

	var req struct {
		DailyLimit           *int64 `json:"daily_limit,omitempty"`
		TransactionLimit     *int64 `json:"transaction_limit,omitempty"`
		ATMDailyLimit        *int64 `json:"atm_daily_limit,omitempty"`
		InternationalEnabled *bool  `json:"international_enabled,omitempty"`
		OnlineEnabled        *bool  `json:"online_enabled,omitempty"`
		ContactlessEnabled   *bool  `json:"contactless_enabled,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	updated, err := h.service.UpdateCardControls(r.Context(), card.ID, domain.CardControls{
		DailyLimit:           req.DailyLimit,
		TransactionLimit:     req.TransactionLimit,
		ATMDailyLimit:        req.ATMDailyLimit,
		InternationalEnabled: req.InternationalEnabled,
		OnlineEnabled:        req.OnlineEnabled,
		ContactlessEnabled:   req.ContactlessEnabled,
	})
	if err != nil {
		h.writeServiceError(w, "update_card_controls", err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// CardAuthorizationHistoryHandler handles GET /cards/{cardID}/authorizations.
func (h *LedgerHandlers) CardAuthorizationHistoryHandler(w http.ResponseWriter, r *http.Request) {
	card, ok := h.ownedCard(w, r)
	if !ok {
		return
	}
	limit, offset := pagination(r)
	authorizations, err := h.service.CardAuthorizationHistory(r.Context(), card.ID, limit, offset)
	if err != nil {
		h.writeServiceError(w, "card_authorization_history", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"authorizations": authorizations})
}

// AuthorizeCardHandler handles POST /internal/card-authorizations. Approve and
// decline are both successful outcomes from the network's point of view, so
// the response is 200 either way with the decision in the body.
func (h *LedgerHandlers) AuthorizeCardHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CardLast4        string `json:"card_last4"`
		Amount           int64  `json:"amount"`
		MerchantName     string `json:"merchant_name"`
		MerchantCategory string `json:"merchant_category"`
		MerchantCountry  string `json:"merchant_country"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	decision, err := h.service.AuthorizeCardTransaction(r.Context(), app.AuthorizationRequest{
		CardLast4:        req.CardLast4,
		Amount:           req.Amount,
		MerchantName:     req.MerchantName,
		MerchantCategory: req.MerchantCategory,
		MerchantCountry:  req.MerchantCountry,
	})
	if err != nil {
		h.writeServiceError(w, "authorize_card", err)
		return
	}
	h.writeJSON(w, http.StatusOK, decision)
}

// ownedCard loads the card named in the URL and verifies it belongs to the
// authenticated client.
func (h *LedgerHandlers) ownedCard(w http.ResponseWriter, r *http.Request) (*domain.Card, bool) {
	clientID, ok := GetAuthenticatedClientID(r.Context())
	if !ok {
		http.Error(w, "Could not get client ID from context", http.StatusInternalServerError)
		return nil, false
	}
	cardID := chi.URLParam(r, "cardID")
	card, err := h.service.GetCard(r.Context(), cardID)
	if err != nil {
		h.writeServiceError(w, "load_card", err)
		return nil, false
	}
	if card.ClientID != clientID {
		h.writeError(w, http.StatusNotFound, "card not found")
		return nil, false
	}
	return card, true
}
