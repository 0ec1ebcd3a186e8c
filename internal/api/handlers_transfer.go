/**
 * @description
 * HTTP handlers for the P2P transfer endpoints: initiation, retrieval,
 * listing, manual approval of held transfers, and cancellation.
 *
 * @dependencies
 * - encoding/json, net/http, time: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameter extraction.
 * - internal/app, internal/domain: For service logic and models.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rosstax/ledger-service/internal/app"
	"github.com/rosstax/ledger-service/internal/domain"
)

// InitiateTransferHandler handles POST /transfers.
func (h *LedgerHandlers) InitiateTransferHandler(w http.ResponseWriter, r *http.Request) {
	clientID, ok := GetAuthenticatedClientID(r.Context())
	if !ok {
		http.Error(w, "Could not get client ID from context", http.StatusInternalServerError)
		return
	}

	var req struct {
		SenderAccountID string              `json:"sender_account_id"`
		Recipient       string              `json:"recipient"`
		Amount          int64               `json:"amount"`
		Description     string              `json:"description"`
		TransferType    domain.TransferType `json:"transfer_type"`
		ScheduledDate   *time.Time          `json:"scheduled_date,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	transfer, err := h.service.InitiateTransfer(r.Context(), app.InitiateTransferParams{
		SenderAccountID: req.SenderAccountID,
		SenderClientID:  clientID,
		Recipient:       req.Recipient,
		Amount:          req.Amount,
		Description:     req.Description,
		TransferType:    req.TransferType,
		ScheduledDate:   req.ScheduledDate,
	})
	if err != nil {
		// A declined transfer still carries the persisted transfer row; return
		// it alongside the decline so the client sees the reason and reference.
		var declineErr *domain.PolicyDeclineError
		if errors.As(err, &declineErr) && transfer != nil {
			h.writeJSON(w, http.StatusUnprocessableEntity, transfer)
			return
		}
		h.writeServiceError(w, "initiate_transfer", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, transfer)
}

// GetTransferHandler handles GET /transfers/{transferID}.
func (h *LedgerHandlers) GetTransferHandler(w http.ResponseWriter, r *http.Request) {
	transfer, ok := h.ownedTransfer(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, transfer)
}

// ListTransfersHandler handles GET /accounts/{accountID}/transfers.
func (h *LedgerHandlers) ListTransfersHandler(w http.ResponseWriter, r *http.Request) {
	account, ok := h.ownedAccount(w, r)
	if !ok {
		return
	}
	limit, offset := pagination(r)
	transfers, err := h.service.ListAccountTransfers(r.Context(), account.ID, limit, offset)
	if err != nil {
		h.writeServiceError(w, "list_transfers", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"transfers": transfers})
}

// ApproveTransferHandler handles POST /transfers/{transferID}/approve. The
// approver is the authenticated client, which the service holds against the
// sender for segregation of duties.
func (h *LedgerHandlers) ApproveTransferHandler(w http.ResponseWriter, r *http.Request) {
	approverID, ok := GetAuthenticatedClientID(r.Context())
	if !ok {
		http.Error(w, "Could not get client ID from context", http.StatusInternalServerError)
		return
	}
	transferID := chi.URLParam(r, "transferID")

	approved, err := h.service.ApproveTransfer(r.Context(), transferID, approverID)
	if err != nil {
		var declineErr *domain.PolicyDeclineError
		if errors.As(err, &declineErr) && approved != nil {
			h.writeJSON(w, http.StatusUnprocessableEntity, approved)
			return
		}
		h.writeServiceError(w, "approve_transfer", err)
		return
	}
	h.writeJSON(w, http.StatusOK, approved)
}

// CancelTransferHandler handles POST /transfers/{transferID}/cancel.
func (h *LedgerHandlers) CancelTransferHandler(w http.ResponseWriter, r *http.Request) {
	clientID, ok := GetAuthenticatedClientID(r.Context())
	if !ok {
		http.Error(w, "Could not get client ID from context", http.StatusInternalServerError)
		return
	}
	transferID := chi.URLParam(r, "transferID")

	cancelled, err := h.service.CancelTransfer(r.Context(), transferID, clientID)
	if err != nil {
		h.writeServiceError(w, "cancel_transfer", err)
		return
	}
	h.writeJSON(w, http.StatusOK, cancelled)
}

// ProcessTransferHandler handles POST /internal/transfers/{transferID}/process.
// Internal re-drive endpoint for transfers stuck in processing, e.g. after a
// crash between status update and posting.
func (h *LedgerHandlers) ProcessTransferHandler(w http.ResponseWriter, r *http.Request) {
	transferID := chi.URLParam(r, "transferID")

	processed, err := h.service.ProcessTransfer(r.Context(), transferID)
	if err != nil {
		var declineErr *domain.PolicyDeclineError
		if errors.As(err, &declineErr) && processed != nil {
			h.writeJSON(w, http.StatusUnprocessableEntity, processed)
			return
		}
		h.writeServiceError(w, "process_transfer", err)
		return
	}
	h.writeJSON(w, http.StatusOK, processed)
}

// ownedTransfer loads the transfer named in the URL and verifies the
// authenticated client is the sender or the recipient.
func (h *LedgerHandlers) ownedTransfer(w http.ResponseWriter, r *http.Request) (*domain.P2PTransfer, bool) {
	clientID, ok := GetAuthenticatedClientID(r.Context())
	if !ok {
		http.Error(w, "Could not get client ID from context", http.StatusInternalServerError)
		return nil, false
	}
	transferID := chi.URLParam(r, "transferID")
	transfer, err := h.service.GetTransfer(r.Context(), transferID)
	if err != nil {
		h.writeServiceError(w, "load_transfer", err)
		return nil, false
	}
	if transfer.SenderClientID != clientID &&
		(transfer.RecipientClientID == nil || *transfer.RecipientClientID != clientID) {
		h.writeError(w, http.StatusNotFound, "transfer not found")
		return nil, false
	}
	return transfer, true
}
