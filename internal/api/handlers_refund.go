/**
 * @description
 * HTTP handlers for the refund transfer workflow and refund advances. These
 * are staff-facing endpoints: the actor comes from the authenticated token,
 * and the service enforces permissions and segregation of duties.
 *
 * @dependencies
 * - encoding/json, net/http, strconv: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameter extraction.
 * - internal/app, internal/domain: For service logic and models.
 */

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rosstax/ledger-service/internal/app"
	"github.com/rosstax/ledger-service/internal/domain"
)

// SubmitRefundTransferHandler handles POST /refund-transfers.
func (h *LedgerHandlers) SubmitRefundTransferHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := GetAuthenticatedClientID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}

	var req struct {
		ReturnID      int64 `json:"return_id"`
		Amount        int64 `json:"amount"`
		Fee           int64 `json:"fee"`
		ClientConsent bool  `json:"client_consent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	transfer, err := h.service.SubmitRefundTransfer(r.Context(), app.SubmitRefundTransferParams{
		ReturnID:      req.ReturnID,
		Amount:        req.Amount,
		Fee:           req.Fee,
		SubmittedBy:   actorID,
		SubmitterType: "staff",
		ClientConsent: req.ClientConsent,
	})
	if err != nil {
		h.writeServiceError(w, "submit_refund_transfer", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, transfer)
}

// GetRefundTransferHandler handles GET /refund-transfers/{transferID},
// returning the transfer together with its audit timeline.
func (h *LedgerHandlers) GetRefundTransferHandler(w http.ResponseWriter, r *http.Request) {
	transferID := chi.URLParam(r, "transferID")
	transfer, timeline, err := h.service.GetRefundTransfer(r.Context(), transferID)
	if err != nil {
		h.writeServiceError(w, "get_refund_transfer", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"transfer": transfer,
		"timeline": timeline,
	})
}

// RefundTransfersByReturnHandler handles GET /refund-transfers/return/{returnID},
// listing every transfer raised for a tax return.
func (h *LedgerHandlers) RefundTransfersByReturnHandler(w http.ResponseWriter, r *http.Request) {
	returnID, err := strconv.ParseInt(chi.URLParam(r, "returnID"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid return ID")
		return
	}
	transfers, err := h.service.ListRefundTransfersForReturn(r.Context(), returnID)
	if err != nil {
		h.writeServiceError(w, "refund_transfers_by_return", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"transfers": transfers})
}

// RefundApprovalQueueHandler handles GET /refund-transfers/approval-queue.
func (h *LedgerHandlers) RefundApprovalQueueHandler(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	transfers, err := h.service.ListRefundApprovalQueue(r.Context(), limit, offset)
	if err != nil {
		h.writeServiceError(w, "refund_approval_queue", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"transfers": transfers})
}

// ApproveRefundTransferHandler handles POST /refund-transfers/{transferID}/approve.
func (h *LedgerHandlers) ApproveRefundTransferHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := GetAuthenticatedClientID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}
	transferID := chi.URLParam(r, "transferID")

	var req struct {
		Notes *string `json:"notes,omitempty"`
	}
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
			return
		}
	}

	approved, err := h.service.ApproveRefundTransfer(r.Context(), transferID, actorID, "staff", req.Notes)
	if err != nil {
		h.writeServiceError(w, "approve_refund_transfer", err)
		return
	}
	h.writeJSON(w, http.StatusOK, approved)
}

// RejectRefundTransferHandler handles POST /refund-transfers/{transferID}/reject.
func (h *LedgerHandlers) RejectRefundTransferHandler(w http.ResponseWriter, r *http.Request) {
	actorID, ok := GetAuthenticatedClientID(r.Context())
	if !ok {
		http.Error(w, "Could not get user ID from context", http.StatusInternalServerError)
		return
	}
	transferID := chi.URLParam(r, "transferID")

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	rejected, err := h.service.RejectRefundTransfer(r.Context(), transferID, actorID, "staff", req.Reason)
	if err != nil {
		h.writeServiceError(w, "reject_refund_transfer", err)
		return
	}
	h.writeJSON(w, http.StatusOK, rejected)
}

// AdvanceRefundStatusHandler handles POST /internal/refund-transfers/{transferID}/status.
// It is called by the partner-bank webhook relay to move a transfer along the
// settlement ladder.
func (h *LedgerHandlers) AdvanceRefundStatusHandler(w http.ResponseWriter, r *http.Request) {
	transferID := chi.URLParam(r, "transferID")

	var req struct {
		Status domain.RefundTransferStatus `json:"status"`
		Detail *string                     `json:"detail,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	updated, err := h.service.AdvanceRefundStatus(r.Context(), transferID, req.Status, "partner_webhook", req.Detail)
	if err != nil {
		h.writeServiceError(w, "advance_refund_status", err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// RequestRefundAdvanceHandler handles POST /refund-advances.
func (h *LedgerHandlers) RequestRefundAdvanceHandler(w http.ResponseWriter, r *http.Request) {
	clientID, ok := GetAuthenticatedClientID(r.Context())
	if !ok {
		http.Error(w, "Could not get client ID from context", http.StatusInternalServerError)
		return
	}

	var req struct {
		ReturnID       int64  `json:"return_id"`
		AccountID      string `json:"account_id"`
		ExpectedRefund int64  `json:"expected_refund"`
		Requested      int64  `json:"requested_amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	advance, err := h.service.RequestRefundAdvance(r.Context(), app.RequestRefundAdvanceParams{
		ClientID:       clientID,
		ReturnID:       req.ReturnID,
		AccountID:      req.AccountID,
		ExpectedRefund: req.ExpectedRefund,
		Requested:      req.Requested,
	})
	if err != nil {
		h.writeServiceError(w, "request_refund_advance", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, advance)
}

// DisburseRefundAdvanceHandler handles POST /refund-advances/{advanceID}/disburse.
func (h *LedgerHandlers) DisburseRefundAdvanceHandler(w http.ResponseWriter, r *http.Request) {
	advanceID := chi.URLParam(r, "advanceID")
	disbursed, err := h.service.DisburseRefundAdvance(r.Context(), advanceID)
	if err != nil {
		h.writeServiceError(w, "disburse_refund_advance", err)
		return
	}
	h.writeJSON(w, http.StatusOK, disbursed)
}
