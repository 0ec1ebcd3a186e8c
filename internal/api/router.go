/**
 * @description
 * This file sets up the HTTP router for the ledger-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies
 * middleware for logging, panic recovery, CORS, and authentication. Internal
 * routes (card network authorization, partner status relay) are keyed by the
 * shared internal API key instead of a client JWT.
 *
 * @dependencies
 * - net/http, time: Standard Go libraries.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for browser clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// LedgerRoutes creates and returns the router for the ledger service.
func LedgerRoutes(h *LedgerHandlers, jwksURL, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Client- and staff-facing routes require a valid JWT.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		// Accounts and the ledger.
		r.Post("/accounts", h.OpenAccountHandler)
		r.Get("/accounts", h.ListAccountsHandler)
		r.Get("/accounts/fdic-coverage", h.FDICCoverageHandler)
		r.Get("/accounts/{accountID}", h.GetAccountHandler)
		r.Put("/accounts/{accountID}/tier", h.UpgradeTierHandler)
		r.Post("/accounts/{accountID}/transactions", h.PostTransactionHandler)
		r.Get("/accounts/{accountID}/transactions", h.TransactionHistoryHandler)

		// P2P transfers.
		r.Post("/transfers", h.InitiateTransferHandler)
		r.Get("/transfers/{transferID}", h.GetTransferHandler)
		r.Post("/transfers/{transferID}/approve", h.ApproveTransferHandler)
		r.Post("/transfers/{transferID}/cancel", h.CancelTransferHandler)
		r.Get("/accounts/{accountID}/transfers", h.ListTransfersHandler)

		// Cards.
		r.Post("/accounts/{accountID}/cards", h.IssueCardHandler)
		r.Get("/accounts/{accountID}/cards", h.ListCardsHandler)
		r.Post("/cards/{cardID}/activate", h.ActivateCardHandler)
		r.Post("/cards/{cardID}/freeze", h.ToggleCardFreezeHandler)
		r.Post("/cards/{cardID}/cancel", h.CancelCardHandler)
		r.Put("/cards/{cardID}/controls", h.UpdateCardControlsHandler)
		r.Get("/cards/{cardID}/authorizations", h.CardAuthorizationHistoryHandler)

		// Refund transfers and advances.
		r.Post("/refund-transfers", h.SubmitRefundTransferHandler)
		r.Get("/refund-transfers/approval-queue", h.RefundApprovalQueueHandler)
		r.Get("/refund-transfers/return/{returnID}", h.RefundTransfersByReturnHandler)
		r.Get("/refund-transfers/{transferID}", h.GetRefundTransferHandler)
		r.Post("/refund-transfers/{transferID}/approve", h.ApproveRefundTransferHandler)
		r.Post("/refund-transfers/{transferID}/reject", h.RejectRefundTransferHandler)
		r.Post("/refund-advances", h.RequestRefundAdvanceHandler)
		r.Post("/refund-advances/{advanceID}/disburse", h.DisburseRefundAdvanceHandler)
	})

	// Internal service-to-service routes.
	r.Group(func(r chi.Router) {
		r.Use(InternalAPIKeyMiddleware(internalAPIKey))

		r.Post("/internal/card-authorizations", h.AuthorizeCardHandler)
		r.Post("/internal/transfers/{transferID}/process", h.ProcessTransferHandler)
		r.Post("/internal/refund-transfers/{transferID}/status", h.AdvanceRefundStatusHandler)
	})

	return r
}
