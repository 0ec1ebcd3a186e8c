/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the ledger-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * The interface also declares the atomicity guarantees the application layer relies on:
 * `PostTransaction` and `CreateTransferChecked` must run their balance read, limit
 * evaluation, and writes inside a single database transaction while holding a row lock
 * on the affected account, so concurrent postings cannot overdraw a balance or slip
 * past a velocity limit between check and write.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/rosstax/ledger-service/internal/domain"
)

// Sentinel errors returned by repository implementations. The application layer
// maps these onto domain error types where a richer payload is needed.
var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrTransferNotFound       = errors.New("transfer not found")
	ErrCardNotFound           = errors.New("card not found")
	ErrAuthorizationNotFound  = errors.New("authorization not found")
	ErrRefundTransferNotFound = errors.New("refund transfer not found")
	ErrRefundAdvanceNotFound  = errors.New("refund advance not found")
	ErrRecipientNotFound      = errors.New("recipient not found")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrAccountNotTransactable = errors.New("account is not in a transactable state")
	ErrStaleStatus            = errors.New("entity is no longer in the expected status")
	ErrActiveRefundExists     = errors.New("an active refund transfer already exists for this return")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Account methods
	CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error)
	FindAccountByID(ctx context.Context, accountID string) (*domain.Account, error)
	FindAccountsByClientID(ctx context.Context, clientID string) ([]domain.Account, error)
	// UpdateAccountTier moves an account to a new tier and records the moment it happened.
	UpdateAccountTier(ctx context.Context, accountID string, tier domain.AccountTier) (*domain.Account, error)
	UpdateAccountStatus(ctx context.Context, accountID string, status domain.AccountStatus) error
	// ListActiveAccounts pages through active accounts for batch jobs such as
	// the monthly interest and fee run.
	ListActiveAccounts(ctx context.Context, limit, offset int) ([]domain.Account, error)

	// Transaction methods.
	//
	// PostTransaction locks the account row, verifies the account is transactable,
	// applies the draft's signed delta against the available balance (honoring the
	// tier's overdraft allowance), and inserts the transaction with its balance_after
	// snapshot. Posting the same (account_id, reference_number) twice returns the
	// already-posted transaction instead of applying the delta again.
	PostTransaction(ctx context.Context, accountID string, draft domain.TransactionDraft) (*domain.Transaction, error)
	FindTransactionByID(ctx context.Context, transactionID string) (*domain.Transaction, error)
	FindTransactionsByAccountID(ctx context.Context, accountID string, limit, offset int) ([]domain.Transaction, error)
	FindTransactionByReference(ctx context.Context, accountID, referenceNumber string) (*domain.Transaction, error)

	// Transfer methods.
	//
	// CreateTransferChecked is the single authorization point for outbound transfers:
	// inside one database transaction it locks the sender account, sums the sender's
	// pending+processing+completed transfers for the current day and month, evaluates
	// the tier's velocity limits, and inserts the transfer row. Two concurrent
	// initiations therefore serialize on the sender row and the second sees the
	// first's totals.
	CreateTransferChecked(ctx context.Context, transfer *domain.P2PTransfer, policy domain.TierPolicy) (*domain.P2PTransfer, error)
	FindTransferByID(ctx context.Context, transferID string) (*domain.P2PTransfer, error)
	FindTransfersBySenderAccount(ctx context.Context, accountID string, limit, offset int) ([]domain.P2PTransfer, error)
	// UpdateTransferStatus performs a guarded transition: the row is updated only if
	// it is still in fromStatus, otherwise ErrStaleStatus is returned.
	UpdateTransferStatus(ctx context.Context, transferID string, fromStatus, toStatus domain.TransferStatus, declineReason *string) (*domain.P2PTransfer, error)
	ApproveTransfer(ctx context.Context, transferID, approverID string) (*domain.P2PTransfer, error)
	SenderTransferStats(ctx context.Context, accountID string, since time.Time) (*domain.SenderStats, error)
	// LookupRecipientAccount resolves an email or phone contact to an active internal
	// account, if the contact belongs to a registered client.
	LookupRecipientAccount(ctx context.Context, contact string) (*domain.Account, error)
	// ExpireStaleTransfers marks pending transfers older than the cutoff as expired
	// and returns them so the caller can release any held funds.
	ExpireStaleTransfers(ctx context.Context, cutoff time.Time) ([]domain.P2PTransfer, error)

	// Card methods
	CreateCard(ctx context.Context, card *domain.Card) (*domain.Card, error)
	FindCardByID(ctx context.Context, cardID string) (*domain.Card, error)
	FindCardsByAccountID(ctx context.Context, accountID string) ([]domain.Card, error)
	// FindActiveCardByLast4 resolves an authorization request's card_last4 to
	// the active card carrying it.
	FindActiveCardByLast4(ctx context.Context, cardLast4 string) (*domain.Card, error)
	UpdateCardStatus(ctx context.Context, cardID string, fromStatus, toStatus domain.CardStatus) (*domain.Card, error)
	UpdateCardControls(ctx context.Context, cardID string, controls domain.CardControls) (*domain.Card, error)
	// CardAuthorizationTotals returns the sum of approved authorizations for the card
	// since the start of the current day (card-local daily spend).
	CardAuthorizationTotals(ctx context.Context, cardID string, since time.Time) (int64, error)
	// CreateCardAuthorization records an authorization decision. Declines are recorded
	// without touching any balance. Approvals must be created through
	// ApproveAuthorizationWithPosting so the hold and the decision commit together.
	CreateCardAuthorization(ctx context.Context, auth *domain.CardAuthorization) (*domain.CardAuthorization, error)
	// ApproveAuthorizationWithPosting inserts the approved authorization and posts the
	// corresponding card transaction against the funding account in one database
	// transaction, holding the account row lock for the balance check.
	ApproveAuthorizationWithPosting(ctx context.Context, auth *domain.CardAuthorization, draft domain.TransactionDraft) (*domain.CardAuthorization, *domain.Transaction, error)
	FindAuthorizationsByCardID(ctx context.Context, cardID string, limit, offset int) ([]domain.CardAuthorization, error)

	// Refund transfer methods
	CreateRefundTransfer(ctx context.Context, rt *domain.RefundTransfer) (*domain.RefundTransfer, error)
	FindRefundTransferByID(ctx context.Context, refundID string) (*domain.RefundTransfer, error)
	FindRefundTransfersByReturnID(ctx context.Context, returnID int64) ([]domain.RefundTransfer, error)
	ListRefundTransfersByStatus(ctx context.Context, status domain.RefundTransferStatus, limit, offset int) ([]domain.RefundTransfer, error)
	ApproveRefundTransfer(ctx context.Context, refundID, approverID string, notes *string) (*domain.RefundTransfer, error)
	// UpdateRefundStatus performs a guarded transition and appends the matching
	// timeline event atomically.
	UpdateRefundStatus(ctx context.Context, refundID string, fromStatus, toStatus domain.RefundTransferStatus, actorID string, detail *string) (*domain.RefundTransfer, error)
	AppendTimelineEvent(ctx context.Context, event *domain.TimelineEvent) error
	ListTimeline(ctx context.Context, refundID string) ([]domain.TimelineEvent, error)

	// Refund advance methods
	CreateRefundAdvance(ctx context.Context, adv *domain.RefundAdvance) (*domain.RefundAdvance, error)
	FindRefundAdvanceByID(ctx context.Context, advanceID string) (*domain.RefundAdvance, error)
	UpdateRefundAdvanceStatus(ctx context.Context, advanceID string, fromStatus, toStatus domain.RefundAdvanceStatus, decidedBy *string) (*domain.RefundAdvance, error)
}
