/**
 * @description
 * P2P transfer orchestration: initiation with limit and fraud checks,
 * two-leg ledger processing with a compensating reversal, manual approval for
 * high-risk transfers, cancellation, and the stale-transfer expiry sweep.
 *
 * Concurrency notes:
 * - The velocity-limit check and the transfer insert run atomically in the
 *   store (`CreateTransferChecked`) while holding the sender's row lock.
 * - Posting is idempotent per (account, reference), so retrying a
 *   half-processed transfer cannot double-debit the sender.
 * - If the credit leg fails after the debit leg posted, the sender is made
 *   whole with a reversing credit under reference "<ref>-R" and the transfer
 *   is declined.
 *
 * @dependencies
 * - context, fmt, log, strings, time: Standard Go libraries.
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/rosstax/ledger-service/internal/domain"
	"github.com/rosstax/ledger-service/internal/store"
	"github.com/rosstax/ledger-service/pkg/rabbitmq"
)

const (
	// Transfer initiations allowed per sender account per minute.
	transferRateLimit       = 10
	transferRateLimitWindow = time.Minute

	// Pending transfers older than this are expired by the sweep.
	pendingTransferTTL = 72 * time.Hour
)

// InitiateTransferParams carries the inputs for starting a P2P transfer.
type InitiateTransferParams struct {
	SenderAccountID string
	SenderClientID  string
	// Recipient is an account id (mma_...), an email, or a phone number.
	Recipient     string
	Amount        int64 // in cents
	Description   string
	TransferType  domain.TransferType
	ScheduledDate *time.Time
}

// InitiateTransfer validates, scores, and creates a P2P transfer. Instant
// transfers that clear the risk checks are processed immediately; high-risk
// and scheduled transfers are left pending.
func (s *Service) InitiateTransfer(ctx context.Context, params InitiateTransferParams) (*domain.P2PTransfer, error) {
	// 1. Input validation.
	if params.Amount <= 0 {
		return nil, &domain.ValidationError{Field: "amount", Message: "amount must be a positive number of cents"}
	}
	recipientInput := strings.TrimSpace(params.Recipient)
	if recipientInput == "" {
		return nil, &domain.ValidationError{Field: "recipient", Message: "recipient is required"}
	}
	transferType := params.TransferType
	if transferType == "" {
		transferType = domain.TransferTypeInstant
	}
	if transferType == domain.TransferTypeScheduled && params.ScheduledDate == nil {
		return nil, &domain.ValidationError{Field: "scheduled_date", Message: "scheduled transfers require a scheduled_date"}
	}

	// 2. Per-account rate limit (distributed, best effort when Redis is down).
	if s.rateLimiter != nil {
		count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, "transfer_initiate", params.SenderAccountID, transferRateLimit, transferRateLimitWindow)
		if err != nil {
			log.Printf("level=warn component=transfer_orchestrator msg=\"rate limiter unavailable\" account_id=%s err=%v", params.SenderAccountID, err)
		} else if count > transferRateLimit {
			return nil, &domain.RateLimitedError{RetryAfterSeconds: retryAfter}
		}
	}

	// 3. Load the sender and resolve the recipient.
	sender, err := s.GetAccount(ctx, params.SenderAccountID)
	if err != nil {
		return nil, err
	}
	// Only the account owner may originate a debit from it. Report not-found
	// so account ids are not probeable.
	if sender.ClientID != params.SenderClientID {
		return nil, &domain.NotFoundError{Entity: "account", ID: params.SenderAccountID}
	}
	recipient, err := s.resolveRecipient(ctx, recipientInput)
	if err != nil {
		return nil, err
	}
	if recipient.Resolved() && recipient.AccountID == sender.ID {
		return nil, &domain.ValidationError{Field: "recipient", Message: "cannot transfer to the originating account"}
	}

	// 4. Score the transfer.
	stats, err := s.repo.SenderTransferStats(ctx, sender.ID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("failed to load sender history: %w", err)
	}
	now := time.Now()
	fraudScore := ScoreTransfer(RiskInput{
		Amount:        params.Amount,
		LifetimeCount: stats.LifetimeCount,
		RecipientNew:  !recipient.Resolved(),
		InitiatedAt:   now,
	})
	requiresApproval := RequiresApproval(fraudScore, params.Amount)

	// Unclaimed recipients hold the transfer pending until the contact claims
	// it; only resolved instant transfers start processing right away.
	status := domain.TransferStatusPending
	if !requiresApproval && transferType == domain.TransferTypeInstant && recipient.Resolved() {
		status = domain.TransferStatusProcessing
	}

	transfer := &domain.P2PTransfer{
		ID:               newEntityID("p2p"),
		SenderAccountID:  sender.ID,
		SenderClientID:   params.SenderClientID,
		Amount:           params.Amount,
		Description:      strings.TrimSpace(params.Description),
		ReferenceNumber:  NewReferenceNumber(),
		TransferType:     transferType,
		Status:           status,
		ScheduledDate:    params.ScheduledDate,
		FraudScore:       fraudScore,
		RequiresApproval: requiresApproval,
	}
	applyRecipient(transfer, recipient)

	// 5. The store checks funds and velocity limits under the sender row lock
	// and inserts the transfer in the same transaction.
	created, err := s.repo.CreateTransferChecked(ctx, transfer, domain.PolicyForTier(sender.AccountTier))
	if err != nil {
		switch err {
		case store.ErrInsufficientFunds:
			return nil, &domain.InsufficientFundsError{AccountID: sender.ID, Available: sender.AvailableBalance, Requested: params.Amount}
		case store.ErrAccountNotTransactable:
			return nil, &domain.StateConflictError{Entity: "account", ID: sender.ID, State: string(sender.Status), Message: "account is not in a transactable state"}
		}
		return nil, err
	}
	log.Printf("level=info component=transfer_orchestrator op=initiate transfer_id=%s sender=%s amount=%d fraud_score=%d requires_approval=%t status=%s",
		created.ID, created.SenderAccountID, created.Amount, created.FraudScore, created.RequiresApproval, created.Status)

	s.publishEvent(ctx, rabbitmq.LedgerEvent{
		EntityType: "transfer",
		EntityID:   created.ID,
		Action:     "initiated",
		ClientID:   created.SenderClientID,
		AccountID:  created.SenderAccountID,
		Amount:     created.Amount,
	})

	// 6. Execute immediately when nothing holds it back.
	if created.Status == domain.TransferStatusProcessing {
		processed, err := s.ProcessTransfer(ctx, created.ID)
		if err != nil {
			// The transfer row already records the decline; surface it.
			return processed, err
		}
		return processed, nil
	}
	return created, nil
}

// resolveRecipient maps the recipient input to an internal account or an
// unclaimed contact.
func (s *Service) resolveRecipient(ctx context.Context, input string) (domain.RecipientRef, error) {
	if strings.HasPrefix(input, "mma_") {
		account, err := s.repo.FindAccountByID(ctx, input)
		if err != nil {
			if err == store.ErrAccountNotFound {
				return domain.RecipientRef{}, &domain.NotFoundError{Entity: "recipient account", ID: input}
			}
			return domain.RecipientRef{}, err
		}
		return domain.InternalRecipient(account.ID, account.ClientID), nil
	}

	account, err := s.repo.LookupRecipientAccount(ctx, input)
	if err == store.ErrRecipientNotFound {
		// Unknown contact: hold the funds claimably instead of failing.
		return domain.UnclaimedRecipient(input), nil
	}
	if err != nil {
		return domain.RecipientRef{}, err
	}
	return domain.InternalRecipient(account.ID, account.ClientID), nil
}

func applyRecipient(transfer *domain.P2PTransfer, ref domain.RecipientRef) {
	switch ref.Kind {
	case domain.RecipientInternal:
		accountID, clientID := ref.AccountID, ref.ClientID
		transfer.RecipientAccountID = &accountID
		if clientID != "" {
			transfer.RecipientClientID = &clientID
		}
	case domain.RecipientUnclaimed:
		if ref.Email != "" {
			email := ref.Email
			transfer.RecipientEmail = &email
		}
		if ref.Phone != "" {
			phone := ref.Phone
			transfer.RecipientPhone = &phone
		}
	}
}

// ProcessTransfer executes the money movement for a transfer: debit the
// sender, credit the recipient, mark completed. Unheld pending transfers
// (scheduled runs, re-driven rows) are first promoted to processing under the
// guarded update; transfers held for approval are refused. A credit-leg
// failure triggers a compensating reversal of the debit.
func (s *Service) ProcessTransfer(ctx context.Context, transferID string) (*domain.P2PTransfer, error) {
	transfer, err := s.repo.FindTransferByID(ctx, transferID)
	if err != nil {
		if err == store.ErrTransferNotFound {
			return nil, &domain.NotFoundError{Entity: "transfer", ID: transferID}
		}
		return nil, err
	}
	recipient := transfer.Recipient()
	if !recipient.Resolved() {
		// An unclaimed transfer is not an error; it stays pending until the
		// contact claims it or the expiry sweep collects it.
		return nil, &domain.StateConflictError{
			Entity:  "transfer",
			ID:      transferID,
			State:   string(transfer.Status),
			Message: "recipient has not claimed the transfer",
		}
	}

	switch transfer.Status {
	case domain.TransferStatusProcessing:
		// Already released for processing.
	case domain.TransferStatusPending:
		// Held transfers must go through ApproveTransfer; anything else
		// (scheduled transfers, re-driven rows) is promoted under the guarded
		// update so two processors cannot both pick it up.
		if transfer.RequiresApproval {
			return nil, &domain.StateConflictError{
				Entity:  "transfer",
				ID:      transferID,
				State:   string(transfer.Status),
				Message: "transfer is awaiting approval",
			}
		}
		promoted, err := s.repo.UpdateTransferStatus(ctx, transfer.ID, domain.TransferStatusPending, domain.TransferStatusProcessing, nil)
		if err != nil {
			if err == store.ErrStaleStatus {
				return nil, &domain.StateConflictError{Entity: "transfer", ID: transferID, State: string(transfer.Status), Message: "transfer state changed before processing"}
			}
			return nil, err
		}
		transfer = promoted
	default:
		return nil, &domain.StateConflictError{
			Entity:  "transfer",
			ID:      transferID,
			State:   string(transfer.Status),
			Message: fmt.Sprintf("transfer cannot be processed (status: %s)", transfer.Status),
		}
	}

	// 1. Debit leg. Idempotent under the transfer's reference number.
	debitDescription := fmt.Sprintf("P2P Transfer to %s", recipient.AccountID)
	_, err = s.repo.PostTransaction(ctx, transfer.SenderAccountID, domain.TransactionDraft{
		Type:               domain.TransactionTypeP2P,
		Amount:             transfer.Amount,
		Description:        debitDescription,
		ReferenceNumber:    transfer.ReferenceNumber,
		DestinationAccount: &recipient.AccountID,
		Status:             domain.TransactionStatusPosted,
	})
	if err != nil {
		reason := declineReasonForPostingError(err)
		return s.declineTransfer(ctx, transfer, reason)
	}

	// 2. Credit leg. Same reference, opposite direction, posted to the
	// recipient's account.
	creditDescription := fmt.Sprintf("P2P Transfer from %s", transfer.SenderAccountID)
	_, err = s.repo.PostTransaction(ctx, recipient.AccountID, domain.TransactionDraft{
		Type:            domain.TransactionTypeP2P,
		Amount:          transfer.Amount,
		Description:     creditDescription,
		ReferenceNumber: transfer.ReferenceNumber,
		SourceAccount:   &transfer.SenderAccountID,
		Direction:       domain.DirectionCredit,
		Status:          domain.TransactionStatusPosted,
	})
	if err != nil {
		// 2a. Compensating reversal: return the debited funds to the sender.
		reversalRef := transfer.ReferenceNumber + "-R"
		_, reversalErr := s.repo.PostTransaction(ctx, transfer.SenderAccountID, domain.TransactionDraft{
			Type:            domain.TransactionTypeP2P,
			Amount:          transfer.Amount,
			Description:     fmt.Sprintf("Reversal of transfer %s", transfer.ReferenceNumber),
			ReferenceNumber: reversalRef,
			Direction:       domain.DirectionCredit,
			Status:          domain.TransactionStatusPosted,
		})
		if reversalErr != nil {
			log.Printf("level=error component=transfer_orchestrator msg=\"CRITICAL: compensating reversal failed; sender debited without credit\" transfer_id=%s sender=%s reference=%s err=%v",
				transfer.ID, transfer.SenderAccountID, reversalRef, reversalErr)
		}
		reason := "Credit to recipient failed: " + declineReasonForPostingError(err)
		return s.declineTransfer(ctx, transfer, reason)
	}

	// 3. Finalize.
	completed, err := s.repo.UpdateTransferStatus(ctx, transfer.ID, domain.TransferStatusProcessing, domain.TransferStatusCompleted, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to mark transfer completed: %w", err)
	}
	log.Printf("level=info component=transfer_orchestrator op=process transfer_id=%s status=completed amount=%d", completed.ID, completed.Amount)

	s.publishEvent(ctx, rabbitmq.LedgerEvent{
		EntityType: "transfer",
		EntityID:   completed.ID,
		Action:     "completed",
		ClientID:   completed.SenderClientID,
		AccountID:  completed.SenderAccountID,
		Amount:     completed.Amount,
	})
	return completed, nil
}

func declineReasonForPostingError(err error) string {
	switch err {
	case store.ErrInsufficientFunds:
		return "Insufficient funds"
	case store.ErrAccountNotTransactable:
		return "Account is not in a transactable state"
	case store.ErrAccountNotFound:
		return "Account not found"
	}
	return err.Error()
}

func (s *Service) declineTransfer(ctx context.Context, transfer *domain.P2PTransfer, reason string) (*domain.P2PTransfer, error) {
	declined, err := s.repo.UpdateTransferStatus(ctx, transfer.ID, transfer.Status, domain.TransferStatusDeclined, &reason)
	if err != nil {
		log.Printf("level=error component=transfer_orchestrator msg=\"failed to record decline\" transfer_id=%s reason=%q err=%v", transfer.ID, reason, err)
		return nil, err
	}
	log.Printf("level=info component=transfer_orchestrator op=decline transfer_id=%s reason=%q", transfer.ID, reason)

	s.publishEvent(ctx, rabbitmq.LedgerEvent{
		EntityType: "transfer",
		EntityID:   declined.ID,
		Action:     "declined",
		ClientID:   declined.SenderClientID,
		AccountID:  declined.SenderAccountID,
		Amount:     declined.Amount,
		Detail:     reason,
	})
	return declined, &domain.PolicyDeclineError{Reason: reason}
}

// ApproveTransfer releases a held transfer for processing. Only transfers
// flagged requires_approval and still pending can be approved.
func (s *Service) ApproveTransfer(ctx context.Context, transferID, approverID string) (*domain.P2PTransfer, error) {
	if strings.TrimSpace(approverID) == "" {
		return nil, &domain.ValidationError{Field: "approver_id", Message: "approver_id is required"}
	}
	transfer, err := s.repo.FindTransferByID(ctx, transferID)
	if err != nil {
		if err == store.ErrTransferNotFound {
			return nil, &domain.NotFoundError{Entity: "transfer", ID: transferID}
		}
		return nil, err
	}
	// The transfer's own sender cannot clear their own risk hold.
	if approverID == transfer.SenderClientID {
		return nil, &domain.SegregationOfDutiesError{ActorID: approverID}
	}

	approved, err := s.repo.ApproveTransfer(ctx, transferID, approverID)
	if err != nil {
		if err == store.ErrStaleStatus {
			return nil, &domain.StateConflictError{Entity: "transfer", ID: transferID, State: string(transfer.Status), Message: "transfer is not awaiting approval"}
		}
		return nil, err
	}
	log.Printf("level=info component=transfer_orchestrator op=approve transfer_id=%s approver=%s", transferID, approverID)

	return s.ProcessTransfer(ctx, approved.ID)
}

// CancelTransfer cancels a transfer that has not begun processing.
func (s *Service) CancelTransfer(ctx context.Context, transferID, requesterClientID string) (*domain.P2PTransfer, error) {
	transfer, err := s.repo.FindTransferByID(ctx, transferID)
	if err != nil {
		if err == store.ErrTransferNotFound {
			return nil, &domain.NotFoundError{Entity: "transfer", ID: transferID}
		}
		return nil, err
	}
	if transfer.SenderClientID != requesterClientID {
		return nil, &domain.ValidationError{Field: "transfer_id", Message: "only the sender may cancel a transfer"}
	}
	if !domain.CanTransitionTransfer(transfer.Status, domain.TransferStatusCancelled) {
		return nil, &domain.StateConflictError{
			Entity:  "transfer",
			ID:      transferID,
			State:   string(transfer.Status),
			Message: fmt.Sprintf("transfer cannot be cancelled (status: %s)", transfer.Status),
		}
	}

	cancelled, err := s.repo.UpdateTransferStatus(ctx, transferID, transfer.Status, domain.TransferStatusCancelled, nil)
	if err != nil {
		if err == store.ErrStaleStatus {
			return nil, &domain.StateConflictError{Entity: "transfer", ID: transferID, State: string(transfer.Status), Message: "transfer state changed during cancellation"}
		}
		return nil, err
	}
	log.Printf("level=info component=transfer_orchestrator op=cancel transfer_id=%s", transferID)

	s.publishEvent(ctx, rabbitmq.LedgerEvent{
		EntityType: "transfer",
		EntityID:   cancelled.ID,
		Action:     "cancelled",
		ClientID:   cancelled.SenderClientID,
		AccountID:  cancelled.SenderAccountID,
	})
	return cancelled, nil
}

// GetTransfer retrieves one transfer.
func (s *Service) GetTransfer(ctx context.Context, transferID string) (*domain.P2PTransfer, error) {
	transfer, err := s.repo.FindTransferByID(ctx, transferID)
	if err == store.ErrTransferNotFound {
		return nil, &domain.NotFoundError{Entity: "transfer", ID: transferID}
	}
	return transfer, err
}

// ListAccountTransfers lists a sender's transfers, newest first.
func (s *Service) ListAccountTransfers(ctx context.Context, accountID string, limit, offset int) ([]domain.P2PTransfer, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.FindTransfersBySenderAccount(ctx, accountID, limit, offset)
}

// ExpirePendingTransfers sweeps pending transfers older than the TTL. It is
// invoked on a schedule from the service entrypoint.
func (s *Service) ExpirePendingTransfers(ctx context.Context) {
	cutoff := time.Now().Add(-pendingTransferTTL)
	expired, err := s.repo.ExpireStaleTransfers(ctx, cutoff)
	if err != nil {
		log.Printf("level=error component=transfer_orchestrator op=expire_sweep msg=\"sweep failed\" err=%v", err)
		return
	}
	if len(expired) == 0 {
		return
	}
	log.Printf("level=info component=transfer_orchestrator op=expire_sweep expired=%d cutoff=%s", len(expired), cutoff.UTC().Format(time.RFC3339))
	for _, transfer := range expired {
		s.publishEvent(ctx, rabbitmq.LedgerEvent{
			EntityType: "transfer",
			EntityID:   transfer.ID,
			Action:     "expired",
			ClientID:   transfer.SenderClientID,
			AccountID:  transfer.SenderAccountID,
			Amount:     transfer.Amount,
		})
	}
}
