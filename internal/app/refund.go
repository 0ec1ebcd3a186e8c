/**
 * @description
 * The refund transfer approval workflow and refund advance decisioning.
 *
 * Refund transfers move a client's federal refund through a partner bank so
 * preparation fees come out of the refund instead of being paid up front.
 * The flow is: preparer submits (with client consent) -> supervisor approves
 * -> submitted to the partner bank -> IRS acceptance -> funds released ->
 * completed. Two controls are enforced here rather than in handlers:
 * segregation of duties (the submitter can never approve their own
 * submission, whatever their role) and the one-active-transfer-per-return
 * rule (enforced in the store under the insert transaction).
 *
 * Refund advances are zero-fee loans against an expected refund, capped at
 * $3,500; requests at or under the cap auto-approve.
 *
 * @dependencies
 * - context, fmt, log, strings: Standard Go libraries.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/bankpartner, pkg/iamclient: Partner submission and permission checks.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/rosstax/ledger-service/internal/domain"
	"github.com/rosstax/ledger-service/internal/store"
	"github.com/rosstax/ledger-service/pkg/bankpartner"
	"github.com/rosstax/ledger-service/pkg/rabbitmq"
)

// IAM permissions consulted by the refund workflow.
const (
	PermSubmitRefundTransfer  = "preparer:submit_refund_transfer"
	PermApproveRefundTransfer = "supervisor:approve_refund_transfer"
)

// hasPermission consults the iam-service. With no client configured (local
// development), permission checks pass.
func (s *Service) hasPermission(ctx context.Context, userID, userType, permission string) (bool, error) {
	if s.iamClient == nil {
		return true, nil
	}
	return s.iamClient.HasPermission(ctx, userID, userType, permission)
}

// SubmitRefundTransferParams carries the preparer's submission.
type SubmitRefundTransferParams struct {
	ReturnID      int64
	Amount        int64 // in cents
	Fee           int64 // in cents
	SubmittedBy   string
	SubmitterType string
	ClientConsent bool
}

// SubmitRefundTransfer opens a refund transfer for supervisor approval.
func (s *Service) SubmitRefundTransfer(ctx context.Context, params SubmitRefundTransferParams) (*domain.RefundTransfer, error) {
	// 1. Field validation.
	if params.ReturnID <= 0 {
		return nil, &domain.ValidationError{Field: "return_id", Message: "return_id is required"}
	}
	if params.Amount <= 0 {
		return nil, &domain.ValidationError{Field: "amount", Message: "amount must be a positive number of cents"}
	}
	if params.Fee < 0 || params.Fee >= params.Amount {
		return nil, &domain.ValidationError{Field: "fee", Message: "fee must be non-negative and less than the refund amount"}
	}
	if !params.ClientConsent {
		return nil, &domain.ValidationError{Field: "client_consent", Message: "documented client consent is required"}
	}

	// 2. Permission check.
	allowed, err := s.hasPermission(ctx, params.SubmittedBy, params.SubmitterType, PermSubmitRefundTransfer)
	if err != nil {
		return nil, fmt.Errorf("permission check failed: %w", err)
	}
	if !allowed {
		return nil, &domain.PolicyDeclineError{Reason: "Only staff can submit refund transfers"}
	}

	// 3. Create; the store rejects a second active transfer for the return.
	transfer := &domain.RefundTransfer{
		ID:            "rt-" + randomDigits(13),
		ReturnID:      params.ReturnID,
		Amount:        params.Amount,
		Fee:           params.Fee,
		PartnerBank:   s.partnerBankName,
		Status:        domain.RefundStatusPendingApproval,
		SubmittedBy:   params.SubmittedBy,
		ClientConsent: true,
	}
	created, err := s.repo.CreateRefundTransfer(ctx, transfer)
	if err != nil {
		if err == store.ErrActiveRefundExists {
			return nil, &domain.StateConflictError{
				Entity:  "refund_transfer",
				ID:      fmt.Sprintf("return:%d", params.ReturnID),
				State:   "active",
				Message: "Refund transfer already exists for this return",
			}
		}
		return nil, fmt.Errorf("failed to create refund transfer: %w", err)
	}
	log.Printf("level=info component=refund_workflow op=submit transfer_id=%s return_id=%d amount=%d fee=%d submitted_by=%s",
		created.ID, created.ReturnID, created.Amount, created.Fee, created.SubmittedBy)

	s.publishEvent(ctx, rabbitmq.LedgerEvent{
		EntityType: "refund_transfer",
		EntityID:   created.ID,
		Action:     "submitted",
		Amount:     created.Amount,
	})
	return created, nil
}

// ApproveRefundTransfer records the supervisor decision and submits the
// transfer to the partner bank. The submitter can never approve their own
// submission, regardless of role.
func (s *Service) ApproveRefundTransfer(ctx context.Context, transferID, approverID, approverType string, notes *string) (*domain.RefundTransfer, error) {
	transfer, err := s.getRefundTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}

	// 1. Permission, then segregation of duties. SoD applies even to users
	// who hold both submit and approve permissions.
	allowed, err := s.hasPermission(ctx, approverID, approverType, PermApproveRefundTransfer)
	if err != nil {
		return nil, fmt.Errorf("permission check failed: %w", err)
	}
	if !allowed {
		return nil, &domain.PolicyDeclineError{Reason: "Only supervisors can approve refund transfers"}
	}
	if transfer.SubmittedBy == approverID {
		return nil, &domain.SegregationOfDutiesError{ActorID: approverID}
	}
	if transfer.Status != domain.RefundStatusPendingApproval {
		return nil, &domain.StateConflictError{
			Entity:  "refund_transfer",
			ID:      transferID,
			State:   string(transfer.Status),
			Message: fmt.Sprintf("Cannot approve transfer in status: %s", transfer.Status),
		}
	}

	// 2. Record the approval.
	approved, err := s.repo.ApproveRefundTransfer(ctx, transferID, approverID, notes)
	if err != nil {
		if err == store.ErrStaleStatus {
			return nil, &domain.StateConflictError{Entity: "refund_transfer", ID: transferID, State: string(transfer.Status), Message: "transfer state changed during approval"}
		}
		return nil, err
	}
	log.Printf("level=info component=refund_workflow op=approve transfer_id=%s approved_by=%s", transferID, approverID)

	s.publishEvent(ctx, rabbitmq.LedgerEvent{
		EntityType: "refund_transfer",
		EntityID:   transferID,
		Action:     "approved",
		Amount:     approved.Amount,
	})

	// 3. Submit to the partner bank. A partner outage leaves the transfer
	// approved; the next approval-queue run can resubmit.
	if s.partnerClient != nil {
		submitted, err := s.submitToPartner(ctx, approved)
		if err != nil {
			log.Printf("level=warn component=refund_workflow msg=\"partner submission failed; transfer remains approved\" transfer_id=%s err=%v", transferID, err)
			return approved, nil
		}
		return submitted, nil
	}
	return approved, nil
}

func (s *Service) submitToPartner(ctx context.Context, transfer *domain.RefundTransfer) (*domain.RefundTransfer, error) {
	_, err := s.partnerClient.SubmitRefundTransfer(ctx, bankpartner.SubmitTransferRequest{
		TransferID:  transfer.ID,
		ReturnID:    transfer.ReturnID,
		Amount:      transfer.Amount,
		Fee:         transfer.Fee,
		PartnerBank: transfer.PartnerBank,
	})
	if err != nil {
		return nil, err
	}
	detail := fmt.Sprintf("Submitted to partner bank (%s)", transfer.PartnerBank)
	return s.repo.UpdateRefundStatus(ctx, transfer.ID, domain.RefundStatusApproved, domain.RefundStatusSubmittedToPartner, "system", &detail)
}

// AdvanceRefundStatus moves a transfer one step along the settlement ladder
// (submitted_to_partner -> irs_accepted -> funds_released -> completed).
// Invalid jumps are rejected against the transition table.
func (s *Service) AdvanceRefundStatus(ctx context.Context, transferID string, target domain.RefundTransferStatus, actorID string, detail *string) (*domain.RefundTransfer, error) {
	transfer, err := s.getRefundTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransitionRefund(transfer.Status, target) {
		return nil, &domain.StateConflictError{
			Entity:  "refund_transfer",
			ID:      transferID,
			State:   string(transfer.Status),
			Message: fmt.Sprintf("cannot move refund transfer from %s to %s", transfer.Status, target),
		}
	}

	updated, err := s.repo.UpdateRefundStatus(ctx, transferID, transfer.Status, target, actorID, detail)
	if err != nil {
		if err == store.ErrStaleStatus {
			return nil, &domain.StateConflictError{Entity: "refund_transfer", ID: transferID, State: string(transfer.Status), Message: "transfer state changed during update"}
		}
		return nil, err
	}
	log.Printf("level=info component=refund_workflow op=advance transfer_id=%s from=%s to=%s", transferID, transfer.Status, target)

	s.publishEvent(ctx, rabbitmq.LedgerEvent{
		EntityType: "refund_transfer",
		EntityID:   transferID,
		Action:     string(target),
		Amount:     updated.Amount,
	})
	return updated, nil
}

// RejectRefundTransfer declines a transfer with a documented reason.
func (s *Service) RejectRefundTransfer(ctx context.Context, transferID, actorID, actorType, reason string) (*domain.RefundTransfer, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, &domain.ValidationError{Field: "reason", Message: "a rejection reason is required"}
	}
	allowed, err := s.hasPermission(ctx, actorID, actorType, PermApproveRefundTransfer)
	if err != nil {
		return nil, fmt.Errorf("permission check failed: %w", err)
	}
	if !allowed {
		return nil, &domain.PolicyDeclineError{Reason: "Only supervisors can reject refund transfers"}
	}
	transfer, err := s.getRefundTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransitionRefund(transfer.Status, domain.RefundStatusRejected) {
		return nil, &domain.StateConflictError{
			Entity:  "refund_transfer",
			ID:      transferID,
			State:   string(transfer.Status),
			Message: fmt.Sprintf("cannot reject transfer in status: %s", transfer.Status),
		}
	}
	return s.repo.UpdateRefundStatus(ctx, transferID, transfer.Status, domain.RefundStatusRejected, actorID, &reason)
}

// GetRefundTransfer retrieves a transfer together with its timeline.
func (s *Service) GetRefundTransfer(ctx context.Context, transferID string) (*domain.RefundTransfer, []domain.TimelineEvent, error) {
	transfer, err := s.getRefundTransfer(ctx, transferID)
	if err != nil {
		return nil, nil, err
	}
	timeline, err := s.repo.ListTimeline(ctx, transferID)
	if err != nil {
		return nil, nil, err
	}
	return transfer, timeline, nil
}

func (s *Service) getRefundTransfer(ctx context.Context, transferID string) (*domain.RefundTransfer, error) {
	transfer, err := s.repo.FindRefundTransferByID(ctx, transferID)
	if err == store.ErrRefundTransferNotFound {
		return nil, &domain.NotFoundError{Entity: "refund_transfer", ID: transferID}
	}
	return transfer, err
}

// ListRefundTransfersForReturn returns every refund transfer ever raised for
// a tax return, newest first.
func (s *Service) ListRefundTransfersForReturn(ctx context.Context, returnID int64) ([]domain.RefundTransfer, error) {
	if returnID <= 0 {
		return nil, &domain.ValidationError{Field: "return_id", Message: "return_id must be positive"}
	}
	return s.repo.FindRefundTransfersByReturnID(ctx, returnID)
}

// ListRefundApprovalQueue pages through transfers awaiting supervisor
// approval, oldest first.
func (s *Service) ListRefundApprovalQueue(ctx context.Context, limit, offset int) ([]domain.RefundTransfer, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListRefundTransfersByStatus(ctx, domain.RefundStatusPendingApproval, limit, offset)
}

// RequestRefundAdvanceParams carries a refund advance application.
type RequestRefundAdvanceParams struct {
	ClientID       string
	ReturnID       int64
	AccountID      string
	ExpectedRefund int64 // in cents
	Requested      int64 // in cents
}

// RequestRefundAdvance opens a refund advance. Requests within both the
// program cap and the expected refund auto-approve; anything larger is left
// pending for manual decisioning.
func (s *Service) RequestRefundAdvance(ctx context.Context, params RequestRefundAdvanceParams) (*domain.RefundAdvance, error) {
	if params.Requested <= 0 {
		return nil, &domain.ValidationError{Field: "requested_amount", Message: "requested_amount must be a positive number of cents"}
	}
	if params.ExpectedRefund <= 0 {
		return nil, &domain.ValidationError{Field: "expected_refund", Message: "expected_refund must be a positive number of cents"}
	}
	if _, err := s.GetAccount(ctx, params.AccountID); err != nil {
		return nil, err
	}

	advance := &domain.RefundAdvance{
		ID:              newEntityID("adv"),
		ClientID:        params.ClientID,
		ReturnID:        params.ReturnID,
		AccountID:       params.AccountID,
		ExpectedRefund:  params.ExpectedRefund,
		RequestedAmount: params.Requested,
		Status:          domain.AdvanceStatusPending,
	}
	if params.Requested <= domain.RefundAdvanceLimit && params.Requested <= params.ExpectedRefund {
		advance.Status = domain.AdvanceStatusApproved
		approvedAmount := params.Requested
		advance.ApprovedAmount = &approvedAmount
	}

	created, err := s.repo.CreateRefundAdvance(ctx, advance)
	if err != nil {
		return nil, fmt.Errorf("failed to create refund advance: %w", err)
	}
	log.Printf("level=info component=refund_workflow op=request_advance advance_id=%s client_id=%s requested=%d status=%s",
		created.ID, created.ClientID, created.RequestedAmount, created.Status)
	return created, nil
}

// DisburseRefundAdvance deposits an approved advance into the client's
// account and marks it disbursed.
func (s *Service) DisburseRefundAdvance(ctx context.Context, advanceID string) (*domain.RefundAdvance, error) {
	advance, err := s.repo.FindRefundAdvanceByID(ctx, advanceID)
	if err != nil {
		if err == store.ErrRefundAdvanceNotFound {
			return nil, &domain.NotFoundError{Entity: "refund_advance", ID: advanceID}
		}
		return nil, err
	}
	if advance.Status != domain.AdvanceStatusApproved || advance.ApprovedAmount == nil {
		return nil, &domain.StateConflictError{
			Entity:  "refund_advance",
			ID:      advanceID,
			State:   string(advance.Status),
			Message: "only approved advances can be disbursed",
		}
	}

	// The period-free reference ties the deposit to the advance, making the
	// disbursement idempotent.
	_, err = s.repo.PostTransaction(ctx, advance.AccountID, domain.TransactionDraft{
		Type:            domain.TransactionTypeDeposit,
		Amount:          *advance.ApprovedAmount,
		Description:     "Refund advance disbursement",
		ReferenceNumber: "ADV-" + advance.ID,
		Status:          domain.TransactionStatusPosted,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to post advance disbursement: %w", err)
	}

	disbursed, err := s.repo.UpdateRefundAdvanceStatus(ctx, advanceID, domain.AdvanceStatusApproved, domain.AdvanceStatusDisbursed, nil)
	if err != nil {
		if err == store.ErrStaleStatus {
			return nil, &domain.StateConflictError{Entity: "refund_advance", ID: advanceID, State: string(advance.Status), Message: "advance state changed during disbursement"}
		}
		return nil, err
	}
	log.Printf("level=info component=refund_workflow op=disburse_advance advance_id=%s amount=%d", advanceID, *advance.ApprovedAmount)

	s.publishEvent(ctx, rabbitmq.LedgerEvent{
		EntityType: "refund_advance",
		EntityID:   advanceID,
		Action:     "disbursed",
		ClientID:   advance.ClientID,
		AccountID:  advance.AccountID,
		Amount:     *advance.ApprovedAmount,
	})
	return disbursed, nil
}
