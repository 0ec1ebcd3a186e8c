/**
 * @description
 * This file defines the refund-transfer entity and its approval workflow
 * state machine. Refund transfers are processed through partner financial
 * institutions; this engine tracks the internal approval chain and the
 * settlement milestones reported back by the partner and the IRS.
 *
 * @notes
 * - Segregation of duties: the staff member who submitted a transfer can
 *   never approve it, regardless of permission level.
 * - At most one non-terminal refund transfer may exist per tax return.
 */

package domain

import "time"

// RefundTransferStatus is the workflow state of a refund transfer.
type RefundTransferStatus string

const (
	RefundStatusPendingApproval    RefundTransferStatus = "pending_supervisor_approval"
	RefundStatusApproved           RefundTransferStatus = "approved"
	RefundStatusSubmittedToPartner RefundTransferStatus = "submitted_to_partner"
	RefundStatusIRSAccepted        RefundTransferStatus = "irs_accepted"
	RefundStatusFundsReleased      RefundTransferStatus = "funds_released"
	RefundStatusCompleted          RefundTransferStatus = "completed"
	RefundStatusRejected           RefundTransferStatus = "rejected"
	RefundStatusCancelled          RefundTransferStatus = "cancelled"
)

// Happy path advances one step at a time; rejected/cancelled are reachable
// from any non-terminal state.
var refundTransitions = map[RefundTransferStatus][]RefundTransferStatus{
	RefundStatusPendingApproval:    {RefundStatusApproved, RefundStatusRejected, RefundStatusCancelled},
	RefundStatusApproved:           {RefundStatusSubmittedToPartner, RefundStatusRejected, RefundStatusCancelled},
	RefundStatusSubmittedToPartner: {RefundStatusIRSAccepted, RefundStatusRejected, RefundStatusCancelled},
	RefundStatusIRSAccepted:        {RefundStatusFundsReleased, RefundStatusRejected, RefundStatusCancelled},
	RefundStatusFundsReleased:      {RefundStatusCompleted, RefundStatusRejected, RefundStatusCancelled},
}

// CanTransitionRefund reports whether a refund-transfer status transition is
// listed in the workflow.
func CanTransitionRefund(from, to RefundTransferStatus) bool {
	for _, allowed := range refundTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TerminalRefundStatus reports whether the workflow has ended.
func TerminalRefundStatus(status RefundTransferStatus) bool {
	switch status {
	case RefundStatusCompleted, RefundStatusRejected, RefundStatusCancelled:
		return true
	}
	return false
}

// RefundStatusDescription returns the client-facing description of a status.
func RefundStatusDescription(status RefundTransferStatus) string {
	switch status {
	case RefundStatusPendingApproval:
		return "Awaiting internal approval"
	case RefundStatusApproved:
		return "Approved - awaiting IRS acceptance"
	case RefundStatusSubmittedToPartner:
		return "Submitted to partner financial institution"
	case RefundStatusIRSAccepted:
		return "IRS accepted return"
	case RefundStatusFundsReleased:
		return "Funds released by IRS"
	case RefundStatusCompleted:
		return "Refund transfer completed"
	case RefundStatusRejected:
		return "Rejected - see notes"
	case RefundStatusCancelled:
		return "Cancelled"
	}
	return "Status unknown"
}

// RefundTransfer maps to the `refund_transfers` table.
type RefundTransfer struct {
	ID                 string               `json:"transfer_id"`
	ReturnID           int64                `json:"return_id"`
	Amount             int64                `json:"amount"` // in cents
	Fee                int64                `json:"fee"`    // in cents
	PartnerBank        string               `json:"partner_bank"`
	Status             RefundTransferStatus `json:"status"`
	SubmittedBy        string               `json:"submitted_by"`
	ClientConsent      bool                 `json:"client_consent"`
	ApprovedBy         *string              `json:"approved_by,omitempty"`
	ApprovedAt         *time.Time           `json:"approved_at,omitempty"`
	ApprovalNotes      *string              `json:"approval_notes,omitempty"`
	ExpectedDate       *time.Time           `json:"expected_date,omitempty"`
	IRSAcknowledgedAt  *time.Time           `json:"irs_acknowledgment_date,omitempty"`
	StatusReason       *string              `json:"status_reason,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
}

// NetAmount is the refund remaining after the disclosed fee.
func (t *RefundTransfer) NetAmount() int64 {
	return t.Amount - t.Fee
}

// TimelineEvent is one entry in a refund transfer's audit timeline; it maps
// to the `transfer_timeline` table.
type TimelineEvent struct {
	EventID     string    `json:"event_id"`
	TransferID  string    `json:"transfer_id"`
	EventType   string    `json:"event_type"`
	Description string    `json:"description"`
	ActorID     string    `json:"actor_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// RefundAdvanceStatus tracks the decisioning on a refund advance loan.
type RefundAdvanceStatus string

const (
	AdvanceStatusPending   RefundAdvanceStatus = "pending"
	AdvanceStatusApproved  RefundAdvanceStatus = "approved"
	AdvanceStatusDenied    RefundAdvanceStatus = "denied"
	AdvanceStatusDisbursed RefundAdvanceStatus = "disbursed"
)

// RefundAdvanceLimit is the auto-approval ceiling for refund advances, in
// cents.
const RefundAdvanceLimit int64 = 3500_00

// RefundAdvance is a zero-fee advance against an expected federal refund; it
// maps to the `refund_advances` table.
type RefundAdvance struct {
	ID              string              `json:"id"`
	ClientID        string              `json:"client_id"`
	ReturnID        int64               `json:"return_id"`
	AccountID       string              `json:"account_id"`
	ExpectedRefund  int64               `json:"expected_refund"`  // in cents
	RequestedAmount int64               `json:"requested_amount"` // in cents
	ApprovedAmount  *int64              `json:"approved_amount,omitempty"`
	Status          RefundAdvanceStatus `json:"status"`
	DecidedBy       *string             `json:"decided_by,omitempty"`
	DecidedAt       *time.Time          `json:"decided_at,omitempty"`
	DisbursedAt     *time.Time          `json:"disbursed_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}
