/**
 * @description
 * This file defines the P2P transfer entity, its finite state machine, and
 * the tagged recipient reference. A transfer's recipient is resolved exactly
 * once at initiation: either to an internal account, or recorded as an
 * unclaimed contact (email or phone) for a later claim flow.
 *
 * @notes
 * - Transfers move only along the transitions listed in transferTransitions.
 *   Terminal states are completed, declined, cancelled, and expired.
 * - A completed transfer has exactly two posted transactions sharing its
 *   reference number: the sender debit and the recipient credit.
 */

package domain

import (
	"strings"
	"time"
)

// TransferStatus is the state of a P2P transfer.
type TransferStatus string

const (
	TransferStatusPending    TransferStatus = "pending"
	TransferStatusProcessing TransferStatus = "processing"
	TransferStatusCompleted  TransferStatus = "completed"
	TransferStatusDeclined   TransferStatus = "declined"
	TransferStatusCancelled  TransferStatus = "cancelled"
	TransferStatusExpired    TransferStatus = "expired"
)

// TransferType distinguishes instant transfers from scheduled ones.
type TransferType string

const (
	TransferTypeInstant   TransferType = "instant"
	TransferTypeStandard  TransferType = "standard"
	TransferTypeScheduled TransferType = "scheduled"
)

var transferTransitions = map[TransferStatus][]TransferStatus{
	TransferStatusPending:    {TransferStatusProcessing, TransferStatusCompleted, TransferStatusDeclined, TransferStatusCancelled, TransferStatusExpired},
	TransferStatusProcessing: {TransferStatusCompleted, TransferStatusDeclined},
}

// CanTransitionTransfer reports whether a transfer status transition is
// listed in the state machine. Anything not listed is rejected.
func CanTransitionTransfer(from, to TransferStatus) bool {
	for _, allowed := range transferTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TerminalTransferStatus reports whether a transfer can no longer move.
func TerminalTransferStatus(status TransferStatus) bool {
	switch status {
	case TransferStatusCompleted, TransferStatusDeclined, TransferStatusCancelled, TransferStatusExpired:
		return true
	}
	return false
}

// RecipientKind tags the resolved form of a transfer recipient.
type RecipientKind string

const (
	RecipientInternal  RecipientKind = "internal"
	RecipientUnclaimed RecipientKind = "unclaimed"
)

// RecipientRef is the tagged union for a transfer recipient: either an
// internal account (resolved) or an unclaimed email/phone contact.
type RecipientRef struct {
	Kind      RecipientKind
	AccountID string // set when Kind == RecipientInternal
	ClientID  string // set when Kind == RecipientInternal and known
	Email     string // set when Kind == RecipientUnclaimed and contact is an email
	Phone     string // set when Kind == RecipientUnclaimed and contact is a phone
}

// InternalRecipient builds a resolved recipient reference.
func InternalRecipient(accountID, clientID string) RecipientRef {
	return RecipientRef{Kind: RecipientInternal, AccountID: accountID, ClientID: clientID}
}

// UnclaimedRecipient builds an unclaimed recipient from a raw contact. A
// contact containing '@' is treated as an email, anything else as a phone.
func UnclaimedRecipient(contact string) RecipientRef {
	ref := RecipientRef{Kind: RecipientUnclaimed}
	if strings.Contains(contact, "@") {
		ref.Email = contact
	} else {
		ref.Phone = contact
	}
	return ref
}

// Resolved reports whether the recipient maps to an internal account.
func (r RecipientRef) Resolved() bool {
	return r.Kind == RecipientInternal && r.AccountID != ""
}

// P2PTransfer is a person-to-person money movement between platform
// accounts; it maps to the `p2p_transfers` table.
type P2PTransfer struct {
	ID                 string         `json:"id"`
	SenderAccountID    string         `json:"sender_account_id"`
	SenderClientID     string         `json:"sender_client_id"`
	RecipientAccountID *string        `json:"recipient_account_id,omitempty"`
	RecipientClientID  *string        `json:"recipient_client_id,omitempty"`
	RecipientEmail     *string        `json:"recipient_email,omitempty"`
	RecipientPhone     *string        `json:"recipient_phone,omitempty"`
	Amount             int64          `json:"amount"` // in cents
	Description        string         `json:"description"`
	ReferenceNumber    string         `json:"reference_number"`
	TransferType       TransferType   `json:"transfer_type"`
	Status             TransferStatus `json:"status"`
	ScheduledDate      *time.Time     `json:"scheduled_date,omitempty"`
	DeclineReason      *string        `json:"decline_reason,omitempty"`
	FraudScore         int            `json:"fraud_score"`
	RequiresApproval   bool           `json:"requires_approval"`
	ApprovedBy         *string        `json:"approved_by,omitempty"`
	ApprovedAt         *time.Time     `json:"approved_at,omitempty"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// Recipient reconstructs the tagged recipient reference from the stored
// columns.
func (t *P2PTransfer) Recipient() RecipientRef {
	if t.RecipientAccountID != nil && *t.RecipientAccountID != "" {
		clientID := ""
		if t.RecipientClientID != nil {
			clientID = *t.RecipientClientID
		}
		return InternalRecipient(*t.RecipientAccountID, clientID)
	}
	ref := RecipientRef{Kind: RecipientUnclaimed}
	if t.RecipientEmail != nil {
		ref.Email = *t.RecipientEmail
	}
	if t.RecipientPhone != nil {
		ref.Phone = *t.RecipientPhone
	}
	return ref
}

// TransferWindowTotals carries the rolling sums and pending count the limit
// evaluator compares against tier policy. Sums cover transfers with status in
// {completed, processing}; the count covers status = pending.
type TransferWindowTotals struct {
	DailyTotal   int64
	MonthlyTotal int64
	PendingCount int
}

// SenderStats summarizes a sender's transfer history in one read: lifetime
// count for risk scoring plus the current limit windows.
type SenderStats struct {
	LifetimeCount int
	Window        TransferWindowTotals
}

// EvaluateTransferLimits applies the tier policy to a prospective transfer
// amount, in order: per-transaction, daily, monthly, pending-count. The first
// violated rule wins. Boundary semantics are inclusive: a transfer landing
// exactly on a limit is allowed; only a sum strictly above it rejects.
func EvaluateTransferLimits(policy TierPolicy, totals TransferWindowTotals, amount int64) error {
	if amount > policy.TransferPerTransaction {
		return &LimitExceededError{
			Rule:    LimitRulePerTransaction,
			Limit:   policy.TransferPerTransaction,
			Message: "Amount exceeds per-transaction limit of $" + dollars(policy.TransferPerTransaction),
		}
	}
	if totals.DailyTotal+amount > policy.TransferDailyLimit {
		return &LimitExceededError{
			Rule:    LimitRuleDaily,
			Limit:   policy.TransferDailyLimit,
			Message: "Daily limit exceeded ($" + dollars(policy.TransferDailyLimit) + ")",
		}
	}
	if totals.MonthlyTotal+amount > policy.TransferMonthlyLimit {
		return &LimitExceededError{
			Rule:    LimitRuleMonthly,
			Limit:   policy.TransferMonthlyLimit,
			Message: "Monthly limit exceeded ($" + dollars(policy.TransferMonthlyLimit) + ")",
		}
	}
	if totals.PendingCount >= policy.TransferMaxPending {
		return &LimitExceededError{
			Rule:    LimitRulePendingCount,
			Limit:   int64(policy.TransferMaxPending),
			Message: "Maximum pending transfers reached (" + itoa(policy.TransferMaxPending) + ")",
		}
	}
	return nil
}
