/**
 * @description
 * This file defines the central ledger record for any money movement in the
 * system: the Transaction, plus the draft type the poster accepts. The
 * `transactions` table is append-only; corrections are new reversing
 * transactions, never edits to history.
 *
 * @notes
 * - `BalanceAfter` must equal the prior balance plus or minus the signed
 *   amount, exactly. Only transactions with status `posted` mutate the
 *   account balance.
 */

package domain

import "time"

// TransactionType classifies a ledger movement.
type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
	TransactionTypeTransfer   TransactionType = "transfer"
	TransactionTypeP2P        TransactionType = "p2p"
	TransactionTypeCard       TransactionType = "card"
	TransactionTypeCheck      TransactionType = "check"
	TransactionTypeFee        TransactionType = "fee"
	TransactionTypeInterest   TransactionType = "interest"
)

// TransactionStatus is the lifecycle state of a ledger record.
type TransactionStatus string

const (
	TransactionStatusPending  TransactionStatus = "pending"
	TransactionStatusPosted   TransactionStatus = "posted"
	TransactionStatusDeclined TransactionStatus = "declined"
	TransactionStatusReversed TransactionStatus = "reversed"
)

// Direction is an explicit credit/debit marker for a draft. When unset, the
// poster infers the direction from the transaction type.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Transaction is one immutable row of the account ledger.
type Transaction struct {
	ID                 string            `json:"id"`
	AccountID          string            `json:"account_id"`
	Type               TransactionType   `json:"transaction_type"`
	Amount             int64             `json:"amount"` // in cents, always positive
	BalanceAfter       int64             `json:"balance_after"`
	Description        string            `json:"description"`
	Category           *string           `json:"category,omitempty"`
	MerchantName       *string           `json:"merchant_name,omitempty"`
	MerchantCategory   *string           `json:"merchant_category,omitempty"`
	ReferenceNumber    string            `json:"reference_number"`
	SourceAccount      *string           `json:"source_account,omitempty"`
	DestinationAccount *string           `json:"destination_account,omitempty"`
	P2PRecipientID     *string           `json:"p2p_recipient_id,omitempty"`
	CardLast4          *string           `json:"card_last4,omitempty"`
	CheckNumber        *string           `json:"check_number,omitempty"`
	Status             TransactionStatus `json:"status"`
	PostedAt           *time.Time        `json:"posted_at,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

// TransactionDraft is the input to the transaction poster. The account id and
// `balance_after` are supplied by the poster, never the caller.
type TransactionDraft struct {
	Type               TransactionType
	Amount             int64 // in cents, must be > 0
	Description        string
	Category           *string
	MerchantName       *string
	MerchantCategory   *string
	ReferenceNumber    string
	SourceAccount      *string
	DestinationAccount *string
	P2PRecipientID     *string
	CardLast4          *string
	CheckNumber        *string
	Status             TransactionStatus
	Direction          Direction // optional override; see EffectiveDirection
}

// ValidTransactionType reports whether the given type is a known ledger
// movement classification.
func ValidTransactionType(t TransactionType) bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeWithdrawal, TransactionTypeTransfer,
		TransactionTypeP2P, TransactionTypeCard, TransactionTypeCheck,
		TransactionTypeFee, TransactionTypeInterest:
		return true
	}
	return false
}

// EffectiveDirection resolves the draft's direction: an explicit override
// wins; otherwise deposits and interest credit, everything else debits. The
// override exists for transfer credit legs, which carry debit-class types but
// add funds to the recipient.
func (d TransactionDraft) EffectiveDirection() Direction {
	if d.Direction == DirectionCredit || d.Direction == DirectionDebit {
		return d.Direction
	}
	if d.Type == TransactionTypeDeposit || d.Type == TransactionTypeInterest {
		return DirectionCredit
	}
	return DirectionDebit
}

// SignedDelta returns the balance change the draft causes when posted.
func (d TransactionDraft) SignedDelta() int64 {
	if d.EffectiveDirection() == DirectionCredit {
		return d.Amount
	}
	return -d.Amount
}
