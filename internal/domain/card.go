/**
 * @description
 * This file defines the debit card and card authorization entities. Cards
 * carry their own per-card limits (seeded from the account tier at issuance)
 * and enablement flags; authorizations are write-once decision records.
 *
 * @notes
 * - A declined authorization never has an associated posted transaction.
 * - Card numbers and CVVs are stored encrypted by an external layer; this
 *   engine only ever sees the last four digits after issuance.
 */

package domain

import "time"

// CardType distinguishes instantly-issued virtual cards from fulfilled
// physical ones.
type CardType string

const (
	CardTypeVirtual  CardType = "virtual"
	CardTypePhysical CardType = "physical"
)

// CardStatus is the lifecycle state of a debit card.
type CardStatus string

const (
	CardStatusPending   CardStatus = "pending"
	CardStatusActive    CardStatus = "active"
	CardStatusFrozen    CardStatus = "frozen"
	CardStatusCancelled CardStatus = "cancelled"
	CardStatusExpired   CardStatus = "expired"
)

var cardTransitions = map[CardStatus][]CardStatus{
	CardStatusPending: {CardStatusActive, CardStatusCancelled, CardStatusExpired},
	CardStatusActive:  {CardStatusFrozen, CardStatusCancelled, CardStatusExpired},
	CardStatusFrozen:  {CardStatusActive, CardStatusCancelled, CardStatusExpired},
}

// CanTransitionCard reports whether a card status transition is allowed.
func CanTransitionCard(from, to CardStatus) bool {
	for _, allowed := range cardTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Card represents an issued debit card; it maps to the `debit_cards` table.
type Card struct {
	ID                   string     `json:"id"`
	AccountID            string     `json:"account_id"`
	ClientID             string     `json:"client_id"`
	CardLast4            string     `json:"card_last4"`
	CardType             CardType   `json:"card_type"`
	Network              string     `json:"network"`
	ExpMonth             int        `json:"exp_month"`
	ExpYear              int        `json:"exp_year"`
	CardholderName       string     `json:"cardholder_name"`
	Status               CardStatus `json:"status"`
	ActivationRequired   bool       `json:"activation_required"`
	ActivatedAt          *time.Time `json:"activated_at,omitempty"`
	DailyLimit           int64      `json:"daily_limit"`       // in cents
	TransactionLimit     int64      `json:"transaction_limit"` // in cents
	ATMDailyLimit        int64      `json:"atm_daily_limit"`   // in cents
	InternationalEnabled bool       `json:"international_enabled"`
	OnlineEnabled        bool       `json:"online_enabled"`
	ContactlessEnabled   bool       `json:"contactless_enabled"`
	CreatedAt            time.Time  `json:"created_at"`
	CancelledAt          *time.Time `json:"cancelled_at,omitempty"`
}

// AuthorizationStatus is the decision on a card authorization request.
type AuthorizationStatus string

const (
	AuthorizationApproved AuthorizationStatus = "approved"
	AuthorizationDeclined AuthorizationStatus = "declined"
)

// CardAuthorization is the write-once record of a real-time approve/decline
// decision; it maps to the `card_authorizations` table.
type CardAuthorization struct {
	ID                string              `json:"id"`
	CardID            string              `json:"card_id"`
	AccountID         string              `json:"account_id"`
	Amount            int64               `json:"amount"` // in cents
	MerchantName      string              `json:"merchant_name"`
	MerchantCategory  string              `json:"merchant_category"`
	MerchantCountry   string              `json:"merchant_country"`
	AuthorizationCode *string             `json:"authorization_code,omitempty"`
	Status            AuthorizationStatus `json:"status"`
	DeclineReason     *string             `json:"decline_reason,omitempty"`
	TransactionID     *string             `json:"transaction_id,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
}

// CardControls is a partial update of a card's spending limits and channel
// toggles. Nil fields are left unchanged.
type CardControls struct {
	DailyLimit           *int64
	TransactionLimit     *int64
	ATMDailyLimit        *int64
	InternationalEnabled *bool
	OnlineEnabled        *bool
	ContactlessEnabled   *bool
}

// DomesticCountry is the country code that bypasses the international
// transactions policy check.
const DomesticCountry = "US"
