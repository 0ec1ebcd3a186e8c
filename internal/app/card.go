/**
 * @description
 * Debit card issuance and the real-time authorization engine. Card numbers
 * are Luhn-valid (Visa BIN 4532) and generated from crypto/rand; only the
 * last four digits are ever persisted. Authorization checks run in a fixed
 * order, and the first failing check produces the decline reason. Approval
 * and the ledger posting commit atomically in the store, so the funds check
 * that matters is the one under the account row lock.
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

// cardBIN is the issuing bank identification number (Visa range).
const cardBIN = "4532"

// Card authorization decline reasons, surfaced verbatim to the network.
const (
	declineCardNotFound      = "Card not found or inactive"
	declineTransactionLimit  = "Amount exceeds transaction limit"
	declineDailyLimit        = "Daily limit exceeded"
	declineInsufficientFunds = "Insufficient funds"
	declineInternationalOff  = "International transactions disabled"
	declineAccountRestricted = "Account is not in a transactable state"
)

// GenerateCardNumber builds a Luhn-valid 16-digit PAN under the issuing BIN.
func GenerateCardNumber() string {
	partial := cardBIN + randomDigits(11)
	return partial + luhnCheckDigit(partial)
}

// GenerateCVV returns a random three-digit card verification value.
func GenerateCVV() string {
	return randomDigits(3)
}

func luhnCheckDigit(number string) string {
	sum := 0
	// Double every second digit from the right.
	for i := len(number) - 1; i >= 0; i-- {
		digit := int(number[i] - '0')
		if (len(number)-i)%2 == 0 {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
	}
	return string(byte('0' + (10-sum%10)%10))
}

// newAuthorizationCode builds the approval code sent back to the network:
// the RTB prefix plus six random digits.
func newAuthorizationCode() string {
	return "RTB" + randomDigits(6)
}

// IssueCardParams carries the inputs for issuing a card.
type IssueCardParams struct {
	AccountID      string
	ClientID       string
	CardholderName string
	CardType       domain.CardType
}

// IssueCard issues a debit card against an account. Virtual cards are active
// immediately; physical cards start pending and require activation on
// delivery. Spending limits come from the account's tier.
func (s *Service) IssueCard(ctx context.Context, params IssueCardParams) (*domain.Card, error) {
	if strings.TrimSpace(params.CardholderName) == "" {
		return nil, &domain.ValidationError{Field: "cardholder_name", Message: "cardholder_name is required"}
	}
	cardType := params.CardType
	if cardType == "" {
		cardType = domain.CardTypeVirtual
	}
	if cardType != domain.CardTypeVirtual && cardType != domain.CardTypePhysical {
		return nil, &domain.ValidationError{Field: "card_type", Message: "card_type must be virtual or physical"}
	}

	account, err := s.GetAccount(ctx, params.AccountID)
	if err != nil {
		return nil, err
	}
	if account.Status != domain.AccountStatusActive {
		return nil, &domain.StateConflictError{Entity: "account", ID: account.ID, State: string(account.Status), Message: "cards can only be issued against active accounts"}
	}

	pan := GenerateCardNumber()
	policy := domain.PolicyForTier(account.AccountTier)
	now := time.Now()

	status := domain.CardStatusActive
	activationRequired := false
	if cardType == domain.CardTypePhysical {
		status = domain.CardStatusPending
		activationRequired = true
	}

	card := &domain.Card{
		ID:                   newEntityID("card"),
		AccountID:            account.ID,
		ClientID:             params.ClientID,
		CardLast4:            pan[len(pan)-4:],
		CardType:             cardType,
		Network:              "visa",
		ExpMonth:             int(now.Month()),
		ExpYear:              now.Year() + 3,
		CardholderName:       strings.TrimSpace(params.CardholderName),
		Status:               status,
		ActivationRequired:   activationRequired,
		DailyLimit:           policy.CardDailyLimit,
		TransactionLimit:     policy.CardTransactionLimit,
		ATMDailyLimit:        policy.CardATMDailyLimit,
		InternationalEnabled: true,
		OnlineEnabled:        true,
		ContactlessEnabled:   true,
	}

	created, err := s.repo.CreateCard(ctx, card)
	if err != nil {
		return nil, fmt.Errorf("failed to issue card: %w", err)
	}
	log.Printf("level=info component=card_engine op=issue card_id=%s account_id=%s type=%s last4=%s", created.ID, created.AccountID, created.CardType, created.CardLast4)

	s.publishEvent(ctx, rabbitmq.LedgerEvent{
		EntityType: "card",
		EntityID:   created.ID,
		Action:     "issued",
		ClientID:   created.ClientID,
		AccountID:  created.AccountID,
	})
	return created, nil
}

// ActivateCard activates a pending physical card. The caller must present
// the card's last four digits as possession proof.
func (s *Service) ActivateCard(ctx context.Context, cardID, cardLast4 string) (*domain.Card, error) {
	card, err := s.getCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if card.CardLast4 != cardLast4 {
		return nil, &domain.ValidationError{Field: "card_last4", Message: "card_last4 does not match"}
	}
	if card.Status != domain.CardStatusPending {
		return nil, &domain.StateConflictError{Entity: "card", ID: cardID, State: string(card.Status), Message: "card is not pending activation"}
	}

	activated, err := s.repo.UpdateCardStatus(ctx, cardID, domain.CardStatusPending, domain.CardStatusActive)
	if err != nil {
		if err == store.ErrStaleStatus {
			return nil, &domain.StateConflictError{Entity: "card", ID: cardID, State: string(card.Status), Message: "card state changed during activation"}
		}
		return nil, err
	}
	log.Printf("level=info component=card_engine op=activate card_id=%s", cardID)

	s.publishEvent(ctx, rabbitmq.LedgerEvent{
		EntityType: "card",
		EntityID:   cardID,
		Action:     "activated",
		ClientID:   activated.ClientID,
		AccountID:  activated.AccountID,
	})
	return activated, nil
}

// ToggleCardFreeze freezes an active card or unfreezes a frozen one and
// returns the new status.
func (s *Service) ToggleCardFreeze(ctx context.Context, cardID string) (*domain.Card, error) {
	card, err := s.getCard(ctx, cardID)
	if err != nil {
		return nil, err
	}

	var target domain.CardStatus
	switch card.Status {
	case domain.CardStatusActive:
		target = domain.CardStatusFrozen
	case domain.CardStatusFrozen:
		target = domain.CardStatusActive
	default:
		return nil, &domain.StateConflictError{Entity: "card", ID: cardID, State: string(card.Status), Message: fmt.Sprintf("card cannot be frozen or unfrozen (status: %s)", card.Status)}
	}

	updated, err := s.repo.UpdateCardStatus(ctx, cardID, card.Status, target)
	if err != nil {
		if err == store.ErrStaleStatus {
			return nil, &domain.StateConflictError{Entity: "card", ID: cardID, State: string(card.Status), Message: "card state changed during freeze toggle"}
		}
		return nil, err
	}
	log.Printf("level=info component=card_engine op=freeze_toggle card_id=%s status=%s", cardID, updated.Status)
	return updated, nil
}

// CancelCard permanently cancels a card.
func (s *Service) CancelCard(ctx context.Context, cardID string) (*domain.Card, error) {
	card, err := s.getCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransitionCard(card.Status, domain.CardStatusCancelled) {
		return nil, &domain.StateConflictError{Entity: "card", ID: cardID, State: string(card.Status), Message: fmt.Sprintf("card cannot be cancelled (status: %s)", card.Status)}
	}
	cancelled, err := s.repo.UpdateCardStatus(ctx, cardID, card.Status, domain.CardStatusCancelled)
	if err != nil {
		if err == store.ErrStaleStatus {
			return nil, &domain.StateConflictError{Entity: "card", ID: cardID, State: string(card.Status), Message: "card state changed during cancellation"}
		}
		return nil, err
	}
	log.Printf("level=info component=card_engine op=cancel card_id=%s", cardID)

	s.publishEvent(ctx, rabbitmq.LedgerEvent{
		EntityType: "card",
		EntityID:   cardID,
		Action:     "cancelled",
		ClientID:   cancelled.ClientID,
		AccountID:  cancelled.AccountID,
	})
	return cancelled, nil
}

// UpdateCardControls applies a partial update of a card's limits and channel
// toggles.
func (s *Service) UpdateCardControls(ctx context.Context, cardID string, controls domain.CardControls) (*domain.Card, error) {
	if controls.DailyLimit != nil && *controls.DailyLimit <= 0 {
		return nil, &domain.ValidationError{Field: "daily_limit", Message: "daily_limit must be positive"}
	}
	if controls.TransactionLimit != nil && *controls.TransactionLimit <= 0 {
		return nil, &domain.ValidationError{Field: "transaction_limit", Message: "transaction_limit must be positive"}
	}
	if controls.ATMDailyLimit != nil && *controls.ATMDailyLimit <= 0 {
		return nil, &domain.ValidationError{Field: "atm_daily_limit", Message: "atm_daily_limit must be positive"}
	}
	card, err := s.repo.UpdateCardControls(ctx, cardID, controls)
	if err == store.ErrCardNotFound {
		return nil, &domain.NotFoundError{Entity: "card", ID: cardID}
	}
	return card, err
}

// GetCard retrieves one card.
func (s *Service) GetCard(ctx context.Context, cardID string) (*domain.Card, error) {
	return s.getCard(ctx, cardID)
}

func (s *Service) getCard(ctx context.Context, cardID string) (*domain.Card, error) {
	card, err := s.repo.FindCardByID(ctx, cardID)
	if err == store.ErrCardNotFound {
		return nil, &domain.NotFoundError{Entity: "card", ID: cardID}
	}
	return card, err
}

// ListAccountCards lists the cards issued against an account.
func (s *Service) ListAccountCards(ctx context.Context, accountID string) ([]domain.Card, error) {
	return s.repo.FindCardsByAccountID(ctx, accountID)
}

// AuthorizationRequest is a real-time authorization from the card network.
type AuthorizationRequest struct {
	CardLast4        string
	Amount           int64 // in cents
	MerchantName     string
	MerchantCategory string
	MerchantCountry  string
}

// AuthorizeCardTransaction runs the ordered authorization checks and returns
// the decision. Every decision on a known card is persisted; a request
// naming no active card gets an unpersisted decline, since there is no card
// row to attach it to. Checks run in order: card lookup, per-transaction
// limit, daily limit, funds, then international policy; the funds check is
// re-run under the account row lock inside the atomic approve-and-post.
func (s *Service) AuthorizeCardTransaction(ctx context.Context, req AuthorizationRequest) (*domain.CardAuthorization, error) {
	if req.Amount <= 0 {
		return nil, &domain.ValidationError{Field: "amount", Message: "amount must be a positive number of cents"}
	}
	country := req.MerchantCountry
	if country == "" {
		country = domain.DomesticCountry
	}

	// 1. Card lookup.
	card, err := s.repo.FindActiveCardByLast4(ctx, req.CardLast4)
	if err != nil {
		if err == store.ErrCardNotFound {
			reason := declineCardNotFound
			return &domain.CardAuthorization{
				ID:               newEntityID("auth"),
				CardID:           "unknown",
				AccountID:        "unknown",
				Amount:           req.Amount,
				MerchantName:     req.MerchantName,
				MerchantCategory: req.MerchantCategory,
				MerchantCountry:  country,
				Status:           domain.AuthorizationDeclined,
				DeclineReason:    &reason,
				CreatedAt:        time.Now(),
			}, nil
		}
		return nil, err
	}

	decline := func(reason string) (*domain.CardAuthorization, error) {
		auth := &domain.CardAuthorization{
			ID:               newEntityID("auth"),
			CardID:           card.ID,
			AccountID:        card.AccountID,
			Amount:           req.Amount,
			MerchantName:     req.MerchantName,
			MerchantCategory: req.MerchantCategory,
			MerchantCountry:  country,
			Status:           domain.AuthorizationDeclined,
			DeclineReason:    &reason,
		}
		recorded, err := s.repo.CreateCardAuthorization(ctx, auth)
		if err != nil {
			return nil, fmt.Errorf("failed to record declined authorization: %w", err)
		}
		log.Printf("level=info component=card_engine op=authorize card_id=%s amount=%d decision=declined reason=%q", card.ID, req.Amount, reason)
		s.publishEvent(ctx, rabbitmq.LedgerEvent{
			EntityType: "card",
			EntityID:   card.ID,
			Action:     "authorization.declined",
			ClientID:   card.ClientID,
			AccountID:  card.AccountID,
			Amount:     req.Amount,
			Detail:     reason,
		})
		return recorded, nil
	}

	// 2. Per-transaction limit.
	if req.Amount > card.TransactionLimit {
		return decline(declineTransactionLimit)
	}

	// 3. Daily spend limit across approved authorizations, over the UTC
	// calendar day.
	now := time.Now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dailyTotal, err := s.repo.CardAuthorizationTotals(ctx, card.ID, startOfDay)
	if err != nil {
		return nil, fmt.Errorf("failed to compute daily card spend: %w", err)
	}
	if dailyTotal+req.Amount > card.DailyLimit {
		return decline(declineDailyLimit)
	}

	// 4. Funds pre-check. The authoritative check runs under the account row
	// lock in the atomic posting below; this read keeps an out-of-funds
	// request from declining on a later check first.
	account, err := s.repo.FindAccountByID(ctx, card.AccountID)
	if err != nil {
		if err == store.ErrAccountNotFound {
			return decline(declineCardNotFound)
		}
		return nil, fmt.Errorf("failed to load card account: %w", err)
	}
	if account.AvailableBalance+account.OverdraftLimit < req.Amount {
		return decline(declineInsufficientFunds)
	}

	// 5. International policy.
	if country != domain.DomesticCountry && !card.InternationalEnabled {
		return decline(declineInternationalOff)
	}

	// 6. Authorization and posting, atomically.
	authCode := newAuthorizationCode()
	auth := &domain.CardAuthorization{
		ID:                newEntityID("auth"),
		CardID:            card.ID,
		AccountID:         card.AccountID,
		Amount:            req.Amount,
		MerchantName:      req.MerchantName,
		MerchantCategory:  req.MerchantCategory,
		MerchantCountry:   country,
		AuthorizationCode: &authCode,
		Status:            domain.AuthorizationApproved,
	}
	last4 := card.CardLast4
	merchantName := req.MerchantName
	merchantCategory := req.MerchantCategory
	draft := domain.TransactionDraft{
		Type:             domain.TransactionTypeCard,
		Amount:           req.Amount,
		Description:      fmt.Sprintf("Card purchase - %s", req.MerchantName),
		ReferenceNumber:  authCode,
		MerchantName:     &merchantName,
		MerchantCategory: &merchantCategory,
		CardLast4:        &last4,
		Status:           domain.TransactionStatusPosted,
	}
	approved, _, err := s.repo.ApproveAuthorizationWithPosting(ctx, auth, draft)
	if err != nil {
		switch err {
		case store.ErrInsufficientFunds:
			return decline(declineInsufficientFunds)
		case store.ErrAccountNotTransactable:
			return decline(declineAccountRestricted)
		}
		return nil, fmt.Errorf("failed to approve authorization: %w", err)
	}
	log.Printf("level=info component=card_engine op=authorize card_id=%s amount=%d decision=approved auth_code=%s", card.ID, req.Amount, authCode)

	s.publishEvent(ctx, rabbitmq.LedgerEvent{
		EntityType: "card",
		EntityID:   card.ID,
		Action:     "authorization.approved",
		ClientID:   card.ClientID,
		AccountID:  card.AccountID,
		Amount:     req.Amount,
	})
	return approved, nil
}

// CardAuthorizationHistory lists a card's authorization decisions, newest
// first.
func (s *Service) CardAuthorizationHistory(ctx context.Context, cardID string, limit, offset int) ([]domain.CardAuthorization, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if _, err := s.getCard(ctx, cardID); err != nil {
		return nil, err
	}
	return s.repo.FindAuthorizationsByCardID(ctx, cardID, limit, offset)
}
