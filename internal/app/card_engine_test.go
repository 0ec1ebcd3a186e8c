package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rosstax/ledger-service/internal/domain"
	"github.com/rosstax/ledger-service/internal/store"
)

func TestGenerateCardNumber(t *testing.T) {
	for i := 0; i < 20; i++ {
		pan := GenerateCardNumber()
		if len(pan) != 16 {
			t.Fatalf("expected 16-digit PAN, got %d: %s", len(pan), pan)
		}
		if pan[:4] != cardBIN {
			t.Fatalf("expected BIN %s, got %s", cardBIN, pan[:4])
		}
		// Luhn check over the full PAN.
		sum := 0
		for j := len(pan) - 1; j >= 0; j-- {
			digit := int(pan[j] - '0')
			if (len(pan)-j)%2 == 0 {
				digit *= 2
				if digit > 9 {
					digit -= 9
				}
			}
			sum += digit
		}
		if sum%10 != 0 {
			t.Fatalf("generated PAN fails Luhn: %s", pan)
		}
	}
}

func TestGenerateCVV(t *testing.T) {
	cvv := GenerateCVV()
	if len(cvv) != 3 {
		t.Fatalf("expected 3-digit CVV, got %q", cvv)
	}
}

type cardRepoStub struct {
	store.Repository

	account *domain.Account
	card    *domain.Card

	dailyTotal int64
	postingErr error

	createdCard   *domain.Card
	recordedAuth  *domain.CardAuthorization
	approvedAuth  *domain.CardAuthorization
	approvedDraft *domain.TransactionDraft
	statusUpdates []domain.CardStatus
}

func (s *cardRepoStub) FindAccountByID(ctx context.Context, accountID string) (*domain.Account, error) {
	if s.account == nil {
		return nil, store.ErrAccountNotFound
	}
	return s.account, nil
}

func (s *cardRepoStub) CreateCard(ctx context.Context, card *domain.Card) (*domain.Card, error) {
	s.createdCard = card
	return card, nil
}

func (s *cardRepoStub) FindCardByID(ctx context.Context, cardID string) (*domain.Card, error) {
	if s.card == nil || s.card.ID != cardID {
		return nil, store.ErrCardNotFound
	}
	return s.card, nil
}

func (s *cardRepoStub) FindActiveCardByLast4(ctx context.Context, cardLast4 string) (*domain.Card, error) {
	if s.card == nil || s.card.CardLast4 != cardLast4 || s.card.Status != domain.CardStatusActive {
		return nil, store.ErrCardNotFound
	}
	return s.card, nil
}

func (s *cardRepoStub) UpdateCardStatus(ctx context.Context, cardID string, fromStatus, toStatus domain.CardStatus) (*domain.Card, error) {
	if s.card.Status != fromStatus {
		return nil, store.ErrStaleStatus
	}
	s.statusUpdates = append(s.statusUpdates, toStatus)
	updated := *s.card
	updated.Status = toStatus
	s.card = &updated
	return &updated, nil
}

func (s *cardRepoStub) CardAuthorizationTotals(ctx context.Context, cardID string, since time.Time) (int64, error) {
	return s.dailyTotal, nil
}

func (s *cardRepoStub) CreateCardAuthorization(ctx context.Context, auth *domain.CardAuthorization) (*domain.CardAuthorization, error) {
	s.recordedAuth = auth
	return auth, nil
}

func (s *cardRepoStub) ApproveAuthorizationWithPosting(ctx context.Context, auth *domain.CardAuthorization, draft domain.TransactionDraft) (*domain.CardAuthorization, *domain.Transaction, error) {
	if s.postingErr != nil {
		return nil, nil, s.postingErr
	}
	s.approvedAuth = auth
	s.approvedDraft = &draft
	txnID := "txn_test"
	auth.TransactionID = &txnID
	return auth, &domain.Transaction{ID: txnID}, nil
}

func activeTestCard() *domain.Card {
	return &domain.Card{
		ID:                   "card_test",
		AccountID:            "mma_test",
		ClientID:             "client-1",
		CardLast4:            "4242",
		CardType:             domain.CardTypeVirtual,
		Status:               domain.CardStatusActive,
		DailyLimit:           1000_00,
		TransactionLimit:     500_00,
		InternationalEnabled: false,
	}
}

func TestIssueCard(t *testing.T) {
	t.Run("virtual card is active immediately", func(t *testing.T) {
		repo := &cardRepoStub{account: testAccount()}
		svc := NewService(repo, nil, nil, nil, nil, "")

		card, err := svc.IssueCard(context.Background(), IssueCardParams{
			AccountID:      "mma_test",
			ClientID:       "client-1",
			CardholderName: "Jordan Ross",
			CardType:       domain.CardTypeVirtual,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if card.Status != domain.CardStatusActive {
			t.Fatalf("expected active virtual card, got %s", card.Status)
		}
		if card.ActivationRequired {
			t.Fatal("virtual card must not require activation")
		}
		if len(card.CardLast4) != 4 {
			t.Fatalf("expected 4-digit last4, got %q", card.CardLast4)
		}
		if card.DailyLimit != 1000_00 || card.TransactionLimit != 500_00 {
			t.Fatalf("expected basic tier card limits, got %d/%d", card.DailyLimit, card.TransactionLimit)
		}
	})

	t.Run("physical card starts pending", func(t *testing.T) {
		repo := &cardRepoStub{account: testAccount()}
		svc := NewService(repo, nil, nil, nil, nil, "")

		card, err := svc.IssueCard(context.Background(), IssueCardParams{
			AccountID:      "mma_test",
			ClientID:       "client-1",
			CardholderName: "Jordan Ross",
			CardType:       domain.CardTypePhysical,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if card.Status != domain.CardStatusPending || !card.ActivationRequired {
			t.Fatalf("expected pending physical card requiring activation, got %s", card.Status)
		}
	})

	t.Run("frozen account cannot receive a card", func(t *testing.T) {
		account := testAccount()
		account.Status = domain.AccountStatusFrozen
		repo := &cardRepoStub{account: account}
		svc := NewService(repo, nil, nil, nil, nil, "")

		_, err := svc.IssueCard(context.Background(), IssueCardParams{
			AccountID:      "mma_test",
			ClientID:       "client-1",
			CardholderName: "Jordan Ross",
		})
		var stateErr *domain.StateConflictError
		if !errors.As(err, &stateErr) {
			t.Fatalf("expected state conflict error, got %v", err)
		}
	})
}

func TestActivateCard(t *testing.T) {
	pendingCard := func() *domain.Card {
		card := activeTestCard()
		card.Status = domain.CardStatusPending
		card.CardType = domain.CardTypePhysical
		return card
	}

	t.Run("activates with matching last4", func(t *testing.T) {
		repo := &cardRepoStub{card: pendingCard()}
		svc := NewService(repo, nil, nil, nil, nil, "")
		card, err := svc.ActivateCard(context.Background(), "card_test", "4242")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if card.Status != domain.CardStatusActive {
			t.Fatalf("expected active card, got %s", card.Status)
		}
	})

	t.Run("rejects mismatched last4", func(t *testing.T) {
		repo := &cardRepoStub{card: pendingCard()}
		svc := NewService(repo, nil, nil, nil, nil, "")
		_, err := svc.ActivateCard(context.Background(), "card_test", "9999")
		var vErr *domain.ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("rejects already-active card", func(t *testing.T) {
		repo := &cardRepoStub{card: activeTestCard()}
		svc := NewService(repo, nil, nil, nil, nil, "")
		_, err := svc.ActivateCard(context.Background(), "card_test", "4242")
		var stateErr *domain.StateConflictError
		if !errors.As(err, &stateErr) {
			t.Fatalf("expected state conflict error, got %v", err)
		}
	})
}

func TestToggleCardFreeze(t *testing.T) {
	repo := &cardRepoStub{card: activeTestCard()}
	svc := NewService(repo, nil, nil, nil, nil, "")

	frozen, err := svc.ToggleCardFreeze(context.Background(), "card_test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frozen.Status != domain.CardStatusFrozen {
		t.Fatalf("expected frozen, got %s", frozen.Status)
	}

	unfrozen, err := svc.ToggleCardFreeze(context.Background(), "card_test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if unfrozen.Status != domain.CardStatusActive {
		t.Fatalf("expected active after second toggle, got %s", unfrozen.Status)
	}
}

func TestAuthorizeCardTransaction_DeclineOrder(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(repo *cardRepoStub)
		req        AuthorizationRequest
		wantReason string
		persisted  bool
	}{
		{
			name:       "unknown card",
			setup:      func(repo *cardRepoStub) { repo.card = nil },
			req:        AuthorizationRequest{CardLast4: "0000", Amount: 50_00},
			wantReason: "Card not found or inactive",
			persisted:  false,
		},
		{
			name:       "frozen card is not found by lookup",
			setup:      func(repo *cardRepoStub) { repo.card.Status = domain.CardStatusFrozen },
			req:        AuthorizationRequest{CardLast4: "4242", Amount: 50_00},
			wantReason: "Card not found or inactive",
			persisted:  false,
		},
		{
			name:       "per-transaction limit",
			setup:      func(repo *cardRepoStub) {},
			req:        AuthorizationRequest{CardLast4: "4242", Amount: 500_01},
			wantReason: "Amount exceeds transaction limit",
			persisted:  true,
		},
		{
			name:       "daily limit",
			setup:      func(repo *cardRepoStub) { repo.dailyTotal = 900_00 },
			req:        AuthorizationRequest{CardLast4: "4242", Amount: 200_00},
			wantReason: "Daily limit exceeded",
			persisted:  true,
		},
		{
			name:       "insufficient funds",
			setup:      func(repo *cardRepoStub) { repo.account.AvailableBalance = 30_00 },
			req:        AuthorizationRequest{CardLast4: "4242", Amount: 50_00},
			wantReason: "Insufficient funds",
			persisted:  true,
		},
		{
			name:       "insufficient funds wins over international policy",
			setup:      func(repo *cardRepoStub) { repo.account.AvailableBalance = 30_00 },
			req:        AuthorizationRequest{CardLast4: "4242", Amount: 50_00, MerchantCountry: "FR"},
			wantReason: "Insufficient funds",
			persisted:  true,
		},
		{
			name:       "international disabled",
			setup:      func(repo *cardRepoStub) {},
			req:        AuthorizationRequest{CardLast4: "4242", Amount: 50_00, MerchantCountry: "FR"},
			wantReason: "International transactions disabled",
			persisted:  true,
		},
		{
			name:       "funds consumed between pre-check and posting",
			setup:      func(repo *cardRepoStub) { repo.postingErr = store.ErrInsufficientFunds },
			req:        AuthorizationRequest{CardLast4: "4242", Amount: 50_00},
			wantReason: "Insufficient funds",
			persisted:  true,
		},
		{
			name:       "restricted funding account",
			setup:      func(repo *cardRepoStub) { repo.postingErr = store.ErrAccountNotTransactable },
			req:        AuthorizationRequest{CardLast4: "4242", Amount: 50_00},
			wantReason: "Account is not in a transactable state",
			persisted:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &cardRepoStub{card: activeTestCard(), account: testAccount()}
			tt.setup(repo)
			svc := NewService(repo, nil, nil, nil, nil, "")

			auth, err := svc.AuthorizeCardTransaction(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if auth.Status != domain.AuthorizationDeclined {
				t.Fatalf("expected declined, got %s", auth.Status)
			}
			if auth.DeclineReason == nil || *auth.DeclineReason != tt.wantReason {
				t.Fatalf("expected reason %q, got %v", tt.wantReason, auth.DeclineReason)
			}
			if tt.persisted && repo.recordedAuth == nil {
				t.Fatal("expected the decline to be recorded")
			}
			if !tt.persisted && repo.recordedAuth != nil {
				t.Fatal("decline with no card row must not be recorded")
			}
		})
	}
}

func TestAuthorizeCardTransaction_Approves(t *testing.T) {
	repo := &cardRepoStub{card: activeTestCard(), account: testAccount(), dailyTotal: 500_00}
	svc := NewService(repo, nil, nil, nil, nil, "")

	auth, err := svc.AuthorizeCardTransaction(context.Background(), AuthorizationRequest{
		CardLast4:        "4242",
		Amount:           300_00,
		MerchantName:     "Corner Grocery",
		MerchantCategory: "grocery",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if auth.Status != domain.AuthorizationApproved {
		t.Fatalf("expected approved, got %s", auth.Status)
	}
	if auth.AuthorizationCode == nil || len(*auth.AuthorizationCode) != 9 || (*auth.AuthorizationCode)[:3] != "RTB" {
		t.Fatalf("expected RTB+6 authorization code, got %v", auth.AuthorizationCode)
	}
	if auth.TransactionID == nil {
		t.Fatal("approval must reference the posted transaction")
	}
	if repo.approvedDraft == nil {
		t.Fatal("approval must post a card transaction")
	}
	if repo.approvedDraft.Type != domain.TransactionTypeCard {
		t.Fatalf("expected card transaction type, got %s", repo.approvedDraft.Type)
	}
	if repo.approvedDraft.ReferenceNumber != *auth.AuthorizationCode {
		t.Fatal("posting reference must be the authorization code")
	}
	if auth.MerchantCountry != domain.DomesticCountry {
		t.Fatalf("expected country to default to %s, got %s", domain.DomesticCountry, auth.MerchantCountry)
	}
}

func TestAuthorizeCardTransaction_DailyLimitIsInclusive(t *testing.T) {
	// Spending that lands exactly on the daily limit is allowed.
	repo := &cardRepoStub{card: activeTestCard(), account: testAccount(), dailyTotal: 800_00}
	svc := NewService(repo, nil, nil, nil, nil, "")

	auth, err := svc.AuthorizeCardTransaction(context.Background(), AuthorizationRequest{
		CardLast4: "4242",
		Amount:    200_00,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if auth.Status != domain.AuthorizationApproved {
		t.Fatalf("expected approval landing exactly on the daily limit, got %s with reason %v", auth.Status, auth.DeclineReason)
	}
}

func TestUpdateCardControls_Validation(t *testing.T) {
	svc := NewService(&cardRepoStub{card: activeTestCard()}, nil, nil, nil, nil, "")

	zero := int64(0)
	_, err := svc.UpdateCardControls(context.Background(), "card_test", domain.CardControls{DailyLimit: &zero})
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
