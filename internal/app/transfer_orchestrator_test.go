package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rosstax/ledger-service/internal/domain"
	"github.com/rosstax/ledger-service/internal/store"
)

type transferRepoStub struct {
	store.Repository

	sender    *domain.Account
	recipient *domain.Account
	stats     domain.SenderStats

	transfer *domain.P2PTransfer

	createErr      error
	created        *domain.P2PTransfer
	postErrByAcct  map[string]error
	postedDrafts   []domain.TransactionDraft
	postedAccounts []string
	statusUpdates  []domain.TransferStatus
	declineReason  *string
	approveErr     error
}

func (s *transferRepoStub) FindAccountByID(ctx context.Context, accountID string) (*domain.Account, error) {
	if s.sender != nil && s.sender.ID == accountID {
		return s.sender, nil
	}
	if s.recipient != nil && s.recipient.ID == accountID {
		return s.recipient, nil
	}
	return nil, store.ErrAccountNotFound
}

func (s *transferRepoStub) LookupRecipientAccount(ctx context.Context, contact string) (*domain.Account, error) {
	if s.recipient == nil {
		return nil, store.ErrRecipientNotFound
	}
	return s.recipient, nil
}

func (s *transferRepoStub) SenderTransferStats(ctx context.Context, accountID string, since time.Time) (*domain.SenderStats, error) {
	return &s.stats, nil
}

func (s *transferRepoStub) CreateTransferChecked(ctx context.Context, transfer *domain.P2PTransfer, policy domain.TierPolicy) (*domain.P2PTransfer, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	if err := domain.EvaluateTransferLimits(policy, s.stats.Window, transfer.Amount); err != nil {
		return nil, err
	}
	s.created = transfer
	s.transfer = transfer
	return transfer, nil
}

func (s *transferRepoStub) FindTransferByID(ctx context.Context, transferID string) (*domain.P2PTransfer, error) {
	if s.transfer == nil || s.transfer.ID != transferID {
		return nil, store.ErrTransferNotFound
	}
	return s.transfer, nil
}

func (s *transferRepoStub) PostTransaction(ctx context.Context, accountID string, draft domain.TransactionDraft) (*domain.Transaction, error) {
	if err, ok := s.postErrByAcct[accountID]; ok && err != nil {
		return nil, err
	}
	s.postedDrafts = append(s.postedDrafts, draft)
	s.postedAccounts = append(s.postedAccounts, accountID)
	return &domain.Transaction{ID: "txn_test", AccountID: accountID, Amount: draft.Amount}, nil
}

func (s *transferRepoStub) UpdateTransferStatus(ctx context.Context, transferID string, fromStatus, toStatus domain.TransferStatus, declineReason *string) (*domain.P2PTransfer, error) {
	s.statusUpdates = append(s.statusUpdates, toStatus)
	s.declineReason = declineReason
	updated := *s.transfer
	updated.Status = toStatus
	updated.DeclineReason = declineReason
	s.transfer = &updated
	return &updated, nil
}

func (s *transferRepoStub) ApproveTransfer(ctx context.Context, transferID, approverID string) (*domain.P2PTransfer, error) {
	if s.approveErr != nil {
		return nil, s.approveErr
	}
	updated := *s.transfer
	updated.Status = domain.TransferStatusProcessing
	s.transfer = &updated
	return &updated, nil
}

func transferTestAccounts() (*domain.Account, *domain.Account) {
	sender := &domain.Account{
		ID:               "mma_sender",
		ClientID:         "client-sender",
		AccountTier:      domain.TierBusiness,
		AvailableBalance: 50000_00,
		Status:           domain.AccountStatusActive,
	}
	recipient := &domain.Account{
		ID:               "mma_recipient",
		ClientID:         "client-recipient",
		AccountTier:      domain.TierBasic,
		AvailableBalance: 100_00,
		Status:           domain.AccountStatusActive,
	}
	return sender, recipient
}

func TestInitiateTransfer_Validation(t *testing.T) {
	svc := NewService(&transferRepoStub{}, nil, nil, nil, nil, "")

	tests := []struct {
		name   string
		params InitiateTransferParams
	}{
		{"zero amount", InitiateTransferParams{SenderAccountID: "mma_sender", Recipient: "mma_recipient"}},
		{"missing recipient", InitiateTransferParams{SenderAccountID: "mma_sender", Amount: 100_00}},
		{"scheduled without date", InitiateTransferParams{SenderAccountID: "mma_sender", Recipient: "mma_recipient", Amount: 100_00, TransferType: domain.TransferTypeScheduled}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.InitiateTransfer(context.Background(), tt.params)
			var vErr *domain.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestInitiateTransfer_RejectsSelfTransfer(t *testing.T) {
	sender, _ := transferTestAccounts()
	repo := &transferRepoStub{sender: sender, recipient: sender}
	svc := NewService(repo, nil, nil, nil, nil, "")

	_, err := svc.InitiateTransfer(context.Background(), InitiateTransferParams{
		SenderAccountID: sender.ID,
		SenderClientID:  sender.ClientID,
		Recipient:       sender.ID,
		Amount:          100_00,
	})
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestInitiateTransfer_LargeAmountHeldForApproval(t *testing.T) {
	sender, recipient := transferTestAccounts()
	repo := &transferRepoStub{
		sender:    sender,
		recipient: recipient,
		stats:     domain.SenderStats{LifetimeCount: 50},
	}
	svc := NewService(repo, nil, nil, nil, nil, "")

	transfer, err := svc.InitiateTransfer(context.Background(), InitiateTransferParams{
		SenderAccountID: sender.ID,
		SenderClientID:  sender.ClientID,
		Recipient:       recipient.ID,
		Amount:          6000_00,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !transfer.RequiresApproval {
		t.Fatal("expected transfer above the large-amount ceiling to require approval")
	}
	if transfer.Status != domain.TransferStatusPending {
		t.Fatalf("expected pending status, got %s", transfer.Status)
	}
	if len(repo.postedDrafts) != 0 {
		t.Fatal("a held transfer must not move money")
	}
}

func TestInitiateTransfer_UnresolvedRecipientStaysPending(t *testing.T) {
	sender, _ := transferTestAccounts()
	repo := &transferRepoStub{
		sender: sender,
		stats:  domain.SenderStats{LifetimeCount: 50},
	}
	svc := NewService(repo, nil, nil, nil, nil, "")

	transfer, err := svc.InitiateTransfer(context.Background(), InitiateTransferParams{
		SenderAccountID: sender.ID,
		SenderClientID:  sender.ClientID,
		Recipient:       "friend@example.com",
		Amount:          100_00,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if transfer.RecipientEmail == nil || *transfer.RecipientEmail != "friend@example.com" {
		t.Fatalf("expected unclaimed email recipient, got %+v", transfer)
	}
	if transfer.RecipientAccountID != nil {
		t.Fatal("unclaimed recipient must not carry an account id")
	}
	if transfer.Status != domain.TransferStatusPending {
		t.Fatalf("unclaimed transfer must stay pending, got %s", transfer.Status)
	}
	if len(repo.postedDrafts) != 0 {
		t.Fatal("an unclaimed transfer must not move money")
	}
}

func TestInitiateTransfer_RejectsForeignSenderAccount(t *testing.T) {
	sender, recipient := transferTestAccounts()
	repo := &transferRepoStub{
		sender:    sender,
		recipient: recipient,
		stats:     domain.SenderStats{LifetimeCount: 50},
	}
	svc := NewService(repo, nil, nil, nil, nil, "")

	_, err := svc.InitiateTransfer(context.Background(), InitiateTransferParams{
		SenderAccountID: sender.ID,
		SenderClientID:  "client-other",
		Recipient:       recipient.ID,
		Amount:          100_00,
	})
	var nfErr *domain.NotFoundError
	if !errors.As(err, &nfErr) {
		t.Fatalf("expected not found error for a sender account the caller does not own, got %v", err)
	}
	if repo.created != nil {
		t.Fatal("no transfer may be created against another client's account")
	}
	if len(repo.postedDrafts) != 0 {
		t.Fatal("no money may move from another client's account")
	}
}

func TestInitiateTransfer_InstantTransferCompletes(t *testing.T) {
	sender, recipient := transferTestAccounts()
	repo := &transferRepoStub{
		sender:    sender,
		recipient: recipient,
		stats:     domain.SenderStats{LifetimeCount: 50},
	}
	svc := NewService(repo, nil, nil, nil, nil, "")

	transfer, err := svc.InitiateTransfer(context.Background(), InitiateTransferParams{
		SenderAccountID: sender.ID,
		SenderClientID:  sender.ClientID,
		Recipient:       recipient.ID,
		Amount:          100_00,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if transfer.Status != domain.TransferStatusCompleted {
		t.Fatalf("expected completed status, got %s", transfer.Status)
	}
	if len(repo.postedDrafts) != 2 {
		t.Fatalf("expected debit and credit legs, got %d postings", len(repo.postedDrafts))
	}
	if repo.postedAccounts[0] != sender.ID || repo.postedAccounts[1] != recipient.ID {
		t.Fatalf("expected debit then credit, got %v", repo.postedAccounts)
	}
	if repo.postedDrafts[0].ReferenceNumber != repo.postedDrafts[1].ReferenceNumber {
		t.Fatal("both legs must share the transfer reference")
	}
	if repo.postedDrafts[1].Direction != domain.DirectionCredit {
		t.Fatal("credit leg must override direction")
	}
}

func TestProcessTransfer_CreditFailureReversesDebit(t *testing.T) {
	sender, recipient := transferTestAccounts()
	recipientID := recipient.ID
	repo := &transferRepoStub{
		sender:    sender,
		recipient: recipient,
		transfer: &domain.P2PTransfer{
			ID:                 "p2p_test",
			SenderAccountID:    sender.ID,
			SenderClientID:     sender.ClientID,
			RecipientAccountID: &recipientID,
			Amount:             100_00,
			ReferenceNumber:    "RTB000000000001",
			Status:             domain.TransferStatusProcessing,
		},
		postErrByAcct: map[string]error{recipient.ID: store.ErrAccountNotTransactable},
	}
	svc := NewService(repo, nil, nil, nil, nil, "")

	declined, err := svc.ProcessTransfer(context.Background(), "p2p_test")
	var declineErr *domain.PolicyDeclineError
	if !errors.As(err, &declineErr) {
		t.Fatalf("expected policy decline error, got %v", err)
	}
	if declined.Status != domain.TransferStatusDeclined {
		t.Fatalf("expected declined status, got %s", declined.Status)
	}

	// Debit leg posted, then the compensating reversal: both against the sender.
	if len(repo.postedDrafts) != 2 {
		t.Fatalf("expected debit plus reversal, got %d postings", len(repo.postedDrafts))
	}
	if repo.postedAccounts[1] != sender.ID {
		t.Fatalf("reversal must credit the sender, got %s", repo.postedAccounts[1])
	}
	reversal := repo.postedDrafts[1]
	if reversal.ReferenceNumber != "RTB000000000001-R" {
		t.Fatalf("expected reversal reference with -R suffix, got %q", reversal.ReferenceNumber)
	}
	if reversal.Direction != domain.DirectionCredit {
		t.Fatal("reversal must be a credit")
	}
	if repo.declineReason == nil || *repo.declineReason != "Credit to recipient failed: Account is not in a transactable state" {
		t.Fatalf("unexpected decline reason: %v", repo.declineReason)
	}
}

func TestProcessTransfer_DebitFailureDeclinesWithoutReversal(t *testing.T) {
	sender, recipient := transferTestAccounts()
	recipientID := recipient.ID
	repo := &transferRepoStub{
		sender:    sender,
		recipient: recipient,
		transfer: &domain.P2PTransfer{
			ID:                 "p2p_test",
			SenderAccountID:    sender.ID,
			RecipientAccountID: &recipientID,
			Amount:             100_00,
			ReferenceNumber:    "RTB000000000002",
			Status:             domain.TransferStatusProcessing,
		},
		postErrByAcct: map[string]error{sender.ID: store.ErrInsufficientFunds},
	}
	svc := NewService(repo, nil, nil, nil, nil, "")

	declined, err := svc.ProcessTransfer(context.Background(), "p2p_test")
	var declineErr *domain.PolicyDeclineError
	if !errors.As(err, &declineErr) {
		t.Fatalf("expected policy decline error, got %v", err)
	}
	if declined.Status != domain.TransferStatusDeclined {
		t.Fatalf("expected declined status, got %s", declined.Status)
	}
	if len(repo.postedDrafts) != 0 {
		t.Fatalf("no leg should post when the debit fails, got %d", len(repo.postedDrafts))
	}
	if repo.declineReason == nil || *repo.declineReason != "Insufficient funds" {
		t.Fatalf("unexpected decline reason: %v", repo.declineReason)
	}
}

func TestProcessTransfer_CompletesUnheldPendingTransfer(t *testing.T) {
	sender, recipient := transferTestAccounts()
	recipientID := recipient.ID
	scheduled := time.Now().Add(-time.Hour)
	repo := &transferRepoStub{
		sender:    sender,
		recipient: recipient,
		transfer: &domain.P2PTransfer{
			ID:                 "p2p_test",
			SenderAccountID:    sender.ID,
			SenderClientID:     sender.ClientID,
			RecipientAccountID: &recipientID,
			Amount:             100_00,
			ReferenceNumber:    "RTB000000000003",
			TransferType:       domain.TransferTypeScheduled,
			ScheduledDate:      &scheduled,
			Status:             domain.TransferStatusPending,
		},
	}
	svc := NewService(repo, nil, nil, nil, nil, "")

	completed, err := svc.ProcessTransfer(context.Background(), "p2p_test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if completed.Status != domain.TransferStatusCompleted {
		t.Fatalf("expected completed status, got %s", completed.Status)
	}
	// The pending row is promoted under the guarded update before any posting.
	if len(repo.statusUpdates) < 2 || repo.statusUpdates[0] != domain.TransferStatusProcessing {
		t.Fatalf("expected promotion to processing before completion, got %v", repo.statusUpdates)
	}
	if len(repo.postedDrafts) != 2 {
		t.Fatalf("expected debit and credit legs, got %d postings", len(repo.postedDrafts))
	}
}

func TestProcessTransfer_RefusesHeldTransfer(t *testing.T) {
	sender, recipient := transferTestAccounts()
	recipientID := recipient.ID
	repo := &transferRepoStub{
		sender:    sender,
		recipient: recipient,
		transfer: &domain.P2PTransfer{
			ID:                 "p2p_test",
			SenderAccountID:    sender.ID,
			SenderClientID:     sender.ClientID,
			RecipientAccountID: &recipientID,
			Amount:             6000_00,
			Status:             domain.TransferStatusPending,
			RequiresApproval:   true,
		},
	}
	svc := NewService(repo, nil, nil, nil, nil, "")

	_, err := svc.ProcessTransfer(context.Background(), "p2p_test")
	var stateErr *domain.StateConflictError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected state conflict error, got %v", err)
	}
	if len(repo.postedDrafts) != 0 || len(repo.statusUpdates) != 0 {
		t.Fatal("a held transfer must stay pending and untouched")
	}
}

func TestProcessTransfer_UnclaimedTransferIsNotDeclined(t *testing.T) {
	sender, _ := transferTestAccounts()
	email := "friend@example.com"
	repo := &transferRepoStub{
		sender: sender,
		transfer: &domain.P2PTransfer{
			ID:              "p2p_test",
			SenderAccountID: sender.ID,
			SenderClientID:  sender.ClientID,
			RecipientEmail:  &email,
			Amount:          100_00,
			Status:          domain.TransferStatusPending,
		},
	}
	svc := NewService(repo, nil, nil, nil, nil, "")

	_, err := svc.ProcessTransfer(context.Background(), "p2p_test")
	var stateErr *domain.StateConflictError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected state conflict error, got %v", err)
	}
	if len(repo.statusUpdates) != 0 {
		t.Fatalf("an unclaimed transfer must keep waiting for its recipient, got updates %v", repo.statusUpdates)
	}
}

func TestApproveTransfer_SenderCannotApproveOwnTransfer(t *testing.T) {
	sender, recipient := transferTestAccounts()
	recipientID := recipient.ID
	repo := &transferRepoStub{
		sender:    sender,
		recipient: recipient,
		transfer: &domain.P2PTransfer{
			ID:                 "p2p_test",
			SenderAccountID:    sender.ID,
			SenderClientID:     sender.ClientID,
			RecipientAccountID: &recipientID,
			Amount:             6000_00,
			Status:             domain.TransferStatusPending,
			RequiresApproval:   true,
		},
	}
	svc := NewService(repo, nil, nil, nil, nil, "")

	_, err := svc.ApproveTransfer(context.Background(), "p2p_test", sender.ClientID)
	var sodErr *domain.SegregationOfDutiesError
	if !errors.As(err, &sodErr) {
		t.Fatalf("expected segregation of duties error, got %v", err)
	}
}

func TestCancelTransfer(t *testing.T) {
	sender, _ := transferTestAccounts()
	pending := func() *domain.P2PTransfer {
		return &domain.P2PTransfer{
			ID:              "p2p_test",
			SenderAccountID: sender.ID,
			SenderClientID:  sender.ClientID,
			Amount:          100_00,
			Status:          domain.TransferStatusPending,
		}
	}

	t.Run("sender cancels a pending transfer", func(t *testing.T) {
		repo := &transferRepoStub{sender: sender, transfer: pending()}
		svc := NewService(repo, nil, nil, nil, nil, "")
		cancelled, err := svc.CancelTransfer(context.Background(), "p2p_test", sender.ClientID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cancelled.Status != domain.TransferStatusCancelled {
			t.Fatalf("expected cancelled, got %s", cancelled.Status)
		}
	})

	t.Run("non-sender cannot cancel", func(t *testing.T) {
		repo := &transferRepoStub{sender: sender, transfer: pending()}
		svc := NewService(repo, nil, nil, nil, nil, "")
		_, err := svc.CancelTransfer(context.Background(), "p2p_test", "client-other")
		var vErr *domain.ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("completed transfer cannot be cancelled", func(t *testing.T) {
		completed := pending()
		completed.Status = domain.TransferStatusCompleted
		repo := &transferRepoStub{sender: sender, transfer: completed}
		svc := NewService(repo, nil, nil, nil, nil, "")
		_, err := svc.CancelTransfer(context.Background(), "p2p_test", sender.ClientID)
		var stateErr *domain.StateConflictError
		if !errors.As(err, &stateErr) {
			t.Fatalf("expected state conflict error, got %v", err)
		}
	})
}
