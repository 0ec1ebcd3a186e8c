package app

import (
	"context"
	"errors"
	"testing"

	"github.com/rosstax/ledger-service/internal/domain"
	"github.com/rosstax/ledger-service/internal/store"
)

type refundRepoStub struct {
	store.Repository

	account  *domain.Account
	transfer *domain.RefundTransfer
	advance  *domain.RefundAdvance

	createErr      error
	created        *domain.RefundTransfer
	createdAdvance *domain.RefundAdvance
	statusUpdates  []domain.RefundTransferStatus
	postedDraft    *domain.TransactionDraft
	postedAccount  string
}

func (s *refundRepoStub) FindAccountByID(ctx context.Context, accountID string) (*domain.Account, error) {
	if s.account == nil || s.account.ID != accountID {
		return nil, store.ErrAccountNotFound
	}
	return s.account, nil
}

func (s *refundRepoStub) CreateRefundTransfer(ctx context.Context, rt *domain.RefundTransfer) (*domain.RefundTransfer, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = rt
	s.transfer = rt
	return rt, nil
}

func (s *refundRepoStub) FindRefundTransferByID(ctx context.Context, refundID string) (*domain.RefundTransfer, error) {
	if s.transfer == nil || s.transfer.ID != refundID {
		return nil, store.ErrRefundTransferNotFound
	}
	return s.transfer, nil
}

func (s *refundRepoStub) ApproveRefundTransfer(ctx context.Context, refundID, approverID string, notes *string) (*domain.RefundTransfer, error) {
	if s.transfer.Status != domain.RefundStatusPendingApproval {
		return nil, store.ErrStaleStatus
	}
	updated := *s.transfer
	updated.Status = domain.RefundStatusApproved
	updated.ApprovedBy = &approverID
	updated.ApprovalNotes = notes
	s.transfer = &updated
	return &updated, nil
}

func (s *refundRepoStub) UpdateRefundStatus(ctx context.Context, refundID string, fromStatus, toStatus domain.RefundTransferStatus, actorID string, detail *string) (*domain.RefundTransfer, error) {
	if s.transfer.Status != fromStatus {
		return nil, store.ErrStaleStatus
	}
	s.statusUpdates = append(s.statusUpdates, toStatus)
	updated := *s.transfer
	updated.Status = toStatus
	s.transfer = &updated
	return &updated, nil
}

func (s *refundRepoStub) ListTimeline(ctx context.Context, refundID string) ([]domain.TimelineEvent, error) {
	return []domain.TimelineEvent{{TransferID: refundID, EventType: "submitted"}}, nil
}

func (s *refundRepoStub) CreateRefundAdvance(ctx context.Context, adv *domain.RefundAdvance) (*domain.RefundAdvance, error) {
	s.createdAdvance = adv
	s.advance = adv
	return adv, nil
}

func (s *refundRepoStub) FindRefundAdvanceByID(ctx context.Context, advanceID string) (*domain.RefundAdvance, error) {
	if s.advance == nil || s.advance.ID != advanceID {
		return nil, store.ErrRefundAdvanceNotFound
	}
	return s.advance, nil
}

func (s *refundRepoStub) UpdateRefundAdvanceStatus(ctx context.Context, advanceID string, fromStatus, toStatus domain.RefundAdvanceStatus, decidedBy *string) (*domain.RefundAdvance, error) {
	if s.advance.Status != fromStatus {
		return nil, store.ErrStaleStatus
	}
	updated := *s.advance
	updated.Status = toStatus
	s.advance = &updated
	return &updated, nil
}

func (s *refundRepoStub) PostTransaction(ctx context.Context, accountID string, draft domain.TransactionDraft) (*domain.Transaction, error) {
	s.postedDraft = &draft
	s.postedAccount = accountID
	return &domain.Transaction{ID: "txn_test", AccountID: accountID, Amount: draft.Amount}, nil
}

func validSubmission() SubmitRefundTransferParams {
	return SubmitRefundTransferParams{
		ReturnID:      4201,
		Amount:        3200_00,
		Fee:           450_00,
		SubmittedBy:   "staff-1",
		SubmitterType: "staff",
		ClientConsent: true,
	}
}

func TestSubmitRefundTransfer(t *testing.T) {
	repo := &refundRepoStub{}
	svc := NewService(repo, nil, nil, nil, nil, "Pathward")

	transfer, err := svc.SubmitRefundTransfer(context.Background(), validSubmission())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if transfer.Status != domain.RefundStatusPendingApproval {
		t.Fatalf("expected pending_supervisor_approval, got %s", transfer.Status)
	}
	if transfer.PartnerBank != "Pathward" {
		t.Fatalf("expected configured partner bank, got %q", transfer.PartnerBank)
	}
	if len(transfer.ID) < 4 || transfer.ID[:3] != "rt-" {
		t.Fatalf("expected rt- prefixed id, got %s", transfer.ID)
	}
	if transfer.NetAmount() != 2750_00 {
		t.Fatalf("expected net amount 275000, got %d", transfer.NetAmount())
	}
}

func TestSubmitRefundTransfer_Validation(t *testing.T) {
	svc := NewService(&refundRepoStub{}, nil, nil, nil, nil, "")

	tests := []struct {
		name   string
		mutate func(p *SubmitRefundTransferParams)
	}{
		{"missing return id", func(p *SubmitRefundTransferParams) { p.ReturnID = 0 }},
		{"zero amount", func(p *SubmitRefundTransferParams) { p.Amount = 0 }},
		{"negative fee", func(p *SubmitRefundTransferParams) { p.Fee = -1 }},
		{"fee swallows refund", func(p *SubmitRefundTransferParams) { p.Fee = p.Amount }},
		{"missing consent", func(p *SubmitRefundTransferParams) { p.ClientConsent = false }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := validSubmission()
			tt.mutate(&params)
			_, err := svc.SubmitRefundTransfer(context.Background(), params)
			var vErr *domain.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestSubmitRefundTransfer_RejectsSecondActiveTransfer(t *testing.T) {
	repo := &refundRepoStub{createErr: store.ErrActiveRefundExists}
	svc := NewService(repo, nil, nil, nil, nil, "")

	_, err := svc.SubmitRefundTransfer(context.Background(), validSubmission())
	var stateErr *domain.StateConflictError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected state conflict error, got %v", err)
	}
	if stateErr.Message != "Refund transfer already exists for this return" {
		t.Fatalf("unexpected conflict message: %q", stateErr.Message)
	}
}

func pendingRefundTransfer() *domain.RefundTransfer {
	return &domain.RefundTransfer{
		ID:            "rt-1700000000000",
		ReturnID:      4201,
		Amount:        3200_00,
		Fee:           450_00,
		Status:        domain.RefundStatusPendingApproval,
		SubmittedBy:   "staff-1",
		ClientConsent: true,
	}
}

func TestApproveRefundTransfer(t *testing.T) {
	repo := &refundRepoStub{transfer: pendingRefundTransfer()}
	svc := NewService(repo, nil, nil, nil, nil, "")

	approved, err := svc.ApproveRefundTransfer(context.Background(), "rt-1700000000000", "supervisor-1", "staff", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if approved.Status != domain.RefundStatusApproved {
		t.Fatalf("expected approved, got %s", approved.Status)
	}
	if approved.ApprovedBy == nil || *approved.ApprovedBy != "supervisor-1" {
		t.Fatalf("expected approver recorded, got %v", approved.ApprovedBy)
	}
}

func TestApproveRefundTransfer_SubmitterCannotApprove(t *testing.T) {
	repo := &refundRepoStub{transfer: pendingRefundTransfer()}
	svc := NewService(repo, nil, nil, nil, nil, "")

	_, err := svc.ApproveRefundTransfer(context.Background(), "rt-1700000000000", "staff-1", "staff", nil)
	var sodErr *domain.SegregationOfDutiesError
	if !errors.As(err, &sodErr) {
		t.Fatalf("expected segregation of duties error, got %v", err)
	}
}

func TestApproveRefundTransfer_RejectsNonPendingTransfer(t *testing.T) {
	transfer := pendingRefundTransfer()
	transfer.Status = domain.RefundStatusApproved
	repo := &refundRepoStub{transfer: transfer}
	svc := NewService(repo, nil, nil, nil, nil, "")

	_, err := svc.ApproveRefundTransfer(context.Background(), transfer.ID, "supervisor-1", "staff", nil)
	var stateErr *domain.StateConflictError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected state conflict error, got %v", err)
	}
}

func TestAdvanceRefundStatus(t *testing.T) {
	t.Run("walks the settlement ladder", func(t *testing.T) {
		transfer := pendingRefundTransfer()
		transfer.Status = domain.RefundStatusSubmittedToPartner
		repo := &refundRepoStub{transfer: transfer}
		svc := NewService(repo, nil, nil, nil, nil, "")

		for _, target := range []domain.RefundTransferStatus{
			domain.RefundStatusIRSAccepted,
			domain.RefundStatusFundsReleased,
			domain.RefundStatusCompleted,
		} {
			updated, err := svc.AdvanceRefundStatus(context.Background(), transfer.ID, target, "system", nil)
			if err != nil {
				t.Fatalf("advancing to %s: %v", target, err)
			}
			if updated.Status != target {
				t.Fatalf("expected %s, got %s", target, updated.Status)
			}
		}
	})

	t.Run("rejects a skipped step", func(t *testing.T) {
		transfer := pendingRefundTransfer()
		transfer.Status = domain.RefundStatusSubmittedToPartner
		repo := &refundRepoStub{transfer: transfer}
		svc := NewService(repo, nil, nil, nil, nil, "")

		_, err := svc.AdvanceRefundStatus(context.Background(), transfer.ID, domain.RefundStatusCompleted, "system", nil)
		var stateErr *domain.StateConflictError
		if !errors.As(err, &stateErr) {
			t.Fatalf("expected state conflict error, got %v", err)
		}
	})

	t.Run("rejects reopening a terminal transfer", func(t *testing.T) {
		transfer := pendingRefundTransfer()
		transfer.Status = domain.RefundStatusCompleted
		repo := &refundRepoStub{transfer: transfer}
		svc := NewService(repo, nil, nil, nil, nil, "")

		_, err := svc.AdvanceRefundStatus(context.Background(), transfer.ID, domain.RefundStatusFundsReleased, "system", nil)
		var stateErr *domain.StateConflictError
		if !errors.As(err, &stateErr) {
			t.Fatalf("expected state conflict error, got %v", err)
		}
	})
}

func TestRejectRefundTransfer_RequiresReason(t *testing.T) {
	repo := &refundRepoStub{transfer: pendingRefundTransfer()}
	svc := NewService(repo, nil, nil, nil, nil, "")

	_, err := svc.RejectRefundTransfer(context.Background(), "rt-1700000000000", "supervisor-1", "staff", "  ")
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRequestRefundAdvance(t *testing.T) {
	tests := []struct {
		name       string
		expected   int64
		requested  int64
		wantStatus domain.RefundAdvanceStatus
	}{
		{"within cap auto-approves", 4000_00, 3000_00, domain.AdvanceStatusApproved},
		{"exactly at cap auto-approves", 4000_00, 3500_00, domain.AdvanceStatusApproved},
		{"over cap stays pending", 6000_00, 3500_01, domain.AdvanceStatusPending},
		{"over expected refund stays pending", 2000_00, 2500_00, domain.AdvanceStatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &refundRepoStub{account: testAccount()}
			svc := NewService(repo, nil, nil, nil, nil, "")

			advance, err := svc.RequestRefundAdvance(context.Background(), RequestRefundAdvanceParams{
				ClientID:       "client-1",
				ReturnID:       4201,
				AccountID:      "mma_test",
				ExpectedRefund: tt.expected,
				Requested:      tt.requested,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if advance.Status != tt.wantStatus {
				t.Fatalf("expected %s, got %s", tt.wantStatus, advance.Status)
			}
			if tt.wantStatus == domain.AdvanceStatusApproved {
				if advance.ApprovedAmount == nil || *advance.ApprovedAmount != tt.requested {
					t.Fatalf("expected approved amount %d, got %v", tt.requested, advance.ApprovedAmount)
				}
			} else if advance.ApprovedAmount != nil {
				t.Fatal("pending advance must not carry an approved amount")
			}
		})
	}
}

func TestDisburseRefundAdvance(t *testing.T) {
	amount := int64(3000_00)

	t.Run("posts the deposit and marks disbursed", func(t *testing.T) {
		repo := &refundRepoStub{
			account: testAccount(),
			advance: &domain.RefundAdvance{
				ID:             "adv_test",
				ClientID:       "client-1",
				AccountID:      "mma_test",
				ApprovedAmount: &amount,
				Status:         domain.AdvanceStatusApproved,
			},
		}
		svc := NewService(repo, nil, nil, nil, nil, "")

		disbursed, err := svc.DisburseRefundAdvance(context.Background(), "adv_test")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if disbursed.Status != domain.AdvanceStatusDisbursed {
			t.Fatalf("expected disbursed, got %s", disbursed.Status)
		}
		if repo.postedAccount != "mma_test" {
			t.Fatalf("expected deposit to client account, got %s", repo.postedAccount)
		}
		if repo.postedDraft.Type != domain.TransactionTypeDeposit || repo.postedDraft.Amount != amount {
			t.Fatalf("unexpected posting: %+v", repo.postedDraft)
		}
		if repo.postedDraft.ReferenceNumber != "ADV-adv_test" {
			t.Fatalf("expected advance-scoped reference, got %q", repo.postedDraft.ReferenceNumber)
		}
	})

	t.Run("rejects a pending advance", func(t *testing.T) {
		repo := &refundRepoStub{
			advance: &domain.RefundAdvance{ID: "adv_test", Status: domain.AdvanceStatusPending},
		}
		svc := NewService(repo, nil, nil, nil, nil, "")

		_, err := svc.DisburseRefundAdvance(context.Background(), "adv_test")
		var stateErr *domain.StateConflictError
		if !errors.As(err, &stateErr) {
			t.Fatalf("expected state conflict error, got %v", err)
		}
	})
}
