package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rosstax/ledger-service/internal/domain"
	"github.com/rosstax/ledger-service/internal/store"
)

func TestGenerateAccountNumber(t *testing.T) {
	number := GenerateAccountNumber("client-123", domain.AccountTypeChecking)
	if len(number) != 16 {
		t.Fatalf("expected 16-digit account number, got %d digits: %s", len(number), number)
	}
	for _, ch := range number {
		if ch < '0' || ch > '9' {
			t.Fatalf("account number contains non-digit %q: %s", ch, number)
		}
	}
	now := time.Now().UTC()
	wantPrefix := []byte{
		byte('0' + (now.Year()%100)/10),
		byte('0' + (now.Year()%100)%10),
		byte('0' + int(now.Month())/10),
		byte('0' + int(now.Month())%10),
	}
	if number[:4] != string(wantPrefix) {
		t.Fatalf("expected year+month prefix %s, got %s", wantPrefix, number[:4])
	}
}

func TestNewReferenceNumber(t *testing.T) {
	ref := NewReferenceNumber()
	if len(ref) != 15 {
		t.Fatalf("expected 15-char reference, got %d: %s", len(ref), ref)
	}
	if ref[:3] != "RTB" {
		t.Fatalf("expected RTB prefix, got %s", ref)
	}
	if ref == NewReferenceNumber() {
		t.Fatalf("two generated references collided: %s", ref)
	}
}

func TestDefaultAccountName(t *testing.T) {
	tests := []struct {
		accountType domain.AccountType
		want        string
	}{
		{domain.AccountTypeChecking, "Checking Account"},
		{domain.AccountTypeSavings, "Savings Account"},
		{domain.AccountTypeMoneyMarket, "Money Market Account"},
	}
	for _, tt := range tests {
		if got := defaultAccountName(tt.accountType); got != tt.want {
			t.Fatalf("%s: expected %q, got %q", tt.accountType, tt.want, got)
		}
	}
}

type openAccountRepoStub struct {
	store.Repository

	created *domain.Account
}

func (s *openAccountRepoStub) CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	s.created = account
	return account, nil
}

func TestOpenAccount(t *testing.T) {
	repo := &openAccountRepoStub{}
	svc := NewService(repo, nil, nil, nil, nil, "")

	account, err := svc.OpenAccount(context.Background(), OpenAccountParams{
		ClientID:    "client-1",
		AccountType: domain.AccountTypeSavings,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if account.AccountTier != domain.TierBasic {
		t.Fatalf("expected default basic tier, got %s", account.AccountTier)
	}
	if account.AccountName != "Savings Account" {
		t.Fatalf("expected default savings name, got %q", account.AccountName)
	}
	if account.RoutingNumber != domain.RoutingNumber {
		t.Fatalf("expected institution routing number, got %s", account.RoutingNumber)
	}
	if account.InterestRate != 1.50 {
		t.Fatalf("expected savings interest rate 1.50, got %v", account.InterestRate)
	}
	if account.TransactionLimit != 500_00 {
		t.Fatalf("expected basic per-transaction limit, got %d", account.TransactionLimit)
	}
	if account.Balance != 0 || account.AvailableBalance != 0 {
		t.Fatalf("expected zero opening balance, got %d/%d", account.Balance, account.AvailableBalance)
	}
}

func TestOpenAccount_Validation(t *testing.T) {
	svc := NewService(&openAccountRepoStub{}, nil, nil, nil, nil, "")

	tests := []struct {
		name   string
		params OpenAccountParams
	}{
		{"missing client id", OpenAccountParams{AccountType: domain.AccountTypeChecking}},
		{"unknown account type", OpenAccountParams{ClientID: "client-1", AccountType: "cd"}},
		{"unknown tier", OpenAccountParams{ClientID: "client-1", AccountType: domain.AccountTypeChecking, AccountTier: "platinum"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.OpenAccount(context.Background(), tt.params)
			var vErr *domain.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

type recordTxnRepoStub struct {
	store.Repository

	account   *domain.Account
	postErr   error
	posted    *domain.TransactionDraft
	postedFor string
}

func (s *recordTxnRepoStub) FindAccountByID(ctx context.Context, accountID string) (*domain.Account, error) {
	if s.account == nil {
		return nil, store.ErrAccountNotFound
	}
	return s.account, nil
}

func (s *recordTxnRepoStub) PostTransaction(ctx context.Context, accountID string, draft domain.TransactionDraft) (*domain.Transaction, error) {
	if s.postErr != nil {
		return nil, s.postErr
	}
	s.posted = &draft
	s.postedFor = accountID
	return &domain.Transaction{
		ID:              "txn_test",
		AccountID:       accountID,
		Type:            draft.Type,
		Amount:          draft.Amount,
		ReferenceNumber: draft.ReferenceNumber,
		Status:          domain.TransactionStatusPosted,
	}, nil
}

func testAccount() *domain.Account {
	return &domain.Account{
		ID:               "mma_test",
		ClientID:         "client-1",
		AccountTier:      domain.TierBasic,
		AccountType:      domain.AccountTypeChecking,
		Balance:          1000_00,
		AvailableBalance: 1000_00,
		TransactionLimit: 500_00,
		Status:           domain.AccountStatusActive,
	}
}

func TestRecordTransaction_RejectsDebitOverPerTransactionLimit(t *testing.T) {
	repo := &recordTxnRepoStub{account: testAccount()}
	svc := NewService(repo, nil, nil, nil, nil, "")

	_, err := svc.RecordTransaction(context.Background(), "mma_test", domain.TransactionDraft{
		Type:        domain.TransactionTypeWithdrawal,
		Amount:      500_01,
		Description: "ATM withdrawal",
	})
	var limitErr *domain.LimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected limit error, got %v", err)
	}
	if limitErr.Rule != domain.LimitRulePerTransaction {
		t.Fatalf("expected per-transaction rule, got %s", limitErr.Rule)
	}
	if repo.posted != nil {
		t.Fatal("store must not be touched on a pre-check rejection")
	}
}

func TestRecordTransaction_CreditSkipsPerTransactionLimit(t *testing.T) {
	repo := &recordTxnRepoStub{account: testAccount()}
	svc := NewService(repo, nil, nil, nil, nil, "")

	txn, err := svc.RecordTransaction(context.Background(), "mma_test", domain.TransactionDraft{
		Type:        domain.TransactionTypeDeposit,
		Amount:      2000_00,
		Description: "Payroll deposit",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txn.ReferenceNumber == "" || txn.ReferenceNumber[:3] != "RTB" {
		t.Fatalf("expected auto-generated RTB reference, got %q", txn.ReferenceNumber)
	}
}

func TestRecordTransaction_MapsStoreSentinels(t *testing.T) {
	tests := []struct {
		name    string
		postErr error
		check   func(t *testing.T, err error)
	}{
		{
			name:    "insufficient funds",
			postErr: store.ErrInsufficientFunds,
			check: func(t *testing.T, err error) {
				var fundsErr *domain.InsufficientFundsError
				if !errors.As(err, &fundsErr) {
					t.Fatalf("expected insufficient funds error, got %v", err)
				}
				if fundsErr.Requested != 100_00 {
					t.Fatalf("expected requested=10000, got %d", fundsErr.Requested)
				}
			},
		},
		{
			name:    "account not transactable",
			postErr: store.ErrAccountNotTransactable,
			check: func(t *testing.T, err error) {
				var stateErr *domain.StateConflictError
				if !errors.As(err, &stateErr) {
					t.Fatalf("expected state conflict error, got %v", err)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &recordTxnRepoStub{account: testAccount(), postErr: tt.postErr}
			svc := NewService(repo, nil, nil, nil, nil, "")
			_, err := svc.RecordTransaction(context.Background(), "mma_test", domain.TransactionDraft{
				Type:        domain.TransactionTypeWithdrawal,
				Amount:      100_00,
				Description: "Withdrawal",
			})
			tt.check(t, err)
		})
	}
}

func TestAccrueMonthlyInterest(t *testing.T) {
	period := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		balance    int64
		rate       float64
		wantCents  int64
		wantPosted bool
	}{
		{
			// 100000.00 * 2.25% / 12 = 187.50 -> 18750 cents
			name:       "money market balance accrues",
			balance:    100000_00,
			rate:       2.25,
			wantCents:  18750,
			wantPosted: true,
		},
		{
			// 10.00 * 0.01% / 12 rounds to zero cents
			name:       "tiny checking balance rounds to nothing",
			balance:    10_00,
			rate:       0.01,
			wantPosted: false,
		},
		{
			name:       "zero balance posts nothing",
			balance:    0,
			rate:       2.25,
			wantPosted: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &recordTxnRepoStub{}
			svc := NewService(repo, nil, nil, nil, nil, "")
			account := testAccount()
			account.Balance = tt.balance
			account.InterestRate = tt.rate

			txn, err := svc.AccrueMonthlyInterest(context.Background(), account, period)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.wantPosted {
				if txn != nil {
					t.Fatalf("expected no posting, got %+v", txn)
				}
				return
			}
			if txn == nil {
				t.Fatal("expected a posted transaction")
			}
			if txn.Amount != tt.wantCents {
				t.Fatalf("expected %d cents of interest, got %d", tt.wantCents, txn.Amount)
			}
			if repo.posted.ReferenceNumber != "INT-202602-mma_test" {
				t.Fatalf("expected period-scoped reference, got %q", repo.posted.ReferenceNumber)
			}
		})
	}
}

func TestChargeMonthlyFee(t *testing.T) {
	period := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	t.Run("basic tier carries no fee", func(t *testing.T) {
		repo := &recordTxnRepoStub{}
		svc := NewService(repo, nil, nil, nil, nil, "")
		account := testAccount()

		txn, err := svc.ChargeMonthlyFee(context.Background(), account, period)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if txn != nil {
			t.Fatalf("expected no fee posting for basic tier, got %+v", txn)
		}
	})

	t.Run("premium tier posts the maintenance fee", func(t *testing.T) {
		repo := &recordTxnRepoStub{}
		svc := NewService(repo, nil, nil, nil, nil, "")
		account := testAccount()
		account.AccountTier = domain.TierPremium

		txn, err := svc.ChargeMonthlyFee(context.Background(), account, period)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if txn.Amount != 9_95 {
			t.Fatalf("expected 995-cent fee, got %d", txn.Amount)
		}
		if repo.posted.ReferenceNumber != "FEE-202602-mma_test" {
			t.Fatalf("expected period-scoped reference, got %q", repo.posted.ReferenceNumber)
		}
	})
}
