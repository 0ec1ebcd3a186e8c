package domain

import (
	"errors"
	"testing"
)

func TestEvaluateTransferLimits(t *testing.T) {
	premium := PolicyForTier(TierPremium)

	tests := []struct {
		name     string
		totals   TransferWindowTotals
		amount   int64
		wantRule LimitRule
	}{
		{
			name:   "within all limits",
			totals: TransferWindowTotals{DailyTotal: 1000_00, MonthlyTotal: 1000_00},
			amount: 500_00,
		},
		{
			name:     "per-transaction limit checked first",
			totals:   TransferWindowTotals{DailyTotal: 4999_00, MonthlyTotal: 24999_00, PendingCount: 10},
			amount:   2500_01,
			wantRule: LimitRulePerTransaction,
		},
		{
			name:   "landing exactly on the daily limit is allowed",
			totals: TransferWindowTotals{DailyTotal: 4000_00},
			amount: 1000_00,
		},
		{
			name:     "one cent over the daily limit rejects",
			totals:   TransferWindowTotals{DailyTotal: 4000_01},
			amount:   1000_00,
			wantRule: LimitRuleDaily,
		},
		{
			name:   "landing exactly on the monthly limit is allowed",
			totals: TransferWindowTotals{MonthlyTotal: 24000_00},
			amount: 1000_00,
		},
		{
			name:     "over the monthly limit rejects",
			totals:   TransferWindowTotals{MonthlyTotal: 24500_00},
			amount:   1000_00,
			wantRule: LimitRuleMonthly,
		},
		{
			name:     "pending ceiling rejects",
			totals:   TransferWindowTotals{PendingCount: 10},
			amount:   100_00,
			wantRule: LimitRulePendingCount,
		},
		{
			name:   "one below the pending ceiling is allowed",
			totals: TransferWindowTotals{PendingCount: 9},
			amount: 100_00,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := EvaluateTransferLimits(premium, tt.totals, tt.amount)
			if tt.wantRule == "" {
				if err != nil {
					t.Fatalf("expected transfer to be allowed, got %v", err)
				}
				return
			}
			var limitErr *LimitExceededError
			if !errors.As(err, &limitErr) {
				t.Fatalf("expected LimitExceededError, got %v", err)
			}
			if limitErr.Rule != tt.wantRule {
				t.Fatalf("expected rule %q, got %q", tt.wantRule, limitErr.Rule)
			}
		})
	}
}

func TestEvaluateTransferLimits_DailyDeclineReason(t *testing.T) {
	premium := PolicyForTier(TierPremium)
	err := EvaluateTransferLimits(premium, TransferWindowTotals{DailyTotal: 5000_00}, 1000_00)
	var limitErr *LimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected LimitExceededError, got %v", err)
	}
	if limitErr.Message != "Daily limit exceeded ($5000)" {
		t.Fatalf("unexpected decline reason: %q", limitErr.Message)
	}
}

func TestCanTransitionTransfer(t *testing.T) {
	tests := []struct {
		from TransferStatus
		to   TransferStatus
		want bool
	}{
		{TransferStatusPending, TransferStatusProcessing, true},
		{TransferStatusPending, TransferStatusCompleted, true},
		{TransferStatusPending, TransferStatusExpired, true},
		{TransferStatusProcessing, TransferStatusCompleted, true},
		{TransferStatusProcessing, TransferStatusDeclined, true},
		{TransferStatusProcessing, TransferStatusCancelled, false},
		{TransferStatusCompleted, TransferStatusDeclined, false},
		{TransferStatusDeclined, TransferStatusProcessing, false},
		{TransferStatusExpired, TransferStatusCompleted, false},
	}
	for _, tt := range tests {
		if got := CanTransitionTransfer(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransitionTransfer(%s, %s) = %t, want %t", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestUnclaimedRecipient(t *testing.T) {
	email := UnclaimedRecipient("taylor@example.com")
	if email.Email != "taylor@example.com" || email.Phone != "" {
		t.Fatalf("expected email contact, got %+v", email)
	}
	phone := UnclaimedRecipient("+15550123")
	if phone.Phone != "+15550123" || phone.Email != "" {
		t.Fatalf("expected phone contact, got %+v", phone)
	}
	if email.Resolved() || phone.Resolved() {
		t.Fatal("unclaimed recipients must not be resolved")
	}
	if !InternalRecipient("mma_1", "client_1").Resolved() {
		t.Fatal("internal recipient must be resolved")
	}
}

func TestSignedDelta(t *testing.T) {
	tests := []struct {
		name  string
		draft TransactionDraft
		want  int64
	}{
		{"deposit credits", TransactionDraft{Type: TransactionTypeDeposit, Amount: 100_00}, 100_00},
		{"interest credits", TransactionDraft{Type: TransactionTypeInterest, Amount: 42}, 42},
		{"withdrawal debits", TransactionDraft{Type: TransactionTypeWithdrawal, Amount: 100_00}, -100_00},
		{"p2p debits by default", TransactionDraft{Type: TransactionTypeP2P, Amount: 100_00}, -100_00},
		{"card debits", TransactionDraft{Type: TransactionTypeCard, Amount: 55_00}, -55_00},
		{"explicit credit override wins", TransactionDraft{Type: TransactionTypeP2P, Amount: 100_00, Direction: DirectionCredit}, 100_00},
		{"explicit debit override on deposit", TransactionDraft{Type: TransactionTypeDeposit, Amount: 100_00, Direction: DirectionDebit}, -100_00},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.draft.SignedDelta(); got != tt.want {
				t.Fatalf("SignedDelta() = %d, want %d", got, tt.want)
			}
		})
	}
}
