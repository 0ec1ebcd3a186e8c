/**
 * @description
 * This file contains the core business logic for the ledger-service. The
 * `Service` struct orchestrates account lifecycle and ledger posting,
 * coordinating between the database repository, the partner bank API client,
 * and the message broker. The transfer, card, and refund workflows build on
 * it in sibling files.
 *
 * Key features:
 * - Account opening with generated account numbers and tier-based limits.
 * - Validated transaction posting with typed decline errors.
 * - FDIC coverage aggregation across a client's accounts.
 * - Monthly fee and interest runs using exact decimal arithmetic.
 * - Publishes events to RabbitMQ for asynchronous processing by other services.
 *
 * @dependencies
 * - context, crypto/rand, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For entity id generation.
 * - github.com/shopspring/decimal: Interest and fee math without float drift.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/bankpartner, pkg/iamclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rosstax/ledger-service/internal/domain"
	"github.com/rosstax/ledger-service/internal/store"
	"github.com/rosstax/ledger-service/pkg/bankpartner"
	"github.com/rosstax/ledger-service/pkg/iamclient"
	"github.com/rosstax/ledger-service/pkg/rabbitmq"
)

// Service provides the core business logic for the ledger.
type Service struct {
	repo            store.Repository
	eventProducer   rabbitmq.Publisher
	iamClient       *iamclient.Client
	partnerClient   *bankpartner.Client
	rateLimiter     *RedisTransferRateLimiter
	partnerBankName string
}

// NewService creates a new ledger service instance.
func NewService(repo store.Repository, producer rabbitmq.Publisher, iam *iamclient.Client, partner *bankpartner.Client, limiter *RedisTransferRateLimiter, partnerBankName string) *Service {
	return &Service{
		repo:            repo,
		eventProducer:   producer,
		iamClient:       iam,
		partnerClient:   partner,
		rateLimiter:     limiter,
		partnerBankName: partnerBankName,
	}
}

func newEntityID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// randomDigits returns n decimal digits from crypto/rand.
func randomDigits(n int) string {
	digits := make([]byte, n)
	for i := range digits {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			// crypto/rand only fails if the OS entropy source is broken.
			panic(fmt.Sprintf("crypto/rand failure: %v", err))
		}
		digits[i] = byte('0' + v.Int64())
	}
	return string(digits)
}

// GenerateAccountNumber builds a 16-digit account number: two-digit year,
// two-digit month, a six-digit hash of client id and account type, and a
// four-digit random suffix for uniqueness.
func GenerateAccountNumber(clientID string, accountType domain.AccountType) string {
	now := time.Now().UTC()
	var sum int
	for _, ch := range clientID + string(accountType) {
		sum += int(ch)
	}
	hash := fmt.Sprintf("%06d", sum)
	if len(hash) > 6 {
		hash = hash[:6]
	}
	return fmt.Sprintf("%02d%02d%s%s", now.Year()%100, int(now.Month()), hash, randomDigits(4))
}

// OpenAccountParams carries the inputs for opening a money management account.
type OpenAccountParams struct {
	ClientID    string
	AccountType domain.AccountType
	AccountTier domain.AccountTier
	AccountName string
}

// OpenAccount creates a new money management account with tier-based limits
// and a zero balance.
func (s *Service) OpenAccount(ctx context.Context, params OpenAccountParams) (*domain.Account, error) {
	if strings.TrimSpace(params.ClientID) == "" {
		return nil, &domain.ValidationError{Field: "client_id", Message: "client_id is required"}
	}
	if !domain.ValidAccountType(params.AccountType) {
		return nil, &domain.ValidationError{Field: "account_type", Message: "account_type must be checking, savings, or money_market"}
	}
	tier := params.AccountTier
	if tier == "" {
		tier = domain.TierBasic
	}
	if !domain.ValidTier(tier) {
		return nil, &domain.ValidationError{Field: "account_tier", Message: "account_tier must be basic, premium, or business"}
	}

	policy := domain.PolicyForTier(tier)
	name := strings.TrimSpace(params.AccountName)
	if name == "" {
		name = defaultAccountName(params.AccountType)
	}

	account := &domain.Account{
		ID:                 newEntityID("mma"),
		ClientID:           params.ClientID,
		AccountNumber:      GenerateAccountNumber(params.ClientID, params.AccountType),
		RoutingNumber:      domain.RoutingNumber,
		AccountType:        params.AccountType,
		AccountTier:        tier,
		AccountName:        name,
		Balance:            0,
		AvailableBalance:   0,
		DailyLimit:         policy.DailyLimit,
		MonthlyLimit:       policy.MonthlyLimit,
		TransactionLimit:   policy.TransactionLimit,
		OverdraftProtected: policy.OverdraftLimit > 0,
		OverdraftLimit:     policy.OverdraftLimit,
		InterestRate:       domain.InterestRateForType(params.AccountType),
		FDICInsured:        true,
		FDICCoverage:       domain.FDICCoverageLimit,
		Status:             domain.AccountStatusActive,
	}

	created, err := s.repo.CreateAccount(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	log.Printf("level=info component=ledger_service op=open_account account_id=%s client_id=%s type=%s tier=%s", created.ID, created.ClientID, created.AccountType, created.AccountTier)

	s.publishEvent(ctx, rabbitmq.LedgerEvent{
		EntityType: "account",
		EntityID:   created.ID,
		Action:     "opened",
		ClientID:   created.ClientID,
		AccountID:  created.ID,
	})
	return created, nil
}

func defaultAccountName(accountType domain.AccountType) string {
	switch accountType {
	case domain.AccountTypeSavings:
		return "Savings Account"
	case domain.AccountTypeMoneyMarket:
		return "Money Market Account"
	default:
		return "Checking Account"
	}
}

// GetAccount retrieves an account by id.
func (s *Service) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err == store.ErrAccountNotFound {
		return nil, &domain.NotFoundError{Entity: "account", ID: accountID}
	}
	return account, err
}

// ListClientAccounts lists a client's accounts, oldest first.
func (s *Service) ListClientAccounts(ctx context.Context, clientID string) ([]domain.Account, error) {
	return s.repo.FindAccountsByClientID(ctx, clientID)
}

// FDICCoverage computes insured and uninsured deposit totals across a
// client's accounts.
func (s *Service) FDICCoverage(ctx context.Context, clientID string) (*domain.FDICCoverageSummary, error) {
	accounts, err := s.repo.FindAccountsByClientID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	summary := domain.SummarizeFDICCoverage(accounts)
	return &summary, nil
}

// UpgradeTier moves an account to a new tier, refreshing its limit columns.
func (s *Service) UpgradeTier(ctx context.Context, accountID string, newTier domain.AccountTier) (*domain.Account, error) {
	if !domain.ValidTier(newTier) {
		return nil, &domain.ValidationError{Field: "account_tier", Message: "account_tier must be basic, premium, or business"}
	}
	account, err := s.repo.UpdateAccountTier(ctx, accountID, newTier)
	if err == store.ErrAccountNotFound {
		return nil, &domain.NotFoundError{Entity: "account", ID: accountID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade tier: %w", err)
	}
	log.Printf("level=info component=ledger_service op=upgrade_tier account_id=%s tier=%s", accountID, newTier)

	s.publishEvent(ctx, rabbitmq.LedgerEvent{
		EntityType: "account",
		EntityID:   accountID,
		Action:     "tier_upgraded",
		ClientID:   account.ClientID,
		AccountID:  accountID,
		Detail:     string(newTier),
	})
	return account, nil
}

// RecordTransaction validates and posts a ledger transaction against an
// account. Debits exceeding the account's per-transaction limit are rejected
// before the store is touched; balance and status checks happen inside the
// store under the account row lock.
func (s *Service) RecordTransaction(ctx context.Context, accountID string, draft domain.TransactionDraft) (*domain.Transaction, error) {
	if draft.Amount <= 0 {
		return nil, &domain.ValidationError{Field: "amount", Message: "amount must be a positive number of cents"}
	}
	if !domain.ValidTransactionType(draft.Type) {
		return nil, &domain.ValidationError{Field: "transaction_type", Message: "unknown transaction type"}
	}
	if strings.TrimSpace(draft.Description) == "" {
		return nil, &domain.ValidationError{Field: "description", Message: "description is required"}
	}

	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if draft.EffectiveDirection() == domain.DirectionDebit && draft.Amount > account.TransactionLimit {
		return nil, &domain.LimitExceededError{
			Rule:    domain.LimitRulePerTransaction,
			Limit:   account.TransactionLimit,
			Message: fmt.Sprintf("Transaction exceeds per-transaction limit of $%.2f", float64(account.TransactionLimit)/100),
		}
	}
	if draft.ReferenceNumber == "" {
		draft.ReferenceNumber = NewReferenceNumber()
	}

	txn, err := s.repo.PostTransaction(ctx, accountID, draft)
	if err != nil {
		return nil, s.mapPostingError(err, account, draft.Amount)
	}
	log.Printf("level=info component=ledger_service op=post_transaction account_id=%s txn_id=%s type=%s amount=%d balance_after=%d", accountID, txn.ID, txn.Type, txn.Amount, txn.BalanceAfter)

	s.publishEvent(ctx, rabbitmq.LedgerEvent{
		EntityType: "transaction",
		EntityID:   txn.ID,
		Action:     "posted",
		ClientID:   account.ClientID,
		AccountID:  accountID,
		Amount:     txn.Amount,
	})
	return txn, nil
}

// mapPostingError converts store sentinels into typed domain errors.
func (s *Service) mapPostingError(err error, account *domain.Account, amount int64) error {
	switch err {
	case store.ErrInsufficientFunds:
		return &domain.InsufficientFundsError{
			AccountID: account.ID,
			Available: account.AvailableBalance,
			Requested: amount,
		}
	case store.ErrAccountNotTransactable:
		return &domain.StateConflictError{
			Entity:  "account",
			ID:      account.ID,
			State:   string(account.Status),
			Message: "account is not in a transactable state",
		}
	case store.ErrAccountNotFound:
		return &domain.NotFoundError{Entity: "account", ID: account.ID}
	}
	return err
}

// TransactionHistory lists an account's ledger, newest first.
func (s *Service) TransactionHistory(ctx context.Context, accountID string, limit, offset int) ([]domain.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.repo.FindTransactionsByAccountID(ctx, accountID, limit, offset)
}

// NewReferenceNumber builds a ledger reference: the RTB prefix plus twelve
// random digits.
func NewReferenceNumber() string {
	return "RTB" + randomDigits(12)
}

// AccrueMonthlyInterest posts one month of interest to an account. The
// reference embeds the accrual period, so re-running the job for the same
// month is a no-op. Returns nil, nil when the computed interest rounds to
// zero cents.
func (s *Service) AccrueMonthlyInterest(ctx context.Context, account *domain.Account, period time.Time) (*domain.Transaction, error) {
	if account.InterestRate <= 0 || account.Balance <= 0 {
		return nil, nil
	}

	// monthly interest = balance * (annual rate / 100) / 12, rounded to cents
	monthly := decimal.NewFromInt(account.Balance).
		Mul(decimal.NewFromFloat(account.InterestRate)).
		Div(decimal.NewFromInt(1200)).
		Round(0)
	cents := monthly.IntPart()
	if cents <= 0 {
		return nil, nil
	}

	draft := domain.TransactionDraft{
		Type:            domain.TransactionTypeInterest,
		Amount:          cents,
		Description:     fmt.Sprintf("Interest payment (%.2f%% APY)", account.InterestRate),
		ReferenceNumber: fmt.Sprintf("INT-%s-%s", period.Format("200601"), account.ID),
		Status:          domain.TransactionStatusPosted,
	}
	txn, err := s.repo.PostTransaction(ctx, account.ID, draft)
	if err != nil {
		return nil, fmt.Errorf("failed to post interest for account %s: %w", account.ID, err)
	}
	return txn, nil
}

// ChargeMonthlyFee posts the tier's monthly maintenance fee to an account.
// Basic tier accounts carry no fee. As with interest, the period-scoped
// reference makes the job idempotent per month.
func (s *Service) ChargeMonthlyFee(ctx context.Context, account *domain.Account, period time.Time) (*domain.Transaction, error) {
	policy := domain.PolicyForTier(account.AccountTier)
	if policy.MonthlyFee <= 0 {
		return nil, nil
	}

	draft := domain.TransactionDraft{
		Type:            domain.TransactionTypeFee,
		Amount:          policy.MonthlyFee,
		Description:     fmt.Sprintf("Monthly maintenance fee (%s tier)", account.AccountTier),
		ReferenceNumber: fmt.Sprintf("FEE-%s-%s", period.Format("200601"), account.ID),
		Status:          domain.TransactionStatusPosted,
	}
	txn, err := s.repo.PostTransaction(ctx, account.ID, draft)
	if err != nil {
		return nil, fmt.Errorf("failed to post monthly fee for account %s: %w", account.ID, err)
	}
	return txn, nil
}

// RunMonthlyAccrual walks all active accounts, posting interest and fees for
// the given period. Failures on individual accounts are logged and skipped so
// one bad account cannot stall the whole run.
func (s *Service) RunMonthlyAccrual(ctx context.Context, period time.Time) {
	const pageSize = 200
	offset := 0
	for {
		accounts, err := s.repo.ListActiveAccounts(ctx, pageSize, offset)
		if err != nil {
			log.Printf("level=error component=ledger_service op=monthly_accrual msg=\"failed to list accounts\" err=%v", err)
			return
		}
		if len(accounts) == 0 {
			return
		}
		for i := range accounts {
			account := &accounts[i]
			if _, err := s.AccrueMonthlyInterest(ctx, account, period); err != nil {
				log.Printf("level=warn component=ledger_service op=monthly_accrual account_id=%s msg=\"interest accrual failed\" err=%v", account.ID, err)
			}
			if _, err := s.ChargeMonthlyFee(ctx, account, period); err != nil {
				log.Printf("level=warn component=ledger_service op=monthly_accrual account_id=%s msg=\"fee charge failed\" err=%v", account.ID, err)
			}
		}
		offset += pageSize
	}
}

// publishEvent pushes a ledger event to the broker. Event delivery is best
// effort; a broker outage must not fail the money movement.
func (s *Service) publishEvent(ctx context.Context, event rabbitmq.LedgerEvent) {
	if s.eventProducer == nil {
		return
	}
	if err := s.eventProducer.PublishLedgerEvent(ctx, event); err != nil {
		log.Printf("level=warn component=ledger_service msg=\"event publish failed\" entity=%s entity_id=%s action=%s err=%v", event.EntityType, event.EntityID, event.Action, err)
	}
}
