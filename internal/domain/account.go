/**
 * @description
 * This file defines the account model for the ledger core, along with the
 * tier policy tables that drive transaction, transfer, and card limits.
 * These structs map directly to the `money_accounts` table.
 *
 * @notes
 * - Amounts are stored as `int64` in cents, which avoids floating-point
 *   inaccuracies with financial data. Limit constants below are therefore
 *   100x the dollar figures in the product docs.
 * - Accounts are created at onboarding and mutated only by the transaction
 *   poster and the tier-upgrade operation.
 */

package domain

import "time"

// AccountType identifies the deposit product an account belongs to.
type AccountType string

const (
	AccountTypeChecking    AccountType = "checking"
	AccountTypeSavings     AccountType = "savings"
	AccountTypeMoneyMarket AccountType = "money_market"
)

// AccountTier is the service level that determines an account's limits.
type AccountTier string

const (
	TierBasic    AccountTier = "basic"
	TierPremium  AccountTier = "premium"
	TierBusiness AccountTier = "business"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusFrozen    AccountStatus = "frozen"
	AccountStatusSuspended AccountStatus = "suspended"
	AccountStatusClosed    AccountStatus = "closed"
)

// RoutingNumber is the institution's ABA routing number, issued by the
// Federal Reserve. All accounts share it.
const RoutingNumber = "011401533"

// FDICCoverageLimit is the insured amount per depositor, per ownership
// category, in cents.
const FDICCoverageLimit int64 = 250000_00

// Account represents a client's money management account. This is the sole
// source of truth for balances; it maps to the `money_accounts` table.
type Account struct {
	ID                 string        `json:"id"`
	ClientID           string        `json:"client_id"`
	AccountNumber      string        `json:"account_number"`
	RoutingNumber      string        `json:"routing_number"`
	AccountType        AccountType   `json:"account_type"`
	AccountTier        AccountTier   `json:"account_tier"`
	AccountName        string        `json:"account_name"`
	Balance            int64         `json:"balance"`           // in cents
	AvailableBalance   int64         `json:"available_balance"` // in cents
	DailyLimit         int64         `json:"daily_limit"`
	MonthlyLimit       int64         `json:"monthly_limit"`
	TransactionLimit   int64         `json:"transaction_limit"`
	OverdraftProtected bool          `json:"overdraft_protection"`
	OverdraftLimit     int64         `json:"overdraft_limit"`
	InterestRate       float64       `json:"interest_rate"` // annual, percent
	FDICInsured        bool          `json:"fdic_insured"`
	FDICCoverage       int64         `json:"fdic_coverage"`
	Status             AccountStatus `json:"status"`
	CreatedAt          time.Time     `json:"created_at"`
	LastTransactionAt  *time.Time    `json:"last_transaction_at,omitempty"`
}

// TierPolicy bundles the per-tier limits applied to accounts, P2P transfers,
// and debit cards.
type TierPolicy struct {
	Tier AccountTier

	// Account-level limits (cents).
	DailyLimit       int64
	MonthlyLimit     int64
	TransactionLimit int64
	OverdraftLimit   int64
	MonthlyFee       int64

	// P2P transfer limits (cents), plus the pending-transfer ceiling.
	TransferPerTransaction int64
	TransferDailyLimit     int64
	TransferMonthlyLimit   int64
	TransferMaxPending     int

	// Card limits (cents).
	CardDailyLimit       int64
	CardTransactionLimit int64
	CardATMDailyLimit    int64
}

var tierPolicies = map[AccountTier]TierPolicy{
	TierBasic: {
		Tier:                   TierBasic,
		DailyLimit:             1000_00,
		MonthlyLimit:           5000_00,
		TransactionLimit:       500_00,
		OverdraftLimit:         0,
		MonthlyFee:             0,
		TransferPerTransaction: 500_00,
		TransferDailyLimit:     1000_00,
		TransferMonthlyLimit:   5000_00,
		TransferMaxPending:     3,
		CardDailyLimit:         1000_00,
		CardTransactionLimit:   500_00,
		CardATMDailyLimit:      300_00,
	},
	TierPremium: {
		Tier:                   TierPremium,
		DailyLimit:             5000_00,
		MonthlyLimit:           25000_00,
		TransactionLimit:       2500_00,
		OverdraftLimit:         500_00,
		MonthlyFee:             9_95,
		TransferPerTransaction: 2500_00,
		TransferDailyLimit:     5000_00,
		TransferMonthlyLimit:   25000_00,
		TransferMaxPending:     10,
		CardDailyLimit:         5000_00,
		CardTransactionLimit:   2500_00,
		CardATMDailyLimit:      1000_00,
	},
	TierBusiness: {
		Tier:                   TierBusiness,
		DailyLimit:             25000_00,
		MonthlyLimit:           150000_00,
		TransactionLimit:       10000_00,
		OverdraftLimit:         2500_00,
		MonthlyFee:             24_95,
		TransferPerTransaction: 10000_00,
		TransferDailyLimit:     25000_00,
		TransferMonthlyLimit:   150000_00,
		TransferMaxPending:     50,
		CardDailyLimit:         25000_00,
		CardTransactionLimit:   10000_00,
		CardATMDailyLimit:      5000_00,
	},
}

// PolicyForTier returns the limit policy for a tier. Unknown tiers fall back
// to basic, the most restrictive policy.
func PolicyForTier(tier AccountTier) TierPolicy {
	if policy, ok := tierPolicies[tier]; ok {
		return policy
	}
	return tierPolicies[TierBasic]
}

// ValidTier reports whether the given tier is one of the supported levels.
func ValidTier(tier AccountTier) bool {
	_, ok := tierPolicies[tier]
	return ok
}

// InterestRateForType returns the default annual interest rate (percent) for
// a deposit product.
func InterestRateForType(accountType AccountType) float64 {
	switch accountType {
	case AccountTypeSavings:
		return 1.50
	case AccountTypeMoneyMarket:
		return 2.25
	default:
		return 0.01
	}
}

// ValidAccountType reports whether the given account type is supported.
func ValidAccountType(accountType AccountType) bool {
	switch accountType {
	case AccountTypeChecking, AccountTypeSavings, AccountTypeMoneyMarket:
		return true
	}
	return false
}

// FDICCoverageSummary aggregates a client's deposits against FDIC insurance
// limits ($250K per depositor, per account ownership category).
type FDICCoverageSummary struct {
	TotalDeposits      int64 `json:"total_deposits"`
	CheckingBalance    int64 `json:"checking_balance"`
	SavingsBalance     int64 `json:"savings_balance"`
	MoneyMarketBalance int64 `json:"money_market_balance"`
	CheckingCoverage   int64 `json:"checking_coverage"`
	SavingsCoverage    int64 `json:"savings_coverage"`
	TotalCovered       int64 `json:"total_covered"`
	ExcessUninsured    int64 `json:"excess_uninsured"`
}

// SummarizeFDICCoverage computes coverage across a client's accounts.
// Checking is one ownership category; savings and money market share another.
func SummarizeFDICCoverage(accounts []Account) FDICCoverageSummary {
	var summary FDICCoverageSummary
	for _, account := range accounts {
		switch account.AccountType {
		case AccountTypeChecking:
			summary.CheckingBalance += account.Balance
		case AccountTypeSavings:
			summary.SavingsBalance += account.Balance
		case AccountTypeMoneyMarket:
			summary.MoneyMarketBalance += account.Balance
		}
	}
	summary.TotalDeposits = summary.CheckingBalance + summary.SavingsBalance + summary.MoneyMarketBalance

	summary.CheckingCoverage = minInt64(summary.CheckingBalance, FDICCoverageLimit)
	summary.SavingsCoverage = minInt64(summary.SavingsBalance+summary.MoneyMarketBalance, FDICCoverageLimit)
	summary.TotalCovered = summary.CheckingCoverage + summary.SavingsCoverage
	if excess := summary.TotalDeposits - summary.TotalCovered; excess > 0 {
		summary.ExcessUninsured = excess
	}
	return summary
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
