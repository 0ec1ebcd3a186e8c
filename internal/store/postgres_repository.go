/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface
 * for accounts and ledger transactions. The transfer, card, and refund method
 * sets live in sibling files; they all share the `postTransactionTx` helper
 * defined here so every balance mutation goes through one code path.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/google/uuid: Entity id generation.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rosstax/ledger-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `
	id, client_id, account_number, routing_number, account_type, account_tier,
	account_name, balance, available_balance, daily_limit, monthly_limit,
	transaction_limit, overdraft_protection, overdraft_limit, interest_rate,
	fdic_insured, fdic_coverage, status, created_at, last_transaction_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var account domain.Account
	err := row.Scan(
		&account.ID,
		&account.ClientID,
		&account.AccountNumber,
		&account.RoutingNumber,
		&account.AccountType,
		&account.AccountTier,
		&account.AccountName,
		&account.Balance,
		&account.AvailableBalance,
		&account.DailyLimit,
		&account.MonthlyLimit,
		&account.TransactionLimit,
		&account.OverdraftProtected,
		&account.OverdraftLimit,
		&account.InterestRate,
		&account.FDICInsured,
		&account.FDICCoverage,
		&account.Status,
		&account.CreatedAt,
		&account.LastTransactionAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// CreateAccount inserts a new money management account.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	query := `
		INSERT INTO money_accounts (
			id, client_id, account_number, routing_number, account_type, account_tier,
			account_name, balance, available_balance, daily_limit, monthly_limit,
			transaction_limit, overdraft_protection, overdraft_limit, interest_rate,
			fdic_insured, fdic_coverage, status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NOW())
		RETURNING ` + accountColumns
	row := r.db.QueryRow(ctx, query,
		account.ID,
		account.ClientID,
		account.AccountNumber,
		account.RoutingNumber,
		account.AccountType,
		account.AccountTier,
		account.AccountName,
		account.Balance,
		account.AvailableBalance,
		account.DailyLimit,
		account.MonthlyLimit,
		account.TransactionLimit,
		account.OverdraftProtected,
		account.OverdraftLimit,
		account.InterestRate,
		account.FDICInsured,
		account.FDICCoverage,
		account.Status,
	)
	return scanAccount(row)
}

// FindAccountByID retrieves an account by its id.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID string) (*domain.Account, error) {
	query := `SELECT` + accountColumns + ` FROM money_accounts WHERE id = $1`
	return scanAccount(r.db.QueryRow(ctx, query, accountID))
}

// FindAccountsByClientID lists all accounts belonging to a client.
func (r *PostgresRepository) FindAccountsByClientID(ctx context.Context, clientID string) ([]domain.Account, error) {
	query := `SELECT` + accountColumns + ` FROM money_accounts WHERE client_id = $1 ORDER BY created_at ASC`
	rows, err := r.db.Query(ctx, query, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

// UpdateAccountTier moves an account to a new tier and refreshes the limit
// columns from the tier policy in the same statement.
func (r *PostgresRepository) UpdateAccountTier(ctx context.Context, accountID string, tier domain.AccountTier) (*domain.Account, error) {
	policy := domain.PolicyForTier(tier)
	query := `
		UPDATE money_accounts
		SET account_tier = $2,
			daily_limit = $3,
			monthly_limit = $4,
			transaction_limit = $5,
			overdraft_protection = $6,
			overdraft_limit = $7
		WHERE id = $1
		RETURNING ` + accountColumns
	row := r.db.QueryRow(ctx, query, accountID, tier,
		policy.DailyLimit, policy.MonthlyLimit, policy.TransactionLimit,
		policy.OverdraftLimit > 0, policy.OverdraftLimit)
	return scanAccount(row)
}

// ListActiveAccounts pages through active accounts in a stable order for
// batch jobs.
func (r *PostgresRepository) ListActiveAccounts(ctx context.Context, limit, offset int) ([]domain.Account, error) {
	query := `
		SELECT` + accountColumns + `
		FROM money_accounts
		WHERE status = 'active'
		ORDER BY created_at ASC, id ASC
		LIMIT $1 OFFSET $2`
	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

// UpdateAccountStatus sets an account's lifecycle state.
func (r *PostgresRepository) UpdateAccountStatus(ctx context.Context, accountID string, status domain.AccountStatus) error {
	tag, err := r.db.Exec(ctx, `UPDATE money_accounts SET status = $2 WHERE id = $1`, accountID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

const transactionColumns = `
	id, account_id, transaction_type, amount, balance_after, description,
	category, merchant_name, merchant_category, reference_number,
	source_account, destination_account, p2p_recipient_id, card_last4,
	check_number, status, posted_at, created_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var txn domain.Transaction
	err := row.Scan(
		&txn.ID,
		&txn.AccountID,
		&txn.Type,
		&txn.Amount,
		&txn.BalanceAfter,
		&txn.Description,
		&txn.Category,
		&txn.MerchantName,
		&txn.MerchantCategory,
		&txn.ReferenceNumber,
		&txn.SourceAccount,
		&txn.DestinationAccount,
		&txn.P2PRecipientID,
		&txn.CardLast4,
		&txn.CheckNumber,
		&txn.Status,
		&txn.PostedAt,
		&txn.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}

// postTransactionTx applies a draft against an account inside the caller's
// transaction. It locks the account row, enforces the transactable-status and
// funds checks, and writes both the ledger row and the new balance. Re-posting
// an existing (account_id, reference_number) pair returns the prior row
// without touching the balance.
func (r *PostgresRepository) postTransactionTx(ctx context.Context, tx pgx.Tx, accountID string, draft domain.TransactionDraft) (*domain.Transaction, error) {
	var (
		balance            int64
		overdraftProtected bool
		overdraftLimit     int64
		status             domain.AccountStatus
	)
	err := tx.QueryRow(ctx, `
		SELECT balance, overdraft_protection, overdraft_limit, status
		FROM money_accounts WHERE id = $1 FOR UPDATE`, accountID).
		Scan(&balance, &overdraftProtected, &overdraftLimit, &status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if status != domain.AccountStatusActive {
		return nil, ErrAccountNotTransactable
	}

	// Idempotency: the same reference posts at most once per account.
	if draft.ReferenceNumber != "" {
		existing, err := scanTransaction(tx.QueryRow(ctx,
			`SELECT`+transactionColumns+` FROM transactions WHERE account_id = $1 AND reference_number = $2`,
			accountID, draft.ReferenceNumber))
		if err == nil {
			return existing, nil
		}
		if err != ErrTransactionNotFound {
			return nil, err
		}
	}

	delta := draft.SignedDelta()
	newBalance := balance + delta
	if delta < 0 {
		floor := int64(0)
		if overdraftProtected {
			floor = -overdraftLimit
		}
		if newBalance < floor {
			return nil, ErrInsufficientFunds
		}
	}

	txnStatus := draft.Status
	if txnStatus == "" {
		txnStatus = domain.TransactionStatusPosted
	}
	now := time.Now().UTC()
	var postedAt *time.Time
	if txnStatus == domain.TransactionStatusPosted {
		postedAt = &now
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO transactions (
			id, account_id, transaction_type, amount, balance_after, description,
			category, merchant_name, merchant_category, reference_number,
			source_account, destination_account, p2p_recipient_id, card_last4,
			check_number, status, posted_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING `+transactionColumns,
		"txn_"+uuid.NewString(),
		accountID,
		draft.Type,
		draft.Amount,
		newBalance,
		draft.Description,
		draft.Category,
		draft.MerchantName,
		draft.MerchantCategory,
		draft.ReferenceNumber,
		draft.SourceAccount,
		draft.DestinationAccount,
		draft.P2PRecipientID,
		draft.CardLast4,
		draft.CheckNumber,
		txnStatus,
		postedAt,
		now,
	)
	txn, err := scanTransaction(row)
	if err != nil {
		return nil, err
	}

	if txnStatus == domain.TransactionStatusPosted {
		_, err = tx.Exec(ctx, `
			UPDATE money_accounts
			SET balance = balance + $2,
				available_balance = available_balance + $2,
				last_transaction_at = $3
			WHERE id = $1`, accountID, delta, now)
		if err != nil {
			return nil, err
		}
	}
	return txn, nil
}

// PostTransaction applies a draft against an account in its own database
// transaction.
func (r *PostgresRepository) PostTransaction(ctx context.Context, accountID string, draft domain.TransactionDraft) (*domain.Transaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	txn, err := r.postTransactionTx(ctx, tx, accountID, draft)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return txn, nil
}

// FindTransactionByID retrieves a single ledger row.
func (r *PostgresRepository) FindTransactionByID(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	query := `SELECT` + transactionColumns + ` FROM transactions WHERE id = $1`
	return scanTransaction(r.db.QueryRow(ctx, query, transactionID))
}

// FindTransactionsByAccountID lists an account's ledger, newest first.
func (r *PostgresRepository) FindTransactionsByAccountID(ctx context.Context, accountID string, limit, offset int) ([]domain.Transaction, error) {
	query := `
		SELECT` + transactionColumns + `
		FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *txn)
	}
	return txns, rows.Err()
}

// FindTransactionByReference looks up a ledger row by its idempotency key.
func (r *PostgresRepository) FindTransactionByReference(ctx context.Context, accountID, referenceNumber string) (*domain.Transaction, error) {
	query := `SELECT` + transactionColumns + ` FROM transactions WHERE account_id = $1 AND reference_number = $2`
	return scanTransaction(r.db.QueryRow(ctx, query, accountID, referenceNumber))
}
