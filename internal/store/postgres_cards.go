/**
 * @description
 * PostgreSQL implementation of the debit card and authorization methods.
 * `ApproveAuthorizationWithPosting` pairs the authorization insert with the
 * card transaction posting in one database transaction, so an approval can
 * never exist without its ledger hold (and vice versa).
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Card and authorization models.
 */

package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rosstax/ledger-service/internal/domain"
)

const cardColumns = `
	id, account_id, client_id, card_last4, card_type, network, exp_month,
	exp_year, cardholder_name, status, activation_required, activated_at,
	daily_limit, transaction_limit, atm_daily_limit, international_enabled,
	online_enabled, contactless_enabled, created_at, cancelled_at`

func scanCard(row pgx.Row) (*domain.Card, error) {
	var card domain.Card
	err := row.Scan(
		&card.ID,
		&card.AccountID,
		&card.ClientID,
		&card.CardLast4,
		&card.CardType,
		&card.Network,
		&card.ExpMonth,
		&card.ExpYear,
		&card.CardholderName,
		&card.Status,
		&card.ActivationRequired,
		&card.ActivatedAt,
		&card.DailyLimit,
		&card.TransactionLimit,
		&card.ATMDailyLimit,
		&card.InternationalEnabled,
		&card.OnlineEnabled,
		&card.ContactlessEnabled,
		&card.CreatedAt,
		&card.CancelledAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCardNotFound
		}
		return nil, err
	}
	return &card, nil
}

// CreateCard inserts a newly issued card. Only the last four digits of the
// PAN are stored.
func (r *PostgresRepository) CreateCard(ctx context.Context, card *domain.Card) (*domain.Card, error) {
	query := `
		INSERT INTO debit_cards (
			id, account_id, client_id, card_last4, card_type, network, exp_month,
			exp_year, cardholder_name, status, activation_required, daily_limit,
			transaction_limit, atm_daily_limit, international_enabled,
			online_enabled, contactless_enabled, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW())
		RETURNING ` + cardColumns
	row := r.db.QueryRow(ctx, query,
		card.ID,
		card.AccountID,
		card.ClientID,
		card.CardLast4,
		card.CardType,
		card.Network,
		card.ExpMonth,
		card.ExpYear,
		card.CardholderName,
		card.Status,
		card.ActivationRequired,
		card.DailyLimit,
		card.TransactionLimit,
		card.ATMDailyLimit,
		card.InternationalEnabled,
		card.OnlineEnabled,
		card.ContactlessEnabled,
	)
	return scanCard(row)
}

// FindCardByID retrieves one card.
func (r *PostgresRepository) FindCardByID(ctx context.Context, cardID string) (*domain.Card, error) {
	query := `SELECT` + cardColumns + ` FROM debit_cards WHERE id = $1`
	return scanCard(r.db.QueryRow(ctx, query, cardID))
}

// FindCardsByAccountID lists the cards issued against an account.
func (r *PostgresRepository) FindCardsByAccountID(ctx context.Context, accountID string) ([]domain.Card, error) {
	query := `SELECT` + cardColumns + ` FROM debit_cards WHERE account_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []domain.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, *card)
	}
	return cards, rows.Err()
}

// FindActiveCardByLast4 resolves the active card carrying the given last four
// digits.
func (r *PostgresRepository) FindActiveCardByLast4(ctx context.Context, cardLast4 string) (*domain.Card, error) {
	query := `SELECT` + cardColumns + ` FROM debit_cards WHERE card_last4 = $1 AND status = 'active' LIMIT 1`
	return scanCard(r.db.QueryRow(ctx, query, cardLast4))
}

// UpdateCardStatus performs a guarded lifecycle transition. Activation stamps
// activated_at; cancellation stamps cancelled_at.
func (r *PostgresRepository) UpdateCardStatus(ctx context.Context, cardID string, fromStatus, toStatus domain.CardStatus) (*domain.Card, error) {
	query := `
		UPDATE debit_cards
		SET status = $3,
			activated_at = CASE WHEN $3 = 'active' AND activated_at IS NULL THEN NOW() ELSE activated_at END,
			cancelled_at = CASE WHEN $3 = 'cancelled' THEN NOW() ELSE cancelled_at END
		WHERE id = $1 AND status = $2
		RETURNING ` + cardColumns
	card, err := scanCard(r.db.QueryRow(ctx, query, cardID, fromStatus, toStatus))
	if err == ErrCardNotFound {
		if _, findErr := r.FindCardByID(ctx, cardID); findErr == nil {
			return nil, ErrStaleStatus
		}
		return nil, ErrCardNotFound
	}
	return card, err
}

// UpdateCardControls applies a partial update of limits and channel toggles.
func (r *PostgresRepository) UpdateCardControls(ctx context.Context, cardID string, controls domain.CardControls) (*domain.Card, error) {
	query := `
		UPDATE debit_cards
		SET daily_limit = COALESCE($2, daily_limit),
			transaction_limit = COALESCE($3, transaction_limit),
			atm_daily_limit = COALESCE($4, atm_daily_limit),
			international_enabled = COALESCE($5, international_enabled),
			online_enabled = COALESCE($6, online_enabled),
			contactless_enabled = COALESCE($7, contactless_enabled)
		WHERE id = $1
		RETURNING ` + cardColumns
	return scanCard(r.db.QueryRow(ctx, query, cardID,
		controls.DailyLimit,
		controls.TransactionLimit,
		controls.ATMDailyLimit,
		controls.InternationalEnabled,
		controls.OnlineEnabled,
		controls.ContactlessEnabled,
	))
}

// CardAuthorizationTotals sums a card's approved authorizations since the
// given instant.
func (r *PostgresRepository) CardAuthorizationTotals(ctx context.Context, cardID string, since time.Time) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM card_authorizations
		WHERE card_id = $1 AND status = 'approved' AND created_at >= $2`,
		cardID, since).Scan(&total)
	return total, err
}

const authorizationColumns = `
	id, card_id, account_id, amount, merchant_name, merchant_category,
	merchant_country, authorization_code, status, decline_reason,
	transaction_id, created_at`

func scanAuthorization(row pgx.Row) (*domain.CardAuthorization, error) {
	var auth domain.CardAuthorization
	err := row.Scan(
		&auth.ID,
		&auth.CardID,
		&auth.AccountID,
		&auth.Amount,
		&auth.MerchantName,
		&auth.MerchantCategory,
		&auth.MerchantCountry,
		&auth.AuthorizationCode,
		&auth.Status,
		&auth.DeclineReason,
		&auth.TransactionID,
		&auth.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAuthorizationNotFound
		}
		return nil, err
	}
	return &auth, nil
}

func insertAuthorizationTx(ctx context.Context, tx pgx.Tx, auth *domain.CardAuthorization) (*domain.CardAuthorization, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO card_authorizations (
			id, card_id, account_id, amount, merchant_name, merchant_category,
			merchant_country, authorization_code, status, decline_reason,
			transaction_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		RETURNING `+authorizationColumns,
		auth.ID,
		auth.CardID,
		auth.AccountID,
		auth.Amount,
		auth.MerchantName,
		auth.MerchantCategory,
		auth.MerchantCountry,
		auth.AuthorizationCode,
		auth.Status,
		auth.DeclineReason,
		auth.TransactionID,
	)
	return scanAuthorization(row)
}

// CreateCardAuthorization records a decision row. Approvals should go through
// ApproveAuthorizationWithPosting instead so the ledger posting commits with
// the decision.
func (r *PostgresRepository) CreateCardAuthorization(ctx context.Context, auth *domain.CardAuthorization) (*domain.CardAuthorization, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	created, err := insertAuthorizationTx(ctx, tx, auth)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

// ApproveAuthorizationWithPosting posts the card transaction and records the
// approved authorization atomically. If the posting fails (for example the
// funds check loses a race), nothing is written and the caller can decline.
func (r *PostgresRepository) ApproveAuthorizationWithPosting(ctx context.Context, auth *domain.CardAuthorization, draft domain.TransactionDraft) (*domain.CardAuthorization, *domain.Transaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	txn, err := r.postTransactionTx(ctx, tx, auth.AccountID, draft)
	if err != nil {
		return nil, nil, err
	}
	auth.TransactionID = &txn.ID

	created, err := insertAuthorizationTx(ctx, tx, auth)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return created, txn, nil
}

// FindAuthorizationsByCardID lists a card's authorization history, newest
// first.
func (r *PostgresRepository) FindAuthorizationsByCardID(ctx context.Context, cardID string, limit, offset int) ([]domain.CardAuthorization, error) {
	query := `
		SELECT` + authorizationColumns + `
		FROM card_authorizations
		WHERE card_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, cardID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auths []domain.CardAuthorization
	for rows.Next() {
		auth, err := scanAuthorization(rows)
		if err != nil {
			return nil, err
		}
		auths = append(auths, *auth)
	}
	return auths, rows.Err()
}
