/**
 * @description
 * PostgreSQL implementation of the P2P transfer methods. The important one is
 * `CreateTransferChecked`: it runs the velocity-limit evaluation and the
 * transfer insert in a single database transaction while holding the sender's
 * account row lock, so two concurrent initiations cannot both slip under a
 * daily or monthly limit.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Transfer models and the limit evaluator.
 */

package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rosstax/ledger-service/internal/domain"
)

const transferColumns = `
	id, sender_account_id, sender_client_id, recipient_account_id,
	recipient_client_id, recipient_email, recipient_phone, amount, description,
	reference_number, transfer_type, status, scheduled_date, decline_reason,
	fraud_score, requires_approval, approved_by, approved_at, completed_at,
	created_at`

func scanTransfer(row pgx.Row) (*domain.P2PTransfer, error) {
	var t domain.P2PTransfer
	err := row.Scan(
		&t.ID,
		&t.SenderAccountID,
		&t.SenderClientID,
		&t.RecipientAccountID,
		&t.RecipientClientID,
		&t.RecipientEmail,
		&t.RecipientPhone,
		&t.Amount,
		&t.Description,
		&t.ReferenceNumber,
		&t.TransferType,
		&t.Status,
		&t.ScheduledDate,
		&t.DeclineReason,
		&t.FraudScore,
		&t.RequiresApproval,
		&t.ApprovedBy,
		&t.ApprovedAt,
		&t.CompletedAt,
		&t.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	return &t, nil
}

// senderWindowTotalsTx sums the sender's transfer activity for the current day
// and month. It must run inside a transaction that already holds the sender's
// account row lock; the lock is what serializes concurrent limit checks.
func senderWindowTotalsTx(ctx context.Context, tx pgx.Tx, accountID string) (domain.TransferWindowTotals, error) {
	var totals domain.TransferWindowTotals
	err := tx.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE created_at >= date_trunc('day', NOW() AT TIME ZONE 'utc') AT TIME ZONE 'utc' AND status IN ('completed', 'processing')), 0),
			COALESCE(SUM(amount) FILTER (WHERE created_at >= date_trunc('month', NOW() AT TIME ZONE 'utc') AT TIME ZONE 'utc' AND status IN ('completed', 'processing')), 0),
			COUNT(*) FILTER (WHERE status = 'pending')
		FROM p2p_transfers
		WHERE sender_account_id = $1`, accountID).
		Scan(&totals.DailyTotal, &totals.MonthlyTotal, &totals.PendingCount)
	return totals, err
}

// CreateTransferChecked locks the sender's account, verifies funds and
// velocity limits, and inserts the transfer, all in one database transaction.
// Domain limit errors pass through unchanged so callers can surface the
// decline reason.
func (r *PostgresRepository) CreateTransferChecked(ctx context.Context, transfer *domain.P2PTransfer, policy domain.TierPolicy) (*domain.P2PTransfer, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var (
		balance int64
		status  domain.AccountStatus
	)
	err = tx.QueryRow(ctx, `
		SELECT balance, status FROM money_accounts WHERE id = $1 FOR UPDATE`,
		transfer.SenderAccountID).Scan(&balance, &status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if status != domain.AccountStatusActive {
		return nil, ErrAccountNotTransactable
	}
	if balance < transfer.Amount {
		return nil, ErrInsufficientFunds
	}

	totals, err := senderWindowTotalsTx(ctx, tx, transfer.SenderAccountID)
	if err != nil {
		return nil, err
	}
	if err := domain.EvaluateTransferLimits(policy, totals, transfer.Amount); err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO p2p_transfers (
			id, sender_account_id, sender_client_id, recipient_account_id,
			recipient_client_id, recipient_email, recipient_phone, amount,
			description, reference_number, transfer_type, status, scheduled_date,
			fraud_score, requires_approval, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
		RETURNING `+transferColumns,
		transfer.ID,
		transfer.SenderAccountID,
		transfer.SenderClientID,
		transfer.RecipientAccountID,
		transfer.RecipientClientID,
		transfer.RecipientEmail,
		transfer.RecipientPhone,
		transfer.Amount,
		transfer.Description,
		transfer.ReferenceNumber,
		transfer.TransferType,
		transfer.Status,
		transfer.ScheduledDate,
		transfer.FraudScore,
		transfer.RequiresApproval,
	)
	created, err := scanTransfer(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

// FindTransferByID retrieves one transfer.
func (r *PostgresRepository) FindTransferByID(ctx context.Context, transferID string) (*domain.P2PTransfer, error) {
	query := `SELECT` + transferColumns + ` FROM p2p_transfers WHERE id = $1`
	return scanTransfer(r.db.QueryRow(ctx, query, transferID))
}

// FindTransfersBySenderAccount lists a sender's transfers, newest first.
func (r *PostgresRepository) FindTransfersBySenderAccount(ctx context.Context, accountID string, limit, offset int) ([]domain.P2PTransfer, error) {
	query := `
		SELECT` + transferColumns + `
		FROM p2p_transfers
		WHERE sender_account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []domain.P2PTransfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, *t)
	}
	return transfers, rows.Err()
}

// UpdateTransferStatus performs a guarded transition: the update applies only
// while the row is still in fromStatus. A completed transition also stamps
// completed_at.
func (r *PostgresRepository) UpdateTransferStatus(ctx context.Context, transferID string, fromStatus, toStatus domain.TransferStatus, declineReason *string) (*domain.P2PTransfer, error) {
	query := `
		UPDATE p2p_transfers
		SET status = $3,
			decline_reason = COALESCE($4, decline_reason),
			completed_at = CASE WHEN $3 = 'completed' THEN NOW() ELSE completed_at END
		WHERE id = $1 AND status = $2
		RETURNING ` + transferColumns
	t, err := scanTransfer(r.db.QueryRow(ctx, query, transferID, fromStatus, toStatus, declineReason))
	if err == ErrTransferNotFound {
		// Distinguish a missing row from a lost race.
		if _, findErr := r.FindTransferByID(ctx, transferID); findErr == nil {
			return nil, ErrStaleStatus
		}
		return nil, ErrTransferNotFound
	}
	return t, err
}

// ApproveTransfer records the approver on a pending transfer and moves it to
// processing.
func (r *PostgresRepository) ApproveTransfer(ctx context.Context, transferID, approverID string) (*domain.P2PTransfer, error) {
	query := `
		UPDATE p2p_transfers
		SET status = 'processing', approved_by = $2, approved_at = NOW()
		WHERE id = $1 AND status = 'pending' AND requires_approval
		RETURNING ` + transferColumns
	t, err := scanTransfer(r.db.QueryRow(ctx, query, transferID, approverID))
	if err == ErrTransferNotFound {
		if _, findErr := r.FindTransferByID(ctx, transferID); findErr == nil {
			return nil, ErrStaleStatus
		}
		return nil, ErrTransferNotFound
	}
	return t, err
}

// SenderTransferStats gathers the sender's lifetime count and current limit
// windows in one round trip, for risk scoring and limit previews.
func (r *PostgresRepository) SenderTransferStats(ctx context.Context, accountID string, since time.Time) (*domain.SenderStats, error) {
	var stats domain.SenderStats
	err := r.db.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(amount) FILTER (WHERE created_at >= date_trunc('day', NOW() AT TIME ZONE 'utc') AT TIME ZONE 'utc' AND status IN ('completed', 'processing')), 0),
			COALESCE(SUM(amount) FILTER (WHERE created_at >= date_trunc('month', NOW() AT TIME ZONE 'utc') AT TIME ZONE 'utc' AND status IN ('completed', 'processing')), 0),
			COUNT(*) FILTER (WHERE status = 'pending')
		FROM p2p_transfers
		WHERE sender_account_id = $1 AND created_at >= $2`, accountID, since).
		Scan(&stats.LifetimeCount, &stats.Window.DailyTotal, &stats.Window.MonthlyTotal, &stats.Window.PendingCount)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// LookupRecipientAccount resolves an email or phone contact to the client's
// active primary account.
func (r *PostgresRepository) LookupRecipientAccount(ctx context.Context, contact string) (*domain.Account, error) {
	query := `
		SELECT` + accountColumns + `
		FROM money_accounts a
		WHERE a.status = 'active'
		  AND a.client_id = (
			SELECT c.id FROM clients c
			WHERE lower(c.email) = lower($1) OR c.phone = $1
		  )
		ORDER BY a.created_at ASC
		LIMIT 1`
	account, err := scanAccount(r.db.QueryRow(ctx, query, contact))
	if err == ErrAccountNotFound {
		return nil, ErrRecipientNotFound
	}
	return account, err
}

// ExpireStaleTransfers marks pending transfers created before the cutoff as
// expired and returns them.
func (r *PostgresRepository) ExpireStaleTransfers(ctx context.Context, cutoff time.Time) ([]domain.P2PTransfer, error) {
	query := `
		UPDATE p2p_transfers
		SET status = 'expired', decline_reason = 'Transfer expired before processing'
		WHERE status = 'pending' AND created_at < $1
		RETURNING ` + transferColumns
	rows, err := r.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var expired []domain.P2PTransfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		expired = append(expired, *t)
	}
	return expired, rows.Err()
}
