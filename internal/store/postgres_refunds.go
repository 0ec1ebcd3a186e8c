/**
 * @description
 * PostgreSQL implementation of the refund transfer workflow and refund
 * advance methods. Status transitions and their timeline events are written
 * in the same database transaction, so the audit trail can never disagree
 * with the row it describes. Only one non-terminal refund transfer may exist
 * per tax return at a time.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/google/uuid: Timeline event id generation.
 * - internal/domain: Refund workflow models.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rosstax/ledger-service/internal/domain"
)

const refundColumns = `
	transfer_id, return_id, amount, fee, partner_bank, status, submitted_by,
	client_consent, approved_by, approved_at, approval_notes, expected_date,
	irs_acknowledged_at, status_reason, created_at, updated_at`

func scanRefundTransfer(row pgx.Row) (*domain.RefundTransfer, error) {
	var rt domain.RefundTransfer
	err := row.Scan(
		&rt.ID,
		&rt.ReturnID,
		&rt.Amount,
		&rt.Fee,
		&rt.PartnerBank,
		&rt.Status,
		&rt.SubmittedBy,
		&rt.ClientConsent,
		&rt.ApprovedBy,
		&rt.ApprovedAt,
		&rt.ApprovalNotes,
		&rt.ExpectedDate,
		&rt.IRSAcknowledgedAt,
		&rt.StatusReason,
		&rt.CreatedAt,
		&rt.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRefundTransferNotFound
		}
		return nil, err
	}
	return &rt, nil
}

func appendTimelineTx(ctx context.Context, tx pgx.Tx, transferID, eventType, description, actorID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO transfer_timeline (event_id, transfer_id, event_type, description, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`,
		"evt-"+uuid.NewString(), transferID, eventType, description, actorID)
	return err
}

// CreateRefundTransfer inserts a refund transfer and its opening timeline
// event. Returns ErrActiveRefundExists if the return already has a transfer
// that is not rejected or cancelled.
func (r *PostgresRepository) CreateRefundTransfer(ctx context.Context, rt *domain.RefundTransfer) (*domain.RefundTransfer, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var existing int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM refund_transfers
		WHERE return_id = $1 AND status NOT IN ('rejected', 'cancelled')`,
		rt.ReturnID).Scan(&existing)
	if err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, ErrActiveRefundExists
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO refund_transfers (
			transfer_id, return_id, amount, fee, partner_bank, status,
			submitted_by, client_consent, expected_date, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING `+refundColumns,
		rt.ID,
		rt.ReturnID,
		rt.Amount,
		rt.Fee,
		rt.PartnerBank,
		rt.Status,
		rt.SubmittedBy,
		rt.ClientConsent,
		rt.ExpectedDate,
	)
	created, err := scanRefundTransfer(row)
	if err != nil {
		return nil, err
	}

	err = appendTimelineTx(ctx, tx, created.ID, "submitted",
		"Refund transfer request submitted by preparer", rt.SubmittedBy)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

// FindRefundTransferByID retrieves one refund transfer.
func (r *PostgresRepository) FindRefundTransferByID(ctx context.Context, refundID string) (*domain.RefundTransfer, error) {
	query := `SELECT` + refundColumns + ` FROM refund_transfers WHERE transfer_id = $1`
	return scanRefundTransfer(r.db.QueryRow(ctx, query, refundID))
}

// FindRefundTransfersByReturnID lists all transfers ever opened for a return.
func (r *PostgresRepository) FindRefundTransfersByReturnID(ctx context.Context, returnID int64) ([]domain.RefundTransfer, error) {
	query := `SELECT` + refundColumns + ` FROM refund_transfers WHERE return_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, returnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []domain.RefundTransfer
	for rows.Next() {
		rt, err := scanRefundTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, *rt)
	}
	return transfers, rows.Err()
}

// ListRefundTransfersByStatus pages through transfers in a given state,
// oldest first so approval queues drain in submission order.
func (r *PostgresRepository) ListRefundTransfersByStatus(ctx context.Context, status domain.RefundTransferStatus, limit, offset int) ([]domain.RefundTransfer, error) {
	query := `
		SELECT` + refundColumns + `
		FROM refund_transfers
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []domain.RefundTransfer
	for rows.Next() {
		rt, err := scanRefundTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, *rt)
	}
	return transfers, rows.Err()
}

// ApproveRefundTransfer records the supervisor decision. The guard on the
// current status keeps two approvers from both succeeding.
func (r *PostgresRepository) ApproveRefundTransfer(ctx context.Context, refundID, approverID string, notes *string) (*domain.RefundTransfer, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE refund_transfers
		SET status = 'approved', approved_by = $2, approved_at = NOW(),
			approval_notes = $3, updated_at = NOW()
		WHERE transfer_id = $1 AND status = 'pending_supervisor_approval'
		RETURNING `+refundColumns, refundID, approverID, notes)
	rt, err := scanRefundTransfer(row)
	if err != nil {
		if err == ErrRefundTransferNotFound {
			if _, findErr := r.FindRefundTransferByID(ctx, refundID); findErr == nil {
				return nil, ErrStaleStatus
			}
		}
		return nil, err
	}

	if err := appendTimelineTx(ctx, tx, refundID, "approved", "Approved by supervisor", approverID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return rt, nil
}

// UpdateRefundStatus performs a guarded transition and appends the matching
// timeline event atomically.
func (r *PostgresRepository) UpdateRefundStatus(ctx context.Context, refundID string, fromStatus, toStatus domain.RefundTransferStatus, actorID string, detail *string) (*domain.RefundTransfer, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE refund_transfers
		SET status = $3,
			status_reason = COALESCE($4, status_reason),
			irs_acknowledged_at = CASE WHEN $3 = 'irs_accepted' THEN NOW() ELSE irs_acknowledged_at END,
			updated_at = NOW()
		WHERE transfer_id = $1 AND status = $2
		RETURNING `+refundColumns, refundID, fromStatus, toStatus, detail)
	rt, err := scanRefundTransfer(row)
	if err != nil {
		if err == ErrRefundTransferNotFound {
			if _, findErr := r.FindRefundTransferByID(ctx, refundID); findErr == nil {
				return nil, ErrStaleStatus
			}
		}
		return nil, err
	}

	description := domain.RefundStatusDescription(toStatus)
	if detail != nil {
		description = *detail
	}
	if err := appendTimelineTx(ctx, tx, refundID, string(toStatus), description, actorID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return rt, nil
}

// AppendTimelineEvent writes a standalone audit event.
func (r *PostgresRepository) AppendTimelineEvent(ctx context.Context, event *domain.TimelineEvent) error {
	eventID := event.EventID
	if eventID == "" {
		eventID = "evt-" + uuid.NewString()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO transfer_timeline (event_id, transfer_id, event_type, description, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`,
		eventID, event.TransferID, event.EventType, event.Description, event.ActorID)
	return err
}

// ListTimeline returns a transfer's audit trail, oldest first.
func (r *PostgresRepository) ListTimeline(ctx context.Context, refundID string) ([]domain.TimelineEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT event_id, transfer_id, event_type, description, actor_id, created_at
		FROM transfer_timeline
		WHERE transfer_id = $1
		ORDER BY created_at ASC`, refundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.TimelineEvent
	for rows.Next() {
		var event domain.TimelineEvent
		err := rows.Scan(&event.EventID, &event.TransferID, &event.EventType,
			&event.Description, &event.ActorID, &event.CreatedAt)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

const advanceColumns = `
	id, client_id, return_id, account_id, expected_refund, requested_amount,
	approved_amount, status, decided_by, decided_at, disbursed_at, created_at`

func scanRefundAdvance(row pgx.Row) (*domain.RefundAdvance, error) {
	var adv domain.RefundAdvance
	err := row.Scan(
		&adv.ID,
		&adv.ClientID,
		&adv.ReturnID,
		&adv.AccountID,
		&adv.ExpectedRefund,
		&adv.RequestedAmount,
		&adv.ApprovedAmount,
		&adv.Status,
		&adv.DecidedBy,
		&adv.DecidedAt,
		&adv.DisbursedAt,
		&adv.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRefundAdvanceNotFound
		}
		return nil, err
	}
	return &adv, nil
}

// CreateRefundAdvance inserts a refund advance application.
func (r *PostgresRepository) CreateRefundAdvance(ctx context.Context, adv *domain.RefundAdvance) (*domain.RefundAdvance, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO refund_advances (
			id, client_id, return_id, account_id, expected_refund,
			requested_amount, approved_amount, status, decided_by, decided_at,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		RETURNING `+advanceColumns,
		adv.ID,
		adv.ClientID,
		adv.ReturnID,
		adv.AccountID,
		adv.ExpectedRefund,
		adv.RequestedAmount,
		adv.ApprovedAmount,
		adv.Status,
		adv.DecidedBy,
		adv.DecidedAt,
	)
	return scanRefundAdvance(row)
}

// FindRefundAdvanceByID retrieves one refund advance.
func (r *PostgresRepository) FindRefundAdvanceByID(ctx context.Context, advanceID string) (*domain.RefundAdvance, error) {
	query := `SELECT` + advanceColumns + ` FROM refund_advances WHERE id = $1`
	return scanRefundAdvance(r.db.QueryRow(ctx, query, advanceID))
}

// UpdateRefundAdvanceStatus performs a guarded transition on an advance.
// Disbursement stamps disbursed_at.
func (r *PostgresRepository) UpdateRefundAdvanceStatus(ctx context.Context, advanceID string, fromStatus, toStatus domain.RefundAdvanceStatus, decidedBy *string) (*domain.RefundAdvance, error) {
	query := `
		UPDATE refund_advances
		SET status = $3,
			decided_by = COALESCE($4, decided_by),
			decided_at = CASE WHEN $3 IN ('approved', 'denied') THEN NOW() ELSE decided_at END,
			disbursed_at = CASE WHEN $3 = 'disbursed' THEN NOW() ELSE disbursed_at END
		WHERE id = $1 AND status = $2
		RETURNING ` + advanceColumns
	adv, err := scanRefundAdvance(r.db.QueryRow(ctx, query, advanceID, fromStatus, toStatus, decidedBy))
	if err == ErrRefundAdvanceNotFound {
		if _, findErr := r.FindRefundAdvanceByID(ctx, advanceID); findErr == nil {
			return nil, ErrStaleStatus
		}
		return nil, ErrRefundAdvanceNotFound
	}
	return adv, err
}
