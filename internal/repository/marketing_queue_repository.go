package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/maheshrc27/marketing-dispatch/internal/models"
)

// MarketingQueueRepository is the durable queue store. Every status change is a
// single conditional UPDATE so concurrent workers and API calls never interleave
// on the same row; the bool results report whether the condition matched.
type MarketingQueueRepository interface {
	Create(ctx context.Context, e *models.MarketingQueueEntry) error
	GetByID(ctx context.Context, id string) (*models.MarketingQueueEntry, error)
	GetByStoreID(ctx context.Context, storeID, id string) (*models.MarketingQueueEntry, error)
	ListByStatus(ctx context.Context, storeID, status string) ([]*models.MarketingQueueEntry, error)
	Approve(ctx context.Context, storeID, id, approvedBy string, at time.Time) (bool, error)
	RevertApproval(ctx context.Context, storeID, id string) error
	Reject(ctx context.Context, storeID, id, rejectedBy, reason string, at time.Time) (bool, error)
	Retry(ctx context.Context, storeID, id string, at time.Time) (bool, error)
	Claim(ctx context.Context, id string, now time.Time) (bool, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id, errMsg string, at time.Time) error
	Release(ctx context.Context, id, status string, at time.Time) error
	Delete(ctx context.Context, storeID, id string) (bool, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]string, error)
	ReclaimStale(ctx context.Context, claimedBefore, at time.Time) ([]string, error)
}

type marketingQueueRepository struct {
	db *sql.DB
}

func NewMarketingQueueRepository(db *sql.DB) MarketingQueueRepository {
	return &marketingQueueRepository{db: db}
}

const entryColumns = `id, store_id, type, payload, scheduled_at, requires_approval, send_whatsapp, send_instagram,
	status, approved_by, approved_at, rejected_by, rejected_at, rejection_reason, retries, error,
	claimed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.MarketingQueueEntry, error) {
	var e models.MarketingQueueEntry
	var payload []byte
	err := row.Scan(&e.ID, &e.StoreID, &e.Type, &payload, &e.ScheduledAt, &e.RequiresApproval,
		&e.SendWhatsApp, &e.SendInstagram, &e.Status, &e.ApprovedBy, &e.ApprovedAt, &e.RejectedBy,
		&e.RejectedAt, &e.RejectionReason, &e.Retries, &e.Error, &e.ClaimedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Payload = json.RawMessage(payload)
	return &e, nil
}

func (r *marketingQueueRepository) Create(ctx context.Context, e *models.MarketingQueueEntry) error {
	query := `
		INSERT INTO marketing_queue (id, store_id, type, payload, scheduled_at, requires_approval, send_whatsapp, send_instagram, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query, e.ID, e.StoreID, e.Type, []byte(e.Payload), e.ScheduledAt,
		e.RequiresApproval, e.SendWhatsApp, e.SendInstagram, e.Status).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *marketingQueueRepository) GetByID(ctx context.Context, id string) (*models.MarketingQueueEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM marketing_queue WHERE id = $1`
	e, err := scanEntry(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return e, nil
}

func (r *marketingQueueRepository) GetByStoreID(ctx context.Context, storeID, id string) (*models.MarketingQueueEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM marketing_queue WHERE id = $1 AND store_id = $2`
	e, err := scanEntry(r.db.QueryRowContext(ctx, query, id, storeID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return e, nil
}

// ListByStatus returns the store's entries, newest first. An empty status lists all of them.
func (r *marketingQueueRepository) ListByStatus(ctx context.Context, storeID, status string) ([]*models.MarketingQueueEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM marketing_queue WHERE store_id = $1`
	args := []any{storeID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var entries []*models.MarketingQueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return entries, nil
}

func (r *marketingQueueRepository) Approve(ctx context.Context, storeID, id, approvedBy string, at time.Time) (bool, error) {
	query := `
		UPDATE marketing_queue
		SET status = 'pending',
			approved_by = $3,
			approved_at = $4,
			updated_at = $4
		WHERE id = $1 AND store_id = $2 AND status = 'pending_approval'
	`
	return r.execOne(ctx, query, id, storeID, approvedBy, at)
}

func (r *marketingQueueRepository) RevertApproval(ctx context.Context, storeID, id string) error {
	query := `
		UPDATE marketing_queue
		SET status = 'pending_approval',
			approved_by = NULL,
			approved_at = NULL,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND store_id = $2 AND status = 'pending'
	`
	_, err := r.execOne(ctx, query, id, storeID)
	return err
}

func (r *marketingQueueRepository) Reject(ctx context.Context, storeID, id, rejectedBy, reason string, at time.Time) (bool, error) {
	query := `
		UPDATE marketing_queue
		SET status = 'rejected',
			rejected_by = $3,
			rejected_at = $4,
			rejection_reason = NULLIF($5, ''),
			updated_at = $4
		WHERE id = $1 AND store_id = $2 AND status = 'pending_approval'
	`
	return r.execOne(ctx, query, id, storeID, rejectedBy, at, reason)
}

func (r *marketingQueueRepository) Retry(ctx context.Context, storeID, id string, at time.Time) (bool, error) {
	query := `
		UPDATE marketing_queue
		SET status = 'pending',
			updated_at = $3
		WHERE id = $1 AND store_id = $2 AND status = 'failed'
	`
	return r.execOne(ctx, query, id, storeID, at)
}

// Claim moves a due entry from pending (or approved) to processing. Exactly one
// caller observes true for a given pickup.
func (r *marketingQueueRepository) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE marketing_queue
		SET status = 'processing',
			claimed_at = $2,
			updated_at = $2
		WHERE id = $1
			AND status IN ('pending', 'approved')
			AND (scheduled_at IS NULL OR scheduled_at <= $2)
	`
	return r.execOne(ctx, query, id, now)
}

func (r *marketingQueueRepository) MarkSent(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE marketing_queue
		SET status = 'sent',
			error = NULL,
			claimed_at = NULL,
			updated_at = $2
		WHERE id = $1 AND status = 'processing'
	`
	return r.mustUpdate(ctx, query, id, at)
}

func (r *marketingQueueRepository) MarkFailed(ctx context.Context, id, errMsg string, at time.Time) error {
	query := `
		UPDATE marketing_queue
		SET status = 'failed',
			error = $2,
			retries = retries + 1,
			claimed_at = NULL,
			updated_at = $3
		WHERE id = $1 AND status = 'processing'
	`
	return r.mustUpdate(ctx, query, id, errMsg, at)
}

// Release hands a processing entry back without recording an attempt.
func (r *marketingQueueRepository) Release(ctx context.Context, id, status string, at time.Time) error {
	query := `
		UPDATE marketing_queue
		SET status = $2,
			claimed_at = NULL,
			updated_at = $3
		WHERE id = $1 AND status = 'processing'
	`
	return r.mustUpdate(ctx, query, id, status, at)
}

func (r *marketingQueueRepository) Delete(ctx context.Context, storeID, id string) (bool, error) {
	query := `DELETE FROM marketing_queue WHERE id = $1 AND store_id = $2 AND status <> 'processing'`
	return r.execOne(ctx, query, id, storeID)
}

func (r *marketingQueueRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT id FROM marketing_queue
		WHERE status IN ('pending', 'approved')
			AND (scheduled_at IS NULL OR scheduled_at <= $1)
		ORDER BY created_at
		LIMIT $2
	`
	return r.queryIDs(ctx, query, now, limit)
}

func (r *marketingQueueRepository) ReclaimStale(ctx context.Context, claimedBefore, at time.Time) ([]string, error) {
	query := `
		UPDATE marketing_queue
		SET status = 'pending',
			claimed_at = NULL,
			updated_at = $2
		WHERE status = 'processing' AND claimed_at < $1
		RETURNING id
	`
	return r.queryIDs(ctx, query, claimedBefore, at)
}

func (r *marketingQueueRepository) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return ids, nil
}

func (r *marketingQueueRepository) execOne(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affected == 1, nil
}

func (r *marketingQueueRepository) mustUpdate(ctx context.Context, query string, args ...any) error {
	ok, err := r.execOne(ctx, query, args...)
	if err != nil {
		return err
	}
	if !ok {
		slog.Info(ErrNotProcessing.Error())
		return ErrNotProcessing
	}
	return nil
}
