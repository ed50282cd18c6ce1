package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/maheshrc27/marketing-dispatch/internal/models"
)

type DeliveryLogRepository interface {
	CreateBatch(ctx context.Context, logs []*models.DeliveryLog) error
	ListByEntryID(ctx context.Context, storeID, entryID string) ([]*models.DeliveryLog, error)
}

type deliveryLogRepository struct {
	db *sql.DB
}

func NewDeliveryLogRepository(db *sql.DB) DeliveryLogRepository {
	return &deliveryLogRepository{db: db}
}

func (r *deliveryLogRepository) CreateBatch(ctx context.Context, logs []*models.DeliveryLog) error {
	if len(logs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO delivery_logs (id, entry_id, store_id, channel, recipient, provider_id, error_message)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''))
	`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	defer stmt.Close()

	for _, l := range logs {
		_, err := stmt.ExecContext(ctx, l.ID, l.EntryID, l.StoreID, l.Channel, l.Recipient, l.ProviderID, l.ErrorMessage)
		if err != nil {
			slog.Info(err.Error())
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *deliveryLogRepository) ListByEntryID(ctx context.Context, storeID, entryID string) ([]*models.DeliveryLog, error) {
	query := `
		SELECT id, entry_id, store_id, channel, recipient, provider_id, error_message, created_at
		FROM delivery_logs
		WHERE entry_id = $1 AND store_id = $2
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, entryID, storeID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var logs []*models.DeliveryLog
	for rows.Next() {
		var l models.DeliveryLog
		var providerID, errMsg sql.NullString
		err := rows.Scan(&l.ID, &l.EntryID, &l.StoreID, &l.Channel, &l.Recipient, &providerID, &errMsg, &l.CreatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		l.ProviderID = providerID.String
		l.ErrorMessage = errMsg.String
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return logs, nil
}
