package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/maheshrc27/marketing-dispatch/internal/models"
)

// ChannelTokenRepository stores one credential per (store, platform). Token
// columns hold ciphertext; encryption happens in the token service.
type ChannelTokenRepository interface {
	Upsert(ctx context.Context, tx *sql.Tx, t *models.ChannelToken) (int64, error)
	GetByStorePlatform(ctx context.Context, storeID, platform string) (*models.ChannelToken, error)
	ListExpiring(ctx context.Context, before time.Time) ([]*models.ChannelToken, error)
	SetRefreshStatus(ctx context.Context, id int64, status string, refreshErr *string) error
	SetToken(ctx context.Context, id int64, oldLongToken string, t *models.ChannelToken) error
	Remove(ctx context.Context, storeID, platform string) error
}

type channelTokenRepository struct {
	db *sql.DB
}

func NewChannelTokenRepository(db *sql.DB) ChannelTokenRepository {
	return &channelTokenRepository{db: db}
}

const tokenColumns = `id, store_id, platform, account_id, long_token, short_token, token_expiry,
	refresh_status, last_refresh_at, refresh_error, is_active, created_at, updated_at`

func scanToken(row rowScanner) (*models.ChannelToken, error) {
	var t models.ChannelToken
	var accountID, shortToken sql.NullString
	err := row.Scan(&t.ID, &t.StoreID, &t.Platform, &accountID, &t.LongToken, &shortToken,
		&t.TokenExpiry, &t.RefreshStatus, &t.LastRefreshAt, &t.RefreshError, &t.IsActive,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.AccountID = accountID.String
	t.ShortToken = shortToken.String
	return &t, nil
}

func (r *channelTokenRepository) Upsert(ctx context.Context, tx *sql.Tx, t *models.ChannelToken) (int64, error) {
	var err error
	var id int64

	query := `
		INSERT INTO channel_tokens(
			store_id,
			platform,
			account_id,
			long_token,
			short_token,
			token_expiry,
			refresh_status,
			is_active
		)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6, 'valid', true)
		ON CONFLICT (store_id, platform) DO UPDATE SET
			account_id = COALESCE(EXCLUDED.account_id, channel_tokens.account_id),
			long_token = EXCLUDED.long_token,
			short_token = EXCLUDED.short_token,
			token_expiry = EXCLUDED.token_expiry,
			refresh_status = 'valid',
			refresh_error = NULL,
			is_active = true,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`
	args := []any{t.StoreID, t.Platform, t.AccountID, t.LongToken, t.ShortToken, t.TokenExpiry}
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, args...).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	t.ID = id
	return id, nil
}

func (r *channelTokenRepository) GetByStorePlatform(ctx context.Context, storeID, platform string) (*models.ChannelToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM channel_tokens WHERE store_id = $1 AND platform = $2 AND is_active = true`
	t, err := scanToken(r.db.QueryRowContext(ctx, query, storeID, platform))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return t, nil
}

// ListExpiring returns active tokens whose expiry falls before the given time,
// already-expired ones included.
func (r *channelTokenRepository) ListExpiring(ctx context.Context, before time.Time) ([]*models.ChannelToken, error) {
	query := `SELECT ` + tokenColumns + `
		FROM channel_tokens
		WHERE is_active = true
			AND token_expiry IS NOT NULL
			AND token_expiry < $1`
	rows, err := r.db.QueryContext(ctx, query, before)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var tokens []*models.ChannelToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		tokens = append(tokens, t)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return tokens, nil
}

func (r *channelTokenRepository) SetRefreshStatus(ctx context.Context, id int64, status string, refreshErr *string) error {
	query := `
		UPDATE channel_tokens
		SET refresh_status = $2,
			refresh_error = $3,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, status, refreshErr)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// SetToken swaps in a refreshed credential only if the stored one is still
// oldLongToken, so two refreshers can never overwrite each other.
func (r *channelTokenRepository) SetToken(ctx context.Context, id int64, oldLongToken string, t *models.ChannelToken) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	defer tx.Rollback()

	query := `
		UPDATE channel_tokens
		SET
			long_token = COALESCE(NULLIF($3, ''), long_token),
			token_expiry = COALESCE($4, token_expiry),
			refresh_status = 'valid',
			refresh_error = NULL,
			last_refresh_at = $5,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND long_token = $2
	`
	result, err := tx.ExecContext(ctx, query, id, oldLongToken, t.LongToken, t.TokenExpiry, t.LastRefreshAt)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	if affected != 1 {
		slog.Info(ErrTokenChanged.Error())
		return ErrTokenChanged
	}

	if err = tx.Commit(); err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *channelTokenRepository) Remove(ctx context.Context, storeID, platform string) error {
	query := `UPDATE channel_tokens SET is_active = false, updated_at = CURRENT_TIMESTAMP WHERE store_id = $1 AND platform = $2`
	_, err := r.db.ExecContext(ctx, query, storeID, platform)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
