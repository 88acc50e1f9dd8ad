package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bastionlabs/bastion/internal/db/models"
	"github.com/uptrace/bun"
)

// BunTokenBlacklistRepository implements TokenBlacklistRepository using Bun
// ORM. This is the cold tier of the revocation store.
type BunTokenBlacklistRepository struct {
	db *bun.DB
}

// NewBunTokenBlacklistRepository creates a new Bun-based blacklist repository
func NewBunTokenBlacklistRepository(db *bun.DB) *BunTokenBlacklistRepository {
	return &BunTokenBlacklistRepository{db: db}
}

// Upsert inserts the row or refreshes revoked_at and reason on conflict.
// Re-revoking the same token must not fail.
func (r *BunTokenBlacklistRepository) Upsert(ctx context.Context, token *models.BlacklistedToken) error {
	_, err := r.db.NewInsert().
		Model(token).
		On("CONFLICT (token_hash) DO UPDATE").
		Set("revoked_at = EXCLUDED.revoked_at").
		Set("reason = EXCLUDED.reason").
		Set("expires_at = EXCLUDED.expires_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert blacklisted token: %w", err)
	}
	return nil
}

// GetByHash retrieves a blacklist row by token hash
func (r *BunTokenBlacklistRepository) GetByHash(ctx context.Context, tokenHash string) (*models.BlacklistedToken, error) {
	token := new(models.BlacklistedToken)
	err := r.db.NewSelect().
		Model(token).
		Where("token_hash = ?", tokenHash).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get blacklisted token: %w", err)
	}
	return token, nil
}

// IsRevoked reports whether a live blacklist row exists for the hash
func (r *BunTokenBlacklistRepository) IsRevoked(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*models.BlacklistedToken)(nil)).
		Where("token_hash = ?", tokenHash).
		Where("expires_at > ?", now).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check blacklisted token: %w", err)
	}
	return exists, nil
}

// DeleteExpired purges rows whose expiry has passed. The hot tier expires
// on its own TTL.
func (r *BunTokenBlacklistRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*models.BlacklistedToken)(nil)).
		Where("expires_at <= ?", before).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete expired blacklist rows: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
