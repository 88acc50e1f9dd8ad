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

// BunSessionRepository implements SessionRepository using Bun ORM
type BunSessionRepository struct {
	db *bun.DB
}

// NewBunSessionRepository creates a new Bun-based session repository
func NewBunSessionRepository(db *bun.DB) *BunSessionRepository {
	return &BunSessionRepository{db: db}
}

// Create inserts a new role session
func (r *BunSessionRepository) Create(ctx context.Context, session *models.RoleSession) error {
	_, err := r.db.NewInsert().
		Model(session).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetByID retrieves a session by ID
func (r *BunSessionRepository) GetByID(ctx context.Context, id string) (*models.RoleSession, error) {
	session := new(models.RoleSession)
	err := r.db.NewSelect().
		Model(session).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// GetByTokenHash retrieves a session by its token hash
// This is the primary lookup method for session token validation
func (r *BunSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.RoleSession, error) {
	session := new(models.RoleSession)
	err := r.db.NewSelect().
		Model(session).
		Where("session_token_hash = ?", tokenHash).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session by token: %w", err)
	}
	return session, nil
}

// ListActiveForUser retrieves the live sessions of a user. These feed the
// session leg of policy resolution.
func (r *BunSessionRepository) ListActiveForUser(ctx context.Context, userID string) ([]models.RoleSession, error) {
	var sessions []models.RoleSession
	err := r.db.NewSelect().
		Model(&sessions).
		Where("user_id = ?", userID).
		Where("is_active = ?", true).
		Where("expires_at > ?", time.Now()).
		Order("assumed_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return sessions, nil
}

// UpdateExpiry extends a session and rotates its token hash on refresh
func (r *BunSessionRepository) UpdateExpiry(ctx context.Context, id string, expiresAt time.Time, tokenHash string) error {
	res, err := r.db.NewUpdate().
		Model((*models.RoleSession)(nil)).
		Set("expires_at = ?", expiresAt).
		Set("session_token_hash = ?", tokenHash).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Where("is_active = ?", true).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update session expiry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Revoke marks a session inactive. Revocation is terminal.
func (r *BunSessionRepository) Revoke(ctx context.Context, id string) error {
	res, err := r.db.NewUpdate().
		Model((*models.RoleSession)(nil)).
		Set("is_active = ?", false).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeAllForUser marks every session of a user inactive
// Used for forced revocation and security incidents
func (r *BunSessionRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := r.db.NewUpdate().
		Model((*models.RoleSession)(nil)).
		Set("is_active = ?", false).
		Set("updated_at = ?", time.Now()).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	return nil
}

// DeleteExpired deletes sessions whose expiry has passed
// Should be run periodically by the cleanup job
func (r *BunSessionRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*models.RoleSession)(nil)).
		Where("expires_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
