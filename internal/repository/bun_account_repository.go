package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bastionlabs/bastion/internal/db/models"
	"github.com/uptrace/bun"
)

// BunAccountRepository implements AccountRepository using Bun ORM
type BunAccountRepository struct {
	db *bun.DB
}

// NewBunAccountRepository creates a new Bun-based account repository
func NewBunAccountRepository(db *bun.DB) *BunAccountRepository {
	return &BunAccountRepository{db: db}
}

// CreateWithRootUser inserts the account, its root user, and the root role
// assignment in a single transaction. The assignment is attributed to the
// root user itself since no other principal exists yet.
func (r *BunAccountRepository) CreateWithRootUser(ctx context.Context, account *models.Account, rootUser *models.User, rootRoleID string) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(account).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("create account: %w", err)
		}

		if _, err := tx.NewInsert().Model(rootUser).Exec(ctx); err != nil {
			return fmt.Errorf("create root user: %w", err)
		}

		assignment := &models.UserRole{
			UserID:     rootUser.ID,
			RoleID:     rootRoleID,
			AssignedBy: rootUser.ID,
		}
		if _, err := tx.NewInsert().Model(assignment).Exec(ctx); err != nil {
			return fmt.Errorf("assign root role: %w", err)
		}

		return nil
	})
}

// GetByID retrieves an account by ID
func (r *BunAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	account := new(models.Account)
	err := r.db.NewSelect().
		Model(account).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

// GetByEmail retrieves an account by its unique email
func (r *BunAccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	account := new(models.Account)
	err := r.db.NewSelect().
		Model(account).
		Where("email = ?", email).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return account, nil
}

// List retrieves all accounts
func (r *BunAccountRepository) List(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	err := r.db.NewSelect().
		Model(&accounts).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// Update persists account changes
func (r *BunAccountRepository) Update(ctx context.Context, account *models.Account) error {
	res, err := r.db.NewUpdate().
		Model(account).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an account
func (r *BunAccountRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.NewDelete().
		Model((*models.Account)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// HasDependents reports whether non-root users, groups, policies, or roles
// still reference the account. The root user alone does not block deletion
// since it is removed with the account.
func (r *BunAccountRepository) HasDependents(ctx context.Context, id string) (bool, error) {
	userCount, err := r.db.NewSelect().
		Model((*models.User)(nil)).
		Where("account_id = ?", id).
		Where("is_root = ?", false).
		Count(ctx)
	if err != nil {
		return false, fmt.Errorf("count account users: %w", err)
	}
	if userCount > 0 {
		return true, nil
	}

	groupCount, err := r.db.NewSelect().
		Model((*models.Group)(nil)).
		Where("account_id = ?", id).
		Count(ctx)
	if err != nil {
		return false, fmt.Errorf("count account groups: %w", err)
	}
	if groupCount > 0 {
		return true, nil
	}

	policyCount, err := r.db.NewSelect().
		Model((*models.Policy)(nil)).
		Where("account_id = ?", id).
		Count(ctx)
	if err != nil {
		return false, fmt.Errorf("count account policies: %w", err)
	}
	if policyCount > 0 {
		return true, nil
	}

	roleCount, err := r.db.NewSelect().
		Model((*models.Role)(nil)).
		Where("account_id = ?", id).
		Count(ctx)
	if err != nil {
		return false, fmt.Errorf("count account roles: %w", err)
	}
	return roleCount > 0, nil
}
