package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bastionlabs/bastion/internal/db/models"
	"github.com/uptrace/bun"
)

// BunPermissionRepository implements PermissionRepository using Bun ORM
type BunPermissionRepository struct {
	db *bun.DB
}

// NewBunPermissionRepository creates a new Bun-based permission repository
func NewBunPermissionRepository(db *bun.DB) *BunPermissionRepository {
	return &BunPermissionRepository{db: db}
}

// Create inserts a new permission row
func (r *BunPermissionRepository) Create(ctx context.Context, permission *models.Permission) error {
	_, err := r.db.NewInsert().
		Model(permission).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create permission: %w", err)
	}
	return nil
}

// GetByID retrieves a permission by ID
func (r *BunPermissionRepository) GetByID(ctx context.Context, id string) (*models.Permission, error) {
	permission := new(models.Permission)
	err := r.db.NewSelect().
		Model(permission).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get permission: %w", err)
	}
	return permission, nil
}

// List retrieves account permissions plus system permissions
func (r *BunPermissionRepository) List(ctx context.Context, accountID string) ([]models.Permission, error) {
	var permissions []models.Permission
	err := r.db.NewSelect().
		Model(&permissions).
		Where("account_id = ? OR account_id IS NULL", accountID).
		Order("service ASC", "action ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	return permissions, nil
}

// Update persists permission changes
func (r *BunPermissionRepository) Update(ctx context.Context, permission *models.Permission) error {
	res, err := r.db.NewUpdate().
		Model(permission).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update permission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a permission row
func (r *BunPermissionRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.NewDelete().
		Model((*models.Permission)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete permission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
