package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bastionlabs/bastion/internal/db/models"
	"github.com/uptrace/bun"
)

// BunRoleRepository implements RoleRepository using Bun ORM
type BunRoleRepository struct {
	db *bun.DB
}

// NewBunRoleRepository creates a new Bun-based role repository
func NewBunRoleRepository(db *bun.DB) *BunRoleRepository {
	return &BunRoleRepository{db: db}
}

// Create inserts a new role
func (r *BunRoleRepository) Create(ctx context.Context, role *models.Role) error {
	_, err := r.db.NewInsert().
		Model(role).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create role: %w", err)
	}
	return nil
}

// GetByID retrieves a role by ID. System roles are reachable from any
// tenant, so no account filter applies here; callers enforce visibility.
func (r *BunRoleRepository) GetByID(ctx context.Context, id string) (*models.Role, error) {
	role := new(models.Role)
	err := r.db.NewSelect().
		Model(role).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get role: %w", err)
	}
	return role, nil
}

// GetByName resolves an account role first, then falls back to a system
// role of the same name.
func (r *BunRoleRepository) GetByName(ctx context.Context, accountID, name string) (*models.Role, error) {
	role := new(models.Role)
	err := r.db.NewSelect().
		Model(role).
		Where("account_id = ?", accountID).
		Where("name = ?", name).
		Scan(ctx)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get role by name: %w", err)
	}

	role = new(models.Role)
	err = r.db.NewSelect().
		Model(role).
		Where("account_id IS NULL").
		Where("name = ?", name).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get system role by name: %w", err)
	}
	return role, nil
}

// List retrieves account roles plus system roles, optionally filtered by
// path prefix
func (r *BunRoleRepository) List(ctx context.Context, accountID, pathPrefix string) ([]models.Role, error) {
	var roles []models.Role
	q := r.db.NewSelect().
		Model(&roles).
		Where("account_id = ? OR account_id IS NULL", accountID)
	if pathPrefix != "" {
		q = q.Where("path LIKE ?", pathPrefix+"%")
	}
	err := q.Order("name ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}

// Update persists role changes
func (r *BunRoleRepository) Update(ctx context.Context, role *models.Role) error {
	res, err := r.db.NewUpdate().
		Model(role).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a role
func (r *BunRoleRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.NewDelete().
		Model((*models.Role)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignToUser records a durable role grant
func (r *BunRoleRepository) AssignToUser(ctx context.Context, assignment *models.UserRole) error {
	_, err := r.db.NewInsert().
		Model(assignment).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

// RevokeFromUser removes a role grant
func (r *BunRoleRepository) RevokeFromUser(ctx context.Context, userID, roleID string) error {
	res, err := r.db.NewDelete().
		Model((*models.UserRole)(nil)).
		Where("user_id = ?", userID).
		Where("role_id = ?", roleID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRolesForUser retrieves the roles a user holds through user_roles.
// The authorization gate checks this list for the root system role.
func (r *BunRoleRepository) ListRolesForUser(ctx context.Context, userID string) ([]models.Role, error) {
	var roles []models.Role
	err := r.db.NewSelect().
		Model(&roles).
		Join("JOIN user_roles AS ur ON ur.role_id = r.id").
		Where("ur.user_id = ?", userID).
		Order("ur.assigned_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roles for user: %w", err)
	}
	return roles, nil
}
