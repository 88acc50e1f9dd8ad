package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bastionlabs/bastion/internal/db/models"
	"github.com/uptrace/bun"
)

// BunPolicyRepository implements PolicyRepository using Bun ORM
type BunPolicyRepository struct {
	db *bun.DB
}

// NewBunPolicyRepository creates a new Bun-based policy repository
func NewBunPolicyRepository(db *bun.DB) *BunPolicyRepository {
	return &BunPolicyRepository{db: db}
}

// Create inserts a new policy
func (r *BunPolicyRepository) Create(ctx context.Context, policy *models.Policy) error {
	_, err := r.db.NewInsert().
		Model(policy).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create policy: %w", err)
	}
	return nil
}

// GetByID retrieves a policy by ID. System policies are reachable from any
// tenant; callers enforce visibility.
func (r *BunPolicyRepository) GetByID(ctx context.Context, id string) (*models.Policy, error) {
	policy := new(models.Policy)
	err := r.db.NewSelect().
		Model(policy).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return policy, nil
}

// GetByName resolves an account policy first, then falls back to a system
// policy of the same name.
func (r *BunPolicyRepository) GetByName(ctx context.Context, accountID, name string) (*models.Policy, error) {
	policy := new(models.Policy)
	err := r.db.NewSelect().
		Model(policy).
		Where("account_id = ?", accountID).
		Where("name = ?", name).
		Scan(ctx)
	if err == nil {
		return policy, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get policy by name: %w", err)
	}

	policy = new(models.Policy)
	err = r.db.NewSelect().
		Model(policy).
		Where("account_id IS NULL").
		Where("name = ?", name).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get system policy by name: %w", err)
	}
	return policy, nil
}

// List retrieves account policies plus system policies, optionally filtered
// by path prefix
func (r *BunPolicyRepository) List(ctx context.Context, accountID, pathPrefix string) ([]models.Policy, error) {
	var policies []models.Policy
	q := r.db.NewSelect().
		Model(&policies).
		Where("account_id = ? OR account_id IS NULL", accountID)
	if pathPrefix != "" {
		q = q.Where("path LIKE ?", pathPrefix+"%")
	}
	err := q.Order("name ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	return policies, nil
}

// Update persists policy changes
func (r *BunPolicyRepository) Update(ctx context.Context, policy *models.Policy) error {
	res, err := r.db.NewUpdate().
		Model(policy).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a policy
func (r *BunPolicyRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.NewDelete().
		Model((*models.Policy)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAttachedToUser retrieves policies attached directly to a user, in
// attachment order
func (r *BunPolicyRepository) ListAttachedToUser(ctx context.Context, userID string) ([]models.Policy, error) {
	var policies []models.Policy
	err := r.db.NewSelect().
		Model(&policies).
		Join("JOIN user_policies AS up ON up.policy_id = p.id").
		Where("up.user_id = ?", userID).
		Order("up.attached_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list user policies: %w", err)
	}
	return policies, nil
}

// ListAttachedToGroups retrieves policies attached to any of the groups, in
// attachment order
func (r *BunPolicyRepository) ListAttachedToGroups(ctx context.Context, groupIDs []string) ([]models.Policy, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	var policies []models.Policy
	err := r.db.NewSelect().
		Model(&policies).
		Join("JOIN group_policies AS gp ON gp.policy_id = p.id").
		Where("gp.group_id IN (?)", bun.In(groupIDs)).
		Order("gp.attached_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list group policies: %w", err)
	}
	return policies, nil
}

// ListAttachedToRoles retrieves policies attached to any of the roles, in
// attachment order
func (r *BunPolicyRepository) ListAttachedToRoles(ctx context.Context, roleIDs []string) ([]models.Policy, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	var policies []models.Policy
	err := r.db.NewSelect().
		Model(&policies).
		Join("JOIN role_policies AS rp ON rp.policy_id = p.id").
		Where("rp.role_id IN (?)", bun.In(roleIDs)).
		Order("rp.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list role policies: %w", err)
	}
	return policies, nil
}

// ListPermissions retrieves the permission rows linked to a policy
func (r *BunPolicyRepository) ListPermissions(ctx context.Context, policyID string) ([]models.Permission, error) {
	var permissions []models.Permission
	err := r.db.NewSelect().
		Model(&permissions).
		Join("JOIN policy_permissions AS pp ON pp.permission_id = perm.id").
		Where("pp.policy_id = ?", policyID).
		Order("pp.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list policy permissions: %w", err)
	}
	return permissions, nil
}

// AttachPermission links a permission row to a policy
func (r *BunPolicyRepository) AttachPermission(ctx context.Context, link *models.PolicyPermission) error {
	_, err := r.db.NewInsert().
		Model(link).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("attach permission: %w", err)
	}
	return nil
}

// DetachPermission unlinks a permission row from a policy
func (r *BunPolicyRepository) DetachPermission(ctx context.Context, policyID, permissionID string) error {
	res, err := r.db.NewDelete().
		Model((*models.PolicyPermission)(nil)).
		Where("policy_id = ?", policyID).
		Where("permission_id = ?", permissionID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("detach permission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
