package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bastionlabs/bastion/internal/db/models"
	"github.com/uptrace/bun"
)

// BunGroupRepository implements GroupRepository using Bun ORM
type BunGroupRepository struct {
	db *bun.DB
}

// NewBunGroupRepository creates a new Bun-based group repository
func NewBunGroupRepository(db *bun.DB) *BunGroupRepository {
	return &BunGroupRepository{db: db}
}

// Create inserts a new group
func (r *BunGroupRepository) Create(ctx context.Context, group *models.Group) error {
	_, err := r.db.NewInsert().
		Model(group).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	return nil
}

// GetByID retrieves a group by ID within an account
func (r *BunGroupRepository) GetByID(ctx context.Context, accountID, id string) (*models.Group, error) {
	group := new(models.Group)
	err := r.db.NewSelect().
		Model(group).
		Where("id = ?", id).
		Where("account_id = ?", accountID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get group: %w", err)
	}
	return group, nil
}

// GetByName retrieves a group by name within an account
func (r *BunGroupRepository) GetByName(ctx context.Context, accountID, name string) (*models.Group, error) {
	group := new(models.Group)
	err := r.db.NewSelect().
		Model(group).
		Where("account_id = ?", accountID).
		Where("name = ?", name).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get group by name: %w", err)
	}
	return group, nil
}

// List retrieves account groups, optionally filtered by path prefix
func (r *BunGroupRepository) List(ctx context.Context, accountID, pathPrefix string) ([]models.Group, error) {
	var groups []models.Group
	q := r.db.NewSelect().
		Model(&groups).
		Where("account_id = ?", accountID)
	if pathPrefix != "" {
		q = q.Where("path LIKE ?", pathPrefix+"%")
	}
	err := q.Order("name ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// Update persists group changes
func (r *BunGroupRepository) Update(ctx context.Context, group *models.Group) error {
	res, err := r.db.NewUpdate().
		Model(group).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a group within an account
func (r *BunGroupRepository) Delete(ctx context.Context, accountID, id string) error {
	res, err := r.db.NewDelete().
		Model((*models.Group)(nil)).
		Where("id = ?", id).
		Where("account_id = ?", accountID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddMember records group membership
func (r *BunGroupRepository) AddMember(ctx context.Context, membership *models.UserGroup) error {
	_, err := r.db.NewInsert().
		Model(membership).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}

// RemoveMember removes a user from a group
func (r *BunGroupRepository) RemoveMember(ctx context.Context, groupID, userID string) error {
	res, err := r.db.NewDelete().
		Model((*models.UserGroup)(nil)).
		Where("group_id = ?", groupID).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("remove group member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMembers retrieves the users belonging to a group
func (r *BunGroupRepository) ListMembers(ctx context.Context, groupID string) ([]models.User, error) {
	var users []models.User
	err := r.db.NewSelect().
		Model(&users).
		Join("JOIN user_groups AS ug ON ug.user_id = u.id").
		Where("ug.group_id = ?", groupID).
		Order("u.username ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	return users, nil
}

// ListGroupsForUser retrieves the groups a user belongs to.
// This feeds the group leg of policy resolution.
func (r *BunGroupRepository) ListGroupsForUser(ctx context.Context, userID string) ([]models.Group, error) {
	var groups []models.Group
	err := r.db.NewSelect().
		Model(&groups).
		Join("JOIN user_groups AS ug ON ug.group_id = g.id").
		Where("ug.user_id = ?", userID).
		Order("ug.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list groups for user: %w", err)
	}
	return groups, nil
}

// CountMembers counts the users in a group
func (r *BunGroupRepository) CountMembers(ctx context.Context, groupID string) (int, error) {
	count, err := r.db.NewSelect().
		Model((*models.UserGroup)(nil)).
		Where("group_id = ?", groupID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count group members: %w", err)
	}
	return count, nil
}
