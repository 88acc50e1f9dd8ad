package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bastionlabs/bastion/internal/db/bunx"
	"github.com/bastionlabs/bastion/internal/db/models"
	"github.com/uptrace/bun"
)

// BunAttachmentRepository implements AttachmentRepository across the three
// attachment tables, dispatching on the target type.
type BunAttachmentRepository struct {
	db *bun.DB
}

// NewBunAttachmentRepository creates a new Bun-based attachment repository
func NewBunAttachmentRepository(db *bun.DB) *BunAttachmentRepository {
	return &BunAttachmentRepository{db: db}
}

// Attach links a policy to a target
func (r *BunAttachmentRepository) Attach(ctx context.Context, policyID string, target AttachmentTarget) error {
	var model any
	switch target.Type {
	case TargetUser:
		model = &models.UserPolicy{
			ID:         bunx.NewUUIDv7(),
			UserID:     target.ID,
			PolicyID:   policyID,
			AttachedAt: time.Now(),
		}
	case TargetGroup:
		model = &models.GroupPolicy{
			ID:         bunx.NewUUIDv7(),
			GroupID:    target.ID,
			PolicyID:   policyID,
			AttachedAt: time.Now(),
		}
	case TargetRole:
		model = &models.RolePolicy{
			ID:       bunx.NewUUIDv7(),
			RoleID:   target.ID,
			PolicyID: policyID,
		}
	default:
		return fmt.Errorf("unknown attachment target type %q", target.Type)
	}

	if _, err := r.db.NewInsert().Model(model).Exec(ctx); err != nil {
		return fmt.Errorf("attach policy to %s: %w", target.Type, err)
	}
	return nil
}

// Detach unlinks a policy from a target
func (r *BunAttachmentRepository) Detach(ctx context.Context, policyID string, target AttachmentTarget) error {
	q := r.db.NewDelete()
	switch target.Type {
	case TargetUser:
		q = q.Model((*models.UserPolicy)(nil)).Where("user_id = ?", target.ID)
	case TargetGroup:
		q = q.Model((*models.GroupPolicy)(nil)).Where("group_id = ?", target.ID)
	case TargetRole:
		q = q.Model((*models.RolePolicy)(nil)).Where("role_id = ?", target.ID)
	default:
		return fmt.Errorf("unknown attachment target type %q", target.Type)
	}

	res, err := q.Where("policy_id = ?", policyID).Exec(ctx)
	if err != nil {
		return fmt.Errorf("detach policy from %s: %w", target.Type, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Exists reports whether the attachment is already present
func (r *BunAttachmentRepository) Exists(ctx context.Context, policyID string, target AttachmentTarget) (bool, error) {
	q := r.db.NewSelect()
	switch target.Type {
	case TargetUser:
		q = q.Model((*models.UserPolicy)(nil)).Where("user_id = ?", target.ID)
	case TargetGroup:
		q = q.Model((*models.GroupPolicy)(nil)).Where("group_id = ?", target.ID)
	case TargetRole:
		q = q.Model((*models.RolePolicy)(nil)).Where("role_id = ?", target.ID)
	default:
		return false, fmt.Errorf("unknown attachment target type %q", target.Type)
	}

	exists, err := q.Where("policy_id = ?", policyID).Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check attachment: %w", err)
	}
	return exists, nil
}

// CountForPolicy totals the attachments of a policy across all target kinds.
// Policy deletion is rejected while this is non-zero.
func (r *BunAttachmentRepository) CountForPolicy(ctx context.Context, policyID string) (int, error) {
	userCount, err := r.db.NewSelect().
		Model((*models.UserPolicy)(nil)).
		Where("policy_id = ?", policyID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count user attachments: %w", err)
	}

	groupCount, err := r.db.NewSelect().
		Model((*models.GroupPolicy)(nil)).
		Where("policy_id = ?", policyID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count group attachments: %w", err)
	}

	roleCount, err := r.db.NewSelect().
		Model((*models.RolePolicy)(nil)).
		Where("policy_id = ?", policyID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count role attachments: %w", err)
	}

	return userCount + groupCount + roleCount, nil
}

// DetachAllForPolicy removes every attachment of a policy
func (r *BunAttachmentRepository) DetachAllForPolicy(ctx context.Context, policyID string) error {
	if _, err := r.db.NewDelete().
		Model((*models.UserPolicy)(nil)).
		Where("policy_id = ?", policyID).
		Exec(ctx); err != nil {
		return fmt.Errorf("detach user attachments: %w", err)
	}
	if _, err := r.db.NewDelete().
		Model((*models.GroupPolicy)(nil)).
		Where("policy_id = ?", policyID).
		Exec(ctx); err != nil {
		return fmt.Errorf("detach group attachments: %w", err)
	}
	if _, err := r.db.NewDelete().
		Model((*models.RolePolicy)(nil)).
		Where("policy_id = ?", policyID).
		Exec(ctx); err != nil {
		return fmt.Errorf("detach role attachments: %w", err)
	}
	return nil
}

// DetachAllForTarget removes every attachment pointing at a target. Called
// when the target entity is deleted.
func (r *BunAttachmentRepository) DetachAllForTarget(ctx context.Context, target AttachmentTarget) error {
	var err error
	switch target.Type {
	case TargetUser:
		_, err = r.db.NewDelete().
			Model((*models.UserPolicy)(nil)).
			Where("user_id = ?", target.ID).
			Exec(ctx)
	case TargetGroup:
		_, err = r.db.NewDelete().
			Model((*models.GroupPolicy)(nil)).
			Where("group_id = ?", target.ID).
			Exec(ctx)
	case TargetRole:
		_, err = r.db.NewDelete().
			Model((*models.RolePolicy)(nil)).
			Where("role_id = ?", target.ID).
			Exec(ctx)
	default:
		return fmt.Errorf("unknown attachment target type %q", target.Type)
	}
	if err != nil {
		return fmt.Errorf("detach target attachments: %w", err)
	}
	return nil
}
