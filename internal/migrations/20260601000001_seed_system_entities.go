package migrations

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bastionlabs/bastion/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20260601000001, down_20260601000001)
}

const (
	SystemRootRoleID    = models.SystemRootRoleID
	SystemAdminPolicyID = models.SystemAdminPolicyID
)

// up_20260601000001 seeds the shared system entities: the root role, the
// wildcard admin policy attached to it, and baseline IAM permissions.
func up_20260601000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] seeding root role...")

	// Root is granted through user_roles assignment, never assumed, so the
	// trust document admits nobody.
	rootTrust := json.RawMessage(`{
		"Version": "2012-10-17",
		"Statement": [
			{"Effect": "Deny", "Principal": {"AWS": "*"}, "Action": "sts:AssumeRole", "Resource": "*"}
		]
	}`)

	rootRole := models.Role{
		ID:                 SystemRootRoleID,
		AccountID:          nil,
		Name:               models.RootRoleName,
		Description:        "System role granting unconditional access to all account operations",
		Path:               "/",
		TrustDocument:      rootTrust,
		MaxSessionDuration: 3600,
	}

	_, err := db.NewInsert().
		Model(&rootRole).
		On("CONFLICT DO NOTHING"). // Idempotent
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed root role: %w", err)
	}
	fmt.Println(" OK")

	fmt.Print(" [up] seeding administrator policy...")

	// Documentation of what root means; the authorization gate short-circuits
	// on the role name before evaluation reaches this document.
	adminDoc := json.RawMessage(`{
		"Version": "2012-10-17",
		"Statement": [
			{"Effect": "Allow", "Action": "*", "Resource": "*"}
		]
	}`)

	adminPolicy := models.Policy{
		ID:           SystemAdminPolicyID,
		AccountID:    nil,
		Name:         "AdministratorAccess",
		Description:  "Grants all actions on all resources",
		Path:         "/",
		Document:     adminDoc,
		PolicyType:   models.PolicyTypeSystem,
		IsAttachable: true,
	}

	_, err = db.NewInsert().
		Model(&adminPolicy).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed administrator policy: %w", err)
	}

	adminAttachment := models.RolePolicy{
		ID:       "00000000-0000-7000-8000-000000000003",
		RoleID:   SystemRootRoleID,
		PolicyID: SystemAdminPolicyID,
	}

	_, err = db.NewInsert().
		Model(&adminAttachment).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to attach administrator policy: %w", err)
	}
	fmt.Println(" OK")

	fmt.Print(" [up] seeding baseline permissions...")

	baseline := []models.Permission{
		{ID: "00000000-0000-7000-8000-000000000010", Service: "iam", Action: "CreateUser", ResourcePattern: "arn:aws:iam::*:user/*", Effect: models.PermissionEffectAllow, Description: "Create users within the account", IsSystem: true},
		{ID: "00000000-0000-7000-8000-000000000011", Service: "iam", Action: "DeleteUser", ResourcePattern: "arn:aws:iam::*:user/*", Effect: models.PermissionEffectAllow, Description: "Delete users within the account", IsSystem: true},
		{ID: "00000000-0000-7000-8000-000000000012", Service: "iam", Action: "AttachUserPolicy", ResourcePattern: "arn:aws:iam::*:user/*", Effect: models.PermissionEffectAllow, Description: "Attach policies to users", IsSystem: true},
		{ID: "00000000-0000-7000-8000-000000000013", Service: "iam", Action: "CreateGroup", ResourcePattern: "arn:aws:iam::*:group/*", Effect: models.PermissionEffectAllow, Description: "Create groups within the account", IsSystem: true},
		{ID: "00000000-0000-7000-8000-000000000014", Service: "iam", Action: "CreateRole", ResourcePattern: "arn:aws:iam::*:role/*", Effect: models.PermissionEffectAllow, Description: "Create roles within the account", IsSystem: true},
		{ID: "00000000-0000-7000-8000-000000000015", Service: "sts", Action: "AssumeRole", ResourcePattern: "arn:aws:iam::*:role/*", Effect: models.PermissionEffectAllow, Description: "Assume roles permitted by trust policy", IsSystem: true},
	}

	for _, perm := range baseline {
		perm := perm
		_, err := db.NewInsert().
			Model(&perm).
			On("CONFLICT DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to seed permission %s:%s: %w", perm.Service, perm.Action, err)
		}
	}
	fmt.Println(" OK")

	return nil
}

// down_20260601000001 removes the seeded system entities
func down_20260601000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] removing system entities...")

	if _, err := db.NewDelete().
		Model((*models.Permission)(nil)).
		Where("is_system = ?", true).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove system permissions: %w", err)
	}

	if _, err := db.NewDelete().
		Model((*models.RolePolicy)(nil)).
		Where("role_id = ?", SystemRootRoleID).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove root role attachments: %w", err)
	}

	if _, err := db.NewDelete().
		Model((*models.Policy)(nil)).
		Where("id = ?", SystemAdminPolicyID).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove administrator policy: %w", err)
	}

	if _, err := db.NewDelete().
		Model((*models.Role)(nil)).
		Where("id = ?", SystemRootRoleID).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove root role: %w", err)
	}

	fmt.Println(" OK")
	return nil
}
