// Package repository defines the persistence interfaces the services depend
// on, plus the Bun-backed implementations. Interfaces keep the core testable
// with hand-written mocks; Bun repositories are the SQL implementation.
package repository

import (
	"context"
	"time"

	"github.com/bastionlabs/bastion/internal/db/models"
)

// TargetType tags the kind of entity a policy attaches to.
type TargetType string

const (
	TargetUser  TargetType = "user"
	TargetGroup TargetType = "group"
	TargetRole  TargetType = "role"
)

// AttachmentTarget identifies one side of a policy attachment.
type AttachmentTarget struct {
	Type TargetType
	ID   string
}

// AccountRepository exposes persistence operations for tenant accounts.
type AccountRepository interface {
	// CreateWithRootUser inserts the account, its root user, and the root
	// role assignment in one transaction.
	CreateWithRootUser(ctx context.Context, account *models.Account, rootUser *models.User, rootRoleID string) error
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	List(ctx context.Context) ([]models.Account, error)
	Update(ctx context.Context, account *models.Account) error
	Delete(ctx context.Context, id string) error
	// HasDependents reports whether users, groups, policies, or roles still
	// reference the account.
	HasDependents(ctx context.Context, id string) (bool, error)
}

// UserRepository exposes persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, accountID, id string) (*models.User, error)
	GetByUsername(ctx context.Context, accountID, username string) (*models.User, error)
	List(ctx context.Context, accountID string) ([]models.User, error)
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, accountID, id string) error
}

// GroupRepository exposes persistence operations for groups and membership.
type GroupRepository interface {
	Create(ctx context.Context, group *models.Group) error
	GetByID(ctx context.Context, accountID, id string) (*models.Group, error)
	GetByName(ctx context.Context, accountID, name string) (*models.Group, error)
	List(ctx context.Context, accountID, pathPrefix string) ([]models.Group, error)
	Update(ctx context.Context, group *models.Group) error
	Delete(ctx context.Context, accountID, id string) error

	AddMember(ctx context.Context, membership *models.UserGroup) error
	RemoveMember(ctx context.Context, groupID, userID string) error
	ListMembers(ctx context.Context, groupID string) ([]models.User, error)
	ListGroupsForUser(ctx context.Context, userID string) ([]models.Group, error)
	CountMembers(ctx context.Context, groupID string) (int, error)
}

// RoleRepository exposes persistence operations for roles and role grants.
// System roles have a nil account id and are visible to every tenant.
type RoleRepository interface {
	Create(ctx context.Context, role *models.Role) error
	GetByID(ctx context.Context, id string) (*models.Role, error)
	// GetByName resolves an account role first, then falls back to a system
	// role of the same name.
	GetByName(ctx context.Context, accountID, name string) (*models.Role, error)
	List(ctx context.Context, accountID, pathPrefix string) ([]models.Role, error)
	Update(ctx context.Context, role *models.Role) error
	Delete(ctx context.Context, id string) error

	AssignToUser(ctx context.Context, assignment *models.UserRole) error
	RevokeFromUser(ctx context.Context, userID, roleID string) error
	ListRolesForUser(ctx context.Context, userID string) ([]models.Role, error)
}

// PolicyRepository exposes persistence operations for policies, including
// the attachment-driven queries the policy resolver walks.
type PolicyRepository interface {
	Create(ctx context.Context, policy *models.Policy) error
	GetByID(ctx context.Context, id string) (*models.Policy, error)
	GetByName(ctx context.Context, accountID, name string) (*models.Policy, error)
	List(ctx context.Context, accountID, pathPrefix string) ([]models.Policy, error)
	Update(ctx context.Context, policy *models.Policy) error
	Delete(ctx context.Context, id string) error

	// Resolver queries, ordered by attachment time for stable output.
	ListAttachedToUser(ctx context.Context, userID string) ([]models.Policy, error)
	ListAttachedToGroups(ctx context.Context, groupIDs []string) ([]models.Policy, error)
	ListAttachedToRoles(ctx context.Context, roleIDs []string) ([]models.Policy, error)

	// Permission rows linked through policy_permissions.
	ListPermissions(ctx context.Context, policyID string) ([]models.Permission, error)
	AttachPermission(ctx context.Context, link *models.PolicyPermission) error
	DetachPermission(ctx context.Context, policyID, permissionID string) error
}

// PermissionRepository exposes persistence operations for granular
// permission rows.
type PermissionRepository interface {
	Create(ctx context.Context, permission *models.Permission) error
	GetByID(ctx context.Context, id string) (*models.Permission, error)
	List(ctx context.Context, accountID string) ([]models.Permission, error)
	Update(ctx context.Context, permission *models.Permission) error
	Delete(ctx context.Context, id string) error
}

// AttachmentRepository manages the policy-to-target links across the three
// attachment tables.
type AttachmentRepository interface {
	Attach(ctx context.Context, policyID string, target AttachmentTarget) error
	Detach(ctx context.Context, policyID string, target AttachmentTarget) error
	Exists(ctx context.Context, policyID string, target AttachmentTarget) (bool, error)
	CountForPolicy(ctx context.Context, policyID string) (int, error)
	DetachAllForPolicy(ctx context.Context, policyID string) error
	DetachAllForTarget(ctx context.Context, target AttachmentTarget) error
}

// SessionRepository exposes persistence operations for role sessions.
type SessionRepository interface {
	Create(ctx context.Context, session *models.RoleSession) error
	GetByID(ctx context.Context, id string) (*models.RoleSession, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.RoleSession, error)
	ListActiveForUser(ctx context.Context, userID string) ([]models.RoleSession, error)
	// UpdateExpiry moves expires_at and rotates the stored token hash on
	// refresh.
	UpdateExpiry(ctx context.Context, id string, expiresAt time.Time, tokenHash string) error
	Revoke(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// TokenBlacklistRepository is the cold tier of the revocation store.
type TokenBlacklistRepository interface {
	// Upsert inserts the row or refreshes revoked_at and reason on conflict.
	Upsert(ctx context.Context, token *models.BlacklistedToken) error
	GetByHash(ctx context.Context, tokenHash string) (*models.BlacklistedToken, error)
	// IsRevoked reports whether a live row exists for the hash.
	IsRevoked(ctx context.Context, tokenHash string, now time.Time) (bool, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
