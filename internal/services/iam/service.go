package iam

import (
	"context"
	"encoding/json"

	"github.com/bastionlabs/bastion/internal/db/models"
	"github.com/bastionlabs/bastion/internal/repository"
	"github.com/bastionlabs/bastion/internal/services/sts"
)

// CreateAccountParams carries the inputs for tenant provisioning. Every
// account is born with exactly one root user.
type CreateAccountParams struct {
	Name         string
	Email        string
	RootUsername string
	RootPassword string
}

// CreateUserParams carries the inputs for user creation. Users created here
// are never root; the root user exists from account provisioning.
type CreateUserParams struct {
	AccountID string
	Username  string
	Password  string
	FirstName string
	LastName  string
}

// CreateGroupParams carries the inputs for group creation.
type CreateGroupParams struct {
	AccountID   string
	Name        string
	Description string
	Path        string
}

// CreateRoleParams carries the inputs for role creation. TrustDocument must
// be a valid trust policy; MaxSessionDuration is seconds in [900, 43200],
// zero meaning the 3600 default.
type CreateRoleParams struct {
	AccountID          string
	Name               string
	Description        string
	Path               string
	TrustDocument      json.RawMessage
	MaxSessionDuration int
}

// CreatePolicyParams carries the inputs for policy creation.
type CreatePolicyParams struct {
	AccountID   string
	Name        string
	Description string
	Path        string
	Document    json.RawMessage
	PolicyType  models.PolicyType
}

// CreatePermissionParams carries the inputs for a granular permission row.
type CreatePermissionParams struct {
	AccountID       string
	Service         string
	Action          string
	ResourcePattern string
	Effect          models.PermissionEffect
	Conditions      json.RawMessage
	Description     string
}

// Service provides identity and access management for tenant accounts.
//
// This service centralizes:
//   - Authentication (login/logout, token revocation on logout)
//   - Account provisioning (account + root user, atomically)
//   - User, group, role, policy, and permission administration
//   - Policy attachment to users, groups, and roles
//
// Authorization decisions live in Gate; role assumption lives in the sts
// package. All administration here is tenant-scoped: an account never sees
// or mutates another account's entities, and shared system entities are
// immutable through this interface.
type Service interface {
	// =========================================================================
	// Authentication
	// =========================================================================

	// Login verifies credentials and issues a token pair. Inactive users and
	// suspended accounts cannot log in.
	Login(ctx context.Context, accountID, username, password string) (*sts.TokenPair, *models.User, error)

	// RefreshLogin redeems a refresh token for a fresh pair. The redeemed
	// token is retired; the replacement stays in the same token family.
	RefreshLogin(ctx context.Context, refreshToken string) (*sts.TokenPair, error)

	// Logout revokes the presented tokens. Both arguments are optional;
	// empty strings are skipped.
	Logout(ctx context.Context, accessToken, refreshToken string) error

	// LogoutAll revokes every outstanding token and session of a user.
	LogoutAll(ctx context.Context, accountID, userID, reason string) error

	// =========================================================================
	// Account Management
	// =========================================================================

	// CreateAccount provisions a tenant: the account row, its root user, and
	// the root role assignment, in one transaction.
	CreateAccount(ctx context.Context, params CreateAccountParams) (*models.Account, *models.User, error)

	GetAccount(ctx context.Context, id string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)

	// UpdateAccount changes name, email, or status.
	UpdateAccount(ctx context.Context, account *models.Account) error

	// DeleteAccount removes an empty account. Accounts still holding users
	// beyond root, groups, policies, or roles are rejected.
	DeleteAccount(ctx context.Context, id string) error

	// =========================================================================
	// User Management
	// =========================================================================

	CreateUser(ctx context.Context, params CreateUserParams) (*models.User, error)
	GetUser(ctx context.Context, accountID, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, accountID, username string) (*models.User, error)
	ListUsers(ctx context.Context, accountID string) ([]models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error

	// DeleteUser removes a user along with their attachments, group
	// memberships, and role grants, and revokes their tokens. The root user
	// cannot be deleted.
	DeleteUser(ctx context.Context, accountID, id string) error

	// =========================================================================
	// Group Management
	// =========================================================================

	CreateGroup(ctx context.Context, params CreateGroupParams) (*models.Group, error)
	GetGroup(ctx context.Context, accountID, name string) (*models.Group, error)
	ListGroups(ctx context.Context, accountID, pathPrefix string) ([]models.Group, error)
	UpdateGroup(ctx context.Context, group *models.Group) error

	// DeleteGroup removes a group, its memberships, and its attachments.
	DeleteGroup(ctx context.Context, accountID, id string) error

	AddUserToGroup(ctx context.Context, accountID, groupID, userID string) error
	RemoveUserFromGroup(ctx context.Context, accountID, groupID, userID string) error
	ListGroupMembers(ctx context.Context, accountID, groupID string) ([]models.User, error)
	ListUserGroups(ctx context.Context, accountID, userID string) ([]models.Group, error)

	// =========================================================================
	// Role Management
	// =========================================================================

	CreateRole(ctx context.Context, params CreateRoleParams) (*models.Role, error)

	// GetRole resolves an account role first, then a system role of the same
	// name.
	GetRole(ctx context.Context, accountID, name string) (*models.Role, error)
	ListRoles(ctx context.Context, accountID, pathPrefix string) ([]models.Role, error)

	// UpdateRole changes description, trust document, or session ceiling.
	// System roles are immutable.
	UpdateRole(ctx context.Context, accountID string, role *models.Role) error

	// DeleteRole removes an account role and its attachments. System roles
	// are immutable.
	DeleteRole(ctx context.Context, accountID, id string) error

	// AssignRole grants a user standing membership in a role. Assigning the
	// system root role is how operator access is delegated.
	AssignRole(ctx context.Context, accountID, userID, roleName, assignedBy string) error
	RevokeRole(ctx context.Context, accountID, userID, roleName string) error
	ListUserRoles(ctx context.Context, accountID, userID string) ([]models.Role, error)

	// =========================================================================
	// Policy Management
	// =========================================================================

	// CreatePolicy validates the document before persisting it.
	CreatePolicy(ctx context.Context, params CreatePolicyParams) (*models.Policy, error)

	// GetPolicy resolves an account policy first, then a system policy of
	// the same name.
	GetPolicy(ctx context.Context, accountID, name string) (*models.Policy, error)
	ListPolicies(ctx context.Context, accountID, pathPrefix string) ([]models.Policy, error)

	// UpdatePolicy revalidates the document. System policies are immutable.
	UpdatePolicy(ctx context.Context, accountID string, policy *models.Policy) error

	// DeletePolicy removes an unattached account policy. Policies with live
	// attachments return a ResourceInUse error; detach first.
	DeletePolicy(ctx context.Context, accountID, id string) error

	// AttachPolicy links a policy to a user, group, or role in the same
	// account. Attaching twice is a conflict.
	AttachPolicy(ctx context.Context, accountID, policyID string, target repository.AttachmentTarget) error
	DetachPolicy(ctx context.Context, accountID, policyID string, target repository.AttachmentTarget) error
	ListAttachedPolicies(ctx context.Context, accountID string, target repository.AttachmentTarget) ([]models.Policy, error)

	// =========================================================================
	// Permission Management
	// =========================================================================

	CreatePermission(ctx context.Context, params CreatePermissionParams) (*models.Permission, error)
	ListPermissions(ctx context.Context, accountID string) ([]models.Permission, error)

	// DeletePermission removes an account permission row. System permissions
	// are immutable.
	DeletePermission(ctx context.Context, accountID, id string) error

	// AttachPermissionToPolicy links a granular permission into a policy; the
	// resolver compiles it into the policy's statement set.
	AttachPermissionToPolicy(ctx context.Context, accountID, policyID, permissionID, createdBy string) error
	DetachPermissionFromPolicy(ctx context.Context, accountID, policyID, permissionID string) error
}
