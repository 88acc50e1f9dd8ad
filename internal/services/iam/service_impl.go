package iam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bastionlabs/bastion/internal/apperr"
	"github.com/bastionlabs/bastion/internal/auth"
	"github.com/bastionlabs/bastion/internal/db/bunx"
	"github.com/bastionlabs/bastion/internal/db/models"
	"github.com/bastionlabs/bastion/internal/policy"
	"github.com/bastionlabs/bastion/internal/repository"
	"github.com/bastionlabs/bastion/internal/services/revocation"
	"github.com/bastionlabs/bastion/internal/services/sts"
	"github.com/bastionlabs/bastion/internal/telemetry"
)

const tracerName = "bastion/services/iam"

// Session duration bounds for roles, in seconds.
const (
	minSessionDuration     = 900
	maxSessionDuration     = 43200
	defaultSessionDuration = 3600
)

const minPasswordLength = 8

// iamService implements the Service interface. It coordinates the
// repositories, the password hasher, the token issuer, and the revocation
// store.
type iamService struct {
	accounts    repository.AccountRepository
	users       repository.UserRepository
	groups      repository.GroupRepository
	roles       repository.RoleRepository
	policies    repository.PolicyRepository
	permissions repository.PermissionRepository
	attachments repository.AttachmentRepository
	sessions    repository.SessionRepository

	hasher  auth.PasswordHasher
	issuer  *sts.Issuer
	revoker *revocation.Store
	clock   clockwork.Clock
}

// ServiceDependencies contains all dependencies for IAM service construction.
type ServiceDependencies struct {
	Accounts    repository.AccountRepository
	Users       repository.UserRepository
	Groups      repository.GroupRepository
	Roles       repository.RoleRepository
	Policies    repository.PolicyRepository
	Permissions repository.PermissionRepository
	Attachments repository.AttachmentRepository
	Sessions    repository.SessionRepository

	Hasher  auth.PasswordHasher
	Issuer  *sts.Issuer
	Revoker *revocation.Store
	Clock   clockwork.Clock
}

// NewService creates the IAM service. A nil hasher falls back to bcrypt at
// the default cost; a nil clock falls back to wall time.
func NewService(deps ServiceDependencies) Service {
	if deps.Hasher == nil {
		deps.Hasher = auth.NewBcryptHasher()
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &iamService{
		accounts:    deps.Accounts,
		users:       deps.Users,
		groups:      deps.Groups,
		roles:       deps.Roles,
		policies:    deps.Policies,
		permissions: deps.Permissions,
		attachments: deps.Attachments,
		sessions:    deps.Sessions,
		hasher:      deps.Hasher,
		issuer:      deps.Issuer,
		revoker:     deps.Revoker,
		clock:       deps.Clock,
	}
}

// =========================================================================
// Authentication
// =========================================================================

func (s *iamService) Login(ctx context.Context, accountID, username, password string) (*sts.TokenPair, *models.User, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.Login",
		attribute.String(telemetry.AttrAccountID, accountID),
	)
	defer span.End()

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, apperr.Authentication("invalid credentials")
		}
		return nil, nil, fmt.Errorf("load account: %w", err)
	}
	if account.Status != models.AccountStatusActive {
		return nil, nil, apperr.Authentication("account is %s", account.Status)
	}

	user, err := s.users.GetByUsername(ctx, accountID, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Same error as a bad password so usernames cannot be probed.
			return nil, nil, apperr.Authentication("invalid credentials")
		}
		return nil, nil, fmt.Errorf("load user: %w", err)
	}
	if user.Status != models.UserStatusActive {
		return nil, nil, apperr.Authentication("user is %s", user.Status)
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, nil, apperr.Authentication("invalid credentials")
	}

	pair, err := s.issuer.Issue(user)
	if err != nil {
		return nil, nil, fmt.Errorf("issue tokens: %w", err)
	}
	return pair, user, nil
}

func (s *iamService) RefreshLogin(ctx context.Context, refreshToken string) (*sts.TokenPair, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.RefreshLogin")
	defer span.End()

	claims, err := s.issuer.ParseRefresh(refreshToken)
	if err != nil {
		return nil, err
	}

	revoked, err := s.revoker.IsRevoked(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, apperr.Authentication("token has been revoked")
	}

	user, err := s.users.GetByID(ctx, claims.AccountID, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Authentication("invalid token")
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.Status != models.UserStatusActive {
		return nil, apperr.Authentication("user is %s", user.Status)
	}

	pair, err := s.issuer.Rotate(user, claims.TokenFamily)
	if err != nil {
		return nil, fmt.Errorf("issue tokens: %w", err)
	}

	// Retire the redeemed token so each refresh token works exactly once.
	if err := s.revoker.Revoke(ctx, refreshToken, "refresh token rotated", revocation.RevokeMeta{}); err != nil {
		return nil, err
	}

	telemetry.AddEvent(span, "tokens.rotated",
		attribute.String(telemetry.AttrTokenFamily, claims.TokenFamily),
	)
	return pair, nil
}

func (s *iamService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.Logout")
	defer span.End()

	if accessToken != "" {
		if err := s.revoker.Revoke(ctx, accessToken, "logout", revocation.RevokeMeta{}); err != nil {
			return err
		}
	}
	if refreshToken != "" {
		if err := s.revoker.Revoke(ctx, refreshToken, "logout", revocation.RevokeMeta{}); err != nil {
			return err
		}
	}
	return nil
}

func (s *iamService) LogoutAll(ctx context.Context, accountID, userID, reason string) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.LogoutAll",
		attribute.String(telemetry.AttrAccountID, accountID),
	)
	defer span.End()

	if reason == "" {
		reason = "all tokens revoked"
	}
	if err := s.revoker.RevokeAllForUser(ctx, userID, accountID, reason); err != nil {
		return err
	}
	if err := s.sessions.RevokeAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	return nil
}

// =========================================================================
// Account Management
// =========================================================================

func (s *iamService) CreateAccount(ctx context.Context, params CreateAccountParams) (*models.Account, *models.User, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.CreateAccount")
	defer span.End()

	if params.Name == "" || params.Email == "" {
		return nil, nil, apperr.Validation("account name and email are required")
	}
	if err := validateEmail(params.Email); err != nil {
		return nil, nil, err
	}
	if params.RootUsername == "" {
		params.RootUsername = "root"
	}
	if len(params.RootPassword) < minPasswordLength {
		return nil, nil, apperr.Validation("root password must be at least %d characters", minPasswordLength)
	}

	hash, err := s.hasher.Hash(params.RootPassword)
	if err != nil {
		return nil, nil, fmt.Errorf("hash root password: %w", err)
	}

	now := s.clock.Now()
	account := &models.Account{
		ID:        bunx.NewUUIDv7(),
		Name:      params.Name,
		Email:     params.Email,
		Status:    models.AccountStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	rootUser := &models.User{
		ID:           bunx.NewUUIDv7(),
		AccountID:    account.ID,
		Username:     params.RootUsername,
		Email:        &params.Email,
		PasswordHash: hash,
		IsRoot:       true,
		Status:       models.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.accounts.CreateWithRootUser(ctx, account, rootUser, models.SystemRootRoleID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, nil, apperr.Conflict("account with email %q already exists", params.Email)
		}
		return nil, nil, fmt.Errorf("create account: %w", err)
	}
	return account, rootUser, nil
}

func (s *iamService) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("account %q not found", id)
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

func (s *iamService) ListAccounts(ctx context.Context) ([]models.Account, error) {
	return s.accounts.List(ctx)
}

func (s *iamService) UpdateAccount(ctx context.Context, account *models.Account) error {
	if err := validateEmail(account.Email); err != nil {
		return err
	}
	account.UpdatedAt = s.clock.Now()
	if err := s.accounts.Update(ctx, account); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("account %q not found", account.ID)
		}
		return fmt.Errorf("update account: %w", err)
	}
	return nil
}

func (s *iamService) DeleteAccount(ctx context.Context, id string) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.DeleteAccount",
		attribute.String(telemetry.AttrAccountID, id),
	)
	defer span.End()

	hasDeps, err := s.accounts.HasDependents(ctx, id)
	if err != nil {
		return fmt.Errorf("check account dependents: %w", err)
	}
	if hasDeps {
		return apperr.New(apperr.KindResourceInUse, "account still contains users, groups, policies, or roles")
	}
	if err := s.accounts.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("account %q not found", id)
		}
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

// =========================================================================
// User Management
// =========================================================================

func (s *iamService) CreateUser(ctx context.Context, params CreateUserParams) (*models.User, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.CreateUser",
		attribute.String(telemetry.AttrAccountID, params.AccountID),
	)
	defer span.End()

	if params.Username == "" {
		return nil, apperr.Validation("username is required")
	}
	if len(params.Password) < minPasswordLength {
		return nil, apperr.Validation("password must be at least %d characters", minPasswordLength)
	}
	if _, err := s.users.GetByUsername(ctx, params.AccountID, params.Username); err == nil {
		return nil, apperr.Conflict("user %q already exists", params.Username)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("check username: %w", err)
	}

	hash, err := s.hasher.Hash(params.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.clock.Now()
	user := &models.User{
		ID:           bunx.NewUUIDv7(),
		AccountID:    params.AccountID,
		Username:     params.Username,
		PasswordHash: hash,
		Status:       models.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if params.FirstName != "" {
		user.FirstName = &params.FirstName
	}
	if params.LastName != "" {
		user.LastName = &params.LastName
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *iamService) GetUser(ctx context.Context, accountID, id string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, accountID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("user %q not found", id)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *iamService) GetUserByUsername(ctx context.Context, accountID, username string) (*models.User, error) {
	user, err := s.users.GetByUsername(ctx, accountID, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("user %q not found", username)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *iamService) ListUsers(ctx context.Context, accountID string) ([]models.User, error) {
	return s.users.List(ctx, accountID)
}

func (s *iamService) UpdateUser(ctx context.Context, user *models.User) error {
	current, err := s.users.GetByID(ctx, user.AccountID, user.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("user %q not found", user.ID)
		}
		return fmt.Errorf("load user: %w", err)
	}
	// The root flag is set at provisioning and never changes afterwards.
	if user.IsRoot != current.IsRoot {
		return apperr.Validation("the root flag cannot be changed")
	}

	user.UpdatedAt = s.clock.Now()
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

func (s *iamService) DeleteUser(ctx context.Context, accountID, id string) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.DeleteUser",
		attribute.String(telemetry.AttrAccountID, accountID),
	)
	defer span.End()

	user, err := s.users.GetByID(ctx, accountID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("user %q not found", id)
		}
		return fmt.Errorf("load user: %w", err)
	}
	if user.IsRoot {
		return apperr.Validation("the root user cannot be deleted")
	}

	// Clear everything hanging off the user before the row goes away.
	if err := s.attachments.DetachAllForTarget(ctx, repository.AttachmentTarget{Type: repository.TargetUser, ID: id}); err != nil {
		return fmt.Errorf("detach user policies: %w", err)
	}
	groups, err := s.groups.ListGroupsForUser(ctx, id)
	if err != nil {
		return fmt.Errorf("list user groups: %w", err)
	}
	for i := range groups {
		if err := s.groups.RemoveMember(ctx, groups[i].ID, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("remove group membership: %w", err)
		}
	}
	roles, err := s.roles.ListRolesForUser(ctx, id)
	if err != nil {
		return fmt.Errorf("list user roles: %w", err)
	}
	for i := range roles {
		if err := s.roles.RevokeFromUser(ctx, id, roles[i].ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("revoke role grant: %w", err)
		}
	}

	if err := s.revoker.RevokeAllForUser(ctx, id, accountID, "user deleted"); err != nil {
		return err
	}
	if err := s.sessions.RevokeAllForUser(ctx, id); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}

	if err := s.users.Delete(ctx, accountID, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// =========================================================================
// Group Management
// =========================================================================

func (s *iamService) CreateGroup(ctx context.Context, params CreateGroupParams) (*models.Group, error) {
	if params.Name == "" {
		return nil, apperr.Validation("group name is required")
	}
	path, err := normalizePath(params.Path)
	if err != nil {
		return nil, err
	}
	params.Path = path
	if _, err := s.groups.GetByName(ctx, params.AccountID, params.Name); err == nil {
		return nil, apperr.Conflict("group %q already exists", params.Name)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("check group name: %w", err)
	}

	now := s.clock.Now()
	group := &models.Group{
		ID:          bunx.NewUUIDv7(),
		AccountID:   params.AccountID,
		Name:        params.Name,
		Description: params.Description,
		Path:        params.Path,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.groups.Create(ctx, group); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	return group, nil
}

func (s *iamService) GetGroup(ctx context.Context, accountID, name string) (*models.Group, error) {
	group, err := s.groups.GetByName(ctx, accountID, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("group %q not found", name)
		}
		return nil, fmt.Errorf("get group: %w", err)
	}
	return group, nil
}

func (s *iamService) ListGroups(ctx context.Context, accountID, pathPrefix string) ([]models.Group, error) {
	return s.groups.List(ctx, accountID, pathPrefix)
}

func (s *iamService) UpdateGroup(ctx context.Context, group *models.Group) error {
	path, err := normalizePath(group.Path)
	if err != nil {
		return err
	}
	group.Path = path
	group.UpdatedAt = s.clock.Now()
	if err := s.groups.Update(ctx, group); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("group %q not found", group.ID)
		}
		return fmt.Errorf("update group: %w", err)
	}
	return nil
}

func (s *iamService) DeleteGroup(ctx context.Context, accountID, id string) error {
	if _, err := s.groups.GetByID(ctx, accountID, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("group %q not found", id)
		}
		return fmt.Errorf("load group: %w", err)
	}

	if err := s.attachments.DetachAllForTarget(ctx, repository.AttachmentTarget{Type: repository.TargetGroup, ID: id}); err != nil {
		return fmt.Errorf("detach group policies: %w", err)
	}
	members, err := s.groups.ListMembers(ctx, id)
	if err != nil {
		return fmt.Errorf("list group members: %w", err)
	}
	for i := range members {
		if err := s.groups.RemoveMember(ctx, id, members[i].ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("remove membership: %w", err)
		}
	}

	if err := s.groups.Delete(ctx, accountID, id); err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	return nil
}

func (s *iamService) AddUserToGroup(ctx context.Context, accountID, groupID, userID string) error {
	if _, err := s.groups.GetByID(ctx, accountID, groupID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("group %q not found", groupID)
		}
		return fmt.Errorf("load group: %w", err)
	}
	if _, err := s.users.GetByID(ctx, accountID, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("user %q not found", userID)
		}
		return fmt.Errorf("load user: %w", err)
	}

	membership := &models.UserGroup{
		ID:        bunx.NewUUIDv7(),
		UserID:    userID,
		GroupID:   groupID,
		CreatedAt: s.clock.Now(),
	}
	if err := s.groups.AddMember(ctx, membership); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return apperr.Conflict("user is already a member of the group")
		}
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}

func (s *iamService) RemoveUserFromGroup(ctx context.Context, accountID, groupID, userID string) error {
	if _, err := s.groups.GetByID(ctx, accountID, groupID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("group %q not found", groupID)
		}
		return fmt.Errorf("load group: %w", err)
	}
	if err := s.groups.RemoveMember(ctx, groupID, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("user is not a member of the group")
		}
		return fmt.Errorf("remove group member: %w", err)
	}
	return nil
}

func (s *iamService) ListGroupMembers(ctx context.Context, accountID, groupID string) ([]models.User, error) {
	if _, err := s.groups.GetByID(ctx, accountID, groupID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("group %q not found", groupID)
		}
		return nil, fmt.Errorf("load group: %w", err)
	}
	return s.groups.ListMembers(ctx, groupID)
}

func (s *iamService) ListUserGroups(ctx context.Context, accountID, userID string) ([]models.Group, error) {
	if _, err := s.users.GetByID(ctx, accountID, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("user %q not found", userID)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return s.groups.ListGroupsForUser(ctx, userID)
}

// =========================================================================
// Role Management
// =========================================================================

func (s *iamService) CreateRole(ctx context.Context, params CreateRoleParams) (*models.Role, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.CreateRole",
		attribute.String(telemetry.AttrAccountID, params.AccountID),
	)
	defer span.End()

	if params.Name == "" {
		return nil, apperr.Validation("role name is required")
	}
	if _, err := policy.ParseTrustDocument(params.TrustDocument); err != nil {
		return nil, err
	}
	duration, err := normalizeSessionDuration(params.MaxSessionDuration)
	if err != nil {
		return nil, err
	}
	path, err := normalizePath(params.Path)
	if err != nil {
		return nil, err
	}
	params.Path = path

	if existing, err := s.roles.GetByName(ctx, params.AccountID, params.Name); err == nil && !existing.IsSystem() {
		return nil, apperr.Conflict("role %q already exists", params.Name)
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("check role name: %w", err)
	}

	now := s.clock.Now()
	role := &models.Role{
		ID:                 bunx.NewUUIDv7(),
		AccountID:          &params.AccountID,
		Name:               params.Name,
		Description:        params.Description,
		Path:               params.Path,
		TrustDocument:      params.TrustDocument,
		MaxSessionDuration: duration,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.roles.Create(ctx, role); err != nil {
		return nil, fmt.Errorf("create role: %w", err)
	}
	return role, nil
}

func (s *iamService) GetRole(ctx context.Context, accountID, name string) (*models.Role, error) {
	role, err := s.roles.GetByName(ctx, accountID, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("role %q not found", name)
		}
		return nil, fmt.Errorf("get role: %w", err)
	}
	return role, nil
}

func (s *iamService) ListRoles(ctx context.Context, accountID, pathPrefix string) ([]models.Role, error) {
	return s.roles.List(ctx, accountID, pathPrefix)
}

func (s *iamService) UpdateRole(ctx context.Context, accountID string, role *models.Role) error {
	current, err := s.roles.GetByID(ctx, role.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("role %q not found", role.ID)
		}
		return fmt.Errorf("load role: %w", err)
	}
	if err := s.requireOwnedRole(current, accountID); err != nil {
		return err
	}

	if _, err := policy.ParseTrustDocument(role.TrustDocument); err != nil {
		return err
	}
	duration, err := normalizeSessionDuration(role.MaxSessionDuration)
	if err != nil {
		return err
	}
	path, err := normalizePath(role.Path)
	if err != nil {
		return err
	}
	role.Path = path
	role.MaxSessionDuration = duration
	role.AccountID = current.AccountID
	role.UpdatedAt = s.clock.Now()

	if err := s.roles.Update(ctx, role); err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	return nil
}

func (s *iamService) DeleteRole(ctx context.Context, accountID, id string) error {
	role, err := s.roles.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("role %q not found", id)
		}
		return fmt.Errorf("load role: %w", err)
	}
	if err := s.requireOwnedRole(role, accountID); err != nil {
		return err
	}

	if err := s.attachments.DetachAllForTarget(ctx, repository.AttachmentTarget{Type: repository.TargetRole, ID: id}); err != nil {
		return fmt.Errorf("detach role policies: %w", err)
	}
	if err := s.roles.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	return nil
}

func (s *iamService) AssignRole(ctx context.Context, accountID, userID, roleName, assignedBy string) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.AssignRole",
		attribute.String(telemetry.AttrAccountID, accountID),
	)
	defer span.End()

	role, err := s.roles.GetByName(ctx, accountID, roleName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("role %q not found", roleName)
		}
		return fmt.Errorf("load role: %w", err)
	}
	if _, err := s.users.GetByID(ctx, accountID, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("user %q not found", userID)
		}
		return fmt.Errorf("load user: %w", err)
	}

	assignment := &models.UserRole{
		UserID:     userID,
		RoleID:     role.ID,
		AssignedBy: assignedBy,
		AssignedAt: s.clock.Now(),
	}
	if err := s.roles.AssignToUser(ctx, assignment); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return apperr.Conflict("user already holds role %q", roleName)
		}
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

func (s *iamService) RevokeRole(ctx context.Context, accountID, userID, roleName string) error {
	role, err := s.roles.GetByName(ctx, accountID, roleName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("role %q not found", roleName)
		}
		return fmt.Errorf("load role: %w", err)
	}
	if err := s.roles.RevokeFromUser(ctx, userID, role.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("user does not hold role %q", roleName)
		}
		return fmt.Errorf("revoke role: %w", err)
	}
	return nil
}

func (s *iamService) ListUserRoles(ctx context.Context, accountID, userID string) ([]models.Role, error) {
	if _, err := s.users.GetByID(ctx, accountID, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("user %q not found", userID)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return s.roles.ListRolesForUser(ctx, userID)
}

// =========================================================================
// Policy Management
// =========================================================================

func (s *iamService) CreatePolicy(ctx context.Context, params CreatePolicyParams) (*models.Policy, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.CreatePolicy",
		attribute.String(telemetry.AttrAccountID, params.AccountID),
	)
	defer span.End()

	if params.Name == "" {
		return nil, apperr.Validation("policy name is required")
	}
	if _, err := policy.ParseDocument(params.Document); err != nil {
		return nil, err
	}
	path, err := normalizePath(params.Path)
	if err != nil {
		return nil, err
	}
	params.Path = path

	if existing, err := s.policies.GetByName(ctx, params.AccountID, params.Name); err == nil && !existing.IsSystem() {
		return nil, apperr.Conflict("policy %q already exists", params.Name)
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("check policy name: %w", err)
	}

	if params.PolicyType == "" {
		params.PolicyType = models.PolicyTypeCustom
	}
	if params.PolicyType == models.PolicyTypeSystem {
		return nil, apperr.Validation("system policies cannot be created through the API")
	}

	now := s.clock.Now()
	p := &models.Policy{
		ID:           bunx.NewUUIDv7(),
		AccountID:    &params.AccountID,
		Name:         params.Name,
		Description:  params.Description,
		Path:         params.Path,
		Document:     params.Document,
		PolicyType:   params.PolicyType,
		IsAttachable: true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.policies.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create policy: %w", err)
	}
	return p, nil
}

func (s *iamService) GetPolicy(ctx context.Context, accountID, name string) (*models.Policy, error) {
	p, err := s.policies.GetByName(ctx, accountID, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("policy %q not found", name)
		}
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return p, nil
}

func (s *iamService) ListPolicies(ctx context.Context, accountID, pathPrefix string) ([]models.Policy, error) {
	return s.policies.List(ctx, accountID, pathPrefix)
}

func (s *iamService) UpdatePolicy(ctx context.Context, accountID string, p *models.Policy) error {
	current, err := s.policies.GetByID(ctx, p.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("policy %q not found", p.ID)
		}
		return fmt.Errorf("load policy: %w", err)
	}
	if err := s.requireOwnedPolicy(current, accountID); err != nil {
		return err
	}

	if _, err := policy.ParseDocument(p.Document); err != nil {
		return err
	}
	path, err := normalizePath(p.Path)
	if err != nil {
		return err
	}
	p.Path = path
	p.AccountID = current.AccountID
	p.PolicyType = current.PolicyType
	p.UpdatedAt = s.clock.Now()

	if err := s.policies.Update(ctx, p); err != nil {
		return fmt.Errorf("update policy: %w", err)
	}
	return nil
}

func (s *iamService) DeletePolicy(ctx context.Context, accountID, id string) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.DeletePolicy",
		attribute.String(telemetry.AttrAccountID, accountID),
	)
	defer span.End()

	p, err := s.policies.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("policy %q not found", id)
		}
		return fmt.Errorf("load policy: %w", err)
	}
	if err := s.requireOwnedPolicy(p, accountID); err != nil {
		return err
	}

	count, err := s.attachments.CountForPolicy(ctx, id)
	if err != nil {
		return fmt.Errorf("count attachments: %w", err)
	}
	if count > 0 {
		return apperr.New(apperr.KindResourceInUse, "policy %q has %d attachments; detach before deleting", p.Name, count)
	}

	if err := s.policies.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	return nil
}

func (s *iamService) AttachPolicy(ctx context.Context, accountID, policyID string, target repository.AttachmentTarget) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "iam.AttachPolicy",
		attribute.String(telemetry.AttrAccountID, accountID),
	)
	defer span.End()

	p, err := s.policies.GetByID(ctx, policyID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("policy %q not found", policyID)
		}
		return fmt.Errorf("load policy: %w", err)
	}
	// System policies attach anywhere; account policies only within their
	// own account.
	if !p.IsSystem() && *p.AccountID != accountID {
		return apperr.NotFound("policy %q not found", policyID)
	}
	if !p.IsAttachable {
		return apperr.Validation("policy %q is not attachable", p.Name)
	}

	if err := s.requireTargetInAccount(ctx, accountID, target); err != nil {
		return err
	}

	exists, err := s.attachments.Exists(ctx, policyID, target)
	if err != nil {
		return fmt.Errorf("check attachment: %w", err)
	}
	if exists {
		return apperr.Conflict("policy %q is already attached", p.Name)
	}

	if err := s.attachments.Attach(ctx, policyID, target); err != nil {
		return fmt.Errorf("attach policy: %w", err)
	}
	return nil
}

func (s *iamService) DetachPolicy(ctx context.Context, accountID, policyID string, target repository.AttachmentTarget) error {
	if err := s.requireTargetInAccount(ctx, accountID, target); err != nil {
		return err
	}
	if err := s.attachments.Detach(ctx, policyID, target); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("policy is not attached to this %s", target.Type)
		}
		return fmt.Errorf("detach policy: %w", err)
	}
	return nil
}

func (s *iamService) ListAttachedPolicies(ctx context.Context, accountID string, target repository.AttachmentTarget) ([]models.Policy, error) {
	if err := s.requireTargetInAccount(ctx, accountID, target); err != nil {
		return nil, err
	}
	switch target.Type {
	case repository.TargetUser:
		return s.policies.ListAttachedToUser(ctx, target.ID)
	case repository.TargetGroup:
		return s.policies.ListAttachedToGroups(ctx, []string{target.ID})
	case repository.TargetRole:
		return s.policies.ListAttachedToRoles(ctx, []string{target.ID})
	default:
		return nil, apperr.Validation("unknown attachment target type %q", target.Type)
	}
}

// =========================================================================
// Permission Management
// =========================================================================

func (s *iamService) CreatePermission(ctx context.Context, params CreatePermissionParams) (*models.Permission, error) {
	if params.Service == "" || params.Action == "" {
		return nil, apperr.Validation("service and action are required")
	}
	if err := policy.ValidateResourcePattern(params.ResourcePattern); err != nil {
		return nil, err
	}
	if params.Effect == "" {
		params.Effect = models.PermissionEffectAllow
	}
	if len(params.Conditions) > 0 && string(params.Conditions) != "null" {
		var cond policy.ConditionMap
		if err := json.Unmarshal(params.Conditions, &cond); err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, err, "invalid conditions")
		}
	}

	now := s.clock.Now()
	perm := &models.Permission{
		ID:              bunx.NewUUIDv7(),
		AccountID:       &params.AccountID,
		Service:         params.Service,
		Action:          params.Action,
		ResourcePattern: params.ResourcePattern,
		Effect:          params.Effect,
		Conditions:      params.Conditions,
		Description:     params.Description,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.permissions.Create(ctx, perm); err != nil {
		return nil, fmt.Errorf("create permission: %w", err)
	}
	return perm, nil
}

func (s *iamService) ListPermissions(ctx context.Context, accountID string) ([]models.Permission, error) {
	return s.permissions.List(ctx, accountID)
}

func (s *iamService) DeletePermission(ctx context.Context, accountID, id string) error {
	perm, err := s.permissions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("permission %q not found", id)
		}
		return fmt.Errorf("load permission: %w", err)
	}
	if perm.IsSystem {
		return apperr.Validation("system permissions are immutable")
	}
	if perm.AccountID == nil || *perm.AccountID != accountID {
		return apperr.NotFound("permission %q not found", id)
	}

	if err := s.permissions.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete permission: %w", err)
	}
	return nil
}

func (s *iamService) AttachPermissionToPolicy(ctx context.Context, accountID, policyID, permissionID, createdBy string) error {
	p, err := s.policies.GetByID(ctx, policyID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("policy %q not found", policyID)
		}
		return fmt.Errorf("load policy: %w", err)
	}
	if err := s.requireOwnedPolicy(p, accountID); err != nil {
		return err
	}
	if _, err := s.permissions.GetByID(ctx, permissionID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("permission %q not found", permissionID)
		}
		return fmt.Errorf("load permission: %w", err)
	}

	link := &models.PolicyPermission{
		PolicyID:     policyID,
		PermissionID: permissionID,
		CreatedAt:    s.clock.Now(),
		CreatedBy:    createdBy,
	}
	if err := s.policies.AttachPermission(ctx, link); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return apperr.Conflict("permission is already linked to the policy")
		}
		return fmt.Errorf("attach permission: %w", err)
	}
	return nil
}

func (s *iamService) DetachPermissionFromPolicy(ctx context.Context, accountID, policyID, permissionID string) error {
	p, err := s.policies.GetByID(ctx, policyID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("policy %q not found", policyID)
		}
		return fmt.Errorf("load policy: %w", err)
	}
	if err := s.requireOwnedPolicy(p, accountID); err != nil {
		return err
	}
	if err := s.policies.DetachPermission(ctx, policyID, permissionID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("permission is not linked to the policy")
		}
		return fmt.Errorf("detach permission: %w", err)
	}
	return nil
}

// =========================================================================
// Helpers
// =========================================================================

// requireOwnedRole rejects mutations of system roles and roles belonging to
// another account. Foreign roles read as not found so tenants cannot probe
// each other.
func (s *iamService) requireOwnedRole(role *models.Role, accountID string) error {
	if role.IsSystem() {
		return apperr.Validation("system role %q is immutable", role.Name)
	}
	if *role.AccountID != accountID {
		return apperr.NotFound("role %q not found", role.ID)
	}
	return nil
}

// requireOwnedPolicy is requireOwnedRole for policies.
func (s *iamService) requireOwnedPolicy(p *models.Policy, accountID string) error {
	if p.IsSystem() {
		return apperr.Validation("system policy %q is immutable", p.Name)
	}
	if *p.AccountID != accountID {
		return apperr.NotFound("policy %q not found", p.ID)
	}
	return nil
}

// requireTargetInAccount verifies the attachment target exists in the
// caller's account.
func (s *iamService) requireTargetInAccount(ctx context.Context, accountID string, target repository.AttachmentTarget) error {
	switch target.Type {
	case repository.TargetUser:
		if _, err := s.users.GetByID(ctx, accountID, target.ID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.NotFound("user %q not found", target.ID)
			}
			return fmt.Errorf("load user: %w", err)
		}
	case repository.TargetGroup:
		if _, err := s.groups.GetByID(ctx, accountID, target.ID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.NotFound("group %q not found", target.ID)
			}
			return fmt.Errorf("load group: %w", err)
		}
	case repository.TargetRole:
		role, err := s.roles.GetByID(ctx, target.ID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.NotFound("role %q not found", target.ID)
			}
			return fmt.Errorf("load role: %w", err)
		}
		if !role.IsSystem() && *role.AccountID != accountID {
			return apperr.NotFound("role %q not found", target.ID)
		}
	default:
		return apperr.Validation("unknown attachment target type %q", target.Type)
	}
	return nil
}

// validateEmail enforces RFC 5322 address syntax on account emails.
func validateEmail(email string) error {
	if _, err := mail.ParseAddress(email); err != nil {
		return apperr.Validation("invalid email address %q", email)
	}
	return nil
}

// normalizePath applies the hierarchy label rules shared by groups, roles,
// and policies: empty defaults to "/", anything else must begin and end
// with a slash.
func normalizePath(path string) (string, error) {
	if path == "" || path == "/" {
		return "/", nil
	}
	if !strings.HasPrefix(path, "/") || !strings.HasSuffix(path, "/") {
		return "", apperr.Validation("path %q must begin and end with %q", path, "/")
	}
	return path, nil
}

// normalizeSessionDuration applies the default and bounds checks for a
// role's session ceiling.
func normalizeSessionDuration(seconds int) (int, error) {
	if seconds == 0 {
		return defaultSessionDuration, nil
	}
	if seconds < minSessionDuration || seconds > maxSessionDuration {
		return 0, apperr.Validation("max session duration must be between %d and %d seconds", minSessionDuration, maxSessionDuration)
	}
	return seconds, nil
}
