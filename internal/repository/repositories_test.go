package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"

	"github.com/bastionlabs/bastion/internal/db/bunx"
	"github.com/bastionlabs/bastion/internal/db/models"
	"github.com/bastionlabs/bastion/internal/migrations"
)

// newTestDB opens an in-memory SQLite database and applies the full
// migration chain, system seeds included.
func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	ctx := context.Background()

	db, err := bunx.NewDB(":memory:", bunx.PoolOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	migrator := migrate.NewMigrator(db, migrations.Migrations)
	require.NoError(t, migrator.Init(ctx))
	_, err = migrator.Migrate(ctx)
	require.NoError(t, err)

	return db
}

func trustNobody() json.RawMessage {
	return json.RawMessage(`{
		"Version": "2012-10-17",
		"Statement": [{"Effect": "Deny", "Principal": {"AWS": "*"}, "Action": "sts:AssumeRole", "Resource": "*"}]
	}`)
}

func allowAllDocument() json.RawMessage {
	return json.RawMessage(`{
		"Version": "2012-10-17",
		"Statement": [{"Effect": "Allow", "Action": "*", "Resource": "*"}]
	}`)
}

// seedAccount provisions an account with its root user the way the service
// layer does, through the transactional create.
func seedAccount(t *testing.T, db *bun.DB, name, email string) (*models.Account, *models.User) {
	t.Helper()
	ctx := context.Background()

	account := &models.Account{
		ID:     bunx.NewUUIDv7(),
		Name:   name,
		Email:  email,
		Status: models.AccountStatusActive,
	}
	root := &models.User{
		ID:           bunx.NewUUIDv7(),
		AccountID:    account.ID,
		Username:     "root",
		Email:        &email,
		PasswordHash: "hash",
		IsRoot:       true,
		Status:       models.UserStatusActive,
	}
	require.NoError(t, NewBunAccountRepository(db).CreateWithRootUser(ctx, account, root, models.SystemRootRoleID))
	return account, root
}

func TestAccountRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("create with root user is transactional", func(t *testing.T) {
		db := newTestDB(t)
		account, root := seedAccount(t, db, "acme", "ops@acme.test")

		accounts := NewBunAccountRepository(db)
		got, err := accounts.GetByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, "acme", got.Name)

		byEmail, err := accounts.GetByEmail(ctx, "ops@acme.test")
		require.NoError(t, err)
		assert.Equal(t, account.ID, byEmail.ID)

		users := NewBunUserRepository(db)
		gotRoot, err := users.GetByUsername(ctx, account.ID, "root")
		require.NoError(t, err)
		assert.True(t, gotRoot.IsRoot)
		assert.Equal(t, root.ID, gotRoot.ID)

		roles, err := NewBunRoleRepository(db).ListRolesForUser(ctx, root.ID)
		require.NoError(t, err)
		require.Len(t, roles, 1)
		assert.Equal(t, models.SystemRootRoleID, roles[0].ID)
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		db := newTestDB(t)
		seedAccount(t, db, "acme", "ops@acme.test")

		email := "ops@acme.test"
		account := &models.Account{ID: bunx.NewUUIDv7(), Name: "other", Email: email, Status: models.AccountStatusActive}
		root := &models.User{ID: bunx.NewUUIDv7(), AccountID: account.ID, Username: "root", Email: &email, PasswordHash: "hash", IsRoot: true}
		err := NewBunAccountRepository(db).CreateWithRootUser(ctx, account, root, models.SystemRootRoleID)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConflict)

		// Rolled back: neither the account nor the root user landed.
		_, err = NewBunUserRepository(db).GetByID(ctx, account.ID, root.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("root user alone does not block deletion", func(t *testing.T) {
		db := newTestDB(t)
		account, _ := seedAccount(t, db, "acme", "ops@acme.test")
		accounts := NewBunAccountRepository(db)

		blocked, err := accounts.HasDependents(ctx, account.ID)
		require.NoError(t, err)
		assert.False(t, blocked)

		group := &models.Group{ID: bunx.NewUUIDv7(), AccountID: account.ID, Name: "devs", Path: "/"}
		require.NoError(t, NewBunGroupRepository(db).Create(ctx, group))

		blocked, err = accounts.HasDependents(ctx, account.ID)
		require.NoError(t, err)
		assert.True(t, blocked)

		require.NoError(t, NewBunGroupRepository(db).Delete(ctx, account.ID, group.ID))
		blocked, err = accounts.HasDependents(ctx, account.ID)
		require.NoError(t, err)
		assert.False(t, blocked)
	})

	t.Run("missing account", func(t *testing.T) {
		db := newTestDB(t)
		_, err := NewBunAccountRepository(db).GetByID(ctx, bunx.NewUUIDv7())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUserRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("username is unique per account only", func(t *testing.T) {
		db := newTestDB(t)
		acme, _ := seedAccount(t, db, "acme", "ops@acme.test")
		globex, _ := seedAccount(t, db, "globex", "ops@globex.test")
		users := NewBunUserRepository(db)

		alice := &models.User{ID: bunx.NewUUIDv7(), AccountID: acme.ID, Username: "alice", PasswordHash: "hash", Status: models.UserStatusActive}
		require.NoError(t, users.Create(ctx, alice))

		dup := &models.User{ID: bunx.NewUUIDv7(), AccountID: acme.ID, Username: "alice", PasswordHash: "hash"}
		require.Error(t, users.Create(ctx, dup))

		other := &models.User{ID: bunx.NewUUIDv7(), AccountID: globex.ID, Username: "alice", PasswordHash: "hash"}
		require.NoError(t, users.Create(ctx, other))
	})

	t.Run("lookups are account scoped", func(t *testing.T) {
		db := newTestDB(t)
		acme, _ := seedAccount(t, db, "acme", "ops@acme.test")
		globex, _ := seedAccount(t, db, "globex", "ops@globex.test")
		users := NewBunUserRepository(db)

		alice := &models.User{ID: bunx.NewUUIDv7(), AccountID: acme.ID, Username: "alice", PasswordHash: "hash", Status: models.UserStatusActive}
		require.NoError(t, users.Create(ctx, alice))

		_, err := users.GetByID(ctx, globex.ID, alice.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		got, err := users.GetByID(ctx, acme.ID, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Username)

		listed, err := users.List(ctx, acme.ID)
		require.NoError(t, err)
		assert.Len(t, listed, 2) // root + alice
	})

	t.Run("update and delete report missing rows", func(t *testing.T) {
		db := newTestDB(t)
		acme, _ := seedAccount(t, db, "acme", "ops@acme.test")
		users := NewBunUserRepository(db)

		ghost := &models.User{ID: bunx.NewUUIDv7(), AccountID: acme.ID, Username: "ghost", PasswordHash: "hash"}
		assert.ErrorIs(t, users.Update(ctx, ghost), ErrNotFound)
		assert.ErrorIs(t, users.Delete(ctx, acme.ID, ghost.ID), ErrNotFound)
	})
}

func TestGroupRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("membership round trip", func(t *testing.T) {
		db := newTestDB(t)
		acme, root := seedAccount(t, db, "acme", "ops@acme.test")
		groups := NewBunGroupRepository(db)

		devs := &models.Group{ID: bunx.NewUUIDv7(), AccountID: acme.ID, Name: "devs", Path: "/"}
		require.NoError(t, groups.Create(ctx, devs))

		require.NoError(t, groups.AddMember(ctx, &models.UserGroup{ID: bunx.NewUUIDv7(), UserID: root.ID, GroupID: devs.ID}))

		members, err := groups.ListMembers(ctx, devs.ID)
		require.NoError(t, err)
		require.Len(t, members, 1)
		assert.Equal(t, root.ID, members[0].ID)

		memberOf, err := groups.ListGroupsForUser(ctx, root.ID)
		require.NoError(t, err)
		require.Len(t, memberOf, 1)
		assert.Equal(t, "devs", memberOf[0].Name)

		count, err := groups.CountMembers(ctx, devs.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("duplicate membership conflicts", func(t *testing.T) {
		db := newTestDB(t)
		acme, root := seedAccount(t, db, "acme", "ops@acme.test")
		groups := NewBunGroupRepository(db)

		devs := &models.Group{ID: bunx.NewUUIDv7(), AccountID: acme.ID, Name: "devs", Path: "/"}
		require.NoError(t, groups.Create(ctx, devs))
		require.NoError(t, groups.AddMember(ctx, &models.UserGroup{ID: bunx.NewUUIDv7(), UserID: root.ID, GroupID: devs.ID}))

		err := groups.AddMember(ctx, &models.UserGroup{ID: bunx.NewUUIDv7(), UserID: root.ID, GroupID: devs.ID})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("removing a non-member reports not found", func(t *testing.T) {
		db := newTestDB(t)
		acme, root := seedAccount(t, db, "acme", "ops@acme.test")
		groups := NewBunGroupRepository(db)

		devs := &models.Group{ID: bunx.NewUUIDv7(), AccountID: acme.ID, Name: "devs", Path: "/"}
		require.NoError(t, groups.Create(ctx, devs))

		assert.ErrorIs(t, groups.RemoveMember(ctx, devs.ID, root.ID), ErrNotFound)
	})
}

func TestRoleRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("name lookup falls back to system roles", func(t *testing.T) {
		db := newTestDB(t)
		acme, _ := seedAccount(t, db, "acme", "ops@acme.test")
		roles := NewBunRoleRepository(db)

		// No account role named root yet: the seeded system role answers.
		got, err := roles.GetByName(ctx, acme.ID, models.RootRoleName)
		require.NoError(t, err)
		assert.True(t, got.IsSystem())
		assert.Equal(t, models.SystemRootRoleID, got.ID)

		// An account role of the same name shadows the system one.
		local := &models.Role{
			ID:                 bunx.NewUUIDv7(),
			AccountID:          &acme.ID,
			Name:               models.RootRoleName,
			Path:               "/",
			TrustDocument:      trustNobody(),
			MaxSessionDuration: 3600,
		}
		require.NoError(t, roles.Create(ctx, local))

		got, err = roles.GetByName(ctx, acme.ID, models.RootRoleName)
		require.NoError(t, err)
		assert.False(t, got.IsSystem())
		assert.Equal(t, local.ID, got.ID)
	})

	t.Run("duplicate grant conflicts", func(t *testing.T) {
		db := newTestDB(t)
		acme, root := seedAccount(t, db, "acme", "ops@acme.test")
		roles := NewBunRoleRepository(db)

		deployer := &models.Role{
			ID:                 bunx.NewUUIDv7(),
			AccountID:          &acme.ID,
			Name:               "deployer",
			Path:               "/",
			TrustDocument:      trustNobody(),
			MaxSessionDuration: 3600,
		}
		require.NoError(t, roles.Create(ctx, deployer))

		grant := &models.UserRole{UserID: root.ID, RoleID: deployer.ID, AssignedBy: root.ID}
		require.NoError(t, roles.AssignToUser(ctx, grant))
		assert.ErrorIs(t, roles.AssignToUser(ctx, grant), ErrConflict)

		granted, err := roles.ListRolesForUser(ctx, root.ID)
		require.NoError(t, err)
		assert.Len(t, granted, 2) // system root + deployer

		require.NoError(t, roles.RevokeFromUser(ctx, root.ID, deployer.ID))
		assert.ErrorIs(t, roles.RevokeFromUser(ctx, root.ID, deployer.ID), ErrNotFound)
	})

	t.Run("list includes system roles", func(t *testing.T) {
		db := newTestDB(t)
		acme, _ := seedAccount(t, db, "acme", "ops@acme.test")

		listed, err := NewBunRoleRepository(db).List(ctx, acme.ID, "")
		require.NoError(t, err)
		require.NotEmpty(t, listed)

		var sawSystemRoot bool
		for _, r := range listed {
			if r.ID == models.SystemRootRoleID {
				sawSystemRoot = true
			}
		}
		assert.True(t, sawSystemRoot)
	})
}

func TestPolicyRepository(t *testing.T) {
	ctx := context.Background()

	newPolicy := func(accountID *string, name string) *models.Policy {
		return &models.Policy{
			ID:           bunx.NewUUIDv7(),
			AccountID:    accountID,
			Name:         name,
			Path:         "/",
			Document:     allowAllDocument(),
			PolicyType:   models.PolicyTypeCustom,
			IsAttachable: true,
		}
	}

	t.Run("attachment queries follow the links", func(t *testing.T) {
		db := newTestDB(t)
		acme, root := seedAccount(t, db, "acme", "ops@acme.test")
		policies := NewBunPolicyRepository(db)
		attachments := NewBunAttachmentRepository(db)

		p := newPolicy(&acme.ID, "s3-read")
		require.NoError(t, policies.Create(ctx, p))
		require.NoError(t, attachments.Attach(ctx, p.ID, AttachmentTarget{Type: TargetUser, ID: root.ID}))

		attached, err := policies.ListAttachedToUser(ctx, root.ID)
		require.NoError(t, err)
		require.Len(t, attached, 1)
		assert.Equal(t, "s3-read", attached[0].Name)

		// The seeded system root role carries AdministratorAccess.
		viaRoles, err := policies.ListAttachedToRoles(ctx, []string{models.SystemRootRoleID})
		require.NoError(t, err)
		require.Len(t, viaRoles, 1)
		assert.Equal(t, models.SystemAdminPolicyID, viaRoles[0].ID)

		viaGroups, err := policies.ListAttachedToGroups(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, viaGroups)
	})

	t.Run("permission links", func(t *testing.T) {
		db := newTestDB(t)
		acme, root := seedAccount(t, db, "acme", "ops@acme.test")
		policies := NewBunPolicyRepository(db)

		p := newPolicy(&acme.ID, "granular")
		require.NoError(t, policies.Create(ctx, p))

		perm := &models.Permission{
			ID:              bunx.NewUUIDv7(),
			AccountID:       &acme.ID,
			Service:         "s3",
			Action:          "GetObject",
			ResourcePattern: "arn:aws:s3:::logs/*",
			Effect:          models.PermissionEffectAllow,
		}
		require.NoError(t, NewBunPermissionRepository(db).Create(ctx, perm))

		link := &models.PolicyPermission{PolicyID: p.ID, PermissionID: perm.ID, CreatedBy: root.ID}
		require.NoError(t, policies.AttachPermission(ctx, link))
		assert.ErrorIs(t, policies.AttachPermission(ctx, link), ErrConflict)

		linked, err := policies.ListPermissions(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, linked, 1)
		assert.Equal(t, "GetObject", linked[0].Action)

		require.NoError(t, policies.DetachPermission(ctx, p.ID, perm.ID))
		assert.ErrorIs(t, policies.DetachPermission(ctx, p.ID, perm.ID), ErrNotFound)
	})

	t.Run("list mixes account and system policies", func(t *testing.T) {
		db := newTestDB(t)
		acme, _ := seedAccount(t, db, "acme", "ops@acme.test")
		policies := NewBunPolicyRepository(db)

		require.NoError(t, policies.Create(ctx, newPolicy(&acme.ID, "s3-read")))

		listed, err := policies.List(ctx, acme.ID, "")
		require.NoError(t, err)

		names := make([]string, 0, len(listed))
		for _, p := range listed {
			names = append(names, p.Name)
		}
		assert.Contains(t, names, "s3-read")
		assert.Contains(t, names, "AdministratorAccess")
	})
}

func TestAttachmentRepository(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*bun.DB, *models.Account, *models.User, *models.Policy) {
		db := newTestDB(t)
		acme, root := seedAccount(t, db, "acme", "ops@acme.test")
		p := &models.Policy{
			ID:           bunx.NewUUIDv7(),
			AccountID:    &acme.ID,
			Name:         "shared",
			Path:         "/",
			Document:     allowAllDocument(),
			PolicyType:   models.PolicyTypeCustom,
			IsAttachable: true,
		}
		require.NoError(t, NewBunPolicyRepository(db).Create(ctx, p))
		return db, acme, root, p
	}

	t.Run("counts span all target kinds", func(t *testing.T) {
		db, acme, root, p := setup(t)
		attachments := NewBunAttachmentRepository(db)

		group := &models.Group{ID: bunx.NewUUIDv7(), AccountID: acme.ID, Name: "devs", Path: "/"}
		require.NoError(t, NewBunGroupRepository(db).Create(ctx, group))
		role := &models.Role{
			ID: bunx.NewUUIDv7(), AccountID: &acme.ID, Name: "deployer", Path: "/",
			TrustDocument: trustNobody(), MaxSessionDuration: 3600,
		}
		require.NoError(t, NewBunRoleRepository(db).Create(ctx, role))

		require.NoError(t, attachments.Attach(ctx, p.ID, AttachmentTarget{Type: TargetUser, ID: root.ID}))
		require.NoError(t, attachments.Attach(ctx, p.ID, AttachmentTarget{Type: TargetGroup, ID: group.ID}))
		require.NoError(t, attachments.Attach(ctx, p.ID, AttachmentTarget{Type: TargetRole, ID: role.ID}))

		count, err := attachments.CountForPolicy(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		exists, err := attachments.Exists(ctx, p.ID, AttachmentTarget{Type: TargetGroup, ID: group.ID})
		require.NoError(t, err)
		assert.True(t, exists)

		require.NoError(t, attachments.DetachAllForPolicy(ctx, p.ID))
		count, err = attachments.CountForPolicy(ctx, p.ID)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("detach all for a deleted target", func(t *testing.T) {
		db, _, root, p := setup(t)
		attachments := NewBunAttachmentRepository(db)

		require.NoError(t, attachments.Attach(ctx, p.ID, AttachmentTarget{Type: TargetUser, ID: root.ID}))
		require.NoError(t, attachments.DetachAllForTarget(ctx, AttachmentTarget{Type: TargetUser, ID: root.ID}))

		exists, err := attachments.Exists(ctx, p.ID, AttachmentTarget{Type: TargetUser, ID: root.ID})
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("detaching a missing link reports not found", func(t *testing.T) {
		db, _, root, p := setup(t)
		attachments := NewBunAttachmentRepository(db)

		err := attachments.Detach(ctx, p.ID, AttachmentTarget{Type: TargetUser, ID: root.ID})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unknown target kind is rejected", func(t *testing.T) {
		db, _, root, p := setup(t)
		attachments := NewBunAttachmentRepository(db)

		err := attachments.Attach(ctx, p.ID, AttachmentTarget{Type: "datacenter", ID: root.ID})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
	})
}

func TestSessionRepository(t *testing.T) {
	ctx := context.Background()

	newSession := func(accountID string, userID string, hash string, expiresAt time.Time) *models.RoleSession {
		return &models.RoleSession{
			ID:          bunx.NewUUIDv7(),
			AccountID:   accountID,
			RoleID:      models.SystemRootRoleID,
			UserID:      &userID,
			SessionName: "test-session",
			AssumedAt:   time.Now().Add(-time.Minute),
			ExpiresAt:   expiresAt,
			TokenHash:   hash,
			IsActive:    true,
		}
	}

	t.Run("refresh rotates the token hash", func(t *testing.T) {
		db := newTestDB(t)
		acme, root := seedAccount(t, db, "acme", "ops@acme.test")
		sessions := NewBunSessionRepository(db)

		s := newSession(acme.ID, root.ID, "hash-1", time.Now().Add(time.Hour))
		require.NoError(t, sessions.Create(ctx, s))

		newExpiry := time.Now().Add(2 * time.Hour)
		require.NoError(t, sessions.UpdateExpiry(ctx, s.ID, newExpiry, "hash-2"))

		_, err := sessions.GetByTokenHash(ctx, "hash-1")
		assert.ErrorIs(t, err, ErrNotFound)

		got, err := sessions.GetByTokenHash(ctx, "hash-2")
		require.NoError(t, err)
		assert.Equal(t, s.ID, got.ID)
		assert.WithinDuration(t, newExpiry, got.ExpiresAt, time.Second)
	})

	t.Run("revocation is terminal", func(t *testing.T) {
		db := newTestDB(t)
		acme, root := seedAccount(t, db, "acme", "ops@acme.test")
		sessions := NewBunSessionRepository(db)

		s := newSession(acme.ID, root.ID, "hash-1", time.Now().Add(time.Hour))
		require.NoError(t, sessions.Create(ctx, s))
		require.NoError(t, sessions.Revoke(ctx, s.ID))

		got, err := sessions.GetByID(ctx, s.ID)
		require.NoError(t, err)
		assert.False(t, got.IsActive)

		// A revoked session cannot be extended.
		err = sessions.UpdateExpiry(ctx, s.ID, time.Now().Add(time.Hour), "hash-2")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("active listing excludes revoked and expired", func(t *testing.T) {
		db := newTestDB(t)
		acme, root := seedAccount(t, db, "acme", "ops@acme.test")
		sessions := NewBunSessionRepository(db)

		live := newSession(acme.ID, root.ID, "hash-live", time.Now().Add(time.Hour))
		expired := newSession(acme.ID, root.ID, "hash-expired", time.Now().Add(-time.Hour))
		revoked := newSession(acme.ID, root.ID, "hash-revoked", time.Now().Add(time.Hour))
		for _, s := range []*models.RoleSession{live, expired, revoked} {
			require.NoError(t, sessions.Create(ctx, s))
		}
		require.NoError(t, sessions.Revoke(ctx, revoked.ID))

		active, err := sessions.ListActiveForUser(ctx, root.ID)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, live.ID, active[0].ID)
	})

	t.Run("revoke all for user", func(t *testing.T) {
		db := newTestDB(t)
		acme, root := seedAccount(t, db, "acme", "ops@acme.test")
		globex, other := seedAccount(t, db, "globex", "ops@globex.test")
		sessions := NewBunSessionRepository(db)

		require.NoError(t, sessions.Create(ctx, newSession(acme.ID, root.ID, "hash-a", time.Now().Add(time.Hour))))
		require.NoError(t, sessions.Create(ctx, newSession(acme.ID, root.ID, "hash-b", time.Now().Add(time.Hour))))
		require.NoError(t, sessions.Create(ctx, newSession(globex.ID, other.ID, "hash-c", time.Now().Add(time.Hour))))

		require.NoError(t, sessions.RevokeAllForUser(ctx, root.ID))

		mine, err := sessions.ListActiveForUser(ctx, root.ID)
		require.NoError(t, err)
		assert.Empty(t, mine)

		theirs, err := sessions.ListActiveForUser(ctx, other.ID)
		require.NoError(t, err)
		assert.Len(t, theirs, 1)
	})

	t.Run("expired sessions are purged", func(t *testing.T) {
		db := newTestDB(t)
		acme, root := seedAccount(t, db, "acme", "ops@acme.test")
		sessions := NewBunSessionRepository(db)

		require.NoError(t, sessions.Create(ctx, newSession(acme.ID, root.ID, "hash-old", time.Now().Add(-time.Hour))))
		require.NoError(t, sessions.Create(ctx, newSession(acme.ID, root.ID, "hash-new", time.Now().Add(time.Hour))))

		purged, err := sessions.DeleteExpired(ctx, time.Now())
		require.NoError(t, err)
		assert.EqualValues(t, 1, purged)

		_, err = sessions.GetByTokenHash(ctx, "hash-old")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestTokenBlacklistRepository(t *testing.T) {
	ctx := context.Background()

	newRow := func(hash, userID string, expiresAt time.Time) *models.BlacklistedToken {
		return &models.BlacklistedToken{
			TokenHash: hash,
			TokenType: models.TokenTypeAccess,
			UserID:    userID,
			AccountID: bunx.NewUUIDv7(),
			ExpiresAt: expiresAt,
			Reason:    "logout",
			RevokedAt: time.Now(),
		}
	}

	t.Run("re-revoking refreshes the row", func(t *testing.T) {
		db := newTestDB(t)
		blacklist := NewBunTokenBlacklistRepository(db)
		userID := bunx.NewUUIDv7()

		row := newRow("hash-1", userID, time.Now().Add(time.Hour))
		require.NoError(t, blacklist.Upsert(ctx, row))

		again := newRow("hash-1", userID, time.Now().Add(2*time.Hour))
		again.Reason = "security incident"
		again.RevokedAt = time.Now().Add(time.Minute)
		require.NoError(t, blacklist.Upsert(ctx, again))

		got, err := blacklist.GetByHash(ctx, "hash-1")
		require.NoError(t, err)
		assert.Equal(t, "security incident", got.Reason)
		assert.WithinDuration(t, again.ExpiresAt, got.ExpiresAt, time.Second)
	})

	t.Run("revocation expires with the token", func(t *testing.T) {
		db := newTestDB(t)
		blacklist := NewBunTokenBlacklistRepository(db)
		userID := bunx.NewUUIDv7()

		require.NoError(t, blacklist.Upsert(ctx, newRow("hash-live", userID, time.Now().Add(time.Hour))))
		require.NoError(t, blacklist.Upsert(ctx, newRow("hash-dead", userID, time.Now().Add(-time.Hour))))

		revoked, err := blacklist.IsRevoked(ctx, "hash-live", time.Now())
		require.NoError(t, err)
		assert.True(t, revoked)

		revoked, err = blacklist.IsRevoked(ctx, "hash-dead", time.Now())
		require.NoError(t, err)
		assert.False(t, revoked)

		revoked, err = blacklist.IsRevoked(ctx, "hash-unknown", time.Now())
		require.NoError(t, err)
		assert.False(t, revoked)
	})

	t.Run("cleanup purges expired rows", func(t *testing.T) {
		db := newTestDB(t)
		blacklist := NewBunTokenBlacklistRepository(db)
		userID := bunx.NewUUIDv7()

		require.NoError(t, blacklist.Upsert(ctx, newRow("hash-live", userID, time.Now().Add(time.Hour))))
		require.NoError(t, blacklist.Upsert(ctx, newRow("hash-dead", userID, time.Now().Add(-time.Hour))))

		purged, err := blacklist.DeleteExpired(ctx, time.Now())
		require.NoError(t, err)
		assert.EqualValues(t, 1, purged)

		_, err = blacklist.GetByHash(ctx, "hash-dead")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = blacklist.GetByHash(ctx, "hash-live")
		require.NoError(t, err)
	})
}
