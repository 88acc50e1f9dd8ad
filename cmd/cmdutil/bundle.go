// Package cmdutil centralizes service construction for CLI commands.
package cmdutil

import (
	"fmt"

	"github.com/uptrace/bun"

	"github.com/bastionlabs/bastion/internal/config"
	"github.com/bastionlabs/bastion/internal/db/bunx"
	"github.com/bastionlabs/bastion/internal/repository"
	"github.com/bastionlabs/bastion/internal/services/iam"
	"github.com/bastionlabs/bastion/internal/services/revocation"
	"github.com/bastionlabs/bastion/internal/services/sts"
)

// Bundle bundles the services with their underlying DB connection so callers
// can reuse the connection for other repositories when necessary.
type Bundle struct {
	IAM      iam.Service
	Sessions sts.SessionService
	Gate     *iam.Gate
	Revoker  *revocation.Store
	DB       *bun.DB
}

// Close releases the underlying database connection.
func (b *Bundle) Close() {
	if b == nil || b.DB == nil {
		return
	}
	bunx.Close(b.DB)
}

// NewBundle wires the repositories and services for CLI commands.
func NewBundle(cfg *config.Config) (*Bundle, error) {
	db, err := bunx.NewDB(cfg.DatabaseURL, bunx.PoolOptions{
		MinConns: cfg.MinDBConnections,
		MaxConns: cfg.MaxDBConnections,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	accounts := repository.NewBunAccountRepository(db)
	users := repository.NewBunUserRepository(db)
	groups := repository.NewBunGroupRepository(db)
	roles := repository.NewBunRoleRepository(db)
	policies := repository.NewBunPolicyRepository(db)
	permissions := repository.NewBunPermissionRepository(db)
	attachments := repository.NewBunAttachmentRepository(db)
	sessions := repository.NewBunSessionRepository(db)
	blacklist := repository.NewBunTokenBlacklistRepository(db)

	issuer := sts.NewIssuer([]byte(cfg.SigningSecret), cfg.AccessTokenTTL, cfg.RefreshTokenTTL, nil)
	revoker := revocation.NewStore(blacklist, issuer, revocation.Options{
		HotTimeout: cfg.RevocationHotTimeout,
	})

	iamService := iam.NewService(iam.ServiceDependencies{
		Accounts:    accounts,
		Users:       users,
		Groups:      groups,
		Roles:       roles,
		Policies:    policies,
		Permissions: permissions,
		Attachments: attachments,
		Sessions:    sessions,
		Issuer:      issuer,
		Revoker:     revoker,
	})

	sessionService := sts.NewSessionService(sts.SessionServiceDependencies{
		Roles:    roles,
		Sessions: sessions,
		Issuer:   issuer,
		Revoker:  revoker,
	}, cfg.DefaultSessionDuration)

	resolver := iam.NewResolver(policies, groups, roles, sessions)
	gate := iam.NewGate(issuer, revoker, roles, resolver, nil)

	return &Bundle{
		IAM:      iamService,
		Sessions: sessionService,
		Gate:     gate,
		Revoker:  revoker,
		DB:       db,
	}, nil
}
