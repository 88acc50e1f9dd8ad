package iam

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastionlabs/bastion/internal/apperr"
	"github.com/bastionlabs/bastion/internal/auth"
	"github.com/bastionlabs/bastion/internal/db/models"
	"github.com/bastionlabs/bastion/internal/policy"
	"github.com/bastionlabs/bastion/internal/repository"
	"github.com/bastionlabs/bastion/internal/services/revocation"
	"github.com/bastionlabs/bastion/internal/services/sts"
)

type fakeBlacklist struct {
	rows map[string]*models.BlacklistedToken
}

func (f *fakeBlacklist) Upsert(ctx context.Context, token *models.BlacklistedToken) error {
	cp := *token
	f.rows[token.TokenHash] = &cp
	return nil
}

func (f *fakeBlacklist) GetByHash(ctx context.Context, tokenHash string) (*models.BlacklistedToken, error) {
	row, ok := f.rows[tokenHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return row, nil
}

func (f *fakeBlacklist) IsRevoked(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	row, ok := f.rows[tokenHash]
	return ok && row.ExpiresAt.After(now), nil
}

func (f *fakeBlacklist) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type gateFixture struct {
	gate     *Gate
	issuer   *sts.Issuer
	revoker  *revocation.Store
	clock    *clockwork.FakeClock
	policies *fakePolicyRepo
	groups   *fakeGroupRepo
	roles    *fakeRoleRepo
	sessions *fakeSessionRepo
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	issuer := sts.NewIssuer([]byte("0123456789abcdef0123456789abcdef"), time.Hour, 24*time.Hour, clock)
	revoker := revocation.NewStore(
		&fakeBlacklist{rows: make(map[string]*models.BlacklistedToken)},
		issuer,
		revocation.Options{Clock: clock},
	)

	policies := newFakePolicyRepo()
	groups := &fakeGroupRepo{byUser: make(map[string][]models.Group)}
	roles := newFakeRoleRepo()
	sessions := &fakeSessionRepo{byUser: make(map[string][]models.RoleSession)}
	resolver := NewResolver(policies, groups, roles, sessions)

	return &gateFixture{
		gate:     NewGate(issuer, revoker, roles, resolver, clock),
		issuer:   issuer,
		revoker:  revoker,
		clock:    clock,
		policies: policies,
		groups:   groups,
		roles:    roles,
		sessions: sessions,
	}
}

func (f *gateFixture) tokenFor(t *testing.T, user *models.User) string {
	t.Helper()
	pair, err := f.issuer.Issue(user)
	require.NoError(t, err)
	return pair.AccessToken
}

func gateUser() *models.User {
	return &models.User{
		ID:        testUserID,
		AccountID: "018f0000-0000-7000-8000-0000000000aa",
		Username:  "alice",
	}
}

func TestGate_Authorize(t *testing.T) {
	ctx := context.Background()

	t.Run("attached allow policy permits", func(t *testing.T) {
		f := newGateFixture(t)
		f.policies.byUser[testUserID] = []models.Policy{allowPolicy("p1", "s3-read", "s3:Get*")}
		token := f.tokenFor(t, gateUser())

		decision, err := f.gate.Authorize(ctx, AccessRequest{
			Token:    token,
			Action:   "s3:GetObject",
			Resource: "arn:aws:s3:::b/k",
		})
		require.NoError(t, err)
		assert.True(t, decision.Allowed())
		assert.Contains(t, decision.Reason, "s3-read")
	})

	t.Run("no policy means default deny", func(t *testing.T) {
		f := newGateFixture(t)
		token := f.tokenFor(t, gateUser())

		decision, err := f.gate.Authorize(ctx, AccessRequest{
			Token:    token,
			Action:   "s3:GetObject",
			Resource: "arn:aws:s3:::b/k",
		})
		require.NoError(t, err)
		assert.False(t, decision.Allowed())
		assert.Contains(t, decision.Reason, "default deny")
	})

	t.Run("explicit deny beats allow", func(t *testing.T) {
		f := newGateFixture(t)
		deny := models.Policy{ID: "p2", Name: "deny-secrets", Document: []byte(`{
			"Version": "2012-10-17",
			"Statement": [{"Effect": "Deny", "Action": "s3:*", "Resource": "arn:aws:s3:::secrets/*"}]
		}`)}
		f.policies.byUser[testUserID] = []models.Policy{allowPolicy("p1", "s3-all", "s3:*"), deny}
		token := f.tokenFor(t, gateUser())

		decision, err := f.gate.Authorize(ctx, AccessRequest{
			Token:    token,
			Action:   "s3:GetObject",
			Resource: "arn:aws:s3:::secrets/key",
		})
		require.NoError(t, err)
		assert.False(t, decision.Allowed())
		assert.Contains(t, decision.Reason, "deny-secrets")
	})

	t.Run("root claim bypasses policy evaluation", func(t *testing.T) {
		f := newGateFixture(t)
		root := gateUser()
		root.IsRoot = true
		token := f.tokenFor(t, root)

		decision, err := f.gate.Authorize(ctx, AccessRequest{
			Token:    token,
			Action:   "iam:DeleteAccount",
			Resource: "*",
		})
		require.NoError(t, err)
		assert.True(t, decision.Allowed())
		assert.Contains(t, decision.Reason, "root role")
	})

	t.Run("system root role grant bypasses policy evaluation", func(t *testing.T) {
		f := newGateFixture(t)
		f.roles.byUser[testUserID] = []models.Role{{
			ID:   models.SystemRootRoleID,
			Name: models.RootRoleName,
		}}
		token := f.tokenFor(t, gateUser())

		decision, err := f.gate.Authorize(ctx, AccessRequest{Token: token, Action: "iam:CreateUser", Resource: "*"})
		require.NoError(t, err)
		assert.True(t, decision.Allowed())
	})

	t.Run("account-scoped root-named role does not bypass", func(t *testing.T) {
		f := newGateFixture(t)
		accountID := gateUser().AccountID
		f.roles.byUser[testUserID] = []models.Role{{
			ID:        "r-local",
			AccountID: &accountID,
			Name:      models.RootRoleName,
		}}
		token := f.tokenFor(t, gateUser())

		decision, err := f.gate.Authorize(ctx, AccessRequest{Token: token, Action: "iam:CreateUser", Resource: "*"})
		require.NoError(t, err)
		assert.False(t, decision.Allowed())
	})

	t.Run("revoked token is rejected", func(t *testing.T) {
		f := newGateFixture(t)
		f.policies.byUser[testUserID] = []models.Policy{allowPolicy("p1", "s3-read", "s3:*")}
		token := f.tokenFor(t, gateUser())

		require.NoError(t, f.revoker.Revoke(ctx, token, "logout", revocation.RevokeMeta{}))

		_, err := f.gate.Authorize(ctx, AccessRequest{Token: token, Action: "s3:GetObject", Resource: "*"})
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.KindAuthentication))
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		f := newGateFixture(t)
		token := f.tokenFor(t, gateUser())
		f.clock.Advance(2 * time.Hour)

		_, err := f.gate.Authorize(ctx, AccessRequest{Token: token, Action: "s3:GetObject", Resource: "*"})
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.KindAuthentication))
	})

	t.Run("garbage token is rejected", func(t *testing.T) {
		f := newGateFixture(t)
		_, err := f.gate.Authorize(ctx, AccessRequest{Token: "garbage", Action: "s3:GetObject", Resource: "*"})
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.KindAuthentication))
	})

	t.Run("condition context reaches the evaluator", func(t *testing.T) {
		f := newGateFixture(t)
		conditional := models.Policy{ID: "p1", Name: "office-only", Document: []byte(`{
			"Version": "2012-10-17",
			"Statement": [{
				"Effect": "Allow",
				"Action": "s3:*",
				"Resource": "*",
				"Condition": {"IpAddress": {"aws:SourceIp": "10.0.0.0/8"}}
			}]
		}`)}
		f.policies.byUser[testUserID] = []models.Policy{conditional}
		token := f.tokenFor(t, gateUser())

		decision, err := f.gate.Authorize(ctx, AccessRequest{
			Token:    token,
			Action:   "s3:GetObject",
			Resource: "arn:aws:s3:::b/k",
			Context:  policy.Context{"aws:SourceIp": "10.1.1.1"},
		})
		require.NoError(t, err)
		assert.True(t, decision.Allowed())

		decision, err = f.gate.Authorize(ctx, AccessRequest{
			Token:    token,
			Action:   "s3:GetObject",
			Resource: "arn:aws:s3:::b/k",
			Context:  policy.Context{"aws:SourceIp": "8.8.8.8"},
		})
		require.NoError(t, err)
		assert.False(t, decision.Allowed())
	})

	t.Run("ambient username key is available", func(t *testing.T) {
		f := newGateFixture(t)
		selfOnly := models.Policy{ID: "p1", Name: "self-service", Document: []byte(`{
			"Version": "2012-10-17",
			"Statement": [{
				"Effect": "Allow",
				"Action": "iam:ChangePassword",
				"Resource": "*",
				"Condition": {"StringEquals": {"aws:username": "alice"}}
			}]
		}`)}
		f.policies.byUser[testUserID] = []models.Policy{selfOnly}
		token := f.tokenFor(t, gateUser())

		decision, err := f.gate.Authorize(ctx, AccessRequest{
			Token:    token,
			Action:   "iam:ChangePassword",
			Resource: "*",
		})
		require.NoError(t, err)
		assert.True(t, decision.Allowed())
	})
}

func TestGate_Authenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("attaches the principal to the context", func(t *testing.T) {
		f := newGateFixture(t)
		token := f.tokenFor(t, gateUser())

		authedCtx, principal, err := f.gate.Authenticate(ctx, token)
		require.NoError(t, err)
		require.NotNil(t, principal)
		assert.Equal(t, testUserID, principal.UserID)
		assert.Equal(t, "alice", principal.Username)
		assert.False(t, principal.IsRoot)

		fromCtx, ok := auth.PrincipalFrom(authedCtx)
		require.True(t, ok)
		assert.Equal(t, principal, fromCtx)
	})

	t.Run("revoked token fails authentication", func(t *testing.T) {
		f := newGateFixture(t)
		token := f.tokenFor(t, gateUser())
		require.NoError(t, f.revoker.Revoke(ctx, token, "logout", revocation.RevokeMeta{}))

		_, principal, err := f.gate.Authenticate(ctx, token)
		require.Error(t, err)
		assert.Nil(t, principal)
		assert.True(t, apperr.IsKind(err, apperr.KindAuthentication))
	})
}

func TestGate_BuildContext(t *testing.T) {
	f := newGateFixture(t)

	evalCtx := f.gate.BuildContext(RequestMeta{
		SourceIP:  "10.1.1.1",
		UserAgent: "cli/1.0",
		Region:    "eu-west-1",
		Headers: map[string]string{
			"X-Context-Department": "billing",
			"X-Request-Id":         "ignored",
			"x-context-":           "ignored",
		},
	})

	assert.Equal(t, "10.1.1.1", evalCtx["aws:SourceIp"])
	assert.Equal(t, "cli/1.0", evalCtx["aws:UserAgent"])
	assert.Equal(t, "eu-west-1", evalCtx["aws:RequestedRegion"])
	assert.Equal(t, "billing", evalCtx["department"])
	assert.NotContains(t, evalCtx, "x-request-id")
	assert.NotEmpty(t, evalCtx["aws:CurrentTime"])
}
