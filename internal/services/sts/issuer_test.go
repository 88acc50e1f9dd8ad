package sts

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastionlabs/bastion/internal/db/models"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func testUser() *models.User {
	return &models.User{
		ID:        "018f0000-0000-7000-8000-000000000001",
		AccountID: "018f0000-0000-7000-8000-0000000000aa",
		Username:  "alice",
	}
}

func TestIssuer_IssueAndParse(t *testing.T) {
	clock := clockwork.NewFakeClock()
	issuer := NewIssuer(testSecret, 15*time.Minute, 24*time.Hour, clock)
	user := testUser()

	pair, err := issuer.Issue(user)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, clock.Now().Add(15*time.Minute), pair.AccessExpiresAt)
	assert.Equal(t, clock.Now().Add(24*time.Hour), pair.RefreshExpiresAt)

	t.Run("access token round-trips", func(t *testing.T) {
		claims, err := issuer.ParseAccess(pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, user.ID, claims.UserID)
		assert.Equal(t, user.AccountID, claims.AccountID)
		assert.Equal(t, user.Username, claims.Username)
		assert.False(t, claims.IsRoot)
		assert.Empty(t, claims.SessionID)
	})

	t.Run("refresh token round-trips with a token family", func(t *testing.T) {
		claims, err := issuer.ParseRefresh(pair.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, user.ID, claims.UserID)
		assert.NotEmpty(t, claims.TokenFamily)
	})

	t.Run("token types are enforced", func(t *testing.T) {
		_, err := issuer.ParseAccess(pair.RefreshToken)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not an access token")

		_, err = issuer.ParseRefresh(pair.AccessToken)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a refresh token")
	})

	t.Run("expired access token is rejected", func(t *testing.T) {
		clock.Advance(16 * time.Minute)
		_, err := issuer.ParseAccess(pair.AccessToken)
		assert.Error(t, err)
	})
}

func TestIssuer_WrongSecret(t *testing.T) {
	clock := clockwork.NewFakeClock()
	issuer := NewIssuer(testSecret, 15*time.Minute, 24*time.Hour, clock)
	other := NewIssuer([]byte("another-secret-another-secret-xx"), 15*time.Minute, 24*time.Hour, clock)

	pair, err := issuer.Issue(testUser())
	require.NoError(t, err)

	_, err = other.ParseAccess(pair.AccessToken)
	assert.Error(t, err)
}

func TestIssuer_IssueForSession(t *testing.T) {
	clock := clockwork.NewFakeClock()
	issuer := NewIssuer(testSecret, 15*time.Minute, 24*time.Hour, clock)
	user := testUser()

	expiresAt := clock.Now().Add(2 * time.Hour)
	token, err := issuer.IssueForSession(user, "sess-1", "role-1", expiresAt)
	require.NoError(t, err)

	claims, err := issuer.ParseAccess(token)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, "role-1", claims.RoleID)
	// Session tokens live as long as the session, not the access TTL.
	assert.Equal(t, expiresAt.Unix(), claims.ExpiresAt.Unix())
}

func TestIssuer_DecodeToken(t *testing.T) {
	clock := clockwork.NewFakeClock()
	issuer := NewIssuer(testSecret, 15*time.Minute, 24*time.Hour, clock)
	user := testUser()

	pair, err := issuer.Issue(user)
	require.NoError(t, err)
	issuedAt := clock.Now()

	t.Run("expired token still decodes", func(t *testing.T) {
		clock.Advance(time.Hour)

		info, err := issuer.DecodeToken(pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, user.ID, info.UserID)
		assert.Equal(t, user.AccountID, info.AccountID)
		assert.Equal(t, models.TokenTypeAccess, info.TokenType)
		assert.Equal(t, issuedAt.Unix(), info.IssuedAt.Unix())
	})

	t.Run("refresh token decodes with its type", func(t *testing.T) {
		info, err := issuer.DecodeToken(pair.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, models.TokenTypeRefresh, info.TokenType)
	})

	t.Run("tampered token is rejected", func(t *testing.T) {
		_, err := issuer.DecodeToken(pair.AccessToken + "x")
		assert.Error(t, err)
	})
}
