package sts

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/bastionlabs/bastion/internal/apperr"
	"github.com/bastionlabs/bastion/internal/db/bunx"
	"github.com/bastionlabs/bastion/internal/db/models"
	"github.com/bastionlabs/bastion/internal/services/revocation"
)

const tokenIssuer = "bastion-sts"

// TokenPair is the result of a login or a role assumption.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken,omitempty"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt,omitempty"`
}

// Issuer mints and verifies HS256 tokens. It also implements
// revocation.TokenDecoder so the revocation store can introspect raw tokens.
type Issuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      clockwork.Clock
}

// NewIssuer creates a token issuer. A nil clock falls back to wall time.
func NewIssuer(secret []byte, accessTTL, refreshTTL time.Duration, clock clockwork.Clock) *Issuer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Issuer{
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		clock:      clock,
	}
}

// Issue mints a login token pair for a user. The refresh token starts a new
// token family.
func (i *Issuer) Issue(user *models.User) (*TokenPair, error) {
	now := i.clock.Now()
	accessExp := now.Add(i.accessTTL)
	refreshExp := now.Add(i.refreshTTL)

	access, err := i.sign(&AccessClaims{
		UserID:           user.ID,
		AccountID:        user.AccountID,
		Username:         user.Username,
		IsRoot:           user.IsRoot,
		TokenType:        claimTypeAccess,
		RegisteredClaims: i.registered(user.ID, now, accessExp),
	})
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh, err := i.sign(&RefreshClaims{
		UserID:           user.ID,
		AccountID:        user.AccountID,
		TokenType:        claimTypeRefresh,
		TokenFamily:      bunx.NewUUIDv7(),
		RegisteredClaims: i.registered(user.ID, now, refreshExp),
	})
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Rotate mints a fresh token pair within an existing token family. Used when
// a refresh token is redeemed: the old refresh token is retired by the caller
// and the family identifier carries over.
func (i *Issuer) Rotate(user *models.User, family string) (*TokenPair, error) {
	now := i.clock.Now()
	accessExp := now.Add(i.accessTTL)
	refreshExp := now.Add(i.refreshTTL)

	access, err := i.sign(&AccessClaims{
		UserID:           user.ID,
		AccountID:        user.AccountID,
		Username:         user.Username,
		IsRoot:           user.IsRoot,
		TokenType:        claimTypeAccess,
		RegisteredClaims: i.registered(user.ID, now, accessExp),
	})
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh, err := i.sign(&RefreshClaims{
		UserID:           user.ID,
		AccountID:        user.AccountID,
		TokenType:        claimTypeRefresh,
		TokenFamily:      family,
		RegisteredClaims: i.registered(user.ID, now, refreshExp),
	})
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// IssueForSession mints the access token of an assumed-role session. The
// token expires with the session, not on the issuer's access TTL, so a
// refreshed session always carries a fresh token.
func (i *Issuer) IssueForSession(user *models.User, sessionID, roleID string, expiresAt time.Time) (string, error) {
	now := i.clock.Now()
	token, err := i.sign(&AccessClaims{
		UserID:           user.ID,
		AccountID:        user.AccountID,
		Username:         user.Username,
		IsRoot:           user.IsRoot,
		TokenType:        claimTypeAccess,
		SessionID:        sessionID,
		RoleID:           roleID,
		RegisteredClaims: i.registered(user.ID, now, expiresAt),
	})
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return token, nil
}

// ParseAccess verifies an access token and returns its claims.
func (i *Issuer) ParseAccess(token string) (*AccessClaims, error) {
	claims := new(AccessClaims)
	if err := i.parse(token, claims, true); err != nil {
		return nil, err
	}
	if claims.TokenType != claimTypeAccess {
		return nil, apperr.Authentication("not an access token")
	}
	return claims, nil
}

// ParseRefresh verifies a refresh token and returns its claims.
func (i *Issuer) ParseRefresh(token string) (*RefreshClaims, error) {
	claims := new(RefreshClaims)
	if err := i.parse(token, claims, true); err != nil {
		return nil, err
	}
	if claims.TokenType != claimTypeRefresh {
		return nil, apperr.Authentication("not a refresh token")
	}
	return claims, nil
}

// DecodeToken verifies the signature but tolerates expiry, so already-expired
// tokens can still be introspected during revocation.
func (i *Issuer) DecodeToken(token string) (*revocation.TokenInfo, error) {
	claims := new(AccessClaims)
	if err := i.parse(token, claims, false); err != nil {
		return nil, err
	}

	tokenType := models.TokenTypeAccess
	if claims.TokenType == claimTypeRefresh {
		tokenType = models.TokenTypeRefresh
	}

	info := &revocation.TokenInfo{
		UserID:    claims.UserID,
		AccountID: claims.AccountID,
		SessionID: claims.SessionID,
		TokenType: tokenType,
	}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, nil
}

func (i *Issuer) registered(subject string, now, expiresAt time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   subject,
		ID:        bunx.NewUUIDv7(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
}

func (i *Issuer) sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

func (i *Issuer) parse(token string, claims jwt.Claims, validate bool) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(i.clock.Now),
	}
	if !validate {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		return apperr.Wrap(apperr.KindAuthentication, err, "invalid token")
	}
	return nil
}
