// Package sts issues temporary credentials for assumed roles and manages
// their session lifecycle.
package sts

import (
	"context"
	"time"

	"github.com/bastionlabs/bastion/internal/db/models"
	"github.com/bastionlabs/bastion/internal/policy"
)

// AssumeRoleRequest carries everything needed to assume a role.
type AssumeRoleRequest struct {
	// Caller is the authenticated user requesting the role.
	Caller *models.User

	// RoleName names the target role. Account roles shadow system roles of
	// the same name.
	RoleName string

	// SessionName labels the session, e.g. "deploy-pipeline".
	SessionName string

	// DurationSeconds requests a session lifetime. Zero means the service
	// default. The granted duration never exceeds the role's maximum.
	DurationSeconds int

	// ExternalID is matched against sts:ExternalId trust conditions.
	ExternalID string

	// SourceIP and UserAgent feed the trust evaluation context and are
	// recorded on the session.
	SourceIP  string
	UserAgent string

	// Context carries additional condition keys for trust evaluation.
	Context policy.Context
}

// AssumeRoleResult is the outcome of a successful role assumption.
type AssumeRoleResult struct {
	Session        *models.RoleSession `json:"session"`
	SessionToken   string              `json:"sessionToken"`
	AssumedRoleARN string              `json:"assumedRoleArn"`
	ExpiresAt      time.Time           `json:"expiresAt"`
}

// RefreshResult is the outcome of a session refresh.
type RefreshResult struct {
	SessionToken string    `json:"sessionToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// SessionService manages assumed-role sessions.
//
// The service centralizes:
//   - Role assumption (trust evaluation, duration clamping, token minting)
//   - Session refresh (sliding expiry capped by the role's maximum)
//   - Session revocation (terminal, blacklists the session token)
//   - Session token validation (request path)
type SessionService interface {
	// AssumeRole evaluates the role's trust document against the caller and
	// mints a session token on success.
	//
	// The granted duration is min(requested, role max); a zero request takes
	// the service default. Denial by trust policy returns an
	// AuthorizationDenied error.
	AssumeRole(ctx context.Context, req AssumeRoleRequest) (*AssumeRoleResult, error)

	// Refresh extends a live session and rotates its token. The new expiry
	// is capped at assumed_at + the role's maximum duration; once the cap is
	// reached the session can no longer be extended.
	//
	// The superseded token is blacklisted so only the newest token validates.
	Refresh(ctx context.Context, sessionToken string) (*RefreshResult, error)

	// Revoke terminates a session and blacklists its token. Revocation is
	// terminal; a revoked session cannot be refreshed.
	Revoke(ctx context.Context, sessionID, reason string) error

	// ValidateSessionToken checks a session token end to end: signature,
	// expiry, revocation, and the backing session row. Returns the claims
	// and the session on success.
	ValidateSessionToken(ctx context.Context, token string) (*AccessClaims, *models.RoleSession, error)

	// ListSessions returns the live sessions of a user.
	ListSessions(ctx context.Context, userID string) ([]models.RoleSession, error)
}
