package sts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bastionlabs/bastion/internal/apperr"
	"github.com/bastionlabs/bastion/internal/auth"
	"github.com/bastionlabs/bastion/internal/db/bunx"
	"github.com/bastionlabs/bastion/internal/db/models"
	"github.com/bastionlabs/bastion/internal/policy"
	"github.com/bastionlabs/bastion/internal/repository"
	"github.com/bastionlabs/bastion/internal/services/revocation"
	"github.com/bastionlabs/bastion/internal/telemetry"
)

const tracerName = "bastion/services/sts"

// sessionService implements SessionService. It coordinates the role and
// session repositories, the token issuer, and the revocation store.
type sessionService struct {
	roles    repository.RoleRepository
	sessions repository.SessionRepository
	issuer   *Issuer
	revoker  *revocation.Store
	clock    clockwork.Clock

	// defaultDuration is granted when a request does not ask for one.
	defaultDuration time.Duration
}

// SessionServiceDependencies contains all dependencies for construction.
type SessionServiceDependencies struct {
	Roles    repository.RoleRepository
	Sessions repository.SessionRepository
	Issuer   *Issuer
	Revoker  *revocation.Store
	Clock    clockwork.Clock
}

// NewSessionService creates the session service. A nil clock falls back to
// wall time; a zero defaultDuration falls back to one hour.
func NewSessionService(deps SessionServiceDependencies, defaultDuration time.Duration) SessionService {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if defaultDuration <= 0 {
		defaultDuration = time.Hour
	}
	return &sessionService{
		roles:           deps.Roles,
		sessions:        deps.Sessions,
		issuer:          deps.Issuer,
		revoker:         deps.Revoker,
		clock:           deps.Clock,
		defaultDuration: defaultDuration,
	}
}

// AssumeRole evaluates the role's trust document against the caller and
// mints a session token on success.
func (s *sessionService) AssumeRole(ctx context.Context, req AssumeRoleRequest) (*AssumeRoleResult, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "sts.AssumeRole",
		attribute.String(telemetry.AttrAccountID, req.Caller.AccountID),
		attribute.String(telemetry.AttrSessionName, req.SessionName),
	)
	defer span.End()

	if req.SessionName == "" {
		return nil, apperr.Validation("session name is required")
	}

	role, err := s.roles.GetByName(ctx, req.Caller.AccountID, req.RoleName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("role %q not found", req.RoleName)
		}
		return nil, fmt.Errorf("load role: %w", err)
	}

	doc, err := policy.ParseTrustDocument(role.TrustDocument)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "role %q has an invalid trust document", req.RoleName)
	}

	callerARN := policy.UserARN(req.Caller.AccountID, req.Caller.Username)
	trustCtx := s.buildTrustContext(req)

	result := policy.EvaluateTrust(doc, policy.TrustPrincipal{
		Type:  policy.PrincipalAWS,
		Value: callerARN,
	}, trustCtx)
	if !result.Allowed {
		telemetry.AddEvent(span, "trust.denied",
			attribute.String(telemetry.AttrPrincipalARN, callerARN),
			attribute.String(telemetry.AttrPrincipalType, string(policy.PrincipalAWS)),
			attribute.String(telemetry.AttrRoleARN, role.Name),
		)
		return nil, apperr.New(apperr.KindAuthorizationDenied, "not authorized to assume role %q: %s", req.RoleName, result.Reason)
	}

	duration := s.grantedDuration(req.DurationSeconds, role.MaxSessionDuration)
	now := s.clock.Now()
	expiresAt := now.Add(duration)

	sessionID := bunx.NewUUIDv7()
	token, err := s.issuer.IssueForSession(req.Caller, sessionID, role.ID, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("issue session token: %w", err)
	}

	session := &models.RoleSession{
		ID:          sessionID,
		RoleID:      role.ID,
		AccountID:   req.Caller.AccountID,
		SessionName: req.SessionName,
		AssumedAt:   now,
		ExpiresAt:   expiresAt,
		TokenHash:   auth.HashToken(token),
		IsActive:    true,
	}
	session.UserID = &req.Caller.ID
	if req.ExternalID != "" {
		session.ExternalID = &req.ExternalID
	}
	if req.SourceIP != "" {
		session.SourceIP = &req.SourceIP
	}
	if req.UserAgent != "" {
		session.UserAgent = &req.UserAgent
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	roleAccount := req.Caller.AccountID
	if role.AccountID != nil {
		roleAccount = *role.AccountID
	}
	telemetry.AddEvent(span, "session.created",
		attribute.Int(telemetry.AttrSessionDuration, int(duration.Seconds())),
	)

	return &AssumeRoleResult{
		Session:        session,
		SessionToken:   token,
		AssumedRoleARN: policy.AssumedRoleARN(roleAccount, role.Name, req.SessionName),
		ExpiresAt:      expiresAt,
	}, nil
}

// Refresh extends a live session and rotates its token.
func (s *sessionService) Refresh(ctx context.Context, sessionToken string) (*RefreshResult, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "sts.Refresh")
	defer span.End()

	claims, session, err := s.ValidateSessionToken(ctx, sessionToken)
	if err != nil {
		return nil, err
	}

	role, err := s.roles.GetByID(ctx, session.RoleID)
	if err != nil {
		return nil, fmt.Errorf("load role: %w", err)
	}

	now := s.clock.Now()
	hardStop := session.AssumedAt.Add(time.Duration(role.MaxSessionDuration) * time.Second)
	if !hardStop.After(now) {
		return nil, apperr.New(apperr.KindAuthorizationDenied, "session reached its maximum duration")
	}
	newExpiry := now.Add(s.defaultDuration)
	if newExpiry.After(hardStop) {
		newExpiry = hardStop
	}

	user := &models.User{
		ID:        claims.UserID,
		AccountID: claims.AccountID,
		Username:  claims.Username,
		IsRoot:    claims.IsRoot,
	}
	token, err := s.issuer.IssueForSession(user, session.ID, session.RoleID, newExpiry)
	if err != nil {
		return nil, fmt.Errorf("issue session token: %w", err)
	}

	oldHash := session.TokenHash
	oldExpiry := session.ExpiresAt
	if err := s.sessions.UpdateExpiry(ctx, session.ID, newExpiry, auth.HashToken(token)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Authentication("session is no longer active")
		}
		return nil, fmt.Errorf("extend session: %w", err)
	}

	// Retire the superseded token so only the newest one validates.
	info := revocation.TokenInfo{
		UserID:    claims.UserID,
		AccountID: claims.AccountID,
		SessionID: session.ID,
		TokenType: models.TokenTypeAccess,
		ExpiresAt: oldExpiry,
	}
	if err := s.revoker.RevokeHash(ctx, oldHash, info, "session refreshed"); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	return &RefreshResult{SessionToken: token, ExpiresAt: newExpiry}, nil
}

// Revoke terminates a session and blacklists its token.
func (s *sessionService) Revoke(ctx context.Context, sessionID, reason string) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "sts.Revoke")
	defer span.End()

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("session %q not found", sessionID)
		}
		return fmt.Errorf("load session: %w", err)
	}

	if err := s.sessions.Revoke(ctx, sessionID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("revoke session: %w", err)
	}

	info := revocation.TokenInfo{
		AccountID: session.AccountID,
		SessionID: session.ID,
		TokenType: models.TokenTypeAccess,
		ExpiresAt: session.ExpiresAt,
	}
	if session.UserID != nil {
		info.UserID = *session.UserID
	}
	if err := s.revoker.RevokeHash(ctx, session.TokenHash, info, reason); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	return nil
}

// ValidateSessionToken checks a session token end to end.
func (s *sessionService) ValidateSessionToken(ctx context.Context, token string) (*AccessClaims, *models.RoleSession, error) {
	claims, err := s.issuer.ParseAccess(token)
	if err != nil {
		return nil, nil, err
	}
	if claims.SessionID == "" {
		return nil, nil, apperr.Authentication("not a session token")
	}

	revoked, err := s.revoker.IsRevoked(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	if revoked {
		return nil, nil, apperr.Authentication("token has been revoked")
	}

	session, err := s.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, apperr.Authentication("session does not exist")
		}
		return nil, nil, fmt.Errorf("load session: %w", err)
	}

	now := s.clock.Now()
	switch {
	case !session.IsActive:
		return nil, nil, apperr.Authentication("session has been revoked")
	case !session.ExpiresAt.After(now):
		return nil, nil, apperr.Authentication("session has expired")
	case session.TokenHash != auth.HashToken(token):
		// A refresh rotated the token; the presented one is stale.
		return nil, nil, apperr.Authentication("token has been superseded")
	}

	return claims, session, nil
}

// ListSessions returns the live sessions of a user.
func (s *sessionService) ListSessions(ctx context.Context, userID string) ([]models.RoleSession, error) {
	return s.sessions.ListActiveForUser(ctx, userID)
}

// grantedDuration clamps the requested lifetime to the role's maximum.
func (s *sessionService) grantedDuration(requestedSeconds, maxSeconds int) time.Duration {
	if maxSeconds <= 0 {
		maxSeconds = 3600
	}
	granted := s.defaultDuration
	if requestedSeconds > 0 {
		granted = time.Duration(requestedSeconds) * time.Second
	}
	if max := time.Duration(maxSeconds) * time.Second; granted > max {
		granted = max
	}
	return granted
}

// buildTrustContext assembles the condition context for trust evaluation.
func (s *sessionService) buildTrustContext(req AssumeRoleRequest) policy.Context {
	trustCtx := policy.Context{
		"aws:CurrentTime": s.clock.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range req.Context {
		trustCtx[k] = v
	}
	if req.ExternalID != "" {
		trustCtx["sts:ExternalId"] = req.ExternalID
	}
	if req.SourceIP != "" {
		trustCtx["aws:SourceIp"] = req.SourceIP
	}
	if req.UserAgent != "" {
		trustCtx["aws:UserAgent"] = req.UserAgent
	}
	return trustCtx
}
