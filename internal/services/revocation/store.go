// Package revocation implements the hybrid token revocation store: a fast
// in-memory hot tier backed by the durable token_blacklist table. Validation
// consults the hot tier first and falls through to the cold tier; a failure
// of both sides fails closed.
package revocation

import (
	"context"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bastionlabs/bastion/internal/apperr"
	"github.com/bastionlabs/bastion/internal/auth"
	"github.com/bastionlabs/bastion/internal/db/models"
	"github.com/bastionlabs/bastion/internal/repository"
	"github.com/bastionlabs/bastion/internal/telemetry"
)

const tracerName = "bastion/services/revocation"

// hotCapacity bounds the hot tier. Entries also expire on hotTTL, which
// covers the longest-lived row (the 30-day revoke-all marker).
const (
	hotCapacity = 65536
	hotTTL      = 31 * 24 * time.Hour
)

// allTokensTTL is the lifetime of a synthetic revoke-all row.
const allTokensTTL = 30 * 24 * time.Hour

// TokenInfo is the decoded view of a token the store needs: identity for
// the blacklist row, iat for revoke-all comparison, exp for the TTL.
type TokenInfo struct {
	UserID    string
	AccountID string
	SessionID string
	TokenType models.TokenType
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenDecoder verifies and decodes a token string. The credential issuer
// implements this.
type TokenDecoder interface {
	DecodeToken(token string) (*TokenInfo, error)
}

// RevokeMeta carries optional request metadata recorded with a revocation.
type RevokeMeta struct {
	IPAddress string
	UserAgent string
}

// entry is the hot-tier value: when the token was revoked and when the
// record itself lapses.
type entry struct {
	RevokedAt time.Time
	ExpiresAt time.Time
}

// Store is the two-tier revocation store.
type Store struct {
	hot        *expirable.LRU[string, entry]
	cold       repository.TokenBlacklistRepository
	decoder    TokenDecoder
	clock      clockwork.Clock
	hotTimeout time.Duration
}

// Options tunes the store. Zero values fall back to safe defaults.
type Options struct {
	// HotTimeout bounds each hot-tier access before falling through to the
	// cold tier.
	HotTimeout time.Duration
	Clock      clockwork.Clock
}

// NewStore creates a revocation store over the given cold tier.
func NewStore(cold repository.TokenBlacklistRepository, decoder TokenDecoder, opts Options) *Store {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.HotTimeout <= 0 {
		opts.HotTimeout = 50 * time.Millisecond
	}
	return &Store{
		hot:        expirable.NewLRU[string, entry](hotCapacity, nil, hotTTL),
		cold:       cold,
		decoder:    decoder,
		clock:      opts.Clock,
		hotTimeout: opts.HotTimeout,
	}
}

// Revoke marks a token revoked. The cold write is the durability anchor and
// is retried; the hot write is best effort since a hot miss lazily
// repopulates from the cold tier on the next check.
func (s *Store) Revoke(ctx context.Context, token, reason string, meta RevokeMeta) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "revocation.Revoke")
	defer span.End()

	info, err := s.decoder.DecodeToken(token)
	if err != nil {
		telemetry.RecordError(span, err)
		return apperr.Wrap(apperr.KindAuthentication, err, "cannot revoke token")
	}

	now := s.clock.Now()
	if !info.ExpiresAt.After(now) {
		// Already expired, nothing to revoke.
		return nil
	}

	row := &models.BlacklistedToken{
		TokenHash: auth.HashToken(token),
		TokenType: info.TokenType,
		UserID:    info.UserID,
		AccountID: info.AccountID,
		ExpiresAt: info.ExpiresAt,
		Reason:    reason,
		RevokedAt: now,
	}
	if meta.IPAddress != "" {
		row.IPAddress = &meta.IPAddress
	}
	if meta.UserAgent != "" {
		row.UserAgent = &meta.UserAgent
	}

	if err := s.coldWrite(ctx, row); err != nil {
		telemetry.RecordError(span, err)
		return apperr.Wrap(apperr.KindTransient, err, "failed to persist revocation")
	}

	s.hot.Add(row.TokenHash, entry{RevokedAt: now, ExpiresAt: info.ExpiresAt})
	telemetry.AddEvent(span, "token.revoked", attribute.String(telemetry.AttrRevocationTier, "cold+hot"))
	return nil
}

// RevokeHash blacklists a token by its stored hash. Used when the raw token
// is no longer available, e.g. revoking a recorded session.
func (s *Store) RevokeHash(ctx context.Context, tokenHash string, info TokenInfo, reason string) error {
	now := s.clock.Now()
	if !info.ExpiresAt.After(now) {
		return nil
	}

	row := &models.BlacklistedToken{
		TokenHash: tokenHash,
		TokenType: info.TokenType,
		UserID:    info.UserID,
		AccountID: info.AccountID,
		ExpiresAt: info.ExpiresAt,
		Reason:    reason,
		RevokedAt: now,
	}
	if err := s.coldWrite(ctx, row); err != nil {
		return apperr.Wrap(apperr.KindTransient, err, "failed to persist revocation")
	}
	s.hot.Add(tokenHash, entry{RevokedAt: now, ExpiresAt: info.ExpiresAt})
	return nil
}

// RevokeAllForUser inserts the synthetic marker covering every token issued
// to the user before now. Validation compares the marker's revocation time
// against each token's iat.
func (s *Store) RevokeAllForUser(ctx context.Context, userID, accountID, reason string) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "revocation.RevokeAllForUser",
		attribute.String(telemetry.AttrAccountID, accountID),
	)
	defer span.End()

	now := s.clock.Now()
	hash := auth.AllTokensHash(userID)
	row := &models.BlacklistedToken{
		TokenHash: hash,
		TokenType: models.TokenTypeGlobal,
		UserID:    userID,
		AccountID: accountID,
		ExpiresAt: now.Add(allTokensTTL),
		Reason:    reason,
		RevokedAt: now,
	}

	if err := s.coldWrite(ctx, row); err != nil {
		telemetry.RecordError(span, err)
		return apperr.Wrap(apperr.KindTransient, err, "failed to persist revoke-all")
	}

	s.hot.Add(hash, entry{RevokedAt: now, ExpiresAt: row.ExpiresAt})
	return nil
}

// IsRevoked reports whether a token must be rejected: either its own hash is
// blacklisted or a revoke-all marker postdates its issuance. When neither
// tier can answer, the token is treated as revoked.
func (s *Store) IsRevoked(ctx context.Context, token string) (bool, error) {
	info, err := s.decoder.DecodeToken(token)
	if err != nil {
		// Undecodable tokens are invalid, never usable.
		return true, apperr.Wrap(apperr.KindAuthentication, err, "invalid token")
	}
	return s.isRevoked(ctx, auth.HashToken(token), info)
}

// IsHashRevoked is IsRevoked for callers that already decoded the token.
func (s *Store) IsHashRevoked(ctx context.Context, tokenHash string, info *TokenInfo) (bool, error) {
	return s.isRevoked(ctx, tokenHash, info)
}

func (s *Store) isRevoked(ctx context.Context, tokenHash string, info *TokenInfo) (bool, error) {
	now := s.clock.Now()

	// Hot tier first.
	if e, ok := s.hotGet(ctx, tokenHash); ok && e.ExpiresAt.After(now) {
		return true, nil
	}
	allHash := auth.AllTokensHash(info.UserID)
	if e, ok := s.hotGet(ctx, allHash); ok && e.ExpiresAt.After(now) && e.RevokedAt.After(info.IssuedAt) {
		return true, nil
	}

	// Cold tier on hot miss.
	revoked, err := s.coldIsRevoked(ctx, tokenHash, now)
	if err != nil {
		// Fail closed: an unanswerable check must not admit the token.
		return true, apperr.Wrap(apperr.KindTransient, err, "revocation check unavailable")
	}
	if revoked {
		s.hot.Add(tokenHash, entry{RevokedAt: now, ExpiresAt: info.ExpiresAt})
		return true, nil
	}

	allRow, err := s.coldGet(ctx, allHash)
	if err != nil {
		return true, apperr.Wrap(apperr.KindTransient, err, "revocation check unavailable")
	}
	if allRow != nil && allRow.ExpiresAt.After(now) {
		s.hot.Add(allHash, entry{RevokedAt: allRow.RevokedAt, ExpiresAt: allRow.ExpiresAt})
		if allRow.RevokedAt.After(info.IssuedAt) {
			return true, nil
		}
	}

	return false, nil
}

// Cleanup purges expired cold-tier rows. The hot tier expires on its own TTL.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "revocation.Cleanup")
	defer span.End()

	var purged int64
	err := s.withRetry(ctx, func() error {
		var err error
		purged, err = s.cold.DeleteExpired(ctx, s.clock.Now())
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return 0, apperr.Wrap(apperr.KindTransient, err, "cleanup failed")
	}
	return purged, nil
}

// StartCleanup runs Cleanup on the given interval until ctx is cancelled.
func (s *Store) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := s.clock.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				// Errors are already tagged transient; the next sweep retries.
				_, _ = s.Cleanup(ctx)
			}
		}
	}()
}

// hotGet reads the hot tier under the configured budget. A lookup that does
// not answer within hotTimeout, or whose context is cancelled, counts as a
// miss and the cold tier answers instead.
func (s *Store) hotGet(ctx context.Context, key string) (entry, bool) {
	type lookup struct {
		e  entry
		ok bool
	}
	done := make(chan lookup, 1)
	go func() {
		e, ok := s.hot.Get(key)
		done <- lookup{e: e, ok: ok}
	}()
	select {
	case r := <-done:
		return r.e, r.ok
	case <-ctx.Done():
		return entry{}, false
	case <-s.clock.After(s.hotTimeout):
		return entry{}, false
	}
}

func (s *Store) coldWrite(ctx context.Context, row *models.BlacklistedToken) error {
	return s.withRetry(ctx, func() error {
		return s.cold.Upsert(ctx, row)
	})
}

func (s *Store) coldIsRevoked(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	var revoked bool
	err := s.withRetry(ctx, func() error {
		var err error
		revoked, err = s.cold.IsRevoked(ctx, tokenHash, now)
		return err
	})
	return revoked, err
}

// coldGet fetches a row, mapping not-found to nil.
func (s *Store) coldGet(ctx context.Context, tokenHash string) (*models.BlacklistedToken, error) {
	var row *models.BlacklistedToken
	err := s.withRetry(ctx, func() error {
		var err error
		row, err = s.cold.GetByHash(ctx, tokenHash)
		if err == repository.ErrNotFound {
			row = nil
			return nil
		}
		return err
	})
	return row, err
}

// withRetry applies the bounded-backoff policy for transient storage
// failures: three attempts with exponential delay.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	return retry.Do(
		func() error {
			if err := ctx.Err(); err != nil {
				return retry.Unrecoverable(err)
			}
			return op()
		},
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}
