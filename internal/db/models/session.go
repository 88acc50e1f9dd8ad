package models

import (
	"time"

	"github.com/uptrace/bun"
)

// RoleSession records one role assumption. Terminal states are expiry
// (ExpiresAt <= now) and revocation (IsActive = false); neither is reversible.
type RoleSession struct {
	bun.BaseModel `bun:"table:role_sessions,alias:rs"`

	ID          string    `bun:"id,pk,type:uuid"`
	AccountID   string    `bun:"account_id,notnull,type:uuid"` // FK to accounts(id)
	RoleID      string    `bun:"role_id,notnull,type:uuid"`    // FK to roles(id)
	UserID      *string   `bun:"user_id,type:uuid"`            // nil for external principals
	SessionName string    `bun:"session_name,notnull"`
	ExternalID  *string   `bun:"external_id"`
	SourceIP    *string   `bun:"source_ip"`
	UserAgent   *string   `bun:"user_agent"`
	AssumedAt   time.Time `bun:"assumed_at,notnull"`
	ExpiresAt   time.Time `bun:"expires_at,notnull"`
	TokenHash   string    `bun:"session_token_hash,notnull,unique"` // SHA256 hash of the session access token
	IsActive    bool      `bun:"is_active,notnull,default:true"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// TokenType classifies a blacklist row.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
	// TokenTypeGlobal marks a synthetic revoke-all row covering every token
	// issued to a user before RevokedAt.
	TokenTypeGlobal TokenType = "global"
)

// BlacklistedToken is the cold tier of the revocation store. Rows expire with
// the token they revoke and are purged by the cleanup sweep.
type BlacklistedToken struct {
	bun.BaseModel `bun:"table:token_blacklist,alias:tb"`

	TokenHash string    `bun:"token_hash,pk"` // SHA256 hex of the token, or ALL_TOKENS_<userID>
	TokenType TokenType `bun:"token_type,notnull"`
	UserID    string    `bun:"user_id,notnull,type:uuid"`
	AccountID string    `bun:"account_id,notnull,type:uuid"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
	Reason    string    `bun:"reason"`
	IPAddress *string   `bun:"ip_address"`
	UserAgent *string   `bun:"user_agent"`
	RevokedAt time.Time `bun:"revoked_at,notnull,default:current_timestamp"`
}
