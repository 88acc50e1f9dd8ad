package sts

import (
	"github.com/golang-jwt/jwt/v5"
)

// Token type values carried in the "tokenType" claim.
const (
	claimTypeAccess  = "access"
	claimTypeRefresh = "refresh"
)

// AccessClaims is the payload of an access token. Session fields are set
// only on tokens minted through role assumption.
type AccessClaims struct {
	UserID    string `json:"userId"`
	AccountID string `json:"accountId"`
	Username  string `json:"username"`
	IsRoot    bool   `json:"isRoot"`
	TokenType string `json:"tokenType"`
	SessionID string `json:"sessionId,omitempty"`
	RoleID    string `json:"roleId,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token. TokenFamily ties rotated
// refresh tokens to their original login.
type RefreshClaims struct {
	UserID      string `json:"userId"`
	AccountID   string `json:"accountId"`
	TokenType   string `json:"tokenType"`
	SessionID   string `json:"sessionId,omitempty"`
	TokenFamily string `json:"tokenFamily"`
	jwt.RegisteredClaims
}
