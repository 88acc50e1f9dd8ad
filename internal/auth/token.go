// Package auth holds the small authentication primitives shared by the
// services: token hashing, password hashing, and the authenticated principal
// carried on a request context.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken computes the SHA256 hash of a token for storage.
// Tokens are never stored raw; the hex hash is the key into the session
// store and the revocation store.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// AllTokensHashPrefix prefixes the synthetic revocation key that covers
// every outstanding token of a user.
const AllTokensHashPrefix = "ALL_TOKENS_"

// AllTokensHash builds the synthetic revocation key for a user.
func AllTokensHash(userID string) string {
	return AllTokensHashPrefix + userID
}
