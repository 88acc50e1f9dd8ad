package auth

import "context"

// Principal is the authenticated identity the transport layer attaches to
// each request before calling into the core.
type Principal struct {
	UserID    string
	AccountID string
	Username  string
	IsRoot    bool
}

type contextKey struct{}

// WithPrincipal returns a context carrying the authenticated principal.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFrom extracts the authenticated principal from the context.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(*Principal)
	return p, ok
}
