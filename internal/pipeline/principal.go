package pipeline

import "context"

// Principal identifies the caller on whose behalf a command runs.
type Principal struct {
	AccountID string
	TokenID   string
}

type principalKey struct{}

// WithPrincipal attaches the authenticated caller to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller attached to ctx, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok || p.AccountID == "" {
		return Principal{}, false
	}
	return p, true
}
