package domain

import "context"

// Principal is the request-scoped view of an authenticated caller, derived
// fresh from a validated access token. It is owned by a single request and
// never shared.
type Principal struct {
	AccountID string   `json:"account_id"`
	Roles     []string `json:"roles"`
}

// HasAnyRole reports whether the principal holds at least one required role.
func (p *Principal) HasAnyRole(required ...string) bool {
	return HasAnyRole(p.Roles, required)
}

type principalContextKey struct{}

// ContextWithPrincipal returns a context carrying the principal.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext retrieves the principal attached by the authorization
// gate, if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*Principal)
	return p, ok
}
