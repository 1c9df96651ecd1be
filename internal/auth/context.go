package auth

import "context"

// Principal is the immutable identity attached to a request once the
// authorization gate has admitted it. It is constructed exactly once per
// request and never mutated afterwards.
type Principal struct {
	SubjectID string
	Name      string
	Email     string
	Tier      Tier
}

type principalContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// SubjectIDFromContext extracts the authenticated subject ID from context.
func SubjectIDFromContext(ctx context.Context) (string, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.SubjectID == "" {
		return "", false
	}
	return p.SubjectID, true
}
