package auth

import (
	"context"

	"github.com/Weevi1/hr-disciplinary-system-sub010/pkg/contextkeys"
)

// WithIdentity stores the authenticated caller in ctx
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	ctx = contextkeys.WithIdentity(ctx, identity)
	return contextkeys.WithUserID(ctx, identity.UID)
}

// IdentityFromContext returns the authenticated caller, if any
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(contextkeys.IdentityKey).(*Identity)
	if !ok || identity == nil || identity.UID == "" {
		return nil, false
	}
	return identity, true
}

// WithClaimsContext stores a validated claims context in ctx
func WithClaimsContext(ctx context.Context, claims *ClaimsContext) context.Context {
	return contextkeys.WithClaims(ctx, claims)
}

// ClaimsFromContext returns the validated claims context, if any
func ClaimsFromContext(ctx context.Context) (*ClaimsContext, bool) {
	claims, ok := ctx.Value(contextkeys.ClaimsKey).(*ClaimsContext)
	return claims, ok && claims != nil
}
