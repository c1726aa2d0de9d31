package middleware

import (
	"context"

	"github.com/angelmondragon/confops/pkg/auth"
)

type (
	identityKey struct{}
	sessionKey  struct{}
)

// WithIdentity stores the caller resolved from the access token.
func WithIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller stored by Auth. ok is false on
// routes Auth does not guard.
func IdentityFromContext(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(auth.Identity)
	return id, ok
}

// SessionIDFromContext returns the jti of the access token.
func SessionIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(sessionKey{}).(string)
	return v
}

func contextWithSession(ctx context.Context, jti string) context.Context {
	return context.WithValue(ctx, sessionKey{}, jti)
}
