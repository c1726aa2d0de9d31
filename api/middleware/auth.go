package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/confops/api/responses"
	pkgAuth "github.com/angelmondragon/confops/pkg/auth"
	"github.com/angelmondragon/confops/pkg/auth/session"
	pkgerrors "github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/logger"
)

// accessTokenQueryParam carries the bearer for websocket upgrades, where
// browsers cannot set an Authorization header.
const accessTokenQueryParam = "access_token"

type tokenVerifier interface {
	Verify(token string) (*pkgAuth.Claims, error)
}

// Auth admits requests bearing a live access token whose session has not been
// revoked, and puts the caller's identity on the context.
func Auth(tokens tokenVerifier, sessions session.AccessSessionChecker, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw := BearerToken(r)
			if raw == "" {
				raw = strings.TrimSpace(r.URL.Query().Get(accessTokenQueryParam))
			}
			if raw == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			claims, err := tokens.Verify(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}
			if sessions != nil {
				live, err := sessions.HasSession(ctx, claims.ID)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "validate session"))
					return
				}
				if !live {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "session revoked"))
					return
				}
			}

			ctx = WithIdentity(ctx, claims.Identity)
			ctx = contextWithSession(ctx, claims.ID)
			if logg != nil {
				fields := map[string]any{"user_id": claims.UserID, "actor_role": claims.Role}
				if claims.Council != "" {
					fields["council"] = claims.Council
				}
				ctx = logg.WithFields(ctx, fields)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken returns the token from an Authorization header, with or
// without the Bearer scheme.
func BearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		return strings.TrimSpace(raw[7:])
	}
	return raw
}
