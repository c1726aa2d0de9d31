package controllers

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/angelmondragon/confops/api/middleware"
	"github.com/angelmondragon/confops/api/responses"
	"github.com/angelmondragon/confops/api/validators"
	pkgAuth "github.com/angelmondragon/confops/pkg/auth"
	"github.com/angelmondragon/confops/pkg/auth/session"
	"github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/logger"
)

// tokenHeader mirrors the access token for clients that read headers only.
const tokenHeader = "X-Confops-Token"

type sessionStore interface {
	Rotate(ctx context.Context, accessID, refreshToken string) (session.Grant, error)
	Revoke(ctx context.Context, accessID string) error
}

type tokenIssuer interface {
	Mint(now time.Time, id pkgAuth.Identity, jti string) (string, error)
	VerifyExpired(token string) (*pkgAuth.Claims, error)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required,max=128"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// presentedSession resolves the session named by the bearer token. Expired
// tokens are accepted: ending or renewing a lapsed session is the point.
func presentedSession(r *http.Request, tokens tokenIssuer) (*pkgAuth.Claims, error) {
	raw := middleware.BearerToken(r)
	if raw == "" {
		return nil, errors.New(errors.CodeUnauthorized, "missing credentials")
	}
	claims, err := tokens.VerifyExpired(raw)
	if err != nil {
		return nil, errors.Wrap(errors.CodeUnauthorized, err, "invalid token")
	}
	return claims, nil
}

// AuthLogout revokes the session behind the presented access token.
func AuthLogout(sessions sessionStore, tokens tokenIssuer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sessions == nil || tokens == nil {
			responses.WriteError(r.Context(), logg, w, errors.New(errors.CodeInternal, "session manager unavailable"))
			return
		}
		claims, err := presentedSession(r, tokens)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := sessions.Revoke(r.Context(), claims.ID); err != nil {
			responses.WriteError(r.Context(), logg, w, errors.Wrap(errors.CodeDependency, err, "revoke session"))
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "logged_out"})
	}
}

// AuthRefresh trades a refresh token for a new token pair. The identity comes
// from the stored session, never from the presented token.
func AuthRefresh(sessions sessionStore, tokens tokenIssuer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sessions == nil || tokens == nil {
			responses.WriteError(r.Context(), logg, w, errors.New(errors.CodeInternal, "session manager unavailable"))
			return
		}
		var body refreshRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		claims, err := presentedSession(r, tokens)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		grant, err := sessions.Rotate(r.Context(), claims.ID, body.RefreshToken)
		switch {
		case stderrors.Is(err, session.ErrInvalidRefreshToken):
			responses.WriteError(r.Context(), logg, w, errors.New(errors.CodeUnauthorized, "invalid refresh token"))
			return
		case err != nil:
			responses.WriteError(r.Context(), logg, w, errors.Wrap(errors.CodeDependency, err, "rotate session"))
			return
		}

		access, err := tokens.Mint(time.Now().UTC(), grant.Identity, grant.AccessID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, errors.Wrap(errors.CodeInternal, err, "mint jwt"))
			return
		}
		w.Header().Set(tokenHeader, access)
		responses.WriteSuccess(w, refreshResponse{AccessToken: access, RefreshToken: grant.RefreshToken})
	}
}
