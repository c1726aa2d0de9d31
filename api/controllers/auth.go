package controllers

import (
	"net/http"

	"github.com/angelmondragon/confops/api/responses"
	"github.com/angelmondragon/confops/api/validators"
	"github.com/angelmondragon/confops/internal/auth"
	"github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/logger"
)

// AuthSignIn exchanges a role passcode for an access and refresh token pair.
func AuthSignIn(svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, errors.New(errors.CodeInternal, "auth service unavailable"))
			return
		}

		var req auth.SignInRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp, err := svc.SignIn(r.Context(), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if logg != nil {
			ctx := logg.WithActorRole(logg.WithUserID(r.Context(), resp.User.ID), resp.User.Role.String())
			logg.Info(ctx, "dashboard signed in")
		}

		w.Header().Set(tokenHeader, resp.AccessToken)
		responses.WriteSuccess(w, resp)
	}
}
