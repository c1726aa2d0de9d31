package controllers

import (
	"net/http"
	"time"

	"github.com/angelmondragon/confops/api/middleware"
	"github.com/angelmondragon/confops/api/responses"
	"github.com/angelmondragon/confops/api/validators"
	"github.com/angelmondragon/confops/internal/devicetokens"
	pkgAuth "github.com/angelmondragon/confops/pkg/auth"
	"github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/logger"
)

type deviceTokenResponse struct {
	Platform   string    `json:"platform"`
	Role       string    `json:"role"`
	ObtainedAt time.Time `json:"obtainedAt"`
}

// RegisterDeviceToken mirrors the caller's push token into the backend registry.
// The role comes from the session; a body role must agree with it.
func RegisterDeviceToken(svc devicetokens.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, errors.New(errors.CodeInternal, "device token service unavailable"))
			return
		}

		caller, err := sessionIdentity(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req devicetokens.RegisterRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if req.Role != "" && req.Role != caller.Role.String() {
			responses.WriteError(r.Context(), logg, w, errors.New(errors.CodeForbidden, "role does not match session"))
			return
		}

		row, err := svc.Register(r.Context(), devicetokens.RegisterInput{
			UserID:     caller.UserID,
			Role:       caller.Role,
			Token:      req.Token,
			Platform:   req.Platform,
			ObtainedAt: req.ObtainedAt,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, deviceTokenResponse{
			Platform:   row.Platform,
			Role:       row.Role.String(),
			ObtainedAt: row.ObtainedAt.UTC(),
		})
	}
}

// RemoveDeviceToken deletes one of the caller's tokens, typically on sign-out.
func RemoveDeviceToken(svc devicetokens.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, errors.New(errors.CodeInternal, "device token service unavailable"))
			return
		}

		caller, err := sessionIdentity(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req devicetokens.RemoveRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Remove(r.Context(), caller.UserID, req.Token); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "removed"})
	}
}

// RequestTestPush queues a test notification to every device of the caller.
func RequestTestPush(svc devicetokens.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, errors.New(errors.CodeInternal, "device token service unavailable"))
			return
		}

		caller, err := sessionIdentity(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.RequestTestPush(r.Context(), caller.UserID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"status": "queued"})
	}
}

func sessionIdentity(r *http.Request) (pkgAuth.Identity, error) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok || id.UserID == "" || !id.Role.IsValid() {
		return pkgAuth.Identity{}, errors.New(errors.CodeUnauthorized, "missing session identity")
	}
	return id, nil
}
