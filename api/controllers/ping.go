package controllers

import (
	"net/http"

	"github.com/angelmondragon/confops/api/middleware"
	"github.com/angelmondragon/confops/api/responses"
	pkgAuth "github.com/angelmondragon/confops/pkg/auth"
)

func PublicPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{"scope": "public", "status": "ok"})
	}
}

// PrivatePing echoes the caller identity resolved by the auth middleware.
func PrivatePing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := sessionIdentity(r)
		if err != nil {
			responses.WriteError(r.Context(), nil, w, err)
			return
		}
		responses.WriteSuccess(w, struct {
			Scope   string `json:"scope"`
			Session string `json:"session"`
			pkgAuth.Identity
		}{"private", middleware.SessionIDFromContext(r.Context()), caller})
	}
}
