package middleware

import (
	"net/http"
	"slices"

	"github.com/angelmondragon/confops/api/responses"
	"github.com/angelmondragon/confops/pkg/enums"
	pkgerrors "github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/logger"
)

// RequireRole admits requests whose token carries one of the given roles.
func RequireRole(logg *logger.Logger, roles ...enums.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id, ok := IdentityFromContext(r.Context()); ok && slices.Contains(roles, id.Role) {
				next.ServeHTTP(w, r)
				return
			}
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role required"))
		})
	}
}
