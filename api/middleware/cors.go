package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

var devOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// CORS admits the configured dashboard origins; dev builds also admit the
// local Vite and Next ports.
func CORS(origins []string, dev bool) func(http.Handler) http.Handler {
	allowed := append([]string{}, origins...)
	if dev {
		allowed = append(allowed, devOrigins...)
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", idempotencyHeader, requestIDHeader, "X-Confops-Token"},
		ExposedHeaders: []string{
			"X-Confops-Token",
			requestIDHeader,
			replayedHeader,
			"Retry-After",
		},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
