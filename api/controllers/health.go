package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/confops/api/responses"
	"github.com/angelmondragon/confops/pkg/config"
	"github.com/angelmondragon/confops/pkg/errors"
	"github.com/angelmondragon/confops/pkg/logger"
)

const readinessTimeout = 2 * time.Second

const envHeader = "X-Confops-Env"

// Pinger is any dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependency names a pinger for readiness output. Nil pingers are skipped.
type Dependency struct {
	Name   string
	Pinger Pinger
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings each dependency and fails with 503 on the first one down.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps ...Dependency) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := map[string]string{}
		for _, dep := range deps {
			if dep.Pinger == nil {
				continue
			}
			if err := dep.Pinger.Ping(ctx); err != nil {
				responses.WriteError(r.Context(), logg, w, errors.Wrap(errors.CodeDependency, err, dep.Name+" unavailable").
					WithDetails(map[string]any{"dependency": dep.Name}))
				return
			}
			checks[dep.Name] = "ok"
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
