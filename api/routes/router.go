package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/confops/api/controllers"
	"github.com/angelmondragon/confops/api/middleware"
	"github.com/angelmondragon/confops/internal/alertfeed"
	"github.com/angelmondragon/confops/internal/auth"
	"github.com/angelmondragon/confops/internal/devicetokens"
	pkgAuth "github.com/angelmondragon/confops/pkg/auth"
	"github.com/angelmondragon/confops/pkg/auth/session"
	"github.com/angelmondragon/confops/pkg/bigquery"
	"github.com/angelmondragon/confops/pkg/config"
	"github.com/angelmondragon/confops/pkg/db"
	"github.com/angelmondragon/confops/pkg/enums"
	"github.com/angelmondragon/confops/pkg/logger"
	"github.com/angelmondragon/confops/pkg/redis"
)

type sessionManager interface {
	session.AccessSessionChecker
	Rotate(ctx context.Context, accessID, refreshToken string) (session.Grant, error)
	Revoke(ctx context.Context, accessID string) error
}

// Services bundles the domain services the API exposes. Nil services answer
// with an internal error; a nil Realtime leaves the websocket route unmounted.
type Services struct {
	Auth         auth.Service
	DeviceTokens devicetokens.Service
	Alerts       alertfeed.Service
	Realtime     http.Handler
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	bigqueryClient bigquery.Pinger,
	sessionManager sessionManager,
	tokens *pkgAuth.Signer,
	services Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		chimw.RealIP,
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.Origins(), cfg.App.IsDev()),
	)

	// typed-nil clients must not reach the middleware as non-nil interfaces
	var idempotencyStore redis.IdempotencyStore
	var rateStore interface {
		IncrWithTTL(context.Context, string, time.Duration) (int64, error)
		RateLimitKey(string) string
	}
	deps := []controllers.Dependency{{Name: "db", Pinger: dbP}}
	if redisClient != nil {
		idempotencyStore = redisClient
		rateStore = redisClient
		deps = append(deps, controllers.Dependency{Name: "redis", Pinger: redisClient})
	}
	if bigqueryClient != nil {
		deps = append(deps, controllers.Dependency{Name: "bigquery", Pinger: bigqueryClient})
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps...))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(middleware.SignInRateLimit(middleware.SignInLimitsFrom(cfg.Auth), rateStore, logg)).Post("/session", controllers.AuthSignIn(services.Auth, logg))
		r.Post("/logout", controllers.AuthLogout(sessionManager, tokens, logg))
		r.Post("/refresh", controllers.AuthRefresh(sessionManager, tokens, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(tokens, sessionManager, logg))
		r.Use(middleware.Idempotency(idempotencyStore, logg))
		r.Get("/ping", controllers.PrivatePing())

		r.Route("/device-tokens", func(r chi.Router) {
			r.Post("/", controllers.RegisterDeviceToken(services.DeviceTokens, logg))
			r.Delete("/", controllers.RemoveDeviceToken(services.DeviceTokens, logg))
			r.Post("/test", controllers.RequestTestPush(services.DeviceTokens, logg))
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", controllers.ListAlerts(services.Alerts, logg))
			r.With(middleware.RequireRole(logg, enums.RoleAdmin, enums.RoleChair)).
				Post("/", controllers.CreateAlert(services.Alerts, logg))
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.RoleAdmin, enums.RolePress))
				r.Post("/{alertId}/reply", controllers.ReplyAlert(services.Alerts, logg))
				r.Post("/{alertId}/status", controllers.UpdateAlertStatus(services.Alerts, logg))
			})
		})

		if services.Realtime != nil {
			r.Get("/realtime", services.Realtime.ServeHTTP)
		}
	})

	return r
}
