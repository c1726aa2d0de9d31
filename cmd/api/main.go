package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/confops/api/routes"
	"github.com/angelmondragon/confops/internal/alertfeed"
	"github.com/angelmondragon/confops/internal/auth"
	"github.com/angelmondragon/confops/internal/devicetokens"
	"github.com/angelmondragon/confops/internal/realtime"
	pkgAuth "github.com/angelmondragon/confops/pkg/auth"
	"github.com/angelmondragon/confops/pkg/auth/session"
	"github.com/angelmondragon/confops/pkg/bigquery"
	"github.com/angelmondragon/confops/pkg/config"
	"github.com/angelmondragon/confops/pkg/db"
	"github.com/angelmondragon/confops/pkg/instance"
	"github.com/angelmondragon/confops/pkg/logger"
	"github.com/angelmondragon/confops/pkg/migrate"
	"github.com/angelmondragon/confops/pkg/outbox"
	"github.com/angelmondragon/confops/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.ApplyOnBoot(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

	signer, err := pkgAuth.NewSigner(cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create token signer", err)
		os.Exit(1)
	}

	services, err := buildServices(cfg, logg, dbClient, redisClient, sessionManager, signer)
	if err != nil {
		logg.Error(context.Background(), "failed to wire api services", err)
		os.Exit(1)
	}

	// readiness only probes BigQuery when the delivery audit sink is on
	var bqPinger bigquery.Pinger
	if cfg.FeatureFlags.DeliveryAudit {
		bqClient, err := bigquery.NewClient(context.Background(), cfg.GCP, cfg.BigQuery, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap bigquery", err)
			os.Exit(1)
		}
		defer func() {
			if err := bqClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing bigquery", err)
			}
		}()
		bqPinger = bqClient
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := instance.GetID()
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, dbClient, redisClient, bqPinger, sessionManager, signer, services),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-runCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server shutting down gracefully")
	}
}

func buildServices(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, sessionManager *session.Manager, signer *pkgAuth.Signer) (routes.Services, error) {
	passcodes := auth.PasscodesFromConfig(cfg.Auth)
	if len(passcodes) == 0 {
		return routes.Services{}, fmt.Errorf("no dashboard passcode hashes configured")
	}
	authService, err := auth.NewService(auth.ServiceParams{
		Passcodes: passcodes,
		Sessions:  sessionManager,
		Tokens:    signer,
	})
	if err != nil {
		return routes.Services{}, fmt.Errorf("auth service: %w", err)
	}

	store, err := realtime.NewRedis(redisClient, logg)
	if err != nil {
		return routes.Services{}, fmt.Errorf("realtime store: %w", err)
	}

	outboxService := outbox.NewEmitter(outbox.NewRepository(dbClient.DB()), logg)

	alertService, err := alertfeed.NewService(alertfeed.ServiceParams{
		Repo:       alertfeed.NewRepository(dbClient.DB()),
		Tx:         dbClient,
		Outbox:     outboxService,
		Realtime:   store,
		Collection: cfg.Alerts.Collection,
		Logger:     logg,
	})
	if err != nil {
		return routes.Services{}, fmt.Errorf("alert service: %w", err)
	}

	tokenService, err := devicetokens.NewService(devicetokens.ServiceParams{
		Repo:   devicetokens.NewRepository(dbClient.DB()),
		Tx:     dbClient,
		Outbox: outboxService,
		Logger: logg,
	})
	if err != nil {
		return routes.Services{}, fmt.Errorf("device token service: %w", err)
	}

	gateway, err := realtime.NewGateway(realtime.GatewayParams{
		Store:          store,
		Logger:         logg,
		Collections:    []string{cfg.Alerts.Collection, cfg.Timers.Collection},
		AllowedOrigins: cfg.App.Origins(),
	})
	if err != nil {
		return routes.Services{}, fmt.Errorf("realtime gateway: %w", err)
	}

	return routes.Services{
		Auth:         authService,
		DeviceTokens: tokenService,
		Alerts:       alertService,
		Realtime:     gateway,
	}, nil
}
