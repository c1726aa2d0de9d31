package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/angelmondragon/confops/internal/devicetokens"
	"github.com/angelmondragon/confops/internal/dispatch"
	"github.com/angelmondragon/confops/pkg/bigquery"
	"github.com/angelmondragon/confops/pkg/config"
	"github.com/angelmondragon/confops/pkg/db"
	"github.com/angelmondragon/confops/pkg/fcm"
	"github.com/angelmondragon/confops/pkg/instance"
	"github.com/angelmondragon/confops/pkg/logger"
	"github.com/angelmondragon/confops/pkg/metrics"
	"github.com/angelmondragon/confops/pkg/outbox/dedupe"
	"github.com/angelmondragon/confops/pkg/pubsub"
	"github.com/angelmondragon/confops/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "push-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "push-worker"

	logg = logger.New(logger.Options{
		ServiceName: "push-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "failed to close database", err)
		}
	}()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()

	subscription := pubsubClient.AlertsSubscription()
	if subscription == nil {
		requireResource(ctx, logg, "alerts subscription", errors.New("subscription not configured"))
	}

	var sender fcm.Sender
	if cfg.Firebase.Loopback {
		sender, err = fcm.NewLoopback(redisClient, cfg.Firebase.Icon, logg)
		requireResource(ctx, logg, "loopback push", err)
		logg.Warn(ctx, "push delivery uses the redis loopback, not fcm")
	} else {
		sender, err = fcm.NewClient(ctx, cfg.GCP, cfg.Firebase, logg)
		requireResource(ctx, logg, "fcm", err)
	}

	tokenService, err := devicetokens.NewService(devicetokens.ServiceParams{
		Repo:   devicetokens.NewRepository(dbClient.DB()),
		Logger: logg,
	})
	requireResource(ctx, logg, "device token service", err)

	params := dispatch.DispatcherParams{
		Tokens:  tokenService,
		Sender:  sender,
		Limiter: rate.NewLimiter(rate.Limit(cfg.Dispatch.SendsPerSecond), cfg.Dispatch.Burst),
		Metrics: metrics.NewNotificationMetrics(prometheus.DefaultRegisterer),
		Logger:  logg,
	}

	var bqClient *bigquery.Client
	if cfg.FeatureFlags.DeliveryAudit {
		bqClient, err = bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
		requireResource(ctx, logg, "bigquery client", err)
		defer func() {
			if err := bqClient.Close(); err != nil {
				logg.Error(ctx, "failed to close bigquery client", err)
			}
		}()
		table := dispatch.DeliveryTable(cfg.BigQuery.DeliveryTable, cfg.BigQuery.Retention)
		requireResource(ctx, logg, "delivery audit table", bqClient.Ensure(ctx, table))
		auditor, err := dispatch.NewBigQueryAuditor(bqClient, table.Name)
		requireResource(ctx, logg, "delivery auditor", err)
		params.Auditor = auditor
	}

	dispatcher, err := dispatch.NewDispatcher(params)
	requireResource(ctx, logg, "dispatcher", err)

	guard, err := dedupe.New(redisClient, dispatch.ConsumerName, cfg.Dispatch.IdempotencyTTL)
	requireResource(ctx, logg, "dedupe guard", err)

	consumer, err := dispatch.NewConsumer(dispatcher, subscription, guard, logg)
	requireResource(ctx, logg, "dispatch consumer", err)

	deps := []dependency{
		{name: "database", p: dbClient},
		{name: "redis", p: redisClient},
		{name: "pubsub", p: pubsubClient},
	}
	if bqClient != nil {
		deps = append(deps, dependency{name: "bigquery", p: bqClient})
	}
	serveMetrics := func(ctx context.Context) error {
		return metrics.Serve(ctx, cfg.App.MetricsAddr, prometheus.DefaultGatherer, logg)
	}
	service, err := newHost(logg, consumer, serveMetrics, deps...)
	requireResource(ctx, logg, "worker host", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":          cfg.App.Env,
		"serviceKind":  cfg.Service.Kind,
		"subscription": cfg.PubSub.AlertsSubscription,
		"instance":     instance.GetID(),
	})
	logg.Info(runCtx, "push worker ready")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "push worker failed", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "push worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
