package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/confops/internal/alertfeed"
	"github.com/angelmondragon/confops/internal/cron"
	"github.com/angelmondragon/confops/internal/devicetokens"
	"github.com/angelmondragon/confops/pkg/config"
	"github.com/angelmondragon/confops/pkg/db"
	"github.com/angelmondragon/confops/pkg/logger"
	"github.com/angelmondragon/confops/pkg/metrics"
	"github.com/angelmondragon/confops/pkg/migrate"
	"github.com/angelmondragon/confops/pkg/outbox"
	"github.com/angelmondragon/confops/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, cfg.App.Env, cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	schedule, err := buildSchedule(cfg, logg, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to schedule maintenance jobs", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Schedule:   schedule,
		Lock:       lock,
		Metrics:    metricsCollector,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	go func() {
		if err := metrics.Serve(ctx, cfg.App.MetricsAddr, prometheus.DefaultGatherer, logg); err != nil {
			logg.Error(ctx, "metrics listener failed", err)
		}
	}()
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildSchedule(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*cron.Schedule, error) {
	outboxRepo := outbox.NewRepository(dbClient.DB())

	alertService, err := alertfeed.NewService(alertfeed.ServiceParams{
		Repo:       alertfeed.NewRepository(dbClient.DB()),
		Tx:         dbClient,
		Outbox:     outbox.NewEmitter(outboxRepo, logg),
		Collection: cfg.Alerts.Collection,
		Logger:     logg,
	})
	if err != nil {
		return nil, err
	}
	tokenService, err := devicetokens.NewService(devicetokens.ServiceParams{
		Repo:   devicetokens.NewRepository(dbClient.DB()),
		Logger: logg,
	})
	if err != nil {
		return nil, err
	}

	outboxJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:       logg,
		DB:           dbClient,
		Events:       outboxRepo,
		DeadLetters:  outbox.NewDLQRepository(dbClient.DB()),
		Retention:    days(cfg.Outbox.RetentionDays),
		DLQRetention: days(cfg.Outbox.DLQRetentionDays),
		MaxAttempts:  cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	alertJob, err := cron.NewAlertRetentionJob(cron.AlertRetentionJobParams{
		Logger:        logg,
		Alerts:        alertService,
		RetentionDays: cfg.Alerts.RetentionDays,
	})
	if err != nil {
		return nil, err
	}
	tokenJob, err := cron.NewStaleTokenJob(cron.StaleTokenJobParams{
		Logger:  logg,
		Tokens:  tokenService,
		MaxAge:  cfg.Push.StaleTokenAge,
		Metrics: metrics.NewNotificationMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return nil, err
	}

	schedule := cron.NewSchedule()
	for _, entry := range []struct {
		every time.Duration
		job   cron.Job
	}{
		{cfg.Cron.OutboxRetentionEvery, outboxJob},
		{cfg.Cron.AlertRetentionEvery, alertJob},
		{cfg.Cron.TokenSweepEvery, tokenJob},
	} {
		if err := schedule.Every(entry.every, entry.job); err != nil {
			return nil, err
		}
	}
	return schedule, nil
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
