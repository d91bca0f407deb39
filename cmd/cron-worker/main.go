package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/prasit-dev/slipgate-backend/internal/cron"
	"github.com/prasit-dev/slipgate-backend/internal/devices"
	"github.com/prasit-dev/slipgate-backend/internal/notifier"
	"github.com/prasit-dev/slipgate-backend/internal/orders"
	"github.com/prasit-dev/slipgate-backend/pkg/config"
	"github.com/prasit-dev/slipgate-backend/pkg/db"
	"github.com/prasit-dev/slipgate-backend/pkg/logger"
	"github.com/prasit-dev/slipgate-backend/pkg/metrics"
	"github.com/prasit-dev/slipgate-backend/pkg/migrate"
	"github.com/prasit-dev/slipgate-backend/pkg/pubsub"
	"github.com/prasit-dev/slipgate-backend/pkg/redis"
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

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
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

	events := notifier.New(nil, logg)
	if cfg.PubSub.Enabled {
		psClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := psClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()
		events = notifier.New(psClient.EventsPublisher(), logg)
	}

	var jobs []cron.Job
	if cfg.Cron.EnableOrderExpiry {
		job, err := cron.NewOrderExpiryJob(cron.OrderExpiryJobParams{
			Logger:    logg,
			Orders:    orders.NewRepository(dbClient.DB()),
			Notifier:  events,
			BatchSize: cfg.Cron.OrderExpiryBatchSize,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create order expiry job", err)
			os.Exit(1)
		}
		jobs = append(jobs, job)
	}
	if cfg.Cron.EnableDeviceOffline {
		job, err := cron.NewDeviceOfflineJob(cron.DeviceOfflineJobParams{
			Logger:       logg,
			Devices:      devices.NewRepository(dbClient.DB()),
			Liveness:     redisClient,
			OfflineAfter: cfg.Cron.DeviceOfflineAfter,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create device offline job", err)
			os.Exit(1)
		}
		jobs = append(jobs, job)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(jobs...),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

// lockName scopes the cron lock per environment so staging and production
// workers sharing a redis never contend.
func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return "cron-worker:" + env
}
