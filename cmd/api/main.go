package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/prasit-dev/slipgate-backend/api/routes"
	"github.com/prasit-dev/slipgate-backend/internal/allocator"
	"github.com/prasit-dev/slipgate-backend/internal/callbacks"
	"github.com/prasit-dev/slipgate-backend/internal/devices"
	"github.com/prasit-dev/slipgate-backend/internal/matching"
	"github.com/prasit-dev/slipgate-backend/internal/notifier"
	"github.com/prasit-dev/slipgate-backend/internal/orders"
	"github.com/prasit-dev/slipgate-backend/internal/payments"
	gatewaywebhook "github.com/prasit-dev/slipgate-backend/internal/webhooks/gateway"
	"github.com/prasit-dev/slipgate-backend/pkg/config"
	"github.com/prasit-dev/slipgate-backend/pkg/db"
	"github.com/prasit-dev/slipgate-backend/pkg/logger"
	"github.com/prasit-dev/slipgate-backend/pkg/metrics"
	"github.com/prasit-dev/slipgate-backend/pkg/migrate"
	"github.com/prasit-dev/slipgate-backend/pkg/pubsub"
	"github.com/prasit-dev/slipgate-backend/pkg/redis"
)

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

	registry := prometheus.NewRegistry()
	gatewayMetrics := metrics.NewGatewayMetrics(registry)

	ordersSvc, err := orders.NewService(orders.NewRepository(dbClient.DB()), dbClient, allocator.New(cfg.Matching))
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	dispatcher, err := callbacks.NewDispatcher(callbacks.NewRepository(dbClient.DB()), cfg.Callback, logg, gatewayMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create callback dispatcher", err)
		os.Exit(1)
	}
	defer dispatcher.Wait()

	matchingSvc, err := matching.NewService(matching.NewRepository(dbClient.DB()), dbClient, dispatcher, events, cfg.Matching, gatewayMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create matching service", err)
		os.Exit(1)
	}

	devicesRepo := devices.NewRepository(dbClient.DB())
	devicesSvc, err := devices.NewService(devicesRepo, redisClient, logg, cfg.DeviceKey, cfg.Ingest)
	if err != nil {
		logg.Error(context.Background(), "failed to create devices service", err)
		os.Exit(1)
	}

	paymentsSvc, err := payments.NewService(payments.NewRepository(dbClient.DB()), devicesRepo, redisClient, matchingSvc, events, cfg.Ingest, gatewayMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	replayGuard, err := gatewaywebhook.NewReplayGuard(redisClient, cfg.Webhook.ReplayTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook replay guard", err)
		os.Exit(1)
	}

	gatewaySvc, err := gatewaywebhook.NewService(gatewaywebhook.ServiceParams{
		Repo:    gatewaywebhook.NewRepository(dbClient.DB()),
		Guard:   replayGuard,
		Matcher: matchingSvc,
		Events:  events,
		Prober:  dbClient,
		Logger:  logg,
		Config:  cfg.Webhook,
		Metrics: gatewayMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create gateway webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, registry, ordersSvc, paymentsSvc, matchingSvc, devicesSvc, gatewaySvc),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
