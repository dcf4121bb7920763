package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/risecheckout/payments-backend/api/routes"
	"github.com/risecheckout/payments-backend/internal/gateways"
	"github.com/risecheckout/payments-backend/internal/lifecycle"
	internalorders "github.com/risecheckout/payments-backend/internal/orders"
	"github.com/risecheckout/payments-backend/pkg/config"
	"github.com/risecheckout/payments-backend/pkg/db"
	"github.com/risecheckout/payments-backend/pkg/logger"
	"github.com/risecheckout/payments-backend/pkg/metrics"
	"github.com/risecheckout/payments-backend/pkg/migrate"
	"github.com/risecheckout/payments-backend/pkg/outbox"
	"github.com/risecheckout/payments-backend/pkg/outbox/idempotency"
	"github.com/risecheckout/payments-backend/pkg/redis"
)

// webhookGuardTTL bounds the redis fast-path dedupe window; the durable
// processed_events check has no expiry.
const webhookGuardTTL = 48 * time.Hour

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

	guard, err := idempotency.NewManager(redisClient, webhookGuardTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook replay guard", err)
		os.Exit(1)
	}

	adapters := []gateways.Adapter{
		gateways.NewMercadoPago(cfg.MercadoPago, logg),
		gateways.NewAsaas(cfg.Asaas, logg),
		gateways.NewPushinPay(cfg.PushinPay, logg),
	}
	registry := gateways.NewRegistry(adapters...)

	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	lifecycleSvc := lifecycle.NewService(dbClient.DB(), outboxSvc, logg)

	ordersSvc, err := internalorders.NewService(
		internalorders.NewRepository(dbClient.DB()),
		dbClient,
		outboxSvc,
		registry,
		cfg.Split,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	promRegistry := prometheus.NewRegistry()

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:         cfg,
			Logger:         logg,
			DB:             dbClient,
			Redis:          redisClient,
			OrdersService:  ordersSvc,
			Lifecycle:      lifecycleSvc,
			ReplayGuard:    guard,
			Adapters:       adapters,
			WebhookMetrics: metrics.NewWebhookMetrics(promRegistry),
			Gatherer:       promRegistry,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
