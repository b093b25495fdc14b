package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/creatorpay-backend/internal/ledger"
	"github.com/angelmondragon/creatorpay-backend/pkg/config"
	"github.com/angelmondragon/creatorpay-backend/pkg/db"
	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	"github.com/angelmondragon/creatorpay-backend/pkg/instance"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
	"github.com/angelmondragon/creatorpay-backend/pkg/metrics"
	"github.com/angelmondragon/creatorpay-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/creatorpay-backend/pkg/pubsub"
	"github.com/angelmondragon/creatorpay-backend/pkg/rabbitmq"
	"github.com/angelmondragon/creatorpay-backend/pkg/redis"
)

var settlementRoutingKeys = []string{
	string(enums.EventPaymentCompleted),
	string(enums.EventPaymentFailed),
	string(enums.EventPaymentCancelled),
	string(enums.EventPaymentRefunded),
}

type closableSubscriber interface {
	subscriber
	Close() error
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Fields:      map[string]any{"instance": instance.GetID()},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "worker",
		"sink":        cfg.EventBus.Sink,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	sub, err := newSubscriber(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap event subscriber", err)
		os.Exit(1)
	}
	defer func() {
		if err := sub.Close(); err != nil {
			logg.Error(context.Background(), "error closing event subscriber", err)
		}
	}()

	dedupe, err := idempotency.NewManager(redisClient, cfg.EventBus.ConsumerClaimLease, cfg.EventBus.ConsumerDedupeTTL)
	if err != nil {
		logg.Error(ctx, "failed to create idempotency manager", err)
		os.Exit(1)
	}
	ledgerService, err := ledger.NewService(ledger.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(ctx, "failed to create ledger service", err)
		os.Exit(1)
	}
	consumer, err := ledger.NewConsumer(ledger.ConsumerParams{
		Service:     ledgerService,
		Idempotency: dedupe,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create ledger consumer", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Redis:      redisClient,
		Subscriber: sub,
		Handler:    consumer.Handle,
		Metrics:    metrics.NewConsumerMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(ctx, "failed to create worker service", err)
		os.Exit(1)
	}

	logg.Info(ctx, "starting worker")
	go func() {
		if err := metrics.Serve(ctx, cfg.App.MetricsAddr, prometheus.DefaultGatherer, logg); err != nil {
			logg.Error(ctx, "metrics listener failed", err)
		}
	}()
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "worker shutting down gracefully")
}

func newSubscriber(ctx context.Context, cfg *config.Config, logg *logger.Logger) (closableSubscriber, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.EventBus.Sink), config.EventSinkRabbitMQ) {
		return rabbitmq.NewConsumer(ctx, cfg.EventBus, settlementRoutingKeys, logg)
	}
	return pubsub.NewClient(ctx, cfg.GCP, cfg.EventBus, logg)
}
