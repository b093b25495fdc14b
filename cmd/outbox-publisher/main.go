package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/creatorpay-backend/pkg/config"
	"github.com/angelmondragon/creatorpay-backend/pkg/db"
	"github.com/angelmondragon/creatorpay-backend/pkg/instance"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
	"github.com/angelmondragon/creatorpay-backend/pkg/metrics"
	"github.com/angelmondragon/creatorpay-backend/pkg/migrate"
	"github.com/angelmondragon/creatorpay-backend/pkg/outbox"
	"github.com/angelmondragon/creatorpay-backend/pkg/outbox/registry"
	"github.com/angelmondragon/creatorpay-backend/pkg/pubsub"
	"github.com/angelmondragon/creatorpay-backend/pkg/rabbitmq"
)

func main() {
	var sinkOverride string
	cmd := &cobra.Command{
		Use:           "outbox-publisher",
		Short:         "Relays settlement outbox rows to the event bus",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), sinkOverride)
		},
	}
	cmd.Flags().StringVar(&sinkOverride, "sink", "", "event sink to publish to (pubsub or rabbitmq), overrides CREATORPAY_EVENTBUS_SINK")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, sinkOverride string) error {
	logg := logger.New(logger.Options{ServiceName: "outbox-publisher"})
	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "failed to load config", err)
		return err
	}
	cfg.Service.Kind = "outbox-publisher"
	if sinkOverride != "" {
		cfg.EventBus.Sink = sinkOverride
	}

	logg = logger.New(logger.Options{
		ServiceName: cfg.Service.Kind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Fields:      map[string]any{"instance": instance.GetID()},
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()
	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		return err
	}

	sink, err := newSink(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap event sink", err)
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logg.Error(context.Background(), "error closing event sink", err)
		}
	}()

	events, err := registry.NewEventRegistry(cfg.EventBus)
	if err != nil {
		logg.Error(ctx, "failed to build event registry", err)
		return err
	}
	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		Sink:          sink,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      events,
		DLQRepository: outbox.NewDLQRepository(dbClient.DB()),
		Metrics:       metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(ctx, "failed to create outbox publisher", err)
		return err
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"sink":        cfg.EventBus.Sink,
	})
	logg.Info(ctx, "starting outbox publisher")

	go func() {
		if err := metrics.Serve(ctx, cfg.App.MetricsAddr, prometheus.DefaultGatherer, logg); err != nil {
			logg.Error(ctx, "metrics listener failed", err)
		}
	}()
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		return err
	}

	logg.Info(ctx, "outbox publisher shutting down gracefully")
	return nil
}

// newSink picks the broker named by CREATORPAY_EVENTBUS_SINK. In dev a RabbitMQ
// sink without a URL falls back to the no-op publisher.
func newSink(ctx context.Context, cfg *config.Config, logg *logger.Logger) (outbox.Sink, error) {
	if !strings.EqualFold(strings.TrimSpace(cfg.EventBus.Sink), config.EventSinkRabbitMQ) {
		return pubsub.NewClient(ctx, cfg.GCP, cfg.EventBus, logg)
	}
	if cfg.App.IsDev() && strings.TrimSpace(cfg.EventBus.RabbitURL) == "" {
		logg.Warn(ctx, "rabbitmq url not set, publishing to noop sink")
		return rabbitmq.NewNoopPublisher(logg), nil
	}
	return rabbitmq.NewPublisher(ctx, cfg.EventBus, logg)
}
