package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/creatorpay-backend/pkg/config"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
	"github.com/angelmondragon/creatorpay-backend/pkg/metrics"
	"github.com/angelmondragon/creatorpay-backend/pkg/outbox"
	"github.com/angelmondragon/creatorpay-backend/pkg/outbox/registry"
)

const heartbeatInterval = 30 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

// subscriber is satisfied by both pubsub.Client and rabbitmq.Consumer.
type subscriber interface {
	pinger
	Consume(ctx context.Context, handler outbox.DeliveryHandler) error
}

type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         pinger
	Redis      pinger
	Subscriber subscriber
	Handler    outbox.DeliveryHandler
	Metrics    *metrics.ConsumerMetrics
}

type Service struct {
	cfg        *config.Config
	logg       *logger.Logger
	db         pinger
	redis      pinger
	subscriber subscriber
	handler    outbox.DeliveryHandler
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.Subscriber == nil {
		return nil, errors.New("event subscriber is required")
	}
	if params.Handler == nil {
		return nil, errors.New("delivery handler is required")
	}
	return &Service{
		cfg:        params.Config,
		logg:       params.Logger,
		db:         params.DB,
		redis:      params.Redis,
		subscriber: params.Subscriber,
		handler:    instrument(params.Handler, params.Metrics),
	}, nil
}

// instrument labels each delivery acked, retry or rejected by what the
// handler returned.
func instrument(next outbox.DeliveryHandler, m *metrics.ConsumerMetrics) outbox.DeliveryHandler {
	if m == nil {
		return next
	}
	return func(ctx context.Context, d outbox.Delivery) error {
		started := time.Now()
		err := next(ctx, d)
		result := metrics.DeliveryAcked
		var rejected registry.NonRetryableError
		switch {
		case errors.As(err, &rejected):
			result = metrics.DeliveryRejected
		case err != nil:
			result = metrics.DeliveryRetry
		}
		m.ObserveDelivery(d.EventType, result, time.Since(started))
		return err
	}
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "redis", s.redis.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, s.cfg.EventBus.Sink, s.subscriber.Ping); err != nil {
		return err
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run blocks until ctx ends or the subscriber stops.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.subscriber.Consume(ctx, s.handler)
	}()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "worker context canceled")
			return ctx.Err()
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(ctx, "subscriber stopped unexpectedly", err)
			}
			return err
		case <-ticker.C:
			s.logg.Debug(ctx, "worker heartbeat")
		}
	}
}
