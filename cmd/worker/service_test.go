package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/creatorpay-backend/pkg/config"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
	"github.com/angelmondragon/creatorpay-backend/pkg/metrics"
	"github.com/angelmondragon/creatorpay-backend/pkg/outbox"
	"github.com/angelmondragon/creatorpay-backend/pkg/outbox/registry"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubSubscriber struct {
	pingErr    error
	deliveries []outbox.Delivery
	stopErr    error
	handled    []error
}

func (s *stubSubscriber) Ping(context.Context) error { return s.pingErr }

func (s *stubSubscriber) Consume(ctx context.Context, handler outbox.DeliveryHandler) error {
	for _, d := range s.deliveries {
		s.handled = append(s.handled, handler(ctx, d))
	}
	if s.stopErr != nil {
		return s.stopErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func newWorker(t *testing.T, sub *stubSubscriber, redisErr error, handler outbox.DeliveryHandler) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Config:     &config.Config{EventBus: config.EventBusConfig{Sink: config.EventSinkRabbitMQ}},
		Logger:     logger.New(logger.Options{ServiceName: "worker-test", Output: io.Discard}),
		DB:         stubPinger{},
		Redis:      stubPinger{err: redisErr},
		Subscriber: sub,
		Handler:    handler,
	})
	require.NoError(t, err)
	return svc
}

func TestRunStopsWhenDependencyUnavailable(t *testing.T) {
	sub := &stubSubscriber{deliveries: []outbox.Delivery{{ID: "m1"}}}
	svc := newWorker(t, sub, errors.New("connection refused"), func(context.Context, outbox.Delivery) error { return nil })

	err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
	assert.Empty(t, sub.handled, "nothing may be consumed before readiness")
}

func TestRunDispatchesDeliveriesToHandler(t *testing.T) {
	sub := &stubSubscriber{deliveries: []outbox.Delivery{{ID: "m1"}, {ID: "m2"}}, stopErr: errors.New("channel closed")}
	var seen []string
	svc := newWorker(t, sub, nil, func(_ context.Context, d outbox.Delivery) error {
		seen = append(seen, d.ID)
		return nil
	})

	err := svc.Run(context.Background())
	require.EqualError(t, err, "channel closed")
	assert.Equal(t, []string{"m1", "m2"}, seen)
}

func TestRunReturnsOnCancel(t *testing.T) {
	sub := &stubSubscriber{}
	svc := newWorker(t, sub, nil, func(context.Context, outbox.Delivery) error { return nil })
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := svc.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewServiceRequiresHandler(t *testing.T) {
	_, err := NewService(ServiceParams{
		Config:     &config.Config{},
		Logger:     logger.New(logger.Options{ServiceName: "worker-test", Output: io.Discard}),
		DB:         stubPinger{},
		Redis:      stubPinger{},
		Subscriber: &stubSubscriber{},
	})
	require.EqualError(t, err, "delivery handler is required")
}

func TestInstrumentLabelsDeliveryResults(t *testing.T) {
	reg := prometheus.NewRegistry()
	results := []error{nil, errors.New("db down"), registry.NewNonRetryableError(errors.New("bad payload"))}
	i := 0
	handler := instrument(func(context.Context, outbox.Delivery) error {
		err := results[i]
		i++
		return err
	}, metrics.NewConsumerMetrics(reg))

	for range results {
		_ = handler(context.Background(), outbox.Delivery{EventType: "payment_completed"})
	}

	mfs, err := reg.Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, mf := range mfs {
		if mf.GetName() != "consumer_deliveries_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "result" {
					got[l.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, map[string]float64{
		metrics.DeliveryAcked:    1,
		metrics.DeliveryRetry:    1,
		metrics.DeliveryRejected: 1,
	}, got)
}
