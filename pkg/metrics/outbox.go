package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outbox publish results.
const (
	OutboxPublished    = "published"
	OutboxRetry        = "retry"
	OutboxDeadLettered = "dead_lettered"
)

// OutboxMetrics tracks the relay from outbox_events to the broker.
type OutboxMetrics struct {
	events  *prometheus.CounterVec
	publish prometheus.Histogram
	batch   prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_total",
		Help: "Outbox rows handled by the publisher by event type and result.",
	}, []string{"event_type", "result"})
	publish := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_publish_duration_seconds",
		Help:    "Time for the sink to confirm one message.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 15},
	})
	batch := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_batch_rows",
		Help:    "Rows claimed per publisher batch.",
		Buckets: prometheus.LinearBuckets(0, 10, 11),
	})
	reg.MustRegister(events, publish, batch)
	return &OutboxMetrics{events: events, publish: publish, batch: batch}
}

func (m *OutboxMetrics) IncEvent(eventType, result string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}

func (m *OutboxMetrics) ObservePublish(d time.Duration) {
	if m == nil || m.publish == nil {
		return
	}
	m.publish.Observe(d.Seconds())
}

func (m *OutboxMetrics) ObserveBatch(rows int) {
	if m == nil || m.batch == nil {
		return
	}
	m.batch.Observe(float64(rows))
}

// Delivery results on the consumer side.
const (
	DeliveryAcked    = "acked"
	DeliveryRetry    = "retry"
	DeliveryRejected = "rejected"
)

// ConsumerMetrics tracks settlement deliveries handled by the worker.
type ConsumerMetrics struct {
	deliveries *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

func NewConsumerMetrics(reg prometheus.Registerer) *ConsumerMetrics {
	if reg == nil {
		return &ConsumerMetrics{}
	}
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_deliveries_total",
		Help: "Broker deliveries handled by the worker by event type and result.",
	}, []string{"event_type", "result"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "consumer_handle_duration_seconds",
		Help:    "Time spent handling one delivery.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_type"})
	reg.MustRegister(deliveries, duration)
	return &ConsumerMetrics{deliveries: deliveries, duration: duration}
}

func (m *ConsumerMetrics) ObserveDelivery(eventType, result string, d time.Duration) {
	if m == nil || m.deliveries == nil {
		return
	}
	m.deliveries.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
	m.duration.WithLabelValues(normalizeLabel(eventType)).Observe(d.Seconds())
}
