package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics tracks settlements and outbound gateway calls.
type PaymentMetrics struct {
	settlements    *prometheus.CounterVec
	gatewayLatency *prometheus.HistogramVec
	gatewayResults *prometheus.CounterVec
	breakerState   *prometheus.GaugeVec
}

func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	settlements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_settlements_total",
		Help: "Terminal payment transitions by outcome and funding type.",
	}, []string{"outcome", "funding_type"})
	gatewayLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_duration_seconds",
		Help:    "Latency of payment gateway calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	gatewayResults := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_gateway_results_total",
		Help: "Payment gateway call results.",
	}, []string{"operation", "result"})
	breakerState := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "payment_gateway_breaker_state",
		Help: "Circuit breaker state per gateway operation (0 closed, 1 half-open, 2 open).",
	}, []string{"operation"})
	reg.MustRegister(settlements, gatewayLatency, gatewayResults, breakerState)
	return &PaymentMetrics{
		settlements:    settlements,
		gatewayLatency: gatewayLatency,
		gatewayResults: gatewayResults,
		breakerState:   breakerState,
	}
}

func (m *PaymentMetrics) IncSettlement(outcome, fundingType string) {
	if m == nil || m.settlements == nil {
		return
	}
	m.settlements.WithLabelValues(normalizeLabel(outcome), normalizeLabel(fundingType)).Inc()
}

// ObserveGatewayCall records latency and the result label for one gateway call.
func (m *PaymentMetrics) ObserveGatewayCall(operation, result string, duration time.Duration) {
	if m == nil || m.gatewayLatency == nil {
		return
	}
	m.gatewayLatency.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
	m.gatewayResults.WithLabelValues(normalizeLabel(operation), normalizeLabel(result)).Inc()
}

func (m *PaymentMetrics) SetBreakerState(operation string, state float64) {
	if m == nil || m.breakerState == nil {
		return
	}
	m.breakerState.WithLabelValues(normalizeLabel(operation)).Set(state)
}

// RenewalMetrics counts per-item outcomes of the renewal sweep.
type RenewalMetrics struct {
	items *prometheus.CounterVec
}

func NewRenewalMetrics(reg prometheus.Registerer) *RenewalMetrics {
	if reg == nil {
		return &RenewalMetrics{}
	}
	items := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "renewal_sweep_items_total",
		Help: "Subscriptions handled by the renewal sweep by result.",
	}, []string{"result"})
	reg.MustRegister(items)
	return &RenewalMetrics{items: items}
}

func (m *RenewalMetrics) Add(result string, n int) {
	if m == nil || m.items == nil || n <= 0 {
		return
	}
	m.items.WithLabelValues(normalizeLabel(result)).Add(float64(n))
}
