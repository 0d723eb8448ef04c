package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "payment"

type Metrics struct {
	PaymentsTotal    *prometheus.CounterVec
	IdempotencyTotal *prometheus.CounterVec
	GatewayCalls     *prometheus.CounterVec
	GatewayDuration  *prometheus.HistogramVec
	BreakerState     *prometheus.GaugeVec
	RateLimited      *prometheus.CounterVec
	OutboxProduced   prometheus.Counter
	OutboxFailed     prometheus.Counter
	ConsumerHandled  *prometheus.CounterVec
	SweeperActions   *prometheus.CounterVec
	registry         *prometheus.Registry
}

// New registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		PaymentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Payment state transitions by target status",
			},
			[]string{"status"},
		),
		IdempotencyTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "idempotency_requests_total",
				Help:      "Idempotent executions by outcome",
			},
			[]string{"outcome"},
		),
		GatewayCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_calls_total",
				Help:      "Gateway calls by operation and result",
			},
			[]string{"operation", "result"},
		),
		GatewayDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_call_duration_seconds",
				Help:      "Duration of gateway calls",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "0 closed, 1 half-open, 2 open",
			},
			[]string{"name"},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Calls rejected by the rate limiter",
			},
			[]string{"operation"},
		),
		OutboxProduced: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_produced_total",
				Help:      "Outbox events delivered to the broker",
			},
		),
		OutboxFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbox_failed_total",
				Help:      "Outbox events that failed to produce",
			},
		),
		ConsumerHandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "order_events_total",
				Help:      "Order events by type and result",
			},
			[]string{"event_type", "result"},
		),
		SweeperActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweeper_actions_total",
				Help:      "Sweeper actions by kind",
			},
			[]string{"action"},
		),
	}

	reg.MustRegister(
		m.PaymentsTotal,
		m.IdempotencyTotal,
		m.GatewayCalls,
		m.GatewayDuration,
		m.BreakerState,
		m.RateLimited,
		m.OutboxProduced,
		m.OutboxFailed,
		m.ConsumerHandled,
		m.SweeperActions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
