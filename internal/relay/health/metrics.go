package health

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metricsOnce ensures metrics are only registered once
var metricsOnce sync.Once

// metricsInstance is the singleton instance of relay metrics
var metricsInstance *Metrics

// Metrics holds all Prometheus metrics for the relay
type Metrics struct {
	// ActiveConnections tracks currently registered tunnel connections
	ActiveConnections prometheus.Gauge

	// Outcomes counts terminal gateway outcomes by kind
	Outcomes *prometheus.CounterVec // conduit_gateway_outcomes_total{outcome}

	// RequestLatency samples proxied round-trip times
	RequestLatency prometheus.Histogram

	// RateLimited counts requests rejected by the rate limiter
	RateLimited prometheus.Counter

	// ProtocolErrors counts malformed frames received on tunnel connections
	ProtocolErrors prometheus.Counter
}

// InitMetrics initializes the relay metrics. Metrics are registered once;
// subsequent calls return the same instance. Pass nil to use the default
// Prometheus registry.
func InitMetrics(registry prometheus.Registerer) *Metrics {
	metricsOnce.Do(func() {
		if registry == nil {
			registry = prometheus.DefaultRegisterer
		}
		metricsInstance = &Metrics{
			ActiveConnections: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
				Name: "conduit_relay_active_connections",
				Help: "Number of currently registered tunnel connections",
			}),

			Outcomes: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "conduit_gateway_outcomes_total",
				Help: "Terminal gateway outcomes by kind",
			}, []string{"outcome"}),

			RequestLatency: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
				Name:    "conduit_gateway_request_duration_seconds",
				Help:    "Round-trip time of proxied requests in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			}),

			RateLimited: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "conduit_gateway_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			}),

			ProtocolErrors: promauto.With(registry).NewCounter(prometheus.CounterOpts{
				Name: "conduit_tunnel_protocol_errors_total",
				Help: "Malformed frames received on tunnel connections",
			}),
		}
	})

	return metricsInstance
}
