package daemon

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the daemon API's Prometheus collectors on an isolated
// registry, the same pattern used by pkg/gossip.Metrics and
// internal/meshnode.Metrics.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal      *prometheus.CounterVec // labels: method, path, status
	RequestDurationSec *prometheus.HistogramVec
	AuthDecisionsTotal *prometheus.CounterVec // label: "allow"|"deny"
}

// NewMetrics creates a Metrics instance with all collectors registered
// on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gossipcore_daemon_requests_total",
				Help: "API requests handled by the daemon, by method/path/status.",
			},
			[]string{"method", "path", "status"},
		),
		RequestDurationSec: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gossipcore_daemon_request_duration_seconds",
				Help:    "API request latency, by method/path/status.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		AuthDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gossipcore_daemon_auth_decisions_total",
				Help: "Inbound connection gating decisions, by result.",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDurationSec, m.AuthDecisionsTotal)
	return m
}
