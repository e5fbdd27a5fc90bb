package meshnode

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the transport-level Prometheus collectors for a mesh
// node: envelope stream traffic and peer connectivity, separate from the
// gossip engine's own protocol-level metrics (gossip.Metrics). Same
// isolated-registry-per-instance pattern as gossip.Metrics.
type Metrics struct {
	Registry *prometheus.Registry

	EnvelopesSentTotal     *prometheus.CounterVec // label: packet type
	EnvelopesReceivedTotal *prometheus.CounterVec // label: packet type
	StreamErrorsTotal      *prometheus.CounterVec // label: "dial"|"write"|"read"|"decode"
	PeersConnected         prometheus.Gauge
}

// NewMetrics creates a Metrics instance with all collectors registered
// on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		EnvelopesSentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gossipcore_meshnode_envelopes_sent_total",
			Help: "Envelopes written to outbound streams, by packet type.",
		}, []string{"type"}),
		EnvelopesReceivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gossipcore_meshnode_envelopes_received_total",
			Help: "Envelopes decoded off inbound streams, by packet type.",
		}, []string{"type"}),
		StreamErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gossipcore_meshnode_stream_errors_total",
			Help: "Stream-level failures, by stage.",
		}, []string{"stage"}),
		PeersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gossipcore_meshnode_peers_connected",
			Help: "Currently connected mesh peers.",
		}),
	}

	reg.MustRegister(m.EnvelopesSentTotal, m.EnvelopesReceivedTotal, m.StreamErrorsTotal, m.PeersConnected)
	return m
}

// Handler exposes this instance's isolated registry for scraping. When
// combined with the engine's own gossip.Metrics.Registry, callers should
// serve prometheus.Gatherers{m.Registry, engineMetrics.Registry} instead.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
