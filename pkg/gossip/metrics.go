package gossip

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gossip engine's Prometheus collectors on an
// isolated registry, so a process running several engines (or a test
// suite) never collides with the default global registry.
type Metrics struct {
	Registry *prometheus.Registry

	SyncRequestsSent     *prometheus.CounterVec // label: "periodic"|"initial"
	SyncRequestsReceived prometheus.Counter
	SyncResponsesSent    prometheus.Counter
	PacketsDroppedTotal  *prometheus.CounterVec // label: "invalid"|"expired"|"duplicate"
	SeenSetSize          prometheus.Gauge
	AnnouncementMapSize  prometheus.Gauge
}

// NewMetrics creates a Metrics instance with all collectors registered
// on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		SyncRequestsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gossipcore_sync_requests_sent_total",
				Help: "REQUEST_SYNC packets emitted by this engine.",
			},
			[]string{"kind"},
		),
		SyncRequestsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gossipcore_sync_requests_received_total",
			Help: "REQUEST_SYNC packets handled by this engine.",
		}),
		SyncResponsesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gossipcore_sync_responses_sent_total",
			Help: "Packets sent in response to a REQUEST_SYNC.",
		}),
		PacketsDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gossipcore_packets_dropped_total",
				Help: "Packets dropped by on_public_packet_seen, by reason.",
			},
			[]string{"reason"},
		),
		SeenSetSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gossipcore_seen_set_size",
			Help: "Current number of entries in the seen-set.",
		}),
		AnnouncementMapSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gossipcore_announcement_map_size",
			Help: "Current number of tracked senders in the announcement map.",
		}),
	}

	reg.MustRegister(
		m.SyncRequestsSent,
		m.SyncRequestsReceived,
		m.SyncResponsesSent,
		m.PacketsDroppedTotal,
		m.SeenSetSize,
		m.AnnouncementMapSize,
	)

	return m
}
