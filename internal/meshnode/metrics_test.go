package meshnode

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func gaugeValue(t *testing.T, g interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestMetricsHandlerExposesRegisteredCollectors(t *testing.T) {
	m := NewMetrics()
	m.EnvelopesSentTotal.WithLabelValues("MESSAGE").Inc()
	m.PeersConnected.Set(3)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "gossipcore_meshnode_envelopes_sent_total") {
		t.Error("expected envelopes_sent_total in scrape output")
	}
	if !strings.Contains(body, "gossipcore_meshnode_peers_connected 3") {
		t.Error("expected peers_connected gauge value in scrape output")
	}
}

func TestNewMetricsInstancesAreIsolated(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.PeersConnected.Set(5)
	if gaugeValue(t, b.PeersConnected) == 5 {
		t.Error("separate Metrics instances should not share state")
	}
}
