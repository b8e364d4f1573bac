package api

import (
	"net/http"

	"github.com/VictoriaMetrics/metrics"
)

// handleMetrics writes every registered metric in Prometheus text format,
// plus Go runtime and process metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	metrics.GetOrCreateGauge("mqtt_call_service_websocket_clients", nil).Set(float64(s.hub.ClientCount()))

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	metrics.WritePrometheus(w, true)
}
