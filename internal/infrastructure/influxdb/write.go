package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/mqtt-call-service/internal/service"
)

// MeasurementServiceCalls holds one point per completed service call.
const MeasurementServiceCalls = "service_calls"

// ObserveCall writes rec as a service_calls point timestamped at the
// call's start. It implements service.Observer and never blocks.
//
// Tags: domain, service, status, source. Fields: duration_ms, blocking,
// and requested (domain.service as sent) for calls to unknown services.
func (c *Client) ObserveCall(rec service.CallRecord) {
	source := rec.Source
	if source == "" {
		source = "unknown"
	}

	domain, svc := rec.Labels()
	fields := map[string]any{
		"duration_ms": float64(rec.Duration) / float64(time.Millisecond),
		"blocking":    rec.Blocking,
	}
	// Unregistered names stay out of the tag set; keep them as a field.
	if domain == service.UnknownLabel {
		fields["requested"] = rec.Domain + "." + rec.Service
	}

	c.WritePoint(MeasurementServiceCalls,
		map[string]string{
			"domain":  domain,
			"service": svc,
			"status":  rec.Status(),
			"source":  source,
		},
		fields,
		rec.StartedAt,
	)
}

// WritePoint writes a custom point. A zero timestamp means now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
	pointsWritten.Inc()
}
