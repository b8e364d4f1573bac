package callservice

import (
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
)

var (
	messagesReceived = metrics.GetOrCreateCounter(`mqtt_call_service_messages_received_total`)
	decodeFailures   = metrics.GetOrCreateCounter(`mqtt_call_service_decode_failures_total`)
	dispatchOK       = metrics.GetOrCreateCounter(`mqtt_call_service_dispatches_total{status="ok"}`)
	dispatchFailed   = metrics.GetOrCreateCounter(`mqtt_call_service_dispatches_total{status="failed"}`)
	dispatchDropped  = metrics.GetOrCreateCounter(`mqtt_call_service_dispatches_total{status="dropped"}`)

	inflightCalls atomic.Int64
	_             = metrics.GetOrCreateGauge(`mqtt_call_service_dispatches_inflight`, func() float64 {
		return float64(inflightCalls.Load())
	})
)
