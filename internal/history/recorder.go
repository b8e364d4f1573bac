package history

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/nerrad567/mqtt-call-service/internal/service"
)

const (
	// DefaultQueueSize is used when NewRecorder is given a size <= 0.
	DefaultQueueSize = 256

	writeTimeout = 5 * time.Second
)

var (
	recordsWritten = metrics.NewCounter("mqtt_call_service_history_records_written_total")
	recordsDropped = metrics.NewCounter("mqtt_call_service_history_records_dropped_total")
	recordsFailed  = metrics.NewCounter("mqtt_call_service_history_write_errors_total")
)

// Logger defines the logging interface used by the Recorder.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder is a service.Observer that persists call records.
//
// Thread Safety:
//   - ObserveCall may be called from any goroutine
//   - Close is idempotent
type Recorder struct {
	store  *Store
	logger Logger

	mu     sync.Mutex
	queue  chan service.CallRecord
	closed bool
	done   chan struct{}
}

// NewRecorder creates a recorder and starts its writer goroutine.
// Call Close to flush and stop it.
func NewRecorder(store *Store, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	r := &Recorder{
		store:  store,
		logger: noopLogger{},
		queue:  make(chan service.CallRecord, queueSize),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// SetLogger sets the logger for the recorder.
// Call before the recorder is registered as an observer.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// ObserveCall queues rec for writing. It never blocks.
//
// rec.Data is copied before queueing since it is encoded later on the
// writer goroutine while the caller may still hold the map.
func (r *Recorder) ObserveCall(rec service.CallRecord) {
	rec.Data = maps.Clone(rec.Data)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		recordsDropped.Inc()
		return
	}
	select {
	case r.queue <- rec:
	default:
		recordsDropped.Inc()
		r.logger.Warn("history queue full, dropping call record",
			"call_id", rec.ID,
			"domain", rec.Domain,
			"service", rec.Service,
		)
	}
}

// Close stops accepting records and waits until queued ones are written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)

	for rec := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := r.store.Insert(ctx, rec)
		cancel()

		if err != nil {
			recordsFailed.Inc()
			r.logger.Error("failed to record service call",
				"call_id", rec.ID,
				"error", err,
			)
			continue
		}
		recordsWritten.Inc()
	}
}
