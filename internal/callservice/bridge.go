package callservice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nerrad567/mqtt-call-service/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-call-service/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqtt-call-service/internal/integration"
	"github.com/nerrad567/mqtt-call-service/internal/readiness"
	"github.com/nerrad567/mqtt-call-service/internal/service"
)

const (
	// Domain is this integration's own domain name and config key.
	Domain = "mqtt_call_service"

	// DependencyDomain is the integration the bridge waits for.
	DependencyDomain = "mqtt"

	// DefaultAvailabilityTimeout bounds each WaitForMQTTClient call.
	DefaultAvailabilityTimeout = 30 * time.Second

	// callSource tags dispatched calls in CallRecord.Source.
	callSource = "mqtt"
)

// Dispatcher invokes services. Implemented by *service.Registry.
type Dispatcher interface {
	Call(ctx context.Context, domain, svc string, data map[string]any, blocking bool) error
}

// Subscriber is the bus client the bridge needs. Implemented by *mqtt.Client.
type Subscriber interface {
	Subscribe(filter string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(filter string) error
}

// Dependencies exposes the state of the MQTT integration.
// Implemented by *integration.Manager.
type Dependencies interface {
	Enabled(domain string) bool
	Entries(domain string) []integration.Entry
	Readiness(domain string) *readiness.Signal
}

// Logger defines the logging interface used by the Bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options tunes a Bridge.
type Options struct {
	// AvailabilityTimeout bounds each wait for MQTT readiness.
	// Zero means DefaultAvailabilityTimeout.
	AvailabilityTimeout time.Duration
}

// Bridge subscribes to one topic and turns messages into service calls.
//
// Thread Safety: all methods are safe for concurrent use. HandleMessage is
// invoked concurrently by the MQTT client.
type Bridge struct {
	deps   Dependencies
	bus    Subscriber
	calls  Dispatcher
	opts   Options
	logger Logger

	// ctx is cancelled by Close and bounds every dispatch.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	topic    string
	sem      *semaphore.Weighted
	closed   bool
	inflight sync.WaitGroup
}

// New creates a Bridge. Nothing is subscribed until Setup.
//
// Parameters:
//   - deps: Integration state for the MQTT dependency
//   - bus: MQTT client used for the subscription
//   - calls: Service dispatcher
//   - opts: Optional tuning; zero values take defaults
func New(deps Dependencies, bus Subscriber, calls Dispatcher, opts Options) *Bridge {
	if opts.AvailabilityTimeout <= 0 {
		opts.AvailabilityTimeout = DefaultAvailabilityTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		deps:   deps,
		bus:    bus,
		calls:  calls,
		opts:   opts,
		logger: noopLogger{},
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.logger = logger
}

// Setup waits for MQTT and subscribes to cfg.SubscribeTopic if set.
//
// Returns:
//   - bool: false if MQTT is unavailable or the subscribe fails (both are
//     logged); true otherwise, including when no topic is configured
func (b *Bridge) Setup(ctx context.Context, cfg config.CallServiceConfig) bool {
	if !b.WaitForMQTTClient(ctx) {
		b.logger.Error("MQTT integration is not available")
		return false
	}

	if cfg.SubscribeTopic == "" {
		b.logger.Info("no subscribe_topic configured, not subscribing")
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		b.logger.Error("setup after close", "topic", cfg.SubscribeTopic)
		return false
	}
	if b.topic != "" {
		b.logger.Error("bridge already subscribed", "topic", b.topic)
		return false
	}

	if err := b.bus.Subscribe(cfg.SubscribeTopic, byte(cfg.QoS), b.HandleMessage); err != nil {
		b.logger.Error("failed to subscribe to service call topic",
			"topic", cfg.SubscribeTopic,
			"error", err,
		)
		return false
	}

	b.topic = cfg.SubscribeTopic
	if cfg.MaxConcurrentCalls > 0 {
		b.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls))
	}

	b.logger.Info("subscribed to service call topic",
		"topic", b.topic,
		"qos", cfg.QoS,
		"max_concurrent_calls", cfg.MaxConcurrentCalls,
	)
	return true
}

// WaitForMQTTClient reports whether the MQTT integration is usable,
// waiting up to Options.AvailabilityTimeout for it to finish setting up.
//
// Cancelling ctx ends the wait early with false, like a timeout.
func (b *Bridge) WaitForMQTTClient(ctx context.Context) bool {
	if !b.deps.Enabled(DependencyDomain) {
		return false
	}

	if entries := b.deps.Entries(DependencyDomain); len(entries) > 0 && entries[0].State == integration.StateLoaded {
		return true
	}

	signal := b.deps.Readiness(DependencyDomain)
	if value, resolved := signal.Result(); resolved {
		return value
	}

	waitCtx, cancel := context.WithTimeout(ctx, b.opts.AvailabilityTimeout)
	defer cancel()

	value, err := signal.Wait(waitCtx)
	if err != nil {
		b.logger.Warn("timed out waiting for MQTT integration",
			"timeout", b.opts.AvailabilityTimeout,
			"error", err,
		)
		return false
	}
	return value
}

// HandleMessage decodes one payload and dispatches it as a blocking call.
//
// Decode and dispatch failures are logged here and nil is returned, so the
// subscription keeps running. Messages that arrive after Close, or that
// are abandoned waiting for a slot when the bridge closes, return
// ErrClosed for the MQTT client to log.
func (b *Bridge) HandleMessage(topic string, payload []byte) error {
	messagesReceived.Inc()

	req, err := Decode(payload)
	if err != nil {
		decodeFailures.Inc()
		b.logger.Warn("discarding invalid service call message",
			"topic", topic,
			"error", err,
		)
		return nil
	}

	sem, ok := b.begin()
	if !ok {
		dispatchDropped.Inc()
		return fmt.Errorf("%w: dropping %s.%s", ErrClosed, req.Domain, req.Service)
	}
	defer b.inflight.Done()

	if sem != nil {
		if err := sem.Acquire(b.ctx, 1); err != nil {
			dispatchDropped.Inc()
			return fmt.Errorf("%w: dropping %s.%s while waiting for a slot: %w", ErrClosed, req.Domain, req.Service, err)
		}
		defer sem.Release(1)
	}

	b.dispatch(topic, req)
	return nil
}

// begin registers an in-flight message unless the bridge is closed.
func (b *Bridge) begin() (*semaphore.Weighted, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, false
	}
	b.inflight.Add(1)
	return b.sem, true
}

func (b *Bridge) dispatch(topic string, req Request) {
	inflightCalls.Add(1)
	defer inflightCalls.Add(-1)

	ctx := service.WithSource(b.ctx, callSource)
	start := time.Now()

	if err := b.calls.Call(ctx, req.Domain, req.Service, req.ServiceData, true); err != nil {
		dispatchFailed.Inc()
		b.logger.Error("service call from MQTT failed",
			"topic", topic,
			"domain", req.Domain,
			"service", req.Service,
			"error", err,
		)
		return
	}

	dispatchOK.Inc()
	b.logger.Debug("service call from MQTT completed",
		"topic", topic,
		"domain", req.Domain,
		"service", req.Service,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Topic returns the subscribed topic, or "" before a successful Setup.
func (b *Bridge) Topic() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.topic
}

// Close unsubscribes, cancels in-flight dispatches and waits for their
// handlers to return. It is safe to call more than once.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	topic := b.topic
	b.mu.Unlock()

	var err error
	if topic != "" {
		if err = b.bus.Unsubscribe(topic); err != nil {
			b.logger.Warn("failed to unsubscribe", "topic", topic, "error", err)
		}
	}

	b.cancel()
	b.inflight.Wait()
	return err
}
