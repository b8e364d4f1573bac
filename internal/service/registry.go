package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
)

// Logger defines the logging interface used by the Registry.
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

var validName = regexp.MustCompile(`^[a-z0-9_]+$`)

// Registry maps domain/service names to handlers and dispatches calls.
//
// All public methods are thread-safe.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]map[string]Handler

	obsMu     sync.RWMutex
	observers []Observer

	// inflight tracks every running handler, blocking or not, so Wait can
	// drain them on shutdown.
	inflight sync.WaitGroup

	logger Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]map[string]Handler),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// AddObserver registers o to receive a CallRecord after every call.
func (r *Registry) AddObserver(o Observer) {
	r.obsMu.Lock()
	r.observers = append(r.observers, o)
	r.obsMu.Unlock()
}

// Register installs handler for domain.service, replacing any previous one.
func (r *Registry) Register(domain, svc string, handler Handler) error {
	domain, svc = normalise(domain), normalise(svc)
	if !validName.MatchString(domain) || !validName.MatchString(svc) {
		return fmt.Errorf("%w: %q.%q", ErrInvalidName, domain, svc)
	}
	if handler == nil {
		return ErrNilHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	services, ok := r.handlers[domain]
	if !ok {
		services = make(map[string]Handler)
		r.handlers[domain] = services
	}
	if _, exists := services[svc]; exists {
		r.logger.Warn("overriding registered service", "domain", domain, "service", svc)
	}
	services[svc] = handler

	r.logger.Debug("service registered", "domain", domain, "service", svc)
	return nil
}

// Remove unregisters domain.service. Removing an unknown service is a no-op.
func (r *Registry) Remove(domain, svc string) {
	domain, svc = normalise(domain), normalise(svc)

	r.mu.Lock()
	defer r.mu.Unlock()

	services, ok := r.handlers[domain]
	if !ok {
		return
	}
	delete(services, svc)
	if len(services) == 0 {
		delete(r.handlers, domain)
	}
}

// Has reports whether domain.service is registered.
func (r *Registry) Has(domain, svc string) bool {
	_, ok := r.lookup(normalise(domain), normalise(svc))
	return ok
}

// Services returns the registered service names per domain, sorted.
func (r *Registry) Services() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string, len(r.handlers))
	for domain, services := range r.handlers {
		names := make([]string, 0, len(services))
		for name := range services {
			names = append(names, name)
		}
		sort.Strings(names)
		out[domain] = names
	}
	return out
}

func (r *Registry) lookup(domain, svc string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[domain][svc]
	return h, ok
}

// Call invokes domain.service with data.
//
// With blocking set, Call waits until the handler returns or ctx is done,
// and returns the handler's error. Without it, the handler runs on its own
// goroutine and Call returns nil once the service is known to exist.
//
// Parameters:
//   - ctx: Cancels the wait of a blocking call; carries the call source
//   - domain, svc: Case-insensitive service name
//   - data: service_data; nil is treated as an empty map
//   - blocking: Wait for completion
//
// Returns:
//   - error: ErrServiceNotFound, ErrHandlerPanic, the handler's error,
//     or ctx.Err() when a blocking call is abandoned
func (r *Registry) Call(ctx context.Context, domain, svc string, data map[string]any, blocking bool) error {
	if data == nil {
		data = map[string]any{}
	}
	call := Call{
		ID:      uuid.New(),
		Domain:  normalise(domain),
		Service: normalise(svc),
		Data:    data,
		Source:  SourceFromContext(ctx),
	}
	started := time.Now()

	handler, ok := r.lookup(call.Domain, call.Service)
	if !ok {
		err := fmt.Errorf("%w: %s.%s", ErrServiceNotFound, call.Domain, call.Service)
		r.finish(call, blocking, started, err)
		return err
	}

	if !blocking {
		detached := context.WithoutCancel(ctx)
		r.inflight.Add(1)
		go func() {
			defer r.inflight.Done()
			r.finish(call, false, started, invoke(detached, handler, call))
		}()
		return nil
	}

	done := make(chan error, 1)
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		err := invoke(ctx, handler, call)
		r.finish(call, true, started, err)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("service %s.%s: %w", call.Domain, call.Service, ctx.Err())
	}
}

// Wait blocks until every running handler has returned.
func (r *Registry) Wait() {
	r.inflight.Wait()
}

// invoke runs handler, converting a panic into ErrHandlerPanic.
func invoke(ctx context.Context, handler Handler, call Call) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %s.%s: %v", ErrHandlerPanic, call.Domain, call.Service, rec)
		}
	}()
	return handler(ctx, call)
}

// finish records metrics and notifies observers.
func (r *Registry) finish(call Call, blocking bool, started time.Time, err error) {
	rec := CallRecord{
		ID:        call.ID,
		Domain:    call.Domain,
		Service:   call.Service,
		Data:      call.Data,
		Source:    call.Source,
		Blocking:  blocking,
		StartedAt: started.UTC(),
		Duration:  time.Since(started),
		Err:       err,
	}

	domain, svc := rec.Labels()
	metrics.GetOrCreateCounter(fmt.Sprintf(`mqtt_call_service_calls_total{domain=%q,service=%q,status=%q}`,
		domain, svc, rec.Status())).Inc()
	metrics.GetOrCreateHistogram(fmt.Sprintf(`mqtt_call_service_call_duration_seconds{domain=%q}`,
		domain)).Update(rec.Duration.Seconds())

	if err != nil {
		r.logger.Warn("service call failed",
			"call_id", rec.ID,
			"domain", rec.Domain,
			"service", rec.Service,
			"source", rec.Source,
			"error", err,
		)
	} else {
		r.logger.Debug("service call completed",
			"call_id", rec.ID,
			"domain", rec.Domain,
			"service", rec.Service,
			"duration_ms", rec.Duration.Milliseconds(),
		)
	}

	r.obsMu.RLock()
	observers := make([]Observer, len(r.observers))
	copy(observers, r.observers)
	r.obsMu.RUnlock()

	for _, o := range observers {
		o.ObserveCall(rec)
	}
}

func normalise(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrServiceNotFound)
}
