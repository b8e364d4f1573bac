package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/qmuntal/stateless"

	"github.com/nerrad567/mqtt-call-service/internal/readiness"
)

// Logger defines the logging interface used by the Manager.
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

// entry is the Manager's mutable record behind an Entry snapshot.
type entry struct {
	info Entry
	sm   *stateless.StateMachine
}

// Manager owns integration entries and per-domain readiness signals.
//
// All public methods are thread-safe.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string

	signalMu sync.Mutex
	signals  map[string]*readiness.Signal

	retry  RetryPolicy
	logger Logger
}

// NewManager creates an empty Manager.
func NewManager(retry RetryPolicy) *Manager {
	return &Manager{
		entries: make(map[string]*entry),
		signals: make(map[string]*readiness.Signal),
		retry:   retry,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Add registers an entry in state not_loaded.
// An empty ID is replaced with a generated UUID.
//
// Returns:
//   - Entry: The stored snapshot
//   - error: ErrInvalidEntry or ErrEntryExists
func (m *Manager) Add(e Entry) (Entry, error) {
	if e.Domain == "" {
		return Entry{}, fmt.Errorf("%w: domain is required", ErrInvalidEntry)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.State = StateNotLoaded
	e.LastError = ""
	e.Attempts = 0

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[e.ID]; exists {
		return Entry{}, fmt.Errorf("%w: %s", ErrEntryExists, e.ID)
	}
	m.entries[e.ID] = &entry{info: e, sm: m.newStateMachine(e.Domain, e.ID)}
	m.order = append(m.order, e.ID)

	return e, nil
}

func (m *Manager) newStateMachine(domain, id string) *stateless.StateMachine {
	sm := stateless.NewStateMachine(StateNotLoaded)

	sm.Configure(StateNotLoaded).
		Permit(triggerSetup, StateSetupInProgress)

	sm.Configure(StateSetupInProgress).
		Permit(triggerSucceed, StateLoaded).
		Permit(triggerFail, StateSetupError).
		Permit(triggerRetry, StateSetupRetry)

	sm.Configure(StateSetupRetry).
		Permit(triggerSetup, StateSetupInProgress).
		Permit(triggerFail, StateSetupError)

	sm.Configure(StateSetupError).
		Permit(triggerSetup, StateSetupInProgress)

	sm.Configure(StateLoaded).
		Permit(triggerUnload, StateUnloadInProgress)

	sm.Configure(StateUnloadInProgress).
		Permit(triggerUnloaded, StateNotLoaded).
		Permit(triggerFail, StateSetupError)

	sm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		metrics.GetOrCreateCounter(fmt.Sprintf(`mqtt_call_service_integration_transitions_total{domain=%q,state=%q}`,
			domain, t.Destination)).Inc()
		m.logger.Debug("integration state changed",
			"entry_id", id,
			"domain", domain,
			"from", t.Source,
			"to", t.Destination,
		)
	})

	return sm
}

// Get returns a snapshot of one entry.
func (m *Manager) Get(id string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return e.snapshot(), nil
}

// Entries returns snapshots of the entries for domain, in insertion order.
// An empty domain returns every entry.
func (m *Manager) Entries(domain string) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0, len(m.order))
	for _, id := range m.order {
		e := m.entries[id]
		if domain == "" || e.info.Domain == domain {
			out = append(out, e.snapshot())
		}
	}
	return out
}

// Enabled reports whether domain has at least one entry that is not disabled.
func (m *Manager) Enabled(domain string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.entries {
		if e.info.Domain == domain && !e.info.Disabled() {
			return true
		}
	}
	return false
}

// Readiness returns the domain's readiness signal, creating it on first use.
// At most one signal ever exists per domain.
func (m *Manager) Readiness(domain string) *readiness.Signal {
	m.signalMu.Lock()
	defer m.signalMu.Unlock()

	s, ok := m.signals[domain]
	if !ok {
		s = readiness.NewSignal()
		m.signals[domain] = s
	}
	return s
}

// HasReadiness reports whether a signal has been created for domain.
func (m *Manager) HasReadiness(domain string) bool {
	m.signalMu.Lock()
	defer m.signalMu.Unlock()
	_, ok := m.signals[domain]
	return ok
}

// resolve settles the domain signal; later resolutions are ignored.
func (m *Manager) resolve(domain string, value bool) {
	if m.Readiness(domain).Resolve(value) {
		m.logger.Info("integration readiness resolved", "domain", domain, "ready", value)
	}
}

// Setup runs fn for the entry and drives its state machine.
//
// Failures wrapping ErrNotReady move the entry to setup_retry and are
// retried with exponential backoff until they succeed, fail permanently,
// exhaust RetryPolicy.MaxAttempts or ctx is cancelled. The readiness signal
// is resolved true on success and false on any terminal failure.
//
// Parameters:
//   - ctx: Bounds the whole setup including backoff sleeps
//   - id: Entry ID
//   - fn: Performs the actual setup
//
// Returns:
//   - error: nil when loaded; otherwise ErrEntryNotFound, ErrEntryDisabled,
//     ErrInvalidState or the last setup error
func (m *Manager) Setup(ctx context.Context, id string, fn SetupFunc) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	if m.snapshotOf(e).Disabled() {
		return fmt.Errorf("%w: %s", ErrEntryDisabled, id)
	}
	if err := m.fire(ctx, e, triggerSetup); err != nil {
		return err
	}

	domain := e.domain()
	var delay time.Duration
	for {
		attempt := m.recordAttempt(e)
		m.logger.Info("setting up integration", "entry_id", id, "domain", domain, "attempt", attempt)

		setupErr := fn(ctx, m.snapshotOf(e))
		if setupErr == nil {
			m.setLastError(e, nil)
			if err := m.fire(ctx, e, triggerSucceed); err != nil {
				return err
			}
			m.resolve(domain, true)
			return nil
		}
		m.setLastError(e, setupErr)

		exhausted := m.retry.MaxAttempts > 0 && attempt >= m.retry.MaxAttempts
		if !errors.Is(setupErr, ErrNotReady) || exhausted {
			m.logger.Error("integration setup failed", "entry_id", id, "domain", domain, "error", setupErr)
			_ = m.fire(context.WithoutCancel(ctx), e, triggerFail)
			m.resolve(domain, false)
			return setupErr
		}

		if err := m.fire(ctx, e, triggerRetry); err != nil {
			return err
		}
		delay = m.retry.next(delay)
		m.logger.Warn("integration not ready, retrying",
			"entry_id", id,
			"domain", domain,
			"retry_in", delay,
			"error", setupErr,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			_ = m.fire(context.WithoutCancel(ctx), e, triggerFail)
			m.resolve(domain, false)
			return fmt.Errorf("integration %s setup abandoned: %w", id, ctx.Err())
		case <-timer.C:
		}

		if err := m.fire(ctx, e, triggerSetup); err != nil {
			return err
		}
	}
}

// Unload runs fn for a loaded entry and returns it to not_loaded.
// The domain's readiness signal keeps its resolved value.
func (m *Manager) Unload(ctx context.Context, id string, fn UnloadFunc) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	if err := m.fire(ctx, e, triggerUnload); err != nil {
		return err
	}

	if fn != nil {
		if err := fn(ctx, m.snapshotOf(e)); err != nil {
			m.setLastError(e, err)
			_ = m.fire(context.WithoutCancel(ctx), e, triggerFail)
			return fmt.Errorf("unloading %s: %w", id, err)
		}
	}

	m.mu.Lock()
	e.info.Attempts = 0
	m.mu.Unlock()

	return m.fire(ctx, e, triggerUnloaded)
}

// SetDisabled enables (by == "") or disables an entry.
// Disabling does not unload a loaded entry.
func (m *Manager) SetDisabled(id, by string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	e.info.DisabledBy = by
	return nil
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return e, nil
}

func (m *Manager) fire(ctx context.Context, e *entry, t trigger) error {
	if err := e.sm.FireCtx(ctx, t); err != nil {
		return fmt.Errorf("%w: %s in %s: %w", ErrInvalidState, t, e.sm.MustState(), err)
	}
	return nil
}

func (m *Manager) recordAttempt(e *entry) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.info.Attempts++
	return e.info.Attempts
}

func (m *Manager) setLastError(e *entry, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		e.info.LastError = ""
		return
	}
	e.info.LastError = err.Error()
}

func (m *Manager) snapshotOf(e *entry) Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return e.snapshot()
}

// snapshot must be called with the Manager lock held.
func (e *entry) snapshot() Entry {
	s := e.info
	if st, ok := e.sm.MustState().(State); ok {
		s.State = st
	}
	return s
}

// domain is fixed at Add and safe to read without the lock.
func (e *entry) domain() string {
	return e.info.Domain
}
