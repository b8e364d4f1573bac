package callservice

import (
	"context"
	"errors"
	"sync"

	"github.com/nerrad567/mqtt-call-service/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqtt-call-service/internal/infrastructure/mqtt/topic"
)

// subscribeCall records one Subscribe invocation.
type subscribeCall struct {
	Topic string
	QoS   byte
}

// MockSubscriber is a mock MQTT client for testing.
type MockSubscriber struct {
	mu             sync.Mutex
	subscribes     []subscribeCall
	unsubscribes   []string
	handlers       map[string]mqtt.MessageHandler
	SubscribeErr   error
	UnsubscribeErr error
}

func NewMockSubscriber() *MockSubscriber {
	return &MockSubscriber{handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *MockSubscriber) Subscribe(filter string, qos byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribes = append(m.subscribes, subscribeCall{Topic: filter, QoS: qos})
	if m.SubscribeErr != nil {
		return m.SubscribeErr
	}
	m.handlers[filter] = handler
	return nil
}

func (m *MockSubscriber) Unsubscribe(filter string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribes = append(m.unsubscribes, filter)
	delete(m.handlers, filter)
	return m.UnsubscribeErr
}

// Deliver routes a message on the concrete topic to every handler whose
// filter matches it, as the broker would.
func (m *MockSubscriber) Deliver(t string, payload []byte) error {
	m.mu.Lock()
	var matched []mqtt.MessageHandler
	for filter, h := range m.handlers {
		if topic.Match(filter, t) {
			matched = append(matched, h)
		}
	}
	m.mu.Unlock()

	var errs []error
	for _, h := range matched {
		errs = append(errs, h(t, payload))
	}
	return errors.Join(errs...)
}

func (m *MockSubscriber) Subscribes() []subscribeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]subscribeCall, len(m.subscribes))
	copy(out, m.subscribes)
	return out
}

func (m *MockSubscriber) Unsubscribes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.unsubscribes))
	copy(out, m.unsubscribes)
	return out
}

// dispatchedCall records one Call invocation.
type dispatchedCall struct {
	Domain   string
	Service  string
	Data     map[string]any
	Blocking bool
}

// MockDispatcher records service calls and optionally runs Fn.
type MockDispatcher struct {
	mu    sync.Mutex
	calls []dispatchedCall
	Fn    func(ctx context.Context, domain, svc string) error
}

func (m *MockDispatcher) Call(ctx context.Context, domain, svc string, data map[string]any, blocking bool) error {
	m.mu.Lock()
	m.calls = append(m.calls, dispatchedCall{Domain: domain, Service: svc, Data: data, Blocking: blocking})
	fn := m.Fn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, domain, svc)
	}
	return nil
}

func (m *MockDispatcher) Calls() []dispatchedCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]dispatchedCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// logRecorder captures log messages by level.
type logRecorder struct {
	mu      sync.Mutex
	entries map[string][]string
}

func newLogRecorder() *logRecorder {
	return &logRecorder{entries: make(map[string][]string)}
}

func (l *logRecorder) add(level, msg string) {
	l.mu.Lock()
	l.entries[level] = append(l.entries[level], msg)
	l.mu.Unlock()
}

func (l *logRecorder) Debug(msg string, _ ...any) { l.add("debug", msg) }
func (l *logRecorder) Info(msg string, _ ...any)  { l.add("info", msg) }
func (l *logRecorder) Warn(msg string, _ ...any)  { l.add("warn", msg) }
func (l *logRecorder) Error(msg string, _ ...any) { l.add("error", msg) }

func (l *logRecorder) has(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.entries[level] {
		if m == msg {
			return true
		}
	}
	return false
}

func (l *logRecorder) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries[level])
}
