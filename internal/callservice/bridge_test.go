package callservice

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/nerrad567/mqtt-call-service/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-call-service/internal/integration"
	"github.com/nerrad567/mqtt-call-service/internal/readiness"
	"github.com/nerrad567/mqtt-call-service/internal/service"
)

const testTopic = "home/service_calls"

// shortWait keeps timeout tests fast.
var shortWait = Options{AvailabilityTimeout: 30 * time.Millisecond}

// newManager returns a manager with one mqtt entry in the given state.
func newManager(t *testing.T, loaded bool) (*integration.Manager, integration.Entry) {
	t.Helper()
	m := integration.NewManager(integration.RetryPolicy{InitialDelay: time.Millisecond})
	e, err := m.Add(integration.Entry{Domain: DependencyDomain, Title: "broker"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if loaded {
		if err := m.Setup(context.Background(), e.ID, func(context.Context, integration.Entry) error { return nil }); err != nil {
			t.Fatalf("Setup() error = %v", err)
		}
	}
	return m, e
}

func newBridge(deps Dependencies, opts Options) (*Bridge, *MockSubscriber, *MockDispatcher, *logRecorder) {
	bus := NewMockSubscriber()
	calls := &MockDispatcher{}
	logs := newLogRecorder()
	b := New(deps, bus, calls, opts)
	b.SetLogger(logs)
	return b, bus, calls, logs
}

// =============================================================================
// Setup
// =============================================================================

func TestSetup_NoTopic(t *testing.T) {
	m, _ := newManager(t, true)
	b, bus, _, _ := newBridge(m, shortWait)
	defer b.Close()

	if !b.Setup(context.Background(), config.CallServiceConfig{}) {
		t.Fatal("Setup() = false, want true")
	}
	if n := len(bus.Subscribes()); n != 0 {
		t.Errorf("Subscribe called %d times, want 0", n)
	}
	if b.Topic() != "" {
		t.Errorf("Topic() = %q, want empty", b.Topic())
	}
}

func TestSetup_SubscribesOnce(t *testing.T) {
	m, _ := newManager(t, true)
	b, bus, _, _ := newBridge(m, shortWait)
	defer b.Close()

	cfg := config.CallServiceConfig{SubscribeTopic: testTopic, QoS: 1}
	if !b.Setup(context.Background(), cfg) {
		t.Fatal("Setup() = false, want true")
	}

	subs := bus.Subscribes()
	if len(subs) != 1 {
		t.Fatalf("Subscribe called %d times, want 1", len(subs))
	}
	if subs[0].Topic != testTopic || subs[0].QoS != 1 {
		t.Errorf("Subscribe(%q, %d), want (%q, 1)", subs[0].Topic, subs[0].QoS, testTopic)
	}
	if b.Topic() != testTopic {
		t.Errorf("Topic() = %q, want %q", b.Topic(), testTopic)
	}

	// A second Setup must not add a subscription.
	if b.Setup(context.Background(), cfg) {
		t.Error("second Setup() = true, want false")
	}
	if n := len(bus.Subscribes()); n != 1 {
		t.Errorf("Subscribe called %d times after second Setup, want 1", n)
	}
}

func TestSetup_MQTTUnavailable(t *testing.T) {
	m := integration.NewManager(integration.DefaultRetryPolicy())
	b, bus, _, logs := newBridge(m, shortWait)
	defer b.Close()

	if b.Setup(context.Background(), config.CallServiceConfig{SubscribeTopic: testTopic}) {
		t.Fatal("Setup() = true without MQTT, want false")
	}
	if n := len(bus.Subscribes()); n != 0 {
		t.Errorf("Subscribe called %d times, want 0", n)
	}
	if !logs.has("error", "MQTT integration is not available") {
		t.Error("missing 'MQTT integration is not available' error log")
	}
}

func TestSetup_SubscribeFails(t *testing.T) {
	m, _ := newManager(t, true)
	b, bus, _, logs := newBridge(m, shortWait)
	defer b.Close()
	bus.SubscribeErr = errors.New("not authorised")

	if b.Setup(context.Background(), config.CallServiceConfig{SubscribeTopic: testTopic}) {
		t.Fatal("Setup() = true after subscribe failure, want false")
	}
	if logs.count("error") != 1 {
		t.Errorf("logged %d errors, want 1", logs.count("error"))
	}
	if b.Topic() != "" {
		t.Errorf("Topic() = %q after failed subscribe, want empty", b.Topic())
	}
}

// =============================================================================
// WaitForMQTTClient
// =============================================================================

func TestWaitForMQTTClient_Disabled(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *integration.Manager)
	}{
		{name: "no entry", setup: func(*integration.Manager) {}},
		{name: "entry disabled", setup: func(m *integration.Manager) {
			_, _ = m.Add(integration.Entry{Domain: DependencyDomain, DisabledBy: "user"})
		}},
		{name: "other domain only", setup: func(m *integration.Manager) {
			_, _ = m.Add(integration.Entry{Domain: "zwave"})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := integration.NewManager(integration.DefaultRetryPolicy())
			tt.setup(m)
			// A long timeout proves no wait happens.
			b, _, _, _ := newBridge(m, Options{AvailabilityTimeout: time.Hour})
			defer b.Close()

			start := time.Now()
			if b.WaitForMQTTClient(context.Background()) {
				t.Error("WaitForMQTTClient() = true, want false")
			}
			if elapsed := time.Since(start); elapsed > time.Second {
				t.Errorf("WaitForMQTTClient() waited %v", elapsed)
			}
			if m.HasReadiness(DependencyDomain) {
				t.Error("readiness signal created for disabled dependency")
			}
		})
	}
}

func TestWaitForMQTTClient_AlreadyLoaded(t *testing.T) {
	m, _ := newManager(t, true)
	b, _, _, _ := newBridge(m, Options{AvailabilityTimeout: time.Hour})
	defer b.Close()

	start := time.Now()
	if !b.WaitForMQTTClient(context.Background()) {
		t.Error("WaitForMQTTClient() = false, want true")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("WaitForMQTTClient() waited %v", elapsed)
	}
}

func TestWaitForMQTTClient_SignalResolves(t *testing.T) {
	for _, want := range []bool{true, false} {
		m, _ := newManager(t, false)
		b, _, _, _ := newBridge(m, Options{AvailabilityTimeout: 5 * time.Second})

		go func() {
			time.Sleep(10 * time.Millisecond)
			m.Readiness(DependencyDomain).Resolve(want)
		}()

		if got := b.WaitForMQTTClient(context.Background()); got != want {
			t.Errorf("WaitForMQTTClient() = %v, want %v", got, want)
		}
		b.Close()
	}
}

func TestWaitForMQTTClient_CachedResult(t *testing.T) {
	m, _ := newManager(t, false)
	m.Readiness(DependencyDomain).Resolve(false)
	b, _, _, _ := newBridge(m, Options{AvailabilityTimeout: time.Hour})
	defer b.Close()

	if b.WaitForMQTTClient(context.Background()) {
		t.Error("WaitForMQTTClient() = true, want cached false")
	}
}

func TestWaitForMQTTClient_TimeoutLeavesSignalPending(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m, _ := newManager(t, false)
	b, _, _, logs := newBridge(m, shortWait)
	defer b.Close()

	start := time.Now()
	if b.WaitForMQTTClient(context.Background()) {
		t.Error("WaitForMQTTClient() = true, want false on timeout")
	}
	if elapsed := time.Since(start); elapsed < shortWait.AvailabilityTimeout {
		t.Errorf("returned after %v, before the %v timeout", elapsed, shortWait.AvailabilityTimeout)
	}
	if _, resolved := m.Readiness(DependencyDomain).Result(); resolved {
		t.Error("timeout resolved the shared signal")
	}
	if logs.count("warn") != 1 {
		t.Errorf("logged %d warnings, want 1", logs.count("warn"))
	}
}

func TestWaitForMQTTClient_ContextCancelled(t *testing.T) {
	m, _ := newManager(t, false)
	b, _, _, _ := newBridge(m, Options{AvailabilityTimeout: time.Hour})
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if b.WaitForMQTTClient(ctx) {
		t.Error("WaitForMQTTClient() = true with cancelled context")
	}
}

func TestWaitForMQTTClient_ConcurrentWaiters(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m, _ := newManager(t, false)
	b, _, _, _ := newBridge(m, Options{AvailabilityTimeout: 5 * time.Second})
	defer b.Close()

	const waiters = 10
	var wg sync.WaitGroup
	results := make([]bool, waiters)
	for i := range waiters {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = b.WaitForMQTTClient(context.Background())
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	signal := m.Readiness(DependencyDomain)
	signal.Resolve(true)
	wg.Wait()

	for i, got := range results {
		if !got {
			t.Errorf("waiter %d got false, want true", i)
		}
	}
	if m.Readiness(DependencyDomain) != signal {
		t.Error("more than one readiness signal exists")
	}
}

// staticDeps reports a fixed state and counts Readiness calls.
type staticDeps struct {
	enabled bool
	entries []integration.Entry
	signal  *readiness.Signal
	gets    atomic.Int32
}

func (d *staticDeps) Enabled(string) bool                { return d.enabled }
func (d *staticDeps) Entries(string) []integration.Entry { return d.entries }

func (d *staticDeps) Readiness(string) *readiness.Signal {
	d.gets.Add(1)
	return d.signal
}

func TestWaitForMQTTClient_FirstEntryDecides(t *testing.T) {
	deps := &staticDeps{
		enabled: true,
		entries: []integration.Entry{
			{ID: "a", Domain: DependencyDomain, State: integration.StateSetupRetry},
			{ID: "b", Domain: DependencyDomain, State: integration.StateLoaded},
		},
		signal: readiness.NewSignal(),
	}
	deps.signal.Resolve(false)
	b, _, _, _ := newBridge(deps, shortWait)
	defer b.Close()

	if b.WaitForMQTTClient(context.Background()) {
		t.Error("WaitForMQTTClient() = true, want the first entry's state to decide")
	}
	if deps.gets.Load() != 1 {
		t.Errorf("Readiness called %d times, want 1", deps.gets.Load())
	}
}

func TestSetup_WaitsForConcurrentMQTTSetup(t *testing.T) {
	m, e := newManager(t, false)
	b, bus, _, _ := newBridge(m, Options{AvailabilityTimeout: 5 * time.Second})
	defer b.Close()

	release := make(chan struct{})
	setupDone := make(chan error, 1)
	go func() {
		setupDone <- m.Setup(context.Background(), e.ID, func(context.Context, integration.Entry) error {
			<-release
			return nil
		})
	}()

	bridgeDone := make(chan bool, 1)
	go func() {
		bridgeDone <- b.Setup(context.Background(), config.CallServiceConfig{SubscribeTopic: testTopic})
	}()

	select {
	case <-bridgeDone:
		t.Fatal("bridge Setup returned before MQTT finished setting up")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	if err := <-setupDone; err != nil {
		t.Fatalf("mqtt Setup() error = %v", err)
	}
	if !<-bridgeDone {
		t.Fatal("bridge Setup() = false, want true")
	}
	if n := len(bus.Subscribes()); n != 1 {
		t.Errorf("Subscribe called %d times, want 1", n)
	}
}

// =============================================================================
// HandleMessage
// =============================================================================

func setupBridge(t *testing.T, cfg config.CallServiceConfig) (*Bridge, *MockSubscriber, *MockDispatcher, *logRecorder) {
	t.Helper()
	m, _ := newManager(t, true)
	b, bus, calls, logs := newBridge(m, shortWait)
	if cfg.SubscribeTopic == "" {
		cfg.SubscribeTopic = testTopic
	}
	if !b.Setup(context.Background(), cfg) {
		t.Fatal("Setup() = false")
	}
	return b, bus, calls, logs
}

func TestHandleMessage_Dispatches(t *testing.T) {
	b, bus, calls, _ := setupBridge(t, config.CallServiceConfig{})
	defer b.Close()

	payload := `{"domain":"light","service":"turn_on","service_data":{"entity_id":"light.kitchen"}}`
	if err := bus.Deliver(testTopic, []byte(payload)); err != nil {
		t.Fatalf("handler returned error %v", err)
	}

	got := calls.Calls()
	want := []dispatchedCall{{
		Domain:   "light",
		Service:  "turn_on",
		Data:     map[string]any{"entity_id": "light.kitchen"},
		Blocking: true,
	}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("dispatched %+v, want %+v", got, want)
	}
}

func TestHandleMessage_InvalidPayloadsAreDropped(t *testing.T) {
	b, bus, calls, logs := setupBridge(t, config.CallServiceConfig{})
	defer b.Close()

	payloads := []string{
		`not json`,
		`[]`,
		`{"domain":"light"}`,
		`{"domain":1,"service":"turn_on"}`,
		``,
	}
	for _, p := range payloads {
		if err := bus.Deliver(testTopic, []byte(p)); err != nil {
			t.Errorf("handler returned error %v for %q", err, p)
		}
	}

	if n := len(calls.Calls()); n != 0 {
		t.Errorf("dispatched %d calls for invalid payloads, want 0", n)
	}
	if logs.count("warn") != len(payloads) {
		t.Errorf("logged %d warnings, want %d", logs.count("warn"), len(payloads))
	}

	// The subscription survives bad input.
	_ = bus.Deliver(testTopic, []byte(`{"domain":"light","service":"toggle"}`))
	if n := len(calls.Calls()); n != 1 {
		t.Errorf("dispatched %d calls after recovery, want 1", n)
	}
}

func TestHandleMessage_DispatchErrorIsLogged(t *testing.T) {
	b, bus, calls, logs := setupBridge(t, config.CallServiceConfig{})
	defer b.Close()
	calls.Fn = func(context.Context, string, string) error { return service.ErrServiceNotFound }

	err := bus.Deliver(testTopic, []byte(`{"domain":"nope","service":"nothing"}`))
	if err != nil {
		t.Errorf("handler returned error %v, want nil", err)
	}
	if !logs.has("error", "service call from MQTT failed") {
		t.Error("dispatch failure not logged")
	}
}

func TestHandleMessage_WildcardTopic(t *testing.T) {
	b, bus, calls, _ := setupBridge(t, config.CallServiceConfig{SubscribeTopic: "home/+/call"})
	defer b.Close()

	_ = bus.Deliver("home/kitchen/call", []byte(`{"domain":"light","service":"turn_on"}`))
	_ = bus.Deliver("home/kitchen/extra/call", []byte(`{"domain":"light","service":"turn_off"}`))
	_ = bus.Deliver("office/kitchen/call", []byte(`{"domain":"light","service":"turn_off"}`))

	got := calls.Calls()
	if len(got) != 1 || got[0].Domain != "light" {
		t.Errorf("dispatched %+v, want one light call", got)
	}
	if got[0].Data == nil {
		t.Error("service_data should default to an empty map")
	}
}

func TestHandleMessage_ThroughRegistry(t *testing.T) {
	m, _ := newManager(t, true)
	reg := service.NewRegistry()
	bus := NewMockSubscriber()
	b := New(m, bus, reg, shortWait)
	defer b.Close()

	var got service.Call
	_ = reg.Register("light", "turn_on", func(_ context.Context, call service.Call) error {
		got = call
		return nil
	})

	if !b.Setup(context.Background(), config.CallServiceConfig{SubscribeTopic: testTopic}) {
		t.Fatal("Setup() = false")
	}
	_ = bus.Deliver(testTopic, []byte(`{"domain":"light","service":"turn_on","service_data":{"brightness":128}}`))

	if got.Source != callSource {
		t.Errorf("call source = %q, want %q", got.Source, callSource)
	}
	if got.Data["brightness"] != float64(128) {
		t.Errorf("brightness = %v, want 128", got.Data["brightness"])
	}
}

func TestHandleMessage_MaxConcurrentCalls(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b, bus, calls, _ := setupBridge(t, config.CallServiceConfig{MaxConcurrentCalls: 1})

	var current, peak atomic.Int32
	release := make(chan struct{})
	calls.Fn = func(ctx context.Context, _, _ string) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		current.Add(-1)
		return nil
	}

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = bus.Deliver(testTopic, []byte(`{"domain":"a","service":"b"}`))
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if peak.Load() != 1 {
		t.Errorf("peak concurrent dispatches = %d, want 1", peak.Load())
	}
	if n := len(calls.Calls()); n != 3 {
		t.Errorf("dispatched %d calls, want 3", n)
	}
	b.Close()
}

func TestHandleMessage_WaitingForSlotClosed(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b, bus, calls, _ := setupBridge(t, config.CallServiceConfig{MaxConcurrentCalls: 1})

	started := make(chan struct{})
	var once sync.Once
	calls.Fn = func(ctx context.Context, _, _ string) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}

	go func() {
		_ = bus.Deliver(testTopic, []byte(`{"domain":"slow","service":"first"}`))
	}()
	<-started

	waiting := make(chan error, 1)
	go func() {
		waiting <- b.HandleMessage(testTopic, []byte(`{"domain":"slow","service":"second"}`))
	}()
	time.Sleep(20 * time.Millisecond)

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := <-waiting; !errors.Is(err, ErrClosed) {
		t.Errorf("queued message error = %v, want ErrClosed", err)
	}
	if n := len(calls.Calls()); n != 1 {
		t.Errorf("dispatched %d calls, want 1", n)
	}
}

// =============================================================================
// Close
// =============================================================================

func TestClose_UnsubscribesAndCancels(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b, bus, calls, _ := setupBridge(t, config.CallServiceConfig{})

	started := make(chan struct{})
	var cancelled atomic.Bool
	calls.Fn = func(ctx context.Context, _, _ string) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}

	handlerDone := make(chan struct{})
	go func() {
		defer close(handlerDone)
		_ = bus.Deliver(testTopic, []byte(`{"domain":"slow","service":"run"}`))
	}()
	<-started

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	<-handlerDone

	if !cancelled.Load() {
		t.Error("in-flight dispatch was not cancelled")
	}
	if got := bus.Unsubscribes(); len(got) != 1 || got[0] != testTopic {
		t.Errorf("Unsubscribe calls = %v, want [%s]", got, testTopic)
	}

	// Late messages are dropped, not dispatched.
	before := len(calls.Calls())
	if err := b.HandleMessage(testTopic, []byte(`{"domain":"a","service":"b"}`)); !errors.Is(err, ErrClosed) {
		t.Errorf("HandleMessage() after Close error = %v, want ErrClosed", err)
	}
	if len(calls.Calls()) != before {
		t.Error("message dispatched after Close")
	}

	if err := b.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if b.Setup(context.Background(), config.CallServiceConfig{SubscribeTopic: testTopic}) {
		t.Error("Setup() after Close = true, want false")
	}
}

func TestNew_DefaultTimeout(t *testing.T) {
	b := New(&staticDeps{}, NewMockSubscriber(), &MockDispatcher{}, Options{})
	defer b.Close()

	if b.opts.AvailabilityTimeout != DefaultAvailabilityTimeout {
		t.Errorf("AvailabilityTimeout = %v, want %v", b.opts.AvailabilityTimeout, DefaultAvailabilityTimeout)
	}
	if DefaultAvailabilityTimeout != 30*time.Second {
		t.Errorf("DefaultAvailabilityTimeout = %v, want 30s", DefaultAvailabilityTimeout)
	}
}
