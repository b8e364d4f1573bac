package mqtt

import (
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeToken is a completed paho token.
type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.timeout {
		close(ch)
	}
	return ch
}

// fakeMessage is an inbound paho message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// published records one Publish call.
type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakePaho stands in for pahomqtt.Client.
type fakePaho struct {
	mu           sync.Mutex
	connected    bool
	connectErr   error
	publishErr   error
	subscribeErr error
	timeout      bool
	published    []published
	handlers     map[string]pahomqtt.MessageHandler
	unsubscribed []string
	disconnects  int
}

func newFakePaho() *fakePaho {
	return &fakePaho{handlers: make(map[string]pahomqtt.MessageHandler)}
}

func (f *fakePaho) Connect() pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr == nil && !f.timeout {
		f.connected = true
	}
	return &fakeToken{err: f.connectErr, timeout: f.timeout}
}

func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = p
	case string:
		data = []byte(p)
	}
	f.published = append(f.published, published{topic: topic, qos: qos, retained: retained, payload: data})
	return &fakeToken{err: f.publishErr, timeout: f.timeout}
}

func (f *fakePaho) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr == nil && !f.timeout {
		f.handlers[topic] = callback
	}
	return &fakeToken{err: f.subscribeErr, timeout: f.timeout}
}

func (f *fakePaho) Unsubscribe(topics ...string) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range topics {
		delete(f.handlers, t)
		f.unsubscribed = append(f.unsubscribed, t)
	}
	return &fakeToken{}
}

// deliver sends a message to the handler registered for filter.
func (f *fakePaho) deliver(filter, topic string, payload []byte) {
	f.mu.Lock()
	h := f.handlers[filter]
	f.mu.Unlock()
	if h != nil {
		h(nil, &fakeMessage{topic: topic, payload: payload})
	}
}

func (f *fakePaho) publishedTo(topic string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, p := range f.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}
