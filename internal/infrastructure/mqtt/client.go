package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/mqtt-call-service/internal/infrastructure/config"
)

// pahoClient is the subset of pahomqtt.Client this package drives.
// Tests substitute a fake so no broker is needed.
type pahoClient interface {
	Connect() pahomqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	Unsubscribe(topics ...string) pahomqtt.Token
}

// Logger is the logging interface used by Client.
// Satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler receives one inbound message.
//
// Handlers run on paho goroutines with ordering disabled, so a handler may
// block (for example on a blocking service call) without stalling delivery
// of other messages. A returned error is logged; the message is still
// acknowledged.
type MessageHandler func(topic string, payload []byte) error

// subscription is replayed against the broker after every reconnect.
type subscription struct {
	filter  string
	qos     byte
	handler MessageHandler
}

// Client is the call service's broker connection.
//
// It remembers subscriptions so they survive a reconnect and keeps a
// retained online/offline document on mqtt_call_service/status.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	paho pahoClient
	cfg  config.MQTTConfig

	// mu guards everything below.
	mu           sync.RWMutex
	connected    bool
	subs         map[string]subscription
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Connect dials the broker described by cfg and waits up to 10 seconds
// for the first CONNACK.
//
// The broker is told to publish an "offline / unexpected_disconnect"
// status if the session dies; "online" is published from the connect
// callback, including after every automatic reconnect.
//
// Returns:
//   - *Client: Connected client
//   - error: ErrConnectionFailed wrapping the cause
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg, nil)

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.log().Info("reconnecting to MQTT broker", "broker", brokerURL(cfg))
	})

	c.paho = pahomqtt.NewClient(opts)
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func newClient(cfg config.MQTTConfig, pc pahoClient) *Client {
	return &Client{
		paho:   pc,
		cfg:    cfg,
		subs:   make(map[string]subscription),
		logger: noopLogger{},
	}
}

// connect performs the first connect. On failure the paho client is shut
// down so nothing keeps dialing under this client ID.
func (c *Client) connect() error {
	token := c.paho.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		c.paho.Disconnect(0)
		return fmt.Errorf("%w: no CONNACK within %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		c.paho.Disconnect(0)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect callback is asynchronous and may still be pending.
	c.setConnected(true)
	return nil
}

func (c *Client) handleConnect() {
	c.setConnected(true)
	c.resubscribe()
	c.publishStatus(statusOnline, "")

	c.mu.RLock()
	fn := c.onConnect
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.setConnected(false)
	c.log().Warn("MQTT connection lost", "error", err)

	c.mu.RLock()
	fn := c.onDisconnect
	c.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// resubscribe replays every remembered subscription. Failures are not
// waited for; the next reconnect tries again.
func (c *Client) resubscribe() {
	c.mu.RLock()
	subs := make([]subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.RUnlock()

	for _, s := range subs {
		c.paho.Subscribe(s.filter, s.qos, c.deliver(s.handler))
	}
}

func (c *Client) publishStatus(status, reason string) pahomqtt.Token {
	doc := buildStatusPayload(c.cfg.Broker.ClientID, status, reason)
	return c.paho.Publish(Topics{}.Status(), byte(c.cfg.QoS), true, doc)
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// Close publishes a graceful offline status (when connected) and
// disconnects. It is safe to call more than once.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}

	if c.IsConnected() {
		c.publishStatus(statusOffline, reasonGraceful).WaitTimeout(defaultPublishTimeout)
	}
	c.paho.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
	return nil
}

// HealthCheck returns ErrNotConnected while the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.paho != nil && c.paho.IsConnected()
}

// SetOnConnect registers fn to run after the first connect and every reconnect.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect registers fn to run when the connection drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// SetLogger replaces the logger. A nil logger discards output.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

// deliver adapts a MessageHandler to paho, recovering panics so one bad
// handler cannot take down the router goroutine.
func (c *Client) deliver(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.log().Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.log().Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}
