package mqtt

import (
	"fmt"

	"github.com/nerrad567/mqtt-call-service/internal/infrastructure/mqtt/topic"
)

// Subscribe routes messages matching filter to handler.
//
// The filter is checked against the MQTT grammar before anything is sent.
// It is remembered and replayed after a reconnect; subscribing to the same
// filter again swaps the handler.
//
// Parameters:
//   - filter: Subscribe filter, may contain '+' and '#'
//   - qos: Maximum QoS for delivered messages (0-2)
//   - handler: Invoked once per message
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	switch {
	case handler == nil:
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	case qos > maxQoS:
		return ErrInvalidQoS
	}
	if err := topic.ValidSubscribe(filter); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.remember(subscription{filter: filter, qos: qos, handler: handler})

	if err := wait(c.paho.Subscribe(filter, qos, c.deliver(handler)), ErrSubscribeFailed); err != nil {
		c.forget(filter)
		return err
	}
	return nil
}

// Unsubscribe drops filter. Messages already in flight may still reach
// the old handler.
func (c *Client) Unsubscribe(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: %w", ErrInvalidTopic, topic.ErrEmpty)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.forget(filter)
	return wait(c.paho.Unsubscribe(filter), ErrUnsubscribeFailed)
}

func (c *Client) remember(s subscription) {
	c.mu.Lock()
	c.subs[s.filter] = s
	c.mu.Unlock()
}

func (c *Client) forget(filter string) {
	c.mu.Lock()
	delete(c.subs, filter)
	c.mu.Unlock()
}

// SubscriptionCount returns how many filters are remembered.
func (c *Client) SubscriptionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

// HasSubscription reports whether filter is remembered (exact match).
func (c *Client) HasSubscription(filter string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subs[filter]
	return ok
}
