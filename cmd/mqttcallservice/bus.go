package main

import (
	"context"
	"sync/atomic"

	"github.com/nerrad567/mqtt-call-service/internal/infrastructure/mqtt"
)

// busHandle is the bridge's view of the MQTT client. The client only
// exists once the mqtt entry has set up, so until then every operation
// fails with mqtt.ErrNotConnected.
type busHandle struct {
	client atomic.Pointer[mqtt.Client]
}

func (b *busHandle) set(c *mqtt.Client) {
	b.client.Store(c)
}

// take clears the handle and returns the previous client, if any.
func (b *busHandle) take() *mqtt.Client {
	return b.client.Swap(nil)
}

func (b *busHandle) Subscribe(filter string, qos byte, handler mqtt.MessageHandler) error {
	c := b.client.Load()
	if c == nil {
		return mqtt.ErrNotConnected
	}
	return c.Subscribe(filter, qos, handler)
}

func (b *busHandle) Unsubscribe(filter string) error {
	c := b.client.Load()
	if c == nil {
		return mqtt.ErrNotConnected
	}
	return c.Unsubscribe(filter)
}

// HealthCheck reports the broker connection for GET /health.
func (b *busHandle) HealthCheck(ctx context.Context) error {
	c := b.client.Load()
	if c == nil {
		return mqtt.ErrNotConnected
	}
	return c.HealthCheck(ctx)
}
