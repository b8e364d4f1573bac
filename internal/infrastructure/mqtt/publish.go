package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/mqtt-call-service/internal/infrastructure/mqtt/topic"
)

// maxPayloadSize caps outbound payloads at 1 MiB.
const maxPayloadSize = 1 << 20

// Publish sends payload to the concrete topic t and waits for the broker
// acknowledgement (up to 5 seconds).
func (c *Client) Publish(t string, payload []byte, qos byte, retained bool) error {
	if err := topic.ValidPublish(t); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	return wait(c.paho.Publish(t, qos, retained, payload), ErrPublishFailed)
}

// PublishString publishes a string payload.
func (c *Client) PublishString(t, payload string, qos byte, retained bool) error {
	return c.Publish(t, []byte(payload), qos, retained)
}

// wait blocks on token for defaultPublishTimeout and wraps any failure in kind.
func wait(token pahomqtt.Token, kind error) error {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", kind, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return nil
}
