package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/mqtt-call-service/internal/service"
)

// Service names registered by RegisterServices.
const (
	ServiceDomain  = "mqtt"
	ServicePublish = "publish"
)

// ServiceRegistrar is the part of service.Registry this package needs.
type ServiceRegistrar interface {
	Register(domain, svc string, handler service.Handler) error
}

// RegisterServices installs mqtt.publish:
//
//	{"topic": "home/light/set", "payload": "ON", "qos": 1, "retain": false}
//
// topic is required. A payload that is not a string is sent as JSON.
// qos defaults to the configured QoS and retain to false.
func (c *Client) RegisterServices(reg ServiceRegistrar) error {
	return reg.Register(ServiceDomain, ServicePublish, c.handlePublish)
}

func (c *Client) handlePublish(_ context.Context, call service.Call) error {
	t, err := service.RequiredString(call.Data, "topic")
	if err != nil {
		return err
	}
	payload, err := publishPayload(call.Data["payload"])
	if err != nil {
		return err
	}
	qos, err := service.Int(call.Data, "qos", c.cfg.QoS)
	if err != nil {
		return err
	}
	if qos < 0 || qos > maxQoS {
		return fmt.Errorf("%w: %w", service.ErrInvalidData, ErrInvalidQoS)
	}
	retain, err := service.Bool(call.Data, "retain", false)
	if err != nil {
		return err
	}

	return c.Publish(t, payload, byte(qos), retain)
}

// publishPayload converts a service_data payload value into bytes.
func publishPayload(v any) ([]byte, error) {
	switch p := v.(type) {
	case nil:
		return []byte{}, nil
	case string:
		return []byte(p), nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("%w: payload: %w", service.ErrInvalidData, err)
		}
		return data, nil
	}
}
