// Package mqtt provides the MQTT client used by the call service.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS and topic validation
//   - Subscriptions (with wildcards) that survive reconnects
//   - Retained online/offline status and Last Will on mqtt_call_service/status
//   - The mqtt.publish service
//
// # Handler concurrency
//
// paho is configured with ordered delivery off. Each message handler runs
// on its own goroutine, so a handler may block on a service call that
// publishes through this same client.
//
// # Security Considerations
//
//   - Use TLS (cfg.Broker.TLS=true) when the broker is not on localhost
//   - Anyone who can publish to the subscribe topic can call any service
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("home/service_calls", 0,
//	    func(topic string, payload []byte) error {
//	        return nil
//	    })
package mqtt
