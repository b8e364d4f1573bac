// Package callservice bridges an MQTT topic to the service registry.
//
// At setup the Bridge waits for the MQTT integration to become ready, then
// subscribes to mqtt_call_service.subscribe_topic. Every message on that
// topic is decoded as
//
//	{"domain": "light", "service": "turn_on", "service_data": {"entity_id": "light.kitchen"}}
//
// and dispatched as a blocking service call. Bad payloads and failed calls
// are logged and counted; the subscription stays up and nothing is
// published back to the bus.
//
// # Readiness
//
// WaitForMQTTClient answers "can I use MQTT?":
//   - MQTT integration disabled: false at once
//   - first MQTT entry loaded: true at once
//   - otherwise: wait on the shared mqtt readiness signal for up to
//     AvailabilityTimeout (30s). Each caller gets its own window; a
//     timeout leaves the signal pending for others.
//
// # Usage
//
//	bridge := callservice.New(manager, mqttClient, registry, callservice.Options{})
//	bridge.SetLogger(logger.Component("callservice"))
//	if !bridge.Setup(ctx, cfg.CallService) {
//	    // MQTT unavailable or subscribe failed
//	}
//	defer bridge.Close()
package callservice
