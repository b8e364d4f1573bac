// Package service is the in-process action dispatcher.
//
// Integrations register named services under a domain ("light.turn_on",
// "mqtt.publish"). Anything that wants to trigger an action, such as the
// MQTT call bridge or the HTTP API, goes through Registry.Call.
//
// Every completed call, including calls to unknown services, is reported
// to the registered Observers as a CallRecord. The history store, the
// InfluxDB writer and the WebSocket hub are all observers.
//
// Domain and service names are case-insensitive and stored lower-cased.
package service
