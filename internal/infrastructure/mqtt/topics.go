package mqtt

// TopicPrefix is the root of every topic this service publishes.
const TopicPrefix = "mqtt_call_service"

// Topics provides builders for the service's own MQTT topics.
//
// The subscribe topic for inbound service calls is user-configured
// (mqtt_call_service.subscribe_topic) and deliberately not built here.
type Topics struct{}

// Status returns the retained online/offline status topic.
//
// Example: mqtt_call_service/status
func (Topics) Status() string {
	return TopicPrefix + "/status"
}

// All returns a filter matching every topic under TopicPrefix.
//
// Example: mqtt_call_service/#
func (Topics) All() string {
	return TopicPrefix + "/#"
}
