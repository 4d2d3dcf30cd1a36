package mqtt

import "fmt"

// Topic prefixes for the relay's MQTT hierarchy.
//
// All event topics use the scheme: smsgate/events/{category}/{identifier}
const (
	// TopicPrefix is the base for all relay topics.
	TopicPrefix = "smsgate"

	// TopicPrefixEvents is the base for event mirror topics.
	TopicPrefixEvents = "smsgate/events"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "smsgate/system"
)

// Topics provides builders for relay MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
type Topics struct{}

// SystemStatus returns the topic for process online/offline status.
// Retained, so new subscribers immediately see the current state.
//
// Example: smsgate/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// DeviceEvent returns the topic for device lifecycle events.
//
// Example: smsgate/events/device/b57cd3d1-2121-4dcd-ac22-0e3667c34a95
func (Topics) DeviceEvent(identifier string) string {
	return fmt.Sprintf("%s/device/%s", TopicPrefixEvents, identifier)
}

// DeliveryEvent returns the topic for SMS delivery outcome events.
//
// Example: smsgate/events/sms/b57cd3d1-2121-4dcd-ac22-0e3667c34a95
func (Topics) DeliveryEvent(identifier string) string {
	return fmt.Sprintf("%s/sms/%s", TopicPrefixEvents, identifier)
}
