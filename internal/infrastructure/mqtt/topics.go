package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicBase is the topic base used when none is configured.
const DefaultTopicBase = "simhaus"

// Topic leaf segments.
const (
	// LeafState terminates device state topics.
	LeafState = "state"

	// LeafCommand terminates device command topics.
	LeafCommand = "set"
)

// Topics provides builders for Simhaus MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
// All device topics use the scheme: {base}/{category}/{type}/{id}/{leaf}
//
//	topics := mqtt.NewTopics("simhaus")
//	stateTopic := topics.DeviceState("sensor", "temperature-sensor", "abc123")
//	// Returns: "simhaus/sensor/temperature-sensor/abc123/state"
type Topics struct {
	Base string
}

// NewTopics returns a Topics builder rooted at base.
// An empty base falls back to DefaultTopicBase.
func NewTopics(base string) Topics {
	if base == "" {
		base = DefaultTopicBase
	}
	return Topics{Base: base}
}

func (t Topics) base() string {
	if t.Base == "" {
		return DefaultTopicBase
	}
	return t.Base
}

// =============================================================================
// Device Topics
// =============================================================================

// DeviceState returns the topic a device publishes its full state to.
//
// Example: simhaus/sensor/temperature-sensor/abc123/state
func (t Topics) DeviceState(category, deviceType, deviceID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", t.base(), category, deviceType, deviceID, LeafState)
}

// DeviceCommand returns the topic a device receives commands on.
// Only actuators subscribe to their command topic.
//
// Example: simhaus/actuator/led-bulb/abc123/set
func (t Topics) DeviceCommand(category, deviceType, deviceID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", t.base(), category, deviceType, deviceID, LeafCommand)
}

// DevicePrefix returns the topic prefix shared by a device's state and
// command topics, without the trailing leaf.
//
// Example: simhaus/actuator/led-bulb/abc123
func (t Topics) DevicePrefix(category, deviceType, deviceID string) string {
	return fmt.Sprintf("%s/%s/%s/%s", t.base(), category, deviceType, deviceID)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the simulator status topic used for the retained
// online/offline message and the Last Will and Testament.
//
// Example: simhaus/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.base())
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllDeviceStates returns a pattern matching every device state topic.
//
// Pattern: simhaus/+/+/+/state
func (t Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/+/+/+/%s", t.base(), LeafState)
}

// AllDeviceCommands returns a pattern matching every device command topic.
//
// Pattern: simhaus/+/+/+/set
func (t Topics) AllDeviceCommands() string {
	return fmt.Sprintf("%s/+/+/+/%s", t.base(), LeafCommand)
}

// AllTopics returns a pattern matching every topic under the base.
// Use with caution - this receives ALL traffic.
//
// Pattern: simhaus/#
func (t Topics) AllTopics() string {
	return t.base() + "/#"
}

// =============================================================================
// Parsing
// =============================================================================

// DeviceTopic holds the parsed segments of a device topic.
type DeviceTopic struct {
	Base     string
	Category string
	Type     string
	ID       string
	Leaf     string
}

// ParseDeviceTopic splits a device topic into its segments.
//
// Accepts topics of the form {base}/{category}/{type}/{id}/{leaf} where
// leaf is "state" or "set". Anything else returns ErrInvalidTopic.
func ParseDeviceTopic(topic string) (DeviceTopic, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 {
		return DeviceTopic{}, fmt.Errorf("%w: %q is not a device topic", ErrInvalidTopic, topic)
	}
	if parts[4] != LeafState && parts[4] != LeafCommand {
		return DeviceTopic{}, fmt.Errorf("%w: %q has unknown leaf %q", ErrInvalidTopic, topic, parts[4])
	}
	for _, p := range parts {
		if p == "" {
			return DeviceTopic{}, fmt.Errorf("%w: %q has an empty segment", ErrInvalidTopic, topic)
		}
	}

	return DeviceTopic{
		Base:     parts[0],
		Category: parts[1],
		Type:     parts[2],
		ID:       parts[3],
		Leaf:     parts[4],
	}, nil
}
