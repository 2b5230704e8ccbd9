package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "graylogic"

// Topics builds the topic hierarchy under one prefix:
//
//	<prefix>/device/<backend>/<id>       frames from a device (reports, acks)
//	<prefix>/device/<backend>/<id>/set   frames to a device (commands)
//	<prefix>/state/<category>/<id>       hub state republished for consumers
//	<prefix>/system/status               retained online/offline status
type Topics struct {
	prefix string
}

// NewTopics returns a builder for prefix, trimming slashes. An empty prefix
// means DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root of the hierarchy.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// Device returns the topic a device publishes on.
//
// Example: graylogic/device/lumen/light1
func (t Topics) Device(backend, id string) string {
	return fmt.Sprintf("%s/device/%s/%s", t.Prefix(), backend, id)
}

// DeviceSet returns the topic commands for a device are sent on.
//
// Example: graylogic/device/lumen/light1/set
func (t Topics) DeviceSet(backend, id string) string {
	return t.Device(backend, id) + "/set"
}

// SetTopic returns the command topic paired with a device topic.
func SetTopic(deviceTopic string) string {
	return strings.TrimSuffix(deviceTopic, "/") + "/set"
}

// State returns the topic hub state for a device is republished on.
//
// Example: graylogic/state/thermostat/thermostat1
func (t Topics) State(category, id string) string {
	return fmt.Sprintf("%s/state/%s/%s", t.Prefix(), category, id)
}

// AllStates matches every republished device state.
func (t Topics) AllStates() string {
	return t.Prefix() + "/state/+/+"
}

// AllDevices matches every device-originated frame of one backend.
func (t Topics) AllDevices(backend string) string {
	return fmt.Sprintf("%s/device/%s/+", t.Prefix(), backend)
}

// SystemStatus returns the retained service status topic.
func (t Topics) SystemStatus() string {
	return t.Prefix() + "/system/status"
}
