package mqtt

import (
	"fmt"
	"strings"
)

// Default topic roots.
const (
	DefaultTopicPrefix     = "godaikin"
	DefaultDiscoveryPrefix = "homeassistant"
)

// Topic layout:
//
//	<prefix>/bridge/availability                       bridge LWT, online/offline
//	<prefix>/<device>/availability                     per-device online/offline
//	<prefix>/<device>/<attribute>/state                retained attribute value
//	<prefix>/<device>/<attribute>/set                  inbound command
//	<discovery>/<component>/<device>/config            climate discovery
//	<discovery>/<component>/<device>/<object>/config   sensor/light discovery
//
// Device IDs are lower-case vendor thing names and never contain '/'.

// Topics builds every topic the bridge publishes or subscribes to.
// The zero value uses the default prefixes.
type Topics struct {
	Prefix          string
	DiscoveryPrefix string
}

// NewTopics returns a builder for the given prefixes. Empty values fall
// back to the defaults and trailing slashes are trimmed.
func NewTopics(prefix, discoveryPrefix string) Topics {
	return Topics{
		Prefix:          strings.TrimSuffix(prefix, "/"),
		DiscoveryPrefix: strings.TrimSuffix(discoveryPrefix, "/"),
	}
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

func (t Topics) discovery() string {
	if t.DiscoveryPrefix == "" {
		return DefaultDiscoveryPrefix
	}
	return t.DiscoveryPrefix
}

// BridgeAvailability is the bridge-wide availability topic (also the LWT).
func (t Topics) BridgeAvailability() string {
	return fmt.Sprintf("%s/bridge/availability", t.prefix())
}

// DeviceAvailability is the per-device availability topic.
func (t Topics) DeviceAvailability(deviceID string) string {
	return fmt.Sprintf("%s/%s/availability", t.prefix(), deviceID)
}

// State is the retained state topic of one device attribute.
func (t Topics) State(deviceID, attribute string) string {
	return fmt.Sprintf("%s/%s/%s/state", t.prefix(), deviceID, attribute)
}

// Command is the command topic of one device attribute.
func (t Topics) Command(deviceID, attribute string) string {
	return fmt.Sprintf("%s/%s/%s/set", t.prefix(), deviceID, attribute)
}

// AllCommands matches every command topic.
func (t Topics) AllCommands() string {
	return fmt.Sprintf("%s/+/+/set", t.prefix())
}

// Discovery is a discovery config topic for a whole-device component
// (e.g. climate).
func (t Topics) Discovery(component, deviceID string) string {
	return fmt.Sprintf("%s/%s/%s/config", t.discovery(), component, deviceID)
}

// DiscoveryObject is a discovery config topic for one object of a device
// (e.g. sensor/<device>/power).
func (t Topics) DiscoveryObject(component, deviceID, objectID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", t.discovery(), component, deviceID, objectID)
}

// ParseCommand splits a command topic into device ID and attribute.
// ok is false for topics outside the command layout.
func (t Topics) ParseCommand(topic string) (deviceID, attribute string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix()+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "set" || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
