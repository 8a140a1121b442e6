package device

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Fixed identity fields of every GO DAIKIN unit.
const (
	DefaultModel        = "GO DAIKIN"
	DefaultManufacturer = "Daikin"
	DefaultMAC          = "00:00:00:00:00:00"
)

// Device is one air conditioner as known to the bridge.
type Device struct {
	// ID is the lower-cased vendor ThingName. It is the Home Assistant
	// unique_id and the MQTT topic segment.
	ID string `json:"id"`

	// Name is the user-facing unit name (ACName).
	Name string `json:"name"`

	// ObjectID is the Home Assistant object_id of the climate entity.
	ObjectID string `json:"object_id"`

	MAC          string `json:"mac"`
	Model        string `json:"model"`
	Manufacturer string `json:"manufacturer"`
	Firmware     string `json:"firmware,omitempty"`

	Capabilities CapabilitySet `json:"capabilities"`
}

// DeepCopy returns a copy that shares no mutable state with d.
func (d Device) DeepCopy() Device {
	d.Capabilities = d.Capabilities.Clone()
	return d
}

// sameMetadata reports whether the discovery-relevant identity of two
// devices matches. Capabilities are compared separately.
func (d Device) sameMetadata(o Device) bool {
	return d.Name == o.Name &&
		d.ObjectID == o.ObjectID &&
		d.MAC == o.MAC &&
		d.Model == o.Model &&
		d.Manufacturer == o.Manufacturer &&
		d.Firmware == o.Firmware
}

// ObjectIDFor derives the climate object_id from the unit name:
// lower-cased, spaces replaced by underscores, suffixed with "_ac".
func ObjectIDFor(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_") + "_ac"
}

// MACFromThingName pairs the last 12 characters of a ThingName into a MAC
// address. Short names yield DefaultMAC.
func MACFromThingName(thing string) string {
	const hexLen = 12
	if len(thing) < hexLen {
		return DefaultMAC
	}
	hex := thing[len(thing)-hexLen:]
	pairs := make([]string, 0, hexLen/2)
	for i := 0; i < hexLen; i += 2 {
		pairs = append(pairs, hex[i:i+2])
	}
	return strings.Join(pairs, ":")
}

// Capability is a feature a unit reports through its shadow flags.
type Capability string

// Capabilities known to the bridge.
const (
	CapCool                 Capability = "cool"
	CapDry                  Capability = "dry"
	CapFan                  Capability = "fan"
	CapTemperature          Capability = "temperature"
	CapFanSpeed             Capability = "fan_speed"
	CapSwingVertical        Capability = "swing_vertical"
	CapSwingVerticalSteps   Capability = "swing_vertical_steps"
	CapSwingHorizontal      Capability = "swing_horizontal"
	CapSwingHorizontalSteps Capability = "swing_horizontal_steps"
	CapPresetEco            Capability = "preset_eco"
	CapPresetBreeze         Capability = "preset_breeze"
	CapPresetPowerful       Capability = "preset_powerful"
	CapPresetSleep          Capability = "preset_sleep"
	CapPowerSensor          Capability = "power_sensor"
	CapEnergySensor         Capability = "energy_sensor"
	CapOutdoorSensor        Capability = "outdoor_sensor"
	CapLED                  Capability = "led"
)

// AllCapabilities returns every capability in declaration order.
func AllCapabilities() []Capability {
	return []Capability{
		CapCool, CapDry, CapFan, CapTemperature, CapFanSpeed,
		CapSwingVertical, CapSwingVerticalSteps, CapSwingHorizontal, CapSwingHorizontalSteps,
		CapPresetEco, CapPresetBreeze, CapPresetPowerful, CapPresetSleep,
		CapPowerSensor, CapEnergySensor, CapOutdoorSensor, CapLED,
	}
}

// CapabilitySet is an unordered set of capabilities. It encodes to JSON as
// a sorted list.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// HasAny reports whether any of caps is in the set.
func (s CapabilitySet) HasAny(caps ...Capability) bool {
	for _, c := range caps {
		if s.Has(c) {
			return true
		}
	}
	return false
}

// Equal reports whether both sets hold exactly the same capabilities.
func (s CapabilitySet) Equal(o CapabilitySet) bool {
	if len(s) != len(o) {
		return false
	}
	for c := range s {
		if !o.Has(c) {
			return false
		}
	}
	return true
}

// List returns the capabilities sorted by name.
func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns an independent copy of the set.
func (s CapabilitySet) Clone() CapabilitySet {
	if s == nil {
		return nil
	}
	out := make(CapabilitySet, len(s))
	for c := range s {
		out[c] = struct{}{}
	}
	return out
}

// MarshalJSON encodes the set as a sorted list.
func (s CapabilitySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.List())
}

// UnmarshalJSON decodes a list of capabilities.
func (s *CapabilitySet) UnmarshalJSON(data []byte) error {
	var caps []Capability
	if err := json.Unmarshal(data, &caps); err != nil {
		return err
	}
	*s = NewCapabilitySet(caps...)
	return nil
}

// Attribute names one published piece of device state. It is also the
// MQTT topic segment.
type Attribute string

// Attributes published per device.
const (
	AttrMode                Attribute = "mode"
	AttrTemperature         Attribute = "temperature"
	AttrCurrentTemperature  Attribute = "current_temperature"
	AttrFanMode             Attribute = "fan_mode"
	AttrSwingMode           Attribute = "swing_mode"
	AttrSwingHorizontalMode Attribute = "swing_horizontal_mode"
	AttrPresetMode          Attribute = "preset_mode"
	AttrPower               Attribute = "power"
	AttrEnergy              Attribute = "energy"
	AttrOutdoorTemperature  Attribute = "outdoor_temperature"
	AttrStatusLED           Attribute = "status_led"
	AttrAvailability        Attribute = "availability"
)

// AllAttributes returns every attribute in declaration order.
func AllAttributes() []Attribute {
	return []Attribute{
		AttrMode, AttrTemperature, AttrCurrentTemperature, AttrFanMode,
		AttrSwingMode, AttrSwingHorizontalMode, AttrPresetMode,
		AttrPower, AttrEnergy, AttrOutdoorTemperature, AttrStatusLED, AttrAvailability,
	}
}

// Enumerated attribute values as published to Home Assistant.
const (
	ModeOff     = "off"
	ModeCool    = "cool"
	ModeDry     = "dry"
	ModeFanOnly = "fan_only"

	FanAuto   = "auto"
	FanLow    = "low"
	FanMedium = "medium"
	FanHigh   = "high"

	SwingOff  = "Off"
	SwingAuto = "Auto"

	PresetNone    = "none"
	PresetEco     = "eco"
	PresetComfort = "comfort"
	PresetBoost   = "boost"
	PresetSleep   = "sleep"

	AvailabilityOnline  = "online"
	AvailabilityOffline = "offline"
)

// Temperature setpoint limits in °C.
const (
	MinTemperature  = 16
	MaxTemperature  = 31
	TemperatureStep = 1
)

// SwingSteps is the number of fixed louvre positions.
const SwingSteps = 5

// SwingStep returns the name of louvre position n (1-based), e.g. "Step_3".
func SwingStep(n int) string {
	return "Step_" + strconv.Itoa(n)
}

// State is the projected state of one device. Values are string for enums,
// float64 for numbers and bool for status_led.
type State map[Attribute]any

// Clone returns a shallow copy; values are immutable scalars.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Presence is a step of the per-device presence state machine.
type Presence string

// Presence states. Purged devices are removed from the registry, so
// PresencePurged only appears in events.
const (
	PresenceActive  Presence = "active"
	PresenceMissing Presence = "missing"
	PresencePurged  Presence = "purged"
)

// Snapshot is a deep copy of one registry entry.
type Snapshot struct {
	Device     Device    `json:"device"`
	State      State     `json:"state"`
	Presence   Presence  `json:"presence"`
	Misses     int       `json:"misses"`
	Discovered bool      `json:"discovered"`
	LastSeen   time.Time `json:"last_seen,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}
