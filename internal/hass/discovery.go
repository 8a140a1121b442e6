package hass

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/godaikin-mqtt/internal/device"
	"github.com/nerrad567/godaikin-mqtt/internal/infrastructure/mqtt"
)

// Discovery components.
const (
	ComponentClimate = "climate"
	ComponentSensor  = "sensor"
	ComponentLight   = "light"
)

const (
	availabilityModeAll = "all"
	statusLEDObject     = "status_led"
)

// sensorSpec describes one sensor entity.
type sensorSpec struct {
	object      string
	name        string
	attribute   device.Attribute
	capability  device.Capability
	unit        string
	deviceClass string
	stateClass  string
}

// sensors lists every sensor a unit can expose, in publish order.
var sensors = []sensorSpec{
	{"power", "Power", device.AttrPower, device.CapPowerSensor, "W", "power", "measurement"},
	{"indoor_temperature", "Indoor temperature", device.AttrCurrentTemperature, device.CapTemperature, "°C", "temperature", "measurement"},
	{"outdoor_temperature", "Outdoor temperature", device.AttrOutdoorTemperature, device.CapOutdoorSensor, "°C", "temperature", "measurement"},
	{"energy", "Energy", device.AttrEnergy, device.CapEnergySensor, "kWh", "energy", "total_increasing"},
}

// Record is one discovery message: a retained config topic and its JSON.
type Record struct {
	Topic   string
	Payload []byte
}

// Builder produces discovery records for the bridge's topic layout.
type Builder struct {
	topics mqtt.Topics
	qos    byte
}

// NewBuilder returns a builder that points entities at topics. qos is the
// level Home Assistant uses for commands and state subscriptions.
func NewBuilder(topics mqtt.Topics, qos byte) Builder {
	return Builder{topics: topics, qos: qos}
}

// Records returns every discovery record for dev, climate first.
func (b Builder) Records(dev device.Device) ([]Record, error) {
	var records []Record

	add := func(topic string, payload any) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding discovery for %s: %w", topic, err)
		}
		records = append(records, Record{Topic: topic, Payload: data})
		return nil
	}

	if climate, ok := b.Climate(dev); ok {
		if err := add(b.topics.Discovery(ComponentClimate, dev.ID), climate); err != nil {
			return nil, err
		}
	}
	for _, spec := range sensors {
		sensor, ok := b.Sensor(dev, spec.object)
		if !ok {
			continue
		}
		if err := add(b.topics.DiscoveryObject(ComponentSensor, dev.ID, spec.object), sensor); err != nil {
			return nil, err
		}
	}
	if light, ok := b.Light(dev); ok {
		if err := add(b.topics.DiscoveryObject(ComponentLight, dev.ID, statusLEDObject), light); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// CandidateTopics returns every discovery topic a unit with this ID could
// own, whatever its capabilities. Retraction clears all of them.
func (b Builder) CandidateTopics(deviceID string) []string {
	topics := []string{b.topics.Discovery(ComponentClimate, deviceID)}
	for _, spec := range sensors {
		topics = append(topics, b.topics.DiscoveryObject(ComponentSensor, deviceID, spec.object))
	}
	return append(topics, b.topics.DiscoveryObject(ComponentLight, deviceID, statusLEDObject))
}

// Climate builds the climate payload. ok is false when the unit supports
// no climate feature at all.
func (b Builder) Climate(dev device.Device) (Climate, bool) {
	supports := func(attr device.Attribute) bool { return device.Supports(dev, attr) }
	if !supports(device.AttrMode) && !supports(device.AttrTemperature) {
		return Climate{}, false
	}

	id := dev.ID
	cmd := func(attr device.Attribute) string { return b.topics.Command(id, string(attr)) }
	state := func(attr device.Attribute) string { return b.topics.State(id, string(attr)) }

	c := Climate{
		ObjectID:         dev.ObjectID,
		UniqueID:         id,
		Icon:             "mdi:air-conditioner",
		QoS:              b.qos,
		AvailabilityMode: availabilityModeAll,
		Availability:     b.availability(id),
		Device: DeviceInfo{
			Identifiers:  []string{id},
			Manufacturer: dev.Manufacturer,
			Model:        dev.Model,
			Name:         dev.Name,
			SWVersion:    dev.Firmware,
			Connections:  [][2]string{{"mac", dev.MAC}},
		},
	}

	if supports(device.AttrMode) {
		c.Modes = device.Options(dev, device.AttrMode)
		c.ModeCommandTopic = cmd(device.AttrMode)
		c.ModeStateTopic = state(device.AttrMode)
	}
	if supports(device.AttrTemperature) {
		c.TemperatureCommandTopic = cmd(device.AttrTemperature)
		c.TemperatureStateTopic = state(device.AttrTemperature)
		c.CurrentTemperatureTopic = state(device.AttrCurrentTemperature)
		c.TempStep = device.TemperatureStep
		c.MinTemp = device.MinTemperature
		c.MaxTemp = device.MaxTemperature
		c.Precision = device.TemperatureStep
		c.TempUnit = "C"
	}
	if supports(device.AttrFanMode) {
		c.FanModes = device.Options(dev, device.AttrFanMode)
		c.FanModeCommandTopic = cmd(device.AttrFanMode)
		c.FanModeStateTopic = state(device.AttrFanMode)
	}
	if supports(device.AttrSwingMode) {
		c.SwingModes = device.Options(dev, device.AttrSwingMode)
		c.SwingModeCommandTopic = cmd(device.AttrSwingMode)
		c.SwingModeStateTopic = state(device.AttrSwingMode)
	}
	if supports(device.AttrSwingHorizontalMode) {
		c.SwingHorizontalModes = device.Options(dev, device.AttrSwingHorizontalMode)
		c.SwingHorizontalModeCommandTopic = cmd(device.AttrSwingHorizontalMode)
		c.SwingHorizontalModeStateTopic = state(device.AttrSwingHorizontalMode)
	}
	if supports(device.AttrPresetMode) {
		// Home Assistant reserves "none" for the cleared preset.
		for _, p := range device.Options(dev, device.AttrPresetMode) {
			if p != device.PresetNone {
				c.PresetModes = append(c.PresetModes, p)
			}
		}
		c.PresetModeCommandTopic = cmd(device.AttrPresetMode)
		c.PresetModeStateTopic = state(device.AttrPresetMode)
	}

	return c, true
}

// Sensor builds the payload of the named sensor object. ok is false when
// the object is unknown or the unit lacks the capability.
func (b Builder) Sensor(dev device.Device, object string) (Sensor, bool) {
	for _, spec := range sensors {
		if spec.object != object {
			continue
		}
		if !dev.Capabilities.Has(spec.capability) {
			return Sensor{}, false
		}
		return Sensor{
			Name:              spec.name,
			UniqueID:          dev.ID + "_" + spec.object,
			StateTopic:        b.topics.State(dev.ID, string(spec.attribute)),
			StateClass:        spec.stateClass,
			UnitOfMeasurement: spec.unit,
			DeviceClass:       spec.deviceClass,
			QoS:               b.qos,
			AvailabilityMode:  availabilityModeAll,
			Availability:      b.availability(dev.ID),
			Device:            DeviceInfo{Identifiers: []string{dev.ID}},
		}, true
	}
	return Sensor{}, false
}

// Light builds the status LED payload. ok is false without the led
// capability.
func (b Builder) Light(dev device.Device) (Light, bool) {
	if !dev.Capabilities.Has(device.CapLED) {
		return Light{}, false
	}
	attr := string(device.AttrStatusLED)
	return Light{
		Name:             "Status LED",
		UniqueID:         dev.ID + "_" + statusLEDObject,
		CommandTopic:     b.topics.Command(dev.ID, attr),
		StateTopic:       b.topics.State(dev.ID, attr),
		PayloadOn:        "ON",
		PayloadOff:       "OFF",
		EntityCategory:   "config",
		Icon:             "mdi:lightning-bolt-circle",
		QoS:              b.qos,
		AvailabilityMode: availabilityModeAll,
		Availability:     b.availability(dev.ID),
		Device:           DeviceInfo{Identifiers: []string{dev.ID}},
	}, true
}

func (b Builder) availability(deviceID string) []Availability {
	return []Availability{
		{Topic: b.topics.BridgeAvailability()},
		{Topic: b.topics.DeviceAvailability(deviceID)},
	}
}
