package hass

// Availability is one entry of an entity's availability list.
type Availability struct {
	Topic string `json:"topic"`
}

// DeviceInfo groups entities under one Home Assistant device.
type DeviceInfo struct {
	Identifiers  []string    `json:"identifiers"`
	Manufacturer string      `json:"manufacturer,omitempty"`
	Model        string      `json:"model,omitempty"`
	Name         string      `json:"name,omitempty"`
	SWVersion    string      `json:"sw_version,omitempty"`
	Connections  [][2]string `json:"connections,omitempty"`
}

// Climate is the discovery payload of the climate entity. Feature groups the
// unit lacks are left empty and omitted.
type Climate struct {
	// Name is always null so the entity takes the device name.
	Name     *string `json:"name"`
	ObjectID string  `json:"object_id"`
	UniqueID string  `json:"unique_id"`

	Modes            []string `json:"modes,omitempty"`
	ModeCommandTopic string   `json:"mode_command_topic,omitempty"`
	ModeStateTopic   string   `json:"mode_state_topic,omitempty"`

	TemperatureCommandTopic string `json:"temperature_command_topic,omitempty"`
	TemperatureStateTopic   string `json:"temperature_state_topic,omitempty"`
	CurrentTemperatureTopic string `json:"current_temperature_topic,omitempty"`

	FanModes            []string `json:"fan_modes,omitempty"`
	FanModeCommandTopic string   `json:"fan_mode_command_topic,omitempty"`
	FanModeStateTopic   string   `json:"fan_mode_state_topic,omitempty"`

	SwingModes            []string `json:"swing_modes,omitempty"`
	SwingModeCommandTopic string   `json:"swing_mode_command_topic,omitempty"`
	SwingModeStateTopic   string   `json:"swing_mode_state_topic,omitempty"`

	SwingHorizontalModes            []string `json:"swing_horizontal_modes,omitempty"`
	SwingHorizontalModeCommandTopic string   `json:"swing_horizontal_mode_command_topic,omitempty"`
	SwingHorizontalModeStateTopic   string   `json:"swing_horizontal_mode_state_topic,omitempty"`

	PresetModes            []string `json:"preset_modes,omitempty"`
	PresetModeCommandTopic string   `json:"preset_mode_command_topic,omitempty"`
	PresetModeStateTopic   string   `json:"preset_mode_state_topic,omitempty"`

	TempStep  float64 `json:"temp_step,omitempty"`
	MinTemp   float64 `json:"min_temp,omitempty"`
	MaxTemp   float64 `json:"max_temp,omitempty"`
	Precision float64 `json:"precision,omitempty"`
	TempUnit  string  `json:"temperature_unit,omitempty"`

	Icon             string         `json:"icon,omitempty"`
	QoS              byte           `json:"qos"`
	Retain           bool           `json:"retain"`
	AvailabilityMode string         `json:"availability_mode"`
	Availability     []Availability `json:"availability"`
	Device           DeviceInfo     `json:"device"`
}

// Sensor is the discovery payload of a read-only sensor entity.
type Sensor struct {
	Name              string         `json:"name"`
	UniqueID          string         `json:"unique_id"`
	StateTopic        string         `json:"state_topic"`
	StateClass        string         `json:"state_class"`
	UnitOfMeasurement string         `json:"unit_of_measurement"`
	DeviceClass       string         `json:"device_class"`
	QoS               byte           `json:"qos"`
	AvailabilityMode  string         `json:"availability_mode"`
	Availability      []Availability `json:"availability"`
	Device            DeviceInfo     `json:"device"`
}

// Light is the discovery payload of the status LED.
type Light struct {
	Name             string         `json:"name"`
	UniqueID         string         `json:"unique_id"`
	CommandTopic     string         `json:"command_topic"`
	StateTopic       string         `json:"state_topic"`
	PayloadOn        string         `json:"payload_on"`
	PayloadOff       string         `json:"payload_off"`
	EntityCategory   string         `json:"entity_category"`
	Icon             string         `json:"icon"`
	QoS              byte           `json:"qos"`
	Retain           bool           `json:"retain"`
	AvailabilityMode string         `json:"availability_mode"`
	Availability     []Availability `json:"availability"`
	Device           DeviceInfo     `json:"device"`
}
