package device

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// commandable lists the attributes Home Assistant may set.
var commandable = map[Attribute]bool{
	AttrMode:                true,
	AttrTemperature:         true,
	AttrFanMode:             true,
	AttrSwingMode:           true,
	AttrSwingHorizontalMode: true,
	AttrPresetMode:          true,
	AttrStatusLED:           true,
}

// Commandable reports whether attr accepts commands.
func Commandable(attr Attribute) bool {
	return commandable[attr]
}

// Supports reports whether the device's capability set allows attr.
func Supports(dev Device, attr Attribute) bool {
	caps := dev.Capabilities
	switch attr {
	case AttrMode:
		return caps.HasAny(CapCool, CapDry, CapFan)
	case AttrTemperature, AttrCurrentTemperature:
		return caps.Has(CapTemperature)
	case AttrFanMode:
		return caps.Has(CapFanSpeed)
	case AttrSwingMode:
		return caps.Has(CapSwingVertical)
	case AttrSwingHorizontalMode:
		return caps.Has(CapSwingHorizontal)
	case AttrPresetMode:
		return caps.HasAny(CapPresetEco, CapPresetBreeze, CapPresetPowerful, CapPresetSleep)
	case AttrPower:
		return caps.Has(CapPowerSensor)
	case AttrEnergy:
		return caps.Has(CapEnergySensor)
	case AttrOutdoorTemperature:
		return caps.Has(CapOutdoorSensor)
	case AttrStatusLED:
		return caps.Has(CapLED)
	case AttrAvailability:
		return true
	default:
		return false
	}
}

// SupportedAttributes returns the attributes the device publishes, in
// declaration order.
func SupportedAttributes(dev Device) []Attribute {
	var out []Attribute
	for _, attr := range AllAttributes() {
		if Supports(dev, attr) {
			out = append(out, attr)
		}
	}
	return out
}

// Options returns the enum vocabulary of attr for this device, or nil for
// non-enum attributes. Preset options include "none".
func Options(dev Device, attr Attribute) []string {
	caps := dev.Capabilities
	switch attr {
	case AttrMode:
		modes := []string{ModeOff}
		if caps.Has(CapCool) {
			modes = append(modes, ModeCool)
		}
		if caps.Has(CapDry) {
			modes = append(modes, ModeDry)
		}
		if caps.Has(CapFan) {
			modes = append(modes, ModeFanOnly)
		}
		return modes
	case AttrFanMode:
		return []string{FanAuto, FanLow, FanMedium, FanHigh}
	case AttrSwingMode:
		return swingOptions(caps.Has(CapSwingVerticalSteps))
	case AttrSwingHorizontalMode:
		return swingOptions(caps.Has(CapSwingHorizontalSteps))
	case AttrPresetMode:
		presets := []string{PresetNone}
		if caps.Has(CapPresetPowerful) {
			presets = append(presets, PresetBoost)
		}
		if caps.Has(CapPresetBreeze) {
			presets = append(presets, PresetComfort)
		}
		if caps.Has(CapPresetEco) {
			presets = append(presets, PresetEco)
		}
		if caps.Has(CapPresetSleep) {
			presets = append(presets, PresetSleep)
		}
		return presets
	case AttrAvailability:
		return []string{AvailabilityOnline, AvailabilityOffline}
	default:
		return nil
	}
}

func swingOptions(steps bool) []string {
	opts := []string{SwingOff, SwingAuto}
	if steps {
		for i := 1; i <= SwingSteps; i++ {
			opts = append(opts, SwingStep(i))
		}
	}
	return opts
}

// ParseCommand validates a raw MQTT command payload for dev and returns the
// typed value to send and store.
//
// Errors wrap ErrUnsupportedAttribute, ErrReadOnlyAttribute or ErrValidation.
func ParseCommand(dev Device, attr Attribute, raw string) (any, error) {
	if !Supports(dev, attr) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAttribute, attr)
	}
	if !Commandable(attr) {
		return nil, fmt.Errorf("%w: %s", ErrReadOnlyAttribute, attr)
	}

	value := strings.TrimSpace(raw)

	switch attr {
	case AttrTemperature:
		return parseTemperature(value)
	case AttrStatusLED:
		return parseSwitch(value)
	default:
		return parseEnum(value, Options(dev, attr), attr)
	}
}

func parseTemperature(value string) (float64, error) {
	t, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(t) || math.IsInf(t, 0) {
		return 0, fmt.Errorf("%w: temperature %q is not a number", ErrValidation, value)
	}
	if t < MinTemperature || t > MaxTemperature {
		return 0, fmt.Errorf("%w: temperature %v outside %d..%d", ErrValidation, t, MinTemperature, MaxTemperature)
	}
	if math.Mod(t, TemperatureStep) != 0 {
		return 0, fmt.Errorf("%w: temperature %v is not a multiple of %d", ErrValidation, t, TemperatureStep)
	}
	return t, nil
}

func parseSwitch(value string) (bool, error) {
	switch strings.ToUpper(value) {
	case "ON", "TRUE", "1":
		return true, nil
	case "OFF", "FALSE", "0":
		return false, nil
	default:
		return false, fmt.Errorf("%w: switch value %q", ErrValidation, value)
	}
}

// parseEnum matches case-insensitively and returns the canonical spelling.
func parseEnum(value string, options []string, attr Attribute) (string, error) {
	for _, opt := range options {
		if strings.EqualFold(value, opt) {
			return opt, nil
		}
	}
	return "", fmt.Errorf("%w: %s %q not in %v", ErrValidation, attr, value, options)
}

// FormatValue encodes a state value as its MQTT payload: enums verbatim,
// numbers without trailing zeros, status_led as ON/OFF. Energy is rounded
// to two decimals.
func FormatValue(attr Attribute, v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "ON"
		}
		return "OFF"
	case float64:
		if attr == AttrEnergy {
			val = RoundEnergy(val)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	default:
		return fmt.Sprint(val)
	}
}

// RoundEnergy rounds a kWh total to two decimal places.
func RoundEnergy(kwh float64) float64 {
	return math.Round(kwh*100) / 100
}
