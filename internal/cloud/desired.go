package cloud

import (
	"fmt"
	"math"

	"github.com/nerrad567/godaikin-mqtt/internal/device"
)

// Desired is the "desired" section of a command: Set_ field to value.
type Desired map[string]int

// presetFields are the Set_ fields written for each preset. Selecting
// "none" clears every preset flag.
var presetFields = map[string]Desired{
	device.PresetNone: {
		"Set_Breeze":       0,
		"Set_Ecoplus":      0,
		"Set_Silent":       0,
		"Set_Sleep":        0,
		"Set_SmEcomax":     0,
		"Set_SmSleepplus":  0,
		"Set_SmPwrfulplus": 0,
		"Set_Turbo":        0,
	},
	device.PresetComfort: {"Set_Breeze": 1, "Set_LRLvr": 0, "Set_Swing": 0},
	device.PresetEco:     {"Set_Ecoplus": 1, "Set_SmEcomax": 0},
	device.PresetBoost:   {"Set_Silent": 0, "Set_Turbo": 1},
	device.PresetSleep:   {"Set_Sleep": 1, "Set_SmSleepplus": 0},
}

// DesiredFor maps a validated command value to the Set_ fields the vendor
// expects. Values are those returned by device.ParseCommand. Errors wrap
// device.ErrValidation.
func DesiredFor(attr device.Attribute, value any) (Desired, error) {
	switch attr {
	case device.AttrMode:
		mode, err := stringValue(attr, value)
		if err != nil {
			return nil, err
		}
		if mode == device.ModeOff {
			return Desired{"Set_OnOff": 0}, nil
		}
		code, ok := modeCodes[mode]
		if !ok {
			return nil, fmt.Errorf("%w: unknown mode %q", device.ErrValidation, mode)
		}
		return Desired{"Set_OnOff": 1, "Set_Mode": code}, nil

	case device.AttrTemperature:
		var t float64
		switch v := value.(type) {
		case float64:
			t = v
		case int:
			t = float64(v)
		default:
			return nil, fmt.Errorf("%w: temperature must be numeric, got %T", device.ErrValidation, value)
		}
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("%w: temperature %v", device.ErrValidation, t)
		}
		return Desired{"Set_Temp": int(math.Round(t))}, nil

	case device.AttrFanMode:
		fan, err := stringValue(attr, value)
		if err != nil {
			return nil, err
		}
		code, ok := fanCodes[fan]
		if !ok {
			return nil, fmt.Errorf("%w: unknown fan speed %q", device.ErrValidation, fan)
		}
		return Desired{"Set_Fan": code}, nil

	case device.AttrSwingMode:
		code, err := swingValue(attr, value)
		if err != nil {
			return nil, err
		}
		swing := 0
		if code == swingAutoCode {
			swing = 1
		}
		return Desired{"Set_Swing": swing, "Set_UDLvr": code}, nil

	case device.AttrSwingHorizontalMode:
		code, err := swingValue(attr, value)
		if err != nil {
			return nil, err
		}
		return Desired{"Set_LRLvr": code}, nil

	case device.AttrPresetMode:
		preset, err := stringValue(attr, value)
		if err != nil {
			return nil, err
		}
		fields, ok := presetFields[preset]
		if !ok {
			return nil, fmt.Errorf("%w: unknown preset %q", device.ErrValidation, preset)
		}
		out := make(Desired, len(fields))
		for k, v := range fields {
			out[k] = v
		}
		return out, nil

	case device.AttrStatusLED:
		on, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: status_led must be a switch value, got %T", device.ErrValidation, value)
		}
		if on {
			return Desired{"Set_LEDOff": 0, "Set_PwrInd": 1}, nil
		}
		return Desired{"Set_LEDOff": 1, "Set_PwrInd": 0}, nil

	default:
		return nil, fmt.Errorf("%w: %s", device.ErrReadOnlyAttribute, attr)
	}
}

func stringValue(attr device.Attribute, value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", device.ErrValidation, attr, value)
	}
	return s, nil
}

func swingValue(attr device.Attribute, value any) (int, error) {
	s, err := stringValue(attr, value)
	if err != nil {
		return 0, err
	}
	code, ok := swingCode(s)
	if !ok {
		return 0, fmt.Errorf("%w: unknown swing position %q", device.ErrValidation, s)
	}
	return code, nil
}
