package cloud

import "github.com/nerrad567/godaikin-mqtt/internal/device"

// Shadow is the subset of a unit's shadow document the bridge uses. Flags
// and codes are integers. Readings are decoded as floats so fractional
// values from newer firmware still parse.
type Shadow struct {
	// Bar_ flags disable a feature when set.
	BarCoolM int `json:"Bar_CoolM"`
	BarDryM  int `json:"Bar_DryM"`
	BarFanM  int `json:"Bar_FanM"`
	BarSwing int `json:"Bar_Swing"`

	// Ena_ flags enable a feature when set.
	EnaBreeze  int `json:"Ena_Breeze"`
	EnaEcoplus int `json:"Ena_Ecoplus"`
	EnaLEDOff  int `json:"Ena_LEDOff"`
	EnaLRStep  int `json:"Ena_LRStep"`
	EnaLRSwing int `json:"Ena_LRSwing"`
	EnaSilent  int `json:"Ena_Silent"`
	EnaTurbo   int `json:"Ena_Turbo"`
	EnaUDStep  int `json:"Ena_UDStep"`

	InfODPwrCon int `json:"Inf_ODPwrCon"`

	SetBreeze  int     `json:"Set_Breeze"`
	SetEcoplus int     `json:"Set_Ecoplus"`
	SetFan     int     `json:"Set_Fan"`
	SetLEDOff  int     `json:"Set_LEDOff"`
	SetLRLvr   int     `json:"Set_LRLvr"`
	SetMode    int     `json:"Set_Mode"`
	SetOnOff   int     `json:"Set_OnOff"`
	SetSleep   int     `json:"Set_Sleep"`
	SetSwing   int     `json:"Set_Swing"`
	SetTemp    float64 `json:"Set_Temp"`
	SetTurbo   int     `json:"Set_Turbo"`
	SetUDLvr   int     `json:"Set_UDLvr"`

	StaErrCode    int     `json:"Sta_ErrCode"`
	StaIDRh       float64 `json:"Sta_IDRh"`
	StaIDRoomTemp float64 `json:"Sta_IDRoomTemp"`
	StaODAirTemp  float64 `json:"Sta_ODAirTemp"`
	StaODPwrCon   float64 `json:"Sta_ODPwrCon"`

	EventType string `json:"eventType"`
	Key       string `json:"key"`
	ThingName string `json:"thingName"`
	UpdatedOn string `json:"updatedOn"`
	Version   string `json:"version"`
}

// Vendor enumeration codes.
var (
	modeCodes = map[string]int{
		device.ModeCool:    1,
		device.ModeFanOnly: 2,
		device.ModeDry:     4,
	}
	fanCodes = map[string]int{
		device.FanAuto:   128,
		device.FanLow:    2,
		device.FanMedium: 4,
		device.FanHigh:   8,
	}

	modeNames = invert(modeCodes)
	fanNames  = invert(fanCodes)
)

// swingAutoCode is the louvre code for continuous swing. Codes 1..SwingSteps
// are fixed positions and 0 is off.
const swingAutoCode = 15

func invert(m map[string]int) map[int]string {
	out := make(map[int]string, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

// Capabilities derives the unit's capability set from its flags.
func (s Shadow) Capabilities() device.CapabilitySet {
	caps := device.NewCapabilitySet(device.CapTemperature, device.CapFanSpeed, device.CapOutdoorSensor)

	flag := func(on bool, c device.Capability) {
		if on {
			caps[c] = struct{}{}
		}
	}
	flag(s.BarCoolM == 0, device.CapCool)
	flag(s.BarDryM == 0, device.CapDry)
	flag(s.BarFanM == 0, device.CapFan)
	flag(s.BarSwing == 0, device.CapSwingVertical)
	flag(s.BarSwing == 0 && s.EnaUDStep == 1, device.CapSwingVerticalSteps)
	flag(s.EnaLRSwing == 1, device.CapSwingHorizontal)
	flag(s.EnaLRSwing == 1 && s.EnaLRStep == 1, device.CapSwingHorizontalSteps)
	flag(s.EnaEcoplus == 1, device.CapPresetEco)
	flag(s.EnaBreeze == 1, device.CapPresetBreeze)
	flag(s.EnaTurbo == 1, device.CapPresetPowerful)
	flag(s.EnaSilent == 1, device.CapPresetSleep)
	flag(s.InfODPwrCon == 1, device.CapPowerSensor)
	flag(s.InfODPwrCon == 1, device.CapEnergySensor)
	flag(s.EnaLEDOff == 1, device.CapLED)
	return caps
}

// IsOn reports whether the unit is switched on.
func (s Shadow) IsOn() bool {
	return s.SetOnOff == 1
}

// PowerW is the outdoor unit draw in watts, or 0 when the unit is off.
func (s Shadow) PowerW() float64 {
	if !s.IsOn() || s.StaODPwrCon <= 0 {
		return 0
	}
	return s.StaODPwrCon
}

// State projects the shadow onto the attributes caps allows. Codes the
// bridge does not know are left out. Energy is not part of the shadow.
func (s Shadow) State(caps device.CapabilitySet) device.State {
	st := device.State{
		device.AttrTemperature:        s.SetTemp,
		device.AttrCurrentTemperature: s.StaIDRoomTemp,
		device.AttrOutdoorTemperature: s.StaODAirTemp,
		device.AttrPower:              s.PowerW(),
		device.AttrPresetMode:         s.preset(),
		device.AttrStatusLED:          s.SetLEDOff == 0,
		device.AttrAvailability:       device.AvailabilityOffline,
	}
	if s.EventType == "connected" {
		st[device.AttrAvailability] = device.AvailabilityOnline
	}

	if !s.IsOn() {
		st[device.AttrMode] = device.ModeOff
	} else if name, ok := modeNames[s.SetMode]; ok {
		st[device.AttrMode] = name
	}
	if name, ok := fanNames[s.SetFan]; ok {
		st[device.AttrFanMode] = name
	}
	if name, ok := swingName(s.SetUDLvr); ok {
		st[device.AttrSwingMode] = name
	}
	if name, ok := swingName(s.SetLRLvr); ok {
		st[device.AttrSwingHorizontalMode] = name
	}

	dev := device.Device{Capabilities: caps}
	for attr := range st {
		if !device.Supports(dev, attr) {
			delete(st, attr)
		}
	}
	return st
}

// preset applies the vendor priority Turbo > Breeze > Ecoplus > Sleep.
func (s Shadow) preset() string {
	switch {
	case s.SetTurbo == 1:
		return device.PresetBoost
	case s.SetBreeze == 1:
		return device.PresetComfort
	case s.SetEcoplus == 1:
		return device.PresetEco
	case s.SetSleep == 1:
		return device.PresetSleep
	default:
		return device.PresetNone
	}
}

func swingName(code int) (string, bool) {
	switch {
	case code == 0:
		return device.SwingOff, true
	case code == swingAutoCode:
		return device.SwingAuto, true
	case code >= 1 && code <= device.SwingSteps:
		return device.SwingStep(code), true
	default:
		return "", false
	}
}

func swingCode(name string) (int, bool) {
	switch name {
	case device.SwingOff:
		return 0, true
	case device.SwingAuto:
		return swingAutoCode, true
	}
	for i := 1; i <= device.SwingSteps; i++ {
		if name == device.SwingStep(i) {
			return i, true
		}
	}
	return 0, false
}
