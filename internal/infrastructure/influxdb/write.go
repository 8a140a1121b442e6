package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementClimate = "climate"
	MeasurementCommand = "command"
	MeasurementBridge  = "bridge_cycle"

	tagDevice    = "device_id"
	tagAttribute = "attribute"
	tagOutcome   = "outcome"
)

// ClimateSample is one projected reading of an air conditioner.
// Nil pointers are omitted from the point.
type ClimateSample struct {
	DeviceID           string
	Name               string
	Mode               string
	TargetTemperature  *float64
	CurrentTemperature *float64
	OutdoorTemperature *float64
	PowerKW            *float64
	EnergyKWh          *float64
	Online             bool
	Time               time.Time
}

// WriteClimate records a climate sample. Nothing is written when the
// sample has no numeric field.
func (c *Client) WriteClimate(s ClimateSample) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]any{}
	addFloat(fields, "target_temperature", s.TargetTemperature)
	addFloat(fields, "current_temperature", s.CurrentTemperature)
	addFloat(fields, "outdoor_temperature", s.OutdoorTemperature)
	addFloat(fields, "power_kw", s.PowerKW)
	addFloat(fields, "energy_kwh", s.EnergyKWh)
	if len(fields) == 0 {
		return
	}
	fields["online"] = s.Online

	tags := map[string]string{tagDevice: s.DeviceID}
	if s.Name != "" {
		tags["name"] = s.Name
	}
	if s.Mode != "" {
		tags["mode"] = s.Mode
	}

	ts := s.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	c.writeAPI.WritePoint(write.NewPoint(MeasurementClimate, tags, fields, ts))
}

// WriteCommand records the outcome of one command.
func (c *Client) WriteCommand(deviceID, attribute, outcome string, latency time.Duration) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementCommand,
		map[string]string{
			tagDevice:    deviceID,
			tagAttribute: attribute,
			tagOutcome:   outcome,
		},
		map[string]any{"latency_ms": latency.Milliseconds()},
		time.Now(),
	))
}

// WriteCycle records the summary of one refresh cycle.
func (c *Client) WriteCycle(devices, published int, duration time.Duration, failed bool) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementBridge,
		map[string]string{"status": cycleStatus(failed)},
		map[string]any{
			"devices":     devices,
			"published":   published,
			"duration_ms": duration.Milliseconds(),
		},
		time.Now(),
	))
}

func addFloat(fields map[string]any, key string, v *float64) {
	if v != nil {
		fields[key] = *v
	}
}

func cycleStatus(failed bool) string {
	if failed {
		return "failed"
	}
	return "ok"
}
