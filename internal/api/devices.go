package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/godaikin-mqtt/internal/audit"
	"github.com/nerrad567/godaikin-mqtt/internal/device"
)

// maxQueryParamLen caps IDs and filter values taken from the URL.
const maxQueryParamLen = 128

// commandRequest is the body of POST /devices/{id}/commands. Value may be a
// JSON string, number or boolean; it is handled like an MQTT set payload.
type commandRequest struct {
	Attribute string          `json:"attribute"`
	Value     json.RawMessage `json:"value"`
}

// commandResponse acknowledges an accepted command.
type commandResponse struct {
	DeviceID   string           `json:"device_id"`
	Attribute  device.Attribute `json:"attribute"`
	Value      string           `json:"value"`
	Status     string           `json:"status"`
	DurationMS int64            `json:"duration_ms"`
}

// handleListDevices returns every known device.
//
// Query parameters:
//   - presence: filter by presence (active, missing)
//   - capability: filter by capability (cool, led, energy_sensor, ...)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	presence := device.Presence(q.Get("presence"))
	capability := device.Capability(q.Get("capability"))

	all := s.bridge.Registry().List()
	devices := make([]device.Snapshot, 0, len(all))
	for _, snap := range all {
		if presence != "" && snap.Presence != presence {
			continue
		}
		if capability != "" && !snap.Device.Capabilities.Has(capability) {
			continue
		}
		devices = append(devices, snap)
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device with its state.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, ok := s.bridge.Registry().Get(id)
	if !ok {
		writeNotFound(w, device.ErrDeviceNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleDeviceCommand sends one command through the bridge. The response is
// written once the vendor has acknowledged or refused it.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid device ID")
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Attribute == "" {
		writeBadRequest(w, "attribute is required")
		return
	}
	raw, err := rawCommandValue(req.Value)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	attr := device.Attribute(req.Attribute)
	start := time.Now()
	if err := s.bridge.OnCommandFrom(r.Context(), audit.SourceAPI, id, attr, raw); err != nil {
		s.logger.Debug("api command failed", "device_id", id, "attribute", attr, "error", err)
		writeCommandError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, commandResponse{
		DeviceID:   id,
		Attribute:  attr,
		Value:      raw,
		Status:     "acknowledged",
		DurationMS: time.Since(start).Milliseconds(),
	})
}

// rawCommandValue turns the JSON value into the text an MQTT client would
// publish: strings are unquoted, numbers and booleans keep their literal.
func rawCommandValue(v json.RawMessage) (string, error) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return "", errors.New("value is required")
	}

	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", errors.New("invalid value")
		}
		return s, nil
	case '{', '[':
		return "", errors.New("value must be a string, number or boolean")
	default:
		return string(v), nil
	}
}
