package daikin

import "time"

// Event types emitted to the EventSink.
const (
	EventStateChanged  = "device.state_changed"
	EventDeviceAdded   = "device.added"
	EventDeviceRemoved = "device.purged"
	EventCommand       = "command.result"
	EventCycle         = "cycle.completed"
)

// Event is a bridge notification for live subscribers such as the API
// websocket.
type Event struct {
	Type      string         `json:"type"`
	DeviceID  string         `json:"device_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventSink receives bridge events. Publish must not block.
type EventSink interface {
	Publish(e Event)
}

func (b *Bridge) emit(eventType, deviceID string, payload map[string]any) {
	if b.events == nil {
		return
	}
	b.events.Publish(Event{
		Type:      eventType,
		DeviceID:  deviceID,
		Payload:   payload,
		Timestamp: b.now().UTC(),
	})
}
