package device

import (
	"context"
	"time"
)

// State history source values.
const (
	StateHistorySourceRefresh = "refresh"
	StateHistorySourceCommand = "command"
)

// StateHistoryEntry is one recorded state snapshot of a device.
type StateHistoryEntry struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	State     State     `json:"state"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// StateHistoryRepository stores and retrieves device state history.
//
// Implementations must be safe for concurrent use and store UTC timestamps.
type StateHistoryRepository interface {
	// RecordStateChange stores a full state snapshot for the device.
	RecordStateChange(ctx context.Context, deviceID string, state State, source string) error

	// GetHistory returns up to limit entries, newest first.
	GetHistory(ctx context.Context, deviceID string, limit int) ([]StateHistoryEntry, error)

	// PruneHistory deletes entries older than the given age and returns
	// the number removed.
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}
