package daikin

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// EnergyStore persists per-device energy totals so the energy sensor stays
// monotonic across restarts.
type EnergyStore interface {
	LoadEnergy(ctx context.Context) (map[string]float64, error)
	SaveEnergy(ctx context.Context, deviceID string, kwh float64) error
}

type energySample struct {
	at      time.Time
	powerKW float64
}

// EnergyMeter integrates outdoor-unit power into a kWh total per device.
//
// Each sample adds the current power times the time since the previous
// sample. The first sample of a device only starts the clock. A gap longer
// than maxGap restarts the clock without adding, so a long outage is not
// billed at the last known power. Totals never decrease.
type EnergyMeter struct {
	mu     sync.Mutex
	totals map[string]float64
	last   map[string]energySample
	maxGap time.Duration
}

// NewEnergyMeter creates a meter. A maxGap of zero disables the gap rule.
func NewEnergyMeter(maxGap time.Duration) *EnergyMeter {
	return &EnergyMeter{
		totals: make(map[string]float64),
		last:   make(map[string]energySample),
		maxGap: maxGap,
	}
}

// Restore seeds totals loaded from storage. A restored total never lowers
// a larger in-memory one.
func (m *EnergyMeter) Restore(totals map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, kwh := range totals {
		if kwh > m.totals[id] {
			m.totals[id] = kwh
		}
	}
}

// Add records a power sample in watts taken at the given time and returns
// the device's total in kWh.
func (m *EnergyMeter) Add(id string, powerW float64, at time.Time) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	kw := powerW / 1000
	if kw < 0 {
		kw = 0
	}

	prev, ok := m.last[id]
	if ok && at.After(prev.at) {
		elapsed := at.Sub(prev.at)
		if m.maxGap <= 0 || elapsed <= m.maxGap {
			m.totals[id] += kw * elapsed.Hours()
		}
	}
	if !ok || at.After(prev.at) {
		m.last[id] = energySample{at: at, powerKW: kw}
	}
	return m.totals[id]
}

// Total returns the device's current total in kWh.
func (m *EnergyMeter) Total(id string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals[id]
}

// Reset drops the sample clock of a device, keeping its total.
func (m *EnergyMeter) Reset(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.last, id)
}

// SQLiteEnergyStore implements EnergyStore on the energy_meters table.
type SQLiteEnergyStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteEnergyStore creates a store on an open database.
func NewSQLiteEnergyStore(db *sql.DB) *SQLiteEnergyStore {
	return &SQLiteEnergyStore{db: db, now: time.Now}
}

// LoadEnergy returns every stored total keyed by device ID.
func (s *SQLiteEnergyStore) LoadEnergy(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT device_id, energy_kwh FROM energy_meters")
	if err != nil {
		return nil, fmt.Errorf("querying energy meters: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]float64)
	for rows.Next() {
		var id string
		var kwh float64
		if err := rows.Scan(&id, &kwh); err != nil {
			return nil, fmt.Errorf("scanning energy meter: %w", err)
		}
		totals[id] = kwh
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating energy meters: %w", err)
	}
	return totals, nil
}

// SaveEnergy stores a device total. The stored value only ever grows.
func (s *SQLiteEnergyStore) SaveEnergy(ctx context.Context, deviceID string, kwh float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO energy_meters (device_id, energy_kwh, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(device_id) DO UPDATE SET
		   energy_kwh = MAX(energy_meters.energy_kwh, excluded.energy_kwh),
		   updated_at = excluded.updated_at`,
		deviceID, kwh, s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving energy for %s: %w", deviceID, err)
	}
	return nil
}
