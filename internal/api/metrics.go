package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/godaikin-mqtt/internal/bridges/daikin"
	"github.com/nerrad567/godaikin-mqtt/internal/device"
)

// SystemMetrics is the JSON summary served at /api/v1/system. Prometheus
// scrapes /api/v1/metrics instead.
type SystemMetrics struct {
	Timestamp     string               `json:"timestamp"`
	Version       string               `json:"version"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	Runtime       RuntimeMetrics       `json:"runtime"`
	WebSocket     WSMetrics            `json:"websocket"`
	Bridge        daikin.BridgeMetrics `json:"bridge"`
	Devices       DeviceMetrics        `json:"devices"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	DroppedEvents    uint64 `json:"dropped_events"`
}

// DeviceMetrics counts registry entries.
type DeviceMetrics struct {
	Total        int            `json:"total"`
	ByPresence   map[string]int `json:"by_presence"`
	Undiscovered int            `json:"undiscovered"`
}

// handleSystem returns runtime, hub and registry statistics.
func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			DroppedEvents:    s.hub.Dropped(),
		},
		Bridge:  s.bridge.GetMetrics(),
		Devices: deviceMetrics(s.bridge.Registry().List()),
	}

	writeJSON(w, http.StatusOK, metrics)
}

func deviceMetrics(snaps []device.Snapshot) DeviceMetrics {
	m := DeviceMetrics{
		Total:      len(snaps),
		ByPresence: make(map[string]int),
	}
	for _, snap := range snaps {
		m.ByPresence[string(snap.Presence)]++
		if !snap.Discovered {
			m.Undiscovered++
		}
	}
	return m
}
