package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-integration/internal/bridge"
	"github.com/nerrad567/gray-logic-integration/internal/hub"
	"github.com/nerrad567/gray-logic-integration/internal/platform"
)

// Health statuses.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

// HealthResponse summarises whether every device is connected.
type HealthResponse struct {
	Status        string         `json:"status"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Devices       int            `json:"devices"`
	ByState       map[string]int `json:"by_state"`
}

// StatsResponse is the full counter dump served by /api/v1/stats.
type StatsResponse struct {
	Timestamp     string                  `json:"timestamp"`
	Version       string                  `json:"version"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Runtime       RuntimeMetrics          `json:"runtime"`
	WebSocket     WSMetrics               `json:"websocket"`
	Hub           hub.Stats               `json:"hub"`
	Republish     platform.RepublishStats `json:"republish"`
	Devices       []platform.DeviceStats  `json:"devices"`
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

// handleHealth reports "degraded" while any device's bridge is not
// connected. The status code stays 200 so probes only fail when the
// process itself is down.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	devices := s.platform.Devices()
	resp := HealthResponse{
		Status:        HealthOK,
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Devices:       len(devices),
		ByState:       make(map[string]int),
	}
	for _, d := range devices {
		resp.ByState[string(d.Binding.State)]++
		if d.Binding.State != bridge.StateConnected {
			resp.Status = HealthDegraded
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStats returns runtime, hub and per-device pipeline counters.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	writeJSON(w, http.StatusOK, StatsResponse{
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
			ConnectedClients: s.ws.ClientCount(),
			DroppedEvents:    s.ws.Dropped(),
		},
		Hub:       s.platform.Hub().Stats(),
		Republish: s.platform.RepublishStats(),
		Devices:   s.platform.Stats(),
	})
}
