package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemStatus is the /status snapshot.
type SystemStatus struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Broker        BrokerState    `json:"broker"`
	Listener      string         `json:"listener"`
	WebSocket     WSMetrics      `json:"websocket"`
	Runtime       RuntimeMetrics `json:"runtime"`
	Database      *DatabaseStats `json:"database,omitempty"`
}

// BrokerState reports the transport connection.
type BrokerState struct {
	Configured bool `json:"configured"`
	Connected  bool `json:"connected"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains live feed statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	DroppedEvents    uint64 `json:"dropped_events"`
}

// DatabaseStats contains database connection pool statistics.
type DatabaseStats struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleStatus returns a JSON snapshot of the process and its connections.
// Prometheus series are served separately on /metrics.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	st := SystemStatus{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Listener:      "disabled",
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / 1024 / 1024,
			NumGC:         mem.NumGC,
		},
	}

	if s.broker != nil {
		st.Broker = BrokerState{Configured: true, Connected: s.broker.IsConnected()}
	}
	if s.listener != nil {
		st.Listener = s.listener.State().String()
	}
	if s.hub != nil {
		st.WebSocket.ConnectedClients = s.hub.ClientCount()
		st.WebSocket.DroppedEvents = s.hub.Dropped()
	}
	if s.db != nil {
		stats := s.db.Stats()
		st.Database = &DatabaseStats{
			OpenConnections: stats.OpenConnections,
			InUse:           stats.InUse,
			Idle:            stats.Idle,
			WaitCount:       stats.WaitCount,
		}
	}

	status := http.StatusOK
	if st.Broker.Configured && !st.Broker.Connected {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, st)
}
