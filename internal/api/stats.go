package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-tsdbsink/internal/ingest"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/sink"
)

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Sink          sink.Stats     `json:"sink"`
	Ingest        *ingest.Stats  `json:"ingest,omitempty"`
	DeadLetters   *int           `json:"dead_letters,omitempty"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int   `json:"connected_clients"`
	DroppedEvents    int64 `json:"dropped_events"`
}

// handleStats returns sink, ingest and runtime counters.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	resp := StatsResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Sink:          s.sink.Stats(),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			DroppedEvents:    s.hub.Dropped(),
		},
	}

	if s.ingest != nil {
		st := s.ingest.Stats()
		resp.Ingest = &st
	}

	if s.deadLetters != nil {
		n, err := s.deadLetters.Count(r.Context())
		if err != nil {
			s.logger.Warn("counting dead letters", "error", err)
		} else {
			resp.DeadLetters = &n
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
