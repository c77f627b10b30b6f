package gateway

import (
	"encoding/json"
	"net/http"
	"time"
)

// handleHealth reports liveness plus a few counters. It answers 503 while
// shutting down so load balancers stop routing new clients here.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	status := "healthy"
	code := http.StatusOK
	if s.shuttingDown.Load() {
		status = "shutting_down"
		code = http.StatusServiceUnavailable
	} else if s.config.MaxConnections > 0 && s.clients.Len() >= s.config.MaxConnections {
		status = "degraded"
	}

	resp := map[string]any{
		"status":    status,
		"server_id": s.router.ServerID(),
		"mode":      s.router.Mode(),
		"uptime":    time.Since(s.stats.StartTime).Round(time.Second).String(),
		"connections": map[string]any{
			"current": s.clients.Len(),
			"total":   s.stats.TotalConnections.Load(),
			"max":     s.config.MaxConnections,
		},
		"messages": map[string]any{
			"received":   s.stats.MessagesReceived.Load(),
			"sent":       s.stats.MessagesSent.Load(),
			"violations": s.stats.ProtocolViolations.Load(),
		},
		"disconnects": map[string]any{
			"forced":        s.stats.ForcedDisconnects.Load(),
			"ping_failures": s.stats.PingFailures.Load(),
		},
	}
	if s.system != nil {
		sys := s.system.Snapshot()
		resp["process"] = map[string]any{
			"cpu_percent": sys.CPUPercent,
			"memory_mb":   sys.MemoryMB,
			"goroutines":  sys.Goroutines,
		}
	}
	if s.connectionRateLimiter != nil {
		resp["rate_limiter"] = map[string]any{"tracked_ips": s.connectionRateLimiter.TrackedIPs()}
	}

	w.WriteHeader(code)
	if r.Method == http.MethodHead {
		return
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write health response")
	}
}
