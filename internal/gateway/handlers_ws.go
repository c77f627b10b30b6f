package gateway

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gobwas/ws"

	"github.com/adred-codev/ws_gateway/internal/monitoring"
	"github.com/adred-codev/ws_gateway/internal/protocol"
	"github.com/adred-codev/ws_gateway/internal/routing"
)

// WebSocket upgrade handler
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	clientIP := getClientIP(r)

	if s.shuttingDown.Load() {
		s.logger.Debug().Str("client_ip", clientIP).Msg("Connection rejected: server shutting down")
		monitoring.RecordRejected("shutting_down")
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	if s.connectionRateLimiter != nil {
		if ok, reason := s.connectionRateLimiter.Admit(clientIP); !ok {
			s.logger.Warn().
				Str("client_ip", clientIP).
				Str("reason", reason).
				Msg("Connection rejected: rate limit exceeded")
			monitoring.RecordRejected(reason)
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
	}

	if s.connectionsSem != nil {
		select {
		case s.connectionsSem <- struct{}{}:
		default:
			s.logger.Warn().
				Str("client_ip", clientIP).
				Int("max_connections", s.config.MaxConnections).
				Msg("Connection rejected: at capacity")
			monitoring.RecordRejected("capacity")
			http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
			return
		}
	}

	conn, rw, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.releaseSlot()
		monitoring.RecordRejected("upgrade_failed")
		s.logger.Warn().
			Err(err).
			Str("client_ip", clientIP).
			Str("user_agent", r.Header.Get("User-Agent")).
			Msg("WebSocket upgrade failed")
		return
	}

	c := newConnection(routing.NewIdentity(), conn, rw.Reader, clientIP, r.Header.Clone(), s.config.SendBufferSize)
	for !s.clients.Add(c.id, c) {
		c.id = routing.NewIdentity()
	}

	s.stats.TotalConnections.Add(1)
	current := s.stats.CurrentConnections.Add(1)
	monitoring.RecordConnect(int(current))

	// The greeting is queued before the pumps start so it is always the
	// first frame the client sees.
	_ = c.enqueue(ws.OpText, protocol.LogFrame(protocol.NoticeGreeting))

	s.logger.Info().
		Str("connection_id", c.id).
		Str("client_ip", clientIP).
		Int64("current_connections", current).
		Dur("setup_time", time.Since(startTime)).
		Msg("Client connected")

	s.wg.Add(3)
	go s.writePump(c)
	go s.messagePump(c)
	go s.readPump(c)
}

func (s *Server) releaseSlot() {
	if s.connectionsSem != nil {
		<-s.connectionsSem
	}
}

// clientIPHeaders are consulted in order before falling back to the peer
// address.
var clientIPHeaders = []string{
	"True-Client-IP",
	"CF-Connecting-IP",
	"X-Client-IP",
	"X-Forwarded-For",
}

// getClientIP resolves the client address from proxy headers, then the
// socket peer, then "private".
func getClientIP(r *http.Request) string {
	for _, h := range clientIPHeaders {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		// X-Forwarded-For lists the originating client first.
		if first, _, found := strings.Cut(v, ","); found {
			v = first
		}
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}

	if r.RemoteAddr == "" {
		return "private"
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
