package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gobwas/ws"

	"github.com/adred-codev/ws_gateway/internal/bus"
	"github.com/adred-codev/ws_gateway/internal/monitoring"
)

// Disconnect categories used as metric labels.
const (
	disconnectClientClosed   = "client_closed"
	disconnectReadError      = "read_error"
	disconnectWriteError     = "write_error"
	disconnectTooLarge       = "message_too_large"
	disconnectViolation      = "protocol_violation"
	disconnectSessionChanged = "session_changed"
	disconnectAuthFailed     = "auth_failed"
	disconnectPingTimeout    = "ping_timeout"
	disconnectSlowClient     = "slow_client"
	disconnectCommand        = "command"
	disconnectShutdown       = "server_shutdown"

	initiatedByClient = "client"
	initiatedByServer = "server"
)

// forceDisconnect removes c, tells the bus why, and closes the socket with
// reason as the close text. Repeated calls are no-ops.
func (s *Server) forceDisconnect(c *Connection, reason, category string) {
	if !c.forced.CompareAndSwap(false, true) || c.closing.Load() {
		return
	}
	c.markClosing(category, initiatedByServer)
	s.clients.Remove(c.id)
	s.stats.ForcedDisconnects.Add(1)

	s.logger.Info().
		Str("connection_id", c.id).
		Str("client_ip", c.clientIP).
		Str("reason", reason).
		Msg("Force disconnecting client")

	s.emitConnectionEvent(bus.EventForcedDisconnect, s.events.OnForcedDisconnect, s.connectionEvent(c, reason))

	c.closeWith(ws.StatusPolicyViolation, reason, s.config.WriteTimeout)
}

// teardown runs once per connection when its read pump exits.
func (s *Server) teardown(c *Connection) {
	s.clients.Remove(c.id)
	s.emitConnectionEvent(bus.EventConnectionClose, s.events.OnConnectionClose, s.connectionEvent(c, ""))

	if c.closing.Load() {
		select {
		case <-c.writeDone:
		case <-time.After(s.config.WriteTimeout):
		}
	}
	c.terminate()
	s.releaseSlot()

	reason, by := c.closeCause()
	lifetime := time.Since(c.connectedAt)
	current := s.stats.CurrentConnections.Add(-1)
	monitoring.RecordDisconnect(reason, by, lifetime, int(current))

	s.logger.Info().
		Str("connection_id", c.id).
		Str("client_ip", c.clientIP).
		Str("reason", reason).
		Str("initiated_by", by).
		Dur("connection_duration", lifetime).
		Int64("current_connections", current).
		Msg("Client disconnected")
}

// connectionEvent snapshots c for the bus.
func (s *Server) connectionEvent(c *Connection, reason string) bus.ConnectionEvent {
	return bus.ConnectionEvent{
		ServerID:     s.router.ServerID(),
		ConnectionID: c.id,
		ClientIP:     c.clientIP,
		Token:        c.auth.Token(),
		Session:      bus.Optional(c.Session()),
		Headers:      c.headers,
		Reason:       reason,
	}
}

func (s *Server) emitConnection(c *Connection) {
	s.emitConnectionEvent(bus.EventConnection, s.events.OnConnection, s.connectionEvent(c, ""))
}

func (s *Server) emitReceive(c *Connection, action string, data json.RawMessage) {
	ev := bus.ReceiveEvent{
		ServerID:     s.router.ServerID(),
		ConnectionID: c.id,
		ClientIP:     c.clientIP,
		Token:        c.auth.Token(),
		Session:      bus.Optional(c.Session()),
		Action:       action,
		Data:         data,
	}
	s.emit(bus.EventReceive, c.id, func(ctx context.Context) error { return s.events.OnReceive(ctx, ev) })
}

func (s *Server) emitLog(c *Connection, text string) {
	ev := bus.LogEvent{
		ServerID:     s.router.ServerID(),
		ConnectionID: c.id,
		ClientIP:     c.clientIP,
		Token:        c.auth.Token(),
		Session:      bus.Optional(c.Session()),
		Text:         text,
	}
	s.emit(bus.EventLog, c.id, func(ctx context.Context) error { return s.events.OnLog(ctx, ev) })
}

func (s *Server) emitCheckin(c *Connection) {
	ev := bus.CheckinEvent{
		ServerID:     s.router.ServerID(),
		ConnectionID: c.id,
		Session:      bus.Optional(c.Session()),
		TokenData:    bus.Optional(c.auth.TokenData()),
	}
	s.emit(bus.EventConnectionCheckin, c.id, func(ctx context.Context) error { return s.events.OnConnectionCheckin(ctx, ev) })
}

func (s *Server) emitConnectionEvent(name string, fn func(context.Context, bus.ConnectionEvent) error, ev bus.ConnectionEvent) {
	s.emit(name, ev.ConnectionID, func(ctx context.Context) error { return fn(ctx, ev) })
}

// emit hands one notification to the bus. Failures and panics are logged and
// counted; they never reach the connection.
func (s *Server) emit(name, connectionID string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.EventTimeout)
	defer cancel()
	defer monitoring.RecoverPanic(s.logger, "emit:"+name, map[string]any{"connection_id": connectionID})

	if err := fn(ctx); err != nil {
		monitoring.RecordEvent(name, "error")
		s.logger.Warn().
			Err(err).
			Str("event", name).
			Str("connection_id", connectionID).
			Msg("Failed to deliver event")
		return
	}
	monitoring.RecordEvent(name, "ok")
}
