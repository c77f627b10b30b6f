package gateway

import (
	"errors"

	"github.com/gobwas/ws"

	"github.com/adred-codev/ws_gateway/internal/auth"
	"github.com/adred-codev/ws_gateway/internal/bus"
	"github.com/adred-codev/ws_gateway/internal/monitoring"
	"github.com/adred-codev/ws_gateway/internal/protocol"
)

const (
	reasonSessionChanged = "Client session changed"
	reasonAuthFailed     = "Auth failed"
	reasonSlowClient     = "send buffer full"
)

// handleMessage processes one complete inbound data frame.
func (s *Server) handleMessage(c *Connection, raw []byte) {
	s.stats.MessagesReceived.Add(1)
	s.stats.BytesReceived.Add(int64(len(raw)))

	env, err := protocol.Decode(raw)
	if err != nil {
		monitoring.RecordReceived("violation", len(raw))
		s.stats.ProtocolViolations.Add(1)

		reason := protocol.ReasonGarbage
		var v *protocol.ViolationError
		if errors.As(err, &v) {
			reason = v.Reason
		}
		s.logger.Warn().
			Err(err).
			Str("connection_id", c.id).
			Str("client_ip", c.clientIP).
			Int("size", len(raw)).
			Msg("Protocol violation")
		s.forceDisconnect(c, reason, disconnectViolation)
		return
	}

	kind := env.Kind()
	monitoring.RecordReceived(kind.String(), len(raw))

	// Keepalive pings only bind the session; they never touch auth.
	if kind == protocol.KindPing {
		s.handlePing(c, env)
		return
	}

	cred, presented := env.Credential()
	out := s.auth.Evaluate(c.ctx, &c.auth, auth.Attempt{
		Request:      s.authRequest(c),
		Presented:    cred,
		HasPresented: presented,
		Trigger:      auth.TriggerMessage,
	}, c.Alive)
	if !s.applyAuth(c, out) {
		return
	}

	switch kind {
	case protocol.KindLog:
		s.emitLog(c, env.LogText())
		return
	case protocol.KindAuth:
		return
	}

	if s.config.ForceAuthenticate && !c.auth.Token().IsAuthenticated() {
		s.logger.Debug().
			Str("connection_id", c.id).
			Str("action", env.Action).
			Msg("Dropping message from unauthenticated connection")
		if s.config.NotifyClientOnNoAuth {
			s.notify(c, protocol.NoticeNotAuthenticated)
		}
		return
	}

	s.emitReceive(c, env.Action, env.Data)
}

func (s *Server) handlePing(c *Connection, env *protocol.Envelope) {
	session, ok := env.Session()
	if !ok {
		return
	}
	if c.bindSession(session) {
		s.logger.Warn().
			Str("connection_id", c.id).
			Str("bound_session", c.Session()).
			Str("announced_session", session).
			Msg("Client session changed")
		s.forceDisconnect(c, reasonSessionChanged, disconnectSessionChanged)
	}
}

func (s *Server) authRequest(c *Connection) auth.Request {
	return auth.Request{
		ServerID:     s.router.ServerID(),
		ConnectionID: c.id,
		Session:      c.Session(),
		ClientIP:     c.clientIP,
	}
}

// applyAuth performs the side effects of an evaluation. It reports whether
// the connection is still usable for the frame that triggered it.
func (s *Server) applyAuth(c *Connection, out auth.Outcome) bool {
	switch out.Result {
	case auth.ResultSkipped:
		return true

	case auth.ResultStale:
		return false

	case auth.ResultAuthenticated:
		if out.Changed {
			s.logger.Info().
				Str("connection_id", c.id).
				Str("subject", out.Token.Principal().Subject()).
				Msg("Connection authenticated")
			s.emitConnectionEvent(bus.EventConnectionAuthChanged, s.events.OnConnectionAuthChanged, s.connectionEvent(c, ""))
			s.notify(c, protocol.NoticeAuthenticated)
		}
		return true
	}

	// Rejected or failed.
	s.stats.AuthRejections.Add(1)
	if out.Err != nil {
		s.logger.Warn().Err(out.Err).Str("connection_id", c.id).Stringer("trigger", out.Trigger).Msg("Auth callback failed")
	} else {
		s.logger.Info().Str("connection_id", c.id).Stringer("trigger", out.Trigger).Msg("Credential rejected")
	}

	notice := protocol.NoticeUnauthenticated
	if out.Trigger == auth.TriggerMessage && out.Result == auth.ResultRejected {
		notice = protocol.NoticeAuthRejected
	}
	s.notify(c, notice)

	if out.Disconnect() {
		s.forceDisconnect(c, reasonAuthFailed, disconnectAuthFailed)
		return false
	}
	return true
}

// notify sends a log notice to the client.
func (s *Server) notify(c *Connection, text string) {
	s.deliver(c, protocol.LogFrame(text))
}

// deliver queues a text frame. A full queue means the client cannot keep up
// and it is dropped.
func (s *Server) deliver(c *Connection, payload []byte) error {
	err := c.enqueue(ws.OpText, payload)
	if errors.Is(err, ErrSendBufferFull) {
		s.dropSlowClient(c)
	}
	return err
}

func (s *Server) dropSlowClient(c *Connection) {
	s.logger.Warn().
		Str("connection_id", c.id).
		Int("send_buffer", cap(c.send)).
		Msg("Client too slow, disconnecting")
	s.clients.Remove(c.id)
	c.markClosing(disconnectSlowClient, initiatedByServer)
	c.terminate()
}
