package gateway

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adred-codev/ws_gateway/internal/auth"
	"github.com/adred-codev/ws_gateway/internal/monitoring"
)

// runReaper pings every connection once per interval.
func (s *Server) runReaper() {
	defer s.wg.Done()
	defer monitoring.RecoverPanic(s.logger, "reaper", nil)

	ticker := time.NewTicker(s.config.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.reap(s.ctx)
		}
	}
}

// reap checks a snapshot of the registry in parallel and returns when every
// check has finished.
func (s *Server) reap(ctx context.Context) {
	start := time.Now()
	conns := s.clients.Snapshot()

	var g errgroup.Group
	if s.config.ReaperConcurrency > 0 {
		g.SetLimit(s.config.ReaperConcurrency)
	}
	for _, c := range conns {
		c := c
		g.Go(func() error {
			s.checkConnection(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	took := time.Since(start)
	monitoring.RecordReaperTick(took)
	s.logger.Debug().
		Int("checked", len(conns)).
		Dur("took", took).
		Msg("Reaper tick")
}

// checkConnection pings c. A connection that does not answer is terminated
// silently; one that does is checked in and, if it holds a credential,
// re-validated without risk of disconnection.
func (s *Server) checkConnection(ctx context.Context, c *Connection) {
	defer monitoring.RecoverPanic(s.logger, "checkConnection", map[string]any{"connection_id": c.id})

	if !c.Alive() || c.closing.Load() {
		return
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.config.PongTimeout)
	err := c.Ping(pingCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			// shutting down
			return
		}
		s.logger.Info().
			Err(err).
			Str("connection_id", c.id).
			Str("client_ip", c.clientIP).
			Msg("Ping failed, terminating connection")
		s.stats.PingFailures.Add(1)
		monitoring.RecordPingFailure()
		s.clients.Remove(c.id)
		c.markClosing(disconnectPingTimeout, initiatedByServer)
		c.terminate()
		return
	}

	s.emitCheckin(c)

	out := s.auth.Evaluate(c.ctx, &c.auth, auth.Attempt{
		Request: s.authRequest(c),
		Trigger: auth.TriggerHealthCheck,
	}, c.Alive)
	s.applyAuth(c, out)
}
