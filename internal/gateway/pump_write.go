package gateway

import (
	"bufio"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/adred-codev/ws_gateway/internal/monitoring"
)

// writePump is the only goroutine that writes to the socket. It batches
// whatever is queued into one flush and stops after writing a close frame.
// The socket stays open after that so the read pump can wait for the peer's
// close reply; the grace timer set by closeWith bounds the wait.
func (s *Server) writePump(c *Connection) {
	defer s.wg.Done()
	defer close(c.writeDone)
	closeSent := false
	defer func() {
		if !closeSent {
			c.terminate()
		}
	}()
	defer monitoring.RecoverPanic(s.logger, "writePump", map[string]any{"connection_id": c.id})

	writer := bufio.NewWriter(c.conn)

	for {
		select {
		case <-c.ctx.Done():
			return

		case f := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))

			last, err := s.writeFrame(writer, f)
			for n := len(c.send); err == nil && !last && n > 0; n-- {
				last, err = s.writeFrame(writer, <-c.send)
			}
			if err == nil {
				err = writer.Flush()
			}
			if err != nil {
				c.markClosing(disconnectWriteError, initiatedByServer)
				s.logger.Debug().Err(err).Str("connection_id", c.id).Msg("Failed to write frame")
				return
			}
			if last {
				closeSent = true
				return
			}
		}
	}
}

// writeFrame reports last=true once a close frame has been written.
func (s *Server) writeFrame(w *bufio.Writer, f frame) (last bool, err error) {
	if err := wsutil.WriteServerMessage(w, f.op, f.payload); err != nil {
		return false, err
	}
	if f.op == ws.OpText {
		s.stats.MessagesSent.Add(1)
		s.stats.BytesSent.Add(int64(len(f.payload)))
		monitoring.RecordSent(len(f.payload))
	}
	return f.op == ws.OpClose, nil
}
