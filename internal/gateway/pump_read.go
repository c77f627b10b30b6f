package gateway

import (
	"errors"
	"io"
	"net"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/adred-codev/ws_gateway/internal/monitoring"
)

var errPeerClosed = errors.New("peer sent close")

// readPump reads frames until the socket fails or the peer answers our close.
// Complete data messages go to the message pump; control frames are handled
// here so pongs are seen while a message is still being processed. Once the
// connection is closing, data is discarded until the close handshake ends.
// It owns the connection's teardown.
func (s *Server) readPump(c *Connection) {
	defer s.wg.Done()
	defer s.teardown(c)
	defer func() {
		close(c.inbox)
		<-c.messageDone
	}()
	defer monitoring.RecoverPanic(s.logger, "readPump", map[string]any{"connection_id": c.id})

	s.emitConnection(c)

	control := func(hdr ws.Header, r io.Reader) error {
		return s.handleControl(c, hdr, r)
	}
	rd := wsutil.Reader{
		Source:         c.reader,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		MaxFrameSize:   s.config.MaxMessageSize,
		OnIntermediate: control,
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			s.readFailed(c, err)
			return
		}

		if hdr.OpCode.IsControl() {
			if err := control(hdr, &rd); err != nil {
				return
			}
			continue
		}

		if c.closing.Load() {
			if _, err := io.Copy(io.Discard, &rd); err != nil {
				s.readFailed(c, err)
				return
			}
			continue
		}

		payload, err := s.readMessage(&rd)
		if errors.Is(err, errMessageTooLarge) {
			c.markClosing(disconnectTooLarge, initiatedByServer)
			c.closeWith(ws.StatusMessageTooBig, "message too large", s.config.WriteTimeout)
			if _, err := io.Copy(io.Discard, &rd); err != nil {
				s.readFailed(c, err)
				return
			}
			continue
		}
		if err != nil {
			s.readFailed(c, err)
			return
		}

		select {
		case c.inbox <- payload:
		case <-c.ctx.Done():
			return
		}
	}
}

var errMessageTooLarge = errors.New("message exceeds size limit")

// readMessage reads the rest of the current message, fragments included,
// up to MaxMessageSize bytes.
func (s *Server) readMessage(rd *wsutil.Reader) ([]byte, error) {
	limit := s.config.MaxMessageSize
	if limit <= 0 {
		return io.ReadAll(rd)
	}
	payload, err := io.ReadAll(io.LimitReader(rd, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(payload)) > limit {
		return nil, errMessageTooLarge
	}
	return payload, nil
}

// messagePump processes data messages one at a time, in arrival order.
func (s *Server) messagePump(c *Connection) {
	defer s.wg.Done()
	defer close(c.messageDone)

	for payload := range c.inbox {
		if c.closing.Load() {
			continue
		}
		s.processMessage(c, payload)
	}
}

func (s *Server) processMessage(c *Connection, payload []byte) {
	defer monitoring.RecoverPanic(s.logger, "messagePump", map[string]any{"connection_id": c.id})
	s.handleMessage(c, payload)
}

func (s *Server) readFailed(c *Connection, err error) {
	switch {
	case c.closing.Load():
		// we closed it
	case errors.Is(err, wsutil.ErrFrameTooLarge):
		c.markClosing(disconnectTooLarge, initiatedByServer)
		c.closeWith(ws.StatusMessageTooBig, "message too large", s.config.WriteTimeout)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		c.markClosing(disconnectClientClosed, initiatedByClient)
	default:
		c.markClosing(disconnectReadError, initiatedByClient)
		s.logger.Debug().Err(err).Str("connection_id", c.id).Msg("Read error")
	}
}

// handleControl answers pings, records pongs and echoes close frames. Control
// payloads are at most 125 bytes.
func (s *Server) handleControl(c *Connection, hdr ws.Header, r io.Reader) error {
	payload := make([]byte, hdr.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}

	switch hdr.OpCode {
	case ws.OpPing:
		if err := c.enqueue(ws.OpPong, payload); errors.Is(err, ErrSendBufferFull) {
			s.dropSlowClient(c)
			return err
		}
	case ws.OpPong:
		c.notePong()
	case ws.OpClose:
		code, _ := ws.ParseCloseFrameData(payload)
		if code.Empty() || code.IsProtocolReserved() {
			code = ws.StatusNormalClosure
		}
		c.markClosing(disconnectClientClosed, initiatedByClient)
		c.closeWith(code, "", s.config.WriteTimeout)
		return errPeerClosed
	}
	return nil
}
