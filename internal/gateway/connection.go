package gateway

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gobwas/ws"

	"github.com/adred-codev/ws_gateway/internal/auth"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
	ErrPongTimeout      = errors.New("pong not received in time")
)

const inboxSize = 32

// frame is one queued write. Only the write pump touches the socket, so
// data and control frames share one queue and keep their order.
type frame struct {
	op      ws.OpCode
	payload []byte
}

// Connection is one accepted WebSocket client.
type Connection struct {
	id          string
	clientIP    string
	headers     http.Header
	connectedAt time.Time

	conn   net.Conn
	reader *bufio.Reader // handshake leftovers, then the socket

	send      chan frame
	pong      chan struct{}
	writeDone chan struct{}

	// inbox hands complete data messages to the message pump so the read
	// pump keeps draining control frames while a message is processed.
	inbox       chan []byte
	messageDone chan struct{}

	// ctx is cancelled on terminate; in-flight auth callbacks observe it.
	ctx    context.Context
	cancel context.CancelFunc

	closing   atomic.Bool // close frame queued, no further sends
	forced    atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once

	mu          sync.Mutex
	session     string
	closeReason string
	closeBy     string

	auth auth.State
}

func newConnection(id string, conn net.Conn, reader *bufio.Reader, clientIP string, headers http.Header, sendBuffer int) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	if reader == nil {
		reader = bufio.NewReader(conn)
	}
	return &Connection{
		id:          id,
		clientIP:    clientIP,
		headers:     headers,
		connectedAt: time.Now(),
		conn:        conn,
		reader:      reader,
		send:        make(chan frame, sendBuffer),
		pong:        make(chan struct{}, 1),
		writeDone:   make(chan struct{}),
		inbox:       make(chan []byte, inboxSize),
		messageDone: make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (c *Connection) ID() string       { return c.id }
func (c *Connection) ClientIP() string { return c.clientIP }

// Alive is false once the connection has been terminated.
func (c *Connection) Alive() bool { return !c.closed.Load() }

// Session returns the bound session id, "" if none yet.
func (c *Connection) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// bindSession binds s the first time and reports a conflict when a
// different session is announced later.
func (c *Connection) bindSession(s string) (conflict bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == "" {
		c.session = s
		return false
	}
	return c.session != s
}

// markClosing records why the connection is going away; the first caller wins.
func (c *Connection) markClosing(reason, initiatedBy string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeReason == "" {
		c.closeReason = reason
		c.closeBy = initiatedBy
	}
}

func (c *Connection) closeCause() (reason, initiatedBy string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeReason == "" {
		return disconnectClientClosed, initiatedByClient
	}
	return c.closeReason, c.closeBy
}

// enqueue queues a data or control frame without blocking.
func (c *Connection) enqueue(op ws.OpCode, payload []byte) error {
	if c.closing.Load() || c.closed.Load() {
		return ErrConnectionClosed
	}
	return c.push(frame{op: op, payload: payload})
}

func (c *Connection) push(f frame) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- f:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// closeWith queues a close frame; the write pump terminates the socket once
// it is flushed. Reports false if the connection was already closing.
func (c *Connection) closeWith(code ws.StatusCode, reason string, grace time.Duration) bool {
	if !c.closing.CompareAndSwap(false, true) {
		return false
	}
	if err := c.push(frame{op: ws.OpClose, payload: closeBody(code, reason)}); err != nil {
		c.terminate()
		return true
	}
	time.AfterFunc(grace, c.terminate)
	return true
}

// terminate drops the socket immediately.
func (c *Connection) terminate() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closing.Store(true)
		c.cancel()
		c.conn.Close()
	})
}

// notePong records a pong without blocking.
func (c *Connection) notePong() {
	select {
	case c.pong <- struct{}{}:
	default:
	}
}

// Ping sends a ping and waits for the pong until ctx is done.
func (c *Connection) Ping(ctx context.Context) error {
	select {
	case <-c.pong:
	default:
	}
	if err := c.enqueue(ws.OpPing, nil); err != nil {
		return err
	}
	select {
	case <-c.pong:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	case <-ctx.Done():
		return ErrPongTimeout
	}
}

// close reasons are capped at 123 bytes by RFC 6455.
func closeBody(code ws.StatusCode, reason string) []byte {
	for len(reason) > 123 {
		_, size := utf8.DecodeLastRuneInString(reason)
		reason = reason[:len(reason)-size]
	}
	return ws.NewCloseFrameBody(code, reason)
}
