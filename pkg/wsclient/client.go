// Package wsclient is a reconnecting client for the gateway's JSON envelope
// protocol. It is used by the load and smoke tools and by integration tests.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/adred-codev/ws_gateway/internal/protocol"
)

const (
	writeWait = 10 * time.Second

	defaultMinBackoff = 500 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
)

var ErrNotConnected = errors.New("wsclient: not connected")

type Config struct {
	Endpoint string
	// Token is attached as "auth" to every frame when set.
	Token  string
	Header http.Header

	MinBackoff time.Duration
	MaxBackoff time.Duration

	Logger zerolog.Logger

	// OnMessage receives application frames.
	OnMessage func(action string, data json.RawMessage)
	// OnNotice receives {"action":"log"} notices from the gateway.
	OnNotice func(text string)
	// OnStatus is called on every connect and disconnect.
	OnStatus func(connected bool)
}

type Client struct {
	config Config
	dialer *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
}

func New(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("wsclient: endpoint is required")
	}
	if config.MinBackoff <= 0 {
		config.MinBackoff = defaultMinBackoff
	}
	if config.MaxBackoff < config.MinBackoff {
		config.MaxBackoff = defaultMaxBackoff
	}
	return &Client{
		config: config,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
	}, nil
}

// Connected reports whether a session is currently open.
func (c *Client) Connected() bool { return c.connected.Load() }

// Run keeps a session open until ctx is cancelled, redialling with
// exponential backoff and jitter.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.config.MinBackoff
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.config.Endpoint, c.config.Header)
		if err == nil {
			backoff = c.config.MinBackoff
			c.serve(ctx, conn)
		} else {
			c.config.Logger.Warn().Err(err).Str("endpoint", c.config.Endpoint).Msg("Dial failed")
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := backoff + time.Duration(rand.Int63n(int64(backoff)/2+1))
		c.config.Logger.Debug().Dur("wait", wait).Msg("Reconnecting")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > c.config.MaxBackoff {
			backoff = c.config.MaxBackoff
		}
	}
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setStatus(true)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			c.mu.Unlock()
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				c.config.Logger.Warn().Err(err).Msg("Session ended")
			}
			break
		}
		c.dispatch(raw)
	}

	close(done)
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	conn.Close()
	c.setStatus(false)
}

func (c *Client) dispatch(raw []byte) {
	var msg struct {
		Action string          `json:"action"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.config.Logger.Warn().Err(err).Msg("Dropping unparseable frame")
		return
	}
	if msg.Action == protocol.ActionLog {
		var text string
		if err := json.Unmarshal(msg.Data, &text); err == nil && c.config.OnNotice != nil {
			c.config.OnNotice(text)
			return
		}
	}
	if c.config.OnMessage != nil {
		c.config.OnMessage(msg.Action, msg.Data)
	}
}

func (c *Client) setStatus(connected bool) {
	c.connected.Store(connected)
	if c.config.OnStatus != nil {
		c.config.OnStatus(connected)
	}
}

// Send writes {"action": action, "data": data}. data must not be nil.
func (c *Client) Send(action string, data any) error {
	frame := map[string]any{"action": action, "data": data}
	if c.config.Token != "" {
		frame["auth"] = c.config.Token
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Ping announces session to the gateway.
func (c *Client) Ping(session string) error {
	return c.Send(protocol.ActionPing, map[string]any{
		"session": map[string]string{"session": session},
	})
}

// Log forwards text to the gateway's log event.
func (c *Client) Log(text string) error {
	return c.Send(protocol.ActionLog, text)
}

// Authenticate sends an auth-only frame carrying the configured token.
func (c *Client) Authenticate() error {
	if c.config.Token == "" {
		return fmt.Errorf("wsclient: no token configured")
	}
	return c.Send(protocol.ActionAuth, true)
}
