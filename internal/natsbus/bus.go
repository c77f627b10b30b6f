package natsbus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/adred-codev/ws_gateway/internal/auth"
	"github.com/adred-codev/ws_gateway/internal/bus"
	"github.com/adred-codev/ws_gateway/internal/monitoring"
	"github.com/adred-codev/ws_gateway/internal/routing"
)

// HeaderError marks an auth reply as a failed check rather than a verdict.
const HeaderError = "Gateway-Error"

// Bus publishes gateway events as JSON on router subjects and serves the
// gateway's commands to remote collaborators.
type Bus struct {
	conn    *nats.Conn
	router  *routing.Router
	timeout time.Duration
	logger  zerolog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

var _ bus.Events = (*Bus)(nil)

func New(conn *nats.Conn, router *routing.Router, requestTimeout time.Duration, logger zerolog.Logger) *Bus {
	if requestTimeout <= 0 {
		requestTimeout = 5 * time.Second
	}
	return &Bus{
		conn:    conn,
		router:  router,
		timeout: requestTimeout,
		logger:  logger.With().Str("component", "natsbus").Logger(),
	}
}

// OnAuth asks whoever listens on the auth subject to judge the credential.
// The reply body is false/null (reject), true (accept, empty principal) or
// a principal object; a reply carrying HeaderError is a failed check.
func (b *Bus) OnAuth(ctx context.Context, req auth.Request) (auth.Principal, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	msg, err := b.conn.RequestWithContext(ctx, b.router.EventSubject(bus.EventAuth), data)
	if err != nil {
		return nil, fmt.Errorf("auth request: %w", err)
	}
	if msg.Header != nil {
		if e := msg.Header.Get(HeaderError); e != "" {
			return nil, fmt.Errorf("auth responder: %s", e)
		}
	}
	return parseAuthReply(msg.Data)
}

func parseAuthReply(data []byte) (auth.Principal, error) {
	switch string(bytes.TrimSpace(data)) {
	case "", "null", "false":
		return nil, nil
	case "true":
		return auth.Principal{}, nil
	}
	var p auth.Principal
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("auth reply is not a principal: %w", err)
	}
	return p, nil
}

func (b *Bus) OnConnection(ctx context.Context, ev bus.ConnectionEvent) error {
	return b.publish(bus.EventConnection, ev)
}

func (b *Bus) OnConnectionClose(ctx context.Context, ev bus.ConnectionEvent) error {
	return b.publish(bus.EventConnectionClose, ev)
}

func (b *Bus) OnConnectionAuthChanged(ctx context.Context, ev bus.ConnectionEvent) error {
	return b.publish(bus.EventConnectionAuthChanged, ev)
}

func (b *Bus) OnForcedDisconnect(ctx context.Context, ev bus.ConnectionEvent) error {
	return b.publish(bus.EventForcedDisconnect, ev)
}

func (b *Bus) OnConnectionCheckin(ctx context.Context, ev bus.CheckinEvent) error {
	return b.publish(bus.EventConnectionCheckin, ev)
}

func (b *Bus) OnReceive(ctx context.Context, ev bus.ReceiveEvent) error {
	return b.publish(bus.EventReceive, ev)
}

func (b *Bus) OnLog(ctx context.Context, ev bus.LogEvent) error {
	return b.publish(bus.EventLog, ev)
}

func (b *Bus) publish(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	return b.conn.Publish(b.router.EventSubject(event), data)
}

// Serve subscribes the gateway's commands. Subscriptions live until Close.
func (b *Bus) Serve(cmds bus.Commands) error {
	handlers := map[string]func(context.Context, []byte) commandReply{
		b.router.CommandSubject(bus.CommandSend): func(ctx context.Context, data []byte) commandReply {
			return handleSend(ctx, cmds, data)
		},
		b.router.CommandSubject(bus.CommandForceDisconnect): func(ctx context.Context, data []byte) commandReply {
			return handleForceDisconnect(ctx, cmds, data)
		},
		b.router.CommandSubject(bus.CommandConnectedSessions): func(ctx context.Context, _ []byte) commandReply {
			return handleConnectedSessions(ctx, cmds)
		},
		b.router.SharedSubject(bus.CommandServerID): func(context.Context, []byte) commandReply {
			return commandReply{OK: true, Result: cmds.ServerID()}
		},
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for subject, handle := range handlers {
		sub, err := b.conn.Subscribe(subject, b.serveCommand(subject, handle))
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		b.subs = append(b.subs, sub)
		b.logger.Info().Str("subject", subject).Msg("Serving command")
	}
	return nil
}

func (b *Bus) serveCommand(subject string, handle func(context.Context, []byte) commandReply) nats.MsgHandler {
	return func(msg *nats.Msg) {
		defer monitoring.RecoverPanic(b.logger, "natsCommand", map[string]any{"subject": subject})

		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()

		reply := handle(ctx, msg.Data)
		if !reply.OK {
			b.logger.Warn().Str("subject", subject).Str("error", reply.Error).Msg("Command failed")
		}
		if msg.Reply == "" {
			return
		}
		data, err := json.Marshal(reply)
		if err != nil {
			monitoring.LogError(b.logger, err, "Failed to encode command reply", map[string]any{"subject": subject})
			return
		}
		if err := msg.Respond(data); err != nil {
			b.logger.Warn().Err(err).Str("subject", subject).Msg("Failed to respond to command")
		}
	}
}

// Close drops command subscriptions and drains the connection.
func (b *Bus) Close() error {
	b.mu.Lock()
	for _, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			b.logger.Warn().Err(err).Str("subject", sub.Subject).Msg("Failed to unsubscribe")
		}
	}
	b.subs = nil
	b.mu.Unlock()

	monitoring.SetBusConnected(false)
	return b.conn.Drain()
}
