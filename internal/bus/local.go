package bus

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/adred-codev/ws_gateway/internal/auth"
)

// Local delivers events to in-process callbacks. Unset callbacks fall back
// to a debug log line; an unset Auth rejects every credential.
type Local struct {
	Auth                  auth.Func
	Connection            func(ctx context.Context, ev ConnectionEvent) error
	ConnectionClose       func(ctx context.Context, ev ConnectionEvent) error
	ConnectionAuthChanged func(ctx context.Context, ev ConnectionEvent) error
	ForcedDisconnect      func(ctx context.Context, ev ConnectionEvent) error
	Checkin               func(ctx context.Context, ev CheckinEvent) error
	Receive               func(ctx context.Context, ev ReceiveEvent) error
	Log                   func(ctx context.Context, ev LogEvent) error

	Logger zerolog.Logger
}

var _ Events = (*Local)(nil)

func (l *Local) OnAuth(ctx context.Context, req auth.Request) (auth.Principal, error) {
	if l.Auth == nil {
		l.Logger.Debug().Str("connection_id", req.ConnectionID).Msg("No auth handler, rejecting credential")
		return nil, nil
	}
	return l.Auth(ctx, req)
}

func (l *Local) OnConnection(ctx context.Context, ev ConnectionEvent) error {
	return l.connection(ctx, EventConnection, l.Connection, ev)
}

func (l *Local) OnConnectionClose(ctx context.Context, ev ConnectionEvent) error {
	return l.connection(ctx, EventConnectionClose, l.ConnectionClose, ev)
}

func (l *Local) OnConnectionAuthChanged(ctx context.Context, ev ConnectionEvent) error {
	return l.connection(ctx, EventConnectionAuthChanged, l.ConnectionAuthChanged, ev)
}

func (l *Local) OnForcedDisconnect(ctx context.Context, ev ConnectionEvent) error {
	return l.connection(ctx, EventForcedDisconnect, l.ForcedDisconnect, ev)
}

func (l *Local) connection(ctx context.Context, name string, fn func(context.Context, ConnectionEvent) error, ev ConnectionEvent) error {
	if fn == nil {
		l.Logger.Debug().
			Str("event", name).
			Str("connection_id", ev.ConnectionID).
			Str("client_ip", ev.ClientIP).
			Str("reason", ev.Reason).
			Msg("Gateway event")
		return nil
	}
	return fn(ctx, ev)
}

func (l *Local) OnConnectionCheckin(ctx context.Context, ev CheckinEvent) error {
	if l.Checkin == nil {
		l.Logger.Debug().Str("event", EventConnectionCheckin).Str("connection_id", ev.ConnectionID).Msg("Gateway event")
		return nil
	}
	return l.Checkin(ctx, ev)
}

func (l *Local) OnReceive(ctx context.Context, ev ReceiveEvent) error {
	if l.Receive == nil {
		l.Logger.Debug().
			Str("event", EventReceive).
			Str("connection_id", ev.ConnectionID).
			Str("action", ev.Action).
			Int("data_bytes", len(ev.Data)).
			Msg("Gateway event")
		return nil
	}
	return l.Receive(ctx, ev)
}

func (l *Local) OnLog(ctx context.Context, ev LogEvent) error {
	if l.Log == nil {
		l.Logger.Info().
			Str("connection_id", ev.ConnectionID).
			Str("client_ip", ev.ClientIP).
			Str("client_log", ev.Text).
			Msg("Client log")
		return nil
	}
	return l.Log(ctx, ev)
}
