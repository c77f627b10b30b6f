// Package bus defines the contract between the gateway and the collaborators
// that consume its events and drive it with commands.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/adred-codev/ws_gateway/internal/auth"
)

// Event names, also used as subject suffixes by transport-backed buses.
const (
	EventAuth                  = "auth"
	EventConnection            = "on-connection"
	EventConnectionClose       = "on-connection-close"
	EventConnectionAuthChanged = "on-connection-auth"
	EventForcedDisconnect      = "forced-disconnect"
	EventConnectionCheckin     = "on-connection-checked-in"
	EventReceive               = "receive"
	EventLog                   = "log"
)

// Command names.
const (
	CommandSend              = "send"
	CommandForceDisconnect   = "force-disconnect"
	CommandConnectedSessions = "get-connected-sessions"
	CommandServerID          = "get-server-id"
)

// ErrInvalidArgument is returned by commands called with missing or malformed
// arguments.
var ErrInvalidArgument = errors.New("invalid argument")

// ConnectionEvent describes a connection at the moment of a lifecycle change.
type ConnectionEvent struct {
	ServerID     string      `json:"serverId"`
	ConnectionID string      `json:"connectionId"`
	ClientIP     string      `json:"clientIP"`
	Token        auth.Token  `json:"token"`
	Session      *string     `json:"session"`
	Headers      http.Header `json:"headers,omitempty"`
	Reason       string      `json:"reason,omitempty"`
}

// CheckinEvent is emitted for every connection that answers a reaper ping.
type CheckinEvent struct {
	ServerID     string  `json:"serverId"`
	ConnectionID string  `json:"connectionId"`
	Session      *string `json:"session"`
	TokenData    *string `json:"tokenData"`
}

// ReceiveEvent carries an application message.
type ReceiveEvent struct {
	ServerID     string          `json:"serverId"`
	ConnectionID string          `json:"connectionId"`
	ClientIP     string          `json:"clientIP"`
	Token        auth.Token      `json:"token"`
	Session      *string         `json:"session"`
	Action       string          `json:"action"`
	Data         json.RawMessage `json:"data"`
}

// LogEvent carries a client-side log line.
type LogEvent struct {
	ServerID     string     `json:"serverId"`
	ConnectionID string     `json:"connectionId"`
	ClientIP     string     `json:"clientIP"`
	Token        auth.Token `json:"token"`
	Session      *string    `json:"session"`
	Text         string     `json:"log"`
}

// Events is implemented by whatever consumes gateway notifications. OnAuth is
// the authentication callback; every other method is fire-and-forget from
// the gateway's point of view and an error is only logged.
type Events interface {
	OnAuth(ctx context.Context, req auth.Request) (auth.Principal, error)
	OnConnection(ctx context.Context, ev ConnectionEvent) error
	OnConnectionClose(ctx context.Context, ev ConnectionEvent) error
	OnConnectionAuthChanged(ctx context.Context, ev ConnectionEvent) error
	OnForcedDisconnect(ctx context.Context, ev ConnectionEvent) error
	OnConnectionCheckin(ctx context.Context, ev CheckinEvent) error
	OnReceive(ctx context.Context, ev ReceiveEvent) error
	OnLog(ctx context.Context, ev LogEvent) error
}

// Commands is implemented by the gateway. Commands never panic; unknown
// connection ids are a no-op and bad arguments wrap ErrInvalidArgument.
type Commands interface {
	Send(ctx context.Context, connectionID, action string, data json.RawMessage) error
	ForceDisconnect(ctx context.Context, connectionIDs []string, reason string) error
	ConnectedSessions(ctx context.Context) ([]string, error)
	ServerID() string
}

// Optional returns nil for "" so absent values serialize as null.
func Optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
