package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/adred-codev/ws_gateway/internal/bus"
	"github.com/adred-codev/ws_gateway/internal/routing"
)

// commandReply is the JSON body answered to every command request.
type commandReply struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

func failed(err error) commandReply {
	return commandReply{Error: err.Error()}
}

type sendRequest struct {
	ConnectionID string          `json:"connectionId"`
	Action       string          `json:"action"`
	Data         json.RawMessage `json:"data"`
}

type forceDisconnectRequest struct {
	ConnectionIDs idList `json:"connectionIds"`
	Reason        string `json:"reason"`
}

// idList accepts a single id or an array of ids.
type idList []string

func (l *idList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*l = idList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("connectionIds must be a string or an array of strings")
	}
	*l = many
	return nil
}

func handleSend(ctx context.Context, cmds bus.Commands, data []byte) commandReply {
	var req sendRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return failed(fmt.Errorf("%w: %v", bus.ErrInvalidArgument, err))
	}
	if err := cmds.Send(ctx, req.ConnectionID, req.Action, req.Data); err != nil {
		return failed(err)
	}
	return commandReply{OK: true}
}

func handleForceDisconnect(ctx context.Context, cmds bus.Commands, data []byte) commandReply {
	var req forceDisconnectRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return failed(fmt.Errorf("%w: %v", bus.ErrInvalidArgument, err))
	}
	if err := cmds.ForceDisconnect(ctx, req.ConnectionIDs, req.Reason); err != nil {
		return failed(err)
	}
	return commandReply{OK: true}
}

func handleConnectedSessions(ctx context.Context, cmds bus.Commands) commandReply {
	ids, err := cmds.ConnectedSessions(ctx)
	if err != nil {
		return failed(err)
	}
	if ids == nil {
		ids = []string{}
	}
	return commandReply{OK: true, Result: ids}
}

// TiedResolver asks the gateway answering subject for its identity, so a
// multi-mode gateway can share a peer's namespace.
func TiedResolver(conn *nats.Conn, subject string, timeout time.Duration) routing.IdentityResolver {
	return routing.ResolverFunc(func(ctx context.Context) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		msg, err := conn.RequestWithContext(ctx, subject, nil)
		if err != nil {
			return "", fmt.Errorf("request %s: %w", subject, err)
		}
		return parseServerIDReply(msg.Data)
	})
}

func parseServerIDReply(data []byte) (string, error) {
	var reply struct {
		OK     bool   `json:"ok"`
		Error  string `json:"error"`
		Result string `json:"result"`
	}
	if err := json.Unmarshal(data, &reply); err != nil {
		return "", fmt.Errorf("decode server id reply: %w", err)
	}
	if !reply.OK {
		return "", fmt.Errorf("peer refused: %s", reply.Error)
	}
	return reply.Result, nil
}
