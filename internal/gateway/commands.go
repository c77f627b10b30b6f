package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/adred-codev/ws_gateway/internal/bus"
	"github.com/adred-codev/ws_gateway/internal/monitoring"
	"github.com/adred-codev/ws_gateway/internal/protocol"
)

// Send writes {"action": action, "data": data} to one connection. Unknown
// ids are ignored.
func (s *Server) Send(_ context.Context, connectionID, action string, data json.RawMessage) error {
	switch {
	case strings.TrimSpace(connectionID) == "":
		return s.badCommand(bus.CommandSend, "connection id is required")
	case action == "":
		return s.badCommand(bus.CommandSend, "action is required")
	case len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")):
		return s.badCommand(bus.CommandSend, "data is required")
	case !json.Valid(data):
		return s.badCommand(bus.CommandSend, "data is not valid JSON")
	}

	c, ok := s.clients.Get(connectionID)
	if !ok {
		s.logger.Debug().Str("connection_id", connectionID).Msg("Send to unknown connection ignored")
		monitoring.RecordCommand(bus.CommandSend, "unknown_connection")
		return nil
	}

	payload, err := protocol.Encode(action, data)
	if err != nil {
		return s.badCommand(bus.CommandSend, err.Error())
	}
	if err := s.deliver(c, payload); err != nil {
		s.logger.Debug().Err(err).Str("connection_id", connectionID).Msg("Send dropped")
		monitoring.RecordCommand(bus.CommandSend, "dropped")
		return nil
	}
	monitoring.RecordCommand(bus.CommandSend, "ok")
	return nil
}

// ForceDisconnect drops every listed connection with reason. Unknown ids
// are skipped.
func (s *Server) ForceDisconnect(_ context.Context, connectionIDs []string, reason string) error {
	if len(connectionIDs) == 0 {
		return s.badCommand(bus.CommandForceDisconnect, "connection ids are required")
	}
	if strings.TrimSpace(reason) == "" {
		return s.badCommand(bus.CommandForceDisconnect, "reason is required")
	}

	for _, id := range connectionIDs {
		c, ok := s.clients.Get(id)
		if !ok {
			s.logger.Debug().Str("connection_id", id).Msg("Force disconnect of unknown connection ignored")
			continue
		}
		s.forceDisconnect(c, reason, disconnectCommand)
	}
	monitoring.RecordCommand(bus.CommandForceDisconnect, "ok")
	return nil
}

// ConnectedSessions lists the ids of every registered connection.
func (s *Server) ConnectedSessions(context.Context) ([]string, error) {
	monitoring.RecordCommand(bus.CommandConnectedSessions, "ok")
	return s.clients.IDs(), nil
}

func (s *Server) ServerID() string { return s.router.ServerID() }

func (s *Server) badCommand(command, msg string) error {
	err := fmt.Errorf("%w: %s", bus.ErrInvalidArgument, msg)
	monitoring.LogError(s.logger, err, "Received garbage command", map[string]any{"command": command})
	monitoring.RecordCommand(command, "invalid")
	return err
}
