// internal/game/command.go
package game

import (
	"encoding/json"
	"strings"
)

// Command is one decoded inbound race message. The username always comes
// from the authenticated connection, never from the payload.
type Command interface {
	User() string
}

type JoinCommand struct {
	Username string
}

type MoveCommand struct {
	Username  string
	Direction string
}

type FinishCommand struct {
	Username string
}

type LeaveCommand struct {
	Username string
}

func (c JoinCommand) User() string   { return c.Username }
func (c MoveCommand) User() string   { return c.Username }
func (c FinishCommand) User() string { return c.Username }
func (c LeaveCommand) User() string  { return c.Username }

// inboundMessage is the JSON shape clients send, e.g.
// {"type":"move","direction":"UP"}.
type inboundMessage struct {
	Type      string `json:"type"`
	Direction string `json:"direction,omitempty"`
}

// DecodeCommand parses one client frame into a typed command for username.
func DecodeCommand(username string, data []byte) (Command, error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, validationError("malformed payload", err)
	}
	switch strings.ToLower(strings.TrimSpace(msg.Type)) {
	case "join":
		return JoinCommand{Username: username}, nil
	case "move":
		return MoveCommand{Username: username, Direction: msg.Direction}, nil
	case "finish":
		return FinishCommand{Username: username}, nil
	case "leave":
		return LeaveCommand{Username: username}, nil
	case "":
		return nil, validationError("missing message type", nil)
	default:
		return nil, validationError("unknown message type "+msg.Type, nil)
	}
}
