// internal/models/event.go
package models

import (
	"github.com/jason-s-yu/mazerush/internal/maze"
	"github.com/jason-s-yu/mazerush/internal/powerup"
)

// EventType tags every outbound race event.
type EventType string

const (
	EventPlayerJoined     EventType = "player_joined"
	EventPlayerLeft       EventType = "player_left"
	EventPlayerMove       EventType = "move"
	EventPlayerFinished   EventType = "player_finished"
	EventAllFinished      EventType = "all_finished"
	EventPowerUpCollected EventType = "powerup_collected"
	EventSync             EventType = "sync"
	EventError            EventType = "error"
)

// GameEvent is a lifecycle notification published on a lobby's events channel.
type GameEvent struct {
	Type      EventType      `json:"type"`
	Username  string         `json:"username,omitempty"`
	Timestamp int64          `json:"timestamp"` // unix millis
	Payload   map[string]any `json:"payload,omitempty"`
}

// MoveEvent announces an accepted move on a lobby's move channel.
type MoveEvent struct {
	Type      EventType     `json:"type"`
	Username  string        `json:"username"`
	Position  maze.Position `json:"position"`
	Timestamp int64         `json:"timestamp"`
}

// SyncEvent is a full state snapshot of one lobby.
type SyncEvent struct {
	Type      EventType         `json:"type"`
	Lobby     string            `json:"lobby"`
	Players   []PlayerSnapshot  `json:"players"`
	PowerUps  []powerup.PowerUp `json:"powerUps"`
	Maze      *MazeLayout       `json:"maze,omitempty"` // private sync on join only
	StartedAt int64             `json:"startedAt"`
	Timestamp int64             `json:"timestamp"`
}

// MazeLayout carries the grid to a joining client.
type MazeLayout struct {
	Width  int           `json:"width"`
	Height int           `json:"height"`
	Rows   []string      `json:"rows"`
	Start  maze.Position `json:"start"`
	Goal   maze.Position `json:"goal"`
}

// ErrorEvent is sent only to the client whose command was rejected.
type ErrorEvent struct {
	Type    EventType `json:"type"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}
