package models

import (
	"time"

	"github.com/jason-s-yu/mazerush/internal/maze"
)

// PlayerSnapshot is one player's state as sent to clients in a sync.
type PlayerSnapshot struct {
	Username          string               `json:"username"`
	Position          maze.Position        `json:"position"`
	Finished          bool                 `json:"finished"`
	FinishTimeSeconds float64              `json:"finishTimeSeconds,omitempty"`
	AvatarColor       string               `json:"avatarColor"`
	ActiveEffects     map[string]time.Time `json:"activeEffects,omitempty"`
}

// RaceResult is the final standing of one player, handed to the stats
// collaborator once every player has finished.
type RaceResult struct {
	Username          string  `json:"username"`
	Rank              int     `json:"rank"`
	Finished          bool    `json:"finished"`
	FinishTimeSeconds float64 `json:"finishTimeSeconds"`
}
