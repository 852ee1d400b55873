package session

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jason-s-yu/mazerush/internal/maze"
	"github.com/jason-s-yu/mazerush/internal/powerup"
)

// avatarPalette is indexed by a hash of the username, so a player keeps the
// same colour across reconnects and across server instances.
var avatarPalette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8",
	"#f58231", "#911eb4", "#46f0f0", "#f032e6",
	"#bcf60c", "#fabebe", "#008080", "#9a6324",
}

// AvatarColor returns the colour assigned to username.
func AvatarColor(username string) string {
	return avatarPalette[xxhash.Sum64String(username)%uint64(len(avatarPalette))]
}

// PlayerState is one player's live race state. Values handed out by the
// Registry are copies; mutating them has no effect on the registry.
type PlayerState struct {
	Username          string                     `json:"username"`
	Position          maze.Position              `json:"position"`
	Finished          bool                       `json:"finished"`
	FinishTimeSeconds float64                    `json:"finishTimeSeconds"`
	Effects           map[powerup.Type]time.Time `json:"activeEffects"`
	AvatarColor       string                     `json:"avatarColor"`
}

// HasEffect reports whether effect is active at now.
func (p PlayerState) HasEffect(effect powerup.Type, now time.Time) bool {
	exp, ok := p.Effects[effect]
	return ok && now.Before(exp)
}

// player wraps a PlayerState with its own lock so read-modify-write on one
// player never contends with other players in the same session.
type player struct {
	mu      sync.Mutex
	state   PlayerState
	removed bool
}

func newPlayer(username string, pos maze.Position) *player {
	return &player{
		state: PlayerState{
			Username:    username,
			Position:    pos,
			Effects:     make(map[powerup.Type]time.Time),
			AvatarColor: AvatarColor(username),
		},
	}
}

// purgeLocked drops expired effects. Caller holds p.mu.
func (p *player) purgeLocked(now time.Time) {
	for effect, exp := range p.state.Effects {
		if !now.Before(exp) {
			delete(p.state.Effects, effect)
		}
	}
}

// snapshotLocked copies the state. Caller holds p.mu.
func (p *player) snapshotLocked() PlayerState {
	cp := p.state
	cp.Effects = make(map[powerup.Type]time.Time, len(p.state.Effects))
	for k, v := range p.state.Effects {
		cp.Effects[k] = v
	}
	return cp
}

func (p *player) snapshot(now time.Time) PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.purgeLocked(now)
	return p.snapshotLocked()
}
