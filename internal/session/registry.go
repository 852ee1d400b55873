// internal/session/registry.go
package session

import (
	"errors"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jason-s-yu/mazerush/internal/maze"
	"github.com/jason-s-yu/mazerush/internal/powerup"
	"github.com/sirupsen/logrus"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrPlayerNotFound  = errors.New("player not found")
	ErrNoGrid          = errors.New("no maze bound for new session")
)

// Session is the live state of one lobby's race.
//
// Lock order is Registry.mu, then Session.mu, then player.mu or itemsMu.
type Session struct {
	lobby     string
	startedAt time.Time
	grid      *maze.Grid

	mu      sync.RWMutex // guards players and evicted
	players map[string]*player
	evicted bool

	itemsMu  sync.Mutex // guards powerUps and spawned
	powerUps map[maze.Position]powerup.PowerUp
	spawned  bool

	allFinished atomic.Bool
}

// AddResult describes the outcome of Registry.AddPlayer.
type AddResult struct {
	State          PlayerState
	SessionCreated bool // first player in this lobby
	Inserted       bool // false when the username was already present
}

// Registry owns every live Session keyed by lobby code. One Registry is
// constructed per process and passed to whoever needs it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	evictMu sync.RWMutex
	onEvict []func(lobby string)

	now    func() time.Time
	logger *logrus.Logger
}

// NewRegistry returns an empty registry. A nil logger uses the logrus
// standard logger.
func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
		logger:   logger,
	}
}

// SetClock replaces the time source. Tests use it to step past effect expiry.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Now returns the registry's current time.
func (r *Registry) Now() time.Time {
	r.mu.RLock()
	now := r.now
	r.mu.RUnlock()
	return now()
}

// OnEvict registers fn to run after a session is evicted. Callbacks run
// outside every registry lock.
func (r *Registry) OnEvict(fn func(lobby string)) {
	r.evictMu.Lock()
	defer r.evictMu.Unlock()
	r.onEvict = append(r.onEvict, fn)
}

func (r *Registry) fireEvict(lobbies ...string) {
	r.evictMu.RLock()
	callbacks := append([]func(string){}, r.onEvict...)
	r.evictMu.RUnlock()
	for _, lobby := range lobbies {
		r.logger.WithField("lobby", lobby).Debug("session evicted")
		for _, fn := range callbacks {
			fn(lobby)
		}
	}
}

func (r *Registry) session(lobby string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[lobby]
}

func (r *Registry) lookup(lobby, username string) (*Session, *player) {
	s := r.session(lobby)
	if s == nil {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s, s.players[username]
}

// AddPlayer inserts username into lobby at the grid's start cell. The
// session is created on first use and bound to grid; later calls ignore
// grid. Adding a username that is already present changes nothing and
// returns its current state.
func (r *Registry) AddPlayer(lobby, username string, grid *maze.Grid) (AddResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()

	s, ok := r.sessions[lobby]
	created := false
	if !ok {
		if grid == nil {
			return AddResult{}, ErrNoGrid
		}
		s = &Session{
			lobby:     lobby,
			startedAt: now,
			grid:      grid,
			players:   make(map[string]*player),
			powerUps:  make(map[maze.Position]powerup.PowerUp),
		}
		r.sessions[lobby] = s
		created = true
		r.logger.WithField("lobby", lobby).Debug("session created")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, exists := s.players[username]; exists {
		return AddResult{State: p.snapshot(now)}, nil
	}
	p := newPlayer(username, s.grid.Start())
	s.players[username] = p
	return AddResult{
		State:          p.snapshot(now),
		SessionCreated: created,
		Inserted:       true,
	}, nil
}

// RemovePlayer deletes username from lobby. Removing the last player evicts
// the session in the same critical section, so no caller can observe an
// empty session afterwards. ok is false when there was nothing to remove.
func (r *Registry) RemovePlayer(lobby, username string) (removed PlayerState, evicted bool, ok bool) {
	r.mu.Lock()
	s := r.sessions[lobby]
	if s == nil {
		r.mu.Unlock()
		return PlayerState{}, false, false
	}

	s.mu.Lock()
	p, exists := s.players[username]
	if exists {
		delete(s.players, username)
		p.mu.Lock()
		p.removed = true
		removed = p.snapshotLocked()
		p.mu.Unlock()
		if len(s.players) == 0 {
			s.evicted = true
			delete(r.sessions, lobby)
			evicted = true
		}
	}
	s.mu.Unlock()
	r.mu.Unlock()

	if evicted {
		r.fireEvict(lobby)
	}
	return removed, evicted, exists
}

// update runs fn on one player under that player's lock only. Expired
// effects are purged before fn sees the state.
func (r *Registry) update(lobby, username string, fn func(s *Session, st *PlayerState, now time.Time) error) (PlayerState, error) {
	s, p := r.lookup(lobby, username)
	if s == nil {
		return PlayerState{}, ErrSessionNotFound
	}
	if p == nil {
		return PlayerState{}, ErrPlayerNotFound
	}
	now := r.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.removed {
		return PlayerState{}, ErrPlayerNotFound
	}
	p.purgeLocked(now)
	if err := fn(s, &p.state, now); err != nil {
		return p.snapshotLocked(), err
	}
	return p.snapshotLocked(), nil
}

// UpdatePosition stores pos as the player's position.
func (r *Registry) UpdatePosition(lobby, username string, pos maze.Position) (PlayerState, bool) {
	st, err := r.update(lobby, username, func(_ *Session, st *PlayerState, _ time.Time) error {
		st.Position = pos
		return nil
	})
	return st, err == nil
}

// Advance validates and commits a move atomically. step receives the current
// state and returns the new position; an error from step leaves the state
// untouched and is returned as is.
func (r *Registry) Advance(lobby, username string, step func(PlayerState, time.Time) (maze.Position, error)) (PlayerState, error) {
	return r.update(lobby, username, func(_ *Session, st *PlayerState, now time.Time) error {
		next, err := step(*st, now)
		if err != nil {
			return err
		}
		st.Position = next
		return nil
	})
}

// MarkFinished flips the player to finished and records the elapsed time
// since the session started. The first call wins; later calls report
// changed=false and return the original finish time.
func (r *Registry) MarkFinished(lobby, username string) (st PlayerState, changed bool, ok bool) {
	st, err := r.update(lobby, username, func(s *Session, st *PlayerState, now time.Time) error {
		if st.Finished {
			return nil
		}
		st.Finished = true
		st.FinishTimeSeconds = elapsedSeconds(s.startedAt, now)
		changed = true
		return nil
	})
	return st, changed, err == nil
}

func elapsedSeconds(start, now time.Time) float64 {
	d := now.Sub(start)
	if d < 0 {
		d = 0
	}
	return math.Round(d.Seconds()*1000) / 1000
}

// ApplyEffect activates effect on the player until now+d. An effect that is
// already active keeps whichever expiry is later.
func (r *Registry) ApplyEffect(lobby, username string, effect powerup.Type, d time.Duration) (PlayerState, bool) {
	st, err := r.update(lobby, username, func(_ *Session, st *PlayerState, now time.Time) error {
		exp := now.Add(d)
		if cur, ok := st.Effects[effect]; !ok || exp.After(cur) {
			st.Effects[effect] = exp
		}
		return nil
	})
	return st, err == nil
}

// HasEffect reports whether the player currently has effect active.
func (r *Registry) HasEffect(lobby, username string, effect powerup.Type) bool {
	st, ok := r.Player(lobby, username)
	return ok && st.HasEffect(effect, r.Now())
}

// Player returns a copy of one player's state.
func (r *Registry) Player(lobby, username string) (PlayerState, bool) {
	_, p := r.lookup(lobby, username)
	if p == nil {
		return PlayerState{}, false
	}
	st := p.snapshot(r.Now())
	return st, true
}

// Players returns a point-in-time copy of every player in lobby, sorted by
// username. It returns nil for an unknown lobby.
func (r *Registry) Players(lobby string) []PlayerState {
	s := r.session(lobby)
	if s == nil {
		return nil
	}
	s.mu.RLock()
	ps := make([]*player, 0, len(s.players))
	for _, p := range s.players {
		ps = append(ps, p)
	}
	s.mu.RUnlock()

	now := r.Now()
	out := make([]PlayerState, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.snapshot(now))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// PlayerCount returns the number of players in lobby.
func (r *Registry) PlayerCount(lobby string) int {
	s := r.session(lobby)
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players)
}

// SessionExists reports whether lobby has a live session.
func (r *Registry) SessionExists(lobby string) bool {
	s := r.session(lobby)
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.evicted && len(s.players) > 0
}

// Lobbies lists the codes of every live session, sorted.
func (r *Registry) Lobbies() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.sessions))
	for code := range r.sessions {
		out = append(out, code)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Grid returns the maze bound to lobby.
func (r *Registry) Grid(lobby string) (*maze.Grid, bool) {
	s := r.session(lobby)
	if s == nil {
		return nil, false
	}
	return s.grid, true
}

// StartedAt returns when the first player joined lobby.
func (r *Registry) StartedAt(lobby string) (time.Time, bool) {
	s := r.session(lobby)
	if s == nil {
		return time.Time{}, false
	}
	return s.startedAt, true
}

// AllFinished reports whether lobby has players and every one has finished.
func (r *Registry) AllFinished(lobby string) bool {
	players := r.Players(lobby)
	if len(players) == 0 {
		return false
	}
	for _, p := range players {
		if !p.Finished {
			return false
		}
	}
	return true
}

// ClaimAllFinished returns true exactly once per session, for the caller
// that should announce the race as complete.
func (r *Registry) ClaimAllFinished(lobby string) bool {
	s := r.session(lobby)
	if s == nil {
		return false
	}
	return s.allFinished.CompareAndSwap(false, true)
}

// EvictCompleted drops lobby's session if its race was already claimed as
// finished, even while players are still attached. It reports whether a
// session was evicted.
func (r *Registry) EvictCompleted(lobby string) bool {
	r.mu.Lock()
	s := r.sessions[lobby]
	if s == nil || !s.allFinished.Load() {
		r.mu.Unlock()
		return false
	}
	s.mu.Lock()
	for _, p := range s.players {
		p.mu.Lock()
		p.removed = true
		p.mu.Unlock()
	}
	s.evicted = true
	delete(r.sessions, lobby)
	s.mu.Unlock()
	r.mu.Unlock()

	r.fireEvict(lobby)
	return true
}

// SpawnPowerUps places items on lobby's grid. It succeeds once per session;
// later calls return false and change nothing.
func (r *Registry) SpawnPowerUps(lobby string, items []powerup.PowerUp) bool {
	s := r.session(lobby)
	if s == nil {
		return false
	}
	s.itemsMu.Lock()
	defer s.itemsMu.Unlock()
	if s.spawned {
		return false
	}
	for _, it := range items {
		s.powerUps[it.Position] = it
	}
	s.spawned = true
	return true
}

// PowerUps returns the uncollected power-ups in lobby ordered by position.
func (r *Registry) PowerUps(lobby string) []powerup.PowerUp {
	s := r.session(lobby)
	if s == nil {
		return nil
	}
	s.itemsMu.Lock()
	out := make([]powerup.PowerUp, 0, len(s.powerUps))
	for _, it := range s.powerUps {
		out = append(out, it)
	}
	s.itemsMu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position.Y != out[j].Position.Y {
			return out[i].Position.Y < out[j].Position.Y
		}
		return out[i].Position.X < out[j].Position.X
	})
	return out
}

// CheckAndCollect removes and returns the power-up at pos. Of any number of
// concurrent callers for the same cell exactly one gets it.
func (r *Registry) CheckAndCollect(lobby string, pos maze.Position) (powerup.PowerUp, bool) {
	s := r.session(lobby)
	if s == nil {
		return powerup.PowerUp{}, false
	}
	s.itemsMu.Lock()
	defer s.itemsMu.Unlock()
	it, ok := s.powerUps[pos]
	if ok {
		delete(s.powerUps, pos)
	}
	return it, ok
}

// ReapEmpty evicts every session that has no players and returns their codes.
// RemovePlayer already evicts on the last removal; this catches anything
// that slipped past it.
func (r *Registry) ReapEmpty() []string {
	r.mu.Lock()
	var reaped []string
	for code, s := range r.sessions {
		s.mu.Lock()
		if len(s.players) == 0 {
			s.evicted = true
			delete(r.sessions, code)
			reaped = append(reaped, code)
		}
		s.mu.Unlock()
	}
	r.mu.Unlock()

	sort.Strings(reaped)
	if len(reaped) > 0 {
		r.fireEvict(reaped...)
	}
	return reaped
}
