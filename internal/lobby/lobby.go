// internal/lobby/lobby.go
package lobby

import (
	"errors"
	"sync"

	"github.com/jason-s-yu/mazerush/internal/game"
	"github.com/jason-s-yu/mazerush/internal/maze"
	"github.com/jason-s-yu/mazerush/internal/models"
)

// Status is the lifecycle stage of a lobby.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusInGame    Status = "in_game"
	StatusAbandoned Status = "abandoned"
)

var (
	ErrLobbyNotFound  = errors.New("lobby not found")
	ErrLobbyFull      = errors.New("lobby is full")
	ErrAlreadyJoined  = errors.New("already joined")
	ErrNotInLobby     = errors.New("not in lobby")
	ErrLobbyClosed    = errors.New("lobby is closed")
	ErrNotHost        = errors.New("only the host can do that")
	ErrAlreadyStarted = errors.New("race already started")
	ErrNotAllReady    = errors.New("not every player is ready")
	ErrMissingName    = errors.New("missing display name")
)

// KindOf maps a lobby error onto the race error taxonomy.
func KindOf(err error) game.Kind {
	switch {
	case errors.Is(err, ErrLobbyFull):
		return game.KindCapacity
	case errors.Is(err, ErrAlreadyJoined), errors.Is(err, ErrNotInLobby),
		errors.Is(err, ErrAlreadyStarted), errors.Is(err, ErrNotAllReady),
		errors.Is(err, ErrNotHost), errors.Is(err, ErrLobbyClosed):
		return game.KindConflict
	case errors.Is(err, ErrLobbyNotFound):
		return game.KindNotFound
	case errors.Is(err, ErrMissingName):
		return game.KindValidation
	}
	return game.KindOf(err)
}

type member struct {
	username string
	ready    bool
}

// Lobby is the waiting room players gather in before a race. Members are
// kept in join order, which decides who inherits the host role.
type Lobby struct {
	Code       string
	MaxPlayers int
	MazeSize   maze.SizeClass

	mu       sync.Mutex
	host     string
	status   Status
	starting bool // OnStart in flight
	members  []*member

	// OnEmpty runs, outside the lobby lock, after the last member leaves.
	OnEmpty func(code string)
	// OnStart runs, outside the lobby lock, when the host starts the race.
	// The lobby reports in_game only after it returns nil; an error leaves
	// the lobby waiting.
	OnStart func(l *Lobby) error
}

func newLobby(code, host string, maxPlayers int, size maze.SizeClass) *Lobby {
	return &Lobby{
		Code:       code,
		MaxPlayers: maxPlayers,
		MazeSize:   size,
		host:       host,
		status:     StatusWaiting,
		members:    []*member{{username: host}},
	}
}

func (l *Lobby) indexLocked(username string) int {
	for i, m := range l.members {
		if m.username == username {
			return i
		}
	}
	return -1
}

// Join adds username. The capacity check and the insert happen under one
// lock, so concurrent joins never overfill the lobby.
func (l *Lobby) Join(username string) error {
	if username == "" {
		return ErrMissingName
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.status == StatusAbandoned:
		return ErrLobbyClosed
	case l.indexLocked(username) >= 0:
		return ErrAlreadyJoined
	case l.status == StatusInGame:
		return ErrAlreadyStarted
	case len(l.members) >= l.MaxPlayers:
		return ErrLobbyFull
	}
	l.members = append(l.members, &member{username: username})
	return nil
}

// Leave removes username. If the host leaves, the earliest remaining member
// becomes host. The last member leaving abandons the lobby.
func (l *Lobby) Leave(username string) error {
	l.mu.Lock()
	i := l.indexLocked(username)
	if i < 0 {
		l.mu.Unlock()
		return ErrNotInLobby
	}
	l.members = append(l.members[:i], l.members[i+1:]...)
	empty := len(l.members) == 0
	if empty {
		l.status = StatusAbandoned
		l.host = ""
	} else if l.host == username {
		l.host = l.members[0].username
	}
	onEmpty := l.OnEmpty
	l.mu.Unlock()

	if empty && onEmpty != nil {
		onEmpty(l.Code)
	}
	return nil
}

// ToggleReady flips username's ready flag and returns the new value.
func (l *Lobby) ToggleReady(username string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.indexLocked(username)
	if i < 0 {
		return false, ErrNotInLobby
	}
	if l.status != StatusWaiting {
		return false, ErrAlreadyStarted
	}
	l.members[i].ready = !l.members[i].ready
	return l.members[i].ready, nil
}

// Start moves the lobby into the race. Only the host may start, only from
// waiting, and only once every member is ready.
func (l *Lobby) Start(username string) error {
	l.mu.Lock()
	switch {
	case l.indexLocked(username) < 0:
		l.mu.Unlock()
		return ErrNotInLobby
	case l.host != username:
		l.mu.Unlock()
		return ErrNotHost
	case l.status != StatusWaiting, l.starting:
		l.mu.Unlock()
		return ErrAlreadyStarted
	}
	for _, m := range l.members {
		if !m.ready {
			l.mu.Unlock()
			return ErrNotAllReady
		}
	}
	l.starting = true
	onStart := l.OnStart
	l.mu.Unlock()

	var err error
	if onStart != nil {
		err = onStart(l)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.starting = false
	switch {
	case err != nil:
		return err
	case l.status != StatusWaiting:
		return ErrLobbyClosed
	}
	l.status = StatusInGame
	return nil
}

// Finish returns an in-game lobby to waiting with every ready flag cleared.
func (l *Lobby) Finish() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status != StatusInGame {
		return
	}
	l.status = StatusWaiting
	for _, m := range l.members {
		m.ready = false
	}
}

func (l *Lobby) Host() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.host
}

func (l *Lobby) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Members lists usernames in join order.
func (l *Lobby) Members() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.members))
	for i, m := range l.members {
		out[i] = m.username
	}
	return out
}

func (l *Lobby) Has(username string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.indexLocked(username) >= 0
}

// View is the lobby as returned by the HTTP API.
func (l *Lobby) View() models.LobbyView {
	l.mu.Lock()
	defer l.mu.Unlock()
	v := models.LobbyView{
		Code:       l.Code,
		Host:       l.host,
		Status:     string(l.status),
		MaxPlayers: l.MaxPlayers,
		MazeSize:   string(l.MazeSize),
		Members:    make([]models.LobbyMember, len(l.members)),
	}
	for i, m := range l.members {
		v.Members[i] = models.LobbyMember{
			Username: m.username,
			IsHost:   m.username == l.host,
			IsReady:  m.ready,
		}
	}
	return v
}
