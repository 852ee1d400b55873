// internal/lobby/lobby_store.go
package lobby

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/mazerush/internal/maze"
	"github.com/jason-s-yu/mazerush/internal/models"
	"github.com/sirupsen/logrus"
)

const codeLength = 6

// Store manages the active lobbies in memory, keyed by their join code.
type Store struct {
	mu      sync.Mutex
	lobbies map[string]*Lobby

	maxPlayers int
	onStart    func(l *Lobby) error
	logger     *logrus.Logger
}

// NewStore returns an empty store whose lobbies hold at most maxPlayers.
func NewStore(maxPlayers int, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if maxPlayers < 1 {
		maxPlayers = 4
	}
	return &Store{
		lobbies:    make(map[string]*Lobby),
		maxPlayers: maxPlayers,
		logger:     logger,
	}
}

// OnStart sets the hook every lobby created afterwards runs when its race
// starts.
func (s *Store) OnStart(fn func(l *Lobby) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStart = fn
}

func newCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:codeLength]
}

// Create opens a lobby hosted by host, who is joined automatically. The lobby
// removes itself from the store when its last member leaves.
func (s *Store) Create(host string, size maze.SizeClass) (*Lobby, error) {
	if host == "" {
		return nil, ErrMissingName
	}
	if size == "" {
		size = maze.Small
	}
	s.mu.Lock()
	code := newCode()
	for s.lobbies[code] != nil {
		code = newCode()
	}
	l := newLobby(code, host, s.maxPlayers, size)
	l.OnEmpty = s.Delete
	l.OnStart = s.onStart
	s.lobbies[code] = l
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"lobby": code,
		"host":  host,
	}).Info("lobby created")
	return l, nil
}

// Get looks a lobby up by code, ignoring case.
func (s *Store) Get(code string) (*Lobby, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lobbies[strings.ToUpper(code)]
	return l, ok
}

// Delete removes a lobby. It is the OnEmpty hook of every stored lobby.
func (s *Store) Delete(code string) {
	s.mu.Lock()
	_, ok := s.lobbies[code]
	delete(s.lobbies, code)
	s.mu.Unlock()
	if ok {
		s.logger.WithField("lobby", code).Info("lobby deleted")
	}
}

// Finish resets the lobby behind code after its race completes.
func (s *Store) Finish(code string) {
	if l, ok := s.Get(code); ok {
		l.Finish()
	}
}

// List returns a view of every lobby ordered by code.
func (s *Store) List() []models.LobbyView {
	s.mu.Lock()
	lobbies := make([]*Lobby, 0, len(s.lobbies))
	for _, l := range s.lobbies {
		lobbies = append(lobbies, l)
	}
	s.mu.Unlock()

	out := make([]models.LobbyView, 0, len(lobbies))
	for _, l := range lobbies {
		out = append(out, l.View())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lobbies)
}
