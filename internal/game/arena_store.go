// internal/game/arena_store.go
package game

import (
	"sync"

	"github.com/jason-s-yu/mazerush/internal/maze"
)

// ArenaStore remembers which grid each lobby races on, from match start until
// its session is evicted.
type ArenaStore struct {
	mu    sync.Mutex
	grids map[string]*maze.Grid
}

func NewArenaStore() *ArenaStore {
	return &ArenaStore{
		grids: make(map[string]*maze.Grid),
	}
}

// Set replaces the grid for lobby.
func (s *ArenaStore) Set(lobby string, g *maze.Grid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grids[lobby] = g
}

func (s *ArenaStore) Get(lobby string) (*maze.Grid, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grids[lobby]
	return g, ok
}

// LoadOrStore returns the grid already stored for lobby, or stores and
// returns g.
func (s *ArenaStore) LoadOrStore(lobby string, g *maze.Grid) *maze.Grid {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.grids[lobby]; ok {
		return cur
	}
	s.grids[lobby] = g
	return g
}

func (s *ArenaStore) Delete(lobby string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grids, lobby)
}
