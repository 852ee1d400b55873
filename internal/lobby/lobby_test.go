package lobby

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jason-s-yu/mazerush/internal/game"
	"github.com/jason-s-yu/mazerush/internal/maze"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, maxPlayers int) *Store {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return NewStore(maxPlayers, logger)
}

func TestCreateAutoJoinsHost(t *testing.T) {
	store := newTestStore(t, 4)
	l, err := store.Create("alice", maze.Medium)
	require.NoError(t, err)

	assert.Len(t, l.Code, 6)
	assert.Regexp(t, `^[0-9A-F]{6}$`, l.Code)
	assert.Equal(t, "alice", l.Host())
	assert.Equal(t, []string{"alice"}, l.Members())
	assert.Equal(t, StatusWaiting, l.Status())

	got, ok := store.Get(l.Code)
	require.True(t, ok)
	assert.Same(t, l, got)

	_, err = store.Create("", maze.Small)
	assert.ErrorIs(t, err, ErrMissingName)
}

func TestJoinCapacityAndDuplicates(t *testing.T) {
	store := newTestStore(t, 2)
	l, err := store.Create("alice", maze.Small)
	require.NoError(t, err)

	assert.ErrorIs(t, l.Join("alice"), ErrAlreadyJoined)
	require.NoError(t, l.Join("bob"))
	err = l.Join("carol")
	assert.ErrorIs(t, err, ErrLobbyFull)
	assert.Equal(t, game.KindCapacity, KindOf(err))
	assert.Equal(t, game.KindConflict, KindOf(ErrAlreadyJoined))
	assert.Equal(t, []string{"alice", "bob"}, l.Members())
}

func TestConcurrentJoinsNeverExceedCapacity(t *testing.T) {
	store := newTestStore(t, 4)
	l, err := store.Create("host", maze.Small)
	require.NoError(t, err)

	var ok, full atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch err := l.Join(fmt.Sprintf("p%d", i)); {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrLobbyFull):
				full.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(3), ok.Load())
	assert.Equal(t, int32(29), full.Load())
	assert.Len(t, l.Members(), 4)
}

func TestLeaveHandsOverHostAndAbandons(t *testing.T) {
	store := newTestStore(t, 4)
	l, err := store.Create("alice", maze.Small)
	require.NoError(t, err)
	require.NoError(t, l.Join("bob"))
	require.NoError(t, l.Join("carol"))

	assert.ErrorIs(t, l.Leave("mallory"), ErrNotInLobby)

	require.NoError(t, l.Leave("alice"))
	assert.Equal(t, "bob", l.Host())
	require.NoError(t, l.Leave("bob"))
	assert.Equal(t, "carol", l.Host())
	assert.Equal(t, 1, store.Len())

	require.NoError(t, l.Leave("carol"))
	assert.Equal(t, StatusAbandoned, l.Status())
	_, ok := store.Get(l.Code)
	assert.False(t, ok)
	assert.ErrorIs(t, l.Join("dave"), ErrLobbyClosed)
}

func TestToggleReady(t *testing.T) {
	store := newTestStore(t, 4)
	l, err := store.Create("alice", maze.Small)
	require.NoError(t, err)
	require.NoError(t, l.Join("bob"))

	ready, err := l.ToggleReady("bob")
	require.NoError(t, err)
	assert.True(t, ready)

	v := l.View()
	assert.False(t, v.Members[0].IsReady)
	assert.True(t, v.Members[0].IsHost)
	assert.True(t, v.Members[1].IsReady)

	ready, err = l.ToggleReady("bob")
	require.NoError(t, err)
	assert.False(t, ready)

	_, err = l.ToggleReady("mallory")
	assert.ErrorIs(t, err, ErrNotInLobby)
}

func TestStartRules(t *testing.T) {
	store := newTestStore(t, 4)
	var started []string
	store.OnStart(func(l *Lobby) error {
		started = append(started, l.Code)
		assert.Equal(t, StatusWaiting, l.Status(), "not in game until the hook succeeds")
		assert.ErrorIs(t, l.Start("alice"), ErrAlreadyStarted)
		return nil
	})
	l, err := store.Create("alice", maze.Small)
	require.NoError(t, err)
	require.NoError(t, l.Join("bob"))

	assert.ErrorIs(t, l.Start("bob"), ErrNotHost)
	assert.ErrorIs(t, l.Start("alice"), ErrNotAllReady)

	_, err = l.ToggleReady("alice")
	require.NoError(t, err)
	_, err = l.ToggleReady("bob")
	require.NoError(t, err)

	require.NoError(t, l.Start("alice"))
	assert.Equal(t, StatusInGame, l.Status())
	assert.Equal(t, []string{l.Code}, started)
	assert.ErrorIs(t, l.Start("alice"), ErrAlreadyStarted)
	assert.ErrorIs(t, l.Join("carol"), ErrAlreadyStarted)

	store.Finish(l.Code)
	assert.Equal(t, StatusWaiting, l.Status())
	for _, m := range l.View().Members {
		assert.False(t, m.IsReady)
	}
}

func TestStartHookFailureRevertsToWaiting(t *testing.T) {
	store := newTestStore(t, 4)
	store.OnStart(func(*Lobby) error { return errors.New("maze unavailable") })
	l, err := store.Create("alice", maze.Small)
	require.NoError(t, err)
	_, err = l.ToggleReady("alice")
	require.NoError(t, err)

	assert.Error(t, l.Start("alice"))
	assert.Equal(t, StatusWaiting, l.Status())
}

func TestListOrderedByCode(t *testing.T) {
	store := newTestStore(t, 4)
	for _, host := range []string{"a", "b", "c"} {
		_, err := store.Create(host, maze.Small)
		require.NoError(t, err)
	}
	views := store.List()
	require.Len(t, views, 3)
	for i := 1; i < len(views); i++ {
		assert.Less(t, views[i-1].Code, views[i].Code)
	}
}
