// internal/game/service_test.go
package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jason-s-yu/mazerush/internal/maze"
	"github.com/jason-s-yu/mazerush/internal/models"
	"github.com/jason-s-yu/mazerush/internal/powerup"
	"github.com/jason-s-yu/mazerush/internal/session"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishedMsg struct {
	topic   string
	payload any
}

// recordingPublisher collects publishes instead of sending them anywhere.
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []publishedMsg
	fail func(topic string) error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload any) error {
	if p.fail != nil {
		if err := p.fail(topic); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, publishedMsg{topic: topic, payload: payload})
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

func (p *recordingPublisher) onTopic(topic string) []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []any
	for _, m := range p.msgs {
		if m.topic == topic {
			out = append(out, m.payload)
		}
	}
	return out
}

func (p *recordingPublisher) events(topic string, typ models.EventType) []models.GameEvent {
	var out []models.GameEvent
	for _, payload := range p.onTopic(topic) {
		if ev, ok := payload.(models.GameEvent); ok && ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// noPowerUps keeps the board empty so movement tests are deterministic.
func noPowerUps() powerup.Config {
	return powerup.Config{Quota: map[powerup.Type]int{}, MinSeconds: 5, MaxSeconds: 10}
}

func onlyPowerUp(t powerup.Type, seconds int) powerup.Config {
	return powerup.Config{
		Quota:      map[powerup.Type]int{t: 1},
		Order:      []powerup.Type{t},
		MinSeconds: seconds,
		MaxSeconds: seconds,
	}
}

// setupService builds a Service over grid with a recording publisher and a
// fake clock.
func setupService(t *testing.T, grid *maze.Grid, pu powerup.Config) (*Service, *recordingPublisher, *fakeClock, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	reg := session.NewRegistry(logger)
	clock := newFakeClock()
	reg.SetClock(clock.Now)
	pub := &recordingPublisher{}
	svc := NewService(reg, pub, maze.StaticProvider{Grid: grid}, Options{
		Namespace:      "maze",
		PowerUps:       pu,
		PublishTimeout: time.Second,
		Seed:           42,
	}, logger)
	return svc, pub, clock, hook
}

// raceGrid:
//
//	.....
//	.#...
//	.....
func raceGrid() *maze.Grid {
	return maze.MustGrid([]string{
		".....",
		".#...",
		".....",
	}, maze.Position{X: 0, Y: 0}, maze.Position{X: 4, Y: 2})
}

// corridor is a single row; the only free cell for power-ups is (1,0).
func corridor() *maze.Grid {
	return maze.MustGrid([]string{"..."}, maze.Position{X: 0, Y: 0}, maze.Position{X: 2, Y: 0})
}

func TestRaceScenario(t *testing.T) {
	ctx := context.Background()
	svc, pub, clock, _ := setupService(t, raceGrid(), noPowerUps())
	const lobby = "ABC123"

	var finishedCalls int
	var finalResults []models.RaceResult
	svc.OnAllFinished(func(code string, results []models.RaceResult) {
		assert.Equal(t, lobby, code)
		finishedCalls++
		finalResults = results
	})

	st, err := svc.Join(ctx, lobby, "alice")
	require.NoError(t, err)
	assert.Equal(t, maze.Position{X: 0, Y: 0}, st.Position)

	joined := pub.events("maze/ABC123/events", models.EventPlayerJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, "alice", joined[0].Username)

	private := pub.onTopic("maze/ABC123/sync/alice")
	require.Len(t, private, 1)
	snap, ok := private[0].(models.SyncEvent)
	require.True(t, ok)
	require.NotNil(t, snap.Maze)
	assert.Equal(t, 5, snap.Maze.Width)
	assert.Len(t, snap.Players, 1)
	assert.Equal(t, clock.Now().UnixMilli(), snap.StartedAt)

	// Joining again is a no-op apart from the private sync.
	_, err = svc.Join(ctx, lobby, "alice")
	require.NoError(t, err)
	assert.Len(t, pub.events("maze/ABC123/events", models.EventPlayerJoined), 1)
	assert.Len(t, pub.onTopic("maze/ABC123/sync/alice"), 2)

	_, err = svc.Join(ctx, lobby, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, svc.Registry().PlayerCount(lobby))

	st, err = svc.Move(ctx, lobby, "alice", "RIGHT")
	require.NoError(t, err)
	assert.Equal(t, maze.Position{X: 1, Y: 0}, st.Position)
	moves := pub.onTopic("maze/ABC123/move")
	require.Len(t, moves, 1)
	assert.Equal(t, maze.Position{X: 1, Y: 0}, moves[0].(models.MoveEvent).Position)

	clock.Advance(12500 * time.Millisecond)
	st, err = svc.Finish(ctx, lobby, "alice")
	require.NoError(t, err)
	assert.True(t, st.Finished)
	assert.InDelta(t, 12.5, st.FinishTimeSeconds, 0.001)
	require.Len(t, pub.events("maze/ABC123/events", models.EventPlayerFinished), 1)

	clock.Advance(time.Second)
	st, err = svc.Finish(ctx, lobby, "alice")
	require.NoError(t, err)
	assert.InDelta(t, 12.5, st.FinishTimeSeconds, 0.001, "finish time never changes")
	assert.Len(t, pub.events("maze/ABC123/events", models.EventPlayerFinished), 1)

	_, err = svc.Move(ctx, lobby, "alice", "RIGHT")
	assert.ErrorIs(t, err, ErrAlreadyFinished)

	_, err = svc.Finish(ctx, lobby, "bob")
	require.NoError(t, err)
	assert.Len(t, pub.events("maze/ABC123/events", models.EventAllFinished), 1)
	require.Equal(t, 1, finishedCalls)
	require.Len(t, finalResults, 2)
	assert.Equal(t, "alice", finalResults[0].Username)
	assert.Equal(t, 1, finalResults[0].Rank)
	assert.Equal(t, "bob", finalResults[1].Username)

	require.NoError(t, svc.Leave(ctx, lobby, "alice"))
	assert.ErrorIs(t, svc.Leave(ctx, lobby, "alice"), ErrPlayerNotFound)
	require.NoError(t, svc.Disconnect(ctx, lobby, "bob"))
	require.NoError(t, svc.Disconnect(ctx, lobby, "bob"))
	assert.False(t, svc.Registry().SessionExists(lobby))
	assert.Len(t, pub.events("maze/ABC123/events", models.EventPlayerLeft), 2)
	assert.Equal(t, 1, finishedCalls)
}

func TestMoveRejectionsDoNotBroadcast(t *testing.T) {
	ctx := context.Background()
	svc, pub, _, _ := setupService(t, raceGrid(), noPowerUps())
	_, err := svc.Join(ctx, "L1", "alice")
	require.NoError(t, err)
	_, err = svc.Move(ctx, "L1", "alice", "right")
	require.NoError(t, err)
	before := pub.count()

	cases := []struct {
		dir  string
		want error
	}{
		{"UP", maze.ErrOutOfBounds},
		{"DOWN", maze.ErrBlocked},
		{"SIDEWAYS", maze.ErrInvalidDirection},
		{"", maze.ErrInvalidDirection},
	}
	for _, tc := range cases {
		t.Run(tc.dir, func(t *testing.T) {
			_, err := svc.Move(ctx, "L1", "alice", tc.dir)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, KindValidation, KindOf(err))
			st, ok := svc.Registry().Player("L1", "alice")
			require.True(t, ok)
			assert.Equal(t, maze.Position{X: 1, Y: 0}, st.Position)
		})
	}
	assert.Equal(t, before, pub.count())
}

func TestOperationsOnMissingSession(t *testing.T) {
	ctx := context.Background()
	svc, pub, _, _ := setupService(t, raceGrid(), noPowerUps())

	_, err := svc.Move(ctx, "NOPE", "alice", "UP")
	assert.ErrorIs(t, err, ErrNotActive)
	assert.True(t, errors.Is(err, session.ErrSessionNotFound))

	_, err = svc.Finish(ctx, "NOPE", "alice")
	assert.Equal(t, KindNotActive, KindOf(err))

	assert.ErrorIs(t, svc.Leave(ctx, "NOPE", "alice"), ErrPlayerNotFound)
	assert.NoError(t, svc.Disconnect(ctx, "NOPE", "alice"))

	_, err = svc.Join(ctx, "L1", "   ")
	assert.ErrorIs(t, err, ErrMissingName)

	_, err = svc.Join(ctx, "L1", "alice")
	require.NoError(t, err)
	_, err = svc.Move(ctx, "L1", "mallory", "RIGHT")
	assert.ErrorIs(t, err, ErrPlayerNotFound)
	_, err = svc.Finish(ctx, "L1", "mallory")
	assert.ErrorIs(t, err, ErrPlayerNotFound)

	assert.Empty(t, pub.onTopic("maze/NOPE/events"))
}

func TestLeaveDisconnectRace(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		svc, pub, _, _ := setupService(t, raceGrid(), noPowerUps())
		_, err := svc.Join(ctx, "L1", "alice")
		require.NoError(t, err)
		_, err = svc.Join(ctx, "L1", "bob")
		require.NoError(t, err)

		var wg sync.WaitGroup
		var leaveErr, discErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			leaveErr = svc.Leave(ctx, "L1", "alice")
		}()
		go func() {
			defer wg.Done()
			discErr = svc.Disconnect(ctx, "L1", "alice")
		}()
		wg.Wait()

		assert.NoError(t, discErr)
		if leaveErr != nil {
			assert.ErrorIs(t, leaveErr, ErrPlayerNotFound)
		}
		assert.Len(t, pub.events("maze/L1/events", models.EventPlayerLeft), 1)
		assert.Equal(t, 1, svc.Registry().PlayerCount("L1"))
	}
}

func TestFreezePickup(t *testing.T) {
	ctx := context.Background()
	svc, pub, clock, _ := setupService(t, corridor(), onlyPowerUp(powerup.Freeze, 5))

	_, err := svc.Join(ctx, "L1", "alice")
	require.NoError(t, err)
	_, err = svc.Join(ctx, "L1", "bob")
	require.NoError(t, err)
	require.Equal(t, []powerup.PowerUp{{Type: powerup.Freeze, Position: maze.Position{X: 1, Y: 0}, DurationSeconds: 5}},
		svc.Registry().PowerUps("L1"))

	_, err = svc.Move(ctx, "L1", "alice", "RIGHT")
	require.NoError(t, err)
	assert.Empty(t, svc.Registry().PowerUps("L1"))
	collected := pub.events("maze/L1/events", models.EventPowerUpCollected)
	require.Len(t, collected, 1)
	assert.Equal(t, []string{"bob"}, collected[0].Payload["targets"])

	assert.False(t, svc.Registry().HasEffect("L1", "alice", powerup.Freeze))
	assert.True(t, svc.Registry().HasEffect("L1", "bob", powerup.Freeze))

	before := pub.count()
	_, err = svc.Move(ctx, "L1", "bob", "RIGHT")
	assert.ErrorIs(t, err, ErrFrozen)
	assert.Equal(t, before, pub.count())

	clock.Advance(5 * time.Second)
	st, err := svc.Move(ctx, "L1", "bob", "RIGHT")
	require.NoError(t, err)
	assert.Equal(t, maze.Position{X: 1, Y: 0}, st.Position)
}

func TestConfusionInvertsDirection(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := setupService(t, corridor(), onlyPowerUp(powerup.Confusion, 10))

	_, err := svc.Join(ctx, "L1", "alice")
	require.NoError(t, err)
	_, err = svc.Join(ctx, "L1", "bob")
	require.NoError(t, err)
	_, err = svc.Move(ctx, "L1", "alice", "RIGHT")
	require.NoError(t, err)

	st, err := svc.Move(ctx, "L1", "bob", "LEFT")
	require.NoError(t, err)
	assert.Equal(t, maze.Position{X: 1, Y: 0}, st.Position)

	// RIGHT becomes LEFT, back to the start.
	st, err = svc.Move(ctx, "L1", "bob", "RIGHT")
	require.NoError(t, err)
	assert.Equal(t, maze.Position{X: 0, Y: 0}, st.Position)
}

func TestFogClearAppliesToCollector(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := setupService(t, corridor(), onlyPowerUp(powerup.FogClear, 7))

	_, err := svc.Join(ctx, "L1", "alice")
	require.NoError(t, err)
	_, err = svc.Join(ctx, "L1", "bob")
	require.NoError(t, err)
	st, err := svc.Move(ctx, "L1", "alice", "RIGHT")
	require.NoError(t, err)

	assert.Contains(t, st.Effects, powerup.FogClear)
	assert.False(t, svc.Registry().HasEffect("L1", "bob", powerup.FogClear))
}

func TestMoveOntoGoalFinishes(t *testing.T) {
	ctx := context.Background()
	svc, pub, clock, _ := setupService(t, corridor(), noPowerUps())

	_, err := svc.Join(ctx, "L1", "alice")
	require.NoError(t, err)
	_, err = svc.Move(ctx, "L1", "alice", "RIGHT")
	require.NoError(t, err)
	clock.Advance(3 * time.Second)
	st, err := svc.Move(ctx, "L1", "alice", "RIGHT")
	require.NoError(t, err)

	assert.True(t, st.Finished)
	assert.InDelta(t, 3.0, st.FinishTimeSeconds, 0.001)
	assert.Len(t, pub.events("maze/L1/events", models.EventPlayerFinished), 1)
	assert.Len(t, pub.events("maze/L1/events", models.EventAllFinished), 1)
}

type recordingStats struct {
	mu    sync.Mutex
	races map[string][]models.RaceResult
}

func (r *recordingStats) RecordRace(_ context.Context, lobby string, results []models.RaceResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.races == nil {
		r.races = make(map[string][]models.RaceResult)
	}
	r.races[lobby] = results
	return nil
}

func TestAllFinishedAfterUnfinishedPlayerLeaves(t *testing.T) {
	ctx := context.Background()
	svc, pub, _, _ := setupService(t, raceGrid(), noPowerUps())
	stats := &recordingStats{}
	svc.SetStatsRecorder(stats)

	for _, name := range []string{"alice", "bob", "carol"} {
		_, err := svc.Join(ctx, "L1", name)
		require.NoError(t, err)
	}
	_, err := svc.Finish(ctx, "L1", "alice")
	require.NoError(t, err)
	_, err = svc.Finish(ctx, "L1", "bob")
	require.NoError(t, err)
	assert.Empty(t, pub.events("maze/L1/events", models.EventAllFinished))

	require.NoError(t, svc.Leave(ctx, "L1", "carol"))
	assert.Len(t, pub.events("maze/L1/events", models.EventAllFinished), 1)
	require.Len(t, stats.races["L1"], 2)
}

func TestConcurrentFinishSingleAnnouncement(t *testing.T) {
	ctx := context.Background()
	svc, pub, _, _ := setupService(t, raceGrid(), noPowerUps())
	names := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, n := range names {
		_, err := svc.Join(ctx, "L1", n)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for _, n := range names {
		for k := 0; k < 4; k++ {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				_, _ = svc.Finish(ctx, "L1", name)
			}(n)
		}
	}
	wg.Wait()

	assert.Len(t, pub.events("maze/L1/events", models.EventPlayerFinished), len(names))
	assert.Len(t, pub.events("maze/L1/events", models.EventAllFinished), 1)
}

func TestPublishFailureDoesNotAbortMutation(t *testing.T) {
	ctx := context.Background()
	svc, pub, _, hook := setupService(t, raceGrid(), noPowerUps())
	pub.fail = func(string) error { return errors.New("broker down") }

	_, err := svc.Join(ctx, "L1", "alice")
	require.NoError(t, err)
	st, err := svc.Move(ctx, "L1", "alice", "RIGHT")
	require.NoError(t, err)
	assert.Equal(t, maze.Position{X: 1, Y: 0}, st.Position)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["topic"] == "maze/L1/move" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestPrepareMatch(t *testing.T) {
	ctx := context.Background()
	g := corridor()
	svc, _, _, _ := setupService(t, raceGrid(), noPowerUps())
	svc.provider = maze.StaticProvider{Grid: g}

	got, err := svc.PrepareMatch(ctx, "L1", maze.Small)
	require.NoError(t, err)
	assert.Same(t, g, got)

	_, err = svc.Join(ctx, "L1", "alice")
	require.NoError(t, err)
	bound, ok := svc.Registry().Grid("L1")
	require.True(t, ok)
	assert.Same(t, g, bound)

	_, err = svc.PrepareMatch(ctx, "L1", maze.Small)
	assert.Equal(t, KindConflict, KindOf(err))

	require.NoError(t, svc.Leave(ctx, "L1", "alice"))
	_, ok = svc.arenas.Get("L1")
	assert.False(t, ok, "arena is forgotten on eviction")
}

func TestPrepareMatchReplacesFinishedRace(t *testing.T) {
	ctx := context.Background()
	svc, pub, _, _ := setupService(t, corridor(), noPowerUps())
	rematch := raceGrid()

	_, err := svc.Join(ctx, "L1", "alice")
	require.NoError(t, err)
	_, err = svc.Join(ctx, "L1", "bob")
	require.NoError(t, err)
	_, err = svc.Finish(ctx, "L1", "alice")
	require.NoError(t, err)

	svc.provider = maze.StaticProvider{Grid: rematch}
	_, err = svc.PrepareMatch(ctx, "L1", maze.Small)
	assert.Equal(t, KindConflict, KindOf(err), "bob is still racing")

	_, err = svc.Finish(ctx, "L1", "bob")
	require.NoError(t, err)
	require.Len(t, pub.events("maze/L1/events", models.EventAllFinished), 1)

	// Both players are still attached, but the race is over.
	got, err := svc.PrepareMatch(ctx, "L1", maze.Small)
	require.NoError(t, err)
	assert.Same(t, rematch, got)
	assert.False(t, svc.Registry().SessionExists("L1"))

	st, err := svc.Join(ctx, "L1", "alice")
	require.NoError(t, err)
	assert.False(t, st.Finished)
	bound, ok := svc.Registry().Grid("L1")
	require.True(t, ok)
	assert.Same(t, rematch, bound)

	// bob never rejoined, so his old socket closing leaves the new race alone.
	require.NoError(t, svc.Disconnect(ctx, "L1", "bob"))
	assert.True(t, svc.Registry().SessionExists("L1"))
}

func TestHandleDispatch(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := setupService(t, raceGrid(), noPowerUps())

	require.NoError(t, svc.Handle(ctx, "L1", JoinCommand{Username: "alice"}))
	require.NoError(t, svc.Handle(ctx, "L1", MoveCommand{Username: "alice", Direction: "DOWN"}))
	st, _ := svc.Registry().Player("L1", "alice")
	assert.Equal(t, maze.Position{X: 0, Y: 1}, st.Position)

	require.NoError(t, svc.Handle(ctx, "L1", FinishCommand{Username: "alice"}))
	require.NoError(t, svc.Handle(ctx, "L1", LeaveCommand{Username: "alice"}))
	assert.False(t, svc.Registry().SessionExists("L1"))
}
