// internal/game/service.go

// Package game holds the race event handlers: it validates commands against
// the session registry, commits state, and publishes the resulting events.
package game

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jason-s-yu/mazerush/internal/broadcast"
	"github.com/jason-s-yu/mazerush/internal/maze"
	"github.com/jason-s-yu/mazerush/internal/models"
	"github.com/jason-s-yu/mazerush/internal/powerup"
	"github.com/jason-s-yu/mazerush/internal/session"
	"github.com/sirupsen/logrus"
)

// StatsRecorder persists the final standings of a race.
type StatsRecorder interface {
	RecordRace(ctx context.Context, lobby string, results []models.RaceResult) error
}

// OnAllFinishedFunc runs once per session after every player has finished.
type OnAllFinishedFunc func(lobby string, results []models.RaceResult)

// Options tunes a Service. Zero values fall back to DefaultOptions.
type Options struct {
	Namespace       string
	MazeSize        maze.SizeClass
	PowerUps        powerup.Config
	PublishTimeout  time.Duration
	SyncConcurrency int
	Seed            int64 // 0 seeds from the clock
}

func DefaultOptions() Options {
	return Options{
		Namespace:       "maze",
		MazeSize:        maze.Small,
		PowerUps:        powerup.DefaultConfig(),
		PublishTimeout:  2 * time.Second,
		SyncConcurrency: 8,
	}
}

// Service implements the join, move, finish and leave handlers for every
// lobby in one process.
type Service struct {
	registry  *session.Registry
	publisher broadcast.Publisher
	provider  maze.Provider
	arenas    *ArenaStore
	opts      Options
	logger    *logrus.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	hookMu        sync.RWMutex
	stats         StatsRecorder
	onAllFinished []OnAllFinishedFunc
}

// NewService wires the handlers to their collaborators. The registry's
// eviction hook is used to forget a lobby's grid once its race is over.
func NewService(registry *session.Registry, publisher broadcast.Publisher, provider maze.Provider, opts Options, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	def := DefaultOptions()
	if opts.Namespace == "" {
		opts.Namespace = def.Namespace
	}
	if opts.MazeSize == "" {
		opts.MazeSize = def.MazeSize
	}
	if opts.PowerUps.Quota == nil {
		opts.PowerUps = def.PowerUps
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = def.PublishTimeout
	}
	if opts.SyncConcurrency < 1 {
		opts.SyncConcurrency = def.SyncConcurrency
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	s := &Service{
		registry:  registry,
		publisher: publisher,
		provider:  provider,
		arenas:    NewArenaStore(),
		opts:      opts,
		logger:    logger,
		rng:       rand.New(rand.NewSource(seed)),
	}
	registry.OnEvict(s.arenas.Delete)
	return s
}

// Registry exposes the session registry the service operates on.
func (s *Service) Registry() *session.Registry { return s.registry }

// Namespace is the topic prefix used for every publish.
func (s *Service) Namespace() string { return s.opts.Namespace }

// SetStatsRecorder installs the collaborator that persists race results.
func (s *Service) SetStatsRecorder(r StatsRecorder) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.stats = r
}

// OnAllFinished registers fn to run when a race completes.
func (s *Service) OnAllFinished(fn OnAllFinishedFunc) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.onAllFinished = append(s.onAllFinished, fn)
}

// PrepareMatch generates the grid lobby will race on. A previous race that
// has already been announced as finished is dropped, and its connected
// players rejoin with a join command. It refuses while a previous race is
// still running.
func (s *Service) PrepareMatch(ctx context.Context, lobby string, size maze.SizeClass) (*maze.Grid, error) {
	if s.registry.EvictCompleted(lobby) {
		s.logger.WithField("lobby", lobby).Info("finished race replaced by rematch")
	}
	if s.registry.SessionExists(lobby) {
		return nil, &Error{Kind: KindConflict, Reason: "race still in progress"}
	}
	if size == "" {
		size = s.opts.MazeSize
	}
	g, err := s.provider.Generate(ctx, size)
	if err != nil {
		return nil, &Error{Kind: KindNotActive, Reason: "maze unavailable", Err: err}
	}
	s.arenas.Set(lobby, g)
	s.logger.WithFields(logrus.Fields{
		"lobby": lobby,
		"size":  size,
	}).Info("match prepared")
	return g, nil
}

// gridFor returns the grid a new session in lobby should bind.
func (s *Service) gridFor(ctx context.Context, lobby string) (*maze.Grid, error) {
	if g, ok := s.registry.Grid(lobby); ok {
		return g, nil
	}
	if g, ok := s.arenas.Get(lobby); ok {
		return g, nil
	}
	g, err := s.provider.Generate(ctx, s.opts.MazeSize)
	if err != nil {
		return nil, &Error{Kind: KindNotActive, Reason: "maze unavailable", Err: err}
	}
	return s.arenas.LoadOrStore(lobby, g), nil
}

// Handle dispatches a decoded command.
func (s *Service) Handle(ctx context.Context, lobby string, cmd Command) error {
	var err error
	switch c := cmd.(type) {
	case JoinCommand:
		_, err = s.Join(ctx, lobby, c.Username)
	case MoveCommand:
		_, err = s.Move(ctx, lobby, c.Username, c.Direction)
	case FinishCommand:
		_, err = s.Finish(ctx, lobby, c.Username)
	case LeaveCommand:
		err = s.Leave(ctx, lobby, c.Username)
	default:
		err = validationError("unsupported command", nil)
	}
	return err
}

// Join adds username to lobby's race, creating the session on first use.
// Joining twice changes nothing but still resends the private sync.
func (s *Service) Join(ctx context.Context, lobby, username string) (session.PlayerState, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return session.PlayerState{}, ErrMissingName
	}
	if lobby == "" {
		return session.PlayerState{}, validationError("missing lobby code", nil)
	}
	grid, err := s.gridFor(ctx, lobby)
	if err != nil {
		return session.PlayerState{}, err
	}
	res, err := s.registry.AddPlayer(lobby, username, grid)
	if err != nil {
		return session.PlayerState{}, &Error{Kind: KindNotActive, Reason: "cannot create session", Err: err}
	}
	log := s.logger.WithFields(logrus.Fields{"lobby": lobby, "username": username})

	if res.SessionCreated {
		s.spawnPowerUps(lobby, grid)
	}
	if res.Inserted {
		log.Info("player joined race")
		s.publish(ctx, broadcast.Topic(s.opts.Namespace, lobby, broadcast.ChannelEvents), models.GameEvent{
			Type:      models.EventPlayerJoined,
			Username:  username,
			Timestamp: s.millis(),
			Payload: map[string]any{
				"position":    res.State.Position,
				"avatarColor": res.State.AvatarColor,
			},
		})
	}

	ev := s.syncEvent(lobby)
	ev.Maze = layoutOf(grid)
	s.publish(ctx, broadcast.UserTopic(s.opts.Namespace, lobby, username), ev)
	return res.State, nil
}

func (s *Service) spawnPowerUps(lobby string, grid *maze.Grid) {
	players := s.registry.Players(lobby)
	occupied := make([]maze.Position, 0, len(players))
	for _, p := range players {
		occupied = append(occupied, p.Position)
	}
	s.rngMu.Lock()
	items := powerup.Generate(grid, occupied, s.opts.PowerUps, s.rng)
	s.rngMu.Unlock()

	if s.registry.SpawnPowerUps(lobby, items) {
		s.logger.WithFields(logrus.Fields{
			"lobby":    lobby,
			"powerUps": len(items),
		}).Debug("power-ups spawned")
	}
}

// Move validates one step for username and commits it. A rejected move
// leaves the player where it was and publishes nothing.
func (s *Service) Move(ctx context.Context, lobby, username, direction string) (session.PlayerState, error) {
	dir, err := maze.ParseDirection(direction)
	if err != nil {
		return session.PlayerState{}, validationError(err.Error(), err)
	}
	grid, ok := s.registry.Grid(lobby)
	if !ok {
		return session.PlayerState{}, &Error{Kind: KindNotActive, Reason: "no active session", Err: session.ErrSessionNotFound}
	}

	st, err := s.registry.Advance(lobby, username, func(cur session.PlayerState, now time.Time) (maze.Position, error) {
		if cur.Finished {
			return cur.Position, ErrAlreadyFinished
		}
		if cur.HasEffect(powerup.Freeze, now) {
			return cur.Position, ErrFrozen
		}
		d := dir
		if cur.HasEffect(powerup.Confusion, now) {
			d = d.Opposite()
		}
		next, err := maze.TryMove(grid, cur.Position, d)
		if err != nil {
			return cur.Position, validationError(err.Error(), err)
		}
		return next, nil
	})
	if err != nil {
		return st, s.registryError(err)
	}

	s.publish(ctx, broadcast.Topic(s.opts.Namespace, lobby, broadcast.ChannelMove), models.MoveEvent{
		Type:      models.EventPlayerMove,
		Username:  username,
		Position:  st.Position,
		Timestamp: s.millis(),
	})

	if item, ok := s.registry.CheckAndCollect(lobby, st.Position); ok {
		s.collect(ctx, lobby, username, item)
	}
	if st.Position == grid.Goal() {
		if _, err := s.Finish(ctx, lobby, username); err != nil {
			return st, err
		}
	}
	if latest, ok := s.registry.Player(lobby, username); ok {
		st = latest
	}
	return st, nil
}

// collect applies a picked-up power-up. Fog clear helps the collector;
// freeze and confusion hit every opponent still racing.
func (s *Service) collect(ctx context.Context, lobby, username string, item powerup.PowerUp) {
	var targets []string
	if item.Type.TargetsOpponents() {
		for _, p := range s.registry.Players(lobby) {
			if p.Username == username || p.Finished {
				continue
			}
			if _, ok := s.registry.ApplyEffect(lobby, p.Username, item.Type, item.Duration()); ok {
				targets = append(targets, p.Username)
			}
		}
	} else if _, ok := s.registry.ApplyEffect(lobby, username, item.Type, item.Duration()); ok {
		targets = append(targets, username)
	}

	s.logger.WithFields(logrus.Fields{
		"lobby":    lobby,
		"username": username,
		"powerUp":  item.Type,
		"targets":  targets,
	}).Debug("power-up collected")

	s.publish(ctx, broadcast.Topic(s.opts.Namespace, lobby, broadcast.ChannelEvents), models.GameEvent{
		Type:      models.EventPowerUpCollected,
		Username:  username,
		Timestamp: s.millis(),
		Payload: map[string]any{
			"powerUp":         item.Type,
			"position":        item.Position,
			"durationSeconds": item.DurationSeconds,
			"targets":         targets,
		},
	})
}

// Finish marks username as finished. Only the first call for a player
// publishes player_finished; later calls return the recorded time.
func (s *Service) Finish(ctx context.Context, lobby, username string) (session.PlayerState, error) {
	st, changed, ok := s.registry.MarkFinished(lobby, username)
	if !ok {
		if !s.registry.SessionExists(lobby) {
			return st, &Error{Kind: KindNotActive, Reason: "no active session", Err: session.ErrSessionNotFound}
		}
		return st, ErrPlayerNotFound
	}
	if !changed {
		return st, nil
	}

	s.logger.WithFields(logrus.Fields{
		"lobby":    lobby,
		"username": username,
		"seconds":  st.FinishTimeSeconds,
	}).Info("player finished")
	s.publish(ctx, broadcast.Topic(s.opts.Namespace, lobby, broadcast.ChannelEvents), models.GameEvent{
		Type:      models.EventPlayerFinished,
		Username:  username,
		Timestamp: s.millis(),
		Payload: map[string]any{
			"finishTimeSeconds": st.FinishTimeSeconds,
		},
	})
	s.checkAllFinished(ctx, lobby)
	return st, nil
}

// Leave removes username from lobby. A second leave for the same player
// reports ErrPlayerNotFound.
func (s *Service) Leave(ctx context.Context, lobby, username string) error {
	if !s.remove(ctx, lobby, username, "left") {
		return ErrPlayerNotFound
	}
	return nil
}

// Disconnect is Leave for a dropped connection; removing a player that is
// already gone is not an error.
func (s *Service) Disconnect(ctx context.Context, lobby, username string) error {
	s.remove(ctx, lobby, username, "disconnected")
	return nil
}

func (s *Service) remove(ctx context.Context, lobby, username, reason string) bool {
	_, evicted, ok := s.registry.RemovePlayer(lobby, username)
	if !ok {
		return false
	}
	s.logger.WithFields(logrus.Fields{
		"lobby":    lobby,
		"username": username,
		"reason":   reason,
		"evicted":  evicted,
	}).Info("player removed from race")
	s.publish(ctx, broadcast.Topic(s.opts.Namespace, lobby, broadcast.ChannelEvents), models.GameEvent{
		Type:      models.EventPlayerLeft,
		Username:  username,
		Timestamp: s.millis(),
		Payload:   map[string]any{"reason": reason},
	})
	if !evicted {
		s.checkAllFinished(ctx, lobby)
	}
	return true
}

// checkAllFinished announces the end of the race exactly once per session.
func (s *Service) checkAllFinished(ctx context.Context, lobby string) {
	if !s.registry.AllFinished(lobby) || !s.registry.ClaimAllFinished(lobby) {
		return
	}
	results := rankResults(s.registry.Players(lobby))
	s.logger.WithFields(logrus.Fields{
		"lobby":   lobby,
		"players": len(results),
	}).Info("all players finished")
	s.publish(ctx, broadcast.Topic(s.opts.Namespace, lobby, broadcast.ChannelEvents), models.GameEvent{
		Type:      models.EventAllFinished,
		Timestamp: s.millis(),
		Payload:   map[string]any{"results": results},
	})

	s.hookMu.RLock()
	stats := s.stats
	hooks := append([]OnAllFinishedFunc(nil), s.onAllFinished...)
	s.hookMu.RUnlock()

	if stats != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := stats.RecordRace(rctx, lobby, results); err != nil {
			s.logger.WithError(err).WithField("lobby", lobby).Warn("failed to record race results")
		}
		cancel()
	}
	for _, fn := range hooks {
		fn(lobby, results)
	}
}

// rankResults orders finishers by time, ties broken by username.
func rankResults(players []session.PlayerState) []models.RaceResult {
	sorted := append([]session.PlayerState(nil), players...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Finished != b.Finished {
			return a.Finished
		}
		if a.FinishTimeSeconds != b.FinishTimeSeconds {
			return a.FinishTimeSeconds < b.FinishTimeSeconds
		}
		return a.Username < b.Username
	})
	out := make([]models.RaceResult, len(sorted))
	for i, p := range sorted {
		out[i] = models.RaceResult{
			Username:          p.Username,
			Rank:              i + 1,
			Finished:          p.Finished,
			FinishTimeSeconds: p.FinishTimeSeconds,
		}
	}
	return out
}

// registryError maps registry and step errors onto the service taxonomy.
func (s *Service) registryError(err error) error {
	var ge *Error
	switch {
	case errors.As(err, &ge):
		return ge
	case errors.Is(err, session.ErrSessionNotFound):
		return &Error{Kind: KindNotActive, Reason: "no active session", Err: err}
	case errors.Is(err, session.ErrPlayerNotFound):
		return ErrPlayerNotFound
	default:
		return &Error{Kind: KindNotActive, Reason: err.Error(), Err: err}
	}
}

// publish sends payload and logs a failure. The state change that produced
// the event has already happened, so the error is only returned for
// bookkeeping.
func (s *Service) publish(ctx context.Context, topic string, payload any) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.PublishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pctx, topic, payload); err != nil {
		terr := &Error{Kind: KindTransport, Reason: "publish failed", Err: err}
		s.logger.WithError(err).WithField("topic", topic).Warn(terr.Error())
		return terr
	}
	return nil
}

func (s *Service) syncEvent(lobby string) models.SyncEvent {
	players := s.registry.Players(lobby)
	snaps := make([]models.PlayerSnapshot, 0, len(players))
	for _, p := range players {
		snaps = append(snaps, snapshotOf(p))
	}
	items := s.registry.PowerUps(lobby)
	if items == nil {
		items = []powerup.PowerUp{}
	}
	ev := models.SyncEvent{
		Type:      models.EventSync,
		Lobby:     lobby,
		Players:   snaps,
		PowerUps:  items,
		Timestamp: s.millis(),
	}
	if started, ok := s.registry.StartedAt(lobby); ok {
		ev.StartedAt = started.UnixMilli()
	}
	return ev
}

func snapshotOf(p session.PlayerState) models.PlayerSnapshot {
	snap := models.PlayerSnapshot{
		Username:          p.Username,
		Position:          p.Position,
		Finished:          p.Finished,
		FinishTimeSeconds: p.FinishTimeSeconds,
		AvatarColor:       p.AvatarColor,
	}
	if len(p.Effects) > 0 {
		snap.ActiveEffects = make(map[string]time.Time, len(p.Effects))
		for t, exp := range p.Effects {
			snap.ActiveEffects[string(t)] = exp
		}
	}
	return snap
}

func layoutOf(g *maze.Grid) *models.MazeLayout {
	return &models.MazeLayout{
		Width:  g.Width(),
		Height: g.Height(),
		Rows:   g.Rows(),
		Start:  g.Start(),
		Goal:   g.Goal(),
	}
}

func (s *Service) millis() int64 {
	return s.registry.Now().UnixMilli()
}
