// internal/game/scheduler.go
package game

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jason-s-yu/mazerush/internal/broadcast"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// SyncAll publishes a full snapshot of every live lobby to its sync topic.
// Lobbies are published concurrently, at most SyncConcurrency at a time, and
// a failure or panic in one lobby never stops the others.
func (s *Service) SyncAll(ctx context.Context) (published, failed int) {
	var ok, bad atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.opts.SyncConcurrency)

	for _, lobby := range s.registry.Lobbies() {
		g.Go(func() error {
			sent, err := s.syncLobby(ctx, lobby)
			switch {
			case err != nil:
				bad.Add(1)
			case sent:
				ok.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	published, failed = int(ok.Load()), int(bad.Load())
	if failed > 0 {
		s.logger.WithFields(logrus.Fields{
			"published": published,
			"failed":    failed,
		}).Warn("sync sweep finished with failures")
	}
	return published, failed
}

func (s *Service) syncLobby(ctx context.Context, lobby string) (sent bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.logger.WithField("lobby", lobby).Errorf("recovered from panic during sync: %v", r)
		}
	}()
	ev := s.syncEvent(lobby)
	if len(ev.Players) == 0 {
		return false, nil
	}
	if err := s.publish(ctx, broadcast.Topic(s.opts.Namespace, lobby, broadcast.ChannelSync), ev); err != nil {
		return false, err
	}
	return true, nil
}

// ReapEmpty evicts sessions left with no players.
func (s *Service) ReapEmpty() []string {
	reaped := s.registry.ReapEmpty()
	if len(reaped) > 0 {
		s.logger.WithField("lobbies", reaped).Info("reaped empty sessions")
	}
	return reaped
}

// Scheduler drives the periodic sync broadcast and the empty-session reaper.
type Scheduler struct {
	svc       *Service
	syncEvery time.Duration
	reapEvery time.Duration
	logger    *logrus.Logger
	wg        sync.WaitGroup
}

func NewScheduler(svc *Service, syncEvery, reapEvery time.Duration, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if syncEvery <= 0 {
		syncEvery = 5 * time.Second
	}
	if reapEvery <= 0 {
		reapEvery = 60 * time.Second
	}
	return &Scheduler{
		svc:       svc,
		syncEvery: syncEvery,
		reapEvery: reapEvery,
		logger:    logger,
	}
}

// Start launches both loops. They stop when ctx is cancelled; a sweep that
// is already running finishes first.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(2)
	go s.loop(ctx, "sync", s.syncEvery, func(sweepCtx context.Context) {
		s.svc.SyncAll(sweepCtx)
	})
	go s.loop(ctx, "reap", s.reapEvery, func(context.Context) {
		s.svc.ReapEmpty()
	})
}

// Wait blocks until both loops have returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, every time.Duration, sweep func(context.Context)) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	s.logger.Infof("scheduler: %s loop started (every %s)", name, every)

	for {
		select {
		case <-ctx.Done():
			s.logger.Infof("scheduler: %s loop stopped", name)
			return
		case <-ticker.C:
			s.runSweep(context.WithoutCancel(ctx), name, sweep)
		}
	}
}

func (s *Scheduler) runSweep(ctx context.Context, name string, sweep func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("scheduler: recovered from panic in %s sweep: %v", name, r)
		}
	}()
	sweep(ctx)
}
