// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/mazerush/internal/auth"
	"github.com/jason-s-yu/mazerush/internal/broadcast"
	"github.com/jason-s-yu/mazerush/internal/cache"
	"github.com/jason-s-yu/mazerush/internal/config"
	"github.com/jason-s-yu/mazerush/internal/database"
	"github.com/jason-s-yu/mazerush/internal/game"
	"github.com/jason-s-yu/mazerush/internal/handlers"
	"github.com/jason-s-yu/mazerush/internal/lobby"
	"github.com/jason-s-yu/mazerush/internal/maze"
	"github.com/jason-s-yu/mazerush/internal/session"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	verbose := false
	for _, arg := range os.Args[1:] {
		if arg == "-v" {
			verbose = true
		}
	}

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	if err := run(logger); err != nil {
		logger.Fatalf("server exited: %v", err)
	}
}

func run(logger *logrus.Logger) error {
	cfg := config.Load()
	if cfg.AuthPrivateKeyPath != "" && cfg.AuthPublicKeyPath != "" {
		if err := auth.InitFromPath(cfg.AuthPrivateKeyPath, cfg.AuthPublicKeyPath, cfg.TokenExpireTime); err != nil {
			return err
		}
		logger.Info("loaded auth keys from disk")
	} else if err := auth.Init(cfg.TokenExpireTime); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := broadcast.NewHub(logger)
	var publisher broadcast.Publisher = hub
	relayDone := make(chan struct{})
	if cfg.RedisAddr != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		publisher = broadcast.NewRedisPublisher(rdb)
		go func() {
			defer close(relayDone)
			if err := broadcast.RunRelay(ctx, rdb, broadcast.NamespacePattern(cfg.TopicNamespace), hub, logger); err != nil {
				logger.WithError(err).Error("redis relay stopped")
			}
		}()
		logger.Infof("publishing through redis at %s", cfg.RedisAddr)
	} else {
		close(relayDone)
		logger.Info("REDIS_ADDR not set; publishing in-process only")
	}

	registry := session.NewRegistry(logger)
	race := game.NewService(registry, publisher, maze.NewRandomProvider(0), game.Options{
		Namespace:       cfg.TopicNamespace,
		MazeSize:        cfg.MazeSize,
		PowerUps:        cfg.PowerUps,
		PublishTimeout:  cfg.PublishTimeout,
		SyncConcurrency: cfg.SyncConcurrency,
	}, logger)

	srv := handlers.NewServer(lobby.NewStore(cfg.LobbyMaxPlayers, logger), race, hub, logger)

	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		store := database.NewRaceStore(pool, logger)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		race.SetStatsRecorder(store)
		srv.Stats = store
		logger.Info("race stats recording enabled")
	}

	sched := game.NewScheduler(race, cfg.SyncInterval, cfg.ReapInterval, logger)
	sched.Start(ctx)

	server := &http.Server{
		Handler:           handlers.NewRouter(srv),
		ReadHeaderTimeout: 10 * time.Second,
	}
	l, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	logger.Infof("listening on %s", l.Addr())

	errc := make(chan error, 1)
	go func() {
		errc <- server.Serve(l)
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("failed to serve")
		}
		stop()
	case <-ctx.Done():
		logger.Info("terminating")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
	sched.Wait()
	<-relayDone
	return nil
}
