// internal/database/race.go
package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/mazerush/internal/models"
	"github.com/sirupsen/logrus"
)

const schema = `
CREATE TABLE IF NOT EXISTS races (
	id          UUID PRIMARY KEY,
	lobby_code  TEXT NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS race_results (
	race_id             UUID NOT NULL REFERENCES races (id) ON DELETE CASCADE,
	username            TEXT NOT NULL,
	rank                INT NOT NULL,
	finished            BOOLEAN NOT NULL,
	finish_time_seconds DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (race_id, username)
);
CREATE TABLE IF NOT EXISTS player_stats (
	username          TEXT PRIMARY KEY,
	races             INT NOT NULL DEFAULT 0,
	wins              INT NOT NULL DEFAULT 0,
	best_time_seconds DOUBLE PRECISION
);
`

// RaceStore persists race standings and per-player aggregates.
type RaceStore struct {
	pool   *pgxpool.Pool
	logger *logrus.Logger
}

func NewRaceStore(pool *pgxpool.Pool, logger *logrus.Logger) *RaceStore {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RaceStore{pool: pool, logger: logger}
}

// EnsureSchema creates the race tables if they do not exist.
func (s *RaceStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create race schema: %w", err)
	}
	return nil
}

// RecordRace stores one completed race and folds it into player_stats, all in
// one transaction.
func (s *RaceStore) RecordRace(ctx context.Context, lobby string, results []models.RaceResult) error {
	raceID := uuid.New()
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO races (id, lobby_code) VALUES ($1, $2)`,
			raceID, lobby,
		); err != nil {
			return err
		}

		for _, r := range results {
			q := `
				INSERT INTO race_results (race_id, username, rank, finished, finish_time_seconds)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (race_id, username)
				DO UPDATE SET rank=$3, finished=$4, finish_time_seconds=$5
			`
			if _, err := tx.Exec(ctx, q, raceID, r.Username, r.Rank, r.Finished, r.FinishTimeSeconds); err != nil {
				return err
			}

			won := 0
			if r.Rank == 1 && r.Finished {
				won = 1
			}
			var best *float64
			if r.Finished {
				t := r.FinishTimeSeconds
				best = &t
			}
			upsert := `
				INSERT INTO player_stats (username, races, wins, best_time_seconds)
				VALUES ($1, 1, $2, $3)
				ON CONFLICT (username) DO UPDATE SET
					races = player_stats.races + 1,
					wins = player_stats.wins + $2,
					best_time_seconds = LEAST(player_stats.best_time_seconds, EXCLUDED.best_time_seconds)
			`
			if _, err := tx.Exec(ctx, upsert, r.Username, won, best); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("tx record race for lobby %s: %w", lobby, err)
	}

	s.logger.WithFields(logrus.Fields{
		"lobby":   lobby,
		"race":    raceID,
		"players": len(results),
	}).Info("race recorded")
	return nil
}

// PlayerStats is one row of player_stats.
type PlayerStats struct {
	Username        string   `json:"username"`
	Races           int      `json:"races"`
	Wins            int      `json:"wins"`
	BestTimeSeconds *float64 `json:"bestTimeSeconds,omitempty"`
}

// GetPlayerStats returns the aggregate for username, or pgx.ErrNoRows.
func (s *RaceStore) GetPlayerStats(ctx context.Context, username string) (PlayerStats, error) {
	var ps PlayerStats
	err := s.pool.QueryRow(ctx,
		`SELECT username, races, wins, best_time_seconds FROM player_stats WHERE username = $1`,
		username,
	).Scan(&ps.Username, &ps.Races, &ps.Wins, &ps.BestTimeSeconds)
	if err != nil {
		return PlayerStats{}, err
	}
	return ps, nil
}
