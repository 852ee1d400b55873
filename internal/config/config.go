// internal/config/config.go

// Package config reads the server configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/jason-s-yu/mazerush/internal/maze"
	"github.com/jason-s-yu/mazerush/internal/powerup"
)

// Config holds every tunable the server reads at startup.
type Config struct {
	Port           string
	RedisAddr      string
	RedisDB        int
	DatabaseURL    string
	TopicNamespace string

	SyncInterval    time.Duration
	ReapInterval    time.Duration
	PublishTimeout  time.Duration
	SyncConcurrency int

	LobbyMaxPlayers int
	MazeSize        maze.SizeClass
	PowerUps        powerup.Config

	TokenExpireTime    string
	AuthPrivateKeyPath string
	AuthPublicKeyPath  string
}

// Load reads the configuration, falling back to defaults for anything unset
// or unparsable.
func Load() Config {
	pu := powerup.DefaultConfig()
	pu.Quota[powerup.FogClear] = getEnvInt("POWERUP_FOG_CLEAR", pu.Quota[powerup.FogClear])
	pu.Quota[powerup.Freeze] = getEnvInt("POWERUP_FREEZE", pu.Quota[powerup.Freeze])
	pu.Quota[powerup.Confusion] = getEnvInt("POWERUP_CONFUSION", pu.Quota[powerup.Confusion])
	pu.MinSeconds = getEnvInt("POWERUP_MIN_SECONDS", pu.MinSeconds)
	pu.MaxSeconds = getEnvInt("POWERUP_MAX_SECONDS", pu.MaxSeconds)
	if pu.MaxSeconds < pu.MinSeconds {
		pu.MaxSeconds = pu.MinSeconds
	}

	cfg := Config{
		Port:            getEnv("PORT", "8080"),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		TopicNamespace:  getEnv("TOPIC_NAMESPACE", "maze"),
		SyncInterval:    getEnvDuration("SYNC_INTERVAL", 5*time.Second),
		ReapInterval:    getEnvDuration("REAP_INTERVAL", 60*time.Second),
		PublishTimeout:  getEnvDuration("PUBLISH_TIMEOUT", 2*time.Second),
		SyncConcurrency: getEnvInt("SYNC_CONCURRENCY", 8),
		LobbyMaxPlayers: getEnvInt("LOBBY_MAX_PLAYERS", 4),
		MazeSize:        maze.ParseSizeClass(getEnv("MAZE_SIZE", string(maze.Small))),
		PowerUps:        pu,
		TokenExpireTime: getEnv("TOKEN_EXPIRE_TIME", "never"),

		AuthPrivateKeyPath: getEnv("AUTH_PRIVATE_KEY_PATH", ""),
		AuthPublicKeyPath:  getEnv("AUTH_PUBLIC_KEY_PATH", ""),
	}
	if cfg.SyncConcurrency < 1 {
		cfg.SyncConcurrency = 1
	}
	if cfg.LobbyMaxPlayers < 1 {
		cfg.LobbyMaxPlayers = 4
	}
	return cfg
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// getEnvDuration accepts Go duration strings ("5s") or a bare number of
// seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}
