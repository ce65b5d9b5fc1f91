package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL string
	RedisURL    string
	FeedURL     string
	ServerAddr  string
	LogLevel    slog.Level

	// Sync engine tunables. Defaults mirror the observed behavior of the
	// production client; they are configuration, not contract.
	SyncDebounce      time.Duration
	SyncBatchSize     int
	SyncMaxRetries    int
	ActiveTTL         time.Duration
	HealthInterval    time.Duration
	ResetCooldownMin  time.Duration
	ResetCooldownMax  time.Duration
	ReconcileInterval time.Duration
	RemoteTimeout     time.Duration
}

func Load() *Config {
	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    envOrDefault("REDIS_URL", "redis://localhost:6379"),
		FeedURL:     os.Getenv("FEED_URL"),
		ServerAddr:  envOrDefault("SERVER_ADDR", ":8080"),
		LogLevel:    parseLogLevel(os.Getenv("LOG_LEVEL")),

		SyncDebounce:      envDuration("SYNC_DEBOUNCE", 500*time.Millisecond),
		SyncBatchSize:     envInt("SYNC_BATCH_SIZE", 10),
		SyncMaxRetries:    envInt("SYNC_MAX_RETRIES", 3),
		ActiveTTL:         envDuration("ACTIVE_TTL", 5*time.Minute),
		HealthInterval:    envDuration("FEED_HEALTH_INTERVAL", 15*time.Second),
		ResetCooldownMin:  envDuration("FEED_RESET_COOLDOWN_MIN", 1*time.Second),
		ResetCooldownMax:  envDuration("FEED_RESET_COOLDOWN_MAX", 3*time.Second),
		ReconcileInterval: envDuration("RECONCILE_INTERVAL", 5*time.Minute),
		RemoteTimeout:     envDuration("REMOTE_TIMEOUT", 5*time.Second),
	}

	var missing []string
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.FeedURL == "" {
		missing = append(missing, "FEED_URL")
	}
	if len(missing) > 0 {
		panic(fmt.Sprintf("required environment variables not set: %s", strings.Join(missing, ", ")))
	}

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		panic(fmt.Sprintf("invalid %s: %q", key, v))
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		panic(fmt.Sprintf("invalid %s: %q", key, v))
	}
	return d
}
