// Package config loads service configuration from the environment.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// StoreKind names the selected primary store.
type StoreKind string

const (
	StorePostgres StoreKind = "postgres"
	StoreSQLite   StoreKind = "sqlite"
	StoreMemory   StoreKind = "memory"
)

// Config holds application level configuration loaded from environment variables.
type Config struct {
	Port           string
	DatabaseURL    string
	RedisURL       string
	SQLitePath     string
	CacheTTL       time.Duration
	RequestTimeout time.Duration
	LogLevel       slog.Level
	Environment    string
}

// Load reads configuration from environment variables. A .env file is loaded
// if present to simplify local development; real environment variables win.
func Load() Config {
	loadDotEnv()

	return Config{
		Port:           getString("PORT", "8080"),
		DatabaseURL:    getString("DATABASE_URL", ""),
		RedisURL:       getString("REDIS_URL", ""),
		SQLitePath:     getString("SQLITE_PATH", ""),
		CacheTTL:       getDurationSeconds("CACHE_TTL_SECONDS", 30),
		RequestTimeout: getDurationSeconds("REQUEST_TIMEOUT_SECONDS", 10),
		LogLevel:       getLevel("LOG_LEVEL", slog.LevelInfo),
		Environment:    getString("ENVIRONMENT", "local"),
	}
}

// Store returns the primary store to use: PostgreSQL when DATABASE_URL is
// set, then SQLite when SQLITE_PATH is set, else in-memory.
func (c Config) Store() StoreKind {
	switch {
	case c.DatabaseURL != "":
		return StorePostgres
	case c.SQLitePath != "":
		return StoreSQLite
	default:
		return StoreMemory
	}
}

// CacheEnabled reports whether a Redis cache should wrap a durable store.
func (c Config) CacheEnabled() bool {
	return c.RedisURL != "" && c.Store() != StoreMemory
}

func loadDotEnv() {
	candidates := []string{
		filepath.Join("bin", ".env"),
		".env",
	}

	if exePath, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exePath)
		candidates = append([]string{
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "bin", ".env"),
		}, candidates...)
	}

	for _, path := range candidates {
		if err := godotenv.Load(path); err == nil {
			return
		}
	}
}

func getString(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getDurationSeconds(key string, fallback int) time.Duration {
	if val := os.Getenv(key); val != "" {
		secs, err := strconv.Atoi(val)
		if err != nil || secs < 0 {
			slog.Warn("invalid duration, using fallback", "key", key, "value", val, "fallback", fallback)
			return time.Duration(fallback) * time.Second
		}
		return time.Duration(secs) * time.Second
	}
	return time.Duration(fallback) * time.Second
}

func getLevel(key string, fallback slog.Level) slog.Level {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(val)); err != nil {
		slog.Warn("invalid log level, using fallback", "key", key, "value", val)
		return fallback
	}
	return level
}
