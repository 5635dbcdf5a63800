package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "DATABASE_URL", "REDIS_URL", "SQLITE_PATH",
		"CACHE_TTL_SECONDS", "REQUEST_TIMEOUT_SECONDS", "LOG_LEVEL", "ENVIRONMENT"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "local", cfg.Environment)
	assert.Equal(t, StoreMemory, cfg.Store())
	assert.False(t, cfg.CacheEnabled())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SQLITE_PATH", "/tmp/ledger.db")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("CACHE_TTL_SECONDS", "5")
	t.Setenv("REQUEST_TIMEOUT_SECONDS", "oops")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.CacheTTL)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout, "invalid value falls back")
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, StoreSQLite, cfg.Store())
	assert.True(t, cfg.CacheEnabled())
}

func TestLoad_InvalidLevelFallsBack(t *testing.T) {
	t.Setenv("LOG_LEVEL", "chatty")
	assert.Equal(t, slog.LevelInfo, Load().LogLevel)
}

func TestStore_Precedence(t *testing.T) {
	cfg := Config{DatabaseURL: "postgres://x", SQLitePath: "ledger.db"}
	assert.Equal(t, StorePostgres, cfg.Store(), "DATABASE_URL wins")

	cfg = Config{RedisURL: "redis://x"}
	assert.False(t, cfg.CacheEnabled(), "cache never wraps the memory store")
}
