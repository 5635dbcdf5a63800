package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/valyalkin/piggy-backend/internal/config"
)

// Open builds the store selected by cfg and returns it with a cleanup func
// that releases every connection it opened. Cleanup is safe to call when
// err != nil.
func Open(ctx context.Context, cfg config.Config) (Store, func(), error) {
	var cleanup []func()
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	var st Store
	switch cfg.Store() {
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, closeAll, fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		pg := NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return nil, closeAll, fmt.Errorf("migrate: %w", err)
		}
		st = pg
		slog.Info("connected to PostgreSQL")
	case config.StoreSQLite:
		lite, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, closeAll, err
		}
		cleanup = append(cleanup, func() { lite.Close() })
		st = lite
		slog.Info("opened SQLite ledger", "path", cfg.SQLitePath)
	default:
		slog.Warn("DATABASE_URL and SQLITE_PATH not set, using in-memory store (data will not persist)")
		return NewMemoryStore(), closeAll, nil
	}

	// Wrap with Redis read-through cache if configured.
	if cfg.CacheEnabled() {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, closeAll, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = NewCachedStore(st, rdb, cfg.CacheTTL)
		slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
	}

	return st, closeAll, nil
}
