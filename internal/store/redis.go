package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/valyalkin/piggy-backend/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL or SQLite) with a Redis
// read-through cache. Writes go to the primary store and invalidate the
// cache; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// InvalidateDelay is how long after a commit the key's cache entries are
// deleted a second time. A read that missed the cache before the commit can
// repopulate it with the old value after the first delete.
const InvalidateDelay = 500 * time.Millisecond

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// cacheDeleter is the part of the Redis client used for invalidation.
type cacheDeleter interface {
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// invalidate deletes keys now and again after delay. The returned channel is
// closed once the second delete has run.
func invalidate(ctx context.Context, rdb cacheDeleter, delay time.Duration, keys ...string) <-chan struct{} {
	if err := rdb.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("cache invalidation failed", "keys", keys, "error", err)
	}

	done := make(chan struct{})
	time.AfterFunc(delay, func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rdb.Del(ctx, keys...).Err(); err != nil {
			slog.Warn("delayed cache invalidation failed", "keys", keys, "error", err)
		}
	})
	return done
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) Atomic(ctx context.Context, key model.Key, fn func(tx Tx) error) error {
	if err := s.primary.Atomic(ctx, key, fn); err != nil {
		return err
	}
	// Invalidate cache; next read will re-populate.
	invalidate(context.WithoutCancel(ctx), s.rdb, InvalidateDelay,
		holdingKey(key), realizedKey(key), holdingsKey(key.UserID, key.Currency))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetHolding(ctx context.Context, key model.Key) (*model.Holding, error) {
	var h model.Holding
	if s.get(ctx, holdingKey(key), &h) {
		return &h, nil
	}

	hp, err := s.primary.GetHolding(ctx, key)
	if err != nil || hp == nil {
		// Absence is not cached: the first BUY must become visible at once.
		return hp, err
	}
	s.set(ctx, holdingKey(key), hp)
	return hp, nil
}

func (s *CachedStore) ListHoldings(ctx context.Context, userID string, ccy model.Currency) ([]model.Holding, error) {
	var holdings []model.Holding
	if s.get(ctx, holdingsKey(userID, ccy), &holdings) {
		return holdings, nil
	}

	holdings, err := s.primary.ListHoldings(ctx, userID, ccy)
	if err != nil {
		return nil, err
	}
	s.set(ctx, holdingsKey(userID, ccy), holdings)
	return holdings, nil
}

func (s *CachedStore) GetRealizedEvents(ctx context.Context, key model.Key) ([]model.RealizedEvent, error) {
	var events []model.RealizedEvent
	if s.get(ctx, realizedKey(key), &events) {
		return events, nil
	}

	events, err := s.primary.GetRealizedEvents(ctx, key)
	if err != nil {
		return nil, err
	}
	s.set(ctx, realizedKey(key), events)
	return events, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListTransactions(ctx context.Context, userID string, ccy model.Currency, page, size int) (model.Page[model.Transaction], error) {
	return s.primary.ListTransactions(ctx, userID, ccy, page, size)
}

func (s *CachedStore) LoadOrderedTransactions(ctx context.Context, key model.Key) ([]model.Transaction, error) {
	return s.primary.LoadOrderedTransactions(ctx, key)
}

// Ping checks both the primary and Redis.
func (s *CachedStore) Ping(ctx context.Context) error {
	if err := s.primary.Ping(ctx); err != nil {
		return err
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// --- Cache helpers ---

func (s *CachedStore) get(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func holdingKey(k model.Key) string  { return fmt.Sprintf("holding:%s", k) }
func realizedKey(k model.Key) string { return fmt.Sprintf("realized:%s", k) }
func holdingsKey(uid string, ccy model.Currency) string {
	return fmt.Sprintf("holdings:%s/%s", uid, ccy)
}
