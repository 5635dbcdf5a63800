package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/valyalkin/piggy-backend/internal/keylock"
	"github.com/valyalkin/piggy-backend/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	locks keylock.Map

	mu       sync.RWMutex
	ledger   []model.Transaction // insertion order
	holdings map[model.Key]*model.Holding
	events   map[model.Key][]model.RealizedEvent
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		holdings: make(map[model.Key]*model.Holding),
		events:   make(map[model.Key][]model.RealizedEvent),
	}
}

// Atomic serialises units of work per key. Writes are staged in a buffer and
// published in one step after fn succeeds.
func (s *MemoryStore) Atomic(ctx context.Context, key model.Key, fn func(tx Tx) error) error {
	unlock := s.locks.Lock(key.String())
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{s: s, key: key}
	if err := fn(tx); err != nil {
		return err
	}
	// A unit of work whose context expired is rolled back even if fn
	// did not notice.
	if err := ctx.Err(); err != nil {
		return err
	}

	tx.publish()
	return nil
}

func (s *MemoryStore) GetHolding(_ context.Context, key model.Key) (*model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holdings[key]
	if !ok {
		return nil, nil
	}
	copy := *h
	return &copy, nil
}

func (s *MemoryStore) ListHoldings(_ context.Context, userID string, ccy model.Currency) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	holdings := make([]model.Holding, 0)
	for k, h := range s.holdings {
		if k.UserID == userID && k.Currency == ccy {
			holdings = append(holdings, *h)
		}
	}
	slices.SortFunc(holdings, func(a, b model.Holding) int {
		return cmp.Compare(a.Ticker, b.Ticker)
	})
	return holdings, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string, ccy model.Currency, page, size int) (model.Page[model.Transaction], error) {
	page, size = clampPage(page, size)

	s.mu.RLock()
	var matched []model.Transaction
	for i := len(s.ledger) - 1; i >= 0; i-- {
		t := s.ledger[i]
		if t.UserID == userID && t.Currency == ccy {
			matched = append(matched, t)
		}
	}
	s.mu.RUnlock()

	// Newest first; equal timestamps keep latest insertion first.
	slices.SortStableFunc(matched, func(a, b model.Transaction) int {
		return b.Timestamp.Compare(a.Timestamp)
	})

	result := model.Page[model.Transaction]{
		Items:    []model.Transaction{},
		Page:     page,
		PageSize: size,
		Total:    int64(len(matched)),
	}
	start := page * size
	if start < len(matched) {
		end := min(start+size, len(matched))
		result.Items = matched[start:end]
	}
	return result, nil
}

func (s *MemoryStore) LoadOrderedTransactions(_ context.Context, key model.Key) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orderedLocked(key), nil
}

func (s *MemoryStore) GetRealizedEvents(_ context.Context, key model.Key) ([]model.RealizedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events[key]), nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// orderedLocked must be called with s.mu held.
func (s *MemoryStore) orderedLocked(key model.Key) []model.Transaction {
	var result []model.Transaction
	for _, t := range s.ledger {
		if t.Key() == key {
			result = append(result, t)
		}
	}
	sortByTimestamp(result)
	return result
}

func sortByTimestamp(txs []model.Transaction) {
	slices.SortStableFunc(txs, func(a, b model.Transaction) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
}

// memTx stages the writes of one unit of work.
type memTx struct {
	s   *MemoryStore
	key model.Key

	holding        *model.Holding
	eventsReplaced bool
	events         []model.RealizedEvent
	inserted       []model.Transaction
}

func (tx *memTx) check(key model.Key) error {
	if key != tx.key {
		return fmt.Errorf("%w: unit of work for %s cannot touch %s", model.ErrInvariant, tx.key, key)
	}
	return nil
}

func (tx *memTx) LoadOrderedTransactions(_ context.Context, key model.Key) ([]model.Transaction, error) {
	if err := tx.check(key); err != nil {
		return nil, err
	}
	tx.s.mu.RLock()
	result := tx.s.orderedLocked(key)
	tx.s.mu.RUnlock()

	result = append(result, tx.inserted...)
	sortByTimestamp(result)
	return result, nil
}

func (tx *memTx) GetHolding(ctx context.Context, key model.Key) (*model.Holding, error) {
	if err := tx.check(key); err != nil {
		return nil, err
	}
	if tx.holding != nil {
		copy := *tx.holding
		return &copy, nil
	}
	return tx.s.GetHolding(ctx, key)
}

func (tx *memTx) UpsertHolding(ctx context.Context, h *model.Holding) error {
	if err := tx.check(h.Key()); err != nil {
		return err
	}
	if h.ID == "" {
		existing, err := tx.GetHolding(ctx, h.Key())
		if err != nil {
			return err
		}
		if existing != nil {
			h.ID = existing.ID
		} else {
			h.ID = uuid.New().String()
		}
	}
	copy := *h
	tx.holding = &copy
	return nil
}

func (tx *memTx) DeleteRealizedEvents(_ context.Context, key model.Key) (int64, error) {
	if err := tx.check(key); err != nil {
		return 0, err
	}
	var n int
	if tx.eventsReplaced {
		n = len(tx.events)
	} else {
		tx.s.mu.RLock()
		n = len(tx.s.events[key])
		tx.s.mu.RUnlock()
	}
	tx.eventsReplaced = true
	tx.events = nil
	return int64(n), nil
}

func (tx *memTx) InsertRealizedEvents(ctx context.Context, events []model.RealizedEvent) error {
	for _, e := range events {
		if err := tx.check(model.Key{UserID: e.UserID, Ticker: e.Ticker, Currency: e.Currency}); err != nil {
			return err
		}
	}
	if !tx.eventsReplaced {
		current, err := tx.s.GetRealizedEvents(ctx, tx.key)
		if err != nil {
			return err
		}
		tx.events = current
		tx.eventsReplaced = true
	}
	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		tx.events = append(tx.events, e)
	}
	return nil
}

func (tx *memTx) GetRealizedEvents(ctx context.Context, key model.Key) ([]model.RealizedEvent, error) {
	if err := tx.check(key); err != nil {
		return nil, err
	}
	if tx.eventsReplaced {
		return slices.Clone(tx.events), nil
	}
	return tx.s.GetRealizedEvents(ctx, key)
}

func (tx *memTx) InsertTransaction(_ context.Context, t *model.Transaction) error {
	if err := tx.check(t.Key()); err != nil {
		return err
	}
	t.ID = uuid.New().String()
	t.CreatedAt = time.Now().UTC()
	tx.inserted = append(tx.inserted, *t)
	return nil
}

// publish makes the staged writes visible in one step.
func (tx *memTx) publish() {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.holding != nil {
		s.holdings[tx.key] = tx.holding
	}
	if tx.eventsReplaced {
		if len(tx.events) == 0 {
			delete(s.events, tx.key)
		} else {
			s.events[tx.key] = tx.events
		}
	}
	s.ledger = append(s.ledger, tx.inserted...)
}
