// Package store defines the persistence interface for the position ledger.
// Implementations include PostgreSQL (source of truth), SQLite (single-node
// embedded), Redis (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"math"

	"github.com/valyalkin/piggy-backend/internal/model"
)

// Store is the persistence interface. Every write goes through Atomic so that
// the transactions, holding and realized events of a key change together or
// not at all.
type Store interface {
	// Atomic runs fn as one unit of work holding exclusive access to key.
	// Writes made through tx are committed only if fn returns nil and ctx is
	// still live; otherwise they are discarded.
	Atomic(ctx context.Context, key model.Key, fn func(tx Tx) error) error

	// --- Queries ---

	// GetHolding returns the holding for key, or nil, nil when none exists.
	GetHolding(ctx context.Context, key model.Key) (*model.Holding, error)

	// ListHoldings returns every holding of a user in one currency,
	// ordered by ticker.
	ListHoldings(ctx context.Context, userID string, ccy model.Currency) ([]model.Holding, error)

	// ListTransactions pages a user's transactions in one currency, newest
	// first. page is zero-based.
	ListTransactions(ctx context.Context, userID string, ccy model.Currency, page, size int) (model.Page[model.Transaction], error)

	// LoadOrderedTransactions returns all transactions of key ascending by
	// timestamp, ties in insertion order.
	LoadOrderedTransactions(ctx context.Context, key model.Key) ([]model.Transaction, error)

	// GetRealizedEvents returns the realized events of key in processing order.
	GetRealizedEvents(ctx context.Context, key model.Key) ([]model.RealizedEvent, error)

	Ping(ctx context.Context) error
}

// Tx is the view of the store inside an Atomic unit of work. Reads observe
// the unit's own uncommitted writes.
type Tx interface {
	LoadOrderedTransactions(ctx context.Context, key model.Key) ([]model.Transaction, error)
	GetHolding(ctx context.Context, key model.Key) (*model.Holding, error)

	// UpsertHolding creates the holding for h's key or overwrites it in
	// place. An empty h.ID is assigned.
	UpsertHolding(ctx context.Context, h *model.Holding) error

	// DeleteRealizedEvents removes every event of key and reports how many.
	DeleteRealizedEvents(ctx context.Context, key model.Key) (int64, error)

	// InsertRealizedEvents appends events, assigning IDs, keeping order.
	InsertRealizedEvents(ctx context.Context, events []model.RealizedEvent) error

	GetRealizedEvents(ctx context.Context, key model.Key) ([]model.RealizedEvent, error)

	// InsertTransaction appends t verbatim, assigning ID and CreatedAt.
	InsertTransaction(ctx context.Context, t *model.Transaction) error
}

func clampPage(page, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	if page > MaxPage {
		page = MaxPage
	}
	return page, size
}

// Paging limits applied by every implementation. MaxPage keeps page*size
// within an int32 offset.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	MaxPage         = math.MaxInt32 / MaxPageSize
)
