package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/valyalkin/piggy-backend/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS stock_transactions (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	user_id     TEXT NOT NULL,
	ticker      TEXT NOT NULL,
	currency    TEXT NOT NULL,
	executed_at TIMESTAMPTZ NOT NULL,
	kind        TEXT NOT NULL CHECK (kind IN ('BUY', 'SELL')),
	quantity    BIGINT NOT NULL CHECK (quantity > 0),
	price       NUMERIC NOT NULL CHECK (price > 0),
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS stock_transactions_key_idx
	ON stock_transactions (user_id, ticker, currency, executed_at, seq);
CREATE INDEX IF NOT EXISTS stock_transactions_user_idx
	ON stock_transactions (user_id, currency, executed_at DESC);

CREATE TABLE IF NOT EXISTS stock_holdings (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	ticker       TEXT NOT NULL,
	currency     TEXT NOT NULL,
	quantity     BIGINT NOT NULL CHECK (quantity >= 0),
	average_cost NUMERIC NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, ticker, currency)
);

CREATE TABLE IF NOT EXISTS realized_pl (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	user_id     TEXT NOT NULL,
	ticker      TEXT NOT NULL,
	currency    TEXT NOT NULL,
	realized_at TIMESTAMPTZ NOT NULL,
	amount      NUMERIC NOT NULL
);
CREATE INDEX IF NOT EXISTS realized_pl_key_idx
	ON realized_pl (user_id, ticker, currency, seq);
`

// Migrate creates the ledger tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Atomic runs fn in a database transaction. A transaction-scoped advisory
// lock on the key serialises concurrent writers even before the key's
// holding row exists.
func (s *PostgresStore) Atomic(ctx context.Context, key model.Key, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin %s: %w", key, err)
	}
	defer func() {
		// No-op after a successful commit.
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key.String()); err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}

	if err := fn(&pgTx{q: tx, key: key}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) GetHolding(ctx context.Context, key model.Key) (*model.Holding, error) {
	return pgGetHolding(ctx, s.pool, key, false)
}

func (s *PostgresStore) ListHoldings(ctx context.Context, userID string, ccy model.Currency) ([]model.Holding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, ticker, currency, quantity, average_cost::TEXT, updated_at
		 FROM stock_holdings
		 WHERE user_id = $1 AND currency = $2
		 ORDER BY ticker`, userID, string(ccy))
	if err != nil {
		return nil, fmt.Errorf("list holdings %s/%s: %w", userID, ccy, err)
	}
	defer rows.Close()

	return scanHoldings(rows)
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, ccy model.Currency, page, size int) (model.Page[model.Transaction], error) {
	page, size = clampPage(page, size)
	result := model.Page[model.Transaction]{Page: page, PageSize: size}

	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM stock_transactions WHERE user_id = $1 AND currency = $2`,
		userID, string(ccy)).Scan(&result.Total)
	if err != nil {
		return result, fmt.Errorf("count transactions %s/%s: %w", userID, ccy, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, ticker, currency, executed_at, kind, quantity, price::TEXT, created_at
		 FROM stock_transactions
		 WHERE user_id = $1 AND currency = $2
		 ORDER BY executed_at DESC, seq DESC
		 LIMIT $3 OFFSET $4`, userID, string(ccy), size, page*size)
	if err != nil {
		return result, fmt.Errorf("list transactions %s/%s: %w", userID, ccy, err)
	}
	defer rows.Close()

	result.Items, err = scanTransactions(rows)
	return result, err
}

func (s *PostgresStore) LoadOrderedTransactions(ctx context.Context, key model.Key) ([]model.Transaction, error) {
	return pgLoadOrdered(ctx, s.pool, key)
}

func (s *PostgresStore) GetRealizedEvents(ctx context.Context, key model.Key) ([]model.RealizedEvent, error) {
	return pgGetRealized(ctx, s.pool, key)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// pgTx implements Tx on an open database transaction.
type pgTx struct {
	q   pgQuerier
	key model.Key
}

func (t *pgTx) LoadOrderedTransactions(ctx context.Context, key model.Key) ([]model.Transaction, error) {
	return pgLoadOrdered(ctx, t.q, key)
}

func (t *pgTx) GetHolding(ctx context.Context, key model.Key) (*model.Holding, error) {
	return pgGetHolding(ctx, t.q, key, true)
}

func (t *pgTx) UpsertHolding(ctx context.Context, h *model.Holding) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	if h.UpdatedAt.IsZero() {
		h.UpdatedAt = time.Now().UTC()
	}
	// On conflict the existing row keeps its id.
	err := t.q.QueryRow(ctx,
		`INSERT INTO stock_holdings (id, user_id, ticker, currency, quantity, average_cost, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7)
		 ON CONFLICT (user_id, ticker, currency) DO UPDATE
		 SET quantity = EXCLUDED.quantity,
		     average_cost = EXCLUDED.average_cost,
		     updated_at = EXCLUDED.updated_at
		 RETURNING id`,
		h.ID, h.UserID, h.Ticker, string(h.Currency),
		h.Quantity, model.FormatDecimal(h.AverageCost), h.UpdatedAt,
	).Scan(&h.ID)
	if err != nil {
		return fmt.Errorf("upsert holding %s: %w", h.Key(), err)
	}
	return nil
}

func (t *pgTx) DeleteRealizedEvents(ctx context.Context, key model.Key) (int64, error) {
	tag, err := t.q.Exec(ctx,
		`DELETE FROM realized_pl WHERE user_id = $1 AND ticker = $2 AND currency = $3`,
		key.UserID, key.Ticker, string(key.Currency))
	if err != nil {
		return 0, fmt.Errorf("delete realized %s: %w", key, err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) InsertRealizedEvents(ctx context.Context, events []model.RealizedEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range events {
		e := &events[i]
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		batch.Queue(
			`INSERT INTO realized_pl (id, user_id, ticker, currency, realized_at, amount)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC)`,
			e.ID, e.UserID, e.Ticker, string(e.Currency), e.Timestamp, model.FormatDecimal(e.Amount),
		)
	}

	br := t.q.SendBatch(ctx, batch)
	for range events {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert realized %s: %w", t.key, err)
		}
	}
	return br.Close()
}

func (t *pgTx) GetRealizedEvents(ctx context.Context, key model.Key) ([]model.RealizedEvent, error) {
	return pgGetRealized(ctx, t.q, key)
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr *model.Transaction) error {
	tr.ID = uuid.New().String()
	err := t.q.QueryRow(ctx,
		`INSERT INTO stock_transactions (id, user_id, ticker, currency, executed_at, kind, quantity, price)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC)
		 RETURNING created_at`,
		tr.ID, tr.UserID, tr.Ticker, string(tr.Currency),
		tr.Timestamp, string(tr.Kind), tr.Quantity, model.FormatDecimal(tr.Price),
	).Scan(&tr.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", tr.Key(), err)
	}
	tr.CreatedAt = tr.CreatedAt.UTC()
	return nil
}

// --- Shared queries ---

func pgLoadOrdered(ctx context.Context, q pgQuerier, key model.Key) ([]model.Transaction, error) {
	rows, err := q.Query(ctx,
		`SELECT id, user_id, ticker, currency, executed_at, kind, quantity, price::TEXT, created_at
		 FROM stock_transactions
		 WHERE user_id = $1 AND ticker = $2 AND currency = $3
		 ORDER BY executed_at, seq`,
		key.UserID, key.Ticker, string(key.Currency))
	if err != nil {
		return nil, fmt.Errorf("load transactions %s: %w", key, err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func pgGetHolding(ctx context.Context, q pgQuerier, key model.Key, forUpdate bool) (*model.Holding, error) {
	sql := `SELECT id, user_id, ticker, currency, quantity, average_cost::TEXT, updated_at
		 FROM stock_holdings
		 WHERE user_id = $1 AND ticker = $2 AND currency = $3`
	if forUpdate {
		sql += ` FOR UPDATE`
	}

	rows, err := q.Query(ctx, sql, key.UserID, key.Ticker, string(key.Currency))
	if err != nil {
		return nil, fmt.Errorf("get holding %s: %w", key, err)
	}
	defer rows.Close()

	holdings, err := scanHoldings(rows)
	if err != nil {
		return nil, fmt.Errorf("get holding %s: %w", key, err)
	}
	switch len(holdings) {
	case 0:
		return nil, nil
	case 1:
		return &holdings[0], nil
	default:
		return nil, fmt.Errorf("%w: %d holding rows for %s", model.ErrInvariant, len(holdings), key)
	}
}

func pgGetRealized(ctx context.Context, q pgQuerier, key model.Key) ([]model.RealizedEvent, error) {
	rows, err := q.Query(ctx,
		`SELECT id, user_id, ticker, currency, realized_at, amount::TEXT
		 FROM realized_pl
		 WHERE user_id = $1 AND ticker = $2 AND currency = $3
		 ORDER BY seq`,
		key.UserID, key.Ticker, string(key.Currency))
	if err != nil {
		return nil, fmt.Errorf("get realized %s: %w", key, err)
	}
	defer rows.Close()

	events := []model.RealizedEvent{}
	for rows.Next() {
		var e model.RealizedEvent
		var ccy, amount string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Ticker, &ccy, &e.Timestamp, &amount); err != nil {
			return nil, err
		}
		e.Currency = model.Currency(ccy)
		e.Timestamp = e.Timestamp.UTC()
		if e.Amount, err = parseDecimal("amount", amount); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// scanTransactions reads pgx rows into Transaction slices.
func scanTransactions(rows pgx.Rows) ([]model.Transaction, error) {
	txs := []model.Transaction{}
	for rows.Next() {
		var t model.Transaction
		var ccy, kind, price string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Ticker, &ccy,
			&t.Timestamp, &kind, &t.Quantity, &price, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Currency = model.Currency(ccy)
		t.Kind = model.Kind(kind)
		t.Timestamp = t.Timestamp.UTC()
		t.CreatedAt = t.CreatedAt.UTC()
		var err error
		if t.Price, err = parseDecimal("price", price); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func scanHoldings(rows pgx.Rows) ([]model.Holding, error) {
	holdings := []model.Holding{}
	for rows.Next() {
		var h model.Holding
		var ccy, avg string
		if err := rows.Scan(&h.ID, &h.UserID, &h.Ticker, &ccy,
			&h.Quantity, &avg, &h.UpdatedAt); err != nil {
			return nil, err
		}
		h.Currency = model.Currency(ccy)
		h.UpdatedAt = h.UpdatedAt.UTC()
		var err error
		if h.AverageCost, err = parseDecimal("average_cost", avg); err != nil {
			return nil, err
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

var errBadDecimal = errors.New("malformed decimal column")

func parseDecimal(column, s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w %s=%q: %v", errBadDecimal, column, s, err)
	}
	return v, nil
}
