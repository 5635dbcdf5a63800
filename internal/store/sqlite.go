package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/valyalkin/piggy-backend/internal/keylock"
	"github.com/valyalkin/piggy-backend/internal/model"
)

// SQLiteStore implements Store on a single SQLite file for single-node
// deployments. Money is stored as TEXT so decimals round-trip exactly.
type SQLiteStore struct {
	db    *sql.DB
	locks keylock.Map
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite has a single writer; one connection avoids lock upgrades
	// failing with SQLITE_BUSY between concurrent units of work.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS stock_transactions (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	id             TEXT NOT NULL UNIQUE,
	user_id        TEXT NOT NULL,
	ticker         TEXT NOT NULL,
	currency       TEXT NOT NULL,
	executed_at    TEXT NOT NULL,
	executed_at_ns INTEGER NOT NULL,
	kind           TEXT NOT NULL CHECK (kind IN ('BUY', 'SELL')),
	quantity       INTEGER NOT NULL CHECK (quantity > 0),
	price          TEXT NOT NULL,
	created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS stock_transactions_key_idx
	ON stock_transactions (user_id, ticker, currency, executed_at_ns, seq);

CREATE TABLE IF NOT EXISTS stock_holdings (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	ticker       TEXT NOT NULL,
	currency     TEXT NOT NULL,
	quantity     INTEGER NOT NULL CHECK (quantity >= 0),
	average_cost TEXT NOT NULL,
	updated_at   TEXT NOT NULL,
	UNIQUE (user_id, ticker, currency)
);

CREATE TABLE IF NOT EXISTS realized_pl (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	user_id     TEXT NOT NULL,
	ticker      TEXT NOT NULL,
	currency    TEXT NOT NULL,
	realized_at TEXT NOT NULL,
	amount      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS realized_pl_key_idx
	ON realized_pl (user_id, ticker, currency, seq);
`

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Atomic(ctx context.Context, key model.Key, fn func(tx Tx) error) error {
	unlock := s.locks.Lock(key.String())
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", key, err)
	}
	defer tx.Rollback() // no-op after commit

	if err := fn(&sqliteTx{q: tx, key: key}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) GetHolding(ctx context.Context, key model.Key) (*model.Holding, error) {
	return sqliteGetHolding(ctx, s.db, key)
}

func (s *SQLiteStore) ListHoldings(ctx context.Context, userID string, ccy model.Currency) ([]model.Holding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, ticker, currency, quantity, average_cost, updated_at
		 FROM stock_holdings
		 WHERE user_id = ? AND currency = ?
		 ORDER BY ticker`, userID, string(ccy))
	if err != nil {
		return nil, fmt.Errorf("list holdings %s/%s: %w", userID, ccy, err)
	}
	defer rows.Close()

	return sqliteScanHoldings(rows)
}

func (s *SQLiteStore) ListTransactions(ctx context.Context, userID string, ccy model.Currency, page, size int) (model.Page[model.Transaction], error) {
	page, size = clampPage(page, size)
	result := model.Page[model.Transaction]{Page: page, PageSize: size}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM stock_transactions WHERE user_id = ? AND currency = ?`,
		userID, string(ccy)).Scan(&result.Total)
	if err != nil {
		return result, fmt.Errorf("count transactions %s/%s: %w", userID, ccy, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, ticker, currency, executed_at, kind, quantity, price, created_at
		 FROM stock_transactions
		 WHERE user_id = ? AND currency = ?
		 ORDER BY executed_at_ns DESC, seq DESC
		 LIMIT ? OFFSET ?`, userID, string(ccy), size, page*size)
	if err != nil {
		return result, fmt.Errorf("list transactions %s/%s: %w", userID, ccy, err)
	}
	defer rows.Close()

	result.Items, err = sqliteScanTransactions(rows)
	return result, err
}

func (s *SQLiteStore) LoadOrderedTransactions(ctx context.Context, key model.Key) ([]model.Transaction, error) {
	return sqliteLoadOrdered(ctx, s.db, key)
}

func (s *SQLiteStore) GetRealizedEvents(ctx context.Context, key model.Key) ([]model.RealizedEvent, error) {
	return sqliteGetRealized(ctx, s.db, key)
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteTx struct {
	q   sqlQuerier
	key model.Key
}

func (t *sqliteTx) LoadOrderedTransactions(ctx context.Context, key model.Key) ([]model.Transaction, error) {
	return sqliteLoadOrdered(ctx, t.q, key)
}

func (t *sqliteTx) GetHolding(ctx context.Context, key model.Key) (*model.Holding, error) {
	return sqliteGetHolding(ctx, t.q, key)
}

func (t *sqliteTx) UpsertHolding(ctx context.Context, h *model.Holding) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	if h.UpdatedAt.IsZero() {
		h.UpdatedAt = time.Now().UTC()
	}
	err := t.q.QueryRowContext(ctx,
		`INSERT INTO stock_holdings (id, user_id, ticker, currency, quantity, average_cost, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, ticker, currency) DO UPDATE
		 SET quantity = excluded.quantity,
		     average_cost = excluded.average_cost,
		     updated_at = excluded.updated_at
		 RETURNING id`,
		h.ID, h.UserID, h.Ticker, string(h.Currency),
		h.Quantity, model.FormatDecimal(h.AverageCost), formatTime(h.UpdatedAt),
	).Scan(&h.ID)
	if err != nil {
		return fmt.Errorf("upsert holding %s: %w", h.Key(), err)
	}
	return nil
}

func (t *sqliteTx) DeleteRealizedEvents(ctx context.Context, key model.Key) (int64, error) {
	res, err := t.q.ExecContext(ctx,
		`DELETE FROM realized_pl WHERE user_id = ? AND ticker = ? AND currency = ?`,
		key.UserID, key.Ticker, string(key.Currency))
	if err != nil {
		return 0, fmt.Errorf("delete realized %s: %w", key, err)
	}
	return res.RowsAffected()
}

func (t *sqliteTx) InsertRealizedEvents(ctx context.Context, events []model.RealizedEvent) error {
	for i := range events {
		e := &events[i]
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		_, err := t.q.ExecContext(ctx,
			`INSERT INTO realized_pl (id, user_id, ticker, currency, realized_at, amount)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID, e.UserID, e.Ticker, string(e.Currency), formatTime(e.Timestamp), model.FormatDecimal(e.Amount))
		if err != nil {
			return fmt.Errorf("insert realized %s: %w", t.key, err)
		}
	}
	return nil
}

func (t *sqliteTx) GetRealizedEvents(ctx context.Context, key model.Key) ([]model.RealizedEvent, error) {
	return sqliteGetRealized(ctx, t.q, key)
}

func (t *sqliteTx) InsertTransaction(ctx context.Context, tr *model.Transaction) error {
	tr.ID = uuid.New().String()
	tr.CreatedAt = time.Now().UTC()
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO stock_transactions
		   (id, user_id, ticker, currency, executed_at, executed_at_ns, kind, quantity, price, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.UserID, tr.Ticker, string(tr.Currency),
		formatTime(tr.Timestamp), tr.Timestamp.UnixNano(),
		string(tr.Kind), tr.Quantity, model.FormatDecimal(tr.Price), formatTime(tr.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", tr.Key(), err)
	}
	return nil
}

// --- Shared queries ---

func sqliteLoadOrdered(ctx context.Context, q sqlQuerier, key model.Key) ([]model.Transaction, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, user_id, ticker, currency, executed_at, kind, quantity, price, created_at
		 FROM stock_transactions
		 WHERE user_id = ? AND ticker = ? AND currency = ?
		 ORDER BY executed_at_ns, seq`,
		key.UserID, key.Ticker, string(key.Currency))
	if err != nil {
		return nil, fmt.Errorf("load transactions %s: %w", key, err)
	}
	defer rows.Close()

	return sqliteScanTransactions(rows)
}

func sqliteGetHolding(ctx context.Context, q sqlQuerier, key model.Key) (*model.Holding, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, user_id, ticker, currency, quantity, average_cost, updated_at
		 FROM stock_holdings
		 WHERE user_id = ? AND ticker = ? AND currency = ?`,
		key.UserID, key.Ticker, string(key.Currency))
	if err != nil {
		return nil, fmt.Errorf("get holding %s: %w", key, err)
	}
	defer rows.Close()

	holdings, err := sqliteScanHoldings(rows)
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

func sqliteGetRealized(ctx context.Context, q sqlQuerier, key model.Key) ([]model.RealizedEvent, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, user_id, ticker, currency, realized_at, amount
		 FROM realized_pl
		 WHERE user_id = ? AND ticker = ? AND currency = ?
		 ORDER BY seq`,
		key.UserID, key.Ticker, string(key.Currency))
	if err != nil {
		return nil, fmt.Errorf("get realized %s: %w", key, err)
	}
	defer rows.Close()

	events := []model.RealizedEvent{}
	for rows.Next() {
		var e model.RealizedEvent
		var ccy, at, amount string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Ticker, &ccy, &at, &amount); err != nil {
			return nil, err
		}
		e.Currency = model.Currency(ccy)
		if e.Timestamp, err = parseTime("realized_at", at); err != nil {
			return nil, err
		}
		if e.Amount, err = parseDecimal("amount", amount); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func sqliteScanTransactions(rows *sql.Rows) ([]model.Transaction, error) {
	txs := []model.Transaction{}
	for rows.Next() {
		var t model.Transaction
		var ccy, at, kind, price, created string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Ticker, &ccy,
			&at, &kind, &t.Quantity, &price, &created); err != nil {
			return nil, err
		}
		t.Currency = model.Currency(ccy)
		t.Kind = model.Kind(kind)
		var err error
		if t.Timestamp, err = parseTime("executed_at", at); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = parseTime("created_at", created); err != nil {
			return nil, err
		}
		if t.Price, err = parseDecimal("price", price); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func sqliteScanHoldings(rows *sql.Rows) ([]model.Holding, error) {
	holdings := []model.Holding{}
	for rows.Next() {
		var h model.Holding
		var ccy, avg, updated string
		if err := rows.Scan(&h.ID, &h.UserID, &h.Ticker, &ccy,
			&h.Quantity, &avg, &updated); err != nil {
			return nil, err
		}
		h.Currency = model.Currency(ccy)
		var err error
		if h.UpdatedAt, err = parseTime("updated_at", updated); err != nil {
			return nil, err
		}
		if h.AverageCost, err = parseDecimal("average_cost", avg); err != nil {
			return nil, err
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(column, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed time column %s=%q: %w", column, s, err)
	}
	return t.UTC(), nil
}
