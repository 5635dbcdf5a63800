// Package ledger is the entry point for recording stock transactions and
// querying the derived positions.
//
// Every write replays the key's full history (see package replay) inside one
// store unit of work, so the holding, the realized profit/loss and the new
// transaction are persisted together or not at all.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/valyalkin/piggy-backend/internal/metrics"
	"github.com/valyalkin/piggy-backend/internal/model"
	"github.com/valyalkin/piggy-backend/internal/replay"
	"github.com/valyalkin/piggy-backend/internal/store"
)

// Notifier is told about every holding changed by a committed write.
type Notifier interface {
	HoldingChanged(h model.Holding, t model.Transaction)
}

// Service records transactions and serves ledger queries.
type Service struct {
	store          store.Store
	validate       *validator.Validate
	notifier       Notifier
	logger         *slog.Logger
	requestTimeout time.Duration
	now            func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the receiver of holding changes. Optional.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithLogger replaces slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithRequestTimeout bounds the whole RecordTransaction unit of work.
// Zero means no bound beyond the caller's context.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Service) { s.requestTimeout = d }
}

// NewService creates a ledger service on top of st.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:    st,
		validate: newValidator(),
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordTransaction validates req, replays the key's history with the new
// transaction merged in, and persists the outcome atomically. It returns the
// stored transaction with its assigned identity.
//
// Errors wrap model.ErrValidation, model.ErrDomainRule or model.ErrInvariant;
// anything else is a store or context failure. On any error nothing is
// persisted.
func (s *Service) RecordTransaction(ctx context.Context, req Request) (*model.Transaction, error) {
	start := time.Now()

	t, err := s.parse(req)
	if err != nil {
		s.reject(err, req.UserID, req.Ticker, req.Currency)
		return nil, err
	}

	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	key := t.Key()
	var (
		holding model.Holding
		result  replay.Result
	)

	err = s.store.Atomic(ctx, key, func(tx store.Tx) error {
		existing, err := tx.LoadOrderedTransactions(ctx, key)
		if err != nil {
			return err
		}

		result, err = replay.Replay(existing, *t)
		if err != nil {
			return err
		}

		current, err := tx.GetHolding(ctx, key)
		if err != nil {
			return err
		}
		if current == nil {
			if len(existing) > 0 {
				return fmt.Errorf("%w: %d transactions but no holding for %s",
					model.ErrInvariant, len(existing), key)
			}
			current = &model.Holding{UserID: key.UserID, Ticker: key.Ticker, Currency: key.Currency}
		}
		current.Quantity = result.Holding.Quantity
		current.AverageCost = result.Holding.AverageCost
		current.UpdatedAt = s.now()
		if err := tx.UpsertHolding(ctx, current); err != nil {
			return err
		}

		if result.ReplaceRealized {
			if _, err := tx.DeleteRealizedEvents(ctx, key); err != nil {
				return err
			}
			if err := tx.InsertRealizedEvents(ctx, result.Realized); err != nil {
				return err
			}
		}

		if err := tx.InsertTransaction(ctx, t); err != nil {
			return err
		}
		holding = *current
		return nil
	})
	if err != nil {
		s.reject(err, key.UserID, key.Ticker, string(key.Currency))
		return nil, err
	}

	metrics.TransactionsTotal.WithLabelValues(string(t.Kind), string(t.Currency)).Inc()
	metrics.RecordLatency.WithLabelValues(string(t.Kind)).Observe(time.Since(start).Seconds())
	metrics.ReplayLength.Observe(float64(len(result.Merged)))
	if result.ReplaceRealized {
		metrics.RealizedEventsRegenerated.Add(float64(len(result.Realized)))
	}

	s.logger.Info("transaction recorded",
		"id", t.ID,
		"key", key.String(),
		"kind", t.Kind,
		"qty", t.Quantity,
		"price", model.FormatDecimal(t.Price),
		"date", t.Timestamp,
		"holding_qty", holding.Quantity,
		"average_cost", model.FormatDecimal(holding.AverageCost),
		"realized_events", len(result.Realized),
		"replayed", len(result.Merged),
	)

	if s.notifier != nil {
		s.notifier.HoldingChanged(holding, *t)
	}
	return t, nil
}

// reject logs and counts a failed RecordTransaction.
func (s *Service) reject(err error, userID, ticker, ccy string) {
	reason := Reason(err)
	metrics.TransactionRejections.WithLabelValues(reason).Inc()

	attrs := []any{"user", userID, "ticker", ticker, "currency", ccy, "reason", reason, "err", err}
	switch reason {
	case "invariant", "internal":
		s.logger.Error("transaction failed", attrs...)
	default:
		s.logger.Debug("transaction rejected", attrs...)
	}
}

// Reason classifies err into a short label for metrics and logs.
func Reason(err error) string {
	switch {
	case errors.Is(err, model.ErrValidation):
		return "validation"
	case errors.Is(err, model.ErrDomainRule):
		return "domain"
	case errors.Is(err, model.ErrInvariant):
		return "invariant"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "internal"
	}
}

// --- Queries ---

// Holding returns the holding for key, or an error wrapping
// model.ErrNotFound when the key has never been traded.
func (s *Service) Holding(ctx context.Context, key model.Key) (*model.Holding, error) {
	h, err := s.store.GetHolding(ctx, key)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("%w: holding %s", model.ErrNotFound, key)
	}
	return h, nil
}

// Holdings lists a user's holdings in one currency. Fully sold positions
// are included with quantity zero.
func (s *Service) Holdings(ctx context.Context, userID string, ccy model.Currency) ([]model.Holding, error) {
	return s.store.ListHoldings(ctx, userID, ccy)
}

// Transactions pages a user's transactions in one currency, newest first.
func (s *Service) Transactions(ctx context.Context, userID string, ccy model.Currency, page, size int) (model.Page[model.Transaction], error) {
	return s.store.ListTransactions(ctx, userID, ccy, page, size)
}

// RealizedEvents returns the realized profit/loss events of key in the order
// the sells were replayed.
func (s *Service) RealizedEvents(ctx context.Context, key model.Key) ([]model.RealizedEvent, error) {
	return s.store.GetRealizedEvents(ctx, key)
}
