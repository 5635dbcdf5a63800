// Package replay re-derives a ledger's holding and realized profit/loss by
// processing its full transaction history in timestamp order.
//
// Recomputation is total on every write: the incoming transaction is merged
// into the stored sequence and the whole sequence is replayed from its first
// BUY. This keeps out-of-order inserts correct at O(n) per write.
package replay

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/valyalkin/piggy-backend/internal/costbasis"
	"github.com/valyalkin/piggy-backend/internal/model"
)

// Result is the outcome of a replay.
type Result struct {
	// Holding is the final accumulator.
	Holding costbasis.State

	// Realized holds one event per SELL, in processing order.
	Realized []model.RealizedEvent

	// ReplaceRealized is set when the merged sequence contains a SELL. The
	// stored events for the key must then be replaced by Realized.
	ReplaceRealized bool

	// Merged is the ordered sequence that was replayed.
	Merged []model.Transaction
}

// Replay merges incoming into existing (already ordered by timestamp) and
// replays the result. Any failure aborts the whole replay; nothing in the
// returned Result is meaningful when err != nil.
func Replay(existing []model.Transaction, incoming model.Transaction) (Result, error) {
	if len(existing) == 0 {
		if incoming.Kind != model.Buy {
			return Result{}, fmt.Errorf("%w: first transaction must be a buy (%s, %s %d)",
				model.ErrDomainRule, incoming.Key(), incoming.Kind, incoming.Quantity)
		}
		return Result{
			Holding: costbasis.Open(incoming.Quantity, incoming.Price),
			Merged:  []model.Transaction{incoming},
		}, nil
	}

	merged := make([]model.Transaction, 0, len(existing)+1)
	merged = append(merged, existing...)
	merged = append(merged, incoming)
	return FromEmpty(merged)
}

// FromEmpty replays seq from an empty state. seq is stable-sorted by
// timestamp first, so equal timestamps keep their relative order.
func FromEmpty(seq []model.Transaction) (Result, error) {
	if len(seq) == 0 {
		return Result{Holding: costbasis.State{AverageCost: decimal.Zero}}, nil
	}

	merged := slices.Clone(seq)
	slices.SortStableFunc(merged, func(a, b model.Transaction) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	first := merged[0]
	if first.Kind != model.Buy {
		return Result{}, fmt.Errorf("%w: first transaction must be a buy (%s, earliest is %s %d at %s)",
			model.ErrDomainRule, first.Key(), first.Kind, first.Quantity, first.Timestamp)
	}

	res := Result{
		Holding:         costbasis.Open(first.Quantity, first.Price),
		ReplaceRealized: slices.ContainsFunc(merged, isSell),
		Merged:          merged,
	}

	for _, t := range merged[1:] {
		switch t.Kind {
		case model.Buy:
			next, err := costbasis.ApplyBuy(res.Holding, t.Quantity, t.Price)
			if err != nil {
				return Result{}, fmt.Errorf("replay %s at %s: %w", t.Key(), t.Timestamp, err)
			}
			res.Holding = next
		case model.Sell:
			next, amount, err := costbasis.ApplySell(res.Holding, t.Quantity, t.Price)
			if err != nil {
				return Result{}, fmt.Errorf("replay %s at %s: %w", t.Key(), t.Timestamp, err)
			}
			res.Holding = next
			res.Realized = append(res.Realized, model.RealizedEvent{
				UserID:    t.UserID,
				Ticker:    t.Ticker,
				Currency:  t.Currency,
				Timestamp: t.Timestamp,
				Amount:    amount,
			})
		default:
			return Result{}, fmt.Errorf("%w: unknown transaction kind %q for %s",
				model.ErrInvariant, t.Kind, t.Key())
		}
	}

	return res, nil
}

func isSell(t model.Transaction) bool {
	return t.Kind == model.Sell
}
