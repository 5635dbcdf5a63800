package ledger

import (
	"context"
	"fmt"

	"github.com/valyalkin/piggy-backend/internal/model"
	"github.com/valyalkin/piggy-backend/internal/replay"
)

// Verify replays the stored transactions of key from empty state and checks
// that the result matches the stored holding and realized events digit for
// digit. A mismatch wraps model.ErrInvariant.
//
// Verify reads outside a unit of work; run it against a quiescent key.
func (s *Service) Verify(ctx context.Context, key model.Key) error {
	txs, err := s.store.LoadOrderedTransactions(ctx, key)
	if err != nil {
		return err
	}
	holding, err := s.store.GetHolding(ctx, key)
	if err != nil {
		return err
	}
	events, err := s.store.GetRealizedEvents(ctx, key)
	if err != nil {
		return err
	}

	if len(txs) == 0 {
		if holding != nil || len(events) > 0 {
			return fmt.Errorf("%w: %s has derived state but no transactions", model.ErrInvariant, key)
		}
		return nil
	}

	res, err := replay.FromEmpty(txs)
	if err != nil {
		return fmt.Errorf("%w: stored history of %s does not replay: %v", model.ErrInvariant, key, err)
	}

	if holding == nil {
		return fmt.Errorf("%w: %s has %d transactions but no holding", model.ErrInvariant, key, len(txs))
	}
	if holding.Quantity != res.Holding.Quantity ||
		model.FormatDecimal(holding.AverageCost) != model.FormatDecimal(res.Holding.AverageCost) {
		return fmt.Errorf("%w: %s holding is %d @ %s, replay gives %d @ %s", model.ErrInvariant, key,
			holding.Quantity, holding.AverageCost, res.Holding.Quantity, res.Holding.AverageCost)
	}

	if len(events) != len(res.Realized) {
		return fmt.Errorf("%w: %s has %d realized events, replay gives %d", model.ErrInvariant, key,
			len(events), len(res.Realized))
	}
	for i, want := range res.Realized {
		got := events[i]
		if !got.Timestamp.Equal(want.Timestamp) || model.FormatDecimal(got.Amount) != model.FormatDecimal(want.Amount) {
			return fmt.Errorf("%w: %s realized event %d is %s at %s, replay gives %s at %s", model.ErrInvariant, key,
				i, got.Amount, got.Timestamp, want.Amount, want.Timestamp)
		}
	}
	return nil
}
