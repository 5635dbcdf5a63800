// Package costbasis implements the average-cost accounting rules for a
// single ledger.
//
// All units of an instrument share one blended average unit cost. A BUY
// re-blends the average; a SELL leaves it untouched and crystallises
// (price - average) * quantity as realized profit or loss.
//
// The functions are pure: state is passed in and returned, never stored.
// All monetary values use shopspring/decimal, never float64.
package costbasis

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/valyalkin/piggy-backend/internal/model"
)

// State is the running accumulator of a replay.
type State struct {
	Quantity    int64
	AverageCost decimal.Decimal
}

// Open returns the state after the first BUY of a ledger.
func Open(quantity int64, price decimal.Decimal) State {
	return State{Quantity: quantity, AverageCost: price}
}

// ApplyBuy blends an acquisition into the average cost.
//
// The new average is (avg*q + price*qty) / (q+qty), truncated toward zero at
// the decimal scale of the numerator. Rounding is always DOWN, never to
// nearest, so replays are reproducible digit for digit. A buy that would
// push the quantity past math.MaxInt64 is a domain-rule violation.
func ApplyBuy(s State, quantity int64, price decimal.Decimal) (State, error) {
	if quantity > math.MaxInt64-s.Quantity {
		return s, fmt.Errorf("%w: buy quantity %d overflows holding quantity %d",
			model.ErrDomainRule, quantity, s.Quantity)
	}
	newQuantity := s.Quantity + quantity
	if newQuantity == 0 {
		return State{Quantity: 0, AverageCost: s.AverageCost}, nil
	}

	total := s.AverageCost.Mul(decimal.NewFromInt(s.Quantity)).
		Add(price.Mul(decimal.NewFromInt(quantity)))

	return State{
		Quantity:    newQuantity,
		AverageCost: truncDiv(total, decimal.NewFromInt(newQuantity)),
	}, nil
}

// ApplySell disposes of quantity units at price. The average cost is
// unchanged; the returned amount is the realized profit (negative for a
// loss). Selling more than is held is a domain-rule violation.
func ApplySell(s State, quantity int64, price decimal.Decimal) (State, decimal.Decimal, error) {
	if quantity > s.Quantity {
		return s, decimal.Zero, fmt.Errorf("%w: sell quantity %d is bigger than holding quantity %d",
			model.ErrDomainRule, quantity, s.Quantity)
	}

	realized := price.Sub(s.AverageCost).Mul(decimal.NewFromInt(quantity))
	return State{
		Quantity:    s.Quantity - quantity,
		AverageCost: s.AverageCost,
	}, realized, nil
}

// truncDiv divides num by den, keeping as many fractional digits as num
// carries and discarding the rest.
func truncDiv(num, den decimal.Decimal) decimal.Decimal {
	scale := -num.Exponent()
	if scale < 0 {
		scale = 0
	}
	q, _ := num.QuoRem(den, scale)
	return q
}
