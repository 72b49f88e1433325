// Package position folds one symbol's fills into a net holding using
// weighted-average cost basis.
//
// Every buy blends into a single running average cost per share. A sell
// realizes (price - average) * quantity and leaves the average of the
// remaining shares untouched. Closing the position discards the basis, so
// the next buy starts a fresh average.
package position

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/model"
)

// ErrInvalidTrade is returned for fills that must never reach the
// accumulator: non-positive quantity or price, unknown side, or a fill for
// another symbol.
var ErrInvalidTrade = errors.New("position: invalid trade")

// Accumulator holds the running state for one symbol. The zero value is not
// usable; call New.
type Accumulator struct {
	symbol   string
	qty      int64
	avg      decimal.Decimal
	realized decimal.Decimal
	clamped  int
}

// New returns an empty accumulator for symbol.
func New(symbol string) *Accumulator {
	return &Accumulator{symbol: symbol}
}

// Apply folds one fill. Fills must be applied oldest first.
//
// A sell larger than the holding is clamped to the holding so the net
// quantity never goes negative; Clamped reports how often that happened.
func (a *Accumulator) Apply(t model.Trade) error {
	if t.Symbol != a.symbol {
		return fmt.Errorf("%w: symbol %s applied to %s accumulator", ErrInvalidTrade, t.Symbol, a.symbol)
	}
	if t.Quantity <= 0 {
		return fmt.Errorf("%w: quantity %d must be positive", ErrInvalidTrade, t.Quantity)
	}
	if !t.Price.IsPositive() {
		return fmt.Errorf("%w: price %s must be positive", ErrInvalidTrade, t.Price)
	}

	switch t.Side {
	case model.SideBuy:
		q := decimal.NewFromInt(t.Quantity)
		total := a.avg.Mul(decimal.NewFromInt(a.qty)).Add(t.Price.Mul(q))
		a.qty += t.Quantity
		a.avg = total.Div(decimal.NewFromInt(a.qty))

	case model.SideSell:
		sold := t.Quantity
		if sold > a.qty {
			sold = a.qty
			a.clamped++
		}
		a.realized = a.realized.Add(t.Price.Sub(a.avg).Mul(decimal.NewFromInt(sold)))
		a.qty -= sold
		if a.qty <= 0 {
			a.qty = 0
			a.avg = decimal.Zero
		}

	default:
		return fmt.Errorf("%w: unknown side %q", ErrInvalidTrade, t.Side)
	}
	return nil
}

// Held returns the current net quantity.
func (a *Accumulator) Held() int64 {
	return a.qty
}

// Clamped returns the number of sells that exceeded the holding.
func (a *Accumulator) Clamped() int {
	return a.clamped
}

// Position returns the current state as a value.
func (a *Accumulator) Position() model.Position {
	return model.Position{
		Symbol:      a.symbol,
		NetQuantity: a.qty,
		AverageCost: a.avg,
		CostBasis:   a.avg.Mul(decimal.NewFromInt(a.qty)),
		RealizedPnL: a.realized,
	}
}

// Fold applies trades in the given order and returns the terminal position.
func Fold(symbol string, trades []model.Trade) (model.Position, error) {
	acc := New(symbol)
	for _, t := range trades {
		if err := acc.Apply(t); err != nil {
			return model.Position{}, err
		}
	}
	return acc.Position(), nil
}
