// Package ledger replays an owner's complete trade history into a
// Snapshot of cash, positions and realized P&L.
//
// Replay is always full: a deletion anywhere in the history re-derives
// every later average cost, so nothing is ever un-applied incrementally.
// Cash and positions are two independent folds over the same ordered
// sequence. Everything here is pure; no function performs I/O.
package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/position"
)

// ErrDataIntegrity is matched by every IntegrityError.
var ErrDataIntegrity = errors.New("ledger: data integrity violation")

// IntegrityError names the persisted trade that cannot be replayed.
// A snapshot is never produced when one is returned.
type IntegrityError struct {
	TradeID string
	Reason  string
	Err     error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("ledger: trade %s: %s", e.TradeID, e.Reason)
}

func (e *IntegrityError) Is(target error) bool { return target == ErrDataIntegrity }

func (e *IntegrityError) Unwrap() error { return e.Err }

// Order returns a copy of trades sorted for replay: executed_at ascending,
// then the store sequence, then the id. This is the only replay order.
func Order(trades []model.Trade) []model.Trade {
	out := make([]model.Trade, len(trades))
	copy(out, trades)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.ExecutedAt.Equal(b.ExecutedAt) {
			return a.ExecutedAt.Before(b.ExecutedAt)
		}
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return a.ID < b.ID
	})
	return out
}

// Reconciler replays histories against a fixed initial capital.
type Reconciler struct {
	InitialCapital decimal.Decimal
}

// NewReconciler creates a reconciler starting every owner at initialCapital.
func NewReconciler(initialCapital decimal.Decimal) *Reconciler {
	return &Reconciler{InitialCapital: initialCapital}
}

// Reconcile produces a fresh snapshot from the complete history of owner.
// Input order does not matter. An empty history yields the initial capital
// and no positions.
func (r *Reconciler) Reconcile(owner string, trades []model.Trade) (model.Snapshot, error) {
	if err := checkAll(owner, trades); err != nil {
		return model.Snapshot{}, err
	}
	ordered := Order(trades)

	snap := model.Snapshot{
		Owner:            owner,
		InitialCapital:   r.InitialCapital,
		Cash:             cashFold(r.InitialCapital, ordered),
		Positions:        make(map[string]model.Position),
		TotalRealizedPnL: decimal.Zero,
		TradeCount:       len(ordered),
	}
	if n := len(ordered); n > 0 {
		snap.LastExecutedAt = ordered[n-1].ExecutedAt
	}

	accs := make(map[string]*position.Accumulator)
	for _, t := range ordered {
		acc, ok := accs[t.Symbol]
		if !ok {
			acc = position.New(t.Symbol)
			accs[t.Symbol] = acc
		}
		if err := acc.Apply(t); err != nil {
			return model.Snapshot{}, &IntegrityError{TradeID: t.ID, Reason: err.Error(), Err: err}
		}
	}

	for sym, acc := range accs {
		p := acc.Position()
		snap.Positions[sym] = p
		snap.TotalRealizedPnL = snap.TotalRealizedPnL.Add(p.RealizedPnL)
		snap.ClampedSells += acc.Clamped()
	}
	return snap, nil
}

// History returns the ledger state after each trade, in replay order.
func (r *Reconciler) History(owner string, trades []model.Trade) ([]model.HistoryEntry, error) {
	if err := checkAll(owner, trades); err != nil {
		return nil, err
	}
	ordered := Order(trades)

	cash := r.InitialCapital
	realized := decimal.Zero
	accs := make(map[string]*position.Accumulator)
	entries := make([]model.HistoryEntry, 0, len(ordered))

	for _, t := range ordered {
		acc, ok := accs[t.Symbol]
		if !ok {
			acc = position.New(t.Symbol)
			accs[t.Symbol] = acc
		}
		before := acc.Position().RealizedPnL
		if err := acc.Apply(t); err != nil {
			return nil, &IntegrityError{TradeID: t.ID, Reason: err.Error(), Err: err}
		}
		p := acc.Position()
		realized = realized.Add(p.RealizedPnL.Sub(before))
		cash = cash.Add(cashDelta(t))

		entries = append(entries, model.HistoryEntry{
			Trade:       t,
			Cash:        cash,
			Position:    p,
			RealizedPnL: realized,
		})
	}
	return entries, nil
}

// cashFold walks cash forward independently of the position fold.
func cashFold(initial decimal.Decimal, ordered []model.Trade) decimal.Decimal {
	cash := initial
	for _, t := range ordered {
		cash = cash.Add(cashDelta(t))
	}
	return cash
}

// cashDelta is -notional for a buy and +notional for a sell.
func cashDelta(t model.Trade) decimal.Decimal {
	if t.Side == model.SideBuy {
		return t.Notional().Neg()
	}
	return t.Notional()
}

func checkAll(owner string, trades []model.Trade) error {
	for _, t := range trades {
		if err := check(owner, t); err != nil {
			return err
		}
	}
	return nil
}

// check enforces the persisted-record invariants before any fold runs.
func check(owner string, t model.Trade) error {
	var reason string
	switch {
	case t.Owner != owner:
		reason = fmt.Sprintf("belongs to %q, not %q", t.Owner, owner)
	case t.Symbol == "":
		reason = "empty symbol"
	case !t.Side.Valid():
		reason = fmt.Sprintf("unknown side %q", t.Side)
	case t.Quantity <= 0:
		reason = fmt.Sprintf("non-positive quantity %d", t.Quantity)
	case !t.Price.IsPositive():
		reason = fmt.Sprintf("non-positive price %s", t.Price)
	default:
		return nil
	}
	return &IntegrityError{TradeID: t.ID, Reason: reason}
}
