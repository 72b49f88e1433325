package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/model"
)

// ErrInvalidHistory is matched by every Violation.
var ErrInvalidHistory = errors.New("ledger: history could not have been traded")

// ViolationKind classifies why a history is not tradeable.
type ViolationKind string

const (
	// Oversell: a sell exceeds the shares held at that point.
	Oversell ViolationKind = "oversell"
	// Overdraft: a buy costs more than the cash available at that point.
	Overdraft ViolationKind = "overdraft"
)

// Violation is the first trade in replay order that the trade service
// would have rejected.
type Violation struct {
	Kind  ViolationKind
	Trade model.Trade
	Held  int64           // shares held before the trade
	Cash  decimal.Decimal // cash before the trade
}

func (v *Violation) Error() string {
	switch v.Kind {
	case Oversell:
		return fmt.Sprintf("ledger: trade %s sells %d %s with only %d held",
			v.Trade.ID, v.Trade.Quantity, v.Trade.Symbol, v.Held)
	default:
		return fmt.Sprintf("ledger: trade %s costs %s with only %s cash",
			v.Trade.ID, v.Trade.Notional().StringFixed(2), v.Cash.StringFixed(2))
	}
}

func (v *Violation) Is(target error) bool { return target == ErrInvalidHistory }

// Audit replays trades and checks that every prefix is one the trade
// service would have accepted trade by trade: no sell beyond the holding
// and no buy beyond the cash. Returns nil, a *Violation, or an
// *IntegrityError for malformed records.
func (r *Reconciler) Audit(owner string, trades []model.Trade) error {
	if err := checkAll(owner, trades); err != nil {
		return err
	}

	cash := r.InitialCapital
	held := make(map[string]int64)
	for _, t := range Order(trades) {
		switch t.Side {
		case model.SideBuy:
			if t.Notional().GreaterThan(cash) {
				return &Violation{Kind: Overdraft, Trade: t, Held: held[t.Symbol], Cash: cash}
			}
			held[t.Symbol] += t.Quantity
		case model.SideSell:
			if t.Quantity > held[t.Symbol] {
				return &Violation{Kind: Oversell, Trade: t, Held: held[t.Symbol], Cash: cash}
			}
			held[t.Symbol] -= t.Quantity
		}
		cash = cash.Add(cashDelta(t))
	}
	return nil
}
