// Package model defines the core domain types shared across the ledger engine.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an executed fill.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", fmt.Errorf("unknown side %q (expected BUY or SELL)", s)
}

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Trade is an immutable record of one executed fill.
// Once persisted it is never modified; corrections are delete + re-insert.
// Schema: {id, seq, owner, symbol, side, quantity, price, executed_at}
type Trade struct {
	ID         string          `json:"id" db:"id"`
	Seq        int64           `json:"seq" db:"seq"` // store-assigned insertion sequence, replay tie-break
	Owner      string          `json:"owner" db:"owner"`
	Symbol     string          `json:"symbol" db:"symbol"`
	Side       Side            `json:"side" db:"side"`
	Quantity   int64           `json:"quantity" db:"quantity"` // whole shares, always > 0
	Price      decimal.Decimal `json:"price" db:"price"`       // fill price, always > 0
	ExecutedAt time.Time       `json:"executed_at" db:"executed_at"`
}

// Notional returns quantity * price.
func (t Trade) Notional() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}

// Position is the derived holding in one symbol. It is never persisted as
// a source of truth.
type Position struct {
	Symbol      string          `json:"symbol"`
	NetQuantity int64           `json:"net_quantity"`
	AverageCost decimal.Decimal `json:"average_cost"` // zero while flat
	CostBasis   decimal.Decimal `json:"cost_basis"`   // net_quantity * average_cost
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
}

// Open reports whether shares are currently held.
func (p Position) Open() bool {
	return p.NetQuantity > 0
}

// Snapshot is the complete derived state of one owner's ledger, produced
// by a full replay of the trade history.
type Snapshot struct {
	Owner            string              `json:"owner"`
	InitialCapital   decimal.Decimal     `json:"initial_capital"`
	Cash             decimal.Decimal     `json:"cash"`
	Positions        map[string]Position `json:"positions"`
	TotalRealizedPnL decimal.Decimal     `json:"total_realized_pnl"`
	TradeCount       int                 `json:"trade_count"`
	// LastExecutedAt is the execution time of the last trade in replay
	// order; zero for an empty history.
	LastExecutedAt time.Time `json:"last_executed_at,omitzero"`
	// ClampedSells counts sells that exceeded the holding during replay.
	// Always zero for a history built through the trade service.
	ClampedSells int `json:"clamped_sells,omitempty"`
}

// Held returns the net quantity held in symbol (0 if never traded).
func (s *Snapshot) Held(symbol string) int64 {
	return s.Positions[symbol].NetQuantity
}

// OpenSymbols returns the symbols with a positive holding, sorted.
func (s *Snapshot) OpenSymbols() []string {
	var out []string
	for sym, p := range s.Positions {
		if p.Open() {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// Symbols returns every symbol that appears in the snapshot, sorted.
func (s *Snapshot) Symbols() []string {
	out := make([]string, 0, len(s.Positions))
	for sym := range s.Positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// HistoryEntry is the ledger state right after one trade was applied.
type HistoryEntry struct {
	Trade       Trade           `json:"trade"`
	Cash        decimal.Decimal `json:"cash"`
	Position    Position        `json:"position"`
	RealizedPnL decimal.Decimal `json:"total_realized_pnl"`
}

// WatchItem is a symbol an owner follows without holding it.
type WatchItem struct {
	Owner   string    `json:"owner" db:"owner"`
	Symbol  string    `json:"symbol" db:"symbol"`
	AddedAt time.Time `json:"added_at" db:"added_at"`
}
