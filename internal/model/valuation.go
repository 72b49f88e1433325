package model

import "github.com/shopspring/decimal"

// PositionValue is one position marked to market.
type PositionValue struct {
	Position
	Quote            Price           `json:"quote"`
	MarketValue      decimal.Decimal `json:"market_value"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	PriceUnavailable bool            `json:"price_unavailable"`

	// DayChange is (price - previous close) * quantity; nil unless both
	// are known.
	DayChange        *decimal.Decimal `json:"day_change,omitempty"`
	DayChangePercent *decimal.Decimal `json:"day_change_percent,omitempty"`
}

// Valuation combines a snapshot with quotes.
// HoldingsValue and TotalValue exclude positions without a quote, so a
// missing quote understates the portfolio; Unpriced lists those symbols.
type Valuation struct {
	Owner              string          `json:"owner"`
	Cash               decimal.Decimal `json:"cash"`
	Positions          []PositionValue `json:"positions"`
	Unpriced           []string        `json:"unpriced"`
	TotalRealizedPnL   decimal.Decimal `json:"total_realized_pnl"`
	TotalUnrealizedPnL decimal.Decimal `json:"total_unrealized_pnl"`
	TotalPnL           decimal.Decimal `json:"total_pnl"`
	TotalDayChange     decimal.Decimal `json:"total_day_change"` // priced positions with a previous close
	HoldingsValue      decimal.Decimal `json:"holdings_value"`
	TotalValue         decimal.Decimal `json:"total_value"`
}

// Complete reports whether every open position had a quote.
func (v Valuation) Complete() bool {
	return len(v.Unpriced) == 0
}
