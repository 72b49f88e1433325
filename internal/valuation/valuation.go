// Package valuation marks a ledger snapshot to market.
//
// Value is a pure function of (snapshot, prices) and can be recomputed on
// every quote refresh without replaying the ledger.
package valuation

import (
	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Value marks every position in snap against prices.
//
// An open position without a known price contributes zero unrealized P&L
// and zero market value, and is listed in Unpriced. Flat positions are
// reported for their realized P&L only.
//
// When prices also implements model.CloseLookup, priced positions with a
// previous close carry their day change and TotalDayChange sums them.
func Value(snap model.Snapshot, prices model.PriceLookup) model.Valuation {
	v := model.Valuation{
		Owner:              snap.Owner,
		Cash:               snap.Cash,
		Positions:          make([]model.PositionValue, 0, len(snap.Positions)),
		Unpriced:           []string{},
		TotalRealizedPnL:   snap.TotalRealizedPnL,
		TotalUnrealizedPnL: decimal.Zero,
		HoldingsValue:      decimal.Zero,
		TotalDayChange:     decimal.Zero,
	}
	closes, _ := prices.(model.CloseLookup)

	for _, sym := range snap.Symbols() {
		p := snap.Positions[sym]
		pv := model.PositionValue{
			Position:      p,
			MarketValue:   decimal.Zero,
			UnrealizedPnL: decimal.Zero,
		}

		if p.Open() {
			quote := prices.Price(sym)
			price, ok := quote.Value()
			if ok {
				qty := decimal.NewFromInt(p.NetQuantity)
				pv.Quote = quote
				pv.MarketValue = price.Mul(qty)
				pv.UnrealizedPnL = price.Sub(p.AverageCost).Mul(qty)
				v.TotalUnrealizedPnL = v.TotalUnrealizedPnL.Add(pv.UnrealizedPnL)
				v.HoldingsValue = v.HoldingsValue.Add(pv.MarketValue)

				if closes != nil {
					if prev, ok := closes.PreviousClose(sym); ok && prev.IsPositive() {
						change := price.Sub(prev).Mul(qty)
						pct := price.Sub(prev).Div(prev).Mul(hundred).Round(2)
						pv.DayChange, pv.DayChangePercent = &change, &pct
						v.TotalDayChange = v.TotalDayChange.Add(change)
					}
				}
			} else {
				pv.PriceUnavailable = true
				v.Unpriced = append(v.Unpriced, sym)
			}
		}
		v.Positions = append(v.Positions, pv)
	}

	v.TotalValue = v.Cash.Add(v.HoldingsValue)
	v.TotalPnL = v.TotalRealizedPnL.Add(v.TotalUnrealizedPnL)
	return v
}
