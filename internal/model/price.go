package model

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Price is either a known positive amount or unavailable. The zero value
// is Unavailable. Providers' zero/negative values never become Known.
type Price struct {
	value decimal.Decimal
	known bool
}

// Unavailable is the price of a symbol without a usable quote.
var Unavailable = Price{}

// Known wraps v. Non-positive values yield Unavailable.
func Known(v decimal.Decimal) Price {
	if !v.IsPositive() {
		return Unavailable
	}
	return Price{value: v, known: true}
}

// Value returns the amount and whether it is known.
func (p Price) Value() (decimal.Decimal, bool) {
	return p.value, p.known
}

// IsKnown reports whether p carries an amount.
func (p Price) IsKnown() bool {
	return p.known
}

func (p Price) String() string {
	if !p.known {
		return "unavailable"
	}
	return p.value.String()
}

// MarshalJSON encodes an unavailable price as null.
func (p Price) MarshalJSON() ([]byte, error) {
	if !p.known {
		return []byte("null"), nil
	}
	return json.Marshal(p.value)
}

// UnmarshalJSON accepts null, numbers and numeric strings.
func (p *Price) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = Unavailable
		return nil
	}
	var v decimal.Decimal
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = Known(v)
	return nil
}

// PriceLookup resolves the current price of a symbol.
type PriceLookup interface {
	Price(symbol string) Price
}

// PriceMap is a fixed set of prices. Missing symbols are Unavailable.
type PriceMap map[string]Price

// Price implements PriceLookup.
func (m PriceMap) Price(symbol string) Price {
	return m[symbol]
}

// CloseLookup resolves the previous session's close. A PriceLookup that
// also implements it gets day change in the valuation.
type CloseLookup interface {
	PreviousClose(symbol string) (decimal.Decimal, bool)
}

// QuoteMap is a fixed set of quotes. It implements PriceLookup and
// CloseLookup; missing symbols are Unavailable.
type QuoteMap map[string]Quote

// Price implements PriceLookup.
func (m QuoteMap) Price(symbol string) Price {
	return m[symbol].Price
}

// PreviousClose implements CloseLookup. A close is only reported next to a
// known price.
func (m QuoteMap) PreviousClose(symbol string) (decimal.Decimal, bool) {
	q, ok := m[symbol]
	if !ok || !q.Price.IsKnown() || !q.PreviousClose.IsPositive() {
		return decimal.Zero, false
	}
	return q.PreviousClose, true
}

// Quote is the latest market data for a symbol.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Price         Price           `json:"price"`
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	PreviousClose decimal.Decimal `json:"previous_close"`
	FetchedAt     time.Time       `json:"fetched_at"`
}
