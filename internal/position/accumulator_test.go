package position

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func buy(qty int64, price float64) model.Trade {
	return model.Trade{Symbol: "AAPL", Side: model.SideBuy, Quantity: qty, Price: d(price)}
}

func sell(qty int64, price float64) model.Trade {
	return model.Trade{Symbol: "AAPL", Side: model.SideSell, Quantity: qty, Price: d(price)}
}

func mustFold(t *testing.T, trades ...model.Trade) model.Position {
	t.Helper()
	p, err := Fold("AAPL", trades)
	if err != nil {
		t.Fatalf("fold: %v", err)
	}
	return p
}

func TestFold_BuysAverageCost(t *testing.T) {
	p := mustFold(t, buy(10, 10), buy(10, 20))

	if p.NetQuantity != 20 {
		t.Errorf("expected 20 shares, got %d", p.NetQuantity)
	}
	if !p.AverageCost.Equal(d(15)) {
		t.Errorf("expected average cost 15, got %s", p.AverageCost)
	}
	if !p.CostBasis.Equal(d(300)) {
		t.Errorf("expected cost basis 300, got %s", p.CostBasis)
	}
	if !p.RealizedPnL.IsZero() {
		t.Errorf("expected no realized P&L, got %s", p.RealizedPnL)
	}
}

func TestFold_PartialSellKeepsBasis(t *testing.T) {
	p := mustFold(t, buy(10, 10), sell(4, 15))

	if p.NetQuantity != 6 {
		t.Errorf("expected 6 shares, got %d", p.NetQuantity)
	}
	if !p.RealizedPnL.Equal(d(20)) {
		t.Errorf("expected realized 20, got %s", p.RealizedPnL)
	}
	if !p.AverageCost.Equal(d(10)) {
		t.Errorf("expected average cost to stay 10, got %s", p.AverageCost)
	}
	if !p.CostBasis.Equal(d(60)) {
		t.Errorf("expected cost basis 60, got %s", p.CostBasis)
	}
}

func TestFold_ClosingResetsBasis(t *testing.T) {
	p := mustFold(t, buy(5, 10), sell(5, 12))

	if p.NetQuantity != 0 {
		t.Errorf("expected flat position, got %d", p.NetQuantity)
	}
	if !p.AverageCost.IsZero() {
		t.Errorf("expected zero basis after close, got %s", p.AverageCost)
	}
	if !p.RealizedPnL.Equal(d(10)) {
		t.Errorf("expected realized 10, got %s", p.RealizedPnL)
	}

	// A new lot after the close must not inherit the old basis.
	p = mustFold(t, buy(5, 10), sell(5, 12), buy(5, 20))
	if !p.AverageCost.Equal(d(20)) {
		t.Errorf("expected fresh average 20, got %s", p.AverageCost)
	}
	if !p.RealizedPnL.Equal(d(10)) {
		t.Errorf("realized P&L should carry over the close, got %s", p.RealizedPnL)
	}
}

func TestFold_SellAtLoss(t *testing.T) {
	p := mustFold(t, buy(10, 50), sell(10, 40))

	if !p.RealizedPnL.Equal(d(-100)) {
		t.Errorf("expected realized -100, got %s", p.RealizedPnL)
	}
}

func TestApply_OversellIsClamped(t *testing.T) {
	acc := New("AAPL")
	for _, tr := range []model.Trade{buy(3, 10), sell(5, 12)} {
		if err := acc.Apply(tr); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	if acc.Held() != 0 {
		t.Errorf("holding must never go negative, got %d", acc.Held())
	}
	if acc.Clamped() != 1 {
		t.Errorf("expected 1 clamped sell, got %d", acc.Clamped())
	}
	// Realized only on the 3 shares actually held.
	if !acc.Position().RealizedPnL.Equal(d(6)) {
		t.Errorf("expected realized 6, got %s", acc.Position().RealizedPnL)
	}
}

func TestApply_RejectsMalformedTrades(t *testing.T) {
	tests := []struct {
		name  string
		trade model.Trade
	}{
		{"zero quantity", buy(0, 10)},
		{"negative quantity", buy(-1, 10)},
		{"zero price", buy(1, 0)},
		{"negative price", sell(1, -5)},
		{"unknown side", model.Trade{Symbol: "AAPL", Side: "HOLD", Quantity: 1, Price: d(1)}},
		{"other symbol", model.Trade{Symbol: "MSFT", Side: model.SideBuy, Quantity: 1, Price: d(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New("AAPL").Apply(tt.trade)
			if !errors.Is(err, ErrInvalidTrade) {
				t.Errorf("expected ErrInvalidTrade, got %v", err)
			}
		})
	}
}
