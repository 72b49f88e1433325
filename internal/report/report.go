// Package report renders snapshots and valuations as plain-text tables for
// the ledgerctl command.
package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/model"
)

// Currency is the reporting currency. The ledger is single-currency.
const Currency = money.USD

// Amount formats a decimal in the reporting currency, rounded half away
// from zero to the currency's minor unit.
func Amount(v decimal.Decimal) string {
	cur := money.GetCurrency(Currency)
	minor := v.Shift(int32(cur.Fraction)).Round(0).IntPart()
	if minor < 0 {
		return "-" + cur.Formatter().Format(-minor)
	}
	return cur.Formatter().Format(minor)
}

// Signed is Amount with an explicit sign; zero renders as "-".
func Signed(v decimal.Decimal) string {
	switch {
	case v.IsZero():
		return "-"
	case v.IsPositive():
		return "+" + Amount(v)
	default:
		return Amount(v)
	}
}

// Snapshot writes the derived ledger state: cash, then one row per symbol.
func Snapshot(w io.Writer, snap model.Snapshot) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Owner:    %s\n", snap.Owner)
	fmt.Fprintf(&b, "Trades:   %d\n", snap.TradeCount)
	fmt.Fprintf(&b, "Capital:  %s\n", Amount(snap.InitialCapital))
	fmt.Fprintf(&b, "Cash:     %s\n", Amount(snap.Cash))
	fmt.Fprintf(&b, "Realized: %s\n", Signed(snap.TotalRealizedPnL))
	if snap.ClampedSells > 0 {
		fmt.Fprintf(&b, "Warning:  %d sell(s) exceeded the holding and were clamped\n", snap.ClampedSells)
	}
	b.WriteString("\n")

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Symbol\tQty\tAvg Cost\tCost Basis\tRealized\t")
	for _, sym := range snap.Symbols() {
		p := snap.Positions[sym]
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t\n",
			sym, p.NetQuantity, Amount(p.AverageCost), Amount(p.CostBasis), Signed(p.RealizedPnL))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Valuation writes a mark-to-market report. Positions without a quote show
// "n/a" and are listed at the end, since totals exclude them.
func Valuation(w io.Writer, v model.Valuation) error {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Symbol\tQty\tAvg Cost\tPrice\tMarket Value\tDay\tUnrealized\tRealized\t")
	for _, p := range v.Positions {
		price, mv, day, upl := "n/a", "n/a", "n/a", "n/a"
		if q, ok := p.Quote.Value(); ok {
			price, mv, upl = Amount(q), Amount(p.MarketValue), Signed(p.UnrealizedPnL)
		}
		if p.DayChange != nil {
			day = fmt.Sprintf("%s (%s%%)", Signed(*p.DayChange), p.DayChangePercent.StringFixed(2))
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			p.Symbol, p.NetQuantity, Amount(p.AverageCost), price, mv, day, upl, Signed(p.RealizedPnL))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "Cash:        %s\n", Amount(v.Cash))
	fmt.Fprintf(&b, "Holdings:    %s\n", Amount(v.HoldingsValue))
	fmt.Fprintf(&b, "Total:       %s\n", Amount(v.TotalValue))
	fmt.Fprintf(&b, "Realized:    %s\n", Signed(v.TotalRealizedPnL))
	fmt.Fprintf(&b, "Unrealized:  %s\n", Signed(v.TotalUnrealizedPnL))
	fmt.Fprintf(&b, "P&L:         %s\n", Signed(v.TotalPnL))
	fmt.Fprintf(&b, "Day change:  %s\n", Signed(v.TotalDayChange))
	if !v.Complete() {
		fmt.Fprintf(&b, "Unpriced:    %s (excluded from totals)\n", strings.Join(v.Unpriced, ", "))
	}

	_, err := io.WriteString(w, b.String())
	return err
}
