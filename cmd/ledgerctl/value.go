package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/papertrade/ledger-engine/internal/config"
	"github.com/papertrade/ledger-engine/internal/ledger"
	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/quote"
	"github.com/papertrade/ledger-engine/internal/report"
	"github.com/papertrade/ledger-engine/internal/symbol"
	"github.com/papertrade/ledger-engine/internal/valuation"
)

type valueCmd struct {
	owner  string
	prices string
	live   bool
	asJSON bool
}

func (*valueCmd) Name() string     { return "value" }
func (*valueCmd) Synopsis() string { return "mark a replayed trade log to market" }
func (*valueCmd) Usage() string {
	return `ledgerctl value [-owner <id>] [-prices <file.json>] [-live] [-json] <trades.jsonl|->

  Replays the log and values open positions. Prices come from a JSON object
  of symbol to decimal string, from the live quote provider with -live, or
  both (live wins). Positions without a price are reported as unpriced.
`
}

func (c *valueCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.owner, "owner", "", "Owner to value (required when the log holds several)")
	f.StringVar(&c.prices, "prices", "", "JSON file mapping symbol to price")
	f.BoolVar(&c.live, "live", false, "Fetch quotes from the configured provider")
	f.BoolVar(&c.asJSON, "json", false, "Print the valuation as JSON")
}

func (c *valueCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "expected exactly one trade log")
		return subcommands.ExitUsageError
	}
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return subcommands.ExitFailure
	}

	trades, err := readTrades(f.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading trades: %v\n", err)
		return subcommands.ExitFailure
	}
	owner, trades, err := ownerOf(trades, c.owner)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	snap, err := ledger.NewReconciler(cfg.Ledger.GetInitialCapital()).Reconcile(owner, trades)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error replaying ledger: %v\n", err)
		return subcommands.ExitFailure
	}

	prices := model.QuoteMap{}
	if c.prices != "" {
		if prices, err = readPrices(c.prices); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading prices: %v\n", err)
			return subcommands.ExitFailure
		}
	}
	if c.live {
		if err := fetchLive(ctx, cfg.Quotes, snap.OpenSymbols(), prices); err != nil {
			fmt.Fprintf(os.Stderr, "Error fetching quotes: %v\n", err)
			return subcommands.ExitFailure
		}
	}

	v := valuation.Value(snap, prices)
	if c.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return subcommands.ExitFailure
		}
		return subcommands.ExitSuccess
	}
	if err := report.Valuation(os.Stdout, v); err != nil {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// readPrices loads a symbol -> price JSON object. Symbols are normalized
// the way the service normalizes orders, so "aapl" prices AAPL.
func readPrices(file string) (model.QuoteMap, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var raw map[string]decimal.Decimal
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(model.QuoteMap, len(raw))
	for key, p := range raw {
		sym, err := symbol.Normalize(key)
		if err != nil {
			return nil, fmt.Errorf("price for %q: %w", key, err)
		}
		if _, dup := out[sym]; dup {
			return nil, fmt.Errorf("price for %s given more than once", sym)
		}
		out[sym] = model.Quote{Symbol: sym, Price: model.Known(p)}
	}
	return out, nil
}

// fetchLive overlays live quotes onto prices. Unavailable quotes do not
// replace a price from the file.
func fetchLive(ctx context.Context, qc config.QuotesConfig, symbols []string, prices model.QuoteMap) error {
	if qc.APIKey == "" {
		return fmt.Errorf("quotes.api_key is not configured")
	}
	opts := []quote.ClientOption{quote.WithTimeout(qc.GetTimeout())}
	if qc.BaseURL != "" {
		opts = append(opts, quote.WithBaseURL(qc.BaseURL))
	}
	if qc.RateLimit > 0 {
		opts = append(opts, quote.WithRateLimit(qc.RateLimit))
	}
	if qc.Concurrency > 0 {
		opts = append(opts, quote.WithConcurrency(qc.Concurrency))
	}

	quotes, err := quote.NewClient(qc.APIKey, opts...).Quotes(ctx, symbols)
	if err != nil {
		return err
	}
	for sym, q := range quotes {
		if q.Price.IsKnown() {
			prices[sym] = q
		}
	}
	return nil
}
