package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/papertrade/ledger-engine/internal/ledger"
	"github.com/papertrade/ledger-engine/internal/report"
)

type replayCmd struct {
	owner  string
	asJSON bool
	audit  bool
}

func (*replayCmd) Name() string     { return "replay" }
func (*replayCmd) Synopsis() string { return "replay a JSONL trade log into a ledger snapshot" }
func (*replayCmd) Usage() string {
	return `ledgerctl replay [-owner <id>] [-json] [-audit] <trades.jsonl|->

  Rebuilds cash, positions and realized P&L from scratch. With -audit the
  command fails if any sell exceeds the holding or any buy exceeds the cash.
`
}

func (c *replayCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.owner, "owner", "", "Owner to replay (required when the log holds several)")
	f.BoolVar(&c.asJSON, "json", false, "Print the snapshot as JSON")
	f.BoolVar(&c.audit, "audit", false, "Fail on oversells and overdrafts instead of clamping")
}

func (c *replayCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
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

	r := ledger.NewReconciler(cfg.Ledger.GetInitialCapital())
	if c.audit {
		if err := r.Audit(owner, trades); err != nil {
			fmt.Fprintf(os.Stderr, "Audit failed: %v\n", err)
			return subcommands.ExitFailure
		}
	}

	snap, err := r.Reconcile(owner, trades)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error replaying ledger: %v\n", err)
		return subcommands.ExitFailure
	}

	if c.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return subcommands.ExitFailure
		}
		return subcommands.ExitSuccess
	}
	if err := report.Snapshot(os.Stdout, snap); err != nil {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
