package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/papertrade/ledger-engine/internal/ledger"
	"github.com/papertrade/ledger-engine/internal/store"
)

type exportCmd struct {
	owner string
}

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "write an owner's trades from Postgres as JSONL" }
func (*exportCmd) Usage() string {
	return `ledgerctl export -owner <id>

  Reads the owner's trades from storage.database_url and writes them to
  stdout in replay order, one JSON object per line.
`
}

func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.owner, "owner", "", "Owner whose trades to export")
}

func (c *exportCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.owner == "" {
		fmt.Fprintln(os.Stderr, "-owner is required")
		return subcommands.ExitUsageError
	}
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return subcommands.ExitFailure
	}
	if cfg.Storage.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "storage.database_url is not configured")
		return subcommands.ExitFailure
	}

	pool, err := store.NewPool(ctx, cfg.Storage.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to database: %v\n", err)
		return subcommands.ExitFailure
	}
	defer pool.Close()

	trades, err := store.NewPostgresStore(pool).ListTrades(ctx, c.owner)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing trades: %v\n", err)
		return subcommands.ExitFailure
	}
	if err := ledger.EncodeTrades(os.Stdout, trades); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing trades: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
