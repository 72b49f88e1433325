package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/papertrade/ledger-engine/internal/config"
	"github.com/papertrade/ledger-engine/internal/ledger"
	"github.com/papertrade/ledger-engine/internal/model"
)

// loadConfig reads -config and installs the configured logger on stderr.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(config.NewLogger(cfg.Logging, os.Stderr))
	return cfg, nil
}

// readTrades decodes a JSONL trade log; "-" reads stdin.
func readTrades(file string) ([]model.Trade, error) {
	var r io.Reader = os.Stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	trades, err := ledger.DecodeTrades(r)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", file, err)
	}
	return trades, nil
}

// ownerOf picks the owner to replay. An empty owner is accepted only when
// the log holds a single owner.
func ownerOf(trades []model.Trade, owner string) (string, []model.Trade, error) {
	owners := map[string]bool{}
	for _, t := range trades {
		owners[t.Owner] = true
	}
	if owner == "" {
		switch len(owners) {
		case 0:
			return "", nil, fmt.Errorf("log is empty; pass -owner")
		case 1:
			for o := range owners {
				owner = o
			}
		default:
			return "", nil, fmt.Errorf("log holds %d owners; pass -owner", len(owners))
		}
	}
	var mine []model.Trade
	for _, t := range trades {
		if t.Owner == owner {
			mine = append(mine, t)
		}
	}
	return owner, mine, nil
}
