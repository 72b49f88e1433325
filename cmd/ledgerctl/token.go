package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/subcommands"

	"github.com/papertrade/ledger-engine/internal/auth"
)

type tokenCmd struct {
	ttl time.Duration
}

func (*tokenCmd) Name() string     { return "token" }
func (*tokenCmd) Synopsis() string { return "mint an API token for an owner" }
func (*tokenCmd) Usage() string {
	return `ledgerctl token [-ttl <duration>] <owner>

  Signs a bearer token with auth.jwt_secret. The default lifetime is
  auth.token_expiry.
`
}

func (c *tokenCmd) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&c.ttl, "ttl", 0, "Token lifetime (default: auth.token_expiry)")
}

func (c *tokenCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 || f.Arg(0) == "" {
		fmt.Fprintln(os.Stderr, "expected exactly one owner")
		return subcommands.ExitUsageError
	}
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return subcommands.ExitFailure
	}
	ttl := c.ttl
	if ttl <= 0 {
		ttl = cfg.Auth.GetTokenExpiry()
	}

	token, err := auth.SignToken(f.Arg(0), []byte(cfg.Auth.JWTSecret), ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error signing token: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Println(token)
	return subcommands.ExitSuccess
}
