// Command ledgerctl works on exported trade logs offline: replay a JSONL
// history into a snapshot, value it against prices, export an owner's
// trades from Postgres, and mint API tokens.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

var configPath = flag.String("config", "config.toml", "Path to the TOML configuration file")

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	commander.Register(&replayCmd{}, "ledger")
	commander.Register(&valueCmd{}, "ledger")
	commander.Register(&exportCmd{}, "ledger")
	commander.Register(&tokenCmd{}, "auth")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
