// nordgo is a command-line client for Nordnet: it logs in through the
// MitID/Signicat identity flow, keeps the session across runs, and fetches
// and exports account data.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"
	"github.com/joho/godotenv"

	"github.com/nordgo/nordgo/internal/log"
)

var (
	configPath = flag.String("config", "", "path to a YAML config file")
	proxyAddr  = flag.String("proxy", "", "SOCKS5 proxy host:port for all outbound requests")
	verbose    = flag.Bool("verbose", false, "enable debug logging")
)

func main() {
	// A missing .env file is fine; the environment may carry everything.
	_ = godotenv.Load()

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	subcommands.Register(&loginCmd{}, "session")
	subcommands.Register(&logoutCmd{}, "session")

	subcommands.Register(&accountsCmd{}, "data")
	subcommands.Register(&balancesCmd{}, "data")
	subcommands.Register(&holdingsCmd{}, "data")
	subcommands.Register(&tradesCmd{}, "data")
	subcommands.Register(&transactionsCmd{}, "data")

	subcommands.Register(&exportCmd{}, "export")

	flag.Parse()

	if *verbose {
		if err := log.SetLogLevel("debug"); err != nil {
			log.LogError("invalid log level: %v", err)
		}
	}

	// Ctrl-C cancels the context; the approval poll reacts within one
	// interval and the flow terminates as rejected.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(int(subcommands.Execute(ctx)))
}
