package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
)

type tradesCmd struct{}

func (*tradesCmd) Name() string     { return "trades" }
func (*tradesCmd) Synopsis() string { return "list executed trades across all accounts" }
func (*tradesCmd) Usage() string {
	return `trades:
  List the executed trades of every account.
`
}

func (*tradesCmd) SetFlags(*flag.FlagSet) {}

func (*tradesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	a, err := newApp()
	if err != nil {
		return fail(err)
	}
	if err := a.api.EnsureSession(ctx, false); err != nil {
		return fail(err)
	}

	accounts, err := a.api.Accounts(ctx)
	if err != nil {
		return fail(err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "ACCOUNT\tDATE\tSIDE\tINSTRUMENT\tQTY\tPRICE")

	for _, account := range accounts {
		trades, err := a.api.Trades(ctx, account.ID)
		if err != nil {
			return fail(err)
		}
		for _, t := range trades {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%s\n",
				account.DisplayName(), t.TradeTime, t.Side,
				t.Instrument.Name, t.Volume, t.Price)
		}
	}
	return subcommands.ExitSuccess
}
