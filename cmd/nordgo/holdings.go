package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
)

type holdingsCmd struct{}

func (*holdingsCmd) Name() string     { return "holdings" }
func (*holdingsCmd) Synopsis() string { return "list current positions across all accounts" }
func (*holdingsCmd) Usage() string {
	return `holdings:
  List the open positions of every account, with unrealized gain/loss.
`
}

func (*holdingsCmd) SetFlags(*flag.FlagSet) {}

func (*holdingsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
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
	fmt.Fprintln(w, "ACCOUNT\tINSTRUMENT\tQTY\tACQ PRICE\tMARKET VALUE\tGAIN/LOSS\t%")

	for _, account := range accounts {
		holdings, err := a.api.Positions(ctx, account.ID)
		if err != nil {
			return fail(err)
		}
		for _, h := range holdings {
			fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\t%s\t%s\n",
				account.DisplayName(), h.Instrument.Name, h.Quantity,
				h.AcqPrice, h.MarketValue,
				h.GainLoss().StringFixed(2), h.GainLossPct().StringFixed(2))
		}
	}
	return subcommands.ExitSuccess
}
