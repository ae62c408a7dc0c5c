package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"

	"github.com/nordgo/nordgo/internal/models"
)

func amountOrDash(a *models.Amount) string {
	if a == nil {
		return "-"
	}
	return a.String()
}

type accountsCmd struct{}

func (*accountsCmd) Name() string     { return "accounts" }
func (*accountsCmd) Synopsis() string { return "list accounts" }
func (*accountsCmd) Usage() string {
	return `accounts:
  List all accounts of the authenticated user.
`
}

func (*accountsCmd) SetFlags(*flag.FlagSet) {}

func (*accountsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
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
	fmt.Fprintln(w, "NUMBER\tNAME\tTYPE")
	for _, account := range accounts {
		fmt.Fprintf(w, "%s\t%s\t%s\n", account.Number, account.DisplayName(), account.Type)
	}
	return subcommands.ExitSuccess
}

type balancesCmd struct{}

func (*balancesCmd) Name() string     { return "balances" }
func (*balancesCmd) Synopsis() string { return "show balance details per account" }
func (*balancesCmd) Usage() string {
	return `balances:
  Show balance, own capital and buying power for every account.
`
}

func (*balancesCmd) SetFlags(*flag.FlagSet) {}

func (*balancesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
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
	fmt.Fprintln(w, "NUMBER\tNAME\tBALANCE\tOWN CAPITAL\tBUYING POWER")
	for _, account := range accounts {
		info, err := a.api.AccountInfo(ctx, account.ID)
		if err != nil {
			return fail(err)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			account.Number, account.DisplayName(),
			info.AccountSum, amountOrDash(info.OwnCapital), amountOrDash(info.BuyingPower))
	}
	return subcommands.ExitSuccess
}
