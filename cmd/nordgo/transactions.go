package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
)

type transactionsCmd struct {
	from string
	to   string
}

func (*transactionsCmd) Name() string { return "transactions" }
func (*transactionsCmd) Synopsis() string {
	return "list the transaction history across all accounts"
}
func (*transactionsCmd) Usage() string {
	return `transactions [-from YYYY-MM-DD] [-to YYYY-MM-DD]:
  List the transaction history of every account, newest first. Without a
  range the full history is fetched.
`
}

func (c *transactionsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.from, "from", "", "start date (YYYY-MM-DD)")
	f.StringVar(&c.to, "to", "", "end date (YYYY-MM-DD)")
}

func (c *transactionsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
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
	ids := make([]int, len(accounts))
	for i, account := range accounts {
		ids[i] = account.ID
	}

	transactions, err := a.api.Transactions(ctx, ids, c.from, c.to, func(fetched, total int) {
		fmt.Fprintf(os.Stderr, "Fetched %d/%d transactions\n", fetched, total)
	})
	if err != nil {
		return fail(err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "DATE\tACCOUNT\tTYPE\tINSTRUMENT\tQTY\tAMOUNT")
	for _, tx := range transactions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%s\n",
			tx.AccountingDate, tx.AccountNumber, tx.TypeName,
			tx.InstrumentName, tx.Quantity, tx.Amount)
	}
	return subcommands.ExitSuccess
}
