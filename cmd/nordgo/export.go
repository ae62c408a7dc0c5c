package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"

	"github.com/nordgo/nordgo/internal/export"
	"github.com/nordgo/nordgo/internal/models"
)

type exportCmd struct {
	entity string
	dir    string
	from   string
	to     string
}

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "export account data to timestamped CSV files" }
func (*exportCmd) Usage() string {
	return `export [-entity all|accounts|balances|holdings|trades|transactions] [-dir DIR]:
  Fetch the selected entity and write it as CSV. -from/-to narrow the
  transaction range.
`
}

func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.entity, "entity", "all", "what to export")
	f.StringVar(&c.dir, "dir", "", "target directory (defaults to the configured export dir)")
	f.StringVar(&c.from, "from", "", "transaction start date (YYYY-MM-DD)")
	f.StringVar(&c.to, "to", "", "transaction end date (YYYY-MM-DD)")
}

func (c *exportCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	a, err := newApp()
	if err != nil {
		return fail(err)
	}
	if err := a.api.EnsureSession(ctx, false); err != nil {
		return fail(err)
	}

	dir := c.dir
	if dir == "" {
		dir = a.cfg.ExportDir
	}

	entity := strings.ToLower(c.entity)
	all := entity == "all"
	wants := func(name string) bool { return all || entity == name }

	if !all {
		switch entity {
		case "accounts", "balances", "holdings", "trades", "transactions":
		default:
			fmt.Fprintf(os.Stderr, "unknown entity %q\n", c.entity)
			return subcommands.ExitUsageError
		}
	}

	accounts, err := a.api.Accounts(ctx)
	if err != nil {
		return fail(err)
	}

	written := func(path string) {
		fmt.Fprintf(os.Stdout, "Wrote %s\n", path)
	}

	if wants("accounts") {
		path, err := export.Accounts(dir, accounts)
		if err != nil {
			return fail(err)
		}
		written(path)
	}

	if wants("balances") {
		infos := make(map[int]*models.AccountInfo, len(accounts))
		for _, account := range accounts {
			info, err := a.api.AccountInfo(ctx, account.ID)
			if err != nil {
				return fail(err)
			}
			infos[account.ID] = info
		}
		path, err := export.Balances(dir, accounts, infos)
		if err != nil {
			return fail(err)
		}
		written(path)
	}

	if wants("holdings") {
		holdings := make(map[int][]models.Holding, len(accounts))
		for _, account := range accounts {
			positions, err := a.api.Positions(ctx, account.ID)
			if err != nil {
				return fail(err)
			}
			holdings[account.ID] = positions
		}
		path, err := export.Holdings(dir, holdings, accounts)
		if err != nil {
			return fail(err)
		}
		written(path)
	}

	if wants("trades") {
		trades := make(map[int][]models.Trade, len(accounts))
		for _, account := range accounts {
			list, err := a.api.Trades(ctx, account.ID)
			if err != nil {
				return fail(err)
			}
			trades[account.ID] = list
		}
		path, err := export.Trades(dir, trades, accounts)
		if err != nil {
			return fail(err)
		}
		written(path)
	}

	if wants("transactions") {
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
		path, err := export.Transactions(dir, transactions)
		if err != nil {
			return fail(err)
		}
		written(path)
	}

	return subcommands.ExitSuccess
}
