package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
)

type logoutCmd struct{}

func (*logoutCmd) Name() string     { return "logout" }
func (*logoutCmd) Synopsis() string { return "discard the persisted session" }
func (*logoutCmd) Usage() string {
	return `logout:
  Remove the persisted session. The next data command logs in again.
`
}

func (*logoutCmd) SetFlags(*flag.FlagSet) {}

func (*logoutCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	a, err := newApp()
	if err != nil {
		return fail(err)
	}
	if err := a.api.Logout(); err != nil {
		return fail(err)
	}
	fmt.Fprintln(os.Stdout, "Session discarded.")
	return subcommands.ExitSuccess
}
