package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/subcommands"
)

type loginCmd struct {
	force bool
}

func (*loginCmd) Name() string     { return "login" }
func (*loginCmd) Synopsis() string { return "authenticate and persist a session" }
func (*loginCmd) Usage() string {
	return `login [-force]:
  Log in through MitID and persist the session for later commands.
  Reuses the persisted session when it is still valid.
`
}

func (c *loginCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.force, "force", false, "discard any persisted session and log in from scratch")
}

func (c *loginCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	a, err := newApp()
	if err != nil {
		return fail(err)
	}
	if err := a.api.EnsureSession(ctx, c.force); err != nil {
		return fail(err)
	}

	artifact := a.api.Artifact()
	fmt.Fprintf(os.Stdout, "Logged in as %s. Session valid for about %s.\n",
		a.cfg.User, artifact.Remaining().Round(time.Second))
	return subcommands.ExitSuccess
}
