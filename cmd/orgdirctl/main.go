// Package main is the entry point of orgdirctl, the directory operator CLI.
//
// Import Path: orgdir.io/orgdir/cmd/orgdirctl
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"orgdir.io/orgdir/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(nil).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "orgdirctl: %v\n", err)
		stop()
		os.Exit(cli.GetExitCode(err))
	}
}
