// cmd/gtanalysis/main.go
//
// Entry point for the binned likelihood analysis CLI. Each subcommand loads
// the analysis configuration, prepares the save directory and drives the
// coordinator. Products already built by an earlier run are skipped, so
// fit and run redo setup cheaply.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
