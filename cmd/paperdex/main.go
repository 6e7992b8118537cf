package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dshills/paperdex/internal/cli"
)

var version = "dev"

func main() {
	// Interrupts stop the run after the current batch; completed work is kept
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Run(ctx, os.Args[1:], os.Stdout, os.Stderr, version)
	stop()
	os.Exit(code)
}
