package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"taskwatch/internal/cli"
)

func main() {
	// cancelling aborts in-flight waits and stops `watch`
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
