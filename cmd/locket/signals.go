package main

import (
	"context"
	"os/signal"
	"syscall"
)

// serviceContext returns a context cancelled on SIGINT or SIGTERM, used by
// every long-running subcommand (inject's watch/park modes, exec, volume)
// as its top-level shutdown signal.
func serviceContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
