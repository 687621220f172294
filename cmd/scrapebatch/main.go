// Command scrapebatch fetches a list of API endpoints concurrently under a
// shared rate limit, with retries, a response cache and resumable
// checkpoints.
//
// Usage:
//
//	scrapebatch run --items games.txt --checkpoint season.json
//	scrapebatch cache stats
//	scrapebatch cache cleanup
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
