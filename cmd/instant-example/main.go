package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tansive/instant-example/internal/cli"
)

func main() {
	// Interrupting the process cancels any in-flight request.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli.Execute(ctx)
}
