package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/EliFuzz/igate/cmd/igate/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.NewRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
