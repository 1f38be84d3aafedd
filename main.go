package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/inboxd/mailcode/cmd/root"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.NewRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
