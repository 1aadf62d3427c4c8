package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"nodeo/internal/cli/app"
	"nodeo/pkg/utils/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := app.Execute(ctx)
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}
