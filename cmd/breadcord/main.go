package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Breadcord/Breadcord/cmd/breadcord/cmd"
	"github.com/Breadcord/Breadcord/core/logger"
)

func main() {
	ctx := logger.WithComponentName(context.Background(), "main")

	defer func() {
		// Sync can fail on stdout during shutdown; nothing useful to do then.
		_ = logger.Logger.Sync()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info(ctx, "Received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
		cancel()
	}()

	cmd.Execute(ctx)
}
