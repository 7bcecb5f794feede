package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/oranchan/Meme/internal/app"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	boot := app.NewBootstrap()
	if err := boot.Initialize(ctx, *configPath); err != nil {
		slog.Error("Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer boot.Close()

	sched := app.NewScheduler(boot)
	if err := sched.RegisterAll(); err != nil {
		slog.Error("Scheduler registration failed", slog.Any("error", err))
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	boot.Inspect.Start(ctx)

	slog.Info("Transfer engine operational. Press Ctrl+C to exit.")
	<-ctx.Done()

	// Final snapshot so a restart recovers without replaying the journal.
	if err := boot.TakeSnapshot(); err != nil {
		slog.Error("Final snapshot failed", slog.Any("error", err))
	}
	slog.Info("Shutting down gracefully")
}
