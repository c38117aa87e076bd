// Command convbot watches the chain head and submits the target's buy call
// whenever a simulation says it would succeed. In status mode it prints the
// target's spending figures once per block instead.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/alanyoungcy/convbot/internal/app"
	"github.com/alanyoungcy/convbot/internal/config"
	"github.com/alanyoungcy/convbot/internal/logging"
)

func main() {
	configPath := flag.StringP("config", "c", "config.toml", "path to configuration file")
	mode := flag.String("mode", "", "override the configured mode (buy, status)")
	strategy := flag.String("strategy", "", "override the delivery strategy (mempool, relay)")
	flag.Parse()

	logger := logging.New(os.Stderr, slog.LevelInfo)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *strategy != "" {
		cfg.Strategy.Kind = *strategy
	}

	logger = logging.New(os.Stderr, logging.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, logger)
	err = application.Run(ctx)
	application.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Log(context.Background(), logging.LevelCritical, "convbot stopped",
			slog.String("error", err.Error()),
		)
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	logger.Info("convbot stopped")
}
