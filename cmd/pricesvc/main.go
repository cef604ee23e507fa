// Command pricesvc serves batched price lookups over HTTP.
//
//	pricesvc -config /etc/pricekit/config.yaml
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dailyyoga/pricekit/logger"
	"go.uber.org/zap"
)

func main() {
	os.Exit(realMain(os.Args[1:]))
}

// realMain runs the service and returns the exit code. Until the configured
// logger is built, failures go to the default global logger.
func realMain(args []string) int {
	defer logger.Sync()

	configPath, err := parseFlags(args)
	if err != nil {
		logger.Error("invalid arguments", zap.Error(err))
		return 2
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to load config", zap.String("path", configPath), zap.Error(err))
		return 1
	}

	// New also installs log as the global logger
	log, err := logger.New(cfg.Logger)
	if err != nil {
		logger.Error("failed to build logger", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, cfg); err != nil {
		logger.Error("pricesvc exited", zap.Error(err))
		return 1
	}
	logger.Info("pricesvc stopped")
	return 0
}
