// =================================
// File: cmd/papertrader/main.go
// =================================
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-paper-trader/internal/bot"
	"github.com/rovshanmuradov/solana-paper-trader/internal/config"
	"github.com/rovshanmuradov/solana-paper-trader/internal/export"
	"github.com/rovshanmuradov/solana-paper-trader/internal/storage/pool"
	"github.com/rovshanmuradov/solana-paper-trader/internal/utils/logger"
)

func main() {
	configPath := pflag.StringP("config", "c", "configs/config.yaml", "path to config file")
	exportFormat := pflag.String("export", "", "export trade history and exit (csv|json)")
	pflag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.LogFile = cfg.Logging.File
	logCfg.Development = cfg.Logging.Development

	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Starting paper trader", zap.String("database", cfg.DatabasePath))

	runner, err := bot.NewRunner(cfg, log.Logger)
	if err != nil {
		log.Fatal("Failed to create runner", zap.Error(err))
	}

	if err := runner.Initialize(ctx); err != nil {
		var initErr *pool.InitError
		if errors.As(err, &initErr) {
			log.Fatal("Connection pool unavailable", zap.Int("rounds", initErr.Rounds), zap.Error(err))
		}
		log.Fatal("Failed to initialize paper trader", zap.Error(err))
	}

	runner.Report(ctx)

	if *exportFormat != "" {
		path, err := runner.Export(ctx, export.ExportFormat(*exportFormat))
		if err != nil {
			log.Error("Export failed", zap.Error(err))
		} else {
			log.Info("Trade history exported", zap.String("path", path))
		}
	} else if err := runner.Run(ctx); err != nil {
		log.Error("Runner stopped with error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := runner.Shutdown(shutdownCtx); err != nil {
		log.Error("Shutdown finished with errors", zap.Error(err))
	}
}
