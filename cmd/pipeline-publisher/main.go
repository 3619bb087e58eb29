package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/foodatlas/pipeline/internal/config"
	"github.com/foodatlas/pipeline/internal/publisher"
	"github.com/foodatlas/pipeline/internal/runtime"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var once bool

	root := &cobra.Command{
		Use:   "pipeline-publisher",
		Short: "pipeline-publisher — runs the periodic publish cycle",
		Long: `pipeline-publisher snapshots the canonical store into the distributable
artifact set (JSONL, GeoJSON, SQLite), guarded by a row-count ratchet, and
exports the result via git.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), once)
		},
	}
	root.Flags().BoolVar(&once, "once", false, "run a single publish cycle and exit, instead of scheduling recurring cycles")
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pipeline-publisher %s (commit: %s)\n", version, commit)
		},
	}
}

func run(ctx context.Context, once bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := runtime.Build(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build runtime: %w", err)
	}
	defer rt.Close()

	runner := &publisher.Runner{
		DB:              rt.DB,
		OutputDir:       cfg.ContentStorePath + "/publish",
		GitRepoPath:     cfg.PublisherRepoPath,
		GitRemote:       cfg.PublisherRepoRemote,
		RatchetFraction: cfg.PublisherRatchetFraction,
		Log:             logger,
	}

	if once {
		logger.Info("running single publish cycle")
		return runner.Run(ctx)
	}

	sched, err := publisher.NewScheduler(time.Duration(cfg.PublisherIntervalS)*time.Second, runner, logger)
	if err != nil {
		return fmt.Errorf("failed to create publisher scheduler: %w", err)
	}
	sched.Start()
	logger.Info("publisher scheduler started", zap.Duration("interval", time.Duration(cfg.PublisherIntervalS)*time.Second))

	<-ctx.Done()
	logger.Info("shutting down pipeline publisher")
	if err := sched.Stop(); err != nil {
		logger.Warn("publisher scheduler shutdown error", zap.Error(err))
	}
	logger.Info("pipeline publisher stopped")
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config
	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}
