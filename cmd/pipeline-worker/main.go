package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/foodatlas/pipeline/internal/broker"
	"github.com/foodatlas/pipeline/internal/config"
	"github.com/foodatlas/pipeline/internal/intake"
	"github.com/foodatlas/pipeline/internal/llmadapter"
	"github.com/foodatlas/pipeline/internal/reconciler"
	"github.com/foodatlas/pipeline/internal/runtime"
	"github.com/foodatlas/pipeline/internal/validator"
	"github.com/foodatlas/pipeline/internal/workerpool"
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
	var queue string
	var workers int

	root := &cobra.Command{
		Use:   "pipeline-worker",
		Short: "pipeline-worker — runs one queue's worker pool",
		Long: `pipeline-worker drains a single named queue (scrape_intake, llm, validator,
or reconciler), aligning raw source payloads to the canonical schema, scoring
and enriching them, and folding accepted records into the canonical store.
Deploy one instance per queue, each with --queue set accordingly.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if queue == "" {
				return fmt.Errorf("--queue is required (one of %v)", broker.Queues)
			}
			if !isKnownQueue(queue) {
				return fmt.Errorf("--queue %q is not a known queue (one of %v)", queue, broker.Queues)
			}
			return run(cmd.Context(), queue, workers)
		},
	}
	root.Flags().StringVar(&queue, "queue", "", fmt.Sprintf("queue to drain, one of %v (required)", broker.Queues))
	root.Flags().IntVar(&workers, "workers", 0, "worker goroutine count for this queue (0 uses worker_count_per_queue from config)")
	root.AddCommand(newVersionCmd())
	return root
}

func isKnownQueue(queue string) bool {
	for _, q := range broker.Queues {
		if q == queue {
			return true
		}
	}
	return false
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pipeline-worker %s (commit: %s)\n", version, commit)
		},
	}
}

func run(ctx context.Context, queue string, workers int) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	count := cfg.WorkerCountPerQueue
	if workers > 0 {
		count = workers
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

	logger.Info("starting pipeline worker",
		zap.String("version", version),
		zap.String("queue", queue),
		zap.String("llm_provider", cfg.LLMProvider),
		zap.Strings("geocoder_providers", cfg.GeocoderProviders),
		zap.Int("worker_count", count),
	)

	pool := workerpool.New(logger)

	switch queue {
	case "scrape_intake":
		pool.Start(ctx, "scrape_intake", count, func(id string) workerpool.Runnable {
			return &intake.Worker{
				ID:     id,
				Broker: rt.Broker,
				Store:  rt.Store,
				Log:    logger.Named("intake_worker"),
			}
		})

	case "llm":
		pool.Start(ctx, "llm", count, func(id string) workerpool.Runnable {
			return &llmadapter.Worker{
				ID:      id,
				Broker:  rt.Broker,
				Store:   rt.Store,
				Blobs:   rt.Blobs,
				Adapter: rt.LLM,
				Quota:   rt.Quota,
				Log:     logger.Named("llm_worker"),
			}
		})

	case "validator":
		pool.Start(ctx, "validator", count, func(id string) workerpool.Runnable {
			return &validator.Worker{
				ID:                         id,
				Broker:                     rt.Broker,
				DB:                         rt.DB,
				Enricher:                   &validator.Enricher{Chain: rt.Geocoder},
				Threshold:                  cfg.ValidatorScoreThreshold,
				LegacyPermissiveStateCheck: cfg.LegacyPermissiveStateCheck,
				Log:                        logger.Named("validator_worker"),
			}
		})

	case "reconciler":
		pool.Start(ctx, "reconciler", count, func(id string) workerpool.Runnable {
			return &reconciler.Worker{
				ID:                      id,
				Broker:                  rt.Broker,
				DB:                      rt.DB,
				SourcePriority:          cfg.SourcePriority,
				NameSimilarityThreshold: cfg.ReconcilerNameSimilarity,
				LocationRadiusMeters:    cfg.ReconcilerLocationEpsilonM,
				Log:                     logger.Named("reconciler_worker"),
			}
		})
	}

	<-ctx.Done()
	logger.Info("shutting down pipeline worker")
	pool.Stop()
	logger.Info("pipeline worker stopped")
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
