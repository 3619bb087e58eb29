package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/foodatlas/pipeline/internal/broker"
	"github.com/foodatlas/pipeline/internal/config"
	"github.com/foodatlas/pipeline/internal/intake"
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
	var scraperID, sourceURL string

	root := &cobra.Command{
		Use:   "pipeline-submit",
		Short: "pipeline-submit — enqueues one raw scraped payload from stdin onto scrape_intake",
		Long: `pipeline-submit reads a raw payload from stdin and enqueues it onto
scrape_intake. Scrapers run this once per scraped page or record; the
scrape_intake consumer handles content-store submission and LLM job
enqueueing asynchronously.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if scraperID == "" {
				return fmt.Errorf("--scraper-id is required")
			}
			return run(cmd.Context(), scraperID, sourceURL)
		},
	}
	root.Flags().StringVar(&scraperID, "scraper-id", "", "identifier of the scraper submitting this payload (required)")
	root.Flags().StringVar(&sourceURL, "source-url", "", "URL the payload was scraped from, if any")
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pipeline-submit %s (commit: %s)\n", version, commit)
		},
	}
}

func run(ctx context.Context, scraperID, sourceURL string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	rt, err := runtime.Build(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build runtime: %w", err)
	}
	defer rt.Close()

	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to read stdin: %w", err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("no payload provided on stdin")
	}

	intakeID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate intake job id: %w", err)
	}
	payload := intake.Payload{
		Raw:       raw,
		ScraperID: scraperID,
		SourceURL: sourceURL,
		ScrapedAt: time.Now(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal intake payload: %w", err)
	}

	if err := rt.Broker.Enqueue("scrape_intake", data, broker.EnqueueOptions{JobID: intakeID.String()}); err != nil {
		return fmt.Errorf("failed to enqueue intake job: %w", err)
	}

	logger.Info("payload enqueued", zap.String("intake_job_id", intakeID.String()), zap.String("scraper_id", scraperID))
	fmt.Printf("enqueued intake_job_id=%s\n", intakeID)
	return nil
}
