package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/localpages/dirworker/internal/worker"
)

// newCrawlCmd creates the 'crawl' subcommand for crawling a single listing.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl <listing-id>",
		Short: "Crawls and verifies one listing",
		Long: `Runs the verification crawl for a single listing, then drains the
follow-up jobs it enqueues (extraction and policy evaluation). The crawl
attempt and any status changes are persisted exactly as they would be when
the daemon processes the same job.`,
		Args: cobra.ExactArgs(1),
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	listingID := args[0]

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	pipeline, cleanup, err := a.buildPipeline()
	if err != nil {
		return err
	}
	defer cleanup()

	attempt, err := pipeline.Crawl.Run(ctx, listingID)
	if err != nil {
		return fmt.Errorf("crawl listing %s: %w", listingID, err)
	}
	if attempt == nil {
		a.logger.Info("crawl skipped", zap.String("listing_id", listingID))
		return nil
	}
	a.logger.Info("crawl finished",
		zap.String("listing_id", listingID),
		zap.String("status", string(attempt.Status)))

	w := worker.New(a.queue, worker.Routes(pipeline, a.store, a.clock, a.logger), a.logger, a.cfg.Worker)
	if err := w.Drain(ctx); err != nil {
		return fmt.Errorf("drain follow-up jobs: %w", err)
	}
	return nil
}
