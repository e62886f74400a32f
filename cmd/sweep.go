package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newSweepCmd creates the 'sweep' subcommand for running one maintenance
// sweep outside the scheduler.
func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "sweep {quality|refresh|summary|scrub}",
		Short:     "Runs one maintenance sweep immediately",
		Long:      `Executes a single maintenance sweep and reports what it did. The same code runs on the cron schedule in daemon mode; this command exists for manual interventions and testing thresholds.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"quality", "refresh", "summary", "scrub"},
		RunE:      runSweepCommand,
	}
}

func runSweepCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

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

	switch args[0] {
	case "quality":
		report, err := pipeline.Quality.Run(ctx)
		if err != nil {
			return fmt.Errorf("quality sweep: %w", err)
		}
		a.logger.Info("quality sweep finished",
			zap.Int("scanned", report.Scanned),
			zap.Int("flagged", report.Flagged),
			zap.Int("skipped", report.Skipped))
	case "refresh":
		report, err := pipeline.Refresh.Run(ctx)
		if err != nil {
			return fmt.Errorf("refresh sweep: %w", err)
		}
		a.logger.Info("refresh sweep finished",
			zap.Int("selected", report.Selected),
			zap.Int("marked_stale", report.MarkedStale),
			zap.Int("enqueued", report.Enqueued))
	case "summary":
		report, err := pipeline.Summary.Run(ctx, "")
		if err != nil {
			return fmt.Errorf("summary sweep: %w", err)
		}
		a.logger.Info("summary sweep finished",
			zap.Int("scanned", report.Scanned),
			zap.Int("refreshed", report.Refreshed),
			zap.Int("skipped_human", report.SkippedHuman),
			zap.Int("skipped_stable", report.SkippedStable))
	case "scrub":
		report, err := pipeline.Scrub.Run(ctx)
		if err != nil {
			return fmt.Errorf("retention scrub: %w", err)
		}
		a.logger.Info("retention scrub finished",
			zap.Int("scanned", report.Scanned),
			zap.Int("scrubbed", report.Scrubbed))
	default:
		return fmt.Errorf("unknown sweep %q", args[0])
	}
	return nil
}
