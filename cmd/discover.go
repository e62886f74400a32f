package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/localpages/dirworker/internal/worker"
)

// newDiscoverCmd creates the 'discover' subcommand, a one-shot discovery run.
func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Runs one discovery wave and drains the resulting jobs",
		Long: `Fans a discovery wave out into city batches, then processes every job
the wave produced (search queries, candidate filtering, draft creation and
the follow-up crawls) before exiting. Useful for manual runs and testing
a configuration without the daemon.`,
		RunE: runDiscoverCommand,
	}
}

func runDiscoverCommand(cmd *cobra.Command, _ []string) error {
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

	if err := pipeline.Wave.Run(ctx); err != nil {
		return fmt.Errorf("run discovery wave: %w", err)
	}

	w := worker.New(a.queue, worker.Routes(pipeline, a.store, a.clock, a.logger), a.logger, a.cfg.Worker)
	if err := w.Drain(ctx); err != nil {
		return fmt.Errorf("drain jobs: %w", err)
	}
	a.logger.Info("discovery run finished")
	return nil
}
