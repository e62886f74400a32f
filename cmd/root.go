// Package cmd defines and implements the CLI commands for the dirworker
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dirworker",
		Short: "Ingestion and maintenance worker for the local business directory.",
		Long: `dirworker runs the automated pipeline behind the business directory:
it discovers candidate businesses through web search, crawls and verifies
their websites, extracts listing data, evaluates each listing against the
inclusion policy, and keeps published listings fresh through scheduled
maintenance sweeps.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is env-only via DIRWORKER_*)")

	cmd.AddCommand(newWorkCmd())
	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newSweepCmd())

	return cmd
}

// Execute is the main entry point. It installs signal handling so that
// SIGINT/SIGTERM cancel the command context and trigger graceful shutdown.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
