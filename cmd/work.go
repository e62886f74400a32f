package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/localpages/dirworker/internal/api"
	"github.com/localpages/dirworker/internal/moderation"
	"github.com/localpages/dirworker/internal/scheduler"
	"github.com/localpages/dirworker/internal/worker"
)

const shutdownGrace = 15 * time.Second

// newWorkCmd creates the 'work' subcommand, the long-running daemon mode.
func newWorkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "work",
		Short: "Runs the worker daemon",
		Long: `Starts the full service: the queue consumers, the cron scheduler that
enqueues recurring discovery and maintenance jobs, and the admin HTTP API.
Runs until interrupted.`,
		RunE: runWorkCommand,
	}
}

func runWorkCommand(cmd *cobra.Command, _ []string) error {
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

	w := worker.New(a.queue, worker.Routes(pipeline, a.store, a.clock, a.logger), a.logger, a.cfg.Worker)

	sched, err := scheduler.New(a.cfg.Schedules, a.queue, a.clock, a.logger)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	mod := moderation.NewService(a.store, a.queue, a.clock, a.logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           api.NewServer(a.store, a.queue, mod, a.clock, a.logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("admin api listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	workerDone := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(workerDone)
	}()

	a.logger.Info("worker daemon started",
		zap.Int("concurrency", a.cfg.Worker.Concurrency),
		zap.Int("port", a.cfg.Server.Port))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("admin api: %w", err)
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("api shutdown", zap.Error(err))
	}
	<-workerDone
	return nil
}
