// Package worker consumes the job queue and dispatches each job to its
// pipeline handler.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/localpages/dirworker/internal/config"
	"github.com/localpages/dirworker/internal/metrics"
	"github.com/localpages/dirworker/internal/queue"
)

// Handler executes one job. A returned error sends the job back to the
// queue for redelivery until its attempts run out.
type Handler func(ctx context.Context, job *queue.Job) error

// Worker polls the queue with a small fixed pool of goroutines.
type Worker struct {
	queue    queue.Provider
	handlers map[string]Handler
	logger   *zap.Logger
	cfg      config.WorkerConfig
}

// New builds a worker over the given handler table.
func New(q queue.Provider, handlers map[string]Handler, logger *zap.Logger, cfg config.WorkerConfig) *Worker {
	metrics.Init()
	return &Worker{queue: q, handlers: handlers, logger: logger, cfg: cfg}
}

// Run blocks until the context is canceled, consuming jobs across
// cfg.Concurrency goroutines.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			w.loop(ctx, n)
		}(i)
	}
	wg.Wait()
}

// Drain processes jobs until the queue reports empty once. One-shot CLI
// commands use this to run everything they enqueued before exiting.
func (w *Worker) Drain(ctx context.Context) error {
	logger := w.logger.With(zap.String("mode", "drain"))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			return err
		}
		if job == nil {
			return nil
		}
		w.process(ctx, logger, job)
	}
}

func (w *Worker) loop(ctx context.Context, n int) {
	logger := w.logger.With(zap.Int("worker", n))
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("dequeue failed", zap.Error(err))
			w.sleep(ctx)
			continue
		}
		if job == nil {
			w.sleep(ctx)
			continue
		}
		w.process(ctx, logger, job)
	}
}

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.cfg.PollInterval()):
	}
}

func (w *Worker) process(ctx context.Context, logger *zap.Logger, job *queue.Job) {
	handler, ok := w.handlers[job.Type]
	if !ok {
		// A job type this build does not know cannot succeed on retry.
		logger.Error("no handler for job type, dropping",
			zap.String("job_id", job.ID), zap.String("type", job.Type))
		if err := w.queue.Ack(ctx, job.ID); err != nil {
			logger.Error("ack unroutable job", zap.String("job_id", job.ID), zap.Error(err))
		}
		metrics.ObserveJob(job.Type, "dropped")
		return
	}

	metrics.IncActiveWorkers()
	start := time.Now()
	err := handler(ctx, job)
	metrics.DecActiveWorkers()

	if err != nil {
		logger.Warn("job failed",
			zap.String("job_id", job.ID),
			zap.String("type", job.Type),
			zap.String("key", job.Key),
			zap.Int("attempt", job.Attempt),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		if nerr := w.queue.Nack(ctx, job.ID, w.cfg.MaxAttempts); nerr != nil {
			logger.Error("nack failed", zap.String("job_id", job.ID), zap.Error(nerr))
		}
		metrics.ObserveJob(job.Type, "error")
		return
	}

	if aerr := w.queue.Ack(ctx, job.ID); aerr != nil {
		logger.Error("ack failed", zap.String("job_id", job.ID), zap.Error(aerr))
	}
	metrics.ObserveJob(job.Type, "success")
	logger.Info("job done",
		zap.String("job_id", job.ID),
		zap.String("type", job.Type),
		zap.String("key", job.Key),
		zap.Duration("elapsed", time.Since(start)))
}
