package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/localpages/dirworker/internal/aireview"
	"github.com/localpages/dirworker/internal/crawler"
	"github.com/localpages/dirworker/internal/directory"
	"github.com/localpages/dirworker/internal/discovery"
	"github.com/localpages/dirworker/internal/extract"
	"github.com/localpages/dirworker/internal/queue"
	"github.com/localpages/dirworker/internal/sweeps"
)

const maxTaskNoteLen = 500

// Pipeline bundles the concrete job implementations the worker routes to.
type Pipeline struct {
	Wave      *discovery.Wave
	CityBatch *discovery.CityBatch
	Crawl     *crawler.Job
	Extract   *extract.Job
	AIReview  *aireview.Job
	Refresh   *sweeps.Refresh
	Quality   *sweeps.Quality
	Summary   *sweeps.Summary
	Scrub     *sweeps.Scrub
}

// Routes builds the job-type handler table. Scheduled sweep executions are
// additionally recorded as TaskRun rows for operator visibility.
func Routes(p Pipeline, store directory.Store, clock directory.Clock, logger *zap.Logger) map[string]Handler {
	return map[string]Handler{
		queue.TypeDiscoveryWave: recordRun(store, clock, logger, "discovery_wave",
			func(ctx context.Context, _ *queue.Job) (string, error) {
				return "", p.Wave.Run(ctx)
			}),
		queue.TypeDiscoverCityBatch: func(ctx context.Context, job *queue.Job) error {
			var payload queue.CityBatchPayload
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				return fmt.Errorf("decode city batch payload: %w", err)
			}
			return p.CityBatch.Run(ctx, job.ID, payload)
		},
		queue.TypeCrawlListing: func(ctx context.Context, job *queue.Job) error {
			var payload queue.CrawlPayload
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				return fmt.Errorf("decode crawl payload: %w", err)
			}
			_, err := p.Crawl.Run(ctx, payload.ListingID)
			return err
		},
		queue.TypeExtractListing: func(ctx context.Context, job *queue.Job) error {
			var payload queue.ExtractPayload
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				return fmt.Errorf("decode extract payload: %w", err)
			}
			_, err := p.Extract.Run(ctx, payload)
			return err
		},
		queue.TypeAIReview: func(ctx context.Context, job *queue.Job) error {
			var payload queue.AIReviewPayload
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				return fmt.Errorf("decode ai review payload: %w", err)
			}
			_, err := p.AIReview.Run(ctx, payload)
			return err
		},
		queue.TypeRefreshSummary: func(ctx context.Context, job *queue.Job) error {
			var payload queue.RefreshSummaryPayload
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				return fmt.Errorf("decode refresh summary payload: %w", err)
			}
			_, err := p.Summary.Run(ctx, payload.ListingID)
			return err
		},
		queue.TypeRefreshApproved: recordRun(store, clock, logger, "refresh_approved_listings",
			func(ctx context.Context, _ *queue.Job) (string, error) {
				report, err := p.Refresh.Run(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("selected=%d marked_stale=%d enqueued=%d",
					report.Selected, report.MarkedStale, report.Enqueued), nil
			}),
		queue.TypeQualitySweep: recordRun(store, clock, logger, "quality_sweep",
			func(ctx context.Context, _ *queue.Job) (string, error) {
				report, err := p.Quality.Run(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("scanned=%d flagged=%d skipped=%d",
					report.Scanned, report.Flagged, report.Skipped), nil
			}),
		queue.TypeScrubRetention: recordRun(store, clock, logger, "scrub_retention",
			func(ctx context.Context, _ *queue.Job) (string, error) {
				report, err := p.Scrub.Run(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("scanned=%d scrubbed=%d", report.Scanned, report.Scrubbed), nil
			}),
	}
}

// recordRun wraps a scheduled task so every execution leaves a TaskRun row,
// success or failure. Recording failures never fail the job itself.
func recordRun(store directory.Store, clock directory.Clock, logger *zap.Logger, name string,
	fn func(ctx context.Context, job *queue.Job) (string, error)) Handler {
	return func(ctx context.Context, job *queue.Job) error {
		startedAt := clock.Now()
		start := time.Now()
		note, err := fn(ctx, job)

		status := directory.TaskRunSuccess
		if err != nil {
			status = directory.TaskRunError
			note = err.Error()
		}
		run := directory.TaskRun{
			TaskName:  name,
			Status:    status,
			Duration:  time.Since(start),
			Note:      truncateNote(note),
			StartedAt: startedAt,
		}
		if rerr := store.TaskRuns().Record(ctx, run); rerr != nil {
			logger.Error("record task run", zap.String("task", name), zap.Error(rerr))
		}
		return err
	}
}

func truncateNote(s string) string {
	if len(s) <= maxTaskNoteLen {
		return s
	}
	return s[:maxTaskNoteLen]
}
