package sweeps

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/localpages/dirworker/internal/config"
	"github.com/localpages/dirworker/internal/directory"
	"github.com/localpages/dirworker/internal/queue"
)

// RefreshReport summarizes one refresh sweep run.
type RefreshReport struct {
	Selected    int
	MarkedStale int
	Enqueued    int
}

// Refresh re-crawls approved listings whose verification has gone stale,
// failed, or is simply old, demoting overdue VERIFIED listings to STALE so
// moderators can filter on explicit staleness. Visibility never changes
// here; only verification state does.
type Refresh struct {
	store  directory.Store
	queue  queue.Provider
	clock  directory.Clock
	logger *zap.Logger
	cfg    config.SweepsConfig
}

// NewRefresh wires a refresh sweep.
func NewRefresh(store directory.Store, q queue.Provider, clock directory.Clock, logger *zap.Logger, cfg config.SweepsConfig) *Refresh {
	return &Refresh{store: store, queue: q, clock: clock, logger: logger, cfg: cfg}
}

// Run selects approved listings due for re-verification and enqueues crawls
// under the per-day key, so a rerun the same day is a no-op.
func (r *Refresh) Run(ctx context.Context) (RefreshReport, error) {
	now := r.clock.Now()
	refreshCutoff := now.AddDate(0, 0, -r.cfg.RefreshIntervalDays)
	staleCutoff := now.AddDate(0, 0, -r.cfg.StaleVerificationDays)

	var report RefreshReport

	// Demote overdue VERIFIED listings to STALE up front, so both the
	// candidate loop below and moderator filters see the explicit state.
	overdue, err := r.store.Listings().ListOverdueVerified(ctx, staleCutoff, r.cfg.MaxRefreshPerRun*5)
	if err != nil {
		return report, fmt.Errorf("list overdue verified: %w", err)
	}
	for _, l := range overdue {
		stale, err := r.store.Listings().MarkStale(ctx, l.ID, staleCutoff)
		if err != nil {
			return report, fmt.Errorf("mark stale %s: %w", l.ID, err)
		}
		if stale {
			report.MarkedStale++
		}
	}

	base, err := r.store.Listings().ListRefreshCandidates(ctx, refreshCutoff, r.cfg.MaxRefreshPerRun*5)
	if err != nil {
		return report, fmt.Errorf("list refresh candidates: %w", err)
	}
	for _, l := range base {
		if report.Selected >= r.cfg.MaxRefreshPerRun {
			break
		}
		due, err := r.isDue(ctx, l, staleCutoff)
		if err != nil {
			return report, err
		}
		if !due {
			continue
		}
		report.Selected++

		inserted, err := r.queue.Enqueue(ctx, queue.TypeCrawlListing,
			queue.CrawlKey(l.ID, now),
			queue.CrawlPayload{ListingID: l.ID})
		if err != nil {
			return report, fmt.Errorf("enqueue refresh crawl %s: %w", l.ID, err)
		}
		if inserted {
			report.Enqueued++
		}
	}

	r.logger.Info("refresh sweep finished",
		zap.Int("selected", report.Selected),
		zap.Int("marked_stale", report.MarkedStale),
		zap.Int("enqueued", report.Enqueued))
	return report, nil
}

// isDue applies the per-listing conditions on top of the broad candidate
// query: explicit STALE/FAILED state, an overdue verification, no recorded
// verification at all, or three straight crawl failures.
func (r *Refresh) isDue(ctx context.Context, l directory.Listing, staleCutoff time.Time) (bool, error) {
	if l.VerificationStatus == directory.VerificationStale ||
		l.VerificationStatus == directory.VerificationFailed {
		return true, nil
	}
	if l.LastVerifiedAt == nil || l.LastVerifiedAt.Before(staleCutoff) {
		return true, nil
	}
	statuses, err := r.store.Crawls().LatestStatuses(ctx, l.ID, 3)
	if err != nil {
		return false, fmt.Errorf("load crawl history: %w", err)
	}
	return len(statuses) >= 3 && noneSucceeded(statuses), nil
}
