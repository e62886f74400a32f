package sweeps

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/localpages/dirworker/internal/config"
	"github.com/localpages/dirworker/internal/directory"
)

// ScrubReport summarizes one retention-scrub run.
type ScrubReport struct {
	Scanned  int
	Scrubbed int
}

// Scrub soft-deletes listings that have sat in a non-public status beyond
// the retention window. The listing rows survive for audit, only the
// deleted_at marker changes.
type Scrub struct {
	store  directory.Store
	clock  directory.Clock
	logger *zap.Logger
	cfg    config.SweepsConfig
}

// NewScrub wires a retention scrub sweep.
func NewScrub(store directory.Store, clock directory.Clock, logger *zap.Logger, cfg config.SweepsConfig) *Scrub {
	return &Scrub{store: store, clock: clock, logger: logger, cfg: cfg}
}

// Run scans non-public listings and scrubs those unpublished for at least
// ScrubAfterDays. One batch delete covers the whole run.
func (s *Scrub) Run(ctx context.Context) (ScrubReport, error) {
	now := s.clock.Now()
	cutoff := now.AddDate(0, 0, -s.cfg.ScrubAfterDays)

	candidates, err := s.store.Listings().ListScrubCandidates(ctx, s.cfg.ScrubScanLimit)
	if err != nil {
		return ScrubReport{}, fmt.Errorf("list scrub candidates: %w", err)
	}

	report := ScrubReport{Scanned: len(candidates)}
	var entries []directory.ScrubEntry
	for _, l := range candidates {
		since, err := s.unpublishedSince(ctx, l)
		if err != nil {
			return report, fmt.Errorf("resolve unpublished-since for %s: %w", l.ID, err)
		}
		if since.After(cutoff) {
			continue
		}
		entries = append(entries, directory.ScrubEntry{
			ListingID: l.ID,
			Status:    l.ModerationStatus,
			Since:     since,
		})
	}
	if len(entries) == 0 {
		return report, nil
	}

	err = s.store.Listings().SoftDeleteBatch(ctx, entries, now, func(e directory.ScrubEntry) string {
		return fmt.Sprintf("Auto-scrub: listing remained unpublished for >= %d days (status=%s, since=%s)",
			s.cfg.ScrubAfterDays, e.Status, e.Since.Format(time.RFC3339))
	})
	if err != nil {
		return report, fmt.Errorf("soft delete batch: %w", err)
	}
	report.Scrubbed = len(entries)
	s.logger.Info("retention scrub complete",
		zap.Int("scanned", report.Scanned), zap.Int("scrubbed", report.Scrubbed))
	return report, nil
}

// unpublishedSince anchors the retention window to the moment the listing
// left (or never reached) public visibility. Missing event history falls
// back to the creation time, which can only lengthen the grace period.
func (s *Scrub) unpublishedSince(ctx context.Context, l directory.Listing) (time.Time, error) {
	switch l.ModerationStatus {
	case directory.ModerationOptedOut:
		if l.OptedOutAt != nil {
			return *l.OptedOutAt, nil
		}
	case directory.ModerationUnpublished:
		return s.eventOrCreated(ctx, l, directory.ActionUnpublish)
	case directory.ModerationRejected:
		return s.eventOrCreated(ctx, l, directory.ActionReject)
	case directory.ModerationPendingReview:
		return s.eventOrCreated(ctx, l, directory.ActionSubmitForReview)
	}
	return l.CreatedAt, nil
}

func (s *Scrub) eventOrCreated(ctx context.Context, l directory.Listing, action directory.ModerationAction) (time.Time, error) {
	at, err := s.store.Events().LatestEventAt(ctx, l.ID, action)
	if err != nil {
		return time.Time{}, err
	}
	if at == nil {
		return l.CreatedAt, nil
	}
	return *at, nil
}
