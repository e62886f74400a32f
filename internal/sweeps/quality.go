// Package sweeps holds the scheduled maintenance jobs: quality flagging,
// approved-listing refresh, summary regeneration, and retention scrub.
package sweeps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/localpages/dirworker/internal/config"
	"github.com/localpages/dirworker/internal/directory"
)

// Issue identifiers written into quality flag notes.
const (
	IssueReverificationOverdue = "reverification_overdue"
	IssueRepeatedCrawlFailures = "repeated_crawl_failures"
	IssueRobotsNowBlocking     = "robots_now_blocking"
	IssueVerificationRegressed = "verification_failed_after_prior_success"
)

const flagDebounce = 24 * time.Hour

// QualityReport summarizes one quality sweep run.
type QualityReport struct {
	Scanned int
	Flagged int
	Skipped int
}

// Quality scans the directory for listings that degraded since verification
// and raises the attention flag with the detected issues.
type Quality struct {
	store  directory.Store
	clock  directory.Clock
	logger *zap.Logger
	cfg    config.SweepsConfig
}

// NewQuality wires a quality sweep.
func NewQuality(store directory.Store, clock directory.Clock, logger *zap.Logger, cfg config.SweepsConfig) *Quality {
	return &Quality{store: store, clock: clock, logger: logger, cfg: cfg}
}

// Run walks the oldest-updated listings, flags the ones with detected
// issues, and debounces listings flagged by the system within the last day.
func (q *Quality) Run(ctx context.Context) (QualityReport, error) {
	now := q.clock.Now()
	staleCutoff := now.AddDate(0, 0, -q.cfg.StaleVerificationDays)
	debounceCutoff := now.Add(-flagDebounce)

	listings, err := q.store.Listings().ListQualityCandidates(ctx, q.cfg.QualityScanLimit)
	if err != nil {
		return QualityReport{}, fmt.Errorf("list quality candidates: %w", err)
	}

	report := QualityReport{Scanned: len(listings)}
	for _, l := range listings {
		if report.Flagged >= q.cfg.QualityFlagLimit {
			break
		}

		recent, err := q.store.Events().RecentSystemFlagExists(ctx, l.ID, debounceCutoff)
		if err != nil {
			return report, fmt.Errorf("check recent flag: %w", err)
		}
		if recent {
			report.Skipped++
			continue
		}

		issues, err := q.detectIssues(ctx, l, staleCutoff)
		if err != nil {
			return report, err
		}
		if len(issues) == 0 {
			report.Skipped++
			continue
		}

		err = q.store.Listings().FlagAttention(ctx, l.ID, directory.ModerationEvent{
			Action:    directory.ActionFlagAttention,
			ActorType: directory.ActorSystem,
			ActorName: "quality-sweep",
			Note:      "System flag: " + strings.Join(issues, ", "),
		})
		if err != nil {
			return report, fmt.Errorf("flag listing %s: %w", l.ID, err)
		}
		report.Flagged++
		q.logger.Info("quality issue flagged",
			zap.String("listing_id", l.ID),
			zap.Strings("issues", issues))
	}
	return report, nil
}

func (q *Quality) detectIssues(ctx context.Context, l directory.Listing, staleCutoff time.Time) ([]string, error) {
	var issues []string

	if l.VerificationStatus == directory.VerificationVerified &&
		l.LastVerifiedAt != nil && l.LastVerifiedAt.Before(staleCutoff) {
		issues = append(issues, IssueReverificationOverdue)
	}

	statuses, err := q.store.Crawls().LatestStatuses(ctx, l.ID, 3)
	if err != nil {
		return nil, fmt.Errorf("load crawl history: %w", err)
	}
	if len(statuses) >= 3 && noneSucceeded(statuses) {
		issues = append(issues, IssueRepeatedCrawlFailures)
	}

	if len(statuses) > 0 && statuses[0] == directory.CrawlBlockedRobots {
		prior, err := q.store.Crawls().HasPriorSuccess(ctx, l.ID)
		if err != nil {
			return nil, fmt.Errorf("check prior success: %w", err)
		}
		if prior {
			issues = append(issues, IssueRobotsNowBlocking)
		}
	}

	if l.VerificationStatus == directory.VerificationFailed {
		prior, err := q.store.Crawls().HasPriorSuccess(ctx, l.ID)
		if err != nil {
			return nil, fmt.Errorf("check prior success: %w", err)
		}
		if prior {
			issues = append(issues, IssueVerificationRegressed)
		}
	}
	return issues, nil
}

func noneSucceeded(statuses []directory.CrawlStatus) bool {
	for _, s := range statuses {
		if s == directory.CrawlSuccess {
			return false
		}
	}
	return true
}
