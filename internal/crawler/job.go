package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/localpages/dirworker/internal/directory"
	"github.com/localpages/dirworker/internal/metrics"
	"github.com/localpages/dirworker/internal/queue"
	"github.com/localpages/dirworker/internal/urlutil"
)

// PolicyPaths is the fixed set of paths the verification crawl visits. The
// crawl never follows discovered links.
var PolicyPaths = []string{"/", "/about", "/services", "/contact"}

// Job executes verification crawls end to end: robots gate, rendering,
// signal extraction, persistence, and the hand-off to extraction.
type Job struct {
	store    directory.Store
	renderer Renderer
	robots   RobotsChecker
	queue    queue.Provider
	clock    directory.Clock
	logger   *zap.Logger

	userAgent string
}

// NewJob wires a crawl job runner.
func NewJob(store directory.Store, renderer Renderer, robots RobotsChecker, q queue.Provider, clock directory.Clock, logger *zap.Logger, userAgent string) *Job {
	metrics.Init()
	return &Job{
		store:     store,
		renderer:  renderer,
		robots:    robots,
		queue:     q,
		clock:     clock,
		logger:    logger,
		userAgent: userAgent,
	}
}

// Run crawls one listing's website. Soft-deleted and opted-out listings are
// skipped without recording an attempt.
func (j *Job) Run(ctx context.Context, listingID string) (*directory.CrawlAttempt, error) {
	listing, err := j.store.Listings().Get(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("load listing for crawl: %w", err)
	}
	if listing.DeletedAt != nil || listing.OptedOutAt != nil {
		j.logger.Info("skipping crawl for inactive listing", zap.String("listing_id", listingID))
		return nil, nil
	}

	started := j.clock.Now()

	// Robots rules apply per path. The attempt is BLOCKED_ROBOTS only when
	// every policy path is disallowed; otherwise the disallowed paths are
	// simply never rendered.
	allowed := make(map[string]bool, len(PolicyPaths))
	allowedCount := 0
	var robotsAllowed *bool
	for _, path := range PolicyPaths {
		answer := j.robots.Allowed(ctx, listing.WebsiteURL, path)
		if path == "/" {
			robotsAllowed = answer
		}
		ok := answer == nil || *answer
		allowed[path] = ok
		if ok {
			allowedCount++
		}
	}

	bundle := directory.SignalBundle{
		PolicyPaths: append([]string(nil), PolicyPaths...),
		UserAgent:   j.userAgent,
	}
	var status directory.CrawlStatus
	var httpStatus int

	if allowedCount == 0 {
		status = directory.CrawlBlockedRobots
		bundle.Note = "robots.txt disallows crawl"
	} else {
		status, httpStatus = j.crawlPaths(ctx, listing, allowed, &bundle)
	}

	finished := j.clock.Now()

	homepage := bundle.Homepage()
	verified := status == directory.CrawlSuccess &&
		(robotsAllowed == nil || *robotsAllowed) &&
		homepage != nil && (homepage.Title != "" || homepage.H1 != "")

	verification := directory.VerificationFailed
	if verified {
		verification = directory.VerificationVerified
	}

	fingerprint := ""
	if status == directory.CrawlSuccess {
		fingerprint = directory.Fingerprint(listing.WebsiteDomain, bundle)
	}

	// Only published listings page an operator; drafts fail quietly and get
	// another chance from the pipeline.
	attention := ""
	if listing.ModerationStatus == directory.ModerationApproved {
		switch {
		case status == directory.CrawlBlockedRobots:
			attention = "robots.txt disallows crawl"
		case bundle.CrossHostRedirect:
			attention = "homepage redirected to a different host"
		case status == directory.CrawlHTTPError:
			attention = fmt.Sprintf("homepage returned HTTP %d", httpStatus)
		case status == directory.CrawlTimeout:
			attention = "crawl timed out"
		}
	}

	outcome := directory.CrawlOutcome{
		Attempt: directory.CrawlAttempt{
			ListingID:     listing.ID,
			TargetURL:     listing.WebsiteURL,
			StartedAt:     started,
			FinishedAt:    finished,
			Status:        status,
			HTTPStatus:    httpStatus,
			RobotsAllowed: robotsAllowed,
			Fingerprint:   fingerprint,
			Signals:       bundle,
		},
		VerificationStatus: verification,
		Verified:           verified,
		AttentionNote:      attention,
	}
	attempt, err := j.store.Crawls().RecordOutcome(ctx, outcome)
	if err != nil {
		return nil, fmt.Errorf("record crawl outcome: %w", err)
	}
	metrics.ObserveCrawl(listing.WebsiteDomain, string(status))

	j.logger.Info("crawl finished",
		zap.String("listing_id", listing.ID),
		zap.String("status", string(status)),
		zap.Bool("verified", verified))

	if status == directory.CrawlSuccess {
		_, err := j.queue.Enqueue(ctx, queue.TypeExtractListing, queue.ExtractKey(attempt.ID),
			queue.ExtractPayload{ListingID: listing.ID, AttemptID: attempt.ID})
		if err != nil {
			return nil, fmt.Errorf("enqueue extraction: %w", err)
		}
		if listing.ModerationStatus == directory.ModerationApproved {
			if err := j.maybeRefreshSummary(ctx, listing, attempt.ID); err != nil {
				return nil, err
			}
		}
	}
	return &attempt, nil
}

// maybeRefreshSummary enqueues a targeted summary regeneration after a
// successful re-crawl of a published listing whose summary is missing or
// whose content fingerprint moved since the previous successful crawl.
func (j *Job) maybeRefreshSummary(ctx context.Context, listing directory.Listing, attemptID string) error {
	due := strings.TrimSpace(listing.Summary) == ""
	if !due {
		prints, err := j.store.Crawls().LatestSuccessFingerprints(ctx, listing.ID, 2)
		if err != nil {
			return fmt.Errorf("compare fingerprints: %w", err)
		}
		due = len(prints) == 2 && prints[0] != "" && prints[1] != "" && prints[0] != prints[1]
	}
	if !due {
		return nil
	}
	if _, err := j.queue.Enqueue(ctx, queue.TypeRefreshSummary,
		queue.RefreshSummaryKey(listing.ID, attemptID),
		queue.RefreshSummaryPayload{ListingID: listing.ID, AttemptID: attemptID}); err != nil {
		return fmt.Errorf("enqueue summary refresh: %w", err)
	}
	return nil
}

// crawlPaths visits each robots-allowed policy path. The homepage decides
// the attempt status; subpage failures only mark that page as not OK.
func (j *Job) crawlPaths(ctx context.Context, listing directory.Listing, allowed map[string]bool, bundle *directory.SignalBundle) (directory.CrawlStatus, int) {
	var httpStatus int
	for _, path := range PolicyPaths {
		if !allowed[path] {
			continue
		}
		isHomepage := path == "/"
		target, err := urlutil.SameHostURL(listing.WebsiteURL, path)
		if err != nil {
			if isHomepage {
				return directory.CrawlUnknownError, 0
			}
			continue
		}

		page, err := j.renderer.Render(ctx, target)
		if err != nil {
			bundle.Pages = append(bundle.Pages, directory.PageSignals{Path: path})
			if !isHomepage {
				continue
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return directory.CrawlTimeout, 0
			}
			return directory.CrawlUnknownError, 0
		}

		if !urlutil.SameHost(listing.WebsiteURL, page.FinalURL) {
			bundle.Pages = append(bundle.Pages, directory.PageSignals{
				Path: path, FinalURL: page.FinalURL, HTTPStatus: page.HTTPStatus,
			})
			if isHomepage {
				bundle.CrossHostRedirect = true
				bundle.Note = "homepage redirected to a different host"
				return directory.CrawlHTTPError, page.HTTPStatus
			}
			continue
		}

		if page.HTTPStatus >= 400 {
			bundle.Pages = append(bundle.Pages, directory.PageSignals{
				Path: path, FinalURL: page.FinalURL, HTTPStatus: page.HTTPStatus,
			})
			if isHomepage {
				return directory.CrawlHTTPError, page.HTTPStatus
			}
			continue
		}

		signals, err := ExtractSignals(path, page.HTML)
		if err != nil {
			bundle.Pages = append(bundle.Pages, directory.PageSignals{Path: path, HTTPStatus: page.HTTPStatus})
			if isHomepage {
				return directory.CrawlParseError, page.HTTPStatus
			}
			continue
		}
		signals.FinalURL = page.FinalURL
		signals.HTTPStatus = page.HTTPStatus
		bundle.Pages = append(bundle.Pages, signals)

		if isHomepage {
			httpStatus = page.HTTPStatus
		}
	}
	return directory.CrawlSuccess, httpStatus
}
