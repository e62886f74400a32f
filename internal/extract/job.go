package extract

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/localpages/dirworker/internal/directory"
	"github.com/localpages/dirworker/internal/queue"
)

// Result reports what one extraction run changed.
type Result struct {
	Updated       bool
	MovedToReview bool
	CategoryCount int
}

// Job normalizes one listing from a successful crawl attempt's signals.
type Job struct {
	store     directory.Store
	queue     queue.Provider
	logger    *zap.Logger
	aiEnabled bool
}

// NewJob wires an extraction job runner. When aiEnabled is false the job
// never enqueues policy evaluation.
func NewJob(store directory.Store, q queue.Provider, logger *zap.Logger, aiEnabled bool) *Job {
	return &Job{store: store, queue: q, logger: logger, aiEnabled: aiEnabled}
}

// Run applies extraction for one (listing, crawl attempt) pair. It only acts
// on SUCCESS attempts of VERIFIED listings; anything else is a quiet no-op so
// stale queue entries drain harmlessly.
func (j *Job) Run(ctx context.Context, payload queue.ExtractPayload) (Result, error) {
	listing, err := j.store.Listings().Get(ctx, payload.ListingID)
	if err != nil {
		return Result{}, fmt.Errorf("load listing: %w", err)
	}
	attempt, err := j.store.Crawls().GetAttempt(ctx, payload.AttemptID)
	if err != nil {
		return Result{}, fmt.Errorf("load crawl attempt: %w", err)
	}
	if attempt.ListingID != listing.ID {
		return Result{}, fmt.Errorf("crawl attempt %s does not belong to listing %s", attempt.ID, listing.ID)
	}

	if attempt.Status != directory.CrawlSuccess || listing.VerificationStatus != directory.VerificationVerified {
		return Result{}, nil
	}

	homepage := attempt.Signals.Homepage()
	var h1, title string
	if homepage != nil {
		h1, title = homepage.H1, homepage.Title
	}
	displayName := pickDisplayName(h1, title, listing.DisplayName, listing.WebsiteDomain)

	summary := listing.Summary
	if strings.TrimSpace(summary) == "" {
		summary = neutralSummary(displayName, listing.WebsiteDomain)
	}

	moveToPending := listing.ModerationStatus == directory.ModerationDraft
	if err := j.store.Listings().UpdateExtract(ctx, listing.ID, displayName, summary, moveToPending); err != nil {
		return Result{}, fmt.Errorf("apply extraction: %w", err)
	}

	categoryCount, err := j.attachCategories(ctx, listing.ID, attempt.Signals)
	if err != nil {
		return Result{}, err
	}

	if homepage != nil {
		j.fillLocation(ctx, listing.ID, homepage)
	}

	if j.aiEnabled {
		_, err := j.queue.Enqueue(ctx, queue.TypeAIReview,
			queue.AIReviewKey(attempt.ID),
			queue.AIReviewPayload{ListingID: listing.ID, AttemptID: attempt.ID})
		if err != nil {
			return Result{}, fmt.Errorf("enqueue policy evaluation: %w", err)
		}
	}

	return Result{Updated: true, MovedToReview: moveToPending, CategoryCount: categoryCount}, nil
}

// attachCategories tags the listing from heading signals, but only when it
// has no tags yet. Existing tags are never reshuffled, so repeated runs
// cannot oscillate.
func (j *Job) attachCategories(ctx context.Context, listingID string, bundle directory.SignalBundle) (int, error) {
	existing, err := j.store.Taxonomy().ListingCategoryCount(ctx, listingID)
	if err != nil {
		return 0, fmt.Errorf("count listing categories: %w", err)
	}
	if existing > 0 {
		return 0, nil
	}

	active, err := j.store.Taxonomy().ActiveCategories(ctx)
	if err != nil {
		return 0, fmt.Errorf("load taxonomy: %w", err)
	}
	ids := matchCategories(combineSignals(bundle), active)
	if len(ids) == 0 {
		return 0, nil
	}
	if err := j.store.Taxonomy().AttachCategories(ctx, listingID, ids); err != nil {
		return 0, fmt.Errorf("attach categories: %w", err)
	}
	return len(ids), nil
}

// fillLocation copies structured-data coordinates and address into the
// listing's existing primary location. Fills only, never overwrites, and the
// address lands only when the structured locality and region agree with the
// location's bound city. Failures here are logged, not fatal: location data
// is an enrichment, not a gate.
func (j *Job) fillLocation(ctx context.Context, listingID string, homepage *directory.PageSignals) {
	if homepage.Geo == nil && homepage.Address == nil {
		return
	}
	loc, err := j.store.Geo().PrimaryLocation(ctx, listingID)
	if err != nil {
		j.logger.Warn("load primary location", zap.String("listing_id", listingID), zap.Error(err))
		return
	}
	if loc == nil {
		return
	}

	if g := homepage.Geo; g != nil && plausibleGeo(g.Lat, g.Lng) {
		if err := j.store.Geo().FillCoordinates(ctx, loc.ID, g.Lat, g.Lng); err != nil {
			j.logger.Warn("fill coordinates", zap.String("listing_id", listingID), zap.Error(err))
		}
	}

	addr := homepage.Address
	if addr == nil || strings.TrimSpace(addr.Street) == "" || strings.TrimSpace(addr.Postal) == "" {
		return
	}
	city, state, err := j.store.Geo().CityWithState(ctx, loc.CityID)
	if err != nil || city == nil || state == nil {
		j.logger.Warn("resolve location city", zap.String("listing_id", listingID), zap.Error(err))
		return
	}
	if !localityAgrees(addr.Locality, city.Name) || !regionAgrees(addr.Region, state) {
		return
	}
	if err := j.store.Geo().FillAddress(ctx, loc.ID, strings.TrimSpace(addr.Street), strings.TrimSpace(addr.Postal)); err != nil {
		j.logger.Warn("fill address", zap.String("listing_id", listingID), zap.Error(err))
	}
}

func plausibleGeo(lat, lng float64) bool {
	return !math.IsNaN(lat) && !math.IsNaN(lng) &&
		math.Abs(lat) <= 90 && math.Abs(lng) <= 180
}

// localityAgrees treats a missing structured locality as agreement.
func localityAgrees(locality, cityName string) bool {
	locality = strings.TrimSpace(locality)
	return locality == "" || strings.EqualFold(locality, cityName)
}

// regionAgrees accepts either the USPS code or the full state name.
func regionAgrees(region string, state *directory.State) bool {
	region = strings.TrimSpace(region)
	return region == "" ||
		strings.EqualFold(region, state.USPSCode) ||
		strings.EqualFold(region, state.Name)
}
