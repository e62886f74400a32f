package directory

import (
	"context"
	"time"
)

// CrawlOutcome bundles the listing-side effects of one crawl execution. The
// attempt insert and the listing update commit in a single transaction; the
// optional attention note additionally writes one FLAG_ATTENTION event.
type CrawlOutcome struct {
	Attempt            CrawlAttempt
	VerificationStatus VerificationStatus
	Verified           bool
	AttentionNote      string // non-empty => write a SYSTEM FLAG_ATTENTION event
}

// ApprovalPreconditions is the full predicate re-asserted by the conditional
// auto-approval write. Zero rows affected means the race was lost.
type ApprovalPreconditions struct {
	ModerationStatus   ModerationStatus
	VerificationStatus VerificationStatus
}

// ScrubEntry identifies one listing selected by the retention scrub.
type ScrubEntry struct {
	ListingID string
	Status    ModerationStatus
	Since     time.Time
}

// ListingStore persists listings and their race-safe conditional updates.
type ListingStore interface {
	Get(ctx context.Context, id string) (Listing, error)
	FindByDomain(ctx context.Context, domain string) (*Listing, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	// CreateDraft inserts a new DRAFT listing and its DISCOVERED provenance
	// event in one transaction.
	CreateDraft(ctx context.Context, l Listing, provenance ModerationEvent) (Listing, error)
	CountDraftsCreatedSince(ctx context.Context, since time.Time) (int, error)

	// UpdateExtract applies the extraction job's writes: display name, summary
	// (only when currently empty), and the DRAFT -> PENDING_REVIEW move.
	UpdateExtract(ctx context.Context, id, displayName, summary string, moveToPending bool) error

	// ApproveAuto performs the compare-and-swap auto-approval: the update
	// carries the full precondition in its predicate and reports whether any
	// row was affected. On success the audit event commits in the same
	// transaction.
	ApproveAuto(ctx context.Context, id string, confidence float64, event ModerationEvent) (bool, error)

	// UpdateStatusIf conditionally moves moderation status, writing the event
	// in the same transaction. Returns false when the precondition no longer
	// holds at write time.
	UpdateStatusIf(ctx context.Context, id string, from, to ModerationStatus, event ModerationEvent) (bool, error)

	SetAINeedsHumanReview(ctx context.Context, id string, v bool) error
	// RefreshSummary overwrites the summary and writes the event in the same
	// transaction. Unlike UpdateExtract it replaces an existing summary.
	RefreshSummary(ctx context.Context, id, summary string, event ModerationEvent) error
	// FlagAttention sets needsAttention and writes the event in one transaction.
	FlagAttention(ctx context.Context, id string, event ModerationEvent) error
	// MarkStale demotes a still-VERIFIED listing whose verification predates
	// cutoff. Visibility is unaffected.
	MarkStale(ctx context.Context, id string, cutoff time.Time) (bool, error)
	// SetOptedOut records the opt-out timestamp alongside the status change.
	SetOptedOut(ctx context.Context, id string, at time.Time) error
	// SoftDeleteBatch soft-deletes the given listings and writes one
	// SCRUB_DELETE event each, all in a single transaction.
	SoftDeleteBatch(ctx context.Context, entries []ScrubEntry, at time.Time, note func(ScrubEntry) string) error

	// Sweep queries. All bounded, oldest-first.
	ListQualityCandidates(ctx context.Context, limit int) ([]Listing, error)
	ListRefreshCandidates(ctx context.Context, refreshCutoff time.Time, limit int) ([]Listing, error)
	ListSummaryCandidates(ctx context.Context, onlyID string, limit int) ([]Listing, error)
	ListScrubCandidates(ctx context.Context, limit int) ([]Listing, error)
	ListOverdueVerified(ctx context.Context, cutoff time.Time, limit int) ([]Listing, error)
}

// CrawlStore persists crawl attempts.
type CrawlStore interface {
	// RecordOutcome inserts the attempt and updates the listing's
	// lastCrawledAt/verificationStatus/lastVerifiedAt transactionally.
	RecordOutcome(ctx context.Context, outcome CrawlOutcome) (CrawlAttempt, error)
	GetAttempt(ctx context.Context, id string) (CrawlAttempt, error)
	LatestAttempt(ctx context.Context, listingID string) (*CrawlAttempt, error)
	// LatestStatuses returns the status of the most recent n attempts, newest first.
	LatestStatuses(ctx context.Context, listingID string, n int) ([]CrawlStatus, error)
	// LatestSuccessFingerprints returns up to n fingerprints from successful
	// attempts, newest first.
	LatestSuccessFingerprints(ctx context.Context, listingID string, n int) ([]string, error)
	HasPriorSuccess(ctx context.Context, listingID string) (bool, error)
}

// LedgerStore is the append-only discovery decision ledger.
type LedgerStore interface {
	// AppendAttempt writes the DiscoveryAttempt and its TaxonomyEvaluation in
	// one transaction. The decision reason must be non-empty.
	AppendAttempt(ctx context.Context, attempt DiscoveryAttempt) (string, error)
	RecordProviderCall(ctx context.Context, call ProviderCall) error
	// CountAttempts reports ledgered attempts for one job id (test support and
	// the zero-silence invariant).
	CountAttempts(ctx context.Context, jobID string) (int, error)
}

// EventStore reads the moderation audit trail.
type EventStore interface {
	Append(ctx context.Context, ev ModerationEvent) error
	ListForListing(ctx context.Context, listingID string, limit int) ([]ModerationEvent, error)
	// LatestEventAt returns the creation time of the most recent event with
	// the given action, or nil.
	LatestEventAt(ctx context.Context, listingID string, action ModerationAction) (*time.Time, error)
	// RecentSystemFlagExists reports whether a SYSTEM FLAG_ATTENTION event was
	// written after the cutoff (sweep debounce).
	RecentSystemFlagExists(ctx context.Context, listingID string, after time.Time) (bool, error)
	// HumanSummaryEditExists detects the human-edit marker that exempts a
	// listing from automated summary refresh.
	HumanSummaryEditExists(ctx context.Context, listingID string) (bool, error)
}

// ReviewStore persists AI reviews and exposes the removal-request gate.
type ReviewStore interface {
	InsertReview(ctx context.Context, r AIReview) error
	ListReviews(ctx context.Context, listingID string, limit int) ([]AIReview, error)
	PendingRemovalExists(ctx context.Context, listingID string) (bool, error)
}

// TaxonomyStore reads the controlled category taxonomy and the listing join.
type TaxonomyStore interface {
	ActiveCategories(ctx context.Context) ([]Category, error)
	ListingCategoryCount(ctx context.Context, listingID string) (int, error)
	// AttachCategories is first-write-wins: it only attaches when the listing
	// currently has zero categories.
	AttachCategories(ctx context.Context, listingID string, categoryIDs []string) error
	CategoriesForListing(ctx context.Context, listingID string) ([]Category, error)
}

// GeoStore reads canonical geography and manages listing locations.
type GeoStore interface {
	StatesBySlugs(ctx context.Context, slugs []string) ([]State, error)
	FindStateByUSPS(ctx context.Context, usps string) (*State, error)
	CitiesForState(ctx context.Context, stateID string) ([]City, error)
	FindCityByName(ctx context.Context, stateID, name string) (*City, error)
	CitiesBySlugs(ctx context.Context, stateID string, slugs []string) ([]City, error)

	PrimaryLocation(ctx context.Context, listingID string) (*Location, error)
	CreatePrimaryLocation(ctx context.Context, listingID, cityID string) error
	FillCoordinates(ctx context.Context, locationID string, lat, lng float64) error
	FillAddress(ctx context.Context, locationID, street, postal string) error
	CityWithState(ctx context.Context, cityID string) (*City, *State, error)
}

// TaskRunStore records scheduled-task executions.
type TaskRunStore interface {
	Record(ctx context.Context, run TaskRun) error
}

// Store aggregates the per-entity stores behind one connection.
type Store interface {
	Listings() ListingStore
	Crawls() CrawlStore
	Ledger() LedgerStore
	Events() EventStore
	Reviews() ReviewStore
	Taxonomy() TaxonomyStore
	Geo() GeoStore
	TaskRuns() TaskRunStore
	Close()
}

// Clock returns the current time (swappable for tests).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces row identifiers.
type IDGenerator interface {
	NewID() string
}
