// Package directory defines the core domain types shared across the pipeline.
package directory

import (
	"time"
)

// ModerationStatus is the moderation lifecycle state of a Listing.
type ModerationStatus string

// Moderation status values persisted on the listing row.
const (
	ModerationDraft         ModerationStatus = "DRAFT"
	ModerationPendingReview ModerationStatus = "PENDING_REVIEW"
	ModerationApproved      ModerationStatus = "APPROVED"
	ModerationRejected      ModerationStatus = "REJECTED"
	ModerationUnpublished   ModerationStatus = "UNPUBLISHED"
	ModerationOptedOut      ModerationStatus = "OPTED_OUT"
)

// VerificationStatus tracks whether a listing's website passed the policy-path crawl.
type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "UNVERIFIED"
	VerificationVerified   VerificationStatus = "VERIFIED"
	VerificationFailed     VerificationStatus = "FAILED"
	VerificationStale      VerificationStatus = "STALE"
)

// ApprovalSource records who applied the approval.
type ApprovalSource string

const (
	ApprovalHuman ApprovalSource = "HUMAN"
	ApprovalAI    ApprovalSource = "AI"
)

// Listing is a directory entry. Created by discovery, mutated by the pipeline
// jobs and human moderators, never hard-deleted.
type Listing struct {
	ID                 string
	Slug               string
	DisplayName        string
	WebsiteURL         string
	WebsiteDomain      string
	Summary            string // empty means "no summary yet"
	ModerationStatus   ModerationStatus
	VerificationStatus VerificationStatus
	NeedsAttention     bool
	AINeedsHumanReview bool
	ApprovalSource     ApprovalSource // empty until approved
	ApprovalConfidence float64
	CreatedAt          time.Time
	UpdatedAt          time.Time
	LastCrawledAt      *time.Time
	LastVerifiedAt     *time.Time
	OptedOutAt         *time.Time
	DeletedAt          *time.Time
}

// PubliclyVisible is the visibility predicate: only approved listings that are
// neither soft-deleted nor opted out appear on the public surface.
func (l Listing) PubliclyVisible() bool {
	return l.ModerationStatus == ModerationApproved && l.DeletedAt == nil && l.OptedOutAt == nil
}

// CrawlStatus classifies the outcome of one crawl execution.
type CrawlStatus string

const (
	CrawlSuccess       CrawlStatus = "SUCCESS"
	CrawlHTTPError     CrawlStatus = "HTTP_ERROR"
	CrawlTimeout       CrawlStatus = "TIMEOUT"
	CrawlParseError    CrawlStatus = "PARSE_ERROR"
	CrawlBlockedRobots CrawlStatus = "BLOCKED_ROBOTS"
	CrawlUnknownError  CrawlStatus = "UNKNOWN_ERROR"
)

// GeoPoint is a coordinate pair harvested from structured data.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// PostalAddress is a structured address harvested from JSON-LD. Fields are
// conservative: never guessed, only copied from explicit structured data.
type PostalAddress struct {
	Street   string `json:"street,omitempty"`
	Locality string `json:"locality,omitempty"`
	Region   string `json:"region,omitempty"`
	Postal   string `json:"postal,omitempty"`
}

// PageSignals holds the derived signals for one crawled path. Raw page text
// and HTML are never persisted; only these fields survive the crawl.
type PageSignals struct {
	Path            string         `json:"path"`
	OK              bool           `json:"ok"`
	HTTPStatus      int            `json:"http_status"`
	FinalURL        string         `json:"final_url"`
	Title           string         `json:"title"`
	H1              string         `json:"h1"`
	H2              []string       `json:"h2"`
	MetaDescription string         `json:"meta_description"`
	HasEmail        bool           `json:"has_email"`
	HasPhone        bool           `json:"has_phone"`
	Geo             *GeoPoint      `json:"geo,omitempty"`
	Address         *PostalAddress `json:"address,omitempty"`
}

// SignalBundle is the full per-crawl extraction, stored as JSONB on the attempt.
type SignalBundle struct {
	Pages             []PageSignals `json:"pages"`
	PolicyPaths       []string      `json:"policy_paths"`
	UserAgent         string        `json:"user_agent,omitempty"`
	CrossHostRedirect bool          `json:"cross_host_redirect,omitempty"`
	Note              string        `json:"note,omitempty"`
}

// Homepage returns the "/" page, falling back to the first crawled page.
func (b SignalBundle) Homepage() *PageSignals {
	for i := range b.Pages {
		if b.Pages[i].Path == "/" {
			return &b.Pages[i]
		}
	}
	if len(b.Pages) > 0 {
		return &b.Pages[0]
	}
	return nil
}

// CrawlAttempt is one row per crawl execution. Append-only.
type CrawlAttempt struct {
	ID            string
	ListingID     string
	TargetURL     string
	StartedAt     time.Time
	FinishedAt    time.Time
	Status        CrawlStatus
	HTTPStatus    int
	RobotsAllowed *bool // nil = unknown (no robots.txt retrieved)
	Fingerprint   string
	Signals       SignalBundle
}

// DiscoveryDecision is the ledgered outcome for one candidate domain.
type DiscoveryDecision string

const (
	DecisionAccepted             DiscoveryDecision = "accepted"
	DecisionSkippedDuplicate     DiscoveryDecision = "skipped_duplicate"
	DecisionSkippedCap           DiscoveryDecision = "skipped_cap"
	DecisionSkippedTaxonomy      DiscoveryDecision = "skipped_taxonomy"
	DecisionSkippedLowConfidence DiscoveryDecision = "skipped_low_confidence"
	DecisionSkippedThrottle      DiscoveryDecision = "skipped_throttle_ranked"
	DecisionProviderError        DiscoveryDecision = "provider_error"
)

// ProviderErrorType is the typed taxonomy for external search-provider failures.
type ProviderErrorType string

const (
	ProviderErrTimeout   ProviderErrorType = "timeout"
	ProviderErrQuota     ProviderErrorType = "quota"
	ProviderErrParse     ProviderErrorType = "parse"
	ProviderErrMalformed ProviderErrorType = "malformed"
	ProviderErrEmpty     ProviderErrorType = "empty"
	ProviderErrOther     ProviderErrorType = "other"
)

// TaxonomyEvaluation records the taxonomy outcome attached to a DiscoveryAttempt.
type TaxonomyEvaluation struct {
	InputCategory      string
	MatchedCategories  []string
	ExcludedCategories []string
	Pass               bool
	RuleID             string
}

// DiscoveryAttempt is one row per candidate domain considered during a
// discovery run. Every candidate surfaced by a provider call produces exactly
// one attempt; nothing is silently dropped.
type DiscoveryAttempt struct {
	ID              string
	JobID           string
	RawCity         string
	RawState        string
	RawCountry      string
	RawCategory     string
	NormalizedKey   string
	ConfidenceScore *float64
	Decision        DiscoveryDecision
	DecisionReason  string
	TaxonomyRuleID  string
	CapRuleID       string
	ErrorCode       string
	ErrorRetryable  *bool
	ErrorType       ProviderErrorType
	PayloadExcerpt  string
	Taxonomy        TaxonomyEvaluation
	CreatedAt       time.Time
}

// ProviderCallStatus classifies one external search invocation.
type ProviderCallStatus string

const (
	ProviderCallOK    ProviderCallStatus = "ok"
	ProviderCallEmpty ProviderCallStatus = "empty"
	ProviderCallError ProviderCallStatus = "error"
)

// ProviderCall is an append-only audit row for one search-provider invocation.
type ProviderCall struct {
	ID             string
	JobID          string
	Provider       string
	Query          string
	Status         ProviderCallStatus
	ResultCount    int
	InvalidURLs    int
	BlockedDomains int
	UniqueDomains  int
	ErrorType      ProviderErrorType
	ErrorCode      string
	Retryable      *bool
	PayloadExcerpt string
	CreatedAt      time.Time
}

// ModerationAction names a state-affecting mutation of a listing.
type ModerationAction string

const (
	ActionSubmitForReview ModerationAction = "SUBMIT_FOR_REVIEW"
	ActionApprove         ModerationAction = "APPROVE"
	ActionReject          ModerationAction = "REJECT"
	ActionUnpublish       ModerationAction = "UNPUBLISH"
	ActionOptOut          ModerationAction = "OPT_OUT"
	ActionFlagAttention   ModerationAction = "FLAG_ATTENTION"
	ActionAIAutoApproved  ModerationAction = "AI_AUTO_APPROVED"
	ActionRefreshSummary  ModerationAction = "REFRESH_SUMMARY"
	ActionScrubDelete     ModerationAction = "SCRUB_DELETE"
	ActionDiscovered      ModerationAction = "DISCOVERED"
)

// ActorType identifies who performed a moderation action.
type ActorType string

const (
	ActorAdmin  ActorType = "ADMIN"
	ActorHuman  ActorType = "HUMAN"
	ActorSystem ActorType = "SYSTEM"
)

// ModerationEvent is one row per state-affecting mutation of a listing.
// Written in the same transaction as the mutation it records.
type ModerationEvent struct {
	ID         string
	ListingID  string
	Action     ModerationAction
	ReasonCode string
	Note       string
	ActorType  ActorType
	ActorName  string
	CreatedAt  time.Time
}

// AIVerdict is the policy model's decision.
type AIVerdict string

const (
	VerdictPass AIVerdict = "PASS"
	VerdictFail AIVerdict = "FAIL"
)

// AIReview is one row per AI policy evaluation. Append-only.
type AIReview struct {
	ID             string
	ListingID      string
	CrawlAttemptID string
	Verdict        AIVerdict
	Confidence     float64
	Reasons        []string
	Flags          []string
	ModelVersion   string
	RawResponse    string
	CreatedAt      time.Time
}

// Category is a controlled taxonomy term. The pipeline only ever attaches
// categories that already exist; it never invents taxonomy.
type Category struct {
	ID          string
	Slug        string
	DisplayName string
	Active      bool
}

// State is a canonical geography row (US states for now).
type State struct {
	ID       string
	Slug     string
	Name     string
	USPSCode string
}

// City is a canonical geography row scoped to a state.
type City struct {
	ID      string
	StateID string
	Slug    string
	Name    string
}

// Location is a listing's physical location bound to a canonical city.
type Location struct {
	ID        string
	ListingID string
	CityID    string
	Primary   bool
	Street    string
	Postal    string
	Lat       *float64
	Lng       *float64
	DeletedAt *time.Time
}

// TaskRunStatus classifies one scheduled-task execution.
type TaskRunStatus string

const (
	TaskRunSuccess TaskRunStatus = "SUCCESS"
	TaskRunError   TaskRunStatus = "ERROR"
	TaskRunSkipped TaskRunStatus = "SKIPPED"
)

// TaskRun is one row per scheduled execution, consulted by operators for
// systemic issues.
type TaskRun struct {
	ID        string
	TaskName  string
	CronExpr  string
	Status    TaskRunStatus
	Duration  time.Duration
	Note      string
	StartedAt time.Time
}
