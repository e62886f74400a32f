// Package memory provides an in-process implementation of the directory
// stores. It backs tests and local runs without a database, with the same
// conditional-update semantics as the Postgres implementation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/localpages/dirworker/internal/directory"
)

// Store holds all state behind one mutex. Method receivers share the lock so
// the compare-and-swap operations are atomic, mirroring row-level locking.
type Store struct {
	mu sync.Mutex

	clock directory.Clock
	ids   directory.IDGenerator

	listings map[string]*directory.Listing

	attempts          map[string]directory.CrawlAttempt
	attemptsByListing map[string][]string // newest first

	discoveryAttempts []directory.DiscoveryAttempt
	providerCalls     []directory.ProviderCall

	events []directory.ModerationEvent

	reviews         []directory.AIReview
	pendingRemovals map[string]bool

	categories        []directory.Category
	listingCategories map[string][]string

	states    []directory.State
	cities    []directory.City
	locations map[string]*directory.Location // by location id

	taskRuns []directory.TaskRun
}

// New builds an empty store.
func New(clock directory.Clock, ids directory.IDGenerator) *Store {
	return &Store{
		clock:             clock,
		ids:               ids,
		listings:          make(map[string]*directory.Listing),
		attempts:          make(map[string]directory.CrawlAttempt),
		attemptsByListing: make(map[string][]string),
		pendingRemovals:   make(map[string]bool),
		listingCategories: make(map[string][]string),
		locations:         make(map[string]*directory.Location),
	}
}

// Store interface plumbing. One struct implements every sub-store.

func (s *Store) Listings() directory.ListingStore { return s }
func (s *Store) Crawls() directory.CrawlStore     { return s }
func (s *Store) Ledger() directory.LedgerStore    { return s }
func (s *Store) Events() directory.EventStore     { return s }
func (s *Store) Reviews() directory.ReviewStore   { return s }
func (s *Store) Taxonomy() directory.TaxonomyStore { return s }
func (s *Store) Geo() directory.GeoStore          { return s }
func (s *Store) TaskRuns() directory.TaskRunStore { return s }
func (s *Store) Close()                           {}

func (s *Store) appendEventLocked(ev directory.ModerationEvent) {
	if ev.ID == "" {
		ev.ID = s.ids.NewID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.clock.Now()
	}
	s.events = append(s.events, ev)
}

// --- ListingStore ---

func (s *Store) Get(_ context.Context, id string) (directory.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return directory.Listing{}, fmt.Errorf("listing %s not found", id)
	}
	return *l, nil
}

func (s *Store) FindByDomain(_ context.Context, domain string) (*directory.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.listings {
		if l.WebsiteDomain == domain {
			cp := *l
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) SlugExists(_ context.Context, slug string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.listings {
		if l.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CreateDraft(_ context.Context, l directory.Listing, provenance directory.ModerationEvent) (directory.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.ID == "" {
		l.ID = s.ids.NewID()
	}
	now := s.clock.Now()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	if l.ModerationStatus == "" {
		l.ModerationStatus = directory.ModerationDraft
	}
	if l.VerificationStatus == "" {
		l.VerificationStatus = directory.VerificationUnverified
	}
	if _, exists := s.listings[l.ID]; exists {
		return directory.Listing{}, fmt.Errorf("listing %s already exists", l.ID)
	}
	cp := l
	s.listings[l.ID] = &cp

	provenance.ListingID = l.ID
	s.appendEventLocked(provenance)
	return l, nil
}

func (s *Store) CountDraftsCreatedSince(_ context.Context, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.listings {
		if !l.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *Store) UpdateExtract(_ context.Context, id, displayName, summary string, moveToPending bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return fmt.Errorf("listing %s not found", id)
	}
	if displayName != "" {
		l.DisplayName = displayName
	}
	if summary != "" && l.Summary == "" {
		l.Summary = summary
	}
	if moveToPending && l.ModerationStatus == directory.ModerationDraft {
		l.ModerationStatus = directory.ModerationPendingReview
	}
	l.UpdatedAt = s.clock.Now()
	return nil
}

func (s *Store) RefreshSummary(_ context.Context, id, summary string, event directory.ModerationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return fmt.Errorf("listing %s not found", id)
	}
	l.Summary = summary
	l.UpdatedAt = s.clock.Now()
	event.ListingID = id
	s.appendEventLocked(event)
	return nil
}

func (s *Store) ApproveAuto(_ context.Context, id string, confidence float64, event directory.ModerationEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return false, fmt.Errorf("listing %s not found", id)
	}
	if l.ModerationStatus != directory.ModerationPendingReview ||
		l.VerificationStatus != directory.VerificationVerified ||
		l.NeedsAttention ||
		l.OptedOutAt != nil ||
		l.DeletedAt != nil {
		return false, nil
	}
	l.ModerationStatus = directory.ModerationApproved
	l.ApprovalSource = directory.ApprovalAI
	l.ApprovalConfidence = confidence
	l.UpdatedAt = s.clock.Now()

	event.ListingID = id
	s.appendEventLocked(event)
	return true, nil
}

func (s *Store) UpdateStatusIf(_ context.Context, id string, from, to directory.ModerationStatus, event directory.ModerationEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return false, fmt.Errorf("listing %s not found", id)
	}
	if l.ModerationStatus != from {
		return false, nil
	}
	l.ModerationStatus = to
	l.UpdatedAt = s.clock.Now()

	event.ListingID = id
	s.appendEventLocked(event)
	return true, nil
}

func (s *Store) SetAINeedsHumanReview(_ context.Context, id string, v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return fmt.Errorf("listing %s not found", id)
	}
	l.AINeedsHumanReview = v
	l.UpdatedAt = s.clock.Now()
	return nil
}

func (s *Store) FlagAttention(_ context.Context, id string, event directory.ModerationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return fmt.Errorf("listing %s not found", id)
	}
	l.NeedsAttention = true
	l.UpdatedAt = s.clock.Now()

	event.ListingID = id
	s.appendEventLocked(event)
	return nil
}

func (s *Store) MarkStale(_ context.Context, id string, cutoff time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return false, fmt.Errorf("listing %s not found", id)
	}
	if l.VerificationStatus != directory.VerificationVerified {
		return false, nil
	}
	if l.LastVerifiedAt == nil || !l.LastVerifiedAt.Before(cutoff) {
		return false, nil
	}
	l.VerificationStatus = directory.VerificationStale
	l.UpdatedAt = s.clock.Now()
	return true, nil
}

func (s *Store) SetOptedOut(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return fmt.Errorf("listing %s not found", id)
	}
	t := at
	l.OptedOutAt = &t
	l.UpdatedAt = s.clock.Now()
	return nil
}

func (s *Store) SoftDeleteBatch(_ context.Context, entries []directory.ScrubEntry, at time.Time, note func(directory.ScrubEntry) string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		l, ok := s.listings[e.ListingID]
		if !ok {
			return fmt.Errorf("listing %s not found", e.ListingID)
		}
		if l.DeletedAt != nil {
			continue
		}
		t := at
		l.DeletedAt = &t
		l.UpdatedAt = s.clock.Now()
		s.appendEventLocked(directory.ModerationEvent{
			ListingID: e.ListingID,
			Action:    directory.ActionScrubDelete,
			Note:      note(e),
			ActorType: directory.ActorSystem,
			ActorName: "retention-scrub",
		})
	}
	return nil
}

func (s *Store) sortedByUpdatedAsc(filter func(l directory.Listing) bool, limit int) []directory.Listing {
	out := make([]directory.Listing, 0)
	for _, l := range s.listings {
		if filter(*l) {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) ListQualityCandidates(_ context.Context, limit int) ([]directory.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedByUpdatedAsc(func(l directory.Listing) bool {
		return l.DeletedAt == nil
	}, limit), nil
}

func (s *Store) ListRefreshCandidates(_ context.Context, refreshCutoff time.Time, limit int) ([]directory.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedByUpdatedAsc(func(l directory.Listing) bool {
		if !l.PubliclyVisible() {
			return false
		}
		if l.VerificationStatus == directory.VerificationStale ||
			l.VerificationStatus == directory.VerificationFailed {
			return true
		}
		return l.LastCrawledAt == nil || l.LastCrawledAt.Before(refreshCutoff)
	}, limit), nil
}

func (s *Store) ListSummaryCandidates(_ context.Context, onlyID string, limit int) ([]directory.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if onlyID != "" {
		l, ok := s.listings[onlyID]
		if !ok {
			return nil, nil
		}
		return []directory.Listing{*l}, nil
	}
	return s.sortedByUpdatedAsc(func(l directory.Listing) bool {
		if l.DeletedAt != nil || l.OptedOutAt != nil {
			return false
		}
		if l.ModerationStatus != directory.ModerationApproved && l.ModerationStatus != directory.ModerationPendingReview {
			return false
		}
		return strings.TrimSpace(l.Summary) == ""
	}, limit), nil
}

func (s *Store) ListScrubCandidates(_ context.Context, limit int) ([]directory.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedByUpdatedAsc(func(l directory.Listing) bool {
		if l.DeletedAt != nil {
			return false
		}
		switch l.ModerationStatus {
		case directory.ModerationRejected, directory.ModerationUnpublished,
			directory.ModerationOptedOut, directory.ModerationDraft,
			directory.ModerationPendingReview:
			return true
		}
		return false
	}, limit), nil
}

func (s *Store) ListOverdueVerified(_ context.Context, cutoff time.Time, limit int) ([]directory.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedByUpdatedAsc(func(l directory.Listing) bool {
		if l.DeletedAt != nil || l.VerificationStatus != directory.VerificationVerified {
			return false
		}
		return l.LastVerifiedAt != nil && l.LastVerifiedAt.Before(cutoff)
	}, limit), nil
}

// --- CrawlStore ---

func (s *Store) RecordOutcome(_ context.Context, outcome directory.CrawlOutcome) (directory.CrawlAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt := outcome.Attempt
	if attempt.ID == "" {
		attempt.ID = s.ids.NewID()
	}
	l, ok := s.listings[attempt.ListingID]
	if !ok {
		return directory.CrawlAttempt{}, fmt.Errorf("listing %s not found", attempt.ListingID)
	}

	s.attempts[attempt.ID] = attempt
	s.attemptsByListing[attempt.ListingID] = append([]string{attempt.ID}, s.attemptsByListing[attempt.ListingID]...)

	crawledAt := attempt.FinishedAt
	l.LastCrawledAt = &crawledAt
	l.VerificationStatus = outcome.VerificationStatus
	if outcome.Verified {
		verifiedAt := attempt.FinishedAt
		l.LastVerifiedAt = &verifiedAt
	}
	l.UpdatedAt = s.clock.Now()

	if outcome.AttentionNote != "" {
		l.NeedsAttention = true
		s.appendEventLocked(directory.ModerationEvent{
			ListingID: attempt.ListingID,
			Action:    directory.ActionFlagAttention,
			Note:      outcome.AttentionNote,
			ActorType: directory.ActorSystem,
			ActorName: "crawler",
		})
	}
	return attempt, nil
}

func (s *Store) GetAttempt(_ context.Context, id string) (directory.CrawlAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return directory.CrawlAttempt{}, fmt.Errorf("crawl attempt %s not found", id)
	}
	return a, nil
}

func (s *Store) LatestAttempt(_ context.Context, listingID string) (*directory.CrawlAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.attemptsByListing[listingID]
	if len(ids) == 0 {
		return nil, nil
	}
	a := s.attempts[ids[0]]
	return &a, nil
}

func (s *Store) LatestStatuses(_ context.Context, listingID string, n int) ([]directory.CrawlStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.attemptsByListing[listingID]
	out := make([]directory.CrawlStatus, 0, n)
	for _, id := range ids {
		if len(out) == n {
			break
		}
		out = append(out, s.attempts[id].Status)
	}
	return out, nil
}

func (s *Store) LatestSuccessFingerprints(_ context.Context, listingID string, n int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, n)
	for _, id := range s.attemptsByListing[listingID] {
		if len(out) == n {
			break
		}
		a := s.attempts[id]
		if a.Status == directory.CrawlSuccess && a.Fingerprint != "" {
			out = append(out, a.Fingerprint)
		}
	}
	return out, nil
}

func (s *Store) HasPriorSuccess(_ context.Context, listingID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.attemptsByListing[listingID] {
		if s.attempts[id].Status == directory.CrawlSuccess {
			return true, nil
		}
	}
	return false, nil
}

// --- LedgerStore ---

func (s *Store) AppendAttempt(_ context.Context, attempt directory.DiscoveryAttempt) (string, error) {
	if attempt.DecisionReason == "" {
		return "", fmt.Errorf("discovery attempt requires a decision reason")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if attempt.ID == "" {
		attempt.ID = s.ids.NewID()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = s.clock.Now()
	}
	s.discoveryAttempts = append(s.discoveryAttempts, attempt)
	return attempt.ID, nil
}

func (s *Store) RecordProviderCall(_ context.Context, call directory.ProviderCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if call.ID == "" {
		call.ID = s.ids.NewID()
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = s.clock.Now()
	}
	s.providerCalls = append(s.providerCalls, call)
	return nil
}

func (s *Store) CountAttempts(_ context.Context, jobID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.discoveryAttempts {
		if a.JobID == jobID {
			n++
		}
	}
	return n, nil
}

// DiscoveryAttempts returns a copy of the ledger, for tests.
func (s *Store) DiscoveryAttempts() []directory.DiscoveryAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]directory.DiscoveryAttempt(nil), s.discoveryAttempts...)
}

// ProviderCalls returns a copy of the provider-call audit rows, for tests.
func (s *Store) ProviderCalls() []directory.ProviderCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]directory.ProviderCall(nil), s.providerCalls...)
}

// --- EventStore ---

func (s *Store) Append(_ context.Context, ev directory.ModerationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendEventLocked(ev)
	return nil
}

func (s *Store) ListForListing(_ context.Context, listingID string, limit int) ([]directory.ModerationEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]directory.ModerationEvent, 0)
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].ListingID != listingID {
			continue
		}
		out = append(out, s.events[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) LatestEventAt(_ context.Context, listingID string, action directory.ModerationAction) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		ev := s.events[i]
		if ev.ListingID == listingID && ev.Action == action {
			t := ev.CreatedAt
			return &t, nil
		}
	}
	return nil, nil
}

func (s *Store) RecentSystemFlagExists(_ context.Context, listingID string, after time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		ev := s.events[i]
		if ev.ListingID == listingID &&
			ev.Action == directory.ActionFlagAttention &&
			ev.ActorType == directory.ActorSystem &&
			ev.CreatedAt.After(after) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) HumanSummaryEditExists(_ context.Context, listingID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.ListingID == listingID &&
			ev.Action == directory.ActionRefreshSummary &&
			ev.ActorType != directory.ActorSystem {
			return true, nil
		}
	}
	return false, nil
}

// --- ReviewStore ---

func (s *Store) InsertReview(_ context.Context, r directory.AIReview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = s.ids.NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.clock.Now()
	}
	s.reviews = append(s.reviews, r)
	return nil
}

func (s *Store) ListReviews(_ context.Context, listingID string, limit int) ([]directory.AIReview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]directory.AIReview, 0)
	for i := len(s.reviews) - 1; i >= 0; i-- {
		if s.reviews[i].ListingID != listingID {
			continue
		}
		out = append(out, s.reviews[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) PendingRemovalExists(_ context.Context, listingID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingRemovals[listingID], nil
}

// SetPendingRemoval marks an open removal request, for tests.
func (s *Store) SetPendingRemoval(listingID string, pending bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingRemovals[listingID] = pending
}

// --- TaxonomyStore ---

// SeedCategories replaces the taxonomy, for tests and local fixtures.
func (s *Store) SeedCategories(cats ...directory.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories = append([]directory.Category(nil), cats...)
}

func (s *Store) ActiveCategories(_ context.Context) ([]directory.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]directory.Category, 0, len(s.categories))
	for _, c := range s.categories {
		if c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) ListingCategoryCount(_ context.Context, listingID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listingCategories[listingID]), nil
}

func (s *Store) AttachCategories(_ context.Context, listingID string, categoryIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listingCategories[listingID]) > 0 {
		return nil
	}
	s.listingCategories[listingID] = append([]string(nil), categoryIDs...)
	return nil
}

func (s *Store) CategoriesForListing(_ context.Context, listingID string) ([]directory.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.listingCategories[listingID]
	out := make([]directory.Category, 0, len(ids))
	for _, id := range ids {
		for _, c := range s.categories {
			if c.ID == id {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

// --- GeoStore ---

// SeedGeo replaces the canonical geography, for tests and local fixtures.
func (s *Store) SeedGeo(states []directory.State, cities []directory.City) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append([]directory.State(nil), states...)
	s.cities = append([]directory.City(nil), cities...)
}

func (s *Store) StatesBySlugs(_ context.Context, slugs []string) ([]directory.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(slugs))
	for _, slug := range slugs {
		want[slug] = true
	}
	out := make([]directory.State, 0)
	for _, st := range s.states {
		if want[st.Slug] {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *Store) FindStateByUSPS(_ context.Context, usps string) (*directory.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.states {
		if strings.EqualFold(st.USPSCode, usps) {
			cp := st
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) CitiesForState(_ context.Context, stateID string) ([]directory.City, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]directory.City, 0)
	for _, c := range s.cities {
		if c.StateID == stateID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) FindCityByName(_ context.Context, stateID, name string) (*directory.City, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cities {
		if c.StateID == stateID && strings.EqualFold(c.Name, name) {
			cp := c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) CitiesBySlugs(_ context.Context, stateID string, slugs []string) ([]directory.City, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(slugs))
	for _, slug := range slugs {
		want[slug] = true
	}
	out := make([]directory.City, 0)
	for _, c := range s.cities {
		if c.StateID == stateID && want[c.Slug] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) PrimaryLocation(_ context.Context, listingID string) (*directory.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, loc := range s.locations {
		if loc.ListingID == listingID && loc.Primary && loc.DeletedAt == nil {
			cp := *loc
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) CreatePrimaryLocation(_ context.Context, listingID, cityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, loc := range s.locations {
		if loc.ListingID == listingID && loc.Primary && loc.DeletedAt == nil {
			return nil
		}
	}
	id := s.ids.NewID()
	s.locations[id] = &directory.Location{
		ID:        id,
		ListingID: listingID,
		CityID:    cityID,
		Primary:   true,
	}
	return nil
}

func (s *Store) FillCoordinates(_ context.Context, locationID string, lat, lng float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.locations[locationID]
	if !ok {
		return fmt.Errorf("location %s not found", locationID)
	}
	if loc.Lat == nil && loc.Lng == nil {
		loc.Lat = &lat
		loc.Lng = &lng
	}
	return nil
}

func (s *Store) FillAddress(_ context.Context, locationID, street, postal string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.locations[locationID]
	if !ok {
		return fmt.Errorf("location %s not found", locationID)
	}
	if loc.Street == "" && street != "" {
		loc.Street = street
	}
	if loc.Postal == "" && postal != "" {
		loc.Postal = postal
	}
	return nil
}

func (s *Store) CityWithState(_ context.Context, cityID string) (*directory.City, *directory.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cities {
		if c.ID != cityID {
			continue
		}
		for _, st := range s.states {
			if st.ID == c.StateID {
				city, state := c, st
				return &city, &state, nil
			}
		}
		city := c
		return &city, nil, nil
	}
	return nil, nil, nil
}

// --- TaskRunStore ---

func (s *Store) Record(_ context.Context, run directory.TaskRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.ID == "" {
		run.ID = s.ids.NewID()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.clock.Now()
	}
	s.taskRuns = append(s.taskRuns, run)
	return nil
}

// TaskRunRows returns recorded task runs, for tests.
func (s *Store) TaskRunRows() []directory.TaskRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]directory.TaskRun(nil), s.taskRuns...)
}

// ListingEvents returns all events for a listing oldest first, for tests.
func (s *Store) ListingEvents(listingID string) []directory.ModerationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]directory.ModerationEvent, 0)
	for _, ev := range s.events {
		if ev.ListingID == listingID {
			out = append(out, ev)
		}
	}
	return out
}
