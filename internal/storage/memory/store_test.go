package memory

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/localpages/dirworker/internal/directory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct{ n atomic.Int64 }

func (g *seqIDs) NewID() string {
	return fmt.Sprintf("id-%04d", g.n.Add(1))
}

func newTestStore() *Store {
	return New(fixedClock{time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}, &seqIDs{})
}

func seedListing(t *testing.T, s *Store, l directory.Listing) directory.Listing {
	t.Helper()
	created, err := s.Listings().CreateDraft(context.Background(), l, directory.ModerationEvent{
		Action:    directory.ActionDiscovered,
		ActorType: directory.ActorSystem,
		ActorName: "discovery",
	})
	require.NoError(t, err)
	return created
}

func TestCreateDraftWritesProvenanceEvent(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	l := seedListing(t, s, directory.Listing{Slug: "smile-dental", WebsiteDomain: "smile.example"})

	require.NotEmpty(t, l.ID)
	require.Equal(t, directory.ModerationDraft, l.ModerationStatus)
	require.Equal(t, directory.VerificationUnverified, l.VerificationStatus)

	events := s.ListingEvents(l.ID)
	require.Len(t, events, 1)
	require.Equal(t, directory.ActionDiscovered, events[0].Action)
}

func TestApproveAutoCAS(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	ctx := context.Background()
	l := seedListing(t, s, directory.Listing{Slug: "a", WebsiteDomain: "a.example"})

	event := directory.ModerationEvent{
		Action:    directory.ActionAIAutoApproved,
		ActorType: directory.ActorSystem,
		ActorName: "ai-review",
	}

	// Not PENDING_REVIEW yet.
	ok, err := s.Listings().ApproveAuto(ctx, l.ID, 0.95, event)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Listings().UpdateExtract(ctx, l.ID, "A Co", "summary", true))

	// Still UNVERIFIED.
	ok, err = s.Listings().ApproveAuto(ctx, l.ID, 0.95, event)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = s.Crawls().RecordOutcome(ctx, directory.CrawlOutcome{
		Attempt: directory.CrawlAttempt{
			ListingID:  l.ID,
			Status:     directory.CrawlSuccess,
			FinishedAt: time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC),
		},
		VerificationStatus: directory.VerificationVerified,
		Verified:           true,
	})
	require.NoError(t, err)

	ok, err = s.Listings().ApproveAuto(ctx, l.ID, 0.95, event)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.Listings().Get(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, directory.ModerationApproved, got.ModerationStatus)
	require.Equal(t, directory.ApprovalAI, got.ApprovalSource)
	require.InDelta(t, 0.95, got.ApprovalConfidence, 1e-9)
	require.True(t, got.PubliclyVisible())

	// Second approval loses the race.
	ok, err = s.Listings().ApproveAuto(ctx, l.ID, 0.95, event)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestApproveAutoBlockedByAttentionAndOptOut(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	ctx := context.Background()
	l := seedListing(t, s, directory.Listing{Slug: "b", WebsiteDomain: "b.example"})
	require.NoError(t, s.Listings().UpdateExtract(ctx, l.ID, "B", "", true))
	_, err := s.Crawls().RecordOutcome(ctx, directory.CrawlOutcome{
		Attempt:            directory.CrawlAttempt{ListingID: l.ID, Status: directory.CrawlSuccess, FinishedAt: time.Now().UTC()},
		VerificationStatus: directory.VerificationVerified,
		Verified:           true,
	})
	require.NoError(t, err)

	require.NoError(t, s.Listings().FlagAttention(ctx, l.ID, directory.ModerationEvent{
		Action: directory.ActionFlagAttention, ActorType: directory.ActorSystem,
	}))

	ok, err := s.Listings().ApproveAuto(ctx, l.ID, 0.99, directory.ModerationEvent{Action: directory.ActionAIAutoApproved})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRecordOutcomeUpdatesListingAndFlags(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	ctx := context.Background()
	l := seedListing(t, s, directory.Listing{Slug: "c", WebsiteDomain: "c.example"})

	finished := time.Date(2026, 8, 30, 10, 30, 0, 0, time.UTC)
	_, err := s.Crawls().RecordOutcome(ctx, directory.CrawlOutcome{
		Attempt: directory.CrawlAttempt{
			ListingID:  l.ID,
			Status:     directory.CrawlBlockedRobots,
			FinishedAt: finished,
		},
		VerificationStatus: directory.VerificationFailed,
		AttentionNote:      "robots.txt disallows crawl",
	})
	require.NoError(t, err)

	got, err := s.Listings().Get(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, directory.VerificationFailed, got.VerificationStatus)
	require.True(t, got.NeedsAttention)
	require.NotNil(t, got.LastCrawledAt)
	require.True(t, got.LastCrawledAt.Equal(finished))
	require.Nil(t, got.LastVerifiedAt)

	events := s.ListingEvents(l.ID)
	require.Equal(t, directory.ActionFlagAttention, events[len(events)-1].Action)
}

func TestCrawlHistoryQueries(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	ctx := context.Background()
	l := seedListing(t, s, directory.Listing{Slug: "d", WebsiteDomain: "d.example"})

	statuses := []directory.CrawlStatus{
		directory.CrawlSuccess, directory.CrawlHTTPError, directory.CrawlSuccess,
	}
	for i, st := range statuses {
		fp := ""
		if st == directory.CrawlSuccess {
			fp = fmt.Sprintf("fp-%d", i)
		}
		_, err := s.Crawls().RecordOutcome(ctx, directory.CrawlOutcome{
			Attempt: directory.CrawlAttempt{
				ListingID:   l.ID,
				Status:      st,
				Fingerprint: fp,
				FinishedAt:  time.Date(2026, 8, 30, 10, i, 0, 0, time.UTC),
			},
			VerificationStatus: directory.VerificationVerified,
		})
		require.NoError(t, err)
	}

	recent, err := s.Crawls().LatestStatuses(ctx, l.ID, 2)
	require.NoError(t, err)
	require.Equal(t, []directory.CrawlStatus{directory.CrawlSuccess, directory.CrawlHTTPError}, recent)

	fps, err := s.Crawls().LatestSuccessFingerprints(ctx, l.ID, 5)
	require.NoError(t, err)
	require.Len(t, fps, 2)

	has, err := s.Crawls().HasPriorSuccess(ctx, l.ID)
	require.NoError(t, err)
	require.True(t, has)

	latest, err := s.Crawls().LatestAttempt(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, directory.CrawlSuccess, latest.Status)
}

func TestLedgerRequiresDecisionReason(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	_, err := s.Ledger().AppendAttempt(context.Background(), directory.DiscoveryAttempt{
		JobID:    "job-1",
		Decision: directory.DecisionAccepted,
	})
	require.Error(t, err)

	id, err := s.Ledger().AppendAttempt(context.Background(), directory.DiscoveryAttempt{
		JobID:          "job-1",
		Decision:       directory.DecisionAccepted,
		DecisionReason: "new domain accepted",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	n, err := s.Ledger().CountAttempts(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestAttachCategoriesFirstWriteWins(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	ctx := context.Background()
	s.SeedCategories(
		directory.Category{ID: "c1", Slug: "dentist", Active: true},
		directory.Category{ID: "c2", Slug: "plumber", Active: true},
		directory.Category{ID: "c3", Slug: "retired", Active: false},
	)

	active, err := s.Taxonomy().ActiveCategories(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)

	require.NoError(t, s.Taxonomy().AttachCategories(ctx, "l1", []string{"c1"}))
	require.NoError(t, s.Taxonomy().AttachCategories(ctx, "l1", []string{"c2"}))

	cats, err := s.Taxonomy().CategoriesForListing(ctx, "l1")
	require.NoError(t, err)
	require.Len(t, cats, 1)
	require.Equal(t, "dentist", cats[0].Slug)
}

func TestMarkStaleOnlyWhenOverdue(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	ctx := context.Background()
	l := seedListing(t, s, directory.Listing{Slug: "e", WebsiteDomain: "e.example"})

	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.Crawls().RecordOutcome(ctx, directory.CrawlOutcome{
		Attempt:            directory.CrawlAttempt{ListingID: l.ID, Status: directory.CrawlSuccess, FinishedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		VerificationStatus: directory.VerificationVerified,
		Verified:           true,
	})
	require.NoError(t, err)

	ok, err := s.Listings().MarkStale(ctx, l.ID, cutoff)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.Listings().Get(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, directory.VerificationStale, got.VerificationStatus)

	// Already stale: no-op.
	ok, err = s.Listings().MarkStale(ctx, l.ID, cutoff)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSoftDeleteBatchWritesScrubEvents(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	ctx := context.Background()
	l := seedListing(t, s, directory.Listing{Slug: "f", WebsiteDomain: "f.example"})

	at := time.Date(2026, 8, 30, 6, 0, 0, 0, time.UTC)
	entry := directory.ScrubEntry{ListingID: l.ID, Status: directory.ModerationDraft, Since: at.AddDate(0, 0, -10)}
	err := s.Listings().SoftDeleteBatch(ctx, []directory.ScrubEntry{entry}, at, func(e directory.ScrubEntry) string {
		return "retention scrub after DRAFT"
	})
	require.NoError(t, err)

	got, err := s.Listings().Get(ctx, l.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DeletedAt)
	require.False(t, got.PubliclyVisible())

	events := s.ListingEvents(l.ID)
	require.Equal(t, directory.ActionScrubDelete, events[len(events)-1].Action)
}

func TestGeoFirstWriteOnly(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	ctx := context.Background()
	s.SeedGeo(
		[]directory.State{{ID: "s1", Slug: "california", Name: "California", USPSCode: "CA"}},
		[]directory.City{{ID: "ct1", StateID: "s1", Slug: "fresno", Name: "Fresno"}},
	)

	st, err := s.Geo().FindStateByUSPS(ctx, "ca")
	require.NoError(t, err)
	require.NotNil(t, st)

	city, err := s.Geo().FindCityByName(ctx, "s1", "fresno")
	require.NoError(t, err)
	require.NotNil(t, city)

	require.NoError(t, s.Geo().CreatePrimaryLocation(ctx, "l1", "ct1"))
	require.NoError(t, s.Geo().CreatePrimaryLocation(ctx, "l1", "ct1"))

	loc, err := s.Geo().PrimaryLocation(ctx, "l1")
	require.NoError(t, err)
	require.NotNil(t, loc)

	require.NoError(t, s.Geo().FillCoordinates(ctx, loc.ID, 36.7, -119.8))
	require.NoError(t, s.Geo().FillCoordinates(ctx, loc.ID, 1, 2))
	loc, err = s.Geo().PrimaryLocation(ctx, "l1")
	require.NoError(t, err)
	require.InDelta(t, 36.7, *loc.Lat, 1e-9)

	require.NoError(t, s.Geo().FillAddress(ctx, loc.ID, "1 Main St", "93701"))
	require.NoError(t, s.Geo().FillAddress(ctx, loc.ID, "2 Other St", "00000"))
	loc, err = s.Geo().PrimaryLocation(ctx, "l1")
	require.NoError(t, err)
	require.Equal(t, "1 Main St", loc.Street)
	require.Equal(t, "93701", loc.Postal)
}

func TestSweepCandidateQueries(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	ctx := context.Background()

	approved := seedListing(t, s, directory.Listing{Slug: "g", WebsiteDomain: "g.example"})
	require.NoError(t, s.Listings().UpdateExtract(ctx, approved.ID, "G", "", true))
	ok, err := s.Listings().UpdateStatusIf(ctx, approved.ID, directory.ModerationPendingReview, directory.ModerationApproved,
		directory.ModerationEvent{Action: directory.ActionApprove, ActorType: directory.ActorAdmin})
	require.NoError(t, err)
	require.True(t, ok)

	rejected := seedListing(t, s, directory.Listing{Slug: "h", WebsiteDomain: "h.example"})
	_, err = s.Listings().UpdateStatusIf(ctx, rejected.ID, directory.ModerationDraft, directory.ModerationRejected,
		directory.ModerationEvent{Action: directory.ActionReject, ActorType: directory.ActorAdmin})
	require.NoError(t, err)

	refresh, err := s.Listings().ListRefreshCandidates(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, refresh, 1)
	require.Equal(t, approved.ID, refresh[0].ID)

	scrub, err := s.Listings().ListScrubCandidates(ctx, 10)
	require.NoError(t, err)
	require.Len(t, scrub, 1)
	require.Equal(t, rejected.ID, scrub[0].ID)

	summary, err := s.Listings().ListSummaryCandidates(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, summary, 1)
	require.Equal(t, approved.ID, summary[0].ID)
}
