package crawler

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/localpages/dirworker/internal/directory"
	"github.com/localpages/dirworker/internal/queue"
	"github.com/localpages/dirworker/internal/storage/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct{ n atomic.Int64 }

func (g *seqIDs) NewID() string { return fmt.Sprintf("id-%04d", g.n.Add(1)) }

// fakeRenderer serves canned pages keyed by full URL and records every
// render request.
type fakeRenderer struct {
	pages map[string]RenderedPage
	errs  map[string]error
	calls []string
}

func (f *fakeRenderer) Render(_ context.Context, pageURL string) (RenderedPage, error) {
	f.calls = append(f.calls, pageURL)
	if err, ok := f.errs[pageURL]; ok {
		return RenderedPage{}, err
	}
	if page, ok := f.pages[pageURL]; ok {
		return page, nil
	}
	return RenderedPage{HTML: "<html><body></body></html>", FinalURL: pageURL, HTTPStatus: 404}, nil
}

func (f *fakeRenderer) Close() {}

type staticRobots struct{ allowed *bool }

func (s staticRobots) Allowed(context.Context, string, string) *bool { return s.allowed }

// pathRobots answers per path (missing path means allow) and records what
// was asked.
type pathRobots struct {
	rules map[string]bool
	asked []string
}

func (p *pathRobots) Allowed(_ context.Context, _ string, path string) *bool {
	p.asked = append(p.asked, path)
	if v, ok := p.rules[path]; ok {
		return boolPtr(v)
	}
	return boolPtr(true)
}

func boolPtr(v bool) *bool { return &v }

func newJobFixture(t *testing.T, renderer Renderer, robots RobotsChecker) (*Job, *memory.Store, *queue.Memory, directory.Listing) {
	t.Helper()
	clk := fixedClock{time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	store := memory.New(clk, &seqIDs{})
	q := queue.NewMemory()

	listing, err := store.Listings().CreateDraft(context.Background(), directory.Listing{
		Slug:          "smile-dental",
		WebsiteURL:    "https://smile.example/",
		WebsiteDomain: "smile.example",
	}, directory.ModerationEvent{Action: directory.ActionDiscovered, ActorType: directory.ActorSystem})
	require.NoError(t, err)

	job := NewJob(store, renderer, robots, q, clk, zap.NewNop(), "localpages-bot")
	return job, store, q, listing
}

func homepageHTML(title string) string {
	return "<html><head><title>" + title + "</title></head><body><h1>" + title + "</h1></body></html>"
}

func TestRunSuccessVerifiesAndEnqueuesExtraction(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{pages: map[string]RenderedPage{
		"https://smile.example/":         {HTML: homepageHTML("Smile Dental"), FinalURL: "https://smile.example/", HTTPStatus: 200},
		"https://smile.example/about":    {HTML: "<html><body><h2>About</h2></body></html>", FinalURL: "https://smile.example/about", HTTPStatus: 200},
		"https://smile.example/services": {HTML: "<html><body></body></html>", FinalURL: "https://smile.example/services", HTTPStatus: 200},
		"https://smile.example/contact":  {HTML: "<html><body>hello@smile.example</body></html>", FinalURL: "https://smile.example/contact", HTTPStatus: 200},
	}}
	job, store, q, listing := newJobFixture(t, renderer, staticRobots{boolPtr(true)})

	attempt, err := job.Run(context.Background(), listing.ID)
	require.NoError(t, err)
	require.NotNil(t, attempt)
	require.Equal(t, directory.CrawlSuccess, attempt.Status)
	require.NotEmpty(t, attempt.Fingerprint)
	require.Len(t, attempt.Signals.Pages, 4)

	got, err := store.Listings().Get(context.Background(), listing.ID)
	require.NoError(t, err)
	require.Equal(t, directory.VerificationVerified, got.VerificationStatus)
	require.NotNil(t, got.LastVerifiedAt)

	next, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Equal(t, queue.TypeExtractListing, next.Type)
	require.Equal(t, queue.ExtractKey(attempt.ID), next.Key)
}

func TestRunRobotsBlockedRecordsFailure(t *testing.T) {
	t.Parallel()

	job, store, q, listing := newJobFixture(t, &fakeRenderer{}, staticRobots{boolPtr(false)})

	attempt, err := job.Run(context.Background(), listing.ID)
	require.NoError(t, err)
	require.Equal(t, directory.CrawlBlockedRobots, attempt.Status)
	require.NotNil(t, attempt.RobotsAllowed)
	require.False(t, *attempt.RobotsAllowed)
	require.Empty(t, attempt.Fingerprint)

	got, err := store.Listings().Get(context.Background(), listing.ID)
	require.NoError(t, err)
	require.Equal(t, directory.VerificationFailed, got.VerificationStatus)
	require.False(t, got.NeedsAttention)

	next, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Nil(t, next)
}

func TestRunRobotsUnknownStillVerifies(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{pages: map[string]RenderedPage{
		"https://smile.example/": {HTML: homepageHTML("Smile Dental"), FinalURL: "https://smile.example/", HTTPStatus: 200},
	}}
	job, _, _, listing := newJobFixture(t, renderer, staticRobots{nil})

	attempt, err := job.Run(context.Background(), listing.ID)
	require.NoError(t, err)
	require.Equal(t, directory.CrawlSuccess, attempt.Status)
	require.Nil(t, attempt.RobotsAllowed)
}

func TestRunCrossHostRedirectFails(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{pages: map[string]RenderedPage{
		"https://smile.example/": {HTML: homepageHTML("Parked"), FinalURL: "https://parking.example/lander", HTTPStatus: 200},
	}}
	job, _, q, listing := newJobFixture(t, renderer, staticRobots{boolPtr(true)})

	attempt, err := job.Run(context.Background(), listing.ID)
	require.NoError(t, err)
	require.Equal(t, directory.CrawlHTTPError, attempt.Status)
	require.True(t, attempt.Signals.CrossHostRedirect)

	next, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Nil(t, next)
}

func TestRunHomepageErrorStatusMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		errs map[string]error
		page *RenderedPage
		want directory.CrawlStatus
	}{
		{
			name: "timeout",
			errs: map[string]error{"https://smile.example/": context.DeadlineExceeded},
			want: directory.CrawlTimeout,
		},
		{
			name: "render failure",
			errs: map[string]error{"https://smile.example/": fmt.Errorf("chromedp run: target crashed")},
			want: directory.CrawlUnknownError,
		},
		{
			name: "http error",
			page: &RenderedPage{HTML: "<html></html>", FinalURL: "https://smile.example/", HTTPStatus: 503},
			want: directory.CrawlHTTPError,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			renderer := &fakeRenderer{errs: tc.errs, pages: map[string]RenderedPage{}}
			if tc.page != nil {
				renderer.pages["https://smile.example/"] = *tc.page
			}
			job, _, _, listing := newJobFixture(t, renderer, staticRobots{boolPtr(true)})

			attempt, err := job.Run(context.Background(), listing.ID)
			require.NoError(t, err)
			require.Equal(t, tc.want, attempt.Status)
		})
	}
}

func TestRunUntitledHomepageNotVerified(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{pages: map[string]RenderedPage{
		"https://smile.example/": {HTML: "<html><body><p>no headings</p></body></html>", FinalURL: "https://smile.example/", HTTPStatus: 200},
	}}
	job, store, _, listing := newJobFixture(t, renderer, staticRobots{boolPtr(true)})

	attempt, err := job.Run(context.Background(), listing.ID)
	require.NoError(t, err)
	require.Equal(t, directory.CrawlSuccess, attempt.Status)

	got, err := store.Listings().Get(context.Background(), listing.ID)
	require.NoError(t, err)
	require.Equal(t, directory.VerificationFailed, got.VerificationStatus)
}

func TestRunSkipsDeletedListing(t *testing.T) {
	t.Parallel()

	job, store, _, listing := newJobFixture(t, &fakeRenderer{}, staticRobots{boolPtr(true)})
	require.NoError(t, store.Listings().SoftDeleteBatch(context.Background(),
		[]directory.ScrubEntry{{ListingID: listing.ID}}, time.Now().UTC(),
		func(directory.ScrubEntry) string { return "x" }))

	attempt, err := job.Run(context.Background(), listing.ID)
	require.NoError(t, err)
	require.Nil(t, attempt)
}

func approveListing(t *testing.T, store *memory.Store, id string) {
	t.Helper()
	ctx := context.Background()
	ok, err := store.Listings().UpdateStatusIf(ctx, id,
		directory.ModerationDraft, directory.ModerationPendingReview, directory.ModerationEvent{
			ListingID: id, Action: directory.ActionSubmitForReview,
			ActorType: directory.ActorAdmin, ActorName: "admin",
		})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.Listings().UpdateStatusIf(ctx, id,
		directory.ModerationPendingReview, directory.ModerationApproved, directory.ModerationEvent{
			ListingID: id, Action: directory.ActionApprove,
			ActorType: directory.ActorAdmin, ActorName: "admin",
		})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRunRobotsFiltersDisallowedPaths(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{pages: map[string]RenderedPage{
		"https://smile.example/":        {HTML: homepageHTML("Smile Dental"), FinalURL: "https://smile.example/", HTTPStatus: 200},
		"https://smile.example/contact": {HTML: "<html><body>hello@smile.example</body></html>", FinalURL: "https://smile.example/contact", HTTPStatus: 200},
	}}
	robots := &pathRobots{rules: map[string]bool{"/about": false, "/services": false}}
	job, _, _, listing := newJobFixture(t, renderer, robots)

	attempt, err := job.Run(context.Background(), listing.ID)
	require.NoError(t, err)
	require.Equal(t, directory.CrawlSuccess, attempt.Status)

	require.ElementsMatch(t, []string{"/", "/about", "/services", "/contact"}, robots.asked)
	require.ElementsMatch(t, []string{
		"https://smile.example/",
		"https://smile.example/contact",
	}, renderer.calls)
	for _, page := range attempt.Signals.Pages {
		require.NotContains(t, []string{"/about", "/services"}, page.Path)
	}
}

func TestRunHomepageDisallowedIsNotBlocked(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{pages: map[string]RenderedPage{
		"https://smile.example/about":    {HTML: "<html><body><h2>About</h2></body></html>", FinalURL: "https://smile.example/about", HTTPStatus: 200},
		"https://smile.example/services": {HTML: "<html><body></body></html>", FinalURL: "https://smile.example/services", HTTPStatus: 200},
		"https://smile.example/contact":  {HTML: "<html><body></body></html>", FinalURL: "https://smile.example/contact", HTTPStatus: 200},
	}}
	robots := &pathRobots{rules: map[string]bool{"/": false}}
	job, store, _, listing := newJobFixture(t, renderer, robots)

	attempt, err := job.Run(context.Background(), listing.ID)
	require.NoError(t, err)
	require.Equal(t, directory.CrawlSuccess, attempt.Status)
	require.NotNil(t, attempt.RobotsAllowed)
	require.False(t, *attempt.RobotsAllowed)
	require.NotContains(t, renderer.calls, "https://smile.example/")

	// No homepage signals, so the crawl cannot verify the listing.
	got, err := store.Listings().Get(context.Background(), listing.ID)
	require.NoError(t, err)
	require.Equal(t, directory.VerificationFailed, got.VerificationStatus)
}

func TestRunApprovedFailureFlagsAttention(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		errs     map[string]error
		page     *RenderedPage
		wantNote string
	}{
		{
			name:     "timeout",
			errs:     map[string]error{"https://smile.example/": context.DeadlineExceeded},
			wantNote: "crawl timed out",
		},
		{
			name:     "http error",
			page:     &RenderedPage{HTML: "<html></html>", FinalURL: "https://smile.example/", HTTPStatus: 503},
			wantNote: "homepage returned HTTP 503",
		},
		{
			name:     "cross-host redirect",
			page:     &RenderedPage{HTML: homepageHTML("Parked"), FinalURL: "https://parking.example/lander", HTTPStatus: 200},
			wantNote: "redirected to a different host",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			renderer := &fakeRenderer{errs: tc.errs, pages: map[string]RenderedPage{}}
			if tc.page != nil {
				renderer.pages["https://smile.example/"] = *tc.page
			}
			job, store, _, listing := newJobFixture(t, renderer, staticRobots{boolPtr(true)})
			approveListing(t, store, listing.ID)

			_, err := job.Run(context.Background(), listing.ID)
			require.NoError(t, err)

			got, err := store.Listings().Get(context.Background(), listing.ID)
			require.NoError(t, err)
			require.True(t, got.NeedsAttention)

			events := store.ListingEvents(listing.ID)
			last := events[len(events)-1]
			require.Equal(t, directory.ActionFlagAttention, last.Action)
			require.Equal(t, directory.ActorSystem, last.ActorType)
			require.Contains(t, last.Note, tc.wantNote)
		})
	}
}

func TestRunDraftFailureDoesNotFlagAttention(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{errs: map[string]error{"https://smile.example/": context.DeadlineExceeded}}
	job, store, _, listing := newJobFixture(t, renderer, staticRobots{boolPtr(true)})

	_, err := job.Run(context.Background(), listing.ID)
	require.NoError(t, err)

	got, err := store.Listings().Get(context.Background(), listing.ID)
	require.NoError(t, err)
	require.False(t, got.NeedsAttention)
	for _, ev := range store.ListingEvents(listing.ID) {
		require.NotEqual(t, directory.ActionFlagAttention, ev.Action)
	}
}

func TestRunApprovedChangedFingerprintEnqueuesSummaryRefresh(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{pages: map[string]RenderedPage{
		"https://smile.example/": {HTML: homepageHTML("Smile Dental"), FinalURL: "https://smile.example/", HTTPStatus: 200},
	}}
	job, store, q, listing := newJobFixture(t, renderer, staticRobots{boolPtr(true)})
	approveListing(t, store, listing.ID)
	require.NoError(t, store.Listings().RefreshSummary(context.Background(), listing.ID,
		"An earlier summary.", directory.ModerationEvent{
			ListingID: listing.ID, Action: directory.ActionRefreshSummary,
			ActorType: directory.ActorSystem, ActorName: "summary-refresh",
		}))
	_, err := store.Crawls().RecordOutcome(context.Background(), directory.CrawlOutcome{
		Attempt: directory.CrawlAttempt{
			ListingID:   listing.ID,
			StartedAt:   time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
			FinishedAt:  time.Date(2026, 8, 1, 12, 1, 0, 0, time.UTC),
			Status:      directory.CrawlSuccess,
			Fingerprint: "prior-content",
		},
		VerificationStatus: directory.VerificationVerified,
		Verified:           true,
	})
	require.NoError(t, err)

	attempt, err := job.Run(context.Background(), listing.ID)
	require.NoError(t, err)
	require.Equal(t, directory.CrawlSuccess, attempt.Status)
	require.NotEqual(t, "prior-content", attempt.Fingerprint)

	extractJob, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, queue.TypeExtractListing, extractJob.Type)

	refreshJob, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.NotNil(t, refreshJob)
	require.Equal(t, queue.TypeRefreshSummary, refreshJob.Type)
	require.Equal(t, queue.RefreshSummaryKey(listing.ID, attempt.ID), refreshJob.Key)
}

func TestRunApprovedMissingSummaryEnqueuesSummaryRefresh(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{pages: map[string]RenderedPage{
		"https://smile.example/": {HTML: homepageHTML("Smile Dental"), FinalURL: "https://smile.example/", HTTPStatus: 200},
	}}
	job, store, q, listing := newJobFixture(t, renderer, staticRobots{boolPtr(true)})
	approveListing(t, store, listing.ID)

	attempt, err := job.Run(context.Background(), listing.ID)
	require.NoError(t, err)
	require.Equal(t, directory.CrawlSuccess, attempt.Status)

	types := map[string]string{}
	for {
		next, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		if next == nil {
			break
		}
		types[next.Type] = next.Key
	}
	require.Equal(t, queue.RefreshSummaryKey(listing.ID, attempt.ID), types[queue.TypeRefreshSummary])
}

func TestRunUnchangedFingerprintSkipsSummaryRefresh(t *testing.T) {
	t.Parallel()

	job, store, q, listing := newJobFixture(t, &fakeRenderer{pages: map[string]RenderedPage{
		"https://smile.example/": {HTML: homepageHTML("Smile Dental"), FinalURL: "https://smile.example/", HTTPStatus: 200},
	}}, staticRobots{boolPtr(true)})
	approveListing(t, store, listing.ID)
	require.NoError(t, store.Listings().RefreshSummary(context.Background(), listing.ID,
		"An earlier summary.", directory.ModerationEvent{
			ListingID: listing.ID, Action: directory.ActionRefreshSummary,
			ActorType: directory.ActorSystem, ActorName: "summary-refresh",
		}))

	first, err := job.Run(context.Background(), listing.ID)
	require.NoError(t, err)

	// Drain the queue, then crawl again with identical content.
	for {
		next, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		if next == nil {
			break
		}
		require.NoError(t, q.Ack(context.Background(), next.ID))
	}

	second, err := job.Run(context.Background(), listing.ID)
	require.NoError(t, err)
	require.Equal(t, first.Fingerprint, second.Fingerprint)

	for {
		next, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		if next == nil {
			break
		}
		require.NotEqual(t, queue.TypeRefreshSummary, next.Type)
	}
}
