package sweeps

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/localpages/dirworker/internal/directory"
	"github.com/localpages/dirworker/internal/queue"
)

func TestRefreshSelectsStaleAndFailedListings(t *testing.T) {
	t.Parallel()

	store := newStore()
	stale := seedApproved(t, store, "stale-site")
	recordCrawl(t, store, stale.ID, directory.CrawlSuccess, now.AddDate(0, 0, -1),
		directory.VerificationStale, false, "aaa")
	failed := seedApproved(t, store, "failed-site")
	recordCrawl(t, store, failed.ID, directory.CrawlTimeout, now.AddDate(0, 0, -1),
		directory.VerificationFailed, false, "")
	fresh := seedApproved(t, store, "fresh-site")
	recordCrawl(t, store, fresh.ID, directory.CrawlSuccess, now.Add(-time.Hour),
		directory.VerificationVerified, true, "bbb")

	q := queue.NewMemory()
	sweep := NewRefresh(store, q, fixedClock{now}, zap.NewNop(), sweepConfig())
	report, err := sweep.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Selected)
	require.Equal(t, 2, report.Enqueued)
	require.Equal(t, 0, report.MarkedStale)
	require.Equal(t, 2, q.Depth())

	wantKeys := map[string]bool{
		queue.CrawlKey(stale.ID, now):  true,
		queue.CrawlKey(failed.ID, now): true,
	}
	for i := 0; i < 2; i++ {
		job, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		require.NotNil(t, job)
		require.Equal(t, queue.TypeCrawlListing, job.Type)
		require.True(t, wantKeys[job.Key], "unexpected key %s", job.Key)
		delete(wantKeys, job.Key)
	}
}

func TestRefreshDemotesOverdueVerifiedListings(t *testing.T) {
	t.Parallel()

	store := newStore()
	l := seedApproved(t, store, "overdue-site")
	recordCrawl(t, store, l.ID, directory.CrawlSuccess, now.AddDate(0, 0, -40),
		directory.VerificationVerified, true, "aaa")

	q := queue.NewMemory()
	sweep := NewRefresh(store, q, fixedClock{now}, zap.NewNop(), sweepConfig())
	report, err := sweep.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Selected)
	require.Equal(t, 1, report.MarkedStale)
	require.Equal(t, 1, report.Enqueued)

	got, err := store.Listings().Get(context.Background(), l.ID)
	require.NoError(t, err)
	require.Equal(t, directory.VerificationStale, got.VerificationStatus)
}

func TestRefreshRerunSameDayEnqueuesNothing(t *testing.T) {
	t.Parallel()

	store := newStore()
	l := seedApproved(t, store, "overdue-site")
	recordCrawl(t, store, l.ID, directory.CrawlSuccess, now.AddDate(0, 0, -40),
		directory.VerificationVerified, true, "aaa")

	q := queue.NewMemory()
	sweep := NewRefresh(store, q, fixedClock{now}, zap.NewNop(), sweepConfig())

	first, err := sweep.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.Enqueued)

	second, err := sweep.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, second.Selected)
	require.Equal(t, 0, second.Enqueued)
	require.Equal(t, 1, q.Depth())
}

func TestRefreshHonorsMaxPerRun(t *testing.T) {
	t.Parallel()

	store := newStore()
	for _, slug := range []string{"one", "two", "three"} {
		l := seedApproved(t, store, slug)
		recordCrawl(t, store, l.ID, directory.CrawlTimeout, now.AddDate(0, 0, -1),
			directory.VerificationFailed, false, "")
	}

	cfg := sweepConfig()
	cfg.MaxRefreshPerRun = 2
	q := queue.NewMemory()
	sweep := NewRefresh(store, q, fixedClock{now}, zap.NewNop(), cfg)
	report, err := sweep.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Selected)
	require.Equal(t, 2, q.Depth())
}

func TestRefreshDemotesRecentlyCrawledWithOverdueVerification(t *testing.T) {
	t.Parallel()

	store := newStore()
	l := seedApproved(t, store, "quiet-site")
	recordCrawl(t, store, l.ID, directory.CrawlSuccess, now.AddDate(0, 0, -40),
		directory.VerificationVerified, true, "aaa")
	// A later crawl keeps the listing fresh by crawl age while its
	// verification stays 40 days old.
	recordCrawl(t, store, l.ID, directory.CrawlSuccess, now.Add(-time.Hour),
		directory.VerificationVerified, false, "aaa")

	q := queue.NewMemory()
	sweep := NewRefresh(store, q, fixedClock{now}, zap.NewNop(), sweepConfig())
	report, err := sweep.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.MarkedStale)
	require.Equal(t, 1, report.Selected)
	require.Equal(t, 1, report.Enqueued)

	got, err := store.Listings().Get(context.Background(), l.ID)
	require.NoError(t, err)
	require.Equal(t, directory.VerificationStale, got.VerificationStatus)
}
