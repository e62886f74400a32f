package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/localpages/dirworker/internal/directory"
	"github.com/localpages/dirworker/internal/moderation"
	"github.com/localpages/dirworker/internal/queue"
	memstore "github.com/localpages/dirworker/internal/storage/memory"
)

var now = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct{ n atomic.Int64 }

func (g *seqIDs) NewID() string {
	return fmt.Sprintf("id-%04d", g.n.Add(1))
}

type fixture struct {
	store  *memstore.Store
	queue  *queue.Memory
	server *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New(fixedClock{now}, &seqIDs{})
	q := queue.NewMemory()
	svc := moderation.NewService(store, q, fixedClock{now}, zap.NewNop())
	return &fixture{
		store:  store,
		queue:  q,
		server: NewServer(store, q, svc, fixedClock{now}, zap.NewNop()),
	}
}

func (f *fixture) seedDraft(t *testing.T, slug string) directory.Listing {
	t.Helper()
	l, err := f.store.Listings().CreateDraft(context.Background(), directory.Listing{
		Slug:          slug,
		DisplayName:   slug,
		WebsiteURL:    "https://" + slug + ".com/",
		WebsiteDomain: slug + ".com",
	}, directory.ModerationEvent{
		Action:    directory.ActionDiscovered,
		ActorType: directory.ActorSystem,
		ActorName: "discovery",
	})
	require.NoError(t, err)
	return l
}

func (f *fixture) seedReviewable(t *testing.T, slug string) directory.Listing {
	t.Helper()
	l := f.seedDraft(t, slug)
	allowed := true
	_, err := f.store.Crawls().RecordOutcome(context.Background(), directory.CrawlOutcome{
		Attempt: directory.CrawlAttempt{
			ListingID:     l.ID,
			StartedAt:     now.Add(-time.Minute),
			FinishedAt:    now,
			Status:        directory.CrawlSuccess,
			RobotsAllowed: &allowed,
		},
		VerificationStatus: directory.VerificationVerified,
		Verified:           true,
	})
	require.NoError(t, err)
	ok, err := f.store.Listings().UpdateStatusIf(context.Background(), l.ID,
		directory.ModerationDraft, directory.ModerationPendingReview, directory.ModerationEvent{
			ListingID: l.ID,
			Action:    directory.ActionSubmitForReview,
			ActorType: directory.ActorAdmin,
			ActorName: "admin",
		})
	require.NoError(t, err)
	require.True(t, ok)
	got, err := f.store.Listings().Get(context.Background(), l.ID)
	require.NoError(t, err)
	return got
}

func (f *fixture) do(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGetListing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	l := f.seedDraft(t, "calmtherapy")

	rec := f.do(t, http.MethodGet, "/v1/listings/"+l.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	body := decodeBody(t, rec)
	require.Equal(t, l.ID, body["id"])
	require.Equal(t, "calmtherapy", body["slug"])
	require.Equal(t, "DRAFT", body["moderation_status"])
	require.Equal(t, "UNVERIFIED", body["verification_status"])
	require.Equal(t, false, body["publicly_visible"])
}

func TestGetListingNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/listings/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "listing not found", decodeBody(t, rec)["error"])
}

func TestListEvents(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	l := f.seedDraft(t, "calmtherapy")

	rec := f.do(t, http.MethodGet, "/v1/listings/"+l.ID+"/events", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	events, ok := body["events"].([]any)
	require.True(t, ok)
	require.Len(t, events, 1)
}

func TestLatestAttemptNotFoundWhenNeverCrawled(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	l := f.seedDraft(t, "calmtherapy")

	rec := f.do(t, http.MethodGet, "/v1/listings/"+l.ID+"/attempts/latest", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApprovePublishes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	l := f.seedReviewable(t, "calmtherapy")

	rec := f.do(t, http.MethodPost, "/v1/listings/"+l.ID+"/approve", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "APPROVED", decodeBody(t, rec)["status"])

	got, err := f.store.Listings().Get(context.Background(), l.ID)
	require.NoError(t, err)
	require.True(t, got.PubliclyVisible())
}

func TestApproveBlockedReturnsConflict(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	l := f.seedDraft(t, "calmtherapy")

	rec := f.do(t, http.MethodPost, "/v1/listings/"+l.ID+"/approve", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, decodeBody(t, rec)["error"], "not PENDING_REVIEW")
}

func TestRejectRecordsReason(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	l := f.seedReviewable(t, "calmtherapy")

	req := httptest.NewRequest(http.MethodPost, "/v1/listings/"+l.ID+"/reject",
		strings.NewReader(`{"reason_code":"OFF_TOPIC","note":"not a local business"}`))
	req.Header.Set("X-Actor", "reviewer-1")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	events := f.store.ListingEvents(l.ID)
	last := events[len(events)-1]
	require.Equal(t, directory.ActionReject, last.Action)
	require.Equal(t, "reviewer-1", last.ActorName)
	require.Equal(t, "OFF_TOPIC", last.ReasonCode)
	require.Equal(t, "not a local business", last.Note)
}

func TestReverifyQueuesCrawl(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	l := f.seedDraft(t, "calmtherapy")

	rec := f.do(t, http.MethodPost, "/v1/listings/"+l.ID+"/reverify", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, true, decodeBody(t, rec)["queued"])
	require.Equal(t, 1, f.queue.Depth())
}

func TestModerationActionOnMissingListing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/listings/nope/approve", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
