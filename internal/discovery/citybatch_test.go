package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/localpages/dirworker/internal/config"
	"github.com/localpages/dirworker/internal/directory"
	"github.com/localpages/dirworker/internal/queue"
	"github.com/localpages/dirworker/internal/search"
	memstore "github.com/localpages/dirworker/internal/storage/memory"
)

type fakeProvider struct {
	results map[string][]search.Result
	errs    map[string]error
	queries []string
}

func (p *fakeProvider) Name() string { return "brave" }

func (p *fakeProvider) Search(_ context.Context, query string, _ int) ([]search.Result, error) {
	p.queries = append(p.queries, query)
	if err, ok := p.errs[query]; ok {
		return nil, err
	}
	return p.results[query], nil
}

func batchConfig() config.DiscoveryConfig {
	return config.DiscoveryConfig{
		MaxResultsPerQuery: 10,
		MaxDomainsPerCity:  20,
		MaxNewPerDay:       500,
	}
}

var therapistQuery = buildQuery(
	directory.Category{Slug: "therapist", DisplayName: "Therapist"},
	directory.City{Name: "San Francisco"},
	directory.State{Name: "California", USPSCode: "CA"},
)

// providerQueryCalls drops the per-city summary row so tests can assert on
// the per-query audit rows alone.
func providerQueryCalls(store *memstore.Store) []directory.ProviderCall {
	var out []directory.ProviderCall
	for _, c := range store.ProviderCalls() {
		if !strings.HasPrefix(c.Query, "city-summary:") {
			out = append(out, c)
		}
	}
	return out
}

func newBatchFixture(t *testing.T, cfg config.DiscoveryConfig, provider *fakeProvider) (*CityBatch, *memstore.Store, *queue.Memory) {
	t.Helper()
	store := newDiscoveryStore()
	store.SeedGeo(
		[]directory.State{{ID: "state-ca", Slug: "california", Name: "California", USPSCode: "CA"}},
		[]directory.City{{ID: "city-sf", StateID: "state-ca", Slug: "san-francisco", Name: "San Francisco"}},
	)
	store.SeedCategories(directory.Category{
		ID: "cat-therapist", Slug: "therapist", DisplayName: "Therapist", Active: true,
	})
	q := queue.NewMemory()
	return NewCityBatch(store, provider, q, fixedClock{now}, zap.NewNop(), cfg), store, q
}

func runBatch(t *testing.T, b *CityBatch) {
	t.Helper()
	require.NoError(t, b.Run(context.Background(), "job-1", queue.CityBatchPayload{
		StateSlug:  "california",
		CitySlugs:  []string{"san-francisco"},
		BatchIndex: 0,
	}))
}

func attemptsByDecision(store *memstore.Store) map[directory.DiscoveryDecision][]directory.DiscoveryAttempt {
	out := make(map[directory.DiscoveryDecision][]directory.DiscoveryAttempt)
	for _, a := range store.DiscoveryAttempts() {
		out[a.Decision] = append(out[a.Decision], a)
	}
	return out
}

func TestCityBatchAcceptsAndMaterializesCandidate(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{results: map[string][]search.Result{
		therapistQuery: {{
			URL:         "https://www.calmtherapy.com/",
			Title:       "Calm Therapy",
			Description: "Licensed therapist in San Francisco",
		}},
	}}
	b, store, q := newBatchFixture(t, batchConfig(), provider)
	runBatch(t, b)

	require.Equal(t, []string{therapistQuery}, provider.queries)
	require.Contains(t, therapistQuery, "-site:yelp.com")

	ctx := context.Background()
	listing, err := store.Listings().FindByDomain(ctx, "www.calmtherapy.com")
	require.NoError(t, err)
	require.NotNil(t, listing)
	require.Equal(t, directory.ModerationDraft, listing.ModerationStatus)
	require.Equal(t, "calmtherapy", listing.Slug)
	require.Equal(t, "Calm Therapy", listing.DisplayName)
	require.Equal(t, "https://www.calmtherapy.com/", listing.WebsiteURL)

	events := store.ListingEvents(listing.ID)
	require.Len(t, events, 1)
	require.Equal(t, directory.ActionDiscovered, events[0].Action)
	require.Equal(t, directory.ActorSystem, events[0].ActorType)

	cats, err := store.Taxonomy().CategoriesForListing(ctx, listing.ID)
	require.NoError(t, err)
	require.Len(t, cats, 1)
	require.Equal(t, "therapist", cats[0].Slug)

	loc, err := store.Geo().PrimaryLocation(ctx, listing.ID)
	require.NoError(t, err)
	require.NotNil(t, loc)

	attempts := store.DiscoveryAttempts()
	require.Len(t, attempts, 1)
	require.Equal(t, directory.DecisionAccepted, attempts[0].Decision)
	require.Equal(t, "www.calmtherapy.com", attempts[0].NormalizedKey)
	require.NotNil(t, attempts[0].ConfidenceScore)
	require.InDelta(t, 0.75, *attempts[0].ConfidenceScore, 1e-9)

	calls := providerQueryCalls(store)
	require.Len(t, calls, 1)
	require.Equal(t, directory.ProviderCallOK, calls[0].Status)
	require.Equal(t, 1, calls[0].UniqueDomains)
	require.Len(t, store.ProviderCalls(), 2) // per-query row plus city summary

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, queue.TypeCrawlListing, job.Type)
	require.Equal(t, queue.CrawlKey(listing.ID, now), job.Key)
}

func TestCityBatchLedgersBlockedDomainsAndCountsInvalid(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{results: map[string][]search.Result{
		therapistQuery: {
			{URL: "https://www.yelp.com/biz/someone"},
			{URL: "https://m.facebook.com/someone"},
			{URL: "https://m.facebook.com/someone-else"},
			{URL: "not a url at all ::"},
		},
	}}
	b, store, q := newBatchFixture(t, batchConfig(), provider)
	runBatch(t, b)

	require.Equal(t, 0, q.Depth())

	byDecision := attemptsByDecision(store)
	blocked := byDecision[directory.DecisionSkippedTaxonomy]
	require.Len(t, blocked, 2) // one row per unique blocked domain
	for _, a := range blocked {
		require.Equal(t, RuleDomainBlocklist, a.TaxonomyRuleID)
		require.Contains(t, a.DecisionReason, RuleDomainBlocklist)
	}
	require.Len(t, store.DiscoveryAttempts(), 2)

	calls := providerQueryCalls(store)
	require.Len(t, calls, 1)
	require.Equal(t, 3, calls[0].BlockedDomains)
	require.Equal(t, 1, calls[0].InvalidURLs)
	require.Equal(t, 0, calls[0].UniqueDomains)
}

func TestCityBatchSkipsDuplicateDomain(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{results: map[string][]search.Result{
		therapistQuery: {{URL: "https://calmtherapy.com/", Title: "Calm Therapy, therapist"}},
	}}
	b, store, q := newBatchFixture(t, batchConfig(), provider)

	_, err := store.Listings().CreateDraft(context.Background(), directory.Listing{
		Slug:          "calmtherapy",
		DisplayName:   "Calm Therapy",
		WebsiteDomain: "calmtherapy.com",
	}, directory.ModerationEvent{
		Action:    directory.ActionDiscovered,
		ActorType: directory.ActorSystem,
		ActorName: "discovery",
	})
	require.NoError(t, err)

	runBatch(t, b)

	byDecision := attemptsByDecision(store)
	require.Len(t, byDecision[directory.DecisionSkippedDuplicate], 1)
	require.Equal(t, 0, q.Depth())
}

func TestCityBatchSkipsWhenDailyCapReached(t *testing.T) {
	t.Parallel()

	cfg := batchConfig()
	cfg.MaxNewPerDay = 0
	provider := &fakeProvider{results: map[string][]search.Result{
		therapistQuery: {{URL: "https://calmtherapy.com/", Title: "Calm Therapy, therapist"}},
	}}
	b, store, q := newBatchFixture(t, cfg, provider)
	runBatch(t, b)

	byDecision := attemptsByDecision(store)
	capped := byDecision[directory.DecisionSkippedCap]
	require.Len(t, capped, 1)
	require.Equal(t, RuleDailyIngestCap, capped[0].CapRuleID)
	require.Equal(t, 0, q.Depth())
}

func TestCityBatchSkipsCandidateOutsideTaxonomy(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{results: map[string][]search.Result{
		therapistQuery: {{
			URL:         "https://joesplumbing.com/",
			Title:       "Joe's Plumbing",
			Description: "Drain cleaning and pipe repair",
		}},
	}}
	b, store, _ := newBatchFixture(t, batchConfig(), provider)
	runBatch(t, b)

	byDecision := attemptsByDecision(store)
	skipped := byDecision[directory.DecisionSkippedTaxonomy]
	require.Len(t, skipped, 1)
	require.Equal(t, RuleTermAllowlist, skipped[0].TaxonomyRuleID)
	require.False(t, skipped[0].Taxonomy.Pass)
}

func TestCityBatchSkipsLowConfidenceListicle(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{results: map[string][]search.Result{
		therapistQuery: {{
			URL:   "https://ranker.example.com/best-therapists-in-san-francisco-2026",
			Title: "Best Therapist Roundup",
		}},
	}}
	b, store, q := newBatchFixture(t, batchConfig(), provider)
	runBatch(t, b)

	byDecision := attemptsByDecision(store)
	require.Len(t, byDecision[directory.DecisionSkippedLowConfidence], 1)
	require.Equal(t, 0, q.Depth())
}

func TestCityBatchThrottlesBeyondPerCityLimit(t *testing.T) {
	t.Parallel()

	cfg := batchConfig()
	cfg.MaxDomainsPerCity = 2
	var results []search.Result
	for i := 0; i < 4; i++ {
		results = append(results, search.Result{
			URL:   fmt.Sprintf("https://therapy-%d.com/", i),
			Title: fmt.Sprintf("Therapist Office %d", i),
		})
	}
	provider := &fakeProvider{results: map[string][]search.Result{therapistQuery: results}}
	b, store, q := newBatchFixture(t, cfg, provider)
	runBatch(t, b)

	byDecision := attemptsByDecision(store)
	require.Len(t, byDecision[directory.DecisionAccepted], 2)
	require.Len(t, byDecision[directory.DecisionSkippedThrottle], 2)
	require.Equal(t, 2, q.Depth())
	require.Len(t, store.DiscoveryAttempts(), 4)
}

func TestCityBatchLedgersProviderFailure(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{errs: map[string]error{
		therapistQuery: &search.Error{
			Provider:  "brave",
			Type:      search.ErrorQuota,
			Status:    429,
			Retryable: true,
			Err:       errors.New("rate limited"),
		},
	}}
	b, store, _ := newBatchFixture(t, batchConfig(), provider)
	runBatch(t, b)

	attempts := store.DiscoveryAttempts()
	require.Len(t, attempts, 1)
	require.Equal(t, directory.DecisionProviderError, attempts[0].Decision)
	require.Equal(t, directory.ProviderErrQuota, attempts[0].ErrorType)
	require.NotNil(t, attempts[0].ErrorRetryable)
	require.True(t, *attempts[0].ErrorRetryable)

	calls := providerQueryCalls(store)
	require.Len(t, calls, 1)
	require.Equal(t, directory.ProviderCallError, calls[0].Status)
	require.Equal(t, "http_429", calls[0].ErrorCode)
}

func TestCityBatchDedupesDomainAcrossResults(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{results: map[string][]search.Result{
		therapistQuery: {
			{URL: "https://calmtherapy.com/blog/post", Title: "Calm Therapy, therapist"},
			{URL: "https://calmtherapy.com/", Title: "Calm Therapy, therapist"},
		},
	}}
	b, store, _ := newBatchFixture(t, batchConfig(), provider)
	runBatch(t, b)

	attempts := store.DiscoveryAttempts()
	require.Len(t, attempts, 1)
	// the higher-scoring variant of the domain wins
	require.InDelta(t, 0.75, *attempts[0].ConfidenceScore, 1e-9)

	calls := providerQueryCalls(store)
	require.Len(t, calls, 1)
	require.Equal(t, 1, calls[0].UniqueDomains)
}

func TestCityBatchFailsWhenNothingRan(t *testing.T) {
	t.Parallel()

	cfg := batchConfig()
	cfg.CategorySlugs = []string{"does-not-exist"}
	provider := &fakeProvider{}
	b, _, _ := newBatchFixture(t, cfg, provider)

	err := b.Run(context.Background(), "job-1", queue.CityBatchPayload{
		StateSlug: "california",
		CitySlugs: []string{"san-francisco"},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no provider calls")
}
