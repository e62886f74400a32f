package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/localpages/dirworker/internal/config"
	"github.com/localpages/dirworker/internal/directory"
	"github.com/localpages/dirworker/internal/metrics"
	"github.com/localpages/dirworker/internal/queue"
	"github.com/localpages/dirworker/internal/search"
	"github.com/localpages/dirworker/internal/urlutil"
)

// CityBatch works one discovery batch: it queries the search provider for
// every city and category, ledgers a decision for every unique candidate
// domain, and materializes the accepted ones as DRAFT listings.
type CityBatch struct {
	store    directory.Store
	provider search.Provider
	queue    queue.Provider
	clock    directory.Clock
	logger   *zap.Logger
	cfg      config.DiscoveryConfig
}

// NewCityBatch wires a city-batch runner.
func NewCityBatch(store directory.Store, provider search.Provider, q queue.Provider, clock directory.Clock, logger *zap.Logger, cfg config.DiscoveryConfig) *CityBatch {
	metrics.Init()
	return &CityBatch{store: store, provider: provider, queue: q, clock: clock, logger: logger, cfg: cfg}
}

// Run executes the batch identified by jobID. A run that makes zero provider
// calls and writes zero ledger rows is an error: silence means the batch
// never actually ran, not that nothing was found.
func (b *CityBatch) Run(ctx context.Context, jobID string, payload queue.CityBatchPayload) error {
	if b.provider == nil {
		return errors.New("discovery requires a search provider")
	}

	states, err := b.store.Geo().StatesBySlugs(ctx, []string{payload.StateSlug})
	if err != nil {
		return fmt.Errorf("load state %s: %w", payload.StateSlug, err)
	}
	if len(states) == 0 {
		return fmt.Errorf("unknown state slug %s", payload.StateSlug)
	}
	state := states[0]

	cities, err := b.store.Geo().CitiesBySlugs(ctx, state.ID, payload.CitySlugs)
	if err != nil {
		return fmt.Errorf("load batch cities: %w", err)
	}

	active, err := b.store.Taxonomy().ActiveCategories(ctx)
	if err != nil {
		return fmt.Errorf("load taxonomy: %w", err)
	}
	queryCats := b.queryCategories(active)

	providerCalls := 0
	attempts := 0
	accepted := 0

	for _, city := range cities {
		candidates, calls, ledgered, err := b.collectCity(ctx, jobID, city, state, queryCats)
		providerCalls += calls
		attempts += ledgered
		if err != nil {
			return err
		}

		n, err := b.decideCity(ctx, jobID, city, state, candidates, active, &accepted)
		attempts += n
		if err != nil {
			return err
		}
	}

	if providerCalls == 0 && attempts == 0 {
		return fmt.Errorf("discovery batch %s produced no provider calls and no ledger rows", jobID)
	}

	b.logger.Info("discovery batch finished",
		zap.String("job_id", jobID),
		zap.String("state", state.Slug),
		zap.Int("provider_calls", providerCalls),
		zap.Int("ledger_rows", attempts),
		zap.Int("accepted", accepted))
	return nil
}

func (b *CityBatch) queryCategories(active []directory.Category) []directory.Category {
	if len(b.cfg.CategorySlugs) == 0 {
		return active
	}
	want := make(map[string]bool, len(b.cfg.CategorySlugs))
	for _, slug := range b.cfg.CategorySlugs {
		want[slug] = true
	}
	out := make([]directory.Category, 0, len(b.cfg.CategorySlugs))
	for _, c := range active {
		if want[c.Slug] {
			out = append(out, c)
		}
	}
	return out
}

// buildQuery forms the deterministic provider query for one city and
// category. The trailing terms bias results toward practice sites, and the
// -site: negatives drop blocklisted domains at the provider.
func buildQuery(cat directory.Category, city directory.City, state directory.State) string {
	return fmt.Sprintf("%s %s %s clinic practice about contact site%s",
		cat.DisplayName, city.Name, state.USPSCode, blocklistNegatives())
}

// collectCity queries every category for one city, recording one provider
// call row per query plus a per-city summary row, one skipped_taxonomy
// ledger row per unique blocked domain, and one provider_error ledger row
// per failed query. It returns the deduplicated candidates.
func (b *CityBatch) collectCity(ctx context.Context, jobID string, city directory.City, state directory.State, queryCats []directory.Category) ([]Candidate, int, int, error) {
	byDomain := make(map[string]Candidate)
	blockedSeen := make(map[string]bool)
	var order []string
	calls, ledgered := 0, 0

	summary := directory.ProviderCall{
		JobID:    jobID,
		Provider: b.provider.Name(),
		Query:    "city-summary:" + city.Slug,
		Status:   directory.ProviderCallOK,
	}

	for _, cat := range queryCats {
		query := buildQuery(cat, city, state)
		results, err := b.provider.Search(ctx, query, b.cfg.MaxResultsPerQuery)
		calls++

		call := directory.ProviderCall{
			JobID:    jobID,
			Provider: b.provider.Name(),
			Query:    query,
		}

		if err != nil {
			b.recordProviderFailure(ctx, jobID, &call, city, state, cat, err)
			ledgered++
			continue
		}

		call.Status = directory.ProviderCallOK
		if len(results) == 0 {
			call.Status = directory.ProviderCallEmpty
		}
		call.ResultCount = len(results)

		for _, r := range results {
			normalized, err := urlutil.NormalizeWebsiteURL(r.URL)
			if err != nil {
				call.InvalidURLs++
				continue
			}
			domain, err := urlutil.RegistrableDomain(normalized)
			if err != nil {
				call.InvalidURLs++
				continue
			}
			if DomainBlocked(domain) {
				call.BlockedDomains++
				if !blockedSeen[domain] {
					blockedSeen[domain] = true
					b.ledgerBlocked(ctx, jobID, city, state, cat, domain)
					ledgered++
				}
				continue
			}
			cand := Candidate{
				URL:           r.URL,
				NormalizedURL: normalized,
				Domain:        domain,
				Title:         r.Title,
				Description:   r.Description,
				Provider:      b.provider.Name(),
				Confidence:    scoreCandidate(normalized),
			}
			existing, dup := byDomain[domain]
			if !dup {
				byDomain[domain] = cand
				order = append(order, domain)
				call.UniqueDomains++
			} else if cand.Confidence > existing.Confidence {
				byDomain[domain] = cand
			}
		}

		summary.ResultCount += call.ResultCount
		summary.InvalidURLs += call.InvalidURLs
		summary.BlockedDomains += call.BlockedDomains
		summary.UniqueDomains += call.UniqueDomains

		if rerr := b.store.Ledger().RecordProviderCall(ctx, call); rerr != nil {
			return nil, calls, ledgered, fmt.Errorf("record provider call: %w", rerr)
		}
		metrics.ObserveProviderCall(call.Provider, "success")
	}

	if calls > 0 {
		if err := b.store.Ledger().RecordProviderCall(ctx, summary); err != nil {
			return nil, calls, ledgered, fmt.Errorf("record city summary call: %w", err)
		}
	}

	out := make([]Candidate, 0, len(order))
	for _, domain := range order {
		out = append(out, byDomain[domain])
	}
	return out, calls, ledgered, nil
}

func (b *CityBatch) ledgerBlocked(ctx context.Context, jobID string, city directory.City, state directory.State, cat directory.Category, domain string) {
	_, err := b.store.Ledger().AppendAttempt(ctx, directory.DiscoveryAttempt{
		JobID:          jobID,
		RawCity:        city.Name,
		RawState:       state.Name,
		RawCountry:     "US",
		RawCategory:    cat.Slug,
		NormalizedKey:  domain,
		Decision:       directory.DecisionSkippedTaxonomy,
		DecisionReason: fmt.Sprintf("domain on blocklist (%s)", RuleDomainBlocklist),
		TaxonomyRuleID: RuleDomainBlocklist,
		Taxonomy: directory.TaxonomyEvaluation{
			InputCategory: domain,
			Pass:          false,
			RuleID:        RuleDomainBlocklist,
		},
	})
	if err != nil {
		b.logger.Error("ledger blocked domain", zap.Error(err))
	}
}

func (b *CityBatch) recordProviderFailure(ctx context.Context, jobID string, call *directory.ProviderCall, city directory.City, state directory.State, cat directory.Category, err error) {
	call.Status = directory.ProviderCallError
	errType := directory.ProviderErrOther
	var retryable *bool
	excerpt := ""

	var serr *search.Error
	if errors.As(err, &serr) {
		errType = directory.ProviderErrorType(serr.Type)
		r := serr.Retryable
		retryable = &r
		excerpt = serr.PayloadExcerpt
		call.ErrorCode = fmt.Sprintf("http_%d", serr.Status)
	}
	call.ErrorType = errType
	call.Retryable = retryable
	call.PayloadExcerpt = excerpt

	if rerr := b.store.Ledger().RecordProviderCall(ctx, *call); rerr != nil {
		b.logger.Error("record provider call", zap.Error(rerr))
	}
	metrics.ObserveProviderCall(call.Provider, "error")

	_, aerr := b.store.Ledger().AppendAttempt(ctx, directory.DiscoveryAttempt{
		JobID:          jobID,
		RawCity:        city.Name,
		RawState:       state.Name,
		RawCountry:     "US",
		RawCategory:    cat.Slug,
		Decision:       directory.DecisionProviderError,
		DecisionReason: fmt.Sprintf("provider %s failed: %v", call.Provider, err),
		ErrorCode:      call.ErrorCode,
		ErrorRetryable: retryable,
		ErrorType:      errType,
		PayloadExcerpt: excerpt,
	})
	if aerr != nil {
		b.logger.Error("ledger provider failure", zap.Error(aerr))
	}
}

// decideCity ranks one city's candidates and writes exactly one ledger row
// per candidate. Returns the number of rows written.
func (b *CityBatch) decideCity(ctx context.Context, jobID string, city directory.City, state directory.State, candidates []Candidate, active []directory.Category, accepted *int) (int, error) {
	rankCandidates(candidates)

	dayStart := b.clock.Now().UTC().Truncate(24 * time.Hour)
	acceptedInCity := 0
	rows := 0

	for _, cand := range candidates {
		attempt := directory.DiscoveryAttempt{
			JobID:         jobID,
			RawCity:       city.Name,
			RawState:      state.Name,
			RawCountry:    "US",
			NormalizedKey: cand.Domain,
		}
		conf := cand.Confidence
		attempt.ConfidenceScore = &conf

		existing, lookupErr := b.store.Listings().FindByDomain(ctx, cand.Domain)

		taxonomy := evaluateTaxonomy(cand, active)
		attempt.Taxonomy = taxonomy

		switch {
		case lookupErr != nil:
			b.logger.Error("duplicate domain lookup failed",
				zap.String("domain", cand.Domain), zap.Error(lookupErr))
			attempt.Decision = directory.DecisionProviderError
			attempt.DecisionReason = fmt.Sprintf("candidate not evaluated: %v", lookupErr)
			attempt.ErrorCode = "INTERNAL"

		case existing != nil:
			attempt.Decision = directory.DecisionSkippedDuplicate
			attempt.DecisionReason = "domain already listed"

		case b.dailyCapReached(ctx, dayStart):
			attempt.Decision = directory.DecisionSkippedCap
			attempt.DecisionReason = "daily ingest cap reached"
			attempt.CapRuleID = RuleDailyIngestCap

		case !taxonomy.Pass:
			attempt.Decision = directory.DecisionSkippedTaxonomy
			attempt.DecisionReason = "no active taxonomy term matched"
			attempt.TaxonomyRuleID = RuleTermAllowlist

		case cand.Confidence < minConfidence:
			attempt.Decision = directory.DecisionSkippedLowConfidence
			attempt.DecisionReason = fmt.Sprintf("confidence %.2f below %.2f floor", cand.Confidence, minConfidence)

		case acceptedInCity >= b.cfg.MaxDomainsPerCity:
			attempt.Decision = directory.DecisionSkippedThrottle
			attempt.DecisionReason = "ranked below per-city domain throttle"

		default:
			listing, err := b.materialize(ctx, cand, city, taxonomy, active)
			if err != nil {
				// An accepted candidate that fails to materialize is an
				// internal inconsistency, ledgered for operator attention
				// without aborting the rest of the batch.
				b.logger.Error("materialize candidate failed",
					zap.String("domain", cand.Domain), zap.Error(err))
				attempt.Decision = directory.DecisionProviderError
				attempt.DecisionReason = fmt.Sprintf("accepted but not materialized: %v", err)
				attempt.ErrorCode = "INTERNAL"
				break
			}
			attempt.Decision = directory.DecisionAccepted
			attempt.DecisionReason = fmt.Sprintf("new domain accepted as listing %s", listing.ID)
			acceptedInCity++
			*accepted++
		}

		if _, err := b.store.Ledger().AppendAttempt(ctx, attempt); err != nil {
			return rows, fmt.Errorf("ledger discovery attempt: %w", err)
		}
		metrics.ObserveDiscoveryDecision(string(attempt.Decision))
		rows++
	}
	return rows, nil
}

func (b *CityBatch) dailyCapReached(ctx context.Context, dayStart time.Time) bool {
	n, err := b.store.Listings().CountDraftsCreatedSince(ctx, dayStart)
	if err != nil {
		b.logger.Error("count daily drafts", zap.Error(err))
		// Fail closed: when the cap cannot be checked, treat it as reached.
		return true
	}
	return n >= b.cfg.MaxNewPerDay
}

// evaluateTaxonomy matches candidate text against the controlled taxonomy.
// The pipeline only attaches categories that already exist.
func evaluateTaxonomy(cand Candidate, active []directory.Category) directory.TaxonomyEvaluation {
	text := strings.ToLower(cand.Title + " " + cand.Description + " " + cand.Domain)
	eval := directory.TaxonomyEvaluation{
		InputCategory: cand.Domain,
		RuleID:        RuleTermAllowlist,
	}
	for _, cat := range active {
		term := strings.ToLower(cat.DisplayName)
		if term != "" && strings.Contains(text, term) {
			eval.MatchedCategories = append(eval.MatchedCategories, cat.Slug)
			continue
		}
		if slugTerm := strings.ReplaceAll(cat.Slug, "-", " "); strings.Contains(text, slugTerm) {
			eval.MatchedCategories = append(eval.MatchedCategories, cat.Slug)
		}
	}
	eval.Pass = len(eval.MatchedCategories) > 0
	return eval
}

const maxCategoriesPerListing = 10

func (b *CityBatch) materialize(ctx context.Context, cand Candidate, city directory.City, taxonomy directory.TaxonomyEvaluation, active []directory.Category) (directory.Listing, error) {
	base := slugFromDomain(cand.Domain)
	slug, err := uniqueSlug(ctx, b.store.Listings(), base)
	if err != nil {
		return directory.Listing{}, err
	}

	displayName := strings.TrimSpace(cand.Title)
	if displayName == "" {
		displayName = cand.Domain
	}

	listing, err := b.store.Listings().CreateDraft(ctx, directory.Listing{
		Slug:          slug,
		DisplayName:   displayName,
		WebsiteURL:    cand.NormalizedURL,
		WebsiteDomain: cand.Domain,
	}, directory.ModerationEvent{
		Action:    directory.ActionDiscovered,
		ActorType: directory.ActorSystem,
		ActorName: "discovery",
		Note:      fmt.Sprintf("provider %s, city %s", cand.Provider, city.Name),
	})
	if err != nil {
		return directory.Listing{}, fmt.Errorf("create draft listing: %w", err)
	}

	ids := make([]string, 0, len(taxonomy.MatchedCategories))
	for _, slug := range taxonomy.MatchedCategories {
		if len(ids) == maxCategoriesPerListing {
			break
		}
		for _, cat := range active {
			if cat.Slug == slug {
				ids = append(ids, cat.ID)
				break
			}
		}
	}
	if err := b.store.Taxonomy().AttachCategories(ctx, listing.ID, ids); err != nil {
		return directory.Listing{}, fmt.Errorf("attach categories: %w", err)
	}

	if err := b.store.Geo().CreatePrimaryLocation(ctx, listing.ID, city.ID); err != nil {
		return directory.Listing{}, fmt.Errorf("create primary location: %w", err)
	}

	_, err = b.queue.Enqueue(ctx, queue.TypeCrawlListing,
		queue.CrawlKey(listing.ID, b.clock.Now()),
		queue.CrawlPayload{ListingID: listing.ID})
	if err != nil {
		return directory.Listing{}, fmt.Errorf("enqueue verification crawl: %w", err)
	}
	return listing, nil
}
