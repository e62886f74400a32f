package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/localpages/dirworker/internal/directory"
)

type ledgerStore struct{ *Store }

func (s *ledgerStore) AppendAttempt(ctx context.Context, attempt directory.DiscoveryAttempt) (string, error) {
	if attempt.DecisionReason == "" {
		return "", fmt.Errorf("discovery attempt requires a decision reason")
	}
	if attempt.ID == "" {
		attempt.ID = s.ids.NewID()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = s.clock.Now()
	}
	taxonomy, err := json.Marshal(attempt.Taxonomy)
	if err != nil {
		return "", fmt.Errorf("marshal taxonomy evaluation: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO discovery_attempts (id, job_id, raw_city, raw_state, raw_country, raw_category,
	normalized_key, confidence, decision, decision_reason, taxonomy_rule, cap_rule,
	error_code, error_retryable, error_type, payload_excerpt, taxonomy, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		attempt.ID, attempt.JobID, attempt.RawCity, attempt.RawState, attempt.RawCountry, attempt.RawCategory,
		attempt.NormalizedKey, attempt.ConfidenceScore, attempt.Decision, attempt.DecisionReason,
		attempt.TaxonomyRuleID, attempt.CapRuleID, attempt.ErrorCode, attempt.ErrorRetryable,
		attempt.ErrorType, attempt.PayloadExcerpt, taxonomy, attempt.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("insert discovery attempt: %w", err)
	}
	return attempt.ID, nil
}

func (s *ledgerStore) RecordProviderCall(ctx context.Context, call directory.ProviderCall) error {
	if call.ID == "" {
		call.ID = s.ids.NewID()
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = s.clock.Now()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO provider_calls (id, job_id, provider, query, status, result_count,
	invalid_urls, blocked_domains, unique_domains, error_type, error_code,
	retryable, payload_excerpt, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		call.ID, call.JobID, call.Provider, call.Query, call.Status, call.ResultCount,
		call.InvalidURLs, call.BlockedDomains, call.UniqueDomains, call.ErrorType, call.ErrorCode,
		call.Retryable, call.PayloadExcerpt, call.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert provider call: %w", err)
	}
	return nil
}

func (s *ledgerStore) CountAttempts(ctx context.Context, jobID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM discovery_attempts WHERE job_id = $1`, jobID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count discovery attempts %s: %w", jobID, err)
	}
	return n, nil
}
