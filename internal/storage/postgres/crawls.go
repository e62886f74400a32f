package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/localpages/dirworker/internal/directory"
)

type crawlStore struct{ *Store }

const attemptColumns = `id, listing_id, target_url, started_at, finished_at,
status, http_status, robots_allowed, fingerprint, signals`

func scanAttempt(row pgx.Row) (directory.CrawlAttempt, error) {
	var a directory.CrawlAttempt
	var signals []byte
	err := row.Scan(
		&a.ID, &a.ListingID, &a.TargetURL, &a.StartedAt, &a.FinishedAt,
		&a.Status, &a.HTTPStatus, &a.RobotsAllowed, &a.Fingerprint, &signals,
	)
	if err != nil {
		return directory.CrawlAttempt{}, err
	}
	if len(signals) > 0 {
		if err := json.Unmarshal(signals, &a.Signals); err != nil {
			return directory.CrawlAttempt{}, fmt.Errorf("unmarshal signals: %w", err)
		}
	}
	return a, nil
}

func (s *crawlStore) RecordOutcome(ctx context.Context, outcome directory.CrawlOutcome) (directory.CrawlAttempt, error) {
	attempt := outcome.Attempt
	if attempt.ID == "" {
		attempt.ID = s.ids.NewID()
	}
	signals, err := json.Marshal(attempt.Signals)
	if err != nil {
		return directory.CrawlAttempt{}, fmt.Errorf("marshal signals: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return directory.CrawlAttempt{}, fmt.Errorf("begin record outcome: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
INSERT INTO crawl_attempts (id, listing_id, target_url, started_at, finished_at,
	status, http_status, robots_allowed, fingerprint, signals)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		attempt.ID, attempt.ListingID, attempt.TargetURL, attempt.StartedAt, attempt.FinishedAt,
		attempt.Status, attempt.HTTPStatus, attempt.RobotsAllowed, attempt.Fingerprint, signals)
	if err != nil {
		return directory.CrawlAttempt{}, fmt.Errorf("insert crawl attempt: %w", err)
	}

	if outcome.Verified {
		_, err = tx.Exec(ctx, `
UPDATE listings SET last_crawled_at = $2, verification_status = $3,
	last_verified_at = $2, updated_at = $4
WHERE id = $1`, attempt.ListingID, attempt.FinishedAt, outcome.VerificationStatus, s.clock.Now())
	} else {
		_, err = tx.Exec(ctx, `
UPDATE listings SET last_crawled_at = $2, verification_status = $3, updated_at = $4
WHERE id = $1`, attempt.ListingID, attempt.FinishedAt, outcome.VerificationStatus, s.clock.Now())
	}
	if err != nil {
		return directory.CrawlAttempt{}, fmt.Errorf("update listing crawl state: %w", err)
	}

	if outcome.AttentionNote != "" {
		_, err = tx.Exec(ctx,
			`UPDATE listings SET needs_attention = TRUE WHERE id = $1`, attempt.ListingID)
		if err != nil {
			return directory.CrawlAttempt{}, fmt.Errorf("set needs attention: %w", err)
		}
		ev := directory.ModerationEvent{
			ListingID: attempt.ListingID,
			Action:    directory.ActionFlagAttention,
			Note:      outcome.AttentionNote,
			ActorType: directory.ActorSystem,
			ActorName: "crawler",
		}
		if err := s.insertEvent(ctx, tx, ev); err != nil {
			return directory.CrawlAttempt{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return directory.CrawlAttempt{}, fmt.Errorf("commit record outcome: %w", err)
	}
	return attempt, nil
}

func (s *crawlStore) GetAttempt(ctx context.Context, id string) (directory.CrawlAttempt, error) {
	a, err := scanAttempt(s.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM crawl_attempts WHERE id = $1`, id))
	if err != nil {
		return directory.CrawlAttempt{}, fmt.Errorf("get crawl attempt %s: %w", id, err)
	}
	return a, nil
}

func (s *crawlStore) LatestAttempt(ctx context.Context, listingID string) (*directory.CrawlAttempt, error) {
	a, err := scanAttempt(s.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM crawl_attempts
WHERE listing_id = $1 ORDER BY finished_at DESC LIMIT 1`, listingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest crawl attempt %s: %w", listingID, err)
	}
	return &a, nil
}

func (s *crawlStore) LatestStatuses(ctx context.Context, listingID string, n int) ([]directory.CrawlStatus, error) {
	rows, err := s.pool.Query(ctx, `
SELECT status FROM crawl_attempts
WHERE listing_id = $1 ORDER BY finished_at DESC LIMIT $2`, listingID, n)
	if err != nil {
		return nil, fmt.Errorf("latest crawl statuses %s: %w", listingID, err)
	}
	defer rows.Close()

	var out []directory.CrawlStatus
	for rows.Next() {
		var st directory.CrawlStatus
		if err := rows.Scan(&st); err != nil {
			return nil, fmt.Errorf("scan crawl status: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crawl statuses: %w", err)
	}
	return out, nil
}

func (s *crawlStore) LatestSuccessFingerprints(ctx context.Context, listingID string, n int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
SELECT fingerprint FROM crawl_attempts
WHERE listing_id = $1 AND status = 'SUCCESS' AND fingerprint <> ''
ORDER BY finished_at DESC LIMIT $2`, listingID, n)
	if err != nil {
		return nil, fmt.Errorf("latest fingerprints %s: %w", listingID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		out = append(out, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fingerprints: %w", err)
	}
	return out, nil
}

func (s *crawlStore) HasPriorSuccess(ctx context.Context, listingID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM crawl_attempts WHERE listing_id = $1 AND status = 'SUCCESS')`,
		listingID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check prior success %s: %w", listingID, err)
	}
	return exists, nil
}
