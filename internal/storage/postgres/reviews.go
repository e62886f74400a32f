package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/localpages/dirworker/internal/directory"
)

type reviewStore struct{ *Store }

func (s *reviewStore) InsertReview(ctx context.Context, r directory.AIReview) error {
	if r.ID == "" {
		r.ID = s.ids.NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.clock.Now()
	}
	reasons, err := json.Marshal(r.Reasons)
	if err != nil {
		return fmt.Errorf("marshal review reasons: %w", err)
	}
	flags, err := json.Marshal(r.Flags)
	if err != nil {
		return fmt.Errorf("marshal review flags: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO ai_reviews (id, listing_id, crawl_attempt_id, verdict, confidence,
	reasons, flags, model_version, raw_response, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		r.ID, r.ListingID, nullable(r.CrawlAttemptID), r.Verdict, r.Confidence,
		reasons, flags, r.ModelVersion, r.RawResponse, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ai review: %w", err)
	}
	return nil
}

func (s *reviewStore) ListReviews(ctx context.Context, listingID string, limit int) ([]directory.AIReview, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, listing_id, COALESCE(crawl_attempt_id::text, ''), verdict, confidence,
	reasons, flags, model_version, raw_response, created_at
FROM ai_reviews
WHERE listing_id = $1 ORDER BY created_at DESC LIMIT $2`, listingID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ai reviews %s: %w", listingID, err)
	}
	defer rows.Close()

	var out []directory.AIReview
	for rows.Next() {
		var r directory.AIReview
		var reasons, flags []byte
		if err := rows.Scan(&r.ID, &r.ListingID, &r.CrawlAttemptID, &r.Verdict, &r.Confidence,
			&reasons, &flags, &r.ModelVersion, &r.RawResponse, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ai review: %w", err)
		}
		if len(reasons) > 0 {
			if err := json.Unmarshal(reasons, &r.Reasons); err != nil {
				return nil, fmt.Errorf("unmarshal review reasons: %w", err)
			}
		}
		if len(flags) > 0 {
			if err := json.Unmarshal(flags, &r.Flags); err != nil {
				return nil, fmt.Errorf("unmarshal review flags: %w", err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ai reviews: %w", err)
	}
	return out, nil
}

func (s *reviewStore) PendingRemovalExists(ctx context.Context, listingID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM removal_requests WHERE listing_id = $1 AND status = 'PENDING')`,
		listingID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending removal %s: %w", listingID, err)
	}
	return exists, nil
}

// nullable maps the empty string to NULL for optional UUID columns.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
