package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/localpages/dirworker/internal/directory"
)

type listingStore struct{ *Store }

const listingColumns = `id, slug, display_name, website_url, website_domain, summary,
moderation_status, verification_status, needs_attention, ai_needs_human_review,
approval_source, approval_confidence, created_at, updated_at,
last_crawled_at, last_verified_at, opted_out_at, deleted_at`

func scanListing(row pgx.Row) (directory.Listing, error) {
	var l directory.Listing
	err := row.Scan(
		&l.ID, &l.Slug, &l.DisplayName, &l.WebsiteURL, &l.WebsiteDomain, &l.Summary,
		&l.ModerationStatus, &l.VerificationStatus, &l.NeedsAttention, &l.AINeedsHumanReview,
		&l.ApprovalSource, &l.ApprovalConfidence, &l.CreatedAt, &l.UpdatedAt,
		&l.LastCrawledAt, &l.LastVerifiedAt, &l.OptedOutAt, &l.DeletedAt,
	)
	return l, err
}

func collectListings(rows pgx.Rows) ([]directory.Listing, error) {
	defer rows.Close()
	var out []directory.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings: %w", err)
	}
	return out, nil
}

func (s *listingStore) Get(ctx context.Context, id string) (directory.Listing, error) {
	l, err := scanListing(s.pool.QueryRow(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1`, id))
	if err != nil {
		return directory.Listing{}, fmt.Errorf("get listing %s: %w", id, err)
	}
	return l, nil
}

func (s *listingStore) FindByDomain(ctx context.Context, domain string) (*directory.Listing, error) {
	l, err := scanListing(s.pool.QueryRow(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE website_domain = $1 AND deleted_at IS NULL LIMIT 1`, domain))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find listing by domain %s: %w", domain, err)
	}
	return &l, nil
}

func (s *listingStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM listings WHERE slug = $1)`, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check slug %s: %w", slug, err)
	}
	return exists, nil
}

func (s *listingStore) CreateDraft(ctx context.Context, l directory.Listing, provenance directory.ModerationEvent) (directory.Listing, error) {
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return directory.Listing{}, fmt.Errorf("begin create draft: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
INSERT INTO listings (id, slug, display_name, website_url, website_domain, summary,
	moderation_status, verification_status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		l.ID, l.Slug, l.DisplayName, l.WebsiteURL, l.WebsiteDomain, l.Summary,
		l.ModerationStatus, l.VerificationStatus, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return directory.Listing{}, fmt.Errorf("insert listing: %w", err)
	}

	provenance.ListingID = l.ID
	if err := s.insertEvent(ctx, tx, provenance); err != nil {
		return directory.Listing{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return directory.Listing{}, fmt.Errorf("commit create draft: %w", err)
	}
	return l, nil
}

func (s *listingStore) CountDraftsCreatedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM listings WHERE created_at >= $1`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count drafts since %s: %w", since, err)
	}
	return n, nil
}

func (s *listingStore) UpdateExtract(ctx context.Context, id, displayName, summary string, moveToPending bool) error {
	_, err := s.pool.Exec(ctx, `
UPDATE listings SET
	display_name = CASE WHEN $2 <> '' THEN $2 ELSE display_name END,
	summary = CASE WHEN summary = '' AND $3 <> '' THEN $3 ELSE summary END,
	moderation_status = CASE WHEN $4 AND moderation_status = 'DRAFT' THEN 'PENDING_REVIEW' ELSE moderation_status END,
	updated_at = $5
WHERE id = $1`, id, displayName, summary, moveToPending, s.clock.Now())
	if err != nil {
		return fmt.Errorf("update extract %s: %w", id, err)
	}
	return nil
}

func (s *listingStore) ApproveAuto(ctx context.Context, id string, confidence float64, event directory.ModerationEvent) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin auto approval: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
UPDATE listings SET
	moderation_status = 'APPROVED',
	approval_source = 'AI',
	approval_confidence = $2,
	updated_at = $3
WHERE id = $1
  AND moderation_status = 'PENDING_REVIEW'
  AND verification_status = 'VERIFIED'
  AND needs_attention = FALSE
  AND opted_out_at IS NULL
  AND deleted_at IS NULL`, id, confidence, s.clock.Now())
	if err != nil {
		return false, fmt.Errorf("auto approve %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	event.ListingID = id
	if err := s.insertEvent(ctx, tx, event); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit auto approval: %w", err)
	}
	return true, nil
}

func (s *listingStore) UpdateStatusIf(ctx context.Context, id string, from, to directory.ModerationStatus, event directory.ModerationEvent) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
UPDATE listings SET moderation_status = $3, updated_at = $4
WHERE id = $1 AND moderation_status = $2`, id, from, to, s.clock.Now())
	if err != nil {
		return false, fmt.Errorf("update status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	event.ListingID = id
	if err := s.insertEvent(ctx, tx, event); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit status update: %w", err)
	}
	return true, nil
}

func (s *listingStore) SetAINeedsHumanReview(ctx context.Context, id string, v bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE listings SET ai_needs_human_review = $2, updated_at = $3 WHERE id = $1`,
		id, v, s.clock.Now())
	if err != nil {
		return fmt.Errorf("set ai review flag %s: %w", id, err)
	}
	return nil
}

func (s *listingStore) FlagAttention(ctx context.Context, id string, event directory.ModerationEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin flag attention: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE listings SET needs_attention = TRUE, updated_at = $2 WHERE id = $1`,
		id, s.clock.Now())
	if err != nil {
		return fmt.Errorf("flag attention %s: %w", id, err)
	}

	event.ListingID = id
	if err := s.insertEvent(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit flag attention: %w", err)
	}
	return nil
}

func (s *listingStore) RefreshSummary(ctx context.Context, id, summary string, event directory.ModerationEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin refresh summary: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE listings SET summary = $2, updated_at = $3 WHERE id = $1`,
		id, summary, s.clock.Now())
	if err != nil {
		return fmt.Errorf("refresh summary %s: %w", id, err)
	}

	event.ListingID = id
	if err := s.insertEvent(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit refresh summary: %w", err)
	}
	return nil
}

func (s *listingStore) MarkStale(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE listings SET verification_status = 'STALE', updated_at = $3
WHERE id = $1 AND verification_status = 'VERIFIED' AND last_verified_at < $2`,
		id, cutoff, s.clock.Now())
	if err != nil {
		return false, fmt.Errorf("mark stale %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *listingStore) SetOptedOut(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE listings SET opted_out_at = $2, updated_at = $3 WHERE id = $1`,
		id, at, s.clock.Now())
	if err != nil {
		return fmt.Errorf("set opted out %s: %w", id, err)
	}
	return nil
}

func (s *listingStore) SoftDeleteBatch(ctx context.Context, entries []directory.ScrubEntry, at time.Time, note func(directory.ScrubEntry) string) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin scrub batch: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		tag, err := tx.Exec(ctx,
			`UPDATE listings SET deleted_at = $2, updated_at = $3 WHERE id = $1 AND deleted_at IS NULL`,
			e.ListingID, at, s.clock.Now())
		if err != nil {
			return fmt.Errorf("soft delete %s: %w", e.ListingID, err)
		}
		if tag.RowsAffected() == 0 {
			continue
		}
		ev := directory.ModerationEvent{
			ListingID: e.ListingID,
			Action:    directory.ActionScrubDelete,
			Note:      note(e),
			ActorType: directory.ActorSystem,
			ActorName: "retention-scrub",
		}
		if err := s.insertEvent(ctx, tx, ev); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit scrub batch: %w", err)
	}
	return nil
}

func (s *listingStore) ListQualityCandidates(ctx context.Context, limit int) ([]directory.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+listingColumns+` FROM listings
WHERE deleted_at IS NULL
ORDER BY updated_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list quality candidates: %w", err)
	}
	return collectListings(rows)
}

func (s *listingStore) ListRefreshCandidates(ctx context.Context, refreshCutoff time.Time, limit int) ([]directory.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+listingColumns+` FROM listings
WHERE moderation_status = 'APPROVED'
  AND deleted_at IS NULL
  AND opted_out_at IS NULL
  AND (verification_status IN ('STALE', 'FAILED')
       OR last_crawled_at IS NULL OR last_crawled_at < $1)
ORDER BY updated_at ASC LIMIT $2`, refreshCutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list refresh candidates: %w", err)
	}
	return collectListings(rows)
}

func (s *listingStore) ListSummaryCandidates(ctx context.Context, onlyID string, limit int) ([]directory.Listing, error) {
	if onlyID != "" {
		l, err := s.Get(ctx, onlyID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, nil
			}
			return nil, err
		}
		return []directory.Listing{l}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+listingColumns+` FROM listings
WHERE deleted_at IS NULL
  AND opted_out_at IS NULL
  AND moderation_status IN ('APPROVED', 'PENDING_REVIEW')
  AND btrim(summary) = ''
ORDER BY updated_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list summary candidates: %w", err)
	}
	return collectListings(rows)
}

func (s *listingStore) ListScrubCandidates(ctx context.Context, limit int) ([]directory.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+listingColumns+` FROM listings
WHERE deleted_at IS NULL
  AND moderation_status IN ('REJECTED', 'UNPUBLISHED', 'OPTED_OUT', 'DRAFT', 'PENDING_REVIEW')
ORDER BY updated_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list scrub candidates: %w", err)
	}
	return collectListings(rows)
}

func (s *listingStore) ListOverdueVerified(ctx context.Context, cutoff time.Time, limit int) ([]directory.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+listingColumns+` FROM listings
WHERE deleted_at IS NULL
  AND verification_status = 'VERIFIED'
  AND last_verified_at < $1
ORDER BY updated_at ASC LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list overdue verified: %w", err)
	}
	return collectListings(rows)
}
