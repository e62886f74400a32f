package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/localpages/dirworker/internal/directory"
)

type taxonomyStore struct{ *Store }

func collectCategories(rows pgx.Rows) ([]directory.Category, error) {
	defer rows.Close()
	var out []directory.Category
	for rows.Next() {
		var c directory.Category
		if err := rows.Scan(&c.ID, &c.Slug, &c.DisplayName, &c.Active); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return out, nil
}

func (s *taxonomyStore) ActiveCategories(ctx context.Context) ([]directory.Category, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, slug, display_name, active FROM categories WHERE active ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("list active categories: %w", err)
	}
	return collectCategories(rows)
}

func (s *taxonomyStore) ListingCategoryCount(ctx context.Context, listingID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM listing_categories WHERE listing_id = $1`, listingID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count listing categories %s: %w", listingID, err)
	}
	return n, nil
}

func (s *taxonomyStore) AttachCategories(ctx context.Context, listingID string, categoryIDs []string) error {
	if len(categoryIDs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin attach categories: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the listing row so concurrent attaches serialize.
	if _, err := tx.Exec(ctx,
		`SELECT 1 FROM listings WHERE id = $1 FOR UPDATE`, listingID); err != nil {
		return fmt.Errorf("lock listing %s: %w", listingID, err)
	}
	var n int
	if err := tx.QueryRow(ctx,
		`SELECT count(*) FROM listing_categories WHERE listing_id = $1`, listingID).Scan(&n); err != nil {
		return fmt.Errorf("count listing categories %s: %w", listingID, err)
	}
	if n > 0 {
		return nil
	}
	for _, categoryID := range categoryIDs {
		if _, err := tx.Exec(ctx, `
INSERT INTO listing_categories (listing_id, category_id)
VALUES ($1, $2) ON CONFLICT DO NOTHING`, listingID, categoryID); err != nil {
			return fmt.Errorf("attach category %s: %w", categoryID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit attach categories: %w", err)
	}
	return nil
}

func (s *taxonomyStore) CategoriesForListing(ctx context.Context, listingID string) ([]directory.Category, error) {
	rows, err := s.pool.Query(ctx, `
SELECT c.id, c.slug, c.display_name, c.active
FROM listing_categories lc
JOIN categories c ON c.id = lc.category_id
WHERE lc.listing_id = $1 ORDER BY c.slug`, listingID)
	if err != nil {
		return nil, fmt.Errorf("list listing categories %s: %w", listingID, err)
	}
	return collectCategories(rows)
}
