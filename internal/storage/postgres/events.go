package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/localpages/dirworker/internal/directory"
)

type eventStore struct{ *Store }

func (s *eventStore) Append(ctx context.Context, ev directory.ModerationEvent) error {
	if ev.ID == "" {
		ev.ID = s.ids.NewID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.clock.Now()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO moderation_events (id, listing_id, action, reason_code, note, actor_type, actor_name, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		ev.ID, ev.ListingID, ev.Action, ev.ReasonCode, ev.Note, ev.ActorType, ev.ActorName, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append moderation event: %w", err)
	}
	return nil
}

func (s *eventStore) ListForListing(ctx context.Context, listingID string, limit int) ([]directory.ModerationEvent, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, listing_id, action, reason_code, note, actor_type, actor_name, created_at
FROM moderation_events
WHERE listing_id = $1 ORDER BY created_at DESC LIMIT $2`, listingID, limit)
	if err != nil {
		return nil, fmt.Errorf("list moderation events %s: %w", listingID, err)
	}
	defer rows.Close()

	var out []directory.ModerationEvent
	for rows.Next() {
		var ev directory.ModerationEvent
		if err := rows.Scan(&ev.ID, &ev.ListingID, &ev.Action, &ev.ReasonCode,
			&ev.Note, &ev.ActorType, &ev.ActorName, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan moderation event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate moderation events: %w", err)
	}
	return out, nil
}

func (s *eventStore) LatestEventAt(ctx context.Context, listingID string, action directory.ModerationAction) (*time.Time, error) {
	var at time.Time
	err := s.pool.QueryRow(ctx, `
SELECT created_at FROM moderation_events
WHERE listing_id = $1 AND action = $2
ORDER BY created_at DESC LIMIT 1`, listingID, action).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest event %s/%s: %w", listingID, action, err)
	}
	return &at, nil
}

func (s *eventStore) RecentSystemFlagExists(ctx context.Context, listingID string, after time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS (
	SELECT 1 FROM moderation_events
	WHERE listing_id = $1 AND action = 'FLAG_ATTENTION' AND actor_type = 'SYSTEM' AND created_at > $2
)`, listingID, after).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check recent system flag %s: %w", listingID, err)
	}
	return exists, nil
}

func (s *eventStore) HumanSummaryEditExists(ctx context.Context, listingID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS (
	SELECT 1 FROM moderation_events
	WHERE listing_id = $1 AND action = 'REFRESH_SUMMARY' AND actor_type <> 'SYSTEM'
)`, listingID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check human summary edit %s: %w", listingID, err)
	}
	return exists, nil
}
