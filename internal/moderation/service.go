// Package moderation implements the human-facing listing state machine.
// Every state change is a conditional update paired with exactly one
// moderation event in the same transaction.
package moderation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/localpages/dirworker/internal/directory"
	"github.com/localpages/dirworker/internal/queue"
)

// reverifyStaleDays bounds how often an admin-triggered re-verification is
// accepted for a listing that recently crawled clean.
const reverifyStaleDays = 14

// BlockedError reports a precondition failure with an operator-readable
// reason. The API layer maps it to a 409 instead of a 500.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string { return e.Reason }

func blocked(format string, args ...any) error {
	return &BlockedError{Reason: fmt.Sprintf(format, args...)}
}

// Service applies admin moderation actions.
type Service struct {
	store  directory.Store
	queue  queue.Provider
	clock  directory.Clock
	logger *zap.Logger
}

// NewService wires the moderation service.
func NewService(store directory.Store, q queue.Provider, clock directory.Clock, logger *zap.Logger) *Service {
	return &Service{store: store, queue: q, clock: clock, logger: logger}
}

// SubmitForReview moves a draft into the review queue.
func (s *Service) SubmitForReview(ctx context.Context, id, actorName string) error {
	ok, err := s.store.Listings().UpdateStatusIf(ctx, id,
		directory.ModerationDraft, directory.ModerationPendingReview, directory.ModerationEvent{
			Action:    directory.ActionSubmitForReview,
			ActorType: directory.ActorAdmin,
			ActorName: actorName,
			Note:      "Submitted for review",
		})
	if err != nil {
		return fmt.Errorf("submit for review %s: %w", id, err)
	}
	if !ok {
		l, err := s.store.Listings().Get(ctx, id)
		if err != nil {
			return err
		}
		return blocked("submit blocked: listing is not DRAFT (is %s)", l.ModerationStatus)
	}
	s.logger.Info("listing submitted for review", zap.String("listing_id", id))
	return nil
}

// Approve publishes a reviewed listing. Every gate reports its own reason so
// moderators see exactly what blocked the approval.
func (s *Service) Approve(ctx context.Context, id, actorName string) error {
	l, err := s.store.Listings().Get(ctx, id)
	if err != nil {
		return err
	}
	if l.DeletedAt != nil {
		return blocked("approval blocked: listing is deleted")
	}
	if l.OptedOutAt != nil {
		return blocked("approval blocked: listing is opted out")
	}
	if l.ModerationStatus != directory.ModerationPendingReview {
		return blocked("approval blocked: listing is not PENDING_REVIEW (is %s)", l.ModerationStatus)
	}
	if l.NeedsAttention {
		return blocked("approval blocked: listing is flagged for attention")
	}
	if l.VerificationStatus != directory.VerificationVerified {
		return blocked("approval blocked: verification status is not VERIFIED (is %s)", l.VerificationStatus)
	}

	latest, err := s.store.Crawls().LatestAttempt(ctx, id)
	if err != nil {
		return fmt.Errorf("load latest crawl for %s: %w", id, err)
	}
	if latest == nil || latest.Status != directory.CrawlSuccess {
		return blocked("approval blocked: latest crawl is not SUCCESS")
	}
	if latest.RobotsAllowed != nil && !*latest.RobotsAllowed {
		return blocked("approval blocked: robots.txt disallowed the latest crawl")
	}

	ok, err := s.store.Listings().UpdateStatusIf(ctx, id,
		directory.ModerationPendingReview, directory.ModerationApproved, directory.ModerationEvent{
			Action:    directory.ActionApprove,
			ActorType: directory.ActorAdmin,
			ActorName: actorName,
			Note:      "Approved",
		})
	if err != nil {
		return fmt.Errorf("approve %s: %w", id, err)
	}
	if !ok {
		return blocked("approval blocked: listing changed while approving, reload and retry")
	}
	s.logger.Info("listing approved", zap.String("listing_id", id), zap.String("actor", actorName))
	return nil
}

// Reject takes a listing out of the review queue with an audit reason.
func (s *Service) Reject(ctx context.Context, id, actorName, reasonCode, note string) error {
	l, err := s.store.Listings().Get(ctx, id)
	if err != nil {
		return err
	}
	if l.ModerationStatus == directory.ModerationRejected {
		return blocked("reject blocked: listing is already REJECTED")
	}
	ok, err := s.store.Listings().UpdateStatusIf(ctx, id,
		l.ModerationStatus, directory.ModerationRejected, directory.ModerationEvent{
			Action:     directory.ActionReject,
			ReasonCode: reasonCode,
			Note:       note,
			ActorType:  directory.ActorAdmin,
			ActorName:  actorName,
		})
	if err != nil {
		return fmt.Errorf("reject %s: %w", id, err)
	}
	if !ok {
		return blocked("reject blocked: listing changed while rejecting, reload and retry")
	}
	s.logger.Info("listing rejected", zap.String("listing_id", id), zap.String("reason_code", reasonCode))
	return nil
}

// Unpublish removes an approved listing from public view without deleting it.
func (s *Service) Unpublish(ctx context.Context, id, actorName, note string) error {
	l, err := s.store.Listings().Get(ctx, id)
	if err != nil {
		return err
	}
	if l.ModerationStatus == directory.ModerationUnpublished {
		return blocked("unpublish blocked: listing is already UNPUBLISHED")
	}
	if note == "" {
		note = "Unpublished"
	}
	ok, err := s.store.Listings().UpdateStatusIf(ctx, id,
		l.ModerationStatus, directory.ModerationUnpublished, directory.ModerationEvent{
			Action:    directory.ActionUnpublish,
			Note:      note,
			ActorType: directory.ActorAdmin,
			ActorName: actorName,
		})
	if err != nil {
		return fmt.Errorf("unpublish %s: %w", id, err)
	}
	if !ok {
		return blocked("unpublish blocked: listing changed while unpublishing, reload and retry")
	}
	s.logger.Info("listing unpublished", zap.String("listing_id", id))
	return nil
}

// OptOut honors an owner's removal request. It requires an open removal
// request on file; opt-out is never applied on an admin's initiative alone.
func (s *Service) OptOut(ctx context.Context, id, actorName string) error {
	l, err := s.store.Listings().Get(ctx, id)
	if err != nil {
		return err
	}
	if l.OptedOutAt != nil {
		return blocked("opt-out blocked: listing is already opted out")
	}
	pending, err := s.store.Reviews().PendingRemovalExists(ctx, id)
	if err != nil {
		return fmt.Errorf("check removal requests for %s: %w", id, err)
	}
	if !pending {
		return blocked("opt-out blocked: no pending removal request exists for this listing")
	}

	if err := s.store.Listings().SetOptedOut(ctx, id, s.clock.Now()); err != nil {
		return fmt.Errorf("set opted out %s: %w", id, err)
	}
	ok, err := s.store.Listings().UpdateStatusIf(ctx, id,
		l.ModerationStatus, directory.ModerationOptedOut, directory.ModerationEvent{
			Action:     directory.ActionOptOut,
			ReasonCode: "REQUESTED_REMOVAL",
			Note:       "Opted out (removal request accepted)",
			ActorType:  directory.ActorAdmin,
			ActorName:  actorName,
		})
	if err != nil {
		return fmt.Errorf("opt out %s: %w", id, err)
	}
	if !ok {
		return blocked("opt-out blocked: listing changed while opting out, reload and retry")
	}
	s.logger.Info("listing opted out", zap.String("listing_id", id))
	return nil
}

// Reverify enqueues a fresh verification crawl under the per-day key.
// Listings that crawled clean recently are skipped, reported via the
// returned bool rather than an error.
func (s *Service) Reverify(ctx context.Context, id string) (bool, error) {
	l, err := s.store.Listings().Get(ctx, id)
	if err != nil {
		return false, err
	}
	if l.DeletedAt != nil {
		return false, blocked("re-verify blocked: listing is deleted")
	}
	if l.OptedOutAt != nil {
		return false, blocked("re-verify blocked: listing is opted out")
	}

	now := s.clock.Now()
	cutoff := now.AddDate(0, 0, -reverifyStaleDays)
	stale := l.LastCrawledAt == nil || l.LastCrawledAt.Before(cutoff)
	failed := l.VerificationStatus == directory.VerificationFailed
	if !failed && !stale {
		return false, nil
	}

	if _, err := s.queue.Enqueue(ctx, queue.TypeCrawlListing,
		queue.CrawlKey(id, now), queue.CrawlPayload{ListingID: id}); err != nil {
		return false, fmt.Errorf("enqueue reverify crawl %s: %w", id, err)
	}
	s.logger.Info("reverify crawl enqueued", zap.String("listing_id", id))
	return true, nil
}
