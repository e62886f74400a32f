package aireview

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/localpages/dirworker/internal/config"
	"github.com/localpages/dirworker/internal/directory"
	"github.com/localpages/dirworker/internal/metrics"
	"github.com/localpages/dirworker/internal/queue"
)

// Outcome reports how one evaluation routed the listing.
type Outcome struct {
	Verdict      directory.AIVerdict
	Confidence   float64
	AutoApproved bool
	NeedsHuman   bool
}

// Job evaluates one listing against policy and applies the auto-approval
// gate. The review row is persisted on every evaluation, approved or not.
type Job struct {
	store    directory.Store
	reviewer Reviewer
	logger   *zap.Logger
	cfg      config.AIConfig
}

// NewJob wires an evaluation job runner. A nil reviewer means evaluation is
// configured off: every run persists a FAIL review explaining why.
func NewJob(store directory.Store, reviewer Reviewer, logger *zap.Logger, cfg config.AIConfig) *Job {
	metrics.Init()
	return &Job{store: store, reviewer: reviewer, logger: logger, cfg: cfg}
}

// Run evaluates one (listing, crawl attempt) pair.
func (j *Job) Run(ctx context.Context, payload queue.AIReviewPayload) (Outcome, error) {
	listing, err := j.store.Listings().Get(ctx, payload.ListingID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load listing: %w", err)
	}
	attempt, err := j.store.Crawls().GetAttempt(ctx, payload.AttemptID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load crawl attempt: %w", err)
	}
	if attempt.ListingID != listing.ID {
		return Outcome{}, fmt.Errorf("crawl attempt %s does not belong to listing %s", attempt.ID, listing.ID)
	}

	cats, err := j.store.Taxonomy().CategoriesForListing(ctx, listing.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load listing categories: %w", err)
	}

	review, err := j.evaluate(ctx, listing, cats, attempt)
	if err != nil {
		return Outcome{}, err
	}

	if err := j.store.Reviews().InsertReview(ctx, directory.AIReview{
		ListingID:      listing.ID,
		CrawlAttemptID: attempt.ID,
		Verdict:        review.Verdict,
		Confidence:     review.Confidence,
		Reasons:        review.Reasons,
		Flags:          review.Flags,
		ModelVersion:   review.Model,
		RawResponse:    review.RawResponse,
	}); err != nil {
		return Outcome{}, fmt.Errorf("persist review: %w", err)
	}

	pendingRemoval, err := j.store.Reviews().PendingRemovalExists(ctx, listing.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("check removal requests: %w", err)
	}

	hardChecks := listing.ModerationStatus == directory.ModerationPendingReview &&
		listing.VerificationStatus == directory.VerificationVerified &&
		!listing.NeedsAttention &&
		listing.OptedOutAt == nil &&
		listing.DeletedAt == nil &&
		attempt.Status == directory.CrawlSuccess &&
		(attempt.RobotsAllowed == nil || *attempt.RobotsAllowed)

	wouldAutoApprove := j.cfg.Enabled &&
		j.cfg.AutoApprovalEnabled &&
		hardChecks &&
		!pendingRemoval &&
		review.Verdict == directory.VerdictPass &&
		review.Confidence >= j.cfg.MinAutoApprove &&
		len(review.Flags) == 0

	needsHuman := review.Verdict == directory.VerdictFail ||
		(j.cfg.AutoApprovalEnabled &&
			(pendingRemoval || review.Confidence < j.cfg.MinAutoApprove || len(review.Flags) > 0))

	if wouldAutoApprove {
		ok, err := j.store.Listings().ApproveAuto(ctx, listing.ID, review.Confidence, directory.ModerationEvent{
			Action:    directory.ActionAIAutoApproved,
			ActorType: directory.ActorSystem,
			ActorName: "AI",
			Note:      fmt.Sprintf("AI_AUTO_APPROVED (confidence=%.2f, model=%s)", review.Confidence, review.Model),
		})
		if err != nil {
			return Outcome{}, fmt.Errorf("auto approve: %w", err)
		}
		if !ok {
			// Preconditions changed between evaluation and write. The race
			// loser abandons quietly; whoever changed the state owns it now.
			j.logger.Info("auto-approval abandoned, listing state changed",
				zap.String("listing_id", listing.ID))
		}
		outcome := "held"
		if ok {
			outcome = "auto_approved"
		}
		metrics.ObserveAIReview(string(review.Verdict), outcome)
		return Outcome{
			Verdict:      review.Verdict,
			Confidence:   review.Confidence,
			AutoApproved: ok,
		}, nil
	}

	if err := j.store.Listings().SetAINeedsHumanReview(ctx, listing.ID, needsHuman); err != nil {
		return Outcome{}, fmt.Errorf("set human review flag: %w", err)
	}
	outcome := "held"
	if needsHuman {
		outcome = "needs_human"
	}
	metrics.ObserveAIReview(string(review.Verdict), outcome)
	return Outcome{
		Verdict:    review.Verdict,
		Confidence: review.Confidence,
		NeedsHuman: needsHuman,
	}, nil
}

// evaluate runs the model over the bounded payload, short-circuiting to a
// persisted FAIL when evaluation is off or the payload exceeds the input cap.
func (j *Job) evaluate(ctx context.Context, listing directory.Listing, cats []directory.Category, attempt directory.CrawlAttempt) (Review, error) {
	if !j.cfg.Enabled || j.reviewer == nil {
		return Review{
			Verdict:    directory.VerdictFail,
			Confidence: 0,
			Reasons:    []string{"AI review disabled or no provider configured."},
			Model:      "none",
		}, nil
	}

	input := BuildInput(listing, cats, attempt)
	raw, err := json.Marshal(input)
	if err != nil {
		return Review{}, fmt.Errorf("encode review payload: %w", err)
	}
	if len(raw) > j.cfg.MaxInputChars {
		return Review{
			Verdict:    directory.VerdictFail,
			Confidence: 0,
			Reasons:    []string{fmt.Sprintf("AI input too large (%d chars).", len(raw))},
			Flags:      []string{"input_too_large"},
			Model:      j.reviewer.Model(),
		}, nil
	}

	review, err := j.reviewer.Review(ctx, string(raw))
	if err != nil {
		return Review{}, fmt.Errorf("run review: %w", err)
	}
	return review, nil
}
