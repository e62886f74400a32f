// Package queue provides the durable background job queue. Every job carries
// an idempotency key so retried producers cannot double-enqueue work.
package queue

import (
	"context"
	"encoding/json"
)

// Job type names. The type selects the worker handler; the payload carries
// handler-specific arguments.
const (
	TypeDiscoveryWave     = "discovery_wave"
	TypeDiscoverCityBatch = "discover_city_batch"
	TypeCrawlListing      = "crawl_listing"
	TypeExtractListing    = "extract_listing"
	TypeAIReview          = "ai_review_listing"
	TypeRefreshSummary    = "refresh_listing_summary"
	TypeRefreshApproved   = "refresh_approved_listings"
	TypeQualitySweep      = "quality_sweep"
	TypeScrubRetention    = "scrub_retention"
)

// Job is a unit of queued work.
type Job struct {
	ID      string
	Type    string
	Key     string
	Payload json.RawMessage
	Attempt int
}

// Provider is a durable job queue with keyed deduplication.
type Provider interface {
	// Enqueue adds a job unless one with the same idempotency key already
	// exists. It reports whether the job was actually inserted.
	Enqueue(ctx context.Context, jobType, key string, payload any) (bool, error)
	// Dequeue claims the oldest runnable job, or returns nil when the queue
	// is empty. A claimed job stays invisible until acked or nacked.
	Dequeue(ctx context.Context) (*Job, error)
	// Ack marks a claimed job as completed.
	Ack(ctx context.Context, id string) error
	// Nack returns a claimed job to the queue for retry, or marks it failed
	// once it has used up maxAttempts.
	Nack(ctx context.Context, id string, maxAttempts int) error
	// Close releases queue resources.
	Close()
}
