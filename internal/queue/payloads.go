package queue

import (
	"fmt"
	"time"
)

// Payloads carried by each job type. Field names match the JSON the producers
// write, so a stuck job can be read straight out of the jobs table.

// CrawlPayload targets one listing's verification crawl.
type CrawlPayload struct {
	ListingID string `json:"listingId"`
}

// ExtractPayload targets extraction over one successful crawl attempt.
type ExtractPayload struct {
	ListingID string `json:"listingId"`
	AttemptID string `json:"attemptId"`
}

// AIReviewPayload targets policy evaluation over one crawl attempt.
type AIReviewPayload struct {
	ListingID string `json:"listingId"`
	AttemptID string `json:"attemptId"`
}

// RefreshSummaryPayload regenerates one listing's summary.
type RefreshSummaryPayload struct {
	ListingID string `json:"listingId"`
	AttemptID string `json:"attemptId"`
}

// CityBatchPayload fans one discovery wave batch out over cities.
type CityBatchPayload struct {
	StateSlug  string   `json:"stateSlug"`
	CitySlugs  []string `json:"citySlugs"`
	BatchIndex int      `json:"batchIndex"`
}

// Idempotency key builders. Keys bound the blast radius of retried producers:
// one crawl per listing per day, one extraction per attempt, and so on.

// CrawlKey dedupes crawls per listing per UTC day.
func CrawlKey(listingID string, day time.Time) string {
	return fmt.Sprintf("crawl-%s-%s", listingID, day.UTC().Format("20060102"))
}

// ExtractKey dedupes extraction per crawl attempt.
func ExtractKey(attemptID string) string {
	return "extract-" + attemptID
}

// AIReviewKey dedupes policy evaluation per crawl attempt.
func AIReviewKey(attemptID string) string {
	return "ai-eval-" + attemptID
}

// RefreshSummaryKey dedupes summary refresh per listing and attempt.
func RefreshSummaryKey(listingID, attemptID string) string {
	return fmt.Sprintf("refresh-summary-%s-%s", listingID, attemptID)
}

// CityBatchKey dedupes one wave batch per state, UTC day, hour, and index.
func CityBatchKey(stateSlug string, at time.Time, batchIndex int) string {
	at = at.UTC()
	return fmt.Sprintf("discover-city-batch-%s-%s-h%02d-b%d",
		stateSlug, at.Format("20060102"), at.Hour(), batchIndex)
}
