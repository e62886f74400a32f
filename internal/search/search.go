// Package search defines the web-search provider abstraction used by
// discovery, plus a typed error model so callers can classify failures.
package search

import (
	"context"
	"fmt"
)

// Result is a single organic web result.
type Result struct {
	URL         string
	Title       string
	Description string
}

// Provider issues web-search queries on behalf of discovery.
type Provider interface {
	// Name identifies the provider in ledger rows, e.g. "brave".
	Name() string
	// Search returns up to count organic results for the query.
	Search(ctx context.Context, query string, count int) ([]Result, error)
}

// ErrorType classifies provider failures for the discovery ledger.
type ErrorType string

const (
	ErrorTimeout   ErrorType = "timeout"
	ErrorQuota     ErrorType = "quota"
	ErrorParse     ErrorType = "parse"
	ErrorMalformed ErrorType = "malformed"
	ErrorOther     ErrorType = "other"
)

// Error is a classified provider failure. PayloadExcerpt carries up to the
// first 500 characters of the offending response body for diagnostics.
type Error struct {
	Provider       string
	Type           ErrorType
	Status         int
	Retryable      bool
	PayloadExcerpt string
	Err            error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("search %s: %s (status %d): %v", e.Provider, e.Type, e.Status, e.Err)
	}
	return fmt.Sprintf("search %s: %s (status %d)", e.Provider, e.Type, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// Excerpt truncates a payload for storage in ledger rows.
func Excerpt(body string) string {
	const max = 500
	if len(body) > max {
		return body[:max]
	}
	return body
}
