package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	braveEndpoint   = "https://api.search.brave.com/res/v1/web/search"
	braveMaxResults = 20
)

// Brave queries the Brave Web Search API.
type Brave struct {
	apiKey   string
	client   *http.Client
	endpoint string
}

// BraveOption customizes a Brave provider.
type BraveOption func(*Brave)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) BraveOption {
	return func(b *Brave) { b.client = c }
}

// WithEndpoint overrides the API endpoint, mainly for tests.
func WithEndpoint(u string) BraveOption {
	return func(b *Brave) { b.endpoint = u }
}

// NewBrave builds a Brave provider with a 15s request timeout.
func NewBrave(apiKey string, opts ...BraveOption) (*Brave, error) {
	if apiKey == "" {
		return nil, errors.New("brave api key required")
	}
	b := &Brave{
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 15 * time.Second},
		endpoint: braveEndpoint,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Name implements Provider.
func (b *Brave) Name() string { return "brave" }

type braveResponse struct {
	Web struct {
		Results []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Search implements Provider. Count is clamped to the API's 1..20 range.
func (b *Brave) Search(ctx context.Context, query string, count int) ([]Result, error) {
	if count < 1 {
		count = 1
	}
	if count > braveMaxResults {
		count = braveMaxResults
	}

	u, err := url.Parse(b.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse brave endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("count", strconv.Itoa(count))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build brave request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		typ := ErrorOther
		if errors.Is(err, context.DeadlineExceeded) {
			typ = ErrorTimeout
		}
		return nil, &Error{Provider: "brave", Type: typ, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Error{Provider: "brave", Type: ErrorOther, Status: resp.StatusCode, Retryable: true, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{
			Provider:       "brave",
			Type:           ErrorQuota,
			Status:         resp.StatusCode,
			Retryable:      true,
			PayloadExcerpt: Excerpt(string(body)),
		}
	case resp.StatusCode >= 500:
		return nil, &Error{
			Provider:       "brave",
			Type:           ErrorOther,
			Status:         resp.StatusCode,
			Retryable:      true,
			PayloadExcerpt: Excerpt(string(body)),
		}
	case resp.StatusCode != http.StatusOK:
		return nil, &Error{
			Provider:       "brave",
			Type:           ErrorOther,
			Status:         resp.StatusCode,
			Retryable:      false,
			PayloadExcerpt: Excerpt(string(body)),
		}
	}

	var parsed braveResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &Error{
			Provider:       "brave",
			Type:           ErrorParse,
			Status:         resp.StatusCode,
			Retryable:      false,
			PayloadExcerpt: Excerpt(string(body)),
			Err:            err,
		}
	}

	results := make([]Result, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		if r.URL == "" {
			continue
		}
		results = append(results, Result{URL: r.URL, Title: r.Title, Description: r.Description})
	}
	return results, nil
}
