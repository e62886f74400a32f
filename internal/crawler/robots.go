// Package crawler implements the verification crawl: robots policy, headless
// rendering of the fixed policy paths, and signal extraction. Raw page content
// never leaves this package; only derived signals are persisted.
package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// RobotsChecker answers whether a path may be crawled. The answer is
// tri-state: nil means no robots.txt could be retrieved, which is treated as
// unknown rather than either permission.
type RobotsChecker interface {
	Allowed(ctx context.Context, siteURL, path string) *bool
}

// Robots fetches and caches robots.txt per host.
type Robots struct {
	userAgent string
	client    *http.Client
	cache     sync.Map // host -> *robotstxt.RobotsData (nil entry = unavailable)
}

// NewRobots builds a checker with the given crawl identity and fetch timeout.
func NewRobots(userAgent string, timeout time.Duration) *Robots {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Robots{
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
	}
}

// Allowed implements RobotsChecker.
func (r *Robots) Allowed(ctx context.Context, siteURL, path string) *bool {
	u, err := url.Parse(siteURL)
	if err != nil || u.Host == "" {
		return nil
	}
	data := r.robotsFor(ctx, u)
	if data == nil {
		return nil
	}
	allowed := data.FindGroup(r.userAgent).Test(path)
	return &allowed
}

func (r *Robots) robotsFor(ctx context.Context, site *url.URL) *robotstxt.RobotsData {
	if cached, ok := r.cache.Load(site.Host); ok {
		data, _ := cached.(*robotstxt.RobotsData)
		return data
	}
	data := r.fetch(ctx, site)
	r.cache.Store(site.Host, data)
	return data
}

func (r *Robots) fetch(ctx context.Context, site *url.URL) *robotstxt.RobotsData {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", site.Scheme, site.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512<<10))
	if err != nil {
		return nil
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil
	}
	return data
}
