// Package aireview evaluates pending listings against directory policy with
// a language model and applies the conservative auto-approval gate. The
// model only ever sees extracted crawl metadata and listing fields; it never
// browses.
package aireview

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/localpages/dirworker/internal/directory"
)

// Review is the model's policy decision for one listing.
type Review struct {
	Verdict     directory.AIVerdict
	Confidence  float64
	Reasons     []string
	Flags       []string
	Model       string
	RawResponse string
}

// Reviewer produces a policy review from a bounded JSON payload.
type Reviewer interface {
	Review(ctx context.Context, payload string) (Review, error)
	Model() string
}

// Input is the full payload handed to the model: listing fields plus the
// crawl's signal bundle, bounded before serialization.
type Input struct {
	Listing InputListing `json:"listing"`
	Crawl   InputCrawl   `json:"crawl"`
}

type InputListing struct {
	DisplayName   string          `json:"displayName"`
	WebsiteDomain string          `json:"websiteDomain"`
	WebsiteURL    string          `json:"websiteUrl"`
	Summary       string          `json:"summary,omitempty"`
	Categories    []InputCategory `json:"categories"`
}

type InputCategory struct {
	Slug        string `json:"slug"`
	DisplayName string `json:"displayName"`
}

type InputCrawl struct {
	Status        directory.CrawlStatus `json:"status"`
	RobotsAllowed *bool                 `json:"robotsAllowed"`
	Pages         []InputPage           `json:"pages"`
}

type InputPage struct {
	Path            string   `json:"path"`
	FinalURL        string   `json:"finalUrl,omitempty"`
	HTTPStatus      int      `json:"httpStatus"`
	Title           string   `json:"title,omitempty"`
	H1              string   `json:"h1,omitempty"`
	H2              []string `json:"h2"`
	MetaDescription string   `json:"metaDescription,omitempty"`
	HasEmail        bool     `json:"hasEmail"`
	HasPhone        bool     `json:"hasPhone"`
}

const (
	maxPayloadPages   = 4
	maxPayloadH2s     = 8
	maxRawResponseLen = 4000
)

// BuildInput bounds the crawl signals to the payload budget: at most four
// pages with eight h2s each.
func BuildInput(listing directory.Listing, cats []directory.Category, attempt directory.CrawlAttempt) Input {
	in := Input{
		Listing: InputListing{
			DisplayName:   listing.DisplayName,
			WebsiteDomain: listing.WebsiteDomain,
			WebsiteURL:    listing.WebsiteURL,
			Summary:       listing.Summary,
			Categories:    make([]InputCategory, 0, len(cats)),
		},
		Crawl: InputCrawl{
			Status:        attempt.Status,
			RobotsAllowed: attempt.RobotsAllowed,
		},
	}
	for _, c := range cats {
		in.Listing.Categories = append(in.Listing.Categories, InputCategory{
			Slug: c.Slug, DisplayName: c.DisplayName,
		})
	}
	pages := attempt.Signals.Pages
	if len(pages) > maxPayloadPages {
		pages = pages[:maxPayloadPages]
	}
	for _, p := range pages {
		h2 := p.H2
		if len(h2) > maxPayloadH2s {
			h2 = h2[:maxPayloadH2s]
		}
		in.Crawl.Pages = append(in.Crawl.Pages, InputPage{
			Path:            p.Path,
			FinalURL:        p.FinalURL,
			HTTPStatus:      p.HTTPStatus,
			Title:           p.Title,
			H1:              p.H1,
			H2:              h2,
			MetaDescription: p.MetaDescription,
			HasEmail:        p.HasEmail,
			HasPhone:        p.HasPhone,
		})
	}
	return in
}

// parseReviewJSON decodes the model's output. The model is instructed to
// return bare JSON, but when it wraps the object in prose the first balanced
// brace block is extracted and parsed instead.
func parseReviewJSON(content string) (Review, error) {
	trimmed := strings.TrimSpace(content)

	var raw struct {
		Verdict    string   `json:"verdict"`
		Confidence float64  `json:"confidence"`
		Reasons    []string `json:"reasons"`
		Flags      []string `json:"flags"`
	}
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		start := strings.Index(trimmed, "{")
		end := strings.LastIndex(trimmed, "}")
		if start < 0 || end <= start {
			return Review{}, fmt.Errorf("model output was not JSON: %w", err)
		}
		if err := json.Unmarshal([]byte(trimmed[start:end+1]), &raw); err != nil {
			return Review{}, fmt.Errorf("model output was not JSON: %w", err)
		}
	}

	verdict := directory.VerdictFail
	if raw.Verdict == string(directory.VerdictPass) {
		verdict = directory.VerdictPass
	}
	return Review{
		Verdict:     verdict,
		Confidence:  clamp01(raw.Confidence),
		Reasons:     cleanStrings(raw.Reasons),
		Flags:       cleanStrings(raw.Flags),
		RawResponse: truncate(content, maxRawResponseLen),
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func cleanStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
