package discovery

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/localpages/dirworker/internal/directory"
)

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases and reduces to hyphen-separated alphanumerics.
func Slugify(s string) string {
	s = strings.ToLower(s)
	s = nonSlugChars.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// slugFromDomain derives a base slug from a website domain, dropping the
// leading www and the final TLD label.
func slugFromDomain(domain string) string {
	domain = strings.TrimPrefix(strings.ToLower(domain), "www.")
	if i := strings.LastIndex(domain, "."); i > 0 {
		domain = domain[:i]
	}
	slug := Slugify(domain)
	if slug == "" {
		slug = "listing"
	}
	return slug
}

// uniqueSlug appends a numeric suffix until the slug is free.
func uniqueSlug(ctx context.Context, listings directory.ListingStore, base string) (string, error) {
	slug := base
	for i := 2; ; i++ {
		taken, err := listings.SlugExists(ctx, slug)
		if err != nil {
			return "", fmt.Errorf("check slug availability: %w", err)
		}
		if !taken {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
}
