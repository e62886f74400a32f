// Package extract derives structured listing facts from crawl signals:
// display name, summary, taxonomy tags, and structured-data location fills.
package extract

import (
	"strings"
)

const maxDisplayNameLength = 140

// serviceKeywords are marketing and modality terms. A heading stuffed with
// them is a services list, not a business name.
var serviceKeywords = []string{
	"acupuncture",
	"massage",
	"therapy",
	"herbal",
	"medicine",
	"sound healing",
	"chiropractic",
	"yoga",
	"reiki",
	"services",
}

// looksLikeServiceList reports whether a heading reads as a list of offered
// services rather than a business name. Two or more separator glyphs is a
// strong signal on its own; otherwise three or more keyword hits decide.
func looksLikeServiceList(s string) bool {
	t := strings.TrimSpace(s)
	if t == "" {
		return false
	}
	if strings.Count(t, "·")+strings.Count(t, "•")+strings.Count(t, "|") >= 2 {
		return true
	}
	lower := strings.ToLower(t)
	hits := 0
	for _, k := range serviceKeywords {
		if strings.Contains(lower, k) {
			hits++
		}
	}
	return hits >= 3
}

// domainToName derives a presentable name from a website domain: the first
// label with www stripped, split on hyphens and underscores, title-cased.
func domainToName(websiteDomain string) string {
	base := strings.TrimPrefix(websiteDomain, "www.")
	if i := strings.Index(base, "."); i >= 0 {
		base = base[:i]
	}
	parts := strings.FieldsFunc(base, func(r rune) bool {
		return r == '-' || r == '_'
	})
	titled := make([]string, 0, len(parts))
	for _, p := range parts {
		titled = append(titled, strings.ToUpper(p[:1])+p[1:])
	}
	if name := strings.Join(titled, " "); name != "" {
		return name
	}
	return strings.TrimPrefix(websiteDomain, "www.")
}

// pickDisplayName chooses the best display name from homepage headings,
// falling back to the current name and finally to a domain-derived one.
// Headings that look like service lists never become names.
func pickDisplayName(h1, title, current, websiteDomain string) string {
	for _, c := range []string{strings.TrimSpace(h1), strings.TrimSpace(title)} {
		if c == "" {
			continue
		}
		c = truncate(c, maxDisplayNameLength)
		if looksLikeServiceList(c) {
			continue
		}
		return c
	}
	if current != "" && looksLikeServiceList(current) {
		return truncate(domainToName(websiteDomain), maxDisplayNameLength)
	}
	if current != "" {
		return truncate(current, maxDisplayNameLength)
	}
	return truncate(domainToName(websiteDomain), maxDisplayNameLength)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
