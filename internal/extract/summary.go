package extract

import (
	"fmt"
	"strings"

	"github.com/localpages/dirworker/internal/directory"
)

// neutralSummary builds the templated summary used when a listing has none.
// Informational only: no claims, no endorsements, no prose copied from the
// crawled site.
func neutralSummary(displayName, websiteDomain string) string {
	return fmt.Sprintf(
		"%s is a local practice with information available on its website (%s). Visit the site for current details.",
		displayName, websiteDomain)
}

// combineSignals flattens every crawled page's headings into one lowercased
// text blob for substring taxonomy matching.
func combineSignals(bundle directory.SignalBundle) string {
	var parts []string
	for _, p := range bundle.Pages {
		if p.Title != "" {
			parts = append(parts, p.Title)
		}
		if p.H1 != "" {
			parts = append(parts, p.H1)
		}
		parts = append(parts, p.H2...)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// matchCategories returns ids of active categories whose slug or display
// name appears in the signal text, capped at the per-listing tag limit.
func matchCategories(signalText string, active []directory.Category) []string {
	var ids []string
	for _, cat := range active {
		if len(ids) == maxCategoriesPerListing {
			break
		}
		slug := strings.ToLower(cat.Slug)
		name := strings.ToLower(cat.DisplayName)
		if strings.Contains(signalText, slug) || (name != "" && strings.Contains(signalText, name)) {
			ids = append(ids, cat.ID)
		}
	}
	return ids
}

const maxCategoriesPerListing = 10
