// Package discovery finds candidate business websites through search
// providers and materializes accepted domains as DRAFT listings. Every
// candidate surfaced by a provider leaves exactly one ledger row.
package discovery

import (
	"sort"
	"strings"
)

// Rule identifiers recorded on ledger rows.
const (
	RuleDomainBlocklist = "domain_blocklist_v1"
	RuleDailyIngestCap  = "daily_ingest_cap_v1"
	RuleTermAllowlist   = "term_allowlist_v1"
)

// Aggregators, social networks, and directories. Listing them would make the
// directory a directory of directories.
var blockedDomains = map[string]struct{}{
	"facebook.com":        {},
	"instagram.com":       {},
	"yelp.com":            {},
	"healthgrades.com":    {},
	"psychologytoday.com": {},
	"webmd.com":           {},
	"mapquest.com":        {},
	"linkedin.com":        {},
	"indeed.com":          {},
	"yellowpages.com":     {},
	"betterhelp.com":      {},
	"zocdoc.com":          {},
	"opencare.com":        {},
	"angieslist.com":      {},
}

// blocklistNegatives renders the blocklist as provider query negatives in a
// fixed order, so identical inputs always produce identical query strings.
func blocklistNegatives() string {
	domains := make([]string, 0, len(blockedDomains))
	for d := range blockedDomains {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	var sb strings.Builder
	for _, d := range domains {
		sb.WriteString(" -site:")
		sb.WriteString(d)
	}
	return sb.String()
}

// DomainBlocked reports whether the domain or any parent of it is on the
// blocklist, so subdomains of blocked sites are blocked too.
func DomainBlocked(domain string) bool {
	domain = strings.ToLower(strings.TrimPrefix(domain, "www."))
	for d := range blockedDomains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}
