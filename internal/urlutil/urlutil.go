// Package urlutil normalizes website URLs and derives deduplication keys.
package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeWebsiteURL standardizes a candidate website URL. It requires an
// absolute http(s) URL, lowercases the scheme and host, strips default ports
// and fragments, and ensures a non-empty path.
func NormalizeWebsiteURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("missing host in %q", raw)
	}
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// RegistrableDomain returns the deduplication key for a website URL: the
// lowercased host as stored. The www prefix is kept so stored URLs stay
// resolvable exactly as discovered.
func RegistrableDomain(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	host := strings.ToLower(u.Host)
	if host == "" {
		return "", fmt.Errorf("missing host in %q", raw)
	}
	return host, nil
}

// SameHost reports whether two URLs share a host (case-insensitive).
func SameHost(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return strings.EqualFold(ua.Host, ub.Host)
}

// SameHostURL builds a URL on the same host as base with the given path,
// dropping query and fragment. Used to stay inside the verification boundary.
func SameHostURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = path
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
