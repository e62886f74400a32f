package discovery

import (
	"hash/fnv"
	"net/url"
	"sort"
	"strings"
)

// Candidate is one provider result reduced to a unique domain.
type Candidate struct {
	URL           string
	NormalizedURL string
	Domain        string
	Title         string
	Description   string
	Provider      string
	Confidence    float64
}

// minConfidence is the floor below which a candidate is ledgered as
// skipped_low_confidence rather than materialized.
const minConfidence = 0.3

// providerPriority breaks ranking ties between providers. Higher wins.
var providerPriority = map[string]int{
	"brave": 1,
}

// stableHash is FNV-1a over the input, used wherever a deterministic
// pseudo-random ordering is needed.
func stableHash(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

// scoreCandidate assigns a confidence in [0,1] from URL shape alone. Root
// pages of dedicated sites score high; listicle-style content scores low.
func scoreCandidate(rawURL string) float64 {
	score := 0.5

	u, err := url.Parse(rawURL)
	if err != nil {
		return clamp01(score)
	}
	path := strings.ToLower(strings.TrimSuffix(u.Path, "/"))

	if path == "" || len(path) <= 6 {
		score += 0.25
	}
	if strings.Contains(path, "contact") || strings.Contains(path, "about") {
		score += 0.15
	}

	lowered := strings.ToLower(rawURL)
	if strings.Contains(lowered, "blog") ||
		strings.Contains(lowered, "top-") ||
		strings.Contains(lowered, "best-") {
		score -= 0.25
	}

	return clamp01(score)
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

// rankCandidates orders by confidence descending, then provider priority
// descending, then stable domain hash ascending so reruns rank identically.
func rankCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		pi, pj := providerPriority[candidates[i].Provider], providerPriority[candidates[j].Provider]
		if pi != pj {
			return pi > pj
		}
		return stableHash(candidates[i].Domain) < stableHash(candidates[j].Domain)
	})
}
