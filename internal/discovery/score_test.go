package discovery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScoreCandidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		url  string
		want float64
	}{
		{"root page", "https://calmtherapy.com/", 0.75},
		{"short path", "https://calmtherapy.com/home", 0.75},
		{"contact page", "https://calmtherapy.com/contact-us", 0.65},
		{"about page", "https://calmtherapy.com/about", 0.9},
		{"long generic path", "https://calmtherapy.com/locations/downtown", 0.5},
		{"blog post", "https://calmtherapy.com/blog/coping-skills", 0.25},
		{"top-n listicle", "https://site.com/top-10", 0.25},
		{"best-of listicle", "https://site.com/articles/best-therapists-2026", 0.25},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.InDelta(t, tc.want, scoreCandidate(tc.url), 1e-9)
		})
	}
}

func TestScoreCandidateClampsToUnitInterval(t *testing.T) {
	t.Parallel()

	score := scoreCandidate("https://site.com/about")
	require.GreaterOrEqual(t, score, 0.0)
	require.LessOrEqual(t, score, 1.0)
}

func TestRankCandidatesIsDeterministic(t *testing.T) {
	t.Parallel()

	build := func() []Candidate {
		return []Candidate{
			{Domain: "c.com", Provider: "brave", Confidence: 0.5},
			{Domain: "a.com", Provider: "brave", Confidence: 0.75},
			{Domain: "b.com", Provider: "other", Confidence: 0.5},
			{Domain: "d.com", Provider: "brave", Confidence: 0.5},
		}
	}

	first := build()
	rankCandidates(first)
	require.Equal(t, "a.com", first[0].Domain)

	// brave outranks an unknown provider at equal confidence
	require.Equal(t, "brave", first[1].Provider)
	require.Equal(t, "brave", first[2].Provider)
	require.Equal(t, "b.com", first[3].Domain)

	second := build()
	rankCandidates(second)
	require.Equal(t, first, second)
}
