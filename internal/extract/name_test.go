package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLooksLikeServiceList(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		input string
		want  bool
	}{
		{"plain business name", "Calm Therapy", false},
		{"empty", "   ", false},
		{"two pipe separators", "Massage | Acupuncture | Cupping", true},
		{"two dot separators", "Yoga · Reiki · Breathwork", true},
		{"single separator", "Calm Therapy | San Francisco", false},
		{"three keyword hits", "Massage Therapy and Herbal Medicine", true},
		{"two keyword hits", "Massage Therapy Studio", false},
		{"keyword-stuffed sentence", "Acupuncture, chiropractic and yoga services", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, looksLikeServiceList(tc.input))
		})
	}
}

func TestDomainToName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Calmtherapy", domainToName("www.calmtherapy.com"))
	require.Equal(t, "Calm Therapy", domainToName("calm-therapy.com"))
	require.Equal(t, "Calm Therapy Sf", domainToName("calm_therapy-sf.co.uk"))
	require.Equal(t, "--.com", domainToName("www.--.com"))
}

func TestPickDisplayName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		h1      string
		title   string
		current string
		domain  string
		want    string
	}{
		{
			name: "h1 preferred over title",
			h1:   "Calm Therapy", title: "Calm Therapy | Home",
			current: "calmtherapy.com", domain: "calmtherapy.com",
			want: "Calm Therapy",
		},
		{
			name: "service-list h1 falls through to title",
			h1:   "Massage | Acupuncture | Cupping", title: "Calm Therapy",
			current: "old", domain: "calmtherapy.com",
			want: "Calm Therapy",
		},
		{
			name: "all headings rejected keeps current name",
			h1:   "Massage | Acupuncture | Cupping", title: "Yoga · Reiki · Breathwork",
			current: "Calm Therapy", domain: "calmtherapy.com",
			want: "Calm Therapy",
		},
		{
			name: "service-list current falls back to domain",
			h1:   "", title: "",
			current: "Massage Therapy and Herbal Medicine", domain: "calm-therapy.com",
			want: "Calm Therapy",
		},
		{
			name: "nothing available derives from domain",
			h1:   "", title: "",
			current: "", domain: "www.calm-therapy.com",
			want: "Calm Therapy",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, pickDisplayName(tc.h1, tc.title, tc.current, tc.domain))
		})
	}
}

func TestPickDisplayNameCapsLength(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 300)
	got := pickDisplayName(long, "", "", "x.com")
	require.Len(t, got, maxDisplayNameLength)
}
