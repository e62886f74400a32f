package crawler

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/localpages/dirworker/internal/directory"
)

const (
	maxHeadingLength  = 160
	maxH2Count        = 25
	maxBodyScanLength = 50000
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\(?\d{3}\)?[\s.\-]\d{3}[\s.\-]\d{4}`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// ExtractSignals derives PageSignals from rendered HTML. The HTML itself is
// scanned and discarded; only the derived fields are returned.
func ExtractSignals(path, html string) (directory.PageSignals, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return directory.PageSignals{}, err
	}

	signals := directory.PageSignals{Path: path, OK: true}

	signals.Title = capHeading(doc.Find("title").First().Text())
	signals.H1 = capHeading(doc.Find("h1").First().Text())

	doc.Find("h2").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if len(signals.H2) == maxH2Count {
			return false
		}
		if h2 := capHeading(sel.Text()); h2 != "" {
			signals.H2 = append(signals.H2, h2)
		}
		return true
	})

	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		signals.MetaDescription = capHeading(desc)
	}

	body := collapseSpace(doc.Find("body").Text())
	if len(body) > maxBodyScanLength {
		body = body[:maxBodyScanLength]
	}
	signals.HasEmail = emailPattern.MatchString(body)
	signals.HasPhone = phonePattern.MatchString(body)

	geo, addr := extractStructuredData(doc)
	signals.Geo = geo
	signals.Address = addr

	return signals, nil
}

func capHeading(s string) string {
	s = collapseSpace(s)
	if len(s) > maxHeadingLength {
		s = s[:maxHeadingLength]
	}
	return s
}

func collapseSpace(s string) string {
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}
