package crawler

import (
	"encoding/json"
	"strconv"

	"github.com/PuerkitoBio/goquery"

	"github.com/localpages/dirworker/internal/directory"
)

// extractStructuredData walks every JSON-LD script on the page for geo
// coordinates and a postal address. Values are copied only when structured
// data states them explicitly; nothing is inferred.
func extractStructuredData(doc *goquery.Document) (*directory.GeoPoint, *directory.PostalAddress) {
	var geo *directory.GeoPoint
	var addr *directory.PostalAddress

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var payload any
		if err := json.Unmarshal([]byte(sel.Text()), &payload); err != nil {
			return true
		}
		walkJSONLD(payload, &geo, &addr)
		return geo == nil || addr == nil
	})

	return geo, addr
}

// walkJSONLD recurses through objects, arrays, and @graph containers.
func walkJSONLD(node any, geo **directory.GeoPoint, addr **directory.PostalAddress) {
	switch v := node.(type) {
	case []any:
		for _, item := range v {
			walkJSONLD(item, geo, addr)
		}
	case map[string]any:
		if *geo == nil {
			if g, ok := v["geo"].(map[string]any); ok {
				if point := parseGeo(g); point != nil {
					*geo = point
				}
			}
		}
		if *addr == nil {
			if a, ok := v["address"].(map[string]any); ok {
				if parsed := parseAddress(a); parsed != nil {
					*addr = parsed
				}
			}
		}
		if graph, ok := v["@graph"]; ok {
			walkJSONLD(graph, geo, addr)
		}
		for key, child := range v {
			if key == "geo" || key == "address" || key == "@graph" {
				continue
			}
			switch child.(type) {
			case map[string]any, []any:
				walkJSONLD(child, geo, addr)
			}
		}
	}
}

func parseGeo(g map[string]any) *directory.GeoPoint {
	lat, latOK := toFloat(g["latitude"])
	lng, lngOK := toFloat(g["longitude"])
	if !latOK || !lngOK {
		return nil
	}
	// Plausibility bounds; junk coordinates are dropped outright.
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil
	}
	return &directory.GeoPoint{Lat: lat, Lng: lng}
}

func parseAddress(a map[string]any) *directory.PostalAddress {
	addr := directory.PostalAddress{
		Street:   toString(a["streetAddress"]),
		Locality: toString(a["addressLocality"]),
		Region:   toString(a["addressRegion"]),
		Postal:   toString(a["postalCode"]),
	}
	if addr == (directory.PostalAddress{}) {
		return nil
	}
	return &addr
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}
