package directory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// fingerprintPage is the canonical per-page shape hashed into the content
// fingerprint. Final URLs and structured-data extras are excluded so the
// fingerprint tracks identifying content, not redirect noise.
type fingerprintPage struct {
	Path            string   `json:"path"`
	HTTPStatus      int      `json:"http_status"`
	Title           string   `json:"title"`
	H1              string   `json:"h1"`
	H2              []string `json:"h2"`
	MetaDescription string   `json:"meta_description"`
	HasEmail        bool     `json:"has_email"`
	HasPhone        bool     `json:"has_phone"`
}

type fingerprintInput struct {
	WebsiteDomain string            `json:"website_domain"`
	Pages         []fingerprintPage `json:"pages"`
}

// Fingerprint computes the deterministic content fingerprint over the
// structured signal bundle. It is used for change detection, never display.
func Fingerprint(websiteDomain string, bundle SignalBundle) string {
	in := fingerprintInput{WebsiteDomain: websiteDomain}
	for _, p := range bundle.Pages {
		h2 := p.H2
		if h2 == nil {
			h2 = []string{}
		}
		in.Pages = append(in.Pages, fingerprintPage{
			Path:            p.Path,
			HTTPStatus:      p.HTTPStatus,
			Title:           p.Title,
			H1:              p.H1,
			H2:              h2,
			MetaDescription: p.MetaDescription,
			HasEmail:        p.HasEmail,
			HasPhone:        p.HasPhone,
		})
	}
	raw, err := json.Marshal(in)
	if err != nil {
		// Marshal of plain structs cannot fail; keep the signature honest anyway.
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
