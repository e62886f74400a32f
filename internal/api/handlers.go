package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/localpages/dirworker/internal/directory"
	"github.com/localpages/dirworker/internal/moderation"
)

const (
	defaultEventLimit  = 50
	defaultReviewLimit = 20
)

type listingResponse struct {
	ID                 string     `json:"id"`
	Slug               string     `json:"slug"`
	DisplayName        string     `json:"display_name"`
	WebsiteURL         string     `json:"website_url"`
	WebsiteDomain      string     `json:"website_domain"`
	Summary            string     `json:"summary,omitempty"`
	ModerationStatus   string     `json:"moderation_status"`
	VerificationStatus string     `json:"verification_status"`
	NeedsAttention     bool       `json:"needs_attention"`
	AINeedsHumanReview bool       `json:"ai_needs_human_review"`
	ApprovalSource     string     `json:"approval_source,omitempty"`
	ApprovalConfidence float64    `json:"approval_confidence,omitempty"`
	PubliclyVisible    bool       `json:"publicly_visible"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	LastCrawledAt      *time.Time `json:"last_crawled_at,omitempty"`
	LastVerifiedAt     *time.Time `json:"last_verified_at,omitempty"`
	OptedOutAt         *time.Time `json:"opted_out_at,omitempty"`
	DeletedAt          *time.Time `json:"deleted_at,omitempty"`

	Location   *locationResponse `json:"location,omitempty"`
	Categories []string          `json:"categories,omitempty"`
}

type locationResponse struct {
	City     string   `json:"city"`
	State    string   `json:"state"`
	USPSCode string   `json:"usps_code"`
	Street   string   `json:"street,omitempty"`
	Postal   string   `json:"postal,omitempty"`
	Lat      *float64 `json:"lat,omitempty"`
	Lng      *float64 `json:"lng,omitempty"`
}

func (s *Server) getListing(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "listing_id")
	l, err := s.store.Listings().Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "listing not found")
		return
	}

	resp := listingResponse{
		ID:                 l.ID,
		Slug:               l.Slug,
		DisplayName:        l.DisplayName,
		WebsiteURL:         l.WebsiteURL,
		WebsiteDomain:      l.WebsiteDomain,
		Summary:            l.Summary,
		ModerationStatus:   string(l.ModerationStatus),
		VerificationStatus: string(l.VerificationStatus),
		NeedsAttention:     l.NeedsAttention,
		AINeedsHumanReview: l.AINeedsHumanReview,
		ApprovalSource:     string(l.ApprovalSource),
		ApprovalConfidence: l.ApprovalConfidence,
		PubliclyVisible:    l.PubliclyVisible(),
		CreatedAt:          l.CreatedAt,
		UpdatedAt:          l.UpdatedAt,
		LastCrawledAt:      l.LastCrawledAt,
		LastVerifiedAt:     l.LastVerifiedAt,
		OptedOutAt:         l.OptedOutAt,
		DeletedAt:          l.DeletedAt,
	}

	if loc, err := s.store.Geo().PrimaryLocation(r.Context(), id); err == nil && loc != nil {
		if city, state, err := s.store.Geo().CityWithState(r.Context(), loc.CityID); err == nil && city != nil && state != nil {
			resp.Location = &locationResponse{
				City:     city.Name,
				State:    state.Name,
				USPSCode: state.USPSCode,
				Street:   loc.Street,
				Postal:   loc.Postal,
				Lat:      loc.Lat,
				Lng:      loc.Lng,
			}
		}
	}
	if cats, err := s.store.Taxonomy().CategoriesForListing(r.Context(), id); err == nil {
		for _, c := range cats {
			resp.Categories = append(resp.Categories, c.Slug)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "listing_id")
	if _, err := s.store.Listings().Get(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, "listing not found")
		return
	}
	events, err := s.store.Events().ListForListing(r.Context(), id, limitParam(r, defaultEventLimit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) listReviews(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "listing_id")
	if _, err := s.store.Listings().Get(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, "listing not found")
		return
	}
	reviews, err := s.store.Reviews().ListReviews(r.Context(), id, limitParam(r, defaultReviewLimit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load reviews")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reviews": reviews})
}

func (s *Server) latestAttempt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "listing_id")
	if _, err := s.store.Listings().Get(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, "listing not found")
		return
	}
	attempt, err := s.store.Crawls().LatestAttempt(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load crawl attempt")
		return
	}
	if attempt == nil {
		writeError(w, http.StatusNotFound, "listing has no crawl attempts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempt": attempt})
}

func (s *Server) reverify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "listing_id")
	queued, err := s.moderation.Reverify(r.Context(), id)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	status := http.StatusAccepted
	if !queued {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"queued": queued})
}

func (s *Server) submitForReview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "listing_id")
	if err := s.moderation.SubmitForReview(r.Context(), id, actorName(r)); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(directory.ModerationPendingReview)})
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "listing_id")
	if err := s.moderation.Approve(r.Context(), id, actorName(r)); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(directory.ModerationApproved)})
}

type rejectRequest struct {
	ReasonCode string `json:"reason_code"`
	Note       string `json:"note"`
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "listing_id")
	var req rejectRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if err := s.moderation.Reject(r.Context(), id, actorName(r), req.ReasonCode, req.Note); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(directory.ModerationRejected)})
}

type unpublishRequest struct {
	Note string `json:"note"`
}

func (s *Server) unpublish(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "listing_id")
	var req unpublishRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if err := s.moderation.Unpublish(r.Context(), id, actorName(r), req.Note); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(directory.ModerationUnpublished)})
}

func (s *Server) optOut(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "listing_id")
	if err := s.moderation.OptOut(r.Context(), id, actorName(r)); err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(directory.ModerationOptedOut)})
}

// writeActionError maps moderation failures onto HTTP statuses: precondition
// violations are 409s with the operator-readable reason, missing listings 404.
func (s *Server) writeActionError(w http.ResponseWriter, err error) {
	var blocked *moderation.BlockedError
	if errors.As(err, &blocked) {
		writeError(w, http.StatusConflict, blocked.Reason)
		return
	}
	if strings.Contains(err.Error(), "not found") {
		writeError(w, http.StatusNotFound, "listing not found")
		return
	}
	s.logger.Error("moderation action failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func actorName(r *http.Request) string {
	if actor := strings.TrimSpace(r.Header.Get("X-Actor")); actor != "" {
		return actor
	}
	return "admin"
}

func limitParam(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
