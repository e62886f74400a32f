// Package api exposes the admin HTTP interface: read-only listing
// inspection, moderation actions, and operational endpoints. There is no
// public surface here; the public site reads the database directly.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/localpages/dirworker/internal/directory"
	"github.com/localpages/dirworker/internal/metrics"
	"github.com/localpages/dirworker/internal/moderation"
	"github.com/localpages/dirworker/internal/queue"
)

const requestTimeout = 60 * time.Second

// Server wires HTTP handlers to the store and the moderation service.
type Server struct {
	router     chi.Router
	store      directory.Store
	queue      queue.Provider
	moderation *moderation.Service
	clock      directory.Clock
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	store directory.Store,
	q queue.Provider,
	mod *moderation.Service,
	clock directory.Clock,
	logger *zap.Logger,
) *Server {
	metrics.Init()
	s := &Server{
		store:      store,
		queue:      q,
		moderation: mod,
		clock:      clock,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(metrics.Middleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/listings/{listing_id}", func(r chi.Router) {
			r.Get("/", s.getListing)
			r.Get("/events", s.listEvents)
			r.Get("/reviews", s.listReviews)
			r.Get("/attempts/latest", s.latestAttempt)
			r.Post("/reverify", s.reverify)
			r.Post("/submit-for-review", s.submitForReview)
			r.Post("/approve", s.approve)
			r.Post("/reject", s.reject)
			r.Post("/unpublish", s.unpublish)
			r.Post("/opt-out", s.optOut)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}
