// Package server exposes the floor-price API client over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/NPFdevops/nft-floor-compare/pkg/client"
	"github.com/NPFdevops/nft-floor-compare/pkg/logging"
	"github.com/NPFdevops/nft-floor-compare/pkg/metrics"
	"github.com/NPFdevops/nft-floor-compare/pkg/nftapi"
	"github.com/NPFdevops/nft-floor-compare/pkg/ratelimit"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/rs/zerolog"
)

const maxDays = 3650

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Class string `json:"class,omitempty"`
}

// Server holds the HTTP handlers.
type Server struct {
	api    *nftapi.Client
	logger zerolog.Logger
}

// New returns the HTTP handler serving api.
func New(api *nftapi.Client) http.Handler {
	s := &Server{
		api:    api,
		logger: logging.NewLogger("http"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/collections/{slug}/history", s.history)
		r.Get("/collections/{slug}/floor", s.floor)
		r.Get("/collections/{slug}", s.details)
		r.Get("/search", s.search)
		r.Get("/compare", s.compare)
		r.Get("/cache/stats", s.stats)
		r.Delete("/cache", s.clearCache)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	st := s.api.Orchestrator().Stats(r.Context())
	render.JSON(w, r, map[string]any{
		"status":           "ok",
		"can_make_request": st.RateLimit.CanMakeRequest,
		"queue_size":       st.RateLimit.QueueSize,
	})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	days, ok := s.days(w, r)
	if !ok {
		return
	}
	h, err := s.api.FloorPriceHistory(r.Context(), chi.URLParam(r, "slug"), days)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{
		"slug":            h.Slug,
		"collection_name": h.CollectionName,
		"days":            days,
		"points":          h.Points(),
	})
}

func (s *Server) floor(w http.ResponseWriter, r *http.Request) {
	f, err := s.api.CurrentFloorPrice(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, f)
}

func (s *Server) details(w http.ResponseWriter, r *http.Request) {
	d, err := s.api.CollectionDetails(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, d)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	res, err := s.api.SearchCollections(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

func (s *Server) compare(w http.ResponseWriter, r *http.Request) {
	days, ok := s.days(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	cmp, err := s.api.Compare(r.Context(), q.Get("a"), q.Get("b"), days)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, cmp)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.api.Orchestrator().Stats(r.Context()))
}

// clearCache empties both tiers; ?queue=true also rejects queued requests.
func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	floor := s.api.Orchestrator()
	floor.Clear(r.Context())

	rejected := 0
	if r.URL.Query().Get("queue") == "true" {
		rejected = floor.ClearQueue()
	}
	render.JSON(w, r, map[string]any{
		"cleared":           true,
		"rejected_requests": rejected,
	})
}

// days parses the optional days parameter; 0 lets the API pick its default.
func (s *Server) days(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return 0, true
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 || days > maxDays {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "days must be an integer between 1 and 3650"})
		return 0, false
	}
	return days, true
}

// fail maps an API error to a status code.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, class := StatusFor(err)

	if status >= http.StatusInternalServerError {
		s.logger.Warn().
			Err(err).
			Str("path", r.URL.Path).
			Int("status_code", status).
			Msg("Request failed")
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: err.Error(), Class: class})
}

// StatusFor returns the HTTP status and error class for an API error:
// invalid input is 400, a full queue 503, upstream 403/404 pass through,
// a caller timeout 504 and every other fetch failure 502.
func StatusFor(err error) (int, string) {
	var se *ratelimit.StatusError
	var fe *client.FetchError

	switch {
	case errors.Is(err, nftapi.ErrInvalidSlug):
		return http.StatusBadRequest, ""
	case errors.Is(err, ratelimit.ErrQueueFull):
		return http.StatusServiceUnavailable, string(ratelimit.ErrorClassQueueFull)
	case errors.As(err, &se) && (se.StatusCode == http.StatusNotFound || se.StatusCode == http.StatusForbidden):
		return se.StatusCode, string(ratelimit.ErrorClassNotRetryable)
	case errors.Is(err, context.DeadlineExceeded) && !errors.As(err, &fe):
		return http.StatusGatewayTimeout, ""
	case errors.As(err, &fe):
		return http.StatusBadGateway, string(fe.Class)
	default:
		return http.StatusBadGateway, string(ratelimit.Classify(err))
	}
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status_code", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request served")
	})
}
