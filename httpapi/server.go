// Package httpapi serves the movie facade as a small JSON API.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	txcontext "github.com/Dorico-Dynamics/txova-go-core/context"
	"github.com/Dorico-Dynamics/txova-go-core/errors"
	"github.com/Dorico-Dynamics/txova-go-core/logging"

	"github.com/cinescope/cinescope-go-clients/factory"
	"github.com/cinescope/cinescope-go-clients/metrics"
	"github.com/cinescope/cinescope-go-clients/services/omdb"
)

// MovieService is the movie facade consumed by the API.
type MovieService interface {
	PopularMovies(ctx context.Context, page int) (*omdb.SearchResult, error)
	SearchMovies(ctx context.Context, query string, page int) (*omdb.SearchResult, error)
	MovieByID(ctx context.Context, id string) (*omdb.MovieDetails, error)
}

// HealthChecker reports the health of backing dependencies.
type HealthChecker interface {
	HealthCheck(ctx context.Context) []factory.DependencyHealth
}

// Options configures the optional parts of the router.
type Options struct {
	Logger   *logging.Logger
	Recorder *metrics.Recorder
	Gatherer prometheus.Gatherer
	Health   HealthChecker
}

type server struct {
	movies MovieService
	health HealthChecker
	logger *logging.Logger
}

// NewRouter returns the API handler.
func NewRouter(movies MovieService, opts Options) http.Handler {
	s := &server{
		movies: movies,
		health: opts.Health,
		logger: opts.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(tracingContext)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if opts.Recorder != nil {
		r.Use(opts.Recorder.Middleware(routePattern))
	}

	r.Get("/healthz", s.handleHealth)
	if opts.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(opts.Gatherer))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/popular", s.handlePopular)
		r.Get("/search", s.handleSearch)
		r.Get("/movies/{id}", s.handleMovie)
	})

	return r
}

// MovieSummary is a search result entry.
type MovieSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Year      string `json:"year"`
	MediaType string `json:"media_type"`
	PosterURL string `json:"poster_url,omitempty"`
}

// SearchPage is one page of results.
type SearchPage struct {
	Page         int            `json:"page"`
	TotalResults int            `json:"total_results"`
	TotalPages   int            `json:"total_pages"`
	Movies       []MovieSummary `json:"movies"`
}

// Movie is the detail view of a single title.
type Movie struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	Year       string        `json:"year"`
	Rated      string        `json:"rated,omitempty"`
	Released   string        `json:"released,omitempty"`
	Runtime    string        `json:"runtime,omitempty"`
	Genres     []string      `json:"genres"`
	Director   string        `json:"director,omitempty"`
	Actors     []string      `json:"actors"`
	Plot       string        `json:"plot,omitempty"`
	PosterURL  string        `json:"poster_url,omitempty"`
	IMDBRating string        `json:"imdb_rating,omitempty"`
	BoxOffice  string        `json:"box_office,omitempty"`
	Ratings    []omdb.Rating `json:"ratings"`
}

func (s *server) handlePopular(w http.ResponseWriter, r *http.Request) {
	page := omdb.ParsePage(r.URL.Query().Get("page"))

	result, err := s.movies.PopularMovies(r.Context(), page)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newSearchPage(page, result))
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page := omdb.ParsePage(query.Get("page"))

	result, err := s.movies.SearchMovies(r.Context(), query.Get("q"), page)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newSearchPage(page, result))
}

func (s *server) handleMovie(w http.ResponseWriter, r *http.Request) {
	details, err := s.movies.MovieByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newMovie(details))
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	results := s.health.HealthCheck(r.Context())
	status, code := "ok", http.StatusOK
	for _, res := range results {
		if !res.Healthy {
			status, code = "degraded", http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, code, map[string]any{"status": status, "dependencies": results})
}

func newSearchPage(page int, result *omdb.SearchResult) SearchPage {
	out := SearchPage{
		Page:         page,
		TotalResults: result.TotalCount(),
		TotalPages:   result.TotalPages(),
		Movies:       make([]MovieSummary, 0, len(result.Movies)),
	}
	for _, m := range result.Movies {
		summary := MovieSummary{
			ID:        m.ID,
			Title:     m.Title,
			Year:      m.Year,
			MediaType: m.MediaType,
		}
		if m.HasPoster() {
			summary.PosterURL = m.PosterURL
		}
		out.Movies = append(out.Movies, summary)
	}
	return out
}

func newMovie(d *omdb.MovieDetails) Movie {
	out := Movie{
		ID:         d.ID,
		Title:      d.Title,
		Year:       d.Year,
		Rated:      d.Rated,
		Released:   d.Released,
		Runtime:    d.Runtime,
		Genres:     d.GenreList(),
		Director:   d.Director,
		Actors:     d.ActorList(),
		Plot:       d.Plot,
		IMDBRating: d.IMDBRating,
		BoxOffice:  d.BoxOffice,
		Ratings:    d.Ratings,
	}
	if d.HasPoster() {
		out.PosterURL = d.PosterURL
	}
	if out.Genres == nil {
		out.Genres = []string{}
	}
	if out.Actors == nil {
		out.Actors = []string{}
	}
	if out.Ratings == nil {
		out.Ratings = []omdb.Rating{}
	}
	return out
}

// writeFailure maps a facade error to a status: validation errors are the
// caller's fault, missing titles are 404 and everything else is the upstream's.
func writeFailure(w http.ResponseWriter, err error) {
	message := err.Error()
	if appErr := errors.AsAppError(err); appErr != nil {
		message = appErr.Message()
	}

	body := map[string]string{"message": message}
	if detail := omdb.UpstreamMessage(err); detail != "" {
		body["detail"] = detail
	}

	status := http.StatusBadGateway
	body["error"] = "upstream_failure"
	switch {
	case errors.IsCode(err, errors.CodeValidationError):
		status = http.StatusBadRequest
		body["error"] = "validation_error"
	case omdb.IsNotFound(err):
		status = http.StatusNotFound
		body["error"] = "not_found"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// tracingContext carries the request ID into outgoing upstream requests.
func tracingContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = txcontext.WithRequestID(ctx, id)
		}
		if id := r.Header.Get(txcontext.HeaderCorrelationID); id != "" {
			ctx = txcontext.WithCorrelationID(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.logger == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.DebugContext(r.Context(), "api request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}
