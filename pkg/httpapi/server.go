// Package httpapi exposes alt text generation, job inspection and coverage
// stats over HTTP.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/soypete/alttext/pkg/alttext"
	"github.com/soypete/alttext/pkg/assets"
	"github.com/soypete/alttext/pkg/jobs"
)

// Generator starts alt text generation. *alttext.Service satisfies it.
type Generator interface {
	RequestGeneration(ctx context.Context, req alttext.GenerateRequest) (*alttext.Outcome, error)
}

// StatsSource reports coverage. *storage.AssetStore satisfies it.
type StatsSource interface {
	Stats(ctx context.Context, siteIDs []int64) ([]assets.SiteStats, error)
}

// Pinger checks a backing database. *database.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Options configures a Server. DB may be nil when the queue is file backed.
type Options struct {
	Generator    Generator
	Jobs         jobs.Lister
	Stats        StatsSource
	DB           Pinger
	Model        string
	QueueBackend string
	Logger       zerolog.Logger
}

// Server represents the HTTP server
type Server struct {
	opts   Options
	logger zerolog.Logger
	router chi.Router
}

// NewServer creates a server with all routes registered.
func NewServer(opts Options) *Server {
	s := &Server{
		opts:   opts,
		logger: opts.Logger,
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(requestLogger(s.logger), countRequests)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)
		r.Post("/assets/{assetID}/alt-text", s.handleGenerate)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Get("/{jobID}", s.handleGetJob)
			r.Post("/{jobID}/cancel", s.handleCancelJob)
			r.Post("/{jobID}/retry", s.handleRetryJob)
		})
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
