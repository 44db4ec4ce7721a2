package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Border-Link/immigration-ai-sub001/internal/domain"
	"github.com/Border-Link/immigration-ai-sub001/internal/engine"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. The registry may be nil when metrics
// are disabled; the /metrics route is then omitted.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, registry *prometheus.Registry, version string) *Server {
	handler := NewHandler(repo, cache, bus, eng, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if registry != nil {
		router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	// Evaluation
	router.Post("/evaluate", handler.Evaluate)
	router.Get("/decisions/{id}", handler.GetDecision)

	// Case facts and history
	router.Route("/cases/{caseId}", func(r chi.Router) {
		r.Post("/facts", handler.AppendFact)
		r.Get("/facts", handler.ListFacts)
		r.Get("/decisions", handler.ListDecisions)
	})

	// Rule set and version management
	router.Route("/rulesets", func(r chi.Router) {
		r.Post("/", handler.CreateRuleSet)
		r.Get("/", handler.ListRuleSets)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", handler.GetRuleSet)
			r.Get("/conflicts", handler.Conflicts)
			r.Get("/gaps", handler.Gaps)

			r.Route("/versions", func(r chi.Router) {
				r.Post("/", handler.CreateVersion)
				r.Get("/", handler.ListVersions)
				r.Get("/{versionId}", handler.GetVersion)
				r.Put("/{versionId}", handler.UpdateVersion)
				r.Post("/{versionId}/publish", handler.PublishVersion)
			})
		})
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
