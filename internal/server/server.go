// Package server provides the HTTP API for dermamatch.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hyperjump/dermamatch/internal/config"
	"github.com/hyperjump/dermamatch/internal/ingest"
	"github.com/hyperjump/dermamatch/internal/metrics"
	"github.com/hyperjump/dermamatch/internal/search"
	"github.com/hyperjump/dermamatch/internal/storage"
)

// CorpusWatcher reports the corpus file being watched for changes.
type CorpusWatcher interface {
	Path() string
	Reloads() int
}

// Server is the HTTP server for the dermamatch API.
type Server struct {
	engine   *search.Engine
	importer *ingest.Importer
	storage  storage.Storage
	config   *config.Config
	watcher  CorpusWatcher
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server. importer and store may be nil when the corpus is not
// sqlite-backed; watcher may be nil when the corpus file is not watched.
func NewServer(
	engine *search.Engine,
	importer *ingest.Importer,
	store storage.Storage,
	cfg *config.Config,
	watcher CorpusWatcher,
	logger *zap.Logger,
) *Server {
	return &Server{
		engine:   engine,
		importer: importer,
		storage:  store,
		config:   cfg,
		watcher:  watcher,
		logger:   logger,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Get("/cases", s.handleListCases)
		r.Post("/cases", s.handleImportCases)
		r.Get("/cases/{id}", s.handleGetCase)
		r.Delete("/cases/{id}", s.handleDeleteCase)
		r.Get("/status", s.handleStatus)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/rebuild", s.handleRebuild)
			r.Get("/weights", s.handleGetWeights)
			r.Put("/weights/demographic", s.handleSetDemographicWeight)
			r.Put("/weights/components", s.handleSetComponentWeights)
		})
	})
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

const requestIDHeader = "X-Request-ID"

// requestLogger tags every request with an ID and logs it once it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
