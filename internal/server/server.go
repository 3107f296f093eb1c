// Package server provides the HTTP API and handlers.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/bryan-buckman/infovore/internal/crawler"
	"github.com/bryan-buckman/infovore/internal/database"
	"github.com/bryan-buckman/infovore/internal/metrics"
	"github.com/bryan-buckman/infovore/internal/rss"
	"github.com/bryan-buckman/infovore/internal/seed"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// refreshTimeout bounds a crawl started over HTTP.
const refreshTimeout = 5 * time.Minute

// PageFetcher retrieves a single page for previews. *rss.Fetcher satisfies it.
type PageFetcher interface {
	FetchOnce(ctx context.Context, req rss.Request) (string, error)
}

// Server is the main HTTP server.
type Server struct {
	store    database.Store
	crawler  *crawler.Crawler
	poller   *crawler.Poller
	importer *seed.Importer
	pages    PageFetcher
	metrics  *metrics.Metrics
	logger   *slog.Logger
	router   chi.Router
	http     *http.Server
}

// Option customizes a Server.
type Option func(*Server)

// WithPoller runs p alongside the server.
func WithPoller(p *crawler.Poller) Option {
	return func(s *Server) { s.poller = p }
}

// WithMetrics serves m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithPageFetcher replaces the fetcher used by previews.
func WithPageFetcher(f PageFetcher) Option {
	return func(s *Server) { s.pages = f }
}

// New creates a new server.
func New(store database.Store, c *crawler.Crawler, opts ...Option) *Server {
	s := &Server{
		store:   store,
		crawler: c,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "server")
	s.importer = seed.NewImporter(store, s.logger)
	if s.pages == nil {
		s.pages = rss.NewFetcher(rss.WithLogger(s.logger))
	}
	s.setupRoutes()
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/subscriptions", s.handleListSubscriptions)
		r.Get("/subscriptions/{id}", s.handleGetSubscription)
		r.Get("/subscriptions/{id}/records", s.handleListRecords)
		r.Get("/articles", s.handleListArticles)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/cleanup", s.handleCleanup)
		r.Post("/import-opml", s.handleImportOPML)
		r.Get("/export-opml", s.handleExportOPML)
		r.Post("/preview", s.handlePreview)
	})

	s.router = r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the poller, if any, and serves until Shutdown.
func (s *Server) Start(addr string) error {
	if s.poller != nil {
		s.poller.Start()
	}
	s.http.Addr = addr
	s.logger.Info("server starting", "addr", addr, "database", s.store.DatabaseType())
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and stops the poller.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	if s.poller != nil {
		s.poller.Stop()
	}
	return err
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
