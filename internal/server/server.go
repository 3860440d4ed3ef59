// Package server provides the HTTP API for the knowledge-base backend.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fieldline/voicekb/internal/config"
	"github.com/fieldline/voicekb/internal/ingest"
	"github.com/fieldline/voicekb/internal/retrieval"
	"github.com/fieldline/voicekb/internal/storage"
	"github.com/fieldline/voicekb/internal/watcher"
)

// Server is the HTTP server for the knowledge-base API.
type Server struct {
	engine   *retrieval.Engine
	pipeline *ingest.Pipeline
	store    storage.Store
	watch    *watcher.Watcher // nil when drop-folder ingestion is disabled
	cfg      *config.Config
	logger   *zap.Logger
	server   *http.Server

	uploadLimiter *clientLimiter

	configPath string // for persisting watch directory changes; empty disables
	configMu   sync.Mutex
}

// NewServer creates a server with the given dependencies. watch may be nil.
func NewServer(
	engine *retrieval.Engine,
	pipeline *ingest.Pipeline,
	store storage.Store,
	watch *watcher.Watcher,
	cfg *config.Config,
	configPath string,
	logger *zap.Logger,
) *Server {
	return &Server{
		engine:        engine,
		pipeline:      pipeline,
		store:         store,
		watch:         watch,
		cfg:           cfg,
		logger:        logger,
		configPath:    configPath,
		uploadLimiter: newClientLimiter(cfg.Limits.UploadsPerMinute),
	}
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)
	r.Use(s.corsAllowList(s.cfg.Server.AllowedOrigins))
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/equipment", s.handleCreateEquipment)
		r.Get("/equipment", s.handleListEquipment)
		r.Get("/equipment/{id}", s.handleGetEquipment)
		r.Delete("/equipment/{id}", s.handleDeleteEquipment)
		r.Get("/equipment/{id}/documents", s.handleListDocuments)
		r.With(s.uploadRateLimit).Post("/equipment/{id}/documents", s.handleUploadDocuments)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Delete("/documents/{id}", s.handleDisableDocument)
		r.Post("/retrieve", s.handleRetrieve)
		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
	})
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
