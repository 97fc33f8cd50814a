// Package api wires the job service's HTTP/SSE boundary (spec.md §6): the
// six endpoints the browser UI consumes, sitting in front of the same
// engine, backup manager, and state store the CLI bootstrap uses.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cuemby/update-agent/cmd/server/handlers"
	"github.com/cuemby/update-agent/internal/api/middleware"
	"github.com/cuemby/update-agent/internal/backup"
	"github.com/cuemby/update-agent/internal/bootstrap"
	"github.com/cuemby/update-agent/internal/engine"
	"github.com/cuemby/update-agent/internal/progress"
	"github.com/cuemby/update-agent/internal/semver"
	"github.com/cuemby/update-agent/internal/statestore"
)

// Server holds the dependencies every handler needs.
type Server struct {
	BaseDir              string
	Store                *statestore.Store
	Backups              *backup.Manager
	Bus                  *progress.Bus
	Engine               *engine.Engine
	InstalledVersion     semver.Version
	BootstrapLogCapacity int
	Logger               *slog.Logger
}

// NewBootstrapper builds a fresh Bootstrapper bound to this server's
// engine. Bootstrapper carries no per-request state, but a new instance
// keeps the execCommand test seam (and any future per-run overrides) from
// leaking across concurrent applies.
func (s *Server) NewBootstrapper() *bootstrap.Bootstrapper {
	return bootstrap.New(s.BaseDir, s.InstalledVersion, s.Engine, s.BootstrapLogCapacity, s.Logger)
}

// Router builds the full middleware-wrapped gorilla/mux router.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/system-info", s.handleSystemInfo).Methods(http.MethodGet)
	r.HandleFunc("/api/backups", s.handleListBackups).Methods(http.MethodGet)
	r.HandleFunc("/api/upload-update", s.handleUploadUpdate).Methods(http.MethodPost)
	r.HandleFunc("/api/apply-update", s.handleApplyUpdate).Methods(http.MethodPost)
	streamHandler := handlers.NewSSEHandler(s.Bus, s.Logger)
	r.Handle("/api/update-stream/{job_id}", streamHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/rollback/{job_id}", s.handleRollback).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	limiter := middleware.RateLimitMiddleware(120, 30)

	var handler http.Handler = r
	handler = limiter(handler)
	handler = middleware.ValidationMiddleware(handler)
	handler = middleware.CompressionMiddleware(handler)
	handler = middleware.CORSMiddleware(middleware.DefaultCORSConfig())(handler)
	handler = middleware.MetricsMiddleware(handler)
	handler = middleware.LoggingMiddleware(s.Logger)(handler)
	handler = middleware.RequestIDMiddleware(handler)
	return handler
}
