// Package api exposes a thin HTTP surface over the orchestrator's last
// cycle statistics and a liveness check, grounded on tokenman's
// chi-based proxy.Server: a chi.Router mounted into an *http.Server with
// the same NewServer/Start/Shutdown shape.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"threatfeed/internal/orchestrator"
)

// StatsProvider is satisfied by *orchestrator.Orchestrator; kept as an
// interface so handler tests don't need a fully wired Orchestrator.
type StatsProvider interface {
	LastStats() orchestrator.CycleStats
}

// Server is the pipeline's read-only stats/health HTTP surface.
type Server struct {
	router  chi.Router
	httpSrv *http.Server
	logger  *logrus.Logger
}

// NewServer constructs a Server bound to addr, backed by provider for its
// /stats route.
func NewServer(addr string, provider StatsProvider, logger *logrus.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(provider.LastStats()); err != nil {
			logger.WithError(err).Error("failed to encode stats response")
		}
	})

	return &Server{
		router: r,
		logger: logger,
		httpSrv: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Router returns the underlying chi.Router, useful for tests.
func (s *Server) Router() chi.Router {
	return s.router
}

// Start begins listening for HTTP connections in a background goroutine
// and returns immediately; Shutdown stops it.
func (s *Server) Start() {
	s.logger.WithField("addr", s.httpSrv.Addr).Info("starting stats api server")
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("stats api server stopped with error")
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
