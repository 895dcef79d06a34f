// Package server exposes the HTTP surface: the inbound webhook
// endpoint, the management API, health, and metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/teranos/trellis/action"
	"github.com/teranos/trellis/config"
	"github.com/teranos/trellis/cron"
	"github.com/teranos/trellis/delay"
	"github.com/teranos/trellis/engine"
)

// Server wires the HTTP routes over the running components.
type Server struct {
	cfg         config.ServerConfig
	engine      *engine.Engine
	tasks       *delay.Store
	jobs        *cron.Store
	runLog      *action.RunLogStore
	deadLetters *action.DeadLetterStore
	metricsOn   bool
	log         *zap.SugaredLogger

	http *http.Server
}

func New(
	cfg config.ServerConfig,
	eng *engine.Engine,
	tasks *delay.Store,
	jobs *cron.Store,
	runLog *action.RunLogStore,
	deadLetters *action.DeadLetterStore,
	metricsOn bool,
	log *zap.SugaredLogger,
) *Server {
	s := &Server{
		cfg:         cfg,
		engine:      eng,
		tasks:       tasks,
		jobs:        jobs,
		runLog:      runLog,
		deadLetters: deadLetters,
		metricsOn:   metricsOn,
		log:         log,
	}
	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Router builds the route tree. Exposed for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.metricsOn {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Post("/webhook/table-events", s.handleWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireAPIKey)

		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/{id}", s.handleGetTask)
		r.Delete("/tasks/{id}", s.handleCancelTask)

		r.Get("/jobs", s.handleListJobs)
		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Patch("/jobs/{id}", s.handleUpdateJobStatus)
		r.Delete("/jobs/{id}", s.handleDeleteJob)

		r.Get("/runlog", s.handleListRunLog)
		r.Get("/deadletters", s.handleListDeadLetters)
	})

	return r
}

// Start runs the HTTP server until it fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Infow("HTTP server listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireAPIKey guards the management API. With no key configured the
// API is disabled outright rather than left open.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey == "" || r.Header.Get("X-API-Key") != s.cfg.APIKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
