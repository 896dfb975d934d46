// Package frontend serves the admin REST API over HTTP with basic auth.
package frontend

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v2"

	"github.com/everping/everping/internal/build"
	"github.com/everping/everping/internal/config"
	"github.com/everping/everping/internal/jobs"
	"github.com/everping/everping/internal/logger"
	"github.com/everping/everping/internal/scheduler"
	"github.com/everping/everping/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Server is the admin API server.
type Server struct {
	cfg       *config.Config
	store     *store.Store
	catalogue *jobs.Registry
	evaluator *scheduler.Evaluator

	httpServer *http.Server
}

// New creates the admin API server. Trigger and task mutations notify the
// evaluator so the in-memory schedule follows the database.
func New(cfg *config.Config, st *store.Store, catalogue *jobs.Registry, evaluator *scheduler.Evaluator) *Server {
	srv := &Server{
		cfg:       cfg,
		store:     st,
		catalogue: catalogue,
		evaluator: evaluator,
	}
	srv.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

func (s *Server) routes() http.Handler {
	requestLogger := httplog.NewLogger(build.Slug, httplog.Options{
		LogLevel:       slog.LevelInfo,
		Concise:        true,
		RequestHeaders: false,
	})

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(httplog.RequestLogger(requestLogger))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.BasicAuth(build.Slug, map[string]string{
			s.cfg.AdminUser: s.cfg.AdminPass,
		}))

		r.Get("/sysinfo", s.handleSysinfo)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)
			r.Route("/{taskID}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Put("/", s.handleUpdateTask)
				r.Delete("/", s.handleDeleteTask)
				r.Post("/run", s.handleRunTask)
				r.Get("/triggers", s.handleListTriggers)
				r.Get("/runs", s.handleListRuns)
				r.Get("/alerts", s.handleListAlerts)
			})
		})

		r.Route("/triggers", func(r chi.Router) {
			r.Post("/", s.handleCreateTrigger)
			r.Put("/{triggerID}", s.handleUpdateTrigger)
			r.Delete("/{triggerID}", s.handleDeleteTrigger)
		})

		r.Get("/runs", s.handleListRuns)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Post("/reload", s.handleReloadJobs)
		})

		r.Get("/alerts", s.handleListAlerts)
	})

	// Serve under a path prefix when deployed behind a shared reverse proxy.
	if prefix := strings.TrimSuffix(s.cfg.RootPath, "/"); prefix != "" {
		root := chi.NewRouter()
		root.Mount(prefix, r)
		return root
	}
	return r
}

// Serve listens until the context is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "admin API listening", "addr", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info(ctx, "admin API stopped")
	return nil
}
