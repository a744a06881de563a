package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"annolab/internal/claims"
	"annolab/internal/config"
	"annolab/internal/insight"
	"annolab/internal/logging"
	"annolab/internal/pipeline"
	"annolab/internal/store"
	"annolab/internal/workflow"
)

// Server exposes the pipeline, claims, workflow, and insight services over
// HTTP. Every operation runs within the incoming request; no background
// executors hold task state.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	pipeline *pipeline.Service
	claims   *claims.Service
	workflow *workflow.Engine
	insight  *insight.Evaluator
	tokens   map[string]tokenActor

	listener net.Listener
	server   *http.Server
}

// Services bundles the service dependencies handed to New.
type Services struct {
	Store    *store.Store
	Pipeline *pipeline.Service
	Claims   *claims.Service
	Workflow *workflow.Engine
	Insight  *insight.Evaluator
}

// New builds the HTTP server from config and wired services.
func New(cfg *config.Config, svcs Services, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, fmt.Errorf("api bind address required")
	}

	srv := &Server{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "api-server"),
		store:    svcs.Store,
		pipeline: svcs.Pipeline,
		claims:   svcs.Claims,
		workflow: svcs.Workflow,
		insight:  svcs.Insight,
		tokens:   buildTokenTable(cfg),
	}

	readTimeout := time.Duration(cfg.Server.ReadTimeout) * time.Second
	writeTimeout := time.Duration(cfg.Server.WriteTimeout) * time.Second
	srv.server = &http.Server{
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

// Router assembles the route tree. Exposed for httptest in package tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)

	r.Get("/api/status", s.handleStatus)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Route("/api/queue", func(r chi.Router) {
			r.Get("/next", s.handleQueueNext)
			r.Get("/my-tasks", s.handleMyTasks)
			r.Post("/tasks/{id}/claim", s.handleClaim)
			r.Post("/tasks/{id}/draft", s.handleDraft)
			r.Post("/tasks/{id}/skip", s.handleSkip)
			r.Post("/tasks/{id}/unskip", s.handleUnskip)
			r.Post("/tasks/{id}/submit", s.handleSubmit)
			r.Get("/review", s.handleReviewQueue)
			r.Post("/review/{id}/approve", s.handleApprove)
			r.Post("/review/{id}/reject", s.handleReject)
		})

		r.Route("/api/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)
			r.Post("/bulk", s.handleCreateTasks)
			r.Get("/{id}", s.handleGetTask)
			r.Get("/{id}/annotations", s.handleTaskAnnotations)
		})

		r.Route("/api/requests", func(r chi.Router) {
			r.Get("/", s.handleListRequests)
			r.Post("/claim", s.handleCreateRequest)
			r.Post("/claim/{id}/approve", s.handleApproveRequest)
			r.Post("/claim/{id}/reject", s.handleRejectRequest)
		})

		r.Route("/api/activities", func(r chi.Router) {
			r.Get("/specs", s.handleListSpecs)
			r.Post("/specs", s.handleCreateSpec)
			r.Get("/instances", s.handleListInstances)
			r.Post("/instances", s.handleCreateInstance)
			r.Post("/nodes/{uid}/trigger", s.handleTriggerNode)
			r.Post("/nodes/{uid}/complete", s.handleCompleteNode)
			r.Post("/nodes/{uid}/skip", s.handleSkipNode)
		})

		r.Route("/api/projects", func(r chi.Router) {
			r.Get("/", s.handleListProjects)
			r.Post("/", s.handleCreateProject)
			r.Get("/{id}", s.handleGetProject)
			r.Post("/{id}/workflow", s.handleBuildWorkflow)
			r.Get("/{id}/batches", s.handleListBatches)
			r.Post("/{id}/batches", s.handleCreateBatch)
		})

		r.Route("/api/insight", func(r chi.Router) {
			r.Get("/efficiency", s.handleEfficiency)
			r.Get("/projects/{id}/annotators", s.handleAnnotatorReport)
		})
	})

	return r
}

// Start begins serving and shuts down when ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", strings.TrimSpace(s.cfg.Paths.APIBind))
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Stop drains in-flight requests within the configured shutdown window.
func (s *Server) Stop() {
	timeout := time.Duration(s.cfg.Server.ShutdownTimeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// Addr returns the bound listen address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"running":  true,
		"database": s.store.Path(),
	})
}
