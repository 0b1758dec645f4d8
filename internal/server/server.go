// Package server exposes the continuous-mode HTTP endpoints: health, the last
// run summary, and a manually triggered run streamed as Server-Sent Events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonathan/stack-scout/internal/pipeline"
	"github.com/jonathan/stack-scout/internal/types"
)

// Runner is the orchestrator surface the server needs.
type Runner interface {
	Run(ctx context.Context, opts pipeline.RunOptions) (*types.RunSummary, error)
	State() pipeline.State
	LastSummary() *types.RunSummary
}

// Config holds server configuration
type Config struct {
	Port int
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	runner     Runner
	logger     *slog.Logger
}

// RunRequest is the optional body of POST /runs/stream.
type RunRequest struct {
	SearchTerm   string `json:"search_term,omitempty"`
	MaxItems     int    `json:"max_items,omitempty"`
	RetryPending bool   `json:"retry_pending,omitempty"`
}

// New creates a new server instance
func New(cfg Config, runner Runner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{runner: runner, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /last-run", s.handleLastRun)
	mux.HandleFunc("POST /runs/stream", s.handleRunStream)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.withLogging(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: /runs/stream lasts as long as the run.
	}
	return s
}

// Handler returns the routed handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"duration", time.Since(start))
	})
}

// handleHealth returns server health and the orchestrator state.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status": "ok",
		"state":  string(s.runner.State()),
	})
}

// handleLastRun returns the summary of the most recent finished run.
func (s *Server) handleLastRun(w http.ResponseWriter, _ *http.Request) {
	summary := s.runner.LastSummary()
	if summary == nil {
		s.errorResponse(w, http.StatusNotFound, "no run has finished yet")
		return
	}
	s.jsonResponse(w, http.StatusOK, summary)
}

// handleRunStream runs the pipeline and streams progress events. Closing the
// connection cancels the run at the next posting boundary.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	stream := newRunStream(w)
	opts := pipeline.RunOptions{
		SearchTerm:      req.SearchTerm,
		MaxItemsPerTerm: req.MaxItems,
		RetryPending:    req.RetryPending,
		OnProgress:      stream.Progress,
	}

	summary, err := s.runner.Run(r.Context(), opts)
	if err != nil && !stream.Opened() {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	if err := stream.Finish(summary, err); err != nil {
		s.logger.Warn("cannot stream run result", "error", err)
	}
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("error encoding JSON response", "error", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}
