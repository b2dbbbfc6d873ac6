// Package healthserver exposes liveness and metrics endpoints for the
// coordinator process.
package healthserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"conductor/pkg/backend"
	"conductor/pkg/job"
	"conductor/pkg/logx"
	"conductor/pkg/version"
)

// Server serves /healthz and /metrics on a dedicated listener, separate
// from the chat surface.
type Server struct {
	health *backend.Health
	jobs   *job.Repository
	logger *logx.Logger
}

// NewServer creates a health server. jobs may be nil; the last_job
// section is then omitted from /healthz.
func NewServer(health *backend.Health, jobs *job.Repository) *Server {
	return &Server{
		health: health,
		jobs:   jobs,
		logger: logx.NewLogger("healthserver"),
	}
}

type healthResponse struct {
	Status  string         `json:"status"`
	Version string         `json:"version"`
	Backend backend.Status `json:"backend"`
	LastJob *job.Record    `json:"last_job,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := healthResponse{
		Status:  "ok",
		Version: version.Version,
	}
	if s.health != nil {
		resp.Backend = s.health.Status()
		if resp.Backend.Running && !resp.Backend.Ready {
			resp.Status = "starting"
		}
	}
	if s.jobs != nil {
		if rec, err := s.jobs.Load(); err == nil && rec != nil {
			resp.LastJob = rec
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Failed to encode health response: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// RegisterRoutes attaches the health and metrics handlers to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
}

// Start runs the listener in the background and shuts it down when ctx
// is cancelled.
func (s *Server) Start(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Starting health server on %s", addr)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Health server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		// Parent context is cancelled; shutdown needs a fresh one.
		s.logger.Info("Shutting down health server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Health server shutdown failed: %v", err)
		}
	}()
}
