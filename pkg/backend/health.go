package backend

import (
	"os"
	"sync"
	"time"
)

// Status is a point-in-time snapshot of backend health.
type Status struct {
	Known         bool   `json:"known"`
	Running       bool   `json:"running"`
	Ready         bool   `json:"ready"`
	Provider      string `json:"provider,omitempty"`
	Model         string `json:"model,omitempty"`
	PID           int    `json:"pid,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds,omitempty"`
	LastError     string `json:"last_error,omitempty"`
}

// Health tracks backend liveness for /status and the health endpoint.
type Health struct {
	mu        sync.RWMutex
	provider  string
	model     string
	running   bool
	ready     bool
	startedAt time.Time
	lastError string
}

// NewHealth creates a tracker for the named provider.
func NewHealth(provider, model string) *Health {
	return &Health{provider: provider, model: model}
}

// MarkRunning records backend startup.
func (h *Health) MarkRunning() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = true
	h.ready = false
	h.startedAt = time.Now()
}

// MarkReady records the backend accepting requests.
func (h *Health) MarkReady() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = true
	h.ready = true
	if h.startedAt.IsZero() {
		h.startedAt = time.Now()
	}
}

// MarkStopped records shutdown.
func (h *Health) MarkStopped() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = false
	h.ready = false
}

// RecordError stores the most recent failure for diagnostics.
func (h *Health) RecordError(err error) {
	if err == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastError = err.Error()
}

// ClearError wipes the stored failure after a successful request.
func (h *Health) ClearError() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastError = ""
}

// Status returns the current snapshot.
func (h *Health) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := Status{
		Known:     true,
		Running:   h.running,
		Ready:     h.ready,
		Provider:  h.provider,
		Model:     h.model,
		LastError: h.lastError,
	}
	if h.running {
		s.PID = os.Getpid()
		s.UptimeSeconds = int64(time.Since(h.startedAt).Seconds())
	}
	return s
}
