// Package job tracks the lifecycle of the most recent execution.
//
// The record advances queued -> running -> succeeded|failed, persisted at
// every transition. After a crash the record shows exactly how far the run
// got, which /status surfaces to the operator.
package job

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"conductor/pkg/store"
)

// Status is a job lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Record is the persisted job state.
type Record struct {
	JobID       string     `json:"job_id"`
	SessionKey  string     `json:"session_key"`
	Status      Status     `json:"status"`
	Instruction string     `json:"instruction"`
	ThreadID    string     `json:"thread_id,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Done reports whether the job reached a terminal status.
func (r *Record) Done() bool {
	return r.Status == StatusSucceeded || r.Status == StatusFailed
}

// NewID returns a time-derived job ID with a short random suffix.
func NewID(now time.Time) string {
	return fmt.Sprintf("job-%s-%s", now.UTC().Format("20060102T150405"), uuid.NewString()[:8])
}

const recordName = "job.json"

var jobSchema = store.MustCompileSchema([]byte(`{
	"type": "object",
	"required": ["job_id", "status"],
	"properties": {
		"job_id": {"type": "string"},
		"status": {"type": "string"}
	}
}`))

// Repository persists the latest job record.
type Repository struct {
	store *store.Store
}

// NewRepository creates a job repository rooted at dir.
func NewRepository(dir string) (*Repository, error) {
	s, err := store.NewStore(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open job repository: %w", err)
	}
	return &Repository{store: s}, nil
}

// Save atomically persists the record.
func (r *Repository) Save(rec *Record) error {
	if err := r.store.Write(recordName, rec); err != nil {
		return fmt.Errorf("failed to save job %s: %w", rec.JobID, err)
	}
	return nil
}

// Load returns the latest record, or nil when no job has run yet.
// A corrupt record also returns nil; the job file is diagnostic and a
// damaged one must not block new runs.
func (r *Repository) Load() (*Record, error) {
	var rec Record
	err := r.store.Read(recordName, jobSchema, &rec)
	switch {
	case err == nil:
		return &rec, nil
	case errors.Is(err, store.ErrNotFound), store.IsCorrupt(err):
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to load job record: %w", err)
	}
}
