// Package lock implements single-flight execution locking via an exclusive
// lock file. The file doubles as a diagnostic record: it carries the holder
// identity, the job being executed, and the acquisition time, so a /status
// check or a crash post-mortem can see who held the run.
package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"conductor/pkg/logx"
)

// Record is the JSON payload written into the lock file.
type Record struct {
	HolderID   string    `json:"holder_id"`
	JobID      string    `json:"job_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// AlreadyHeldError reports a lock held by another run. Record carries the
// holder diagnostics when the lock file was readable; zero otherwise.
type AlreadyHeldError struct {
	Record Record
}

func (e *AlreadyHeldError) Error() string {
	if e.Record.HolderID == "" {
		return "run lock already held"
	}
	return fmt.Sprintf("run lock already held by %s (job %s) since %s",
		e.Record.HolderID, e.Record.JobID, e.Record.AcquiredAt.UTC().Format(time.RFC3339))
}

// Lock guards a single execution slot backed by a file created with O_EXCL.
type Lock struct {
	path       string
	staleAfter time.Duration
	logger     *logx.Logger

	now func() time.Time // test hook
}

// New creates a lock at path. A staleAfter of zero disables stale override.
func New(path string, staleAfter time.Duration) *Lock {
	return &Lock{
		path:       path,
		staleAfter: staleAfter,
		logger:     logx.NewLogger("lock"),
		now:        time.Now,
	}
}

// Acquire takes the lock for holderID executing jobID. When the lock file
// already exists it is overridden once if older than staleAfter, otherwise
// Acquire fails with *AlreadyHeldError.
func (l *Lock) Acquire(holderID, jobID string) (*Record, error) {
	rec := &Record{
		HolderID:   holderID,
		JobID:      jobID,
		AcquiredAt: l.now().UTC(),
	}

	err := l.tryCreate(rec)
	if err == nil {
		return rec, nil
	}
	if !os.IsExist(err) {
		return nil, fmt.Errorf("failed to create lock file %s: %w", l.path, err)
	}

	existing, stale := l.inspect()
	if !stale {
		return nil, &AlreadyHeldError{Record: existing}
	}

	l.logger.Warn("Overriding stale run lock held by %q (job %q) since %s",
		existing.HolderID, existing.JobID, existing.AcquiredAt.UTC().Format(time.RFC3339))
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale lock file %s: %w", l.path, err)
	}

	// Single retry. If another process recreated the lock between the
	// remove and this create, report busy rather than looping.
	if err := l.tryCreate(rec); err != nil {
		if os.IsExist(err) {
			current, _ := l.inspect()
			return nil, &AlreadyHeldError{Record: current}
		}
		return nil, fmt.Errorf("failed to create lock file %s: %w", l.path, err)
	}
	return rec, nil
}

// Release removes the lock file, but only while it still records jobID.
// A run that was force-released on cancel timeout may outlive its lock;
// its deferred Release must not delete the lock a newer run has since
// acquired. Releasing an already released lock is not an error, so a
// defer can release unconditionally.
func (l *Lock) Release(jobID string) error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read lock file %s: %w", l.path, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil || rec.JobID != jobID {
		l.logger.Warn("Not releasing lock file %s: held by job %q, not %q", l.path, rec.JobID, jobID)
		return nil
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file %s: %w", l.path, err)
	}
	return nil
}

// Holder returns the current lock record, or nil when the lock is free.
func (l *Lock) Holder() (*Record, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read lock file %s: %w", l.path, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unreadable lock file %s: %w", l.path, err)
	}
	return &rec, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

func (l *Lock) tryCreate(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock record: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(l.path)
		return fmt.Errorf("failed to write lock record: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(l.path)
		return fmt.Errorf("failed to sync lock file: %w", err)
	}
	return f.Close()
}

// inspect reads the existing lock file and reports whether it is stale.
// An unreadable record falls back to the file mtime for the age check.
func (l *Lock) inspect() (Record, bool) {
	var rec Record
	age := time.Duration(0)

	data, err := os.ReadFile(l.path)
	if err == nil && json.Unmarshal(data, &rec) == nil && !rec.AcquiredAt.IsZero() {
		age = l.now().Sub(rec.AcquiredAt)
	} else if info, statErr := os.Stat(l.path); statErr == nil {
		age = l.now().Sub(info.ModTime())
	} else {
		// Lock file vanished between the failed create and here.
		// Treat as stale so the retry path gets one more attempt.
		return rec, true
	}

	if l.staleAfter > 0 && age > l.staleAfter {
		return rec, true
	}
	return rec, false
}
