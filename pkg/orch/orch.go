// Package orch coordinates run execution: one run at a time process-wide,
// crash-safe job records, session persistence after every run, and a trace
// entry for every attempt including rejected ones.
package orch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"conductor/pkg/archive"
	"conductor/pkg/config"
	"conductor/pkg/job"
	"conductor/pkg/lock"
	"conductor/pkg/logx"
	"conductor/pkg/review"
	"conductor/pkg/session"
	"conductor/pkg/trace"
)

// Trace status values beyond run outcomes.
const (
	statusOK         = "ok"
	statusError      = "error"
	statusBusy       = "busy"
	statusLoadFailed = "session_load_failed"
)

// ErrBusy reports that a run was rejected because another run holds the lock.
type ErrBusy struct {
	JobID string
}

func (e *ErrBusy) Error() string {
	if e.JobID == "" {
		return "a run is already in progress"
	}
	return fmt.Sprintf("a run is already in progress (job %s)", e.JobID)
}

// runHandle tracks an in-flight run for cancellation.
type runHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
	jobID  string
}

// Coordinator executes instructions through review flows under the global
// run lock.
type Coordinator struct {
	cfg      *config.Config
	sessions *session.Repository
	jobs     *job.Repository
	lock     *lock.Lock
	flows    review.Flows
	trace    *trace.Writer
	archive  *archive.Store
	logger   *logx.Logger
	now      func() time.Time

	mu      sync.Mutex
	perKey  map[session.Key]*sync.Mutex
	running map[session.Key]*runHandle
}

// New creates a coordinator. archive may be nil when run archiving is
// disabled.
func New(cfg *config.Config, sessions *session.Repository, jobs *job.Repository, runLock *lock.Lock, flows review.Flows, traceWriter *trace.Writer, runArchive *archive.Store) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		sessions: sessions,
		jobs:     jobs,
		lock:     runLock,
		flows:    flows,
		trace:    traceWriter,
		archive:  runArchive,
		logger:   logx.NewLogger("orch"),
		now:      time.Now,
		perKey:   map[session.Key]*sync.Mutex{},
		running:  map[session.Key]*runHandle{},
	}
}

func (c *Coordinator) sessionMutex(key session.Key) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.perKey[key]
	if !ok {
		m = &sync.Mutex{}
		c.perKey[key] = m
	}
	return m
}

// Execute runs one instruction for the session. inputKind labels the trace
// entry ("text", "command", "passthrough"). A run already in progress never
// blocks the caller; it returns *ErrBusy immediately.
func (c *Coordinator) Execute(ctx context.Context, key session.Key, inputKind, input string) (string, error) {
	keyMu := c.sessionMutex(key)
	if !keyMu.TryLock() {
		busy := &ErrBusy{JobID: c.runningJobID(key)}
		c.emitTrace(trace.Entry{
			RunID:        busy.JobID,
			SessionKey:   key.String(),
			InputKind:    inputKind,
			InputText:    input,
			Status:       statusBusy,
			ErrorMessage: busy.Error(),
		})
		return "", busy
	}
	defer keyMu.Unlock()

	sess, corrupt, err := c.sessions.Load(key)
	if err != nil {
		return "", fmt.Errorf("failed to load session: %w", err)
	}
	if corrupt {
		c.emitTrace(trace.Entry{
			SessionKey:   key.String(),
			Mode:         sess.Mode,
			InputKind:    inputKind,
			InputText:    input,
			Status:       statusLoadFailed,
			ErrorMessage: "session file was corrupt, continuing with a fresh session",
		})
	}
	c.applyProfile(sess)

	jobID := job.NewID(c.now())
	if _, err := c.lock.Acquire(sess.SessionID, jobID); err != nil {
		var held *lock.AlreadyHeldError
		if errors.As(err, &held) {
			busy := &ErrBusy{JobID: held.Record.JobID}
			c.emitTrace(trace.Entry{
				RunID:        jobID,
				SessionKey:   key.String(),
				Mode:         sess.Mode,
				InputKind:    inputKind,
				InputText:    input,
				Status:       statusBusy,
				ErrorMessage: busy.Error(),
			})
			return "", busy
		}
		return "", fmt.Errorf("failed to acquire run lock: %w", err)
	}
	defer func() {
		if err := c.lock.Release(jobID); err != nil {
			c.logger.Warn("failed to release run lock: %v", err)
		}
	}()

	rec := &job.Record{
		JobID:       jobID,
		SessionKey:  key.String(),
		Status:      job.StatusQueued,
		Instruction: input,
		ThreadID:    sess.ThreadID,
		StartedAt:   c.now().UTC(),
	}
	if err := c.jobs.Save(rec); err != nil {
		return "", c.rejectRun(jobID, key, sess.Mode, inputKind, input, fmt.Errorf("failed to record job: %w", err))
	}

	rec.Status = job.StatusRunning
	if err := c.jobs.Save(rec); err != nil {
		return "", c.rejectRun(jobID, key, sess.Mode, inputKind, input, fmt.Errorf("failed to record job: %w", err))
	}

	sess.RunLock = true
	if err := c.sessions.Save(sess); err != nil {
		c.logger.Warn("failed to persist run flag: %v", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.RunTimeout.Std())
	handle := &runHandle{cancel: cancel, done: make(chan struct{}), jobID: jobID}
	c.mu.Lock()
	c.running[key] = handle
	c.mu.Unlock()
	defer func() {
		cancel()
		close(handle.done)
		c.mu.Lock()
		delete(c.running, key)
		c.mu.Unlock()
	}()

	started := c.now()
	result, runErr := c.runFlow(runCtx, sess, input)
	latency := c.now().Sub(started).Milliseconds()

	entry := trace.Entry{
		RunID:      jobID,
		SessionKey: key.String(),
		Mode:       sess.Mode,
		InputKind:  inputKind,
		InputText:  input,
		LatencyMS:  latency,
	}
	run := archive.Run{
		JobID:       jobID,
		SessionKey:  key.String(),
		Mode:        sess.Mode,
		InputKind:   inputKind,
		Instruction: input,
		LatencyMS:   latency,
		CreatedAt:   c.now().UTC(),
	}

	ended := c.now().UTC()
	rec.EndedAt = &ended

	if runErr != nil {
		rec.Status = job.StatusFailed
		rec.Error = runErr.Error()
		if err := c.jobs.Save(rec); err != nil {
			c.logger.Warn("failed to record job failure: %v", err)
		}

		sess.RunLock = false
		sess.LastError = runErr.Error()
		sess.LastRunStatus = session.RunError
		sess.LastRunLatencyMS = latency
		if err := c.sessions.Save(sess); err != nil {
			c.logger.Warn("failed to persist session after failed run: %v", err)
		}

		entry.Status = statusError
		entry.ErrorMessage = runErr.Error()
		c.emitTrace(entry)
		run.Status = statusError
		run.Error = runErr.Error()
		c.recordRun(run)

		return "", runErr
	}

	rec.Status = job.StatusSucceeded
	rec.ThreadID = result.ThreadID
	if err := c.jobs.Save(rec); err != nil {
		c.logger.Warn("failed to record job success: %v", err)
	}

	sess.RunLock = false
	sess.History = result.NextHistory
	sess.ThreadID = result.ThreadID
	sess.LastError = ""
	sess.LastRunStatus = session.RunOK
	sess.LastRunLatencyMS = latency
	sess.LastReviewRound = result.ReviewRound
	sess.LastReviewResult = result.ReviewResult
	if err := c.sessions.Save(sess); err != nil {
		c.logger.Warn("failed to persist session after run: %v", err)
	}

	entry.Status = statusOK
	entry.OutputText = result.OutputText
	entry.ReviewRound = result.ReviewRound
	entry.ReviewResult = result.ReviewResult
	c.emitTrace(entry)

	run.Status = statusOK
	run.Output = result.OutputText
	run.ReviewRound = result.ReviewRound
	run.ReviewResult = result.ReviewResult
	c.recordRun(run)

	return result.OutputText, nil
}

// runFlow executes the session's flow with panic containment. A panicking
// flow must not take down the process or leak the lock.
func (c *Coordinator) runFlow(ctx context.Context, sess *session.Session, input string) (result *review.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("flow panicked: %v", p)
			result = nil
			err = fmt.Errorf("flow panicked: %v", p)
		}
	}()
	return c.flows.ForMode(sess.Mode).Run(ctx, input, sess)
}

// applyProfile fills session profile fields from the configured profile when
// the session has none yet.
func (c *Coordinator) applyProfile(sess *session.Session) {
	if sess.ProfileModel != "" {
		return
	}
	profile, name := c.cfg.ResolveProfile(sess.ProfileName)
	sess.ProfileName = name
	sess.ProfileModel = profile.Model
	sess.ProfileWorkingDir = profile.WorkingDirectory
	if len(profile.AgentModels) > 0 {
		sess.AgentModels = cloneMap(profile.AgentModels)
	}
	if len(profile.AgentPrompts) > 0 {
		sess.AgentPrompts = cloneMap(profile.AgentPrompts)
	}
}

// cloneMap copies agent override maps, normalizing keys to the lowercase
// form the stage runner looks up.
func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

// rejectRun traces a run that never reached its flow. Every attempt
// leaves a trace entry, including ones rejected by persistence failures.
func (c *Coordinator) rejectRun(jobID string, key session.Key, mode session.Mode, inputKind, input string, err error) error {
	c.emitTrace(trace.Entry{
		RunID:        jobID,
		SessionKey:   key.String(),
		Mode:         mode,
		InputKind:    inputKind,
		InputText:    input,
		Status:       statusError,
		ErrorMessage: err.Error(),
	})
	return err
}

func (c *Coordinator) runningJobID(key session.Key) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.running[key]; ok {
		return h.jobID
	}
	return ""
}

// Cancel aborts the session's in-flight run. The context cancel is observed
// at stage boundaries; if the run does not wind down within the configured
// wait, the lock is force-released so the next run can start. The orphaned
// backend call is left to time out on its own.
func (c *Coordinator) Cancel(key session.Key) (string, error) {
	c.mu.Lock()
	handle, ok := c.running[key]
	c.mu.Unlock()
	if !ok {
		return "no run in progress", nil
	}

	c.logger.Info("cancelling job %s for session %s", handle.jobID, key)
	handle.cancel()

	select {
	case <-handle.done:
		return fmt.Sprintf("cancelled job %s", handle.jobID), nil
	case <-time.After(c.cfg.CancelWait.Std()):
	}

	if err := c.lock.Release(handle.jobID); err != nil {
		return "", fmt.Errorf("cancel timed out and lock release failed: %w", err)
	}
	return fmt.Sprintf("cancel requested for job %s; run did not stop in time, lock released", handle.jobID), nil
}

func (c *Coordinator) emitTrace(entry trace.Entry) {
	if c.trace == nil {
		return
	}
	if err := c.trace.Append(&entry); err != nil {
		c.logger.Warn("failed to write trace entry: %v", err)
	}
}

func (c *Coordinator) recordRun(run archive.Run) {
	if c.archive == nil {
		return
	}
	c.archive.RecordBestEffort(&run)
}
