package orch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/pkg/config"
	"conductor/pkg/contextmgr"
	"conductor/pkg/job"
	"conductor/pkg/lock"
	"conductor/pkg/review"
	"conductor/pkg/session"
	"conductor/pkg/trace"
)

// fakeFlow lets tests script flow behavior.
type fakeFlow struct {
	result   *review.Result
	err      error
	panicMsg string
	blocking bool
	started  chan struct{}
	calls    int
	mode     session.Mode
}

func (f *fakeFlow) Run(ctx context.Context, input string, sess *session.Session) (*review.Result, error) {
	f.calls++
	f.mode = sess.Mode
	if f.started != nil {
		close(f.started)
		f.started = nil
	}
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.blocking {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &review.Result{
		OutputText: "output for: " + input,
		NextHistory: []contextmgr.Message{
			{Role: contextmgr.RoleUser, Content: input},
			{Role: contextmgr.RoleAssistant, Content: "output for: " + input},
		},
		ReviewRound:  1,
		ReviewResult: session.ReviewApproved,
		ThreadID:     "thr-test",
	}, nil
}

type testEnv struct {
	coord    *Coordinator
	sessions *session.Repository
	jobs     *job.Repository
	lock     *lock.Lock
	trace    *trace.Writer
	key      session.Key
}

func newTestEnv(t *testing.T, flow review.Flow) *testEnv {
	return newTestEnvWithMode(t, flow, session.ModeSingle)
}

func newTestEnvWithMode(t *testing.T, flow review.Flow, defaultMode session.Mode) *testEnv {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.DataDir = dir
	cfg.DefaultMode = string(defaultMode)
	cfg.RunTimeout = config.Duration(5 * time.Second)
	cfg.CancelWait = config.Duration(200 * time.Millisecond)

	sessions, err := session.NewRepository(filepath.Join(dir, "sessions"), defaultMode)
	require.NoError(t, err)
	jobs, err := job.NewRepository(dir)
	require.NoError(t, err)
	runLock := lock.New(filepath.Join(dir, "run.lock"), time.Hour)
	traceWriter, err := trace.NewWriter(filepath.Join(dir, "trace"))
	require.NoError(t, err)

	flows := review.Flows{Single: flow, Plan: flow, Multi: flow}
	coord := New(cfg, sessions, jobs, runLock, flows, traceWriter, nil)

	return &testEnv{
		coord:    coord,
		sessions: sessions,
		jobs:     jobs,
		lock:     runLock,
		trace:    traceWriter,
		key:      session.Key{ChatID: "100", UserID: "7"},
	}
}

func (e *testEnv) traceEntries(t *testing.T) []trace.Entry {
	t.Helper()
	files, err := trace.ListFiles(e.trace.Dir())
	require.NoError(t, err)
	var all []trace.Entry
	for _, f := range files {
		entries, err := trace.ReadEntries(f)
		require.NoError(t, err)
		all = append(all, entries...)
	}
	return all
}

func TestExecuteSuccess(t *testing.T) {
	env := newTestEnv(t, &fakeFlow{})

	out, err := env.coord.Execute(context.Background(), env.key, "text", "do the task")
	require.NoError(t, err)
	assert.Equal(t, "output for: do the task", out)

	// Session carries the run outcome.
	sess, corrupt, err := env.sessions.Load(env.key)
	require.NoError(t, err)
	assert.False(t, corrupt)
	assert.Equal(t, session.RunOK, sess.LastRunStatus)
	assert.Empty(t, sess.LastError)
	assert.Equal(t, "thr-test", sess.ThreadID)
	assert.Equal(t, 1, sess.LastReviewRound)
	assert.Equal(t, session.ReviewApproved, sess.LastReviewResult)
	assert.False(t, sess.RunLock)
	require.Len(t, sess.History, 2)

	// Job reached succeeded with an end time.
	rec, err := env.jobs.Load()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, job.StatusSucceeded, rec.Status)
	assert.NotNil(t, rec.EndedAt)
	assert.Equal(t, "thr-test", rec.ThreadID)

	// Lock released.
	holder, err := env.lock.Holder()
	require.NoError(t, err)
	assert.Nil(t, holder)

	entries := env.traceEntries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "ok", entries[0].Status)
	assert.Equal(t, "do the task", entries[0].InputText)
}

func TestExecuteFreshSessionUsesConfiguredDefaultMode(t *testing.T) {
	flow := &fakeFlow{}
	env := newTestEnvWithMode(t, flow, session.ModePlan)

	_, err := env.coord.Execute(context.Background(), env.key, "text", "do the task")
	require.NoError(t, err)

	// The flow ran in the deployment's default mode, not single.
	assert.Equal(t, session.ModePlan, flow.mode)

	sess, _, err := env.sessions.Load(env.key)
	require.NoError(t, err)
	assert.Equal(t, session.ModePlan, sess.Mode)
}

func TestExecuteFailure(t *testing.T) {
	env := newTestEnv(t, &fakeFlow{err: errors.New("backend exploded")})

	// Seed a thread id from a previous successful run.
	sess, _, err := env.sessions.Load(env.key)
	require.NoError(t, err)
	sess.ThreadID = "thr-old"
	require.NoError(t, env.sessions.Save(sess))

	_, err = env.coord.Execute(context.Background(), env.key, "text", "do it")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend exploded")

	sess, _, err = env.sessions.Load(env.key)
	require.NoError(t, err)
	assert.Equal(t, session.RunError, sess.LastRunStatus)
	assert.Equal(t, "backend exploded", sess.LastError)
	// Thread id survives a failed run.
	assert.Equal(t, "thr-old", sess.ThreadID)

	rec, err := env.jobs.Load()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, job.StatusFailed, rec.Status)
	assert.Equal(t, "backend exploded", rec.Error)

	holder, err := env.lock.Holder()
	require.NoError(t, err)
	assert.Nil(t, holder)

	entries := env.traceEntries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "error", entries[0].Status)
}

func TestExecuteTracesJobRecordFailure(t *testing.T) {
	dir := t.TempDir()

	cfg := config.Default()
	cfg.DataDir = dir
	cfg.RunTimeout = config.Duration(5 * time.Second)

	sessions, err := session.NewRepository(filepath.Join(dir, "sessions"), session.ModeSingle)
	require.NoError(t, err)
	jobsDir := filepath.Join(dir, "jobs")
	jobs, err := job.NewRepository(jobsDir)
	require.NoError(t, err)
	runLock := lock.New(filepath.Join(dir, "run.lock"), time.Hour)
	traceWriter, err := trace.NewWriter(filepath.Join(dir, "trace"))
	require.NoError(t, err)

	flow := &fakeFlow{}
	flows := review.Flows{Single: flow, Plan: flow, Multi: flow}
	env := &testEnv{
		coord:    New(cfg, sessions, jobs, runLock, flows, traceWriter, nil),
		sessions: sessions,
		jobs:     jobs,
		lock:     runLock,
		trace:    traceWriter,
		key:      session.Key{ChatID: "100", UserID: "7"},
	}

	// Job persistence breaks underneath a live coordinator.
	require.NoError(t, os.RemoveAll(jobsDir))

	_, err = env.coord.Execute(context.Background(), env.key, "text", "do it")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to record job")
	assert.Equal(t, 0, flow.calls)

	// The rejected attempt still leaves a trace entry, and the lock is free.
	entries := env.traceEntries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "error", entries[0].Status)
	assert.NotEmpty(t, entries[0].RunID)
	assert.Contains(t, entries[0].ErrorMessage, "failed to record job")

	holder, err := env.lock.Holder()
	require.NoError(t, err)
	assert.Nil(t, holder)
}

func TestExecuteBusyWhenLockHeld(t *testing.T) {
	env := newTestEnv(t, &fakeFlow{})

	// Another process holds the lock.
	_, err := env.lock.Acquire("other-holder", "job-xyz")
	require.NoError(t, err)

	_, err = env.coord.Execute(context.Background(), env.key, "text", "do it")
	var busy *ErrBusy
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, "job-xyz", busy.JobID)

	entries := env.traceEntries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "busy", entries[0].Status)
}

func TestExecutePanicRecovered(t *testing.T) {
	flow := &fakeFlow{panicMsg: "boom"}
	env := newTestEnv(t, flow)

	_, err := env.coord.Execute(context.Background(), env.key, "text", "do it")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flow panicked: boom")

	// Lock released despite the panic; the next run proceeds.
	flow.panicMsg = ""
	out, err := env.coord.Execute(context.Background(), env.key, "text", "again")
	require.NoError(t, err)
	assert.Equal(t, "output for: again", out)
}

func TestExecuteCorruptSessionContinues(t *testing.T) {
	env := newTestEnv(t, &fakeFlow{})

	// Corrupt the session file on disk.
	sess, _, err := env.sessions.Load(env.key)
	require.NoError(t, err)
	require.NoError(t, env.sessions.Save(sess))
	path := filepath.Join(env.sessions.Dir(), env.key.String()+".json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	out, err := env.coord.Execute(context.Background(), env.key, "text", "recover")
	require.NoError(t, err)
	assert.Equal(t, "output for: recover", out)

	// Both the load-failure note and the run entry are traced.
	entries := env.traceEntries(t)
	require.Len(t, entries, 2)
	assert.Equal(t, "session_load_failed", entries[0].Status)
	assert.Equal(t, "ok", entries[1].Status)
}

func TestCancelNoRun(t *testing.T) {
	env := newTestEnv(t, &fakeFlow{})

	msg, err := env.coord.Cancel(env.key)
	require.NoError(t, err)
	assert.Equal(t, "no run in progress", msg)
}

func TestCancelInFlightRun(t *testing.T) {
	started := make(chan struct{})
	flow := &fakeFlow{blocking: true, started: started}
	env := newTestEnv(t, flow)

	errCh := make(chan error, 1)
	go func() {
		_, err := env.coord.Execute(context.Background(), env.key, "text", "long task")
		errCh <- err
	}()

	<-started
	msg, err := env.coord.Cancel(env.key)
	require.NoError(t, err)
	assert.Contains(t, msg, "cancelled job")

	runErr := <-errCh
	require.Error(t, runErr)
	assert.ErrorIs(t, runErr, context.Canceled)

	// Lock is free for the next run.
	holder, err := env.lock.Holder()
	require.NoError(t, err)
	assert.Nil(t, holder)
}

func TestSecondExecuteWhileRunningIsBusy(t *testing.T) {
	started := make(chan struct{})
	flow := &fakeFlow{blocking: true, started: started}
	env := newTestEnv(t, flow)

	go func() {
		_, _ = env.coord.Execute(context.Background(), env.key, "text", "long task")
	}()
	<-started

	_, err := env.coord.Execute(context.Background(), env.key, "text", "second")
	var busy *ErrBusy
	require.ErrorAs(t, err, &busy)
	assert.NotEmpty(t, busy.JobID)

	_, err = env.coord.Cancel(env.key)
	require.NoError(t, err)
}
