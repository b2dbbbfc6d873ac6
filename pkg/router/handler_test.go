package router

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/pkg/config"
	"conductor/pkg/job"
	"conductor/pkg/metrics"
	"conductor/pkg/orch"
	"conductor/pkg/session"
)

// fakeExecutor records Execute calls and returns scripted replies.
type fakeExecutor struct {
	lastKind  string
	lastInput string
	reply     string
	err       error
	cancelMsg string
}

func (f *fakeExecutor) Execute(_ context.Context, _ session.Key, inputKind, input string) (string, error) {
	f.lastKind = inputKind
	f.lastInput = input
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeExecutor) Cancel(session.Key) (string, error) {
	return f.cancelMsg, nil
}

func newTestHandler(t *testing.T, exec Executor) (*Handler, session.Key) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Profiles = map[string]*config.Profile{
		"default": {Model: "claude-sonnet-4-5", WorkingDirectory: "/srv/work"},
		"fast":    {Model: "claude-haiku-4-5"},
	}

	sessions, err := session.NewRepository(filepath.Join(dir, "sessions"), session.Mode(cfg.DefaultMode))
	require.NoError(t, err)
	jobs, err := job.NewRepository(dir)
	require.NoError(t, err)

	h := NewHandler(cfg, sessions, jobs, exec, nil, nil, nil)
	return h, session.Key{ChatID: "100", UserID: "7"}
}

func TestHandleTextGoesToExecutor(t *testing.T) {
	exec := &fakeExecutor{reply: "done"}
	h, key := newTestHandler(t, exec)

	reply := h.Handle(context.Background(), key, "fix the bug")
	assert.Equal(t, "done", reply)
	assert.Equal(t, "text", exec.lastKind)
	assert.Equal(t, "fix the bug", exec.lastInput)
}

func TestHandlePassthroughGoesToExecutor(t *testing.T) {
	exec := &fakeExecutor{reply: "compacted"}
	h, key := newTestHandler(t, exec)

	reply := h.Handle(context.Background(), key, "/compact now")
	assert.Equal(t, "compacted", reply)
	assert.Equal(t, "passthrough", exec.lastKind)
	assert.Equal(t, "/compact now", exec.lastInput)
}

func TestHandleBusyReply(t *testing.T) {
	exec := &fakeExecutor{err: &orch.ErrBusy{JobID: "job-123"}}
	h, key := newTestHandler(t, exec)

	reply := h.Handle(context.Background(), key, "do it")
	assert.Contains(t, reply, "[Busy]")
	assert.Contains(t, reply, "job-123")
}

func TestHandleStart(t *testing.T) {
	h, key := newTestHandler(t, &fakeExecutor{})

	reply := h.Handle(context.Background(), key, "/start")
	assert.Contains(t, reply, "[Commands]:")
	assert.Contains(t, reply, "/mode single|plan|multi")
	assert.Contains(t, reply, "mode=single")
	assert.Contains(t, reply, "working_directory=/srv/work")
}

func TestHandleModeSwitch(t *testing.T) {
	h, key := newTestHandler(t, &fakeExecutor{})

	reply := h.Handle(context.Background(), key, "/mode plan")
	assert.Equal(t, "[Mode]: plan", reply)

	// Persisted.
	sess, _, err := h.sessions.Load(key)
	require.NoError(t, err)
	assert.Equal(t, session.ModePlan, sess.Mode)

	assert.Contains(t, h.Handle(context.Background(), key, "/mode"), "[Error]: usage=")
	assert.Contains(t, h.Handle(context.Background(), key, "/mode turbo"), "[Error]: usage=")
}

func TestHandleNew(t *testing.T) {
	h, key := newTestHandler(t, &fakeExecutor{})

	// Put some state in first.
	h.Handle(context.Background(), key, "/mode plan")
	reply := h.Handle(context.Background(), key, "/new")
	assert.Contains(t, reply, "[Session]: reset")
	assert.Contains(t, reply, "mode=plan")
}

func TestHandleProfile(t *testing.T) {
	h, key := newTestHandler(t, &fakeExecutor{})

	list := h.Handle(context.Background(), key, "/profile list")
	assert.Contains(t, list, "[Profiles]:")
	assert.Contains(t, list, "default (model=claude-sonnet-4-5)")
	assert.Contains(t, list, "fast (model=claude-haiku-4-5)")

	reply := h.Handle(context.Background(), key, "/profile fast")
	assert.Contains(t, reply, "[Profile]: fast")
	assert.Contains(t, reply, "model=claude-haiku-4-5")

	sess, _, err := h.sessions.Load(key)
	require.NoError(t, err)
	assert.Equal(t, "fast", sess.ProfileName)
	assert.Equal(t, "claude-haiku-4-5", sess.ProfileModel)

	assert.Contains(t, h.Handle(context.Background(), key, "/profile nope"), "profile not found: nope")
	assert.Contains(t, h.Handle(context.Background(), key, "/profile"), "[Error]: usage=")
}

func TestHandleStatus(t *testing.T) {
	h, key := newTestHandler(t, &fakeExecutor{})

	reply := h.Handle(context.Background(), key, "/status")
	assert.Contains(t, reply, "[Status]:")
	assert.Contains(t, reply, "mode=single")
	assert.Contains(t, reply, "profile=default, model=claude-sonnet-4-5")
	assert.Contains(t, reply, "last_run=idle")
	assert.Contains(t, reply, "single_run=direct")
	assert.Contains(t, reply, "backend=unknown")
	assert.Contains(t, reply, "last_error=-")

	// Plan mode shows review rounds.
	h.Handle(context.Background(), key, "/mode plan")
	reply = h.Handle(context.Background(), key, "/status")
	assert.Contains(t, reply, "plan_review=rounds=0/3, result=-")
}

func TestHandleCancel(t *testing.T) {
	h, key := newTestHandler(t, &fakeExecutor{cancelMsg: "no run in progress"})

	reply := h.Handle(context.Background(), key, "/cancel")
	assert.Equal(t, "[Cancel]: no run in progress", reply)
}

func TestHandleStatsWithoutArchive(t *testing.T) {
	h, key := newTestHandler(t, &fakeExecutor{})

	reply := h.Handle(context.Background(), key, "/stats")
	assert.Contains(t, reply, "[Stats]:")
	assert.Contains(t, reply, "archive disabled")
}

func TestUsageLines(t *testing.T) {
	total := &metrics.UsageMetrics{Requests: 12, Failures: 2, PromptTokens: 300, CompletionTokens: 150}
	byModel := map[string]*metrics.UsageMetrics{
		"gpt-5":             {Model: "gpt-5", Requests: 4, Failures: 1, TotalTokens: 90},
		"claude-sonnet-4-5": {Model: "claude-sonnet-4-5", Requests: 8, Failures: 1, TotalTokens: 360},
	}

	lines := usageLines(total, byModel)
	require.Len(t, lines, 4)
	assert.Equal(t, "backend_requests=12 (failures=2)", lines[0])
	assert.Equal(t, "tokens: prompt=300, completion=150", lines[1])
	// Breakdown comes out in sorted model order.
	assert.Equal(t, "model claude-sonnet-4-5: requests=8 (failures=1), tokens=360", lines[2])
	assert.Equal(t, "model gpt-5: requests=4 (failures=1), tokens=90", lines[3])

	// A failed breakdown query leaves just the aggregate lines.
	assert.Len(t, usageLines(total, nil), 2)
}
