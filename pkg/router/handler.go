package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"conductor/pkg/archive"
	"conductor/pkg/backend"
	"conductor/pkg/config"
	"conductor/pkg/job"
	"conductor/pkg/logx"
	"conductor/pkg/metrics"
	"conductor/pkg/orch"
	"conductor/pkg/session"
)

// Executor runs instructions and cancels in-flight runs. Implemented by
// orch.Coordinator.
type Executor interface {
	Execute(ctx context.Context, key session.Key, inputKind, input string) (string, error)
	Cancel(key session.Key) (string, error)
}

// Handler dispatches parsed routes. Commands operate on repositories
// directly; only text and passthrough input goes through the coordinator.
type Handler struct {
	cfg      *config.Config
	sessions *session.Repository
	jobs     *job.Repository
	executor Executor
	health   *backend.Health
	archive  *archive.Store
	usage    *metrics.QueryService
	logger   *logx.Logger
}

// NewHandler creates a command handler. archive and usage may be nil; the
// corresponding /stats sections are omitted.
func NewHandler(cfg *config.Config, sessions *session.Repository, jobs *job.Repository, executor Executor, health *backend.Health, runArchive *archive.Store, usage *metrics.QueryService) *Handler {
	return &Handler{
		cfg:      cfg,
		sessions: sessions,
		jobs:     jobs,
		executor: executor,
		health:   health,
		archive:  runArchive,
		usage:    usage,
		logger:   logx.NewLogger("router"),
	}
}

// Handle processes one input line for the session and returns the reply
// text. Operational failures come back as "[Error]: ..." replies; the
// chat surface never sees a bare Go error.
func (h *Handler) Handle(ctx context.Context, key session.Key, text string) string {
	route := Parse(text)

	switch route.Kind {
	case KindCommand:
		return h.handleCommand(ctx, key, route)
	case KindPassthrough, KindText:
		if strings.TrimSpace(route.Text) == "" {
			return "[Error]: empty input"
		}
		out, err := h.executor.Execute(ctx, key, string(route.Kind), route.Text)
		if err != nil {
			var busy *orch.ErrBusy
			if errors.As(err, &busy) {
				return "[Busy]: " + busy.Error()
			}
			h.logger.Error("run failed for session %s: %v", key, err)
			return fmt.Sprintf("[Error]: %v", err)
		}
		return out
	default:
		return "[Error]: unrecognized input"
	}
}

func (h *Handler) handleCommand(ctx context.Context, key session.Key, route Route) string {
	switch route.Command {
	case "start":
		return h.handleStart(key)
	case "new":
		return h.handleNew(key)
	case "mode":
		return h.handleMode(key, route.Args)
	case "status":
		return h.handleStatus(key)
	case "profile":
		return h.handleProfile(key, route.Args)
	case "cancel":
		msg, err := h.executor.Cancel(key)
		if err != nil {
			return fmt.Sprintf("[Error]: %v", err)
		}
		return "[Cancel]: " + msg
	case "stats":
		return h.handleStats(ctx, key)
	default:
		return fmt.Sprintf("[Error]: unknown command /%s", route.Command)
	}
}

func (h *Handler) loadSession(key session.Key) (*session.Session, string) {
	sess, _, err := h.sessions.Load(key)
	if err != nil {
		h.logger.Error("failed to load session %s: %v", key, err)
		return nil, fmt.Sprintf("[Error]: %v", err)
	}
	h.ensureProfile(sess)
	return sess, ""
}

// ensureProfile fills missing profile fields from the configured registry.
func (h *Handler) ensureProfile(sess *session.Session) {
	if sess.ProfileModel != "" {
		return
	}
	profile, name := h.cfg.ResolveProfile(sess.ProfileName)
	applyProfile(sess, profile, name)
}

func applyProfile(sess *session.Session, profile *config.Profile, name string) {
	sess.ProfileName = name
	sess.ProfileModel = profile.Model
	sess.ProfileWorkingDir = profile.WorkingDirectory
	sess.AgentModels = map[string]string{}
	sess.AgentPrompts = map[string]string{}
	for k, v := range profile.AgentModels {
		sess.AgentModels[strings.ToLower(strings.TrimSpace(k))] = v
	}
	for k, v := range profile.AgentPrompts {
		sess.AgentPrompts[strings.ToLower(strings.TrimSpace(k))] = v
	}
}

func (h *Handler) handleStart(key session.Key) string {
	sess, errReply := h.loadSession(key)
	if errReply != "" {
		return errReply
	}
	workingDir := sess.ProfileWorkingDir
	if workingDir == "" {
		workingDir = "-"
	}
	return strings.Join([]string{
		"[Commands]:",
		"/start",
		"/mode single|plan|multi",
		"/new",
		"/status",
		"/profile list|<name>",
		"/cancel",
		"/stats",
		"unreserved /command -> forwarded to backend",
		"plain text -> run",
		"",
		"[Current]:",
		"mode=" + string(sess.Mode),
		"working_directory=" + workingDir,
	}, "\n")
}

func (h *Handler) handleNew(key session.Key) string {
	fresh, err := h.sessions.Reset(key)
	if err != nil {
		return fmt.Sprintf("[Error]: %v", err)
	}
	return fmt.Sprintf("[Session]: reset (mode=%s, profile=%s)", fresh.Mode, fresh.ProfileName)
}

func (h *Handler) handleMode(key session.Key, args []string) string {
	if len(args) == 0 {
		return "[Error]: usage=/mode single|plan|multi"
	}
	mode, ok := session.ParseMode(args[0])
	if !ok {
		return "[Error]: usage=/mode single|plan|multi"
	}

	sess, errReply := h.loadSession(key)
	if errReply != "" {
		return errReply
	}
	sess.Mode = mode
	if err := h.sessions.Save(sess); err != nil {
		return fmt.Sprintf("[Error]: %v", err)
	}
	return "[Mode]: " + string(mode)
}

func (h *Handler) handleProfile(key session.Key, args []string) string {
	if len(args) == 0 {
		return "[Error]: usage=/profile list|<name>"
	}

	if args[0] == "list" {
		names := h.cfg.ProfileNames()
		if len(names) == 0 {
			return "[Profiles]: (none configured)"
		}
		lines := []string{"[Profiles]:"}
		for _, name := range names {
			profile, _, _ := h.cfg.LookupProfile(name)
			model := profile.Model
			if model == "" {
				model = "-"
			}
			lines = append(lines, fmt.Sprintf("%s (model=%s)", name, model))
		}
		return strings.Join(lines, "\n")
	}

	profile, resolved, ok := h.cfg.LookupProfile(args[0])
	if !ok {
		return "[Error]: profile not found: " + args[0]
	}

	sess, errReply := h.loadSession(key)
	if errReply != "" {
		return errReply
	}
	applyProfile(sess, profile, resolved)
	if err := h.sessions.Save(sess); err != nil {
		return fmt.Sprintf("[Error]: %v", err)
	}

	model := sess.ProfileModel
	if model == "" {
		model = "-"
	}
	workingDir := sess.ProfileWorkingDir
	if workingDir == "" {
		workingDir = "-"
	}
	return fmt.Sprintf("[Profile]: %s\nmodel=%s\nworking_directory=%s", sess.ProfileName, model, workingDir)
}

func (h *Handler) handleStatus(key session.Key) string {
	sess, errReply := h.loadSession(key)
	if errReply != "" {
		return errReply
	}

	model := sess.ProfileModel
	if model == "" {
		model = "-"
	}
	workingDir := sess.ProfileWorkingDir
	if workingDir == "" {
		workingDir = "-"
	}

	lines := []string{
		"[Status]:",
		"mode=" + string(sess.Mode),
		fmt.Sprintf("profile=%s, model=%s, working_directory=%s", sess.ProfileName, model, workingDir),
		fmt.Sprintf("last_run=%s (%dms)", sess.LastRunStatus, sess.LastRunLatencyMS),
	}

	switch sess.Mode {
	case session.ModePlan:
		result := string(sess.LastReviewResult)
		if result == "" {
			result = "-"
		}
		lines = append(lines, fmt.Sprintf("plan_review=rounds=%d/%d, result=%s",
			sess.LastReviewRound, h.cfg.MaxReviewRounds, result))
	case session.ModeSingle:
		lines = append(lines, "single_run=direct")
	case session.ModeMulti:
		lines = append(lines, "multi_run=lead>roles>synthesis")
	}

	lines = append(lines, h.backendLine())

	if rec, err := h.jobs.Load(); err == nil && rec != nil {
		line := fmt.Sprintf("last_job=%s (%s)", rec.JobID, rec.Status)
		if rec.Error != "" {
			line += ", error=" + rec.Error
		}
		lines = append(lines, line)
	}

	lastError := sess.LastError
	if lastError == "" {
		lastError = "-"
	}
	lines = append(lines, "last_error="+lastError)

	return strings.Join(lines, "\n")
}

func (h *Handler) backendLine() string {
	if h.health == nil {
		return "backend=unknown"
	}
	st := h.health.Status()
	if !st.Known {
		return "backend=unknown"
	}
	uptime := "-"
	if st.Running {
		uptime = fmt.Sprintf("%ds", st.UptimeSeconds)
	}
	pid := "-"
	if st.PID > 0 {
		pid = fmt.Sprintf("%d", st.PID)
	}
	line := fmt.Sprintf("backend=running=%t, ready=%t, pid=%s, uptime=%s", st.Running, st.Ready, pid, uptime)
	if st.LastError != "" {
		line += ", error=" + st.LastError
	}
	return line
}

func (h *Handler) handleStats(ctx context.Context, key session.Key) string {
	lines := []string{"[Stats]:"}

	if h.archive != nil {
		summary, err := h.archive.Summarize(key.String())
		if err != nil {
			h.logger.Warn("failed to summarize archive: %v", err)
			lines = append(lines, "runs=unavailable")
		} else {
			lines = append(lines, fmt.Sprintf("runs=%d (ok=%d, error=%d)",
				summary.TotalRuns, summary.SucceededRuns, summary.FailedRuns))
			lines = append(lines, fmt.Sprintf("avg_latency=%dms", summary.AvgLatencyMS))
			if len(summary.ByMode) > 0 {
				var parts []string
				for _, mode := range []session.Mode{session.ModeSingle, session.ModePlan, session.ModeMulti} {
					if n, ok := summary.ByMode[mode]; ok {
						parts = append(parts, fmt.Sprintf("%s=%d", mode, n))
					}
				}
				lines = append(lines, "by_mode: "+strings.Join(parts, ", "))
			}
		}
	} else {
		lines = append(lines, "runs=unavailable (archive disabled)")
	}

	if h.usage != nil {
		usage, err := h.usage.GetUsage(ctx)
		if err != nil {
			h.logger.Warn("failed to query usage metrics: %v", err)
		} else {
			byModel, err := h.usage.GetUsageByModel(ctx)
			if err != nil {
				h.logger.Warn("failed to query per-model usage: %v", err)
			}
			lines = append(lines, usageLines(usage, byModel)...)
		}
	}

	return strings.Join(lines, "\n")
}

// usageLines renders aggregate usage plus a per-model breakdown in sorted
// model order. byModel may be nil when the breakdown query failed.
func usageLines(total *metrics.UsageMetrics, byModel map[string]*metrics.UsageMetrics) []string {
	lines := []string{
		fmt.Sprintf("backend_requests=%d (failures=%d)", total.Requests, total.Failures),
		fmt.Sprintf("tokens: prompt=%d, completion=%d", total.PromptTokens, total.CompletionTokens),
	}

	names := make([]string, 0, len(byModel))
	for name := range byModel {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		u := byModel[name]
		lines = append(lines, fmt.Sprintf("model %s: requests=%d (failures=%d), tokens=%d",
			name, u.Requests, u.Failures, u.TotalTokens))
	}
	return lines
}
