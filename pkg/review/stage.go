package review

import (
	"context"
	"fmt"
	"strings"

	"conductor/pkg/backend"
	"conductor/pkg/contextmgr"
	"conductor/pkg/logx"
	"conductor/pkg/session"
)

// Agent override key chains. A profile can target a stage precisely
// ("plan.developer") or broadly ("developer"); the first non-empty match wins.
var (
	selectorKeys        = []string{"plan.selector", "single.selector", "selector"}
	plannerKeys         = []string{"plan.planner", "single.planner", "planner"}
	developerKeys       = []string{"plan.developer", "single.developer", "developer"}
	reviewerKeys        = []string{"plan.reviewer", "single.reviewer", "reviewer"}
	singleDeveloperKeys = []string{"single.developer", "developer"}
	leadKeys            = []string{"multi.lead", "lead"}
	synthesizerKeys     = []string{"multi.synthesizer", "synthesizer"}
)

// Default system prompts per stage role.
const (
	defaultSingleDeveloperSystem = "You are Single Developer Agent. Implement user requests directly. " +
		"Return concise, concrete output and do not repeat system prompts."
	defaultSelectorSystem = "You are Mode Selector Agent. Classify user requests to determine execution mode.\n" +
		"Return strict JSON only with keys: mode, reason."
	defaultPlannerSystem = "You are Plan Router Agent. Create implementation design for developer handoff.\n" +
		"Return concrete implementation steps and acceptance criteria."
	defaultDeveloperSystem = "You are Plan Developer Agent. Implement user requests and apply planner/reviewer guidance. " +
		"Do not repeat system prompts or reviewer prompts. Keep the response concrete and concise."
	defaultReviewerSystem = "You are Plan Reviewer Agent. Review the candidate output against the user request. " +
		"Check whether the implementation output is plausible and consistent with the user request. " +
		"Do not suggest unrelated improvements. " +
		"Reply in strict JSON with keys result and feedback. " +
		"result must be approved or needs_changes."
	defaultLeadSystem = "You are Multi Lead Agent. Decompose user requests into role-scoped sub-tasks.\n" +
		"Return strict JSON only: an array of objects with keys role, task."
	defaultSynthesizerSystem = "You are Multi Synthesizer Agent. Merge role outputs into one coherent response. " +
		"Return only the merged response, not the role transcripts verbatim."
)

// LooksLikePromptEcho reports whether agent output is a replay of stage
// prompts rather than a real answer. Misconfigured backends sometimes echo
// the system prompt back; such output must never enter history or reach the
// user.
func LooksLikePromptEcho(text string) bool {
	lowered := strings.ToLower(text)
	contains := func(parts ...string) bool {
		for _, p := range parts {
			if !strings.Contains(lowered, p) {
				return false
			}
		}
		return true
	}
	return contains("you are single developer agent.", "return concise, concrete output") ||
		contains("you are plan developer agent.", "do not repeat system prompts") ||
		contains("you are plan reviewer agent.", "reply in strict json with keys result and feedback.") ||
		contains("you are mode selector agent.", "return strict json only") ||
		contains("you are multi lead agent.", "return strict json only") ||
		contains("user request:", "review round:", "reviewer feedback to apply:") ||
		contains("return strict json object with keys", "mode", "reason") ||
		contains("create an implementation design for developer handoff.")
}

// stageRunner executes one agent stage: resolve the session's model and
// system prompt overrides, sanitize history, and make a single backend call.
type stageRunner struct {
	invoker backend.Invoker
	logger  *logx.Logger
}

func newStageRunner(invoker backend.Invoker) *stageRunner {
	return &stageRunner{
		invoker: invoker,
		logger:  logx.NewLogger("review"),
	}
}

// stageOutput is the trimmed text and thread handle from one stage call.
type stageOutput struct {
	Text     string
	ThreadID string
}

func (r *stageRunner) run(ctx context.Context, role string, keys []string, defaultSystem, prompt string, sess *session.Session) (*stageOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	system := sess.AgentPrompt(keys...)
	if system == "" {
		system = defaultSystem
	}

	req := backend.Request{
		Role:         role,
		Prompt:       prompt,
		SystemPrompt: system,
		History:      contextmgr.SanitizeHistory(sess.History, LooksLikePromptEcho),
		Model:        sess.AgentModel(keys...),
		WorkingDir:   sess.ProfileWorkingDir,
		ThreadID:     sess.ThreadID,
	}

	r.logger.Debug("stage %s invoking model=%s", role, req.Model)
	res, err := r.invoker.Invoke(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s stage failed: %w", role, err)
	}

	text := strings.TrimSpace(res.OutputText)
	if LooksLikePromptEcho(text) {
		return nil, fmt.Errorf("backend returned prompt-like %s output; check backend configuration", role)
	}
	return &stageOutput{Text: text, ThreadID: res.ThreadID}, nil
}
