package review

import (
	"context"
	"fmt"
	"strings"

	"conductor/pkg/backend"
	"conductor/pkg/contextmgr"
	"conductor/pkg/session"
)

// PlanFlow runs selector -> planner -> developer/reviewer rounds. The
// selector can delegate simple requests straight to the single flow; plan
// requests get a planner handoff and a bounded review loop.
type PlanFlow struct {
	stages    *stageRunner
	single    Flow
	maxRounds int
}

// NewPlanFlow creates the plan flow. single is the delegation target for
// requests the selector classifies as simple.
func NewPlanFlow(invoker backend.Invoker, single Flow, maxRounds int) *PlanFlow {
	if maxRounds < 1 {
		maxRounds = 1
	}
	return &PlanFlow{
		stages:    newStageRunner(invoker),
		single:    single,
		maxRounds: maxRounds,
	}
}

type roundRecord struct {
	Round    int
	Result   session.ReviewResult
	Feedback string
}

// Run implements Flow.
func (f *PlanFlow) Run(ctx context.Context, input string, sess *session.Session) (*Result, error) {
	decision, err := f.selectMode(ctx, input, sess)
	if err != nil {
		return nil, err
	}

	if decision.Mode == session.ModeSingle {
		f.stages.logger.Info("selector delegated to single flow: %s", decision.Reason)
		return f.single.Run(ctx, input, sess)
	}

	planOut, err := f.stages.run(ctx, "plan.planner", plannerKeys, defaultPlannerSystem, plannerPrompt(input), sess)
	if err != nil {
		return nil, err
	}
	clippedPlan := clipPlannerOutput(planOut.Text)
	execInput := composeExecutionInput(input, clippedPlan)

	var (
		draft        string
		threadID     = planOut.ThreadID
		feedback     string
		prevFeedback string
		prevDraft    string
		rounds       []roundRecord
		reviewRound  int
		reviewResult = session.ReviewApproved
	)

	for round := 1; round <= f.maxRounds; round++ {
		devOut, err := f.stages.run(ctx, "plan.developer", developerKeys, defaultDeveloperSystem,
			developerPrompt(execInput, round, feedback), sess)
		if err != nil {
			return nil, err
		}
		draft = devOut.Text
		threadID = devOut.ThreadID

		revOut, err := f.stages.run(ctx, "plan.reviewer", reviewerKeys, defaultReviewerSystem,
			reviewerPrompt(execInput, draft, round), sess)
		if err != nil {
			return nil, err
		}
		threadID = revOut.ThreadID

		verdict := parseReview(revOut.Text)
		clipped := clipFeedback(verdict.Feedback)
		rounds = append(rounds, roundRecord{Round: round, Result: verdict.Result, Feedback: clipped})
		reviewRound = round

		if verdict.Result == session.ReviewApproved {
			reviewResult = session.ReviewApproved
			break
		}

		if round == f.maxRounds {
			reviewResult = session.ReviewMaxRoundsReached
			break
		}

		// A repeated draft or repeated feedback means the loop has stopped
		// converging; burning the remaining rounds would produce the same
		// output again.
		if prevDraft != "" && draft == prevDraft {
			f.stages.logger.Info("review loop stalled on identical draft at round %d", round)
			reviewResult = session.ReviewMaxRoundsReached
			break
		}
		if prevFeedback != "" && clipped != "" && clipped == prevFeedback {
			f.stages.logger.Info("review loop stalled on identical feedback at round %d", round)
			reviewResult = session.ReviewMaxRoundsReached
			break
		}

		feedback = clipped
		prevFeedback = clipped
		prevDraft = draft
	}

	baseOutput := strings.TrimSpace(draft)
	if baseOutput == "" {
		baseOutput = clippedPlan
	}

	finalOutput := f.annotateOutput(baseOutput, rounds, reviewResult)
	finalOutput = fmt.Sprintf("[Selector] mode=%s, reason=%s\n\n%s", decision.Mode, decision.Reason, finalOutput)

	history := contextmgr.SanitizeHistory(sess.History, LooksLikePromptEcho)
	next := append(history,
		contextmgr.Message{Role: contextmgr.RoleUser, Content: input},
		contextmgr.Message{Role: contextmgr.RoleAssistant, Content: baseOutput},
	)

	return &Result{
		OutputText:   finalOutput,
		NextHistory:  next,
		ReviewRound:  reviewRound,
		ReviewResult: reviewResult,
		ThreadID:     threadID,
	}, nil
}

func (f *PlanFlow) selectMode(ctx context.Context, input string, sess *session.Session) (SelectorDecision, error) {
	out, err := f.stages.run(ctx, "plan.selector", selectorKeys, defaultSelectorSystem, selectorPrompt(input), sess)
	if err != nil {
		return SelectorDecision{}, err
	}
	return parseSelector(out.Text), nil
}

// annotateOutput appends the review summary line, and the last feedback when
// the loop ended without approval.
func (f *PlanFlow) annotateOutput(candidate string, rounds []roundRecord, result session.ReviewResult) string {
	lastRound := 0
	lastFeedback := ""
	if len(rounds) > 0 {
		lastRound = rounds[len(rounds)-1].Round
		lastFeedback = strings.TrimSpace(rounds[len(rounds)-1].Feedback)
	}
	summary := fmt.Sprintf("[plan-review] rounds=%d/%d, result=%s", lastRound, f.maxRounds, result)

	if result != session.ReviewApproved && lastFeedback != "" {
		if candidate != "" {
			return fmt.Sprintf("%s\n\n%s\nlast_feedback: %s", candidate, summary, lastFeedback)
		}
		return fmt.Sprintf("%s\nlast_feedback: %s", summary, lastFeedback)
	}
	if candidate != "" {
		return fmt.Sprintf("%s\n\n%s", candidate, summary)
	}
	return summary
}

func selectorPrompt(input string) string {
	return fmt.Sprintf("User request:\n%s\n\n"+
		"Classify this request to determine execution mode.\n\n"+
		"Return strict JSON with keys:\n"+
		"- mode (string): 'single' or 'plan'\n"+
		"- reason (string): brief explanation (1 sentence)\n\n"+
		"Classification rules:\n"+
		"1. SINGLE MODE:\n"+
		"   - Questions: 'what is...', 'explain...', 'how to...'\n"+
		"   - Inspection: 'show me...', 'read file...', 'list...'\n"+
		"   - Quick fixes: 'fix typo', 'rename variable', 'add import'\n"+
		"   - Single file, < 20 lines change\n"+
		"   - No architecture impact\n\n"+
		"2. PLAN MODE:\n"+
		"   - New features: 'add...', 'implement...', 'create...'\n"+
		"   - Refactoring: 'restructure...', 'migrate...', 'redesign...'\n"+
		"   - Multi-file changes: > 2 files\n"+
		"   - Architecture changes: new modules, API design\n"+
		"   - Complex bugs: requires investigation\n\n"+
		"Default to single mode when uncertain.\n"+
		"Return JSON only.", input)
}

func plannerPrompt(input string) string {
	return fmt.Sprintf("User request:\n%s\n\n"+
		"Create an implementation design for developer handoff.\n\n"+
		"Provide:\n"+
		"1. Implementation steps (numbered)\n"+
		"2. Files to modify/create\n"+
		"3. Key considerations\n"+
		"4. Acceptance criteria\n\n"+
		"Be concrete and specific. No JSON required.", input)
}

func developerPrompt(execInput string, round int, feedback string) string {
	if feedback == "" {
		feedback = "-"
	}
	return fmt.Sprintf("User request:\n%s\n\n"+
		"Review round: %d\n"+
		"Reviewer feedback to apply:\n%s\n\n"+
		"Implement the request directly. Return only the final developer response, not prompts.",
		execInput, round, feedback)
}

func reviewerPrompt(execInput, candidate string, round int) string {
	return fmt.Sprintf("User request:\n%s\n\n"+
		"Candidate output:\n%s\n\n"+
		"Review round: %d", execInput, candidate, round)
}

func composeExecutionInput(input, plan string) string {
	if plan == "" {
		return input
	}
	return fmt.Sprintf("%s\n\nPlanner handoff:\n%s", input, plan)
}
