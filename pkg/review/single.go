package review

import (
	"context"

	"conductor/pkg/backend"
	"conductor/pkg/contextmgr"
	"conductor/pkg/session"
)

// SingleFlow runs the developer stage once with no review loop. It is the
// default flow and the delegation target when the plan selector classifies a
// request as simple.
type SingleFlow struct {
	stages *stageRunner
}

// NewSingleFlow creates the single-developer flow.
func NewSingleFlow(invoker backend.Invoker) *SingleFlow {
	return &SingleFlow{stages: newStageRunner(invoker)}
}

// Run implements Flow.
func (f *SingleFlow) Run(ctx context.Context, input string, sess *session.Session) (*Result, error) {
	out, err := f.stages.run(ctx, "single.developer", singleDeveloperKeys, defaultSingleDeveloperSystem, input, sess)
	if err != nil {
		return nil, err
	}

	history := contextmgr.SanitizeHistory(sess.History, LooksLikePromptEcho)
	next := append(history,
		contextmgr.Message{Role: contextmgr.RoleUser, Content: input},
		contextmgr.Message{Role: contextmgr.RoleAssistant, Content: out.Text},
	)

	return &Result{
		OutputText:   out.Text,
		NextHistory:  next,
		ReviewRound:  0,
		ReviewResult: session.ReviewApproved,
		ThreadID:     out.ThreadID,
	}, nil
}
