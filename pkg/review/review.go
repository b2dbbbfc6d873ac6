// Package review implements the agent flows that execute a user instruction:
// a direct single-developer pass, a planner/developer/reviewer loop with
// bounded review rounds, and a multi-role decomposition flow.
package review

import (
	"context"

	"conductor/pkg/contextmgr"
	"conductor/pkg/session"
)

// Result is the outcome of a completed flow.
type Result struct {
	OutputText   string
	NextHistory  []contextmgr.Message
	ReviewRound  int
	ReviewResult session.ReviewResult
	ThreadID     string
}

// Flow executes one user instruction against a session. Implementations must
// not mutate the session; the coordinator persists results after a successful
// run.
type Flow interface {
	Run(ctx context.Context, input string, sess *session.Session) (*Result, error)
}

// Decision is a reviewer verdict for one round.
type Decision struct {
	Result   session.ReviewResult
	Feedback string
}

// SelectorDecision classifies an instruction into an execution path.
type SelectorDecision struct {
	Mode   session.Mode
	Reason string
}

// Flows bundles one flow per mode.
type Flows struct {
	Single Flow
	Plan   Flow
	Multi  Flow
}

// ForMode returns the flow for a session mode, defaulting to single.
func (f Flows) ForMode(mode session.Mode) Flow {
	switch mode {
	case session.ModePlan:
		return f.Plan
	case session.ModeMulti:
		return f.Multi
	default:
		return f.Single
	}
}
