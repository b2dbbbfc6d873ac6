package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"conductor/pkg/backend"
	"conductor/pkg/contextmgr"
	"conductor/pkg/session"
)

// multiRoles is the fixed execution order for role sub-tasks. The lead may
// assign any subset; execution always follows this priority.
var multiRoles = []string{"designer", "frontend", "backend", "tester"}

var multiRoleSystems = map[string]string{
	"designer": "You are Multi Designer Agent. Produce the design for your assigned task. " +
		"Return concrete structure and interface decisions, not prose about process.",
	"frontend": "You are Multi Frontend Agent. Implement the user-facing part of your assigned task. " +
		"Return concrete output only.",
	"backend": "You are Multi Backend Agent. Implement the server-side part of your assigned task. " +
		"Return concrete output only.",
	"tester": "You are Multi Tester Agent. Produce verification steps and test cases for your assigned task. " +
		"Return concrete output only.",
}

// subTask is one lead-assigned unit of work.
type subTask struct {
	Role string `json:"role"`
	Task string `json:"task"`
}

// MultiFlow decomposes a request into role-scoped sub-tasks, runs each
// assigned role once in fixed priority order, and synthesizes the role
// outputs into one response. There are no review rounds.
type MultiFlow struct {
	stages *stageRunner
}

// NewMultiFlow creates the multi-role flow.
func NewMultiFlow(invoker backend.Invoker) *MultiFlow {
	return &MultiFlow{stages: newStageRunner(invoker)}
}

// Run implements Flow.
func (f *MultiFlow) Run(ctx context.Context, input string, sess *session.Session) (*Result, error) {
	leadOut, err := f.stages.run(ctx, "multi.lead", leadKeys, defaultLeadSystem, leadPrompt(input), sess)
	if err != nil {
		return nil, err
	}

	tasks := parseSubTasks(leadOut.Text)
	if len(tasks) == 0 {
		// Unparseable lead output: run the whole request as one backend task
		// so the flow still produces an implementation.
		f.stages.logger.Warn("lead output had no usable sub-tasks, assigning full request to backend role")
		tasks = map[string]string{"backend": input}
	}

	threadID := leadOut.ThreadID
	type roleOutput struct {
		Role string
		Text string
	}
	var outputs []roleOutput

	for _, role := range multiRoles {
		task, ok := tasks[role]
		if !ok {
			continue
		}
		keys := []string{"multi." + role, role}
		out, err := f.stages.run(ctx, "multi."+role, keys, multiRoleSystems[role], rolePrompt(input, role, task), sess)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, roleOutput{Role: role, Text: out.Text})
		threadID = out.ThreadID
	}

	var transcript strings.Builder
	for _, out := range outputs {
		fmt.Fprintf(&transcript, "[%s]\n%s\n\n", out.Role, out.Text)
	}

	synthOut, err := f.stages.run(ctx, "multi.synthesizer", synthesizerKeys, defaultSynthesizerSystem,
		synthesisPrompt(input, transcript.String()), sess)
	if err != nil {
		return nil, err
	}
	threadID = synthOut.ThreadID

	history := contextmgr.SanitizeHistory(sess.History, LooksLikePromptEcho)
	next := append(history,
		contextmgr.Message{Role: contextmgr.RoleUser, Content: input},
		contextmgr.Message{Role: contextmgr.RoleAssistant, Content: synthOut.Text},
	)

	return &Result{
		OutputText:   synthOut.Text,
		NextHistory:  next,
		ReviewRound:  0,
		ReviewResult: session.ReviewApproved,
		ThreadID:     threadID,
	}, nil
}

// parseSubTasks extracts role assignments from lead output. Duplicate roles
// merge with a blank line; unknown roles are dropped.
func parseSubTasks(raw string) map[string]string {
	items := extractJSONArray(raw)
	if items == nil {
		return nil
	}

	known := make(map[string]bool, len(multiRoles))
	for _, role := range multiRoles {
		known[role] = true
	}

	tasks := map[string]string{}
	for _, item := range items {
		role := strings.ToLower(strings.TrimSpace(item.Role))
		task := strings.TrimSpace(item.Task)
		if !known[role] || task == "" {
			continue
		}
		if existing, ok := tasks[role]; ok {
			tasks[role] = existing + "\n\n" + task
			continue
		}
		tasks[role] = task
	}
	return tasks
}

// extractJSONArray pulls the first JSON array of sub-tasks out of raw text,
// tolerating surrounding prose the same way extractJSONObject does.
func extractJSONArray(raw string) []subTask {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return nil
	}

	var items []subTask
	if err := json.Unmarshal([]byte(cleaned), &items); err == nil {
		return items
	}

	for i := 0; i < len(cleaned); i++ {
		if cleaned[i] != '[' {
			continue
		}
		decoder := json.NewDecoder(strings.NewReader(cleaned[i:]))
		var candidate []subTask
		if err := decoder.Decode(&candidate); err == nil {
			return candidate
		}
	}
	return nil
}

func leadPrompt(input string) string {
	return fmt.Sprintf("User request:\n%s\n\n"+
		"Decompose this request into role-scoped sub-tasks.\n\n"+
		"Available roles: designer, frontend, backend, tester.\n"+
		"Assign only the roles the request needs.\n\n"+
		"Return strict JSON only: an array of objects with keys role, task.", input)
}

func rolePrompt(input, role, task string) string {
	return fmt.Sprintf("User request:\n%s\n\n"+
		"Your role: %s\n"+
		"Assigned task:\n%s\n\n"+
		"Complete only your assigned task. Return concrete output.", input, role, task)
}

func synthesisPrompt(input, transcript string) string {
	return fmt.Sprintf("User request:\n%s\n\n"+
		"Role outputs:\n%s\n"+
		"Merge the role outputs into one coherent response for the user.", input, transcript)
}
