// Package session defines the per-chat session model and its persistence.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"conductor/pkg/contextmgr"
)

// Mode selects which review flow executes a run.
type Mode string

const (
	ModeSingle Mode = "single"
	ModePlan   Mode = "plan"
	ModeMulti  Mode = "multi"
)

// ParseMode normalizes a user-supplied mode string.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSingle:
		return ModeSingle, true
	case ModePlan:
		return ModePlan, true
	case ModeMulti:
		return ModeMulti, true
	}
	return "", false
}

// ReviewResult is the outcome of a review loop.
type ReviewResult string

const (
	ReviewApproved         ReviewResult = "approved"
	ReviewNeedsChanges     ReviewResult = "needs_changes"
	ReviewMaxRoundsReached ReviewResult = "max_rounds_reached"
)

// RunStatus summarizes the last completed run.
type RunStatus string

const (
	RunIdle  RunStatus = "idle"
	RunOK    RunStatus = "ok"
	RunError RunStatus = "error"
)

// Key identifies a session by chat and user.
type Key struct {
	ChatID string
	UserID string
}

func (k Key) String() string {
	return fmt.Sprintf("%s-%s", k.ChatID, k.UserID)
}

// Session is the durable per-chat state. Every field a run mutates is
// persisted after the run so a restart resumes exactly where it left off.
type Session struct {
	SessionID string `json:"session_id"`
	ChatID    string `json:"chat_id"`
	UserID    string `json:"user_id"`
	Mode      Mode   `json:"mode"`

	// ThreadID is the backend conversation handle. It only advances after
	// a successful run; failed runs keep the previous thread intact.
	ThreadID string               `json:"thread_id"`
	History  []contextmgr.Message `json:"history"`

	// RunLock mirrors the on-disk lock file for status display. The lock
	// file is authoritative; this flag is diagnostic only.
	RunLock bool `json:"run_lock"`

	LastError        string       `json:"last_error,omitempty"`
	LastRunStatus    RunStatus    `json:"last_run_status"`
	LastRunLatencyMS int64        `json:"last_run_latency_ms"`
	LastReviewRound  int          `json:"last_review_round"`
	LastReviewResult ReviewResult `json:"last_review_result,omitempty"`

	ProfileName       string            `json:"profile_name"`
	ProfileModel      string            `json:"profile_model,omitempty"`
	ProfileWorkingDir string            `json:"profile_working_directory,omitempty"`
	AgentModels       map[string]string `json:"profile_agent_models"`
	AgentPrompts      map[string]string `json:"profile_agent_system_prompts"`

	UpdatedAt time.Time `json:"updated_at"`
}

// New returns a fresh session for the key with defaults applied.
func New(key Key) *Session {
	s := &Session{
		SessionID: uuid.NewString(),
		ChatID:    key.ChatID,
		UserID:    key.UserID,
	}
	s.applyDefaults()
	return s
}

// Key returns the session's identity.
func (s *Session) Key() Key {
	return Key{ChatID: s.ChatID, UserID: s.UserID}
}

// Touch updates the modification timestamp.
func (s *Session) Touch() {
	s.UpdatedAt = time.Now().UTC()
}

// applyDefaults coerces out-of-range values back to defaults. Records
// written by older versions or edited by hand load leniently instead of
// failing the run.
func (s *Session) applyDefaults() {
	if _, ok := ParseMode(string(s.Mode)); !ok {
		s.Mode = ModeSingle
	}
	switch s.LastRunStatus {
	case RunIdle, RunOK, RunError:
	default:
		s.LastRunStatus = RunIdle
	}
	switch s.LastReviewResult {
	case ReviewApproved, ReviewNeedsChanges, ReviewMaxRoundsReached, "":
	default:
		s.LastReviewResult = ""
	}
	s.ProfileName = strings.TrimSpace(s.ProfileName)
	if s.ProfileName == "" {
		s.ProfileName = "default"
	}
	s.ProfileModel = strings.TrimSpace(s.ProfileModel)
	s.ProfileWorkingDir = strings.TrimSpace(s.ProfileWorkingDir)
	if s.History == nil {
		s.History = []contextmgr.Message{}
	}
	if s.AgentModels == nil {
		s.AgentModels = map[string]string{}
	}
	if s.AgentPrompts == nil {
		s.AgentPrompts = map[string]string{}
	}
	if s.UpdatedAt.IsZero() {
		s.Touch()
	}
}

// AgentModel returns the first model override matching keys, falling back
// to the profile model. Empty means no override.
func (s *Session) AgentModel(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(s.AgentModels[key]); v != "" {
			return v
		}
	}
	return s.ProfileModel
}

// AgentPrompt returns the first system prompt override matching keys.
// Empty means the caller's default applies.
func (s *Session) AgentPrompt(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(s.AgentPrompts[key]); v != "" {
			return v
		}
	}
	return ""
}
