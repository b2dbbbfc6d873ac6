// Package backend defines the execution backend interface and shared
// request/response types used by all provider implementations.
package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"conductor/pkg/contextmgr"
)

// DefaultMaxTokens caps completion length when the request leaves it unset.
const DefaultMaxTokens = 4096

// Request describes one agent invocation.
type Request struct {
	// Role names the invoking agent, e.g. "plan.reviewer". Providers pass
	// it through to metrics; it never reaches the model.
	Role string

	Prompt       string
	SystemPrompt string
	History      []contextmgr.Message

	// Model overrides the provider default when non-empty.
	Model      string
	WorkingDir string

	// ThreadID continues an existing backend conversation. Empty starts
	// a new thread.
	ThreadID string

	MaxTokens   int
	Temperature float32
}

// Result is a completed invocation.
type Result struct {
	ThreadID         string
	OutputText       string
	RawOutput        string
	PromptTokens     int
	CompletionTokens int
}

// Invoker executes one agent request against a provider.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
	ModelName() string
}

// Conversation returns the full message list for providers that take
// history inline: sanitized history followed by the prompt as the final
// user message.
func (r *Request) Conversation() []contextmgr.Message {
	messages := make([]contextmgr.Message, 0, len(r.History)+1)
	messages = append(messages, r.History...)
	messages = append(messages, contextmgr.Message{
		Role:    contextmgr.RoleUser,
		Content: strings.TrimSpace(r.Prompt),
	})
	return messages
}

// EffectiveMaxTokens returns the request cap with the default applied.
func (r *Request) EffectiveMaxTokens() int {
	if r.MaxTokens > 0 {
		return r.MaxTokens
	}
	return DefaultMaxTokens
}

// EnsureThreadID returns the request's thread or mints a new one. Thread
// continuity is carried by replayed history, so the ID is a stable handle
// rather than a provider token.
func EnsureThreadID(threadID string) string {
	if threadID != "" {
		return threadID
	}
	return fmt.Sprintf("thr-%s", uuid.NewString()[:8])
}

// FlattenPrompt renders system prompt, history, and prompt as one text
// block for providers without a structured message API.
func (r *Request) FlattenPrompt() string {
	var b strings.Builder
	if r.SystemPrompt != "" {
		b.WriteString(r.SystemPrompt)
		b.WriteString("\n\n")
	}
	for _, msg := range r.History {
		b.WriteString(msg.Role)
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	if len(r.History) > 0 {
		b.WriteString("\n")
	}
	b.WriteString(strings.TrimSpace(r.Prompt))
	return b.String()
}
