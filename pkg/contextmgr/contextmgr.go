// Package contextmgr manages conversation history and token budgets.
package contextmgr

import (
	"fmt"
	"strings"
)

// Message represents a single message in the conversation context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Roles accepted into sanitized history. Anything else (system prompts,
// tool output, malformed entries) is dropped before a run.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MaxHistoryItems caps sanitized history length. Older entries are dropped
// first; the cap keeps replayed context bounded across long sessions.
const MaxHistoryItems = 20

// SanitizeHistory returns a cleaned copy of history: only user/assistant
// roles, no blank content, and nothing matched by dropContent (used to
// filter instruction echoes leaked by a misbehaving backend). The newest
// MaxHistoryItems entries survive.
func SanitizeHistory(history []Message, dropContent func(string) bool) []Message {
	cleaned := make([]Message, 0, len(history))
	for _, item := range history {
		role := strings.TrimSpace(item.Role)
		if role != RoleUser && role != RoleAssistant {
			continue
		}
		content := strings.TrimSpace(item.Content)
		if content == "" {
			continue
		}
		if dropContent != nil && dropContent(content) {
			continue
		}
		cleaned = append(cleaned, Message{Role: role, Content: content})
	}
	if len(cleaned) > MaxHistoryItems {
		cleaned = cleaned[len(cleaned)-MaxHistoryItems:]
	}
	return cleaned
}

// ContextManager manages conversation context and token counting.
type ContextManager struct {
	messages         []Message
	counter          *TokenCounter
	maxContextTokens int
}

// NewContextManager creates a context manager budgeted for the given model.
// A maxContextTokens of zero disables compaction.
func NewContextManager(model string, maxContextTokens int) *ContextManager {
	counter, err := NewTokenCounter(model)
	if err != nil {
		counter = nil // CountTokens falls back to char estimation
	}
	return &ContextManager{
		messages:         make([]Message, 0),
		counter:          counter,
		maxContextTokens: maxContextTokens,
	}
}

// AddMessage stores a role/content pair in the context.
func (cm *ContextManager) AddMessage(role, content string) {
	cm.messages = append(cm.messages, Message{Role: role, Content: content})
}

// SetMessages replaces the context with a copy of messages.
func (cm *ContextManager) SetMessages(messages []Message) {
	cm.messages = make([]Message, len(messages))
	copy(cm.messages, messages)
}

// Messages returns a copy of all messages in the context.
func (cm *ContextManager) Messages() []Message {
	result := make([]Message, len(cm.messages))
	copy(result, cm.messages)
	return result
}

// Clear removes all messages from the context.
func (cm *ContextManager) Clear() {
	cm.messages = cm.messages[:0]
}

// MessageCount returns the number of messages in the context.
func (cm *ContextManager) MessageCount() int {
	return len(cm.messages)
}

// CountTokens returns the token count across all messages.
func (cm *ContextManager) CountTokens() int {
	total := 0
	for _, message := range cm.messages {
		total += cm.countText(message.Role) + cm.countText(message.Content)
	}
	return total
}

// ShouldCompact checks if compaction is needed without performing it.
func (cm *ContextManager) ShouldCompact() bool {
	if cm.maxContextTokens <= 0 {
		return false
	}
	return cm.CountTokens() > cm.maxContextTokens
}

// CompactIfNeeded drops the oldest messages until the context fits the
// token budget. At least one message always survives.
func (cm *ContextManager) CompactIfNeeded() {
	if cm.maxContextTokens <= 0 {
		return
	}
	for cm.CountTokens() > cm.maxContextTokens && len(cm.messages) > 1 {
		cm.messages = cm.messages[1:]
	}
}

// Summary returns a brief description of the context state.
func (cm *ContextManager) Summary() string {
	if len(cm.messages) == 0 {
		return "Empty context"
	}

	roleCounts := make(map[string]int)
	for _, message := range cm.messages {
		roleCounts[message.Role]++
	}

	var roleBreakdown []string
	for _, role := range []string{RoleUser, RoleAssistant} {
		if count, ok := roleCounts[role]; ok {
			roleBreakdown = append(roleBreakdown, fmt.Sprintf("%s: %d", role, count))
		}
	}

	return fmt.Sprintf("%d messages (%d tokens) - %s",
		len(cm.messages), cm.CountTokens(), strings.Join(roleBreakdown, ", "))
}

func (cm *ContextManager) countText(text string) int {
	if cm.counter == nil {
		return len(text) / 4
	}
	return cm.counter.CountTokens(text)
}
