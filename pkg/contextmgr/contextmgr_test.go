package contextmgr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeHistory(t *testing.T) {
	history := []Message{
		{Role: "user", Content: "fix the parser"},
		{Role: "system", Content: "internal instructions"},
		{Role: "assistant", Content: "done"},
		{Role: "user", Content: "   "},
		{Role: "", Content: "orphaned"},
		{Role: "assistant", Content: "  padded  "},
	}

	cleaned := SanitizeHistory(history, nil)

	assert.Equal(t, []Message{
		{Role: "user", Content: "fix the parser"},
		{Role: "assistant", Content: "done"},
		{Role: "assistant", Content: "padded"},
	}, cleaned)
}

func TestSanitizeHistoryDropContent(t *testing.T) {
	history := []Message{
		{Role: "assistant", Content: "You are Developer Agent. Improve the draft."},
		{Role: "assistant", Content: "real answer"},
	}

	cleaned := SanitizeHistory(history, func(content string) bool {
		return strings.HasPrefix(content, "You are")
	})

	assert.Equal(t, []Message{{Role: "assistant", Content: "real answer"}}, cleaned)
}

func TestSanitizeHistoryCapsLength(t *testing.T) {
	history := make([]Message, 0, MaxHistoryItems+10)
	for i := 0; i < MaxHistoryItems+10; i++ {
		history = append(history, Message{Role: "user", Content: strings.Repeat("x", i+1)})
	}

	cleaned := SanitizeHistory(history, nil)

	assert.Len(t, cleaned, MaxHistoryItems)
	// Newest entries survive.
	assert.Equal(t, history[len(history)-1].Content, cleaned[len(cleaned)-1].Content)
	assert.Equal(t, history[10].Content, cleaned[0].Content)
}

func TestAddAndCountMessages(t *testing.T) {
	cm := NewContextManager("gpt-4", 0)

	cm.AddMessage("user", "hello")
	cm.AddMessage("assistant", "hi there")

	assert.Equal(t, 2, cm.MessageCount())
	assert.Greater(t, cm.CountTokens(), 0)

	messages := cm.Messages()
	messages[0].Content = "mutated"
	assert.Equal(t, "hello", cm.Messages()[0].Content, "Messages must return a copy")
}

func TestCompaction(t *testing.T) {
	cm := NewContextManager("gpt-4", 50)

	for i := 0; i < 30; i++ {
		cm.AddMessage("user", strings.Repeat("lorem ipsum dolor ", 10))
	}

	assert.True(t, cm.ShouldCompact())
	cm.CompactIfNeeded()
	assert.GreaterOrEqual(t, cm.MessageCount(), 1)
	assert.Less(t, cm.MessageCount(), 30, "oldest messages should be dropped")
	if cm.MessageCount() > 1 {
		assert.LessOrEqual(t, cm.CountTokens(), 50)
	}
}

func TestCompactionDisabledWithZeroBudget(t *testing.T) {
	cm := NewContextManager("gpt-4", 0)
	for i := 0; i < 100; i++ {
		cm.AddMessage("user", "some content here")
	}

	assert.False(t, cm.ShouldCompact())
	cm.CompactIfNeeded()
	assert.Equal(t, 100, cm.MessageCount())
}

func TestSummary(t *testing.T) {
	cm := NewContextManager("gpt-4", 0)
	assert.Equal(t, "Empty context", cm.Summary())

	cm.AddMessage("user", "one")
	cm.AddMessage("assistant", "two")
	cm.AddMessage("user", "three")

	summary := cm.Summary()
	assert.Contains(t, summary, "3 messages")
	assert.Contains(t, summary, "user: 2")
	assert.Contains(t, summary, "assistant: 1")
}

func TestTokenCounterFallback(t *testing.T) {
	var tc *TokenCounter
	assert.Equal(t, len("12345678")/4, tc.CountTokens("12345678"))
}
