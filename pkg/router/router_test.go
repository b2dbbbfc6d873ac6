package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		kind    Kind
		command string
		args    []string
	}{
		{"empty", "", KindText, "", nil},
		{"whitespace", "   ", KindText, "", nil},
		{"plain text", "fix the bug", KindText, "", nil},
		{"start", "/start", KindCommand, "start", []string{}},
		{"new", "/new", KindCommand, "new", []string{}},
		{"mode with arg", "/mode plan", KindCommand, "mode", []string{"plan"}},
		{"mode uppercase", "/MODE Plan", KindCommand, "mode", []string{"plan"}},
		{"status", "/status", KindCommand, "status", []string{}},
		{"profile list", "/profile list", KindCommand, "profile", []string{"list"}},
		{"cancel", "/cancel", KindCommand, "cancel", []string{}},
		{"stats", "/stats", KindCommand, "stats", []string{}},
		{"unreserved slash", "/compact now", KindPassthrough, "", nil},
		{"unreserved bare", "/diff", KindPassthrough, "", nil},
		{"slash mid-text", "run /status for me", KindText, "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route := Parse(tt.input)
			assert.Equal(t, tt.kind, route.Kind)
			assert.Equal(t, tt.command, route.Command)
			if tt.args != nil {
				assert.Equal(t, tt.args, route.Args)
			}
		})
	}
}

func TestParsePreservesRawText(t *testing.T) {
	route := Parse("  /compact --force  ")
	assert.Equal(t, KindPassthrough, route.Kind)
	assert.Equal(t, "/compact --force", route.Text)
}
