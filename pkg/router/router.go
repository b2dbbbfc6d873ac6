// Package router classifies chat input and dispatches reserved commands.
// Anything that is not a reserved command goes to the coordinator: plain
// text as an instruction, unreserved slash input forwarded verbatim.
package router

import "strings"

// Kind classifies one piece of input.
type Kind string

const (
	// KindCommand is a reserved bot command handled locally.
	KindCommand Kind = "command"
	// KindPassthrough is slash input that is not reserved; it is forwarded
	// to the backend verbatim.
	KindPassthrough Kind = "passthrough"
	// KindText is a plain instruction.
	KindText Kind = "text"
)

// Route is the classification result for one input line.
type Route struct {
	Kind    Kind
	Text    string
	Command string
	Args    []string
}

// reservedCommands are handled by the router itself.
var reservedCommands = map[string]bool{
	"start":   true,
	"new":     true,
	"mode":    true,
	"status":  true,
	"profile": true,
	"cancel":  true,
	"stats":   true,
}

// Parse classifies raw chat input.
func Parse(text string) Route {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return Route{Kind: KindText, Text: ""}
	}

	if !strings.HasPrefix(raw, "/") {
		return Route{Kind: KindText, Text: raw}
	}

	parts := strings.Fields(raw)
	command := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if !reservedCommands[command] {
		return Route{Kind: KindPassthrough, Text: raw}
	}

	args := make([]string, 0, len(parts)-1)
	for _, part := range parts[1:] {
		args = append(args, strings.ToLower(part))
	}
	return Route{Kind: KindCommand, Text: raw, Command: command, Args: args}
}
