package backend

import (
	"context"
	"strings"
)

// EchoInvoker is an offline backend that returns the prompt back. Used
// for development without credentials and for wiring checks; review
// parsing treats its output through the normal fallback paths.
type EchoInvoker struct {
	model string
}

// NewEchoInvoker creates the offline echo backend.
func NewEchoInvoker() *EchoInvoker {
	return &EchoInvoker{model: "echo"}
}

// Invoke implements Invoker.
func (e *EchoInvoker) Invoke(_ context.Context, req Request) (*Result, error) {
	text := "echo: " + strings.TrimSpace(req.Prompt)
	return &Result{
		ThreadID:         EnsureThreadID(req.ThreadID),
		OutputText:       text,
		RawOutput:        text,
		PromptTokens:     len(req.Prompt) / 4,
		CompletionTokens: len(text) / 4,
	}, nil
}

// ModelName implements Invoker.
func (e *EchoInvoker) ModelName() string {
	return e.model
}
