// Package openai provides the OpenAI execution backend using the official
// Go SDK's Responses API.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"conductor/pkg/backend"
)

// Client wraps the official OpenAI Go client to implement backend.Invoker.
type Client struct {
	client openai.Client
	model  string
}

// NewClient creates a raw OpenAI client; middleware is applied at a higher level.
func NewClient(apiKey, model string) *Client {
	return &Client{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Invoke implements backend.Invoker.
func (c *Client) Invoke(ctx context.Context, req backend.Request) (*backend.Result, error) {
	// The Responses API takes a single input string; render the
	// conversation inline.
	var input strings.Builder
	if req.SystemPrompt != "" {
		input.WriteString(fmt.Sprintf("System: %s\n\n", req.SystemPrompt))
	}
	for _, msg := range req.History {
		switch msg.Role {
		case "assistant":
			input.WriteString(fmt.Sprintf("Assistant: %s\n\n", msg.Content))
		default:
			input.WriteString(fmt.Sprintf("User: %s\n\n", msg.Content))
		}
	}
	input.WriteString(strings.TrimSpace(req.Prompt))

	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	params := responses.ResponseNewParams{
		Model:           model,
		MaxOutputTokens: openai.Int(int64(req.EffectiveMaxTokens())),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input.String())},
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return nil, backend.ClassifyError(err)
	}

	text := strings.TrimSpace(resp.OutputText())
	if text == "" {
		return nil, backend.NewError(backend.ErrorTypeEmptyResponse, "received empty response from OpenAI Responses API")
	}

	return &backend.Result{
		ThreadID:         backend.EnsureThreadID(req.ThreadID),
		OutputText:       text,
		RawOutput:        resp.OutputText(),
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}, nil
}

// ModelName returns the configured default model.
func (c *Client) ModelName() string {
	return c.model
}
