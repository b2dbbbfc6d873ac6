// Package anthropic provides the Anthropic Claude execution backend.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"conductor/pkg/backend"
	"conductor/pkg/contextmgr"
)

// Client wraps the Anthropic API client to implement backend.Invoker.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClient creates a raw Claude client; middleware is applied at a higher level.
func NewClient(apiKey, model string) *Client {
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// ensureAlternation prepares messages for Anthropic API requirements:
// consecutive user messages are merged and the sequence must end with a
// user message.
func ensureAlternation(messages []contextmgr.Message) ([]contextmgr.Message, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}

	var merged []contextmgr.Message
	var userParts []string

	flush := func() {
		if len(userParts) > 0 {
			merged = append(merged, contextmgr.Message{
				Role:    contextmgr.RoleUser,
				Content: strings.Join(userParts, "\n\n"),
			})
			userParts = nil
		}
	}

	for _, msg := range messages {
		if msg.Role == contextmgr.RoleAssistant {
			flush()
			// Consecutive assistant messages would still violate
			// alternation; fold them into the previous one.
			if len(merged) > 0 && merged[len(merged)-1].Role == contextmgr.RoleAssistant {
				merged[len(merged)-1].Content += "\n\n" + msg.Content
				continue
			}
			merged = append(merged, msg)
			continue
		}
		userParts = append(userParts, msg.Content)
	}
	flush()

	if merged[0].Role != contextmgr.RoleUser {
		return nil, fmt.Errorf("first message must be user role, got: %s", merged[0].Role)
	}
	if merged[len(merged)-1].Role != contextmgr.RoleUser {
		return nil, fmt.Errorf("last message must be user role, got: %s", merged[len(merged)-1].Role)
	}
	return merged, nil
}

// Invoke implements backend.Invoker.
func (c *Client) Invoke(ctx context.Context, req backend.Request) (*backend.Result, error) {
	alternating, err := ensureAlternation(req.Conversation())
	if err != nil {
		return nil, backend.NewErrorWithCause(backend.ErrorTypeBadPrompt, err, "message alternation error")
	}

	messages := make([]anthropic.MessageParam, 0, len(alternating))
	for _, msg := range alternating {
		messages = append(messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(msg.Role),
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)},
		})
	}

	model := c.model
	if req.Model != "" {
		model = anthropic.Model(req.Model)
	}

	params := anthropic.MessageNewParams{
		Model:       model,
		Messages:    messages,
		MaxTokens:   int64(req.EffectiveMaxTokens()),
		Temperature: anthropic.Float(float64(req.Temperature)),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{
			Text: req.SystemPrompt,
			Type: "text",
		}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, backend.ClassifyError(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return nil, backend.NewError(backend.ErrorTypeEmptyResponse, "received empty or nil response from Claude API")
	}

	var text strings.Builder
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}

	return &backend.Result{
		ThreadID:         backend.EnsureThreadID(req.ThreadID),
		OutputText:       strings.TrimSpace(text.String()),
		RawOutput:        text.String(),
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}, nil
}

// ModelName returns the configured default model.
func (c *Client) ModelName() string {
	return string(c.model)
}
