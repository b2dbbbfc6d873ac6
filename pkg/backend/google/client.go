// Package google provides the Google Gemini execution backend.
package google

import (
	"context"
	"strings"

	"google.golang.org/genai"

	"conductor/pkg/backend"
	"conductor/pkg/contextmgr"
)

// Client wraps the Google GenAI client to implement backend.Invoker.
type Client struct {
	client *genai.Client
	apiKey string
	model  string
}

// NewClient creates a Gemini client. SDK client creation needs a context,
// so it is deferred to the first Invoke.
func NewClient(apiKey, model string) *Client {
	return &Client{
		apiKey: apiKey,
		model:  model,
	}
}

// Invoke implements backend.Invoker.
func (c *Client) Invoke(ctx context.Context, req backend.Request) (*backend.Result, error) {
	if c.client == nil {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  c.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, backend.ClassifyError(err)
		}
		c.client = client
	}

	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, msg := range req.Conversation() {
		role := genai.RoleUser
		if msg.Role == contextmgr.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}

	temperature := req.Temperature
	//nolint:gosec // MaxTokens validated at a higher layer
	maxTokens := int32(req.EffectiveMaxTokens())
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: maxTokens,
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}

	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	result, err := c.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, backend.ClassifyError(err)
	}
	if result == nil || strings.TrimSpace(result.Text()) == "" {
		return nil, backend.NewError(backend.ErrorTypeEmptyResponse, "received empty response from Gemini API")
	}

	res := &backend.Result{
		ThreadID:   backend.EnsureThreadID(req.ThreadID),
		OutputText: strings.TrimSpace(result.Text()),
		RawOutput:  result.Text(),
	}
	if result.UsageMetadata != nil {
		res.PromptTokens = int(result.UsageMetadata.PromptTokenCount)
		res.CompletionTokens = int(result.UsageMetadata.CandidatesTokenCount)
	}
	return res, nil
}

// ModelName returns the configured default model.
func (c *Client) ModelName() string {
	return c.model
}
