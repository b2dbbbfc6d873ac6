// Package ollamaclient provides the Ollama execution backend for local
// open-source models.
package ollamaclient

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"conductor/pkg/backend"
)

// Client wraps the Ollama API client to implement backend.Invoker.
type Client struct {
	client  *api.Client
	model   string
	hostURL string
}

// NewClient creates an Ollama client. hostURL is the server URL, e.g.
// "http://localhost:11434"; an unparseable URL falls back to the default.
func NewClient(hostURL, model string) *Client {
	parsedURL, err := url.Parse(hostURL)
	if err != nil || parsedURL.Host == "" {
		parsedURL, _ = url.Parse("http://localhost:11434")
	}
	return &Client{
		client:  api.NewClient(parsedURL, http.DefaultClient),
		model:   model,
		hostURL: hostURL,
	}
}

// Invoke implements backend.Invoker.
func (c *Client) Invoke(ctx context.Context, req backend.Request) (*backend.Result, error) {
	messages := make([]api.Message, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.SystemPrompt})
	}
	for _, msg := range req.Conversation() {
		messages = append(messages, api.Message{Role: msg.Role, Content: msg.Content})
	}

	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	stream := false // no streaming in Invoke
	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.EffectiveMaxTokens(),
		},
	}

	var response api.ChatResponse
	err := c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return nil, backend.ClassifyError(err)
	}

	text := strings.TrimSpace(response.Message.Content)
	if text == "" {
		return nil, backend.NewError(backend.ErrorTypeEmptyResponse, "received empty response from Ollama")
	}

	return &backend.Result{
		ThreadID:         backend.EnsureThreadID(req.ThreadID),
		OutputText:       text,
		RawOutput:        response.Message.Content,
		PromptTokens:     response.Metrics.PromptEvalCount,
		CompletionTokens: response.Metrics.EvalCount,
	}, nil
}

// ModelName returns the configured default model.
func (c *Client) ModelName() string {
	return c.model
}
