// Package metrics provides services for querying and aggregating usage metrics.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// UsageMetrics represents aggregated backend usage for the running process.
type UsageMetrics struct {
	Model            string  `json:"model,omitempty"`
	Requests         int64   `json:"requests"`
	Failures         int64   `json:"failures"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	AvgLatencySec    float64 `json:"avg_latency_sec"`
}

// QueryService provides methods to query usage metrics from Prometheus.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

func (q *QueryService) scalar(ctx context.Context, query string) (float64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return float64(vector[0].Value), nil
	}
	return 0, nil
}

// GetUsage retrieves aggregated request and token metrics across all models.
func (q *QueryService) GetUsage(ctx context.Context) (*UsageMetrics, error) {
	usage := &UsageMetrics{}

	requests, err := q.scalar(ctx, `sum(backend_requests_total)`)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	usage.Requests = int64(requests)

	failures, err := q.scalar(ctx, `sum(backend_requests_total{status="error"})`)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures: %w", err)
	}
	usage.Failures = int64(failures)

	promptTokens, err := q.scalar(ctx, `sum(backend_tokens_total{type="prompt"})`)
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	usage.PromptTokens = int64(promptTokens)

	completionTokens, err := q.scalar(ctx, `sum(backend_tokens_total{type="completion"})`)
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	usage.CompletionTokens = int64(completionTokens)

	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	avgLatency, err := q.scalar(ctx,
		`sum(backend_request_duration_seconds_sum) / sum(backend_request_duration_seconds_count)`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latency: %w", err)
	}
	usage.AvgLatencySec = avgLatency

	return usage, nil
}

// GetUsageByModel retrieves usage metrics broken down by model.
func (q *QueryService) GetUsageByModel(ctx context.Context) (map[string]*UsageMetrics, error) {
	result := make(map[string]*UsageMetrics)

	modelsResult, _, err := q.queryAPI.Query(ctx, `group by (model) (backend_requests_total)`, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}

	var models []string
	if vector, ok := modelsResult.(model.Vector); ok {
		for _, sample := range vector {
			if modelName, ok := sample.Metric["model"]; ok {
				models = append(models, string(modelName))
			}
		}
	}

	for _, modelName := range models {
		usage := &UsageMetrics{Model: modelName}

		requests, err := q.scalar(ctx, fmt.Sprintf(`sum(backend_requests_total{model=%q})`, modelName))
		if err != nil {
			return nil, fmt.Errorf("failed to query requests for model %s: %w", modelName, err)
		}
		usage.Requests = int64(requests)

		failures, err := q.scalar(ctx, fmt.Sprintf(`sum(backend_requests_total{model=%q, status="error"})`, modelName))
		if err != nil {
			return nil, fmt.Errorf("failed to query failures for model %s: %w", modelName, err)
		}
		usage.Failures = int64(failures)

		promptTokens, err := q.scalar(ctx, fmt.Sprintf(`sum(backend_tokens_total{model=%q, type="prompt"})`, modelName))
		if err != nil {
			return nil, fmt.Errorf("failed to query prompt tokens for model %s: %w", modelName, err)
		}
		usage.PromptTokens = int64(promptTokens)

		completionTokens, err := q.scalar(ctx, fmt.Sprintf(`sum(backend_tokens_total{model=%q, type="completion"})`, modelName))
		if err != nil {
			return nil, fmt.Errorf("failed to query completion tokens for model %s: %w", modelName, err)
		}
		usage.CompletionTokens = int64(completionTokens)

		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

		result[modelName] = usage
	}

	return result, nil
}
