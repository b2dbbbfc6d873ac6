// Package middleware provides composable wrappers for execution backends:
// Prometheus metrics, health reporting, request defaults, context budget
// clipping, rate limiting, and retry with exponential backoff.
package middleware

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"conductor/pkg/backend"
)

// Recorder records metrics for backend requests.
type Recorder interface {
	ObserveRequest(model, role string, promptTokens, completionTokens int, success bool, errorType string, duration time.Duration)
}

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a Prometheus-based metrics recorder.
// Metrics register on the default registry; create at most one per process.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_requests_total",
				Help: "Total number of backend requests by model, agent role, and status",
			},
			[]string{"model", "role", "status", "error_type"},
		),
		tokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_tokens_total",
				Help: "Total number of tokens used in backend requests",
			},
			[]string{"model", "role", "type"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backend_request_duration_seconds",
				Help:    "Duration of backend requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "role"},
		),
	}
}

// ObserveRequest records metrics for a completed backend request.
func (p *PrometheusRecorder) ObserveRequest(model, role string, promptTokens, completionTokens int, success bool, errorType string, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}

	p.requestsTotal.WithLabelValues(model, role, status, errorType).Inc()

	if success {
		p.tokensTotal.WithLabelValues(model, role, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(model, role, "completion").Add(float64(completionTokens))
	}

	p.requestDuration.WithLabelValues(model, role).Observe(duration.Seconds())
}

// Metrics returns middleware that records every request to rec.
func Metrics(rec Recorder) backend.Middleware {
	return func(next backend.Invoker) backend.Invoker {
		return backend.WrapInvoker(
			func(ctx context.Context, req backend.Request) (*backend.Result, error) {
				model := req.Model
				if model == "" {
					model = next.ModelName()
				}

				start := time.Now()
				result, err := next.Invoke(ctx, req)
				duration := time.Since(start)

				if err != nil {
					rec.ObserveRequest(model, req.Role, 0, 0, false, backend.TypeOf(err).String(), duration)
					return nil, err
				}
				rec.ObserveRequest(model, req.Role, result.PromptTokens, result.CompletionTokens, true, "", duration)
				return result, nil
			},
			next.ModelName,
		)
	}
}
