package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records the engine's operational counters. All methods are safe on
// a nil receiver path via the Noop implementation.
type Metrics interface {
	RecordLLMCall(ctx context.Context, model, channel string, duration time.Duration, inputTokens, outputTokens int, costUSD float64, err error)
	RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error)
	RecordPhaseRetry(ctx context.Context, reason string)
	RecordTurn(ctx context.Context, profileType, status string, duration time.Duration)
	RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration)
}

// PrometheusMetrics is the OTel-metrics implementation backed by the
// Prometheus exporter; the default registry is served by Handler().
type PrometheusMetrics struct {
	llmCalls        metric.Int64Counter
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmCostUSD      metric.Float64Counter
	llmErrors       metric.Int64Counter
	llmDuration     metric.Float64Histogram

	toolDuration metric.Float64Histogram
	toolCalls    metric.Int64Counter
	toolErrors   metric.Int64Counter

	phaseRetries metric.Int64Counter
	turns        metric.Int64Counter
	turnDuration metric.Float64Histogram

	httpRequests metric.Int64Counter
	httpDuration metric.Float64Histogram
}

// InitMetrics creates the Prometheus-exported instrument set. Disabled
// metrics return an empty struct whose recorders are no-ops.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)
	meter := meterProvider.Meter("praxis")

	m := &PrometheusMetrics{}

	if m.llmCalls, err = meter.Int64Counter(
		"praxis_llm_calls_total",
		metric.WithDescription("LM API calls by model and channel"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm calls counter: %w", err)
	}
	if m.llmInputTokens, err = meter.Int64Counter(
		"praxis_llm_tokens_input_total",
		metric.WithDescription("Input tokens consumed"),
	); err != nil {
		return nil, fmt.Errorf("failed to create input tokens counter: %w", err)
	}
	if m.llmOutputTokens, err = meter.Int64Counter(
		"praxis_llm_tokens_output_total",
		metric.WithDescription("Output tokens generated"),
	); err != nil {
		return nil, fmt.Errorf("failed to create output tokens counter: %w", err)
	}
	if m.llmCostUSD, err = meter.Float64Counter(
		"praxis_llm_cost_usd_total",
		metric.WithDescription("Cumulative LM spend in USD"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cost counter: %w", err)
	}
	if m.llmErrors, err = meter.Int64Counter(
		"praxis_llm_errors_total",
		metric.WithDescription("Failed LM API calls"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}
	if m.llmDuration, err = meter.Float64Histogram(
		"praxis_llm_call_duration_seconds",
		metric.WithDescription("LM call duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}
	if m.toolDuration, err = meter.Float64Histogram(
		"praxis_tool_call_duration_seconds",
		metric.WithDescription("Tool invocation duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}
	if m.toolCalls, err = meter.Int64Counter(
		"praxis_tool_calls_total",
		metric.WithDescription("Tool invocations by tool name"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}
	if m.toolErrors, err = meter.Int64Counter(
		"praxis_tool_errors_total",
		metric.WithDescription("Failed tool invocations"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool errors counter: %w", err)
	}
	if m.phaseRetries, err = meter.Int64Counter(
		"praxis_phase_retries_total",
		metric.WithDescription("Phase retry attempts by reason"),
	); err != nil {
		return nil, fmt.Errorf("failed to create phase retries counter: %w", err)
	}
	if m.turns, err = meter.Int64Counter(
		"praxis_turns_total",
		metric.WithDescription("Completed turns by profile type and status"),
	); err != nil {
		return nil, fmt.Errorf("failed to create turns counter: %w", err)
	}
	if m.turnDuration, err = meter.Float64Histogram(
		"praxis_turn_duration_seconds",
		metric.WithDescription("End-to-end turn duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create turn duration histogram: %w", err)
	}
	if m.httpRequests, err = meter.Int64Counter(
		"praxis_http_requests_total",
		metric.WithDescription("HTTP requests by method, path, and status"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}
	if m.httpDuration, err = meter.Float64Histogram(
		"praxis_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	return m, nil
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, model, channel string, duration time.Duration, inputTokens, outputTokens int, costUSD float64, err error) {
	if m == nil || m.llmCalls == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("channel", channel),
	)
	m.llmCalls.Add(ctx, 1, attrs)
	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
	m.llmInputTokens.Add(ctx, int64(inputTokens), attrs)
	m.llmOutputTokens.Add(ctx, int64(outputTokens), attrs)
	if costUSD > 0 {
		m.llmCostUSD.Add(ctx, costUSD, attrs)
	}
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil || m.toolCalls == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	m.toolCalls.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordPhaseRetry(ctx context.Context, reason string) {
	if m == nil || m.phaseRetries == nil {
		return
	}
	m.phaseRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *PrometheusMetrics) RecordTurn(ctx context.Context, profileType, status string, duration time.Duration) {
	if m == nil || m.turns == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("profile_type", profileType),
		attribute.String("status", status),
	)
	m.turns.Add(ctx, 1, attrs)
	m.turnDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *PrometheusMetrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	if m == nil || m.httpRequests == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
}
