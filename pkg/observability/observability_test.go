package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.SetDefaults()

	assert.Equal(t, "praxis", cfg.Tracing.ServiceName)
	assert.Equal(t, 1.0, cfg.Tracing.SamplingRate)
	assert.Equal(t, "otlp", cfg.Tracing.Exporter)
	assert.Equal(t, "/metrics", cfg.Metrics.Endpoint)
	assert.True(t, cfg.Tracing.IsInsecure())
}

func TestTracingConfigValidate(t *testing.T) {
	cfg := TracingConfig{Enabled: true, Exporter: "otlp", Endpoint: "localhost:4317", SamplingRate: 1.0}
	require.NoError(t, cfg.Validate())

	cfg.SamplingRate = 1.5
	assert.Error(t, cfg.Validate())

	cfg.SamplingRate = 0.5
	cfg.Exporter = "jaeger"
	assert.Error(t, cfg.Validate())

	disabled := TracingConfig{}
	assert.NoError(t, disabled.Validate())
}

func TestDisabledMetricsAreNoop(t *testing.T) {
	m, err := InitMetrics(context.Background(), MetricsConfig{})
	require.NoError(t, err)

	// Must not panic with no instruments behind them.
	m.RecordLLMCall(context.Background(), "gpt-4.1", "strategic", time.Second, 10, 20, 0.01, nil)
	m.RecordToolCall(context.Background(), "base_tableList", time.Millisecond, nil)
	m.RecordPhaseRetry(context.Background(), "correction")
	m.RecordTurn(context.Background(), "tool_enabled", "success", time.Second)
}

func TestGlobalMetricsNeverNil(t *testing.T) {
	SetGlobalMetrics(nil)
	require.NotNil(t, GetGlobalMetrics())

	// Helpers route through the noop without panicking.
	RecordToolCall(context.Background(), "x", 0, nil)
	RecordTurn(context.Background(), "llm_only", "error", 0)
}

func TestDisabledTracerIsNoop(t *testing.T) {
	tp, err := InitTracer(context.Background(), TracingConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, tp)

	_, span := tp.Tracer("test").Start(context.Background(), SpanTurn)
	span.End()
}
