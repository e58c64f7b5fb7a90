// Package observability wires OpenTelemetry tracing and Prometheus-exported
// metrics for the engine: turn, phase, LM, tool, and HTTP instruments.
package observability

import (
	"context"
	"sync"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Manager owns the tracer provider and metrics for the process lifetime.
type Manager struct {
	tracerProvider trace.TracerProvider
	metrics        Metrics
	config         Config
	mu             sync.RWMutex
}

// NewManager builds an uninitialized manager; call Initialize before use.
func NewManager(cfg Config) *Manager {
	cfg.SetDefaults()
	return &Manager{config: cfg}
}

// Initialize installs the tracer provider and the global metrics sink.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tp, err := InitTracer(ctx, m.config.Tracing)
	if err != nil {
		return err
	}
	m.tracerProvider = tp

	metrics, err := InitMetrics(ctx, m.config.Metrics)
	if err != nil {
		return err
	}
	m.metrics = metrics
	SetGlobalMetrics(m.metrics)
	return nil
}

// GetTracer returns a named tracer from the manager's provider.
func (m *Manager) GetTracer(name string) trace.Tracer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tracerProvider.Tracer(name)
}

// GetMetrics returns the manager's metrics sink.
func (m *Manager) GetMetrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

// MetricsEnabled reports whether the /metrics endpoint should be mounted.
func (m *Manager) MetricsEnabled() bool {
	return m.config.Metrics.Enabled
}

// MetricsEndpoint is the configured scrape path.
func (m *Manager) MetricsEndpoint() string {
	return m.config.Metrics.Endpoint
}

// Shutdown flushes pending spans.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tp, ok := m.tracerProvider.(*sdktrace.TracerProvider); ok {
		return tp.Shutdown(ctx)
	}
	return nil
}
