package observability

import (
	"context"
	"sync"
	"time"
)

var (
	globalMetrics Metrics = NoopMetrics{}
	metricsMu     sync.RWMutex
)

// SetGlobalMetrics installs the process-wide metrics sink. The engine
// records through the package helpers so disabled metrics cost one atomic
// read per event.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if m == nil {
		m = NoopMetrics{}
	}
	globalMetrics = m
}

// GetGlobalMetrics returns the installed metrics sink, never nil.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}

// RecordLLMCall records one LM API call.
func RecordLLMCall(ctx context.Context, model, channel string, duration time.Duration, inputTokens, outputTokens int, costUSD float64, err error) {
	GetGlobalMetrics().RecordLLMCall(ctx, model, channel, duration, inputTokens, outputTokens, costUSD, err)
}

// RecordToolCall records one tool invocation.
func RecordToolCall(ctx context.Context, tool string, duration time.Duration, err error) {
	GetGlobalMetrics().RecordToolCall(ctx, tool, duration, err)
}

// RecordPhaseRetry records one phase retry attempt.
func RecordPhaseRetry(ctx context.Context, reason string) {
	GetGlobalMetrics().RecordPhaseRetry(ctx, reason)
}

// RecordTurn records one completed turn.
func RecordTurn(ctx context.Context, profileType, status string, duration time.Duration) {
	GetGlobalMetrics().RecordTurn(ctx, profileType, status, duration)
}

// RecordHTTPRequest records one served HTTP request.
func RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	GetGlobalMetrics().RecordHTTPRequest(ctx, method, path, status, duration)
}
