package observability

import (
	"context"
	"time"
)

// NoopMetrics discards every record; it is the default sink before
// initialization and the permanent one when metrics are disabled.
type NoopMetrics struct{}

var _ Metrics = NoopMetrics{}

func (NoopMetrics) RecordLLMCall(context.Context, string, string, time.Duration, int, int, float64, error) {
}
func (NoopMetrics) RecordToolCall(context.Context, string, time.Duration, error) {}
func (NoopMetrics) RecordPhaseRetry(context.Context, string)                     {}
func (NoopMetrics) RecordTurn(context.Context, string, string, time.Duration)    {}
func (NoopMetrics) RecordHTTPRequest(context.Context, string, string, int, time.Duration) {
}
