package executor

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// DefinitiveToolError is a tool failure no correction can fix within the
// current plan. It terminates the phase and surfaces the mapped friendly
// message.
type DefinitiveToolError struct {
	ToolName string
	Message  string
	Friendly string
}

func (e *DefinitiveToolError) Error() string {
	return fmt.Sprintf("tool %s failed definitively: %s", e.ToolName, e.Message)
}

// RecoverableToolError is a tool failure eligible for correction strategies.
type RecoverableToolError struct {
	ToolName string
	Message  string
}

func (e *RecoverableToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.ToolName, e.Message)
}

// ArgumentMismatchError reports a pre-flight schema mismatch handled by the
// argument refiner.
type ArgumentMismatchError struct {
	ToolName   string
	Missing    []string
	Extraneous []string
}

func (e *ArgumentMismatchError) Error() string {
	return fmt.Sprintf("tool %s argument mismatch (missing %v, extraneous %v)",
		e.ToolName, e.Missing, e.Extraneous)
}

// PhaseStallError marks a phase that repeated the same tactical action or
// exhausted its retries; it triggers planner-level recovery.
type PhaseStallError struct {
	PhaseNum int
	Retries  int
	Reason   string
}

func (e *PhaseStallError) Error() string {
	return fmt.Sprintf("phase %d stalled after %d retries: %s", e.PhaseNum, e.Retries, e.Reason)
}

// CancellationError is raised cooperatively when the turn's cancel flag is
// observed. The partial turn has already been persisted by the time it
// propagates to the caller.
type CancellationError struct {
	UserID    string
	SessionID string
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("turn cancelled for session %s", e.SessionID)
}

// IsCancellation reports whether err wraps a CancellationError.
func IsCancellation(err error) bool {
	var ce *CancellationError
	return errors.As(err, &ce)
}

// QuotaError is a token-consumption limit hit at turn entry.
type QuotaError struct {
	Reason     string
	RetryAfter *time.Duration
}

func (e *QuotaError) Error() string { return "quota exceeded: " + e.Reason }

// RateLimitError is a turn-count limit hit at turn entry.
type RateLimitError struct {
	Reason     string
	RetryAfter *time.Duration
}

func (e *RateLimitError) Error() string { return "rate limit exceeded: " + e.Reason }

// definitiveErrorTable maps unrecoverable tool-error texts to the friendly
// messages surfaced to the user. Checked before any correction strategy.
var definitiveErrorTable = []struct {
	pattern  *regexp.Regexp
	friendly string
}{
	{regexp.MustCompile(`(?i)invalid query`), "The generated query was rejected by the database. Please rephrase your request."},
	{regexp.MustCompile(`(?i)permission denied|access denied|not authorized`), "You do not have permission to access that data."},
	{regexp.MustCompile(`(?i)authentication failed|invalid credentials`), "The data source rejected the engine's credentials. Contact your administrator."},
	{regexp.MustCompile(`(?i)quota exceeded on the data source`), "The data source's usage quota is exhausted. Try again later."},
	{regexp.MustCompile(`(?i)unsupported operation`), "That operation is not supported by the connected data source."},
}

// ClassifyToolError sorts a tool error message into the definitive or
// recoverable kind.
func ClassifyToolError(toolName, message string) error {
	for _, entry := range definitiveErrorTable {
		if entry.pattern.MatchString(message) {
			return &DefinitiveToolError{ToolName: toolName, Message: message, Friendly: entry.friendly}
		}
	}
	return &RecoverableToolError{ToolName: toolName, Message: message}
}
