package executor

import (
	"encoding/json"
	"sync"

	"github.com/praxislabs/praxis/pkg/session"
)

// ActionEntry is one executed (action, result) pair. Actions are the
// {tool_name, arguments} maps the tactical channel emits; results are tool
// outputs in map form.
type ActionEntry struct {
	Action         map[string]any
	Result         map[string]any
	PhaseNum       int
	ExecutionDepth int
	Repetitive     bool
}

// History is the append-only action trace for one turn. Sub-executors share
// the parent's history, so access is guarded.
type History struct {
	mu      sync.Mutex
	entries []ActionEntry
}

// NewHistory builds an empty trace.
func NewHistory() *History {
	return &History{}
}

// Append records an executed action in execution order.
func (h *History) Append(entry ActionEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
}

// Len returns the number of recorded entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Entries returns a copy of the trace in execution order.
func (h *History) Entries() []ActionEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ActionEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// LastAction returns the most recent action, or nil when empty.
func (h *History) LastAction() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return nil
	}
	return h.entries[len(h.entries)-1].Action
}

// MarkLastRepetitive flags the newest entry as a detected duplicate.
func (h *History) MarkLastRepetitive() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) > 0 {
		h.entries[len(h.entries)-1].Repetitive = true
	}
}

// Trace converts the history to the persisted execution-trace form.
func (h *History) Trace() []session.TraceEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]session.TraceEntry, 0, len(h.entries))
	for _, e := range h.entries {
		out = append(out, session.TraceEntry{
			Action:         e.Action,
			Result:         e.Result,
			PhaseNum:       e.PhaseNum,
			ExecutionDepth: e.ExecutionDepth,
		})
	}
	return out
}

// SameAction reports whether two actions are byte-identical once
// canonicalised as JSON. Used for duplicate-action detection.
func SameAction(a, b map[string]any) bool {
	if a == nil || b == nil {
		return false
	}
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(aj) == string(bj)
}
