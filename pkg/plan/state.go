package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/praxislabs/praxis/pkg/tools"
)

// distillThreshold is the result-row count above which the distilled view
// replaces raw rows with a shape summary.
const distillThreshold = 5

// State is the per-turn workflow state: result_of_phase_<N> bindings plus
// the injected previous-turn key. It is owned by one PlanExecutor and shared
// by reference with its sub-executors, so no copy-on-spawn.
type State struct {
	values map[string]any
	order  []string
}

// NewState returns an empty workflow state.
func NewState() *State {
	return &State{values: make(map[string]any)}
}

// Bind stores a value under key, preserving first-bind order.
func (s *State) Bind(key string, value any) {
	if _, exists := s.values[key]; !exists {
		s.order = append(s.order, key)
	}
	s.values[key] = value
}

// BindPhaseResult stores a tool output under result_of_phase_<N>.
func (s *State) BindPhaseResult(phaseNum int, value any) {
	s.Bind(ResultKey(phaseNum), value)
}

// Get looks a key up, tolerating the phase_<N> shorthand for
// result_of_phase_<N>.
func (s *State) Get(key string) (any, bool) {
	if v, ok := s.values[key]; ok {
		return v, true
	}
	if n, ok := PhaseOfResultKey(key); ok {
		v, found := s.values[ResultKey(n)]
		return v, found
	}
	return nil, false
}

// Has reports whether key resolves.
func (s *State) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Keys returns bound keys in first-bind order.
func (s *State) Keys() []string {
	return append([]string(nil), s.order...)
}

// Len returns the number of bindings.
func (s *State) Len() int {
	return len(s.values)
}

// LastPhaseResult returns the highest-numbered phase result, for
// previous-turn carry-forward and final-report fallbacks.
func (s *State) LastPhaseResult() (any, bool) {
	best := -1
	for key := range s.values {
		if n, ok := PhaseOfResultKey(key); ok && n > best {
			best = n
		}
	}
	if best < 0 {
		return nil, false
	}
	return s.values[ResultKey(best)], true
}

// Distilled renders the state for tactical LM prompts: large results arrays
// collapse to their shape so row data never floods the context window.
func (s *State) Distilled() map[string]any {
	out := make(map[string]any, len(s.values))
	for key, value := range s.values {
		out[key] = distillValue(value)
	}
	return out
}

func distillValue(value any) any {
	m, ok := value.(map[string]any)
	if !ok {
		if list, ok := value.([]any); ok && len(list) > distillThreshold {
			return map[string]any{
				"comment":   fmt.Sprintf("list of %d items (distilled)", len(list)),
				"row_count": len(list),
			}
		}
		return value
	}
	out := tools.OutputFromMap(m)
	if len(out.Results) <= distillThreshold {
		return value
	}
	return map[string]any{
		"status": out.Status,
		"metadata": map[string]any{
			"row_count": out.RowCount(),
			"columns":   out.Columns(),
		},
		"comment": fmt.Sprintf("%d result rows distilled; reference this phase result to use them", out.RowCount()),
	}
}

// FindKey searches value recursively for key, case-insensitively, and
// returns the first match in depth-first order. Map keys are visited in
// sorted order so the same document always resolves to the same value.
func FindKey(value any, key string) (any, bool) {
	switch val := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if strings.EqualFold(k, key) {
				return val[k], true
			}
		}
		for _, k := range keys {
			if found, ok := FindKey(val[k], key); ok {
				return found, true
			}
		}
	case []any:
		for _, item := range val {
			if found, ok := FindKey(item, key); ok {
				return found, true
			}
		}
	}
	return nil, false
}

// Unwrap applies the single-value convention: a tool output shaped
// [{"results": [{"onlykey": v}]}] (or the equivalent envelope) collapses to
// v. Anything else passes through unchanged.
func Unwrap(value any) any {
	inner := value
	if list, ok := value.([]any); ok && len(list) == 1 {
		inner = list[0]
	}
	m, ok := inner.(map[string]any)
	if !ok {
		return value
	}
	results, ok := m["results"].([]any)
	if !ok || len(results) != 1 {
		return value
	}
	row, ok := results[0].(map[string]any)
	if !ok || len(row) != 1 {
		return value
	}
	for _, v := range row {
		return v
	}
	return value
}
