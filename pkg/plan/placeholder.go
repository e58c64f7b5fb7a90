package plan

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Canonical placeholder sources.
const (
	SourceLoopItem = "loop_item"

	// KeyInjectedPreviousTurn binds carried-forward data from the previous
	// turn into workflow state.
	KeyInjectedPreviousTurn = "injected_previous_turn_data"
)

var (
	resultOfPhaseRe = regexp.MustCompile(`^result_of_phase_(\d+)$`)
	barePhaseRe     = regexp.MustCompile(`^phase_(\d+)$`)
	toolRefRe       = regexp.MustCompile(`^tool_([A-Za-z][A-Za-z0-9_]*)$`)

	// Embedded templates inside a larger string, e.g.
	// "Summarize {TableName} for {result_of_phase_1[date]}".
	embeddedTemplateRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)(?:\[['"]?([A-Za-z0-9_ ]+)['"]?\])?\}`)

	// Loop-item template dialects the normalizer canonicalises.
	loopItemDialectRe = regexp.MustCompile(`^\{\{?\s*loop_item(?:\.([A-Za-z0-9_]+)|\[['"]?([A-Za-z0-9_]+)['"]?\])?\s*\}?\}$`)

	// Bare capitalised field template, e.g. "{TableName}". Only whole-string
	// matches become placeholders; mixed text is left for regex substitution.
	bareFieldTemplateRe = regexp.MustCompile(`^\{([A-Z][A-Za-z0-9_]*)\}$`)

	temporalPhraseRe = regexp.MustCompile(`(?i)\b(?:(?:last|past|previous)\s+\d+\s+(?:day|week|month|quarter|year)s?|\d+\s+(?:day|week|month)s?\s+ago|yesterday|today|this\s+(?:week|month|quarter|year)|last\s+(?:week|month|quarter|year))\b`)
)

// ResultKey returns the workflow-state key for a phase's output.
func ResultKey(phaseNum int) string {
	return fmt.Sprintf("result_of_phase_%d", phaseNum)
}

// PhaseOfResultKey parses a result_of_phase_<N> or phase_<N> string,
// returning the phase number.
func PhaseOfResultKey(s string) (int, bool) {
	m := resultOfPhaseRe.FindStringSubmatch(s)
	if m == nil {
		m = barePhaseRe.FindStringSubmatch(s)
	}
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsResultReference reports whether s names a phase result or the injected
// previous-turn key.
func IsResultReference(s string) bool {
	if s == KeyInjectedPreviousTurn {
		return true
	}
	_, ok := PhaseOfResultKey(s)
	return ok
}

// ToolReference parses a tool_<Name> back-reference, returning the tool name.
func ToolReference(s string) (string, bool) {
	m := toolRefRe.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// IsTemporalPhrase reports whether s reads like a relative date expression
// ("last 7 days", "yesterday", "3 weeks ago").
func IsTemporalPhrase(s string) bool {
	return temporalPhraseRe.MatchString(s)
}

// Placeholder is the canonical deferred-value reference: Source names a
// workflow-state entry (or "loop_item"), Key optionally selects a field
// within it.
type Placeholder struct {
	Source string
	Key    string
}

// AsMap renders the canonical dict form.
func (ph Placeholder) AsMap() map[string]any {
	m := map[string]any{"source": ph.Source}
	if ph.Key != "" {
		m["key"] = ph.Key
	}
	return m
}

// PlaceholderFromValue recognises the canonical {source, key?} dict and the
// legacy {result_of_phase_N: key} dict. The second return distinguishes
// "not a placeholder" from a recognised one.
func PlaceholderFromValue(v any) (Placeholder, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return Placeholder{}, false
	}

	if src, ok := m["source"].(string); ok && src != "" {
		ph := Placeholder{Source: src}
		if key, ok := m["key"].(string); ok {
			ph.Key = key
		}
		return ph, true
	}

	// Legacy single-entry dict keyed by the source itself.
	if len(m) == 1 {
		for k, val := range m {
			if k == SourceLoopItem || IsResultReference(k) {
				ph := Placeholder{Source: k}
				if key, ok := val.(string); ok {
					ph.Key = key
				}
				return ph, true
			}
		}
	}
	return Placeholder{}, false
}

// IsPlaceholderValue reports whether v is any recognised placeholder form:
// a canonical or legacy dict, or a whole-string reference.
func IsPlaceholderValue(v any) bool {
	switch val := v.(type) {
	case map[string]any:
		_, ok := PlaceholderFromValue(val)
		return ok
	case string:
		s := strings.TrimSpace(val)
		if IsResultReference(s) {
			return true
		}
		if _, ok := ToolReference(s); ok {
			return true
		}
		return loopItemDialectRe.MatchString(s) || bareFieldTemplateRe.MatchString(s)
	default:
		return false
	}
}

// HasEmbeddedTemplate reports whether s contains {KeyName} or
// {result_of_phase_N[key]} tokens inside larger text.
func HasEmbeddedTemplate(s string) bool {
	return embeddedTemplateRe.MatchString(s)
}
