package plan

import (
	"log/slog"
	"regexp"
	"strings"
)

// knownFieldKeys are capital-case loop-item fields LMs commonly emit as bare
// templates ("{TableName}") without the loop_item prefix.
var knownFieldKeys = map[string]bool{
	"TableName":    true,
	"ColumnName":   true,
	"DatabaseName": true,
	"SchemaName":   true,
	"Date":         true,
	"Value":        true,
}

// {{result_of_phase_N.key}} and friends; the loop_item dialects share
// loopItemDialectRe with the placeholder grammar.
var normPhaseResultRe = regexp.MustCompile(`^\{\{?\s*(result_of_phase_\d+|phase_\d+|injected_previous_turn_data)(?:\.([A-Za-z0-9_]+)|\[['"]?([A-Za-z0-9_]+)['"]?\])?\s*\}?\}$`)

// Normalizer canonicalises every placeholder dialect an LM emits into the
// {source, key?} dict form. It runs exactly once, immediately after plan
// generation, so every downstream pass sees one shape.
type Normalizer struct {
	logger *slog.Logger
}

// NewNormalizer builds a normalizer.
func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger}
}

// Normalize rewrites the plan in place and returns it. Idempotent: canonical
// dicts and embedded-template strings pass through untouched.
func (n *Normalizer) Normalize(pl *Plan) *Plan {
	if pl == nil || pl.Conversational {
		return pl
	}
	for _, phase := range pl.Phases {
		if phase.Arguments != nil {
			phase.Arguments = n.normalizeMap(phase.Number, phase.Arguments)
		}
		if s, ok := phase.LoopOver.(string); ok {
			if canon, changed := n.normalizeString(s); changed {
				phase.LoopOver = canon
				n.logger.Debug("normalized loop_over template", "phase", phase.Number)
			}
		}
	}
	return pl
}

func (n *Normalizer) normalizeMap(phaseNum int, args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for name, value := range args {
		out[name] = n.normalizeValue(phaseNum, name, value)
	}
	return out
}

func (n *Normalizer) normalizeValue(phaseNum int, name string, value any) any {
	switch val := value.(type) {
	case string:
		if canon, changed := n.normalizeString(val); changed {
			n.logger.Debug("normalized placeholder template",
				"phase", phaseNum, "argument", name)
			return canon
		}
		return val
	case map[string]any:
		// Legacy {result_of_phase_N: key} dicts become canonical; canonical
		// dicts pass through; anything else recurses.
		if ph, ok := PlaceholderFromValue(val); ok {
			return ph.AsMap()
		}
		return n.normalizeMap(phaseNum, val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = n.normalizeValue(phaseNum, name, item)
		}
		return out
	default:
		return value
	}
}

// normalizeString converts a pure-template string into the canonical dict.
// Embedded templates inside larger text stay as strings for execution-time
// regex substitution.
func (n *Normalizer) normalizeString(s string) (any, bool) {
	trimmed := strings.TrimSpace(s)

	if m := loopItemDialectRe.FindStringSubmatch(trimmed); m != nil {
		key := m[1]
		if key == "" {
			key = m[2]
		}
		return Placeholder{Source: SourceLoopItem, Key: key}.AsMap(), true
	}

	if m := normPhaseResultRe.FindStringSubmatch(trimmed); m != nil {
		source := m[1]
		if num, ok := PhaseOfResultKey(source); ok {
			source = ResultKey(num)
		}
		key := m[2]
		if key == "" {
			key = m[3]
		}
		return Placeholder{Source: source, Key: key}.AsMap(), true
	}

	// Bare "{TableName}" style: only for fields that start uppercase, and
	// only when the whole string is the template.
	if m := bareFieldTemplateRe.FindStringSubmatch(trimmed); m != nil {
		if knownFieldKeys[m[1]] || strings.ToUpper(m[1][:1]) == m[1][:1] {
			return Placeholder{Source: SourceLoopItem, Key: m[1]}.AsMap(), true
		}
	}

	return s, false
}
