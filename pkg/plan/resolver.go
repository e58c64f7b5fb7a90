package plan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/praxislabs/praxis/pkg/events"
)

// Resolver converts placeholder arguments into concrete values from workflow
// state and the current loop item. Missing sources drop the argument with a
// warning; they never fail the phase, because the downstream refinement pass
// repairs or fails loudly.
type Resolver struct {
	state  *State
	plan   *Plan
	sink   events.Sink
	logger *slog.Logger
}

// NewResolver builds a resolver bound to one turn's workflow state. The plan
// is consulted for tool_<Name> back-references and may be nil.
func NewResolver(state *State, pl *Plan, sink events.Sink, logger *slog.Logger) *Resolver {
	if sink == nil {
		sink = events.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{state: state, plan: pl, sink: sink, logger: logger}
}

// Resolve walks args and returns a new map with every placeholder replaced
// by its concrete value. Arguments whose source is absent, and nil values,
// are omitted from the result.
func (r *Resolver) Resolve(ctx context.Context, args map[string]any, loopItem any) map[string]any {
	resolved := make(map[string]any, len(args))
	for name, value := range args {
		out, keep := r.resolveValue(ctx, name, value, loopItem)
		if !keep || out == nil {
			continue
		}
		resolved[name] = out
	}
	return resolved
}

func (r *Resolver) resolveValue(ctx context.Context, name string, value any, loopItem any) (any, bool) {
	switch val := value.(type) {
	case nil:
		return nil, false

	case map[string]any:
		if ph, ok := PlaceholderFromValue(val); ok {
			if _, canonical := val["source"]; !canonical {
				// Legacy {result_of_phase_N: key} form.
				r.sink.Emit(ctx, events.SystemMessageEvent(
					"argument_resolution", "normalization",
					fmt.Sprintf("converted legacy placeholder for %q to canonical form", name), ""))
			} else if ph.Key == "" {
				r.sink.Emit(ctx, events.SystemMessageEvent(
					"argument_resolution", "correction",
					fmt.Sprintf("placeholder for %q omitted its key; applied single-value unwrap", name), ""))
			}
			return r.resolvePlaceholder(name, ph, loopItem)
		}
		// Plain dict: recurse.
		inner := r.Resolve(ctx, val, loopItem)
		return inner, true

	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			if res, keep := r.resolveValue(ctx, name, item, loopItem); keep && res != nil {
				out = append(out, res)
			}
		}
		return out, true

	case string:
		return r.resolveString(name, val, loopItem)

	default:
		return value, true
	}
}

func (r *Resolver) resolveString(name, s string, loopItem any) (any, bool) {
	trimmed := strings.TrimSpace(s)

	if IsResultReference(trimmed) {
		return r.resolvePlaceholder(name, Placeholder{Source: trimmed}, loopItem)
	}

	if toolName, ok := ToolReference(trimmed); ok {
		if phaseNum, found := r.phaseForTool(toolName); found {
			return r.resolvePlaceholder(name, Placeholder{Source: ResultKey(phaseNum)}, loopItem)
		}
		r.logger.Warn("tool back-reference names no plan phase",
			"argument", name, "tool", toolName)
		return nil, false
	}

	if HasEmbeddedTemplate(s) {
		return r.substituteEmbedded(s, loopItem), true
	}
	return s, true
}

// substituteEmbedded replaces {KeyName} and {result_of_phase_N[key]} tokens
// inside larger text, preserving the surrounding prose. Unresolvable tokens
// stay verbatim.
func (r *Resolver) substituteEmbedded(s string, loopItem any) string {
	return embeddedTemplateRe.ReplaceAllStringFunc(s, func(token string) string {
		m := embeddedTemplateRe.FindStringSubmatch(token)
		source, key := m[1], m[2]

		if IsResultReference(source) {
			if value, ok := r.lookupSource(source, loopItem); ok {
				if key != "" {
					if v, found := FindKey(value, key); found {
						return stringify(v)
					}
					return token
				}
				return stringify(Unwrap(value))
			}
			return token
		}

		// Bare {KeyName}: loop item first, then workflow state.
		if v, found := FindKey(loopItem, source); found {
			return stringify(v)
		}
		if r.state != nil {
			for _, stateKey := range r.state.Keys() {
				if value, ok := r.state.Get(stateKey); ok {
					if v, found := FindKey(value, source); found {
						return stringify(v)
					}
				}
			}
		}
		return token
	})
}

func (r *Resolver) resolvePlaceholder(name string, ph Placeholder, loopItem any) (any, bool) {
	value, ok := r.lookupSource(ph.Source, loopItem)
	if !ok {
		r.logger.Warn("placeholder source not present in workflow state; dropping argument",
			"argument", name, "source", ph.Source)
		return nil, false
	}

	if ph.Key == "" {
		return Unwrap(value), true
	}
	if found, ok := FindKey(value, ph.Key); ok {
		return found, true
	}
	r.logger.Warn("placeholder key not found in source value; dropping argument",
		"argument", name, "source", ph.Source, "key", ph.Key)
	return nil, false
}

func (r *Resolver) lookupSource(source string, loopItem any) (any, bool) {
	if source == SourceLoopItem {
		if loopItem == nil {
			return nil, false
		}
		return loopItem, true
	}
	if r.state == nil {
		return nil, false
	}
	return r.state.Get(source)
}

func (r *Resolver) phaseForTool(toolName string) (int, bool) {
	if r.plan == nil {
		return 0, false
	}
	for _, phase := range r.plan.Phases {
		for _, t := range phase.RelevantTools {
			if strings.EqualFold(t, toolName) {
				return phase.Number, true
			}
		}
	}
	return 0, false
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}
