// Package plan defines the meta-plan model and the deterministic pipeline
// that repairs LM-generated plans: normalization of placeholder dialects,
// validation against the tool catalog, and semantic rewrites. The pipeline
// assumes adversarial LM output and fixes what it can without another LM
// round trip.
package plan

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Phase is one unit of work in a meta-plan. Exactly one of RelevantTools or
// ExecutablePrompt names its capability.
type Phase struct {
	Number           int            `json:"phase"`
	Goal             string         `json:"goal"`
	RelevantTools    []string       `json:"relevant_tools,omitempty"`
	ExecutablePrompt string         `json:"executable_prompt,omitempty"`
	Arguments        map[string]any `json:"arguments,omitempty"`

	// Type is "loop" for iterating phases; LoopOver is the iteration
	// source: a result_of_phase_<N> reference or a literal list.
	Type     string `json:"type,omitempty"`
	LoopOver any    `json:"loop_over,omitempty"`

	// NeedsRefinement forces an LM argument-refinement call before
	// execution. Re-evaluated from scratch after every argument-stripping
	// pass, never inherited.
	NeedsRefinement bool `json:"_needs_refinement,omitempty"`

	// hadNullPrompt records that the LM emitted an explicit null
	// executable_prompt, so the validator can report the repair.
	hadNullPrompt bool
}

// IsLoop reports whether the phase iterates.
func (p *Phase) IsLoop() bool {
	return strings.EqualFold(p.Type, "loop")
}

// PrimaryTool returns the first relevant tool, or "".
func (p *Phase) PrimaryTool() string {
	if len(p.RelevantTools) == 0 {
		return ""
	}
	return p.RelevantTools[0]
}

// IsPromptPhase reports whether the phase dispatches to a prompt.
func (p *Phase) IsPromptPhase() bool {
	return p.ExecutablePrompt != ""
}

// Clone deep-copies the phase.
func (p *Phase) Clone() *Phase {
	clone := &Phase{
		Number:           p.Number,
		Goal:             p.Goal,
		ExecutablePrompt: p.ExecutablePrompt,
		Type:             p.Type,
		LoopOver:         deepCopyValue(p.LoopOver),
		NeedsRefinement:  p.NeedsRefinement,
		hadNullPrompt:    p.hadNullPrompt,
	}
	if p.RelevantTools != nil {
		clone.RelevantTools = append([]string(nil), p.RelevantTools...)
	}
	if p.Arguments != nil {
		clone.Arguments = deepCopyMap(p.Arguments)
	}
	return clone
}

// UnmarshalJSON tolerates the argument shapes LMs actually emit and records
// explicit-null executable_prompt for the validator.
func (p *Phase) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if v, ok := raw["phase"]; ok {
		var n float64
		if err := json.Unmarshal(v, &n); err == nil {
			p.Number = int(n)
		}
	}
	if v, ok := raw["goal"]; ok {
		_ = json.Unmarshal(v, &p.Goal)
	}
	if v, ok := raw["relevant_tools"]; ok && string(v) != "null" {
		// Accept either a list or a bare string.
		if err := json.Unmarshal(v, &p.RelevantTools); err != nil {
			var single string
			if err := json.Unmarshal(v, &single); err == nil && single != "" {
				p.RelevantTools = []string{single}
			}
		}
	}
	if v, ok := raw["executable_prompt"]; ok {
		if string(v) == "null" {
			p.hadNullPrompt = true
		} else {
			_ = json.Unmarshal(v, &p.ExecutablePrompt)
		}
	}
	if v, ok := raw["arguments"]; ok && string(v) != "null" {
		_ = json.Unmarshal(v, &p.Arguments)
	}
	if v, ok := raw["type"]; ok && string(v) != "null" {
		_ = json.Unmarshal(v, &p.Type)
	}
	if v, ok := raw["loop_over"]; ok && string(v) != "null" {
		var lo any
		if err := json.Unmarshal(v, &lo); err == nil {
			p.LoopOver = lo
		}
	}
	if v, ok := raw["_needs_refinement"]; ok {
		_ = json.Unmarshal(v, &p.NeedsRefinement)
	}
	return nil
}

// AsMap renders the phase for events and persistence.
func (p *Phase) AsMap() map[string]any {
	m := map[string]any{
		"phase": p.Number,
		"goal":  p.Goal,
	}
	if len(p.RelevantTools) > 0 {
		m["relevant_tools"] = append([]string(nil), p.RelevantTools...)
	}
	if p.ExecutablePrompt != "" {
		m["executable_prompt"] = p.ExecutablePrompt
	}
	if p.Arguments != nil {
		m["arguments"] = deepCopyMap(p.Arguments)
	}
	if p.Type != "" {
		m["type"] = p.Type
	}
	if p.LoopOver != nil {
		m["loop_over"] = deepCopyValue(p.LoopOver)
	}
	if p.NeedsRefinement {
		m["_needs_refinement"] = true
	}
	return m
}

// Plan is an ordered meta-plan, or a conversational response when the LM
// decided no tools are needed.
type Plan struct {
	Phases         []*Phase
	Conversational bool
	Response       string
}

// Len returns the phase count.
func (pl *Plan) Len() int {
	return len(pl.Phases)
}

// Last returns the final phase, or nil for an empty plan.
func (pl *Plan) Last() *Phase {
	if len(pl.Phases) == 0 {
		return nil
	}
	return pl.Phases[len(pl.Phases)-1]
}

// PhaseByNumber finds a phase by its number.
func (pl *Plan) PhaseByNumber(n int) (*Phase, bool) {
	for _, p := range pl.Phases {
		if p.Number == n {
			return p, true
		}
	}
	return nil, false
}

// Renumber rewrites phase numbers to the contiguous 1..N invariant. Every
// rewrite that inserts or removes phases must call this before returning.
func (pl *Plan) Renumber() {
	for i, p := range pl.Phases {
		p.Number = i + 1
	}
}

// Clone deep-copies the plan.
func (pl *Plan) Clone() *Plan {
	clone := &Plan{
		Conversational: pl.Conversational,
		Response:       pl.Response,
	}
	for _, p := range pl.Phases {
		clone.Phases = append(clone.Phases, p.Clone())
	}
	return clone
}

// AsMaps renders every phase for the plan_generated event and the audit
// record.
func (pl *Plan) AsMaps() []map[string]any {
	out := make([]map[string]any, 0, len(pl.Phases))
	for _, p := range pl.Phases {
		out = append(out, p.AsMap())
	}
	return out
}

// Parse decodes an LM planning response. It accepts a phase list, a
// conversational response object, or a single direct-action object (wrapped
// as a one-phase plan). Markdown fences and prose around the JSON are
// stripped.
func Parse(raw string) (*Plan, error) {
	jsonText, ok := ExtractJSON(raw)
	if !ok {
		return nil, fmt.Errorf("no JSON found in planning response")
	}

	trimmed := strings.TrimSpace(jsonText)
	if strings.HasPrefix(trimmed, "[") {
		var phases []*Phase
		if err := json.Unmarshal([]byte(trimmed), &phases); err != nil {
			return nil, fmt.Errorf("failed to parse plan phases: %w", err)
		}
		if len(phases) == 0 {
			return nil, fmt.Errorf("plan contains no phases")
		}
		return &Plan{Phases: phases}, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &probe); err != nil {
		return nil, fmt.Errorf("failed to parse plan object: %w", err)
	}

	if v, ok := probe["plan_type"]; ok {
		var planType string
		_ = json.Unmarshal(v, &planType)
		if planType == "conversational" {
			var response string
			if r, ok := probe["response"]; ok {
				_ = json.Unmarshal(r, &response)
			}
			return &Plan{Conversational: true, Response: response}, nil
		}
	}

	// Nested {plan: [...]} wrapper.
	if v, ok := probe["plan"]; ok {
		var phases []*Phase
		if err := json.Unmarshal(v, &phases); err == nil && len(phases) > 0 {
			return &Plan{Phases: phases}, nil
		}
	}

	// Single direct action: wrap as a one-phase plan.
	var single Phase
	if err := json.Unmarshal([]byte(trimmed), &single); err != nil {
		return nil, fmt.Errorf("failed to parse single-action plan: %w", err)
	}
	if single.PrimaryTool() == "" && single.ExecutablePrompt == "" {
		return nil, fmt.Errorf("plan object names no tool or prompt")
	}
	single.Number = 1
	return &Plan{Phases: []*Phase{&single}}, nil
}

// ExtractJSON pulls the first JSON array or object out of text, tolerating
// markdown fences and surrounding prose.
func ExtractJSON(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if fenced := extractFenced(text); fenced != "" {
		text = fenced
	}

	start := -1
	for i, r := range text {
		if r == '[' || r == '{' {
			start = i
			break
		}
	}
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '[', '{':
			if !inString {
				depth++
			}
		case ']', '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1], true
				}
			}
		}
	}
	return "", false
}

func extractFenced(text string) string {
	idx := strings.Index(text, "```")
	if idx < 0 {
		return ""
	}
	rest := text[idx+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Skip the language tag line.
		if lang := strings.TrimSpace(rest[:nl]); lang == "" || lang == "json" {
			rest = rest[nl+1:]
		}
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		return strings.TrimSpace(rest[:end])
	}
	return ""
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
