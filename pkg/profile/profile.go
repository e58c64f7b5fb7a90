// Package profile defines execution profiles: which models, tools, prompts,
// and knowledge collections a turn runs with. Profiles, the prompt library,
// and the model cost catalog are persisted rows, not YAML.
package profile

import (
	"fmt"
	"strings"
)

// Execution modes. The profile type selects how the PlanExecutor runs the
// turn.
const (
	TypeLLMOnly               = "llm_only"
	TypeConversationWithTools = "conversation_with_tools"
	TypeRAGFocused            = "rag_focused"
	TypeToolEnabled           = "tool_enabled"
)

// Profile is one capability bundle. A turn resolves exactly one profile;
// overrides never mutate shared state because the bundle is passed by value
// through the planner and executor.
type Profile struct {
	Tag         string `json:"tag"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`

	// Provider names the default LLM client (a key in config.Providers).
	// StrategicProvider and TacticalProvider split the dual-model channels;
	// empty falls back to Provider.
	Provider          string `json:"provider"`
	Model             string `json:"model,omitempty"`
	StrategicProvider string `json:"strategic_provider,omitempty"`
	StrategicModel    string `json:"strategic_model,omitempty"`
	TacticalProvider  string `json:"tactical_provider,omitempty"`
	TacticalModel     string `json:"tactical_model,omitempty"`

	// SystemPrompt overrides the planning system prompt; PromptName refers
	// to the prompt library instead when set.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// IncludeTools / IncludePrompts restrict the catalog for this profile.
	// Empty means everything.
	IncludeTools   []string `json:"include_tools,omitempty"`
	IncludePrompts []string `json:"include_prompts,omitempty"`

	// Collections are the knowledge collections searched in rag-focused
	// mode and for planning context.
	Collections []string `json:"collections,omitempty"`

	// MaxIterations bounds the conversation-with-tools agent loop.
	MaxIterations int `json:"max_iterations,omitempty"`
}

// SetDefaults fills derived channel settings.
func (p *Profile) SetDefaults() {
	if p.Type == "" {
		p.Type = TypeToolEnabled
	}
	if p.StrategicProvider == "" {
		p.StrategicProvider = p.Provider
	}
	if p.StrategicModel == "" {
		p.StrategicModel = p.Model
	}
	if p.TacticalProvider == "" {
		p.TacticalProvider = p.Provider
	}
	if p.TacticalModel == "" {
		p.TacticalModel = p.Model
	}
	if p.MaxIterations == 0 {
		p.MaxIterations = 8
	}
}

// Validate checks the profile shape.
func (p *Profile) Validate() error {
	if p.Tag == "" {
		return fmt.Errorf("profile tag is required")
	}
	switch p.Type {
	case TypeLLMOnly, TypeConversationWithTools, TypeRAGFocused, TypeToolEnabled:
	default:
		return fmt.Errorf("invalid profile type %q", p.Type)
	}
	if p.Provider == "" {
		return fmt.Errorf("profile %q: provider is required", p.Tag)
	}
	return nil
}

// DualModel reports whether the strategic and tactical channels differ.
func (p *Profile) DualModel() bool {
	return p.StrategicProvider != p.TacticalProvider || p.StrategicModel != p.TacticalModel
}

// Registry resolves profiles by tag. Tag matching is case-insensitive; the
// first registered profile is the default.
type Registry struct {
	byTag      map[string]*Profile
	defaultTag string
}

// NewRegistry builds a registry from the given profiles.
func NewRegistry(profiles ...*Profile) (*Registry, error) {
	r := &Registry{byTag: make(map[string]*Profile)}
	for _, p := range profiles {
		p.SetDefaults()
		if err := p.Validate(); err != nil {
			return nil, err
		}
		key := strings.ToLower(p.Tag)
		if _, exists := r.byTag[key]; exists {
			return nil, fmt.Errorf("duplicate profile tag %q", p.Tag)
		}
		r.byTag[key] = p
		if r.defaultTag == "" {
			r.defaultTag = key
		}
	}
	return r, nil
}

// Resolve returns the profile for tag, or the default profile when tag is
// empty.
func (r *Registry) Resolve(tag string) (*Profile, error) {
	if tag == "" {
		tag = r.defaultTag
	}
	p, ok := r.byTag[strings.ToLower(tag)]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q", tag)
	}
	return p, nil
}

// Tags returns all registered tags.
func (r *Registry) Tags() []string {
	out := make([]string, 0, len(r.byTag))
	for _, p := range r.byTag {
		out = append(out, p.Tag)
	}
	return out
}
