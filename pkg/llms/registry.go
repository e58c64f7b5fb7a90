package llms

import (
	"fmt"

	"github.com/praxislabs/praxis/pkg/config"
	"github.com/praxislabs/praxis/pkg/registry"
)

// ProviderRegistry holds constructed LLM clients keyed by provider name from
// the config file. Profiles reference these names for their strategic and
// tactical channels.
type ProviderRegistry struct {
	*registry.BaseRegistry[LLM]
}

// NewProviderRegistry builds every configured provider up front so a broken
// credential fails at startup, not mid-turn.
func NewProviderRegistry(providers map[string]*config.LLMProviderConfig) (*ProviderRegistry, error) {
	r := &ProviderRegistry{BaseRegistry: registry.NewBaseRegistry[LLM]()}
	for name, cfg := range providers {
		llm, err := New(cfg)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
		if err := r.Register(name, llm); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// New constructs a single provider client from config.
func New(cfg *config.LLMProviderConfig) (LLM, error) {
	switch cfg.Type {
	case config.ProviderOpenAI, config.ProviderOllama:
		return NewOpenAIProvider(cfg)
	case config.ProviderAnthropic:
		return NewAnthropicProvider(cfg)
	case config.ProviderGemini:
		return NewGeminiProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider type %q", cfg.Type)
	}
}
