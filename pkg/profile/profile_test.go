package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfile_SetDefaultsFillsChannels(t *testing.T) {
	p := &Profile{Tag: "analyst", Provider: "openai", Model: "gpt-4o"}
	p.SetDefaults()

	assert.Equal(t, TypeToolEnabled, p.Type)
	assert.Equal(t, "openai", p.StrategicProvider)
	assert.Equal(t, "gpt-4o", p.StrategicModel)
	assert.Equal(t, "openai", p.TacticalProvider)
	assert.Equal(t, "gpt-4o", p.TacticalModel)
	assert.Equal(t, 8, p.MaxIterations)
	assert.False(t, p.DualModel())
}

func TestProfile_DualModel(t *testing.T) {
	p := &Profile{
		Tag: "analyst", Provider: "openai", Model: "gpt-4o",
		TacticalModel: "gpt-4o-mini",
	}
	p.SetDefaults()

	assert.Equal(t, "gpt-4o", p.StrategicModel)
	assert.Equal(t, "gpt-4o-mini", p.TacticalModel)
	assert.True(t, p.DualModel())
}

func TestProfile_Validate(t *testing.T) {
	assert.Error(t, (&Profile{Provider: "openai", Type: TypeLLMOnly}).Validate())
	assert.Error(t, (&Profile{Tag: "x", Type: TypeLLMOnly}).Validate())
	assert.Error(t, (&Profile{Tag: "x", Provider: "openai", Type: "batch"}).Validate())
	assert.NoError(t, (&Profile{Tag: "x", Provider: "openai", Type: TypeRAGFocused}).Validate())
}

func TestRegistry_ResolveCaseInsensitiveWithDefault(t *testing.T) {
	reg, err := NewRegistry(
		&Profile{Tag: "Analyst", Provider: "openai", Model: "gpt-4o"},
		&Profile{Tag: "support", Provider: "anthropic", Model: "claude-sonnet", Type: TypeConversationWithTools},
	)
	require.NoError(t, err)

	p, err := reg.Resolve("ANALYST")
	require.NoError(t, err)
	assert.Equal(t, "Analyst", p.Tag)

	// Empty tag falls back to the first registered profile.
	p, err = reg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "Analyst", p.Tag)

	_, err = reg.Resolve("missing")
	assert.Error(t, err)

	assert.Len(t, reg.Tags(), 2)
}

func TestRegistry_RejectsDuplicateTags(t *testing.T) {
	_, err := NewRegistry(
		&Profile{Tag: "analyst", Provider: "openai"},
		&Profile{Tag: "Analyst", Provider: "openai"},
	)
	assert.Error(t, err)
}

func TestDecodeProfile(t *testing.T) {
	p, err := DecodeProfile(map[string]any{
		"tag":            "analyst",
		"type":           "rag_focused",
		"provider":       "openai",
		"model":          "gpt-4o",
		"tactical_model": "gpt-4o-mini",
		"collections":    []any{"finance_docs"},
		"max_iterations": 4,
	})
	require.NoError(t, err)

	assert.Equal(t, TypeRAGFocused, p.Type)
	assert.Equal(t, "gpt-4o-mini", p.TacticalModel)
	assert.Equal(t, []string{"finance_docs"}, p.Collections)
	assert.Equal(t, 4, p.MaxIterations)

	_, err = DecodeProfile(map[string]any{"tag": "bad", "type": "nope", "provider": "openai"})
	assert.Error(t, err)
}
