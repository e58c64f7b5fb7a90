package plan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxislabs/praxis/pkg/tools"
)

type staticTool struct{ info tools.ToolInfo }

func (t staticTool) Info() tools.ToolInfo { return t.info }

func (t staticTool) Execute(context.Context, map[string]any) (*tools.Output, error) {
	return tools.TextSuccess(t.info.Name, "ok"), nil
}

type staticPromptSource struct{ prompts []tools.PromptInfo }

func (s staticPromptSource) Name() string                         { return "static" }
func (s staticPromptSource) Discover(context.Context) error      { return nil }
func (s staticPromptSource) Tools() []tools.Tool                 { return nil }
func (s staticPromptSource) Prompts() []tools.PromptInfo         { return s.prompts }
func (s staticPromptSource) PromptBody(_ context.Context, name string) (string, error) {
	return "body of " + name, nil
}

func testCatalog(t *testing.T) *tools.Catalog {
	t.Helper()
	catalog := tools.NewCatalog()

	readQuery := tools.ToolInfo{
		Name:           "base_readQuery",
		Description:    "run a read-only query",
		SQLOptimizable: true,
		Parameters: []tools.ToolParameter{
			{Name: "query", Type: "string", Required: true},
			{Name: "limit", Type: "integer"},
		},
	}
	tableStats := tools.ToolInfo{
		Name:  "base_tableStatistics",
		Scope: "table",
		Parameters: []tools.ToolParameter{
			{Name: "table_name", Type: "string", Required: true},
			{Name: "start_date", Type: "string"},
			{Name: "end_date", Type: "string"},
		},
	}
	require.NoError(t, catalog.AddTool(staticTool{info: readQuery}))
	require.NoError(t, catalog.AddTool(staticTool{info: tableStats}))
	require.NoError(t, catalog.AddSource(context.Background(), staticPromptSource{
		prompts: []tools.PromptInfo{{Name: "monthly_health_check", Description: "library prompt"}},
	}))
	return catalog
}

func TestValidate_PromptDeclaredAsTool(t *testing.T) {
	v := NewValidator(testCatalog(t), nil, nil)
	pl := &Plan{Phases: []*Phase{{
		Number:        1,
		Goal:          "run the health check",
		RelevantTools: []string{"monthly_health_check"},
	}}}

	v.Validate(context.Background(), pl)

	assert.Empty(t, pl.Phases[0].RelevantTools)
	assert.Equal(t, "monthly_health_check", pl.Phases[0].ExecutablePrompt)
}

func TestValidate_ToolDeclaredAsPrompt(t *testing.T) {
	v := NewValidator(testCatalog(t), nil, nil)
	pl := &Plan{Phases: []*Phase{{
		Number:           1,
		Goal:             "query",
		ExecutablePrompt: "base_readQuery",
	}}}

	v.Validate(context.Background(), pl)

	assert.Equal(t, []string{"base_readQuery"}, pl.Phases[0].RelevantTools)
	assert.Empty(t, pl.Phases[0].ExecutablePrompt)
}

func TestValidate_ExtraneousArgumentsRemoved(t *testing.T) {
	v := NewValidator(testCatalog(t), nil, nil)
	pl := &Plan{Phases: []*Phase{{
		Number:        1,
		RelevantTools: []string{"base_readQuery"},
		Arguments: map[string]any{
			"query":       "SELECT 1",
			"explanation": "the model narrates",
		},
	}}}

	v.Validate(context.Background(), pl)

	assert.Contains(t, pl.Phases[0].Arguments, "query")
	assert.NotContains(t, pl.Phases[0].Arguments, "explanation")
	assert.False(t, pl.Phases[0].NeedsRefinement)
}

func TestValidate_SynonymRename(t *testing.T) {
	v := NewValidator(testCatalog(t), nil, nil)
	pl := &Plan{Phases: []*Phase{{
		Number:        1,
		RelevantTools: []string{"base_readQuery"},
		Arguments:     map[string]any{"sql": "SELECT 1"},
	}}}

	v.Validate(context.Background(), pl)

	assert.Equal(t, "SELECT 1", pl.Phases[0].Arguments["query"])
	assert.NotContains(t, pl.Phases[0].Arguments, "sql")
	assert.False(t, pl.Phases[0].NeedsRefinement)
}

func TestValidate_FuzzyRename(t *testing.T) {
	v := NewValidator(testCatalog(t), nil, nil)
	pl := &Plan{Phases: []*Phase{{
		Number:        1,
		RelevantTools: []string{"base_tableStatistics"},
		Arguments:     map[string]any{"tabel_name": "orders"},
	}}}

	v.Validate(context.Background(), pl)

	assert.Equal(t, "orders", pl.Phases[0].Arguments["table_name"])
	assert.False(t, pl.Phases[0].NeedsRefinement)
}

func TestValidate_MissingRequiredFlagsRefinement(t *testing.T) {
	v := NewValidator(testCatalog(t), nil, nil)
	pl := &Plan{Phases: []*Phase{{
		Number:        1,
		RelevantTools: []string{"base_readQuery"},
		Arguments:     map[string]any{"nonsense": true},
	}}}

	v.Validate(context.Background(), pl)

	assert.True(t, pl.Phases[0].NeedsRefinement)
	assert.Empty(t, pl.Phases[0].Arguments)
}

func TestValidate_RefinementReevaluatedNotInherited(t *testing.T) {
	v := NewValidator(testCatalog(t), nil, nil)
	pl := &Plan{Phases: []*Phase{{
		Number:          1,
		RelevantTools:   []string{"base_readQuery"},
		Arguments:       map[string]any{"query": "SELECT 1"},
		NeedsRefinement: true, // stale flag from an earlier pass
	}}}

	v.Validate(context.Background(), pl)

	assert.False(t, pl.Phases[0].NeedsRefinement)
}

func TestValidate_Idempotent(t *testing.T) {
	v := NewValidator(testCatalog(t), nil, nil)
	pl := &Plan{Phases: []*Phase{{
		Number:        1,
		RelevantTools: []string{"base_tableStatistics"},
		Arguments:     map[string]any{"table": "orders", "junk": 1},
	}}}

	once := v.Validate(context.Background(), pl)
	snapshot := once.Clone().AsMaps()
	twice := v.Validate(context.Background(), once)
	assert.Equal(t, snapshot, twice.AsMaps())
}

func TestSimilarityRatio(t *testing.T) {
	assert.InDelta(t, 1.0, similarityRatio("query", "query"), 1e-9)
	assert.GreaterOrEqual(t, similarityRatio("tabel_name", "table_name"), 0.7)
	assert.Less(t, similarityRatio("query", "start_date"), 0.7)
	assert.Equal(t, 0.0, similarityRatio("", "abc"))
	assert.Equal(t, 1.0, similarityRatio("", ""))
}
