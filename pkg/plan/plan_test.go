package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_PhaseList(t *testing.T) {
	raw := `Here is the plan:
` + "```json" + `
[
  {"phase": 1, "goal": "fetch sales", "relevant_tools": ["base_readQuery"], "arguments": {"query": "SELECT 1"}},
  {"phase": 2, "goal": "report", "relevant_tools": ["FinalReport"], "arguments": {"data": {"source": "result_of_phase_1"}}}
]
` + "```"

	pl, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, pl.Phases, 2)
	assert.False(t, pl.Conversational)
	assert.Equal(t, "fetch sales", pl.Phases[0].Goal)
	assert.Equal(t, "base_readQuery", pl.Phases[0].PrimaryTool())
	assert.Equal(t, "SELECT 1", pl.Phases[0].Arguments["query"])
}

func TestParse_Conversational(t *testing.T) {
	pl, err := Parse(`{"plan_type": "conversational", "response": "Hello! How can I help?"}`)
	require.NoError(t, err)
	assert.True(t, pl.Conversational)
	assert.Equal(t, "Hello! How can I help?", pl.Response)
	assert.Zero(t, pl.Len())
}

func TestParse_SingleAction(t *testing.T) {
	pl, err := Parse(`{"goal": "what day is it", "relevant_tools": ["CurrentDate"]}`)
	require.NoError(t, err)
	require.Len(t, pl.Phases, 1)
	assert.Equal(t, 1, pl.Phases[0].Number)
	assert.Equal(t, "CurrentDate", pl.Phases[0].PrimaryTool())
}

func TestParse_NoJSON(t *testing.T) {
	_, err := Parse("I could not produce a plan, sorry.")
	require.Error(t, err)
}

func TestParse_BareToolString(t *testing.T) {
	// relevant_tools emitted as a bare string instead of a list.
	pl, err := Parse(`[{"phase": 1, "goal": "g", "relevant_tools": "CurrentDate"}]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"CurrentDate"}, pl.Phases[0].RelevantTools)
}

func TestParse_NullExecutablePrompt(t *testing.T) {
	pl, err := Parse(`[{"phase": 1, "goal": "g", "relevant_tools": ["t"], "executable_prompt": null}]`)
	require.NoError(t, err)
	assert.Empty(t, pl.Phases[0].ExecutablePrompt)
	assert.True(t, pl.Phases[0].hadNullPrompt)
}

func TestRenumber_Contiguous(t *testing.T) {
	pl := &Plan{Phases: []*Phase{
		{Number: 3, Goal: "a"},
		{Number: 7, Goal: "b"},
		{Number: 1, Goal: "c"},
	}}
	pl.Renumber()
	for i, p := range pl.Phases {
		assert.Equal(t, i+1, p.Number)
	}
}

func TestClone_Independent(t *testing.T) {
	pl := &Plan{Phases: []*Phase{{
		Number:    1,
		Goal:      "g",
		Arguments: map[string]any{"nested": map[string]any{"k": "v"}},
	}}}
	clone := pl.Clone()
	clone.Phases[0].Arguments["nested"].(map[string]any)["k"] = "changed"
	assert.Equal(t, "v", pl.Phases[0].Arguments["nested"].(map[string]any)["k"])
}

func TestExtractJSON_NestedBracesInStrings(t *testing.T) {
	raw := `prefix {"goal": "use {braces} and \"quotes\"", "relevant_tools": ["t"]} suffix`
	jsonText, ok := ExtractJSON(raw)
	require.True(t, ok)
	assert.Contains(t, jsonText, `"goal"`)
	assert.NotContains(t, jsonText, "suffix")
}

func TestIsTemporalPhrase(t *testing.T) {
	for _, phrase := range []string{
		"last 7 days", "past 30 days", "yesterday", "this week",
		"3 days ago", "last month", "show me sales for the previous 14 days",
	} {
		assert.True(t, IsTemporalPhrase(phrase), phrase)
	}
	for _, plain := range []string{"2024-01-01", "revenue by region", "all time"} {
		assert.False(t, IsTemporalPhrase(plain), plain)
	}
}

func TestPlaceholderFromValue(t *testing.T) {
	ph, ok := PlaceholderFromValue(map[string]any{"source": "result_of_phase_2", "key": "TableName"})
	require.True(t, ok)
	assert.Equal(t, "result_of_phase_2", ph.Source)
	assert.Equal(t, "TableName", ph.Key)

	// Legacy single-entry form.
	ph, ok = PlaceholderFromValue(map[string]any{"result_of_phase_1": "date"})
	require.True(t, ok)
	assert.Equal(t, "result_of_phase_1", ph.Source)
	assert.Equal(t, "date", ph.Key)

	_, ok = PlaceholderFromValue(map[string]any{"query": "SELECT 1"})
	assert.False(t, ok)
}
