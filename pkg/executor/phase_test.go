package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxislabs/praxis/pkg/events"
	"github.com/praxislabs/praxis/pkg/plan"
	"github.com/praxislabs/praxis/pkg/testutils"
	"github.com/praxislabs/praxis/pkg/tools"
)

func readQueryInfo() tools.ToolInfo {
	return tools.ToolInfo{
		Name:        "base_readQuery",
		Description: "run a read-only query",
		Parameters: []tools.ToolParameter{
			{Name: "query", Type: "string", Required: true},
		},
	}
}

type phaseHarness struct {
	llm      *testutils.FakeLLM
	tool     *testutils.FakeTool
	catalog  *tools.Catalog
	state    *plan.State
	history  *History
	recorder *events.Recorder
	pe       *PhaseExecutor
}

func newPhaseHarness(t *testing.T, pl *plan.Plan, responses ...string) *phaseHarness {
	t.Helper()
	h := &phaseHarness{
		llm:      testutils.NewFakeLLM(responses...),
		tool:     testutils.NewFakeTool(readQueryInfo()),
		catalog:  tools.NewCatalog(),
		state:    plan.NewState(),
		history:  NewHistory(),
		recorder: events.NewRecorder(),
	}
	require.NoError(t, h.catalog.AddTool(h.tool))
	caller := NewAccountant(h.llm, nil, nil, nil, h.recorder, "u1", "s1", 0, 0, nil)
	h.pe = NewPhaseExecutor(caller, h.catalog, h.state, pl, h.history,
		nil, nil, h.recorder, nil, "total sales", 0)
	return h
}

func singlePhasePlan(phase *plan.Phase) *plan.Plan {
	return &plan.Plan{Phases: []*plan.Phase{phase}}
}

func TestExecute_FastPathSkipsTacticalChannel(t *testing.T) {
	phase := &plan.Phase{
		Number:        1,
		Goal:          "fetch",
		RelevantTools: []string{"base_readQuery"},
		Arguments:     map[string]any{"query": "SELECT 1"},
	}
	h := newPhaseHarness(t, singlePhasePlan(phase))
	h.tool.Respond(tools.Success("base_readQuery", []map[string]any{{"n": 1.0}}), nil)

	result, err := h.pe.Execute(context.Background(), phase, 1)
	require.NoError(t, err)

	// No LM call was needed.
	assert.Zero(t, h.llm.Calls())
	require.Len(t, h.tool.Calls(), 1)
	assert.Equal(t, "SELECT 1", h.tool.Calls()[0]["query"])

	// The result was bound for downstream phases.
	bound, ok := h.state.Get(plan.ResultKey(1))
	require.True(t, ok)
	assert.Equal(t, result, bound)

	ends := h.recorder.Named(events.PhaseEnd)
	require.Len(t, ends, 1)
	details := ends[0].Data["details"].(map[string]any)
	assert.Equal(t, "completed", details["status"])
}

func TestExecute_PlaceholderArgumentsResolveBeforeFastPath(t *testing.T) {
	phase1 := &plan.Phase{
		Number:        1,
		Goal:          "fetch",
		RelevantTools: []string{"base_readQuery"},
		Arguments: map[string]any{
			"query": map[string]any{"source": "result_of_phase_0"},
		},
	}
	h := newPhaseHarness(t, singlePhasePlan(phase1))
	h.state.Bind(plan.ResultKey(0), "SELECT * FROM users")

	_, err := h.pe.Execute(context.Background(), phase1, 1)
	require.NoError(t, err)
	require.Len(t, h.tool.Calls(), 1)
	assert.Equal(t, "SELECT * FROM users", h.tool.Calls()[0]["query"])
}

func TestExecute_TemporalPhraseForcesSlowPath(t *testing.T) {
	phase := &plan.Phase{
		Number:        1,
		Goal:          "fetch recent",
		RelevantTools: []string{"base_readQuery"},
		Arguments:     map[string]any{"query": "last month"},
	}
	h := newPhaseHarness(t, singlePhasePlan(phase),
		`{"tool_name": "base_readQuery", "arguments": {"query": "SELECT 1 WHERE m = 7"}}`)

	_, err := h.pe.Execute(context.Background(), phase, 1)
	require.NoError(t, err)

	// The tactical channel produced the concrete action.
	assert.Equal(t, 1, h.llm.Calls())
	require.Len(t, h.tool.Calls(), 1)
	assert.Equal(t, "SELECT 1 WHERE m = 7", h.tool.Calls()[0]["query"])
}

func TestExecute_EmptyLoopSourceSkipsAndBindsEmptyList(t *testing.T) {
	phase := &plan.Phase{
		Number:        1,
		Goal:          "per item",
		RelevantTools: []string{"base_readQuery"},
		Type:          "loop",
		LoopOver:      "result_of_phase_0",
		Arguments:     map[string]any{"query": map[string]any{"source": "loop_item"}},
	}
	h := newPhaseHarness(t, singlePhasePlan(phase))
	h.state.Bind(plan.ResultKey(0), map[string]any{"status": "success", "results": []any{}})

	result, err := h.pe.Execute(context.Background(), phase, 1)
	require.NoError(t, err)
	assert.Equal(t, []any{}, result)
	assert.Empty(t, h.tool.Calls())

	ends := h.recorder.Named(events.PhaseEnd)
	require.Len(t, ends, 1)
	details := ends[0].Data["details"].(map[string]any)
	assert.Equal(t, "skipped", details["status"])

	bound, ok := h.state.Get(plan.ResultKey(1))
	require.True(t, ok)
	assert.Equal(t, []any{}, bound)
}

func TestExecute_LoopFastPathRunsPerItem(t *testing.T) {
	phase := &plan.Phase{
		Number:        1,
		Goal:          "per table",
		RelevantTools: []string{"base_readQuery"},
		Type:          "loop",
		LoopOver:      "result_of_phase_0",
		Arguments: map[string]any{
			"query": map[string]any{"source": "loop_item", "key": "name"},
		},
	}
	h := newPhaseHarness(t, singlePhasePlan(phase))
	h.state.Bind(plan.ResultKey(0), map[string]any{
		"status": "success",
		"results": []any{
			map[string]any{"name": "users"},
			map[string]any{"name": "orders"},
		},
	})

	result, err := h.pe.Execute(context.Background(), phase, 1)
	require.NoError(t, err)
	assert.Zero(t, h.llm.Calls())
	require.Len(t, h.tool.Calls(), 2)
	assert.Equal(t, "users", h.tool.Calls()[0]["query"])
	assert.Equal(t, "orders", h.tool.Calls()[1]["query"])
	assert.Len(t, result, 2)
}

func TestExecute_HallucinatedLiteralLoopRepairs(t *testing.T) {
	phase := &plan.Phase{
		Number:        1,
		Goal:          "describe tables",
		RelevantTools: []string{"base_readQuery"},
		Type:          "loop",
		LoopOver:      []any{"users", "orders"},
		Arguments:     map[string]any{},
	}
	h := newPhaseHarness(t, singlePhasePlan(phase))

	_, err := h.pe.Execute(context.Background(), phase, 1)
	require.NoError(t, err)
	require.Len(t, h.tool.Calls(), 2)
	// The literal strings were routed into the first required string slot.
	assert.Equal(t, "users", h.tool.Calls()[0]["query"])
	assert.Equal(t, "orders", h.tool.Calls()[1]["query"])
}

func TestExecute_ContextReportBypassEmitsAnswerDirectly(t *testing.T) {
	phase := &plan.Phase{
		Number:        1,
		Goal:          "answer from context",
		RelevantTools: []string{tools.ToolContextReport},
		Arguments:     map[string]any{"answer_from_context": "The schema has 12 tables."},
	}
	h := newPhaseHarness(t, singlePhasePlan(phase))

	result, err := h.pe.Execute(context.Background(), phase, 1)
	require.NoError(t, err)
	assert.Zero(t, h.llm.Calls())

	out := tools.OutputFromMap(result.(map[string]any))
	text, ok := out.ResponseText()
	require.True(t, ok)
	assert.Equal(t, "The schema has 12 tables.", text)
	assert.Equal(t, 1, h.history.Len())
}

func TestExecuteAction_TableNotFoundCorrectionRetries(t *testing.T) {
	phase := &plan.Phase{
		Number:        1,
		Goal:          "fetch",
		RelevantTools: []string{"base_readQuery"},
		Arguments:     map[string]any{"query": "SELECT * FROM usrs"},
	}
	h := newPhaseHarness(t, singlePhasePlan(phase),
		`{"tool_name": "base_readQuery", "arguments": {"query": "SELECT * FROM users"}}`)
	h.tool.Respond(tools.Failure("base_readQuery", "Object 'usrs' does not exist"), nil)
	h.tool.Respond(tools.Success("base_readQuery", []map[string]any{{"id": 1.0}}), nil)

	result, err := h.pe.Execute(context.Background(), phase, 1)
	require.NoError(t, err)

	// One correction call, two tool invocations, and both attempts traced.
	assert.Equal(t, 1, h.llm.Calls())
	require.Len(t, h.tool.Calls(), 2)
	assert.Equal(t, "SELECT * FROM users", h.tool.Calls()[1]["query"])
	assert.Equal(t, 2, h.history.Len())

	out := tools.OutputFromMap(result.(map[string]any))
	assert.True(t, out.OK())

	corrections := h.recorder.Named(events.SystemMessage)
	require.NotEmpty(t, corrections)
}

func TestExecuteAction_FinalAnswerCorrectionShortCircuits(t *testing.T) {
	phase := &plan.Phase{
		Number:        1,
		Goal:          "fetch",
		RelevantTools: []string{"base_readQuery"},
		Arguments:     map[string]any{"query": "SELECT * FROM ghost"},
	}
	h := newPhaseHarness(t, singlePhasePlan(phase),
		`{"FINAL_ANSWER": "That table does not exist in this database."}`)
	h.tool.Respond(tools.Failure("base_readQuery", "Object 'ghost' does not exist"), nil)

	result, err := h.pe.Execute(context.Background(), phase, 1)
	require.NoError(t, err)

	out := tools.OutputFromMap(result.(map[string]any))
	text, ok := out.ResponseText()
	require.True(t, ok)
	assert.Equal(t, "That table does not exist in this database.", text)
	require.Len(t, h.tool.Calls(), 1)
}

func TestExecuteAction_DefinitiveErrorPropagatesWithFriendlyMessage(t *testing.T) {
	phase := &plan.Phase{
		Number:        1,
		Goal:          "fetch",
		RelevantTools: []string{"base_readQuery"},
		Arguments:     map[string]any{"query": "SELECT 1"},
	}
	h := newPhaseHarness(t, singlePhasePlan(phase))
	h.tool.Respond(tools.Failure("base_readQuery", "permission denied for relation users"), nil)

	_, err := h.pe.Execute(context.Background(), phase, 1)
	require.Error(t, err)

	var definitive *DefinitiveToolError
	require.ErrorAs(t, err, &definitive)
	assert.Contains(t, definitive.Friendly, "permission")
	// No correction was attempted.
	assert.Zero(t, h.llm.Calls())
}

func TestSlowPath_DuplicateActionDetectionStalls(t *testing.T) {
	phase := &plan.Phase{
		Number:          1,
		Goal:            "fetch",
		RelevantTools:   []string{"base_readQuery"},
		Arguments:       map[string]any{"query": "last month"},
		NeedsRefinement: false,
	}
	// The tactical channel keeps proposing the same action the history
	// already holds.
	h := newPhaseHarness(t, singlePhasePlan(phase),
		`{"tool_name": "base_readQuery", "arguments": {"query": "SELECT 1"}}`)
	h.history.Append(ActionEntry{
		Action:   map[string]any{"tool_name": "base_readQuery", "arguments": map[string]any{"query": "SELECT 1"}},
		PhaseNum: 1,
	})

	_, err := h.pe.Execute(context.Background(), phase, 1)
	require.Error(t, err)

	var stall *PhaseStallError
	require.ErrorAs(t, err, &stall)
	assert.Equal(t, maxTacticalRetries, stall.Retries)
	assert.Empty(t, h.tool.Calls())
}

func TestExecute_CancellationBetweenItemsStopsLoop(t *testing.T) {
	phase := &plan.Phase{
		Number:        1,
		Goal:          "per table",
		RelevantTools: []string{"base_readQuery"},
		Type:          "loop",
		LoopOver:      "result_of_phase_0",
		Arguments: map[string]any{
			"query": map[string]any{"source": "loop_item", "key": "name"},
		},
	}
	h := newPhaseHarness(t, singlePhasePlan(phase))
	h.state.Bind(plan.ResultKey(0), []any{
		map[string]any{"name": "users"},
		map[string]any{"name": "orders"},
	})

	calls := 0
	caller := NewAccountant(h.llm, nil, nil, nil, h.recorder, "u1", "s1", 0, 0, nil)
	pe := NewPhaseExecutor(caller, h.catalog, h.state, singlePhasePlan(phase), h.history,
		nil, func() bool { calls++; return calls > 3 }, h.recorder, nil, "q", 0)

	_, err := pe.Execute(context.Background(), phase, 1)
	require.Error(t, err)
	assert.True(t, IsCancellation(err))
	// The first item ran before the flag tripped.
	assert.Len(t, h.tool.Calls(), 1)
}

func TestChartingBypass_MapsAxesFromPreviousResult(t *testing.T) {
	phase := &plan.Phase{
		Number:        2,
		Goal:          "chart it",
		RelevantTools: []string{tools.ToolCharting},
		Arguments:     map[string]any{"data": map[string]any{"source": "result_of_phase_1"}},
	}
	h := newPhaseHarness(t, singlePhasePlan(phase))
	chart := testutils.NewFakeTool(tools.ToolInfo{
		Name: tools.ToolCharting,
		Parameters: []tools.ToolParameter{
			{Name: "data", Type: "array", Required: true},
			{Name: "mapping", Type: "object", Required: true},
		},
	})
	require.NoError(t, h.catalog.AddTool(chart))
	h.state.Bind(plan.ResultKey(1), map[string]any{
		"status": "success",
		"results": []any{
			map[string]any{"region": "west", "total": 42.0},
			map[string]any{"region": "east", "total": 17.0},
		},
	})

	_, err := h.pe.Execute(context.Background(), phase, 1)
	require.NoError(t, err)

	require.Len(t, chart.Calls(), 1)
	mapping := chart.Calls()[0]["mapping"].(map[string]any)
	assert.Equal(t, "region", mapping["x_axis"])
	assert.Equal(t, "total", mapping["y_axis"])
	assert.Zero(t, h.llm.Calls())
}
