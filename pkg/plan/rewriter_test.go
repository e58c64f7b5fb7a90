package plan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxislabs/praxis/pkg/tools"
)

func rewriterCatalog(t *testing.T) *tools.Catalog {
	t.Helper()
	catalog := testCatalog(t)

	for _, info := range []tools.ToolInfo{
		{Name: tools.ToolCurrentDate},
		{Name: tools.ToolDateRange, Parameters: []tools.ToolParameter{
			{Name: "start_date", Type: "string", Required: true},
			{Name: "end_date", Type: "string", Required: true},
		}},
		{Name: tools.ToolCharting, Parameters: []tools.ToolParameter{
			{Name: "chart_type", Type: "string", Required: true},
			{Name: "x_axis", Type: "string"},
			{Name: "y_axis", Type: "string"},
			{Name: "title", Type: "string"},
			{Name: "data", Type: "array"},
			{Name: "mapping", Type: "object"},
		}},
		{Name: tools.ToolFinalReport, Parameters: []tools.ToolParameter{
			{Name: "goal", Type: "string", Required: true},
			{Name: "source_data", Type: "array"},
		}},
		{Name: tools.ToolContextReport, Parameters: []tools.ToolParameter{
			{Name: "answer_from_context", Type: "string", Required: true},
		}},
		{Name: "base_dailyRevenue", Parameters: []tools.ToolParameter{
			{Name: "date", Type: "string", Required: true},
		}},
	} {
		require.NoError(t, catalog.AddTool(staticTool{info: info}))
	}
	return catalog
}

func newTestRewriter(t *testing.T, llm LMCall) *Rewriter {
	t.Helper()
	catalog := rewriterCatalog(t)
	return NewRewriter(catalog, NewValidator(catalog, nil, nil), llm, nil, nil)
}

func TestRewrite_TemporalContextInjection(t *testing.T) {
	rw := newTestRewriter(t, nil)
	pl := &Plan{Phases: []*Phase{
		{Number: 1, Goal: "today", RelevantTools: []string{tools.ToolCurrentDate}},
		{Number: 2, Goal: "revenue", RelevantTools: []string{"base_dailyRevenue"}},
		{Number: 3, Goal: "report", RelevantTools: []string{tools.ToolFinalReport},
			Arguments: map[string]any{"goal": "q"}},
	}}

	rw.Rewrite(context.Background(), pl, RewriteContext{UserQuery: "revenue for the last 7 days"})

	assert.Equal(t, "last 7 days", pl.Phases[1].Arguments["date"])
}

func TestRewrite_FinalReportGuarantee(t *testing.T) {
	rw := newTestRewriter(t, nil)
	pl := &Plan{Phases: []*Phase{
		{Number: 1, Goal: "fetch", RelevantTools: []string{"base_readQuery"},
			Arguments: map[string]any{"query": "SELECT 1"}},
	}}

	rw.Rewrite(context.Background(), pl, RewriteContext{UserQuery: "total sales"})

	require.Len(t, pl.Phases, 2)
	last := pl.Last()
	assert.Equal(t, tools.ToolFinalReport, last.PrimaryTool())
	assert.Equal(t, 2, last.Number)
	// The placeholder must land under the key the report tool reads, or the
	// synthesizer sees no data at all.
	assert.Equal(t,
		map[string]any{"source": "result_of_phase_1"},
		last.Arguments["source_data"])
	assert.NotContains(t, last.Arguments, "data")
}

func TestRewrite_FinalReportSkippedForSubProcess(t *testing.T) {
	rw := newTestRewriter(t, nil)
	pl := &Plan{Phases: []*Phase{
		{Number: 1, Goal: "fetch", RelevantTools: []string{"base_readQuery"},
			Arguments: map[string]any{"query": "SELECT 1"}},
	}}

	rw.Rewrite(context.Background(), pl, RewriteContext{UserQuery: "q", SubProcess: true})

	assert.Len(t, pl.Phases, 1)
}

func TestRewrite_ChartingCleanup(t *testing.T) {
	rw := newTestRewriter(t, nil)
	pl := &Plan{Phases: []*Phase{
		{Number: 1, Goal: "fetch", RelevantTools: []string{"base_readQuery"},
			Arguments: map[string]any{"query": "SELECT 1"}},
		{Number: 2, Goal: "chart", RelevantTools: []string{tools.ToolCharting},
			Arguments: map[string]any{
				"chart_type": "bar",
				"mapping":    map[string]any{"x": "guessed_col"},
				"data":       map[string]any{"source": "result_of_phase_1"},
			}},
	}}

	rw.Rewrite(context.Background(), pl, RewriteContext{UserQuery: "chart it"})

	chart := pl.Phases[1]
	assert.NotContains(t, chart.Arguments, "mapping")
	assert.NotContains(t, chart.Arguments, "data")
	assert.Equal(t, "bar", chart.Arguments["chart_type"])
}

func TestRewrite_ChartingKeepsPreviousTurnData(t *testing.T) {
	rw := newTestRewriter(t, nil)
	pl := &Plan{Phases: []*Phase{
		{Number: 1, Goal: "chart", RelevantTools: []string{tools.ToolCharting},
			Arguments: map[string]any{
				"chart_type": "line",
				"data":       map[string]any{"source": KeyInjectedPreviousTurn},
			}},
	}}

	rw.cleanChartingArguments(context.Background(), pl)

	assert.Contains(t, pl.Phases[0].Arguments, "data")
}

func TestRewrite_DateRangePairedParameters(t *testing.T) {
	rw := newTestRewriter(t, nil)
	pl := &Plan{Phases: []*Phase{
		{Number: 1, Goal: "range", RelevantTools: []string{tools.ToolDateRange},
			Arguments: map[string]any{"start_date": "2024-01-01", "end_date": "2024-01-07"}},
		{Number: 2, Goal: "stats", Type: "loop", LoopOver: "result_of_phase_1",
			RelevantTools: []string{"base_tableStatistics"},
			Arguments:     map[string]any{"table_name": "orders"}},
	}}

	rw.repairDateRangeFlow(context.Background(), pl)

	stats := pl.Phases[1]
	assert.False(t, stats.IsLoop())
	assert.Equal(t,
		map[string]any{"source": "result_of_phase_1", "key": "start_date"},
		stats.Arguments["start_date"])
	assert.Equal(t,
		map[string]any{"source": "result_of_phase_1", "key": "end_date"},
		stats.Arguments["end_date"])
}

func TestRewrite_DateRangeLoopConversion(t *testing.T) {
	rw := newTestRewriter(t, nil)
	pl := &Plan{Phases: []*Phase{
		{Number: 1, Goal: "range", RelevantTools: []string{tools.ToolDateRange}},
		{Number: 2, Goal: "daily revenue", RelevantTools: []string{"base_dailyRevenue"},
			Arguments: map[string]any{"date": map[string]any{"source": "result_of_phase_1"}}},
	}}

	rw.repairDateRangeFlow(context.Background(), pl)

	daily := pl.Phases[1]
	assert.True(t, daily.IsLoop())
	assert.Equal(t, "result_of_phase_1", daily.LoopOver)
}

func TestRewrite_AggregationLoopCollapsed(t *testing.T) {
	llm := func(_ context.Context, purpose, _ string) (string, error) {
		if purpose == "loop_task_classification" {
			return "aggregation", nil
		}
		return "", nil
	}
	rw := newTestRewriter(t, llm)
	pl := &Plan{Phases: []*Phase{
		{Number: 1, Goal: "list tables", RelevantTools: []string{"base_readQuery"},
			Arguments: map[string]any{"query": "SELECT name FROM tables"}},
		{Number: 2, Goal: "count all rows across tables", Type: "loop",
			LoopOver:      "result_of_phase_1",
			RelevantTools: []string{tools.ToolFinalReport},
			Arguments:     map[string]any{"goal": "count"}},
	}}

	rw.collapseInefficientLoops(context.Background(), pl)

	collapsed := pl.Phases[1]
	assert.False(t, collapsed.IsLoop())
	assert.Nil(t, collapsed.LoopOver)
	assert.Equal(t, "result_of_phase_1", collapsed.Arguments["source_data"])
}

func TestRewrite_SynthesisLoopKept(t *testing.T) {
	llm := func(_ context.Context, _, _ string) (string, error) {
		return "synthesis", nil
	}
	rw := newTestRewriter(t, llm)
	pl := &Plan{Phases: []*Phase{
		{Number: 1, Goal: "describe each table", Type: "loop",
			LoopOver:      "result_of_phase_0",
			RelevantTools: []string{tools.ToolFinalReport},
			Arguments:     map[string]any{"goal": "describe"}},
	}}

	rw.collapseInefficientLoops(context.Background(), pl)

	assert.True(t, pl.Phases[0].IsLoop())
}

func TestRewrite_PreviousTurnHydration(t *testing.T) {
	rw := newTestRewriter(t, nil)
	state := NewState()
	previous := map[string]any{"status": "success", "results": []any{map[string]any{"t": "orders"}}}
	pl := &Plan{Phases: []*Phase{
		{Number: 1, Goal: "iterate", Type: "loop", LoopOver: "result_of_phase_2",
			RelevantTools: []string{"base_tableStatistics"},
			Arguments:     map[string]any{"table_name": map[string]any{"source": "loop_item", "key": "t"}}},
		{Number: 2, Goal: "report", RelevantTools: []string{tools.ToolFinalReport},
			Arguments: map[string]any{"goal": "q"}},
	}}

	rw.hydratePreviousTurn(context.Background(), pl, RewriteContext{
		State:        state,
		PreviousTurn: &PreviousTurn{Result: previous},
	})

	assert.Equal(t, KeyInjectedPreviousTurn, pl.Phases[0].LoopOver)
	bound, ok := state.Get(KeyInjectedPreviousTurn)
	require.True(t, ok)
	assert.Equal(t, previous, bound)
}

func TestRewrite_SQLConsolidation(t *testing.T) {
	llm := func(_ context.Context, purpose, _ string) (string, error) {
		if purpose == "sql_consolidation" {
			return `{"goal": "fetch everything", "query": "SELECT a, b FROM t"}`, nil
		}
		return "", nil
	}
	rw := newTestRewriter(t, llm)
	pl := &Plan{Phases: []*Phase{
		{Number: 1, Goal: "fetch a", RelevantTools: []string{"base_readQuery"},
			Arguments: map[string]any{"query": "SELECT a FROM t"}},
		{Number: 2, Goal: "fetch b", RelevantTools: []string{"base_readQuery"},
			Arguments: map[string]any{"query": "SELECT b FROM t"}},
		{Number: 3, Goal: "report", RelevantTools: []string{tools.ToolFinalReport},
			Arguments: map[string]any{
				"goal":        "q",
				"source_data": map[string]any{"source": "result_of_phase_2"},
			}},
	}}

	rw.consolidateSQL(context.Background(), pl, RewriteContext{SQLConsolidation: true})

	require.Len(t, pl.Phases, 2)
	assert.Equal(t, "SELECT a, b FROM t", pl.Phases[0].Arguments["query"])
	// The report's reference follows the merged phase.
	assert.Equal(t,
		map[string]any{"source": "result_of_phase_1"},
		pl.Phases[1].Arguments["source_data"])
}

func TestRewrite_ContextReportSynthesis(t *testing.T) {
	llm := func(_ context.Context, purpose, _ string) (string, error) {
		if purpose == "context_report_synthesis" {
			return "The answer from the docs.", nil
		}
		return "", nil
	}
	rw := newTestRewriter(t, llm)
	pl := &Plan{Phases: []*Phase{
		{Number: 1, Goal: "what does the handbook say", RelevantTools: []string{tools.ToolContextReport}},
	}}

	rw.synthesiseContextReports(context.Background(), pl, RewriteContext{
		KnowledgeContext: "handbook text",
	})

	assert.Equal(t, "The answer from the docs.", pl.Phases[0].Arguments["answer_from_context"])
}

func TestRewrite_MultiLoopDistillation(t *testing.T) {
	rw := newTestRewriter(t, nil)
	pl := &Plan{Phases: []*Phase{
		{Number: 1, Goal: "list", RelevantTools: []string{"base_readQuery"},
			Arguments: map[string]any{"query": "SELECT name FROM tables"}},
		{Number: 2, Goal: "stats", Type: "loop", LoopOver: "result_of_phase_1",
			RelevantTools: []string{"base_tableStatistics"},
			Arguments:     map[string]any{"table_name": map[string]any{"source": "loop_item"}}},
		{Number: 3, Goal: "sizes", Type: "loop", LoopOver: "result_of_phase_1",
			RelevantTools: []string{"base_tableStatistics"},
			Arguments:     map[string]any{"table_name": map[string]any{"source": "loop_item"}}},
		{Number: 4, Goal: "summarize", RelevantTools: []string{tools.ToolFinalReport},
			Arguments: map[string]any{
				"goal": "q",
				"data": []any{
					map[string]any{"source": "result_of_phase_2"},
					map[string]any{"source": "result_of_phase_3"},
				},
			}},
	}}

	rw.distillMultiLoopSynthesis(context.Background(), pl)

	require.Len(t, pl.Phases, 5)
	distill := pl.Phases[3]
	assert.True(t, distill.IsLoop())
	// The distill phase must carry arguments its tool actually reads.
	assert.Equal(t, tools.ToolFinalReport, distill.PrimaryTool())
	assert.Contains(t, distill.Arguments, "source_data")
	summary := pl.Phases[4]
	assert.Equal(t,
		map[string]any{"source": "result_of_phase_4"},
		summary.Arguments["source_data"])
	assert.NotContains(t, summary.Arguments, "data")

	// Second run is a no-op.
	rw.distillMultiLoopSynthesis(context.Background(), pl)
	assert.Len(t, pl.Phases, 5)
}

func TestRewrite_DoubleRunIsNoOp(t *testing.T) {
	rw := newTestRewriter(t, nil)
	pl := &Plan{Phases: []*Phase{
		{Number: 1, Goal: "today", RelevantTools: []string{tools.ToolCurrentDate}},
		{Number: 2, Goal: "revenue", RelevantTools: []string{"base_dailyRevenue"}},
	}}
	rctx := RewriteContext{UserQuery: "revenue for the last 7 days"}

	once := rw.Rewrite(context.Background(), pl, rctx)
	snapshot := once.Clone().AsMaps()
	twice := rw.Rewrite(context.Background(), once, rctx)

	assert.Equal(t, snapshot, twice.AsMaps())
}
