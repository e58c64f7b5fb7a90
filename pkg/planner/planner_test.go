package planner

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxislabs/praxis/pkg/events"
	"github.com/praxislabs/praxis/pkg/llms"
	"github.com/praxislabs/praxis/pkg/plan"
	"github.com/praxislabs/praxis/pkg/tools"
)

type scriptedCaller struct {
	responses []string
	requests  []llms.Request
}

func (c *scriptedCaller) CallStrategic(_ context.Context, _ string, req llms.Request) (*llms.Response, error) {
	c.requests = append(c.requests, req)
	text := c.responses[0]
	if len(c.responses) > 1 {
		c.responses = c.responses[1:]
	}
	return &llms.Response{Text: text, Usage: llms.Usage{InputTokens: 100, OutputTokens: 50}}, nil
}

type fakeTool struct{ info tools.ToolInfo }

func (t fakeTool) Info() tools.ToolInfo { return t.info }

func (t fakeTool) Execute(context.Context, map[string]any) (*tools.Output, error) {
	return tools.TextSuccess(t.info.Name, "ok"), nil
}

func newTestCatalog(t *testing.T) *tools.Catalog {
	t.Helper()
	catalog := tools.NewCatalog()
	require.NoError(t, catalog.AddTool(fakeTool{info: tools.ToolInfo{
		Name:        "base_readQuery",
		Description: "run a read-only query",
		Parameters: []tools.ToolParameter{
			{Name: "query", Type: "string", Required: true},
		},
	}}))
	require.NoError(t, catalog.AddTool(fakeTool{info: tools.ToolInfo{
		Name: tools.ToolFinalReport,
		Parameters: []tools.ToolParameter{
			{Name: "goal", Type: "string", Required: true},
			{Name: "source_data", Type: "array"},
		},
	}}))
	return catalog
}

func newTestPlanner(t *testing.T, caller Caller) (*Planner, *events.Recorder) {
	t.Helper()
	catalog := newTestCatalog(t)
	rec := events.NewRecorder()
	rewriter := plan.NewRewriter(catalog, plan.NewValidator(catalog, rec, nil), nil, rec, nil)
	return New(caller, catalog, rewriter, "", rec, nil), rec
}

func TestPlan_ParsesAndRewrites(t *testing.T) {
	caller := &scriptedCaller{responses: []string{
		`[{"phase": 1, "goal": "fetch", "relevant_tools": ["base_readQuery"], "arguments": {"query": "SELECT 1"}}]`,
	}}
	p, rec := newTestPlanner(t, caller)

	result, err := p.Plan(context.Background(), Inputs{UserQuery: "total sales"})
	require.NoError(t, err)

	// The raw plan is the pre-rewrite copy; the final plan carries the
	// appended report phase.
	assert.Len(t, result.RawPlan, 1)
	require.Equal(t, 2, result.Plan.Len())
	assert.Equal(t, tools.ToolFinalReport, result.Plan.Last().PrimaryTool())

	generated := rec.Named(events.PlanGenerated)
	require.Len(t, generated, 1)
	assert.Len(t, generated[0].Data["details"], 2)
}

func TestPlan_LifecycleStaysInsideEventVocabulary(t *testing.T) {
	caller := &scriptedCaller{responses: []string{
		`[{"phase": 1, "goal": "fetch", "relevant_tools": ["base_readQuery"], "arguments": {"query": "SELECT 1"}}]`,
	}}
	p, rec := newTestPlanner(t, caller)

	_, err := p.Plan(context.Background(), Inputs{UserQuery: "q"})
	require.NoError(t, err)

	// Planning progress travels as system_message; status_indicator_update
	// carries only the fixed target/state vocabulary.
	var sawPlanning bool
	for _, ev := range rec.Named(events.SystemMessage) {
		if ev.Data["step"] == "planning" {
			sawPlanning = true
		}
	}
	assert.True(t, sawPlanning, "expected planning lifecycle system_message events")

	for _, ev := range rec.Named(events.StatusIndicatorUpdate) {
		assert.Contains(t, []any{"llm", "db", "context"}, ev.Data["target"])
		assert.Contains(t, []any{"busy", "idle", "processing_complete"}, ev.Data["state"])
	}
}

func TestPlan_Conversational(t *testing.T) {
	caller := &scriptedCaller{responses: []string{
		`{"plan_type": "conversational", "response": "Hi there"}`,
	}}
	p, rec := newTestPlanner(t, caller)

	result, err := p.Plan(context.Background(), Inputs{UserQuery: "hello"})
	require.NoError(t, err)
	assert.True(t, result.Plan.Conversational)
	assert.Equal(t, "Hi there", result.Plan.Response)
	assert.Empty(t, rec.Named(events.PlanGenerated))
}

func TestPlan_MalformedResponseIsParseError(t *testing.T) {
	caller := &scriptedCaller{responses: []string{"I refuse to emit JSON."}}
	p, _ := newTestPlanner(t, caller)

	_, err := p.Plan(context.Background(), Inputs{UserQuery: "q"})
	require.Error(t, err)
	assert.True(t, IsParseError(err))
}

func TestPlan_PromptBodyBecomesGoal(t *testing.T) {
	caller := &scriptedCaller{responses: []string{
		`[{"phase": 1, "goal": "g", "relevant_tools": ["FinalReport"], "arguments": {"goal": "g"}}]`,
	}}
	p, _ := newTestPlanner(t, caller)

	_, err := p.Plan(context.Background(), Inputs{
		UserQuery:  "run the check",
		PromptName: "monthly_health_check",
		PromptBody: "Audit every table for anomalies.",
	})
	require.NoError(t, err)

	require.Len(t, caller.requests, 1)
	prompt := caller.requests[0].Messages[0].Content
	assert.Contains(t, prompt, "Audit every table for anomalies.")
	assert.NotContains(t, prompt, "Request: run the check")
}

func TestBuildPrompt_SectionOrder(t *testing.T) {
	p, _ := newTestPlanner(t, &scriptedCaller{responses: []string{""}})

	prompt := p.buildPrompt(Inputs{
		UserQuery: "total revenue",
		History:   []HistoryTurn{{Query: "hi", Response: "hello", Tools: []string{"CurrentDate"}}},
		Knowledge: "the fiscal year starts in February",
		FewShot:   []FewShotExample{{Query: "old request", Plan: `[{"phase":1}]`}},
	})

	// Fixed ordering: goal, history, knowledge, few-shot, constraints, tools.
	goalIdx := strings.Index(prompt, "Request: total revenue")
	histIdx := strings.Index(prompt, "Conversation so far:")
	knowIdx := strings.Index(prompt, "Retrieved knowledge:")
	fewIdx := strings.Index(prompt, "do not copy")
	consIdx := strings.Index(prompt, "Constraints:")
	toolIdx := strings.Index(prompt, "Tools:")

	for name, idx := range map[string]int{
		"goal": goalIdx, "history": histIdx, "knowledge": knowIdx,
		"fewshot": fewIdx, "constraints": consIdx, "tools": toolIdx,
	} {
		require.GreaterOrEqual(t, idx, 0, name)
	}
	assert.Less(t, goalIdx, histIdx)
	assert.Less(t, histIdx, knowIdx)
	assert.Less(t, knowIdx, fewIdx)
	assert.Less(t, fewIdx, consIdx)
	assert.Less(t, consIdx, toolIdx)
}
