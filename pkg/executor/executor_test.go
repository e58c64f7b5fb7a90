package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxislabs/praxis/pkg/clock"
	"github.com/praxislabs/praxis/pkg/events"
	"github.com/praxislabs/praxis/pkg/llms"
	"github.com/praxislabs/praxis/pkg/profile"
	"github.com/praxislabs/praxis/pkg/ratelimit"
	"github.com/praxislabs/praxis/pkg/registry"
	"github.com/praxislabs/praxis/pkg/session"
	"github.com/praxislabs/praxis/pkg/testutils"
	"github.com/praxislabs/praxis/pkg/tools"
)

type turnHarness struct {
	llm   *testutils.FakeLLM
	tool  *testutils.FakeTool
	store *session.MemoryStore
	clk   *clock.Fake
	exec  *PlanExecutor
	cfg   Config
}

func newTurnHarness(t *testing.T, profType string, responses ...string) *turnHarness {
	t.Helper()

	h := &turnHarness{
		llm:   testutils.NewFakeLLM(responses...),
		tool:  testutils.NewFakeTool(readQueryInfo()),
		clk:   clock.NewFake(time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)),
	}
	h.store = session.NewMemoryStore(h.clk)

	providers := &llms.ProviderRegistry{BaseRegistry: registry.NewBaseRegistry[llms.LLM]()}
	require.NoError(t, providers.Register("fake", h.llm))

	profiles, err := profile.NewRegistry(&profile.Profile{
		Tag:      "default",
		Type:     profType,
		Provider: "fake",
	})
	require.NoError(t, err)

	catalog := tools.NewCatalog()
	require.NoError(t, catalog.AddTool(h.tool))

	h.cfg = Config{
		Sessions:  h.store,
		Profiles:  profiles,
		Providers: providers,
		Catalog:   catalog,
		Clock:     h.clk,
	}
	h.exec, err = New(h.cfg)
	require.NoError(t, err)
	return h
}

func (h *turnHarness) run(t *testing.T, query string) (*session.Turn, error) {
	t.Helper()
	return h.exec.ExecuteTurn(context.Background(), TurnRequest{
		UserID:    "u1",
		SessionID: "s1",
		Query:     query,
	})
}

func TestExecuteTurn_ToolEnabledEndToEnd(t *testing.T) {
	h := newTurnHarness(t, profile.TypeToolEnabled,
		`[{"phase": 1, "goal": "fetch totals", "relevant_tools": ["base_readQuery"], "arguments": {"query": "SELECT SUM(x) FROM t"}},
		  {"phase": 2, "goal": "report", "relevant_tools": ["FinalReport"], "arguments": {"goal": "summarise totals", "data": {"source": "result_of_phase_1"}}}]`,
		"Total is 42.",
		"Revenue totals")
	h.tool.Respond(tools.Success("base_readQuery", []map[string]any{{"total": 42.0}}), nil)

	turn, err := h.run(t, "what are the totals?")
	require.NoError(t, err)

	assert.Equal(t, session.StatusSuccess, turn.Status)
	assert.Equal(t, "Total is 42.", turn.FinalSummaryText)
	assert.Equal(t, 1, turn.Number)
	assert.False(t, turn.IsPartial)
	assert.Len(t, turn.ExecutionTrace, 2)
	assert.Len(t, turn.RawLLMPlan, 2)

	// Plan call + report synthesis, both accounted before persistence; the
	// naming call lands on the next turn's session totals.
	assert.Equal(t, 200, turn.TurnInputTokens)
	assert.Equal(t, 100, turn.TurnOutputTokens)

	sess, err := h.store.Get(context.Background(), "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "Revenue totals", sess.Name)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, "what are the totals?", sess.Messages[0].Content)
	assert.Equal(t, "Total is 42.", sess.Messages[1].Content)
	require.Len(t, sess.History, 1)

	// The persisted audit lanes carry the planning and tool events.
	assert.NotEmpty(t, turn.ToolEnabledEvents)
	assert.NotEmpty(t, turn.SystemEvents)

	// The resolved phase-1 rows must reach the report-synthesis prompt; a
	// report phase whose data key misses the tool schema synthesises from
	// the goal alone.
	reqs := h.llm.Requests()
	require.Len(t, reqs, 3) // plan, synthesis, naming
	synthesis := reqs[1].Messages[len(reqs[1].Messages)-1].Content
	assert.Contains(t, synthesis, "summarise totals")
	assert.Contains(t, synthesis, "42")
}

func TestExecuteTurn_TerminalEventPayloadKeys(t *testing.T) {
	h := newTurnHarness(t, profile.TypeToolEnabled,
		`[{"phase": 1, "goal": "fetch", "relevant_tools": ["base_readQuery"], "arguments": {"query": "SELECT 1"}}]`,
		"Done.",
		"Title")
	h.tool.Respond(tools.Success("base_readQuery", []map[string]any{{"n": 1.0}}), nil)

	rec := events.NewRecorder()
	_, err := h.exec.ExecuteTurn(context.Background(), TurnRequest{
		UserID: "u1", SessionID: "s1", Query: "q", Sink: rec,
	})
	require.NoError(t, err)

	finals := rec.Named(events.FinalAnswer)
	require.Len(t, finals, 1)
	data := finals[0].Data
	assert.Equal(t, "Done.", data["final_answer"])
	assert.Equal(t, "Done.", data["final_answer_text"])
	assert.Equal(t, "execution", data["source"])
	assert.Equal(t, false, data["is_session_primer"])
	assert.Contains(t, data, "turn_id")
	assert.Contains(t, data, "session_id")

	completes := rec.Named(events.ExecutionComplete)
	require.Len(t, completes, 1)
	done := completes[0].Data
	assert.Equal(t, profile.TypeToolEnabled, done["profile_type"])
	assert.Equal(t, "default", done["profile_tag"])
	assert.Equal(t, true, done["success"])
	assert.Equal(t, session.StatusSuccess, done["status"])
	for _, key := range []string{"total_input_tokens", "total_output_tokens", "cost_usd", "duration_ms"} {
		assert.Contains(t, done, key)
	}
}

func TestExecuteTurn_ErrorEmitsTerminalBadgeAndLifecycle(t *testing.T) {
	h := newTurnHarness(t, profile.TypeToolEnabled,
		`[{"phase": 1, "goal": "fetch", "relevant_tools": ["base_readQuery"], "arguments": {"query": "SELECT 1"}}]`)
	h.tool.Respond(tools.Failure("base_readQuery", "permission denied for relation users"), nil)

	rec := events.NewRecorder()
	_, err := h.exec.ExecuteTurn(context.Background(), TurnRequest{
		UserID: "u1", SessionID: "s1", Query: "q", Sink: rec,
	})
	require.Error(t, err)

	badges := rec.Named(events.ErrorEvent)
	require.Len(t, badges, 1)
	assert.Contains(t, badges[0].Data, "turn_id")
	assert.Contains(t, badges[0].Data, "session_id")
	assert.Contains(t, badges[0].Data, "error")

	lifecycle := rec.Named(events.ExecutionError)
	require.Len(t, lifecycle, 1)
	data := lifecycle[0].Data
	assert.Equal(t, false, data["success"])
	assert.Equal(t, profile.TypeToolEnabled, data["profile_type"])
	for _, key := range []string{"total_input_tokens", "total_output_tokens", "cost_usd", "duration_ms", "error"} {
		assert.Contains(t, data, key)
	}
}

func TestExecuteTurn_ConversationalPlanShortCircuits(t *testing.T) {
	h := newTurnHarness(t, profile.TypeToolEnabled,
		`{"plan_type": "conversational", "response": "Hello! Ask me about your data."}`,
		"Greeting")

	turn, err := h.run(t, "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello! Ask me about your data.", turn.FinalSummaryText)
	assert.Empty(t, turn.ExecutionTrace)
	assert.Empty(t, h.tool.Calls())
}

func TestExecuteTurn_LLMOnlyMode(t *testing.T) {
	h := newTurnHarness(t, profile.TypeLLMOnly,
		"Paris is the capital of France.",
		"Capitals")

	turn, err := h.run(t, "capital of France?")
	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital of France.", turn.FinalSummaryText)
	assert.Empty(t, turn.ExecutionTrace)

	reqs := h.llm.Requests()
	require.NotEmpty(t, reqs)
	assert.Contains(t, reqs[0].Messages[len(reqs[0].Messages)-1].Content, "capital of France?")
}

type fakeRetriever struct {
	knowledge *Knowledge
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ []string, _ string, _ events.Sink) (*Knowledge, error) {
	return f.knowledge, nil
}

func TestExecuteTurn_RAGFocusedZeroDocumentsIsAnAnswer(t *testing.T) {
	h := newTurnHarness(t, profile.TypeRAGFocused, "Policies")
	h.cfg.Retriever = &fakeRetriever{knowledge: &Knowledge{DocumentCount: 0}}
	var err error
	h.exec, err = New(h.cfg)
	require.NoError(t, err)

	// Profile needs a collection for retrieval to run at all.
	prof, err := h.cfg.Profiles.Resolve("default")
	require.NoError(t, err)
	prof.Collections = []string{"policies"}

	turn, err := h.run(t, "what is the refund policy?")
	require.NoError(t, err)
	assert.Equal(t, session.StatusSuccess, turn.Status)
	assert.Equal(t, noKnowledgeAnswer, turn.FinalSummaryText)
	// Only the naming call reached the LM.
	assert.Equal(t, 1, h.llm.Calls())
}

func TestExecuteTurn_TokenLimitMapsToQuotaError(t *testing.T) {
	h := newTurnHarness(t, profile.TypeToolEnabled)
	limitStore := ratelimit.NewMemoryStore(h.clk)
	limiter, err := ratelimit.NewLimiter(limitStore, h.clk)
	require.NoError(t, err)
	require.NoError(t, limitStore.SaveProfile(context.Background(), ratelimit.ConsumptionProfile{
		Limits: []ratelimit.Limit{{Type: ratelimit.LimitTypeToken, Window: ratelimit.WindowDay, Max: 100}},
	}))
	require.NoError(t, limiter.Record(context.Background(), "u1", 150, 0))

	h.cfg.Limiter = limiter
	h.exec, err = New(h.cfg)
	require.NoError(t, err)

	_, err = h.run(t, "query")
	var quota *QuotaError
	require.ErrorAs(t, err, &quota)
	assert.Zero(t, h.llm.Calls())
}

func TestExecuteTurn_TurnCountLimitMapsToRateLimitError(t *testing.T) {
	h := newTurnHarness(t, profile.TypeToolEnabled)
	limitStore := ratelimit.NewMemoryStore(h.clk)
	limiter, err := ratelimit.NewLimiter(limitStore, h.clk)
	require.NoError(t, err)
	require.NoError(t, limitStore.SaveProfile(context.Background(), ratelimit.ConsumptionProfile{
		Limits: []ratelimit.Limit{{Type: ratelimit.LimitTypeCount, Window: ratelimit.WindowMinute, Max: 1}},
	}))
	require.NoError(t, limiter.Record(context.Background(), "u1", 0, 1))

	h.cfg.Limiter = limiter
	h.exec, err = New(h.cfg)
	require.NoError(t, err)

	_, err = h.run(t, "query")
	var rate *RateLimitError
	require.ErrorAs(t, err, &rate)
}

func TestExecuteTurn_CancellationPersistsPartialTurn(t *testing.T) {
	h := newTurnHarness(t, profile.TypeToolEnabled)
	h.exec.Cancel("u1", "s1")

	turn, err := h.run(t, "long query")
	require.Error(t, err)
	assert.True(t, IsCancellation(err))

	require.NotNil(t, turn)
	assert.Equal(t, session.StatusCancelled, turn.Status)
	assert.True(t, turn.IsPartial)

	sess, err := h.store.Get(context.Background(), "u1", "s1")
	require.NoError(t, err)
	require.Len(t, sess.History, 1)
	assert.Equal(t, session.StatusCancelled, sess.History[0].Status)
}

func TestExecuteTurn_DefinitiveErrorSurfacesFriendlyMessage(t *testing.T) {
	h := newTurnHarness(t, profile.TypeToolEnabled,
		`[{"phase": 1, "goal": "fetch", "relevant_tools": ["base_readQuery"], "arguments": {"query": "SELECT 1"}}]`)
	h.tool.Respond(tools.Failure("base_readQuery", "permission denied for relation users"), nil)

	turn, err := h.run(t, "query")
	require.Error(t, err)

	var definitive *DefinitiveToolError
	require.ErrorAs(t, err, &definitive)
	require.NotNil(t, turn)
	assert.Equal(t, session.StatusError, turn.Status)
	assert.True(t, turn.IsPartial)
	assert.Equal(t, "You do not have permission to access that data.", turn.FinalSummaryText)
}

func TestExecuteTurn_PromptPhaseRunsSubExecutor(t *testing.T) {
	h := newTurnHarness(t, profile.TypeToolEnabled,
		// Outer plan: delegate to a library prompt, then report.
		`[{"phase": 1, "goal": "run the health check", "executable_prompt": "health_check"},
		  {"phase": 2, "goal": "report", "relevant_tools": ["FinalReport"], "arguments": {"goal": "summarise", "data": {"source": "result_of_phase_1"}}}]`,
		// Inner plan at depth 1: answered from context, no tool calls.
		`[{"phase": 1, "goal": "inner", "relevant_tools": ["ContextReport"], "arguments": {"answer_from_context": "All systems healthy."}}]`,
		"Everything is healthy.",
		"Health check")

	library := profile.NewMemoryLibrary()
	require.NoError(t, library.SavePrompt(context.Background(), profile.Prompt{Name: "health_check"}))
	_, err := library.AddVersion(context.Background(), profile.PromptVersion{
		PromptName: "health_check",
		Body:       "Audit every table for anomalies.",
	})
	require.NoError(t, err)

	h.cfg.Library = library
	h.exec, err = New(h.cfg)
	require.NoError(t, err)

	turn, err := h.run(t, "run the check")
	require.NoError(t, err)
	assert.Equal(t, "Everything is healthy.", turn.FinalSummaryText)

	// The sub-executor's context-report action shares the parent trace at
	// depth 1.
	require.NotEmpty(t, turn.ExecutionTrace)
	depths := map[int]bool{}
	for _, entry := range turn.ExecutionTrace {
		depths[entry.ExecutionDepth] = true
	}
	assert.True(t, depths[1], "expected a depth-1 trace entry from the sub-executor")
}

func TestExecuteTurn_SessionNamingFailureIsNonFatal(t *testing.T) {
	h := newTurnHarness(t, profile.TypeToolEnabled,
		`{"plan_type": "conversational", "response": "Hi."}`)
	// The script runs out before the naming call, which must not fail the
	// turn.
	turn, err := h.run(t, "hi")
	require.NoError(t, err)
	assert.Equal(t, session.StatusSuccess, turn.Status)

	sess, err := h.store.Get(context.Background(), "u1", "s1")
	require.NoError(t, err)
	assert.Empty(t, sess.Name)
}
