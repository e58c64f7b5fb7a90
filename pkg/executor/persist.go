package executor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/praxislabs/praxis/pkg/events"
	"github.com/praxislabs/praxis/pkg/llms"
	"github.com/praxislabs/praxis/pkg/observability"
	"github.com/praxislabs/praxis/pkg/session"
)

// finishSuccess persists the completed turn and closes out the event stream.
func (e *PlanExecutor) finishSuccess(ctx context.Context, run *turnRun, answer string) (*session.Turn, error) {
	turnIn, turnOut := run.accountant.TurnTokens()
	run.sink.Emit(ctx, events.FinalAnswerEvent(answer, run.turnID, run.req.SessionID,
		run.answerSource(), run.req.IsSessionPrimer, turnIn, turnOut))

	turn := e.buildTurn(run, answer, session.StatusSuccess, false)
	if err := e.persistTurn(ctx, run, turn, answer); err != nil {
		return nil, err
	}
	e.recordUsage(ctx, run)
	e.maybeNameSession(ctx, run)

	run.sink.Emit(ctx, events.ExecutionCompleteEvent(run.turnID, run.req.SessionID,
		run.prof.Type, run.prof.Tag, session.StatusSuccess,
		turn.TurnInputTokens, turn.TurnOutputTokens, turn.TurnCost, turn.DurationMS))
	return turn, nil
}

// answerSource names where the final answer came from: the knowledge
// collection for rag-backed turns, plain execution otherwise.
func (run *turnRun) answerSource() string {
	if run.knowledge != nil && run.knowledge.SourceCollection != "" {
		return run.knowledge.SourceCollection
	}
	return "execution"
}

// finishCancelled persists the partial turn before the cancellation
// propagates: every interrupted turn leaves an audit record.
func (e *PlanExecutor) finishCancelled(ctx context.Context, run *turnRun) (*session.Turn, error) {
	run.sink.Emit(ctx, events.New(events.Cancelled, map[string]any{
		"turn_id":    run.turnID,
		"session_id": run.req.SessionID,
	}))

	turn := e.buildTurn(run, "", session.StatusCancelled, true)
	if err := e.persistTurn(ctx, run, turn, ""); err != nil {
		e.cfg.Logger.Error("failed to persist cancelled turn", "error", err)
	}
	e.recordUsage(ctx, run)

	run.sink.Emit(ctx, events.ExecutionCancelledEvent(run.turnID, run.req.SessionID,
		run.prof.Type, run.prof.Tag,
		turn.TurnInputTokens, turn.TurnOutputTokens, turn.TurnCost, turn.DurationMS))
	return turn, &CancellationError{UserID: run.req.UserID, SessionID: run.req.SessionID}
}

// finishError persists the failed turn with the friendly message when one is
// mapped, and the raw error otherwise.
func (e *PlanExecutor) finishError(ctx context.Context, run *turnRun, runErr error) (*session.Turn, error) {
	summary := runErr.Error()
	var definitive *DefinitiveToolError
	if errors.As(runErr, &definitive) && definitive.Friendly != "" {
		summary = definitive.Friendly
	}

	run.sink.Emit(ctx, events.ErrorTerminalEvent(run.turnID, run.req.SessionID, summary))

	turn := e.buildTurn(run, summary, session.StatusError, true)
	if err := e.persistTurn(ctx, run, turn, summary); err != nil {
		e.cfg.Logger.Error("failed to persist errored turn", "error", err)
	}
	e.recordUsage(ctx, run)

	run.sink.Emit(ctx, events.ExecutionErrorEvent(run.turnID, run.req.SessionID,
		run.prof.Type, run.prof.Tag,
		turn.TurnInputTokens, turn.TurnOutputTokens, turn.TurnCost, turn.DurationMS, summary))
	return turn, runErr
}

// buildTurn assembles the persisted audit record from the run's working set.
func (e *PlanExecutor) buildTurn(run *turnRun, answer, status string, partial bool) *session.Turn {
	turnIn, turnOut := run.accountant.TurnTokens()
	turnCost := run.accountant.TurnCost()
	now := e.cfg.Clock.Now()

	systemEvents, knowledgeEvents, toolEvents := splitEvents(run.recorder.Events())

	turn := &session.Turn{
		TurnID:           run.turnID,
		SessionID:        run.req.SessionID,
		Number:           run.turnNum,
		UserQuery:        run.req.Query,
		FinalSummaryText: answer,

		ExecutionTrace: run.history.Trace(),
		RawLLMPlan:     run.rawPlan,
		OriginalPlan:   run.execPlan,

		SystemEvents:      systemEvents,
		KnowledgeEvents:   knowledgeEvents,
		ToolEnabledEvents: toolEvents,

		Timestamp:   now,
		Provider:    run.prof.StrategicProvider,
		Model:       run.prof.StrategicModel,
		ProfileTag:  run.prof.Tag,
		ProfileType: run.prof.Type,

		TurnInputTokens:  turnIn,
		TurnOutputTokens: turnOut,
		TurnCost:         turnCost,
		SessionCostUSD:   run.sess.CostUSD + turnCost,

		CaseID:          run.req.CaseID,
		Status:          status,
		IsPartial:       partial,
		IsSessionPrimer: run.req.IsSessionPrimer,

		DurationMS: now.Sub(run.started).Milliseconds(),
	}
	if run.knowledge != nil {
		turn.RAGSourceCollectionID = run.knowledge.SourceCollection
	}
	return turn
}

// persistTurn writes the conversation messages and the turn record.
func (e *PlanExecutor) persistTurn(ctx context.Context, run *turnRun, turn *session.Turn, answer string) error {
	observability.RecordTurn(ctx, run.prof.Type, turn.Status,
		time.Duration(turn.DurationMS)*time.Millisecond)
	now := e.cfg.Clock.Now()
	userMsg := session.Message{Role: llms.RoleUser, Content: run.req.Query, Timestamp: now}
	if err := e.cfg.Sessions.AppendMessage(ctx, run.req.UserID, run.req.SessionID, userMsg); err != nil {
		return err
	}
	if answer != "" {
		assistantMsg := session.Message{Role: llms.RoleAssistant, Content: answer, Timestamp: now}
		if err := e.cfg.Sessions.AppendMessage(ctx, run.req.UserID, run.req.SessionID, assistantMsg); err != nil {
			return err
		}
	}
	return e.cfg.Sessions.AppendTurn(ctx, run.req.UserID, run.req.SessionID, turn)
}

// recordUsage charges the turn against the user's consumption windows.
func (e *PlanExecutor) recordUsage(ctx context.Context, run *turnRun) {
	if e.cfg.Limiter == nil {
		return
	}
	turnIn, turnOut := run.accountant.TurnTokens()
	if err := e.cfg.Limiter.Record(ctx, run.req.UserID, int64(turnIn+turnOut), 1); err != nil {
		e.cfg.Logger.Warn("usage recording failed", "error", err)
	}
}

// maybeNameSession names an unnamed session after its first completed turn.
// Naming is best-effort: failures are logged, never surfaced.
func (e *PlanExecutor) maybeNameSession(ctx context.Context, run *turnRun) {
	if run.sess.Name != "" || run.req.IsSessionPrimer {
		return
	}
	prompt := "Give this conversation a short title (at most six words, no quotes):\n\n" + run.req.Query
	resp, err := run.accountant.CallTactical(ctx, "session_naming", llms.Request{
		Messages:  []llms.Message{llms.Text(llms.RoleUser, prompt)},
		MaxTokens: 32,
	})
	if err != nil {
		e.cfg.Logger.Warn("session naming call failed", "error", err)
		return
	}
	name := strings.Trim(strings.TrimSpace(resp.Text), `"'`)
	if name == "" {
		return
	}
	if err := e.cfg.Sessions.UpdateName(ctx, run.req.UserID, run.req.SessionID, name); err != nil {
		e.cfg.Logger.Warn("session name update failed", "error", err)
		return
	}
	run.sess.Name = name
	run.sink.Emit(ctx, events.SessionNameUpdateEvent(run.req.SessionID, name))
}

// splitEvents buckets the recorded stream into the three persisted audit
// lanes: operational chrome, knowledge retrieval, and tool execution.
func splitEvents(all []events.Event) (systemEvents, knowledgeEvents, toolEvents []map[string]any) {
	for _, ev := range all {
		entry := map[string]any{"event": string(ev.Event), "data": ev.Data}
		switch ev.Event {
		case events.KnowledgeRetrievalStart, events.KnowledgeRetrievalComplete,
			events.KnowledgeRerankingStart, events.KnowledgeRerankingComplete,
			events.RagLLMStep:
			knowledgeEvents = append(knowledgeEvents, entry)
		case events.PlanGenerated, events.PhaseStart, events.PhaseEnd,
			events.ToolIntent, events.ToolResult, events.ToolError:
			toolEvents = append(toolEvents, entry)
		default:
			systemEvents = append(systemEvents, entry)
		}
	}
	return systemEvents, knowledgeEvents, toolEvents
}
