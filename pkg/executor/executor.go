// Package executor runs turns end to end: quota gate, mode selection,
// planning, phase execution with corrections and orchestrators, event
// emission, and turn persistence.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/praxislabs/praxis/pkg/clock"
	"github.com/praxislabs/praxis/pkg/events"
	"github.com/praxislabs/praxis/pkg/llms"
	"github.com/praxislabs/praxis/pkg/plan"
	"github.com/praxislabs/praxis/pkg/planner"
	"github.com/praxislabs/praxis/pkg/profile"
	"github.com/praxislabs/praxis/pkg/ratelimit"
	"github.com/praxislabs/praxis/pkg/session"
	"github.com/praxislabs/praxis/pkg/tools"
)

const defaultHistoryMessages = 10

// Knowledge is what retrieval hands the executor: synthesised context text
// plus source bookkeeping for the final answer.
type Knowledge struct {
	Context          string
	DocumentCount    int
	SourceCollection string
	Sources          []map[string]any
}

// KnowledgeRetriever is the retrieval capability; pkg/rag implements it.
// Implementations emit the knowledge_* events on the sink themselves.
type KnowledgeRetriever interface {
	Retrieve(ctx context.Context, collections []string, query string, sink events.Sink) (*Knowledge, error)
}

// Attachment is one uploaded file accompanying a turn.
type Attachment struct {
	Name      string
	MediaType string
	Data      []byte
}

// AttachmentContext is the processed attachment payload: native multimodal
// parts when the provider supports them, extracted text otherwise.
type AttachmentContext struct {
	Parts []llms.ContentPart
	Text  string
}

// AttachmentProcessor extracts and caps attachment content; pkg/attachments
// implements it and emits context_optimization notifications on the sink.
type AttachmentProcessor interface {
	Process(ctx context.Context, atts []Attachment, nativeOK bool, sink events.Sink) (*AttachmentContext, error)
}

// Config carries the process-wide dependencies of the executor.
type Config struct {
	Sessions    session.Store
	Profiles    *profile.Registry
	Library     profile.Library
	Costs       profile.CostCatalog
	Providers   *llms.ProviderRegistry
	Catalog     *tools.Catalog
	Limiter     *ratelimit.Limiter
	Retriever   KnowledgeRetriever
	Attachments AttachmentProcessor
	Cancels     *CancelRegistry
	Clock       clock.Clock
	Logger      *slog.Logger

	// HistoryMessages caps how many prior messages reach the LM context.
	HistoryMessages int
}

// PlanExecutor is the turn controller.
type PlanExecutor struct {
	cfg Config
}

// New builds the executor.
func New(cfg Config) (*PlanExecutor, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Profiles == nil {
		return nil, fmt.Errorf("profile registry is required")
	}
	if cfg.Providers == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("tool catalog is required")
	}
	if cfg.Cancels == nil {
		cfg.Cancels = NewCancelRegistry()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HistoryMessages <= 0 {
		cfg.HistoryMessages = defaultHistoryMessages
	}
	return &PlanExecutor{cfg: cfg}, nil
}

// TurnRequest is one user turn.
type TurnRequest struct {
	UserID     string
	SessionID  string
	Query      string
	ProfileTag string

	// PromptName selects an explicit prompt-library workflow.
	PromptName   string
	PromptParams map[string]any

	Attachments []Attachment
	CaseID      string

	// IsSessionPrimer marks the synthetic turn that seeds a new session.
	IsSessionPrimer bool

	// Sink receives the live event stream; the executor tees it into the
	// per-turn audit recorder.
	Sink events.Sink
}

// turnRun is the per-turn working set shared with sub-executors.
type turnRun struct {
	req        TurnRequest
	sess       *session.Session
	prof       *profile.Profile
	catalog    *tools.Catalog
	accountant *Accountant
	recorder   *events.Recorder
	sink       events.Sink
	state      *plan.State
	history    *History
	knowledge  *Knowledge
	attachment *AttachmentContext
	rawPlan    []map[string]any
	execPlan   []map[string]any
	turnID     string
	turnNum    int
	started    time.Time
	cancelled  func() bool
}

// ExecuteTurn runs one turn to a terminal state and persists it. The
// returned turn is the persisted record; cancellation returns a
// CancellationError after the partial turn is stored.
func (e *PlanExecutor) ExecuteTurn(ctx context.Context, req TurnRequest) (*session.Turn, error) {
	if req.UserID == "" || req.SessionID == "" {
		return nil, fmt.Errorf("user and session ids are required")
	}

	sess, err := e.cfg.Sessions.GetOrCreate(ctx, req.UserID, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	// Quota gate: no LM call happens past this point if the user is over.
	if e.cfg.Limiter != nil {
		check, err := e.cfg.Limiter.Check(ctx, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("limit check failed: %w", err)
		}
		if check.IsExceeded() {
			if check.ExceededType == ratelimit.LimitTypeToken {
				return nil, &QuotaError{Reason: check.Reason, RetryAfter: check.RetryAfter}
			}
			return nil, &RateLimitError{Reason: check.Reason, RetryAfter: check.RetryAfter}
		}
	}

	prof, err := e.cfg.Profiles.Resolve(req.ProfileTag)
	if err != nil {
		return nil, err
	}

	strategic, ok := e.cfg.Providers.Get(prof.StrategicProvider)
	if !ok {
		return nil, fmt.Errorf("unknown strategic provider %q", prof.StrategicProvider)
	}
	tactical, ok := e.cfg.Providers.Get(prof.TacticalProvider)
	if !ok {
		return nil, fmt.Errorf("unknown tactical provider %q", prof.TacticalProvider)
	}

	recorder := events.NewRecorder()
	sink := events.NewMultiSink(req.Sink, recorder)
	cancelledFn := func() bool { return e.cfg.Cancels.IsCancelled(req.UserID, req.SessionID) }

	accountant := NewAccountant(
		channelClient(strategic, prof.StrategicModel),
		channelClient(tactical, prof.TacticalModel),
		e.cfg.Costs, e.cfg.Sessions, sink,
		req.UserID, req.SessionID,
		sess.InputTokens, sess.OutputTokens,
		cancelledFn)

	run := &turnRun{
		req:        req,
		sess:       sess,
		prof:       prof,
		catalog:    e.turnCatalog(prof, accountant),
		accountant: accountant,
		recorder:   recorder,
		sink:       sink,
		state:      plan.NewState(),
		history:    NewHistory(),
		turnID:     uuid.NewString(),
		turnNum:    sess.NextTurnNumber(),
		started:    e.cfg.Clock.Now(),
		cancelled:  cancelledFn,
	}
	defer e.cfg.Cancels.Clear(req.UserID, req.SessionID)

	sink.Emit(ctx, events.New(events.ExecutionStart, map[string]any{
		"profile_type": prof.Type,
		"profile_tag":  prof.Tag,
		"turn_id":      run.turnID,
		"session_id":   req.SessionID,
	}))

	if err := e.loadAttachments(ctx, run); err != nil {
		return nil, err
	}

	answer, runErr := e.runMode(ctx, run)
	if runErr != nil {
		if IsCancellation(runErr) {
			return e.finishCancelled(ctx, run)
		}
		return e.finishError(ctx, run, runErr)
	}
	return e.finishSuccess(ctx, run, answer)
}

// Cancel flags the session's running turn for cooperative cancellation.
func (e *PlanExecutor) Cancel(userID, sessionID string) {
	e.cfg.Cancels.Cancel(userID, sessionID)
}

// channelClient pins a model override onto a provider client.
func channelClient(client llms.LLM, model string) llms.LLM {
	if model == "" || model == client.Model() {
		return client
	}
	return &modelOverride{LLM: client, model: model}
}

type modelOverride struct {
	llms.LLM
	model string
}

func (m *modelOverride) Model() string { return m.model }

func (m *modelOverride) Generate(ctx context.Context, req llms.Request) (*llms.Response, error) {
	if req.Model == "" {
		req.Model = m.model
	}
	return m.LLM.Generate(ctx, req)
}

// turnCatalog builds the per-turn capability bundle: the base catalog
// restricted by the profile, plus component tools whose synthesis runs
// through this turn's accountant.
func (e *PlanExecutor) turnCatalog(prof *profile.Profile, accountant *Accountant) *tools.Catalog {
	cat := e.cfg.Catalog.Restrict(prof.IncludeTools, prof.IncludePrompts)
	synth := func(ctx context.Context, goal string, data any) (string, error) {
		prompt := fmt.Sprintf("Write the final answer for this goal, drawing only on the data below.\n\nGoal: %s\n\nData:\n%s",
			goal, stringifyArg(data))
		resp, err := accountant.CallTactical(ctx, "report_synthesis", llms.Request{
			Messages: []llms.Message{llms.Text(llms.RoleUser, prompt)},
		})
		if err != nil {
			return "", err
		}
		return resp.Text, nil
	}
	if err := tools.RegisterComponentTools(cat, e.cfg.Clock, synth); err != nil {
		e.cfg.Logger.Warn("component tool registration failed", "error", err)
	}
	return cat
}

func (e *PlanExecutor) loadAttachments(ctx context.Context, run *turnRun) error {
	if e.cfg.Attachments == nil || len(run.req.Attachments) == 0 {
		return nil
	}
	nativeOK := false
	if client, ok := e.cfg.Providers.Get(run.prof.StrategicProvider); ok {
		nativeOK = client.SupportsNativeDocuments()
	}
	attachment, err := e.cfg.Attachments.Process(ctx, run.req.Attachments, nativeOK, run.sink)
	if err != nil {
		return fmt.Errorf("attachment processing failed: %w", err)
	}
	run.attachment = attachment
	return nil
}

// runMode selects and runs one of the four execution modes.
func (e *PlanExecutor) runMode(ctx context.Context, run *turnRun) (string, error) {
	switch run.prof.Type {
	case profile.TypeLLMOnly:
		return e.runLLMOnly(ctx, run)
	case profile.TypeConversationWithTools:
		return e.runConversation(ctx, run)
	case profile.TypeRAGFocused:
		return e.runRAGFocused(ctx, run)
	default:
		return e.runToolEnabled(ctx, run)
	}
}

// runLLMOnly: one LM call over assembled context.
func (e *PlanExecutor) runLLMOnly(ctx context.Context, run *turnRun) (string, error) {
	e.retrieveKnowledge(ctx, run)

	req := llms.Request{
		System:   run.prof.SystemPrompt,
		Messages: e.conversationMessages(run),
	}
	resp, err := run.accountant.CallStrategic(ctx, "llm_only_answer", req)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// runConversation: the tool-calling agent loop for llm-only profiles with
// active tools.
func (e *PlanExecutor) runConversation(ctx context.Context, run *turnRun) (string, error) {
	e.retrieveKnowledge(ctx, run)

	messages := e.conversationMessages(run)
	toolContext := e.describeCatalog(run.catalog)

	for iteration := 0; iteration < run.prof.MaxIterations; iteration++ {
		if run.cancelled() {
			return "", &CancellationError{UserID: run.req.UserID, SessionID: run.req.SessionID}
		}

		system := run.prof.SystemPrompt
		if system != "" {
			system += "\n\n"
		}
		system += "You may call tools. Respond with either {\"tool_name\": ..., \"arguments\": {...}} to call one, or {\"final_answer\": \"...\"} when done.\n\nTools:\n" + toolContext

		resp, err := run.accountant.CallStrategic(ctx, "agent_iteration", llms.Request{
			System:   system,
			Messages: messages,
			JSONMode: true,
		})
		if err != nil {
			return "", err
		}

		action, answer := parseAgentAction(resp.Text)
		if answer != "" {
			return answer, nil
		}
		if action == nil {
			// Not JSON: treat the text as the answer.
			return resp.Text, nil
		}

		toolName, _ := action["tool_name"].(string)
		args, _ := action["arguments"].(map[string]any)
		run.sink.Emit(ctx, events.ToolIntentEvent(toolName, args))
		out, err := run.catalog.Invoke(ctx, toolName, args)
		resultText := ""
		if err != nil {
			run.sink.Emit(ctx, events.ToolErrorEvent(toolName, err.Error()))
			resultText = "error: " + err.Error()
		} else {
			run.sink.Emit(ctx, events.ToolResultEvent(toolName, map[string]any{
				"row_count": out.RowCount(), "status": out.Status,
			}))
			resultText = mustJSON(out.AsMap())
			run.history.Append(ActionEntry{
				Action: map[string]any{"tool_name": toolName, "arguments": args},
				Result: out.AsMap(),
			})
		}

		messages = append(messages,
			llms.Text(llms.RoleAssistant, resp.Text),
			llms.Text(llms.RoleUser, "Tool result:\n"+resultText))
	}
	return "", fmt.Errorf("agent loop exhausted %d iterations without a final answer", run.prof.MaxIterations)
}

const noKnowledgeAnswer = "I could not find any relevant information in the connected knowledge collections for this question."

// runRAGFocused: mandatory retrieval, then synthesis.
func (e *PlanExecutor) runRAGFocused(ctx context.Context, run *turnRun) (string, error) {
	if e.cfg.Retriever == nil || len(run.prof.Collections) == 0 {
		return noKnowledgeAnswer, nil
	}
	knowledge, err := e.cfg.Retriever.Retrieve(ctx, run.prof.Collections, run.req.Query, run.sink)
	if err != nil {
		return "", fmt.Errorf("knowledge retrieval failed: %w", err)
	}
	run.knowledge = knowledge

	// Zero documents is an answer, not an error.
	if knowledge == nil || knowledge.DocumentCount == 0 {
		return noKnowledgeAnswer, nil
	}

	run.sink.Emit(ctx, events.New(events.RagLLMStep, map[string]any{
		"step": "synthesis", "document_count": knowledge.DocumentCount,
	}))

	prompt := fmt.Sprintf("Answer the question using only the retrieved context.\n\nContext:\n%s\n\nQuestion: %s",
		knowledge.Context, run.req.Query)
	resp, err := run.accountant.CallStrategic(ctx, "rag_synthesis", llms.Request{
		System:   run.prof.SystemPrompt,
		Messages: []llms.Message{llms.Text(llms.RoleUser, prompt)},
	})
	if err != nil {
		return "", err
	}
	run.sink.Emit(ctx, events.ToolResultEvent("knowledge_synthesis", map[string]any{"status": tools.StatusSuccess}))

	answer := resp.Text
	if len(knowledge.Sources) > 0 {
		var names []string
		for _, src := range knowledge.Sources {
			if name, ok := src["source"].(string); ok {
				names = append(names, name)
			}
		}
		if len(names) > 0 {
			answer += "\n\nSources: " + strings.Join(names, ", ")
		}
	}
	return answer, nil
}

// runToolEnabled: the full planner/phase-executor path.
func (e *PlanExecutor) runToolEnabled(ctx context.Context, run *turnRun) (string, error) {
	e.retrieveKnowledge(ctx, run)
	return e.planAndExecute(ctx, run, planInputs(run, e.cfg.HistoryMessages), 0)
}

// planAndExecute plans, runs the phases, and recovers once at plan level.
func (e *PlanExecutor) planAndExecute(ctx context.Context, run *turnRun, in planner.Inputs, depth int) (string, error) {
	pl, raw, err := e.plan(ctx, run, in)
	if err != nil {
		return "", err
	}
	if pl.Conversational {
		return pl.Response, nil
	}
	if depth == 0 {
		run.rawPlan = raw
		run.execPlan = pl.AsMaps()
	}

	answer, execErr := e.executePhases(ctx, run, pl, depth)
	if execErr == nil {
		return answer, nil
	}
	if IsCancellation(execErr) || isDefinitive(execErr) {
		return "", execErr
	}

	// One planner-level recovery from the current workflow state.
	var stall *PhaseStallError
	if errors.As(execErr, &stall) || planner.IsParseError(execErr) {
		run.sink.Emit(ctx, events.SystemMessageEvent("planning", "correction",
			"replanning from current workflow state", ""))
		recovery := in
		recovery.State = run.state
		replanned, _, err := e.plan(ctx, run, recovery)
		if err != nil {
			return "", execErr
		}
		if replanned.Conversational {
			return replanned.Response, nil
		}
		return e.executePhases(ctx, run, replanned, depth)
	}
	return "", execErr
}

// plan runs the planner with the turn's accounted caller and rewriter.
func (e *PlanExecutor) plan(ctx context.Context, run *turnRun, in planner.Inputs) (*plan.Plan, []map[string]any, error) {
	validator := plan.NewValidator(run.catalog, run.sink, e.cfg.Logger)
	rewriter := plan.NewRewriter(run.catalog, validator, run.accountant.RewriterCall(), run.sink, e.cfg.Logger)
	p := planner.New(run.accountant, run.catalog, rewriter, run.prof.SystemPrompt, run.sink, e.cfg.Logger)

	result, err := p.Plan(ctx, in)
	if err != nil {
		return nil, nil, err
	}
	return result.Plan, result.RawPlan, nil
}

// executePhases walks the plan in order.
func (e *PlanExecutor) executePhases(ctx context.Context, run *turnRun, pl *plan.Plan, depth int) (string, error) {
	runPrompt := func(ctx context.Context, promptName string, phase *plan.Phase) (any, error) {
		return e.runSubExecutor(ctx, run, promptName, phase, depth+1)
	}
	pe := NewPhaseExecutor(run.accountant, run.catalog, run.state, pl, run.history,
		runPrompt, run.cancelled, run.sink, e.cfg.Logger, run.req.Query, depth)

	var lastResult any
	for _, phase := range pl.Phases {
		if run.cancelled() {
			return "", &CancellationError{UserID: run.req.UserID, SessionID: run.req.SessionID}
		}
		result, err := pe.Execute(ctx, phase, pl.Len())
		if err != nil {
			return "", err
		}
		lastResult = result
	}
	return finalText(lastResult), nil
}

// runSubExecutor dispatches a prompt phase at depth+1, sharing state and
// history. Sub-executors never persist and never summarise.
func (e *PlanExecutor) runSubExecutor(ctx context.Context, run *turnRun, promptName string, phase *plan.Phase, depth int) (any, error) {
	body, err := run.catalog.PromptBody(ctx, promptName)
	if err != nil && e.cfg.Library != nil {
		if v, lerr := e.cfg.Library.ResolvePrompt(ctx, run.prof.Tag, promptName); lerr == nil {
			body, err = v.Body, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("prompt %q is not available: %w", promptName, err)
	}

	in := planner.Inputs{
		UserQuery:      run.req.Query,
		PromptName:     promptName,
		PromptBody:     body,
		PromptParams:   phase.Arguments,
		State:          run.state,
		ExecutionDepth: depth,
		SubProcess:     true,
	}
	answer, err := e.planAndExecute(ctx, run, in, depth)
	if err != nil {
		return nil, err
	}
	return tools.TextSuccess(promptName, answer).AsMap(), nil
}

// retrieveKnowledge loads planning context from the profile's collections;
// failures degrade to no knowledge.
func (e *PlanExecutor) retrieveKnowledge(ctx context.Context, run *turnRun) {
	if e.cfg.Retriever == nil || len(run.prof.Collections) == 0 {
		return
	}
	knowledge, err := e.cfg.Retriever.Retrieve(ctx, run.prof.Collections, run.req.Query, run.sink)
	if err != nil {
		e.cfg.Logger.Warn("knowledge retrieval failed", "error", err)
		return
	}
	run.knowledge = knowledge
}

// conversationMessages assembles attachment text, knowledge, capped history,
// and the current query.
func (e *PlanExecutor) conversationMessages(run *turnRun) []llms.Message {
	var messages []llms.Message

	history := run.sess.Messages
	if len(history) > e.cfg.HistoryMessages {
		history = history[len(history)-e.cfg.HistoryMessages:]
	}
	for _, msg := range history {
		messages = append(messages, llms.Text(msg.Role, msg.Content))
	}

	var parts []llms.ContentPart
	var contextBlocks []string
	if run.attachment != nil {
		parts = run.attachment.Parts
		if run.attachment.Text != "" {
			contextBlocks = append(contextBlocks, "Attached documents:\n"+run.attachment.Text)
		}
	}
	if run.knowledge != nil && run.knowledge.Context != "" {
		contextBlocks = append(contextBlocks, "Retrieved knowledge:\n"+run.knowledge.Context)
	}

	content := run.req.Query
	if len(contextBlocks) > 0 {
		content = strings.Join(contextBlocks, "\n\n") + "\n\n" + content
	}
	current := llms.Message{Role: llms.RoleUser, Content: content, Parts: parts}
	return append(messages, current)
}

func (e *PlanExecutor) describeCatalog(cat *tools.Catalog) string {
	var b strings.Builder
	for _, info := range cat.List() {
		fmt.Fprintf(&b, "- %s: %s\n", info.Name, info.Description)
	}
	return b.String()
}

// planInputs builds the planner inputs for a top-level tool-enabled turn.
func planInputs(run *turnRun, historyCap int) planner.Inputs {
	in := planner.Inputs{
		UserQuery:    run.req.Query,
		PromptName:   run.req.PromptName,
		PromptParams: run.req.PromptParams,
		State:        run.state,
		FewShot:      HarvestFewShot(run.sess, 3),
	}
	if run.knowledge != nil {
		in.Knowledge = run.knowledge.Context
	}

	turns := completedTurns(run.sess)
	if len(turns) > historyCap {
		turns = turns[len(turns)-historyCap:]
	}
	for _, t := range turns {
		in.History = append(in.History, planner.HistoryTurn{
			Query:    t.UserQuery,
			Response: t.FinalSummaryText,
			Tools:    toolsOfTurn(t),
		})
	}
	if last, ok := run.sess.LastCompletedTurn(); ok {
		in.PreviousTurn = &plan.PreviousTurn{
			Query:  last.UserQuery,
			Tools:  toolsOfTurn(*last),
			Result: lastTurnResult(*last),
		}
	}
	return in
}

func completedTurns(sess *session.Session) []session.Turn {
	var out []session.Turn
	for _, t := range sess.History {
		if t.IsPartial || t.IsSessionPrimer {
			continue
		}
		out = append(out, t)
	}
	return out
}

func toolsOfTurn(t session.Turn) []string {
	seen := map[string]bool{}
	var out []string
	for _, entry := range t.ExecutionTrace {
		if name, ok := entry.Action["tool_name"].(string); ok && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// lastTurnResult extracts the previous turn's data result for chart reuse.
func lastTurnResult(t session.Turn) any {
	for i := len(t.ExecutionTrace) - 1; i >= 0; i-- {
		entry := t.ExecutionTrace[i]
		if name, _ := entry.Action["tool_name"].(string); tools.IsReportingTool(name) || name == tools.ToolCharting {
			continue
		}
		if entry.Result != nil {
			return entry.Result
		}
	}
	return nil
}

// HarvestFewShot extracts planning examples from successful past turns,
// skipping primers, errors, and partials.
func HarvestFewShot(sess *session.Session, limit int) []planner.FewShotExample {
	var out []planner.FewShotExample
	for i := len(sess.History) - 1; i >= 0 && len(out) < limit; i-- {
		t := sess.History[i]
		if t.Status != session.StatusSuccess || t.IsPartial || t.IsSessionPrimer {
			continue
		}
		if len(t.OriginalPlan) == 0 {
			continue
		}
		out = append(out, planner.FewShotExample{
			Query: t.UserQuery,
			Plan:  mustJSON(t.OriginalPlan),
		})
	}
	return out
}

// finalText pulls the user-facing text out of the last phase's bound result.
func finalText(result any) string {
	if out := tools.OutputFromMap(asMap(result)); out != nil {
		if text, ok := out.ResponseText(); ok {
			return text
		}
	}
	if items, ok := result.([]any); ok && len(items) > 0 {
		return finalText(items[len(items)-1])
	}
	if s, ok := result.(string); ok {
		return s
	}
	return stringifyArg(result)
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func parseAgentAction(text string) (action map[string]any, answer string) {
	raw, ok := plan.ExtractJSON(text)
	if !ok {
		return nil, ""
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, ""
	}
	if a, ok := decoded["final_answer"].(string); ok && a != "" {
		return nil, a
	}
	if _, ok := decoded["tool_name"].(string); ok {
		return decoded, ""
	}
	return nil, ""
}
