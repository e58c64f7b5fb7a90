package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/praxislabs/praxis/pkg/events"
	"github.com/praxislabs/praxis/pkg/llms"
	"github.com/praxislabs/praxis/pkg/observability"
	"github.com/praxislabs/praxis/pkg/plan"
	"github.com/praxislabs/praxis/pkg/tools"
)

const (
	maxActionAttempts  = 3
	maxTacticalRetries = 5
)

// Phase-end statuses.
const (
	phaseCompleted = "completed"
	phaseSkipped   = "skipped"
	phaseErrored   = "error"
)

// PromptRunner dispatches a prompt-library phase to a sub-executor.
type PromptRunner func(ctx context.Context, promptName string, phase *plan.Phase) (any, error)

// PhaseExecutor runs one plan phase: orchestrator expansion, fast or slow
// path, retries and corrections, and result binding into workflow state.
type PhaseExecutor struct {
	caller     *Accountant
	catalog    *tools.Catalog
	state      *plan.State
	history    *History
	resolver   *plan.Resolver
	strategies *StrategyRegistry
	columns    *ColumnOrchestrator
	dates      *DateRangeOrchestrator
	loops      *HallucinatedLoopOrchestrator
	runPrompt  PromptRunner
	cancelled  func() bool
	sink       events.Sink
	logger     *slog.Logger

	userQuery string
	depth     int
}

// NewPhaseExecutor wires a phase executor for one turn (or sub-turn).
func NewPhaseExecutor(caller *Accountant, catalog *tools.Catalog, state *plan.State, pl *plan.Plan, history *History, runPrompt PromptRunner, cancelled func() bool, sink events.Sink, logger *slog.Logger, userQuery string, depth int) *PhaseExecutor {
	if sink == nil {
		sink = events.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cancelled == nil {
		cancelled = func() bool { return false }
	}
	return &PhaseExecutor{
		caller:     caller,
		catalog:    catalog,
		state:      state,
		history:    history,
		resolver:   plan.NewResolver(state, pl, sink, logger),
		strategies: NewStrategyRegistry(caller),
		columns:    NewColumnOrchestrator(caller, catalog),
		dates:      NewDateRangeOrchestrator(caller, catalog),
		loops:      NewHallucinatedLoopOrchestrator(catalog),
		runPrompt:  runPrompt,
		cancelled:  cancelled,
		sink:       sink,
		logger:     logger,
		userQuery:  userQuery,
		depth:      depth,
	}
}

// Execute runs the phase, binds result_of_phase_<N>, and emits the phase
// lifecycle events. The returned value is what was bound.
func (pe *PhaseExecutor) Execute(ctx context.Context, phase *plan.Phase, totalPhases int) (any, error) {
	pe.sink.Emit(ctx, events.PhaseStartEvent(phase.Number, totalPhases, phase.Goal, phase.AsMap(), pe.depth))

	if pe.cancelled() {
		pe.sink.Emit(ctx, events.PhaseEndEvent(phase.Number, totalPhases, phase.Goal, phaseErrored, pe.depth))
		return nil, &CancellationError{}
	}

	result, status, err := pe.dispatch(ctx, phase)
	if err != nil {
		pe.sink.Emit(ctx, events.PhaseEndEvent(phase.Number, totalPhases, phase.Goal, phaseErrored, pe.depth))
		return nil, err
	}

	pe.state.BindPhaseResult(phase.Number, result)
	pe.sink.Emit(ctx, events.PhaseEndEvent(phase.Number, totalPhases, phase.Goal, status, pe.depth))
	return result, nil
}

func (pe *PhaseExecutor) dispatch(ctx context.Context, phase *plan.Phase) (any, string, error) {
	// Prompt phases recurse into a sub-executor.
	if phase.IsPromptPhase() {
		if pe.runPrompt == nil {
			return nil, "", fmt.Errorf("phase %d dispatches prompt %q but no sub-executor is wired", phase.Number, phase.ExecutablePrompt)
		}
		result, err := pe.runPrompt(ctx, phase.ExecutablePrompt, phase)
		if err != nil {
			return nil, "", err
		}
		return result, phaseCompleted, nil
	}

	toolName := phase.PrimaryTool()
	if toolName == "" {
		return nil, "", fmt.Errorf("phase %d names no capability", phase.Number)
	}

	// Report and chart bypasses skip the tactical channel entirely.
	if toolName == tools.ToolContextReport {
		if out, ok := pe.contextReportBypass(ctx, phase); ok {
			return out, phaseCompleted, nil
		}
	}
	if toolName == tools.ToolCharting {
		if out, err := pe.chartingBypass(ctx, phase); err != nil {
			return nil, "", err
		} else if out != nil {
			return out, phaseCompleted, nil
		}
	}

	if phase.IsLoop() {
		return pe.dispatchLoop(ctx, phase)
	}

	// Date handling outranks the plain fast/slow split.
	if pe.dates.Applies(phase) {
		return pe.dispatchDateRange(ctx, phase)
	}

	resolved := pe.resolver.Resolve(ctx, phase.Arguments, nil)
	if pe.fastPathOK(phase, toolName, resolved) {
		out, err := pe.executeAction(ctx, phase, map[string]any{"tool_name": toolName, "arguments": resolved})
		if err != nil {
			return nil, "", err
		}
		return out, phaseCompleted, nil
	}
	out, err := pe.slowPath(ctx, phase, nil)
	if err != nil {
		return nil, "", err
	}
	return out, phaseCompleted, nil
}

// dispatchLoop expands and runs an iterating phase.
func (pe *PhaseExecutor) dispatchLoop(ctx context.Context, phase *plan.Phase) (any, string, error) {
	toolName := phase.PrimaryTool()

	// Literal string lists are a planner hallucination; repair them
	// deterministically.
	if pe.loops.Applies(phase) {
		resolved := pe.resolver.Resolve(ctx, phase.Arguments, nil)
		executions := pe.loops.Expand(phase, resolved)
		return pe.runExecutions(ctx, phase, executions)
	}

	items, err := pe.loopItems(ctx, phase)
	if err != nil {
		return nil, "", err
	}
	if len(items) == 0 {
		// Empty source: skip, but still bind an empty result list.
		return []any{}, phaseSkipped, nil
	}

	// Column-scoped tools without a column_name expand per column.
	if pe.columns.Applies(phase) {
		resolved := pe.resolver.Resolve(ctx, phase.Arguments, nil)
		executions, err := pe.columns.Expand(ctx, phase, items, resolved)
		if err != nil {
			return nil, "", err
		}
		return pe.runExecutions(ctx, phase, executions)
	}

	// Fast path: one simple tool whose required arguments resolve per item.
	if pe.loopFastPathOK(phase, toolName) {
		var results []any
		for _, item := range items {
			if pe.cancelled() {
				return nil, "", &CancellationError{}
			}
			args := pe.resolver.Resolve(ctx, phase.Arguments, item)
			out, err := pe.executeAction(ctx, phase, map[string]any{"tool_name": toolName, "arguments": args})
			if err != nil {
				return nil, "", err
			}
			results = append(results, out)
		}
		return results, phaseCompleted, nil
	}

	// Slow path: a tactical call per item.
	var results []any
	for _, item := range items {
		if pe.cancelled() {
			return nil, "", &CancellationError{}
		}
		out, err := pe.slowPath(ctx, phase, item)
		if err != nil {
			return nil, "", err
		}
		results = append(results, out)
	}
	return results, phaseCompleted, nil
}

func (pe *PhaseExecutor) dispatchDateRange(ctx context.Context, phase *plan.Phase) (any, string, error) {
	resolved := pe.resolver.Resolve(ctx, phase.Arguments, nil)
	executions, err := pe.dates.Expand(ctx, phase, pe.userQuery, pe.currentDate(), resolved)
	if err != nil {
		return nil, "", err
	}
	return pe.runExecutions(ctx, phase, executions)
}

// runExecutions runs orchestrator-expanded executions in order, aggregating
// per-item outputs.
func (pe *PhaseExecutor) runExecutions(ctx context.Context, phase *plan.Phase, executions []Execution) (any, string, error) {
	if len(executions) == 0 {
		return []any{}, phaseSkipped, nil
	}
	var results []any
	for _, exec := range executions {
		if pe.cancelled() {
			return nil, "", &CancellationError{}
		}
		out, err := pe.executeAction(ctx, phase, map[string]any{"tool_name": exec.ToolName, "arguments": exec.Args})
		if err != nil {
			return nil, "", err
		}
		results = append(results, out)
	}
	if len(executions) == 1 && executions[0].LoopItem == nil {
		return results[0], phaseCompleted, nil
	}
	return results, phaseCompleted, nil
}

// currentDate reads the CurrentDate phase result out of workflow state.
func (pe *PhaseExecutor) currentDate() string {
	for _, key := range pe.state.Keys() {
		value, _ := pe.state.Get(key)
		if date, ok := plan.FindKey(value, "current_date"); ok {
			if s, ok := date.(string); ok {
				return s
			}
		}
	}
	return ""
}

// loopItems resolves the phase's loop source to a concrete item list.
func (pe *PhaseExecutor) loopItems(ctx context.Context, phase *plan.Phase) ([]any, error) {
	source := phase.LoopOver
	if s, ok := source.(string); ok {
		value, found := pe.state.Get(s)
		if !found {
			if n, ok := plan.PhaseOfResultKey(s); ok {
				value, found = pe.state.Get(plan.ResultKey(n))
			}
		}
		if !found {
			return nil, fmt.Errorf("phase %d loop source %q is not in workflow state", phase.Number, s)
		}
		source = value
	}
	return itemsOf(source), nil
}

// itemsOf extracts an iteration list from a loop source value: a bare list,
// a tool output's results rows, or a single item.
func itemsOf(source any) []any {
	switch t := source.(type) {
	case nil:
		return nil
	case []any:
		return t
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out
	case map[string]any:
		if rows, ok := t["results"]; ok {
			return itemsOf(rows)
		}
		return []any{t}
	default:
		return []any{t}
	}
}

// fastPathOK gates the deterministic path: every required argument present
// and concrete.
func (pe *PhaseExecutor) fastPathOK(phase *plan.Phase, toolName string, resolved map[string]any) bool {
	if phase.NeedsRefinement {
		return false
	}
	info, ok := pe.catalog.Info(toolName)
	if !ok {
		return false
	}
	for _, p := range info.RequiredParameters() {
		value, present := resolved[p.Name]
		if !present || !concreteArgument(value) {
			return false
		}
	}
	return true
}

// loopFastPathOK allows the per-item fast path for single simple tools whose
// static arguments are already concrete or loop-item placeholders.
func (pe *PhaseExecutor) loopFastPathOK(phase *plan.Phase, toolName string) bool {
	if phase.NeedsRefinement || len(phase.RelevantTools) != 1 {
		return false
	}
	info, ok := pe.catalog.Info(toolName)
	if !ok {
		return false
	}
	for _, p := range info.RequiredParameters() {
		value, present := phase.Arguments[p.Name]
		if !present {
			return false
		}
		if ph, ok := plan.PlaceholderFromValue(value); ok {
			// Loop-item and state references resolve per item.
			if ph.Source == plan.SourceLoopItem || plan.IsResultReference(ph.Source) {
				continue
			}
			return false
		}
		if !concreteArgument(value) {
			return false
		}
	}
	return true
}

// concreteArgument rejects values that demand LM mediation: empties,
// placeholder dicts, string lists, and temporal phrases.
func concreteArgument(value any) bool {
	switch t := value.(type) {
	case nil:
		return false
	case string:
		if strings.TrimSpace(t) == "" {
			return false
		}
		return !plan.IsTemporalPhrase(t)
	case map[string]any:
		return !plan.IsPlaceholderValue(t)
	case []any:
		for _, item := range t {
			if _, ok := item.(string); !ok {
				return true
			}
		}
		return len(t) == 0
	default:
		return true
	}
}

// slowPath runs the tactical channel until an action succeeds or the retry
// budget is gone.
func (pe *PhaseExecutor) slowPath(ctx context.Context, phase *plan.Phase, loopItem any) (any, error) {
	var lastAction map[string]any
	for retry := 0; retry < maxTacticalRetries; retry++ {
		if pe.cancelled() {
			return nil, &CancellationError{}
		}

		action, err := pe.tacticalAction(ctx, phase, loopItem, retry, lastAction)
		if err != nil {
			pe.logger.Warn("tactical call failed", "phase", phase.Number, "retry", retry, "error", err)
			continue
		}

		// Duplicate-action detection: identical to the previous action means
		// the channel is stuck; record it and force a different attempt.
		if SameAction(action, pe.history.LastAction()) {
			pe.history.MarkLastRepetitive()
			pe.sink.Emit(ctx, events.SystemMessageEvent("execution", "correction",
				fmt.Sprintf("phase %d repeated the previous action; forcing replan", phase.Number), ""))
			lastAction = action
			continue
		}

		out, err := pe.executeAction(ctx, phase, action)
		if err == nil {
			return out, nil
		}
		if isDefinitive(err) || IsCancellation(err) {
			return nil, err
		}
		lastAction = action
		observability.RecordPhaseRetry(ctx, "tactical")
		pe.logger.Warn("action failed", "phase", phase.Number, "retry", retry, "error", err)
	}
	return nil, &PhaseStallError{PhaseNum: phase.Number, Retries: maxTacticalRetries, Reason: "tactical retries exhausted"}
}

// tacticalAction asks the tactical channel for the next action.
func (pe *PhaseExecutor) tacticalAction(ctx context.Context, phase *plan.Phase, loopItem any, retry int, lastAction map[string]any) (map[string]any, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n\n", phase.Goal)

	b.WriteString("Permitted tools:\n")
	for _, name := range phase.RelevantTools {
		if info, ok := pe.catalog.Info(name); ok {
			fmt.Fprintf(&b, "- %s: %s", info.Name, info.Description)
			if params := info.ParameterNames(); len(params) > 0 {
				fmt.Fprintf(&b, " (arguments: %s)", strings.Join(params, ", "))
			}
			b.WriteString("\n")
		}
	}

	if loopItem != nil {
		fmt.Fprintf(&b, "\nCurrent loop item:\n%s\n", mustJSON(loopItem))
	}

	if distilled := pe.state.Distilled(); len(distilled) > 0 {
		fmt.Fprintf(&b, "\nWorkflow state (large results distilled):\n%s\n", mustJSON(distilled))
	}

	if entries := pe.history.Entries(); len(entries) > 0 {
		last := entries[len(entries)-1]
		fmt.Fprintf(&b, "\nPrevious action:\n%s\n", mustJSON(last.Action))
	}
	if retry > 0 && lastAction != nil {
		fmt.Fprintf(&b, "\nAttempt %d failed or repeated; choose a different action.\n", retry)
	}

	b.WriteString("\nRespond with exactly one JSON action: {\"tool_name\": ..., \"arguments\": {...}}.")

	resp, err := pe.caller.CallTactical(ctx, "tactical_action", llms.Request{
		Messages: []llms.Message{llms.Text(llms.RoleUser, b.String())},
		JSONMode: true,
	})
	if err != nil {
		return nil, err
	}

	raw, ok := plan.ExtractJSON(resp.Text)
	if !ok {
		return nil, fmt.Errorf("tactical response is not JSON: %s", resp.Text)
	}
	var action map[string]any
	if err := json.Unmarshal([]byte(raw), &action); err != nil {
		return nil, fmt.Errorf("failed to decode tactical action: %w", err)
	}
	if _, ok := action["tool_name"].(string); !ok {
		return nil, fmt.Errorf("tactical action names no tool: %s", raw)
	}
	if _, ok := action["arguments"].(map[string]any); !ok {
		action["arguments"] = map[string]any{}
	}

	// Refine when the proposed arguments do not fit the schema.
	toolName := action["tool_name"].(string)
	args := action["arguments"].(map[string]any)
	if info, ok := pe.catalog.Info(toolName); ok {
		if mismatch := schemaMismatch(info, args); mismatch != nil || phase.NeedsRefinement {
			refined, err := pe.refineArguments(ctx, phase.Goal, info, args)
			if err == nil {
				action["arguments"] = refined
			} else {
				pe.logger.Warn("argument refinement failed", "tool", toolName, "error", err)
			}
		}
	}
	return action, nil
}

// schemaMismatch reports missing-required or extraneous argument names.
func schemaMismatch(info tools.ToolInfo, args map[string]any) *ArgumentMismatchError {
	var missing, extraneous []string
	for _, p := range info.RequiredParameters() {
		if _, ok := args[p.Name]; !ok {
			missing = append(missing, p.Name)
		}
	}
	for name := range args {
		if !info.HasParameter(name) {
			extraneous = append(extraneous, name)
		}
	}
	if len(missing) == 0 && len(extraneous) == 0 {
		return nil
	}
	return &ArgumentMismatchError{ToolName: info.Name, Missing: missing, Extraneous: extraneous}
}

// refineArguments asks the LM to remap the provided arguments onto the
// tool's schema.
func (pe *PhaseExecutor) refineArguments(ctx context.Context, goal string, info tools.ToolInfo, args map[string]any) (map[string]any, error) {
	schema := make([]map[string]any, 0, len(info.Parameters))
	for _, p := range info.Parameters {
		schema = append(schema, map[string]any{
			"name": p.Name, "type": p.Type, "required": p.Required, "description": p.Description,
		})
	}
	prompt := fmt.Sprintf(`Remap these arguments onto the tool's schema.

Goal: %s
Tool: %s
Schema: %s
Provided arguments: %s

Respond with a single JSON object holding only valid argument names.`,
		goal, info.Name, mustJSON(schema), mustJSON(args))

	resp, err := pe.caller.CallTactical(ctx, "argument_refinement", llms.Request{
		Messages: []llms.Message{llms.Text(llms.RoleUser, prompt)},
		JSONMode: true,
	})
	if err != nil {
		return nil, err
	}
	raw, ok := plan.ExtractJSON(resp.Text)
	if !ok {
		return nil, fmt.Errorf("refinement response is not JSON: %s", resp.Text)
	}
	var refined map[string]any
	if err := json.Unmarshal([]byte(raw), &refined); err != nil {
		return nil, err
	}
	return refined, nil
}

// executeAction runs one action with up to three attempts, correction
// strategies between failures, and the full event protocol.
func (pe *PhaseExecutor) executeAction(ctx context.Context, phase *plan.Phase, action map[string]any) (any, error) {
	current := action
	for attempt := 0; attempt < maxActionAttempts; attempt++ {
		if pe.cancelled() {
			return nil, &CancellationError{}
		}

		toolName, _ := current["tool_name"].(string)
		args, _ := current["arguments"].(map[string]any)
		pe.sink.Emit(ctx, events.ToolIntentEvent(toolName, args))

		invokeStart := time.Now()
		out, err := pe.catalog.Invoke(ctx, toolName, args)
		observability.RecordToolCall(ctx, toolName, time.Since(invokeStart), err)
		errText := ""
		if err != nil {
			errText = err.Error()
		} else if !out.OK() {
			errText = out.ErrorMessage
		}

		if errText == "" {
			resultMap := out.AsMap()
			pe.sink.Emit(ctx, events.ToolResultEvent(toolName, map[string]any{
				"row_count": out.RowCount(),
				"status":    out.Status,
			}))
			pe.history.Append(ActionEntry{
				Action:         current,
				Result:         resultMap,
				PhaseNum:       phase.Number,
				ExecutionDepth: pe.depth,
			})
			return resultMap, nil
		}

		pe.sink.Emit(ctx, events.ToolErrorEvent(toolName, errText))
		pe.history.Append(ActionEntry{
			Action:         current,
			Result:         map[string]any{"status": tools.StatusError, "error_message": errText},
			PhaseNum:       phase.Number,
			ExecutionDepth: pe.depth,
		})

		classified := ClassifyToolError(toolName, errText)
		if isDefinitive(classified) {
			return nil, classified
		}

		if attempt == maxActionAttempts-1 {
			return nil, classified
		}

		observability.RecordPhaseRetry(ctx, "correction")
		strategyName, correction, cerr := pe.strategies.Propose(ctx, errText, current, phase.Goal, pe.toolContext(phase))
		if cerr != nil {
			return nil, classified
		}
		pe.sink.Emit(ctx, events.SystemMessageEvent("execution", "correction",
			fmt.Sprintf("%s strategy proposed a recovery for phase %d", strategyName, phase.Number), ""))

		switch {
		case correction.FinalAnswer != "":
			// Terminating conclusion: short-circuit as a successful synthesis.
			out := tools.TextSuccess(toolName, correction.FinalAnswer)
			resultMap := out.AsMap()
			pe.history.Append(ActionEntry{
				Action:         map[string]any{"tool_name": toolName, "final_answer": true},
				Result:         resultMap,
				PhaseNum:       phase.Number,
				ExecutionDepth: pe.depth,
			})
			return resultMap, nil
		case correction.DelegatePrompt != "":
			if pe.runPrompt == nil {
				return nil, classified
			}
			return pe.runPrompt(ctx, correction.DelegatePrompt, phase)
		case correction.Action != nil:
			current = correction.Action
		default:
			return nil, classified
		}
	}
	return nil, &PhaseStallError{PhaseNum: phase.Number, Retries: maxActionAttempts, Reason: "action attempts exhausted"}
}

// toolContext renders the phase's permitted tools for correction prompts.
func (pe *PhaseExecutor) toolContext(phase *plan.Phase) string {
	var b strings.Builder
	for _, name := range phase.RelevantTools {
		if info, ok := pe.catalog.Info(name); ok {
			fmt.Fprintf(&b, "- %s: %s\n", info.Name, info.Description)
		}
	}
	return b.String()
}

// contextReportBypass emits a pre-populated answer directly.
func (pe *PhaseExecutor) contextReportBypass(ctx context.Context, phase *plan.Phase) (any, bool) {
	answer, ok := phase.Arguments["answer_from_context"].(string)
	if !ok || strings.TrimSpace(answer) == "" || plan.IsResultReference(answer) {
		return nil, false
	}
	out := tools.TextSuccess(tools.ToolContextReport, answer)
	resultMap := out.AsMap()
	pe.sink.Emit(ctx, events.ToolResultEvent(tools.ToolContextReport, map[string]any{"status": out.Status}))
	pe.history.Append(ActionEntry{
		Action:         map[string]any{"tool_name": tools.ToolContextReport, "arguments": phase.Arguments},
		Result:         resultMap,
		PhaseNum:       phase.Number,
		ExecutionDepth: pe.depth,
	})
	return resultMap, true
}

// chartingBypass resolves chart data from workflow state and generates the
// axis mapping algorithmically. Returns (nil, nil) when the bypass does not
// apply so the standard path runs.
func (pe *PhaseExecutor) chartingBypass(ctx context.Context, phase *plan.Phase) (any, error) {
	data := pe.chartData(ctx, phase)
	rows := rowsOf(data)
	if len(rows) == 0 {
		return nil, nil
	}

	mapping := chartMapping(rows)
	if mapping == nil {
		return nil, nil
	}

	args := map[string]any{
		"data":    rows,
		"mapping": mapping,
	}
	if t, ok := phase.Arguments["chart_type"]; ok {
		args["chart_type"] = t
	}
	if t, ok := phase.Arguments["title"]; ok {
		args["title"] = t
	}
	return pe.executeAction(ctx, phase, map[string]any{"tool_name": tools.ToolCharting, "arguments": args})
}

// chartData finds the rows to plot: the phase's data argument, the injected
// previous turn, or the latest phase result.
func (pe *PhaseExecutor) chartData(ctx context.Context, phase *plan.Phase) any {
	if raw, ok := phase.Arguments["data"]; ok {
		resolved := pe.resolver.Resolve(ctx, map[string]any{"data": raw}, nil)
		if v, ok := resolved["data"]; ok {
			return v
		}
	}
	if v, ok := pe.state.Get(plan.KeyInjectedPreviousTurn); ok {
		return v
	}
	if v, ok := pe.state.LastPhaseResult(); ok {
		return v
	}
	return nil
}

// rowsOf flattens a chart data value into result rows.
func rowsOf(data any) []map[string]any {
	switch t := data.(type) {
	case nil:
		return nil
	case []map[string]any:
		return t
	case []any:
		var rows []map[string]any
		for _, item := range t {
			rows = append(rows, rowsOf(item)...)
		}
		return rows
	case map[string]any:
		if nested, ok := t["results"]; ok {
			return rowsOf(nested)
		}
		return []map[string]any{t}
	default:
		return nil
	}
}

// chartMapping picks x and y axes from the first row: first string-valued
// column on x, first numeric column on y.
func chartMapping(rows []map[string]any) map[string]any {
	if len(rows) == 0 {
		return nil
	}
	first := rows[0]
	cols := make([]string, 0, len(first))
	for k := range first {
		cols = append(cols, k)
	}
	// Stable order so the same data always charts the same way.
	sort.Strings(cols)

	var x, y string
	for _, col := range cols {
		switch first[col].(type) {
		case string:
			if x == "" {
				x = col
			}
		case float64, int, int64, json.Number:
			if y == "" {
				y = col
			}
		}
	}
	if x == "" || y == "" {
		return nil
	}
	return map[string]any{"x_axis": x, "y_axis": y}
}

func isDefinitive(err error) bool {
	var de *DefinitiveToolError
	return errors.As(err, &de)
}
