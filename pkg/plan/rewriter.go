package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/praxislabs/praxis/pkg/events"
	"github.com/praxislabs/praxis/pkg/tools"
)

// LMCall performs a short auxiliary LM call for the rewrites that need one
// (SQL consolidation, loop-task classification, context-report synthesis,
// chart-intent comparison). purpose tags the call for accounting. A nil
// LMCall disables those rewrites.
type LMCall func(ctx context.Context, purpose, prompt string) (string, error)

// PreviousTurn carries the prior turn's outcome into the rewrites that reuse
// it (chart-data reuse, previous-turn hydration).
type PreviousTurn struct {
	Query  string
	Tools  []string
	Result any
}

// RewriteContext parameterises one rewriting run.
type RewriteContext struct {
	UserQuery        string
	KnowledgeContext string
	PreviousTurn     *PreviousTurn

	// State receives the injected_previous_turn_data binding when the
	// hydration or chart-reuse rewrites fire.
	State *State

	// SQLConsolidation opts the contiguous-SQL-run merge in.
	SQLConsolidation bool

	// PromptFlow selects ComplexPromptReport over FinalReport for the
	// final-report guarantee.
	PromptFlow bool

	// SubProcess suppresses the final-report guarantee for non-summarising
	// sub-executions.
	SubProcess bool
}

// Rewriter applies the semantic plan rewrites in a fixed order. Every
// rewrite is idempotent, so re-running the whole pipeline on its own output
// is a no-op.
type Rewriter struct {
	catalog   *tools.Catalog
	validator *Validator
	llm       LMCall
	sink      events.Sink
	logger    *slog.Logger

	// taskKinds caches the aggregation/synthesis classification per goal so
	// repeated rewriting never repeats the LM call.
	taskKinds map[string]string
}

// NewRewriter builds a rewriter. llm may be nil to disable LM-assisted
// rewrites.
func NewRewriter(catalog *tools.Catalog, validator *Validator, llm LMCall, sink events.Sink, logger *slog.Logger) *Rewriter {
	if sink == nil {
		sink = events.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Rewriter{
		catalog:   catalog,
		validator: validator,
		llm:       llm,
		sink:      sink,
		logger:    logger,
		taskKinds: make(map[string]string),
	}
}

// Rewrite runs every pass in order and renumbers the result.
func (rw *Rewriter) Rewrite(ctx context.Context, pl *Plan, rctx RewriteContext) *Plan {
	if pl == nil || pl.Conversational {
		return pl
	}

	rw.injectTemporalContext(ctx, pl, rctx)
	rw.consolidateSQL(ctx, pl, rctx)
	rw.distillMultiLoopSynthesis(ctx, pl)
	rw.collapseInefficientLoops(ctx, pl)
	rw.repairDateRangeFlow(ctx, pl)
	if rw.validator != nil {
		rw.validator.Validate(ctx, pl)
	}
	rw.reuseChartData(ctx, pl, rctx)
	rw.cleanChartingArguments(ctx, pl)
	rw.hydratePreviousTurn(ctx, pl, rctx)
	rw.synthesiseContextReports(ctx, pl, rctx)
	rw.guaranteeFinalReport(ctx, pl, rctx)

	pl.Renumber()
	return pl
}

// --- 1. Temporal data flow ---------------------------------------------

// injectTemporalContext carries the user's relative-date phrase into data
// phases that would otherwise run undated, so the date-range orchestrator
// can ground them at execution.
func (rw *Rewriter) injectTemporalContext(ctx context.Context, pl *Plan, rctx RewriteContext) {
	phrase := temporalPhraseRe.FindString(rctx.UserQuery)
	if phrase == "" {
		return
	}

	sawCurrentDate := false
	for _, phase := range pl.Phases {
		if phase.PrimaryTool() == tools.ToolCurrentDate {
			sawCurrentDate = true
			continue
		}
		if !sawCurrentDate || phase.IsPromptPhase() {
			continue
		}
		info, ok := rw.catalog.Info(phase.PrimaryTool())
		if !ok || tools.IsReportingTool(info.Name) {
			continue
		}
		param, ok := dateParameter(info)
		if !ok || hasDateArgument(phase) {
			continue
		}
		if phase.Arguments == nil {
			phase.Arguments = make(map[string]any)
		}
		phase.Arguments[param] = phrase
		rw.rewriteEvent(ctx, phase.Number, fmt.Sprintf("injected temporal context %q into %s.%s", phrase, info.Name, param))
	}
}

func dateParameter(info tools.ToolInfo) (string, bool) {
	for _, name := range info.ParameterNames() {
		lower := strings.ToLower(name)
		if lower == "date" || strings.HasSuffix(lower, "_date") || lower == "start_date" {
			return name, true
		}
	}
	return "", false
}

func hasDateArgument(phase *Phase) bool {
	for name, value := range phase.Arguments {
		lower := strings.ToLower(name)
		if lower == "date" || strings.Contains(lower, "date") {
			if s, ok := value.(string); !ok || strings.TrimSpace(s) != "" {
				return true
			}
		}
	}
	return false
}

// --- 2. SQL consolidation ----------------------------------------------

// consolidateSQL merges a contiguous run of SQL-reading phases into one
// query phase via an LM call. Opt-in, and skipped without an LM.
func (rw *Rewriter) consolidateSQL(ctx context.Context, pl *Plan, rctx RewriteContext) {
	if !rctx.SQLConsolidation || rw.llm == nil {
		return
	}

	runStart, runEnd := -1, -1
	for i, phase := range pl.Phases {
		if rw.isSQLReadPhase(phase) {
			if runStart < 0 {
				runStart = i
			}
			runEnd = i
			continue
		}
		if runStart >= 0 && runEnd > runStart {
			break
		}
		runStart, runEnd = -1, -1
	}
	if runStart < 0 || runEnd <= runStart {
		return
	}

	run := pl.Phases[runStart : runEnd+1]
	var sb strings.Builder
	sb.WriteString("Merge the following sequential read-only SQL steps into a single query that returns all required data at once.\n")
	sb.WriteString("Respond with JSON only: {\"goal\": <text>, \"query\": <sql>}.\n\n")
	for _, phase := range run {
		sb.WriteString(fmt.Sprintf("Step %d: %s\n", phase.Number, phase.Goal))
		if q, ok := phase.Arguments["query"].(string); ok {
			sb.WriteString("  query: " + q + "\n")
		}
	}

	reply, err := rw.llm(ctx, "sql_consolidation", sb.String())
	if err != nil {
		rw.logger.Warn("sql consolidation call failed; keeping original phases", "error", err)
		return
	}
	jsonText, ok := ExtractJSON(reply)
	if !ok {
		return
	}
	var merged struct {
		Goal  string `json:"goal"`
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(jsonText), &merged); err != nil || merged.Query == "" {
		return
	}

	first := run[0]
	combined := &Phase{
		Number:        first.Number,
		Goal:          merged.Goal,
		RelevantTools: append([]string(nil), first.RelevantTools...),
		Arguments:     map[string]any{"query": merged.Query},
	}
	if combined.Goal == "" {
		combined.Goal = first.Goal
	}

	replaced := len(run)
	pl.Phases = append(pl.Phases[:runStart], append([]*Phase{combined}, pl.Phases[runEnd+1:]...)...)
	rw.remapReferences(pl, run, combined)
	pl.Renumber()
	rw.rewriteEvent(ctx, combined.Number, fmt.Sprintf("consolidated %d SQL phases into one query", replaced))
}

func (rw *Rewriter) isSQLReadPhase(phase *Phase) bool {
	if phase.IsLoop() || phase.IsPromptPhase() {
		return false
	}
	info, ok := rw.catalog.Info(phase.PrimaryTool())
	return ok && info.SQLOptimizable
}

// remapReferences repoints result_of_phase references from any replaced
// phase onto the replacement.
func (rw *Rewriter) remapReferences(pl *Plan, replaced []*Phase, replacement *Phase) {
	old := make(map[string]bool, len(replaced))
	for _, p := range replaced {
		old[ResultKey(p.Number)] = true
	}
	target := ResultKey(replacement.Number)

	var remap func(v any) any
	remap = func(v any) any {
		switch val := v.(type) {
		case string:
			if old[strings.TrimSpace(val)] {
				return target
			}
			return val
		case map[string]any:
			if ph, ok := PlaceholderFromValue(val); ok && old[ph.Source] {
				ph.Source = target
				return ph.AsMap()
			}
			out := make(map[string]any, len(val))
			for k, item := range val {
				out[k] = remap(item)
			}
			return out
		case []any:
			out := make([]any, len(val))
			for i, item := range val {
				out[i] = remap(item)
			}
			return out
		default:
			return v
		}
	}

	for _, phase := range pl.Phases {
		if phase == replacement {
			continue
		}
		if phase.Arguments != nil {
			phase.Arguments = remap(phase.Arguments).(map[string]any)
		}
		if phase.LoopOver != nil {
			phase.LoopOver = remap(phase.LoopOver)
		}
	}
}

// --- 3. Multi-loop synthesis -------------------------------------------

const distillGoalPrefix = "Distill per-item findings"

// distillMultiLoopSynthesis inserts a per-item distillation phase between
// sibling loops over the same source and the LM-synthesis phase that
// consumes them, then points the summary at the distilled result.
func (rw *Rewriter) distillMultiLoopSynthesis(ctx context.Context, pl *Plan) {
	for _, phase := range pl.Phases {
		if strings.HasPrefix(phase.Goal, distillGoalPrefix) {
			return // already rewritten
		}
	}

	bySource := make(map[string][]*Phase)
	for _, phase := range pl.Phases {
		if !phase.IsLoop() {
			continue
		}
		src, ok := loopSourceKey(phase)
		if !ok {
			continue
		}
		bySource[src] = append(bySource[src], phase)
	}

	for source, loops := range bySource {
		if len(loops) < 2 {
			continue
		}
		summary := rw.synthesisConsumer(pl, loops)
		if summary == nil {
			continue
		}

		distill := &Phase{
			Goal:     fmt.Sprintf("%s from %s before the final summary", distillGoalPrefix, source),
			Type:     "loop",
			LoopOver: source,
			RelevantTools: []string{tools.ToolFinalReport},
			Arguments: map[string]any{
				"goal":        "Condense the per-item results into one short finding per item",
				"source_data": loopResultRefs(loops),
			},
		}

		// Insert immediately before the summary phase.
		idx := phaseIndex(pl, summary)
		pl.Phases = append(pl.Phases[:idx], append([]*Phase{distill}, pl.Phases[idx:]...)...)
		pl.Renumber()

		if summary.Arguments == nil {
			summary.Arguments = make(map[string]any)
		}
		// Drop the stale loop references regardless of which key carried them.
		delete(summary.Arguments, "data")
		summary.Arguments["source_data"] = Placeholder{Source: ResultKey(distill.Number)}.AsMap()
		rw.rewriteEvent(ctx, distill.Number, fmt.Sprintf("inserted distillation phase for %d loops over %s", len(loops), source))
		return
	}
}

// synthesisConsumer finds a later reporting phase whose arguments reference
// at least two of the given loops' results.
func (rw *Rewriter) synthesisConsumer(pl *Plan, loops []*Phase) *Phase {
	loopKeys := make(map[string]bool, len(loops))
	maxLoop := 0
	for _, l := range loops {
		loopKeys[ResultKey(l.Number)] = true
		if l.Number > maxLoop {
			maxLoop = l.Number
		}
	}
	for _, phase := range pl.Phases {
		if phase.Number <= maxLoop || !tools.IsReportingTool(phase.PrimaryTool()) {
			continue
		}
		if countReferences(phase.Arguments, loopKeys) >= 2 {
			return phase
		}
	}
	return nil
}

func countReferences(v any, keys map[string]bool) int {
	switch val := v.(type) {
	case string:
		if keys[strings.TrimSpace(val)] {
			return 1
		}
		return 0
	case map[string]any:
		if ph, ok := PlaceholderFromValue(val); ok {
			if keys[ph.Source] {
				return 1
			}
			return 0
		}
		total := 0
		for _, item := range val {
			total += countReferences(item, keys)
		}
		return total
	case []any:
		total := 0
		for _, item := range val {
			total += countReferences(item, keys)
		}
		return total
	default:
		return 0
	}
}

func loopResultRefs(loops []*Phase) []any {
	refs := make([]any, 0, len(loops))
	for _, l := range loops {
		refs = append(refs, Placeholder{Source: ResultKey(l.Number)}.AsMap())
	}
	return refs
}

func loopSourceKey(phase *Phase) (string, bool) {
	switch src := phase.LoopOver.(type) {
	case string:
		trimmed := strings.TrimSpace(src)
		if IsResultReference(trimmed) {
			return trimmed, true
		}
	case map[string]any:
		if ph, ok := PlaceholderFromValue(src); ok {
			return ph.Source, true
		}
	}
	return "", false
}

func phaseIndex(pl *Plan, phase *Phase) int {
	for i, p := range pl.Phases {
		if p == phase {
			return i
		}
	}
	return len(pl.Phases)
}

// --- 4. Inefficient LM-task loops --------------------------------------

// collapseInefficientLoops converts per-item LM calls that actually perform
// aggregation into one call over the whole source. Synthesis loops stay.
func (rw *Rewriter) collapseInefficientLoops(ctx context.Context, pl *Plan) {
	if rw.llm == nil {
		return
	}
	for _, phase := range pl.Phases {
		if !phase.IsLoop() || !tools.IsReportingTool(phase.PrimaryTool()) {
			continue
		}
		if rw.classifyLoopTask(ctx, phase.Goal) != "aggregation" {
			continue
		}
		source := phase.LoopOver
		phase.Type = ""
		phase.LoopOver = nil
		if phase.Arguments == nil {
			phase.Arguments = make(map[string]any)
		}
		phase.Arguments["source_data"] = source
		rw.rewriteEvent(ctx, phase.Number, "collapsed aggregation loop into a single call")
	}
}

func (rw *Rewriter) classifyLoopTask(ctx context.Context, goal string) string {
	if kind, ok := rw.taskKinds[goal]; ok {
		return kind
	}
	reply, err := rw.llm(ctx, "loop_task_classification",
		"Classify this task as either \"aggregation\" (one answer computed across all items) or \"synthesis\" (a distinct answer per item). Respond with the single word.\n\nTask: "+goal)
	kind := "synthesis"
	if err == nil && strings.Contains(strings.ToLower(reply), "aggregation") {
		kind = "aggregation"
	}
	rw.taskKinds[goal] = kind
	return kind
}

// --- 5. Date-range loop repair -----------------------------------------

// repairDateRangeFlow wires a DateRange phase into its dependent: paired
// range parameters get direct references, everything else becomes a loop
// over the range.
func (rw *Rewriter) repairDateRangeFlow(ctx context.Context, pl *Plan) {
	for i, phase := range pl.Phases {
		if phase.PrimaryTool() != tools.ToolDateRange || i+1 >= len(pl.Phases) {
			continue
		}
		next := pl.Phases[i+1]
		rangeKey := ResultKey(phase.Number)
		if !referencesSource(next, rangeKey) {
			continue
		}
		info, ok := rw.catalog.Info(next.PrimaryTool())
		if !ok {
			continue
		}

		if info.HasParameter("start_date") && info.HasParameter("end_date") {
			if next.Arguments == nil {
				next.Arguments = make(map[string]any)
			}
			next.Arguments["start_date"] = Placeholder{Source: rangeKey, Key: "start_date"}.AsMap()
			next.Arguments["end_date"] = Placeholder{Source: rangeKey, Key: "end_date"}.AsMap()
			if next.IsLoop() {
				next.Type = ""
				next.LoopOver = nil
			}
			rw.rewriteEvent(ctx, next.Number, "wired date range into paired start/end parameters")
			continue
		}

		if !next.IsLoop() {
			next.Type = "loop"
			next.LoopOver = rangeKey
			rw.rewriteEvent(ctx, next.Number, "converted date-dependent phase into a loop over the range")
		}
	}
}

func referencesSource(phase *Phase, key string) bool {
	if src, ok := loopSourceKey(phase); ok && src == key {
		return true
	}
	return countReferences(phase.Arguments, map[string]bool{key: true}) > 0
}

// --- 7. Chart-data reuse -----------------------------------------------

// reuseChartData drops redundant data-fetch phases when the previous turn
// already produced the same data for a chart-only follow-up.
func (rw *Rewriter) reuseChartData(ctx context.Context, pl *Plan, rctx RewriteContext) {
	if rw.llm == nil || rctx.PreviousTurn == nil || rctx.PreviousTurn.Result == nil || rctx.State == nil {
		return
	}

	chartIdx := -1
	for i, phase := range pl.Phases {
		if phase.PrimaryTool() == tools.ToolCharting {
			chartIdx = i
			break
		}
	}
	if chartIdx <= 0 {
		return
	}

	// Chart-only: every earlier phase is a plain data fetch, and everything
	// after the chart is reporting.
	fetchTools := make([]string, 0, chartIdx)
	for _, phase := range pl.Phases[:chartIdx] {
		if phase.IsPromptPhase() || phase.IsLoop() || tools.IsReportingTool(phase.PrimaryTool()) {
			return
		}
		fetchTools = append(fetchTools, phase.PrimaryTool())
	}
	for _, phase := range pl.Phases[chartIdx+1:] {
		if !tools.IsReportingTool(phase.PrimaryTool()) {
			return
		}
	}
	if !sameToolSet(fetchTools, rctx.PreviousTurn.Tools) {
		return
	}

	reply, err := rw.llm(ctx, "chart_intent_comparison", fmt.Sprintf(
		"Two requests follow. Answer \"yes\" if the second only re-presents the first's data as a chart, otherwise \"no\".\n\nFirst: %s\nSecond: %s",
		rctx.PreviousTurn.Query, rctx.UserQuery))
	if err != nil || !strings.Contains(strings.ToLower(reply), "yes") {
		return
	}

	rctx.State.Bind(KeyInjectedPreviousTurn, rctx.PreviousTurn.Result)
	chart := pl.Phases[chartIdx]
	if chart.Arguments == nil {
		chart.Arguments = make(map[string]any)
	}
	chart.Arguments["data"] = Placeholder{Source: KeyInjectedPreviousTurn}.AsMap()
	dropped := chartIdx
	pl.Phases = append(pl.Phases[:0], pl.Phases[chartIdx:]...)
	pl.Renumber()
	rw.rewriteEvent(ctx, chart.Number, fmt.Sprintf("reused previous turn's data; dropped %d fetch phases", dropped))
}

func sameToolSet(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]bool, len(b))
	for _, t := range b {
		set[strings.ToLower(t)] = true
	}
	for _, t := range a {
		if !set[strings.ToLower(t)] {
			return false
		}
	}
	return true
}

// --- 8. Charting cleanup -----------------------------------------------

// cleanChartingArguments strips mapping and same-turn data arguments from
// Charting phases; the planner cannot know real column names, the charting
// bypass fills them deterministically.
func (rw *Rewriter) cleanChartingArguments(ctx context.Context, pl *Plan) {
	for _, phase := range pl.Phases {
		if phase.PrimaryTool() != tools.ToolCharting || phase.Arguments == nil {
			continue
		}
		changed := false
		if _, ok := phase.Arguments["mapping"]; ok {
			delete(phase.Arguments, "mapping")
			changed = true
		}
		if data, ok := phase.Arguments["data"]; ok && isSameTurnReference(data) {
			delete(phase.Arguments, "data")
			changed = true
		}
		if changed {
			rw.rewriteEvent(ctx, phase.Number, "stripped speculative charting arguments")
		}
	}
}

func isSameTurnReference(v any) bool {
	switch val := v.(type) {
	case string:
		_, ok := PhaseOfResultKey(strings.TrimSpace(val))
		return ok
	case map[string]any:
		if ph, ok := PlaceholderFromValue(val); ok {
			_, sameTurn := PhaseOfResultKey(ph.Source)
			return sameTurn
		}
	}
	return false
}

// --- 9. Previous-turn hydration ----------------------------------------

// hydratePreviousTurn repairs a first phase that loops over a result which
// cannot exist yet by binding the previous turn's result under the injected
// key and repointing the loop.
func (rw *Rewriter) hydratePreviousTurn(ctx context.Context, pl *Plan, rctx RewriteContext) {
	if len(pl.Phases) == 0 || rctx.PreviousTurn == nil || rctx.PreviousTurn.Result == nil || rctx.State == nil {
		return
	}
	first := pl.Phases[0]
	if !first.IsLoop() {
		return
	}
	src, ok := loopSourceKey(first)
	if !ok {
		return
	}
	n, isPhaseRef := PhaseOfResultKey(src)
	if !isPhaseRef || n < first.Number {
		return
	}

	rctx.State.Bind(KeyInjectedPreviousTurn, rctx.PreviousTurn.Result)
	first.LoopOver = KeyInjectedPreviousTurn
	rw.rewriteEvent(ctx, first.Number, fmt.Sprintf("rewired forward loop reference %s to previous-turn data", src))
}

// --- 10. Empty-context-report synthesis --------------------------------

// synthesiseContextReports fills a missing answer_from_context on a
// ContextReport phase from the retrieved knowledge.
func (rw *Rewriter) synthesiseContextReports(ctx context.Context, pl *Plan, rctx RewriteContext) {
	if rw.llm == nil || strings.TrimSpace(rctx.KnowledgeContext) == "" {
		return
	}
	for _, phase := range pl.Phases {
		if phase.PrimaryTool() != tools.ToolContextReport {
			continue
		}
		if answer, ok := phase.Arguments["answer_from_context"].(string); ok && strings.TrimSpace(answer) != "" {
			continue
		}
		reply, err := rw.llm(ctx, "context_report_synthesis", fmt.Sprintf(
			"Answer the question strictly from the context below. Be concise.\n\nQuestion: %s\n\nContext:\n%s",
			phase.Goal, rctx.KnowledgeContext))
		if err != nil || strings.TrimSpace(reply) == "" {
			continue
		}
		if phase.Arguments == nil {
			phase.Arguments = make(map[string]any)
		}
		phase.Arguments["answer_from_context"] = strings.TrimSpace(reply)
		rw.rewriteEvent(ctx, phase.Number, "synthesised answer_from_context from retrieved knowledge")
	}
}

// --- 11. Final-report guarantee ----------------------------------------

// guaranteeFinalReport appends a reporting phase when the plan does not end
// with one. Sub-process executions skip this so their parent summarises.
func (rw *Rewriter) guaranteeFinalReport(ctx context.Context, pl *Plan, rctx RewriteContext) {
	if rctx.SubProcess || len(pl.Phases) == 0 {
		return
	}
	last := pl.Last()
	if last.IsPromptPhase() || tools.IsReportingTool(last.PrimaryTool()) {
		return
	}

	reportTool := tools.ToolFinalReport
	if rctx.PromptFlow {
		reportTool = tools.ToolComplexPromptReport
	}
	report := &Phase{
		Goal:          "Summarize the collected results and answer the original request",
		RelevantTools: []string{reportTool},
		Arguments: map[string]any{
			"goal":        rctx.UserQuery,
			"source_data": Placeholder{Source: ResultKey(last.Number)}.AsMap(),
		},
	}
	pl.Phases = append(pl.Phases, report)
	pl.Renumber()
	rw.rewriteEvent(ctx, report.Number, "appended final reporting phase")
}

func (rw *Rewriter) rewriteEvent(ctx context.Context, phaseNum int, summary string) {
	rw.logger.Debug("plan rewrite", "phase", phaseNum, "summary", summary)
	rw.sink.Emit(ctx, events.SystemMessageEvent(
		"plan_rewriting", "rewrite",
		fmt.Sprintf("phase %d: %s", phaseNum, summary), ""))
}
