package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/praxislabs/praxis/pkg/llms"
	"github.com/praxislabs/praxis/pkg/plan"
	"github.com/praxislabs/praxis/pkg/tools"
)

// Execution is one concrete tool invocation an orchestrator expanded a phase
// into: final arguments plus the loop item it came from, if any.
type Execution struct {
	ToolName string
	Args     map[string]any
	LoopItem any
}

const columnDescriptionTool = "base_columnDescription"

var (
	numericTypeRe   = regexp.MustCompile(`(?i)int|decimal|numeric|float|double|real|number`)
	characterTypeRe = regexp.MustCompile(`(?i)char|text|string`)
)

// ColumnOrchestrator expands a column-scoped phase missing a column_name
// into one execution per compatible column of each table. The tool's
// required data type is decided once by an LM classification and cached for
// the process lifetime.
type ColumnOrchestrator struct {
	caller  *Accountant
	catalog *tools.Catalog

	mu    sync.Mutex
	kinds map[string]string // tool name -> numeric|character|any
}

// NewColumnOrchestrator builds the orchestrator.
func NewColumnOrchestrator(caller *Accountant, catalog *tools.Catalog) *ColumnOrchestrator {
	return &ColumnOrchestrator{caller: caller, catalog: catalog, kinds: make(map[string]string)}
}

// Applies reports whether the phase needs column expansion: a column-scoped
// tool with no column_name argument.
func (o *ColumnOrchestrator) Applies(phase *plan.Phase) bool {
	info, ok := o.catalog.Info(phase.PrimaryTool())
	if !ok || info.Scope != "column" {
		return false
	}
	if _, has := phase.Arguments["column_name"]; has {
		return false
	}
	return o.catalog.IsTool(columnDescriptionTool)
}

// Expand lists the compatible columns of each table and returns one
// execution per (table, column) pair, in table order then column order.
func (o *ColumnOrchestrator) Expand(ctx context.Context, phase *plan.Phase, tables []any, staticArgs map[string]any) ([]Execution, error) {
	toolName := phase.PrimaryTool()
	kind, err := o.requiredKind(ctx, toolName)
	if err != nil {
		return nil, err
	}

	var out []Execution
	for _, item := range tables {
		table := tableName(item)
		if table == "" {
			continue
		}
		desc, err := o.catalog.Invoke(ctx, columnDescriptionTool, map[string]any{"table_name": table})
		if err != nil {
			return nil, fmt.Errorf("column description for %s failed: %w", table, err)
		}
		if !desc.OK() {
			return nil, fmt.Errorf("column description for %s failed: %s", table, desc.ErrorMessage)
		}
		for _, row := range desc.Results {
			column, dataType := columnOfRow(row)
			if column == "" || !kindMatches(kind, dataType) {
				continue
			}
			args := make(map[string]any, len(staticArgs)+2)
			for k, v := range staticArgs {
				args[k] = v
			}
			args["table_name"] = table
			args["column_name"] = column
			out = append(out, Execution{ToolName: toolName, Args: args, LoopItem: item})
		}
	}
	return out, nil
}

// requiredKind classifies what column data type the tool operates on.
func (o *ColumnOrchestrator) requiredKind(ctx context.Context, toolName string) (string, error) {
	o.mu.Lock()
	if kind, ok := o.kinds[toolName]; ok {
		o.mu.Unlock()
		return kind, nil
	}
	o.mu.Unlock()

	info, _ := o.catalog.Info(toolName)
	prompt := fmt.Sprintf(`Tool %q: %s

Which column data type does this tool operate on? Answer with exactly one
word: numeric, character, or any.`, info.Name, info.Description)

	resp, err := o.caller.CallTactical(ctx, "column_type_classification", llms.Request{
		Messages: []llms.Message{llms.Text(llms.RoleUser, prompt)},
	})
	if err != nil {
		return "", err
	}

	kind := strings.ToLower(strings.TrimSpace(resp.Text))
	switch {
	case strings.Contains(kind, "numeric"):
		kind = "numeric"
	case strings.Contains(kind, "character"):
		kind = "character"
	default:
		kind = "any"
	}

	o.mu.Lock()
	o.kinds[toolName] = kind
	o.mu.Unlock()
	return kind, nil
}

func kindMatches(kind, dataType string) bool {
	switch kind {
	case "numeric":
		return numericTypeRe.MatchString(dataType)
	case "character":
		return characterTypeRe.MatchString(dataType)
	default:
		return true
	}
}

// tableName pulls a table identifier out of a loop item, which may be a bare
// string or a result row.
func tableName(item any) string {
	switch t := item.(type) {
	case string:
		return t
	case map[string]any:
		for _, key := range []string{"table_name", "TableName", "name", "table"} {
			if v, ok := plan.FindKey(t, key); ok {
				if s, ok := v.(string); ok {
					return s
				}
			}
		}
	}
	return ""
}

func columnOfRow(row map[string]any) (column, dataType string) {
	for _, key := range []string{"column_name", "ColumnName", "name", "column"} {
		if v, ok := row[key]; ok {
			if s, ok := v.(string); ok {
				column = s
				break
			}
		}
	}
	for _, key := range []string{"data_type", "DataType", "type"} {
		if v, ok := row[key]; ok {
			if s, ok := v.(string); ok {
				dataType = s
				break
			}
		}
	}
	return column, dataType
}

// DateRangeOrchestrator resolves temporal-phrase or missing date arguments.
// It classifies the query as a single date or a range, expands the range via
// the DateRange tool, and either wires paired start/end arguments or emits
// one execution per day.
type DateRangeOrchestrator struct {
	caller  *Accountant
	catalog *tools.Catalog
}

// NewDateRangeOrchestrator builds the orchestrator.
func NewDateRangeOrchestrator(caller *Accountant, catalog *tools.Catalog) *DateRangeOrchestrator {
	return &DateRangeOrchestrator{caller: caller, catalog: catalog}
}

// Applies reports whether the phase's date handling needs orchestration:
// a temporal-phrase date argument, or a tool requiring start_date/end_date
// that got neither.
func (o *DateRangeOrchestrator) Applies(phase *plan.Phase) bool {
	info, ok := o.catalog.Info(phase.PrimaryTool())
	if !ok {
		return false
	}
	for name, value := range phase.Arguments {
		if !isDateParam(name) {
			continue
		}
		if s, ok := value.(string); ok && plan.IsTemporalPhrase(s) {
			return true
		}
	}
	if info.HasParameter("start_date") && info.HasParameter("end_date") {
		_, hasStart := phase.Arguments["start_date"]
		_, hasEnd := phase.Arguments["end_date"]
		return !hasStart || !hasEnd
	}
	return false
}

// Expand resolves the phase's dates against the user query. currentDate is
// today in YYYY-MM-DD form, from the CurrentDate phase result.
func (o *DateRangeOrchestrator) Expand(ctx context.Context, phase *plan.Phase, userQuery, currentDate string, staticArgs map[string]any) ([]Execution, error) {
	toolName := phase.PrimaryTool()
	info, _ := o.catalog.Info(toolName)

	intent, err := o.classify(ctx, userQuery)
	if err != nil {
		return nil, err
	}

	start, end, err := o.resolveBounds(ctx, userQuery, currentDate)
	if err != nil {
		return nil, err
	}

	if intent == "single" {
		args := withDates(staticArgs, info, end, end)
		return []Execution{{ToolName: toolName, Args: args}}, nil
	}

	// Range-aware tools take the pair directly.
	if info.HasParameter("start_date") && info.HasParameter("end_date") {
		args := withDates(staticArgs, info, start, end)
		return []Execution{{ToolName: toolName, Args: args}}, nil
	}

	// Single-date tools run once per day.
	out, err := o.catalog.Invoke(ctx, tools.ToolDateRange, map[string]any{
		"start_date": start,
		"end_date":   end,
	})
	if err != nil {
		return nil, fmt.Errorf("date range expansion failed: %w", err)
	}
	var executions []Execution
	for _, row := range out.Results {
		day, _ := row["date"].(string)
		args := make(map[string]any, len(staticArgs)+1)
		for k, v := range staticArgs {
			args[k] = v
		}
		args[singleDateParam(info)] = day
		executions = append(executions, Execution{ToolName: toolName, Args: args, LoopItem: day})
	}
	return executions, nil
}

// classify decides whether the query wants one date or a span.
func (o *DateRangeOrchestrator) classify(ctx context.Context, userQuery string) (string, error) {
	prompt := fmt.Sprintf(`Does this request concern a single date or a date range?

%q

Answer with exactly one word: single or range.`, userQuery)
	resp, err := o.caller.CallTactical(ctx, "date_intent_classification", llms.Request{
		Messages: []llms.Message{llms.Text(llms.RoleUser, prompt)},
	})
	if err != nil {
		return "", err
	}
	if strings.Contains(strings.ToLower(resp.Text), "single") {
		return "single", nil
	}
	return "range", nil
}

// resolveBounds turns the query's temporal phrasing into concrete dates.
func (o *DateRangeOrchestrator) resolveBounds(ctx context.Context, userQuery, currentDate string) (start, end string, err error) {
	prompt := fmt.Sprintf(`Today is %s. Resolve the time expression in this request to concrete dates:

%q

Respond with a single JSON object {"start_date": "YYYY-MM-DD", "end_date": "YYYY-MM-DD"}.
For a single date use the same value for both.`, currentDate, userQuery)
	resp, err := o.caller.CallTactical(ctx, "date_bounds_resolution", llms.Request{
		Messages: []llms.Message{llms.Text(llms.RoleUser, prompt)},
		JSONMode: true,
	})
	if err != nil {
		return "", "", err
	}
	raw, ok := plan.ExtractJSON(resp.Text)
	if !ok {
		return "", "", fmt.Errorf("date bounds response is not JSON: %s", resp.Text)
	}
	var bounds struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}
	if err := json.Unmarshal([]byte(raw), &bounds); err != nil {
		return "", "", fmt.Errorf("failed to decode date bounds: %w", err)
	}
	if bounds.StartDate == "" || bounds.EndDate == "" {
		return "", "", fmt.Errorf("date bounds incomplete: %s", raw)
	}
	return bounds.StartDate, bounds.EndDate, nil
}

func isDateParam(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "date") || strings.Contains(lower, "day")
}

// singleDateParam picks the tool's date-flavoured parameter, defaulting to
// "date".
func singleDateParam(info tools.ToolInfo) string {
	for _, p := range info.Parameters {
		if isDateParam(p.Name) {
			return p.Name
		}
	}
	return "date"
}

// withDates copies staticArgs and fills the tool's date parameters, dropping
// any temporal-phrase leftovers.
func withDates(staticArgs map[string]any, info tools.ToolInfo, start, end string) map[string]any {
	args := make(map[string]any, len(staticArgs)+2)
	for k, v := range staticArgs {
		if s, ok := v.(string); ok && isDateParam(k) && plan.IsTemporalPhrase(s) {
			continue
		}
		args[k] = v
	}
	if info.HasParameter("start_date") && info.HasParameter("end_date") {
		args["start_date"] = start
		args["end_date"] = end
		return args
	}
	args[singleDateParam(info)] = end
	return args
}

// HallucinatedLoopOrchestrator handles loops whose loop_over is a literal
// list of strings: each string is merged into the tool's argument slots by
// heuristic name matching.
type HallucinatedLoopOrchestrator struct {
	catalog *tools.Catalog
}

// NewHallucinatedLoopOrchestrator builds the orchestrator.
func NewHallucinatedLoopOrchestrator(catalog *tools.Catalog) *HallucinatedLoopOrchestrator {
	return &HallucinatedLoopOrchestrator{catalog: catalog}
}

// Applies reports whether loop_over is a non-empty literal string list.
func (o *HallucinatedLoopOrchestrator) Applies(phase *plan.Phase) bool {
	if !phase.IsLoop() {
		return false
	}
	items, ok := phase.LoopOver.([]any)
	if !ok || len(items) == 0 {
		return false
	}
	for _, item := range items {
		if _, ok := item.(string); !ok {
			return false
		}
	}
	return true
}

// Expand emits one execution per string item.
func (o *HallucinatedLoopOrchestrator) Expand(phase *plan.Phase, staticArgs map[string]any) []Execution {
	toolName := phase.PrimaryTool()
	info, _ := o.catalog.Info(toolName)
	slot := o.argumentSlot(info, staticArgs)

	items, _ := phase.LoopOver.([]any)
	out := make([]Execution, 0, len(items))
	for _, item := range items {
		s, _ := item.(string)
		args := make(map[string]any, len(staticArgs)+1)
		for k, v := range staticArgs {
			args[k] = v
		}
		args[slot] = s
		out = append(out, Execution{ToolName: toolName, Args: args, LoopItem: s})
	}
	return out
}

// argumentSlot picks where the loop string lands: the first required string
// parameter the static args do not already fill, else "name".
func (o *HallucinatedLoopOrchestrator) argumentSlot(info tools.ToolInfo, staticArgs map[string]any) string {
	for _, p := range info.RequiredParameters() {
		if p.Type != "" && p.Type != "string" {
			continue
		}
		if _, filled := staticArgs[p.Name]; !filled {
			return p.Name
		}
	}
	for _, p := range info.Parameters {
		if _, filled := staticArgs[p.Name]; !filled && (p.Type == "" || p.Type == "string") {
			return p.Name
		}
	}
	return "name"
}
