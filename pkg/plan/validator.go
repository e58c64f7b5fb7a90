package plan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/praxislabs/praxis/pkg/events"
	"github.com/praxislabs/praxis/pkg/tools"
)

// fuzzyRenameThreshold is the minimum similarity ratio for renaming a
// provided argument to a missing schema parameter.
const fuzzyRenameThreshold = 0.7

// parameterSynonyms maps the argument names LMs habitually invent to their
// canonical schema names. Checked before the similarity fallback.
var parameterSynonyms = map[string]string{
	"table":         "table_name",
	"tablename":     "table_name",
	"column":        "column_name",
	"columnname":    "column_name",
	"database":      "database_name",
	"databasename":  "database_name",
	"schema":        "schema_name",
	"query_text":    "query",
	"sql":           "query",
	"sql_query":     "query",
	"statement":     "query",
	"start":         "start_date",
	"startdate":     "start_date",
	"from_date":     "start_date",
	"end":           "end_date",
	"enddate":       "end_date",
	"to_date":       "end_date",
	"date_value":    "date",
	"day":           "date",
	"num_days":      "days",
	"n_days":        "days",
	"question":      "goal",
	"task":          "goal",
	"prompt":        "goal",
	"description":   "goal",
	"text":          "data",
	"input":         "data",
	"input_data":    "data",
	"content":       "data",
	"source_data":   "data",
	"data":          "source_data",
	"collected":     "source_data",
	"chart":         "chart_type",
	"charttype":     "chart_type",
	"graph_type":    "chart_type",
	"x":             "x_axis",
	"xaxis":         "x_axis",
	"y":             "y_axis",
	"yaxis":         "y_axis",
	"chart_title":   "title",
	"limit_rows":    "limit",
	"max_rows":      "limit",
	"answer":        "answer_from_context",
	"context_reply": "answer_from_context",
}

// Validator applies the deterministic repair rules to each phase, in order,
// against the tool catalog. Every triggered rule rewrites the phase in place
// and records a correction event.
type Validator struct {
	catalog *tools.Catalog
	sink    events.Sink
	logger  *slog.Logger
}

// NewValidator builds a validator over the given catalog.
func NewValidator(catalog *tools.Catalog, sink events.Sink, logger *slog.Logger) *Validator {
	if sink == nil {
		sink = events.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{catalog: catalog, sink: sink, logger: logger}
}

// Validate repairs the plan in place and returns it. Safe to run repeatedly:
// an already-valid plan passes through unchanged.
func (v *Validator) Validate(ctx context.Context, pl *Plan) *Plan {
	if pl == nil || pl.Conversational {
		return pl
	}
	for _, phase := range pl.Phases {
		v.validatePhase(ctx, phase)
	}
	return pl
}

func (v *Validator) validatePhase(ctx context.Context, phase *Phase) {
	// Rule 1: explicit-null executable_prompt is dropped at parse time;
	// report the repair once.
	if phase.hadNullPrompt {
		phase.hadNullPrompt = false
		v.correction(ctx, phase, "removed null executable_prompt")
	}

	// Rule 2: prompt name declared as a tool.
	if len(phase.RelevantTools) > 0 && phase.ExecutablePrompt == "" {
		if name := phase.PrimaryTool(); v.catalog.IsPrompt(name) && !v.catalog.IsTool(name) {
			phase.ExecutablePrompt = name
			phase.RelevantTools = nil
			v.correction(ctx, phase, fmt.Sprintf("moved prompt %q from relevant_tools to executable_prompt", name))
		}
	}

	// Rule 3: tool name declared as a prompt.
	if phase.ExecutablePrompt != "" && v.catalog.IsTool(phase.ExecutablePrompt) && !v.catalog.IsPrompt(phase.ExecutablePrompt) {
		name := phase.ExecutablePrompt
		phase.RelevantTools = []string{name}
		phase.ExecutablePrompt = ""
		v.correction(ctx, phase, fmt.Sprintf("moved tool %q from executable_prompt to relevant_tools", name))
	}

	info, ok := v.toolInfo(phase)
	if !ok {
		return
	}

	// Rule 5 runs inside the extraneous-argument pass: before dropping an
	// unknown name, try synonym and fuzzy rename onto schema parameters.
	v.repairArgumentNames(ctx, phase, info)

	// Rule 4: drop anything still outside the schema.
	for name := range phase.Arguments {
		if !info.HasParameter(name) {
			delete(phase.Arguments, name)
			v.correction(ctx, phase, fmt.Sprintf("removed extraneous argument %q not in %s schema", name, info.Name))
		}
	}

	// Rule 6: the flag is re-evaluated from scratch after every stripping
	// pass, never inherited.
	phase.NeedsRefinement = false
	for _, param := range info.RequiredParameters() {
		if _, present := phase.Arguments[param.Name]; !present {
			phase.NeedsRefinement = true
			v.correction(ctx, phase, fmt.Sprintf("required argument %q missing; phase flagged for refinement", param.Name))
		}
	}
}

// repairArgumentNames renames provided-but-unknown argument names onto
// missing schema parameters via the synonym map, then similarity ratio.
func (v *Validator) repairArgumentNames(ctx context.Context, phase *Phase, info tools.ToolInfo) {
	if len(phase.Arguments) == 0 {
		return
	}

	missing := make([]string, 0)
	for _, name := range info.ParameterNames() {
		if _, present := phase.Arguments[name]; !present {
			missing = append(missing, name)
		}
	}

	for provided, value := range phase.Arguments {
		if info.HasParameter(provided) {
			continue
		}

		if canonical, ok := parameterSynonyms[strings.ToLower(provided)]; ok && info.HasParameter(canonical) {
			if _, taken := phase.Arguments[canonical]; !taken {
				delete(phase.Arguments, provided)
				phase.Arguments[canonical] = value
				v.correction(ctx, phase, fmt.Sprintf("renamed argument %q to %q via synonym map", provided, canonical))
				continue
			}
		}

		bestName, bestRatio := "", 0.0
		for _, candidate := range missing {
			if ratio := similarityRatio(strings.ToLower(provided), strings.ToLower(candidate)); ratio > bestRatio {
				bestName, bestRatio = candidate, ratio
			}
		}
		if bestRatio >= fuzzyRenameThreshold {
			if _, taken := phase.Arguments[bestName]; !taken {
				delete(phase.Arguments, provided)
				phase.Arguments[bestName] = value
				v.correction(ctx, phase, fmt.Sprintf("renamed argument %q to %q (similarity %.2f)", provided, bestName, bestRatio))
			}
		}
	}
}

func (v *Validator) toolInfo(phase *Phase) (tools.ToolInfo, bool) {
	name := phase.PrimaryTool()
	if name == "" {
		return tools.ToolInfo{}, false
	}
	return v.catalog.Info(name)
}

func (v *Validator) correction(ctx context.Context, phase *Phase, summary string) {
	v.logger.Debug("plan validation correction", "phase", phase.Number, "summary", summary)
	v.sink.Emit(ctx, events.SystemMessageEvent(
		"plan_validation", "correction",
		fmt.Sprintf("phase %d: %s", phase.Number, summary), ""))
}
