package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/praxislabs/praxis/pkg/clock"
)

// Built-in component tool names. The validator and executor key special
// behavior (reporting guarantee, chart bypass, orchestrators) off these.
const (
	ToolCurrentDate         = "CurrentDate"
	ToolDateRange           = "DateRange"
	ToolCharting            = "Charting"
	ToolFinalReport         = "FinalReport"
	ToolComplexPromptReport = "ComplexPromptReport"
	ToolContextReport       = "ContextReport"
)

// IsReportingTool reports whether name is one of the reporting capabilities
// a plan must end with.
func IsReportingTool(name string) bool {
	switch name {
	case ToolFinalReport, ToolComplexPromptReport, ToolContextReport:
		return true
	}
	return false
}

// Synthesizer produces report text from a goal and collected data. The
// executor wires this to its accounted LM-call helper so report synthesis
// shows up in turn totals.
type Synthesizer func(ctx context.Context, goal string, data any) (string, error)

// componentTool is a locally-implemented tool whose descriptor is derived
// from a typed argument struct.
type componentTool struct {
	info ToolInfo
	run  func(ctx context.Context, args map[string]any) (*Output, error)
}

func (t *componentTool) Info() ToolInfo { return t.info }

func (t *componentTool) Execute(ctx context.Context, args map[string]any) (*Output, error) {
	return t.run(ctx, args)
}

// reflectParameters derives the parameter list from a typed args struct via
// JSON-schema reflection, so component tools carry the same descriptor shape
// as MCP tools.
func reflectParameters(v any) []ToolParameter {
	reflector := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(v)
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return infoFromSchema("", "", m).Parameters
}

type currentDateArgs struct{}

type dateRangeArgs struct {
	StartDate string `json:"start_date" jsonschema:"required,description=Inclusive range start in YYYY-MM-DD form"`
	EndDate   string `json:"end_date" jsonschema:"required,description=Inclusive range end in YYYY-MM-DD form"`
}

type chartingArgs struct {
	Data      any            `json:"data,omitempty" jsonschema:"description=Rows to plot; filled from workflow state by the executor"`
	Mapping   map[string]any `json:"mapping,omitempty" jsonschema:"description=Axis mapping; generated from column classification"`
	ChartType string         `json:"chart_type,omitempty" jsonschema:"description=bar or line or pie"`
	Title     string         `json:"title,omitempty" jsonschema:"description=Chart title"`
}

type finalReportArgs struct {
	Goal       string `json:"goal" jsonschema:"required,description=What the report should answer"`
	SourceData any    `json:"source_data,omitempty" jsonschema:"description=Collected data the report draws on"`
}

type contextReportArgs struct {
	AnswerFromContext string `json:"answer_from_context" jsonschema:"required,description=Answer synthesized from retrieved knowledge"`
}

// NewCurrentDateTool returns the clock-backed CurrentDate tool.
func NewCurrentDateTool(clk clock.Clock) Tool {
	return &componentTool{
		info: ToolInfo{
			Name:        ToolCurrentDate,
			Description: "Returns today's date. Plan this before any phase that needs temporal context.",
			Parameters:  reflectParameters(&currentDateArgs{}),
		},
		run: func(_ context.Context, _ map[string]any) (*Output, error) {
			now := clk.Now()
			return Success(ToolCurrentDate, []map[string]any{{
				"current_date": now.Format("2006-01-02"),
				"day_of_week":  now.Weekday().String(),
			}}), nil
		},
	}
}

// NewDateRangeTool returns the DateRange expansion tool. Its result is one
// row per day, oldest first, which downstream loops iterate.
func NewDateRangeTool() Tool {
	return &componentTool{
		info: ToolInfo{
			Name:        ToolDateRange,
			Description: "Expands an inclusive start/end date pair into one row per day.",
			Parameters:  reflectParameters(&dateRangeArgs{}),
		},
		run: func(_ context.Context, args map[string]any) (*Output, error) {
			start, _ := args["start_date"].(string)
			end, _ := args["end_date"].(string)
			startDay, err := time.Parse("2006-01-02", start)
			if err != nil {
				return Failure(ToolDateRange, fmt.Sprintf("invalid start_date %q", start)), nil
			}
			endDay, err := time.Parse("2006-01-02", end)
			if err != nil {
				return Failure(ToolDateRange, fmt.Sprintf("invalid end_date %q", end)), nil
			}
			if endDay.Before(startDay) {
				startDay, endDay = endDay, startDay
			}
			var rows []map[string]any
			for d := startDay; !d.After(endDay); d = d.AddDate(0, 0, 1) {
				rows = append(rows, map[string]any{"date": d.Format("2006-01-02")})
			}
			return Success(ToolDateRange, rows), nil
		},
	}
}

// NewChartingTool returns the Charting tool. It renders the chart component
// payload; data and mapping arrive pre-resolved from the executor's chart
// bypass.
func NewChartingTool() Tool {
	return &componentTool{
		info: ToolInfo{
			Name:        ToolCharting,
			Description: "Renders a chart component from tabular data and an axis mapping.",
			Parameters:  reflectParameters(&chartingArgs{}),
		},
		run: func(_ context.Context, args map[string]any) (*Output, error) {
			data, ok := args["data"]
			if !ok || data == nil {
				return Failure(ToolCharting, "no data to chart"), nil
			}
			mapping, _ := args["mapping"].(map[string]any)
			if mapping == nil {
				return Failure(ToolCharting, "no axis mapping"), nil
			}
			chartType, _ := args["chart_type"].(string)
			if chartType == "" {
				chartType = "bar"
			}
			title, _ := args["title"].(string)

			out := TextSuccess(ToolCharting, "chart generated")
			out.Data = map[string]any{
				"component":  "chart",
				"chart_type": chartType,
				"x_axis":     mapping["x_axis"],
				"y_axis":     mapping["y_axis"],
				"title":      title,
				"data":       data,
			}
			return out, nil
		},
	}
}

// NewFinalReportTool returns the FinalReport synthesis tool.
func NewFinalReportTool(synth Synthesizer) Tool {
	return newReportTool(ToolFinalReport,
		"Synthesizes the final answer for an ad-hoc request from collected data.", synth)
}

// NewComplexPromptReportTool returns the report tool for prompt-library
// flows.
func NewComplexPromptReportTool(synth Synthesizer) Tool {
	return newReportTool(ToolComplexPromptReport,
		"Synthesizes the final answer for a prompt-library workflow from collected data.", synth)
}

func newReportTool(name, description string, synth Synthesizer) Tool {
	return &componentTool{
		info: ToolInfo{
			Name:        name,
			Description: description,
			Parameters:  reflectParameters(&finalReportArgs{}),
		},
		run: func(ctx context.Context, args map[string]any) (*Output, error) {
			goal, _ := args["goal"].(string)
			text, err := synth(ctx, goal, args["source_data"])
			if err != nil {
				return Failure(name, err.Error()), err
			}
			return TextSuccess(name, text), nil
		},
	}
}

// NewContextReportTool returns the ContextReport tool: it passes through an
// answer already synthesized from retrieved knowledge. The executor's bypass
// usually short-circuits this tool entirely.
func NewContextReportTool() Tool {
	return &componentTool{
		info: ToolInfo{
			Name:        ToolContextReport,
			Description: "Reports an answer drawn purely from retrieved knowledge context.",
			Parameters:  reflectParameters(&contextReportArgs{}),
		},
		run: func(_ context.Context, args map[string]any) (*Output, error) {
			answer, _ := args["answer_from_context"].(string)
			if answer == "" {
				return Failure(ToolContextReport, "answer_from_context is empty"), nil
			}
			return TextSuccess(ToolContextReport, answer), nil
		},
	}
}

// RegisterComponentTools installs the built-in component set on the catalog.
func RegisterComponentTools(catalog *Catalog, clk clock.Clock, synth Synthesizer) error {
	for _, t := range []Tool{
		NewCurrentDateTool(clk),
		NewDateRangeTool(),
		NewChartingTool(),
		NewFinalReportTool(synth),
		NewComplexPromptReportTool(synth),
		NewContextReportTool(),
	} {
		if err := catalog.AddTool(t); err != nil {
			return err
		}
	}
	return nil
}

var _ Tool = (*componentTool)(nil)
