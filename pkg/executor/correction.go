package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/praxislabs/praxis/pkg/llms"
	"github.com/praxislabs/praxis/pkg/plan"
	"github.com/praxislabs/praxis/pkg/tools"
)

// Correction is what a strategy proposes: exactly one of a corrected action,
// a prompt delegation, or a terminating final answer.
type Correction struct {
	Action         map[string]any
	DelegatePrompt string
	FinalAnswer    string
}

// Strategy recovers from one class of tool error.
type Strategy interface {
	Name() string
	CanHandle(errText string) bool
	// Propose returns a correction for the failed action. goal is the phase
	// goal; toolContext describes the permitted tools.
	Propose(ctx context.Context, errText string, action map[string]any, goal, toolContext string) (*Correction, error)
}

// StrategyRegistry checks strategies in registration order; the first whose
// CanHandle matches wins.
type StrategyRegistry struct {
	strategies []Strategy
}

// NewStrategyRegistry builds the default ordering: table-not-found,
// column-not-found, then the generic fallback.
func NewStrategyRegistry(caller *Accountant) *StrategyRegistry {
	return &StrategyRegistry{strategies: []Strategy{
		&tableNotFoundStrategy{caller: caller},
		&columnNotFoundStrategy{caller: caller},
		&genericCorrectionStrategy{caller: caller},
	}}
}

// Propose dispatches to the first matching strategy.
func (r *StrategyRegistry) Propose(ctx context.Context, errText string, action map[string]any, goal, toolContext string) (string, *Correction, error) {
	for _, s := range r.strategies {
		if s.CanHandle(errText) {
			c, err := s.Propose(ctx, errText, action, goal, toolContext)
			return s.Name(), c, err
		}
	}
	return "", nil, fmt.Errorf("no correction strategy matched: %s", errText)
}

var (
	tableNotFoundRe  = regexp.MustCompile(`Object '([^']+)' does not exist`)
	columnNotFoundRe = regexp.MustCompile(`Column '([^']+)' does not exist`)
	jsonParseErrorRe = regexp.MustCompile(`(?i)invalid character|unexpected end of JSON|failed to parse JSON|JSONDecodeError`)
)

type tableNotFoundStrategy struct {
	caller *Accountant
}

func (s *tableNotFoundStrategy) Name() string { return "table_not_found" }

func (s *tableNotFoundStrategy) CanHandle(errText string) bool {
	return tableNotFoundRe.MatchString(errText)
}

func (s *tableNotFoundStrategy) Propose(ctx context.Context, errText string, action map[string]any, goal, toolContext string) (*Correction, error) {
	name := ""
	if m := tableNotFoundRe.FindStringSubmatch(errText); len(m) == 2 {
		name = m[1]
	}
	prompt := fmt.Sprintf(`A tool call failed because the table %q does not exist.

Failed action:
%s

Goal: %s

Available tools:
%s

Respond with a single JSON object. Either re-issue the action with a valid
table name as {"tool_name": ..., "arguments": {...}}, delegate with
{"executable_prompt": "<prompt name>"}, or conclude with
{"FINAL_ANSWER": "<message for the user>"} if the request cannot be served.`,
		name, mustJSON(action), goal, toolContext)
	return proposeViaLM(ctx, s.caller, "table_not_found_recovery", prompt)
}

type columnNotFoundStrategy struct {
	caller *Accountant
}

func (s *columnNotFoundStrategy) Name() string { return "column_not_found" }

func (s *columnNotFoundStrategy) CanHandle(errText string) bool {
	return columnNotFoundRe.MatchString(errText)
}

func (s *columnNotFoundStrategy) Propose(ctx context.Context, errText string, action map[string]any, goal, toolContext string) (*Correction, error) {
	name := ""
	if m := columnNotFoundRe.FindStringSubmatch(errText); len(m) == 2 {
		name = m[1]
	}
	prompt := fmt.Sprintf(`A tool call failed because the column %q does not exist.

Failed action:
%s

Goal: %s

Available tools:
%s

Respond with a single JSON object. Either re-issue the action with a valid
column name as {"tool_name": ..., "arguments": {...}}, delegate with
{"executable_prompt": "<prompt name>"}, or conclude with
{"FINAL_ANSWER": "<message for the user>"}.`,
		name, mustJSON(action), goal, toolContext)
	return proposeViaLM(ctx, s.caller, "column_not_found_recovery", prompt)
}

// genericCorrectionStrategy is the fallback. Reporting tools that choked on
// malformed JSON get a text-sanitisation subtask; everything else gets a
// free-form correction call.
type genericCorrectionStrategy struct {
	caller *Accountant
}

func (s *genericCorrectionStrategy) Name() string { return "generic_correction" }

func (s *genericCorrectionStrategy) CanHandle(string) bool { return true }

func (s *genericCorrectionStrategy) Propose(ctx context.Context, errText string, action map[string]any, goal, toolContext string) (*Correction, error) {
	toolName, _ := action["tool_name"].(string)
	if tools.IsReportingTool(toolName) && jsonParseErrorRe.MatchString(errText) {
		return s.sanitise(ctx, errText, action)
	}

	prompt := fmt.Sprintf(`A tool call failed.

Error: %s

Failed action:
%s

Goal: %s

Available tools:
%s

Respond with a single JSON object: a corrected action
{"tool_name": ..., "arguments": {...}} (you may switch tools), a delegation
{"executable_prompt": "<prompt name>"}, or a conclusion
{"FINAL_ANSWER": "<message for the user>"}.`,
		errText, mustJSON(action), goal, toolContext)
	return proposeViaLM(ctx, s.caller, "generic_correction", prompt)
}

// sanitise asks the LM to clean the raw text that broke the report tool's
// JSON handling, then re-issues the report with the cleaned text.
func (s *genericCorrectionStrategy) sanitise(ctx context.Context, errText string, action map[string]any) (*Correction, error) {
	raw := ""
	if args, ok := action["arguments"].(map[string]any); ok {
		raw = stringifyArg(args["source_data"])
	}
	prompt := fmt.Sprintf(`The following text broke a JSON parser (%s). Rewrite it as clean plain
text: remove stray quotes, unbalanced braces, and control characters. Keep
the content. Reply with the cleaned text only.

%s`, errText, raw)

	resp, err := s.caller.CallTactical(ctx, "text_sanitisation", llms.Request{
		Messages: []llms.Message{llms.Text(llms.RoleUser, prompt)},
	})
	if err != nil {
		return nil, err
	}

	corrected := map[string]any{
		"tool_name": action["tool_name"],
		"arguments": map[string]any{"source_data": strings.TrimSpace(resp.Text)},
	}
	if args, ok := action["arguments"].(map[string]any); ok {
		if goal, ok := args["goal"]; ok {
			corrected["arguments"].(map[string]any)["goal"] = goal
		}
	}
	return &Correction{Action: corrected}, nil
}

// proposeViaLM runs a JSON-mode correction call and decodes the directive.
func proposeViaLM(ctx context.Context, caller *Accountant, purpose, prompt string) (*Correction, error) {
	resp, err := caller.CallTactical(ctx, purpose, llms.Request{
		Messages: []llms.Message{llms.Text(llms.RoleUser, prompt)},
		JSONMode: true,
	})
	if err != nil {
		return nil, err
	}

	raw, ok := plan.ExtractJSON(resp.Text)
	if !ok {
		return nil, fmt.Errorf("correction response is not JSON: %s", resp.Text)
	}
	var directive map[string]any
	if err := json.Unmarshal([]byte(raw), &directive); err != nil {
		return nil, fmt.Errorf("failed to decode correction: %w", err)
	}

	if answer, ok := directive["FINAL_ANSWER"].(string); ok && answer != "" {
		return &Correction{FinalAnswer: answer}, nil
	}
	if promptName, ok := directive["executable_prompt"].(string); ok && promptName != "" {
		return &Correction{DelegatePrompt: promptName}, nil
	}
	if toolName, ok := directive["tool_name"].(string); ok && toolName != "" {
		args, _ := directive["arguments"].(map[string]any)
		if args == nil {
			args = map[string]any{}
		}
		return &Correction{Action: map[string]any{"tool_name": toolName, "arguments": args}}, nil
	}
	return nil, fmt.Errorf("correction carries no directive: %s", raw)
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func stringifyArg(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return mustJSON(t)
	}
}
