package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/praxislabs/praxis/pkg/tools"
)

const defaultSystemPrompt = `You are a planning engine. Decompose the user's request into a JSON list of phases.
Each phase is {"phase": <n>, "goal": <text>, "relevant_tools": [<tool>], "arguments": {...}} or uses "executable_prompt" for a library prompt.
Use {"source": "result_of_phase_<N>", "key": "<field>"} to reference earlier results and {"source": "loop_item", "key": "<field>"} inside loops.
A loop phase adds "type": "loop" and "loop_over".
If no tools are needed, respond {"plan_type": "conversational", "response": <text>}.
Respond with JSON only.`

const fewShotHeader = `The following examples show plans for similar requests. Adapt the structure to the current request; do not copy them verbatim.`

const constraintsBlock = `Constraints:
- Every phase uses exactly one tool or one prompt from the catalogs below.
- Argument names must match the tool schema exactly.
- Reference prior results instead of restating data.
- The final phase must produce the user-facing report.`

const sqlConsolidationRule = `SQL rule: when several read-only queries touch the same database, prefer one consolidated query that fetches everything at once.`

// buildPrompt concatenates the planning prompt sections in their fixed
// order: goal, prompt parameters, history, knowledge, few-shot examples,
// constraints, SQL rule, catalogs.
func (p *Planner) buildPrompt(in Inputs) string {
	var sb strings.Builder

	sb.WriteString("Request: ")
	sb.WriteString(in.Goal())
	sb.WriteString("\n")

	if len(in.PromptParams) > 0 {
		params, _ := json.Marshal(in.PromptParams)
		sb.WriteString("\nPrompt parameters: ")
		sb.Write(params)
		sb.WriteString("\n")
	}

	if len(in.History) > 0 {
		sb.WriteString("\nConversation so far:\n")
		for _, turn := range in.History {
			sb.WriteString("  user: " + turn.Query + "\n")
			if turn.Response != "" {
				sb.WriteString("  assistant: " + turn.Response + "\n")
			}
			if len(turn.Tools) > 0 {
				sb.WriteString("  (tools used: " + strings.Join(turn.Tools, ", ") + ")\n")
			}
		}
	}

	if strings.TrimSpace(in.Knowledge) != "" {
		sb.WriteString("\nRetrieved knowledge:\n")
		sb.WriteString(in.Knowledge)
		sb.WriteString("\n")
	}

	if len(in.FewShot) > 0 {
		sb.WriteString("\n" + fewShotHeader + "\n")
		for i, ex := range in.FewShot {
			sb.WriteString(fmt.Sprintf("Example %d request: %s\nExample %d plan: %s\n", i+1, ex.Query, i+1, ex.Plan))
		}
	}

	sb.WriteString("\n" + constraintsBlock + "\n")
	if p.catalog.HasSQLOptimizable() {
		sb.WriteString("\n" + sqlConsolidationRule + "\n")
	}

	sb.WriteString("\nTools:\n")
	for _, info := range p.catalog.List() {
		sb.WriteString(describeTool(info))
	}

	prompts := p.catalog.ListPrompts()
	if len(prompts) > 0 {
		sb.WriteString("\nPrompts:\n")
		for _, prompt := range prompts {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", prompt.Name, prompt.Description))
		}
	}

	return sb.String()
}

func describeTool(info tools.ToolInfo) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("- %s: %s\n", info.Name, info.Description))
	for _, param := range info.Parameters {
		required := ""
		if param.Required {
			required = ", required"
		}
		sb.WriteString(fmt.Sprintf("    %s (%s%s): %s\n", param.Name, param.Type, required, param.Description))
	}
	return sb.String()
}
