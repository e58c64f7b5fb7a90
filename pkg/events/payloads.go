package events

// Payload builders for the canonical events. Key names here are part of the
// wire contract with the UI; do not rename them.

// SystemMessageEvent reports a correction, normalization, or progress note.
// Token fields are only present on LM-call messages.
func SystemMessageEvent(step, typ, summary, callID string) Event {
	return New(SystemMessage, map[string]any{
		"step": step,
		"type": typ,
		"details": map[string]any{
			"summary": summary,
			"call_id": callID,
		},
	})
}

// LLMSystemMessageEvent is a system_message carrying per-call token accounting.
func LLMSystemMessageEvent(step, summary, callID string, inputTokens, outputTokens int, costUSD float64, planningPhase string) Event {
	details := map[string]any{
		"summary":       summary,
		"call_id":       callID,
		"input_tokens":  inputTokens,
		"output_tokens": outputTokens,
		"cost_usd":      costUSD,
	}
	if planningPhase != "" {
		details["planning_phase"] = planningPhase
	}
	return New(SystemMessage, map[string]any{
		"step":    step,
		"type":    "llm_call",
		"details": details,
	})
}

// PlanGeneratedEvent carries the post-rewrite plan phases.
func PlanGeneratedEvent(phases []map[string]any, executionDepth int) Event {
	return New(PlanGenerated, map[string]any{
		"step":     "planning",
		"type":     "plan",
		"details":  phases,
		"metadata": map[string]any{"execution_depth": executionDepth},
	})
}

// PhaseStartEvent marks the beginning of one plan phase.
func PhaseStartEvent(phaseNum, totalPhases int, goal string, phaseDetails map[string]any, executionDepth int) Event {
	return New(PhaseStart, map[string]any{
		"step": "execution",
		"type": "phase",
		"details": map[string]any{
			"phase_num":       phaseNum,
			"total_phases":    totalPhases,
			"goal":            goal,
			"phase_details":   phaseDetails,
			"execution_depth": executionDepth,
			"status":          "running",
		},
	})
}

// PhaseEndEvent marks phase completion; status is completed, skipped, or error.
func PhaseEndEvent(phaseNum, totalPhases int, goal, status string, executionDepth int) Event {
	return New(PhaseEnd, map[string]any{
		"step": "execution",
		"type": "phase",
		"details": map[string]any{
			"phase_num":       phaseNum,
			"total_phases":    totalPhases,
			"goal":            goal,
			"phase_details":   map[string]any{},
			"execution_depth": executionDepth,
			"status":          status,
		},
	})
}

// ToolIntentEvent announces an imminent tool call.
func ToolIntentEvent(toolName string, args map[string]any) Event {
	return New(ToolIntent, map[string]any{
		"step":      "execution",
		"tool_name": toolName,
		"details":   map[string]any{"arguments": args},
	})
}

// ToolResultEvent reports a successful tool call.
func ToolResultEvent(toolName string, details map[string]any) Event {
	return New(ToolResult, map[string]any{
		"step":      "execution",
		"tool_name": toolName,
		"details":   details,
	})
}

// ToolErrorEvent reports a failed tool call.
func ToolErrorEvent(toolName, errorMessage string) Event {
	return New(ToolError, map[string]any{
		"step":      "execution",
		"tool_name": toolName,
		"details":   map[string]any{"error": errorMessage},
	})
}

// TokenUpdateEvent reports per-statement and cumulative token counts.
func TokenUpdateEvent(statementInput, statementOutput, turnInput, turnOutput, totalInput, totalOutput int, callID string, costUSD float64, planningPhase string) Event {
	data := map[string]any{
		"statement_input":  statementInput,
		"statement_output": statementOutput,
		"turn_input":       turnInput,
		"turn_output":      turnOutput,
		"total_input":      totalInput,
		"total_output":     totalOutput,
		"call_id":          callID,
		"cost_usd":         costUSD,
	}
	if planningPhase != "" {
		data["planning_phase"] = planningPhase
	}
	return New(TokenUpdate, data)
}

// StatusIndicatorEvent drives the UI busy lights. Target is llm, db, or
// context; state is busy, idle, or processing_complete.
func StatusIndicatorEvent(target, state string) Event {
	return New(StatusIndicatorUpdate, map[string]any{
		"target": target,
		"state":  state,
	})
}

// NotificationEvent carries out-of-band notices such as session_model_update
// or profile_override_failed.
func NotificationEvent(typ string, payload map[string]any) Event {
	return New(Notification, map[string]any{
		"type":    typ,
		"payload": payload,
	})
}

// SessionNameUpdateEvent announces an auto-generated session name.
func SessionNameUpdateEvent(sessionID, newName string) Event {
	return New(SessionNameUpdate, map[string]any{
		"session_id": sessionID,
		"newName":    newName,
	})
}

// FinalAnswerEvent carries the terminal answer of a successful turn. Source
// names where the answer came from: a knowledge collection for rag turns,
// "execution" otherwise.
func FinalAnswerEvent(answerText, turnID, sessionID, source string, isSessionPrimer bool, turnInput, turnOutput int) Event {
	return New(FinalAnswer, map[string]any{
		"final_answer":       answerText,
		"final_answer_text":  answerText,
		"turn_id":            turnID,
		"session_id":         sessionID,
		"source":             source,
		"is_session_primer":  isSessionPrimer,
		"turn_input_tokens":  turnInput,
		"turn_output_tokens": turnOutput,
	})
}

// ErrorTerminalEvent is the user-visible terminal badge for a failed turn.
func ErrorTerminalEvent(turnID, sessionID, message string) Event {
	return New(ErrorEvent, map[string]any{
		"turn_id":    turnID,
		"session_id": sessionID,
		"error":      message,
	})
}

// lifecycle assembles the shared execution_* payload.
func lifecycle(name Name, turnID, sessionID, profileType, profileTag, status string, totalInput, totalOutput int, costUSD float64, durationMS int64, success bool) Event {
	return New(name, map[string]any{
		"turn_id":             turnID,
		"session_id":          sessionID,
		"profile_type":        profileType,
		"profile_tag":         profileTag,
		"status":              status,
		"total_input_tokens":  totalInput,
		"total_output_tokens": totalOutput,
		"cost_usd":            costUSD,
		"duration_ms":         durationMS,
		"success":             success,
	})
}

// ExecutionCompleteEvent closes a successful turn's event stream.
func ExecutionCompleteEvent(turnID, sessionID, profileType, profileTag, status string, totalInput, totalOutput int, costUSD float64, durationMS int64) Event {
	return lifecycle(ExecutionComplete, turnID, sessionID, profileType, profileTag, status, totalInput, totalOutput, costUSD, durationMS, true)
}

// ExecutionErrorEvent closes a failed turn's event stream.
func ExecutionErrorEvent(turnID, sessionID, profileType, profileTag string, totalInput, totalOutput int, costUSD float64, durationMS int64, message string) Event {
	ev := lifecycle(ExecutionError, turnID, sessionID, profileType, profileTag, "error", totalInput, totalOutput, costUSD, durationMS, false)
	ev.Data["error"] = message
	return ev
}

// ExecutionCancelledEvent closes a cancelled turn's event stream.
func ExecutionCancelledEvent(turnID, sessionID, profileType, profileTag string, totalInput, totalOutput int, costUSD float64, durationMS int64) Event {
	return lifecycle(ExecutionCancelled, turnID, sessionID, profileType, profileTag, "cancelled", totalInput, totalOutput, costUSD, durationMS, false)
}
