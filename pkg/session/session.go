// Package session owns conversational state: sessions keyed by
// (user_id, session_id), their message history, and the immutable
// workflow-history of completed turns. The executor never mutates a session
// directly; every write goes through the Store's atomic operations.
package session

import (
	"errors"
	"time"
)

// ErrSessionNotFound is returned by reads of a session that was never
// created.
var ErrSessionNotFound = errors.New("session not found")

// Turn statuses.
const (
	StatusSuccess   = "success"
	StatusCancelled = "cancelled"
	StatusError     = "error"
)

// Message is one conversation entry. Content is the plain text fed back to
// the LM; Rich is the rendered form the UI displays (charts, tables) and is
// never sent to the LM.
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Rich      map[string]any `json:"rich,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// TraceEntry is one action-history record persisted with a turn.
type TraceEntry struct {
	Action map[string]any `json:"action"`
	Result map[string]any `json:"result"`

	PhaseNum       int `json:"phase_num"`
	ExecutionDepth int `json:"execution_depth"`
}

// Turn is the per-turn audit record. Field names follow the persisted wire
// keys exactly; turn reload and few-shot harvesting both read this shape.
type Turn struct {
	TurnID    string `json:"turn_id"`
	SessionID string `json:"session_id"`
	Number    int    `json:"turn"`

	UserQuery        string `json:"user_query"`
	FinalSummaryText string `json:"final_summary_text"`
	FinalSummaryHTML string `json:"final_summary_html,omitempty"`

	ExecutionTrace []TraceEntry     `json:"execution_trace"`
	RawLLMPlan     []map[string]any `json:"raw_llm_plan,omitempty"`
	OriginalPlan   []map[string]any `json:"original_plan,omitempty"`

	SystemEvents      []map[string]any `json:"system_events,omitempty"`
	KnowledgeEvents   []map[string]any `json:"knowledge_events,omitempty"`
	ToolEnabledEvents []map[string]any `json:"tool_enabled_events,omitempty"`

	Timestamp   time.Time `json:"timestamp"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	ProfileTag  string    `json:"profile_tag"`
	ProfileType string    `json:"profile_type"`

	TurnInputTokens  int     `json:"turn_input_tokens"`
	TurnOutputTokens int     `json:"turn_output_tokens"`
	TurnCost         float64 `json:"turn_cost"`
	SessionCostUSD   float64 `json:"session_cost_usd"`

	RAGSourceCollectionID string `json:"rag_source_collection_id,omitempty"`
	CaseID                string `json:"case_id,omitempty"`

	Status          string   `json:"status"`
	IsPartial       bool     `json:"is_partial"`
	IsSessionPrimer bool     `json:"is_session_primer,omitempty"`
	SkillsApplied   []string `json:"skills_applied,omitempty"`

	DurationMS int64 `json:"duration_ms"`
}

// Session is the durable conversational state for one (user, session) pair.
type Session struct {
	UserID string `json:"user_id"`
	ID     string `json:"session_id"`
	Name   string `json:"name,omitempty"`

	Messages []Message `json:"messages"`
	History  []Turn    `json:"workflow_history"`

	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`

	ProfileTags []string `json:"profile_tags,omitempty"`
	ModelsUsed  []string `json:"models_used,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NextTurnNumber derives the next turn number from the workflow history.
func (s *Session) NextTurnNumber() int {
	highest := 0
	for _, turn := range s.History {
		if turn.Number > highest {
			highest = turn.Number
		}
	}
	return highest + 1
}

// LastCompletedTurn returns the most recent successful, non-primer turn, for
// previous-turn data carry-forward.
func (s *Session) LastCompletedTurn() (*Turn, bool) {
	for i := len(s.History) - 1; i >= 0; i-- {
		turn := &s.History[i]
		if turn.Status == StatusSuccess && !turn.IsPartial && !turn.IsSessionPrimer {
			return turn, true
		}
	}
	return nil, false
}
