// Package planner turns a user request into a normalised, validated,
// rewritten meta-plan via the strategic LM channel.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/praxislabs/praxis/pkg/events"
	"github.com/praxislabs/praxis/pkg/llms"
	"github.com/praxislabs/praxis/pkg/plan"
	"github.com/praxislabs/praxis/pkg/tools"
)

// Caller performs accounted LM calls. The executor implements it so every
// planning call lands in the turn's token and cost totals.
type Caller interface {
	// CallStrategic runs req on the strategic channel; purpose tags the
	// call for accounting events.
	CallStrategic(ctx context.Context, purpose string, req llms.Request) (*llms.Response, error)
}

// ParseError marks a malformed planning response. Callers that support
// replanning catch it and retry; others surface a user-visible failure.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable planning response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err wraps a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// HistoryTurn is one sanitised previous turn: what was asked, what was
// answered, which tools ran. UI-only payloads (charts, status indicators)
// are stripped before the turn reaches the planner.
type HistoryTurn struct {
	Query    string
	Response string
	Tools    []string
}

// FewShotExample is a retrieved plan example the LM should adapt.
type FewShotExample struct {
	Query string
	Plan  string
}

// Inputs parameterises one planning run.
type Inputs struct {
	UserQuery    string
	PromptName   string
	PromptBody   string
	PromptParams map[string]any

	History   []HistoryTurn
	Knowledge string
	FewShot   []FewShotExample

	PreviousTurn   *plan.PreviousTurn
	State          *plan.State
	ExecutionDepth int
	SubProcess     bool
}

// Goal returns the workflow goal: the active prompt's body when one is
// supplied, otherwise the user query.
func (in Inputs) Goal() string {
	if in.PromptBody != "" {
		return in.PromptBody
	}
	return in.UserQuery
}

// Result is a finished planning run: the executable plan plus the raw
// pre-rewrite plan kept for audit.
type Result struct {
	Plan    *plan.Plan
	RawPlan []map[string]any
}

// Planner builds the planning prompt, calls the strategic channel, parses
// the response, and runs the normalise/rewrite pipeline.
type Planner struct {
	caller     Caller
	catalog    *tools.Catalog
	normalizer *plan.Normalizer
	rewriter   *plan.Rewriter
	system     string
	sink       events.Sink
	logger     *slog.Logger
}

// New builds a planner. system is the profile-resolved planning system
// prompt; empty selects the built-in default.
func New(caller Caller, catalog *tools.Catalog, rewriter *plan.Rewriter, system string, sink events.Sink, logger *slog.Logger) *Planner {
	if system == "" {
		system = defaultSystemPrompt
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		caller:     caller,
		catalog:    catalog,
		normalizer: plan.NewNormalizer(logger),
		rewriter:   rewriter,
		system:     system,
		sink:       sink,
		logger:     logger,
	}
}

// Plan runs one planning pass.
func (p *Planner) Plan(ctx context.Context, in Inputs) (*Result, error) {
	prompt := p.buildPrompt(in)

	p.sink.Emit(ctx, events.SystemMessageEvent("planning", "progress", "plan generation started", ""))
	resp, err := p.caller.CallStrategic(ctx, "plan_generation", llms.Request{
		System:   p.system,
		Messages: []llms.Message{{Role: llms.RoleUser, Content: prompt}},
		JSONMode: true,
	})
	if err != nil {
		p.sink.Emit(ctx, events.SystemMessageEvent("planning", "error", "plan generation failed", ""))
		return nil, fmt.Errorf("strategic planning call failed: %w", err)
	}

	parsed, err := plan.Parse(resp.Text)
	if err != nil {
		p.sink.Emit(ctx, events.SystemMessageEvent("planning", "error", "plan generation failed", ""))
		return nil, &ParseError{Raw: resp.Text, Err: err}
	}

	if parsed.Conversational {
		p.sink.Emit(ctx, events.SystemMessageEvent("planning", "progress", "plan generation complete", ""))
		return &Result{Plan: parsed}, nil
	}

	parsed.Renumber()
	raw := parsed.Clone().AsMaps()

	p.normalizer.Normalize(parsed)
	parsed = p.rewriter.Rewrite(ctx, parsed, plan.RewriteContext{
		UserQuery:        in.UserQuery,
		KnowledgeContext: in.Knowledge,
		PreviousTurn:     in.PreviousTurn,
		State:            in.State,
		SQLConsolidation: p.catalog.HasSQLOptimizable(),
		PromptFlow:       in.PromptName != "",
		SubProcess:       in.SubProcess,
	})

	p.logger.Info("plan generated",
		"phases", parsed.Len(),
		"execution_depth", in.ExecutionDepth,
		"prompt_flow", in.PromptName != "")
	p.sink.Emit(ctx, events.PlanGeneratedEvent(parsed.AsMaps(), in.ExecutionDepth))
	p.sink.Emit(ctx, events.SystemMessageEvent("planning", "progress", "plan generation complete", ""))

	return &Result{Plan: parsed, RawPlan: raw}, nil
}
