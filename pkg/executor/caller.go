package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/praxislabs/praxis/pkg/events"
	"github.com/praxislabs/praxis/pkg/llms"
	"github.com/praxislabs/praxis/pkg/observability"
	"github.com/praxislabs/praxis/pkg/plan"
	"github.com/praxislabs/praxis/pkg/profile"
	"github.com/praxislabs/praxis/pkg/session"
)

// LM channels. Strategic handles plan generation and recovery; tactical
// handles per-phase actions, corrections, and short classification calls.
const (
	ChannelStrategic = "strategic"
	ChannelTactical  = "tactical"
)

// Accountant is the turn's single LM-call helper. Every call flows through
// it: it selects the channel's client, prices the call, emits the
// system_message and token_update events, and accumulates the turn and
// session totals atomically.
type Accountant struct {
	strategic llms.LLM
	tactical  llms.LLM
	costs     profile.CostCatalog
	store     session.Store
	sink      events.Sink
	cancelled func() bool

	userID    string
	sessionID string

	mu          sync.Mutex
	turnInput   int
	turnOutput  int
	totalInput  int
	totalOutput int
	turnCost    float64
}

// NewAccountant builds the helper for one turn. totalInput/totalOutput seed
// the session-wide counters from the loaded session.
func NewAccountant(strategic, tactical llms.LLM, costs profile.CostCatalog, store session.Store, sink events.Sink, userID, sessionID string, totalInput, totalOutput int, cancelled func() bool) *Accountant {
	if tactical == nil {
		tactical = strategic
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	if cancelled == nil {
		cancelled = func() bool { return false }
	}
	return &Accountant{
		strategic:   strategic,
		tactical:    tactical,
		costs:       costs,
		store:       store,
		sink:        sink,
		cancelled:   cancelled,
		userID:      userID,
		sessionID:   sessionID,
		totalInput:  totalInput,
		totalOutput: totalOutput,
	}
}

// CallStrategic runs req on the strategic channel.
func (a *Accountant) CallStrategic(ctx context.Context, purpose string, req llms.Request) (*llms.Response, error) {
	return a.call(ctx, ChannelStrategic, purpose, req)
}

// CallTactical runs req on the tactical channel.
func (a *Accountant) CallTactical(ctx context.Context, purpose string, req llms.Request) (*llms.Response, error) {
	return a.call(ctx, ChannelTactical, purpose, req)
}

func (a *Accountant) call(ctx context.Context, channel, purpose string, req llms.Request) (*llms.Response, error) {
	if a.cancelled() {
		return nil, &CancellationError{UserID: a.userID, SessionID: a.sessionID}
	}

	client := a.strategic
	if channel == ChannelTactical {
		client = a.tactical
	}
	if client == nil {
		return nil, fmt.Errorf("no LM client configured for %s channel", channel)
	}

	callID := uuid.NewString()
	a.sink.Emit(ctx, events.StatusIndicatorEvent("llm", "busy"))
	callStart := time.Now()
	resp, err := client.Generate(ctx, req)
	a.sink.Emit(ctx, events.StatusIndicatorEvent("llm", "idle"))
	if err != nil {
		observability.RecordLLMCall(ctx, client.Model(), channel, time.Since(callStart), 0, 0, 0, err)
		return nil, fmt.Errorf("%s call (%s) failed: %w", channel, purpose, err)
	}

	cost := 0.0
	if a.costs != nil {
		model := resp.Model
		if model == "" {
			model = client.Model()
		}
		if priced, perr := a.costs.Price(ctx, client.Provider(), model, resp.Usage.InputTokens, resp.Usage.OutputTokens); perr == nil {
			cost = priced
		}
	}
	observability.RecordLLMCall(ctx, client.Model(), channel, time.Since(callStart),
		resp.Usage.InputTokens, resp.Usage.OutputTokens, cost, nil)

	a.mu.Lock()
	a.turnInput += resp.Usage.InputTokens
	a.turnOutput += resp.Usage.OutputTokens
	a.totalInput += resp.Usage.InputTokens
	a.totalOutput += resp.Usage.OutputTokens
	a.turnCost += cost
	turnIn, turnOut := a.turnInput, a.turnOutput
	totalIn, totalOut := a.totalInput, a.totalOutput
	a.mu.Unlock()

	a.sink.Emit(ctx, events.LLMSystemMessageEvent("llm_call", purpose, callID,
		resp.Usage.InputTokens, resp.Usage.OutputTokens, cost, channel))
	a.sink.Emit(ctx, events.TokenUpdateEvent(
		resp.Usage.InputTokens, resp.Usage.OutputTokens,
		turnIn, turnOut, totalIn, totalOut, callID, cost, channel))

	if a.store != nil {
		if err := a.store.AddTokens(ctx, a.userID, a.sessionID,
			resp.Usage.InputTokens, resp.Usage.OutputTokens, cost); err != nil {
			// Accounting persistence must not fail the call; the turn record
			// still carries the totals.
			a.sink.Emit(ctx, events.NotificationEvent("accounting_error",
				map[string]any{"error": err.Error()}))
		}
	}
	return resp, nil
}

// RewriterCall adapts the tactical channel to the plan rewriter's LMCall.
func (a *Accountant) RewriterCall() plan.LMCall {
	return func(ctx context.Context, purpose, prompt string) (string, error) {
		resp, err := a.CallTactical(ctx, purpose, llms.Request{
			Messages: []llms.Message{llms.Text(llms.RoleUser, prompt)},
		})
		if err != nil {
			return "", err
		}
		return resp.Text, nil
	}
}

// TurnTokens returns the turn's accumulated input and output tokens.
func (a *Accountant) TurnTokens() (input, output int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.turnInput, a.turnOutput
}

// TurnCost returns the turn's accumulated USD cost.
func (a *Accountant) TurnCost() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.turnCost
}

// SessionTokens returns the cumulative session counters including this turn.
func (a *Accountant) SessionTokens() (input, output int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalInput, a.totalOutput
}
