// Package events defines the engine's event stream: the canonical event
// names, their payload shapes, and the sinks that carry them to the HTTP
// layer and the per-turn audit trail.
//
// Components return results and emit events through an explicit Sink; no
// component mixes event emission with its return path.
package events

import (
	"context"
	"encoding/json"
	"sync"
)

// Name identifies an event on the wire. The SSE frame is
// {event: <name>, data: <json>}.
type Name string

const (
	SystemMessage              Name = "system_message"
	PlanGenerated              Name = "plan_generated"
	PhaseStart                 Name = "phase_start"
	PhaseEnd                   Name = "phase_end"
	ToolIntent                 Name = "tool_intent"
	ToolResult                 Name = "tool_result"
	ToolError                  Name = "tool_error"
	TokenUpdate                Name = "token_update"
	StatusIndicatorUpdate      Name = "status_indicator_update"
	KnowledgeRetrievalStart    Name = "knowledge_retrieval_start"
	KnowledgeRetrievalComplete Name = "knowledge_retrieval_complete"
	KnowledgeRerankingStart    Name = "knowledge_reranking_start"
	KnowledgeRerankingComplete Name = "knowledge_reranking_complete"
	RagLLMStep                 Name = "rag_llm_step"
	Notification               Name = "notification"
	FinalAnswer                Name = "final_answer"
	ExecutionStart             Name = "execution_start"
	ExecutionComplete          Name = "execution_complete"
	ExecutionError             Name = "execution_error"
	ExecutionCancelled         Name = "execution_cancelled"
	Cancelled                  Name = "cancelled"
	ErrorEvent                 Name = "error"
	SessionNameUpdate          Name = "session_name_update"
)

// Event is one entry in a turn's ordered event sequence.
type Event struct {
	Event Name           `json:"event"`
	Data  map[string]any `json:"data"`
}

// New builds an event. A nil data map is replaced with an empty one so the
// wire form is always a JSON object.
func New(name Name, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{Event: name, Data: data}
}

// MarshalData returns the event payload as JSON for the SSE data field.
func (e Event) MarshalData() ([]byte, error) {
	return json.Marshal(e.Data)
}

// Sink receives events during turn execution. Implementations must be safe
// to call from multiple goroutines.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// ChanSink forwards events to a channel. Emission blocks until the consumer
// reads or the context is done: event order matches execution order and must
// not be dropped mid-turn.
type ChanSink struct {
	ch chan<- Event
}

// NewChanSink creates a sink backed by ch.
func NewChanSink(ch chan<- Event) *ChanSink {
	return &ChanSink{ch: ch}
}

func (s *ChanSink) Emit(ctx context.Context, e Event) {
	select {
	case s.ch <- e:
	case <-ctx.Done():
	}
}

// MultiSink fans out to several sinks in order. Nil sinks are dropped.
func NewMultiSink(sinks ...Sink) *MultiSink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

type MultiSink struct {
	sinks []Sink
}

func (s *MultiSink) Emit(ctx context.Context, e Event) {
	for _, sink := range s.sinks {
		sink.Emit(ctx, e)
	}
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}

// Recorder retains emitted events in order. The executor uses one per turn
// to build the persisted audit trail; tests use it for assertions.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far, in emission order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Named returns recorded events with the given name, in emission order.
func (r *Recorder) Named(name Name) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

var (
	_ Sink = (*ChanSink)(nil)
	_ Sink = (*MultiSink)(nil)
	_ Sink = NopSink{}
	_ Sink = (*Recorder)(nil)
)
