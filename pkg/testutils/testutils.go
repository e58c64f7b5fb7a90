// Package testutils provides scripted fakes shared by executor and server
// tests: an LM client that replays canned responses and a tool with
// programmable results.
package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/praxislabs/praxis/pkg/llms"
	"github.com/praxislabs/praxis/pkg/tools"
)

// FakeLLM replays scripted responses in order and errors once the script is
// exhausted, so tests notice unexpected extra calls.
type FakeLLM struct {
	mu        sync.Mutex
	provider  string
	model     string
	responses []string
	requests  []llms.Request
	err       error

	// PerCallTokens is reported as usage on every call.
	PerCallTokens llms.Usage
}

// NewFakeLLM builds a fake that replays responses in order.
func NewFakeLLM(responses ...string) *FakeLLM {
	return &FakeLLM{
		provider:      "fake",
		model:         "fake-model",
		responses:     responses,
		PerCallTokens: llms.Usage{InputTokens: 100, OutputTokens: 50},
	}
}

// Fail makes every subsequent call return err.
func (f *FakeLLM) Fail(err error) *FakeLLM {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	return f
}

func (f *FakeLLM) Provider() string              { return f.provider }
func (f *FakeLLM) Model() string                 { return f.model }
func (f *FakeLLM) SupportsNativeDocuments() bool { return false }

func (f *FakeLLM) Generate(_ context.Context, req llms.Request) (*llms.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.requests = append(f.requests, req)
	if len(f.responses) == 0 {
		return nil, fmt.Errorf("fake llm has no scripted responses")
	}
	text := f.responses[0]
	f.responses = f.responses[1:]
	return &llms.Response{Text: text, Model: f.model, Usage: f.PerCallTokens}, nil
}

// Requests returns every request seen so far.
func (f *FakeLLM) Requests() []llms.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]llms.Request, len(f.requests))
	copy(out, f.requests)
	return out
}

// Calls returns the number of Generate invocations.
func (f *FakeLLM) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// FakeTool is a catalog tool with programmable outputs. Outputs are consumed
// in order; when they run out the last one repeats. A nil output list yields
// a TextSuccess("ok") every call.
type FakeTool struct {
	mu       sync.Mutex
	ToolInfo tools.ToolInfo
	outputs  []*tools.Output
	errs     []error
	calls    []map[string]any
}

// NewFakeTool builds a tool with the given descriptor.
func NewFakeTool(info tools.ToolInfo) *FakeTool {
	return &FakeTool{ToolInfo: info}
}

// Respond queues an output (with optional error) for the next call.
func (t *FakeTool) Respond(out *tools.Output, err error) *FakeTool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outputs = append(t.outputs, out)
	t.errs = append(t.errs, err)
	return t
}

func (t *FakeTool) Info() tools.ToolInfo { return t.ToolInfo }

func (t *FakeTool) Execute(_ context.Context, args map[string]any) (*tools.Output, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, args)
	if len(t.outputs) == 0 {
		return tools.TextSuccess(t.ToolInfo.Name, "ok"), nil
	}
	out, err := t.outputs[0], t.errs[0]
	if len(t.outputs) > 1 {
		t.outputs = t.outputs[1:]
		t.errs = t.errs[1:]
	}
	return out, err
}

// Calls returns the argument maps of every invocation.
func (t *FakeTool) Calls() []map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]map[string]any, len(t.calls))
	copy(out, t.calls)
	return out
}

var _ llms.LLM = (*FakeLLM)(nil)
var _ tools.Tool = (*FakeTool)(nil)
