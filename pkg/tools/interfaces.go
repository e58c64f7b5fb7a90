// Package tools provides the typed tool/prompt catalog the engine plans
// against, with MCP-backed sources (stdio and streamable HTTP) and built-in
// component tools.
package tools

import (
	"context"
)

// ToolInfo is the normalized tool descriptor. MCP input schemas and
// component-tool reflection both collapse into this record once, when the
// catalog is loaded; nothing downstream re-parses JSON schema.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters,omitempty"`

	// Scope declares what one invocation covers: database, table, or
	// column. Column-scoped tools missing a column_name trigger the
	// column-iteration orchestrator.
	Scope string `json:"scope,omitempty"`

	// Server names the source this tool came from.
	Server string `json:"server,omitempty"`

	// SQLOptimizable marks SQL-reading tools eligible for consolidation.
	SQLOptimizable bool `json:"sql_optimizable,omitempty"`
}

// ToolParameter describes one argument in a tool's signature.
type ToolParameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// Parameter looks up a parameter by exact name.
func (t ToolInfo) Parameter(name string) (ToolParameter, bool) {
	for _, p := range t.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ToolParameter{}, false
}

// HasParameter reports whether the signature declares name.
func (t ToolInfo) HasParameter(name string) bool {
	_, ok := t.Parameter(name)
	return ok
}

// RequiredParameters returns the required subset in declaration order.
func (t ToolInfo) RequiredParameters() []ToolParameter {
	var out []ToolParameter
	for _, p := range t.Parameters {
		if p.Required {
			out = append(out, p)
		}
	}
	return out
}

// ParameterNames returns every declared parameter name in order.
func (t ToolInfo) ParameterNames() []string {
	names := make([]string, 0, len(t.Parameters))
	for _, p := range t.Parameters {
		names = append(names, p.Name)
	}
	return names
}

// PromptInfo describes a prompt-library entry exposed over the protocol.
// Prompts dispatch to a sub-executor rather than a tool call.
type PromptInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Arguments   []ToolParameter `json:"arguments,omitempty"`
	Server      string          `json:"server,omitempty"`

	// SQLOptimizable marks SQL-flavoured prompts for the consolidation
	// rewrite.
	SQLOptimizable bool `json:"sql_optimizable,omitempty"`
}

// Tool is an invokable capability.
type Tool interface {
	Info() ToolInfo
	Execute(ctx context.Context, args map[string]any) (*Output, error)
}

// Source discovers tools and prompts from one backend (an MCP server or the
// built-in component set).
type Source interface {
	Name() string
	Discover(ctx context.Context) error
	Tools() []Tool
	Prompts() []PromptInfo
	// PromptBody loads the full text of a prompt for sub-executor dispatch.
	PromptBody(ctx context.Context, name string) (string, error)
}
