package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTool struct {
	info ToolInfo
}

func (s staticTool) Info() ToolInfo { return s.info }

func (s staticTool) Execute(_ context.Context, args map[string]any) (*Output, error) {
	return Success(s.info.Name, []map[string]any{{"echo": args["value"]}}), nil
}

type staticSource struct {
	name    string
	tools   []Tool
	prompts []PromptInfo
}

func (s staticSource) Name() string                   { return s.name }
func (s staticSource) Discover(context.Context) error { return nil }
func (s staticSource) Tools() []Tool                  { return s.tools }
func (s staticSource) Prompts() []PromptInfo          { return s.prompts }

func (s staticSource) PromptBody(_ context.Context, name string) (string, error) {
	return "body of " + name, nil
}

func newPopulatedCatalog(t *testing.T) *Catalog {
	t.Helper()
	c := NewCatalog()
	err := c.AddSource(context.Background(), staticSource{
		name: "db",
		tools: []Tool{
			staticTool{info: ToolInfo{Name: "base_tableList", Server: "db", SQLOptimizable: true}},
			staticTool{info: ToolInfo{Name: "base_tableDescription", Server: "db", Scope: "table"}},
		},
		prompts: []PromptInfo{
			{Name: "revenue_report", Server: "db"},
		},
	})
	require.NoError(t, err)
	return c
}

func TestCatalogListKeepsRegistrationOrder(t *testing.T) {
	c := newPopulatedCatalog(t)
	require.NoError(t, c.AddTool(staticTool{info: ToolInfo{Name: "CurrentDate"}}))

	var names []string
	for _, info := range c.List() {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"base_tableList", "base_tableDescription", "CurrentDate"}, names)
}

func TestCatalogCollisionsKeepFirstRegistration(t *testing.T) {
	c := newPopulatedCatalog(t)
	err := c.AddSource(context.Background(), staticSource{
		name: "other",
		tools: []Tool{
			staticTool{info: ToolInfo{Name: "base_tableList", Server: "other"}},
		},
	})
	require.NoError(t, err)

	info, ok := c.Info("base_tableList")
	require.True(t, ok)
	assert.Equal(t, "db", info.Server)
	assert.Len(t, c.List(), 2)
}

func TestCatalogRestrictLeavesParentIntact(t *testing.T) {
	c := newPopulatedCatalog(t)

	view := c.Restrict([]string{"base_tableDescription"}, nil)
	assert.Len(t, view.List(), 1)
	assert.True(t, view.IsPrompt("revenue_report"))
	assert.False(t, view.IsTool("base_tableList"))

	// Prompts restricted, tools untouched.
	view = c.Restrict(nil, []string{"nonexistent"})
	assert.Len(t, view.List(), 2)
	assert.Empty(t, view.ListPrompts())

	assert.Len(t, c.List(), 2)
	assert.True(t, c.IsPrompt("revenue_report"))
}

func TestCatalogRestrictedViewResolvesPromptBodies(t *testing.T) {
	c := newPopulatedCatalog(t)
	view := c.Restrict(nil, []string{"revenue_report"})

	body, err := view.PromptBody(context.Background(), "revenue_report")
	require.NoError(t, err)
	assert.Equal(t, "body of revenue_report", body)
}

func TestCatalogInvoke(t *testing.T) {
	c := newPopulatedCatalog(t)

	out, err := c.Invoke(context.Background(), "base_tableList", map[string]any{"value": "SALES"})
	require.NoError(t, err)
	require.True(t, out.OK())
	assert.Equal(t, "SALES", out.Results[0]["echo"])

	out, err = c.Invoke(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.Equal(t, StatusError, out.Status)
}

type countingTool struct {
	info  ToolInfo
	calls int
}

func (c *countingTool) Info() ToolInfo { return c.info }

func (c *countingTool) Execute(_ context.Context, _ map[string]any) (*Output, error) {
	c.calls++
	return TextSuccess(c.info.Name, "ok"), nil
}

func TestCatalogInvokeValidatesArgs(t *testing.T) {
	c := NewCatalog()
	tool := &countingTool{info: ToolInfo{
		Name: "base_readQuery",
		Parameters: []ToolParameter{
			{Name: "query", Type: "string", Required: true},
		},
	}}
	require.NoError(t, c.AddTool(tool))

	// A missing required argument fails validation and never executes.
	out, err := c.Invoke(context.Background(), "base_readQuery", map[string]any{})
	require.Error(t, err)
	assert.Equal(t, StatusError, out.Status)
	assert.Equal(t, 0, tool.calls)

	// A wrongly typed argument fails the same way.
	out, err = c.Invoke(context.Background(), "base_readQuery", map[string]any{"query": 12})
	require.Error(t, err)
	assert.Equal(t, StatusError, out.Status)
	assert.Equal(t, 0, tool.calls)

	out, err = c.Invoke(context.Background(), "base_readQuery", map[string]any{"query": "SELECT 1"})
	require.NoError(t, err)
	assert.True(t, out.OK())
	assert.Equal(t, 1, tool.calls)
}

func TestCatalogHasSQLOptimizable(t *testing.T) {
	c := newPopulatedCatalog(t)
	assert.True(t, c.HasSQLOptimizable())

	view := c.Restrict([]string{"base_tableDescription"}, []string{"none"})
	assert.False(t, view.HasSQLOptimizable())
}
