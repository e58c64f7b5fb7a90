package tools

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Catalog is the active tool/prompt surface for one turn. Profile overrides
// produce a restricted view with Restrict rather than mutating shared state,
// so nothing needs restoring at turn end.
type Catalog struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	order   []string
	prompts map[string]PromptInfo
	porder  []string
	sources map[string]Source
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		tools:   make(map[string]Tool),
		prompts: make(map[string]PromptInfo),
		sources: make(map[string]Source),
	}
}

// AddSource discovers the source and folds its tools and prompts in.
// Name collisions keep the first registration.
func (c *Catalog) AddSource(ctx context.Context, src Source) error {
	if err := src.Discover(ctx); err != nil {
		return fmt.Errorf("failed to discover source %s: %w", src.Name(), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sources[src.Name()] = src
	for _, tool := range src.Tools() {
		name := tool.Info().Name
		if _, exists := c.tools[name]; exists {
			continue
		}
		c.tools[name] = tool
		c.order = append(c.order, name)
	}
	for _, prompt := range src.Prompts() {
		if _, exists := c.prompts[prompt.Name]; exists {
			continue
		}
		c.prompts[prompt.Name] = prompt
		c.porder = append(c.porder, prompt.Name)
	}
	return nil
}

// AddTool registers a single tool (component tools use this).
func (c *Catalog) AddTool(tool Tool) error {
	name := tool.Info().Name
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	c.tools[name] = tool
	c.order = append(c.order, name)
	return nil
}

// Get returns a tool by name.
func (c *Catalog) Get(name string) (Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tool, ok := c.tools[name]
	return tool, ok
}

// Info returns the descriptor of a tool by name.
func (c *Catalog) Info(name string) (ToolInfo, bool) {
	tool, ok := c.Get(name)
	if !ok {
		return ToolInfo{}, false
	}
	return tool.Info(), true
}

// List returns tool descriptors in registration order.
func (c *Catalog) List() []ToolInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ToolInfo, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.tools[name].Info())
	}
	return out
}

// ListPrompts returns prompt descriptors in registration order.
func (c *Catalog) ListPrompts() []PromptInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]PromptInfo, 0, len(c.porder))
	for _, name := range c.porder {
		out = append(out, c.prompts[name])
	}
	return out
}

// IsTool reports whether name is a registered tool.
func (c *Catalog) IsTool(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// IsPrompt reports whether name is a registered prompt.
func (c *Catalog) IsPrompt(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.prompts[name]
	return ok
}

// Prompt returns a prompt descriptor by name.
func (c *Catalog) Prompt(name string) (PromptInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prompts[name]
	return p, ok
}

// PromptBody loads a prompt's text from the source that declared it.
func (c *Catalog) PromptBody(ctx context.Context, name string) (string, error) {
	c.mu.RLock()
	prompt, ok := c.prompts[name]
	src := c.sources[prompt.Server]
	c.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("prompt %q not found", name)
	}
	if src == nil {
		return "", fmt.Errorf("prompt %q has no backing source", name)
	}
	return src.PromptBody(ctx, name)
}

// Invoke validates args against the tool's declared schema and executes it.
// Validation failures never reach Execute: the wrapped error text feeds the
// correction loop.
func (c *Catalog) Invoke(ctx context.Context, name string, args map[string]any) (*Output, error) {
	tool, ok := c.Get(name)
	if !ok {
		return Failure(name, fmt.Sprintf("tool %q not found", name)), fmt.Errorf("tool %q not found", name)
	}
	if err := ValidateArgs(tool.Info(), args); err != nil {
		return Failure(name, err.Error()), err
	}
	return tool.Execute(ctx, args)
}

// Restrict returns a filtered view keeping only the named tools and prompts.
// Empty filters keep everything for that kind. The view shares sources with
// the parent; the parent is never modified.
func (c *Catalog) Restrict(toolNames, promptNames []string) *Catalog {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keepTool := toSet(toolNames)
	keepPrompt := toSet(promptNames)

	view := NewCatalog()
	for name, src := range c.sources {
		view.sources[name] = src
	}
	for _, name := range c.order {
		if keepTool != nil && !keepTool[name] {
			continue
		}
		view.tools[name] = c.tools[name]
		view.order = append(view.order, name)
	}
	for _, name := range c.porder {
		if keepPrompt != nil && !keepPrompt[name] {
			continue
		}
		view.prompts[name] = c.prompts[name]
		view.porder = append(view.porder, name)
	}
	return view
}

// HasSQLOptimizable reports whether any tool or prompt is marked for the SQL
// consolidation rewrite.
func (c *Catalog) HasSQLOptimizable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, name := range c.order {
		if c.tools[name].Info().SQLOptimizable {
			return true
		}
	}
	for _, name := range c.porder {
		if c.prompts[name].SQLOptimizable {
			return true
		}
	}
	return false
}

// Close shuts down every source that holds a connection or subprocess.
// Restricted views share sources with their parent; close only the parent.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, src := range c.sources {
		if closer, ok := src.(io.Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func toSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
