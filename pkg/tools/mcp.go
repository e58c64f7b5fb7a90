package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/praxislabs/praxis/internal/httpclient"
)

const (
	mcpProtocolVersion = "2024-11-05"
	clientName         = "praxis"

	// defaultSSEResponseTimeout bounds reading one streamable-HTTP response.
	defaultSSEResponseTimeout = 5 * time.Minute
)

// MCPConfig configures one MCP server connection.
type MCPConfig struct {
	// Name identifies this source in the catalog.
	Name string

	// URL of the server for streamable-http transport.
	URL string

	// Command, Args, Env spawn a stdio server.
	Command string
	Args    []string
	Env     []string

	// Headers sent with every HTTP request.
	Headers map[string]string

	// IncludeTools restricts discovery when non-empty.
	IncludeTools []string

	// MaxRetries for HTTP requests. Defaults to 3.
	MaxRetries int

	// SSETimeout for streamable-HTTP response reading. Defaults to 5m.
	SSETimeout time.Duration
}

// MCPSource exposes one MCP server's tools and prompts as a catalog Source.
// Stdio servers ride the mcp-go client; streamable-HTTP servers use the
// retrying httpclient with mcp-session-id tracking.
type MCPSource struct {
	cfg MCPConfig

	mu         sync.Mutex
	stdio      *client.Client
	httpClient *httpclient.Client
	sessionID  string
	sessionMu  sync.RWMutex
	tools      []Tool
	prompts    []PromptInfo
	filterSet  map[string]bool
}

// NewMCPSource creates a source for cfg. The connection is established by
// Discover.
func NewMCPSource(cfg MCPConfig) (*MCPSource, error) {
	if cfg.URL == "" && cfg.Command == "" {
		return nil, fmt.Errorf("either url or command is required")
	}
	if cfg.Name == "" {
		cfg.Name = "mcp"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.SSETimeout == 0 {
		cfg.SSETimeout = defaultSSEResponseTimeout
	}

	var filterSet map[string]bool
	if len(cfg.IncludeTools) > 0 {
		filterSet = make(map[string]bool, len(cfg.IncludeTools))
		for _, name := range cfg.IncludeTools {
			filterSet[name] = true
		}
	}

	return &MCPSource{cfg: cfg, filterSet: filterSet}, nil
}

// Name returns the source name.
func (s *MCPSource) Name() string {
	return s.cfg.Name
}

// Discover connects and loads the tool and prompt catalogs.
func (s *MCPSource) Discover(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Command != "" {
		return s.discoverStdio(ctx)
	}
	return s.discoverHTTP(ctx)
}

// Tools returns the discovered tools.
func (s *MCPSource) Tools() []Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tools
}

// Prompts returns the discovered prompt descriptors.
func (s *MCPSource) Prompts() []PromptInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts
}

// PromptBody fetches a prompt's text via prompts/get.
func (s *MCPSource) PromptBody(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	stdio := s.stdio
	s.mu.Unlock()

	if stdio != nil {
		req := mcp.GetPromptRequest{}
		req.Params.Name = name
		resp, err := stdio.GetPrompt(ctx, req)
		if err != nil {
			return "", fmt.Errorf("failed to get prompt %s: %w", name, err)
		}
		var parts []string
		for _, msg := range resp.Messages {
			if text, ok := mcp.AsTextContent(msg.Content); ok {
				parts = append(parts, text.Text)
			}
		}
		return strings.Join(parts, "\n"), nil
	}

	resp, err := s.rpc(ctx, "prompts/get", map[string]any{"name": name})
	if err != nil {
		return "", fmt.Errorf("failed to get prompt %s: %w", name, err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("MCP error: %s", resp.Error.Message)
	}
	result, _ := resp.Result.(map[string]any)
	messages, _ := result["messages"].([]any)
	var parts []string
	for _, m := range messages {
		msg, _ := m.(map[string]any)
		content, _ := msg["content"].(map[string]any)
		if text, ok := content["text"].(string); ok {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// Close shuts the connection down.
func (s *MCPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdio != nil {
		err := s.stdio.Close()
		s.stdio = nil
		return err
	}
	s.httpClient = nil
	return nil
}

func (s *MCPSource) discoverStdio(ctx context.Context) error {
	mcpClient, err := client.NewStdioMCPClient(s.cfg.Command, s.cfg.Env, s.cfg.Args...)
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpProtocolVersion
	initReq.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: "1.0"}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to initialize MCP: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to list tools: %w", err)
	}

	var tools []Tool
	for _, t := range listResp.Tools {
		if s.filterSet != nil && !s.filterSet[t.Name] {
			continue
		}
		info := infoFromSchema(t.Name, t.Description, schemaToMap(t.InputSchema))
		info.Server = s.cfg.Name
		tools = append(tools, &mcpTool{info: info, source: s})
	}

	// Prompt listing is optional; servers without the capability answer
	// with an error we tolerate.
	var prompts []PromptInfo
	if promptResp, err := mcpClient.ListPrompts(ctx, mcp.ListPromptsRequest{}); err == nil {
		for _, p := range promptResp.Prompts {
			prompts = append(prompts, promptInfoFromMCP(p, s.cfg.Name))
		}
	}

	s.stdio = mcpClient
	s.tools = tools
	s.prompts = prompts

	slog.Info("Connected to MCP server (stdio)",
		"name", s.cfg.Name,
		"command", s.cfg.Command,
		"tools", len(tools),
		"prompts", len(prompts),
	)
	return nil
}

func (s *MCPSource) discoverHTTP(ctx context.Context) error {
	s.httpClient = httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		httpclient.WithMaxRetries(s.cfg.MaxRetries),
		httpclient.WithBaseDelay(2*time.Second),
	)

	initResp, err := s.rpc(ctx, "initialize", map[string]any{
		"protocolVersion": mcpProtocolVersion,
		"clientInfo":      map[string]any{"name": clientName, "version": "1.0"},
		"capabilities":    map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize MCP: %w", err)
	}
	if initResp.Error != nil {
		return fmt.Errorf("MCP init error: %s", initResp.Error.Message)
	}

	listResp, err := s.rpc(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}
	if listResp.Error != nil {
		return fmt.Errorf("MCP list error: %s", listResp.Error.Message)
	}

	resultMap, ok := listResp.Result.(map[string]any)
	if !ok {
		return fmt.Errorf("unexpected result type from tools/list")
	}
	toolsList, ok := resultMap["tools"].([]any)
	if !ok {
		return fmt.Errorf("missing tools in tools/list response")
	}

	var tools []Tool
	for _, raw := range toolsList {
		toolMap, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := toolMap["name"].(string)
		if s.filterSet != nil && !s.filterSet[name] {
			continue
		}
		desc, _ := toolMap["description"].(string)
		schema, _ := toolMap["inputSchema"].(map[string]any)
		info := infoFromSchema(name, desc, schema)
		info.Server = s.cfg.Name
		tools = append(tools, &mcpTool{info: info, source: s})
	}

	var prompts []PromptInfo
	if promptResp, err := s.rpc(ctx, "prompts/list", nil); err == nil && promptResp.Error == nil {
		if pm, ok := promptResp.Result.(map[string]any); ok {
			if list, ok := pm["prompts"].([]any); ok {
				for _, raw := range list {
					if m, ok := raw.(map[string]any); ok {
						prompts = append(prompts, promptInfoFromMap(m, s.cfg.Name))
					}
				}
			}
		}
	}

	s.tools = tools
	s.prompts = prompts

	slog.Info("Connected to MCP server (HTTP)",
		"name", s.cfg.Name,
		"url", s.cfg.URL,
		"tools", len(tools),
		"prompts", len(prompts),
	)
	return nil
}

// JSON-RPC wire types for the HTTP transport.
type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *MCPSource) rpc(ctx context.Context, method string, params any) (*jsonRPCResponse, error) {
	req := jsonRPCRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.cfg.URL, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range s.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	s.sessionMu.RLock()
	sessionID := s.sessionID
	s.sessionMu.RUnlock()
	if sessionID != "" {
		httpReq.Header.Set("mcp-session-id", sessionID)
	}

	httpResp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if newSessionID := httpResp.Header.Get("mcp-session-id"); newSessionID != "" {
		s.sessionMu.Lock()
		s.sessionID = newSessionID
		s.sessionMu.Unlock()
	}

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("HTTP error %d: %s (response: %s)", httpResp.StatusCode, httpResp.Status, string(respBody))
	}

	if strings.Contains(httpResp.Header.Get("Content-Type"), "text/event-stream") {
		return s.readSSEResponse(httpResp)
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	var resp jsonRPCResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &resp, nil
}

// readSSEResponse reads the first complete JSON-RPC message off an SSE body.
func (s *MCPSource) readSSEResponse(httpResp *http.Response) (*jsonRPCResponse, error) {
	type result struct {
		response *jsonRPCResponse
		err      error
	}
	resultChan := make(chan result, 1)

	go func() {
		defer httpResp.Body.Close()

		reader := bufio.NewReader(httpResp.Body)
		var currentData strings.Builder

		flush := func() *jsonRPCResponse {
			if currentData.Len() == 0 {
				return nil
			}
			var resp jsonRPCResponse
			if err := json.Unmarshal([]byte(currentData.String()), &resp); err == nil {
				return &resp
			}
			currentData.Reset()
			return nil
		}

		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				break
			}
			lineStr := strings.TrimSpace(string(line))
			if lineStr == "" {
				if resp := flush(); resp != nil {
					resultChan <- result{response: resp}
					return
				}
				continue
			}
			if strings.HasPrefix(lineStr, "data:") {
				currentData.WriteString(strings.TrimSpace(strings.TrimPrefix(lineStr, "data:")))
			}
		}

		if resp := flush(); resp != nil {
			resultChan <- result{response: resp}
			return
		}
		resultChan <- result{err: fmt.Errorf("SSE stream ended without complete message")}
	}()

	select {
	case res := <-resultChan:
		return res.response, res.err
	case <-time.After(s.cfg.SSETimeout):
		return nil, fmt.Errorf("timeout reading SSE response after %v", s.cfg.SSETimeout)
	}
}

// mcpTool adapts one discovered MCP tool to the Tool interface.
type mcpTool struct {
	info   ToolInfo
	source *MCPSource
}

func (t *mcpTool) Info() ToolInfo {
	return t.info
}

func (t *mcpTool) Execute(ctx context.Context, args map[string]any) (*Output, error) {
	t.source.mu.Lock()
	stdio := t.source.stdio
	t.source.mu.Unlock()

	if stdio != nil {
		return t.executeStdio(ctx, stdio, args)
	}
	return t.executeHTTP(ctx, args)
}

func (t *mcpTool) executeStdio(ctx context.Context, c *client.Client, args map[string]any) (*Output, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = t.info.Name
	req.Params.Arguments = args

	resp, err := c.CallTool(ctx, req)
	if err != nil {
		return Failure(t.info.Name, err.Error()), fmt.Errorf("MCP call failed: %w", err)
	}

	var texts []string
	for _, content := range resp.Content {
		if tc, ok := mcp.AsTextContent(content); ok {
			texts = append(texts, tc.Text)
		}
	}
	raw := strings.Join(texts, "\n")
	if resp.IsError {
		return Failure(t.info.Name, raw), nil
	}
	return t.parseBody(raw)
}

func (t *mcpTool) executeHTTP(ctx context.Context, args map[string]any) (*Output, error) {
	resp, err := t.source.rpc(ctx, "tools/call", map[string]any{
		"name":      t.info.Name,
		"arguments": args,
	})
	if err != nil {
		return Failure(t.info.Name, err.Error()), fmt.Errorf("MCP call failed: %w", err)
	}
	if resp.Error != nil {
		return Failure(t.info.Name, resp.Error.Message), nil
	}

	resultMap, ok := resp.Result.(map[string]any)
	if !ok {
		return Failure(t.info.Name, "unexpected result shape from tools/call"), nil
	}

	var texts []string
	if content, ok := resultMap["content"].([]any); ok {
		for _, c := range content {
			if cm, ok := c.(map[string]any); ok {
				if text, ok := cm["text"].(string); ok {
					texts = append(texts, text)
				}
			}
		}
	}
	raw := strings.Join(texts, "\n")
	if isError, _ := resultMap["isError"].(bool); isError {
		return Failure(t.info.Name, raw), nil
	}
	return t.parseBody(raw)
}

// parseBody converts the tool's text payload into the canonical output.
// Tools that answer with the {status, metadata, results} envelope pass
// through; anything else becomes a single-row text result.
func (t *mcpTool) parseBody(raw string) (*Output, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if out, err := ParseOutput([]byte(trimmed)); err == nil {
			if out.Metadata == nil {
				out.Metadata = map[string]any{}
			}
			if _, ok := out.Metadata["tool_name"]; !ok {
				out.Metadata["tool_name"] = t.info.Name
			}
			return out, nil
		}
	}
	return TextSuccess(t.info.Name, trimmed), nil
}

// infoFromSchema builds the typed descriptor from a JSON-schema map.
// The praxis server annotates tools with x-scope and x-sql-optimizable on
// the schema root; both are optional.
func infoFromSchema(name, description string, schema map[string]any) ToolInfo {
	info := ToolInfo{Name: name, Description: description}
	if schema == nil {
		return info
	}
	if scope, ok := schema["x-scope"].(string); ok {
		info.Scope = scope
	}
	if opt, ok := schema["x-sql-optimizable"].(bool); ok {
		info.SQLOptimizable = opt
	}

	required := map[string]bool{}
	if req, ok := schema["required"].([]any); ok {
		for _, r := range req {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	names := make([]string, 0, len(properties))
	for paramName := range properties {
		names = append(names, paramName)
	}
	// Map order is random; sort for a stable catalog.
	sort.Strings(names)

	for _, paramName := range names {
		param, ok := properties[paramName].(map[string]any)
		if !ok {
			continue
		}
		tp := ToolParameter{
			Name:     paramName,
			Required: required[paramName],
		}
		tp.Type, _ = param["type"].(string)
		tp.Description, _ = param["description"].(string)
		if enum, ok := param["enum"].([]any); ok {
			for _, v := range enum {
				if s, ok := v.(string); ok {
					tp.Enum = append(tp.Enum, s)
				}
			}
		}
		if def, ok := param["default"]; ok {
			tp.Default = def
		}
		if format, _ := param["format"].(string); format != "" {
			tp.Description += fmt.Sprintf(" (format: %s)", format)
		}
		info.Parameters = append(info.Parameters, tp)
	}
	return info
}

func promptInfoFromMCP(p mcp.Prompt, server string) PromptInfo {
	info := PromptInfo{Name: p.Name, Description: p.Description, Server: server}
	for _, arg := range p.Arguments {
		info.Arguments = append(info.Arguments, ToolParameter{
			Name:        arg.Name,
			Type:        "string",
			Description: arg.Description,
			Required:    arg.Required,
		})
	}
	return info
}

func promptInfoFromMap(m map[string]any, server string) PromptInfo {
	info := PromptInfo{Server: server}
	info.Name, _ = m["name"].(string)
	info.Description, _ = m["description"].(string)
	if args, ok := m["arguments"].([]any); ok {
		for _, raw := range args {
			if arg, ok := raw.(map[string]any); ok {
				tp := ToolParameter{Type: "string"}
				tp.Name, _ = arg["name"].(string)
				tp.Description, _ = arg["description"].(string)
				tp.Required, _ = arg["required"].(bool)
				info.Arguments = append(info.Arguments, tp)
			}
		}
	}
	return info
}

// schemaToMap flattens the mcp-go schema type into a plain map.
func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

var _ Source = (*MCPSource)(nil)
var _ Tool = (*mcpTool)(nil)
