// Package config defines the engine configuration and its loading pipeline.
//
// YAML config covers infrastructure concerns only: server address, database
// connection, logging, observability, LLM provider credentials, MCP server
// endpoints, retrieval backends, and context limits. Profiles, prompt
// versions, and model cost tables are persisted rows (see pkg/profile) and
// never live in the YAML file.
package config

import (
	"fmt"
	"os"
)

// Config is the root engine configuration.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server" json:"server"`

	// Database configures the session/profile store. The PRAXIS_DATABASE_URL
	// environment variable overrides whatever is declared here.
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Logging configures the process logger.
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Observability configures metrics and tracing.
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`

	// Providers maps a provider name to its LLM credentials and endpoint.
	// Profiles reference these names and supply the model per call channel.
	Providers map[string]*LLMProviderConfig `yaml:"providers" json:"providers"`

	// MCPServers maps a server name to its MCP transport configuration.
	MCPServers map[string]*MCPServerConfig `yaml:"mcp_servers" json:"mcp_servers"`

	// Retrieval configures the vector store and embedder for rag-focused
	// profiles.
	Retrieval RetrievalConfig `yaml:"retrieval" json:"retrieval"`

	// Limits bounds attachment and history context.
	Limits LimitsConfig `yaml:"limits" json:"limits"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Host to bind. Defaults to "0.0.0.0".
	Host string `yaml:"host" json:"host"`

	// Port to listen on. Defaults to 8080.
	Port int `yaml:"port" json:"port"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}

// Address returns the host:port listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level: debug, info, warn, error. Defaults to info.
	Level string `yaml:"level" json:"level"`

	// Format: simple or verbose. Defaults to simple.
	Format string `yaml:"format" json:"format"`

	// File redirects log output to a file when set.
	File string `yaml:"file,omitempty" json:"file,omitempty"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", c.Level)
	}
	switch c.Format {
	case "simple", "verbose":
	default:
		return fmt.Errorf("invalid log format %q (valid: simple, verbose)", c.Format)
	}
	return nil
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	// ServiceName reported on traces and metrics. Defaults to "praxis".
	ServiceName string `yaml:"service_name" json:"service_name"`

	// Metrics enables the Prometheus /metrics endpoint. Defaults to true.
	Metrics *bool `yaml:"metrics,omitempty" json:"metrics,omitempty"`

	// Tracing configures the trace exporter.
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// TracingConfig configures the trace exporter.
type TracingConfig struct {
	// Enabled turns tracing on.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Exporter: otlp or stdout. Defaults to stdout.
	Exporter string `yaml:"exporter" json:"exporter"`

	// Endpoint for the OTLP gRPC exporter (host:port).
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// Insecure disables TLS on the OTLP connection.
	Insecure bool `yaml:"insecure,omitempty" json:"insecure,omitempty"`

	// SampleRate in [0,1]. Defaults to 1.0.
	SampleRate *float64 `yaml:"sample_rate,omitempty" json:"sample_rate,omitempty"`
}

func (c *ObservabilityConfig) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "praxis"
	}
	if c.Metrics == nil {
		enabled := true
		c.Metrics = &enabled
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "stdout"
	}
	if c.Tracing.SampleRate == nil {
		rate := 1.0
		c.Tracing.SampleRate = &rate
	}
}

func (c *ObservabilityConfig) Validate() error {
	switch c.Tracing.Exporter {
	case "stdout", "otlp":
	default:
		return fmt.Errorf("invalid tracing exporter %q (valid: stdout, otlp)", c.Tracing.Exporter)
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing endpoint is required for the otlp exporter")
	}
	if c.Tracing.SampleRate != nil && (*c.Tracing.SampleRate < 0 || *c.Tracing.SampleRate > 1) {
		return fmt.Errorf("sample_rate must be between 0 and 1")
	}
	return nil
}

// MCPTransport identifies the MCP transport kind.
type MCPTransport string

const (
	MCPTransportStdio          MCPTransport = "stdio"
	MCPTransportStreamableHTTP MCPTransport = "streamable-http"
)

// MCPServerConfig configures one MCP server connection.
type MCPServerConfig struct {
	// Transport: stdio or streamable-http. Inferred from command/url when
	// omitted.
	Transport MCPTransport `yaml:"transport" json:"transport"`

	// URL of the server (streamable-http only).
	URL string `yaml:"url,omitempty" json:"url,omitempty"`

	// Command to spawn (stdio only).
	Command string `yaml:"command,omitempty" json:"command,omitempty"`

	// Args passed to the command (stdio only).
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`

	// Env passed to the command as KEY=VALUE pairs (stdio only).
	Env []string `yaml:"env,omitempty" json:"env,omitempty"`

	// Headers sent with every HTTP request (streamable-http only).
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// IncludeTools restricts discovery to the named tools when non-empty.
	IncludeTools []string `yaml:"include_tools,omitempty" json:"include_tools,omitempty"`
}

func (c *MCPServerConfig) SetDefaults() {
	if c.Transport == "" {
		if c.Command != "" {
			c.Transport = MCPTransportStdio
		} else {
			c.Transport = MCPTransportStreamableHTTP
		}
	}
}

func (c *MCPServerConfig) Validate() error {
	switch c.Transport {
	case MCPTransportStdio:
		if c.Command == "" {
			return fmt.Errorf("command is required for stdio transport")
		}
	case MCPTransportStreamableHTTP:
		if c.URL == "" {
			return fmt.Errorf("url is required for streamable-http transport")
		}
	default:
		return fmt.Errorf("invalid transport %q (valid: stdio, streamable-http)", c.Transport)
	}
	return nil
}

// RetrievalConfig configures the knowledge retrieval backends.
type RetrievalConfig struct {
	// VectorStore: chromem (embedded) or qdrant. Defaults to chromem.
	VectorStore string `yaml:"vector_store" json:"vector_store"`

	// Path for chromem file persistence. Empty keeps vectors in memory.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// Host for qdrant.
	Host string `yaml:"host,omitempty" json:"host,omitempty"`

	// Port for qdrant gRPC. Defaults to 6334.
	Port int `yaml:"port,omitempty" json:"port,omitempty"`

	// APIKey for qdrant.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// UseTLS on the qdrant connection.
	UseTLS bool `yaml:"use_tls,omitempty" json:"use_tls,omitempty"`

	// Embedder configures the embedding endpoint.
	Embedder EmbedderConfig `yaml:"embedder" json:"embedder"`

	// TopK documents returned per search. Defaults to 5.
	TopK int `yaml:"top_k,omitempty" json:"top_k,omitempty"`

	// RerankCandidates fetched before reranking down to TopK. Defaults to 15.
	RerankCandidates int `yaml:"rerank_candidates,omitempty" json:"rerank_candidates,omitempty"`
}

// EmbedderConfig configures the embedding endpoint (OpenAI-compatible API).
type EmbedderConfig struct {
	// Provider: openai or ollama.
	Provider string `yaml:"provider" json:"provider"`

	// Model name used for embeddings.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// BaseURL overrides the default endpoint.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
}

func (c *RetrievalConfig) SetDefaults() {
	if c.VectorStore == "" {
		c.VectorStore = "chromem"
	}
	if c.VectorStore == "qdrant" && c.Port == 0 {
		c.Port = 6334
	}
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.RerankCandidates == 0 {
		c.RerankCandidates = 15
	}
	if c.Embedder.Provider == "" {
		c.Embedder.Provider = "openai"
	}
	if c.Embedder.Model == "" {
		c.Embedder.Model = "text-embedding-3-small"
	}
	if c.Embedder.APIKey == "" {
		c.Embedder.APIKey = GetProviderAPIKey(c.Embedder.Provider)
	}
}

func (c *RetrievalConfig) Validate() error {
	switch c.VectorStore {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("invalid vector_store %q (valid: chromem, qdrant)", c.VectorStore)
	}
	if c.VectorStore == "qdrant" && c.Host == "" {
		return fmt.Errorf("host is required for qdrant")
	}
	return nil
}

// LimitsConfig bounds attachment and history context.
type LimitsConfig struct {
	// MaxAttachmentTokens per file before truncation. Defaults to 8000.
	MaxAttachmentTokens int `yaml:"max_attachment_tokens,omitempty" json:"max_attachment_tokens,omitempty"`

	// MaxTurnAttachmentTokens across all files in one turn. Defaults to 24000.
	MaxTurnAttachmentTokens int `yaml:"max_turn_attachment_tokens,omitempty" json:"max_turn_attachment_tokens,omitempty"`

	// MaxHistoryMessages included in conversational prompts. Defaults to 10.
	MaxHistoryMessages int `yaml:"max_history_messages,omitempty" json:"max_history_messages,omitempty"`
}

func (c *LimitsConfig) SetDefaults() {
	if c.MaxAttachmentTokens == 0 {
		c.MaxAttachmentTokens = 8000
	}
	if c.MaxTurnAttachmentTokens == 0 {
		c.MaxTurnAttachmentTokens = 24000
	}
	if c.MaxHistoryMessages == 0 {
		c.MaxHistoryMessages = 10
	}
}

// SetDefaults applies defaults across all sections.
func (c *Config) SetDefaults() {
	if c.Providers == nil {
		c.Providers = make(map[string]*LLMProviderConfig)
	}
	if c.MCPServers == nil {
		c.MCPServers = make(map[string]*MCPServerConfig)
	}
	c.Server.SetDefaults()
	c.Database.SetDefaults()
	c.Logging.SetDefaults()
	c.Observability.SetDefaults()
	c.Retrieval.SetDefaults()
	c.Limits.SetDefaults()
	for _, p := range c.Providers {
		p.SetDefaults()
	}
	for _, m := range c.MCPServers {
		m.SetDefaults()
	}
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	if err := c.Retrieval.Validate(); err != nil {
		return fmt.Errorf("retrieval: %w", err)
	}
	for name, p := range c.Providers {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("provider %q: %w", name, err)
		}
	}
	for name, m := range c.MCPServers {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("mcp server %q: %w", name, err)
		}
	}
	return nil
}

// IsProduction reports whether PRAXIS_ENV marks this process as production.
func IsProduction() bool {
	return os.Getenv("PRAXIS_ENV") == "production"
}
