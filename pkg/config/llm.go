package config

import (
	"fmt"
	"os"
)

// LLMProviderType identifies the LLM provider type.
type LLMProviderType string

const (
	ProviderAnthropic LLMProviderType = "anthropic"
	ProviderOpenAI    LLMProviderType = "openai"
	ProviderGemini    LLMProviderType = "gemini"
	ProviderOllama    LLMProviderType = "ollama"
)

// LLMProviderConfig configures one LLM provider endpoint. Model selection
// happens per call channel: a profile pins a strategic and a tactical model;
// DefaultModel only covers profiles that do not.
type LLMProviderConfig struct {
	// Type of provider (anthropic, openai, gemini, ollama).
	Type LLMProviderType `yaml:"type" json:"type"`

	// APIKey for authentication. Supports ${VAR} expansion; falls back to
	// the provider's conventional environment variable.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// DefaultModel used when a profile does not pin one.
	DefaultModel string `yaml:"default_model,omitempty" json:"default_model,omitempty"`

	// Temperature for generation. Defaults to 0.7.
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`

	// MaxTokens limits response length. Defaults to 4096.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`

	// Timeout in seconds for a single API call. Defaults to 120.
	Timeout int `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// MaxRetries for rate-limited or failing calls. Defaults to 5.
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`

	// RetryDelay base delay in seconds between retries. Defaults to 2.
	RetryDelay int `yaml:"retry_delay,omitempty" json:"retry_delay,omitempty"`

	// TLS options for self-hosted endpoints.
	TLS *TLSConfig `yaml:"tls,omitempty" json:"tls,omitempty"`
}

// TLSConfig holds TLS options for HTTPS endpoints.
type TLSConfig struct {
	// InsecureSkipVerify skips certificate verification (dev/test only).
	InsecureSkipVerify bool `yaml:"insecure_skip_verify,omitempty" json:"insecure_skip_verify,omitempty"`

	// CACertificate is a path to a custom CA bundle.
	CACertificate string `yaml:"ca_certificate,omitempty" json:"ca_certificate,omitempty"`
}

func (c *LLMProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = detectProviderFromEnv()
	}
	if c.APIKey == "" {
		c.APIKey = GetProviderAPIKey(string(c.Type))
	}
	if c.DefaultModel == "" {
		switch c.Type {
		case ProviderAnthropic:
			c.DefaultModel = "claude-sonnet-4-20250514"
		case ProviderOpenAI:
			c.DefaultModel = "gpt-4o"
		case ProviderGemini:
			c.DefaultModel = "gemini-2.0-flash"
		case ProviderOllama:
			c.DefaultModel = "llama3.2"
		}
	}
	if c.Temperature == nil {
		temp := 0.7
		c.Temperature = &temp
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout == 0 {
		c.Timeout = 120
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 2
	}
}

func (c *LLMProviderConfig) Validate() error {
	switch c.Type {
	case ProviderAnthropic, ProviderOpenAI, ProviderGemini, ProviderOllama:
	default:
		return fmt.Errorf("invalid provider type %q (valid: anthropic, openai, gemini, ollama)", c.Type)
	}
	// Ollama is local and keyless.
	if c.Type != ProviderOllama && c.APIKey == "" {
		return fmt.Errorf("api_key is required for provider %q", c.Type)
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be positive")
	}
	return nil
}

// detectProviderFromEnv picks a provider type from whichever conventional
// API key variable is set, preferring Anthropic.
func detectProviderFromEnv() LLMProviderType {
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return ProviderAnthropic
	}
	if os.Getenv("OPENAI_API_KEY") != "" {
		return ProviderOpenAI
	}
	if os.Getenv("GEMINI_API_KEY") != "" || os.Getenv("GOOGLE_API_KEY") != "" {
		return ProviderGemini
	}
	return ProviderOllama
}
