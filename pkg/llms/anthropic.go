package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/praxislabs/praxis/internal/httpclient"
	"github.com/praxislabs/praxis/pkg/config"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion        = "2023-06-01"
)

// AnthropicProvider speaks the messages API.
type AnthropicProvider struct {
	cfg        *config.LLMProviderConfig
	baseURL    string
	httpClient *httpclient.Client
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicContentBlock struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicResponse struct {
	Model   string                  `json:"model"`
	Content []anthropicContentBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewAnthropicProvider builds a provider from config.
func NewAnthropicProvider(cfg *config.LLMProviderConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
		httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
	)

	return &AnthropicProvider{
		cfg:        cfg,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: client,
	}, nil
}

func (p *AnthropicProvider) Provider() string { return "anthropic" }

func (p *AnthropicProvider) Model() string { return p.cfg.DefaultModel }

func (p *AnthropicProvider) SupportsNativeDocuments() bool {
	// The messages API accepts PDF document blocks and images natively.
	return true
}

func (p *AnthropicProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}

	body := anthropicRequest{
		Model:     model,
		System:    req.System,
		Messages:  p.buildMessages(req.Messages),
		MaxTokens: maxTokens,
	}
	if req.Temperature != nil {
		body.Temperature = req.Temperature
	} else if p.cfg.Temperature != nil {
		body.Temperature = p.cfg.Temperature
	}
	// The messages API has no JSON response mode; JSONMode callers carry
	// the instruction in their prompts and the parser extracts the object.

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("anthropic API error: %s", resp.Error.Message)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &Response{
		Text:  text.String(),
		Model: model,
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}, nil
}

func (p *AnthropicProvider) buildMessages(messages []Message) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		if len(m.Parts) == 0 {
			out = append(out, anthropicMessage{Role: m.Role, Content: m.Content})
			continue
		}
		blocks := make([]anthropicContentBlock, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch part.Type {
			case PartImageBase64:
				blocks = append(blocks, anthropicContentBlock{
					Type: "image",
					Source: &anthropicSource{
						Type:      "base64",
						MediaType: part.MediaType,
						Data:      part.Data,
					},
				})
			case PartDocBase64:
				blocks = append(blocks, anthropicContentBlock{
					Type: "document",
					Source: &anthropicSource{
						Type:      "base64",
						MediaType: part.MediaType,
						Data:      part.Data,
					},
				})
			default:
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: part.Text})
			}
		}
		out = append(out, anthropicMessage{Role: m.Role, Content: blocks})
	}
	return out
}

var _ LLM = (*AnthropicProvider)(nil)
