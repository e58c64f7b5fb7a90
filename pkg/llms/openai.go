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

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider speaks the chat-completions API. Ollama rides the same
// surface through its OpenAI-compatible endpoint.
type OpenAIProvider struct {
	cfg          *config.LLMProviderConfig
	providerName string
	baseURL      string
	httpClient   *httpclient.Client
}

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	MaxTokens      *int                  `json:"max_tokens,omitempty"`
	Temperature    float64               `json:"temperature"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewOpenAIProvider builds a provider from config. providerName
// distinguishes openai from ollama for accounting.
func NewOpenAIProvider(cfg *config.LLMProviderConfig) (*OpenAIProvider, error) {
	baseURL := cfg.BaseURL
	providerName := string(cfg.Type)
	if baseURL == "" {
		switch cfg.Type {
		case config.ProviderOllama:
			baseURL = "http://localhost:11434/v1"
		default:
			baseURL = defaultOpenAIBaseURL
		}
	}

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
	)

	return &OpenAIProvider{
		cfg:          cfg,
		providerName: providerName,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   client,
	}, nil
}

func (p *OpenAIProvider) Provider() string { return p.providerName }

func (p *OpenAIProvider) Model() string { return p.cfg.DefaultModel }

func (p *OpenAIProvider) SupportsNativeDocuments() bool {
	// Chat completions accept images natively; documents go in as text.
	return false
}

func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}

	temperature := 0.7
	if p.cfg.Temperature != nil {
		temperature = *p.cfg.Temperature
	}
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	body := openAIRequest{
		Model:       model,
		Messages:    p.buildMessages(req),
		Temperature: temperature,
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}
	if maxTokens > 0 {
		body.MaxTokens = &maxTokens
	}
	if req.JSONMode {
		body.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp openAIResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s API error: %s", p.providerName, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	return &Response{
		Text:  resp.Choices[0].Message.Content,
		Model: model,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func (p *OpenAIProvider) buildMessages(req Request) []openAIMessage {
	messages := make([]openAIMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		if len(m.Parts) == 0 {
			messages = append(messages, openAIMessage{Role: m.Role, Content: m.Content})
			continue
		}
		parts := make([]openAIContentPart, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch part.Type {
			case PartImageBase64:
				parts = append(parts, openAIContentPart{
					Type: "image_url",
					ImageURL: &openAIImageURL{
						URL: fmt.Sprintf("data:%s;base64,%s", part.MediaType, part.Data),
					},
				})
			default:
				parts = append(parts, openAIContentPart{Type: "text", Text: part.Text})
			}
		}
		messages = append(messages, openAIMessage{Role: m.Role, Content: parts})
	}
	return messages
}

var _ LLM = (*OpenAIProvider)(nil)
