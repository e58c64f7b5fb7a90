package llms

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/praxislabs/praxis/pkg/config"
)

// GeminiProvider wraps the official genai SDK.
type GeminiProvider struct {
	cfg    *config.LLMProviderConfig
	client *genai.Client
}

// NewGeminiProvider builds a provider from config.
func NewGeminiProvider(cfg *config.LLMProviderConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{cfg: cfg, client: client}, nil
}

func (p *GeminiProvider) Provider() string { return "gemini" }

func (p *GeminiProvider) Model() string { return p.cfg.DefaultModel }

func (p *GeminiProvider) SupportsNativeDocuments() bool {
	return true
}

func (p *GeminiProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}

	contents := p.buildContents(req.Messages)

	genCfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		genCfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.Temperature != nil {
		genCfg.Temperature = genai.Ptr(float32(*req.Temperature))
	} else if p.cfg.Temperature != nil {
		genCfg.Temperature = genai.Ptr(float32(*p.cfg.Temperature))
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}
	if maxTokens > 0 {
		genCfg.MaxOutputTokens = int32(maxTokens)
	}
	if req.JSONMode {
		genCfg.ResponseMIMEType = "application/json"
	}

	genResp, err := p.client.Models.GenerateContent(ctx, model, contents, genCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate failed: %w", err)
	}
	if len(genResp.Candidates) == 0 {
		return nil, fmt.Errorf("empty response from Gemini")
	}

	var text strings.Builder
	if content := genResp.Candidates[0].Content; content != nil {
		for _, part := range content.Parts {
			if part.Text != "" && !part.Thought {
				text.WriteString(part.Text)
			}
		}
	}

	resp := &Response{Text: text.String(), Model: model}
	if genResp.UsageMetadata != nil {
		resp.Usage = Usage{
			InputTokens:  int(genResp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(genResp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return resp, nil
}

func (p *GeminiProvider) buildContents(messages []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		var parts []*genai.Part
		if len(m.Parts) == 0 {
			parts = []*genai.Part{{Text: m.Content}}
		} else {
			for _, part := range m.Parts {
				switch part.Type {
				case PartImageBase64, PartDocBase64:
					parts = append(parts, &genai.Part{
						InlineData: &genai.Blob{
							MIMEType: part.MediaType,
							Data:     []byte(part.Data),
						},
					})
				default:
					parts = append(parts, &genai.Part{Text: part.Text})
				}
			}
		}
		contents = append(contents, &genai.Content{Role: string(role), Parts: parts})
	}
	return contents
}

var _ LLM = (*GeminiProvider)(nil)
