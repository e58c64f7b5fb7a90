package attachments

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/praxislabs/praxis/pkg/events"
	"github.com/praxislabs/praxis/pkg/executor"
	"github.com/praxislabs/praxis/pkg/llms"
	"github.com/praxislabs/praxis/pkg/registry"
	"github.com/praxislabs/praxis/pkg/utils"
)

// Processor implements executor.AttachmentProcessor: native multimodal parts
// where the provider allows them, extracted and capped text otherwise.
type Processor struct {
	extractors *registry.BaseRegistry[Extractor]

	// maxFileTokens caps each file; over-cap files are truncated.
	maxFileTokens int

	// maxTurnTokens caps the whole turn; files past it are dropped.
	maxTurnTokens int

	logger *slog.Logger
}

var _ executor.AttachmentProcessor = (*Processor)(nil)

// Options configure the processor caps.
type Options struct {
	MaxFileTokens int
	MaxTurnTokens int
	Logger        *slog.Logger
}

// NewProcessor builds a processor with the built-in extractor set. Order
// matters: the text fallback registers last.
func NewProcessor(opts Options) (*Processor, error) {
	if opts.MaxFileTokens <= 0 {
		opts.MaxFileTokens = 8000
	}
	if opts.MaxTurnTokens <= 0 {
		opts.MaxTurnTokens = 24000
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	extractors := registry.NewBaseRegistry[Extractor]()
	for _, ex := range []Extractor{PDFExtractor{}, DocxExtractor{}, XlsxExtractor{}, TextExtractor{}} {
		if err := extractors.Register(ex.Name(), ex); err != nil {
			return nil, err
		}
	}
	return &Processor{
		extractors:    extractors,
		maxFileTokens: opts.MaxFileTokens,
		maxTurnTokens: opts.MaxTurnTokens,
		logger:        opts.Logger,
	}, nil
}

// Process converts the attachments. Native blocks always win for images;
// for documents the native block and the text fallback are both attached
// when the provider supports native documents.
func (p *Processor) Process(ctx context.Context, atts []executor.Attachment, nativeOK bool, sink events.Sink) (*executor.AttachmentContext, error) {
	if sink == nil {
		sink = events.NopSink{}
	}

	out := &executor.AttachmentContext{}
	turnTokens := 0
	for _, att := range atts {
		if isImage(att.MediaType) {
			if nativeOK {
				out.Parts = append(out.Parts, llms.ContentPart{
					Type:      "image",
					MediaType: att.MediaType,
					Data:      base64.StdEncoding.EncodeToString(att.Data),
				})
			} else {
				p.logger.Warn("provider cannot accept image attachment", "name", att.Name)
				sink.Emit(ctx, events.NotificationEvent("context_optimization", map[string]any{
					"file":   att.Name,
					"action": "dropped",
					"reason": "provider does not accept images",
				}))
			}
			continue
		}

		if nativeOK && att.MediaType == "application/pdf" {
			out.Parts = append(out.Parts, llms.ContentPart{
				Type:      "document",
				MediaType: att.MediaType,
				Data:      base64.StdEncoding.EncodeToString(att.Data),
			})
			// Fall through: the text fallback is attached alongside.
		}

		text, err := p.extract(att)
		if err != nil {
			p.logger.Warn("attachment extraction failed", "name", att.Name, "error", err)
			sink.Emit(ctx, events.NotificationEvent("context_optimization", map[string]any{
				"file":   att.Name,
				"action": "dropped",
				"reason": err.Error(),
			}))
			continue
		}
		if text == "" {
			continue
		}

		fileTokens := utils.EstimateTokens(text)
		if fileTokens > p.maxFileTokens {
			text = truncateToTokens(text, p.maxFileTokens)
			fileTokens = p.maxFileTokens
			sink.Emit(ctx, events.NotificationEvent("context_optimization", map[string]any{
				"file":       att.Name,
				"action":     "truncated",
				"max_tokens": p.maxFileTokens,
			}))
		}

		if turnTokens+fileTokens > p.maxTurnTokens {
			sink.Emit(ctx, events.NotificationEvent("context_optimization", map[string]any{
				"file":       att.Name,
				"action":     "dropped",
				"reason":     "turn attachment budget exhausted",
				"max_tokens": p.maxTurnTokens,
			}))
			continue
		}
		turnTokens += fileTokens

		if out.Text != "" {
			out.Text += "\n\n"
		}
		out.Text += fmt.Sprintf("=== %s ===\n%s", att.Name, text)
	}
	return out, nil
}

func (p *Processor) extract(att executor.Attachment) (string, error) {
	for _, ex := range p.extractors.List() {
		if ex.CanExtract(att.Name, att.MediaType) {
			return ex.Extract(att.Data)
		}
	}
	return "", fmt.Errorf("unsupported attachment type %q", att.MediaType)
}

func isImage(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/")
}

// truncateToTokens cuts text to roughly maxTokens using the estimator's
// chars-per-token ratio; exactness does not matter for a context cap.
func truncateToTokens(text string, maxTokens int) string {
	for utils.EstimateTokens(text) > maxTokens {
		keep := len(text) * 9 / 10
		if keep == 0 {
			break
		}
		text = text[:keep]
	}
	return text
}
