// Package llms contains the LM provider adapters. OpenAI, Anthropic, and
// Ollama are hand-rolled HTTP clients over the shared retrying httpclient;
// Gemini uses the official genai SDK.
package llms

import (
	"context"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content part types for multimodal messages.
const (
	PartText        = "text"
	PartImageBase64 = "image_base64"
	PartDocBase64   = "document_base64"
)

// ContentPart is one block of a multimodal message.
type ContentPart struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
}

// Message is one turn of LM conversation input.
type Message struct {
	Role    string        `json:"role"`
	Content string        `json:"content,omitempty"`
	Parts   []ContentPart `json:"parts,omitempty"`
}

// Text returns a simple text message.
func Text(role, content string) Message {
	return Message{Role: role, Content: content}
}

// Request is one LM invocation.
type Request struct {
	// Model overrides the provider's default model when set.
	Model string

	// System prompt prepended out-of-band.
	System string

	// Messages in conversation order.
	Messages []Message

	// MaxTokens caps the response; zero uses the provider default.
	MaxTokens int

	// Temperature overrides the provider default when non-nil.
	Temperature *float64

	// JSONMode requests a JSON object response where the provider
	// supports it; plan and action calls set this.
	JSONMode bool
}

// Usage is the per-call token accounting every provider must report.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the LM's answer.
type Response struct {
	Text  string `json:"text"`
	Model string `json:"model"`
	Usage Usage  `json:"usage"`
}

// LLM is the provider capability handed to the planner and executors.
type LLM interface {
	// Provider returns the provider type name (openai, anthropic, ...).
	Provider() string

	// Model returns the default model this client targets.
	Model() string

	// Generate performs one completion.
	Generate(ctx context.Context, req Request) (*Response, error)

	// SupportsNativeDocuments reports whether document/image parts can be
	// attached as native multimodal blocks rather than extracted text.
	SupportsNativeDocuments() bool
}
