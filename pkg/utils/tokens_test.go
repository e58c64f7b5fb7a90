package utils

import (
	"strings"
	"testing"
)

func TestNewTokenCounter(t *testing.T) {
	tests := []struct {
		name      string
		model     string
		wantError bool
	}{
		{name: "GPT-4o model", model: "gpt-4o", wantError: false},
		{name: "GPT-4 model", model: "gpt-4", wantError: false},
		{name: "Claude model (uses fallback)", model: "claude-3-5-sonnet", wantError: false},
		{name: "unknown model (uses fallback)", model: "totally-made-up", wantError: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter, err := NewTokenCounter(tt.model)
			if (err != nil) != tt.wantError {
				t.Errorf("NewTokenCounter() error = %v, wantError %v", err, tt.wantError)
				return
			}
			if counter == nil {
				t.Fatal("NewTokenCounter() returned nil counter")
			}
			if counter.GetModel() != tt.model {
				t.Errorf("GetModel() = %v, want %v", counter.GetModel(), tt.model)
			}
		})
	}
}

func TestTokenCounter_Count(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4o")
	if err != nil {
		t.Fatalf("Failed to create token counter: %v", err)
	}

	tests := []struct {
		name      string
		text      string
		minTokens int
		maxTokens int
	}{
		{name: "empty string", text: "", minTokens: 0, maxTokens: 0},
		{name: "simple sentence", text: "Hello, world!", minTokens: 3, maxTokens: 5},
		{name: "longer text", text: "Resolve every placeholder against workflow state before dispatching the phase.", minTokens: 10, maxTokens: 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := counter.Count(tt.text)
			if got < tt.minTokens || got > tt.maxTokens {
				t.Errorf("Count() = %d, want between %d and %d", got, tt.minTokens, tt.maxTokens)
			}
		})
	}
}

func TestTokenCounter_FitWithinLimit(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4o")
	if err != nil {
		t.Fatalf("Failed to create token counter: %v", err)
	}

	messages := []Message{
		{Role: "user", Content: strings.Repeat("old context ", 50)},
		{Role: "assistant", Content: "short answer"},
		{Role: "user", Content: "current question"},
	}

	fitted := counter.FitWithinLimit(messages, 40)
	if len(fitted) == 0 {
		t.Fatal("FitWithinLimit() dropped everything")
	}
	if len(fitted) >= len(messages) {
		t.Errorf("FitWithinLimit() kept %d messages, expected fewer than %d", len(fitted), len(messages))
	}
	// Most recent message must survive.
	if fitted[len(fitted)-1].Content != "current question" {
		t.Errorf("most recent message missing, got %q", fitted[len(fitted)-1].Content)
	}
}

func TestTokenCounter_TruncateToTokens(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4o")
	if err != nil {
		t.Fatalf("Failed to create token counter: %v", err)
	}

	text := strings.Repeat("table row content ", 100)
	kept, truncated := counter.TruncateToTokens(text, 20)
	if !truncated {
		t.Fatal("TruncateToTokens() did not truncate long text")
	}
	if got := counter.Count(kept); got > 20 {
		t.Errorf("truncated text counts %d tokens, want <= 20", got)
	}

	short := "tiny"
	kept, truncated = counter.TruncateToTokens(short, 20)
	if truncated || kept != short {
		t.Errorf("TruncateToTokens() modified short text: %q truncated=%v", kept, truncated)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens("12345678"); got != 2 {
		t.Errorf("EstimateTokens() = %d, want 2", got)
	}
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("EstimateTokens(empty) = %d, want 0", got)
	}
}
