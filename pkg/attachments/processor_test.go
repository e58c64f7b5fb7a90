package attachments

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxislabs/praxis/pkg/events"
	"github.com/praxislabs/praxis/pkg/executor"
)

func TestPlainTextAttachment(t *testing.T) {
	p, err := NewProcessor(Options{})
	require.NoError(t, err)

	out, err := p.Process(context.Background(), []executor.Attachment{
		{Name: "notes.txt", MediaType: "text/plain", Data: []byte("hello world")},
	}, false, events.NopSink{})
	require.NoError(t, err)

	assert.Contains(t, out.Text, "=== notes.txt ===")
	assert.Contains(t, out.Text, "hello world")
	assert.Empty(t, out.Parts)
}

func TestImageNativeVsTextOnly(t *testing.T) {
	p, err := NewProcessor(Options{})
	require.NoError(t, err)
	att := []executor.Attachment{{Name: "chart.png", MediaType: "image/png", Data: []byte{1, 2, 3}}}

	native, err := p.Process(context.Background(), att, true, events.NopSink{})
	require.NoError(t, err)
	require.Len(t, native.Parts, 1)
	assert.Equal(t, "image", native.Parts[0].Type)
	assert.Equal(t, "image/png", native.Parts[0].MediaType)

	rec := events.NewRecorder()
	textOnly, err := p.Process(context.Background(), att, false, rec)
	require.NoError(t, err)
	assert.Empty(t, textOnly.Parts)
	require.Len(t, rec.Events(), 1)
	assert.Equal(t, events.Notification, rec.Events()[0].Event)
}

func TestPerFileTruncationEmitsEvent(t *testing.T) {
	p, err := NewProcessor(Options{MaxFileTokens: 10, MaxTurnTokens: 100})
	require.NoError(t, err)

	big := strings.Repeat("word ", 500)
	rec := events.NewRecorder()
	out, err := p.Process(context.Background(), []executor.Attachment{
		{Name: "big.txt", MediaType: "text/plain", Data: []byte(big)},
	}, false, rec)
	require.NoError(t, err)

	assert.Less(t, len(out.Text), len(big))
	require.Len(t, rec.Events(), 1)
	payload := rec.Events()[0].Data["payload"].(map[string]any)
	assert.Equal(t, "truncated", payload["action"])
}

func TestTurnBudgetDropsLaterFiles(t *testing.T) {
	p, err := NewProcessor(Options{MaxFileTokens: 1000, MaxTurnTokens: 60})
	require.NoError(t, err)

	content := []byte(strings.Repeat("data ", 50))
	rec := events.NewRecorder()
	out, err := p.Process(context.Background(), []executor.Attachment{
		{Name: "first.txt", MediaType: "text/plain", Data: content},
		{Name: "second.txt", MediaType: "text/plain", Data: content},
	}, false, rec)
	require.NoError(t, err)

	assert.Contains(t, out.Text, "first.txt")
	assert.NotContains(t, out.Text, "second.txt")

	var dropped bool
	for _, ev := range rec.Events() {
		if payload, ok := ev.Data["payload"].(map[string]any); ok {
			if payload["action"] == "dropped" && payload["file"] == "second.txt" {
				dropped = true
			}
		}
	}
	assert.True(t, dropped, "expected a drop notification for the second file")
}

func TestUnsupportedTypeDropsWithNotification(t *testing.T) {
	p, err := NewProcessor(Options{})
	require.NoError(t, err)

	rec := events.NewRecorder()
	out, err := p.Process(context.Background(), []executor.Attachment{
		{Name: "blob.bin", MediaType: "application/octet-stream", Data: []byte{0xff}},
	}, false, rec)
	require.NoError(t, err)

	assert.Empty(t, out.Text)
	require.Len(t, rec.Events(), 1)
}

func TestExtractorSelection(t *testing.T) {
	cases := []struct {
		name      string
		mediaType string
		want      string
	}{
		{"report.pdf", "application/pdf", "pdf"},
		{"doc.docx", "", "docx"},
		{"sheet.xlsx", "", "xlsx"},
		{"readme.md", "", "text"},
		{"data.csv", "text/csv", "text"},
	}
	p, err := NewProcessor(Options{})
	require.NoError(t, err)

	for _, tc := range cases {
		var matched string
		for _, ex := range p.extractors.List() {
			if ex.CanExtract(tc.name, tc.mediaType) {
				matched = ex.Name()
				break
			}
		}
		assert.Equal(t, tc.want, matched, tc.name)
	}
}
