// Package attachments turns uploaded files into LM context: native
// multimodal parts when the provider supports them, extracted text
// otherwise, with per-file and per-turn token caps.
package attachments

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// Extractor converts one binary attachment into plain text.
type Extractor interface {
	Name() string
	CanExtract(filename, mediaType string) bool
	Extract(data []byte) (string, error)
}

// PDFExtractor reads PDF page text.
type PDFExtractor struct{}

func (PDFExtractor) Name() string { return "pdf" }

func (PDFExtractor) CanExtract(filename, mediaType string) bool {
	return mediaType == "application/pdf" || strings.EqualFold(filepath.Ext(filename), ".pdf")
}

func (PDFExtractor) Extract(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}

	var b strings.Builder
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A malformed page must not sink the rest of the document.
			fmt.Fprintf(&b, "[page %d unreadable]\n", pageNum)
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String()), nil
}

// DocxExtractor reads Word document body text.
type DocxExtractor struct{}

func (DocxExtractor) Name() string { return "docx" }

func (DocxExtractor) CanExtract(filename, mediaType string) bool {
	return mediaType == "application/vnd.openxmlformats-officedocument.wordprocessingml.document" ||
		strings.EqualFold(filepath.Ext(filename), ".docx")
}

func (DocxExtractor) Extract(data []byte) (string, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open DOCX: %w", err)
	}
	defer func() { _ = doc.Close() }()

	content := doc.Editable().GetContent()
	return strings.TrimSpace(stripXMLTags(content)), nil
}

// XlsxExtractor renders spreadsheet cells sheet by sheet.
type XlsxExtractor struct{}

const maxCellsPerSheet = 1000

func (XlsxExtractor) Name() string { return "xlsx" }

func (XlsxExtractor) CanExtract(filename, mediaType string) bool {
	return mediaType == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" ||
		strings.EqualFold(filepath.Ext(filename), ".xlsx")
}

func (XlsxExtractor) Extract(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to open XLSX: %w", err)
	}
	defer func() { _ = f.Close() }()

	var b strings.Builder
	for _, sheetName := range f.GetSheetList() {
		fmt.Fprintf(&b, "--- Sheet: %s ---\n", sheetName)
		rows, err := f.GetRows(sheetName)
		if err != nil {
			fmt.Fprintf(&b, "error reading sheet: %v\n", err)
			continue
		}
		cellCount := 0
		for _, row := range rows {
			if cellCount >= maxCellsPerSheet {
				b.WriteString("... (truncated)\n")
				break
			}
			var cells []string
			for _, cell := range row {
				if text := strings.TrimSpace(cell); text != "" {
					cells = append(cells, text)
					cellCount++
				}
			}
			if len(cells) > 0 {
				b.WriteString(strings.Join(cells, "\t"))
				b.WriteString("\n")
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// TextExtractor passes through anything that looks like text; it is the
// fallback and must register last.
type TextExtractor struct{}

func (TextExtractor) Name() string { return "text" }

func (TextExtractor) CanExtract(filename, mediaType string) bool {
	if strings.HasPrefix(mediaType, "text/") || mediaType == "application/json" {
		return true
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md", ".csv", ".json", ".yaml", ".yml", ".log", ".sql":
		return true
	}
	return false
}

func (TextExtractor) Extract(data []byte) (string, error) {
	return string(data), nil
}

// stripXMLTags drops any tags the docx library leaves in the content stream.
func stripXMLTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}
