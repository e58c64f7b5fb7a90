package tools

import (
	"encoding/json"
	"sort"
	"strings"
)

// Output statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Output is the uniform tool result the whole engine flows:
// {status, metadata, results, error_message?, data?}. Data tools fill
// Results with row maps; LM-synthesis tools and the report bypasses use the
// single-row [{response: text}] shape.
type Output struct {
	Status       string           `json:"status"`
	Metadata     map[string]any   `json:"metadata,omitempty"`
	Results      []map[string]any `json:"results,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Data         any              `json:"data,omitempty"`
}

// OK reports success.
func (o *Output) OK() bool {
	return o != nil && o.Status == StatusSuccess
}

// Success builds a successful data output.
func Success(toolName string, results []map[string]any) *Output {
	return &Output{
		Status:   StatusSuccess,
		Metadata: map[string]any{"tool_name": toolName},
		Results:  results,
	}
}

// TextSuccess builds the [{response: text}] synthesis shape.
func TextSuccess(toolName, text string) *Output {
	return &Output{
		Status:   StatusSuccess,
		Metadata: map[string]any{"tool_name": toolName},
		Results:  []map[string]any{{"response": text}},
	}
}

// Failure builds an error output carrying the tool's error text.
func Failure(toolName, message string) *Output {
	return &Output{
		Status:       StatusError,
		Metadata:     map[string]any{"tool_name": toolName},
		ErrorMessage: message,
	}
}

// ResponseText extracts the synthesis text when the output uses the
// [{response: text}] shape.
func (o *Output) ResponseText() (string, bool) {
	if o == nil || len(o.Results) != 1 {
		return "", false
	}
	text, ok := o.Results[0]["response"].(string)
	return text, ok
}

// RowCount returns the number of result rows.
func (o *Output) RowCount() int {
	if o == nil {
		return 0
	}
	return len(o.Results)
}

// Columns returns the column names of the first result row, sorted for
// stable distilled views.
func (o *Output) Columns() []string {
	if o == nil || len(o.Results) == 0 {
		return nil
	}
	cols := make([]string, 0, len(o.Results[0]))
	for k := range o.Results[0] {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// AsMap converts the output to the generic map form stored in workflow state
// and resolved by placeholders.
func (o *Output) AsMap() map[string]any {
	if o == nil {
		return nil
	}
	m := map[string]any{"status": o.Status}
	if o.Metadata != nil {
		m["metadata"] = o.Metadata
	}
	if o.Results != nil {
		results := make([]any, len(o.Results))
		for i, r := range o.Results {
			results[i] = map[string]any(r)
		}
		m["results"] = results
	}
	if o.ErrorMessage != "" {
		m["error_message"] = o.ErrorMessage
	}
	if o.Data != nil {
		m["data"] = o.Data
	}
	return m
}

// OutputFromMap is the inverse of AsMap, tolerant of partially-shaped maps
// coming back from LM-generated JSON.
func OutputFromMap(m map[string]any) *Output {
	if m == nil {
		return nil
	}
	out := &Output{}
	if s, ok := m["status"].(string); ok {
		out.Status = s
	}
	if md, ok := m["metadata"].(map[string]any); ok {
		out.Metadata = md
	}
	if em, ok := m["error_message"].(string); ok {
		out.ErrorMessage = em
	}
	if d, ok := m["data"]; ok {
		out.Data = d
	}
	switch results := m["results"].(type) {
	case []any:
		for _, r := range results {
			if row, ok := r.(map[string]any); ok {
				out.Results = append(out.Results, row)
			}
		}
	case []map[string]any:
		out.Results = results
	}
	return out
}

// ParseOutput decodes a JSON-encoded output, accepting either the canonical
// object or a bare results array.
func ParseOutput(raw []byte) (*Output, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var rows []map[string]any
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, err
		}
		return &Output{Status: StatusSuccess, Results: rows}, nil
	}
	var out Output
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out.Status == "" {
		if out.ErrorMessage != "" {
			out.Status = StatusError
		} else {
			out.Status = StatusSuccess
		}
	}
	return &out, nil
}
