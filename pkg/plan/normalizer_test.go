package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_LoopItemDialects(t *testing.T) {
	cases := map[string]map[string]any{
		"{{loop_item.TableName}}":    {"source": "loop_item", "key": "TableName"},
		"{{loop_item['TableName']}}": {"source": "loop_item", "key": "TableName"},
		"{loop_item[TableName]}":     {"source": "loop_item", "key": "TableName"},
		"{loop_item.TableName}":      {"source": "loop_item", "key": "TableName"},
		"{{loop_item}}":              {"source": "loop_item"},
		"{TableName}":                {"source": "loop_item", "key": "TableName"},
	}

	n := NewNormalizer(nil)
	for input, want := range cases {
		pl := &Plan{Phases: []*Phase{{
			Number:    1,
			Arguments: map[string]any{"table_name": input},
		}}}
		n.Normalize(pl)
		assert.Equal(t, want, pl.Phases[0].Arguments["table_name"], input)
	}
}

func TestNormalize_PhaseResultDialects(t *testing.T) {
	n := NewNormalizer(nil)
	pl := &Plan{Phases: []*Phase{{
		Number: 2,
		Arguments: map[string]any{
			"data":  "{{result_of_phase_1.results}}",
			"other": map[string]any{"result_of_phase_1": "date"},
		},
	}}}
	n.Normalize(pl)

	assert.Equal(t,
		map[string]any{"source": "result_of_phase_1", "key": "results"},
		pl.Phases[0].Arguments["data"])
	assert.Equal(t,
		map[string]any{"source": "result_of_phase_1", "key": "date"},
		pl.Phases[0].Arguments["other"])
}

func TestNormalize_EmbeddedTemplatesStayStrings(t *testing.T) {
	n := NewNormalizer(nil)
	prompt := "Summarize the table {TableName} focusing on recent rows"
	pl := &Plan{Phases: []*Phase{{
		Number:    1,
		Arguments: map[string]any{"goal": prompt},
	}}}
	n.Normalize(pl)
	assert.Equal(t, prompt, pl.Phases[0].Arguments["goal"])
}

func TestNormalize_LowercaseBareTemplateUntouched(t *testing.T) {
	n := NewNormalizer(nil)
	pl := &Plan{Phases: []*Phase{{
		Number:    1,
		Arguments: map[string]any{"q": "{placeholder}"},
	}}}
	n.Normalize(pl)
	assert.Equal(t, "{placeholder}", pl.Phases[0].Arguments["q"])
}

func TestNormalize_LoopOverString(t *testing.T) {
	n := NewNormalizer(nil)
	pl := &Plan{Phases: []*Phase{{
		Number:   2,
		Type:     "loop",
		LoopOver: "{{result_of_phase_1}}",
	}}}
	n.Normalize(pl)
	assert.Equal(t, map[string]any{"source": "result_of_phase_1"}, pl.Phases[0].LoopOver)
}

func TestNormalize_Idempotent(t *testing.T) {
	n := NewNormalizer(nil)
	pl := &Plan{Phases: []*Phase{{
		Number: 1,
		Type:   "loop",
		Arguments: map[string]any{
			"table_name": "{{loop_item.TableName}}",
			"data":       map[string]any{"source": "result_of_phase_1", "key": "results"},
			"goal":       "describe {ColumnName} briefly please",
			"limit":      float64(10),
		},
		LoopOver: "result_of_phase_1",
	}}}

	once := n.Normalize(pl.Clone())
	twice := n.Normalize(once.Clone())
	require.Equal(t, once.AsMaps(), twice.AsMaps())
}
