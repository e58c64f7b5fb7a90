package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BuildInputSchema converts a tool descriptor back into a JSON-schema map,
// used for LM tool definitions and for pre-flight argument validation.
func BuildInputSchema(info ToolInfo) map[string]any {
	properties := make(map[string]any, len(info.Parameters))
	var required []string
	for _, p := range info.Parameters {
		prop := map[string]any{}
		if p.Type != "" {
			prop["type"] = p.Type
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			enum := make([]any, len(p.Enum))
			for i, e := range p.Enum {
				enum[i] = e
			}
			prop["enum"] = enum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if required != nil {
		schema["required"] = required
	}
	return schema
}

var (
	schemaCacheMu sync.Mutex
	schemaCache   = make(map[string]*jsonschema.Schema)
)

// ValidateArgs checks args against the tool's input schema. A nil error
// means the call is well-formed; validation failures come back wrapped so
// the refiner can show them to the LM.
func ValidateArgs(info ToolInfo, args map[string]any) error {
	compiled, err := compiledSchema(info)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", info.Name, err)
	}

	// Round-trip through JSON so typed values (int vs float64) compare the
	// way the validator expects.
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to marshal arguments: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to unmarshal arguments: %w", err)
	}

	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("arguments for %s failed validation: %w", info.Name, err)
	}
	return nil
}

func compiledSchema(info ToolInfo) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(BuildInputSchema(info))
	if err != nil {
		return nil, err
	}
	key := info.Name + ":" + string(raw)

	schemaCacheMu.Lock()
	defer schemaCacheMu.Unlock()
	if cached, ok := schemaCache[key]; ok {
		return cached, nil
	}

	compiler := jsonschema.NewCompiler()
	url := "schema://" + info.Name + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, err
	}
	schemaCache[key] = compiled
	return compiled, nil
}
